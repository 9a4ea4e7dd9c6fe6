// Package sql is the reference adapter of the persist driver port over
// database/sql.
//
// It works with any registered database/sql driver. The dialect is selected
// from the driver name:
//
//	import (
//	    _ "github.com/jackc/pgx/v5/stdlib"
//	    _ "modernc.org/sqlite"
//
//	    "github.com/syssam/persist/dialect/sql"
//	)
//
//	drv, err := sql.Open("pgx", dsn, sql.WithPool(dialect.PoolConfig{
//	    MaxConnections: 20,
//	    IdleTimeout:    5 * time.Minute,
//	}))
//
// # Pooling
//
// Acquire reserves a *sql.Conn for a transaction. Release returns it to the
// *sql.DB pool. Statements issued directly on the Driver run in autocommit
// mode on any pooled connection.
//
// # Errors
//
// Every error leaving the adapter is mapped to the persist taxonomy:
//
//	persist.UniqueConstraintError      // 23505, MySQL 1062, SQLITE_CONSTRAINT_UNIQUE
//	persist.ForeignKeyConstraintError  // 23503, MySQL 1451/1452, SQLITE_CONSTRAINT_FOREIGNKEY
//	persist.ConnectionError            // bad connections, SQLSTATE class 08, network errors
//	persist.DriverError                // anything else
//
// Context cancellation errors are returned unchanged.
//
// # Decorators
//
// StatsDriver counts statements and transaction boundaries and reports slow
// statements. DebugDriver logs every statement through slog.
package sql
