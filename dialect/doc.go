// Package dialect defines the backend abstraction of persist.
//
// It holds the three things that cross the boundary between the runtime and
// a concrete database adapter:
//
//   - Value: the tagged union used for every parameter and result column.
//   - Dialect: placeholder style, identifier quoting, keyword table and
//     capabilities of one backend.
//   - The adapter port: ExecQuerier, Conn, Tx, Pool and Driver.
//
// # Supported Dialects
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// Dialects are looked up by backend or driver name:
//
//	d, err := dialect.Lookup("pgx") // the postgres dialect
//
// # Driver Interface
//
//	type Driver interface {
//	    Acquire(ctx context.Context) (Conn, error)
//	    Release(c Conn) error
//	    Execute(ctx context.Context, query string, args []Value) (Result, error)
//	    FetchAll(ctx context.Context, query string, args []Value) ([]Row, error)
//	    Dialect() *Dialect
//	    Close() error
//	}
//
// The reference implementation over database/sql lives in dialect/sql.
//
// # Sub-packages
//
//   - dialect/sql: database/sql adapter, error mapping, stats and debug drivers
//   - dialect/sql/schema: DDL planning and schema diff validation
package dialect
