package dialect

import (
	"context"
	"time"
)

// Row is one result row keyed by column name (or alias).
type Row map[string]Value

// Result reports the outcome of Execute.
type Result struct {
	RowsAffected int64
	// LastInsertID is set when the backend reports one and HasLastInsertID is true.
	LastInsertID    int64
	HasLastInsertID bool
}

// ExecQuerier runs statements.
type ExecQuerier interface {
	Execute(ctx context.Context, query string, args []Value) (Result, error)
	FetchAll(ctx context.Context, query string, args []Value) ([]Row, error)
}

// TxOptions holds the options used to begin a transaction.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
	Timeout   time.Duration
}

// Tx is a transaction handle.
type Tx interface {
	ExecQuerier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}

// Conn is a pooled connection.
type Conn interface {
	ExecQuerier
	Begin(ctx context.Context, opts TxOptions) (Tx, error)
}

// Pool hands out connections.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Release(c Conn) error
}

// Driver is the adapter port implemented per backend. Its own ExecQuerier
// runs each statement on any pooled connection in autocommit mode.
type Driver interface {
	Pool
	ExecQuerier
	Dialect() *Dialect
	Close() error
}

// PoolConfig holds connection pool limits. Zero fields keep the backend defaults.
type PoolConfig struct {
	MaxConnections int           `koanf:"max_connections"`
	MaxIdle        int           `koanf:"max_idle"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	MaxLifetime    time.Duration `koanf:"max_lifetime"`
}
