package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
)

// validIdentifierRe validates identifiers that are written into statement
// text, such as savepoint names.
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidIdentifier(s string) bool {
	return s != "" && len(s) <= 63 && validIdentifierRe.MatchString(s)
}

// ExecQuerier wraps the standard Exec and Query methods shared by
// *sql.DB, *sql.Conn and *sql.Tx.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Driver is a dialect.Driver implementation over database/sql.
type Driver struct {
	session
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithPool applies connection pool limits to the underlying *sql.DB.
func WithPool(cfg dialect.PoolConfig) Option {
	return func(d *Driver) {
		if cfg.MaxConnections > 0 {
			d.db.SetMaxOpenConns(cfg.MaxConnections)
		}
		if cfg.MaxIdle > 0 {
			d.db.SetMaxIdleConns(cfg.MaxIdle)
		}
		if cfg.IdleTimeout > 0 {
			d.db.SetConnMaxIdleTime(cfg.IdleTimeout)
		}
		if cfg.MaxLifetime > 0 {
			d.db.SetConnMaxLifetime(cfg.MaxLifetime)
		}
	}
}

// WithLogger sets the logger used for pool events.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// Open opens a database with a registered database/sql driver. The dialect
// is looked up from driverName ("postgres", "pgx", "mysql", "sqlite", ...).
func Open(driverName, source string, opts ...Option) (*Driver, error) {
	d, err := dialect.Lookup(driverName)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, &persist.ConnectionError{Op: "open", Err: err}
	}
	return NewDriver(d, db, opts...), nil
}

// OpenDB wraps an existing *sql.DB. name selects the dialect.
func OpenDB(name string, db *sql.DB, opts ...Option) (*Driver, error) {
	d, err := dialect.Lookup(name)
	if err != nil {
		return nil, err
	}
	return NewDriver(d, db, opts...), nil
}

// NewDriver creates a Driver for the given dialect and database.
func NewDriver(d *dialect.Dialect, db *sql.DB, opts ...Option) *Driver {
	drv := &Driver{
		session: session{ExecQuerier: db, dialect: d},
		db:      db,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(drv)
	}
	return drv
}

// DB returns the underlying *sql.DB instance.
func (d *Driver) DB() *sql.DB { return d.db }

// Dialect implements dialect.Driver.
func (d *Driver) Dialect() *dialect.Dialect { return d.dialect }

// Ping verifies the database is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return &persist.ConnectionError{Op: "ping", Err: err}
	}
	return nil
}

// Acquire reserves a single connection from the pool.
func (d *Driver) Acquire(ctx context.Context) (dialect.Conn, error) {
	c, err := d.db.Conn(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &persist.ConnectionError{Op: "acquire", Err: err}
	}
	return &Conn{session: session{ExecQuerier: c, dialect: d.dialect}, raw: c}, nil
}

// Release returns a connection acquired from this driver to the pool.
func (d *Driver) Release(c dialect.Conn) error {
	conn, ok := c.(*Conn)
	if !ok {
		return fmt.Errorf("dialect/sql: release: unexpected connection type %T", c)
	}
	if err := conn.raw.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		d.logger.Warn("release connection", "error", err)
		return &persist.ConnectionError{Op: "release", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (d *Driver) Close() error { return d.db.Close() }

// Conn is a connection reserved from the pool.
type Conn struct {
	session
	raw *sql.Conn
}

// Begin starts a transaction on the connection.
func (c *Conn) Begin(ctx context.Context, opts dialect.TxOptions) (dialect.Tx, error) {
	level, err := c.dialect.Resolve(opts.Isolation)
	if err != nil {
		return nil, err
	}
	txOpts := &sql.TxOptions{
		Isolation: isolation(c.dialect, level),
		ReadOnly:  opts.ReadOnly && c.dialect.Capabilities.ReadOnly,
	}
	tx, err := c.raw.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, mapError("begin", err)
	}
	return &Tx{session: session{ExecQuerier: tx, dialect: c.dialect}, tx: tx}, nil
}

func isolation(d *dialect.Dialect, l dialect.IsolationLevel) sql.IsolationLevel {
	if d.Name == dialect.SQLite {
		return sql.LevelDefault
	}
	switch l {
	case dialect.ReadUncommitted:
		return sql.LevelReadUncommitted
	case dialect.ReadCommitted:
		return sql.LevelReadCommitted
	case dialect.RepeatableRead:
		return sql.LevelRepeatableRead
	case dialect.Serializable:
		return sql.LevelSerializable
	}
	return sql.LevelDefault
}

// Tx implements dialect.Tx.
type Tx struct {
	session
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit(context.Context) error {
	return mapError("commit", t.tx.Commit())
}

// Rollback aborts the transaction. A transaction already ended by the
// cancellation of its context counts as rolled back.
func (t *Tx) Rollback(context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return mapError("rollback", err)
	}
	return nil
}

// Savepoint creates a named savepoint.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	return t.savepointStmt(ctx, "SAVEPOINT ", name)
}

// RollbackToSavepoint rolls back to a named savepoint.
func (t *Tx) RollbackToSavepoint(ctx context.Context, name string) error {
	return t.savepointStmt(ctx, "ROLLBACK TO SAVEPOINT ", name)
}

// ReleaseSavepoint releases a named savepoint.
func (t *Tx) ReleaseSavepoint(ctx context.Context, name string) error {
	return t.savepointStmt(ctx, "RELEASE SAVEPOINT ", name)
}

func (t *Tx) savepointStmt(ctx context.Context, stmt, name string) error {
	if !t.dialect.Capabilities.Savepoints {
		return &persist.UnsupportedFeatureError{Dialect: t.dialect.Name, Feature: "savepoints"}
	}
	if !isValidIdentifier(name) {
		return fmt.Errorf("dialect/sql: invalid savepoint name %q", name)
	}
	if _, err := t.tx.ExecContext(ctx, stmt+name); err != nil {
		return mapError("savepoint", err)
	}
	return nil
}

// session implements dialect.ExecQuerier given an ExecQuerier.
type session struct {
	ExecQuerier
	dialect *dialect.Dialect
}

// Execute implements dialect.ExecQuerier.
func (s session) Execute(ctx context.Context, query string, args []dialect.Value) (dialect.Result, error) {
	res, err := s.ExecContext(ctx, query, driverArgs(args)...)
	if err != nil {
		return dialect.Result{}, mapError("exec", err)
	}
	var out dialect.Result
	if out.RowsAffected, err = res.RowsAffected(); err != nil {
		return dialect.Result{}, mapError("exec", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		out.LastInsertID, out.HasLastInsertID = id, true
	}
	return out, nil
}

// FetchAll implements dialect.ExecQuerier.
func (s session) FetchAll(ctx context.Context, query string, args []dialect.Value) ([]dialect.Row, error) {
	rows, err := s.QueryContext(ctx, query, driverArgs(args)...)
	if err != nil {
		return nil, mapError("query", err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, mapError("query", err)
	}
	var (
		out  []dialect.Row
		dest = make([]any, len(cols))
		ptrs = make([]any, len(cols))
	)
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, mapError("scan", err)
		}
		row := make(dialect.Row, len(cols))
		for i, c := range cols {
			v, err := fromDriver(dest[i])
			if err != nil {
				return nil, &persist.DeserializationError{Entity: "row", Column: c, Err: err}
			}
			row[c] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("query", err)
	}
	return out, nil
}

func driverArgs(args []dialect.Value) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Any()
	}
	return out
}

func fromDriver(x any) (dialect.Value, error) {
	if b, ok := x.([16]byte); ok {
		return dialect.Bytes(b[:]), nil
	}
	return dialect.FromAny(x)
}

var (
	_ dialect.Driver = (*Driver)(nil)
	_ dialect.Conn   = (*Conn)(nil)
	_ dialect.Tx     = (*Tx)(nil)
)
