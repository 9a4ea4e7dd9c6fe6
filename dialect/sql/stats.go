package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/persist/dialect"
)

// QueryStats holds query execution statistics.
type QueryStats struct {
	// TotalQueries is the number of FetchAll calls.
	TotalQueries atomic.Int64
	// TotalExecs is the number of Execute calls.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing statements.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of statements exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of failed statements.
	Errors atomic.Int64
	// Begins, Commits and Rollbacks count transaction boundaries.
	Begins    atomic.Int64
	Commits   atomic.Int64
	Rollbacks atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
		Begins:        s.Begins.Load(),
		Commits:       s.Commits.Load(),
		Rollbacks:     s.Rollbacks.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	for _, c := range []*atomic.Int64{
		&s.TotalQueries, &s.TotalExecs, &s.TotalDuration, &s.SlowQueries,
		&s.Errors, &s.Begins, &s.Commits, &s.Rollbacks,
	} {
		c.Store(0)
	}
}

// StatsSnapshot is a point-in-time snapshot of query statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
	Begins        int64
	Commits       int64
	Rollbacks     int64
}

// AvgQueryDuration returns the average statement duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d begins=%d commits=%d rollbacks=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors, s.Begins, s.Commits, s.Rollbacks,
	)
}

// SlowQueryHook is a function called when a slow statement is detected.
type SlowQueryHook func(ctx context.Context, query string, args []dialect.Value, duration time.Duration)

// StatsDriver wraps a dialect.Driver with statistics collection. Connections
// and transactions obtained through it are measured as well.
type StatsDriver struct {
	dialect.Driver
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	mu            sync.RWMutex
}

// StatsOption configures the StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the threshold for slow query detection.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback function for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow statements at warn level to the given logger.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	return WithSlowQueryHook(func(ctx context.Context, query string, args []dialect.Value, duration time.Duration) {
		l.WarnContext(ctx, "slow query detected", "duration", duration, "query", query, "args", len(args))
	})
}

// NewStatsDriver wraps a Driver with statistics collection.
//
// Example:
//
//	drv, _ := sql.Open("pgx", dsn)
//	stats := sql.NewStatsDriver(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(logger),
//	)
//	client := repo.NewClient(reg, stats)
//
//	// Later:
//	fmt.Println(stats.QueryStats().Stats())
func NewStatsDriver(drv dialect.Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:        drv,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the underlying QueryStats for reading statistics.
func (d *StatsDriver) QueryStats() *QueryStats {
	return d.stats
}

// SlowThreshold returns the current slow query threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.slowThreshold
}

// SetSlowThreshold updates the slow query threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slowThreshold = threshold
}

// Execute runs a statement and records statistics.
func (d *StatsDriver) Execute(ctx context.Context, query string, args []dialect.Value) (dialect.Result, error) {
	return statsExecute(ctx, d, d.Driver, query, args)
}

// FetchAll runs a query and records statistics.
func (d *StatsDriver) FetchAll(ctx context.Context, query string, args []dialect.Value) ([]dialect.Row, error) {
	return statsFetch(ctx, d, d.Driver, query, args)
}

// Acquire returns a measured connection.
func (d *StatsDriver) Acquire(ctx context.Context) (dialect.Conn, error) {
	c, err := d.Driver.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &statsConn{Conn: c, driver: d}, nil
}

// Release returns a measured connection to the wrapped pool.
func (d *StatsDriver) Release(c dialect.Conn) error {
	if sc, ok := c.(*statsConn); ok {
		c = sc.Conn
	}
	return d.Driver.Release(c)
}

func (d *StatsDriver) record(ctx context.Context, query string, args []dialect.Value, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		d.stats.TotalQueries.Add(1)
	} else {
		d.stats.TotalExecs.Add(1)
	}
	d.stats.TotalDuration.Add(int64(duration))

	if err != nil {
		d.stats.Errors.Add(1)
	}

	d.mu.RLock()
	threshold := d.slowThreshold
	hook := d.slowHook
	d.mu.RUnlock()

	if duration > threshold {
		d.stats.SlowQueries.Add(1)
		if hook != nil {
			hook(ctx, query, args, duration)
		}
	}
}

func statsExecute(ctx context.Context, d *StatsDriver, ex dialect.ExecQuerier, query string, args []dialect.Value) (dialect.Result, error) {
	start := time.Now()
	res, err := ex.Execute(ctx, query, args)
	d.record(ctx, query, args, start, err, false)
	return res, err
}

func statsFetch(ctx context.Context, d *StatsDriver, ex dialect.ExecQuerier, query string, args []dialect.Value) ([]dialect.Row, error) {
	start := time.Now()
	rows, err := ex.FetchAll(ctx, query, args)
	d.record(ctx, query, args, start, err, true)
	return rows, err
}

type statsConn struct {
	dialect.Conn
	driver *StatsDriver
}

func (c *statsConn) Execute(ctx context.Context, query string, args []dialect.Value) (dialect.Result, error) {
	return statsExecute(ctx, c.driver, c.Conn, query, args)
}

func (c *statsConn) FetchAll(ctx context.Context, query string, args []dialect.Value) ([]dialect.Row, error) {
	return statsFetch(ctx, c.driver, c.Conn, query, args)
}

func (c *statsConn) Begin(ctx context.Context, opts dialect.TxOptions) (dialect.Tx, error) {
	tx, err := c.Conn.Begin(ctx, opts)
	if err != nil {
		c.driver.stats.Errors.Add(1)
		return nil, err
	}
	c.driver.stats.Begins.Add(1)
	return &StatsTx{Tx: tx, driver: c.driver}, nil
}

// StatsTx wraps a transaction with statistics collection.
type StatsTx struct {
	dialect.Tx
	driver *StatsDriver
}

// Execute runs a statement within the transaction and records statistics.
func (tx *StatsTx) Execute(ctx context.Context, query string, args []dialect.Value) (dialect.Result, error) {
	return statsExecute(ctx, tx.driver, tx.Tx, query, args)
}

// FetchAll runs a query within the transaction and records statistics.
func (tx *StatsTx) FetchAll(ctx context.Context, query string, args []dialect.Value) ([]dialect.Row, error) {
	return statsFetch(ctx, tx.driver, tx.Tx, query, args)
}

// Commit commits and counts the transaction.
func (tx *StatsTx) Commit(ctx context.Context) error {
	err := tx.Tx.Commit(ctx)
	if err == nil {
		tx.driver.stats.Commits.Add(1)
	}
	return err
}

// Rollback rolls back and counts the transaction.
func (tx *StatsTx) Rollback(ctx context.Context) error {
	tx.driver.stats.Rollbacks.Add(1)
	return tx.Tx.Rollback(ctx)
}

// DebugDriver wraps a Driver with debug logging of every statement and
// transaction boundary.
type DebugDriver struct {
	dialect.Driver
	logger *slog.Logger
}

// DebugOption configures the DebugDriver.
type DebugOption func(*DebugDriver)

// DebugWithLogger sets the logger. Statements are logged at debug level.
func DebugWithLogger(l *slog.Logger) DebugOption {
	return func(d *DebugDriver) {
		d.logger = l
	}
}

// NewDebugDriver wraps a Driver with debug logging.
func NewDebugDriver(drv dialect.Driver, opts ...DebugOption) *DebugDriver {
	d := &DebugDriver{Driver: drv, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute logs and runs a statement.
func (d *DebugDriver) Execute(ctx context.Context, query string, args []dialect.Value) (dialect.Result, error) {
	d.logger.DebugContext(ctx, "exec", "query", query, "args", args)
	return d.Driver.Execute(ctx, query, args)
}

// FetchAll logs and runs a query.
func (d *DebugDriver) FetchAll(ctx context.Context, query string, args []dialect.Value) ([]dialect.Row, error) {
	d.logger.DebugContext(ctx, "query", "query", query, "args", args)
	return d.Driver.FetchAll(ctx, query, args)
}

// Acquire returns a logging connection.
func (d *DebugDriver) Acquire(ctx context.Context) (dialect.Conn, error) {
	c, err := d.Driver.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	d.logger.DebugContext(ctx, "acquire connection")
	return &debugConn{Conn: c, logger: d.logger}, nil
}

// Release returns a logging connection to the wrapped pool.
func (d *DebugDriver) Release(c dialect.Conn) error {
	if dc, ok := c.(*debugConn); ok {
		c = dc.Conn
	}
	d.logger.Debug("release connection")
	return d.Driver.Release(c)
}

type debugConn struct {
	dialect.Conn
	logger *slog.Logger
}

func (c *debugConn) Execute(ctx context.Context, query string, args []dialect.Value) (dialect.Result, error) {
	c.logger.DebugContext(ctx, "conn exec", "query", query, "args", args)
	return c.Conn.Execute(ctx, query, args)
}

func (c *debugConn) FetchAll(ctx context.Context, query string, args []dialect.Value) ([]dialect.Row, error) {
	c.logger.DebugContext(ctx, "conn query", "query", query, "args", args)
	return c.Conn.FetchAll(ctx, query, args)
}

func (c *debugConn) Begin(ctx context.Context, opts dialect.TxOptions) (dialect.Tx, error) {
	c.logger.DebugContext(ctx, "begin transaction", "isolation", opts.Isolation.String(), "read_only", opts.ReadOnly)
	tx, err := c.Conn.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &DebugTx{Tx: tx, logger: c.logger}, nil
}

// DebugTx wraps a transaction with debug logging.
type DebugTx struct {
	dialect.Tx
	logger *slog.Logger
}

// Execute logs and runs a statement within the transaction.
func (tx *DebugTx) Execute(ctx context.Context, query string, args []dialect.Value) (dialect.Result, error) {
	tx.logger.DebugContext(ctx, "tx exec", "query", query, "args", args)
	return tx.Tx.Execute(ctx, query, args)
}

// FetchAll logs and runs a query within the transaction.
func (tx *DebugTx) FetchAll(ctx context.Context, query string, args []dialect.Value) ([]dialect.Row, error) {
	tx.logger.DebugContext(ctx, "tx query", "query", query, "args", args)
	return tx.Tx.FetchAll(ctx, query, args)
}

// Commit logs and commits the transaction.
func (tx *DebugTx) Commit(ctx context.Context) error {
	tx.logger.DebugContext(ctx, "commit transaction")
	return tx.Tx.Commit(ctx)
}

// Rollback logs and rolls back the transaction.
func (tx *DebugTx) Rollback(ctx context.Context) error {
	tx.logger.DebugContext(ctx, "rollback transaction")
	return tx.Tx.Rollback(ctx)
}

// Ensure interfaces are implemented.
var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*StatsTx)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*DebugTx)(nil)
)

// OpenWithStats opens a database with statistics collection enabled.
func OpenWithStats(driverName, source string, opts ...StatsOption) (*StatsDriver, *QueryStats, error) {
	drv, err := Open(driverName, source)
	if err != nil {
		return nil, nil, err
	}
	s := NewStatsDriver(drv, opts...)
	return s, s.QueryStats(), nil
}
