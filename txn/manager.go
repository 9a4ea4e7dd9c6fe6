package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
)

// Manager begins, joins and finishes transactional scopes on one driver.
type Manager struct {
	driver   dialect.Driver
	sessions SessionFactory
	logger   *slog.Logger
	seq      atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithSessionFactory attaches a session to every transaction the manager
// begins.
func WithSessionFactory(f SessionFactory) Option {
	return func(m *Manager) {
		m.sessions = f
	}
}

// WithLogger sets the logger. Scope boundaries are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager returns a manager for drv.
func NewManager(drv dialect.Driver, opts ...Option) *Manager {
	m := &Manager{
		driver: drv,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Driver returns the driver of the manager.
func (m *Manager) Driver() dialect.Driver { return m.driver }

// Do runs fn in a scope governed by opts.Propagation. The context passed
// to fn carries the transaction the scope runs in, if any.
//
// A scope that began its transaction flushes the session and commits when
// fn succeeds and rolls back otherwise. A joining scope leaves both to the
// owner. A nested scope releases its savepoint on success and rolls back
// to it on failure, restoring the session to its state at entry.
func (m *Manager) Do(ctx context.Context, opts Options, fn func(context.Context) error) error {
	cur, bound := FromContext(ctx)
	if bound {
		if s := cur.Status(); s != StatusActive {
			return fmt.Errorf("txn: %s scope on %s txn %d: %w", opts.Propagation, s, cur.id, persist.ErrTxNotActive)
		}
	}
	switch opts.Propagation {
	case Required:
		if bound {
			return m.join(ctx, cur, opts, fn)
		}
		return m.begin(ctx, opts, nil, fn)
	case RequiresNew:
		if bound {
			return m.suspend(ctx, cur, func(ctx context.Context) error {
				return m.begin(ctx, opts, cur, fn)
			})
		}
		return m.begin(ctx, opts, nil, fn)
	case Supports:
		if bound {
			return m.join(ctx, cur, opts, fn)
		}
		return fn(ctx)
	case Mandatory:
		if !bound {
			return &persist.NoActiveTransactionError{Op: "MANDATORY scope"}
		}
		return m.join(ctx, cur, opts, fn)
	case Nested:
		if bound {
			return m.nested(ctx, cur, fn)
		}
		return m.begin(ctx, opts, nil, fn)
	case Never:
		if bound {
			return &persist.ExistingTransactionError{Op: "NEVER scope"}
		}
		return fn(ctx)
	case NotSupported:
		if bound {
			return m.suspend(ctx, cur, func(ctx context.Context) error {
				return fn(Detach(ctx))
			})
		}
		return fn(ctx)
	}
	return fmt.Errorf("txn: unknown propagation %s", opts.Propagation)
}

// Run is Do for functions that return a value.
func Run[T any](ctx context.Context, m *Manager, opts Options, fn func(context.Context) (T, error)) (T, error) {
	var v T
	err := m.Do(ctx, opts, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func (m *Manager) join(ctx context.Context, c *Context, opts Options, fn func(context.Context) error) error {
	m.logger.DebugContext(ctx, "txn join", "id", c.id, "propagation", opts.Propagation.String())
	return fn(ctx)
}

// suspend parks c while fn runs.
func (m *Manager) suspend(ctx context.Context, c *Context, fn func(context.Context) error) error {
	c.setStatus(StatusSuspended)
	m.logger.DebugContext(ctx, "txn suspend", "id", c.id)
	defer func() {
		c.setStatus(StatusActive)
		m.logger.DebugContext(ctx, "txn resume", "id", c.id)
	}()
	return fn(ctx)
}

func (m *Manager) begin(ctx context.Context, opts Options, parked *Context, fn func(context.Context) error) error {
	created := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	conn, err := m.driver.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.driver.Release(conn); err != nil {
			m.logger.WarnContext(ctx, "txn release connection", "error", err)
		}
	}()
	// Rollback on cancellation is issued by finish, not by database/sql.
	tx, err := conn.Begin(context.WithoutCancel(ctx), opts.txOptions())
	if err != nil {
		return err
	}
	c := &Context{
		id:        m.seq.Add(1),
		dialect:   m.driver.Dialect(),
		opts:      opts,
		created:   created,
		suspended: parked,
		tx:        tx,
	}
	if m.sessions != nil {
		c.session = m.sessions(ctx, c, c.dialect)
		defer c.session.Close()
	}
	m.logger.DebugContext(ctx, "txn begin",
		"id", c.id,
		"isolation", opts.Isolation.String(),
		"read_only", opts.ReadOnly,
		"timeout", opts.Timeout,
	)
	scope := NewContext(ctx, c)
	defer func() {
		if v := recover(); v != nil {
			_ = m.abort(scope, c, fmt.Errorf("txn: panic: %v", v))
			panic(v)
		}
	}()
	return m.finish(scope, c, fn(scope))
}

// finish commits or rolls back the context its scope began.
func (m *Manager) finish(ctx context.Context, c *Context, err error) error {
	if err == nil {
		err = ctx.Err()
	}
	if err == nil && c.session != nil {
		err = c.session.Flush(ctx)
	}
	if elapsed := time.Since(c.created); c.opts.Timeout > 0 && elapsed >= c.opts.Timeout {
		return m.abort(ctx, c, &persist.TransactionTimeoutError{
			Timeout: c.opts.Timeout,
			Elapsed: elapsed,
			Err:     err,
		})
	}
	if err != nil {
		return m.abort(ctx, c, err)
	}
	if err := c.commit(ctx); err != nil {
		m.logger.DebugContext(ctx, "txn commit failed", "id", c.id, "error", err)
		c.runHooks(Detach(context.WithoutCancel(ctx)), false)
		return err
	}
	m.logger.DebugContext(ctx, "txn commit", "id", c.id, "elapsed", time.Since(c.created))
	c.runHooks(Detach(ctx), true)
	return nil
}

// abort rolls c back and returns cause, joined with the rollback failure
// if there is one.
func (m *Manager) abort(ctx context.Context, c *Context, cause error) error {
	rctx := context.WithoutCancel(ctx)
	rerr := c.rollback(rctx)
	m.logger.DebugContext(rctx, "txn rollback", "id", c.id, "cause", cause)
	c.runHooks(Detach(rctx), false)
	if rerr != nil {
		return errors.Join(cause, &persist.RollbackError{Err: rerr})
	}
	return cause
}

func (m *Manager) nested(ctx context.Context, c *Context, fn func(context.Context) error) error {
	if !c.dialect.Capabilities.Savepoints {
		return &persist.UnsupportedFeatureError{Dialect: c.dialect.Name, Feature: "savepoints"}
	}
	var cp Checkpoint
	if s := c.session; s != nil {
		if err := s.Flush(ctx); err != nil {
			return err
		}
		var err error
		if cp, err = s.Checkpoint(); err != nil {
			return err
		}
	}
	name, err := c.savepoint(ctx)
	if err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "txn savepoint", "id", c.id, "savepoint", name)
	defer func() {
		if v := recover(); v != nil {
			_ = m.rollbackTo(ctx, c, name, cp, fmt.Errorf("txn: panic: %v", v))
			panic(v)
		}
	}()
	err = fn(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil && c.session != nil {
		err = c.session.Flush(ctx)
	}
	if err != nil {
		return m.rollbackTo(ctx, c, name, cp, err)
	}
	m.logger.DebugContext(ctx, "txn release savepoint", "id", c.id, "savepoint", name)
	return c.endSavepoint(ctx, name, false)
}

// rollbackTo undoes a nested scope. The outer transaction stays active.
func (m *Manager) rollbackTo(ctx context.Context, c *Context, name string, cp Checkpoint, cause error) error {
	rctx := context.WithoutCancel(ctx)
	errs := []error{cause}
	if err := c.endSavepoint(rctx, name, true); err != nil {
		errs = append(errs, &persist.RollbackError{Err: err})
	}
	if cp != nil {
		if err := cp.Restore(); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.DebugContext(rctx, "txn rollback to savepoint", "id", c.id, "savepoint", name, "cause", cause)
	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}
