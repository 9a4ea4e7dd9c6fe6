package txn

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
)

// Status is the lifecycle state of a transaction context.
type Status uint8

// Context states.
const (
	StatusActive Status = iota
	StatusSuspended
	StatusCommitted
	StatusRolledBack
)

// String returns the name of the status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSuspended:
		return "suspended"
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled back"
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// Session is the unit of work attached to a transaction context.
// *uow.UnitOfWork satisfies it through a small adapter in package repo.
type Session interface {
	Flush(ctx context.Context) error
	Checkpoint() (Checkpoint, error)
	Close()
}

// Checkpoint is a saved session state.
type Checkpoint interface {
	Restore() error
}

// SessionFactory creates the session of a new transaction context. The
// ExecQuerier it receives runs statements on that context.
type SessionFactory func(ctx context.Context, exec dialect.ExecQuerier, d *dialect.Dialect) Session

// Context is a running transaction. It owns its connection until it
// commits or rolls back. Statements are serialised and are rejected once
// the context is suspended or finished.
type Context struct {
	id        uint64
	dialect   *dialect.Dialect
	opts      Options
	created   time.Time
	suspended *Context

	mu         sync.Mutex
	tx         dialect.Tx
	status     Status
	savepoints []string
	spSeq      int
	session    Session
	onCommit   []func(context.Context)
	onRollback []func(context.Context)
}

// ID returns the manager-unique number of the context.
func (c *Context) ID() uint64 { return c.id }

// Dialect returns the dialect of the connection.
func (c *Context) Dialect() *dialect.Dialect { return c.dialect }

// Options returns the options the context was begun with.
func (c *Context) Options() Options { return c.opts }

// Created returns the time the owning scope was entered.
func (c *Context) Created() time.Time { return c.created }

// Suspended returns the context parked while this one runs, if any.
func (c *Context) Suspended() *Context { return c.suspended }

// Session returns the session attached to the context, or nil.
func (c *Context) Session() Session { return c.session }

// Status returns the current status.
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Savepoints returns the open savepoint names, outermost first.
func (c *Context) Savepoints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.savepoints)
}

// OnCommit adds a hook to call after a successful commit.
func (c *Context) OnCommit(f func(context.Context)) {
	c.mu.Lock()
	c.onCommit = append(c.onCommit, f)
	c.mu.Unlock()
}

// OnRollback adds a hook to call after the transaction is rolled back.
func (c *Context) OnRollback(f func(context.Context)) {
	c.mu.Lock()
	c.onRollback = append(c.onRollback, f)
	c.mu.Unlock()
}

// Execute implements dialect.ExecQuerier.
func (c *Context) Execute(ctx context.Context, query string, args []dialect.Value) (dialect.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.activeLocked(); err != nil {
		return dialect.Result{}, err
	}
	return c.tx.Execute(ctx, query, args)
}

// FetchAll implements dialect.ExecQuerier.
func (c *Context) FetchAll(ctx context.Context, query string, args []dialect.Value) ([]dialect.Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.activeLocked(); err != nil {
		return nil, err
	}
	return c.tx.FetchAll(ctx, query, args)
}

func (c *Context) activeLocked() error {
	if c.status != StatusActive {
		return fmt.Errorf("txn %d is %s: %w", c.id, c.status, persist.ErrTxNotActive)
	}
	return nil
}

func (c *Context) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Context) commit(ctx context.Context) error {
	c.mu.Lock()
	if err := c.activeLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	err := c.tx.Commit(ctx)
	if err != nil {
		c.status = StatusRolledBack
	} else {
		c.status = StatusCommitted
	}
	c.savepoints = nil
	c.mu.Unlock()
	return err
}

func (c *Context) rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusCommitted || c.status == StatusRolledBack {
		return nil
	}
	c.status = StatusRolledBack
	c.savepoints = nil
	return c.tx.Rollback(ctx)
}

func (c *Context) runHooks(ctx context.Context, committed bool) {
	c.mu.Lock()
	hooks := c.onRollback
	if committed {
		hooks = c.onCommit
	}
	hooks = slices.Clone(hooks)
	c.mu.Unlock()
	for _, f := range hooks {
		f(ctx)
	}
}

// savepoint opens a new savepoint and returns its name.
func (c *Context) savepoint(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.activeLocked(); err != nil {
		return "", err
	}
	if !c.dialect.Capabilities.Savepoints {
		return "", &persist.UnsupportedFeatureError{Dialect: c.dialect.Name, Feature: "savepoints"}
	}
	c.spSeq++
	name := "persist_sp_" + strconv.Itoa(c.spSeq)
	if err := c.tx.Savepoint(ctx, name); err != nil {
		return "", err
	}
	c.savepoints = append(c.savepoints, name)
	return name, nil
}

// endSavepoint releases name, or rolls back to it when rollback is set,
// and pops it off the stack.
func (c *Context) endSavepoint(ctx context.Context, name string, rollback bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.activeLocked(); err != nil {
		return err
	}
	i := slices.Index(c.savepoints, name)
	if i < 0 {
		return fmt.Errorf("txn %d: unknown savepoint %q", c.id, name)
	}
	c.savepoints = c.savepoints[:i]
	if rollback {
		return c.tx.RollbackToSavepoint(ctx, name)
	}
	return c.tx.ReleaseSavepoint(ctx, name)
}

type ctxKey struct{}

// FromContext returns the transaction context bound to ctx.
func FromContext(ctx context.Context) (*Context, bool) {
	c, _ := ctx.Value(ctxKey{}).(*Context)
	return c, c != nil
}

// NewContext returns a copy of parent bound to c.
func NewContext(parent context.Context, c *Context) context.Context {
	return context.WithValue(parent, ctxKey{}, c)
}

// Detach returns a copy of ctx with no transaction bound. Work started on
// another goroutine should use it and begin its own transaction if needed.
func Detach(ctx context.Context) context.Context {
	if _, ok := FromContext(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, (*Context)(nil))
}
