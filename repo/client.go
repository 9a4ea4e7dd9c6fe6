package repo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/hydrate"
	"github.com/syssam/persist/query"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/txn"
	"github.com/syssam/persist/uow"
)

// Client is the entry point of persist: it owns the driver, the sealed
// registry and the transaction manager, and gives out repositories.
type Client struct {
	drv      dialect.Driver
	reg      *schema.Registry
	tx       *txn.Manager
	hydrator *hydrate.Hydrator
	logger   *slog.Logger

	cache      persist.Cache
	cacheTTL   time.Duration
	group      singleflight.Group
	dependents map[schema.TypeTag][]*schema.EntityDescriptor

	selects sync.Map // schema.TypeTag -> *query.Select
}

type options struct {
	reg      *schema.Registry
	cache    persist.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithRegistry sets the registry. It defaults to schema.Default().
func WithRegistry(r *schema.Registry) Option {
	return func(o *options) {
		o.reg = r
	}
}

// WithCache enables the second-level row cache. Rows are cached for ttl,
// or without expiry when ttl is 0.
func WithCache(c persist.Cache, ttl time.Duration) Option {
	return func(o *options) {
		o.cache, o.cacheTTL = c, ttl
	}
}

// WithLogger sets the logger used by the client, its transaction manager
// and its units of work.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// NewClient returns a client for drv. The registry must be sealed.
func NewClient(drv dialect.Driver, opts ...Option) (*Client, error) {
	o := options{
		reg:    schema.Default(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.reg.Sealed() {
		return nil, persist.ErrRegistryNotSealed
	}
	c := &Client{
		drv:        drv,
		reg:        o.reg,
		logger:     o.logger,
		cache:      o.cache,
		cacheTTL:   o.cacheTTL,
		dependents: dependents(o.reg),
	}
	c.hydrator = hydrate.New(hydrate.WithLoader(c))
	c.tx = txn.NewManager(drv, txn.WithSessionFactory(c.newSession), txn.WithLogger(o.logger))
	return c, nil
}

// Driver returns the driver of the client.
func (c *Client) Driver() dialect.Driver { return c.drv }

// Registry returns the registry of the client.
func (c *Client) Registry() *schema.Registry { return c.reg }

// Tx returns the transaction manager of the client.
func (c *Client) Tx() *txn.Manager { return c.tx }

// Do runs fn in a transactional scope. See txn.Manager.Do.
func (c *Client) Do(ctx context.Context, opts txn.Options, fn func(context.Context) error) error {
	return c.tx.Do(ctx, opts, fn)
}

// Close closes the driver.
func (c *Client) Close() error { return c.drv.Close() }

// session adapts a unit of work to txn.Session.
type session struct {
	u *uow.UnitOfWork
}

func (s *session) Flush(ctx context.Context) error { return s.u.Flush(ctx) }

func (s *session) Close() { s.u.Close() }

func (s *session) Checkpoint() (txn.Checkpoint, error) {
	cp, err := s.u.Checkpoint()
	if err != nil {
		return nil, err
	}
	return checkpoint{u: s.u, cp: cp}, nil
}

type checkpoint struct {
	u  *uow.UnitOfWork
	cp *uow.Checkpoint
}

func (c checkpoint) Restore() error { return c.u.Restore(c.cp) }

func (c *Client) newSession(_ context.Context, exec dialect.ExecQuerier, d *dialect.Dialect) txn.Session {
	u := uow.New(exec, d, c.reg, uow.WithLogger(c.logger))
	if tc, ok := exec.(*txn.Context); ok && c.cache != nil {
		tc.OnCommit(func(ctx context.Context) {
			c.invalidate(ctx, u.Written())
		})
	}
	return &session{u: u}
}

// unit returns the transaction bound to ctx and its unit of work.
func (c *Client) unit(ctx context.Context) (*uow.UnitOfWork, *txn.Context) {
	tc, ok := txn.FromContext(ctx)
	if !ok {
		return nil, nil
	}
	s, ok := tc.Session().(*session)
	if !ok {
		return nil, tc
	}
	return s.u, tc
}

// writable returns the unit of work of ctx, failing outside a transaction.
func (c *Client) writable(ctx context.Context, op string) (*uow.UnitOfWork, error) {
	u, _ := c.unit(ctx)
	if u == nil {
		return nil, &persist.NoActiveTransactionError{Op: op}
	}
	return u, nil
}

// exec returns the ExecQuerier statements of ctx run on: the bound
// transaction, or the driver in autocommit mode.
func (c *Client) exec(ctx context.Context) dialect.ExecQuerier {
	if tc, ok := txn.FromContext(ctx); ok {
		return tc
	}
	return c.drv
}

// Scope implements hydrate.Loader.
func (c *Client) Scope(ctx context.Context) hydrate.Scope {
	u, _ := c.unit(ctx)
	if u == nil {
		return nil
	}
	return u
}

func (c *Client) fetch(ctx context.Context, n query.Node) ([]dialect.Row, error) {
	text, args, err := query.Render(n, c.drv.Dialect())
	if err != nil {
		return nil, err
	}
	return c.exec(ctx).FetchAll(ctx, text, args)
}
