package repo

import (
	"context"
	"fmt"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/hydrate"
	"github.com/syssam/persist/query"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/txn"
	"github.com/syssam/persist/uow"
)

// Repository gives typed access to the entities of T.
type Repository[T any] struct {
	c    *Client
	desc *schema.EntityDescriptor
}

// For returns the repository of T. T must be registered with the client's
// registry.
func For[T any](c *Client) (*Repository[T], error) {
	desc, err := schema.LookupOf[T](c.reg)
	if err != nil {
		return nil, err
	}
	return &Repository[T]{c: c, desc: desc}, nil
}

// MustFor is like For but panics on error.
func MustFor[T any](c *Client) *Repository[T] {
	r, err := For[T](c)
	if err != nil {
		panic(err)
	}
	return r
}

// Descriptor returns the descriptor of T.
func (r *Repository[T]) Descriptor() *schema.EntityDescriptor { return r.desc }

// Get returns the entity with the given primary key. Inside a transaction
// a tracked instance is returned without a query; otherwise the loaded
// instance is registered with the unit of work. It fails with a
// *persist.NotFoundError when no row matches.
func (r *Repository[T]) Get(ctx context.Context, pk ...any) (*T, error) {
	vals, err := r.keyValues(pk)
	if err != nil {
		return nil, err
	}
	key := hydrate.KeyOf(vals)
	u, tc := r.c.unit(ctx)
	if u != nil {
		if ent, ok := u.Lookup(uow.IdentityKey{Tag: r.desc.Tag, Key: key}); ok {
			return ent.(*T), nil
		}
	}
	preds := make([]query.Predicate, len(vals))
	for i, c := range r.desc.PKColumns() {
		preds[i] = query.EQ(query.C(rootAlias+"."+c.Name), query.Arg(vals[i]))
	}
	sel := r.c.selectFor(r.desc).Where(query.AndOf(preds...))
	fetch := func() (dialect.Row, error) {
		rows, err := r.c.fetch(ctx, sel)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, persist.NewNotFoundErrorWithID(r.desc.Name, pkID(pk))
		}
		return rows[0], nil
	}
	var row dialect.Row
	switch {
	case r.c.cache != nil && tc == nil:
		row, err = r.c.cachedRow(ctx, r.desc, key, true, fetch)
	case r.c.cache != nil && tc.Options().ReadOnly:
		row, err = r.c.cachedRow(ctx, r.desc, key, false, fetch)
	default:
		row, err = fetch()
	}
	if err != nil {
		return nil, err
	}
	ents, err := r.c.materialize(ctx, r.desc, []dialect.Row{row}, nil)
	if err != nil {
		return nil, err
	}
	if !ents[0].IsValid() {
		return nil, persist.NewNotFoundErrorWithID(r.desc.Name, pkID(pk))
	}
	return ents[0].Interface().(*T), nil
}

func (r *Repository[T]) keyValues(pk []any) ([]dialect.Value, error) {
	cols := r.desc.PKColumns()
	if len(pk) != len(cols) {
		return nil, fmt.Errorf("repo: %s has %d key columns, got %d values", r.desc.Name, len(cols), len(pk))
	}
	vals := make([]dialect.Value, len(pk))
	for i, x := range pk {
		v, err := dialect.FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("repo: %s key: %w", r.desc.Name, err)
		}
		if v.IsNull() {
			return nil, fmt.Errorf("repo: %s key column %s is nil", r.desc.Name, cols[i].Name)
		}
		if vals[i], err = dialect.Coerce(v, cols[i].Kind); err != nil {
			return nil, fmt.Errorf("repo: %s key column %s: %w", r.desc.Name, cols[i].Name, err)
		}
	}
	return vals, nil
}

func pkID(pk []any) any {
	if len(pk) == 1 {
		return pk[0]
	}
	return pk
}

// Query returns a query over T.
func (r *Repository[T]) Query() *Query[T] {
	return &Query[T]{r: r, sel: r.c.selectFor(r.desc)}
}

// Add schedules entity for insertion on the next flush.
func (r *Repository[T]) Add(ctx context.Context, entity *T) error {
	u, err := r.c.writable(ctx, "add")
	if err != nil {
		return err
	}
	return u.Add(entity)
}

// Attach tracks a detached entity as managed, snapshotting its current
// values as the persisted state.
func (r *Repository[T]) Attach(ctx context.Context, entity *T) error {
	u, err := r.c.writable(ctx, "attach")
	if err != nil {
		return err
	}
	return u.Attach(entity)
}

// Remove schedules entity for deletion on the next flush.
func (r *Repository[T]) Remove(ctx context.Context, entity *T) error {
	u, err := r.c.writable(ctx, "remove")
	if err != nil {
		return err
	}
	return u.Remove(entity)
}

// MarkField forces field of entity into the next update.
func (r *Repository[T]) MarkField(ctx context.Context, entity *T, field string) error {
	u, err := r.c.writable(ctx, "mark field")
	if err != nil {
		return err
	}
	return u.MarkField(entity, field)
}

// State returns the tracking state of entity in the transaction bound to
// ctx. Outside a transaction every entity is detached.
func (r *Repository[T]) State(ctx context.Context, entity *T) uow.State {
	u, _ := r.c.unit(ctx)
	if u == nil {
		return uow.Detached
	}
	return u.State(entity)
}

// Flush writes the pending changes of the transaction bound to ctx.
func (c *Client) Flush(ctx context.Context) error {
	u, err := c.writable(ctx, "flush")
	if err != nil {
		return err
	}
	return u.Flush(ctx)
}

// Query is a select over one entity type. Unqualified columns in filters
// and orders refer to the entity's own table.
type Query[T any] struct {
	r   *Repository[T]
	sel *query.Select
}

func (q *Query[T]) with(sel *query.Select) *Query[T] {
	return &Query[T]{r: q.r, sel: sel}
}

// Where adds filters, combined with AND.
func (q *Query[T]) Where(ps ...query.Predicate) *Query[T] {
	p := query.AndOf(ps...)
	if p == nil {
		return q
	}
	return q.with(q.sel.Where(query.Qualify(p, rootAlias)))
}

// OrderBy adds order terms.
func (q *Query[T]) OrderBy(orders ...*query.Order) *Query[T] {
	qualified := make([]*query.Order, len(orders))
	for i, o := range orders {
		qualified[i] = &query.Order{Expr: query.QualifyExpr(o.Expr, rootAlias), Desc: o.Desc}
	}
	return q.with(q.sel.OrderBy(qualified...))
}

// Limit limits the result to n entities.
func (q *Query[T]) Limit(n int64) *Query[T] { return q.with(q.sel.Limit(n)) }

// Offset skips the first n entities.
func (q *Query[T]) Offset(n int64) *Query[T] { return q.with(q.sel.Offset(n)) }

// Select returns the statement the query runs.
func (q *Query[T]) Select() *query.Select { return q.sel }

// All returns the matching entities in result order. Entities removed in
// the bound unit of work are left out.
func (q *Query[T]) All(ctx context.Context) ([]*T, error) {
	_, vals, err := q.r.c.loadAll(ctx, q.r.desc, q.sel, nil)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(vals))
	seen := make(map[*T]bool, len(vals))
	for _, v := range vals {
		if !v.IsValid() {
			continue
		}
		ent := v.Interface().(*T)
		if !seen[ent] {
			seen[ent] = true
			out = append(out, ent)
		}
	}
	return out, nil
}

// First returns the first matching entity, or a *persist.NotFoundError.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	ents, err := q.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(ents) == 0 {
		return nil, persist.NewNotFoundError(q.r.desc.Name)
	}
	return ents[0], nil
}

// Count returns the number of matching rows. Limit, offset and order are
// ignored.
func (q *Query[T]) Count(ctx context.Context) (int64, error) {
	rows, err := q.r.c.fetch(ctx, q.sel.Counting("n"))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := dialect.Coerce(rows[0]["n"], dialect.KindInteger)
	if err != nil {
		return 0, &persist.DeserializationError{Entity: q.r.desc.Name, Column: "n", Err: err}
	}
	i, _ := n.AsInteger()
	return i, nil
}

// Exist reports whether any row matches.
func (q *Query[T]) Exist(ctx context.Context) (bool, error) {
	n, err := q.Count(ctx)
	return n > 0, err
}

var (
	_ hydrate.Loader = (*Client)(nil)
	_ txn.Session    = (*session)(nil)
)
