package repo

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"strconv"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/hydrate"
	"github.com/syssam/persist/query"
	"github.com/syssam/persist/schema"
	"github.com/syssam/persist/uow"
)

// rootAlias is the alias of the queried table. Joined tables are t1, t2, ...
const rootAlias = "t0"

// ownerAlias carries the owner key of many-to-many rows.
const ownerAlias = "__owner"

// relations expanded along the current load chain
type expanded map[*schema.RelationDescriptor]bool

func (e expanded) with(rel *schema.RelationDescriptor) expanded {
	next := maps.Clone(e)
	if next == nil {
		next = make(expanded)
	}
	next[rel] = true
	return next
}

// selectFor returns the base select of desc: its columns, plus the columns
// of its eager to-one relations under "<relation>__<column>" aliases.
func (c *Client) selectFor(desc *schema.EntityDescriptor) *query.Select {
	if s, ok := c.selects.Load(desc.Tag); ok {
		return s.(*query.Select)
	}
	root := query.T(desc.Table).As(rootAlias)
	sel := query.SelectFrom(root)
	for _, col := range desc.Columns {
		sel = sel.Columns(root.C(col.Name))
	}
	n := 0
	sel = joinEager(sel, desc, root, "", &n, map[*schema.EntityDescriptor]bool{desc: true})
	c.selects.Store(desc.Tag, sel)
	return sel
}

// joinEager left-joins the eager to-one relations of desc, recursively.
// Entities already on the join path are not joined again.
func joinEager(sel *query.Select, desc *schema.EntityDescriptor, from query.Table, prefix string, n *int, path map[*schema.EntityDescriptor]bool) *query.Select {
	for _, rel := range desc.Relations {
		if !eagerToOne(rel) || path[rel.Target] {
			continue
		}
		*n++
		t := query.T(rel.Target.Table).As("t" + strconv.Itoa(*n))
		var on query.Predicate
		if rel.OwnsForeignKey() {
			on = query.EQ(t.C(rel.Join.RefColumn), from.C(rel.Join.Column))
		} else {
			on = query.EQ(t.C(rel.Join.Column), from.C(rel.Join.RefColumn))
		}
		sel = sel.LeftJoin(t, on)
		p := hydrate.SegmentPrefix(prefix, rel)
		for _, col := range rel.Target.Columns {
			sel = sel.ColumnAs(t.C(col.Name), p+col.Name)
		}
		path[rel.Target] = true
		sel = joinEager(sel, rel.Target, t, p, n, path)
		delete(path, rel.Target)
	}
	return sel
}

// loadAll runs sel and materializes its rows. The result is aligned with
// the rows; rows of entities removed in the bound unit of work yield an
// invalid Value.
func (c *Client) loadAll(ctx context.Context, desc *schema.EntityDescriptor, sel *query.Select, seen expanded) ([]dialect.Row, []reflect.Value, error) {
	rows, err := c.fetch(ctx, sel)
	if err != nil {
		return nil, nil, err
	}
	vals, err := c.materialize(ctx, desc, rows, seen)
	if err != nil {
		return nil, nil, err
	}
	return rows, vals, nil
}

// materialize hydrates rows into entities of desc. Inside a transaction
// every entity goes through the identity map; instances already tracked
// are returned as they are. Fresh instances get their eager to-many
// relations loaded.
func (c *Client) materialize(ctx context.Context, desc *schema.EntityDescriptor, rows []dialect.Row, seen expanded) ([]reflect.Value, error) {
	u, _ := c.unit(ctx)
	out := make([]reflect.Value, len(rows))
	local := make(map[string]reflect.Value)
	var fresh []reflect.Value
	for i, row := range rows {
		key, keyed, err := hydrate.RowKey(desc, row, "")
		if err != nil {
			return nil, err
		}
		if v, ok := local[key]; keyed && ok {
			out[i] = v
			continue
		}
		var ent any
		isNew := true
		if u != nil && keyed {
			isNew = false
			ent, err = u.GetOrRegister(ctx, uow.IdentityKey{Tag: desc.Tag, Key: key}, func(ctx context.Context) (any, error) {
				isNew = true
				return c.hydrator.Hydrate(ctx, desc, row)
			})
			if persist.IsNotFound(err) {
				continue
			}
		} else {
			ent, err = c.hydrator.Hydrate(ctx, desc, row)
		}
		if err != nil {
			return nil, err
		}
		v := reflect.ValueOf(ent)
		if keyed {
			local[key] = v
		}
		out[i] = v
		if isNew {
			fresh = append(fresh, v)
		}
	}
	if err := c.loadEager(ctx, desc, fresh, seen); err != nil {
		return nil, err
	}
	return out, nil
}

// loadEager fills the eager to-many relations of owners with one query
// per relation and batch of keys.
func (c *Client) loadEager(ctx context.Context, desc *schema.EntityDescriptor, owners []reflect.Value, seen expanded) error {
	if len(owners) == 0 {
		return nil
	}
	for _, rel := range desc.Relations {
		if rel.Fetch != schema.FetchEager || rel.Kind.ToOne() || rel.Target == nil || seen[rel] {
			continue
		}
		if err := c.batchLoad(ctx, desc, rel, owners, seen.with(rel)); err != nil {
			return fmt.Errorf("repo: load %s.%s: %w", desc.Name, rel.Name, err)
		}
	}
	return nil
}

func (c *Client) batchLoad(ctx context.Context, desc *schema.EntityDescriptor, rel *schema.RelationDescriptor, owners []reflect.Value, seen expanded) error {
	refCol, ok := desc.ColumnByName(rel.Join.RefColumn)
	if !ok {
		return fmt.Errorf("unknown column %s of %s", rel.Join.RefColumn, desc.Table)
	}
	ownerKeys := make([]string, len(owners))
	var keys []dialect.Value
	requested := make(map[string]bool)
	for i, o := range owners {
		v, err := hydrate.ColumnValue(o, refCol)
		if err != nil {
			return err
		}
		if v.IsNull() {
			continue
		}
		k := v.Key()
		ownerKeys[i] = k
		if !requested[k] {
			requested[k] = true
			keys = append(keys, v)
		}
	}
	groups, err := c.fetchGroups(ctx, rel, keys, refCol.Kind, seen)
	if err != nil {
		return err
	}
	u, _ := c.unit(ctx)
	for i, targets := range orderGroupsByKeys(ownerKeys, groups) {
		if err := hydrate.SetRelated(owners[i], rel, targets); err != nil {
			return err
		}
		if u != nil && rel.Kind == schema.ManyToMany {
			if err := u.SnapshotLinks(owners[i].Interface(), rel.Name, targets); err != nil {
				return err
			}
		}
	}
	return nil
}

type owned struct {
	owner  dialect.Value
	target reflect.Value
}

// fetchGroups loads the targets of a to-many or inverse to-one relation for
// the given owner keys, grouped by owner key.
func (c *Client) fetchGroups(ctx context.Context, rel *schema.RelationDescriptor, keys []dialect.Value, kind dialect.Kind, seen expanded) (map[string][]reflect.Value, error) {
	td := rel.Target
	tpk := td.PKColumns()[0]
	base := c.selectFor(td)
	ownerCol := rel.Join.Column
	if rel.Kind == schema.ManyToMany {
		j := query.T(rel.Join.Table).As("j")
		base = base.Join(j, query.EQ(j.C(rel.Join.InverseColumn), query.C(rootAlias+"."+tpk.Name))).
			ColumnAs(j.C(rel.Join.Column), ownerAlias)
		ownerCol = ownerAlias
	}
	var all []owned
	for batch := range batches(keys) {
		var in query.Predicate
		if rel.Kind == schema.ManyToMany {
			in = query.InValues(query.C("j."+rel.Join.Column), query.Args(batch...)...)
		} else {
			in = query.InValues(query.C(rootAlias+"."+rel.Join.Column), query.Args(batch...)...)
		}
		sel := base.Where(in).OrderBy(query.Asc(query.C(rootAlias + "." + tpk.Name)))
		rows, vals, err := c.loadAll(ctx, td, sel, seen)
		if err != nil {
			return nil, err
		}
		for i, row := range rows {
			if !vals[i].IsValid() {
				continue
			}
			ov, err := dialect.Coerce(row[ownerCol], kind)
			if err != nil {
				return nil, &persist.DeserializationError{Entity: td.Name, Column: ownerCol, Err: err}
			}
			all = append(all, owned{owner: ov, target: vals[i]})
		}
	}
	grouped := groupByKey(all, func(o owned) (string, bool) {
		return o.owner.Key(), !o.owner.IsNull()
	})
	out := make(map[string][]reflect.Value, len(grouped))
	for k, os := range grouped {
		targets := make([]reflect.Value, len(os))
		for i, o := range os {
			targets[i] = o.target
		}
		out[k] = targets
	}
	return out, nil
}

// LoadRelation implements hydrate.Loader. It resolves lazy relations
// through the same select, hydration and identity map as queries.
func (c *Client) LoadRelation(ctx context.Context, desc *schema.EntityDescriptor, rel *schema.RelationDescriptor, owner reflect.Value) (any, error) {
	if rel.Target == nil {
		return nil, fmt.Errorf("repo: %s.%s is not resolved", desc.Name, rel.Name)
	}
	none := reflect.Zero(reflect.PointerTo(rel.Target.Type)).Interface()
	seen := expanded{rel: true}
	if rel.OwnsForeignKey() {
		fkCol, ok := desc.ColumnByName(rel.Join.Column)
		if !ok {
			return nil, fmt.Errorf("repo: unknown column %s of %s", rel.Join.Column, desc.Table)
		}
		fk, err := hydrate.ColumnValue(owner, fkCol)
		if err != nil {
			return nil, err
		}
		if fk.IsNull() {
			return none, nil
		}
		sel := c.selectFor(rel.Target).
			Where(query.EQ(query.C(rootAlias+"."+rel.Join.RefColumn), query.Arg(fk))).
			Limit(1)
		_, vals, err := c.loadAll(ctx, rel.Target, sel, seen)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			if v.IsValid() {
				return v.Interface(), nil
			}
		}
		return none, nil
	}
	refCol, ok := desc.ColumnByName(rel.Join.RefColumn)
	if !ok {
		return nil, fmt.Errorf("repo: unknown column %s of %s", rel.Join.RefColumn, desc.Table)
	}
	ref, err := hydrate.ColumnValue(owner, refCol)
	if err != nil {
		return nil, err
	}
	var targets []reflect.Value
	if !ref.IsNull() {
		groups, err := c.fetchGroups(ctx, rel, []dialect.Value{ref}, refCol.Kind, seen)
		if err != nil {
			return nil, err
		}
		targets = groups[ref.Key()]
	}
	if rel.Kind == schema.ManyToMany {
		if u, _ := c.unit(ctx); u != nil {
			if err := u.SnapshotLinks(owner.Interface(), rel.Name, targets); err != nil {
				return nil, err
			}
		}
	}
	if rel.Kind.ToOne() {
		if len(targets) == 0 {
			return none, nil
		}
		return targets[0].Interface(), nil
	}
	out := reflect.MakeSlice(reflect.SliceOf(reflect.PointerTo(rel.Target.Type)), 0, len(targets))
	return reflect.Append(out, targets...).Interface(), nil
}
