package uow

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/hydrate"
	"github.com/syssam/persist/query"
	"github.com/syssam/persist/schema"
)

// Flush writes pending changes in dependency order:
//
//  1. cascade discovery along relations,
//  2. inserts, foreign-key targets before their dependents,
//  3. updates of dirty columns only,
//  4. many-to-many join row changes,
//  5. deletes, dependents first.
//
// Lazy relations that cascade a removal are loaded before the flush starts.
// The first failing statement aborts the flush and its error is returned;
// the enclosing transaction stays open.
func (u *UnitOfWork) Flush(ctx context.Context) error {
	if err := u.loadRemovals(ctx); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	f := &flusher{u: u}
	if err := f.run(ctx); err != nil {
		return err
	}
	u.logger.DebugContext(ctx, "uow flushed",
		"inserts", f.inserts, "updates", f.updates, "deletes", f.deletes, "links", f.links)
	return nil
}

type flusher struct {
	u       *UnitOfWork
	parents map[*TrackedEntity][]edge

	inserts, updates, deletes, links int
}

// edge is a relation from one tracked entity to another.
type edge struct {
	from *TrackedEntity
	rel  *schema.RelationDescriptor
}

func (f *flusher) run(ctx context.Context) error {
	if err := f.cascade(); err != nil {
		return err
	}
	f.indexParents()
	order, err := f.insertOrder()
	if err != nil {
		return err
	}
	for _, t := range order {
		if err := f.syncForeignKeys(t); err != nil {
			return err
		}
		if err := f.insert(ctx, t); err != nil {
			return persist.NewMutationError(t.Desc.Name, "insert", err)
		}
	}
	for _, t := range f.u.snapshot(Managed) {
		if err := f.syncForeignKeys(t); err != nil {
			return err
		}
		if err := f.update(ctx, t); err != nil {
			return persist.NewMutationError(t.Desc.Name, "update", err)
		}
	}
	for _, t := range f.u.snapshot(Managed) {
		if err := f.syncLinks(ctx, t); err != nil {
			return persist.NewMutationError(t.Desc.Name, "link", err)
		}
	}
	for _, t := range f.removeOrder() {
		if err := f.remove(ctx, t); err != nil {
			return persist.NewMutationError(t.Desc.Name, "delete", err)
		}
	}
	return nil
}

// snapshot returns the tracked entities in the given state, in tracking order.
func (u *UnitOfWork) snapshot(state State) []*TrackedEntity {
	var out []*TrackedEntity
	for _, t := range u.order {
		if t.State == state {
			out = append(out, t)
		}
	}
	return out
}

// loadRemovals resolves the unloaded lazy relations a cascading removal
// follows, from the removed entities down. It runs without u.mu: loading
// registers the fetched entities in u.
func (u *UnitOfWork) loadRemovals(ctx context.Context) error {
	type removal struct {
		desc *schema.EntityDescriptor
		ent  reflect.Value
	}
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	var queue []removal
	for _, t := range u.snapshot(Removed) {
		queue = append(queue, removal{desc: t.Desc, ent: t.value()})
	}
	u.mu.Unlock()

	seen := make(map[any]bool)
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if seen[r.ent.Interface()] {
			continue
		}
		seen[r.ent.Interface()] = true
		for _, rel := range r.desc.Relations {
			if rel.Target == nil || !rel.Cascade.Has(schema.CascadeRemove) {
				continue
			}
			targets, err := hydrate.LoadRelated(ctx, r.ent, rel)
			if err != nil {
				return persist.NewMutationError(r.desc.Name, "delete", err)
			}
			for _, tv := range targets {
				if hydrate.HasKey(rel.Target, tv.Interface()) {
					queue = append(queue, removal{desc: rel.Target, ent: tv})
				}
			}
		}
	}
	return nil
}

// cascade tracks untracked entities reachable through cascading relations
// of pending entities, and propagates removals.
func (f *flusher) cascade() error {
	u := f.u
	for i := 0; i < len(u.order); i++ {
		t := u.order[i]
		if t.State != Added && t.State != Managed {
			continue
		}
		for _, rel := range t.Desc.Relations {
			if rel.Target == nil || !rel.Cascade.Has(schema.CascadeInsert|schema.CascadeUpdate) {
				continue
			}
			targets, _ := hydrate.Related(t.value(), rel)
			for _, tv := range targets {
				if err := f.reach(rel, tv.Interface()); err != nil {
					return err
				}
			}
		}
	}
	queue := u.snapshot(Removed)
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		for _, rel := range t.Desc.Relations {
			if rel.Target == nil || !rel.Cascade.Has(schema.CascadeRemove) {
				continue
			}
			targets, _ := hydrate.Related(t.value(), rel)
			for _, tv := range targets {
				ent := tv.Interface()
				dep, ok := u.byPtr[ent]
				if !ok {
					if !hydrate.HasKey(rel.Target, ent) {
						continue
					}
					var err error
					if dep, err = u.addLocked(ent, Managed); err != nil {
						return err
					}
				}
				switch dep.State {
				case Added:
					u.untrack(dep)
				case Managed:
					dep.State = Removed
					queue = append(queue, dep)
				}
			}
		}
	}
	return nil
}

// reach tracks an untracked relation target according to rel's cascade set.
func (f *flusher) reach(rel *schema.RelationDescriptor, ent any) error {
	if _, ok := f.u.byPtr[ent]; ok {
		return nil
	}
	desc := rel.Target
	switch {
	case !hydrate.HasKey(desc, ent):
		if rel.Cascade.Has(schema.CascadeInsert) {
			_, err := f.u.addLocked(ent, Added)
			return err
		}
	case desc.GeneratedKey() != nil:
		// An assigned generated key means the row exists.
		if rel.Cascade.Has(schema.CascadeUpdate) {
			_, err := f.u.addLocked(ent, Managed)
			return err
		}
	case rel.Cascade.Has(schema.CascadeInsert):
		_, err := f.u.addLocked(ent, Added)
		return err
	case rel.Cascade.Has(schema.CascadeUpdate):
		_, err := f.u.addLocked(ent, Managed)
		return err
	}
	return nil
}

// indexParents records, for every tracked entity, the tracked entities whose
// one-to-many or inverse one-to-one relations hold it.
func (f *flusher) indexParents() {
	f.parents = make(map[*TrackedEntity][]edge)
	for _, p := range f.u.order {
		if p.State == Removed {
			continue
		}
		for _, rel := range p.Desc.Relations {
			if rel.Target == nil || rel.OwnsForeignKey() || rel.Kind == schema.ManyToMany {
				continue
			}
			targets, _ := hydrate.Related(p.value(), rel)
			for _, tv := range targets {
				if c, ok := f.u.byPtr[tv.Interface()]; ok {
					f.parents[c] = append(f.parents[c], edge{from: p, rel: rel})
				}
			}
		}
	}
}

// insertOrder sorts new entities so that every entity comes after the
// entities its foreign keys reference.
func (f *flusher) insertOrder() ([]*TrackedEntity, error) {
	const (
		visiting = 1
		done     = 2
	)
	var (
		order []*TrackedEntity
		mark  = make(map[*TrackedEntity]int)
		visit func(t *TrackedEntity) error
	)
	visit = func(t *TrackedEntity) error {
		switch mark[t] {
		case visiting:
			return fmt.Errorf("uow: cyclic insert dependency through %s", t.Desc.Name)
		case done:
			return nil
		}
		mark[t] = visiting
		for _, dep := range f.dependencies(t) {
			if dep.State == Added && dep != t {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		mark[t] = done
		order = append(order, t)
		return nil
	}
	for _, t := range f.u.snapshot(Added) {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// dependencies returns the tracked entities t's foreign keys reference.
func (f *flusher) dependencies(t *TrackedEntity) []*TrackedEntity {
	var deps []*TrackedEntity
	for _, rel := range t.Desc.Relations {
		if !rel.OwnsForeignKey() || rel.Target == nil {
			continue
		}
		targets, _ := hydrate.Related(t.value(), rel)
		for _, tv := range targets {
			if d, ok := f.u.byPtr[tv.Interface()]; ok {
				deps = append(deps, d)
			}
		}
	}
	for _, e := range f.parents[t] {
		deps = append(deps, e.from)
	}
	return deps
}

// syncForeignKeys copies referenced primary keys into t's foreign key
// columns: from the targets of t's owning relations and from the parents
// holding t in a one-to-many relation.
func (f *flusher) syncForeignKeys(t *TrackedEntity) error {
	ent := t.value()
	for _, rel := range t.Desc.Relations {
		if !rel.OwnsForeignKey() || rel.Target == nil {
			continue
		}
		targets, loaded := hydrate.Related(ent, rel)
		if !loaded || len(targets) != 1 || !hydrate.HasKey(rel.Target, targets[0].Interface()) {
			continue
		}
		if err := copyColumn(rel.Target, targets[0], rel.Join.RefColumn, t.Desc, ent, rel.Join.Column); err != nil {
			return err
		}
	}
	for _, e := range f.parents[t] {
		if !hydrate.HasKey(e.from.Desc, e.from.Entity) {
			continue
		}
		if err := copyColumn(e.from.Desc, e.from.value(), e.rel.Join.RefColumn, t.Desc, ent, e.rel.Join.Column); err != nil {
			return err
		}
	}
	return nil
}

func copyColumn(srcDesc *schema.EntityDescriptor, src reflect.Value, srcCol string, dstDesc *schema.EntityDescriptor, dst reflect.Value, dstCol string) error {
	sc, ok := srcDesc.ColumnByName(srcCol)
	if !ok {
		return fmt.Errorf("uow: %s has no column %q", srcDesc.Name, srcCol)
	}
	dc, ok := dstDesc.ColumnByName(dstCol)
	if !ok {
		return fmt.Errorf("uow: %s has no column %q", dstDesc.Name, dstCol)
	}
	v, err := hydrate.ColumnValue(src, sc)
	if err != nil {
		return err
	}
	if err := hydrate.SetColumn(dst, dc, v); err != nil {
		return &persist.DeserializationError{Entity: dstDesc.Name, Column: dstCol, Err: err}
	}
	return nil
}

func (f *flusher) insert(ctx context.Context, t *TrackedEntity) error {
	desc, u := t.Desc, f.u
	cur, err := hydrate.Dehydrate(desc, t.Entity)
	if err != nil {
		return err
	}
	gen := desc.GeneratedKey()
	omitKey := gen != nil && !hydrate.HasKey(desc, t.Entity)
	var (
		cols []string
		args []query.Expr
	)
	for i, c := range desc.Columns {
		if omitKey && c == gen {
			continue
		}
		cols = append(cols, c.Name)
		args = append(args, query.Arg(cur[i]))
	}
	ins := query.InsertInto(desc.Table)
	if len(cols) > 0 {
		ins = ins.Columns(cols...).Values(args...)
	}
	ent := t.value()
	switch {
	case omitKey && u.dialect.Capabilities.Returning:
		rows, err := f.fetch(ctx, ins.Returning(gen.Name))
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			return fmt.Errorf("insert returned %d rows", len(rows))
		}
		if err := hydrate.SetColumn(ent, gen, rows[0][gen.Name]); err != nil {
			return &persist.DeserializationError{Entity: desc.Name, Column: gen.Name, Err: err}
		}
	default:
		res, err := f.exec(ctx, ins)
		if err != nil {
			return err
		}
		if omitKey {
			if !res.HasLastInsertID {
				return &persist.UnsupportedFeatureError{Dialect: u.dialect.Name, Feature: "generated key retrieval"}
			}
			if err := hydrate.SetColumn(ent, gen, dialect.Integer(res.LastInsertID)); err != nil {
				return &persist.DeserializationError{Entity: desc.Name, Column: gen.Name, Err: err}
			}
		}
	}
	if t.Snapshot, err = hydrate.Dehydrate(desc, t.Entity); err != nil {
		return err
	}
	key, err := KeyOf(desc, t.Entity)
	if err != nil {
		return err
	}
	if other, ok := u.byKey[key.Tag][key.Key]; ok && other != t {
		return fmt.Errorf("another instance is tracked with key %s", key.Key)
	}
	t.key, t.hasKey = key, true
	u.index(t)
	t.State = Managed
	t.marked = nil
	for _, rel := range desc.Relations {
		if rel.Kind == schema.ManyToMany && rel.Owning {
			if t.links == nil {
				t.links = make(map[string]map[string]dialect.Value)
			}
			t.links[rel.Name] = map[string]dialect.Value{}
		}
	}
	u.written[key] = struct{}{}
	f.inserts++
	return nil
}

func (f *flusher) update(ctx context.Context, t *TrackedEntity) error {
	idx, cur, err := dirtyColumns(t)
	if err != nil {
		return err
	}
	if len(idx) == 0 {
		return nil
	}
	upd := query.UpdateTable(t.Desc.Table)
	for _, i := range idx {
		upd = upd.Set(t.Desc.Columns[i].Name, query.Arg(cur[i]))
	}
	where, err := keyPredicate(t)
	if err != nil {
		return err
	}
	if _, err := f.exec(ctx, upd.Where(where)); err != nil {
		return err
	}
	t.Snapshot = cur
	t.marked = nil
	f.u.written[t.key] = struct{}{}
	f.updates++
	return nil
}

// syncLinks writes the join rows added to and deletes the join rows removed
// from the owned many-to-many relations of t since their last snapshot.
func (f *flusher) syncLinks(ctx context.Context, t *TrackedEntity) error {
	for _, rel := range t.Desc.Relations {
		if rel.Kind != schema.ManyToMany || !rel.Owning || rel.Target == nil {
			continue
		}
		base, ok := t.links[rel.Name]
		if !ok {
			continue
		}
		targets, loaded := hydrate.Related(t.value(), rel)
		if !loaded {
			continue
		}
		owner, err := ownerKey(t, rel)
		if err != nil {
			return err
		}
		cur := make(map[string]dialect.Value, len(targets))
		for _, tv := range targets {
			if !hydrate.HasKey(rel.Target, tv.Interface()) {
				return fmt.Errorf("%s.%s: target %s is not persisted", t.Desc.Name, rel.Name, rel.Target.Name)
			}
			pk, err := hydrate.PrimaryKey(rel.Target, tv.Interface())
			if err != nil {
				return err
			}
			k := hydrate.KeyOf(pk)
			if _, dup := cur[k]; dup {
				continue
			}
			cur[k] = pk[0]
			if _, ok := base[k]; ok {
				continue
			}
			ins := query.InsertInto(rel.Join.Table).
				Columns(rel.Join.Column, rel.Join.InverseColumn).
				Values(query.Arg(owner), query.Arg(pk[0]))
			if _, err := f.exec(ctx, ins); err != nil {
				return err
			}
			f.links++
		}
		for _, k := range sortedKeys(base) {
			if _, ok := cur[k]; ok {
				continue
			}
			del := query.DeleteFrom(rel.Join.Table).Where(query.AndOf(
				query.EQ(query.C(rel.Join.Column), query.Arg(owner)),
				query.EQ(query.C(rel.Join.InverseColumn), query.Arg(base[k])),
			))
			if _, err := f.exec(ctx, del); err != nil {
				return err
			}
			f.links++
		}
		t.links[rel.Name] = cur
	}
	return nil
}

func sortedKeys(m map[string]dialect.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ownerKey returns the value of t referenced by the join table of rel.
func ownerKey(t *TrackedEntity, rel *schema.RelationDescriptor) (dialect.Value, error) {
	c, ok := t.Desc.ColumnByName(rel.Join.RefColumn)
	if !ok {
		return dialect.Null, fmt.Errorf("%s has no column %q", t.Desc.Name, rel.Join.RefColumn)
	}
	return hydrate.ColumnValue(t.value(), c)
}

// removeOrder sorts removed entities so that every entity comes before the
// entities it references.
func (f *flusher) removeOrder() []*TrackedEntity {
	removed := f.u.snapshot(Removed)
	dependents := make(map[*TrackedEntity][]*TrackedEntity)
	for _, t := range removed {
		for _, rel := range t.Desc.Relations {
			if rel.Target == nil || rel.Kind == schema.ManyToMany {
				continue
			}
			targets, _ := hydrate.Related(t.value(), rel)
			for _, tv := range targets {
				o, ok := f.u.byPtr[tv.Interface()]
				if !ok || o.State != Removed || o == t {
					continue
				}
				if rel.OwnsForeignKey() {
					dependents[o] = append(dependents[o], t)
				} else {
					dependents[t] = append(dependents[t], o)
				}
			}
		}
	}
	var (
		order []*TrackedEntity
		seen  = make(map[*TrackedEntity]bool)
		visit func(t *TrackedEntity)
	)
	visit = func(t *TrackedEntity) {
		if seen[t] {
			return
		}
		seen[t] = true
		for _, d := range dependents[t] {
			visit(d)
		}
		order = append(order, t)
	}
	for _, t := range removed {
		visit(t)
	}
	return order
}

func (f *flusher) remove(ctx context.Context, t *TrackedEntity) error {
	where, err := keyPredicate(t)
	if err != nil {
		return err
	}
	for _, rel := range t.Desc.Relations {
		if rel.Kind != schema.ManyToMany || rel.Join.Table == "" {
			continue
		}
		owner, err := ownerKey(t, rel)
		if err != nil {
			return err
		}
		del := query.DeleteFrom(rel.Join.Table).Where(query.EQ(query.C(rel.Join.Column), query.Arg(owner)))
		if _, err := f.exec(ctx, del); err != nil {
			return err
		}
	}
	if _, err := f.exec(ctx, query.DeleteFrom(t.Desc.Table).Where(where)); err != nil {
		return err
	}
	f.u.written[t.key] = struct{}{}
	f.u.untrack(t)
	f.deletes++
	return nil
}

func keyPredicate(t *TrackedEntity) (query.Predicate, error) {
	pks := t.Desc.PKColumns()
	preds := make([]query.Predicate, len(pks))
	for i, c := range pks {
		v, err := hydrate.ColumnValue(t.value(), c)
		if err != nil {
			return nil, err
		}
		preds[i] = query.EQ(query.C(c.Name), query.Arg(v))
	}
	return query.AndOf(preds...), nil
}

func (f *flusher) exec(ctx context.Context, n query.Node) (dialect.Result, error) {
	stmt, args, err := query.Render(n, f.u.dialect)
	if err != nil {
		return dialect.Result{}, err
	}
	return f.u.exec.Execute(ctx, stmt, args)
}

func (f *flusher) fetch(ctx context.Context, n query.Node) ([]dialect.Row, error) {
	stmt, args, err := query.Render(n, f.u.dialect)
	if err != nil {
		return nil, err
	}
	return f.u.exec.FetchAll(ctx, stmt, args)
}
