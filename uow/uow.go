package uow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/hydrate"
	"github.com/syssam/persist/schema"
)

// State is the lifecycle state of a tracked entity.
type State uint8

// Entity states.
const (
	Detached State = iota
	Added
	Managed
	Removed
)

func (s State) String() string {
	switch s {
	case Added:
		return "added"
	case Managed:
		return "managed"
	case Removed:
		return "removed"
	}
	return "detached"
}

// ErrClosed is returned by operations on a closed unit of work.
var ErrClosed = errors.New("uow: unit of work is closed")

// IdentityKey identifies an entity within a unit of work.
type IdentityKey struct {
	Tag schema.TypeTag
	Key string
}

func (k IdentityKey) String() string { return fmt.Sprintf("%d/%s", k.Tag, k.Key) }

// TrackedEntity is the bookkeeping of one entity instance.
type TrackedEntity struct {
	Desc   *schema.EntityDescriptor
	Entity any // *T
	// Snapshot holds the persisted column values in column order. It is nil
	// for new entities and for entities attached without a known state.
	Snapshot []dialect.Value
	State    State

	marked map[string]struct{}
	// links holds the persisted target keys of owned many-to-many relations.
	links  map[string]map[string]dialect.Value
	key    IdentityKey
	hasKey bool
}

// Key returns the identity key, if the entity has one yet.
func (t *TrackedEntity) Key() (IdentityKey, bool) { return t.key, t.hasKey }

func (t *TrackedEntity) value() reflect.Value { return reflect.ValueOf(t.Entity) }

// Loader produces an entity for GetOrRegister.
type Loader func(ctx context.Context) (any, error)

// UnitOfWork tracks the entities of one transactional scope. It is owned by
// the call chain bound to that scope and is not meant for concurrent use by
// unrelated chains; the mutex only guards against joiners on the same chain
// that dispatch work with the transaction context still bound.
type UnitOfWork struct {
	mu      sync.Mutex
	exec    dialect.ExecQuerier
	dialect *dialect.Dialect
	reg     *schema.Registry
	logger  *slog.Logger

	byKey   map[schema.TypeTag]map[string]*TrackedEntity
	byPtr   map[any]*TrackedEntity
	order   []*TrackedEntity
	written map[IdentityKey]struct{}
	closed  bool
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithLogger sets the logger used for flush diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(u *UnitOfWork) { u.logger = l }
}

// New returns an empty unit of work that issues its statements on exec.
func New(exec dialect.ExecQuerier, d *dialect.Dialect, reg *schema.Registry, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		exec:    exec,
		dialect: d,
		reg:     reg,
		logger:  slog.New(slog.DiscardHandler),
		byKey:   make(map[schema.TypeTag]map[string]*TrackedEntity),
		byPtr:   make(map[any]*TrackedEntity),
		written: make(map[IdentityKey]struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// KeyOf returns the identity key of entity.
func KeyOf(desc *schema.EntityDescriptor, entity any) (IdentityKey, error) {
	pk, err := hydrate.PrimaryKey(desc, entity)
	if err != nil {
		return IdentityKey{}, err
	}
	return IdentityKey{Tag: desc.Tag, Key: hydrate.KeyOf(pk)}, nil
}

// GetOrRegister returns the instance tracked under key. Otherwise it calls
// load, tracks the result as managed with a snapshot of its current values
// and returns it. Two calls with the same key return the same instance.
func (u *UnitOfWork) GetOrRegister(ctx context.Context, key IdentityKey, load Loader) (any, error) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil, ErrClosed
	}
	if t, ok := u.byKey[key.Tag][key.Key]; ok && t.State != Removed {
		u.mu.Unlock()
		return t.Entity, nil
	}
	u.mu.Unlock()

	// load may hydrate related entities through Resolve, so it runs unlocked.
	ent, err := load(ctx)
	if err != nil {
		return nil, err
	}
	desc, err := u.reg.LookupValue(ent)
	if err != nil {
		return nil, err
	}
	if desc.Tag != key.Tag {
		return nil, fmt.Errorf("uow: loader returned %s for a key of tag %d", desc.Name, key.Tag)
	}
	snap, err := hydrate.Dehydrate(desc, ent)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if t, ok := u.byKey[key.Tag][key.Key]; ok {
		if t.State == Removed {
			return nil, persist.NewNotFoundErrorWithID(desc.Name, key.Key)
		}
		return t.Entity, nil
	}
	t := &TrackedEntity{Desc: desc, Entity: ent, Snapshot: snap, State: Managed, key: key, hasKey: true}
	u.track(t)
	u.captureLinks(t)
	return ent, nil
}

// Resolve implements hydrate.IdentityMap.
func (u *UnitOfWork) Resolve(desc *schema.EntityDescriptor, key string, load func() (any, error)) (any, error) {
	return u.GetOrRegister(context.Background(), IdentityKey{Tag: desc.Tag, Key: key}, func(context.Context) (any, error) {
		return load()
	})
}

// Lookup returns the instance tracked under key.
func (u *UnitOfWork) Lookup(key IdentityKey) (any, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.byKey[key.Tag][key.Key]
	if !ok || t.State == Removed {
		return nil, false
	}
	return t.Entity, true
}

// Add schedules entity for insertion. Adding a removed entity cancels its
// removal; adding a tracked entity is a no-op.
func (u *UnitOfWork) Add(entity any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	_, err := u.addLocked(entity, Added)
	return err
}

func (u *UnitOfWork) addLocked(entity any, state State) (*TrackedEntity, error) {
	if t, ok := u.byPtr[entity]; ok {
		if t.State == Removed {
			t.State = Managed
			if t.Snapshot == nil {
				t.State = Added
			}
		}
		return t, nil
	}
	desc, err := u.reg.LookupValue(entity)
	if err != nil {
		return nil, err
	}
	if reflect.ValueOf(entity).IsNil() {
		return nil, fmt.Errorf("uow: nil %s", desc.Name)
	}
	t := &TrackedEntity{Desc: desc, Entity: entity, State: state}
	if state == Managed || hydrate.HasKey(desc, entity) {
		key, err := KeyOf(desc, entity)
		if err != nil {
			return nil, err
		}
		if other, ok := u.byKey[key.Tag][key.Key]; ok && other.Entity != entity {
			return nil, fmt.Errorf("uow: another %s instance is tracked with key %s", desc.Name, key.Key)
		}
		t.key, t.hasKey = key, true
	}
	u.track(t)
	return t, nil
}

// Attach tracks an entity loaded elsewhere as managed, taking its current
// values as the persisted state.
func (u *UnitOfWork) Attach(entity any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	if _, ok := u.byPtr[entity]; ok {
		return nil
	}
	t, err := u.addLocked(entity, Managed)
	if err != nil {
		return err
	}
	if t.Snapshot, err = hydrate.Dehydrate(t.Desc, entity); err != nil {
		u.untrack(t)
		return err
	}
	u.captureLinks(t)
	return nil
}

// Remove schedules entity for deletion. A new entity is simply forgotten.
// An untracked entity with a primary key is attached first.
func (u *UnitOfWork) Remove(entity any) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}
	t, ok := u.byPtr[entity]
	if !ok {
		desc, err := u.reg.LookupValue(entity)
		if err != nil {
			return err
		}
		if !hydrate.HasKey(desc, entity) {
			return fmt.Errorf("uow: remove %s: entity has no primary key", desc.Name)
		}
		if t, err = u.addLocked(entity, Managed); err != nil {
			return err
		}
	}
	switch t.State {
	case Added:
		u.untrack(t)
	case Managed:
		t.State = Removed
	}
	return nil
}

// MarkField flags a field as dirty regardless of its snapshot value.
func (u *UnitOfWork) MarkField(entity any, field string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.byPtr[entity]
	if !ok {
		return fmt.Errorf("uow: mark %s: %T is not tracked", field, entity)
	}
	c, ok := t.Desc.Column(field)
	if !ok {
		return fmt.Errorf("uow: mark %s: %s has no such column field", field, t.Desc.Name)
	}
	if c.PrimaryKey {
		return fmt.Errorf("uow: mark %s: primary key fields cannot change", field)
	}
	if t.marked == nil {
		t.marked = make(map[string]struct{})
	}
	t.marked[field] = struct{}{}
	return nil
}

// DirtyFields returns the dirty field names of a managed entity in column
// order: marked fields plus fields whose value differs from the snapshot.
func (u *UnitOfWork) DirtyFields(entity any) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.byPtr[entity]
	if !ok {
		return nil, fmt.Errorf("uow: %T is not tracked", entity)
	}
	idx, _, err := dirtyColumns(t)
	if err != nil {
		return nil, err
	}
	fields := make([]string, len(idx))
	for i, j := range idx {
		fields[i] = t.Desc.Columns[j].Field
	}
	return fields, nil
}

// dirtyColumns diffs t against its snapshot and returns the indexes of the
// dirty columns along with the current column values. A managed entity
// without snapshot is dirty in every non-key column.
func dirtyColumns(t *TrackedEntity) ([]int, []dialect.Value, error) {
	cur, err := hydrate.Dehydrate(t.Desc, t.Entity)
	if err != nil {
		return nil, nil, err
	}
	var dirty []int
	for i, c := range t.Desc.Columns {
		if c.PrimaryKey {
			continue
		}
		_, marked := t.marked[c.Field]
		if marked || t.Snapshot == nil || !cur[i].Equal(t.Snapshot[i]) {
			dirty = append(dirty, i)
		}
	}
	return dirty, cur, nil
}

// State returns the state of entity; untracked entities are Detached.
func (u *UnitOfWork) State(entity any) State {
	u.mu.Lock()
	defer u.mu.Unlock()
	if t, ok := u.byPtr[entity]; ok {
		return t.State
	}
	return Detached
}

// Tracked returns a copy of the bookkeeping of entity.
func (u *UnitOfWork) Tracked(entity any) (TrackedEntity, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.byPtr[entity]
	if !ok {
		return TrackedEntity{}, false
	}
	return *t, true
}

// Len returns the number of tracked entities.
func (u *UnitOfWork) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.order)
}

// SnapshotRelation records the current targets of an owned many-to-many
// relation as persisted. Loaders call it after filling the relation.
func (u *UnitOfWork) SnapshotRelation(entity any, relation string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.byPtr[entity]
	if !ok {
		return nil
	}
	rel, ok := t.Desc.Relation(relation)
	if !ok {
		return fmt.Errorf("uow: %s has no relation %s", t.Desc.Name, relation)
	}
	if rel.Kind == schema.ManyToMany && rel.Owning {
		if keys, loaded := targetKeys(t, rel); loaded {
			if t.links == nil {
				t.links = make(map[string]map[string]dialect.Value)
			}
			t.links[rel.Name] = keys
		}
	}
	return nil
}

// SnapshotLinks records targets as the persisted targets of the owned
// many-to-many relation of entity. It serves loaders that fill a relation
// only after returning, such as hydrate.Lazy.
func (u *UnitOfWork) SnapshotLinks(entity any, relation string, targets []reflect.Value) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.byPtr[entity]
	if !ok {
		return nil
	}
	rel, ok := t.Desc.Relation(relation)
	if !ok {
		return fmt.Errorf("uow: %s has no relation %s", t.Desc.Name, relation)
	}
	if rel.Kind == schema.ManyToMany && rel.Owning && rel.Target != nil {
		if t.links == nil {
			t.links = make(map[string]map[string]dialect.Value)
		}
		t.links[rel.Name] = linkKeys(rel, targets)
	}
	return nil
}

func (u *UnitOfWork) captureLinks(t *TrackedEntity) {
	for _, rel := range t.Desc.Relations {
		if rel.Kind != schema.ManyToMany || !rel.Owning {
			continue
		}
		if keys, loaded := targetKeys(t, rel); loaded {
			if t.links == nil {
				t.links = make(map[string]map[string]dialect.Value)
			}
			t.links[rel.Name] = keys
		}
	}
}

// targetKeys returns the primary keys of the keyed targets of rel, indexed
// by canonical key.
func targetKeys(t *TrackedEntity, rel *schema.RelationDescriptor) (map[string]dialect.Value, bool) {
	targets, loaded := hydrate.Related(t.value(), rel)
	if !loaded || rel.Target == nil {
		return nil, loaded
	}
	return linkKeys(rel, targets), true
}

func linkKeys(rel *schema.RelationDescriptor, targets []reflect.Value) map[string]dialect.Value {
	keys := make(map[string]dialect.Value, len(targets))
	for _, tv := range targets {
		if !hydrate.HasKey(rel.Target, tv.Interface()) {
			continue
		}
		if pk, err := hydrate.PrimaryKey(rel.Target, tv.Interface()); err == nil {
			keys[hydrate.KeyOf(pk)] = pk[0]
		}
	}
	return keys
}

// Written returns the identity keys inserted, updated or deleted by flushes.
func (u *UnitOfWork) Written() []IdentityKey {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]IdentityKey, 0, len(u.written))
	for k := range u.written {
		out = append(out, k)
	}
	return out
}

// Close detaches every entity and ends the unit of work.
func (u *UnitOfWork) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, t := range u.order {
		t.State = Detached
	}
	u.order = nil
	u.byPtr = make(map[any]*TrackedEntity)
	u.byKey = make(map[schema.TypeTag]map[string]*TrackedEntity)
	u.closed = true
}

// Closed reports whether Close was called.
func (u *UnitOfWork) Closed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.closed
}

// Dialect returns the dialect statements are rendered for.
func (u *UnitOfWork) Dialect() *dialect.Dialect { return u.dialect }

// Exec returns the executor the unit of work writes through.
func (u *UnitOfWork) Exec() dialect.ExecQuerier { return u.exec }

func (u *UnitOfWork) track(t *TrackedEntity) {
	u.byPtr[t.Entity] = t
	u.order = append(u.order, t)
	if t.hasKey {
		u.index(t)
	}
}

func (u *UnitOfWork) index(t *TrackedEntity) {
	m, ok := u.byKey[t.key.Tag]
	if !ok {
		m = make(map[string]*TrackedEntity)
		u.byKey[t.key.Tag] = m
	}
	m[t.key.Key] = t
}

func (u *UnitOfWork) untrack(t *TrackedEntity) {
	delete(u.byPtr, t.Entity)
	if t.hasKey {
		if m := u.byKey[t.key.Tag]; m[t.key.Key] == t {
			delete(m, t.key.Key)
		}
	}
	for i, o := range u.order {
		if o == t {
			u.order = append(u.order[:i], u.order[i+1:]...)
			break
		}
	}
	t.State = Detached
}

var _ hydrate.Scope = (*UnitOfWork)(nil)
