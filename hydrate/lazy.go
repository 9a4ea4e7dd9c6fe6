package hydrate

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/syssam/persist"
	"github.com/syssam/persist/schema"
)

// Lazy is a relation resolved on first Load. T is *Target for to-one
// relations and []*Target for to-many relations.
type Lazy[T any] struct {
	mu     sync.Mutex
	loaded bool
	value  T
	b      binding
}

type binding struct {
	owner    Scope
	scopeOf  func(context.Context) Scope
	fetch    func(context.Context) (any, error)
	entity   string
	relation string
}

// lazyCell is the untyped view of a Lazy used by the hydrator and the unit
// of work.
type lazyCell interface {
	bind(b binding)
	peek() (any, bool)
	set(v any)
	load(ctx context.Context) error
}

// LazyType implements schema.LazyValue.
func (l *Lazy[T]) LazyType() reflect.Type { return reflect.TypeFor[T]() }

// Loaded reports whether the relation holds a value.
func (l *Lazy[T]) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Get returns the loaded value without issuing a query.
func (l *Lazy[T]) Get() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.loaded
}

// Set assigns the relation, for instance on a new entity.
func (l *Lazy[T]) Set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value, l.loaded = v, true
}

// Load returns the relation, querying it on first use. The cell is not
// locked while the query runs; when two loads race the first result wins.
func (l *Lazy[T]) Load(ctx context.Context) (T, error) {
	l.mu.Lock()
	loaded, value, b := l.loaded, l.value, l.b
	l.mu.Unlock()
	var zero T
	if loaded {
		return value, nil
	}
	if b.fetch == nil {
		return zero, &persist.DetachedEntityError{Entity: b.entity, Relation: b.relation}
	}
	if owner := b.owner; owner != nil {
		if owner.Closed() || b.scopeOf(ctx) != owner {
			return zero, &persist.DetachedEntityError{Entity: b.entity, Relation: b.relation}
		}
	}
	v, err := b.fetch(ctx)
	if err != nil {
		return zero, err
	}
	var typed T
	if v != nil {
		var ok bool
		if typed, ok = v.(T); !ok {
			return zero, fmt.Errorf("hydrate: %s.%s: loader returned %T, want %s", b.entity, b.relation, v, reflect.TypeFor[T]())
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.loaded {
		l.value, l.loaded = typed, true
	}
	return l.value, nil
}

func (l *Lazy[T]) load(ctx context.Context) error {
	_, err := l.Load(ctx)
	return err
}

func (l *Lazy[T]) bind(b binding) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.b = b
}

func (l *Lazy[T]) peek() (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.loaded
}

func (l *Lazy[T]) set(v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	typed, _ := v.(T)
	l.value, l.loaded = typed, true
}

// Related returns the entities rel currently holds on ent, a pointer to an
// entity struct. loaded is false for a lazy relation that was never resolved.
func Related(ent reflect.Value, rel *schema.RelationDescriptor) (targets []reflect.Value, loaded bool) {
	f := ent.Elem().FieldByIndex(rel.Index)
	if rel.Shape == schema.ShapeLazy {
		cell, ok := f.Addr().Interface().(lazyCell)
		if !ok {
			return nil, false
		}
		v, ok := cell.peek()
		if !ok {
			return nil, false
		}
		f = reflect.ValueOf(v)
		if !f.IsValid() {
			return nil, true
		}
	}
	switch f.Kind() {
	case reflect.Pointer:
		if f.IsNil() {
			return nil, true
		}
		return []reflect.Value{f}, true
	case reflect.Slice:
		out := make([]reflect.Value, 0, f.Len())
		for i := 0; i < f.Len(); i++ {
			if e := f.Index(i); !e.IsNil() {
				out = append(out, e)
			}
		}
		return out, true
	}
	return nil, true
}

// LoadRelated is Related with an unresolved lazy relation loaded first.
func LoadRelated(ctx context.Context, ent reflect.Value, rel *schema.RelationDescriptor) ([]reflect.Value, error) {
	if rel.Shape == schema.ShapeLazy {
		if cell, ok := ent.Elem().FieldByIndex(rel.Index).Addr().Interface().(lazyCell); ok {
			if err := cell.load(ctx); err != nil {
				return nil, err
			}
		}
	}
	targets, _ := Related(ent, rel)
	return targets, nil
}

// SetRelated stores targets into rel on ent. A to-one relation takes at
// most one target; an empty targets slice clears it.
func SetRelated(ent reflect.Value, rel *schema.RelationDescriptor, targets []reflect.Value) error {
	f := ent.Elem().FieldByIndex(rel.Index)
	typ := f.Type()
	var cell lazyCell
	if rel.Shape == schema.ShapeLazy {
		c, ok := f.Addr().Interface().(lazyCell)
		if !ok {
			return fmt.Errorf("hydrate: %s is not a lazy relation", rel.Name)
		}
		cell = c
		typ = f.Addr().Interface().(schema.LazyValue).LazyType()
	}
	var v reflect.Value
	if rel.Kind.ToOne() {
		if len(targets) > 1 {
			return fmt.Errorf("hydrate: %s: %d targets for a to-one relation", rel.Name, len(targets))
		}
		v = reflect.Zero(typ)
		if len(targets) == 1 {
			v = targets[0]
		}
	} else {
		v = reflect.MakeSlice(typ, 0, len(targets))
		v = reflect.Append(v, targets...)
	}
	if cell != nil {
		cell.set(v.Interface())
		return nil
	}
	f.Set(v)
	return nil
}
