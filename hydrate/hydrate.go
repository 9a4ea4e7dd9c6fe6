package hydrate

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/schema"
)

// IdentityMap is the part of a unit of work the hydrator consults for
// entities it finds in joined segments.
type IdentityMap interface {
	// Resolve returns the tracked instance of desc with the given canonical
	// key, calling load and tracking its result when none exists.
	Resolve(desc *schema.EntityDescriptor, key string, load func() (any, error)) (any, error)
}

// Scope is a unit of work as seen by hydrated instances.
type Scope interface {
	IdentityMap
	Closed() bool
}

// Loader resolves relations through the query pipeline.
type Loader interface {
	// Scope returns the unit of work bound to ctx, or nil.
	Scope(ctx context.Context) Scope
	// LoadRelation fetches the targets of rel for owner, a *T of desc. It
	// returns a *Target for to-one relations and a []*Target otherwise.
	LoadRelation(ctx context.Context, desc *schema.EntityDescriptor, rel *schema.RelationDescriptor, owner reflect.Value) (any, error)
}

// Hydrator builds entities from rows.
type Hydrator struct {
	loader Loader
}

// Option configures a Hydrator.
type Option func(*Hydrator)

// WithLoader sets the loader used for identity-map lookups and lazy relations.
func WithLoader(l Loader) Option {
	return func(h *Hydrator) { h.loader = l }
}

// New returns a Hydrator.
func New(opts ...Option) *Hydrator {
	h := &Hydrator{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var standalone = New()

// Hydrate builds a *T from row without identity map or lazy loading.
func Hydrate(ctx context.Context, desc *schema.EntityDescriptor, row dialect.Row) (any, error) {
	return standalone.Hydrate(ctx, desc, row)
}

// Hydrate builds a new *T of desc from row. Related entities found in
// joined segments are resolved through the unit of work bound to ctx.
func (h *Hydrator) Hydrate(ctx context.Context, desc *schema.EntityDescriptor, row dialect.Row) (any, error) {
	if desc == nil {
		return nil, errors.New("hydrate: nil descriptor")
	}
	v, err := h.hydrate(ctx, h.scope(ctx), desc, row, "")
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

func (h *Hydrator) scope(ctx context.Context) Scope {
	if h.loader == nil {
		return nil
	}
	return h.loader.Scope(ctx)
}

func (h *Hydrator) hydrate(ctx context.Context, scope Scope, desc *schema.EntityDescriptor, row dialect.Row, prefix string) (reflect.Value, error) {
	ent := desc.New()
	elem := ent.Elem()
	for _, c := range desc.Columns {
		if err := assign(elem.FieldByIndex(c.Index), c, row[prefix+c.Name]); err != nil {
			return reflect.Value{}, &persist.DeserializationError{Entity: desc.Name, Column: c.Name, Err: err}
		}
	}
	for _, rel := range desc.Relations {
		if rel.Shape == schema.ShapeLazy {
			h.bindLazy(scope, desc, rel, ent)
		}
		if rel.Fetch != schema.FetchEager || !rel.Kind.ToOne() || rel.Target == nil {
			continue
		}
		target, err := h.segment(ctx, scope, rel.Target, row, SegmentPrefix(prefix, rel))
		if err != nil {
			return reflect.Value{}, err
		}
		if target.IsValid() {
			if err := SetRelated(ent, rel, []reflect.Value{target}); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	return ent, nil
}

// segment hydrates the joined columns of a related entity. It returns an
// invalid Value when the segment is absent or all NULL.
func (h *Hydrator) segment(ctx context.Context, scope Scope, desc *schema.EntityDescriptor, row dialect.Row, prefix string) (reflect.Value, error) {
	present := false
	for _, c := range desc.Columns {
		if v, ok := row[prefix+c.Name]; ok && !v.IsNull() {
			present = true
			break
		}
	}
	if !present {
		return reflect.Value{}, nil
	}
	key, ok, err := RowKey(desc, row, prefix)
	if err != nil {
		return reflect.Value{}, err
	}
	if !ok || scope == nil {
		return h.hydrate(ctx, scope, desc, row, prefix)
	}
	inst, err := scope.Resolve(desc, key, func() (any, error) {
		v, err := h.hydrate(ctx, scope, desc, row, prefix)
		if err != nil {
			return nil, err
		}
		return v.Interface(), nil
	})
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(inst), nil
}

func (h *Hydrator) bindLazy(scope Scope, desc *schema.EntityDescriptor, rel *schema.RelationDescriptor, ent reflect.Value) {
	if h.loader == nil {
		return
	}
	cell, ok := ent.Elem().FieldByIndex(rel.Index).Addr().Interface().(lazyCell)
	if !ok {
		return
	}
	loader := h.loader
	cell.bind(binding{
		owner:    scope,
		scopeOf:  loader.Scope,
		entity:   desc.Name,
		relation: rel.Name,
		fetch: func(ctx context.Context) (any, error) {
			return loader.LoadRelation(ctx, desc, rel, ent)
		},
	})
}

// SegmentPrefix returns the column alias prefix of rel's joined segment.
func SegmentPrefix(prefix string, rel *schema.RelationDescriptor) string {
	return prefix + rel.Name + "__"
}

// RowKey returns the canonical identity key encoded in row's primary key
// columns. ok is false when any key column is NULL.
func RowKey(desc *schema.EntityDescriptor, row dialect.Row, prefix string) (string, bool, error) {
	pks := desc.PKColumns()
	vals := make([]dialect.Value, len(pks))
	for i, c := range pks {
		v := row[prefix+c.Name]
		if v.IsNull() {
			return "", false, nil
		}
		cv, err := dialect.Coerce(v, c.Kind)
		if err != nil {
			return "", false, &persist.DeserializationError{Entity: desc.Name, Column: c.Name, Err: err}
		}
		vals[i] = cv
	}
	return KeyOf(vals), true, nil
}

// KeyOf encodes primary key values canonically. Each part of a composite
// key is prefixed with its length.
func KeyOf(vals []dialect.Value) string {
	if len(vals) == 1 {
		return vals[0].Key()
	}
	var b []byte
	for _, v := range vals {
		k := v.Key()
		b = strconv.AppendInt(b, int64(len(k)), 10)
		b = append(b, ':')
		b = append(b, k...)
	}
	return string(b)
}

var errNull = errors.New("NULL in non-nullable column")

// assign stores v into field, coercing it to the column kind.
func assign(field reflect.Value, c *schema.ColumnDescriptor, v dialect.Value) error {
	if v.IsNull() {
		if !c.Nullable {
			return errNull
		}
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if c.JSON {
		return assignJSON(field, v)
	}
	cv, err := dialect.Coerce(v, c.Kind)
	if err != nil {
		return err
	}
	if field.Kind() == reflect.Pointer {
		p := reflect.New(field.Type().Elem())
		if err := setScalar(p.Elem(), cv); err != nil {
			return err
		}
		field.Set(p)
		return nil
	}
	return setScalar(field, cv)
}

func setScalar(dst reflect.Value, v dialect.Value) error {
	switch v.Kind() {
	case dialect.KindText:
		if dst.Kind() == reflect.String {
			s, _ := v.AsText()
			dst.SetString(s)
			return nil
		}
	case dialect.KindInteger:
		i, _ := v.AsInteger()
		switch dst.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if dst.OverflowInt(i) {
				return fmt.Errorf("%d overflows %s", i, dst.Type())
			}
			dst.SetInt(i)
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if i < 0 || dst.OverflowUint(uint64(i)) {
				return fmt.Errorf("%d overflows %s", i, dst.Type())
			}
			dst.SetUint(uint64(i))
			return nil
		}
	case dialect.KindFloat:
		if k := dst.Kind(); k == reflect.Float32 || k == reflect.Float64 {
			f, _ := v.AsFloat()
			dst.SetFloat(f)
			return nil
		}
	case dialect.KindBoolean:
		if dst.Kind() == reflect.Bool {
			b, _ := v.AsBoolean()
			dst.SetBool(b)
			return nil
		}
	case dialect.KindBytes, dialect.KindJSON:
		if dst.Kind() == reflect.Slice && dst.Type().Elem().Kind() == reflect.Uint8 {
			b, _ := v.AsBytes()
			dst.SetBytes(append([]byte(nil), b...))
			return nil
		}
	case dialect.KindDateTime:
		t, _ := v.AsDateTime()
		return setConvertible(dst, reflect.ValueOf(t))
	case dialect.KindDecimal:
		d, _ := v.AsDecimal()
		return setConvertible(dst, reflect.ValueOf(d))
	case dialect.KindIdentifier:
		u, _ := v.AsIdentifier()
		return setConvertible(dst, reflect.ValueOf(u))
	}
	return fmt.Errorf("cannot assign %s value to %s", v.Kind(), dst.Type())
}

func setConvertible(dst, src reflect.Value) error {
	if !src.Type().ConvertibleTo(dst.Type()) {
		return fmt.Errorf("cannot assign %s to %s", src.Type(), dst.Type())
	}
	dst.Set(src.Convert(dst.Type()))
	return nil
}
