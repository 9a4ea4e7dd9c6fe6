package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/syssam/persist"
)

// Submitter accepts entity descriptors during the registration phase.
type Submitter interface {
	Submit(d *EntityDescriptor) error
}

// Producer submits the descriptors of one or more entity types. Generated
// code exposes producers; Initialize walks them explicitly at startup.
type Producer func(Submitter) error

// Registry holds entity descriptors keyed by Go type. It has two phases:
// registration, during which Register is allowed and lookups fail, and the
// sealed phase, during which it is read-only and safe for concurrent lookup.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	byType map[reflect.Type]*EntityDescriptor
	byName map[string]*EntityDescriptor
	byTag  []*EntityDescriptor
}

// NewRegistry returns an empty registry in the registration phase.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*EntityDescriptor),
		byName: make(map[string]*EntityDescriptor),
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Register adds d and assigns its TypeTag.
func (r *Registry) Register(d *EntityDescriptor) error {
	if d == nil || d.Type == nil {
		return errors.New("schema: register: nil descriptor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("schema: register %s: %w", d.Name, persist.ErrRegistrySealed)
	}
	if _, ok := r.byType[d.Type]; ok {
		return &persist.DuplicateRegistrationError{Entity: d.Name}
	}
	if _, ok := r.byName[d.Name]; ok {
		return &persist.DuplicateRegistrationError{Entity: d.Name}
	}
	r.byTag = append(r.byTag, d)
	d.Tag = TypeTag(len(r.byTag))
	r.byType[d.Type] = d
	r.byName[d.Name] = d
	return nil
}

// Submit implements Submitter.
func (r *Registry) Submit(d *EntityDescriptor) error { return r.Register(d) }

// Seal resolves every relation target and ends the registration phase.
// On failure the registry stays in the registration phase and the error
// lists every relation that could not be resolved.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil
	}
	var errs []error
	for _, d := range r.byTag {
		for _, rel := range d.Relations {
			errs = append(errs, r.resolve(d, rel))
		}
	}
	if err := persist.NewAggregateError(errs...); err != nil {
		return err
	}
	r.sealed = true
	return nil
}

func (r *Registry) resolve(d *EntityDescriptor, rel *RelationDescriptor) error {
	target, ok := r.byType[rel.TargetType]
	if !ok {
		return fmt.Errorf("schema: %s.%s: %w", d.Name, rel.Name, &persist.UnknownEntityError{Entity: rel.TargetType.String()})
	}
	if len(target.PrimaryKey) != 1 || len(d.PrimaryKey) != 1 {
		return fmt.Errorf("schema: %s.%s: relations require single-column primary keys", d.Name, rel.Name)
	}
	rel.Target = target
	switch {
	case rel.OwnsForeignKey():
		if _, ok := d.ColumnByName(rel.Join.Column); !ok {
			return fmt.Errorf("schema: %s.%s: join column %q is not a column of %s", d.Name, rel.Name, rel.Join.Column, d.Table)
		}
		if rel.Join.RefColumn == "" {
			rel.Join.RefColumn = target.PKColumns()[0].Name
		}
	case rel.Kind == ManyToMany:
		if rel.Join.RefColumn == "" {
			rel.Join.RefColumn = d.PKColumns()[0].Name
		}
	default:
		// OneToMany and inverse OneToOne: the foreign key lives in the target.
		if rel.Join.Column == "" {
			rel.Join.Column = inverseColumn(d, target)
		}
		if _, ok := target.ColumnByName(rel.Join.Column); !ok {
			return fmt.Errorf("schema: %s.%s: join column %q is not a column of %s", d.Name, rel.Name, rel.Join.Column, target.Table)
		}
		if rel.Join.RefColumn == "" {
			rel.Join.RefColumn = d.PKColumns()[0].Name
		}
	}
	return nil
}

// inverseColumn finds the foreign key of the target's owning relation back
// to d, if exactly one exists.
func inverseColumn(d, target *EntityDescriptor) string {
	var found string
	for _, tr := range target.Relations {
		if tr.TargetType == d.Type && tr.OwnsForeignKey() {
			if found != "" {
				return ""
			}
			found = tr.Join.Column
		}
	}
	return found
}

// Sealed reports whether initialization completed.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the descriptor of t, which may be a struct type or a
// pointer to one.
func (r *Registry) Lookup(t reflect.Type) (*EntityDescriptor, error) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.sealed {
		return nil, persist.ErrRegistryNotSealed
	}
	d, ok := r.byType[t]
	if !ok {
		name := "<nil>"
		if t != nil {
			name = t.String()
		}
		return nil, &persist.UnknownEntityError{Entity: name}
	}
	return d, nil
}

// LookupValue returns the descriptor for the dynamic type of v.
func (r *Registry) LookupValue(v any) (*EntityDescriptor, error) {
	return r.Lookup(reflect.TypeOf(v))
}

// LookupName returns the descriptor registered under an entity name.
func (r *Registry) LookupName(name string) (*EntityDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.sealed {
		return nil, persist.ErrRegistryNotSealed
	}
	d, ok := r.byName[name]
	if !ok {
		return nil, &persist.UnknownEntityError{Entity: name}
	}
	return d, nil
}

// LookupTag returns the descriptor with the given tag.
func (r *Registry) LookupTag(tag TypeTag) (*EntityDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.sealed {
		return nil, persist.ErrRegistryNotSealed
	}
	if tag == 0 || int(tag) > len(r.byTag) {
		return nil, &persist.UnknownEntityError{Entity: fmt.Sprintf("tag %d", tag)}
	}
	return r.byTag[tag-1], nil
}

// Entities returns all descriptors in tag order.
func (r *Registry) Entities() []*EntityDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*EntityDescriptor, len(r.byTag))
	copy(out, r.byTag)
	return out
}

// LookupOf returns the descriptor of T.
func LookupOf[T any](r *Registry) (*EntityDescriptor, error) {
	return r.Lookup(reflect.TypeFor[T]())
}

// Entity returns a producer that describes T and submits it.
func Entity[T any](opts ...DescribeOption) Producer {
	return func(s Submitter) error {
		d, err := Describe(reflect.TypeFor[T](), opts...)
		if err != nil {
			return err
		}
		return s.Submit(d)
	}
}

// Initialize runs the producers against r and seals it. It fails fast on
// the first producer error.
func Initialize(r *Registry, producers ...Producer) error {
	for _, p := range producers {
		if err := p(r); err != nil {
			return err
		}
	}
	return r.Seal()
}
