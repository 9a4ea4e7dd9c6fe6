package schema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/syssam/persist/dialect"
)

// TypeTag is the registry-assigned tag of an entity type. Tags are dense,
// start at 1 and are stable for the lifetime of the registry.
type TypeTag uint32

// RelationKind is the cardinality of a relation.
type RelationKind uint8

// Relation kinds.
const (
	OneToOne RelationKind = iota + 1
	OneToMany
	ManyToOne
	ManyToMany
)

var relationKinds = map[RelationKind]string{
	OneToOne:   "one-to-one",
	OneToMany:  "one-to-many",
	ManyToOne:  "many-to-one",
	ManyToMany: "many-to-many",
}

// String returns the tag spelling of the kind.
func (k RelationKind) String() string {
	if s, ok := relationKinds[k]; ok {
		return s
	}
	return fmt.Sprintf("relation(%d)", k)
}

// ParseRelationKind parses "many-to-one", "m2o", "ManyToOne" and the like.
func ParseRelationKind(s string) (RelationKind, error) {
	norm := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s))
	switch norm {
	case "onetoone", "o2o":
		return OneToOne, nil
	case "onetomany", "o2m":
		return OneToMany, nil
	case "manytoone", "m2o":
		return ManyToOne, nil
	case "manytomany", "m2m":
		return ManyToMany, nil
	}
	return 0, fmt.Errorf("schema: unknown relation kind %q", s)
}

// ToOne reports whether the relation points at a single entity.
func (k RelationKind) ToOne() bool { return k == OneToOne || k == ManyToOne }

// Cascade is a set of operations propagated along a relation.
type Cascade uint8

// Cascade operations.
const (
	CascadeInsert Cascade = 1 << iota
	CascadeUpdate
	CascadeRemove
)

// Has reports whether c contains op.
func (c Cascade) Has(op Cascade) bool { return c&op != 0 }

// ParseCascade parses a comma or pipe separated list such as "insert,remove" or "all".
func ParseCascade(s string) (Cascade, error) {
	var c Cascade
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' || r == ' ' }) {
		switch strings.ToLower(part) {
		case "insert", "persist":
			c |= CascadeInsert
		case "update", "merge":
			c |= CascadeUpdate
		case "remove", "delete":
			c |= CascadeRemove
		case "all":
			c |= CascadeInsert | CascadeUpdate | CascadeRemove
		default:
			return 0, fmt.Errorf("schema: unknown cascade %q", part)
		}
	}
	return c, nil
}

// Fetch is the loading strategy of a relation.
type Fetch uint8

// Fetch strategies.
const (
	FetchLazy Fetch = iota
	FetchEager
)

// ParseFetch parses "eager" or "lazy".
func ParseFetch(s string) (Fetch, error) {
	switch strings.ToLower(s) {
	case "", "lazy":
		return FetchLazy, nil
	case "eager":
		return FetchEager, nil
	}
	return 0, fmt.Errorf("schema: unknown fetch strategy %q", s)
}

// Shape is the Go shape of a relation field.
type Shape uint8

// Relation field shapes.
const (
	ShapePointer Shape = iota // *T
	ShapeSlice                // []*T
	ShapeLazy                 // a LazyValue holding *T or []*T
)

// LazyValue is implemented by lazy relation placeholders. LazyType returns
// the type the placeholder resolves to (*T or []*T).
type LazyValue interface {
	LazyType() reflect.Type
}

// ColumnDescriptor describes one mapped scalar field.
type ColumnDescriptor struct {
	Field      string // Go field name
	Name       string // column name
	Kind       dialect.Kind
	Nullable   bool
	Unique     bool
	PrimaryKey bool
	Generated  bool // database-assigned key
	JSON       bool // field is encoded as a JSON document
	Index      []int
	Type       reflect.Type
}

// JoinSpec describes how a relation is joined.
//
//   - ManyToOne and owning OneToOne: Column is the foreign key column of the
//     declaring entity, RefColumn the referenced target column.
//   - OneToMany and inverse OneToOne: Column is the foreign key column of the
//     target, RefColumn the referenced column of the declaring entity.
//   - ManyToMany: Table is the join table, Column references the declaring
//     entity and InverseColumn the target.
type JoinSpec struct {
	Column        string
	RefColumn     string
	Table         string
	InverseColumn string
}

// RelationDescriptor describes one relation field.
type RelationDescriptor struct {
	Name       string // Go field name
	Kind       RelationKind
	Owning     bool
	Join       JoinSpec
	Cascade    Cascade
	Fetch      Fetch
	Shape      Shape
	Index      []int
	TargetType reflect.Type // struct type of the target entity
	// Target is resolved when the registry is sealed.
	Target *EntityDescriptor
}

// OwnsForeignKey reports whether the foreign key column lives in the
// declaring entity's table.
func (r *RelationDescriptor) OwnsForeignKey() bool {
	return r.Kind == ManyToOne || (r.Kind == OneToOne && r.Owning)
}

// EntityDescriptor describes an entity type. It is immutable once registered.
type EntityDescriptor struct {
	Name       string
	Table      string
	Type       reflect.Type // struct type
	Tag        TypeTag
	Columns    []*ColumnDescriptor
	PrimaryKey []string // field names, in column order
	Relations  []*RelationDescriptor

	byField  map[string]*ColumnDescriptor
	byColumn map[string]*ColumnDescriptor
	byRel    map[string]*RelationDescriptor
}

// NewEntity builds a descriptor from its parts and indexes it.
func NewEntity(name, table string, typ reflect.Type, cols []*ColumnDescriptor, rels []*RelationDescriptor) (*EntityDescriptor, error) {
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: entity %s: %s is not a struct", name, typ)
	}
	d := &EntityDescriptor{Name: name, Table: table, Type: typ, Columns: cols, Relations: rels}
	if err := d.index(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *EntityDescriptor) index() error {
	d.byField = make(map[string]*ColumnDescriptor, len(d.Columns))
	d.byColumn = make(map[string]*ColumnDescriptor, len(d.Columns))
	d.byRel = make(map[string]*RelationDescriptor, len(d.Relations))
	d.PrimaryKey = d.PrimaryKey[:0]
	for _, c := range d.Columns {
		if _, ok := d.byColumn[c.Name]; ok {
			return fmt.Errorf("schema: entity %s: duplicate column %q", d.Name, c.Name)
		}
		d.byField[c.Field] = c
		d.byColumn[c.Name] = c
		if c.PrimaryKey {
			d.PrimaryKey = append(d.PrimaryKey, c.Field)
		}
	}
	if len(d.PrimaryKey) == 0 {
		return fmt.Errorf("schema: entity %s has no primary key", d.Name)
	}
	for _, r := range d.Relations {
		if _, ok := d.byField[r.Name]; ok {
			return fmt.Errorf("schema: entity %s: relation %s shadows a column", d.Name, r.Name)
		}
		d.byRel[r.Name] = r
	}
	return nil
}

// Column returns the column mapped from a Go field.
func (d *EntityDescriptor) Column(field string) (*ColumnDescriptor, bool) {
	c, ok := d.byField[field]
	return c, ok
}

// ColumnByName returns the column with the given column name.
func (d *EntityDescriptor) ColumnByName(name string) (*ColumnDescriptor, bool) {
	c, ok := d.byColumn[name]
	return c, ok
}

// Relation returns the relation declared on a Go field.
func (d *EntityDescriptor) Relation(field string) (*RelationDescriptor, bool) {
	r, ok := d.byRel[field]
	return r, ok
}

// PKColumns returns the primary key columns in column order.
func (d *EntityDescriptor) PKColumns() []*ColumnDescriptor {
	cols := make([]*ColumnDescriptor, len(d.PrimaryKey))
	for i, f := range d.PrimaryKey {
		cols[i] = d.byField[f]
	}
	return cols
}

// GeneratedKey returns the database-generated primary key column, if any.
func (d *EntityDescriptor) GeneratedKey() *ColumnDescriptor {
	for _, c := range d.PKColumns() {
		if c.Generated {
			return c
		}
	}
	return nil
}

// ColumnNames returns all column names in column order.
func (d *EntityDescriptor) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// New returns a pointer to a new zero entity.
func (d *EntityDescriptor) New() reflect.Value {
	return reflect.New(d.Type)
}

// Owns reports whether v is a *T for this descriptor's T.
func (d *EntityDescriptor) Owns(v any) bool {
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Pointer && t.Elem() == d.Type
}
