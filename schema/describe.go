package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/syssam/persist/dialect"
)

// Tabler is implemented by entities that choose their own table name.
type Tabler interface {
	TableName() string
}

// DescribeOption configures Describe.
type DescribeOption func(*describeConfig)

type describeConfig struct {
	naming NamingStrategy
	table  string
	name   string
}

// WithNaming sets the naming strategy for columns without an explicit name.
func WithNaming(n NamingStrategy) DescribeOption {
	return func(c *describeConfig) { c.naming = n }
}

// WithTable overrides the table name.
func WithTable(name string) DescribeOption {
	return func(c *describeConfig) { c.table = name }
}

// WithName overrides the entity name.
func WithName(name string) DescribeOption {
	return func(c *describeConfig) { c.name = name }
}

var (
	timeType    = reflect.TypeFor[time.Time]()
	decimalType = reflect.TypeFor[decimal.Decimal]()
	uuidType    = reflect.TypeFor[uuid.UUID]()
	rawJSONType = reflect.TypeFor[json.RawMessage]()
	bytesType   = reflect.TypeFor[[]byte]()
	lazyType    = reflect.TypeFor[LazyValue]()
)

// Describe builds an entity descriptor from the struct tags of v, which is
// a struct value, a pointer to one, or a reflect.Type.
//
// Scalar fields:
//
//	ID    int64     `persist:"id,pk,generated"`
//	Email string    `persist:",unique"`
//	Bio   *string   // nullable because it is a pointer
//	Meta  Settings  `persist:"meta,json"`
//	Note  string    `persist:"-"` // not mapped
//
// Relation fields:
//
//	Author *User            `rel:"many-to-one" join:"author_id" fetch:"eager"`
//	Posts  []*Post          `rel:"one-to-many" join:"author_id" cascade:"insert,remove"`
//	Tags   []*Tag           `rel:"many-to-many" join:"post_tags(post_id,tag_id)"`
//	Owner  hydrate.Lazy[*User] `rel:"many-to-one" join:"owner_id"`
//
// A field named ID is the primary key when no field is tagged pk; an
// integer ID is then database generated. Unexported fields are ignored.
func Describe(v any, opts ...DescribeOption) (*EntityDescriptor, error) {
	cfg := describeConfig{naming: SnakeCase}
	for _, opt := range opts {
		opt(&cfg)
	}
	typ, ok := v.(reflect.Type)
	if !ok {
		typ = reflect.TypeOf(v)
	}
	if typ == nil {
		return nil, fmt.Errorf("schema: describe: nil type")
	}
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: describe: %s is not a struct", typ)
	}
	name := cfg.name
	if name == "" {
		name = typ.Name()
	}
	table := cfg.table
	if table == "" {
		if t, ok := reflect.New(typ).Interface().(Tabler); ok {
			table = t.TableName()
		} else {
			table = TableName(typ.Name())
		}
	}
	var (
		cols []*ColumnDescriptor
		rels []*RelationDescriptor
	)
	for _, f := range reflect.VisibleFields(typ) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		if tag, ok := f.Tag.Lookup("rel"); ok {
			r, err := describeRelation(f, tag, cfg.naming)
			if err != nil {
				return nil, fmt.Errorf("schema: entity %s: %w", name, err)
			}
			rels = append(rels, r)
			continue
		}
		c, skip, err := describeColumn(f, cfg.naming)
		if err != nil {
			return nil, fmt.Errorf("schema: entity %s: %w", name, err)
		}
		if !skip {
			cols = append(cols, c)
		}
	}
	implicitPrimaryKey(cols)
	return NewEntity(name, table, typ, cols, rels)
}

// MustDescribe is like Describe but panics on error.
func MustDescribe(v any, opts ...DescribeOption) *EntityDescriptor {
	d, err := Describe(v, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func implicitPrimaryKey(cols []*ColumnDescriptor) {
	for _, c := range cols {
		if c.PrimaryKey {
			return
		}
	}
	for _, c := range cols {
		if c.Field == "ID" {
			c.PrimaryKey = true
			c.Generated = c.Kind == dialect.KindInteger
			c.Nullable = false
			return
		}
	}
}

func describeColumn(f reflect.StructField, naming NamingStrategy) (*ColumnDescriptor, bool, error) {
	tag := f.Tag.Get("persist")
	if tag == "-" {
		return nil, true, nil
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = naming(f.Name)
	}
	c := &ColumnDescriptor{Field: f.Name, Name: name, Index: f.Index, Type: f.Type}
	for _, opt := range strings.Split(opts, ",") {
		switch strings.TrimSpace(opt) {
		case "":
		case "pk":
			c.PrimaryKey = true
		case "generated":
			c.Generated = true
		case "unique":
			c.Unique = true
		case "nullable":
			c.Nullable = true
		case "json":
			c.JSON = true
		default:
			return nil, false, fmt.Errorf("field %s: unknown option %q", f.Name, opt)
		}
	}
	if c.JSON {
		c.Kind = dialect.KindJSON
		c.Nullable = c.Nullable || f.Type.Kind() == reflect.Pointer || f.Type.Kind() == reflect.Map || f.Type.Kind() == reflect.Slice
		return c, false, nil
	}
	t := f.Type
	if t.Kind() == reflect.Pointer {
		c.Nullable = true
		t = t.Elem()
	}
	kind, ok := KindOf(t)
	if !ok {
		return nil, false, fmt.Errorf("field %s: unsupported type %s (tag it json or with rel)", f.Name, f.Type)
	}
	c.Kind = kind
	if c.PrimaryKey && c.Nullable {
		return nil, false, fmt.Errorf("field %s: primary key cannot be nullable", f.Name)
	}
	return c, false, nil
}

// KindOf returns the value kind a Go type maps to.
func KindOf(t reflect.Type) (dialect.Kind, bool) {
	switch t {
	case timeType:
		return dialect.KindDateTime, true
	case decimalType:
		return dialect.KindDecimal, true
	case uuidType:
		return dialect.KindIdentifier, true
	case rawJSONType:
		return dialect.KindJSON, true
	case bytesType:
		return dialect.KindBytes, true
	}
	switch t.Kind() {
	case reflect.String:
		return dialect.KindText, true
	case reflect.Bool:
		return dialect.KindBoolean, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return dialect.KindInteger, true
	case reflect.Float32, reflect.Float64:
		return dialect.KindFloat, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return dialect.KindBytes, true
		}
	}
	return dialect.KindNull, false
}

func describeRelation(f reflect.StructField, tag string, naming NamingStrategy) (*RelationDescriptor, error) {
	kindStr, mods, _ := strings.Cut(tag, ",")
	kind, err := ParseRelationKind(kindStr)
	if err != nil {
		return nil, fmt.Errorf("relation %s: %w", f.Name, err)
	}
	r := &RelationDescriptor{Name: f.Name, Kind: kind, Index: f.Index, Owning: true}
	switch kind {
	case OneToMany:
		r.Owning = false
	case OneToOne:
		r.Owning = !strings.Contains(mods, "inverse")
	case ManyToMany:
		r.Owning = !strings.Contains(mods, "inverse")
	}
	if r.Cascade, err = ParseCascade(f.Tag.Get("cascade")); err != nil {
		return nil, fmt.Errorf("relation %s: %w", f.Name, err)
	}
	if r.Fetch, err = ParseFetch(f.Tag.Get("fetch")); err != nil {
		return nil, fmt.Errorf("relation %s: %w", f.Name, err)
	}
	if err := relationShape(r, f.Type); err != nil {
		return nil, fmt.Errorf("relation %s: %w", f.Name, err)
	}
	join := f.Tag.Get("join")
	if kind == ManyToMany {
		if r.Join, err = parseJoinTable(join); err != nil {
			return nil, fmt.Errorf("relation %s: %w", f.Name, err)
		}
		return r, nil
	}
	if join == "" && r.OwnsForeignKey() {
		join = naming(f.Name) + "_id"
	}
	r.Join.Column = join
	return r, nil
}

// relationShape records the field shape and target struct type.
func relationShape(r *RelationDescriptor, ft reflect.Type) error {
	t := ft
	if ft.Implements(lazyType) || reflect.PointerTo(ft).Implements(lazyType) {
		r.Shape = ShapeLazy
		t = reflect.New(ft).Interface().(LazyValue).LazyType()
	}
	switch {
	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		if !r.Kind.ToOne() {
			return fmt.Errorf("%s relation requires a slice, got %s", r.Kind, ft)
		}
		if r.Shape != ShapeLazy {
			r.Shape = ShapePointer
		}
		r.TargetType = t.Elem()
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Pointer && t.Elem().Elem().Kind() == reflect.Struct:
		if r.Kind.ToOne() {
			return fmt.Errorf("%s relation requires a pointer, got %s", r.Kind, ft)
		}
		if r.Shape != ShapeLazy {
			r.Shape = ShapeSlice
		}
		r.TargetType = t.Elem().Elem()
	default:
		return fmt.Errorf("unsupported relation field type %s", ft)
	}
	return nil
}

// parseJoinTable parses "post_tags(post_id,tag_id)".
func parseJoinTable(s string) (JoinSpec, error) {
	table, rest, ok := strings.Cut(s, "(")
	if !ok || !strings.HasSuffix(rest, ")") {
		return JoinSpec{}, fmt.Errorf("join %q: expected table(column,inverse_column)", s)
	}
	col, inv, ok := strings.Cut(strings.TrimSuffix(rest, ")"), ",")
	if !ok {
		return JoinSpec{}, fmt.Errorf("join %q: expected two columns", s)
	}
	js := JoinSpec{
		Table:         strings.TrimSpace(table),
		Column:        strings.TrimSpace(col),
		InverseColumn: strings.TrimSpace(inv),
	}
	if js.Table == "" || js.Column == "" || js.InverseColumn == "" {
		return JoinSpec{}, fmt.Errorf("join %q: empty table or column", s)
	}
	return js, nil
}
