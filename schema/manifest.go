package schema

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-openapi/inflect"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/syssam/persist/dialect"
)

// Manifest is the YAML form of a set of entity declarations.
//
//	naming: snake
//	entities:
//	  - name: User
//	    table: users
//	    columns:
//	      - {field: ID, kind: integer, pk: true, generated: true}
//	      - {field: Email, column: email_address, kind: text, unique: true}
//	    relations:
//	      - {field: Posts, kind: one-to-many, join: author_id, fetch: eager}
//
// Entities bound to a Go type (through the types map given to ParseManifest)
// are described from the type's struct tags and the manifest overrides
// table, column and relation settings. Unbound entities get a generated
// struct type built from their columns; they cannot declare relations.
type Manifest struct {
	Naming   string           `yaml:"naming"`
	Entities []ManifestEntity `yaml:"entities"`
}

// ManifestEntity declares one entity.
type ManifestEntity struct {
	Name      string             `yaml:"name"`
	Type      string             `yaml:"type"`
	Table     string             `yaml:"table"`
	Columns   []ManifestColumn   `yaml:"columns"`
	Relations []ManifestRelation `yaml:"relations"`
}

// ManifestColumn declares or overrides one column.
type ManifestColumn struct {
	Field     string `yaml:"field"`
	Column    string `yaml:"column"`
	Kind      string `yaml:"kind"`
	PK        bool   `yaml:"pk"`
	Generated bool   `yaml:"generated"`
	Unique    *bool  `yaml:"unique"`
	Nullable  *bool  `yaml:"nullable"`
}

// ManifestRelation overrides one relation of a bound entity.
type ManifestRelation struct {
	Field   string `yaml:"field"`
	Join    string `yaml:"join"`
	Cascade string `yaml:"cascade"`
	Fetch   string `yaml:"fetch"`
}

// ParseManifest decodes a manifest and builds its descriptors. types binds
// entity (or type) names to Go struct types and may be nil.
func ParseManifest(r io.Reader, types map[string]reflect.Type) ([]*EntityDescriptor, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("schema: manifest: %w", err)
	}
	naming := SnakeCase
	switch strings.ToLower(m.Naming) {
	case "", "snake", "snake_case":
	case "verbatim", "none":
		naming = Verbatim
	default:
		return nil, fmt.Errorf("schema: manifest: unknown naming %q", m.Naming)
	}
	out := make([]*EntityDescriptor, 0, len(m.Entities))
	for _, e := range m.Entities {
		d, err := e.descriptor(types, naming)
		if err != nil {
			return nil, fmt.Errorf("schema: manifest: entity %s: %w", e.Name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// ManifestProducer returns a producer that parses a manifest and submits every
// entity it declares.
func ManifestProducer(r io.Reader, types map[string]reflect.Type) Producer {
	return func(s Submitter) error {
		ds, err := ParseManifest(r, types)
		if err != nil {
			return err
		}
		for _, d := range ds {
			if err := s.Submit(d); err != nil {
				return err
			}
		}
		return nil
	}
}

func (e ManifestEntity) descriptor(types map[string]reflect.Type, naming NamingStrategy) (*EntityDescriptor, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	typeName := e.Type
	if typeName == "" {
		typeName = e.Name
	}
	opts := []DescribeOption{WithName(e.Name), WithNaming(naming)}
	if e.Table != "" {
		opts = append(opts, WithTable(e.Table))
	}
	t, bound := types[typeName]
	if !bound {
		if len(e.Relations) > 0 {
			return nil, fmt.Errorf("relations require a Go type bound to %q", typeName)
		}
		if e.Table == "" {
			opts = append(opts, WithTable(TableName(e.Name)))
		}
		st, err := e.structType(naming)
		if err != nil {
			return nil, err
		}
		return Describe(st, opts...)
	}
	d, err := Describe(t, opts...)
	if err != nil {
		return nil, err
	}
	for _, mc := range e.Columns {
		c, ok := d.Column(mc.Field)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", mc.Field)
		}
		if mc.Column != "" {
			c.Name = mc.Column
		}
		if mc.PK {
			c.PrimaryKey = true
		}
		c.Generated = c.Generated || mc.Generated
		if mc.Unique != nil {
			c.Unique = *mc.Unique
		}
		if mc.Nullable != nil {
			c.Nullable = *mc.Nullable
		}
	}
	for _, mr := range e.Relations {
		r, ok := d.Relation(mr.Field)
		if !ok {
			return nil, fmt.Errorf("unknown relation %q", mr.Field)
		}
		if mr.Join != "" {
			if r.Kind == ManyToMany {
				if r.Join, err = parseJoinTable(mr.Join); err != nil {
					return nil, err
				}
			} else {
				r.Join.Column = mr.Join
			}
		}
		if mr.Cascade != "" {
			if r.Cascade, err = ParseCascade(mr.Cascade); err != nil {
				return nil, err
			}
		}
		if mr.Fetch != "" {
			if r.Fetch, err = ParseFetch(mr.Fetch); err != nil {
				return nil, err
			}
		}
	}
	return d, d.index()
}

var kindTypes = map[dialect.Kind]reflect.Type{
	dialect.KindText:       reflect.TypeFor[string](),
	dialect.KindInteger:    reflect.TypeFor[int64](),
	dialect.KindFloat:      reflect.TypeFor[float64](),
	dialect.KindBoolean:    reflect.TypeFor[bool](),
	dialect.KindBytes:      bytesType,
	dialect.KindJSON:       rawJSONType,
	dialect.KindDateTime:   reflect.TypeFor[time.Time](),
	dialect.KindDecimal:    reflect.TypeFor[decimal.Decimal](),
	dialect.KindIdentifier: reflect.TypeFor[uuid.UUID](),
}

// structType builds a struct type for an unbound entity.
func (e ManifestEntity) structType(naming NamingStrategy) (reflect.Type, error) {
	if len(e.Columns) == 0 {
		return nil, fmt.Errorf("no columns")
	}
	fields := make([]reflect.StructField, 0, len(e.Columns))
	for _, mc := range e.Columns {
		field := mc.Field
		if field == "" {
			field = inflect.Camelize(mc.Column)
		}
		if field == "" || strings.ToUpper(field[:1]) != field[:1] {
			return nil, fmt.Errorf("column %q: field name %q is not exported", mc.Column, field)
		}
		kind, err := dialect.ParseKind(mc.Kind)
		if err != nil {
			return nil, err
		}
		ft, ok := kindTypes[kind]
		if !ok {
			return nil, fmt.Errorf("column %q: unsupported kind %q", mc.Column, mc.Kind)
		}
		nullable := mc.Nullable != nil && *mc.Nullable
		if nullable && ft != bytesType && ft != rawJSONType {
			ft = reflect.PointerTo(ft)
		}
		col := mc.Column
		if col == "" {
			col = naming(field)
		}
		tag := col
		for _, opt := range []struct {
			name string
			on   bool
		}{{"pk", mc.PK}, {"generated", mc.Generated}, {"unique", mc.Unique != nil && *mc.Unique}, {"nullable", nullable}} {
			if opt.on {
				tag += "," + opt.name
			}
		}
		fields = append(fields, reflect.StructField{
			Name: field,
			Type: ft,
			Tag:  reflect.StructTag(fmt.Sprintf(`persist:%q`, tag)),
		})
	}
	return reflect.StructOf(fields), nil
}
