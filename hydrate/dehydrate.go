package hydrate

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/syssam/persist"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/schema"
)

// Dehydrate returns the column values of entity, a *T of desc, in column order.
func Dehydrate(desc *schema.EntityDescriptor, entity any) ([]dialect.Value, error) {
	ent, err := entityValue(desc, entity)
	if err != nil {
		return nil, err
	}
	vals := make([]dialect.Value, len(desc.Columns))
	for i, c := range desc.Columns {
		if vals[i], err = ColumnValue(ent, c); err != nil {
			return nil, &persist.DeserializationError{Entity: desc.Name, Column: c.Name, Err: err}
		}
	}
	return vals, nil
}

// Restore writes a snapshot produced by Dehydrate back into entity.
func Restore(desc *schema.EntityDescriptor, entity any, snapshot []dialect.Value) error {
	ent, err := entityValue(desc, entity)
	if err != nil {
		return err
	}
	if len(snapshot) != len(desc.Columns) {
		return fmt.Errorf("hydrate: restore %s: snapshot has %d values, want %d", desc.Name, len(snapshot), len(desc.Columns))
	}
	for i, c := range desc.Columns {
		if err := SetColumn(ent, c, snapshot[i]); err != nil {
			return &persist.DeserializationError{Entity: desc.Name, Column: c.Name, Err: err}
		}
	}
	return nil
}

// PrimaryKey returns the primary key values of entity.
func PrimaryKey(desc *schema.EntityDescriptor, entity any) ([]dialect.Value, error) {
	ent, err := entityValue(desc, entity)
	if err != nil {
		return nil, err
	}
	pks := desc.PKColumns()
	vals := make([]dialect.Value, len(pks))
	for i, c := range pks {
		if vals[i], err = ColumnValue(ent, c); err != nil {
			return nil, &persist.DeserializationError{Entity: desc.Name, Column: c.Name, Err: err}
		}
	}
	return vals, nil
}

// HasKey reports whether entity carries a usable primary key. A generated
// key holding its zero value has not been assigned yet.
func HasKey(desc *schema.EntityDescriptor, entity any) bool {
	ent, err := entityValue(desc, entity)
	if err != nil {
		return false
	}
	for _, c := range desc.PKColumns() {
		f := ent.Elem().FieldByIndex(c.Index)
		if c.Generated && f.IsZero() {
			return false
		}
		if v, err := ColumnValue(ent, c); err != nil || v.IsNull() {
			return false
		}
	}
	return true
}

// ColumnValue reads column c of ent, a pointer to an entity struct.
func ColumnValue(ent reflect.Value, c *schema.ColumnDescriptor) (dialect.Value, error) {
	return toValue(ent.Elem().FieldByIndex(c.Index), c)
}

// SetColumn stores v into column c of ent, coercing it to the column kind.
func SetColumn(ent reflect.Value, c *schema.ColumnDescriptor, v dialect.Value) error {
	return assign(ent.Elem().FieldByIndex(c.Index), c, v)
}

func entityValue(desc *schema.EntityDescriptor, entity any) (reflect.Value, error) {
	if rv, ok := entity.(reflect.Value); ok {
		entity = rv.Interface()
	}
	if desc == nil || !desc.Owns(entity) {
		return reflect.Value{}, fmt.Errorf("hydrate: %T is not a pointer to a %s entity", entity, entityName(desc))
	}
	ent := reflect.ValueOf(entity)
	if ent.IsNil() {
		return reflect.Value{}, fmt.Errorf("hydrate: nil %s entity", desc.Name)
	}
	return ent, nil
}

func entityName(desc *schema.EntityDescriptor) string {
	if desc == nil {
		return "<nil>"
	}
	return desc.Name
}

var (
	timeType    = reflect.TypeFor[time.Time]()
	decimalType = reflect.TypeFor[decimal.Decimal]()
	uuidType    = reflect.TypeFor[uuid.UUID]()
)

func toValue(f reflect.Value, c *schema.ColumnDescriptor) (dialect.Value, error) {
	if c.JSON {
		return jsonValue(f)
	}
	if f.Kind() == reflect.Pointer {
		if f.IsNil() {
			return dialect.Null, nil
		}
		f = f.Elem()
	}
	switch c.Kind {
	case dialect.KindText:
		if f.Kind() == reflect.String {
			return dialect.Text(f.String()), nil
		}
	case dialect.KindInteger:
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return dialect.Integer(f.Int()), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := f.Uint()
			if u > math.MaxInt64 {
				return dialect.Null, fmt.Errorf("%d overflows int64", u)
			}
			return dialect.Integer(int64(u)), nil
		}
	case dialect.KindFloat:
		if k := f.Kind(); k == reflect.Float32 || k == reflect.Float64 {
			return dialect.Float(f.Float()), nil
		}
	case dialect.KindBoolean:
		if f.Kind() == reflect.Bool {
			return dialect.Boolean(f.Bool()), nil
		}
	case dialect.KindBytes, dialect.KindJSON:
		if f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.Uint8 {
			if f.IsNil() && c.Nullable {
				return dialect.Null, nil
			}
			b := append([]byte(nil), f.Bytes()...)
			if c.Kind == dialect.KindJSON {
				return dialect.JSON(b), nil
			}
			return dialect.Bytes(b), nil
		}
	case dialect.KindDateTime:
		if f.Type().ConvertibleTo(timeType) {
			return dialect.DateTime(f.Convert(timeType).Interface().(time.Time)), nil
		}
	case dialect.KindDecimal:
		if f.Type().ConvertibleTo(decimalType) {
			return dialect.Decimal(f.Convert(decimalType).Interface().(decimal.Decimal)), nil
		}
	case dialect.KindIdentifier:
		if f.Type().ConvertibleTo(uuidType) {
			return dialect.Identifier(f.Convert(uuidType).Interface().(uuid.UUID)), nil
		}
	}
	return dialect.Null, fmt.Errorf("cannot read %s as %s", f.Type(), c.Kind)
}

func jsonValue(f reflect.Value) (dialect.Value, error) {
	switch f.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		if f.IsNil() {
			return dialect.Null, nil
		}
	}
	if raw, ok := f.Interface().(json.RawMessage); ok {
		return dialect.JSON(append([]byte(nil), raw...)), nil
	}
	b, err := json.Marshal(f.Interface())
	if err != nil {
		return dialect.Null, err
	}
	return dialect.JSON(b), nil
}

func assignJSON(field reflect.Value, v dialect.Value) error {
	var raw []byte
	if b, ok := v.AsBytes(); ok {
		raw = b
	} else if s, ok := v.AsText(); ok {
		raw = []byte(s)
	} else {
		return fmt.Errorf("cannot decode %s value as json", v.Kind())
	}
	p := reflect.New(field.Type())
	if err := json.Unmarshal(raw, p.Interface()); err != nil {
		return err
	}
	field.Set(p.Elem())
	return nil
}
