package dialect

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindText
	KindInteger
	KindFloat
	KindBoolean
	KindBytes
	KindJSON
	KindDateTime
	KindDecimal
	KindIdentifier
)

var kindNames = [...]string{
	KindNull:       "null",
	KindText:       "text",
	KindInteger:    "integer",
	KindFloat:      "float",
	KindBoolean:    "boolean",
	KindBytes:      "bytes",
	KindJSON:       "json",
	KindDateTime:   "datetime",
	KindDecimal:    "decimal",
	KindIdentifier: "identifier",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind returns the kind for its name.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(k), nil
		}
	}
	switch strings.ToLower(s) {
	case "string":
		return KindText, nil
	case "int", "int64":
		return KindInteger, nil
	case "bool":
		return KindBoolean, nil
	case "time", "timestamp":
		return KindDateTime, nil
	case "uuid":
		return KindIdentifier, nil
	}
	return KindNull, fmt.Errorf("dialect: unknown value kind %q", s)
}

// Value is the tagged union that crosses the adapter boundary.
// The zero Value is NULL.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    []byte
	t    time.Time
	d    decimal.Decimal
	u    uuid.UUID
}

// Null is the NULL value.
var Null = Value{}

// Text returns a Text value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Integer returns an Integer value.
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

// Float returns a Float value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Boolean returns a Boolean value.
func Boolean(b bool) Value {
	v := Value{kind: KindBoolean}
	if b {
		v.i = 1
	}
	return v
}

// Bytes returns a Bytes value. The slice is not copied.
func Bytes(b []byte) Value { return Value{kind: KindBytes, b: b} }

// JSON returns a JSON value holding the raw document.
func JSON(raw []byte) Value { return Value{kind: KindJSON, b: raw} }

// DateTime returns a DateTime value.
func DateTime(t time.Time) Value { return Value{kind: KindDateTime, t: t} }

// Decimal returns a Decimal value.
func Decimal(d decimal.Decimal) Value { return Value{kind: KindDecimal, d: d} }

// Identifier returns an Identifier (UUID) value.
func Identifier(u uuid.UUID) Value { return Value{kind: KindIdentifier, u: u} }

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsText returns the Text payload.
func (v Value) AsText() (string, bool) { return v.s, v.kind == KindText }

// AsInteger returns the Integer payload.
func (v Value) AsInteger() (int64, bool) { return v.i, v.kind == KindInteger }

// AsFloat returns the Float payload.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsBoolean returns the Boolean payload.
func (v Value) AsBoolean() (bool, bool) { return v.i == 1, v.kind == KindBoolean }

// AsBytes returns the Bytes or JSON payload.
func (v Value) AsBytes() ([]byte, bool) { return v.b, v.kind == KindBytes || v.kind == KindJSON }

// AsDateTime returns the DateTime payload.
func (v Value) AsDateTime() (time.Time, bool) { return v.t, v.kind == KindDateTime }

// AsDecimal returns the Decimal payload.
func (v Value) AsDecimal() (decimal.Decimal, bool) { return v.d, v.kind == KindDecimal }

// AsIdentifier returns the Identifier payload.
func (v Value) AsIdentifier() (uuid.UUID, bool) { return v.u, v.kind == KindIdentifier }

// Equal reports whether two values hold the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindText:
		return v.s == o.s
	case KindInteger, KindBoolean:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindBytes, KindJSON:
		return bytes.Equal(v.b, o.b)
	case KindDateTime:
		return v.t.Equal(o.t)
	case KindDecimal:
		return v.d.Equal(o.d)
	case KindIdentifier:
		return v.u == o.u
	}
	return false
}

// Key returns a canonical encoding of v, used for identity keys and cache keys.
// Values that are Equal have the same Key.
func (v Value) Key() string {
	switch v.kind {
	case KindNull:
		return "n"
	case KindText:
		return "s:" + v.s
	case KindInteger:
		return "i:" + strconv.FormatInt(v.i, 10)
	case KindBoolean:
		return "b:" + strconv.FormatInt(v.i, 10)
	case KindFloat:
		return "f:" + strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBytes:
		return fmt.Sprintf("x:%x", v.b)
	case KindJSON:
		return "j:" + string(v.b)
	case KindDateTime:
		return "t:" + v.t.UTC().Format(time.RFC3339Nano)
	case KindDecimal:
		return "d:" + v.d.String()
	case KindIdentifier:
		return "u:" + v.u.String()
	}
	return "?"
}

// String implements fmt.Stringer.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindText:
		return strconv.Quote(v.s)
	case KindBytes:
		return fmt.Sprintf("%x", v.b)
	case KindJSON:
		return string(v.b)
	}
	return fmt.Sprint(v.Any())
}

// Any returns the driver argument for v.
func (v Value) Any() any {
	switch v.kind {
	case KindText:
		return v.s
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindBoolean:
		return v.i == 1
	case KindBytes:
		return v.b
	case KindJSON:
		return string(v.b)
	case KindDateTime:
		return v.t
	case KindDecimal:
		return v.d.String()
	case KindIdentifier:
		return v.u.String()
	}
	return nil
}

// FromAny converts a Go or driver value into a Value.
func FromAny(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null, nil
	case Value:
		return x, nil
	case string:
		return Text(x), nil
	case []byte:
		return Bytes(x), nil
	case json.RawMessage:
		return JSON(x), nil
	case bool:
		return Boolean(x), nil
	case int:
		return Integer(int64(x)), nil
	case int8:
		return Integer(int64(x)), nil
	case int16:
		return Integer(int64(x)), nil
	case int32:
		return Integer(int64(x)), nil
	case int64:
		return Integer(x), nil
	case uint:
		return Integer(int64(x)), nil
	case uint8:
		return Integer(int64(x)), nil
	case uint16:
		return Integer(int64(x)), nil
	case uint32:
		return Integer(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Null, fmt.Errorf("dialect: uint64 %d overflows integer", x)
		}
		return Integer(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case time.Time:
		return DateTime(x), nil
	case decimal.Decimal:
		return Decimal(x), nil
	case uuid.UUID:
		return Identifier(x), nil
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return Null, err
		}
		return FromAny(dv)
	}
	return Null, fmt.Errorf("dialect: unsupported value type %T", x)
}

// MustFromAny is like FromAny but panics on error.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// Values converts a list of Go values.
func Values(xs ...any) ([]Value, error) {
	vs := make([]Value, len(xs))
	for i, x := range xs {
		v, err := FromAny(x)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts v to kind k where the conversion is lossless. Backends
// report values loosely (SQLite booleans are integers, MySQL text arrives as
// bytes, decimals and UUIDs as text), so hydration coerces every column to
// its declared kind. NULL coerces to NULL.
func Coerce(v Value, k Kind) (Value, error) {
	if v.kind == k || v.kind == KindNull {
		return v, nil
	}
	fail := func(err error) (Value, error) {
		if err == nil {
			err = fmt.Errorf("cannot convert %s to %s", v.kind, k)
		}
		return Null, err
	}
	text, isText := v.textual()
	switch k {
	case KindText:
		switch v.kind {
		case KindBytes, KindJSON:
			return Text(string(v.b)), nil
		case KindIdentifier:
			return Text(v.u.String()), nil
		case KindDecimal:
			return Text(v.d.String()), nil
		}
	case KindInteger:
		switch {
		case v.kind == KindBoolean:
			return Integer(v.i), nil
		case v.kind == KindFloat && v.f == math.Trunc(v.f) && math.Abs(v.f) < 1<<53:
			return Integer(int64(v.f)), nil
		case v.kind == KindDecimal && v.d.IsInteger():
			return Integer(v.d.IntPart()), nil
		case isText:
			i, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
			if err != nil {
				return fail(err)
			}
			return Integer(i), nil
		}
	case KindFloat:
		switch {
		case v.kind == KindInteger:
			return Float(float64(v.i)), nil
		case v.kind == KindDecimal:
			f, _ := v.d.Float64()
			return Float(f), nil
		case isText:
			f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
			if err != nil {
				return fail(err)
			}
			return Float(f), nil
		}
	case KindBoolean:
		switch {
		case v.kind == KindInteger && (v.i == 0 || v.i == 1):
			return Boolean(v.i == 1), nil
		case isText:
			b, err := strconv.ParseBool(strings.TrimSpace(text))
			if err != nil {
				return fail(err)
			}
			return Boolean(b), nil
		}
	case KindBytes:
		if isText {
			return Bytes([]byte(text)), nil
		}
	case KindJSON:
		if isText {
			if !json.Valid([]byte(text)) {
				return fail(fmt.Errorf("invalid json document"))
			}
			return JSON([]byte(text)), nil
		}
	case KindDateTime:
		switch {
		case v.kind == KindInteger:
			return DateTime(time.Unix(v.i, 0).UTC()), nil
		case isText:
			for _, layout := range dateTimeLayouts {
				if t, err := time.Parse(layout, text); err == nil {
					return DateTime(t), nil
				}
			}
			return fail(fmt.Errorf("cannot parse %q as datetime", text))
		}
	case KindDecimal:
		switch {
		case v.kind == KindInteger:
			return Decimal(decimal.NewFromInt(v.i)), nil
		case v.kind == KindFloat:
			return Decimal(decimal.NewFromFloat(v.f)), nil
		case isText:
			d, err := decimal.NewFromString(strings.TrimSpace(text))
			if err != nil {
				return fail(err)
			}
			return Decimal(d), nil
		}
	case KindIdentifier:
		if v.kind == KindBytes && len(v.b) == 16 {
			u, err := uuid.FromBytes(v.b)
			if err != nil {
				return fail(err)
			}
			return Identifier(u), nil
		}
		if isText {
			u, err := uuid.Parse(text)
			if err != nil {
				return fail(err)
			}
			return Identifier(u), nil
		}
	}
	return fail(nil)
}

func (v Value) textual() (string, bool) {
	switch v.kind {
	case KindText:
		return v.s, true
	case KindBytes, KindJSON:
		return string(v.b), true
	}
	return "", false
}
