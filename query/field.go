package query

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/syssam/persist/dialect"
)

// StringField is a text column that provides typed predicate methods.
//
// Usage:
//
//	var Email = query.StringField("email")
//	s := query.SelectFrom(query.T("users")).Where(Email.HasSuffix("@example.com"))
type StringField string

// Name returns the column name.
func (f StringField) Name() string { return string(f) }

// Column returns the column reference.
func (f StringField) Column() *Column { return C(string(f)) }

// EQ returns a predicate that checks if the field equals the given value.
func (f StringField) EQ(v string) Predicate { return EQ(f.Column(), Arg(dialect.Text(v))) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f StringField) NEQ(v string) Predicate { return NEQ(f.Column(), Arg(dialect.Text(v))) }

// In returns a predicate that checks if the field value is in the given list.
func (f StringField) In(vs ...string) Predicate { return InValues(f.Column(), textArgs(vs)...) }

// NotIn returns a predicate that checks if the field value is not in the given list.
func (f StringField) NotIn(vs ...string) Predicate {
	return NotInValues(f.Column(), textArgs(vs)...)
}

// GT returns a predicate that checks if the field is greater than the given value.
func (f StringField) GT(v string) Predicate { return GT(f.Column(), Arg(dialect.Text(v))) }

// LT returns a predicate that checks if the field is less than the given value.
func (f StringField) LT(v string) Predicate { return LT(f.Column(), Arg(dialect.Text(v))) }

// Contains returns a predicate that checks if the field contains the given substring.
// LIKE wildcards in v are not escaped.
func (f StringField) Contains(v string) Predicate {
	return LikeOf(f.Column(), Arg(dialect.Text("%"+v+"%")))
}

// HasPrefix returns a predicate that checks if the field has the given prefix.
func (f StringField) HasPrefix(v string) Predicate {
	return LikeOf(f.Column(), Arg(dialect.Text(v+"%")))
}

// HasSuffix returns a predicate that checks if the field has the given suffix.
func (f StringField) HasSuffix(v string) Predicate {
	return LikeOf(f.Column(), Arg(dialect.Text("%"+v)))
}

// EqualFold returns a predicate that checks if the field equals the given value (case-insensitive).
func (f StringField) EqualFold(v string) Predicate {
	return EQ(Fn("LOWER", f.Column()), Fn("LOWER", Arg(dialect.Text(v))))
}

// IsNull returns a predicate that checks if the field is NULL.
func (f StringField) IsNull() Predicate { return Null(f.Column()) }

// NotNull returns a predicate that checks if the field is not NULL.
func (f StringField) NotNull() Predicate { return NotNull(f.Column()) }

// IntField is an integer column that provides typed predicate methods.
type IntField string

// Name returns the column name.
func (f IntField) Name() string { return string(f) }

// Column returns the column reference.
func (f IntField) Column() *Column { return C(string(f)) }

// EQ returns a predicate that checks if the field equals the given value.
func (f IntField) EQ(v int64) Predicate { return EQ(f.Column(), Arg(dialect.Integer(v))) }

// NEQ returns a predicate that checks if the field does not equal the given value.
func (f IntField) NEQ(v int64) Predicate { return NEQ(f.Column(), Arg(dialect.Integer(v))) }

// In returns a predicate that checks if the field value is in the given list.
func (f IntField) In(vs ...int64) Predicate {
	args := make([]Expr, len(vs))
	for i, v := range vs {
		args[i] = Arg(dialect.Integer(v))
	}
	return InValues(f.Column(), args...)
}

// GT returns a predicate that checks if the field is greater than the given value.
func (f IntField) GT(v int64) Predicate { return GT(f.Column(), Arg(dialect.Integer(v))) }

// GTE returns a predicate that checks if the field is greater than or equal to the given value.
func (f IntField) GTE(v int64) Predicate { return GTE(f.Column(), Arg(dialect.Integer(v))) }

// LT returns a predicate that checks if the field is less than the given value.
func (f IntField) LT(v int64) Predicate { return LT(f.Column(), Arg(dialect.Integer(v))) }

// LTE returns a predicate that checks if the field is less than or equal to the given value.
func (f IntField) LTE(v int64) Predicate { return LTE(f.Column(), Arg(dialect.Integer(v))) }

// IsNull returns a predicate that checks if the field is NULL.
func (f IntField) IsNull() Predicate { return Null(f.Column()) }

// FloatField is a floating point column.
type FloatField string

// Column returns the column reference.
func (f FloatField) Column() *Column { return C(string(f)) }

// GT returns a predicate that checks if the field is greater than the given value.
func (f FloatField) GT(v float64) Predicate { return GT(f.Column(), Arg(dialect.Float(v))) }

// LT returns a predicate that checks if the field is less than the given value.
func (f FloatField) LT(v float64) Predicate { return LT(f.Column(), Arg(dialect.Float(v))) }

// BoolField is a boolean column.
type BoolField string

// Column returns the column reference.
func (f BoolField) Column() *Column { return C(string(f)) }

// EQ returns a predicate that checks if the field equals the given value.
func (f BoolField) EQ(v bool) Predicate { return EQ(f.Column(), Arg(dialect.Boolean(v))) }

// IsTrue compares against the TRUE keyword of the dialect.
func (f BoolField) IsTrue() Predicate { return EQ(f.Column(), Lit(dialect.KeywordTrue)) }

// IsFalse compares against the FALSE keyword of the dialect.
func (f BoolField) IsFalse() Predicate { return EQ(f.Column(), Lit(dialect.KeywordFalse)) }

// TimeField is a datetime column.
type TimeField string

// Column returns the column reference.
func (f TimeField) Column() *Column { return C(string(f)) }

// EQ returns a predicate that checks if the field equals the given value.
func (f TimeField) EQ(v time.Time) Predicate { return EQ(f.Column(), Arg(dialect.DateTime(v))) }

// Before returns a predicate that checks if the field is before t.
func (f TimeField) Before(t time.Time) Predicate { return LT(f.Column(), Arg(dialect.DateTime(t))) }

// After returns a predicate that checks if the field is after t.
func (f TimeField) After(t time.Time) Predicate { return GT(f.Column(), Arg(dialect.DateTime(t))) }

// BeforeNow compares against CURRENT_TIMESTAMP.
func (f TimeField) BeforeNow() Predicate {
	return LT(f.Column(), Lit(dialect.KeywordCurrentTimestamp))
}

// IsNull returns a predicate that checks if the field is NULL.
func (f TimeField) IsNull() Predicate { return Null(f.Column()) }

// DecimalField is a fixed-point column.
type DecimalField string

// Column returns the column reference.
func (f DecimalField) Column() *Column { return C(string(f)) }

// EQ returns a predicate that checks if the field equals the given value.
func (f DecimalField) EQ(v decimal.Decimal) Predicate {
	return EQ(f.Column(), Arg(dialect.Decimal(v)))
}

// GTE returns a predicate that checks if the field is greater than or equal to the given value.
func (f DecimalField) GTE(v decimal.Decimal) Predicate {
	return GTE(f.Column(), Arg(dialect.Decimal(v)))
}

// UUIDField is an identifier column.
type UUIDField string

// Column returns the column reference.
func (f UUIDField) Column() *Column { return C(string(f)) }

// EQ returns a predicate that checks if the field equals the given value.
func (f UUIDField) EQ(v uuid.UUID) Predicate { return EQ(f.Column(), Arg(dialect.Identifier(v))) }

// In returns a predicate that checks if the field value is in the given list.
func (f UUIDField) In(vs ...uuid.UUID) Predicate {
	args := make([]Expr, len(vs))
	for i, v := range vs {
		args[i] = Arg(dialect.Identifier(v))
	}
	return InValues(f.Column(), args...)
}

// ValueField is a column compared with arbitrary values.
type ValueField string

// Column returns the column reference.
func (f ValueField) Column() *Column { return C(string(f)) }

// EQ returns a predicate that checks if the field equals the given value.
func (f ValueField) EQ(v dialect.Value) Predicate { return EQ(f.Column(), Arg(v)) }

// In returns a predicate that checks if the field value is in the given list.
func (f ValueField) In(vs ...dialect.Value) Predicate { return InValues(f.Column(), Args(vs...)...) }

func textArgs(vs []string) []Expr {
	args := make([]Expr, len(vs))
	for i, v := range vs {
		args[i] = Arg(dialect.Text(v))
	}
	return args
}
