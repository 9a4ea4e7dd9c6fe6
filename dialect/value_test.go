package dialect

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueZeroIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, KindNull, v.Kind())
	assert.Nil(t, v.Any())
	assert.Equal(t, "NULL", v.String())
}

func TestValueEqualAndKey(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	id := uuid.MustParse("5b7f0a52-9a3f-4f4e-9c0a-0e2f5d0f4c11")
	tests := []struct {
		name string
		a, b Value
		eq   bool
	}{
		{"text", Text("a"), Text("a"), true},
		{"text differs", Text("a"), Text("b"), false},
		{"integer", Integer(1), Integer(1), true},
		{"kinds differ", Integer(1), Boolean(true), false},
		{"bytes", Bytes([]byte{1, 2}), Bytes([]byte{1, 2}), true},
		{"datetime zones", DateTime(now), DateTime(now.In(time.FixedZone("x", 3600))), true},
		{"decimal scale", Decimal(decimal.RequireFromString("1.50")), Decimal(decimal.RequireFromString("1.5")), true},
		{"identifier", Identifier(id), Identifier(id), true},
		{"null", Null, Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.eq, tt.a.Equal(tt.b))
			if tt.eq {
				assert.Equal(t, tt.a.Key(), tt.b.Key())
			} else {
				assert.NotEqual(t, tt.a.Key(), tt.b.Key())
			}
		})
	}
}

func TestFromAny(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		in   any
		want Value
	}{
		{nil, Null},
		{"x", Text("x")},
		{42, Integer(42)},
		{int32(7), Integer(7)},
		{uint16(3), Integer(3)},
		{1.5, Float(1.5)},
		{true, Boolean(true)},
		{[]byte("raw"), Bytes([]byte("raw"))},
		{id, Identifier(id)},
		{decimal.NewFromInt(10), Decimal(decimal.NewFromInt(10))},
	}
	for _, tt := range tests {
		got, err := FromAny(tt.in)
		require.NoError(t, err)
		assert.True(t, tt.want.Equal(got), "FromAny(%v) = %v", tt.in, got)
	}

	_, err := FromAny(struct{}{})
	require.Error(t, err)
	_, err = FromAny(uint64(1 << 63))
	require.Error(t, err)
}

func TestCoerce(t *testing.T) {
	id := uuid.MustParse("5b7f0a52-9a3f-4f4e-9c0a-0e2f5d0f4c11")
	tests := []struct {
		name string
		in   Value
		kind Kind
		want Value
	}{
		{"sqlite bool", Integer(1), KindBoolean, Boolean(true)},
		{"sqlite false", Integer(0), KindBoolean, Boolean(false)},
		{"mysql text", Bytes([]byte("hello")), KindText, Text("hello")},
		{"text int", Text("12"), KindInteger, Integer(12)},
		{"integral float", Float(3), KindInteger, Integer(3)},
		{"int float", Integer(3), KindFloat, Float(3)},
		{"text decimal", Text("9.99"), KindDecimal, Decimal(decimal.RequireFromString("9.99"))},
		{"text uuid", Text(id.String()), KindIdentifier, Identifier(id)},
		{"binary uuid", Bytes(id[:]), KindIdentifier, Identifier(id)},
		{"text time", Text("2024-05-01 10:00:00"), KindDateTime, DateTime(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))},
		{"text json", Text(`{"a":1}`), KindJSON, JSON([]byte(`{"a":1}`))},
		{"null stays null", Null, KindInteger, Null},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.kind)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}

	bad := []struct {
		in   Value
		kind Kind
	}{
		{Integer(2), KindBoolean},
		{Text("abc"), KindInteger},
		{Float(1.5), KindInteger},
		{Text("not-a-uuid"), KindIdentifier},
		{Boolean(true), KindDateTime},
		{Text("{"), KindJSON},
	}
	for _, tt := range bad {
		_, err := Coerce(tt.in, tt.kind)
		assert.Error(t, err, "Coerce(%v, %s)", tt.in, tt.kind)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("uuid")
	require.NoError(t, err)
	assert.Equal(t, KindIdentifier, k)
	k, err = ParseKind("Decimal")
	require.NoError(t, err)
	assert.Equal(t, KindDecimal, k)
	_, err = ParseKind("complex")
	require.Error(t, err)
}
