package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceValueString(t *testing.T) {
	v, err := CoerceValue("build muscle", FieldTypeString)
	require.NoError(t, err)
	assert.Equal(t, KindString, v.Kind)
	assert.Equal(t, "build muscle", v.Str)

	v, err = CoerceValue("  padded  ", FieldTypeString)
	require.NoError(t, err)
	assert.Equal(t, "padded", v.Str)

	// Numbers and bools are stringified rather than rejected
	v, err = CoerceValue(float64(3), FieldTypeString)
	require.NoError(t, err)
	assert.Equal(t, "3", v.Str)

	_, err = CoerceValue("   ", FieldTypeString)
	assert.Error(t, err)

	_, err = CoerceValue(nil, FieldTypeString)
	assert.Error(t, err)
}

func TestCoerceValueNumber(t *testing.T) {
	v, err := CoerceValue(float64(34), FieldTypeNumber)
	require.NoError(t, err)
	assert.Equal(t, KindNumber, v.Kind)
	assert.Equal(t, 34.0, v.Num)

	// Numeric strings are repaired
	v, err = CoerceValue("45", FieldTypeNumber)
	require.NoError(t, err)
	assert.Equal(t, 45.0, v.Num)

	_, err = CoerceValue("three times a week", FieldTypeNumber)
	assert.Error(t, err)

	_, err = CoerceValue([]any{1.0}, FieldTypeNumber)
	assert.Error(t, err)
}

func TestCoerceValueStringList(t *testing.T) {
	v, err := CoerceValue([]any{"dumbbells", "pull-up bar"}, FieldTypeStringList)
	require.NoError(t, err)
	assert.Equal(t, KindStringList, v.Kind)
	assert.Equal(t, []string{"dumbbells", "pull-up bar"}, v.List)

	// Comma-joined strings are split
	v, err = CoerceValue("barbell, rack, bands", FieldTypeStringList)
	require.NoError(t, err)
	assert.Equal(t, []string{"barbell", "rack", "bands"}, v.List)

	_, err = CoerceValue([]any{}, FieldTypeStringList)
	assert.Error(t, err)

	_, err = CoerceValue("  ,  , ", FieldTypeStringList)
	assert.Error(t, err)
}

func TestValueDisplay(t *testing.T) {
	assert.Equal(t, "bench press", StringValue("bench press").Display())
	assert.Equal(t, "3", NumberValue(3).Display())
	assert.Equal(t, "2.5", NumberValue(2.5).Display())
	assert.Equal(t, "a, b", ListValue([]string{"a", "b"}).Display())
	assert.Equal(t, "", (*FieldValue)(nil).Display())
}

func TestValueEqual(t *testing.T) {
	assert.True(t, StringValue("x").Equal(StringValue("x")))
	assert.False(t, StringValue("x").Equal(StringValue("y")))
	assert.False(t, StringValue("3").Equal(NumberValue(3)))
	assert.True(t, ListValue([]string{"a", "b"}).Equal(ListValue([]string{"a", "b"})))
	assert.False(t, ListValue([]string{"a"}).Equal(ListValue([]string{"a", "b"})))
	assert.False(t, StringValue("x").Equal(nil))
	assert.True(t, (*FieldValue)(nil).Equal(nil))
}
