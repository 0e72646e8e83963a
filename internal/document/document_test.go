package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_PreservesKeyOrder(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"30": 33, "10": 11, "20": 22, "nested": {"z": 1, "a": [1, "x", null]}}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"30", "10", "20", "nested"}, obj.Keys())
	assert.Equal(t, json.Number("33"), obj.Lookup("30"))

	nested := obj.Object("nested")
	require.NotNil(t, nested)
	assert.Equal(t, []string{"z", "a"}, nested.Keys())
	assert.Equal(t, []interface{}{json.Number("1"), "x", nil}, nested.Lookup("a"))
}

func TestDecode_DuplicateKeyLastWins(t *testing.T) {
	obj, err := DecodeObject([]byte(`{"a": 1, "b": 2, "a": 3}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, obj.Keys())
	assert.Equal(t, json.Number("3"), obj.Lookup("a"))
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode([]byte(`{"a": `))
	assert.Error(t, err)

	_, err = DecodeObject([]byte(`[1, 2]`))
	assert.Error(t, err)
}

func TestMarshal_RoundTripKeepsOrder(t *testing.T) {
	in := `{"b":true,"a":[1,"two",null],"c":{"y":1.5,"x":"z"}}`
	v, err := Decode([]byte(in))
	require.NoError(t, err)

	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestUnicodify(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
		ok   bool
	}{
		{nil, "", false},
		{"abc", "abc", true},
		{json.Number("12"), "12", true},
		{true, "true", true},
		{int64(-3), "-3", true},
		{Object{{Key: "a", Value: json.Number("1")}}, `{"a":1}`, true},
		{[]interface{}{"x", nil}, `["x",null]`, true},
	}
	for _, c := range cases {
		got, ok := Unicodify(c.in)
		assert.Equal(t, c.ok, ok, "%#v", c.in)
		assert.Equal(t, c.want, got, "%#v", c.in)
	}
	assert.Nil(t, NullableString(nil))
	assert.Equal(t, "x", NullableString("x"))
}

func TestBoolify(t *testing.T) {
	cases := []struct {
		in   interface{}
		want interface{}
	}{
		{nil, nil},
		{true, uint8(1)},
		{false, uint8(0)},
		{"yes", uint8(1)},
		{"TRUE", uint8(1)},
		{json.Number("0"), uint8(0)},
		{"no", uint8(0)},
		{"maybe", nil},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NullableBool(c.in), "%#v", c.in)
	}
}

func TestCollapseUint32(t *testing.T) {
	cases := []struct {
		in   interface{}
		want interface{}
	}{
		{nil, nil},
		{json.Number("0"), uint32(0)},
		{json.Number("4294967295"), uint32(4294967295)},
		{json.Number("4294967296"), nil},
		{json.Number("-1"), nil},
		{"12", nil},
		{int64(7), uint32(7)},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NullableUint32(c.in), "%#v", c.in)
	}
}

func TestEnsureValidDate(t *testing.T) {
	_, ok := EnsureValidDate(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, ok)

	_, ok = EnsureValidDate(time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)

	_, ok = EnsureValidDate(time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.False(t, ok)
}

func TestAsDictSafe(t *testing.T) {
	obj := Object{{Key: "a", Value: "b"}}
	assert.Equal(t, obj, AsDictSafe(obj))

	pairs := []interface{}{
		[]interface{}{"level", "error"},
		nil,
		[]interface{}{"broken"},
		[]interface{}{json.Number("5"), "five"},
		[]interface{}{Object{}, "unhashable key"},
	}
	got := AsDictSafe(pairs)
	assert.Equal(t, Object{{Key: "level", Value: "error"}, {Key: "5", Value: "five"}}, got)

	assert.Empty(t, AsDictSafe(nil))
	assert.Empty(t, AsDictSafe("a string"))
	assert.Empty(t, AsDictSafe(json.Number("3")))
}

func TestAsScalarDict(t *testing.T) {
	in := Object{
		{Key: "a", Value: "x"},
		{Key: "b", Value: nil},
		{Key: "c", Value: Object{{Key: "d", Value: "e"}}},
		{Key: "f", Value: json.Number("1")},
		{Key: "g", Value: []interface{}{"h"}},
	}
	assert.Equal(t, Object{{Key: "a", Value: "x"}, {Key: "f", Value: json.Number("1")}}, AsScalarDict(in))
}
