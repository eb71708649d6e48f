package telemex

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMarshalPreservesInsertionOrder(t *testing.T) {
	m := NewMap()
	m.PutStr("zulu", "last-in-alphabet")
	m.PutInt("alpha", 1)
	m.PutBool("mike", true)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"zulu":"last-in-alphabet","alpha":1,"mike":true}`, string(data))
}

func TestMapUnmarshalPreservesKeyOrder(t *testing.T) {
	m := NewMap()
	require.NoError(t, json.Unmarshal([]byte(`{"b":2,"a":1,"c":3}`), m))

	var keys []string
	m.Range(func(k string, _ Value) bool {
		keys = append(keys, k)
		return true
	})
	assert.Equal(t, []string{"b", "a", "c"}, keys)
}

func TestMapRoundTripWithNestedMap(t *testing.T) {
	inner := NewMap()
	inner.PutStr("id", "tenant-9")
	m := NewMap()
	m.PutStr("component", "scheduler")
	m.Put("tenant", MapValue(inner))
	m.PutDouble("ratio", 0.25)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	got := NewMap()
	require.NoError(t, json.Unmarshal(data, got))

	v, ok := got.Get("tenant")
	require.True(t, ok)
	require.Equal(t, ValueTypeMap, v.Type())
	id, ok := v.Map().Get("id")
	require.True(t, ok)
	assert.Equal(t, "tenant-9", id.Str())

	ratio, ok := got.Get("ratio")
	require.True(t, ok)
	assert.Equal(t, ValueTypeDouble, ratio.Type())
	assert.Equal(t, 0.25, ratio.Double())
}

func TestUnmarshalDistinguishesIntFromDouble(t *testing.T) {
	m := NewMap()
	require.NoError(t, json.Unmarshal([]byte(`{"count":42,"share":0.5,"big":9007199254740993}`), m))

	count, _ := m.Get("count")
	assert.Equal(t, ValueTypeInt, count.Type())
	assert.EqualValues(t, 42, count.Int())

	share, _ := m.Get("share")
	assert.Equal(t, ValueTypeDouble, share.Type())

	// Integers beyond float64 precision survive intact.
	big, _ := m.Get("big")
	assert.Equal(t, ValueTypeInt, big.Type())
	assert.EqualValues(t, int64(9007199254740993), big.Int())
}

func TestUnmarshalSkipsArrays(t *testing.T) {
	m := NewMap()
	require.NoError(t, json.Unmarshal([]byte(`{"tags":[1,[2,{"x":3}]],"after":"kept"}`), m))

	tags, ok := m.Get("tags")
	require.True(t, ok)
	assert.Equal(t, ValueTypeEmpty, tags.Type())

	after, ok := m.Get("after")
	require.True(t, ok)
	assert.Equal(t, "kept", after.Str())
}

func TestUnmarshalNullYieldsEmpty(t *testing.T) {
	m := NewMap()
	require.NoError(t, json.Unmarshal([]byte(`{"gone":null}`), m))
	v, ok := m.Get("gone")
	require.True(t, ok)
	assert.Equal(t, ValueTypeEmpty, v.Type())
}

func TestPutReplacesInPlace(t *testing.T) {
	m := NewMap()
	m.PutStr("a", "one")
	m.PutStr("b", "two")
	m.PutStr("a", "updated")

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"updated","b":"two"}`, string(data))
}

func TestNilMapAccessorsAreSafe(t *testing.T) {
	var m *Map
	_, ok := m.Get("anything")
	assert.False(t, ok)
	assert.False(t, m.Remove("anything"))
	assert.Zero(t, m.Len())
	assert.Nil(t, m.AsRaw())
	m.Range(func(string, Value) bool { t.Fatal("must not be called"); return false })
}

func TestValueAsString(t *testing.T) {
	assert.Equal(t, "hi", StrValue("hi").AsString())
	assert.Equal(t, "-7", IntValue(-7).AsString())
	assert.Equal(t, "2.5", DoubleValue(2.5).AsString())
	assert.Equal(t, "true", BoolValue(true).AsString())
	assert.Equal(t, "", EmptyValue().AsString())
}

func TestUnmarshalRejectsNonObject(t *testing.T) {
	m := NewMap()
	assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), m))
	assert.Error(t, json.Unmarshal([]byte(`"str"`), m))
}
