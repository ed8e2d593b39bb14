package toolargs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, raw := range []string{"", "  ", "null"} {
		a, err := Parse(raw)
		require.NoError(t, err)
		assert.Empty(t, a)
	}

	a, err := Parse(`{"departure": "1", "country": 4, "adults": 2.0, "child": null}`)
	require.NoError(t, err)
	assert.Equal(t, 1, a.IntOr("departure", 0))
	assert.Equal(t, 4, a.IntOr("country", 0))
	assert.Equal(t, 2, a.IntOr("adults", 0))
	assert.False(t, a.Has("child"))
	assert.False(t, a.Has("stars"))

	_, err = Parse(`{"departure":`)
	assert.Error(t, err)
}

func TestInt(t *testing.T) {
	a := Args{
		"float":  float64(7),
		"int":    3,
		"int64":  int64(9),
		"number": json.Number("12"),
		"frac":   json.Number("2.5"),
		"str":    " 15 ",
		"strf":   "4.0",
		"bool":   true,
		"word":   "пять",
	}
	cases := map[string]int{"float": 7, "int": 3, "int64": 9, "number": 12, "frac": 2, "str": 15, "strf": 4, "bool": 1}
	for key, want := range cases {
		got, ok := a.Int(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	_, ok := a.Int("word")
	assert.False(t, ok)
	assert.Equal(t, 42, a.IntOr("word", 42))
	assert.Equal(t, 42, a.IntOr("missing", 42))
}

func TestFloat(t *testing.T) {
	a := Args{"f": 0.5, "i": 2, "n": json.Number("1.25"), "s": "3.5", "bad": "x"}
	for key, want := range map[string]float64{"f": 0.5, "i": 2, "n": 1.25, "s": 3.5} {
		got, ok := a.Float(key)
		assert.True(t, ok, key)
		assert.InDelta(t, want, got, 1e-9, key)
	}
	_, ok := a.Float("bad")
	assert.False(t, ok)
}

func TestStr(t *testing.T) {
	a := Args{
		"text":  "Анталья",
		"whole": float64(150000),
		"frac":  1.5,
		"int":   8,
		"bool":  false,
		"num":   json.Number("77"),
		"list":  []any{"a", "b"},
	}
	assert.Equal(t, "Анталья", a.Str("text"))
	assert.Equal(t, "150000", a.Str("whole"))
	assert.Equal(t, "1.5", a.Str("frac"))
	assert.Equal(t, "8", a.Str("int"))
	assert.Equal(t, "false", a.Str("bool"))
	assert.Equal(t, "77", a.Str("num"))
	assert.Equal(t, `["a","b"]`, a.Str("list"))
	assert.Equal(t, "", a.Str("missing"))
}

func TestIsList(t *testing.T) {
	a := Args{"arr": []any{"1", "2"}, "one": []any{"1"}, "csv": "12,13", "single": "12", "num": 12.0}
	assert.True(t, a.IsList("arr"))
	assert.False(t, a.IsList("one"))
	assert.True(t, a.IsList("csv"))
	assert.False(t, a.IsList("single"))
	assert.False(t, a.IsList("num"))
}

func TestCloneSetDeleteJSON(t *testing.T) {
	a := Args{"country": 4, "regions": "12"}
	b := a.Clone()
	b.Set("country", 1)
	b.Delete("regions", "absent")

	assert.Equal(t, 4, a.IntOr("country", 0), "clone must not alias the original")
	assert.True(t, a.Has("regions"))
	assert.Equal(t, `{"country":1}`, b.JSON())
	assert.Equal(t, "{}", Args{"bad": func() {}}.JSON())
}
