package cachekey

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStableStringify(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "null"},
		{"string", "a\"b<c>", `"a\"b<c>"`},
		{"bool", true, "true"},
		{"int", 3, "3"},
		{"integral float", 10.0, "10"},
		{"fraction", 42.5, "42.5"},
		{"negative zero", math.Copysign(0, -1), "0"},
		{"nan", math.NaN(), "null"},
		{"inf", math.Inf(-1), "null"},
		{"small", 1e-7, "1e-7"},
		{"large", 1e21, "1e+21"},
		{"strings keep order", []string{"b", "a"}, `["b","a"]`},
		{"nested", map[string]any{"b": []any{1, "x"}, "a": map[string]any{"d": 1.5, "c": nil}}, `{"a":{"c":null,"d":1.5},"b":[1,"x"]}`},
		{"float map", map[string]float64{"z": 1, "y": 2.25}, `{"y":2.25,"z":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StableStringify(tt.in))
		})
	}
}

func TestCanonicalStringMatchesDigest(t *testing.T) {
	p := pleiades(85.5)
	got := StableStringify(Canonical(p, DefaultQuantizeStep))
	assert.Equal(t, `{"classification":"primary","hdData":{"authority":"Sacral","centers":["G","Root","Sacral"],"gateCount":3,"profile":"3/5","type":"Generator"},"percentages":{"Pleiades":85.5,"Sirius":10},"primary":"Pleiades"}`, got)
	assert.Equal(t, "32f3be40abc17599a8a3e8ba6f1d43a41e974824", ProfileHash(p, DefaultQuantizeStep))
}

func TestCanonicalDoesNotMutateInput(t *testing.T) {
	p := pleiades(85.5)
	Canonical(p, DefaultQuantizeStep)
	assert.Equal(t, []string{"Sacral", "Root", "G"}, p.HDData.Centers)
}
