package fingerprint_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zefrenchwan/registries.git/fingerprint"
	"github.com/zefrenchwan/registries.git/model"
)

func TestHashIgnoresKeyOrder(t *testing.T) {
	first := model.Record{}
	first["code"] = "A1"
	first["naam"] = "Centrum"
	first["oppervlakte"] = 12.5

	second := model.Record{}
	second["oppervlakte"] = 12.5
	second["naam"] = "Centrum"
	second["code"] = "A1"

	h1, err := fingerprint.Hash(first, "DGDialog")
	require.NoError(t, err)
	h2, err := fingerprint.Hash(second, "DGDialog")
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 32)

	again, err := fingerprint.Hash(first, "DGDialog")
	require.NoError(t, err)
	assert.Equal(t, h1, again)
}

func TestHashDependsOnApplicationAndData(t *testing.T) {
	record := model.Record{"code": "A1"}
	base, err := fingerprint.Hash(record, "DGDialog")
	require.NoError(t, err)

	other, err := fingerprint.Hash(record, "Basisinformatie")
	require.NoError(t, err)
	assert.NotEqual(t, base, other)

	changed, err := fingerprint.Hash(model.Record{"code": "A2"}, "DGDialog")
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)
}

func TestHashSkipsMetadata(t *testing.T) {
	plain, err := fingerprint.Hash(model.Record{"code": "A1"}, "app")
	require.NoError(t, err)

	withMetadata, err := fingerprint.Hash(model.Record{"code": "A1", "_source": "x", "_id": "1"}, "app")
	require.NoError(t, err)

	assert.Equal(t, plain, withMetadata)
}

func TestCanonical(t *testing.T) {
	moment := time.Date(2020, 1, 1, 1, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{"integral float", 3.0, "3"},
		{"int", int64(3), "3"},
		{"decimal", 0.5, "0.5"},
		{"no html escaping", "a<b", `"a<b"`},
		{"nfc", "e\u0301", "\"\u00e9\""},
		{"utc time", moment, `"2020-01-01T00:00:00Z"`},
		{"null", nil, "null"},
		{"nested", map[string]any{"b": []any{true, nil}, "a": "x"}, `{"a":"x","b":[true,null]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := fingerprint.Canonical(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}

	_, err := fingerprint.Canonical(struct{}{})
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, fingerprint.Equal(int64(1), 1.0))
	assert.True(t, fingerprint.Equal(map[string]any{"a": 1, "b": 2}, map[string]any{"b": 2.0, "a": 1}))
	assert.False(t, fingerprint.Equal("1", 1))
}
