package geometry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zefrenchwan/registries.git/geometry"
)

const square = "POLYGON((0 0,10 0,10 10,0 10,0 0))"

func TestNormalize(t *testing.T) {
	value, err := geometry.Normalize("  point (1 2) ")
	require.NoError(t, err)
	assert.Equal(t, "POINT(1 2)", value)

	_, err = geometry.Normalize("not a geometry")
	assert.Error(t, err)
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected bool
	}{
		{"square", square, true},
		{"multi", "MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)),((5 5,6 5,6 6,5 6,5 5)))", true},
		{"bow tie", "POLYGON((0 0,10 10,10 0,0 10,0 0))", false},
		{"flat", "POLYGON((0 0,10 0,20 0,0 0))", false},
		{"point", "POINT(1 1)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := geometry.Parse(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, geometry.IsValid(value))
		})
	}
}

func TestLiesIn(t *testing.T) {
	assert.True(t, geometry.LiesInWKT("POINT(5 5)", square))
	assert.False(t, geometry.LiesInWKT("POINT(15 5)", square))
	assert.True(t, geometry.LiesInWKT("POLYGON((1 1,2 1,2 2,1 2,1 1))", square))
	assert.False(t, geometry.LiesInWKT("POINT(5 5)", "POLYGON((0 0,10 10,10 0,0 10,0 0))"), "invalid destinations never match")
	assert.False(t, geometry.LiesInWKT("garbage", square))
}
