package periods_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zefrenchwan/registries.git/periods"
)

func TestIntervalsCompare(t *testing.T) {
	comparator := periods.NewIntComparator()

	empty := comparator.NewEmptyInterval()
	full := comparator.NewFullInterval()
	left := comparator.NewLeftInfiniteInterval(5, false)
	leftIn := comparator.NewLeftInfiniteInterval(5, true)

	assert.True(t, empty.IsEmpty())
	assert.Equal(t, 0, comparator.CompareInterval(empty, comparator.NewEmptyInterval()))
	assert.Positive(t, comparator.CompareInterval(empty, full), "empty is the greatest value")
	assert.Positive(t, comparator.CompareInterval(full, left))
	assert.Negative(t, comparator.CompareInterval(left, leftIn))
	assert.Equal(t, 0, comparator.CompareInterval(left, left))

	a, err := comparator.NewFiniteInterval(1, 3, true, false)
	require.NoError(t, err)
	b, err := comparator.NewFiniteInterval(1, 3, false, false)
	require.NoError(t, err)
	assert.Negative(t, comparator.CompareInterval(a, b), "included low bound comes first")
}

func TestIntervalsInvalidFinite(t *testing.T) {
	comparator := periods.NewIntComparator()

	_, err := comparator.NewFiniteInterval(3, 1, true, true)
	assert.Error(t, err)

	_, err = comparator.NewFiniteInterval(3, 3, true, false)
	assert.Error(t, err)

	point, err := comparator.NewFiniteInterval(3, 3, true, true)
	require.NoError(t, err)
	assert.True(t, comparator.Contains(point, 3))
}

func TestIntervalsContains(t *testing.T) {
	comparator := periods.NewIntComparator()
	value, err := comparator.NewFiniteInterval(0, 10, true, false)
	require.NoError(t, err)

	tests := []struct {
		name     string
		value    int64
		expected bool
	}{
		{"low bound included", 0, true},
		{"inside", 5, true},
		{"high bound excluded", 10, false},
		{"before", -1, false},
		{"after", 11, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, comparator.Contains(value, tt.value))
		})
	}

	assert.False(t, comparator.Contains(comparator.NewEmptyInterval(), 0))
	assert.True(t, comparator.Contains(comparator.NewFullInterval(), 42))
}

func TestIntervalsIntersection(t *testing.T) {
	comparator := periods.NewIntComparator()
	a, _ := comparator.NewFiniteInterval(0, 10, true, false)
	b, _ := comparator.NewFiniteInterval(5, 20, true, true)
	c, _ := comparator.NewFiniteInterval(10, 20, true, true)

	expected, _ := comparator.NewFiniteInterval(5, 10, true, false)
	assert.Equal(t, 0, comparator.CompareInterval(expected, comparator.Intersection(a, b)))
	assert.True(t, comparator.Intersection(a, c).IsEmpty(), "half open intervals touching are disjoint")
	assert.True(t, comparator.Intersection(a, comparator.NewEmptyInterval()).IsEmpty())
	assert.Equal(t, 0, comparator.CompareInterval(a, comparator.Intersection(a, comparator.NewFullInterval())))
}

func TestIntervalsUnion(t *testing.T) {
	comparator := periods.NewIntComparator()
	a, _ := comparator.NewFiniteInterval(0, 10, true, false)
	b, _ := comparator.NewFiniteInterval(10, 20, true, false)
	c, _ := comparator.NewFiniteInterval(30, 40, true, false)

	union := comparator.Union(a, b, c)
	require.Len(t, union, 2)

	joined, _ := comparator.NewFiniteInterval(0, 20, true, false)
	found := false
	for _, element := range union {
		if comparator.CompareInterval(element, joined) == 0 {
			found = true
		}
	}

	assert.True(t, found, "adjacent half open intervals join")

	open, _ := comparator.NewFiniteInterval(10, 20, false, false)
	assert.Len(t, comparator.Union(a, open), 2, "both excluded bounds keep intervals separated")

	allEmpty := comparator.Union(comparator.NewEmptyInterval(), comparator.NewEmptyInterval())
	require.Len(t, allEmpty, 1)
	assert.True(t, allEmpty[0].IsEmpty())
}

func TestIntervalsRemove(t *testing.T) {
	comparator := periods.NewIntComparator()
	base, _ := comparator.NewFiniteInterval(0, 100, true, false)
	first, _ := comparator.NewFiniteInterval(10, 20, true, false)
	second, _ := comparator.NewFiniteInterval(50, 60, true, false)

	result := comparator.Remove(base, first, second)
	require.Len(t, result, 3)

	for _, value := range []int64{0, 9, 20, 49, 60, 99} {
		contained := false
		for _, element := range result {
			contained = contained || comparator.Contains(element, value)
		}

		assert.True(t, contained, "value %d should remain", value)
	}

	for _, value := range []int64{10, 19, 50, 59, 100} {
		for _, element := range result {
			assert.False(t, comparator.Contains(element, value), "value %d should be removed", value)
		}
	}

	all := comparator.Remove(base, comparator.NewFullInterval())
	require.Len(t, all, 1)
	assert.True(t, all[0].IsEmpty())
}

func TestIntervalsComplement(t *testing.T) {
	comparator := periods.NewIntComparator()
	value, _ := comparator.NewFiniteInterval(0, 10, true, false)

	complement := comparator.Complement(value)
	require.Len(t, complement, 2)
	assert.True(t, comparator.Contains(complement[0], -1))
	assert.False(t, comparator.Contains(complement[0], 0))
	assert.True(t, comparator.Contains(complement[1], 10))

	assert.True(t, comparator.Complement(comparator.NewFullInterval())[0].IsEmpty())
	assert.True(t, comparator.Complement(comparator.NewEmptyInterval())[0].IsFull())
}
