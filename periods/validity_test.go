package periods_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zefrenchwan/registries.git/periods"
)

func TestValidityBounds(t *testing.T) {
	from, until := periods.Bounds(periods.NewValidity(nil, nil))
	assert.Nil(t, from)
	assert.Nil(t, until)

	validity := periods.NewValidity(date(2020, 1, 1), date(2021, 1, 1))
	from, until = periods.Bounds(validity)
	require.NotNil(t, from)
	require.NotNil(t, until)
	assert.True(t, from.Equal(*date(2020, 1, 1)))
	assert.True(t, until.Equal(*date(2021, 1, 1)))

	assert.True(t, periods.ValidityContains(validity, *date(2020, 1, 1)))
	assert.False(t, periods.ValidityContains(validity, *date(2021, 1, 1)))

	assert.True(t, periods.NewValidity(date(2021, 1, 1), date(2021, 1, 1)).IsEmpty())
	assert.True(t, periods.NewValidity(date(2021, 1, 1), date(2020, 1, 1)).IsEmpty())
}

func TestValiditySplit(t *testing.T) {
	points := periods.Boundaries(
		periods.NewValidity(date(2020, 1, 1), date(2020, 6, 1)),
		periods.NewValidity(date(2020, 6, 1), nil),
		periods.NewValidity(nil, date(2019, 1, 1)),
	)

	require.Len(t, points, 3)
	assert.True(t, points[0].Equal(*date(2019, 1, 1)))

	pieces := periods.Split(periods.NewValidity(date(2019, 6, 1), nil), points)
	require.Len(t, pieces, 3)

	expected := []struct{ from, until *time.Time }{
		{date(2019, 6, 1), date(2020, 1, 1)},
		{date(2020, 1, 1), date(2020, 6, 1)},
		{date(2020, 6, 1), nil},
	}

	for index, piece := range pieces {
		assert.Equal(t, 0, periods.ValidityCompare(periods.NewValidity(expected[index].from, expected[index].until), piece))
	}

	assert.Nil(t, periods.Split(periods.NewValidity(date(2020, 1, 1), date(2020, 1, 1)), points))
}

func TestValidityUnion(t *testing.T) {
	runs := periods.ValidityUnion(
		periods.NewValidity(date(2012, 1, 1), nil),
		periods.NewValidity(date(2006, 1, 1), date(2008, 1, 1)),
		periods.NewValidity(date(2008, 1, 1), date(2010, 1, 1)),
		periods.NewValidity(date(2011, 1, 1), date(2011, 1, 1)),
	)

	require.Len(t, runs, 2)
	from, until := periods.Bounds(runs[0])
	assert.True(t, from.Equal(*date(2006, 1, 1)))
	assert.True(t, until.Equal(*date(2010, 1, 1)))

	from, until = periods.Bounds(runs[1])
	assert.True(t, from.Equal(*date(2012, 1, 1)))
	assert.Nil(t, until)

	assert.Empty(t, periods.ValidityUnion())
}
