package periods

import (
	"slices"
	"time"
)

// NewValidity returns the half open interval [from, until).
// A nil from means since forever, a nil until means still valid.
// It returns the empty interval if until is not after from.
func NewValidity(from, until *time.Time) Interval[time.Time] {
	switch {
	case from == nil && until == nil:
		return timeComparator.NewFullInterval()
	case from == nil:
		return timeComparator.NewLeftInfiniteInterval(*until, false)
	case until == nil:
		return timeComparator.NewRightInfiniteInterval(*from, true)
	}

	result, err := timeComparator.NewFiniteInterval(*from, *until, true, false)
	if err != nil {
		return timeComparator.NewEmptyInterval()
	}

	return result
}

// Bounds returns the bounds of a validity interval, nil for unbounded sides
func Bounds(i Interval[time.Time]) (*time.Time, *time.Time) {
	var from, until *time.Time
	if low, found := i.Low(); found {
		from = &low
	}

	if high, found := i.High(); found {
		until = &high
	}

	return from, until
}

// ValidityCompare compares two validity intervals, see Comparator.CompareInterval
func ValidityCompare(a, b Interval[time.Time]) int {
	return timeComparator.CompareInterval(a, b)
}

// ValidityIntersection returns the intersection of validities
func ValidityIntersection(base Interval[time.Time], others ...Interval[time.Time]) Interval[time.Time] {
	return timeComparator.Intersection(base, others...)
}

// ValidityContains returns true if moment is in the validity
func ValidityContains(i Interval[time.Time], moment time.Time) bool {
	return timeComparator.Contains(i, moment)
}

// Boundaries returns the sorted distinct finite bounds of intervals.
// Sweep algorithms use those points to split time into elementary intervals.
func Boundaries(intervals ...Interval[time.Time]) []time.Time {
	points := make([]time.Time, 0, 2*len(intervals))
	for _, i := range intervals {
		if low, found := i.Low(); found {
			points = append(points, low)
		}

		if high, found := i.High(); found {
			points = append(points, high)
		}
	}

	slices.SortFunc(points, TimeComparator)
	return slices.CompactFunc(points, func(a, b time.Time) bool {
		return a.Equal(b)
	})
}

// Split cuts the validity at every point strictly inside it.
// Result is sorted, pieces are half open and their union is the validity.
func Split(validity Interval[time.Time], points []time.Time) []Interval[time.Time] {
	if validity.IsEmpty() {
		return nil
	}

	var result []Interval[time.Time]
	from, until := Bounds(validity)
	current := from
	for _, point := range points {
		if !timeComparator.Contains(validity, point) {
			continue
		} else if current != nil && !point.After(*current) {
			continue
		}

		cut := point
		result = append(result, NewValidity(current, &cut))
		current = &cut
	}

	result = append(result, NewValidity(current, until))
	return result
}

// ValidityUnion returns the runs of validities: sorted, separated, non empty.
// [a, b) and [b, c) merge into [a, c), a gap starts a new run.
func ValidityUnion(intervals ...Interval[time.Time]) []Interval[time.Time] {
	var lifetime Period
	for _, i := range intervals {
		// error only happens on a nil receiver
		_ = lifetime.AddInterval(i)
	}

	return lifetime.AsIntervals()
}
