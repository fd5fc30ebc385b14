package periods

import (
	"errors"
	"slices"
	"time"
)

// timeComparator is the comparator for all time operations of this package
var timeComparator = NewTimeComparator()

// Period is a set of moments kept as separated validities.
// For instance, a building referred to by a parcel from 1999 to 2021 and since 2023.
// The zero value is the empty period.
type Period struct {
	elements []Interval[time.Time]
}

// NewEmptyPeriod returns an empty period
func NewEmptyPeriod() Period {
	return Period{elements: make([]Interval[time.Time], 0)}
}

// IsEmptyPeriod returns true for an empty period or nil
func (p *Period) IsEmptyPeriod() bool {
	return p == nil || len(p.elements) == 0 || p.elements[0].IsEmpty()
}

// AsIntervals returns the runs of the period, sorted and separated
func (p *Period) AsIntervals() []Interval[time.Time] {
	if p.IsEmptyPeriod() {
		return nil
	}

	result := slices.Clone(p.elements)
	slices.SortFunc(result, ValidityCompare)
	return result
}

// AddInterval adds moments of a validity, merging runs that touch
func (p *Period) AddInterval(i Interval[time.Time]) error {
	switch {
	case p == nil:
		return errors.New("nil period")
	case i.IsEmpty():
		return nil
	case p.IsEmptyPeriod():
		p.elements = []Interval[time.Time]{i}
	case !p.elements[0].IsFull():
		p.elements = timeComparator.Union(i, p.elements...)
	}

	return nil
}

// Remove keeps moments of p that are not in other
func (p *Period) Remove(other Period) {
	if p.IsEmptyPeriod() || other.IsEmptyPeriod() {
		return
	}

	parts := make([]Interval[time.Time], 0, len(p.elements))
	for _, current := range p.elements {
		for _, remaining := range timeComparator.Remove(current, other.elements...) {
			if !remaining.IsEmpty() {
				parts = append(parts, remaining)
			}
		}
	}

	if len(parts) > 1 {
		parts = timeComparator.Union(parts[0], parts[1:]...)
	}

	p.elements = parts
}
