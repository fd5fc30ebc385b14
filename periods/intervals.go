package periods

import (
	"errors"
)

// Comparator wraps a compare function and builds intervals over its type.
type Comparator[T any] struct {
	compareFn func(T, T) int
}

// NewComparator returns an interval manager based on a compare function.
// Contract for compareFn(a, b) is:
// * if a < b, return a negative value
// * if a > b, return a positive value
// * if a == b, return 0
// * comparison is total and quick
func NewComparator[T any](compareFn func(T, T) int) Comparator[T] {
	return Comparator[T]{compareFn: compareFn}
}

// Compare decorates the compare function
func (c Comparator[T]) Compare(a, b T) int {
	return c.compareFn(a, b)
}

// Interval is a convex set of values of T.
// Zero value is the empty interval is NOT guaranteed: use comparator constructors.
type Interval[T any] struct {
	// empty is true for the empty set, other fields are then meaningless
	empty bool
	// lowUnbounded is true when interval has no lower bound
	lowUnbounded bool
	// low is the lower bound, if any
	low T
	// lowIn is true if low belongs to the interval
	lowIn bool
	// highUnbounded is true when interval has no upper bound
	highUnbounded bool
	// high is the upper bound, if any
	high T
	// highIn is true if high belongs to the interval
	highIn bool
}

// IsFull returns true for ]-oo, +oo[
func (i Interval[T]) IsFull() bool {
	return !i.empty && i.lowUnbounded && i.highUnbounded
}

// IsEmpty is true for an empty interval, false otherwise
func (i Interval[T]) IsEmpty() bool {
	return i.empty
}

// Low returns the lower bound, false if interval is empty or unbounded to the left
func (i Interval[T]) Low() (T, bool) {
	if i.empty || i.lowUnbounded {
		var zero T
		return zero, false
	}

	return i.low, true
}

// High returns the upper bound, false if interval is empty or unbounded to the right
func (i Interval[T]) High() (T, bool) {
	if i.empty || i.highUnbounded {
		var zero T
		return zero, false
	}

	return i.high, true
}

// LowIncluded returns true if the lower bound exists and belongs to the interval
func (i Interval[T]) LowIncluded() bool {
	return !i.empty && !i.lowUnbounded && i.lowIn
}

// HighIncluded returns true if the upper bound exists and belongs to the interval
func (i Interval[T]) HighIncluded() bool {
	return !i.empty && !i.highUnbounded && i.highIn
}

// NewEmptyInterval returns the empty interval
func (c Comparator[T]) NewEmptyInterval() Interval[T] {
	return Interval[T]{empty: true}
}

// NewFullInterval returns ]-oo, +oo[
func (c Comparator[T]) NewFullInterval() Interval[T] {
	return Interval[T]{lowUnbounded: true, highUnbounded: true}
}

// NewLeftInfiniteInterval returns ]-oo, high)
func (c Comparator[T]) NewLeftInfiniteInterval(high T, highIn bool) Interval[T] {
	return Interval[T]{lowUnbounded: true, high: high, highIn: highIn}
}

// NewRightInfiniteInterval returns (low, +oo[
func (c Comparator[T]) NewRightInfiniteInterval(low T, lowIn bool) Interval[T] {
	return Interval[T]{low: low, lowIn: lowIn, highUnbounded: true}
}

// NewFiniteInterval returns (low, high) or an error if that interval would be empty
func (c Comparator[T]) NewFiniteInterval(low, high T, lowIn, highIn bool) (Interval[T], error) {
	var result Interval[T]
	comparison := c.Compare(low, high)
	if comparison > 0 || (comparison == 0 && !(lowIn && highIn)) {
		return result, errors.New("interval parameters would make empty interval")
	}

	result.low = low
	result.high = high
	result.lowIn = lowIn
	result.highIn = highIn
	return result, nil
}

// Contains returns true if value belongs to the interval
func (c Comparator[T]) Contains(i Interval[T], value T) bool {
	if i.empty {
		return false
	}

	if !i.lowUnbounded {
		switch cmp := c.Compare(i.low, value); {
		case cmp > 0:
			return false
		case cmp == 0 && !i.lowIn:
			return false
		}
	}

	if !i.highUnbounded {
		switch cmp := c.Compare(value, i.high); {
		case cmp > 0:
			return false
		case cmp == 0 && !i.highIn:
			return false
		}
	}

	return true
}

// CompareInterval is a lexicographic order on intervals: lower bounds first, then upper bounds.
// Equal sets return 0. Empty is the greatest value, full comes after any bounded interval.
func (c Comparator[T]) CompareInterval(a, b Interval[T]) int {
	switch {
	case a.IsEmpty():
		if b.IsEmpty() {
			return 0
		}

		return 1
	case b.IsEmpty():
		return -1
	case a.IsFull():
		if b.IsFull() {
			return 0
		}

		return 1
	case b.IsFull():
		return -1
	}

	switch {
	case a.lowUnbounded && !b.lowUnbounded:
		return -1
	case b.lowUnbounded && !a.lowUnbounded:
		return 1
	case !a.lowUnbounded && !b.lowUnbounded:
		if cmp := c.Compare(a.low, b.low); cmp != 0 {
			return cmp
		} else if a.lowIn && !b.lowIn {
			return -1
		} else if !a.lowIn && b.lowIn {
			return 1
		}
	}

	switch {
	case a.highUnbounded && b.highUnbounded:
		return 0
	case a.highUnbounded:
		return 1
	case b.highUnbounded:
		return -1
	}

	if cmp := c.Compare(a.high, b.high); cmp != 0 {
		return cmp
	} else if a.highIn == b.highIn {
		return 0
	} else if a.highIn {
		return 1
	}

	return -1
}

// Complement returns the complement of the interval: one interval, or two for a bounded one
func (c Comparator[T]) Complement(i Interval[T]) []Interval[T] {
	switch {
	case i.empty:
		return []Interval[T]{c.NewFullInterval()}
	case i.lowUnbounded && i.highUnbounded:
		return []Interval[T]{c.NewEmptyInterval()}
	case i.lowUnbounded:
		return []Interval[T]{c.NewRightInfiniteInterval(i.high, !i.highIn)}
	case i.highUnbounded:
		return []Interval[T]{c.NewLeftInfiniteInterval(i.low, !i.lowIn)}
	}

	// (a,b) => ]-oo, a( and )b, +oo[
	return []Interval[T]{
		c.NewLeftInfiniteInterval(i.low, !i.lowIn),
		c.NewRightInfiniteInterval(i.high, !i.highIn),
	}
}

// Intersection returns the intersection of base and others
func (c Comparator[T]) Intersection(base Interval[T], others ...Interval[T]) Interval[T] {
	current := base
	for _, other := range others {
		if other.IsEmpty() || current.IsEmpty() {
			return c.NewEmptyInterval()
		} else if current.IsFull() {
			current = other
			continue
		} else if other.IsFull() {
			continue
		}

		var next Interval[T]

		// greatest lower bound
		switch {
		case current.lowUnbounded && other.lowUnbounded:
			next.lowUnbounded = true
		case current.lowUnbounded:
			next.low, next.lowIn = other.low, other.lowIn
		case other.lowUnbounded:
			next.low, next.lowIn = current.low, current.lowIn
		default:
			switch cmp := c.Compare(current.low, other.low); {
			case cmp == 0:
				next.low, next.lowIn = current.low, current.lowIn && other.lowIn
			case cmp < 0:
				next.low, next.lowIn = other.low, other.lowIn
			default:
				next.low, next.lowIn = current.low, current.lowIn
			}
		}

		// least upper bound
		switch {
		case current.highUnbounded && other.highUnbounded:
			next.highUnbounded = true
		case current.highUnbounded:
			next.high, next.highIn = other.high, other.highIn
		case other.highUnbounded:
			next.high, next.highIn = current.high, current.highIn
		default:
			switch cmp := c.Compare(current.high, other.high); {
			case cmp == 0:
				next.high, next.highIn = current.high, current.highIn && other.highIn
			case cmp < 0:
				next.high, next.highIn = current.high, current.highIn
			default:
				next.high, next.highIn = other.high, other.highIn
			}
		}

		if !next.lowUnbounded && !next.highUnbounded {
			switch cmp := c.Compare(next.low, next.high); {
			case cmp > 0:
				return c.NewEmptyInterval()
			case cmp == 0 && !(next.lowIn && next.highIn):
				return c.NewEmptyInterval()
			}
		}

		current = next
	}

	return current
}

// areSeparated returns true if the union of a and b is not an interval.
// [x, b) and [b, y) are joinable, [x, b) and (b, y) are not.
func (c Comparator[T]) areSeparated(a, b Interval[T]) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return false
	}

	// a ends before b starts
	if !a.highUnbounded && !b.lowUnbounded {
		cmp := c.Compare(a.high, b.low)
		if cmp < 0 || (cmp == 0 && !a.highIn && !b.lowIn) {
			return true
		}
	}

	// b ends before a starts
	if !b.highUnbounded && !a.lowUnbounded {
		cmp := c.Compare(b.high, a.low)
		if cmp < 0 || (cmp == 0 && !b.highIn && !a.lowIn) {
			return true
		}
	}

	return false
}

// hull returns the smallest interval containing all values, assuming they are not separated
func (c Comparator[T]) hull(values []Interval[T]) Interval[T] {
	result := values[0]
	for _, element := range values[1:] {
		if element.lowUnbounded {
			result.lowUnbounded = true
		} else if !result.lowUnbounded {
			cmp := c.Compare(result.low, element.low)
			if cmp > 0 || (cmp == 0 && !result.lowIn) {
				result.low, result.lowIn = element.low, element.lowIn
			}
		}

		if element.highUnbounded {
			result.highUnbounded = true
		} else if !result.highUnbounded {
			cmp := c.Compare(result.high, element.high)
			if cmp < 0 || (cmp == 0 && !result.highIn) {
				result.high, result.highIn = element.high, element.highIn
			}
		}
	}

	return result
}

// Union returns the union of intervals as separated intervals.
// If all sets are empty, result is just one empty set
func (c Comparator[T]) Union(base Interval[T], others ...Interval[T]) []Interval[T] {
	if base.IsFull() {
		return []Interval[T]{base}
	}

	result := make([]Interval[T], 0, 1+len(others))
	if !base.IsEmpty() {
		result = append(result, base)
	}

	for _, other := range others {
		if other.IsFull() {
			return []Interval[T]{c.NewFullInterval()}
		} else if other.IsEmpty() {
			continue
		}

		// elements of result are separated from each other.
		// Adding other may join some of them together
		separated := make([]Interval[T], 0, len(result)+1)
		toJoin := []Interval[T]{other}
		for _, current := range result {
			if c.areSeparated(current, other) {
				separated = append(separated, current)
			} else {
				toJoin = append(toJoin, current)
			}
		}

		result = append(separated, c.hull(toJoin))
	}

	if len(result) == 0 {
		return []Interval[T]{c.NewEmptyInterval()}
	}

	return result
}

// Remove returns base minus the union of elements, as separated intervals
func (c Comparator[T]) Remove(base Interval[T], elements ...Interval[T]) []Interval[T] {
	if len(elements) == 0 || base.IsEmpty() {
		return []Interval[T]{base}
	}

	toRemove := c.Union(elements[0], elements[1:]...)
	result := []Interval[T]{base}
	for _, removed := range toRemove {
		if removed.IsEmpty() {
			continue
		} else if removed.IsFull() {
			return []Interval[T]{c.NewEmptyInterval()}
		}

		// A - B = A inter (full - B), and full - B has one or two parts
		complement := c.Complement(removed)
		remaining := make([]Interval[T], 0, 2*len(result))
		for _, current := range result {
			for _, part := range complement {
				if value := c.Intersection(current, part); !value.IsEmpty() {
					remaining = append(remaining, value)
				}
			}
		}

		if len(remaining) == 0 {
			return []Interval[T]{c.NewEmptyInterval()}
		}

		result = remaining
	}

	return c.Union(result[0], result[1:]...)
}
