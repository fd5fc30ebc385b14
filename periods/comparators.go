package periods

import (
	"strings"
	"time"
)

// NewIntComparator returns a tool to deal with intervals of int64
func NewIntComparator() Comparator[int64] {
	return NewComparator(IntComparator)
}

// NewTimeComparator returns a tool to deal with intervals of time
func NewTimeComparator() Comparator[time.Time] {
	return NewComparator(TimeComparator)
}

// NewStringComparator returns a tool to deal with intervals of strings, in lexicographic order
func NewStringComparator() Comparator[string] {
	return NewComparator(strings.Compare)
}

// IntComparator compares int64 values.
func IntComparator(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}

	return 0
}

// TimeComparator compares time using their UTC values
func TimeComparator(a, b time.Time) int {
	return a.UTC().Compare(b.UTC())
}
