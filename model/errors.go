package model

import "errors"

var (
	// ErrDependencyNotMet means an upstream collection has no events yet
	ErrDependencyNotMet = errors.New("dependency not met")
	// ErrAutoIDConflict means two source values were issued the same generated id
	ErrAutoIDConflict = errors.New("auto id conflict")
	// ErrRelationSpecMissing means no relation spec exists for an application of the source data
	ErrRelationSpecMissing = errors.New("relation spec missing")
	// ErrModelInconsistent means applied events are ahead of the event log
	ErrModelInconsistent = errors.New("model inconsistent")
	// ErrStaleEvent means an event does not match the current state of its entity
	ErrStaleEvent = errors.New("stale event")
	// ErrUniqueDestinationConflict means a single valued relation matched more than one destination
	ErrUniqueDestinationConflict = errors.New("unique destination conflict")
	// ErrNotFound means the requested element does not exist
	ErrNotFound = errors.New("not found")
)
