package model

import (
	"fmt"
	"sync"
)

// Summary reports what a run did. It is always returned, even on failure.
type Summary struct {
	// mutex protects all fields, jobs may merge summaries concurrently
	mutex sync.Mutex
	// maxWarnings bounds the size of Warnings
	maxWarnings int

	Actions   map[Action]int `json:"actions"`
	Stale     int            `json:"stale"`
	Conflicts int            `json:"conflicts"`
	Missing   int            `json:"missing"`
	Errors    int            `json:"errors"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// NewSummary returns an empty summary keeping at most maxWarnings examples
func NewSummary(maxWarnings int) *Summary {
	return &Summary{maxWarnings: maxWarnings, Actions: make(map[Action]int)}
}

// Count adds n events of an action
func (s *Summary) Count(action Action, n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Actions[action] += n
}

// AddStale counts a skipped event
func (s *Summary) AddStale(format string, args ...any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Stale++
	s.warn(format, args...)
}

// AddConflict counts a unique destination conflict
func (s *Summary) AddConflict(format string, args ...any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Conflicts++
	s.warn(format, args...)
}

// AddMissing counts an unmatched source value
func (s *Summary) AddMissing(format string, args ...any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Missing++
	s.warn(format, args...)
}

// AddError counts a failure
func (s *Summary) AddError(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Errors++
	s.warn("%s", err.Error())
}

// Total returns the number of events of all actions
func (s *Summary) Total() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	total := 0
	for _, count := range s.Actions {
		total += count
	}

	return total
}

// Of returns the number of events for an action
func (s *Summary) Of(action Action) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.Actions[action]
}

// Merge adds other counts into s
func (s *Summary) Merge(other *Summary) {
	if other == nil || other == s {
		return
	}

	other.mutex.Lock()
	actions := make(map[Action]int, len(other.Actions))
	for action, count := range other.Actions {
		actions[action] = count
	}
	stale, conflicts, missing, errs := other.Stale, other.Conflicts, other.Missing, other.Errors
	warnings := append([]string(nil), other.Warnings...)
	other.mutex.Unlock()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	for action, count := range actions {
		s.Actions[action] += count
	}

	s.Stale += stale
	s.Conflicts += conflicts
	s.Missing += missing
	s.Errors += errs
	for _, warning := range warnings {
		s.warn("%s", warning)
	}
}

// warn keeps the warning if the bound allows it. Caller holds the mutex
func (s *Summary) warn(format string, args ...any) {
	if len(s.Warnings) < s.maxWarnings {
		s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
	}
}
