package model

import (
	"fmt"
	"strings"
	"time"
)

// Action is the kind of change an event carries
type Action int

const (
	ActionAdd Action = iota
	ActionModify
	ActionConfirm
	ActionDelete
	ActionBulkConfirm
)

// Actions lists all actions, in order of declaration
var Actions = []Action{ActionAdd, ActionModify, ActionConfirm, ActionDelete, ActionBulkConfirm}

var actionNames = map[Action]string{
	ActionAdd:         "ADD",
	ActionModify:      "MODIFY",
	ActionConfirm:     "CONFIRM",
	ActionDelete:      "DELETE",
	ActionBulkConfirm: "BULKCONFIRM",
}

func (a Action) String() string {
	if name, found := actionNames[a]; found {
		return name
	}

	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction returns the action for its name, case insensitive
func ParseAction(value string) (Action, error) {
	for action, name := range actionNames {
		if strings.EqualFold(name, value) {
			return action, nil
		}
	}

	return 0, fmt.Errorf("unknown action %q", value)
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(data []byte) error {
	action, err := ParseAction(string(data))
	if err != nil {
		return err
	}

	*a = action
	return nil
}

// Modification is a field level change
type Modification struct {
	Key      string `json:"key"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// Confirm is a member of a BULKCONFIRM event
type Confirm struct {
	TID       string `json:"tid"`
	LastEvent int64  `json:"last_event"`
}

// EventContents depends on the action:
// ADD carries the full record, MODIFY the modifications,
// CONFIRM and DELETE the last event (plus hash for CONFIRM),
// BULKCONFIRM the confirmed members.
type EventContents struct {
	Record        Record         `json:"record,omitempty"`
	Hash          string         `json:"hash,omitempty"`
	Application   string         `json:"application,omitempty"`
	Modifications []Modification `json:"modifications,omitempty"`
	LastEvent     *int64         `json:"last_event,omitempty"`
	Confirms      []Confirm      `json:"confirms,omitempty"`
}

// Event is an append only change on an entity.
// ID is set by the event log when appended.
type Event struct {
	ID         int64         `json:"event_id,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Catalog    string        `json:"catalog"`
	Collection string        `json:"collection"`
	Version    string        `json:"version"`
	Action     Action        `json:"action"`
	Source     string        `json:"source"`
	SourceID   string        `json:"source_id,omitempty"`
	TID        string        `json:"tid,omitempty"`
	Contents   EventContents `json:"contents"`
}

// LastEventOf returns a pointer to value, or nil for 0 (entity never seen)
func LastEventOf(value int64) *int64 {
	if value == 0 {
		return nil
	}

	return &value
}

// ExpectedLastEvent returns the last event the target entity should be at, 0 if none
func (e Event) ExpectedLastEvent() int64 {
	if e.Contents.LastEvent == nil {
		return 0
	}

	return *e.Contents.LastEvent
}
