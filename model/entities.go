package model

import (
	"strings"
	"time"

	"github.com/zefrenchwan/registries.git/periods"
)

// MetadataPrefix starts keys of records that are neither hashed nor compared
const MetadataPrefix = "_"

// Record is a loosely typed set of attributes
type Record map[string]any

// IsMetadata returns true for keys that are bookkeeping, not data
func IsMetadata(key string) bool {
	return strings.HasPrefix(key, MetadataPrefix)
}

// Data returns a copy of the record without its metadata keys
func (r Record) Data() Record {
	result := make(Record, len(r))
	for key, value := range r {
		if !IsMetadata(key) {
			result[key] = value
		}
	}

	return result
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	result := make(Record, len(r))
	for key, value := range r {
		result[key] = value
	}

	return result
}

// Entity is a stored version of a real world object.
// For stateless collections, Seqnr is empty and TID is ID.
type Entity struct {
	Catalog        string     `json:"catalog"`
	Collection     string     `json:"collection"`
	ID             string     `json:"id"`
	Seqnr          string     `json:"seqnr,omitempty"`
	TID            string     `json:"tid"`
	Source         string     `json:"source"`
	Application    string     `json:"application"`
	Hash           string     `json:"hash"`
	ValidFrom      *time.Time `json:"valid_from,omitempty"`
	ValidUntil     *time.Time `json:"valid_until,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	LastEvent      int64      `json:"last_event"`
	LastConfirmed  *time.Time `json:"last_confirmed,omitempty"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	Attributes     Record     `json:"attributes"`
}

// TID returns the technical id of a version
func TID(id, seqnr string, stateful bool) string {
	if !stateful {
		return id
	}

	return id + "." + seqnr
}

// IsDeleted returns true for tombstones
func (e Entity) IsDeleted() bool {
	return e.DeletedAt != nil
}

// Validity returns [validFrom, validUntil)
func (e Entity) Validity() periods.Interval[time.Time] {
	return periods.NewValidity(e.ValidFrom, e.ValidUntil)
}

// IsValidAt returns true if validFrom <= moment < validUntil
func (e Entity) IsValidAt(moment time.Time) bool {
	return (e.ValidFrom == nil || !e.ValidFrom.After(moment)) && (e.ValidUntil == nil || e.ValidUntil.After(moment))
}
