package model

import (
	"fmt"
	"strings"
)

// Mode tells whether a snapshot is the complete state of a source
type Mode int

const (
	// ModeFull snapshots imply deletion of missing tids
	ModeFull Mode = iota
	// ModeDelta snapshots never delete
	ModeDelta
)

func (m Mode) String() string {
	if m == ModeDelta {
		return "delta"
	}

	return "full"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(data []byte) error {
	switch strings.ToLower(string(data)) {
	case "", "full":
		*m = ModeFull
	case "delta":
		*m = ModeDelta
	default:
		return fmt.Errorf("unknown mode %q", string(data))
	}

	return nil
}

// Dependency is a (catalog, collection, source) that should have been imported before
type Dependency struct {
	Catalogue  string `json:"catalogue"`
	Collection string `json:"collection"`
	Source     string `json:"source"`
}

// SnapshotHeader describes where records come from
type SnapshotHeader struct {
	Catalogue   string      `json:"catalogue"`
	Collection  string      `json:"collection"`
	Source      string      `json:"source"`
	Application string      `json:"application"`
	Mode        Mode        `json:"mode"`
	DependsOn   *Dependency `json:"depends_on,omitempty"`
}

// Snapshot is a message containing records to import
type Snapshot struct {
	Header   SnapshotHeader `json:"header"`
	Contents []Record       `json:"contents"`
}
