package model

import (
	"fmt"
	"strings"
	"time"
)

// RelationCatalog contains all relation collections
const RelationCatalog = "rel"

// MatchMethod is the way a source value finds its destination
type MatchMethod int

const (
	// MatchEquals means destination attribute equals the bronwaarde
	MatchEquals MatchMethod = iota
	// MatchLiesIn means source geometry lies in destination geometry
	MatchLiesIn
)

func (m MatchMethod) String() string {
	if m == MatchLiesIn {
		return "lies_in"
	}

	return "equals"
}

func (m MatchMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MatchMethod) UnmarshalText(data []byte) error {
	switch strings.ToLower(string(data)) {
	case "", "equals":
		*m = MatchEquals
	case "lies_in", "liesin":
		*m = MatchLiesIn
	default:
		return fmt.Errorf("unknown match method %q", string(data))
	}

	return nil
}

// RelationSpec is a matching rule for one source application.
// An empty SourceApplication applies to any application.
type RelationSpec struct {
	SourceApplication    string      `json:"source_application" yaml:"source_application"`
	MatchMethod          MatchMethod `json:"match_method" yaml:"match_method"`
	SourceAttribute      string      `json:"source_attribute,omitempty" yaml:"source_attribute"`
	DestinationAttribute string      `json:"destination_attribute" yaml:"destination_attribute"`
	MultipleAllowed      bool        `json:"multiple_allowed" yaml:"multiple_allowed"`
	NoneAllowed          bool        `json:"none_allowed" yaml:"none_allowed"`
}

// AppliesTo returns true if the spec is the rule for that application
func (s RelationSpec) AppliesTo(application string) bool {
	return s.SourceApplication == "" || s.SourceApplication == application
}

// RelationCollectionName returns the name of the relation collection of a reference field
func RelationCollectionName(catalog, collection, field string) string {
	return catalog + "_" + collection + "_" + field
}

// Relation attributes, as stored in relation records
const (
	RelSrcID          = "src_id"
	RelSrcSeqnr       = "src_seqnr"
	RelSrcSource      = "src_source"
	RelBronwaarde     = "bronwaarde"
	RelDerivation     = "derivation"
	RelDstSource      = "dst_source"
	RelDstID          = "dst_id"
	RelDstSeqnr       = "dst_seqnr"
	RelValidFrom      = "valid_from"
	RelValidUntil     = "valid_until"
	RelExpirationDate = "expiration_date"
	RelSrcLastEvent   = "src_last_event"
	RelDstLastEvent   = "dst_last_event"
)

// Relation is a derived link from a source occurrence to a destination version, over a validity.
// DstID is empty when nothing matched during that validity.
type Relation struct {
	SrcSource      string
	SrcID          string
	SrcSeqnr       string
	Bronwaarde     string
	Derivation     string
	DstSource      string
	DstID          string
	DstSeqnr       string
	ValidFrom      *time.Time
	ValidUntil     *time.Time
	ExpirationDate *time.Time
	SrcLastEvent   int64
	DstLastEvent   int64
}

// FunctionalID is the id shared by all segments of the same occurrence
func (r Relation) FunctionalID(multipleAllowed bool) string {
	parts := []string{r.SrcID}
	if r.SrcSeqnr != "" {
		parts = append(parts, r.SrcSeqnr)
	}

	parts = append(parts, r.SrcSource, r.Bronwaarde)
	if multipleAllowed && r.DstID != "" {
		parts = append(parts, r.DstID)
	}

	return strings.Join(parts, ".")
}

// HashedPart returns the attributes that make a relation change
func (r Relation) HashedPart() Record {
	return Record{
		RelDstID:          nullable(r.DstID),
		RelDstSeqnr:       nullable(r.DstSeqnr),
		RelValidFrom:      moment(r.ValidFrom),
		RelValidUntil:     moment(r.ValidUntil),
		RelExpirationDate: moment(r.ExpirationDate),
	}
}

// Record returns the relation as an entity record
func (r Relation) Record() Record {
	result := r.HashedPart()
	result[RelSrcID] = r.SrcID
	result[RelSrcSeqnr] = nullable(r.SrcSeqnr)
	result[RelSrcSource] = r.SrcSource
	result[RelBronwaarde] = r.Bronwaarde
	result[RelDerivation] = r.Derivation
	result[RelDstSource] = nullable(r.DstSource)
	result[RelSrcLastEvent] = r.SrcLastEvent
	result[RelDstLastEvent] = r.DstLastEvent
	return result
}

// RelationFromEntity reads a relation back from its stored entity
func RelationFromEntity(e Entity) Relation {
	attributes := e.Attributes
	return Relation{
		SrcSource:      stringOf(attributes[RelSrcSource]),
		SrcID:          stringOf(attributes[RelSrcID]),
		SrcSeqnr:       stringOf(attributes[RelSrcSeqnr]),
		Bronwaarde:     stringOf(attributes[RelBronwaarde]),
		Derivation:     stringOf(attributes[RelDerivation]),
		DstSource:      stringOf(attributes[RelDstSource]),
		DstID:          stringOf(attributes[RelDstID]),
		DstSeqnr:       stringOf(attributes[RelDstSeqnr]),
		ValidFrom:      e.ValidFrom,
		ValidUntil:     e.ValidUntil,
		ExpirationDate: e.ExpirationDate,
		SrcLastEvent:   int64Of(attributes[RelSrcLastEvent]),
		DstLastEvent:   int64Of(attributes[RelDstLastEvent]),
	}
}

// Conflict is a source occurrence matching too many destinations
type Conflict struct {
	SrcID        string   `json:"src_id"`
	SrcSeqnr     string   `json:"src_seqnr,omitempty"`
	Bronwaarde   string   `json:"bronwaarde"`
	Kept         string   `json:"kept"`
	Destinations []string `json:"destinations"`
}

func nullable(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func moment(value *time.Time) any {
	if value == nil {
		return nil
	}

	return value.UTC().Format(time.RFC3339)
}

func stringOf(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func int64Of(value any) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
