package storage

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/zefrenchwan/registries.git/model"
)

// Order is the order entities are scanned in
type Order int

const (
	// OrderByTID sorts by technical id
	OrderByTID Order = iota
	// OrderByLastEvent sorts by last event, then technical id
	OrderByLastEvent
	// OrderByIDSeqnr sorts by functional id, then seqnr. Sweep algorithms rely on it
	OrderByIDSeqnr
)

// ValuesFilter keeps entities having one of values for an attribute
type ValuesFilter struct {
	Attribute string
	Values    []string
}

// Query selects entities of a collection.
// Zero values of filters mean no filter.
type Query struct {
	Catalog        string
	Collection     string
	Source         string
	IncludeDeleted bool
	IDs            []string
	TIDs           []string
	// IDAfter keeps ids strictly greater than the value, for keyset pagination
	IDAfter string
	// LastEventAfter is exclusive, LastEventUpTo is inclusive
	LastEventAfter *int64
	LastEventUpTo  *int64
	// AttributeIn compares the text of a scalar attribute
	AttributeIn *ValuesFilter
	// ReferenceIn compares the bronwaardes of a reference attribute
	ReferenceIn *ValuesFilter
	OrderBy     Order
	Limit       int
}

// EventFilter selects events of the log, in ascending id order
type EventFilter struct {
	Catalog    string
	Collection string
	Source     string
	AfterID    int64
	UpToID     int64
	Limit      int
}

// Store is the only shared mutable resource: entities, event log and marks.
// Atomically runs fn in a unit of work: either all its changes are kept, or none.
type Store interface {
	ScanEntities(ctx context.Context, query Query, fn func(model.Entity) error) error
	ListIDs(ctx context.Context, query Query) ([]string, error)
	GetEntity(ctx context.Context, catalog, collection, tid string) (model.Entity, bool, error)
	CountEntities(ctx context.Context, catalog, collection string, includeDeleted bool) (int64, error)
	MaxLastEvent(ctx context.Context, catalog, collection string) (int64, error)
	DistinctApplications(ctx context.Context, catalog, collection string) ([]string, error)
	PutEntity(ctx context.Context, entity model.Entity) error

	AppendEvents(ctx context.Context, events []model.Event) error
	ReadEvents(ctx context.Context, filter EventFilter, fn func(model.Event) error) error
	LastEventID(ctx context.Context, catalog, collection string) (int64, error)
	HasEvents(ctx context.Context, catalog, collection, source string) (bool, error)

	Mark(ctx context.Context, key string) (int64, error)
	SetMark(ctx context.Context, key string, value int64) error

	Atomically(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// AppliedMarkKey is the key of the last applied event id of a collection
func AppliedMarkKey(catalog, collection string) string {
	return "applied:" + catalog + ":" + collection
}

// RelationMarkKeys are the keys of the source and destination high water marks of a relation
func RelationMarkKeys(relation string) (string, string) {
	return "relate:" + relation + ":src", "relate:" + relation + ":dst"
}

// Matches returns true if entity passes all filters of the query but ordering and limits
func (q Query) Matches(entity model.Entity) bool {
	switch {
	case entity.Catalog != q.Catalog || entity.Collection != q.Collection:
		return false
	case q.Source != "" && entity.Source != q.Source:
		return false
	case !q.IncludeDeleted && entity.IsDeleted():
		return false
	case len(q.IDs) != 0 && !slices.Contains(q.IDs, entity.ID):
		return false
	case len(q.TIDs) != 0 && !slices.Contains(q.TIDs, entity.TID):
		return false
	case q.IDAfter != "" && entity.ID <= q.IDAfter:
		return false
	case q.LastEventAfter != nil && entity.LastEvent <= *q.LastEventAfter:
		return false
	case q.LastEventUpTo != nil && entity.LastEvent > *q.LastEventUpTo:
		return false
	}

	if q.AttributeIn != nil && !slices.Contains(q.AttributeIn.Values, TextValue(entity.Attributes[q.AttributeIn.Attribute])) {
		return false
	}

	if q.ReferenceIn != nil {
		found := false
		for _, bronwaarde := range Bronwaardes(entity.Attributes[q.ReferenceIn.Attribute]) {
			if slices.Contains(q.ReferenceIn.Values, bronwaarde) {
				found = true
				break
			}
		}

		if !found {
			return false
		}
	}

	return true
}

// Compare sorts entities by the order of the query
func (q Query) Compare(a, b model.Entity) int {
	switch q.OrderBy {
	case OrderByLastEvent:
		if a.LastEvent != b.LastEvent {
			return compareInt(a.LastEvent, b.LastEvent)
		}
	case OrderByIDSeqnr:
		if cmp := strings.Compare(a.ID, b.ID); cmp != 0 {
			return cmp
		} else if cmp := CompareSeqnr(a.Seqnr, b.Seqnr); cmp != 0 {
			return cmp
		}
	}

	return strings.Compare(a.TID, b.TID)
}

// CompareSeqnr compares sequence numbers numerically when possible
func CompareSeqnr(a, b string) int {
	left, errLeft := strconv.ParseInt(a, 10, 64)
	right, errRight := strconv.ParseInt(b, 10, 64)
	if errLeft == nil && errRight == nil {
		return compareInt(left, right)
	}

	return strings.Compare(a, b)
}

// TextValue returns the text form of a scalar attribute value
func TextValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any:
		return TextValue(v["bronwaarde"])
	default:
		return ""
	}
}

// Bronwaardes returns the source values of a stored reference, single or many
func Bronwaardes(value any) []string {
	switch v := value.(type) {
	case map[string]any:
		if text := TextValue(v["bronwaarde"]); text != "" {
			return []string{text}
		}
	case []any:
		var result []string
		for _, element := range v {
			result = append(result, Bronwaardes(element)...)
		}

		return result
	case string:
		if v != "" {
			return []string{v}
		}
	}

	return nil
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}

	return 0
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*Dao)(nil)
)
