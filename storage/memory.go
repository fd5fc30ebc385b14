package storage

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/zefrenchwan/registries.git/model"
)

// MemoryStore keeps everything in memory. It is used for tests and local runs.
type MemoryStore struct {
	// unit serializes atomic units
	unit sync.Mutex
	// mutex protects data
	mutex sync.RWMutex
	// entities per collection key, then per tid
	entities map[string]map[string]model.Entity
	// events are sorted by id
	events []model.Event
	// marks are high water marks per key
	marks map[string]int64
	// lastID is the last issued event id
	lastID int64
	// clock returns the current time for event timestamps
	clock func() time.Time
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]map[string]model.Entity),
		marks:    make(map[string]int64),
		clock:    time.Now,
	}
}

func collectionKey(catalog, collection string) string {
	return catalog + ":" + collection
}

// ScanEntities calls fn for each matching entity, in query order
func (m *MemoryStore) ScanEntities(ctx context.Context, query Query, fn func(model.Entity) error) error {
	m.mutex.RLock()
	var result []model.Entity
	for _, entity := range m.entities[collectionKey(query.Catalog, query.Collection)] {
		if query.Matches(entity) {
			result = append(result, cloneEntity(entity))
		}
	}
	m.mutex.RUnlock()

	slices.SortStableFunc(result, query.Compare)
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}

	for _, entity := range result {
		if err := ctx.Err(); err != nil {
			return err
		} else if err := fn(entity); err != nil {
			return err
		}
	}

	return nil
}

// ListIDs returns distinct sorted functional ids of matching entities, bounded by query limit
func (m *MemoryStore) ListIDs(ctx context.Context, query Query) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	unique := make(map[string]bool)
	for _, entity := range m.entities[collectionKey(query.Catalog, query.Collection)] {
		if query.Matches(entity) {
			unique[entity.ID] = true
		}
	}

	result := slices.Sorted(maps.Keys(unique))
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}

	return result, nil
}

// GetEntity returns an entity by tid, deleted or not
func (m *MemoryStore) GetEntity(ctx context.Context, catalog, collection, tid string) (model.Entity, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	entity, found := m.entities[collectionKey(catalog, collection)][tid]
	if !found {
		return model.Entity{}, false, nil
	}

	return cloneEntity(entity), true, nil
}

// CountEntities counts entities of a collection
func (m *MemoryStore) CountEntities(ctx context.Context, catalog, collection string, includeDeleted bool) (int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result int64
	for _, entity := range m.entities[collectionKey(catalog, collection)] {
		if includeDeleted || !entity.IsDeleted() {
			result++
		}
	}

	return result, nil
}

// MaxLastEvent returns the greatest last event of a collection, 0 if empty
func (m *MemoryStore) MaxLastEvent(ctx context.Context, catalog, collection string) (int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result int64
	for _, entity := range m.entities[collectionKey(catalog, collection)] {
		result = max(result, entity.LastEvent)
	}

	return result, nil
}

// DistinctApplications returns sorted applications of non deleted entities
func (m *MemoryStore) DistinctApplications(ctx context.Context, catalog, collection string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	unique := make(map[string]bool)
	for _, entity := range m.entities[collectionKey(catalog, collection)] {
		if !entity.IsDeleted() {
			unique[entity.Application] = true
		}
	}

	return slices.Sorted(maps.Keys(unique)), nil
}

// PutEntity inserts or replaces an entity by tid
func (m *MemoryStore) PutEntity(ctx context.Context, entity model.Entity) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	key := collectionKey(entity.Catalog, entity.Collection)
	if _, found := m.entities[key]; !found {
		m.entities[key] = make(map[string]model.Entity)
	}

	m.entities[key][entity.TID] = cloneEntity(entity)
	return nil
}

// AppendEvents sets ids and timestamps of events and stores them
func (m *MemoryStore) AppendEvents(ctx context.Context, events []model.Event) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for index := range events {
		m.lastID++
		events[index].ID = m.lastID
		if events[index].Timestamp.IsZero() {
			events[index].Timestamp = m.clock().UTC()
		}

		m.events = append(m.events, cloneEvent(events[index]))
	}

	return nil
}

// ReadEvents calls fn for matching events in id order
func (m *MemoryStore) ReadEvents(ctx context.Context, filter EventFilter, fn func(model.Event) error) error {
	m.mutex.RLock()
	var result []model.Event
	for _, event := range m.events {
		if filter.matches(event) {
			result = append(result, cloneEvent(event))
			if filter.Limit > 0 && len(result) >= filter.Limit {
				break
			}
		}
	}
	m.mutex.RUnlock()

	for _, event := range result {
		if err := ctx.Err(); err != nil {
			return err
		} else if err := fn(event); err != nil {
			return err
		}
	}

	return nil
}

// LastEventID returns the greatest event id of a collection, 0 if none
func (m *MemoryStore) LastEventID(ctx context.Context, catalog, collection string) (int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for index := len(m.events) - 1; index >= 0; index-- {
		if event := m.events[index]; event.Catalog == catalog && event.Collection == collection {
			return event.ID, nil
		}
	}

	return 0, nil
}

// HasEvents returns true if the log contains events for the triple. Empty source means any
func (m *MemoryStore) HasEvents(ctx context.Context, catalog, collection, source string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	filter := EventFilter{Catalog: catalog, Collection: collection, Source: source}
	for _, event := range m.events {
		if filter.matches(event) {
			return true, nil
		}
	}

	return false, nil
}

// Mark returns a high water mark, 0 if never set
func (m *MemoryStore) Mark(ctx context.Context, key string) (int64, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.marks[key], nil
}

// SetMark sets a high water mark
func (m *MemoryStore) SetMark(ctx context.Context, key string, value int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.marks[key] = value
	return nil
}

// Atomically runs fn and restores the previous state if it fails
func (m *MemoryStore) Atomically(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	m.unit.Lock()
	defer m.unit.Unlock()

	m.mutex.RLock()
	entities := make(map[string]map[string]model.Entity, len(m.entities))
	for key, values := range m.entities {
		entities[key] = maps.Clone(values)
	}
	events := slices.Clone(m.events)
	marks := maps.Clone(m.marks)
	lastID := m.lastID
	m.mutex.RUnlock()

	if err := fn(ctx, m); err != nil {
		m.mutex.Lock()
		m.entities, m.events, m.marks, m.lastID = entities, events, marks, lastID
		m.mutex.Unlock()
		return err
	}

	return nil
}

// WithClock replaces the clock used for event timestamps
func (m *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	m.clock = clock
	return m
}

func (f EventFilter) matches(event model.Event) bool {
	switch {
	case f.Catalog != "" && event.Catalog != f.Catalog:
		return false
	case f.Collection != "" && event.Collection != f.Collection:
		return false
	case f.Source != "" && event.Source != f.Source:
		return false
	case event.ID <= f.AfterID:
		return false
	case f.UpToID > 0 && event.ID > f.UpToID:
		return false
	}

	return true
}

// cloneEntity deep copies attributes, so that callers never share state with the store
func cloneEntity(entity model.Entity) model.Entity {
	entity.Attributes = deepCopy(entity.Attributes)
	return entity
}

func cloneEvent(event model.Event) model.Event {
	event.Contents.Record = deepCopy(event.Contents.Record)
	event.Contents.Modifications = slices.Clone(event.Contents.Modifications)
	event.Contents.Confirms = slices.Clone(event.Contents.Confirms)
	return event
}

func deepCopy(record model.Record) model.Record {
	if record == nil {
		return nil
	}

	content, err := json.Marshal(record)
	if err != nil {
		return record.Clone()
	}

	var result model.Record
	if err := json.Unmarshal(content, &result); err != nil {
		return record.Clone()
	}

	return result
}
