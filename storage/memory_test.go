package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/storage"
)

func entity(id, seqnr string, lastEvent int64, attributes model.Record) model.Entity {
	return model.Entity{
		Catalog:     "gebieden",
		Collection:  "buurten",
		ID:          id,
		Seqnr:       seqnr,
		TID:         model.TID(id, seqnr, seqnr != ""),
		Source:      "src",
		Application: "app",
		LastEvent:   lastEvent,
		Attributes:  attributes,
	}
}

func collect(t *testing.T, store storage.Store, query storage.Query) []string {
	t.Helper()
	var result []string
	err := store.ScanEntities(context.Background(), query, func(e model.Entity) error {
		result = append(result, e.TID)
		return nil
	})

	require.NoError(t, err)
	return result
}

func TestMemoryStoreScan(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.PutEntity(ctx, entity("B", "10", 3, model.Record{"code": "x"})))
	require.NoError(t, store.PutEntity(ctx, entity("B", "2", 4, model.Record{"code": "y"})))
	require.NoError(t, store.PutEntity(ctx, entity("A", "1", 5, model.Record{"wijk": map[string]any{"bronwaarde": "W1"}})))

	deleted := entity("C", "1", 6, nil)
	now := time.Now()
	deleted.DeletedAt = &now
	require.NoError(t, store.PutEntity(ctx, deleted))

	base := storage.Query{Catalog: "gebieden", Collection: "buurten"}

	byID := base
	byID.OrderBy = storage.OrderByIDSeqnr
	assert.Equal(t, []string{"A.1", "B.2", "B.10"}, collect(t, store, byID), "seqnr sorts numerically")

	withDeleted := byID
	withDeleted.IncludeDeleted = true
	assert.Len(t, collect(t, store, withDeleted), 4)

	after, upTo := int64(3), int64(5)
	page := base
	page.OrderBy = storage.OrderByLastEvent
	page.LastEventAfter = &after
	page.LastEventUpTo = &upTo
	page.Limit = 1
	assert.Equal(t, []string{"B.2"}, collect(t, store, page))

	attribute := base
	attribute.AttributeIn = &storage.ValuesFilter{Attribute: "code", Values: []string{"y"}}
	assert.Equal(t, []string{"B.2"}, collect(t, store, attribute))

	reference := base
	reference.ReferenceIn = &storage.ValuesFilter{Attribute: "wijk", Values: []string{"W1", "W2"}}
	assert.Equal(t, []string{"A.1"}, collect(t, store, reference))

	ids, err := store.ListIDs(ctx, storage.Query{Catalog: "gebieden", Collection: "buurten", IDAfter: "A", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, ids)

	count, err := store.CountEntities(ctx, "gebieden", "buurten", false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	maxEvent, err := store.MaxLastEvent(ctx, "gebieden", "buurten")
	require.NoError(t, err)
	assert.Equal(t, int64(6), maxEvent)
}

func TestMemoryStoreCopiesEntities(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	value := entity("A", "", 1, model.Record{"code": "x"})
	require.NoError(t, store.PutEntity(ctx, value))

	value.Attributes["code"] = "changed"
	stored, found, err := store.GetEntity(ctx, "gebieden", "buurten", "A")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "x", stored.Attributes["code"])

	_, found, err = store.GetEntity(ctx, "gebieden", "buurten", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	events := []model.Event{
		{Catalog: "gebieden", Collection: "buurten", Source: "src", Action: model.ActionAdd},
		{Catalog: "gebieden", Collection: "wijken", Source: "src", Action: model.ActionAdd},
		{Catalog: "gebieden", Collection: "buurten", Source: "other", Action: model.ActionDelete},
	}

	require.NoError(t, store.AppendEvents(ctx, events))
	assert.Equal(t, int64(1), events[0].ID)
	assert.Equal(t, int64(3), events[2].ID)
	assert.False(t, events[0].Timestamp.IsZero())

	last, err := store.LastEventID(ctx, "gebieden", "buurten")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)

	has, err := store.HasEvents(ctx, "gebieden", "buurten", "other")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasEvents(ctx, "gebieden", "panden", "")
	require.NoError(t, err)
	assert.False(t, has)

	var ids []int64
	err = store.ReadEvents(ctx, storage.EventFilter{Catalog: "gebieden", Collection: "buurten", AfterID: 1}, func(e model.Event) error {
		ids = append(ids, e.ID)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids)
}

func TestMemoryStoreAtomically(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	failure := errors.New("failure")

	err := store.Atomically(ctx, func(ctx context.Context, s storage.Store) error {
		require.NoError(t, s.PutEntity(ctx, entity("A", "", 1, nil)))
		require.NoError(t, s.SetMark(ctx, "mark", 10))
		require.NoError(t, s.AppendEvents(ctx, []model.Event{{Catalog: "gebieden", Collection: "buurten"}}))
		return failure
	})

	assert.ErrorIs(t, err, failure)
	count, _ := store.CountEntities(ctx, "gebieden", "buurten", true)
	assert.Zero(t, count)
	mark, _ := store.Mark(ctx, "mark")
	assert.Zero(t, mark)
	last, _ := store.LastEventID(ctx, "gebieden", "buurten")
	assert.Zero(t, last)

	err = store.Atomically(ctx, func(ctx context.Context, s storage.Store) error {
		return s.SetMark(ctx, "mark", 10)
	})

	require.NoError(t, err)
	mark, _ = store.Mark(ctx, "mark")
	assert.Equal(t, int64(10), mark)
}
