package compare_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zefrenchwan/registries.git/compare"
	"github.com/zefrenchwan/registries.git/fingerprint"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/schema"
	"github.com/zefrenchwan/registries.git/storage"
)

const testRegistry = `
catalogs:
  meetbouten:
    collections:
      meetbouten:
        version: "1"
        entity_id: identificatie
        fields:
          identificatie: {type: string}
          status: {type: string}
          hoogte: {type: decimal}
          geplaatst: {type: date}
      metingen:
        version: "1"
        entity_id: identificatie
        auto_id: {attribute: bron_id}
        fields:
          identificatie: {type: string}
          bron_id: {type: string}
          waarde: {type: integer}
`

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*compare.Engine, schema.Registry, *storage.MemoryStore) {
	t.Helper()
	registry, err := schema.Parse([]byte(testRegistry))
	require.NoError(t, err)

	store := storage.NewMemoryStore()
	engine := compare.NewEngine(registry, store, zap.NewNop().Sugar()).WithClock(func() time.Time { return now })
	return engine, registry, store
}

// storeRecord puts a record as if an ADD with lastEvent had been applied
func storeRecord(t *testing.T, registry schema.Registry, store storage.Store, collectionName string, record model.Record, application string, lastEvent int64) {
	t.Helper()
	collection, err := registry.Collection("meetbouten", collectionName)
	require.NoError(t, err)

	normalized, err := collection.Normalize(record)
	require.NoError(t, err)
	hash, err := fingerprint.Hash(normalized, application)
	require.NoError(t, err)
	entity, err := collection.NewEntity(normalized, "AMSBI", application, hash)
	require.NoError(t, err)
	entity.LastEvent = lastEvent
	require.NoError(t, store.PutEntity(context.Background(), entity))
}

func header(collection string, mode model.Mode) model.SnapshotHeader {
	return model.SnapshotHeader{
		Catalogue:   "meetbouten",
		Collection:  collection,
		Source:      "AMSBI",
		Application: "Grondslag",
		Mode:        mode,
	}
}

func collect(events *[]model.Event) compare.Emitter {
	return func(event model.Event) error {
		*events = append(*events, event)
		return nil
	}
}

func TestCompareEmptySnapshotOnEmptyStore(t *testing.T) {
	engine, _, _ := newEngine(t)
	var events []model.Event
	summary, err := engine.Compare(context.Background(), header("meetbouten", model.ModeFull), nil, collect(&events))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 0, summary.Total())
}

func TestCompareInitialLoad(t *testing.T) {
	engine, _, _ := newEngine(t)
	records := []model.Record{
		{"identificatie": "1", "status": "actief", "hoogte": "1.50", "geplaatst": "2020-01-02T00:00:00Z"},
		{"identificatie": "2", "status": "actief", "hoogte": 2},
	}

	var events []model.Event
	summary, err := engine.Compare(context.Background(), header("meetbouten", model.ModeFull), records, collect(&events))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, summary.Of(model.ActionAdd))

	first := events[0]
	assert.Equal(t, model.ActionAdd, first.Action)
	assert.Equal(t, "1", first.TID)
	assert.Equal(t, "1", first.SourceID)
	assert.Equal(t, "1", first.Version)
	assert.Equal(t, now, first.Timestamp)
	assert.Equal(t, "Grondslag", first.Contents.Application)
	assert.Nil(t, first.Contents.LastEvent)
	assert.Equal(t, "1.5", first.Contents.Record["hoogte"])
	assert.Equal(t, "2020-01-02", first.Contents.Record["geplaatst"])
	assert.NotEmpty(t, first.Contents.Hash)
}

func TestCompareAgainstStoredEntities(t *testing.T) {
	engine, registry, store := newEngine(t)
	storeRecord(t, registry, store, "meetbouten", model.Record{"identificatie": "1", "status": "actief", "hoogte": "1.5"}, "Grondslag", 3)
	storeRecord(t, registry, store, "meetbouten", model.Record{"identificatie": "2", "status": "actief", "hoogte": "2"}, "Grondslag", 4)
	storeRecord(t, registry, store, "meetbouten", model.Record{"identificatie": "3", "status": "actief"}, "Grondslag", 5)

	records := []model.Record{
		{"identificatie": "1", "status": "actief", "hoogte": 1.5},
		{"identificatie": "2", "status": "vervallen", "hoogte": "2.0"},
		{"identificatie": "4", "status": "nieuw"},
	}

	t.Run("full", func(t *testing.T) {
		var events []model.Event
		summary, err := engine.Compare(context.Background(), header("meetbouten", model.ModeFull), records, collect(&events))
		require.NoError(t, err)
		require.Len(t, events, 4)

		byTID := make(map[string]model.Event)
		for _, event := range events {
			_, duplicate := byTID[event.TID]
			require.False(t, duplicate, event.TID)
			byTID[event.TID] = event
		}

		assert.Equal(t, model.ActionConfirm, byTID["1"].Action)
		assert.Equal(t, int64(3), byTID["1"].ExpectedLastEvent())

		modify := byTID["2"]
		assert.Equal(t, model.ActionModify, modify.Action)
		assert.Equal(t, int64(4), modify.ExpectedLastEvent())
		require.Len(t, modify.Contents.Modifications, 1)
		assert.Equal(t, model.Modification{Key: "status", OldValue: "actief", NewValue: "vervallen"}, modify.Contents.Modifications[0])

		assert.Equal(t, model.ActionDelete, byTID["3"].Action)
		assert.Equal(t, int64(5), byTID["3"].ExpectedLastEvent())
		assert.Equal(t, model.ActionAdd, byTID["4"].Action)

		assert.Equal(t, 1, summary.Of(model.ActionConfirm))
		assert.Equal(t, 1, summary.Of(model.ActionModify))
		assert.Equal(t, 1, summary.Of(model.ActionDelete))
		assert.Equal(t, 1, summary.Of(model.ActionAdd))
	})

	t.Run("delta", func(t *testing.T) {
		var events []model.Event
		_, err := engine.Compare(context.Background(), header("meetbouten", model.ModeDelta), records, collect(&events))
		require.NoError(t, err)
		require.Len(t, events, 3)
		for _, event := range events {
			assert.NotEqual(t, model.ActionDelete, event.Action)
		}
	})
}

func TestCompareLogsSummary(t *testing.T) {
	registry, err := schema.Parse([]byte(testRegistry))
	require.NoError(t, err)

	records := []model.Record{{"identificatie": "m1", "status": "actief"}}
	for _, mode := range []model.Mode{model.ModeFull, model.ModeDelta} {
		t.Run(mode.String(), func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			engine := compare.NewEngine(registry, storage.NewMemoryStore(), zap.New(core).Sugar())

			var events []model.Event
			_, err := engine.Compare(context.Background(), header("meetbouten", mode), records, collect(&events))
			require.NoError(t, err)

			done := logs.FilterMessage("compare done").All()
			require.Len(t, done, 1)
			assert.Equal(t, int64(1), done[0].ContextMap()["events"])
			assert.Equal(t, mode.String(), done[0].ContextMap()["mode"])
		})
	}
}

func TestCompareApplicationChangeConfirms(t *testing.T) {
	engine, registry, store := newEngine(t)
	storeRecord(t, registry, store, "meetbouten", model.Record{"identificatie": "1", "status": "actief"}, "Other", 2)

	var events []model.Event
	_, err := engine.Compare(context.Background(), header("meetbouten", model.ModeFull),
		[]model.Record{{"identificatie": "1", "status": "actief"}}, collect(&events))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionConfirm, events[0].Action)
}

func TestCompareDeletedEntityIsAddedBack(t *testing.T) {
	engine, registry, store := newEngine(t)
	storeRecord(t, registry, store, "meetbouten", model.Record{"identificatie": "1", "status": "actief"}, "Grondslag", 7)
	entity, found, err := store.GetEntity(context.Background(), "meetbouten", "meetbouten", "1")
	require.NoError(t, err)
	require.True(t, found)
	entity.DeletedAt = &now
	require.NoError(t, store.PutEntity(context.Background(), entity))

	var events []model.Event
	_, err = engine.Compare(context.Background(), header("meetbouten", model.ModeFull),
		[]model.Record{{"identificatie": "1", "status": "actief"}}, collect(&events))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionAdd, events[0].Action)
	assert.Equal(t, int64(7), events[0].ExpectedLastEvent())
}

func TestCompareInvalidRecords(t *testing.T) {
	engine, _, _ := newEngine(t)
	records := []model.Record{
		{"identificatie": "1"},
		{"identificatie": "1"},
		{"status": "no id"},
		{"identificatie": "2", "hoogte": "not a number"},
	}

	var events []model.Event
	summary, err := engine.Compare(context.Background(), header("meetbouten", model.ModeFull), records, collect(&events))
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 3, summary.Errors)
}

func TestCompareDependency(t *testing.T) {
	engine, _, store := newEngine(t)
	snapshot := header("meetbouten", model.ModeFull)
	snapshot.DependsOn = &model.Dependency{Catalogue: "meetbouten", Collection: "metingen", Source: "AMSBI"}

	var events []model.Event
	summary, err := engine.Compare(context.Background(), snapshot, []model.Record{{"identificatie": "1"}}, collect(&events))
	assert.ErrorIs(t, err, model.ErrDependencyNotMet)
	assert.Empty(t, events)
	assert.NotNil(t, summary)

	require.NoError(t, store.AppendEvents(context.Background(), []model.Event{{
		Catalog: "meetbouten", Collection: "metingen", Source: "AMSBI", Action: model.ActionAdd, TID: "x",
	}}))

	_, err = engine.Compare(context.Background(), snapshot, []model.Record{{"identificatie": "1"}}, collect(&events))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCompareAutoID(t *testing.T) {
	engine, registry, store := newEngine(t)
	storeRecord(t, registry, store, "metingen", model.Record{"identificatie": "known", "bron_id": "A", "waarde": 1}, "Grondslag", 1)

	t.Run("reuse and generate", func(t *testing.T) {
		var events []model.Event
		records := []model.Record{{"bron_id": "A", "waarde": 1}, {"bron_id": "B", "waarde": 2}}
		_, err := engine.Compare(context.Background(), header("metingen", model.ModeDelta), records, collect(&events))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "known", events[0].TID)
		assert.Equal(t, model.ActionConfirm, events[0].Action)
		assert.Equal(t, model.ActionAdd, events[1].Action)
		assert.NotEmpty(t, events[1].TID)
		assert.Equal(t, events[1].TID, events[1].Contents.Record["identificatie"])
		// input is not modified
		assert.NotContains(t, records[1], "identificatie")
	})

	t.Run("conflict", func(t *testing.T) {
		var events []model.Event
		records := []model.Record{{"identificatie": "known", "bron_id": "C"}}
		_, err := engine.Compare(context.Background(), header("metingen", model.ModeDelta), records, collect(&events))
		assert.ErrorIs(t, err, model.ErrAutoIDConflict)
		assert.Empty(t, events)
	})
}

func TestDiff(t *testing.T) {
	registry, err := schema.Parse([]byte(testRegistry))
	require.NoError(t, err)
	collection, err := registry.Collection("meetbouten", "meetbouten")
	require.NoError(t, err)

	stored := model.Record{"identificatie": "1", "hoogte": "1.50", "geplaatst": "2020-01-02", "extra": float64(3), "_meta": 1}
	incoming := model.Record{"identificatie": "1", "hoogte": 1.5, "geplaatst": "2020-01-02", "extra": 3, "status": "x", "_meta": 2}

	modifications := compare.Diff(collection, stored, incoming)
	assert.Equal(t, []model.Modification{{Key: "status", OldValue: nil, NewValue: "x"}}, modifications)
}
