package apply_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zefrenchwan/registries.git/apply"
	"github.com/zefrenchwan/registries.git/compare"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/schema"
	"github.com/zefrenchwan/registries.git/storage"
)

const testRegistry = `
catalogs:
  nap:
    collections:
      peilmerken:
        version: "2"
        entity_id: identificatie
        fields:
          identificatie: {type: string}
          hoogte: {type: decimal}
          status: {type: string}
          vervallen: {type: boolean}
`

var now = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	registry   schema.Registry
	collection schema.Collection
	store      *storage.MemoryStore
	comparer   *compare.Engine
	engine     *apply.Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	registry, err := schema.Parse([]byte(testRegistry))
	require.NoError(t, err)
	collection, err := registry.Collection("nap", "peilmerken")
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	store := storage.NewMemoryStore().WithClock(func() time.Time { return now })
	return fixture{
		registry:   registry,
		collection: collection,
		store:      store,
		comparer:   compare.NewEngine(registry, store, logger).WithClock(func() time.Time { return now }),
		engine:     apply.NewEngine(registry, store, logger).WithPageSize(2),
	}
}

// importSnapshot compares then applies records, as an import job does
func (f fixture) importSnapshot(t *testing.T, records ...model.Record) []model.Event {
	t.Helper()
	header := model.SnapshotHeader{Catalogue: "nap", Collection: "peilmerken", Source: "AMSBI", Application: "NAP", Mode: model.ModeFull}
	var events []model.Event
	_, err := f.comparer.Compare(context.Background(), header, records, func(event model.Event) error {
		events = append(events, event)
		return nil
	})
	require.NoError(t, err)

	summary, err := f.engine.Apply(context.Background(), "nap", "peilmerken", events)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Stale)
	return events
}

func (f fixture) entity(t *testing.T, tid string) model.Entity {
	t.Helper()
	entity, found, err := f.store.GetEntity(context.Background(), "nap", "peilmerken", tid)
	require.NoError(t, err)
	require.True(t, found, tid)
	return entity
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.importSnapshot(t,
		model.Record{"identificatie": "1", "hoogte": "1.25", "status": "actief"},
		model.Record{"identificatie": "2", "hoogte": 3, "status": "actief"},
	)
	f.importSnapshot(t,
		model.Record{"identificatie": "1", "hoogte": "1.30", "status": "actief", "vervallen": "N"},
		model.Record{"identificatie": "3", "status": "nieuw"},
	)

	final := model.Record{"identificatie": "1", "hoogte": "1.30", "status": "actief", "vervallen": "N"}
	normalized, err := f.collection.Normalize(final)
	require.NoError(t, err)

	first := f.entity(t, "1")
	assert.Empty(t, compare.Diff(f.collection, first.Attributes, normalized))
	assert.Equal(t, "1.3", first.Attributes["hoogte"])
	assert.Equal(t, false, first.Attributes["vervallen"])
	assert.False(t, first.IsDeleted())

	second := f.entity(t, "2")
	assert.True(t, second.IsDeleted())
	assert.Equal(t, now, *second.DeletedAt)

	third := f.entity(t, "3")
	assert.Equal(t, "nieuw", third.Attributes["status"])

	applied, err := f.store.Mark(context.Background(), storage.AppliedMarkKey("nap", "peilmerken"))
	require.NoError(t, err)
	last, err := f.store.LastEventID(context.Background(), "nap", "peilmerken")
	require.NoError(t, err)
	assert.Equal(t, last, applied)
	assert.Equal(t, last, second.LastEvent)
}

func TestConfirmKeepsAttributes(t *testing.T) {
	f := newFixture(t)
	record := model.Record{"identificatie": "1", "hoogte": "1.25", "status": "actief"}
	f.importSnapshot(t, record)
	before := f.entity(t, "1")
	require.Nil(t, before.LastConfirmed)

	events := f.importSnapshot(t, record)
	require.Len(t, events, 1)
	require.Equal(t, model.ActionConfirm, events[0].Action)

	after := f.entity(t, "1")
	assert.Equal(t, before.Attributes, after.Attributes)
	assert.Equal(t, before.LastEvent, after.LastEvent)
	assert.Equal(t, before.Hash, after.Hash)
	require.NotNil(t, after.LastConfirmed)
	assert.Equal(t, now, *after.LastConfirmed)
}

func TestDeletedEntityComesBack(t *testing.T) {
	f := newFixture(t)
	record := model.Record{"identificatie": "1", "status": "actief"}
	f.importSnapshot(t, record)
	f.importSnapshot(t)
	require.True(t, f.entity(t, "1").IsDeleted())

	events := f.importSnapshot(t, record)
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionAdd, events[0].Action)

	entity := f.entity(t, "1")
	assert.False(t, entity.IsDeleted())
	assert.Equal(t, events[0].ID, entity.LastEvent)
}

func TestStaleEventsAreSkipped(t *testing.T) {
	f := newFixture(t)
	f.importSnapshot(t, model.Record{"identificatie": "1", "status": "actief"})
	entity := f.entity(t, "1")

	events := []model.Event{
		{
			Catalog: "nap", Collection: "peilmerken", Action: model.ActionModify, TID: "1",
			Contents: model.EventContents{
				LastEvent:     model.LastEventOf(entity.LastEvent + 10),
				Modifications: []model.Modification{{Key: "status", OldValue: "actief", NewValue: "fout"}},
			},
		},
		{
			Catalog: "nap", Collection: "peilmerken", Action: model.ActionAdd, TID: "1",
			Contents: model.EventContents{Record: model.Record{"identificatie": "1"}},
		},
		{
			Catalog: "nap", Collection: "peilmerken", Action: model.ActionDelete, TID: "unknown",
		},
	}

	summary, err := f.engine.Apply(context.Background(), "nap", "peilmerken", events)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Stale)
	assert.Equal(t, 0, summary.Total())
	assert.Len(t, summary.Warnings, 3)

	after := f.entity(t, "1")
	assert.Equal(t, "actief", after.Attributes["status"])
	assert.Equal(t, entity.LastEvent, after.LastEvent)
}

func TestBulkConfirmDropsStaleMembers(t *testing.T) {
	f := newFixture(t)
	f.importSnapshot(t,
		model.Record{"identificatie": "1", "status": "actief"},
		model.Record{"identificatie": "2", "status": "actief"},
	)

	first, second := f.entity(t, "1"), f.entity(t, "2")
	event := model.Event{
		Catalog: "nap", Collection: "peilmerken", Action: model.ActionBulkConfirm, Timestamp: now.Add(time.Hour),
		Contents: model.EventContents{Confirms: []model.Confirm{
			{TID: "1", LastEvent: first.LastEvent},
			{TID: "2", LastEvent: second.LastEvent + 1},
		}},
	}

	summary, err := f.engine.Apply(context.Background(), "nap", "peilmerken", []model.Event{event})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Of(model.ActionBulkConfirm))
	assert.Equal(t, 1, summary.Of(model.ActionConfirm))
	assert.Equal(t, 1, summary.Stale)

	require.NotNil(t, f.entity(t, "1").LastConfirmed)
	assert.Equal(t, now.Add(time.Hour), *f.entity(t, "1").LastConfirmed)
	assert.Nil(t, f.entity(t, "2").LastConfirmed)
}

func TestPendingEventsAreDrained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := []model.Event{
		{Catalog: "nap", Collection: "peilmerken", Action: model.ActionAdd, TID: "1", Contents: model.EventContents{Record: model.Record{"identificatie": "1"}}},
		{Catalog: "nap", Collection: "peilmerken", Action: model.ActionAdd, TID: "2", Contents: model.EventContents{Record: model.Record{"identificatie": "2"}}},
		{Catalog: "nap", Collection: "peilmerken", Action: model.ActionAdd, TID: "3", Contents: model.EventContents{Record: model.Record{"identificatie": "3"}}},
	}
	require.NoError(t, f.store.AppendEvents(ctx, pending))

	summary, err := f.engine.Drain(ctx, "nap", "peilmerken")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Of(model.ActionAdd))

	for _, tid := range []string{"1", "2", "3"} {
		assert.NotEmpty(t, f.entity(t, tid).Hash)
	}

	applied, err := f.store.Mark(ctx, storage.AppliedMarkKey("nap", "peilmerken"))
	require.NoError(t, err)
	assert.Equal(t, pending[2].ID, applied)

	summary, err = f.engine.Drain(ctx, "nap", "peilmerken")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total())
}

func TestModelInconsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetMark(ctx, storage.AppliedMarkKey("nap", "peilmerken"), 100))

	_, err := f.engine.Apply(ctx, "nap", "peilmerken", []model.Event{
		{Catalog: "nap", Collection: "peilmerken", Action: model.ActionAdd, TID: "1", Contents: model.EventContents{Record: model.Record{"identificatie": "1"}}},
	})
	assert.ErrorIs(t, err, model.ErrModelInconsistent)

	last, err := f.store.LastEventID(ctx, "nap", "peilmerken")
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
}

func TestApplyRejectsForeignEvents(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(context.Background(), "nap", "peilmerken", []model.Event{{Catalog: "nap", Collection: "other"}})
	assert.Error(t, err)
}
