package compare

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zefrenchwan/registries.git/fingerprint"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/schema"
	"github.com/zefrenchwan/registries.git/storage"
	"github.com/zefrenchwan/registries.git/tracing"
)

// Emitter receives events in the order the engine produces them
type Emitter func(model.Event) error

// storedState is the light part of a stored entity used by the shallow compare
type storedState struct {
	hash      string
	lastEvent int64
	deleted   bool
}

// Engine compares snapshots with stored entities and derives events.
// It does not write to the store, callers persist emitted events.
type Engine struct {
	registry    schema.Registry
	store       storage.Store
	logger      *zap.SugaredLogger
	clock       func() time.Time
	maxWarnings int
}

// NewEngine builds an engine reading from store
func NewEngine(registry schema.Registry, store storage.Store, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		registry:    registry,
		store:       store,
		logger:      logger,
		clock:       time.Now,
		maxWarnings: 10,
	}
}

// WithClock sets the time source of event timestamps
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithMaxWarnings bounds the warnings kept in summaries
func (e *Engine) WithMaxWarnings(value int) *Engine {
	e.maxWarnings = value
	return e
}

// Compare reads records of one snapshot and emits one event per tid.
// Summary is always returned, error is not nil for fatal conditions only.
func (e *Engine) Compare(ctx context.Context, header model.SnapshotHeader, records []model.Record, emit Emitter) (*model.Summary, error) {
	summary := model.NewSummary(e.maxWarnings)
	ctx, span := tracing.StartSpan(ctx, "compare.Engine.Compare",
		attribute.String("catalog", header.Catalogue),
		attribute.String("collection", header.Collection),
		attribute.String("source", header.Source),
	)

	err := e.compare(ctx, header, records, emit, summary)
	tracing.EndWithError(span, err)
	return summary, err
}

func (e *Engine) compare(ctx context.Context, header model.SnapshotHeader, records []model.Record, emit Emitter, summary *model.Summary) error {
	collection, err := e.registry.Collection(header.Catalogue, header.Collection)
	if err != nil {
		return err
	}

	if err := e.checkDependency(ctx, header); err != nil {
		return err
	}

	var issuer *idIssuer
	if collection.AutoID != nil {
		if issuer, err = newIDIssuer(ctx, e.store, collection); err != nil {
			return err
		}
	}

	count, err := e.store.CountEntities(ctx, collection.Catalog, collection.Name, true)
	if err != nil {
		return err
	}

	// initial load: the whole collection is empty, no join needed
	initialLoad := count == 0
	stored := make(map[string]storedState)
	if !initialLoad {
		query := storage.Query{
			Catalog:        collection.Catalog,
			Collection:     collection.Name,
			Source:         header.Source,
			IncludeDeleted: true,
		}

		err = e.store.ScanEntities(ctx, query, func(entity model.Entity) error {
			stored[entity.TID] = storedState{hash: entity.Hash, lastEvent: entity.LastEvent, deleted: entity.IsDeleted()}
			return nil
		})

		if err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(records))
	for index, raw := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		record := raw.Clone()
		if issuer != nil {
			if err := issuer.assign(record, collection.EntityID); err != nil {
				return fmt.Errorf("record %d: %w", index, err)
			}
		}

		event, err := e.eventFor(ctx, collection, header, record, stored, initialLoad)
		if err != nil {
			summary.AddError(fmt.Errorf("record %d: %w", index, err))
			e.logger.Warnw("invalid record", "catalog", collection.Catalog, "collection", collection.Name, "index", index, "error", err)
			continue
		} else if seen[event.TID] {
			summary.AddError(fmt.Errorf("duplicate tid %s in snapshot", event.TID))
			continue
		}

		seen[event.TID] = true
		if err := emit(event); err != nil {
			return err
		}

		summary.Count(event.Action, 1)
	}

	if header.Mode == model.ModeFull {
		if err := e.emitDeletes(collection, header, stored, seen, emit, summary); err != nil {
			return err
		}
	}

	e.logger.Infow("compare done",
		"catalog", collection.Catalog, "collection", collection.Name, "source", header.Source,
		"mode", header.Mode.String(), "events", summary.Total(), "initial_load", initialLoad)
	return nil
}

// emitDeletes emits a DELETE for every live stored tid absent from a complete snapshot
func (e *Engine) emitDeletes(collection schema.Collection, header model.SnapshotHeader, stored map[string]storedState,
	seen map[string]bool, emit Emitter, summary *model.Summary) error {
	missing := make([]string, 0)
	for tid, state := range stored {
		if !state.deleted && !seen[tid] {
			missing = append(missing, tid)
		}
	}

	slices.Sort(missing)
	for _, tid := range missing {
		event := e.newEvent(collection, header, model.ActionDelete, tid)
		event.SourceID = idOf(collection, tid)
		event.Contents.LastEvent = model.LastEventOf(stored[tid].lastEvent)
		if err := emit(event); err != nil {
			return err
		}

		summary.Count(model.ActionDelete, 1)
	}

	return nil
}

// checkDependency fails if the declared upstream collection never got an event
func (e *Engine) checkDependency(ctx context.Context, header model.SnapshotHeader) error {
	dependency := header.DependsOn
	if dependency == nil {
		return nil
	}

	found, err := e.store.HasEvents(ctx, dependency.Catalogue, dependency.Collection, dependency.Source)
	if err != nil {
		return err
	} else if !found {
		return fmt.Errorf("%s %s (source %q) not imported yet: %w",
			dependency.Catalogue, dependency.Collection, dependency.Source, model.ErrDependencyNotMet)
	}

	return nil
}

// eventFor derives the event of one incoming record
func (e *Engine) eventFor(ctx context.Context, collection schema.Collection, header model.SnapshotHeader,
	raw model.Record, stored map[string]storedState, initialLoad bool) (model.Event, error) {
	var event model.Event
	record, err := collection.Normalize(raw)
	if err != nil {
		return event, err
	}

	id, _, tid, err := collection.Identify(record)
	if err != nil {
		return event, err
	}

	hash, err := fingerprint.Hash(record, header.Application)
	if err != nil {
		return event, err
	}

	state, found := stored[tid]
	switch {
	case initialLoad, !found, state.deleted:
		event = e.newEvent(collection, header, model.ActionAdd, tid)
		event.Contents.Record = record
		event.Contents.Hash = hash
		event.Contents.Application = header.Application
		// re-creation carries the tombstone last event
		event.Contents.LastEvent = model.LastEventOf(state.lastEvent)
	case state.hash == hash:
		event = e.confirmEvent(collection, header, tid, hash, state.lastEvent)
	default:
		current, exists, err := e.store.GetEntity(ctx, collection.Catalog, collection.Name, tid)
		if err != nil {
			return event, err
		} else if !exists {
			return event, fmt.Errorf("entity %s vanished: %w", tid, model.ErrNotFound)
		}

		modifications := Diff(collection, current.Attributes, record.Data())
		if len(modifications) == 0 {
			event = e.confirmEvent(collection, header, tid, hash, state.lastEvent)
			break
		}

		event = e.newEvent(collection, header, model.ActionModify, tid)
		event.Contents.Modifications = modifications
		event.Contents.Hash = hash
		event.Contents.Application = header.Application
		event.Contents.LastEvent = model.LastEventOf(state.lastEvent)
	}

	event.SourceID = id
	return event, nil
}

func (e *Engine) confirmEvent(collection schema.Collection, header model.SnapshotHeader, tid, hash string, lastEvent int64) model.Event {
	event := e.newEvent(collection, header, model.ActionConfirm, tid)
	event.Contents.Hash = hash
	event.Contents.LastEvent = model.LastEventOf(lastEvent)
	return event
}

func (e *Engine) newEvent(collection schema.Collection, header model.SnapshotHeader, action model.Action, tid string) model.Event {
	return model.Event{
		Timestamp:  e.clock().UTC(),
		Catalog:    collection.Catalog,
		Collection: collection.Name,
		Version:    collection.Version,
		Action:     action,
		Source:     header.Source,
		TID:        tid,
	}
}

// idOf returns the functional part of a tid
func idOf(collection schema.Collection, tid string) string {
	if !collection.HasStates {
		return tid
	}

	for index := len(tid) - 1; index >= 0; index-- {
		if tid[index] == '.' {
			return tid[:index]
		}
	}

	return tid
}
