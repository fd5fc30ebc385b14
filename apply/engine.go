package apply

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zefrenchwan/registries.git/fingerprint"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/schema"
	"github.com/zefrenchwan/registries.git/storage"
	"github.com/zefrenchwan/registries.git/tracing"
)

// DEFAULT_PAGE_SIZE is the number of pending events applied per unit of work
const DEFAULT_PAGE_SIZE = 10000

// Engine applies events of the log to stored entities.
// Events are applied in ascending id order, the applied mark of the collection
// is advanced in the same unit of work as the events it covers.
type Engine struct {
	registry    schema.Registry
	store       storage.Store
	logger      *zap.SugaredLogger
	pageSize    int
	maxWarnings int
}

// NewEngine returns an engine mutating store
func NewEngine(registry schema.Registry, store storage.Store, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		registry:    registry,
		store:       store,
		logger:      logger,
		pageSize:    DEFAULT_PAGE_SIZE,
		maxWarnings: 10,
	}
}

// WithPageSize sets the number of pending events read per unit of work
func (e *Engine) WithPageSize(size int) *Engine {
	if size > 0 {
		e.pageSize = size
	}

	return e
}

// WithMaxWarnings bounds the warnings kept in summaries
func (e *Engine) WithMaxWarnings(value int) *Engine {
	e.maxWarnings = value
	return e
}

// Apply drains pending events of the collection, then appends events to the log and applies them.
// Ids of events are set when the call succeeds.
func (e *Engine) Apply(ctx context.Context, catalog, collection string, events []model.Event) (*model.Summary, error) {
	summary := model.NewSummary(e.maxWarnings)
	ctx, span := tracing.StartSpan(ctx, "apply.Engine.Apply",
		attribute.String("catalog", catalog),
		attribute.String("collection", collection),
		attribute.Int("events", len(events)),
	)

	err := e.apply(ctx, catalog, collection, events, nil, summary)
	tracing.EndWithError(span, err)
	return summary, err
}

// Commit applies events like Apply and sets marks in the same unit of work
func (e *Engine) Commit(ctx context.Context, catalog, collection string, events []model.Event, marks map[string]int64) (*model.Summary, error) {
	summary := model.NewSummary(e.maxWarnings)
	ctx, span := tracing.StartSpan(ctx, "apply.Engine.Commit",
		attribute.String("catalog", catalog),
		attribute.String("collection", collection),
		attribute.Int("events", len(events)),
	)

	err := e.apply(ctx, catalog, collection, events, marks, summary)
	tracing.EndWithError(span, err)
	return summary, err
}

func (e *Engine) apply(ctx context.Context, catalog, collection string, events []model.Event, marks map[string]int64, summary *model.Summary) error {
	definition, err := e.registry.Collection(catalog, collection)
	if err != nil {
		return err
	}

	for _, event := range events {
		if event.Catalog != catalog || event.Collection != collection {
			return fmt.Errorf("event for %s %s in a batch of %s %s", event.Catalog, event.Collection, catalog, collection)
		}
	}

	if err := e.drain(ctx, definition, summary); err != nil {
		return err
	} else if len(events) == 0 && len(marks) == 0 {
		return nil
	}

	return e.store.Atomically(ctx, func(ctx context.Context, store storage.Store) error {
		for key, value := range marks {
			if err := store.SetMark(ctx, key, value); err != nil {
				return err
			}
		}

		if len(events) == 0 {
			return nil
		} else if err := store.AppendEvents(ctx, events); err != nil {
			return err
		}

		for _, event := range events {
			if err := e.applyEvent(ctx, store, definition, event, summary); err != nil {
				return err
			}
		}

		return store.SetMark(ctx, storage.AppliedMarkKey(catalog, collection), events[len(events)-1].ID)
	})
}

// Drain applies events of the log not applied yet
func (e *Engine) Drain(ctx context.Context, catalog, collection string) (*model.Summary, error) {
	summary := model.NewSummary(e.maxWarnings)
	definition, err := e.registry.Collection(catalog, collection)
	if err != nil {
		return summary, err
	}

	return summary, e.drain(ctx, definition, summary)
}

// drain replays events between the applied mark and the last event id, page by page
func (e *Engine) drain(ctx context.Context, collection schema.Collection, summary *model.Summary) error {
	markKey := storage.AppliedMarkKey(collection.Catalog, collection.Name)
	applied, err := e.store.Mark(ctx, markKey)
	if err != nil {
		return err
	}

	last, err := e.store.LastEventID(ctx, collection.Catalog, collection.Name)
	if err != nil {
		return err
	}

	if applied > last {
		e.logger.Errorw("applied events ahead of event log",
			"catalog", collection.Catalog, "collection", collection.Name, "applied", applied, "last_event", last)
		return fmt.Errorf("%s %s applied up to %d, log ends at %d: %w",
			collection.Catalog, collection.Name, applied, last, model.ErrModelInconsistent)
	} else if applied == last {
		return nil
	}

	e.logger.Infow("draining pending events",
		"catalog", collection.Catalog, "collection", collection.Name, "from", applied, "to", last)

	for applied < last {
		var page []model.Event
		filter := storage.EventFilter{
			Catalog:    collection.Catalog,
			Collection: collection.Name,
			AfterID:    applied,
			UpToID:     last,
			Limit:      e.pageSize,
		}

		err := e.store.ReadEvents(ctx, filter, func(event model.Event) error {
			page = append(page, event)
			return nil
		})

		if err != nil {
			return err
		} else if len(page) == 0 {
			break
		}

		end := page[len(page)-1].ID
		err = e.store.Atomically(ctx, func(ctx context.Context, store storage.Store) error {
			for _, event := range page {
				if err := e.applyEvent(ctx, store, collection, event, summary); err != nil {
					return err
				}
			}

			return store.SetMark(ctx, markKey, end)
		})

		if err != nil {
			return err
		}

		applied = end
	}

	return nil
}

// applyEvent changes one entity. Stale events are counted and skipped, other errors abort the unit.
func (e *Engine) applyEvent(ctx context.Context, store storage.Store, collection schema.Collection, event model.Event, summary *model.Summary) error {
	var err error
	switch event.Action {
	case model.ActionAdd:
		err = e.applyAdd(ctx, store, collection, event)
	case model.ActionModify:
		err = e.applyModify(ctx, store, collection, event)
	case model.ActionConfirm:
		err = e.applyConfirm(ctx, store, collection, event)
	case model.ActionDelete:
		err = e.applyDelete(ctx, store, collection, event)
	case model.ActionBulkConfirm:
		return e.applyBulkConfirm(ctx, store, collection, event, summary)
	default:
		return fmt.Errorf("event %d: unsupported action %s", event.ID, event.Action)
	}

	if errors.Is(err, model.ErrStaleEvent) {
		summary.AddStale("event %d %s %s: %s", event.ID, event.Action, event.TID, err.Error())
		e.logger.Warnw("stale event skipped",
			"catalog", collection.Catalog, "collection", collection.Name,
			"event_id", event.ID, "action", event.Action.String(), "tid", event.TID)
		return nil
	} else if err != nil {
		return fmt.Errorf("event %d: %w", event.ID, err)
	}

	summary.Count(event.Action, 1)
	return nil
}

// current returns the live entity the event expects, or ErrStaleEvent
func current(ctx context.Context, store storage.Store, collection schema.Collection, event model.Event) (model.Entity, error) {
	entity, found, err := store.GetEntity(ctx, collection.Catalog, collection.Name, event.TID)
	switch {
	case err != nil:
		return entity, err
	case !found:
		return entity, fmt.Errorf("%s is absent: %w", event.TID, model.ErrStaleEvent)
	case entity.IsDeleted():
		return entity, fmt.Errorf("%s is deleted: %w", event.TID, model.ErrStaleEvent)
	case entity.LastEvent != event.ExpectedLastEvent():
		return entity, fmt.Errorf("%s is at event %d, expected %d: %w",
			event.TID, entity.LastEvent, event.ExpectedLastEvent(), model.ErrStaleEvent)
	}

	return entity, nil
}

func (e *Engine) applyAdd(ctx context.Context, store storage.Store, collection schema.Collection, event model.Event) error {
	previous, found, err := store.GetEntity(ctx, collection.Catalog, collection.Name, event.TID)
	if err != nil {
		return err
	} else if found && !previous.IsDeleted() {
		return fmt.Errorf("%s already exists: %w", event.TID, model.ErrStaleEvent)
	} else if found && previous.LastEvent != event.ExpectedLastEvent() {
		return fmt.Errorf("%s deleted at event %d, expected %d: %w",
			event.TID, previous.LastEvent, event.ExpectedLastEvent(), model.ErrStaleEvent)
	}

	record := event.Contents.Record
	hash := event.Contents.Hash
	if hash == "" {
		if hash, err = fingerprint.Hash(record, event.Contents.Application); err != nil {
			return err
		}
	}

	entity, err := collection.NewEntity(record, event.Source, event.Contents.Application, hash)
	if err != nil {
		return err
	} else if entity.TID != event.TID {
		return fmt.Errorf("record identifies as %s, event targets %s", entity.TID, event.TID)
	}

	entity.LastEvent = event.ID
	return store.PutEntity(ctx, entity)
}

func (e *Engine) applyModify(ctx context.Context, store storage.Store, collection schema.Collection, event model.Event) error {
	entity, err := current(ctx, store, collection, event)
	if err != nil {
		return err
	}

	attributes := entity.Attributes.Clone()
	if attributes == nil {
		attributes = make(model.Record)
	}

	for _, modification := range event.Contents.Modifications {
		attributes[modification.Key] = modification.NewValue
	}

	from, until, expiration, err := collection.Validity(attributes)
	if err != nil {
		return err
	}

	entity.Attributes = attributes
	entity.ValidFrom, entity.ValidUntil, entity.ExpirationDate = from, until, expiration
	if event.Contents.Hash != "" {
		entity.Hash = event.Contents.Hash
	}

	if event.Contents.Application != "" {
		entity.Application = event.Contents.Application
	}

	entity.LastEvent = event.ID
	return store.PutEntity(ctx, entity)
}

// applyConfirm only touches bookkeeping, last event does not move
func (e *Engine) applyConfirm(ctx context.Context, store storage.Store, collection schema.Collection, event model.Event) error {
	entity, err := current(ctx, store, collection, event)
	if err != nil {
		return err
	}

	confirmed := event.Timestamp.UTC()
	entity.LastConfirmed = &confirmed
	if event.Contents.Hash != "" {
		entity.Hash = event.Contents.Hash
	}

	return store.PutEntity(ctx, entity)
}

func (e *Engine) applyDelete(ctx context.Context, store storage.Store, collection schema.Collection, event model.Event) error {
	entity, err := current(ctx, store, collection, event)
	if err != nil {
		return err
	}

	deleted := event.Timestamp.UTC()
	entity.DeletedAt = &deleted
	entity.LastEvent = event.ID
	return store.PutEntity(ctx, entity)
}

// applyBulkConfirm confirms members at the shared timestamp, dropping stale ones
func (e *Engine) applyBulkConfirm(ctx context.Context, store storage.Store, collection schema.Collection, event model.Event, summary *model.Summary) error {
	confirmed := event.Timestamp.UTC()
	applied := 0
	for _, member := range event.Contents.Confirms {
		target := model.Event{TID: member.TID, Contents: model.EventContents{LastEvent: model.LastEventOf(member.LastEvent)}}
		entity, err := current(ctx, store, collection, target)
		if errors.Is(err, model.ErrStaleEvent) {
			summary.AddStale("event %d BULKCONFIRM member %s: %s", event.ID, member.TID, err.Error())
			continue
		} else if err != nil {
			return fmt.Errorf("event %d: %w", event.ID, err)
		}

		entity.LastConfirmed = &confirmed
		if err := store.PutEntity(ctx, entity); err != nil {
			return err
		}

		applied++
	}

	if dropped := len(event.Contents.Confirms) - applied; dropped > 0 {
		e.logger.Warnw("bulk confirm members dropped",
			"catalog", collection.Catalog, "collection", collection.Name, "event_id", event.ID, "dropped", dropped)
	}

	summary.Count(model.ActionBulkConfirm, 1)
	summary.Count(model.ActionConfirm, applied)
	return nil
}
