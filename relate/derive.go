package relate

import (
	"slices"
	"strings"

	"github.com/zefrenchwan/registries.git/compare"
	"github.com/zefrenchwan/registries.git/fingerprint"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/schema"
)

// eventFactory builds an event of the relation collection
type eventFactory func(action model.Action, id, tid string) model.Event

// derive returns the events turning stored relation rows into computed ones.
// Stored rows are all rows, deleted included, of the sources that were computed.
func derive(relation schema.Collection, computed []row, stored []model.Entity, newEvent eventFactory) ([]model.Event, error) {
	existing := make(map[string]model.Entity, len(stored))
	for _, entity := range stored {
		existing[entity.TID] = entity
	}

	slices.SortFunc(computed, func(a, b row) int {
		return strings.Compare(a.tid(), b.tid())
	})

	events := make([]model.Event, 0, len(computed))
	produced := make(map[string]bool, len(computed))
	for _, current := range computed {
		tid := current.tid()
		produced[tid] = true
		record := current.record()
		hash, err := fingerprint.Hash(current.relation.HashedPart(), "")
		if err != nil {
			return nil, err
		}

		previous, found := existing[tid]
		var event model.Event
		switch {
		case !found, previous.IsDeleted():
			event = newEvent(model.ActionAdd, current.id, tid)
			event.Contents.Record = record
			event.Contents.Hash = hash
			if found {
				event.Contents.LastEvent = model.LastEventOf(previous.LastEvent)
			}
		case previous.Hash == hash:
			event = newEvent(model.ActionConfirm, current.id, tid)
			event.Contents.Hash = hash
			event.Contents.LastEvent = model.LastEventOf(previous.LastEvent)
		default:
			modifications := compare.Diff(relation, previous.Attributes, record.Data())
			if len(modifications) == 0 {
				event = newEvent(model.ActionConfirm, current.id, tid)
			} else {
				event = newEvent(model.ActionModify, current.id, tid)
				event.Contents.Modifications = modifications
			}

			event.Contents.Hash = hash
			event.Contents.LastEvent = model.LastEventOf(previous.LastEvent)
		}

		events = append(events, event)
	}

	var gone []model.Entity
	for _, entity := range stored {
		if !entity.IsDeleted() && !produced[entity.TID] {
			gone = append(gone, entity)
		}
	}

	slices.SortFunc(gone, func(a, b model.Entity) int {
		return strings.Compare(a.TID, b.TID)
	})

	for _, entity := range gone {
		event := newEvent(model.ActionDelete, entity.ID, entity.TID)
		event.Contents.LastEvent = model.LastEventOf(entity.LastEvent)
		events = append(events, event)
	}

	return events, nil
}
