package apply

import (
	"github.com/zefrenchwan/registries.git/model"
)

// Compact replaces CONFIRM events by BULKCONFIRM events of at most batchSize members.
// Other events keep their order, bulk events come last.
func Compact(events []model.Event, batchSize int) []model.Event {
	if batchSize <= 0 {
		return events
	}

	result := make([]model.Event, 0, len(events))
	var batch *model.Event
	var bulks []model.Event
	for _, event := range events {
		if event.Action != model.ActionConfirm {
			result = append(result, event)
			continue
		}

		if batch == nil || len(batch.Contents.Confirms) >= batchSize {
			bulks = append(bulks, model.Event{
				Timestamp:  event.Timestamp,
				Catalog:    event.Catalog,
				Collection: event.Collection,
				Version:    event.Version,
				Action:     model.ActionBulkConfirm,
				Source:     event.Source,
			})

			batch = &bulks[len(bulks)-1]
		}

		batch.Contents.Confirms = append(batch.Contents.Confirms, model.Confirm{
			TID:       event.TID,
			LastEvent: event.ExpectedLastEvent(),
		})
	}

	return append(result, bulks...)
}
