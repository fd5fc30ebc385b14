package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/zefrenchwan/registries.git/model"
)

// scanEntity reads a row made of entityColumns
func scanEntity(rows pgx.Rows) (model.Entity, error) {
	var entity model.Entity
	var attributes []byte
	err := rows.Scan(
		&entity.Catalog, &entity.Collection, &entity.TID, &entity.ID, &entity.Seqnr,
		&entity.Source, &entity.Application, &entity.Hash,
		&entity.ValidFrom, &entity.ValidUntil, &entity.ExpirationDate,
		&entity.LastEvent, &entity.LastConfirmed, &entity.DeletedAt, &attributes,
	)

	if err != nil {
		return entity, err
	} else if err := json.Unmarshal(attributes, &entity.Attributes); err != nil {
		return entity, fmt.Errorf("attributes of %s: %w", entity.TID, err)
	}

	utc(entity.ValidFrom)
	utc(entity.ValidUntil)
	utc(entity.ExpirationDate)
	utc(entity.LastConfirmed)
	utc(entity.DeletedAt)
	return entity, nil
}

// scanEvent reads a row made of eventColumns
func scanEvent(rows pgx.Rows) (model.Event, error) {
	var event model.Event
	var action string
	var contents []byte
	err := rows.Scan(
		&event.ID, &event.Timestamp, &event.Catalog, &event.Collection, &event.Version,
		&action, &event.Source, &event.SourceID, &event.TID, &contents,
	)

	if err != nil {
		return event, err
	} else if event.Action, err = model.ParseAction(action); err != nil {
		return event, err
	} else if err := json.Unmarshal(contents, &event.Contents); err != nil {
		return event, fmt.Errorf("contents of event %d: %w", event.ID, err)
	}

	event.Timestamp = event.Timestamp.UTC()
	return event, nil
}

func utc(value *time.Time) {
	if value != nil {
		*value = value.UTC()
	}
}
