package compare

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/schema"
	"github.com/zefrenchwan/registries.git/storage"
)

// idIssuer gives functional ids to records without one.
// The same source value always gets the same id.
type idIssuer struct {
	// attribute holds the source value
	attribute string
	// issued links source values to ids
	issued map[string]string
	// owners links ids to source values
	owners map[string]string
	// generate returns a new id
	generate func() string
}

// newIDIssuer loads ids already issued for a collection, deleted entities included
func newIDIssuer(ctx context.Context, store storage.Store, collection schema.Collection) (*idIssuer, error) {
	issuer := &idIssuer{
		attribute: collection.AutoID.Attribute,
		issued:    make(map[string]string),
		owners:    make(map[string]string),
		generate:  uuid.NewString,
	}

	query := storage.Query{Catalog: collection.Catalog, Collection: collection.Name, IncludeDeleted: true}
	err := store.ScanEntities(ctx, query, func(e model.Entity) error {
		value := storage.TextValue(e.Attributes[issuer.attribute])
		if value == "" {
			return nil
		}

		return issuer.register(value, e.ID)
	})

	if err != nil {
		return nil, err
	}

	return issuer, nil
}

// register links a source value to an id, or fails if the id belongs to another value
func (i *idIssuer) register(value, id string) error {
	if owner, found := i.owners[id]; found && owner != value {
		return fmt.Errorf("id %s issued for %q and %q: %w", id, owner, value, model.ErrAutoIDConflict)
	}

	i.owners[id] = value
	i.issued[value] = id
	return nil
}

// assign sets the id of a record if missing
func (i *idIssuer) assign(record model.Record, idAttribute string) error {
	value := storage.TextValue(record[i.attribute])
	current := storage.TextValue(record[idAttribute])

	switch {
	case current != "" && value != "":
		return i.register(value, current)
	case current != "":
		return nil
	case value == "":
		return fmt.Errorf("record without %s nor %s", idAttribute, i.attribute)
	}

	id, found := i.issued[value]
	if !found {
		id = i.generate()
	}

	record[idAttribute] = id
	return i.register(value, id)
}
