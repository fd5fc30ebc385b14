package schema

import (
	"fmt"

	"github.com/zefrenchwan/registries.git/model"
)

// Registry is the immutable set of known collections.
// Build it once and pass it to components.
type Registry struct {
	collections map[string]map[string]Collection
}

// NewRegistry builds a registry from collections
func NewRegistry(collections ...Collection) Registry {
	result := Registry{collections: make(map[string]map[string]Collection)}
	for _, collection := range collections {
		if _, found := result.collections[collection.Catalog]; !found {
			result.collections[collection.Catalog] = make(map[string]Collection)
		}

		result.collections[collection.Catalog][collection.Name] = collection
	}

	return result
}

// Collection returns a collection by catalog and name
func (r Registry) Collection(catalog, name string) (Collection, error) {
	if collection, found := r.collections[catalog][name]; found {
		return collection, nil
	} else if catalog == model.RelationCatalog {
		return r.relationCollectionByName(name)
	}

	return Collection{}, fmt.Errorf("collection %s:%s: %w", catalog, name, model.ErrNotFound)
}

// Collections returns all registered collections of a catalog
func (r Registry) Collections(catalog string) []Collection {
	var result []Collection
	for _, collection := range r.collections[catalog] {
		result = append(result, collection)
	}

	return result
}

// Catalogs returns the names of catalogs
func (r Registry) Catalogs() []string {
	var result []string
	for catalog := range r.collections {
		result = append(result, catalog)
	}

	return result
}

// FieldRelations returns the relation specs of a reference field
func (r Registry) FieldRelations(catalog, collection, field string) ([]model.RelationSpec, error) {
	source, err := r.Collection(catalog, collection)
	if err != nil {
		return nil, err
	}

	if specs, found := source.Relations[field]; found {
		return specs, nil
	}

	return nil, fmt.Errorf("relations of %s:%s.%s: %w", catalog, collection, field, model.ErrNotFound)
}

// RelationCollection returns the collection that stores relations of a reference field
func (r Registry) RelationCollection(catalog, collection, field string) (Collection, error) {
	source, err := r.Collection(catalog, collection)
	if err != nil {
		return Collection{}, err
	}

	if value, found := source.Fields[field]; !found || !value.Type.IsReference() {
		return Collection{}, fmt.Errorf("reference %s:%s.%s: %w", catalog, collection, field, model.ErrNotFound)
	}

	return relationCollection(model.RelationCollectionName(catalog, collection, field), source.Version), nil
}

// RelationFields lists (catalog, collection, field) of every reference having relation specs
func (r Registry) RelationFields() [][3]string {
	var result [][3]string
	for catalog, collections := range r.collections {
		for name, collection := range collections {
			for _, field := range collection.References() {
				if len(collection.Relations[field]) != 0 {
					result = append(result, [3]string{catalog, name, field})
				}
			}
		}
	}

	return result
}

func (r Registry) relationCollectionByName(name string) (Collection, error) {
	for _, key := range r.RelationFields() {
		if model.RelationCollectionName(key[0], key[1], key[2]) == name {
			return r.RelationCollection(key[0], key[1], key[2])
		}
	}

	return Collection{}, fmt.Errorf("relation collection %s: %w", name, model.ErrNotFound)
}

func relationCollection(name, version string) Collection {
	fields := map[string]Field{
		model.RelSrcID:          {Type: FieldString},
		model.RelSrcSeqnr:       {Type: FieldString},
		model.RelSrcSource:      {Type: FieldString},
		model.RelBronwaarde:     {Type: FieldString},
		model.RelDerivation:     {Type: FieldString},
		model.RelDstSource:      {Type: FieldString},
		model.RelDstID:          {Type: FieldString},
		model.RelDstSeqnr:       {Type: FieldString},
		model.RelValidFrom:      {Type: FieldDateTime},
		model.RelValidUntil:     {Type: FieldDateTime},
		model.RelExpirationDate: {Type: FieldDateTime},
		model.RelSrcLastEvent:   {Type: FieldInteger},
		model.RelDstLastEvent:   {Type: FieldInteger},
	}

	for key, field := range fields {
		field.Name = key
		fields[key] = field
	}

	return Collection{
		Catalog:             model.RelationCatalog,
		Name:                name,
		Version:             version,
		HasStates:           true,
		SeqnrAttribute:      MetaSeqnr,
		ValidFromAttribute:  model.RelValidFrom,
		ValidUntilAttribute: model.RelValidUntil,
		ExpirationAttribute: model.RelExpirationDate,
		Fields:              fields,
	}
}
