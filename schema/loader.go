package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zefrenchwan/registries.git/model"
)

// registryFile is the YAML layout of a schema file
type registryFile struct {
	Catalogs map[string]catalogFile `yaml:"catalogs"`
}

type catalogFile struct {
	Collections map[string]collectionFile `yaml:"collections"`
}

type collectionFile struct {
	Version             string                          `yaml:"version"`
	EntityID            string                          `yaml:"entity_id"`
	HasStates           bool                            `yaml:"has_states"`
	SeqnrAttribute      string                          `yaml:"seqnr_attribute"`
	ValidFromAttribute  string                          `yaml:"valid_from_attribute"`
	ValidUntilAttribute string                          `yaml:"valid_until_attribute"`
	ExpirationAttribute string                          `yaml:"expiration_attribute"`
	AutoID              *AutoID                         `yaml:"auto_id"`
	Fields              map[string]Field                `yaml:"fields"`
	Relations           map[string][]model.RelationSpec `yaml:"relations"`
}

// Load reads a registry from a YAML file
func Load(path string) (Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, fmt.Errorf("read schema %s: %w", path, err)
	}

	registry, err := Parse(data)
	if err != nil {
		return Registry{}, fmt.Errorf("parse schema %s: %w", path, err)
	}

	return registry, nil
}

// Parse reads a registry from YAML content and applies defaults
func Parse(data []byte) (Registry, error) {
	var content registryFile
	if err := yaml.Unmarshal(data, &content); err != nil {
		return Registry{}, err
	}

	var collections []Collection
	for catalog, catalogContent := range content.Catalogs {
		if catalog == model.RelationCatalog {
			return Registry{}, fmt.Errorf("catalog %s is reserved", catalog)
		}

		for name, value := range catalogContent.Collections {
			collection, err := value.build(catalog, name)
			if err != nil {
				return Registry{}, err
			}

			collections = append(collections, collection)
		}
	}

	return NewRegistry(collections...), nil
}

func (c collectionFile) build(catalog, name string) (Collection, error) {
	result := Collection{
		Catalog:             catalog,
		Name:                name,
		Version:             c.Version,
		EntityID:            c.EntityID,
		HasStates:           c.HasStates,
		SeqnrAttribute:      c.SeqnrAttribute,
		ValidFromAttribute:  c.ValidFromAttribute,
		ValidUntilAttribute: c.ValidUntilAttribute,
		ExpirationAttribute: c.ExpirationAttribute,
		AutoID:              c.AutoID,
		Fields:              make(map[string]Field, len(c.Fields)),
		Relations:           c.Relations,
	}

	// defaults
	if result.EntityID == "" {
		result.EntityID = "id"
	}
	if result.SeqnrAttribute == "" {
		result.SeqnrAttribute = "seqnr"
	}
	if result.ValidFromAttribute == "" {
		result.ValidFromAttribute = "valid_from"
	}
	if result.ValidUntilAttribute == "" {
		result.ValidUntilAttribute = "valid_until"
	}
	if result.Relations == nil {
		result.Relations = make(map[string][]model.RelationSpec)
	}

	for fieldName, field := range c.Fields {
		field.Name = fieldName
		result.Fields[fieldName] = field
		if field.Type.IsReference() {
			if _, _, err := field.Destination(); err != nil {
				return result, fmt.Errorf("collection %s:%s: %w", catalog, name, err)
			}
		}
	}

	for fieldName, specs := range result.Relations {
		field, found := result.Fields[fieldName]
		if !found || !field.Type.IsReference() {
			return result, fmt.Errorf("collection %s:%s: relations defined on %s that is not a reference", catalog, name, fieldName)
		}

		for _, spec := range specs {
			if spec.DestinationAttribute == "" {
				return result, fmt.Errorf("collection %s:%s: relation on %s has no destination attribute", catalog, name, fieldName)
			} else if spec.MatchMethod == model.MatchLiesIn && spec.SourceAttribute == "" {
				return result, fmt.Errorf("collection %s:%s: lies_in relation on %s has no source attribute", catalog, name, fieldName)
			}
		}
	}

	if result.AutoID != nil && result.AutoID.Attribute == "" {
		return result, fmt.Errorf("collection %s:%s: auto id without attribute", catalog, name)
	}

	return result, nil
}
