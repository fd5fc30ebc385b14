package schema

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zefrenchwan/registries.git/model"
)

// Metadata keys that carry the identity of a record when it is not an attribute
const (
	MetaID    = "_id"
	MetaSeqnr = "_seqnr"
)

// AutoID is the configuration of generated functional ids
type AutoID struct {
	// Attribute contains the source value an id is derived from
	Attribute string `yaml:"attribute"`
}

// Collection is the read only description of a collection
type Collection struct {
	Catalog             string
	Name                string
	Version             string
	EntityID            string
	HasStates           bool
	SeqnrAttribute      string
	ValidFromAttribute  string
	ValidUntilAttribute string
	ExpirationAttribute string
	AutoID              *AutoID
	Fields              map[string]Field
	Relations           map[string][]model.RelationSpec
}

// FieldNames returns the sorted names of fields
func (c Collection) FieldNames() []string {
	names := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		names = append(names, name)
	}

	slices.Sort(names)
	return names
}

// References returns the sorted names of reference fields
func (c Collection) References() []string {
	var names []string
	for _, name := range c.FieldNames() {
		if c.Fields[name].Type.IsReference() {
			names = append(names, name)
		}
	}

	return names
}

// Normalize returns a record with all values normalized by field type.
// Unknown attributes are kept as is, metadata too.
func (c Collection) Normalize(record model.Record) (model.Record, error) {
	result := make(model.Record, len(record))
	var errs []error
	for key, value := range record {
		field, found := c.Fields[key]
		if !found || model.IsMetadata(key) {
			result[key] = value
			continue
		}

		normalized, err := field.Normalize(value)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		result[key] = normalized
	}

	if len(errs) != 0 {
		return nil, errors.Join(errs...)
	}

	return result, nil
}

// Identify returns the functional id, seqnr and tid of a record.
// Metadata keys take precedence over attributes.
func (c Collection) Identify(record model.Record) (string, string, string, error) {
	id := textOf(record[MetaID])
	if id == "" && c.EntityID != "" {
		id = textOf(record[c.EntityID])
	}

	if id == "" {
		return "", "", "", fmt.Errorf("record of %s has no id", c.Name)
	}

	var seqnr string
	if c.HasStates {
		seqnr = textOf(record[MetaSeqnr])
		if seqnr == "" {
			seqnr = textOf(record[c.SeqnrAttribute])
		}

		if seqnr == "" {
			return "", "", "", fmt.Errorf("record %s of %s has no seqnr", id, c.Name)
		}
	}

	return id, seqnr, model.TID(id, seqnr, c.HasStates), nil
}

// Validity returns validFrom, validUntil and expiration of a record.
// Stateless collections are valid forever.
func (c Collection) Validity(record model.Record) (*time.Time, *time.Time, *time.Time, error) {
	var from, until, expiration *time.Time
	var err error

	if c.HasStates {
		if from, err = ParseMoment(record[c.ValidFromAttribute]); err != nil {
			return nil, nil, nil, err
		} else if until, err = ParseMoment(record[c.ValidUntilAttribute]); err != nil {
			return nil, nil, nil, err
		}
	}

	if c.ExpirationAttribute != "" {
		if expiration, err = ParseMoment(record[c.ExpirationAttribute]); err != nil {
			return nil, nil, nil, err
		}
	}

	return from, until, expiration, nil
}

// NewEntity builds the stored form of a normalized record
func (c Collection) NewEntity(record model.Record, source, application, hash string) (model.Entity, error) {
	var entity model.Entity
	id, seqnr, tid, err := c.Identify(record)
	if err != nil {
		return entity, err
	}

	from, until, expiration, err := c.Validity(record)
	if err != nil {
		return entity, err
	}

	entity = model.Entity{
		Catalog:        c.Catalog,
		Collection:     c.Name,
		ID:             id,
		Seqnr:          seqnr,
		TID:            tid,
		Source:         source,
		Application:    application,
		Hash:           hash,
		ValidFrom:      from,
		ValidUntil:     until,
		ExpirationDate: expiration,
		Attributes:     record.Data(),
	}

	return entity, nil
}

// RelationSpecs returns the specs of a reference field
func (c Collection) RelationSpecs(field string) []model.RelationSpec {
	return c.Relations[field]
}

// SpecFor returns the spec that applies to an application, if any.
// Exact application matches win over wildcard specs.
func (c Collection) SpecFor(field, application string) (model.RelationSpec, bool) {
	var wildcard *model.RelationSpec
	for _, spec := range c.Relations[field] {
		if spec.SourceApplication == application {
			return spec, true
		} else if spec.SourceApplication == "" && wildcard == nil {
			current := spec
			wildcard = &current
		}
	}

	if wildcard != nil {
		return *wildcard, true
	}

	return model.RelationSpec{}, false
}

func textOf(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(normalizeString(v))
	}
}
