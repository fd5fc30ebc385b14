package relate

import (
	"github.com/paulmach/orb"

	"github.com/zefrenchwan/registries.git/geometry"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/storage"
)

// located is a destination version with its parsed geometry
type located struct {
	entity model.Entity
	shape  orb.Geometry
}

// destinations indexes destination versions for the matching methods of a relation
type destinations struct {
	// byValue links destination attribute text values to versions, per attribute
	byValue map[string]map[string][]model.Entity
	// shapes contains valid geometries per attribute, for lies_in
	shapes map[string][]located
}

func newDestinations() *destinations {
	return &destinations{
		byValue: make(map[string]map[string][]model.Entity),
		shapes:  make(map[string][]located),
	}
}

// addValue indexes a version by the text of one of its attributes
func (d *destinations) addValue(attribute string, entity model.Entity) {
	value := storage.TextValue(entity.Attributes[attribute])
	if value == "" {
		return
	}

	values, found := d.byValue[attribute]
	if !found {
		values = make(map[string][]model.Entity)
		d.byValue[attribute] = values
	}

	values[value] = append(values[value], entity)
}

// addShape indexes a version by its geometry, if topologically valid
func (d *destinations) addShape(attribute string, entity model.Entity) {
	text, ok := entity.Attributes[attribute].(string)
	if !ok || text == "" {
		return
	}

	shape, err := geometry.Parse(text)
	if err != nil || !geometry.IsValid(shape) {
		return
	}

	d.shapes[attribute] = append(d.shapes[attribute], located{entity: entity, shape: shape})
}

// match returns the destination versions an occurrence points to under spec
func (d *destinations) match(spec model.RelationSpec, occurrence occurrence) []model.Entity {
	switch spec.MatchMethod {
	case model.MatchEquals:
		if occurrence.bronwaarde == "" {
			return nil
		}

		return d.byValue[spec.DestinationAttribute][occurrence.bronwaarde]
	case model.MatchLiesIn:
		if occurrence.shape == nil {
			return nil
		}

		var result []model.Entity
		for _, candidate := range d.shapes[spec.DestinationAttribute] {
			if geometry.LiesIn(occurrence.shape, candidate.shape) {
				result = append(result, candidate.entity)
			}
		}

		return result
	}

	return nil
}
