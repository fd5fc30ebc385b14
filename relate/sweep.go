package relate

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/zefrenchwan/registries.git/geometry"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/periods"
	"github.com/zefrenchwan/registries.git/schema"
	"github.com/zefrenchwan/registries.git/storage"
)

// occurrence is one reference value of one source state
type occurrence struct {
	state      model.Entity
	spec       model.RelationSpec
	bronwaarde string
	shape      orb.Geometry
}

// candidate is a destination version matched by an occurrence, over the validity they share
type candidate struct {
	destination model.Entity
	validity    periods.Interval[time.Time]
}

// row is a computed relation with its identity in the relation collection
type row struct {
	relation model.Relation
	id       string
	seqnr    int
}

func (r row) tid() string {
	return model.TID(r.id, strconv.Itoa(r.seqnr), true)
}

// record returns the relation record, identity as metadata
func (r row) record() model.Record {
	result := r.relation.Record()
	result[schema.MetaID] = r.id
	result[schema.MetaSeqnr] = strconv.Itoa(r.seqnr)
	return result
}

// sweepInput is what the sweep of one source id needs
type sweepInput struct {
	source       schema.Collection
	field        string
	dstStateful  bool
	now          time.Time
	destinations *destinations
}

// sweepResult contains rows of one source id and the data quality issues found
type sweepResult struct {
	rows      []row
	conflicts []model.Conflict
	missing   []string
}

// occurrencesOf returns the reference occurrences of a source state
func occurrencesOf(input sweepInput, state model.Entity) ([]occurrence, error) {
	spec, found := input.source.SpecFor(input.field, state.Application)
	if !found {
		return nil, fmt.Errorf("%s:%s.%s for application %q: %w",
			input.source.Catalog, input.source.Name, input.field, state.Application, model.ErrRelationSpecMissing)
	}

	values := storage.Bronwaardes(state.Attributes[input.field])
	if spec.MatchMethod == model.MatchLiesIn {
		bronwaarde := spec.SourceAttribute
		if len(values) != 0 {
			bronwaarde = values[0]
		}

		result := occurrence{state: state, spec: spec, bronwaarde: bronwaarde}
		if text, ok := state.Attributes[spec.SourceAttribute].(string); ok && text != "" {
			if shape, err := geometry.Parse(text); err == nil {
				result.shape = shape
			}
		}

		return []occurrence{result}, nil
	}

	if len(values) == 0 {
		return []occurrence{{state: state, spec: spec}}, nil
	}

	slices.Sort(values)
	values = slices.Compact(values)
	result := make([]occurrence, 0, len(values))
	for _, value := range values {
		result = append(result, occurrence{state: state, spec: spec, bronwaarde: value})
	}

	return result, nil
}

// sweep computes relations of the states of one source id.
// States are the live versions of the id, sorted by seqnr.
func sweep(input sweepInput, states []model.Entity) (sweepResult, error) {
	var result sweepResult
	groups := make(map[string][]occurrence)
	for _, state := range states {
		occurrences, err := occurrencesOf(input, state)
		if err != nil {
			return result, err
		}

		for _, current := range occurrences {
			groups[current.bronwaarde] = append(groups[current.bronwaarde], current)
		}
	}

	bronwaardes := make([]string, 0, len(groups))
	for bronwaarde := range groups {
		bronwaardes = append(bronwaardes, bronwaarde)
	}

	slices.Sort(bronwaardes)
	var all produced
	for _, bronwaarde := range bronwaardes {
		current, conflict, missing, err := input.sweepOccurrence(groups[bronwaarde])
		if err != nil {
			return result, err
		}

		all.relations = append(all.relations, current.relations...)
		all.multiple = append(all.multiple, current.multiple...)

		if conflict != nil {
			result.conflicts = append(result.conflicts, *conflict)
		}

		if missing {
			result.missing = append(result.missing, bronwaarde)
		}
	}

	result.rows = numberRows(all)
	return result, nil
}

// produced are relations, with the multipleAllowed flag of the spec that made each of them
type produced struct {
	relations []model.Relation
	multiple  []bool
}

// sweepOccurrence tiles the lifetime of one bronwaarde with relations.
// Lifetime is cut at every bound of the states and of their candidates,
// then adjacent pieces with the same destinations are merged.
// Relations cover the lifetime exactly, or ErrModelInconsistent is returned.
func (input sweepInput) sweepOccurrence(group []occurrence) (produced, *model.Conflict, bool, error) {
	var result produced
	var lifetime periods.Period
	sourceStateful := input.source.HasStates
	validities := make([]periods.Interval[time.Time], len(group))
	candidates := make([][]candidate, len(group))
	points := make([]periods.Interval[time.Time], 0, len(group))
	for index, current := range group {
		validity := periods.NewValidity(nil, nil)
		if sourceStateful {
			validity = current.state.Validity()
		}

		validities[index] = validity
		points = append(points, validity)
		if err := lifetime.AddInterval(validity); err != nil {
			return result, nil, false, err
		}

		matches := input.destinations.match(current.spec, current)
		if !sourceStateful && input.dstStateful {
			// stateless sources link to the current version of each destination
			matches = currentVersions(matches, input.now)
		}

		for _, destination := range matches {
			shared := validity
			if sourceStateful && input.dstStateful {
				shared = periods.ValidityIntersection(validity, destination.Validity())
			}

			if shared.IsEmpty() {
				continue
			}

			candidates[index] = append(candidates[index], candidate{destination: destination, validity: shared})
			points = append(points, shared)
		}
	}

	boundaries := periods.Boundaries(points...)
	var conflict *model.Conflict
	matched := false
	open := make(map[string]int)
	for _, run := range lifetime.AsIntervals() {
		// runs are separated, nothing extends over a gap
		clear(open)
		for _, piece := range periods.Split(run, boundaries) {
			index := slices.IndexFunc(validities, func(validity periods.Interval[time.Time]) bool {
				return !periods.ValidityIntersection(validity, piece).IsEmpty()
			})

			if index < 0 {
				continue
			}

			current := group[index]
			active := activeDestinations(candidates[index], piece)
			if len(active) > 1 && !current.spec.MultipleAllowed {
				conflict = addConflict(conflict, current, active)
				active = active[:1]
			}

			from, until := periods.Bounds(piece)
			keys := make(map[string]bool, len(active))
			if len(active) == 0 {
				keys[""] = true
				extendOrOpen(&result, open, "", current.spec.MultipleAllowed, from, until, func() model.Relation {
					return newRelation(current, nil, input.dstStateful, from, until)
				})
			}

			for _, destination := range active {
				matched = true
				key := destination.TID
				keys[key] = true
				extendOrOpen(&result, open, key, current.spec.MultipleAllowed, from, until, func() model.Relation {
					return newRelation(current, &destination, input.dstStateful, from, until)
				})
			}

			for key := range open {
				if !keys[key] {
					delete(open, key)
				}
			}
		}
	}

	if err := checkTiling(group, lifetime, result.relations); err != nil {
		return result, conflict, false, err
	}

	missing := !matched && len(group) != 0 && group[0].bronwaarde != "" && !group[0].spec.NoneAllowed
	return result, conflict, missing, nil
}

// checkTiling fails if relations leave a moment of lifetime uncovered or go beyond it
func checkTiling(group []occurrence, lifetime periods.Period, relations []model.Relation) error {
	var covered periods.Period
	for _, relation := range relations {
		if err := covered.AddInterval(periods.NewValidity(relation.ValidFrom, relation.ValidUntil)); err != nil {
			return err
		}
	}

	uncovered, beyond := lifetime, covered
	uncovered.Remove(covered)
	beyond.Remove(lifetime)
	if uncovered.IsEmptyPeriod() && beyond.IsEmptyPeriod() {
		return nil
	}

	state := group[0].state
	return fmt.Errorf("relations of %s bronwaarde %q do not tile its lifetime (%d gaps, %d overflows): %w",
		state.ID, group[0].bronwaarde, len(uncovered.AsIntervals()), len(beyond.AsIntervals()), model.ErrModelInconsistent)
}

// activeDestinations returns destinations valid over the piece, by id then seqnr
func activeDestinations(candidates []candidate, piece periods.Interval[time.Time]) []model.Entity {
	var result []model.Entity
	seen := make(map[string]bool)
	for _, current := range candidates {
		if periods.ValidityIntersection(current.validity, piece).IsEmpty() || seen[current.destination.TID] {
			continue
		}

		seen[current.destination.TID] = true
		result = append(result, current.destination)
	}

	slices.SortFunc(result, func(a, b model.Entity) int {
		if cmp := strings.Compare(a.ID, b.ID); cmp != 0 {
			return cmp
		}

		return storage.CompareSeqnr(a.Seqnr, b.Seqnr)
	})

	return result
}

// currentVersions keeps one version per destination id, in order of first match.
// The version valid at moment wins, else the open ended version with the highest seqnr.
// Ids with neither are dropped.
func currentVersions(matches []model.Entity, moment time.Time) []model.Entity {
	var ids []string
	versions := make(map[string][]model.Entity)
	for _, version := range matches {
		if _, found := versions[version.ID]; !found {
			ids = append(ids, version.ID)
		}

		versions[version.ID] = append(versions[version.ID], version)
	}

	result := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		if version, found := currentVersion(versions[id], moment); found {
			result = append(result, version)
		}
	}

	return result
}

func currentVersion(versions []model.Entity, moment time.Time) (model.Entity, bool) {
	latest := -1
	for index, version := range versions {
		if version.IsValidAt(moment) {
			return version, true
		} else if version.ValidUntil == nil && (latest < 0 || storage.CompareSeqnr(version.Seqnr, versions[latest].Seqnr) > 0) {
			latest = index
		}
	}

	if latest < 0 {
		return model.Entity{}, false
	}

	return versions[latest], true
}

// extendOrOpen extends the open relation of key if it ends where the piece starts, or opens a new one
func extendOrOpen(result *produced, open map[string]int, key string, multiple bool, from, until *time.Time, build func() model.Relation) {
	if index, found := open[key]; found {
		current := &result.relations[index]
		if current.ValidUntil != nil && from != nil && current.ValidUntil.Equal(*from) {
			current.ValidUntil = until
			return
		}
	}

	open[key] = len(result.relations)
	result.relations = append(result.relations, build())
	result.multiple = append(result.multiple, multiple)
}

// addConflict reports destination ids other than the kept one, nil if there is none
func addConflict(conflict *model.Conflict, current occurrence, active []model.Entity) *model.Conflict {
	kept := active[0].ID
	others := slices.ContainsFunc(active[1:], func(destination model.Entity) bool {
		return destination.ID != kept
	})

	if !others {
		return conflict
	} else if conflict == nil {
		conflict = &model.Conflict{
			SrcID:      current.state.ID,
			SrcSeqnr:   current.state.Seqnr,
			Bronwaarde: current.bronwaarde,
			Kept:       active[0].ID,
		}
	}

	for _, destination := range active[1:] {
		if destination.ID != conflict.Kept && !slices.Contains(conflict.Destinations, destination.ID) {
			conflict.Destinations = append(conflict.Destinations, destination.ID)
		}
	}

	return conflict
}

// newRelation builds the relation of an occurrence, destination may be nil
func newRelation(current occurrence, destination *model.Entity, dstStateful bool, from, until *time.Time) model.Relation {
	result := model.Relation{
		SrcSource:      current.state.Source,
		SrcID:          current.state.ID,
		SrcSeqnr:       current.state.Seqnr,
		Bronwaarde:     current.bronwaarde,
		Derivation:     current.spec.DestinationAttribute,
		ValidFrom:      from,
		ValidUntil:     until,
		ExpirationDate: current.state.ExpirationDate,
		SrcLastEvent:   current.state.LastEvent,
	}

	if destination == nil {
		return result
	}

	result.DstSource = destination.Source
	result.DstID = destination.ID
	if dstStateful {
		result.DstSeqnr = destination.Seqnr
	}

	result.DstLastEvent = destination.LastEvent
	result.ExpirationDate = earliest(current.state.ExpirationDate, destination.ExpirationDate)
	return result
}

// earliest returns the first non nil moment
func earliest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Before(*a):
		return b
	}

	return a
}

// numberRows gives relations their functional id and seqnr, in order of validity
func numberRows(all produced) []row {
	rows := make([]row, len(all.relations))
	for index, relation := range all.relations {
		rows[index] = row{relation: relation, id: relation.FunctionalID(all.multiple[index])}
	}

	slices.SortStableFunc(rows, func(a, b row) int {
		if cmp := strings.Compare(a.id, b.id); cmp != 0 {
			return cmp
		}

		return periods.ValidityCompare(
			periods.NewValidity(a.relation.ValidFrom, a.relation.ValidUntil),
			periods.NewValidity(b.relation.ValidFrom, b.relation.ValidUntil),
		)
	})

	for index := range rows {
		if index > 0 && rows[index-1].id == rows[index].id {
			rows[index].seqnr = rows[index-1].seqnr + 1
		} else {
			rows[index].seqnr = 1
		}
	}

	return rows
}
