package relate

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/zefrenchwan/registries.git/apply"
	"github.com/zefrenchwan/registries.git/compare"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/schema"
	"github.com/zefrenchwan/registries.git/storage"
	"github.com/zefrenchwan/registries.git/tracing"
)

const (
	// DEFAULT_THRESHOLD is the changed ratio from which relations are fully recomputed
	DEFAULT_THRESHOLD = 1.0
	// DEFAULT_PAGE_SIZE is the maximum number of rows read per page
	DEFAULT_PAGE_SIZE = 30000
	// DEFAULT_CONFIRM_BATCH_SIZE is the maximum number of members of a BULKCONFIRM
	DEFAULT_CONFIRM_BATCH_SIZE = 10000
)

// Mode is the way relations are recomputed
type Mode int

const (
	// ModeIncremental only recomputes sources that changed or whose destinations changed
	ModeIncremental Mode = iota
	// ModeFull recomputes every source
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}

	return "incremental"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Committer persists events of a page and the marks they cover, in one unit of work
type Committer interface {
	Commit(ctx context.Context, catalog, collection string, events []model.Event, marks map[string]int64) (*model.Summary, error)
}

// Request names the reference to relate
type Request struct {
	Catalog    string `json:"catalog"`
	Collection string `json:"collection"`
	Field      string `json:"field"`
	// ForceFull skips the choice of mode
	ForceFull bool `json:"force_full,omitempty"`
}

// Report tells what a relate run did
type Report struct {
	Relation  string           `json:"relation"`
	Mode      Mode             `json:"mode"`
	Summary   *model.Summary   `json:"summary"`
	Conflicts []model.Conflict `json:"conflicts,omitempty"`
}

// Engine computes relation rows of a reference and keeps them current
type Engine struct {
	registry     schema.Registry
	store        storage.Store
	committer    Committer
	logger       *zap.SugaredLogger
	clock        func() time.Time
	threshold    float64
	pageSize     int
	confirmBatch int
	maxWarnings  int
}

// NewEngine returns an engine reading from store and writing through committer
func NewEngine(registry schema.Registry, store storage.Store, committer Committer, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		registry:     registry,
		store:        store,
		committer:    committer,
		logger:       logger,
		clock:        time.Now,
		threshold:    DEFAULT_THRESHOLD,
		pageSize:     DEFAULT_PAGE_SIZE,
		confirmBatch: DEFAULT_CONFIRM_BATCH_SIZE,
		maxWarnings:  10,
	}
}

// WithClock sets the time source, used for event timestamps and current destinations
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithThreshold sets the changed ratio from which a full recomputation is made
func (e *Engine) WithThreshold(threshold float64) *Engine {
	e.threshold = threshold
	return e
}

// WithPageSize sets the maximum number of rows read per page
func (e *Engine) WithPageSize(size int) *Engine {
	if size > 0 {
		e.pageSize = size
	}

	return e
}

// WithConfirmBatchSize sets the size of BULKCONFIRM events, 0 keeps CONFIRM events
func (e *Engine) WithConfirmBatchSize(size int) *Engine {
	e.confirmBatch = size
	return e
}

// WithMaxWarnings bounds the warnings and conflicts kept in reports
func (e *Engine) WithMaxWarnings(value int) *Engine {
	e.maxWarnings = value
	return e
}

// run is the state of one relate execution
type run struct {
	*Engine
	request     Request
	source      schema.Collection
	destination schema.Collection
	relation    schema.Collection
	specs       []model.RelationSpec
	srcKey      string
	dstKey      string
	srcMark     int64
	dstMark     int64
	srcUpper    int64
	dstUpper    int64
	now         time.Time
	shapes      map[string][]located
	report      *Report
	emit        compare.Emitter
}

// Run relates one reference. Events are sent to emit once committed, emit may be nil.
// Report is always returned, error is not nil if the run stopped.
func (e *Engine) Run(ctx context.Context, request Request, emit compare.Emitter) (*Report, error) {
	report := &Report{
		Relation: model.RelationCollectionName(request.Catalog, request.Collection, request.Field),
		Summary:  model.NewSummary(e.maxWarnings),
	}

	ctx, span := tracing.StartSpan(ctx, "relate.Engine.Run", attribute.String("relation", report.Relation))
	current := &run{Engine: e, request: request, report: report, emit: emit, now: e.clock()}
	err := current.execute(ctx)
	span.SetAttributes(attribute.String("mode", report.Mode.String()))
	tracing.EndWithError(span, err)
	if err != nil {
		e.logger.Errorw("relate failed", "relation", report.Relation, "mode", report.Mode.String(), "error", err)
	}

	return report, err
}

func (r *run) execute(ctx context.Context) error {
	if err := r.prepare(ctx); err != nil {
		return err
	}

	mode, err := r.decideMode(ctx)
	if err != nil {
		return err
	}

	r.report.Mode = mode
	r.logger.Infow("relate started", "relation", r.report.Relation, "mode", mode.String(),
		"src_mark", r.srcMark, "src_upper", r.srcUpper, "dst_mark", r.dstMark, "dst_upper", r.dstUpper)

	if mode == ModeFull {
		err = r.full(ctx)
	} else {
		err = r.incremental(ctx)
	}

	if err != nil {
		return err
	}

	// both sides are now covered up to their upper bounds
	return r.commit(ctx, nil, map[string]int64{r.srcKey: r.srcUpper, r.dstKey: r.dstUpper})
}

// prepare resolves collections and checks preconditions before any mutation
func (r *run) prepare(ctx context.Context) error {
	var err error
	if r.source, err = r.registry.Collection(r.request.Catalog, r.request.Collection); err != nil {
		return err
	}

	field, found := r.source.Fields[r.request.Field]
	if !found || !field.Type.IsReference() {
		return fmt.Errorf("reference %s: %w", r.report.Relation, model.ErrNotFound)
	}

	catalog, collection, err := field.Destination()
	if err != nil {
		return err
	} else if r.destination, err = r.registry.Collection(catalog, collection); err != nil {
		return err
	} else if r.relation, err = r.registry.RelationCollection(r.request.Catalog, r.request.Collection, r.request.Field); err != nil {
		return err
	}

	r.specs = r.source.RelationSpecs(r.request.Field)
	if len(r.specs) == 0 {
		return fmt.Errorf("no relation spec for %s: %w", r.report.Relation, model.ErrRelationSpecMissing)
	}

	applications, err := r.store.DistinctApplications(ctx, r.source.Catalog, r.source.Name)
	if err != nil {
		return err
	}

	for _, application := range applications {
		if _, found := r.source.SpecFor(r.request.Field, application); !found {
			return fmt.Errorf("%s has no spec for application %q: %w", r.report.Relation, application, model.ErrRelationSpecMissing)
		}
	}

	r.srcKey, r.dstKey = storage.RelationMarkKeys(r.report.Relation)
	if r.srcMark, err = r.store.Mark(ctx, r.srcKey); err != nil {
		return err
	} else if r.dstMark, err = r.store.Mark(ctx, r.dstKey); err != nil {
		return err
	} else if r.srcUpper, err = r.store.MaxLastEvent(ctx, r.source.Catalog, r.source.Name); err != nil {
		return err
	} else if r.dstUpper, err = r.store.MaxLastEvent(ctx, r.destination.Catalog, r.destination.Name); err != nil {
		return err
	}

	return nil
}

// decideMode chooses a full recomputation when relations are empty or too much changed
func (r *run) decideMode(ctx context.Context) (Mode, error) {
	if r.request.ForceFull {
		return ModeFull, nil
	}

	rows, err := r.store.CountEntities(ctx, r.relation.Catalog, r.relation.Name, false)
	if err != nil {
		return ModeFull, err
	} else if rows == 0 {
		return ModeFull, nil
	}

	srcRatio, err := r.changedRatio(ctx, r.source, r.srcMark, r.srcUpper)
	if err != nil {
		return ModeFull, err
	}

	dstRatio, err := r.changedRatio(ctx, r.destination, r.dstMark, r.dstUpper)
	if err != nil {
		return ModeFull, err
	}

	if srcRatio+dstRatio >= r.threshold {
		return ModeFull, nil
	}

	return ModeIncremental, nil
}

// changedRatio returns the share of ids changed in (mark, upper], capped at 1
func (r *run) changedRatio(ctx context.Context, collection schema.Collection, mark, upper int64) (float64, error) {
	if upper <= mark {
		return 0, nil
	}

	changed, err := r.store.ListIDs(ctx, storage.Query{
		Catalog:        collection.Catalog,
		Collection:     collection.Name,
		IncludeDeleted: true,
		LastEventAfter: &mark,
		LastEventUpTo:  &upper,
	})

	if err != nil {
		return 0, err
	} else if len(changed) == 0 {
		return 0, nil
	}

	total, err := r.store.CountEntities(ctx, collection.Catalog, collection.Name, false)
	if err != nil {
		return 0, err
	}

	return Ratio(int64(len(changed)), total), nil
}

// Ratio returns changed / total, 0 without change, 1 for an empty total, capped at 1
func Ratio(changed, total int64) float64 {
	switch {
	case changed <= 0:
		return 0
	case total <= 0:
		return 1
	}

	return min(1, float64(changed)/float64(total))
}

// full recomputes every source, then deletes rows of sources that are gone
func (r *run) full(ctx context.Context) error {
	seen := make(map[string]bool)
	cursor := ""
	for {
		ids, err := r.store.ListIDs(ctx, storage.Query{
			Catalog:        r.source.Catalog,
			Collection:     r.source.Name,
			IncludeDeleted: true,
			IDAfter:        cursor,
			Limit:          r.pageSize,
		})

		if err != nil {
			return err
		} else if len(ids) == 0 {
			break
		}

		if err := r.processSources(ctx, ids, nil); err != nil {
			return err
		}

		for _, id := range ids {
			seen[id] = true
		}

		cursor = ids[len(ids)-1]
		if len(ids) < r.pageSize {
			break
		}
	}

	var orphans []model.Event
	query := storage.Query{Catalog: r.relation.Catalog, Collection: r.relation.Name, OrderBy: storage.OrderByTID}
	err := r.store.ScanEntities(ctx, query, func(entity model.Entity) error {
		if seen[model.RelationFromEntity(entity).SrcID] {
			return nil
		}

		event := r.newEvent(model.ActionDelete, entity.ID, entity.TID)
		event.Contents.LastEvent = model.LastEventOf(entity.LastEvent)
		orphans = append(orphans, event)
		return nil
	})

	if err != nil {
		return err
	}

	for start := 0; start < len(orphans); start += r.pageSize {
		end := min(start+r.pageSize, len(orphans))
		if err := r.commit(ctx, orphans[start:end], nil); err != nil {
			return err
		}
	}

	return nil
}

// incremental recomputes changed sources, then sources whose destinations changed.
// Each page advances the mark of its side once committed.
func (r *run) incremental(ctx context.Context) error {
	cursor := r.srcMark
	for cursor < r.srcUpper {
		var ids []string
		count, last := 0, cursor
		err := r.store.ScanEntities(ctx, r.changedQuery(r.source, cursor, r.srcUpper), func(entity model.Entity) error {
			count++
			last = entity.LastEvent
			ids = append(ids, entity.ID)
			return nil
		})

		if err != nil {
			return err
		} else if count == 0 {
			break
		}

		if err := r.processSources(ctx, distinct(ids), map[string]int64{r.srcKey: last}); err != nil {
			return err
		}

		cursor = last
		if count < r.pageSize {
			break
		}
	}

	cursor = r.dstMark
	if cursor < r.dstUpper && len(r.attributesOf(model.MatchLiesIn)) != 0 {
		// any source may lie in a changed shape
		return r.processAllSources(ctx, map[string]int64{r.dstKey: r.dstUpper})
	}

	for cursor < r.dstUpper {
		var changed []model.Entity
		err := r.store.ScanEntities(ctx, r.changedQuery(r.destination, cursor, r.dstUpper), func(entity model.Entity) error {
			changed = append(changed, entity)
			return nil
		})

		if err != nil {
			return err
		} else if len(changed) == 0 {
			break
		}

		last := changed[len(changed)-1].LastEvent
		if err := r.processDestinations(ctx, changed, map[string]int64{r.dstKey: last}); err != nil {
			return err
		}

		cursor = last
		if len(changed) < r.pageSize {
			break
		}
	}

	return nil
}

// changedQuery selects a page of versions changed in (after, upTo], by last event
func (r *run) changedQuery(collection schema.Collection, after, upTo int64) storage.Query {
	return storage.Query{
		Catalog:        collection.Catalog,
		Collection:     collection.Name,
		IncludeDeleted: true,
		LastEventAfter: &after,
		LastEventUpTo:  &upTo,
		OrderBy:        storage.OrderByLastEvent,
		Limit:          r.pageSize,
	}
}

// processDestinations recomputes the sources a page of changed destinations may affect
func (r *run) processDestinations(ctx context.Context, changed []model.Entity, marks map[string]int64) error {
	dstIDs := make([]string, 0, len(changed))
	var values []string
	for _, destination := range changed {
		dstIDs = append(dstIDs, destination.ID)
		for _, spec := range r.specs {
			if value := storage.TextValue(destination.Attributes[spec.DestinationAttribute]); value != "" {
				values = append(values, value)
			}
		}
	}

	var ids []string
	linked := storage.Query{
		Catalog:     r.relation.Catalog,
		Collection:  r.relation.Name,
		AttributeIn: &storage.ValuesFilter{Attribute: model.RelDstID, Values: distinct(dstIDs)},
	}

	err := r.store.ScanEntities(ctx, linked, func(entity model.Entity) error {
		ids = append(ids, model.RelationFromEntity(entity).SrcID)
		return nil
	})

	if err != nil {
		return err
	}

	if len(values) != 0 {
		referencing, err := r.store.ListIDs(ctx, storage.Query{
			Catalog:     r.source.Catalog,
			Collection:  r.source.Name,
			ReferenceIn: &storage.ValuesFilter{Attribute: r.request.Field, Values: distinct(values)},
		})

		if err != nil {
			return err
		}

		ids = append(ids, referencing...)
	}

	ids = distinct(ids)
	if len(ids) == 0 {
		return r.commit(ctx, nil, marks)
	}

	for start := 0; start < len(ids); start += r.pageSize {
		end := min(start+r.pageSize, len(ids))
		var pageMarks map[string]int64
		if end == len(ids) {
			pageMarks = marks
		}

		if err := r.processSources(ctx, ids[start:end], pageMarks); err != nil {
			return err
		}
	}

	return nil
}

// processAllSources recomputes every source id, page by page
func (r *run) processAllSources(ctx context.Context, marks map[string]int64) error {
	cursor := ""
	for {
		ids, err := r.store.ListIDs(ctx, storage.Query{
			Catalog:        r.source.Catalog,
			Collection:     r.source.Name,
			IncludeDeleted: true,
			IDAfter:        cursor,
			Limit:          r.pageSize,
		})

		if err != nil {
			return err
		}

		if len(ids) < r.pageSize {
			return r.processSources(ctx, ids, marks)
		} else if err := r.processSources(ctx, ids, nil); err != nil {
			return err
		}

		cursor = ids[len(ids)-1]
	}
}

// processSources recomputes relations of source ids and commits the resulting events with marks
func (r *run) processSources(ctx context.Context, ids []string, marks map[string]int64) error {
	if len(ids) == 0 {
		return r.commit(ctx, nil, marks)
	}

	ctx, span := tracing.StartSpan(ctx, "relate.page", attribute.Int("sources", len(ids)))
	err := r.processPage(ctx, ids, marks)
	tracing.EndWithError(span, err)
	return err
}

func (r *run) processPage(ctx context.Context, ids []string, marks map[string]int64) error {
	statesOf := make(map[string][]model.Entity, len(ids))
	query := storage.Query{
		Catalog:    r.source.Catalog,
		Collection: r.source.Name,
		IDs:        ids,
		OrderBy:    storage.OrderByIDSeqnr,
	}

	err := r.store.ScanEntities(ctx, query, func(entity model.Entity) error {
		statesOf[entity.ID] = append(statesOf[entity.ID], entity)
		return nil
	})

	if err != nil {
		return err
	}

	input := sweepInput{
		source:      r.source,
		field:       r.request.Field,
		dstStateful: r.destination.HasStates,
		now:         r.now,
	}

	if input.destinations, err = r.loadDestinations(ctx, statesOf); err != nil {
		return err
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	var rows []row
	for _, id := range sorted {
		result, err := sweep(input, statesOf[id])
		if err != nil {
			return err
		}

		rows = append(rows, result.rows...)
		for _, conflict := range result.conflicts {
			r.addConflict(conflict)
		}

		for _, bronwaarde := range result.missing {
			r.report.Summary.AddMissing("%s: no destination for %s (bronwaarde %q)", r.report.Relation, id, bronwaarde)
		}
	}

	var stored []model.Entity
	existing := storage.Query{
		Catalog:        r.relation.Catalog,
		Collection:     r.relation.Name,
		IncludeDeleted: true,
		AttributeIn:    &storage.ValuesFilter{Attribute: model.RelSrcID, Values: ids},
	}

	err = r.store.ScanEntities(ctx, existing, func(entity model.Entity) error {
		stored = append(stored, entity)
		return nil
	})

	if err != nil {
		return err
	}

	events, err := derive(r.relation, rows, stored, r.newEvent)
	if err != nil {
		return err
	}

	return r.commit(ctx, events, marks)
}

// loadDestinations reads destination versions the states may match
func (r *run) loadDestinations(ctx context.Context, statesOf map[string][]model.Entity) (*destinations, error) {
	result := newDestinations()
	var values []string
	for _, states := range statesOf {
		for _, state := range states {
			values = append(values, storage.Bronwaardes(state.Attributes[r.request.Field])...)
		}
	}

	values = distinct(values)
	for _, attribute := range r.attributesOf(model.MatchEquals) {
		if len(values) == 0 {
			break
		}

		query := storage.Query{
			Catalog:     r.destination.Catalog,
			Collection:  r.destination.Name,
			AttributeIn: &storage.ValuesFilter{Attribute: attribute, Values: values},
		}

		err := r.store.ScanEntities(ctx, query, func(entity model.Entity) error {
			result.addValue(attribute, entity)
			return nil
		})

		if err != nil {
			return nil, err
		}
	}

	shapes, err := r.loadShapes(ctx)
	if err != nil {
		return nil, err
	}

	result.shapes = shapes
	return result, nil
}

// loadShapes reads destination geometries once per run
func (r *run) loadShapes(ctx context.Context) (map[string][]located, error) {
	attributes := r.attributesOf(model.MatchLiesIn)
	if r.shapes != nil || len(attributes) == 0 {
		return r.shapes, nil
	}

	index := newDestinations()
	query := storage.Query{Catalog: r.destination.Catalog, Collection: r.destination.Name}
	err := r.store.ScanEntities(ctx, query, func(entity model.Entity) error {
		for _, attribute := range attributes {
			index.addShape(attribute, entity)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	r.shapes = index.shapes
	return r.shapes, nil
}

// attributesOf returns destination attributes used by specs of a match method
func (r *run) attributesOf(method model.MatchMethod) []string {
	var result []string
	for _, spec := range r.specs {
		if spec.MatchMethod == method && !slices.Contains(result, spec.DestinationAttribute) {
			result = append(result, spec.DestinationAttribute)
		}
	}

	return result
}

func (r *run) addConflict(conflict model.Conflict) {
	r.report.Summary.AddConflict("%s: %s matches %v, kept %s",
		r.report.Relation, conflict.SrcID, conflict.Destinations, conflict.Kept)
	if len(r.report.Conflicts) < r.maxWarnings {
		r.report.Conflicts = append(r.report.Conflicts, conflict)
		r.logger.Warnw("unique destination conflict", "relation", r.report.Relation,
			"src_id", conflict.SrcID, "bronwaarde", conflict.Bronwaarde,
			"kept", conflict.Kept, "dropped", conflict.Destinations)
	}
}

// commit persists events and marks, then sends events to the emitter
func (r *run) commit(ctx context.Context, events []model.Event, marks map[string]int64) error {
	if len(events) == 0 && len(marks) == 0 {
		return nil
	}

	events = apply.Compact(events, r.confirmBatch)
	summary, err := r.committer.Commit(ctx, r.relation.Catalog, r.relation.Name, events, marks)
	r.report.Summary.Merge(summary)
	if err != nil {
		return err
	}

	if r.emit == nil {
		return nil
	}

	for _, event := range events {
		if err := r.emit(event); err != nil {
			return err
		}
	}

	return nil
}

func (r *run) newEvent(action model.Action, id, tid string) model.Event {
	return model.Event{
		Timestamp:  r.now.UTC(),
		Catalog:    r.relation.Catalog,
		Collection: r.relation.Name,
		Version:    r.relation.Version,
		Action:     action,
		Source:     r.source.Catalog + "." + r.source.Name,
		SourceID:   id,
		TID:        tid,
	}
}

// distinct returns sorted values without duplicates
func distinct(values []string) []string {
	result := slices.Clone(values)
	slices.Sort(result)
	return slices.Compact(result)
}
