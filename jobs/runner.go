package jobs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zefrenchwan/registries.git/apply"
	"github.com/zefrenchwan/registries.git/compare"
	"github.com/zefrenchwan/registries.git/metrics"
	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/relate"
	"github.com/zefrenchwan/registries.git/schema"
	"github.com/zefrenchwan/registries.git/sinks"
	"github.com/zefrenchwan/registries.git/storage"
)

// Job names, as metric labels
const (
	JOB_IMPORT = "import"
	JOB_RELATE = "relate"
	JOB_APPLY  = "apply"
)

// EMIT_BUFFER_SIZE is the number of relate events sent to sinks at once
const EMIT_BUFFER_SIZE = 1000

// SinkFactory opens the artifacts sink of one run of a job on a collection
type SinkFactory func(ctx context.Context, job, catalog, collection, run string) (sinks.Sink, error)

// DiscardSinks drops every artifact
func DiscardSinks(context.Context, string, string, string, string) (sinks.Sink, error) {
	return sinks.Discard{}, nil
}

// Options tune the engines of a runner
type Options struct {
	ConfirmBatchSize    int
	RelatePageSize      int
	FullRelateThreshold float64
	MaxWarnings         int
	MaxConcurrentJobs   int
}

// DefaultOptions returns engines defaults
func DefaultOptions() Options {
	return Options{
		ConfirmBatchSize:    relate.DEFAULT_CONFIRM_BATCH_SIZE,
		RelatePageSize:      relate.DEFAULT_PAGE_SIZE,
		FullRelateThreshold: relate.DEFAULT_THRESHOLD,
		MaxWarnings:         10,
		MaxConcurrentJobs:   4,
	}
}

// Runner orchestrates imports and relates over one store
type Runner struct {
	registry schema.Registry
	store    storage.Store
	comparer *compare.Engine
	applier  *apply.Engine
	relater  *relate.Engine
	sinks    SinkFactory
	logger   *zap.SugaredLogger
	options  Options
	newRunID func() string
}

// NewRunner builds the engines of a runner
func NewRunner(registry schema.Registry, store storage.Store, logger *zap.SugaredLogger, options Options) *Runner {
	applier := apply.NewEngine(registry, store, logger).WithMaxWarnings(options.MaxWarnings)
	relater := relate.NewEngine(registry, store, applier, logger).
		WithThreshold(options.FullRelateThreshold).
		WithPageSize(options.RelatePageSize).
		WithConfirmBatchSize(options.ConfirmBatchSize).
		WithMaxWarnings(options.MaxWarnings)

	return &Runner{
		registry: registry,
		store:    store,
		comparer: compare.NewEngine(registry, store, logger).WithMaxWarnings(options.MaxWarnings),
		applier:  applier,
		relater:  relater,
		sinks:    DiscardSinks,
		logger:   logger,
		options:  options,
		newRunID: func() string { return uuid.NewString() },
	}
}

// WithSinks sets where artifacts of runs go
func (r *Runner) WithSinks(factory SinkFactory) *Runner {
	r.sinks = factory
	return r
}

// WithClock sets the clock of engines, for tests
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.comparer.WithClock(clock)
	r.relater.WithClock(clock)
	return r
}

// Registry returns the schema the runner works with
func (r *Runner) Registry() schema.Registry {
	return r.registry
}

// ImportResult is the outcome of an import
type ImportResult struct {
	Run     string         `json:"run"`
	Drain   *model.Summary `json:"drain,omitempty"`
	Compare *model.Summary `json:"compare"`
	Apply   *model.Summary `json:"apply,omitempty"`
}

// Import replays pending events of the collection, compares a snapshot,
// applies its events, then writes its artifacts with their event ids.
// Nothing is written when drain or compare fails.
func (r *Runner) Import(ctx context.Context, snapshot model.Snapshot) (*ImportResult, error) {
	started := time.Now()
	header := snapshot.Header
	result := &ImportResult{Run: r.newRunID()}
	defer metrics.ObserveRun(JOB_IMPORT, started)

	drained, err := r.applier.Drain(ctx, header.Catalogue, header.Collection)
	result.Drain = drained
	if err != nil {
		return result, err
	}

	var events []model.Event
	summary, err := r.comparer.Compare(ctx, header, snapshot.Contents, func(event model.Event) error {
		events = append(events, event)
		return nil
	})

	result.Compare = summary
	if err != nil {
		return result, err
	}

	compacted := apply.Compact(events, r.options.ConfirmBatchSize)
	result.Apply, err = r.applier.Apply(ctx, header.Catalogue, header.Collection, compacted)
	metrics.RecordSummary(metrics.KIND_IMPORT, result.Apply)
	if err != nil {
		return result, err
	}

	copyEventIDs(events, compacted)
	if err := r.writeArtifacts(ctx, JOB_IMPORT, header.Catalogue, header.Collection, result.Run, events); err != nil {
		return result, err
	}

	r.logger.Infow("import done", "run", result.Run, "catalog", header.Catalogue, "collection", header.Collection,
		"source", header.Source, "application", header.Application, "events", len(events), "compacted", len(compacted),
		"duration", time.Since(started).String())
	return result, nil
}

// copyEventIDs sets ids of logged events on the events they were compacted from.
// A confirm gets the id of the BULKCONFIRM event it belongs to.
func copyEventIDs(events, logged []model.Event) {
	bulks := make(map[string]int64)
	singles := make([]int64, 0, len(logged))
	for _, event := range logged {
		if event.Action != model.ActionBulkConfirm {
			singles = append(singles, event.ID)
			continue
		}

		for _, confirm := range event.Contents.Confirms {
			bulks[confirm.TID] = event.ID
		}
	}

	for index := range events {
		if id, found := bulks[events[index].TID]; found && events[index].Action == model.ActionConfirm {
			events[index].ID = id
		} else if len(singles) != 0 {
			events[index].ID = singles[0]
			singles = singles[1:]
		}
	}
}

func (r *Runner) writeArtifacts(ctx context.Context, job, catalog, collection, run string, events []model.Event) error {
	sink, err := r.sinks(ctx, job, catalog, collection, run)
	if err != nil {
		return err
	}

	err = sink.Write(ctx, events)
	return errors.Join(err, sink.Close())
}

// Relate runs the relate engine on one reference, publishing its events once committed
func (r *Runner) Relate(ctx context.Context, request relate.Request) (*relate.Report, error) {
	started := time.Now()
	defer metrics.ObserveRun(JOB_RELATE, started)

	run := r.newRunID()
	name := model.RelationCollectionName(request.Catalog, request.Collection, request.Field)
	sink, err := r.sinks(ctx, JOB_RELATE, model.RelationCatalog, name, run)
	if err != nil {
		return nil, err
	}

	buffer := &bufferedEmitter{ctx: ctx, sink: sink}
	report, err := r.relater.Run(ctx, request, buffer.emit)
	err = errors.Join(err, buffer.flush(), sink.Close())
	if report != nil {
		metrics.RecordSummary(metrics.KIND_RELATE, report.Summary)
		if err == nil {
			metrics.RecordRelateMode(report.Mode.String())
		}
	}

	if err != nil {
		return report, err
	}

	r.logger.Infow("relate done", "run", run, "relation", report.Relation, "mode", report.Mode.String(),
		"events", report.Summary.Total(), "conflicts", report.Summary.Conflicts, "missing", report.Summary.Missing,
		"duration", time.Since(started).String())
	return report, nil
}

// RelateAll relates every reference of catalog, all catalogs if empty.
// Jobs run concurrently, a failing job does not stop the others.
func (r *Runner) RelateAll(ctx context.Context, catalog string, forceFull bool) ([]*relate.Report, error) {
	var requests []relate.Request
	for _, key := range r.registry.RelationFields() {
		if catalog == "" || key[0] == catalog {
			requests = append(requests, relate.Request{Catalog: key[0], Collection: key[1], Field: key[2], ForceFull: forceFull})
		}
	}

	slices.SortFunc(requests, compareRequests)

	reports := make([]*relate.Report, len(requests))
	failures := make([]error, len(requests))
	tasks := make([]func(context.Context) error, len(requests))
	for index, request := range requests {
		tasks[index] = func(ctx context.Context) error {
			report, err := r.Relate(ctx, request)
			reports[index] = report
			if err != nil {
				failures[index] = fmt.Errorf("%s.%s.%s: %w", request.Catalog, request.Collection, request.Field, err)
			}

			return nil
		}
	}

	if err := RunConcurrently(ctx, r.options.MaxConcurrentJobs, tasks); err != nil {
		return reports, err
	}

	return reports, errors.Join(failures...)
}

// ApplyEvents applies events of an artifact, grouped by collection in order of first appearance
func (r *Runner) ApplyEvents(ctx context.Context, events []model.Event) (*model.Summary, error) {
	started := time.Now()
	defer metrics.ObserveRun(JOB_APPLY, started)

	result := model.NewSummary(r.options.MaxWarnings)
	var order [][2]string
	groups := make(map[[2]string][]model.Event)
	for _, event := range events {
		key := [2]string{event.Catalog, event.Collection}
		if _, found := groups[key]; !found {
			order = append(order, key)
		}

		// ids come from the log that receives them
		event.ID = 0
		groups[key] = append(groups[key], event)
	}

	for _, key := range order {
		compacted := apply.Compact(groups[key], r.options.ConfirmBatchSize)
		summary, err := r.applier.Apply(ctx, key[0], key[1], compacted)
		result.Merge(summary)
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

// Drain applies pending events of a collection
func (r *Runner) Drain(ctx context.Context, catalog, collection string) (*model.Summary, error) {
	return r.applier.Drain(ctx, catalog, collection)
}

func compareRequests(a, b relate.Request) int {
	return cmp.Or(
		cmp.Compare(a.Catalog, b.Catalog),
		cmp.Compare(a.Collection, b.Collection),
		cmp.Compare(a.Field, b.Field),
	)
}

// bufferedEmitter sends emitted events to a sink by batches
type bufferedEmitter struct {
	ctx     context.Context
	sink    sinks.Sink
	pending []model.Event
}

func (b *bufferedEmitter) emit(event model.Event) error {
	b.pending = append(b.pending, event)
	if len(b.pending) < EMIT_BUFFER_SIZE {
		return nil
	}

	return b.flush()
}

func (b *bufferedEmitter) flush() error {
	if len(b.pending) == 0 {
		return nil
	}

	err := b.sink.Write(b.ctx, b.pending)
	b.pending = b.pending[:0]
	return err
}
