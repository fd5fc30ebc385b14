package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zefrenchwan/registries.git/model"
)

// Kinds of runs, as event labels
const (
	KIND_IMPORT = "import"
	KIND_RELATE = "relate"
)

var (
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registries_events_total",
		Help: "Total number of applied events, labelled by run kind and action.",
	}, []string{"kind", "action"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registries_run_duration_seconds",
		Help:    "Duration of import and relate jobs in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	}, []string{"job"})

	StaleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registries_stale_events_total",
		Help: "Total number of events skipped because the entity moved on.",
	})

	RelationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "registries_relation_conflicts_total",
		Help: "Total number of source occurrences matching more than one destination.",
	})

	RelateModes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registries_relate_mode_total",
		Help: "Total number of relate runs, labelled by mode.",
	}, []string{"mode"})
)

// RecordSummary adds the counts of a run summary
func RecordSummary(kind string, summary *model.Summary) {
	if summary == nil {
		return
	}

	for action, count := range summary.Actions {
		Events.WithLabelValues(kind, action.String()).Add(float64(count))
	}

	StaleEvents.Add(float64(summary.Stale))
	RelationConflicts.Add(float64(summary.Conflicts))
}

// ObserveRun records the duration of job since started
func ObserveRun(job string, started time.Time) {
	RunDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// RecordRelateMode counts a relate run in mode
func RecordRelateMode(mode string) {
	RelateModes.WithLabelValues(mode).Inc()
}
