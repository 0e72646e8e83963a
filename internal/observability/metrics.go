package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes recorded by ObserveMessage.
const (
	OutcomeInsert          = "insert"
	OutcomeReplacement     = "replacement"
	OutcomeDroppedTooOld   = "dropped_too_old"
	OutcomeDroppedFiltered = "dropped_filtered"
	OutcomeDroppedNoData   = "dropped_no_data"
	OutcomeError           = "error"
)

// Rewrite branches recorded by ObserveRewrite.
const (
	BranchPromoted = "promoted"
	BranchCast     = "cast"
	BranchArray    = "array"
)

// Metrics holds the prometheus collectors of the service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	MessagesProcessed     *prometheus.CounterVec
	ProcessingDuration    prometheus.Histogram
	RowsWritten           prometheus.Counter
	SegmentsSealed        prometheus.Counter
	ReplacementsForwarded prometheus.Counter
	Rewrites              *prometheus.CounterVec
	ConsumerErrors        *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "colflat_messages_processed_total",
			Help: "Total number of stream messages processed, labelled by outcome.",
		}, []string{"outcome"}),

		ProcessingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "colflat_message_processing_duration_seconds",
			Help:    "Time spent flattening one message.",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025},
		}),

		RowsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "colflat_rows_written_total",
			Help: "Total number of rows appended to the row store.",
		}),

		SegmentsSealed: f.NewCounter(prometheus.CounterOpts{
			Name: "colflat_segments_sealed_total",
			Help: "Total number of row store segments sealed and archived.",
		}),

		ReplacementsForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "colflat_replacements_forwarded_total",
			Help: "Total number of replacement messages forwarded to the replacer.",
		}),

		Rewrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "colflat_nested_rewrites_total",
			Help: "Total number of nested attribute references rewritten, labelled by family and branch.",
		}, []string{"family", "branch"}),

		ConsumerErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "colflat_consumer_errors_total",
			Help: "Total number of consumer errors, labelled by stage.",
		}, []string{"stage"}),
	}
}

// ObserveMessage records the outcome and latency of one processed message.
func (m *Metrics) ObserveMessage(outcome string, d time.Duration) {
	if m == nil || outcome == "" {
		return
	}
	m.MessagesProcessed.WithLabelValues(outcome).Inc()
	m.ProcessingDuration.Observe(d.Seconds())
}

// ObserveRewrite records one rewritten nested reference.
func (m *Metrics) ObserveRewrite(family, branch string) {
	if m == nil {
		return
	}
	m.Rewrites.WithLabelValues(family, branch).Inc()
}

// AddRowsWritten records rows appended to the store.
func (m *Metrics) AddRowsWritten(n int) {
	if m == nil {
		return
	}
	m.RowsWritten.Add(float64(n))
}

// IncSegmentsSealed records one sealed segment.
func (m *Metrics) IncSegmentsSealed() {
	if m == nil {
		return
	}
	m.SegmentsSealed.Inc()
}

// AddReplacementsForwarded records forwarded replacement messages.
func (m *Metrics) AddReplacementsForwarded(n int) {
	if m == nil {
		return
	}
	m.ReplacementsForwarded.Add(float64(n))
}

// IncConsumerError records a consumer failure at the given stage.
func (m *Metrics) IncConsumerError(stage string) {
	if m == nil {
		return
	}
	m.ConsumerErrors.WithLabelValues(stage).Inc()
}
