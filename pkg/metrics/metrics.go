// Package metrics defines the Sink interface the sync processor reports
// through, mirroring spirit's metrics.Sink/NoopSink pair so callers can
// run without a metrics backend wired up at all, or swap in Prometheus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink receives counters from the processor and consumer as batches and
// messages are handled. Implementations must be safe for concurrent use,
// since multiple consumer workers report through the same Sink.
type Sink interface {
	IncrMessagesConsumed(ctx context.Context, n int)
	IncrArtifactsWritten(ctx context.Context, n int)
	IncrDuplicatesSkipped(ctx context.Context, n int)
	IncrMessagesArchived(ctx context.Context, n int)
	ObserveBatchSize(ctx context.Context, n int)
}

// NoopSink discards everything. It is the default until main wires in a
// real one.
type NoopSink struct{}

func (s *NoopSink) IncrMessagesConsumed(ctx context.Context, n int)   {}
func (s *NoopSink) IncrArtifactsWritten(ctx context.Context, n int)   {}
func (s *NoopSink) IncrDuplicatesSkipped(ctx context.Context, n int)  {}
func (s *NoopSink) IncrMessagesArchived(ctx context.Context, n int)   {}
func (s *NoopSink) ObserveBatchSize(ctx context.Context, n int)       {}

// PrometheusSink registers a small set of counters and a histogram on reg
// and reports through them.
type PrometheusSink struct {
	consumed   prometheus.Counter
	written    prometheus.Counter
	duplicates prometheus.Counter
	archived   prometheus.Counter
	batchSize  prometheus.Histogram
}

// NewPrometheusSink registers its metrics on reg and returns a Sink backed
// by them.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgesync_messages_consumed_total",
			Help: "Notification messages pulled off the queue.",
		}),
		written: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgesync_artifacts_written_total",
			Help: "Rows written by the bulk writer.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgesync_duplicates_skipped_total",
			Help: "Files skipped because their content hash was already recorded.",
		}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgesync_messages_archived_total",
			Help: "Messages archived to the poison store instead of retried.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgesync_batch_size",
			Help:    "Number of delta items in a processed batch.",
			Buckets: prometheus.LinearBuckets(0, 25, 10),
		}),
	}
	reg.MustRegister(s.consumed, s.written, s.duplicates, s.archived, s.batchSize)
	return s
}

func (s *PrometheusSink) IncrMessagesConsumed(ctx context.Context, n int)  { s.consumed.Add(float64(n)) }
func (s *PrometheusSink) IncrArtifactsWritten(ctx context.Context, n int)  { s.written.Add(float64(n)) }
func (s *PrometheusSink) IncrDuplicatesSkipped(ctx context.Context, n int) { s.duplicates.Add(float64(n)) }
func (s *PrometheusSink) IncrMessagesArchived(ctx context.Context, n int)  { s.archived.Add(float64(n)) }
func (s *PrometheusSink) ObserveBatchSize(ctx context.Context, n int)      { s.batchSize.Observe(float64(n)) }
