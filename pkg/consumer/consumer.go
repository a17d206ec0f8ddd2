// Package consumer is the notification consumer (C7): a long-running loop
// that reads messages from the queue, dispatches each to the sync
// processor (C6), archives poison messages, and re-enqueues continuations.
// It is grounded on the instagrim-dev-fitpulse outbox dispatcher's
// poll-deliver-mark loop, adapted from a polling table scan to a
// consumer-group read, and on spirit's explicit start/stop lifecycle
// (Run blocking until its context ends, Close releasing the reader and
// writer).
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	kafka "github.com/segmentio/kafka-go"
	"github.com/siddontang/go-log/loggers"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/loopworks/edgesync/pkg/metrics"
	"github.com/loopworks/edgesync/pkg/poison"
	"github.com/loopworks/edgesync/pkg/sync"
	"github.com/loopworks/edgesync/pkg/syncerr"
	"github.com/loopworks/edgesync/pkg/throttler"
)

// Pinger probes Source connectivity without performing a real operation.
// It is satisfied by source.HTTPClient and by any fake used in tests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Processor is the subset of *sync.Processor the consumer calls. Declared
// locally so tests can substitute a fake without depending on pkg/sync's
// database wiring.
type Processor interface {
	FetchAndStoreDelta(ctx context.Context, siteID, listID string, batchSize int) (*sync.Result, error)
	FetchAndStoreItems(ctx context.Context, siteID, listID string, itemIDs []string, cursor string, finalize bool) (*sync.Result, error)
}

// Consumer reads from one Kafka topic, processes messages through a
// bounded pool of workers, and re-enqueues continuations on the same
// topic. One message is one worker, one transaction, matching the
// "parallel message processors, single-threaded-cooperative per message"
// model of spec.md §5.
type Consumer struct {
	reader    *kafka.Reader
	writer    *kafka.Writer
	processor Processor
	source    Pinger
	poison    poison.Store

	siteID    string
	listID    string
	batchSize int
	workers   int
	throttler throttler.Throttler

	logger      loggers.Advanced
	metricsSink metrics.Sink
}

// Config bundles the fixed construction parameters for a Consumer.
type Config struct {
	Brokers   []string
	Topic     string
	GroupID   string
	SiteID    string
	ListID    string
	BatchSize int
	Workers   int
}

// New constructs a Consumer bound to Config's topic, re-enqueuing
// continuations on the same topic.
func New(cfg Config, processor Processor, src Pinger, store poison.Store) *Consumer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			GroupID: cfg.GroupID,
		}),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
		processor:   processor,
		source:      src,
		poison:      store,
		siteID:      cfg.SiteID,
		listID:      cfg.ListID,
		batchSize:   cfg.BatchSize,
		workers:     workers,
		throttler:   throttler.NewConcurrency(workers),
		logger:      logrus.New(),
		metricsSink: &metrics.NoopSink{},
	}
}

// SetLogger overrides the default logger.
func (c *Consumer) SetLogger(logger loggers.Advanced) {
	c.logger = logger
}

// SetMetricsSink overrides the default no-op metrics sink.
func (c *Consumer) SetMetricsSink(sink metrics.Sink) {
	c.metricsSink = sink
}

// Run reads messages until ctx is cancelled or the reader returns a
// non-cancellation error. Up to c.workers messages are handled
// concurrently, gated by c.throttler's BlockWait/Release pair; each worker
// commits its own offset only after its message is fully dispatched, so no
// message is acknowledged before its work (or its archival) is durable.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.throttler.Open(); err != nil {
		return err
	}
	defer c.throttler.Close()

	g, gctx := errgroup.WithContext(ctx)

	for {
		msg, err := c.reader.FetchMessage(gctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			return g.Wait()
		}

		if err := c.throttler.BlockWait(gctx); err != nil {
			return g.Wait()
		}

		msg := msg
		g.Go(func() error {
			defer c.releaseThrottle()
			if err := c.handle(gctx, msg); err != nil {
				c.logger.Errorf("consumer: message offset=%d dispatch error: %v", msg.Offset, err)
				return err
			}
			return c.reader.CommitMessages(gctx, msg)
		})
	}
	return g.Wait()
}

// releaseThrottle releases the slot acquired by BlockWait, if the
// configured throttler supports it. throttler.Noop has nothing to release.
func (c *Consumer) releaseThrottle() {
	if rel, ok := c.throttler.(interface{ Release() }); ok {
		rel.Release()
	}
}

// Close releases the reader and writer.
func (c *Consumer) Close() error {
	err1 := c.reader.Close()
	err2 := c.writer.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// handle is consume(message) from spec.md §4.7. A nil return means the
// message should be committed (including every archive-and-succeed path);
// a non-nil return is an unhandled failure the queue's own redelivery
// policy should act on, and the offset is not committed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	if err := c.source.Ping(ctx); err != nil {
		c.logger.Warnf("consumer: source connectivity probe failed, archiving message: %v", err)
		return c.archive(ctx, msg.Value, "source connectivity probe failed")
	}

	kind, env, cont, err := classify(msg.Value)
	if err != nil {
		c.logger.Warnf("consumer: malformed message, archiving: %v", err)
		return c.archive(ctx, msg.Value, err.Error())
	}

	var result *sync.Result
	switch kind {
	case payloadEnvelope:
		result, err = c.dispatchEnvelope(ctx, env)
	case payloadContinuation:
		result, err = c.dispatchContinuation(ctx, cont)
	default:
		c.logger.Infof("consumer: unrecognized message shape, dropping")
		c.metricsSink.IncrMessagesConsumed(ctx, 1)
		return nil
	}

	c.metricsSink.IncrMessagesConsumed(ctx, 1)

	if err != nil {
		if syncerr.Retryable(err) {
			return err
		}
		c.logger.Warnf("consumer: processing failed, archiving: %v", err)
		return c.archive(ctx, msg.Value, err.Error())
	}

	if result != nil && result.Continuation != nil {
		return c.enqueueContinuation(ctx, *result.Continuation)
	}
	return nil
}

// dispatchEnvelope recognizes the zero-items and has-items cases from
// spec.md §4.7. Entries whose resource string doesn't parse are a
// BadResource condition handled per-entry (log and ignore that entry); the
// run still proceeds if at least one entry names an "updated" change.
func (c *Consumer) dispatchEnvelope(ctx context.Context, env notificationEnvelope) (*sync.Result, error) {
	if len(env.Value) == 0 {
		return nil, nil
	}

	trigger := false
	for _, entry := range env.Value {
		if _, _, ok := parseResource(entry.Resource); !ok {
			c.logger.Infof("consumer: entry with unparseable resource %q ignored", entry.Resource)
			continue
		}
		if strings.EqualFold(entry.ChangeType, "updated") {
			trigger = true
		}
	}
	if !trigger {
		return nil, nil
	}

	return c.processor.FetchAndStoreDelta(ctx, c.siteID, c.listID, c.batchSize)
}

func (c *Consumer) dispatchContinuation(ctx context.Context, cont continuationPayload) (*sync.Result, error) {
	finalize := len(cont.ItemIds) <= c.batchSize
	return c.processor.FetchAndStoreItems(ctx, c.siteID, c.listID, cont.ItemIds, cont.DeltaLink, finalize)
}

func (c *Consumer) archive(ctx context.Context, raw []byte, reason string) error {
	if err := c.poison.Archive(ctx, raw, reason); err != nil {
		return err
	}
	c.metricsSink.IncrMessagesArchived(ctx, 1)
	return nil
}

// enqueueContinuation serializes a Continuation and publishes it on the
// same topic, matching spec.md §4.7's "serializes and enqueues it on the
// same queue topic before returning."
func (c *Consumer) enqueueContinuation(ctx context.Context, cont sync.Continuation) error {
	payload := continuationPayload{ItemIds: cont.RemainingItemIDs, DeltaLink: cont.PendingDeltaLink}
	body, err := json.Marshal(payload)
	if err != nil {
		return syncerr.Wrap(syncerr.KindWriteFailure, "failed to marshal continuation payload", err)
	}
	return c.writer.WriteMessages(ctx, kafka.Message{Value: body})
}
