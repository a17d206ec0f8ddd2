// Package poison defines the archival interface C7 depends on when a
// message cannot be processed and should not be retried. The blob
// archival implementation (persisting the raw payload somewhere durable
// and queryable) is named as an external collaborator out of scope for
// this repository; what's in scope is the Store interface plus a
// dead-letter-topic writer, grounded on the DLQWriter in
// instagrim-dev-fitpulse's outbox dispatcher, so C7 compiles and is
// testable end to end without a blob-storage SDK.
package poison

import (
	"context"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Store archives a raw message that will not be retried, recording why.
type Store interface {
	Archive(ctx context.Context, rawMessage []byte, reason string) error
}

// KafkaDLQStore writes archived messages to a dead-letter topic. It holds
// its own kafka.Writer the same way the outbox dispatcher's DLQWriter
// holds its own connection, separate from the main consumer's reader.
type KafkaDLQStore struct {
	writer *kafka.Writer
}

// NewKafkaDLQStore returns a Store that publishes to topic on brokers.
func NewKafkaDLQStore(brokers []string, topic string) *KafkaDLQStore {
	return &KafkaDLQStore{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

// Archive publishes rawMessage to the dead-letter topic with reason as a
// header, so an operator can inspect why a message was never retried.
func (s *KafkaDLQStore) Archive(ctx context.Context, rawMessage []byte, reason string) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Value: rawMessage,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "archive-reason", Value: []byte(reason)},
		},
	})
}

// Close releases the underlying writer's connections.
func (s *KafkaDLQStore) Close() error {
	return s.writer.Close()
}
