package pubsub

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/0x5487/exchange-core/protocol"
)

// KafkaEventLog writes the raw engine event stream to a Kafka topic,
// keyed by symbol so per-symbol ordering survives partitioning. It is
// wired as a bus subscriber and provides the durable event log for
// downstream systems that rebuild state by replay.
type KafkaEventLog struct {
	writer     *kafka.Writer
	serializer protocol.Serializer
}

// NewKafkaEventLog creates a writer targeting topic on brokers.
func NewKafkaEventLog(brokers []string, topic string, serializer protocol.Serializer) *KafkaEventLog {
	return &KafkaEventLog{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		serializer: serializer,
	}
}

// Run consumes events until the channel closes or ctx is cancelled.
// Write failures are logged and the event is skipped; the log is
// best-effort at-least-once and never blocks the engine (the bus buffers).
func (k *KafkaEventLog) Run(ctx context.Context, events <-chan *protocol.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}

			payload, err := k.serializer.Marshal(event)
			if err != nil {
				logger.Error("failed to marshal event", "error", err, "seq", event.Sequence)
				continue
			}

			err = k.writer.WriteMessages(ctx, kafka.Message{
				Key:   []byte(event.Symbol),
				Value: payload,
			})
			if err != nil {
				logger.Warn("kafka write failed", "error", err, "seq", event.Sequence)
			}
		}
	}
}

// Close closes the underlying writer.
func (k *KafkaEventLog) Close() error {
	return k.writer.Close()
}
