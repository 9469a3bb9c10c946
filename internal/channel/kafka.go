package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/logging"
)

// KafkaConfig identifies the topic and consumer group.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Kafka is a Channel on a Kafka topic. Messages are keyed by request id, and
// offsets are committed only after the handler has succeeded or been given up on.
type Kafka struct {
	writer *kafka.Writer
	reader *kafka.Reader
	policy RetryPolicy
	logger *slog.Logger
	sink   logging.Sink
}

// NewKafka builds a producer and a consumer-group reader for cfg.
func NewKafka(cfg KafkaConfig, policy RetryPolicy, logger *slog.Logger, sink logging.Sink) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}
	if cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka: topic and group id are required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if sink == nil {
		sink = logging.Discard
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})

	return &Kafka{writer: writer, reader: reader, policy: policy, logger: logger, sink: sink}, nil
}

func (k *Kafka) Publish(ctx context.Context, req domain.TransactionRequest) error {
	msg, err := encodeMessage(req)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return ErrClosed
		}
		return fmt.Errorf("kafka publish %s: %w", req.ID, err)
	}
	return nil
}

func (k *Kafka) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		req, err := Decode(msg.Value)
		if err != nil {
			k.sink.RecordError(ctx, err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		} else if err := handle(ctx, k.policy, k.logger, handler, req); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.sink.RecordError(ctx, err, "requestId", req.ID, "channel", "kafka")
		}

		if err := k.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (k *Kafka) Close() error {
	return errors.Join(k.writer.Close(), k.reader.Close())
}

func encodeMessage(req domain.TransactionRequest) (kafka.Message, error) {
	value, err := Encode(req)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(req.ID),
		Value: value,
		Time:  req.RequestedAt,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "userId", Value: []byte(req.UserID)},
		},
	}, nil
}
