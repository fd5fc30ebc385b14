package sinks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/zefrenchwan/registries.git/model"
	"github.com/zefrenchwan/registries.git/tracing"
)

// KafkaConfig holds the publisher settings
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string
}

// messageWriter is the part of kafka.Writer the sink needs
type messageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events to a topic, keyed by entity so that events of an entity stay ordered
type KafkaSink struct {
	writer    messageWriter
	topic     string
	batchSize int
	logger    *zap.SugaredLogger
}

// NewKafkaSink returns a sink publishing to cfg.Topic
func NewKafkaSink(cfg KafkaConfig, logger *zap.SugaredLogger) *KafkaSink {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	timeout := cfg.BatchTimeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           timeout,
		RequiredAcks:           kafka.RequireAll,
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return newKafkaSink(writer, cfg.Topic, cfg.BatchSize, logger)
}

func newKafkaSink(writer messageWriter, topic string, batchSize int, logger *zap.SugaredLogger) *KafkaSink {
	if batchSize <= 0 {
		batchSize = 100
	}

	return &KafkaSink{writer: writer, topic: topic, batchSize: batchSize, logger: logger}
}

func (k *KafkaSink) Write(ctx context.Context, events []model.Event) error {
	ctx, span := tracing.StartSpan(ctx, "sinks.KafkaSink.Write")
	var err error
	defer func() { tracing.EndWithError(span, err) }()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, 0, min(len(events), k.batchSize))
	for _, event := range events {
		var message kafka.Message
		if message, err = k.messageOf(ctx, event); err != nil {
			return err
		}

		messages = append(messages, message)
		if len(messages) == k.batchSize {
			if err = k.flush(ctx, messages); err != nil {
				return err
			}

			messages = messages[:0]
		}
	}

	err = k.flush(ctx, messages)
	return err
}

func (k *KafkaSink) flush(ctx context.Context, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}

	if err := k.writer.WriteMessages(ctx, messages...); err != nil {
		k.logger.Errorw("failed to publish events", "topic", k.topic, "batch_size", len(messages), "error", err)
		return err
	}

	k.logger.Debugw("published events", "topic", k.topic, "batch_size", len(messages))
	return nil
}

func (k *KafkaSink) messageOf(ctx context.Context, event model.Event) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	headers := []kafka.Header{
		{Key: "action", Value: []byte(event.Action.String())},
		{Key: "catalog", Value: []byte(event.Catalog)},
		{Key: "collection", Value: []byte(event.Collection)},
		{Key: "source", Value: []byte(event.Source)},
	}

	for key, value := range tracing.InjectHeaders(ctx) {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	return kafka.Message{
		Topic:   k.topic,
		Key:     []byte(event.Catalog + "." + event.Collection + "." + event.TID),
		Value:   data,
		Headers: headers,
	}, nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
