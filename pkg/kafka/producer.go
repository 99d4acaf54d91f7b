package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

type Producer interface {
	// ProduceMessage publishes message as JSON. A non-empty key pins related messages to one partition.
	ProduceMessage(ctx context.Context, topic, key string, message any) error
	Close() error
}

type producer struct {
	syncProducer sarama.SyncProducer
	logger       *zap.Logger
}

func NewProducer(brokers []string, logger *zap.Logger) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V3_0_0_0

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("error creating producer: %w", err)
	}

	return NewProducerFromSync(p, logger), nil
}

// NewProducerFromSync wraps an existing sarama producer, e.g. sarama/mocks in tests.
func NewProducerFromSync(p sarama.SyncProducer, logger *zap.Logger) Producer {
	return &producer{syncProducer: p, logger: logger}
}

func (p *producer) ProduceMessage(ctx context.Context, topic, key string, message any) error {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("error marshalling message: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]sarama.RecordHeader, 0, len(carrier))
	for k, v := range carrier {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(jsonMsg),
		Headers: headers,
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.syncProducer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}

	mylogger.Debug(
		ctx,
		p.logger,
		"Message sent",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)

	return nil
}

func (p *producer) Close() error {
	return p.syncProducer.Close()
}
