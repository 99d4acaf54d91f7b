package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/pkg/db"
	"github.com/sakashimaa/marketplace-checkout/pkg/metrics"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"github.com/sakashimaa/marketplace-checkout/pkg/outbox/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error
	MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, error string) error
}

type KafkaProducer interface {
	ProduceMessage(ctx context.Context, topic, key string, message any) error
}

type Config struct {
	BatchSize int
	Interval  time.Duration
}

type OutboxProcessor struct {
	txManager     db.TxManager
	repo          OutboxRepository
	kafkaProducer KafkaProducer
	metrics       *metrics.Metrics
	logger        *zap.Logger
	batchSize     int
	interval      time.Duration
	tracer        trace.Tracer
}

func NewOutboxProcessor(
	txManager db.TxManager,
	repo OutboxRepository,
	producer KafkaProducer,
	m *metrics.Metrics,
	cfg Config,
	logger *zap.Logger,
) *OutboxProcessor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}

	return &OutboxProcessor{
		txManager:     txManager,
		repo:          repo,
		kafkaProducer: producer,
		metrics:       m,
		logger:        logger,
		batchSize:     cfg.BatchSize,
		interval:      cfg.Interval,
		tracer:        otel.Tracer("outbox-worker"),
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
		zap.Int("batch_size", p.batchSize),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(
				ctx,
				p.logger,
				"Outbox processor stopping",
			)

			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				mylogger.Error(
					ctx,
					p.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// ProcessBatch relays one batch of pending events and reports how many were published.
// A failed publish is recorded on the row and retried on a later batch.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	published := 0
	err := p.txManager.WithinTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.batchSize)
		if err != nil {
			return err
		}

		if len(events) == 0 {
			return nil
		}

		mylogger.Debug(
			ctx,
			p.logger,
			"Processing outbox events",
			zap.Int("count", len(events)),
		)

		for _, event := range events {
			ok, err := p.relay(ctx, tx, event)
			if err != nil {
				return err
			}
			if ok {
				published++
			}
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	span.SetAttributes(attribute.Int("outbox.published", published))
	return published, nil
}

func (p *OutboxProcessor) relay(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) (bool, error) {
	eventCtx := p.eventContext(ctx, event)

	var payloadMap map[string]any
	if err := json.Unmarshal(event.Payload, &payloadMap); err != nil {
		mylogger.Error(
			eventCtx,
			p.logger,
			"outbox worker unmarshal event payload failed",
			zap.Int64("id", event.Id),
			zap.Error(err),
		)

		p.metrics.OutboxResult(false)
		return false, p.repo.MarkEventFailed(ctx, tx, event.Id, err.Error())
	}

	payloadMap["event_id"] = event.Id

	if err := p.kafkaProducer.ProduceMessage(eventCtx, event.Topic, event.AggregateID, payloadMap); err != nil {
		mylogger.Warn(
			eventCtx,
			p.logger,
			"outbox worker produce message failed",
			zap.Int64("id", event.Id),
			zap.Int64("attempts", event.Attempts+1),
			zap.Error(err),
		)

		p.metrics.OutboxResult(false)
		return false, p.repo.MarkEventFailed(ctx, tx, event.Id, err.Error())
	}

	if err := p.repo.MarkEventPublished(ctx, tx, event.Id); err != nil {
		mylogger.Error(
			eventCtx,
			p.logger,
			"Outbox worker event publishing failed",
			zap.Int64("id", event.Id),
			zap.Error(err),
		)

		return false, err
	}

	p.metrics.OutboxResult(true)
	mylogger.Debug(
		eventCtx,
		p.logger,
		"outbox worker event published successfully",
		zap.Int64("id", event.Id),
		zap.String("event_type", event.EventType),
	)

	return true, nil
}

// eventContext restores the trace context captured when the event was written.
func (p *OutboxProcessor) eventContext(ctx context.Context, event *domain.OutboxEvent) context.Context {
	if len(event.Headers) == 0 {
		return ctx
	}

	carrier := propagation.MapCarrier{}
	if err := json.Unmarshal(event.Headers, &carrier); err != nil {
		return ctx
	}

	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
