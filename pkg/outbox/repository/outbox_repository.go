package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/pkg/outbox/domain"
	"github.com/sakashimaa/marketplace-checkout/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type outboxRepo struct {
	maxAttempts int
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewOutboxRepository returns the Postgres outbox store. Rows that failed maxAttempts
// times are no longer handed to the relay.
func NewOutboxRepository(maxAttempts int, logger *zap.Logger) worker.OutboxRepository {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &outboxRepo{
		maxAttempts: maxAttempts,
		tracer:      otel.Tracer("outbox_repository"),
		logger:      logger,
	}
}

func (r *outboxRepo) MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("outbox.error_message", errMsg),
	)

	query := `
		UPDATE outbox
		SET published_at = NULL,
			last_error = $1,
			attempts = attempts + 1
		WHERE id = $2;
	`

	_, err := tx.Exec(ctx, query, errMsg, eventID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *outboxRepo) MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventPublished")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
	)

	query := `
		UPDATE outbox
		SET published_at = NOW(), last_error = NULL, attempts = attempts + 1
		WHERE id = $1;
	`

	_, err := tx.Exec(ctx, query, eventID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

// SaveOutboxEvent appends event inside the caller's transaction. The caller's trace
// context is stored in headers so the relay can continue the same trace.
func (r *outboxRepo) SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.SaveOutboxEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_id", event.AggregateID),
		attribute.String("aggregate_type", event.AggregateType),
		attribute.String("event_type", event.EventType),
	)

	headers := event.Headers
	if headers == nil {
		carrier := propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, carrier)

		encoded, err := encodeHeaders(carrier)
		if err != nil {
			span.RecordError(err)
			return err
		}
		headers = encoded
	}

	query := `
		INSERT INTO outbox (aggregate_type, aggregate_id, event_type, payload, headers, topic)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Payload,
		headers,
		event.Topic,
	).Scan(&event.Id, &event.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	event.Headers = headers
	return nil
}

func (r *outboxRepo) GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.GetUnpublishedEvents")
	defer span.End()

	span.SetAttributes(
		attribute.Int("batch_size", batchSize),
	)

	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, headers, created_at, attempts, topic
		FROM outbox
		WHERE published_at IS NULL AND attempts < $2
		ORDER BY created_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(
		ctx,
		query,
		batchSize,
		r.maxAttempts,
	)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(
			&e.Id,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Payload,
			&e.Headers,
			&e.CreatedAt,
			&e.Attempts,
			&e.Topic,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning event: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	span.SetAttributes(
		attribute.Int("result_count", len(events)),
	)

	return events, nil
}

func encodeHeaders(carrier propagation.MapCarrier) (json.RawMessage, error) {
	if len(carrier) == 0 {
		return json.RawMessage(`{}`), nil
	}

	data, err := json.Marshal(map[string]string(carrier))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox headers: %w", err)
	}

	return data, nil
}
