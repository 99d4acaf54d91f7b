package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/pkg/db"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// errAlreadyProcessed only unwinds the transaction; callers never see it.
var errAlreadyProcessed = errors.New("event already processed")

// ProcessOnce runs action at most once per eventKey. The key is recorded in
// processed_events in the same transaction as action, so a failed action leaves it
// unrecorded and the event is retried on redelivery.
func ProcessOnce(
	ctx context.Context,
	txManager db.TxManager,
	logger *zap.Logger,
	eventKey string,
	action func(ctx context.Context, tx pgx.Tx) error,
) error {
	span := trace.SpanFromContext(ctx)

	err := txManager.WithinTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		query := `
			INSERT INTO processed_events (event_key)
			VALUES ($1)
			ON CONFLICT (event_key) DO NOTHING
		`

		tag, err := tx.Exec(ctx, query, eventKey)
		if err != nil {
			return fmt.Errorf("failed to record processed event: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return errAlreadyProcessed
		}

		return action(ctx, tx)
	})

	if errors.Is(err, errAlreadyProcessed) {
		mylogger.Info(
			ctx,
			logger,
			"Event already processed, skipping",
			zap.String("event_key", eventKey),
		)

		return nil
	}

	if err != nil {
		span.RecordError(err)
		return err
	}

	return nil
}
