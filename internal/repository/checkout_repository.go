package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CheckoutRepository interface {
	Create(ctx context.Context, tx pgx.Tx, checkout *domain.Checkout) error
	FindByIdempotencyKey(ctx context.Context, tx pgx.Tx, userID int64, key string) (*domain.Checkout, error)
}

type checkoutRepo struct {
	logger *zap.Logger
	tracer trace.Tracer
}

func NewCheckoutRepository(logger *zap.Logger) CheckoutRepository {
	return &checkoutRepo{
		logger: logger,
		tracer: otel.Tracer("checkout_repository"),
	}
}

func (r *checkoutRepo) Create(ctx context.Context, tx pgx.Tx, checkout *domain.Checkout) error {
	ctx, span := r.tracer.Start(ctx, "CheckoutRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("checkout_id", checkout.ID.String()),
		attribute.Int64("user_id", checkout.UserID),
	)

	query := `
		INSERT INTO checkouts (id, user_id, idempotency_key, payment_instrument_id, total_amount, remaining_balance)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		checkout.ID,
		checkout.UserID,
		checkout.IdempotencyKey,
		checkout.PaymentInstrumentID,
		checkout.TotalAmount,
		checkout.RemainingBalance,
	).Scan(&checkout.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCheckoutExists
		}

		span.RecordError(err)
		return fmt.Errorf("failed to insert checkout: %w", err)
	}

	return nil
}

func (r *checkoutRepo) FindByIdempotencyKey(ctx context.Context, tx pgx.Tx, userID int64, key string) (*domain.Checkout, error) {
	ctx, span := r.tracer.Start(ctx, "CheckoutRepository.FindByIdempotencyKey")
	defer span.End()

	span.SetAttributes(attribute.Int64("user_id", userID))

	query := `
		SELECT id, user_id, idempotency_key, payment_instrument_id, total_amount, remaining_balance, created_at
		FROM checkouts
		WHERE user_id = $1 AND idempotency_key = $2
	`

	var c domain.Checkout
	err := tx.QueryRow(ctx, query, userID, key).Scan(
		&c.ID,
		&c.UserID,
		&c.IdempotencyKey,
		&c.PaymentInstrumentID,
		&c.TotalAmount,
		&c.RemainingBalance,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCheckoutNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to query checkout: %w", err)
	}

	return &c, nil
}
