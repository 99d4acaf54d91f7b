package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type LedgerRepository interface {
	GetAccount(ctx context.Context, instrumentID, ownerID int64) (*domain.LedgerAccount, error)
	LockAccount(ctx context.Context, tx pgx.Tx, instrumentID, ownerID int64) (*domain.LedgerAccount, error)
	// ConditionalDebit subtracts amount only if the balance covers it and returns the new balance.
	ConditionalDebit(ctx context.Context, tx pgx.Tx, instrumentID int64, amount decimal.Decimal) (decimal.Decimal, error)
}

type ledgerRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewLedgerRepository(pool *pgxpool.Pool, logger *zap.Logger) LedgerRepository {
	return &ledgerRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("ledger_repository"),
	}
}

func (r *ledgerRepo) GetAccount(ctx context.Context, instrumentID, ownerID int64) (*domain.LedgerAccount, error) {
	ctx, span := r.tracer.Start(ctx, "LedgerRepository.GetAccount")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("instrument_id", instrumentID),
		attribute.Int64("owner_id", ownerID),
	)

	query := `
		SELECT id, user_id, card_last4, balance, updated_at
		FROM payment_cards
		WHERE id = $1 AND user_id = $2
	`

	account, err := scanAccount(r.pool.QueryRow(ctx, query, instrumentID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInstrumentNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to query payment instrument: %w", err)
	}

	return account, nil
}

func (r *ledgerRepo) LockAccount(ctx context.Context, tx pgx.Tx, instrumentID, ownerID int64) (*domain.LedgerAccount, error) {
	ctx, span := r.tracer.Start(ctx, "LedgerRepository.LockAccount")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("instrument_id", instrumentID),
		attribute.Int64("owner_id", ownerID),
	)

	query := `
		SELECT id, user_id, card_last4, balance, updated_at
		FROM payment_cards
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`

	account, err := scanAccount(tx.QueryRow(ctx, query, instrumentID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			mylogger.Warn(
				ctx,
				r.logger,
				"Payment instrument not found",
				zap.Int64("instrument_id", instrumentID),
				zap.Int64("owner_id", ownerID),
			)

			return nil, ErrInstrumentNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to lock payment instrument: %w", err)
	}

	return account, nil
}

func (r *ledgerRepo) ConditionalDebit(ctx context.Context, tx pgx.Tx, instrumentID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	ctx, span := r.tracer.Start(ctx, "LedgerRepository.ConditionalDebit")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("instrument_id", instrumentID),
		attribute.String("amount", amount.StringFixed(2)),
	)

	query := `
		UPDATE payment_cards
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`

	var balance decimal.Decimal
	if err := tx.QueryRow(ctx, query, instrumentID, amount).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrInsufficientFunds
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error debiting payment instrument",
			zap.Int64("instrument_id", instrumentID),
			zap.String("amount", amount.StringFixed(2)),
			zap.Error(err),
		)

		return decimal.Zero, fmt.Errorf("error debiting instrument %d: %w", instrumentID, err)
	}

	return balance, nil
}

func scanAccount(row pgx.Row) (*domain.LedgerAccount, error) {
	var account domain.LedgerAccount
	if err := row.Scan(
		&account.InstrumentID,
		&account.OwnerID,
		&account.CardLast4,
		&account.Balance,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return &account, nil
}
