package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.uber.org/zap"
)

// TxFunc is the body of a unit of work. Returning an error rolls the whole unit back.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// TxManager hands an explicit transaction to a unit of work and owns its commit/rollback.
type TxManager interface {
	WithinTx(ctx context.Context, opts pgx.TxOptions, fn TxFunc) error
}

type pgxTxManager struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewTxManager(pool *pgxpool.Pool, logger *zap.Logger) TxManager {
	return &pgxTxManager{
		pool:   pool,
		logger: logger,
	}
}

func (m *pgxTxManager) WithinTx(ctx context.Context, opts pgx.TxOptions, fn TxFunc) error {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		mylogger.Error(ctx, m.logger, "Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				cleanupCtx,
				m.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, m.logger, "Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
