package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CartRepository interface {
	// LockUser serialises every cart mutation and checkout of userID until tx ends.
	LockUser(ctx context.Context, tx pgx.Tx, userID int64) error
	Upsert(ctx context.Context, tx pgx.Tx, item *domain.CartItem) error
	CountOtherItems(ctx context.Context, tx pgx.Tx, userID int64, catalogItemID string) (int, error)
	UpdateQuantity(ctx context.Context, tx pgx.Tx, userID, itemID int64, quantity int32) (*domain.CartItem, error)
	Delete(ctx context.Context, tx pgx.Tx, userID, itemID int64) error
	DeleteByUser(ctx context.Context, tx pgx.Tx, userID int64, sellerID *int64) (int64, error)
	ListByUser(ctx context.Context, tx pgx.Tx, userID int64, forUpdate bool) ([]domain.CartItem, error)
}

type cartRepo struct {
	logger *zap.Logger
	tracer trace.Tracer
}

func NewCartRepository(logger *zap.Logger) CartRepository {
	return &cartRepo{
		logger: logger,
		tracer: otel.Tracer("cart_repository"),
	}
}

func (r *cartRepo) LockUser(ctx context.Context, tx pgx.Tx, userID int64) error {
	ctx, span := r.tracer.Start(ctx, "CartRepository.LockUser")
	defer span.End()

	span.SetAttributes(attribute.Int64("user_id", userID))

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to lock cart of user %d: %w", userID, err)
	}

	return nil
}

func (r *cartRepo) Upsert(ctx context.Context, tx pgx.Tx, item *domain.CartItem) error {
	ctx, span := r.tracer.Start(ctx, "CartRepository.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", item.UserID),
		attribute.String("catalog_item_id", item.CatalogItemID),
		attribute.Int("quantity", int(item.Quantity)),
	)

	query := `
		INSERT INTO cart_items (user_id, seller_id, catalog_item_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, catalog_item_id) DO UPDATE
		SET quantity = cart_items.quantity + excluded.quantity,
			unit_price = excluded.unit_price,
			seller_id = excluded.seller_id,
			updated_at = NOW()
		RETURNING id, quantity, added_at, updated_at
	`

	err := tx.QueryRow(
		ctx,
		query,
		item.UserID,
		item.SellerID,
		item.CatalogItemID,
		item.Quantity,
		item.UnitPriceSnapshot,
	).Scan(
		&item.ID,
		&item.Quantity,
		&item.AddedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to upsert cart item",
			zap.Int64("user_id", item.UserID),
			zap.String("catalog_item_id", item.CatalogItemID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to upsert cart item: %w", err)
	}

	return nil
}

func (r *cartRepo) CountOtherItems(ctx context.Context, tx pgx.Tx, userID int64, catalogItemID string) (int, error) {
	ctx, span := r.tracer.Start(ctx, "CartRepository.CountOtherItems")
	defer span.End()

	query := `
		SELECT COUNT(*)
		FROM cart_items
		WHERE user_id = $1 AND catalog_item_id <> $2
	`

	var count int
	if err := tx.QueryRow(ctx, query, userID, catalogItemID).Scan(&count); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count cart items: %w", err)
	}

	return count, nil
}

func (r *cartRepo) UpdateQuantity(ctx context.Context, tx pgx.Tx, userID, itemID int64, quantity int32) (*domain.CartItem, error) {
	ctx, span := r.tracer.Start(ctx, "CartRepository.UpdateQuantity")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("item_id", itemID),
		attribute.Int("quantity", int(quantity)),
	)

	query := `
		UPDATE cart_items
		SET quantity = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, seller_id, catalog_item_id, quantity, unit_price, added_at, updated_at
	`

	item, err := scanCartItem(tx.QueryRow(ctx, query, itemID, userID, quantity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCartItemNotFound
		}

		span.RecordError(err)
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	return item, nil
}

func (r *cartRepo) Delete(ctx context.Context, tx pgx.Tx, userID, itemID int64) error {
	ctx, span := r.tracer.Start(ctx, "CartRepository.Delete")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("item_id", itemID),
	)

	commandTag, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND user_id = $2`, itemID, userID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete cart item: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrCartItemNotFound
	}

	return nil
}

func (r *cartRepo) DeleteByUser(ctx context.Context, tx pgx.Tx, userID int64, sellerID *int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "CartRepository.DeleteByUser")
	defer span.End()

	span.SetAttributes(attribute.Int64("user_id", userID))

	query := `DELETE FROM cart_items WHERE user_id = $1`
	args := []any{userID}
	if sellerID != nil {
		span.SetAttributes(attribute.Int64("seller_id", *sellerID))

		query += ` AND seller_id = $2`
		args = append(args, *sellerID)
	}

	commandTag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to purge cart",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)

		return 0, fmt.Errorf("failed to purge cart: %w", err)
	}

	return commandTag.RowsAffected(), nil
}

func (r *cartRepo) ListByUser(ctx context.Context, tx pgx.Tx, userID int64, forUpdate bool) ([]domain.CartItem, error) {
	ctx, span := r.tracer.Start(ctx, "CartRepository.ListByUser")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Bool("for_update", forUpdate),
	)

	query := `
		SELECT id, user_id, seller_id, catalog_item_id, quantity, unit_price, added_at, updated_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at ASC, id ASC
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := tx.Query(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}

		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("cart rows error: %w", err)
	}

	span.SetAttributes(attribute.Int("result_count", len(items)))
	return items, nil
}

func scanCartItem(row pgx.Row) (*domain.CartItem, error) {
	var item domain.CartItem
	if err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.SellerID,
		&item.CatalogItemID,
		&item.Quantity,
		&item.UnitPriceSnapshot,
		&item.AddedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return &item, nil
}
