package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	// CreateOrdersWithItems inserts orders and their line items, filling ids and timestamps in place.
	CreateOrdersWithItems(ctx context.Context, tx pgx.Tx, orders []domain.Order) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error)
	ListByCheckout(ctx context.Context, tx pgx.Tx, checkoutID uuid.UUID) ([]domain.Order, error)
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("order_repository"),
	}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *orderRepo) CreateOrdersWithItems(ctx context.Context, tx pgx.Tx, orders []domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CreateOrdersWithItems")
	defer span.End()

	span.SetAttributes(attribute.Int("orders_count", len(orders)))

	if len(orders) == 0 {
		return nil
	}

	queryOrder := `
		INSERT INTO orders (
			checkout_id, user_id, seller_id, seller_name, order_number, total_amount,
			status, payment_status, payment_method, payment_instrument_id, card_last4,
			delivery_address, delivery_latitude, delivery_longitude, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at
	`

	orderBatch := &pgx.Batch{}
	for i := range orders {
		o := &orders[i]
		orderBatch.Queue(
			queryOrder,
			o.CheckoutID,
			o.UserID,
			o.SellerID,
			o.SellerName,
			o.OrderNumber,
			o.TotalAmount,
			string(o.Status),
			o.PaymentStatus,
			o.PaymentMethod,
			o.PaymentInstrumentID,
			o.CardLast4,
			o.DeliveryAddress,
			o.DeliveryLatitude,
			o.DeliveryLongitude,
			o.Notes,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		})
	}

	if err := tx.SendBatch(ctx, orderBatch).Close(); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert orders",
			zap.Int("orders_count", len(orders)),
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert orders: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (order_id, catalog_item_id, name, description, unit_price, quantity, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	itemBatch := &pgx.Batch{}
	for i := range orders {
		o := &orders[i]
		for j := range o.Items {
			item := &o.Items[j]
			item.OrderID = o.ID

			itemBatch.Queue(
				queryItem,
				item.OrderID,
				item.CatalogItemID,
				item.Name,
				item.Description,
				item.UnitPrice,
				item.Quantity,
				item.TotalPrice,
			).QueryRow(func(row pgx.Row) error {
				return row.Scan(&item.ID)
			})
		}
	}

	if itemBatch.Len() == 0 {
		return nil
	}

	if err := tx.SendBatch(ctx, itemBatch).Close(); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert order items",
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert order items: %w", err)
	}

	return nil
}

func (r *orderRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListByUser")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int("limit", limit),
	)

	if limit <= 0 {
		limit = 50
	}

	orders, err := r.loadOrders(ctx, r.pool, `WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, userID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return orders, nil
}

func (r *orderRepo) ListByCheckout(ctx context.Context, tx pgx.Tx, checkoutID uuid.UUID) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListByCheckout")
	defer span.End()

	span.SetAttributes(attribute.String("checkout_id", checkoutID.String()))

	orders, err := r.loadOrders(ctx, tx, `WHERE checkout_id = $1 ORDER BY seller_id ASC, id ASC`, checkoutID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return orders, nil
}

func (r *orderRepo) loadOrders(ctx context.Context, q querier, where string, args ...any) ([]domain.Order, error) {
	query := `
		SELECT id, checkout_id, user_id, seller_id, seller_name, order_number, total_amount,
			status, payment_status, payment_method, payment_instrument_id, card_last4,
			delivery_address, delivery_latitude, delivery_longitude, notes, created_at, updated_at
		FROM orders
	` + where

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var o domain.Order
		var status string
		if err := rows.Scan(
			&o.ID,
			&o.CheckoutID,
			&o.UserID,
			&o.SellerID,
			&o.SellerName,
			&o.OrderNumber,
			&o.TotalAmount,
			&status,
			&o.PaymentStatus,
			&o.PaymentMethod,
			&o.PaymentInstrumentID,
			&o.CardLast4,
			&o.DeliveryAddress,
			&o.DeliveryLatitude,
			&o.DeliveryLongitude,
			&o.Notes,
			&o.CreatedAt,
			&o.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}

		o.Status = domain.OrderStatus(status)
		o.Items = []domain.OrderItem{}
		index[o.ID] = len(orders)
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order rows error: %w", err)
	}

	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}

	itemRows, err := q.Query(ctx, `
		SELECT id, order_id, catalog_item_id, name, description, unit_price, quantity, total_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item domain.OrderItem
		if err := itemRows.Scan(
			&item.ID,
			&item.OrderID,
			&item.CatalogItemID,
			&item.Name,
			&item.Description,
			&item.UnitPrice,
			&item.Quantity,
			&item.TotalPrice,
		); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		if i, ok := index[item.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, item)
		}
	}

	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("order item rows error: %w", err)
	}

	return orders, nil
}
