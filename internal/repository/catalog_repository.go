package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CatalogRepository interface {
	GetByID(ctx context.Context, catalogItemID string) (*domain.CatalogEntry, error)
	// GetByIDs returns the live entries found; missing or deleted ids are absent from the map.
	GetByIDs(ctx context.Context, tx pgx.Tx, catalogItemIDs []string) (map[string]domain.CatalogEntry, error)
}

type catalogRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewCatalogRepository(pool *pgxpool.Pool, logger *zap.Logger) CatalogRepository {
	return &catalogRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("catalog_repository"),
	}
}

const catalogSelect = `
	SELECT c.article, c.seller_id, s.name, c.name, c.description, c.price, c.is_available
	FROM catalog_items c
	JOIN sellers s ON s.id = c.seller_id
`

func (r *catalogRepo) GetByID(ctx context.Context, catalogItemID string) (*domain.CatalogEntry, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.String("catalog_item_id", catalogItemID))

	query := catalogSelect + `WHERE c.article = $1 AND c.deleted_at IS NULL`

	entry, err := scanCatalogEntry(r.pool.QueryRow(ctx, query, catalogItemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCatalogItemNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query catalog item",
			zap.String("catalog_item_id", catalogItemID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to query catalog item: %w", err)
	}

	return entry, nil
}

func (r *catalogRepo) GetByIDs(ctx context.Context, tx pgx.Tx, catalogItemIDs []string) (map[string]domain.CatalogEntry, error) {
	ctx, span := r.tracer.Start(ctx, "CatalogRepository.GetByIDs")
	defer span.End()

	span.SetAttributes(attribute.Int("ids_count", len(catalogItemIDs)))

	result := make(map[string]domain.CatalogEntry, len(catalogItemIDs))
	if len(catalogItemIDs) == 0 {
		return result, nil
	}

	query := catalogSelect + `WHERE c.article = ANY($1) AND c.deleted_at IS NULL`

	rows, err := tx.Query(ctx, query, catalogItemIDs)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query catalog items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanCatalogEntry(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan catalog item: %w", err)
		}

		result[entry.CatalogItemID] = *entry
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("catalog rows error: %w", err)
	}

	span.SetAttributes(attribute.Int("result_count", len(result)))
	return result, nil
}

func scanCatalogEntry(row pgx.Row) (*domain.CatalogEntry, error) {
	var entry domain.CatalogEntry
	if err := row.Scan(
		&entry.CatalogItemID,
		&entry.SellerID,
		&entry.SellerName,
		&entry.Name,
		&entry.Description,
		&entry.Price,
		&entry.Available,
	); err != nil {
		return nil, err
	}

	return &entry, nil
}
