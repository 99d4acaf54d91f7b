package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/repository"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CatalogService interface {
	GetItem(ctx context.Context, catalogItemID string) (*domain.CatalogEntry, error)
	Invalidate(ctx context.Context, catalogItemID string) error
}

type catalogService struct {
	repo   repository.CatalogRepository
	logger *zap.Logger
	tracer trace.Tracer
}

func NewCatalogService(repo repository.CatalogRepository, logger *zap.Logger) CatalogService {
	return &catalogService{
		repo:   repo,
		logger: logger,
		tracer: otel.Tracer("catalog_service"),
	}
}

func (s *catalogService) GetItem(ctx context.Context, catalogItemID string) (*domain.CatalogEntry, error) {
	ctx, span := s.tracer.Start(ctx, "CatalogService.GetItem")
	defer span.End()

	span.SetAttributes(attribute.String("catalog_item_id", catalogItemID))

	entry, err := s.repo.GetByID(ctx, catalogItemID)
	if err != nil {
		if errors.Is(err, repository.ErrCatalogItemNotFound) {
			mylogger.Debug(ctx, s.logger, "Catalog item not found", zap.String("catalog_item_id", catalogItemID))
			return nil, domain.ErrCatalogItemNotFound
		}

		span.RecordError(err)
		return nil, err
	}

	return entry, nil
}

// Invalidate is a no-op without a cache in front.
func (s *catalogService) Invalidate(_ context.Context, _ string) error {
	return nil
}

// PriceResolver returns the live catalog entries for a set of cart rows inside the
// caller's transaction. Entries that vanished are absent from the result.
type PriceResolver interface {
	Resolve(ctx context.Context, tx pgx.Tx, catalogItemIDs []string) (map[string]domain.CatalogEntry, error)
}

type priceResolver struct {
	repo repository.CatalogRepository
}

func NewPriceResolver(repo repository.CatalogRepository) PriceResolver {
	return &priceResolver{repo: repo}
}

func (r *priceResolver) Resolve(ctx context.Context, tx pgx.Tx, catalogItemIDs []string) (map[string]domain.CatalogEntry, error) {
	return r.repo.GetByIDs(ctx, tx, catalogItemIDs)
}
