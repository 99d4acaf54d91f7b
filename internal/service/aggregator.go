package service

import (
	"context"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/repository"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CheckoutAggregator groups a user's cart by seller against live catalog prices.
type CheckoutAggregator interface {
	// Aggregate locks the cart rows for the rest of tx and fails with domain.ErrEmptyCart
	// when nothing chargeable remains.
	Aggregate(ctx context.Context, tx pgx.Tx, userID int64) ([]domain.SellerGroup, error)
	// Preview is the unlocked read behind GET /cart; an empty cart is not an error.
	Preview(ctx context.Context, tx pgx.Tx, userID int64) ([]domain.SellerGroup, error)
}

type checkoutAggregator struct {
	cartRepo repository.CartRepository
	resolver PriceResolver
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewCheckoutAggregator(cartRepo repository.CartRepository, resolver PriceResolver, logger *zap.Logger) CheckoutAggregator {
	return &checkoutAggregator{
		cartRepo: cartRepo,
		resolver: resolver,
		logger:   logger,
		tracer:   otel.Tracer("checkout_aggregator"),
	}
}

func (a *checkoutAggregator) Aggregate(ctx context.Context, tx pgx.Tx, userID int64) ([]domain.SellerGroup, error) {
	ctx, span := a.tracer.Start(ctx, "CheckoutAggregator.Aggregate")
	defer span.End()

	groups, err := a.collect(ctx, tx, userID, true)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("groups_count", len(groups)))

	if len(groups) == 0 {
		return nil, domain.ErrEmptyCart
	}

	return groups, nil
}

func (a *checkoutAggregator) Preview(ctx context.Context, tx pgx.Tx, userID int64) ([]domain.SellerGroup, error) {
	ctx, span := a.tracer.Start(ctx, "CheckoutAggregator.Preview")
	defer span.End()

	groups, err := a.collect(ctx, tx, userID, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return groups, nil
}

func (a *checkoutAggregator) collect(ctx context.Context, tx pgx.Tx, userID int64, forUpdate bool) ([]domain.SellerGroup, error) {
	items, err := a.cartRepo.ListByUser(ctx, tx, userID, forUpdate)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return []domain.SellerGroup{}, nil
	}

	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.CatalogItemID]; ok {
			continue
		}
		seen[item.CatalogItemID] = struct{}{}
		ids = append(ids, item.CatalogItemID)
	}

	entries, err := a.resolver.Resolve(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	bySeller := make(map[int64]*domain.SellerGroup)
	for _, item := range items {
		entry, ok := entries[item.CatalogItemID]
		if !ok || !entry.Available {
			mylogger.Warn(
				ctx,
				a.logger,
				"Dropping cart item without a live catalog entry",
				zap.Int64("user_id", userID),
				zap.Int64("cart_item_id", item.ID),
				zap.String("catalog_item_id", item.CatalogItemID),
				zap.Bool("found", ok),
			)
			continue
		}

		if !entry.Price.Equal(item.UnitPriceSnapshot) {
			mylogger.Info(
				ctx,
				a.logger,
				"Catalog price changed since item was added",
				zap.Int64("cart_item_id", item.ID),
				zap.String("catalog_item_id", item.CatalogItemID),
				zap.String("snapshot_price", item.UnitPriceSnapshot.StringFixed(2)),
				zap.String("live_price", entry.Price.StringFixed(2)),
			)
		}

		// Groups follow the cart row's seller, the same key DeleteByUser filters on.
		if entry.SellerID != item.SellerID {
			mylogger.Warn(
				ctx,
				a.logger,
				"Catalog seller changed since item was added",
				zap.Int64("cart_item_id", item.ID),
				zap.String("catalog_item_id", item.CatalogItemID),
				zap.Int64("cart_seller_id", item.SellerID),
				zap.Int64("catalog_seller_id", entry.SellerID),
			)
		}

		group, ok := bySeller[item.SellerID]
		if !ok {
			group = &domain.SellerGroup{SellerID: item.SellerID}
			bySeller[item.SellerID] = group
		}
		if group.SellerName == "" && entry.SellerID == item.SellerID {
			group.SellerName = entry.SellerName
		}

		group.Add(domain.NewPricedCartItem(item, entry))
	}

	groups := make([]domain.SellerGroup, 0, len(bySeller))
	for _, group := range bySeller {
		groups = append(groups, *group)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].SellerID < groups[j].SellerID
	})

	return groups, nil
}
