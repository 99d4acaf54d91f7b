package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/repository"
	"github.com/sakashimaa/marketplace-checkout/pkg/db"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CartService interface {
	GetCart(ctx context.Context, userID int64) (*domain.CartView, error)
	AddItem(ctx context.Context, input domain.AddCartItemInput) (*domain.CartItem, error)
	// UpdateQuantity removes the row and returns a nil item when quantity <= 0.
	UpdateQuantity(ctx context.Context, userID, itemID int64, quantity int32) (*domain.CartItem, error)
	RemoveItem(ctx context.Context, userID, itemID int64) error
	// Clear purges the whole cart, or only sellerID's rows when it is set.
	Clear(ctx context.Context, userID int64, sellerID *int64) (int64, error)
}

type cartService struct {
	txManager    db.TxManager
	cartRepo     repository.CartRepository
	catalog      CatalogService
	aggregator   CheckoutAggregator
	maxCartItems int
	logger       *zap.Logger
	tracer       trace.Tracer
}

func NewCartService(
	txManager db.TxManager,
	cartRepo repository.CartRepository,
	catalog CatalogService,
	aggregator CheckoutAggregator,
	maxCartItems int,
	logger *zap.Logger,
) CartService {
	return &cartService{
		txManager:    txManager,
		cartRepo:     cartRepo,
		catalog:      catalog,
		aggregator:   aggregator,
		maxCartItems: maxCartItems,
		logger:       logger,
		tracer:       otel.Tracer("cart_service"),
	}
}

func (s *cartService) GetCart(ctx context.Context, userID int64) (*domain.CartView, error) {
	ctx, span := s.tracer.Start(ctx, "CartService.GetCart")
	defer span.End()

	span.SetAttributes(attribute.Int64("user_id", userID))

	var groups []domain.SellerGroup
	err := s.txManager.WithinTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		groups, err = s.aggregator.Preview(ctx, tx, userID)
		return err
	})
	if err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, s.logger, "Failed to load cart", zap.Int64("user_id", userID), zap.Error(err))
		return nil, err
	}

	return domain.NewCartView(groups), nil
}

func (s *cartService) AddItem(ctx context.Context, input domain.AddCartItemInput) (*domain.CartItem, error) {
	ctx, span := s.tracer.Start(ctx, "CartService.AddItem")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", input.UserID),
		attribute.Int64("seller_id", input.SellerID),
		attribute.String("catalog_item_id", input.CatalogItemID),
	)

	if input.Quantity <= 0 {
		input.Quantity = 1
	}

	entry, err := s.catalog.GetItem(ctx, input.CatalogItemID)
	if err != nil {
		return nil, err
	}

	if !entry.Available {
		return nil, domain.ErrCatalogItemNotAvail
	}

	if entry.SellerID != input.SellerID {
		mylogger.Warn(
			ctx,
			s.logger,
			"Catalog item added under wrong seller",
			zap.String("catalog_item_id", input.CatalogItemID),
			zap.Int64("seller_id", input.SellerID),
			zap.Int64("owner_seller_id", entry.SellerID),
		)

		return nil, domain.ErrSellerMismatch
	}

	item := &domain.CartItem{
		UserID:            input.UserID,
		SellerID:          entry.SellerID,
		CatalogItemID:     entry.CatalogItemID,
		Quantity:          input.Quantity,
		UnitPriceSnapshot: entry.Price,
	}

	err = s.txManager.WithinTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.cartRepo.LockUser(ctx, tx, input.UserID); err != nil {
			return err
		}

		if s.maxCartItems > 0 {
			others, err := s.cartRepo.CountOtherItems(ctx, tx, input.UserID, input.CatalogItemID)
			if err != nil {
				return err
			}
			if others >= s.maxCartItems {
				return domain.ErrCartFull
			}
		}

		return s.cartRepo.Upsert(ctx, tx, item)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	mylogger.Debug(
		ctx,
		s.logger,
		"Cart item added",
		zap.Int64("user_id", input.UserID),
		zap.Int64("cart_item_id", item.ID),
		zap.Int32("quantity", item.Quantity),
	)

	return item, nil
}

func (s *cartService) UpdateQuantity(ctx context.Context, userID, itemID int64, quantity int32) (*domain.CartItem, error) {
	ctx, span := s.tracer.Start(ctx, "CartService.UpdateQuantity")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("item_id", itemID),
		attribute.Int("quantity", int(quantity)),
	)

	if quantity <= 0 {
		return nil, s.RemoveItem(ctx, userID, itemID)
	}

	var item *domain.CartItem
	err := s.txManager.WithinTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.cartRepo.LockUser(ctx, tx, userID); err != nil {
			return err
		}

		var err error
		item, err = s.cartRepo.UpdateQuantity(ctx, tx, userID, itemID, quantity)
		return err
	})
	if err != nil {
		return nil, mapCartError(err)
	}

	return item, nil
}

func (s *cartService) RemoveItem(ctx context.Context, userID, itemID int64) error {
	ctx, span := s.tracer.Start(ctx, "CartService.RemoveItem")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("item_id", itemID),
	)

	err := s.txManager.WithinTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.cartRepo.LockUser(ctx, tx, userID); err != nil {
			return err
		}

		return s.cartRepo.Delete(ctx, tx, userID, itemID)
	})

	return mapCartError(err)
}

func (s *cartService) Clear(ctx context.Context, userID int64, sellerID *int64) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "CartService.Clear")
	defer span.End()

	span.SetAttributes(attribute.Int64("user_id", userID))

	var count int64
	err := s.txManager.WithinTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.cartRepo.LockUser(ctx, tx, userID); err != nil {
			return err
		}

		var err error
		count, err = s.cartRepo.DeleteByUser(ctx, tx, userID, sellerID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	mylogger.Info(ctx, s.logger, "Cart cleared", zap.Int64("user_id", userID), zap.Int64("count", count))
	return count, nil
}

func mapCartError(err error) error {
	if errors.Is(err, repository.ErrCartItemNotFound) {
		return domain.ErrCartItemNotFound
	}
	return err
}
