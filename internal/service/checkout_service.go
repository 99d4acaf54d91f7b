package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/repository"
	"github.com/sakashimaa/marketplace-checkout/pkg/db"
	"github.com/sakashimaa/marketplace-checkout/pkg/metrics"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/marketplace-checkout/pkg/outbox/domain"
	"github.com/sakashimaa/marketplace-checkout/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CheckoutService interface {
	Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error)
}

type CheckoutDeps struct {
	TxManager    db.TxManager
	CartRepo     repository.CartRepository
	Aggregator   CheckoutAggregator
	LedgerRepo   repository.LedgerRepository
	CheckoutRepo repository.CheckoutRepository
	OrderRepo    repository.OrderRepository
	OutboxRepo   worker.OutboxRepository
	Metrics      *metrics.Metrics
	OrderTopic   string
}

type checkoutService struct {
	txManager    db.TxManager
	cartRepo     repository.CartRepository
	aggregator   CheckoutAggregator
	ledgerRepo   repository.LedgerRepository
	checkoutRepo repository.CheckoutRepository
	orderRepo    repository.OrderRepository
	outboxRepo   worker.OutboxRepository
	metrics      *metrics.Metrics
	orderTopic   string
	logger       *zap.Logger
	tracer       trace.Tracer
}

func NewCheckoutService(deps CheckoutDeps, logger *zap.Logger) CheckoutService {
	if deps.OrderTopic == "" {
		deps.OrderTopic = "order_events"
	}

	return &checkoutService{
		txManager:    deps.TxManager,
		cartRepo:     deps.CartRepo,
		aggregator:   deps.Aggregator,
		ledgerRepo:   deps.LedgerRepo,
		checkoutRepo: deps.CheckoutRepo,
		orderRepo:    deps.OrderRepo,
		outboxRepo:   deps.OutboxRepo,
		metrics:      deps.Metrics,
		orderTopic:   deps.OrderTopic,
		logger:       logger,
		tracer:       otel.Tracer("checkout_service"),
	}
}

// errCheckoutRace means a checkout with the same idempotency key committed first.
var errCheckoutRace = errors.New("concurrent checkout with same idempotency key")

// Checkout converts the whole cart into one order per seller and debits the
// instrument once for the grand total. Either every effect commits or none does.
func (s *checkoutService) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "CheckoutService.Checkout")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", req.UserID),
		attribute.Int64("payment_instrument_id", req.PaymentInstrumentID),
		attribute.Bool("idempotent", req.IdempotencyKey != ""),
	)

	result, err := s.checkout(ctx, req)
	if errors.Is(err, domain.ErrIdempotencyKeyReused) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "idempotency key reused")
		s.metrics.CheckoutOutcome("IDEMPOTENCY_KEY_REUSED")

		mylogger.Warn(
			ctx,
			s.logger,
			"Checkout rejected",
			zap.Int64("user_id", req.UserID),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Error(err),
		)

		return nil, err
	}

	if err != nil {
		checkoutErr := classify(err)

		span.RecordError(checkoutErr)
		span.SetStatus(codes.Error, checkoutErr.Kind.String())
		s.metrics.CheckoutOutcome(checkoutErr.Kind.Code())

		if checkoutErr.Kind == domain.KindInternal {
			mylogger.Error(
				ctx,
				s.logger,
				"Checkout failed",
				zap.Int64("user_id", req.UserID),
				zap.Error(err),
			)
		} else {
			mylogger.Warn(
				ctx,
				s.logger,
				"Checkout rejected",
				zap.Int64("user_id", req.UserID),
				zap.String("kind", checkoutErr.Kind.String()),
			)
		}

		return nil, checkoutErr
	}

	if result.Replayed {
		s.metrics.CheckoutOutcome("REPLAYED")
		mylogger.Info(
			ctx,
			s.logger,
			"Checkout replayed",
			zap.Int64("user_id", req.UserID),
			zap.String("checkout_id", result.CheckoutID.String()),
		)

		return result, nil
	}

	s.metrics.CheckoutOutcome("SUCCESS")
	s.metrics.CheckoutCommitted(result.TotalAmount.InexactFloat64(), len(result.Orders))

	mylogger.Info(
		ctx,
		s.logger,
		"Checkout committed",
		zap.Int64("user_id", req.UserID),
		zap.String("checkout_id", result.CheckoutID.String()),
		zap.Int("orders_count", len(result.Orders)),
		zap.String("total_amount", result.TotalAmount.StringFixed(2)),
	)

	return result, nil
}

func (s *checkoutService) checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	if req.IdempotencyKey != "" {
		result, err := s.replay(ctx, req)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, repository.ErrCheckoutNotFound) {
			return nil, err
		}
	}

	var result *domain.CheckoutResult
	err := s.txManager.WithinTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		result, err = s.checkoutInTx(ctx, tx, req)
		return err
	})

	if errors.Is(err, errCheckoutRace) {
		return s.replay(ctx, req)
	}

	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *checkoutService) checkoutInTx(ctx context.Context, tx pgx.Tx, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	if err := s.cartRepo.LockUser(ctx, tx, req.UserID); err != nil {
		return nil, err
	}

	// Re-check under the lock: a request with the same key may have committed while we waited.
	if req.IdempotencyKey != "" {
		existing, err := s.loadReplay(ctx, tx, req)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repository.ErrCheckoutNotFound) {
			return nil, err
		}
	}

	groups, err := s.aggregator.Aggregate(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}

	total := domain.TotalOf(groups)

	account, err := s.ledgerRepo.LockAccount(ctx, tx, req.PaymentInstrumentID, req.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrInstrumentNotFound) {
			return nil, domain.ErrInstrumentNotFound
		}
		return nil, err
	}

	if !account.CanAfford(total) {
		return nil, domain.NewCheckoutError(domain.KindInsufficientFunds, fmt.Errorf(
			"balance %s is below total %s", account.Balance.StringFixed(2), total.StringFixed(2),
		))
	}

	remaining, err := s.ledgerRepo.ConditionalDebit(ctx, tx, account.InstrumentID, total)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			return nil, domain.ErrInsufficientFunds
		}
		return nil, err
	}

	// Past the debit every failure is internal and rolls the debit back with everything else.
	checkout := &domain.Checkout{
		ID:                  domain.NewCheckoutID(req.UserID, req.IdempotencyKey),
		UserID:              req.UserID,
		PaymentInstrumentID: account.InstrumentID,
		TotalAmount:         total,
		RemainingBalance:    remaining,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		checkout.IdempotencyKey = &key
	}

	if err := s.checkoutRepo.Create(ctx, tx, checkout); err != nil {
		if errors.Is(err, repository.ErrCheckoutExists) {
			return nil, errCheckoutRace
		}
		return nil, internal(err)
	}

	orders := domain.BuildOrders(checkout, account, req.Delivery, groups)

	if err := s.orderRepo.CreateOrdersWithItems(ctx, tx, orders); err != nil {
		return nil, internal(err)
	}

	if _, err := s.cartRepo.DeleteByUser(ctx, tx, req.UserID, nil); err != nil {
		return nil, internal(err)
	}

	for i := range orders {
		if err := s.emitOrderPlaced(ctx, tx, &orders[i]); err != nil {
			return nil, internal(err)
		}
	}

	return &domain.CheckoutResult{
		CheckoutID:       checkout.ID,
		Orders:           orders,
		TotalAmount:      total,
		RemainingBalance: remaining,
	}, nil
}

// replay returns the committed result for req's idempotency key in a read-only transaction.
func (s *checkoutService) replay(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	var result *domain.CheckoutResult
	err := s.txManager.WithinTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		result, err = s.loadReplay(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *checkoutService) loadReplay(ctx context.Context, tx pgx.Tx, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	checkout, err := s.checkoutRepo.FindByIdempotencyKey(ctx, tx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	orders, err := s.orderRepo.ListByCheckout(ctx, tx, checkout.ID)
	if err != nil {
		return nil, err
	}

	if !checkout.Matches(orders, req) {
		return nil, domain.ErrIdempotencyKeyReused
	}

	return &domain.CheckoutResult{
		CheckoutID:       checkout.ID,
		Orders:           orders,
		TotalAmount:      checkout.TotalAmount,
		RemainingBalance: checkout.RemainingBalance,
		Replayed:         true,
	}, nil
}

func (s *checkoutService) emitOrderPlaced(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	event, err := outboxDomain.NewEvent(
		s.orderTopic,
		domain.AggregateOrder,
		strconv.FormatInt(order.ID, 10),
		domain.EventOrderPlaced,
		domain.NewOrderPlacedEvent(order),
	)
	if err != nil {
		return err
	}

	if err := s.outboxRepo.SaveOutboxEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	return nil
}

func internal(err error) error {
	return domain.NewCheckoutError(domain.KindInternal, err)
}

// classify maps any error to the closed set of checkout failures.
func classify(err error) *domain.CheckoutError {
	var checkoutErr *domain.CheckoutError
	if errors.As(err, &checkoutErr) {
		return checkoutErr
	}

	return domain.NewCheckoutError(domain.KindInternal, err)
}
