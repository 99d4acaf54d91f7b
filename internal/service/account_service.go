package service

import (
	"context"
	"errors"

	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AccountService serves the read side: order history and instrument balance.
type AccountService interface {
	ListOrders(ctx context.Context, userID int64, limit int) ([]domain.Order, error)
	GetInstrument(ctx context.Context, userID, instrumentID int64) (*domain.LedgerAccount, error)
}

type accountService struct {
	orderRepo  repository.OrderRepository
	ledgerRepo repository.LedgerRepository
	logger     *zap.Logger
	tracer     trace.Tracer
}

func NewAccountService(orderRepo repository.OrderRepository, ledgerRepo repository.LedgerRepository, logger *zap.Logger) AccountService {
	return &accountService{
		orderRepo:  orderRepo,
		ledgerRepo: ledgerRepo,
		logger:     logger,
		tracer:     otel.Tracer("account_service"),
	}
}

func (s *accountService) ListOrders(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.ListOrders")
	defer span.End()

	orders, err := s.orderRepo.ListByUser(ctx, userID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return orders, nil
}

func (s *accountService) GetInstrument(ctx context.Context, userID, instrumentID int64) (*domain.LedgerAccount, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.GetInstrument")
	defer span.End()

	account, err := s.ledgerRepo.GetAccount(ctx, instrumentID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrInstrumentNotFound) {
			return nil, domain.ErrInstrumentNotFound
		}

		span.RecordError(err)
		return nil, err
	}

	return account, nil
}
