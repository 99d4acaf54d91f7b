package integration

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *IntegrationTestSuite) TestConditionalDebit_ConcurrentNeverOverdraws() {
	card := s.seedCard(100, "1000")
	amount := decimal.NewFromInt(300)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		debited  int
		rejected int
	)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.TxManager.WithinTx(context.Background(), pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
				_, err := s.LedgerRepo.ConditionalDebit(ctx, tx, card, amount)
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				debited++
			case errors.Is(err, repository.ErrInsufficientFunds):
				rejected++
			}
		}()
	}
	wg.Wait()

	s.Equal(3, debited)
	s.Equal(2, rejected)
	s.True(decimal.NewFromInt(100).Equal(s.balanceOf(card)))
}

func (s *IntegrationTestSuite) TestLockAccount_ChecksOwnership() {
	card := s.seedCard(100, "10")

	err := s.TxManager.WithinTx(s.Ctx, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		account, err := s.LedgerRepo.LockAccount(ctx, tx, card, 100)
		s.Require().NoError(err)
		s.Equal("4242", account.CardLast4)

		_, err = s.LedgerRepo.LockAccount(ctx, tx, card, 200)
		return err
	})
	s.ErrorIs(err, repository.ErrInstrumentNotFound)
}

func (s *IntegrationTestSuite) TestCartUpsert_MergesQuantity() {
	item := &domain.CartItem{
		UserID:            100,
		SellerID:          1,
		CatalogItemID:     "a-1",
		Quantity:          2,
		UnitPriceSnapshot: decimal.NewFromInt(5),
	}

	for i := 0; i < 2; i++ {
		err := s.TxManager.WithinTx(s.Ctx, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
			next := *item
			return s.CartRepo.Upsert(ctx, tx, &next)
		})
		s.Require().NoError(err)
	}

	var quantity int32
	err := s.DbPool.QueryRow(s.Ctx, `SELECT quantity FROM cart_items WHERE user_id = 100 AND catalog_item_id = 'a-1'`).
		Scan(&quantity)
	s.Require().NoError(err)
	s.Equal(int32(4), quantity)
	s.Equal(1, s.count(`SELECT COUNT(*) FROM cart_items`))
}

func (s *IntegrationTestSuite) TestCreateOrdersWithItems_PersistsSnapshots() {
	s.seedMarketplace()
	card := s.seedCard(100, "5000")

	checkout := &domain.Checkout{
		ID:                  domain.NewCheckoutID(100, ""),
		UserID:              100,
		PaymentInstrumentID: card,
		TotalAmount:         decimal.NewFromInt(1000),
	}

	orders := []domain.Order{{
		CheckoutID:          checkout.ID,
		UserID:              100,
		SellerID:            2,
		SellerName:          "Beta",
		OrderNumber:         "ORD-TEST-0001",
		TotalAmount:         decimal.NewFromInt(1000),
		Status:              domain.OrderStatusPending,
		PaymentStatus:       "paid",
		PaymentMethod:       "card",
		PaymentInstrumentID: card,
		CardLast4:           "4242",
		DeliveryAddress:     "Main st 1",
		Items: []domain.OrderItem{{
			CatalogItemID: "b-1",
			Name:          "Desk",
			UnitPrice:     decimal.NewFromInt(1000),
			Quantity:      1,
			TotalPrice:    decimal.NewFromInt(1000),
		}},
	}}

	err := s.TxManager.WithinTx(s.Ctx, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		if err := repository.NewCheckoutRepository(zap.NewNop()).Create(ctx, tx, checkout); err != nil {
			return err
		}
		return s.OrderRepo.CreateOrdersWithItems(ctx, tx, orders)
	})
	s.Require().NoError(err)
	s.NotZero(orders[0].ID)

	stored, err := s.OrderRepo.ListByUser(s.Ctx, 100, 10)
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal("ORD-TEST-0001", stored[0].OrderNumber)
	s.Require().Len(stored[0].Items, 1)
	s.Equal("Desk", stored[0].Items[0].Name)
	s.True(decimal.NewFromInt(1000).Equal(stored[0].Items[0].TotalPrice))
}
