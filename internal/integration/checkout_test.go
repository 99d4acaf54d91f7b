package integration

import (
	"context"
	"errors"
	"sync"

	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) TestCheckout_OneOrderPerSeller() {
	s.seedMarketplace()
	card := s.seedCard(100, "5000")

	s.addToCart(100, 1, "a-1", 2)
	s.addToCart(100, 1, "a-2", 1)
	s.addToCart(100, 2, "b-1", 1)

	result, err := s.CheckoutService.Checkout(context.Background(), domain.CheckoutRequest{
		UserID:              100,
		PaymentInstrumentID: card,
		Delivery:            domain.DeliveryInfo{Address: "Main st 1"},
	})
	s.Require().NoError(err)

	s.Require().Len(result.Orders, 2)
	s.True(decimal.NewFromInt(2300).Equal(result.TotalAmount))
	s.True(decimal.NewFromInt(2700).Equal(result.RemainingBalance))
	s.True(decimal.NewFromInt(2700).Equal(s.balanceOf(card)))

	s.Equal(2, s.count(`SELECT COUNT(*) FROM orders WHERE checkout_id = $1`, result.CheckoutID))
	s.Equal(3, s.count(`SELECT COUNT(*) FROM order_items`))
	s.Equal(0, s.count(`SELECT COUNT(*) FROM cart_items WHERE user_id = 100`))
	s.Equal(2, s.count(`SELECT COUNT(*) FROM outbox WHERE event_type = 'OrderPlaced'`))

	var sum decimal.Decimal
	err = s.DbPool.QueryRow(s.Ctx, `SELECT SUM(total_amount) FROM orders WHERE checkout_id = $1`, result.CheckoutID).Scan(&sum)
	s.Require().NoError(err)
	s.True(result.TotalAmount.Equal(sum))
}

func (s *IntegrationTestSuite) TestCheckout_InsufficientFundsLeavesNoTrace() {
	s.seedMarketplace()
	card := s.seedCard(100, "100")
	s.addToCart(100, 2, "b-1", 1)

	_, err := s.CheckoutService.Checkout(context.Background(), domain.CheckoutRequest{
		UserID:              100,
		PaymentInstrumentID: card,
		Delivery:            domain.DeliveryInfo{Address: "Main st 1"},
	})
	s.Require().ErrorIs(err, domain.ErrInsufficientFunds)

	s.True(decimal.NewFromInt(100).Equal(s.balanceOf(card)))
	s.Equal(0, s.count(`SELECT COUNT(*) FROM orders`))
	s.Equal(0, s.count(`SELECT COUNT(*) FROM checkouts`))
	s.Equal(0, s.count(`SELECT COUNT(*) FROM outbox`))
	s.Equal(1, s.count(`SELECT COUNT(*) FROM cart_items WHERE user_id = 100`))
}

func (s *IntegrationTestSuite) TestCheckout_IdempotencyKeyReplays() {
	s.seedMarketplace()
	card := s.seedCard(100, "5000")
	s.addToCart(100, 1, "a-1", 1)

	req := domain.CheckoutRequest{
		UserID:              100,
		PaymentInstrumentID: card,
		Delivery:            domain.DeliveryInfo{Address: "Main st 1"},
		IdempotencyKey:      "key-1",
	}

	first, err := s.CheckoutService.Checkout(context.Background(), req)
	s.Require().NoError(err)
	s.False(first.Replayed)

	second, err := s.CheckoutService.Checkout(context.Background(), req)
	s.Require().NoError(err)
	s.True(second.Replayed)
	s.Equal(first.CheckoutID, second.CheckoutID)
	s.Require().Len(second.Orders, 1)
	s.Equal(first.Orders[0].OrderNumber, second.Orders[0].OrderNumber)

	s.True(decimal.NewFromInt(4500).Equal(s.balanceOf(card)))
	s.Equal(1, s.count(`SELECT COUNT(*) FROM checkouts`))
}

func (s *IntegrationTestSuite) TestCheckout_SameUserConcurrentAttemptsChargeOnce() {
	s.seedMarketplace()
	card := s.seedCard(100, "5000")
	s.addToCart(100, 2, "b-1", 1)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		emptyCart int
	)

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := s.CheckoutService.Checkout(context.Background(), domain.CheckoutRequest{
				UserID:              100,
				PaymentInstrumentID: card,
				Delivery:            domain.DeliveryInfo{Address: "Main st 1"},
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrEmptyCart):
				emptyCart++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, succeeded)
	s.Equal(3, emptyCart)
	s.True(decimal.NewFromInt(4000).Equal(s.balanceOf(card)))
	s.Equal(1, s.count(`SELECT COUNT(*) FROM orders`))
}

func (s *IntegrationTestSuite) TestCheckout_UnavailableItemsAreSkipped() {
	s.seedMarketplace()
	card := s.seedCard(100, "5000")
	s.addToCart(100, 1, "a-1", 1)
	s.addToCart(100, 2, "b-1", 1)

	_, err := s.DbPool.Exec(s.Ctx, `UPDATE catalog_items SET deleted_at = NOW() WHERE article = 'b-1'`)
	s.Require().NoError(err)

	result, err := s.CheckoutService.Checkout(context.Background(), domain.CheckoutRequest{
		UserID:              100,
		PaymentInstrumentID: card,
		Delivery:            domain.DeliveryInfo{Address: "Main st 1"},
	})
	s.Require().NoError(err)

	s.Require().Len(result.Orders, 1)
	s.Equal(int64(1), result.Orders[0].SellerID)
	s.True(decimal.NewFromInt(500).Equal(result.TotalAmount))
	s.Equal(0, s.count(`SELECT COUNT(*) FROM cart_items WHERE user_id = 100`))
}

func (s *IntegrationTestSuite) TestCheckout_FreeItemGroupCommits() {
	s.seedMarketplace()
	s.seedCatalogItem("b-free", 2, "Sticker", "0")
	card := s.seedCard(100, "1000")
	s.addToCart(100, 1, "a-1", 1)
	s.addToCart(100, 2, "b-free", 3)

	result, err := s.CheckoutService.Checkout(context.Background(), domain.CheckoutRequest{
		UserID:              100,
		PaymentInstrumentID: card,
		Delivery:            domain.DeliveryInfo{Address: "Main st 1"},
	})
	s.Require().NoError(err)

	s.Require().Len(result.Orders, 2)
	s.True(result.Orders[1].TotalAmount.IsZero())
	s.True(decimal.NewFromInt(500).Equal(s.balanceOf(card)))
	s.Equal(1, s.count(`SELECT COUNT(*) FROM orders WHERE seller_id = 2 AND total_amount = 0`))
	s.Equal(0, s.count(`SELECT COUNT(*) FROM cart_items WHERE user_id = 100`))
}

func (s *IntegrationTestSuite) TestCheckout_IdempotencyKeyReusedWithOtherAddress() {
	s.seedMarketplace()
	card := s.seedCard(100, "5000")
	s.addToCart(100, 1, "a-1", 1)

	req := domain.CheckoutRequest{
		UserID:              100,
		PaymentInstrumentID: card,
		Delivery:            domain.DeliveryInfo{Address: "Main st 1"},
		IdempotencyKey:      "key-2",
	}

	_, err := s.CheckoutService.Checkout(context.Background(), req)
	s.Require().NoError(err)

	req.Delivery.Address = "Side st 2"
	_, err = s.CheckoutService.Checkout(context.Background(), req)
	s.Require().ErrorIs(err, domain.ErrIdempotencyKeyReused)

	s.True(decimal.NewFromInt(4500).Equal(s.balanceOf(card)))
	s.Equal(1, s.count(`SELECT COUNT(*) FROM orders`))
}
