package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/repository"
	"github.com/sakashimaa/marketplace-checkout/pkg/db"
	outboxDomain "github.com/sakashimaa/marketplace-checkout/pkg/outbox/domain"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for the checkout tables. fakeTxManager holds mu
// for the whole unit of work and restores a snapshot when it fails.
type memStore struct {
	mu sync.Mutex

	seq       int64
	cart      []domain.CartItem
	catalog   map[string]domain.CatalogEntry
	accounts  map[int64]domain.LedgerAccount
	checkouts []domain.Checkout
	orders    []domain.Order
	outbox    []*outboxDomain.OutboxEvent

	// failures makes the named fake method return the error.
	failures map[string]error
	calls    []string
	now      time.Time
}

func newMemStore() *memStore {
	return &memStore{
		catalog:  make(map[string]domain.CatalogEntry),
		accounts: make(map[int64]domain.LedgerAccount),
		failures: make(map[string]error),
		now:      time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

type storeSnapshot struct {
	seq       int64
	cart      []domain.CartItem
	accounts  map[int64]domain.LedgerAccount
	checkouts []domain.Checkout
	orders    []domain.Order
	outbox    []*outboxDomain.OutboxEvent
}

func (s *memStore) snapshot() storeSnapshot {
	accounts := make(map[int64]domain.LedgerAccount, len(s.accounts))
	for k, v := range s.accounts {
		accounts[k] = v
	}

	return storeSnapshot{
		seq:       s.seq,
		cart:      append([]domain.CartItem(nil), s.cart...),
		accounts:  accounts,
		checkouts: append([]domain.Checkout(nil), s.checkouts...),
		orders:    append([]domain.Order(nil), s.orders...),
		outbox:    append([]*outboxDomain.OutboxEvent(nil), s.outbox...),
	}
}

func (s *memStore) restore(snap storeSnapshot) {
	s.seq = snap.seq
	s.cart = snap.cart
	s.accounts = snap.accounts
	s.checkouts = snap.checkouts
	s.orders = snap.orders
	s.outbox = snap.outbox
}

func (s *memStore) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *memStore) call(name string) error {
	s.calls = append(s.calls, name)
	return s.failures[name]
}

func (s *memStore) addCatalogEntry(id string, sellerID int64, sellerName, price string) {
	s.catalog[id] = domain.CatalogEntry{
		CatalogItemID: id,
		SellerID:      sellerID,
		SellerName:    sellerName,
		Name:          "name " + id,
		Description:   "description " + id,
		Price:         decimal.RequireFromString(price),
		Available:     true,
	}
}

func (s *memStore) addCartItem(userID int64, catalogItemID string, quantity int32) {
	entry := s.catalog[catalogItemID]
	s.cart = append(s.cart, domain.CartItem{
		ID:                s.nextID(),
		UserID:            userID,
		SellerID:          entry.SellerID,
		CatalogItemID:     catalogItemID,
		Quantity:          quantity,
		UnitPriceSnapshot: entry.Price,
		AddedAt:           s.now.Add(time.Duration(s.seq) * time.Second),
	})
}

func (s *memStore) addAccount(instrumentID, ownerID int64, balance string) {
	s.accounts[instrumentID] = domain.LedgerAccount{
		InstrumentID: instrumentID,
		OwnerID:      ownerID,
		CardLast4:    "4242",
		Balance:      decimal.RequireFromString(balance),
	}
}

func (s *memStore) balance(instrumentID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[instrumentID].Balance
}

func (s *memStore) cartOf(userID int64) []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []domain.CartItem
	for _, item := range s.cart {
		if item.UserID == userID {
			items = append(items, item)
		}
	}
	return items
}

func (s *memStore) ordersOf(userID int64) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []domain.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	return orders
}

type fakeTxManager struct {
	store     *memStore
	commits   int
	rollbacks int
}

var _ db.TxManager = (*fakeTxManager)(nil)

func (m *fakeTxManager) WithinTx(ctx context.Context, _ pgx.TxOptions, fn db.TxFunc) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	snap := m.store.snapshot()

	if err := fn(ctx, nil); err != nil {
		m.store.restore(snap)
		m.rollbacks++
		return err
	}

	if err := ctx.Err(); err != nil {
		m.store.restore(snap)
		m.rollbacks++
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	m.commits++
	return nil
}

type fakeCartRepo struct{ store *memStore }

func (r *fakeCartRepo) LockUser(_ context.Context, _ pgx.Tx, _ int64) error {
	return r.store.call("LockUser")
}

func (r *fakeCartRepo) Upsert(_ context.Context, _ pgx.Tx, item *domain.CartItem) error {
	if err := r.store.call("Upsert"); err != nil {
		return err
	}

	for i := range r.store.cart {
		existing := &r.store.cart[i]
		if existing.UserID == item.UserID && existing.CatalogItemID == item.CatalogItemID {
			existing.Quantity += item.Quantity
			existing.UnitPriceSnapshot = item.UnitPriceSnapshot
			existing.SellerID = item.SellerID
			existing.UpdatedAt = r.store.now
			*item = *existing
			return nil
		}
	}

	item.ID = r.store.nextID()
	item.AddedAt = r.store.now.Add(time.Duration(item.ID) * time.Second)
	item.UpdatedAt = item.AddedAt
	r.store.cart = append(r.store.cart, *item)
	return nil
}

func (r *fakeCartRepo) CountOtherItems(_ context.Context, _ pgx.Tx, userID int64, catalogItemID string) (int, error) {
	if err := r.store.call("CountOtherItems"); err != nil {
		return 0, err
	}

	count := 0
	for _, item := range r.store.cart {
		if item.UserID == userID && item.CatalogItemID != catalogItemID {
			count++
		}
	}
	return count, nil
}

func (r *fakeCartRepo) UpdateQuantity(_ context.Context, _ pgx.Tx, userID, itemID int64, quantity int32) (*domain.CartItem, error) {
	if err := r.store.call("UpdateQuantity"); err != nil {
		return nil, err
	}

	for i := range r.store.cart {
		item := &r.store.cart[i]
		if item.ID == itemID && item.UserID == userID {
			item.Quantity = quantity
			updated := *item
			return &updated, nil
		}
	}
	return nil, repository.ErrCartItemNotFound
}

func (r *fakeCartRepo) Delete(_ context.Context, _ pgx.Tx, userID, itemID int64) error {
	if err := r.store.call("Delete"); err != nil {
		return err
	}

	for i, item := range r.store.cart {
		if item.ID == itemID && item.UserID == userID {
			r.store.cart = append(r.store.cart[:i:i], r.store.cart[i+1:]...)
			return nil
		}
	}
	return repository.ErrCartItemNotFound
}

func (r *fakeCartRepo) DeleteByUser(_ context.Context, _ pgx.Tx, userID int64, sellerID *int64) (int64, error) {
	if err := r.store.call("DeleteByUser"); err != nil {
		return 0, err
	}

	var kept []domain.CartItem
	var deleted int64
	for _, item := range r.store.cart {
		if item.UserID == userID && (sellerID == nil || item.SellerID == *sellerID) {
			deleted++
			continue
		}
		kept = append(kept, item)
	}
	r.store.cart = kept
	return deleted, nil
}

func (r *fakeCartRepo) ListByUser(_ context.Context, _ pgx.Tx, userID int64, _ bool) ([]domain.CartItem, error) {
	if err := r.store.call("ListByUser"); err != nil {
		return nil, err
	}

	var items []domain.CartItem
	for _, item := range r.store.cart {
		if item.UserID == userID {
			items = append(items, item)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].AddedAt.Equal(items[j].AddedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].AddedAt.Before(items[j].AddedAt)
	})
	return items, nil
}

type fakeCatalogRepo struct{ store *memStore }

func (r *fakeCatalogRepo) GetByID(_ context.Context, catalogItemID string) (*domain.CatalogEntry, error) {
	if err := r.store.call("GetByID"); err != nil {
		return nil, err
	}

	entry, ok := r.store.catalog[catalogItemID]
	if !ok {
		return nil, repository.ErrCatalogItemNotFound
	}
	return &entry, nil
}

func (r *fakeCatalogRepo) GetByIDs(_ context.Context, _ pgx.Tx, catalogItemIDs []string) (map[string]domain.CatalogEntry, error) {
	if err := r.store.call("GetByIDs"); err != nil {
		return nil, err
	}

	entries := make(map[string]domain.CatalogEntry, len(catalogItemIDs))
	for _, id := range catalogItemIDs {
		if entry, ok := r.store.catalog[id]; ok {
			entries[id] = entry
		}
	}
	return entries, nil
}

type fakeLedgerRepo struct{ store *memStore }

func (r *fakeLedgerRepo) GetAccount(_ context.Context, instrumentID, ownerID int64) (*domain.LedgerAccount, error) {
	account, ok := r.store.accounts[instrumentID]
	if !ok || account.OwnerID != ownerID {
		return nil, repository.ErrInstrumentNotFound
	}
	return &account, nil
}

func (r *fakeLedgerRepo) LockAccount(_ context.Context, _ pgx.Tx, instrumentID, ownerID int64) (*domain.LedgerAccount, error) {
	if err := r.store.call("LockAccount"); err != nil {
		return nil, err
	}
	return r.GetAccount(context.Background(), instrumentID, ownerID)
}

func (r *fakeLedgerRepo) ConditionalDebit(_ context.Context, _ pgx.Tx, instrumentID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := r.store.call("ConditionalDebit"); err != nil {
		return decimal.Zero, err
	}

	account, ok := r.store.accounts[instrumentID]
	if !ok || account.Balance.LessThan(amount) {
		return decimal.Zero, repository.ErrInsufficientFunds
	}

	account.Balance = account.Balance.Sub(amount)
	r.store.accounts[instrumentID] = account
	return account.Balance, nil
}

type fakeCheckoutRepo struct{ store *memStore }

func (r *fakeCheckoutRepo) Create(_ context.Context, _ pgx.Tx, checkout *domain.Checkout) error {
	if err := r.store.call("CreateCheckout"); err != nil {
		return err
	}

	for _, existing := range r.store.checkouts {
		if existing.ID == checkout.ID {
			return repository.ErrCheckoutExists
		}
		if checkout.IdempotencyKey != nil && existing.IdempotencyKey != nil &&
			existing.UserID == checkout.UserID && *existing.IdempotencyKey == *checkout.IdempotencyKey {
			return repository.ErrCheckoutExists
		}
	}

	checkout.CreatedAt = r.store.now
	r.store.checkouts = append(r.store.checkouts, *checkout)
	return nil
}

func (r *fakeCheckoutRepo) FindByIdempotencyKey(_ context.Context, _ pgx.Tx, userID int64, key string) (*domain.Checkout, error) {
	for _, existing := range r.store.checkouts {
		if existing.UserID == userID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == key {
			found := existing
			return &found, nil
		}
	}
	return nil, repository.ErrCheckoutNotFound
}

type fakeOrderRepo struct{ store *memStore }

func (r *fakeOrderRepo) CreateOrdersWithItems(_ context.Context, _ pgx.Tx, orders []domain.Order) error {
	for i := range orders {
		if err := r.store.call("CreateOrder"); err != nil {
			return err
		}
		// mirrors orders_total_amount_check
		if orders[i].TotalAmount.IsNegative() {
			return fmt.Errorf("order %s: negative total %s", orders[i].OrderNumber, orders[i].TotalAmount)
		}

		orders[i].ID = r.store.nextID()
		orders[i].CreatedAt = r.store.now
		orders[i].UpdatedAt = r.store.now

		items := make([]domain.OrderItem, len(orders[i].Items))
		copy(items, orders[i].Items)
		for j := range items {
			items[j].ID = r.store.nextID()
			items[j].OrderID = orders[i].ID
		}
		orders[i].Items = items

		r.store.orders = append(r.store.orders, orders[i])
	}
	return nil
}

func (r *fakeOrderRepo) ListByUser(_ context.Context, userID int64, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	for i := len(r.store.orders) - 1; i >= 0 && len(orders) < limit; i-- {
		if r.store.orders[i].UserID == userID {
			orders = append(orders, r.store.orders[i])
		}
	}
	return orders, nil
}

func (r *fakeOrderRepo) ListByCheckout(_ context.Context, _ pgx.Tx, checkoutID uuid.UUID) ([]domain.Order, error) {
	var orders []domain.Order
	for _, o := range r.store.orders {
		if o.CheckoutID == checkoutID {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

type fakeOutboxRepo struct{ store *memStore }

func (r *fakeOutboxRepo) SaveOutboxEvent(_ context.Context, _ pgx.Tx, event *outboxDomain.OutboxEvent) error {
	if err := r.store.call("SaveOutboxEvent"); err != nil {
		return err
	}

	event.Id = r.store.nextID()
	r.store.outbox = append(r.store.outbox, event)
	return nil
}

func (r *fakeOutboxRepo) GetUnpublishedEvents(_ context.Context, _ pgx.Tx, _ int) ([]*outboxDomain.OutboxEvent, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) MarkEventPublished(_ context.Context, _ pgx.Tx, _ int64) error {
	return nil
}

func (r *fakeOutboxRepo) MarkEventFailed(_ context.Context, _ pgx.Tx, _ int64, _ string) error {
	return nil
}
