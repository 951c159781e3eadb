package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vitrine/cart-service/internal/domain"
	"github.com/vitrine/cart-service/internal/event"
	"github.com/vitrine/cart-service/internal/product"
	"github.com/vitrine/cart-service/internal/repository"
	apperrors "github.com/vitrine/cart-service/pkg/errors"
	pkgkafka "github.com/vitrine/cart-service/pkg/kafka"
)

// --- Mock repositories ---

type mockCartRepository struct {
	mock.Mock
}

func (m *mockCartRepository) Get(ctx context.Context, sessionID string) (*domain.Cart, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Cart), args.Error(1)
}

func (m *mockCartRepository) Save(ctx context.Context, cart *domain.Cart) error {
	args := m.Called(ctx, cart)
	return args.Error(0)
}

func (m *mockCartRepository) SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error) {
	args := m.Called(ctx, cart, expectedVersion)
	if args.Bool(0) {
		cart.Version = expectedVersion + 1
	}
	return args.Bool(0), args.Error(1)
}

func (m *mockCartRepository) Touch(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *mockCartRepository) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *mockCartRepository) Exists(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *mockCartRepository) Stats(ctx context.Context) (*repository.CartStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.CartStats), args.Error(1)
}

type mockSnapshotRepository struct {
	mock.Mock
}

func (m *mockSnapshotRepository) Get(ctx context.Context, sessionID string) (json.RawMessage, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *mockSnapshotRepository) Save(ctx context.Context, sessionID string, snapshot json.RawMessage) error {
	args := m.Called(ctx, sessionID, snapshot)
	return args.Error(0)
}

func (m *mockSnapshotRepository) Delete(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *mockSnapshotRepository) Exists(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}

type mockCorrelationRepository struct {
	mock.Mock
}

func (m *mockCorrelationRepository) Record(ctx context.Context, paymentSessionID, cartSessionID string) error {
	args := m.Called(ctx, paymentSessionID, cartSessionID)
	return args.Error(0)
}

func (m *mockCorrelationRepository) Resolve(ctx context.Context, paymentSessionID string) (string, error) {
	args := m.Called(ctx, paymentSessionID)
	return args.String(0), args.Error(1)
}

func (m *mockCorrelationRepository) Delete(ctx context.Context, paymentSessionID string) error {
	args := m.Called(ctx, paymentSessionID)
	return args.Error(0)
}

type mockStockChecker struct {
	mock.Mock
}

func (m *mockStockChecker) CheckAvailability(ctx context.Context, productID string, quantity int) (*product.Availability, error) {
	args := m.Called(ctx, productID, quantity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*product.Availability), args.Error(1)
}

// --- Test helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type serviceMocks struct {
	carts        *mockCartRepository
	snapshots    *mockSnapshotRepository
	correlations *mockCorrelationRepository
	stock        *mockStockChecker
}

func newTestService(t *testing.T) (*CartService, *serviceMocks) {
	t.Helper()
	logger := newTestLogger()
	// Kafka producer pointed at nothing: publish failures are logged, never fatal.
	kafkaCfg := pkgkafka.DefaultProducerConfig([]string{"localhost:9092"})
	kafkaCfg.Async = true
	producer := event.NewProducer(pkgkafka.NewProducer(kafkaCfg, logger), logger)

	m := &serviceMocks{
		carts:        &mockCartRepository{},
		snapshots:    &mockSnapshotRepository{},
		correlations: &mockCorrelationRepository{},
		stock:        &mockStockChecker{},
	}
	svc := NewCartService(m.carts, m.snapshots, m.stock, producer, logger, 24*time.Hour)
	svc.now = func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) }
	return svc, m
}

func cartWithItem(t *testing.T, sessionID string) *domain.Cart {
	t.Helper()
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	cart := domain.NewCart(sessionID, now, 24*time.Hour)
	item, err := domain.NewCartItem(domain.NewCartItemInput{
		ProductID:    "prod-1",
		ProductName:  "Olive Oil 1L",
		Quantity:     2,
		VatRate:      21,
		UnitPriceTTC: 12.00,
	}, now)
	require.NoError(t, err)
	cart, err = cart.AddItem(item, now)
	require.NoError(t, err)
	cart.Version = 1
	return &cart
}

func inStock(stock int) *product.Availability {
	return &product.Availability{Available: true, Stock: stock}
}

// --- GetOrCreateCart ---

func TestGetOrCreateCart_ReturnsExisting(t *testing.T) {
	svc, m := newTestService(t)
	existing := cartWithItem(t, "sess-001")
	m.carts.On("Get", mock.Anything, "sess-001").Return(existing, nil)
	m.carts.On("Touch", mock.Anything, "sess-001").Return(nil)

	cart, err := svc.GetOrCreateCart(context.Background(), "sess-001")

	require.NoError(t, err)
	assert.Equal(t, existing.ID, cart.ID)
	m.carts.AssertExpectations(t)
}

func TestGetOrCreateCart_CreatesAndPersists(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-new").Return(nil, apperrors.NotFound("cart", "sess-new"))
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 0).Return(true, nil)

	cart, err := svc.GetOrCreateCart(context.Background(), "sess-new")

	require.NoError(t, err)
	assert.Equal(t, "sess-new", cart.SessionID)
	assert.Empty(t, cart.Items)
	assert.NotEmpty(t, cart.ID)
	m.carts.AssertExpectations(t)
}

func TestGetOrCreateCart_CreateRaceFallsBackToRead(t *testing.T) {
	svc, m := newTestService(t)
	winner := cartWithItem(t, "sess-race")
	m.carts.On("Get", mock.Anything, "sess-race").Return(nil, apperrors.NotFound("cart", "sess-race")).Once()
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 0).Return(false, nil)
	m.carts.On("Get", mock.Anything, "sess-race").Return(winner, nil).Once()

	cart, err := svc.GetOrCreateCart(context.Background(), "sess-race")

	require.NoError(t, err)
	assert.Equal(t, winner.ID, cart.ID)
	m.carts.AssertExpectations(t)
}

func TestGetOrCreateCart_EmptySessionID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetOrCreateCart(context.Background(), "")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestGetOrCreateCart_TouchFailureIsNotFatal(t *testing.T) {
	svc, m := newTestService(t)
	existing := cartWithItem(t, "sess-001")
	m.carts.On("Get", mock.Anything, "sess-001").Return(existing, nil)
	m.carts.On("Touch", mock.Anything, "sess-001").Return(assert.AnError)

	cart, err := svc.GetOrCreateCart(context.Background(), "sess-001")

	require.NoError(t, err)
	assert.NotNil(t, cart)
}

// --- AddItem ---

func validAddItemInput() AddItemInput {
	return AddItemInput{
		ProductID:    "prod-2",
		ProductName:  "Dark Chocolate",
		Quantity:     1,
		VatRate:      6,
		UnitPriceTTC: 5.00,
	}
}

func TestAddItem_Success(t *testing.T) {
	svc, m := newTestService(t)
	existing := cartWithItem(t, "sess-001")
	m.stock.On("CheckAvailability", mock.Anything, "prod-2", 1).Return(inStock(10), nil)
	m.carts.On("Get", mock.Anything, "sess-001").Return(existing, nil)
	m.carts.On("Touch", mock.Anything, "sess-001").Return(nil)
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).Return(true, nil)

	cart, err := svc.AddItem(context.Background(), "sess-001", validAddItemInput())

	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
	assert.Equal(t, 29.00, cart.Total)
	m.stock.AssertExpectations(t)
	m.carts.AssertExpectations(t)
}

func TestAddItem_CreatesCartWhenAbsent(t *testing.T) {
	svc, m := newTestService(t)
	m.stock.On("CheckAvailability", mock.Anything, "prod-2", 1).Return(inStock(10), nil)
	m.carts.On("Get", mock.Anything, "sess-new").Return(nil, apperrors.NotFound("cart", "sess-new"))
	// First write creates the empty cart, second adds the item.
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 0).Return(true, nil)
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).Return(true, nil)

	cart, err := svc.AddItem(context.Background(), "sess-new", validAddItemInput())

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "prod-2", cart.Items[0].ProductID)
}

func TestAddItem_InsufficientStock(t *testing.T) {
	svc, m := newTestService(t)
	m.stock.On("CheckAvailability", mock.Anything, "prod-2", 1).
		Return(nil, apperrors.InvalidInput("insufficient stock for product prod-2: requested 1, available 0"))

	_, err := svc.AddItem(context.Background(), "sess-001", validAddItemInput())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	m.carts.AssertNotCalled(t, "SaveIfVersion", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddItem_StockServiceDown(t *testing.T) {
	svc, m := newTestService(t)
	m.stock.On("CheckAvailability", mock.Anything, "prod-2", 1).
		Return(nil, apperrors.ServiceUnavailable("product service is unavailable"))

	_, err := svc.AddItem(context.Background(), "sess-001", validAddItemInput())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}

func TestAddItem_RetriesOnVersionConflictThenSucceeds(t *testing.T) {
	svc, m := newTestService(t)
	m.stock.On("CheckAvailability", mock.Anything, "prod-2", 1).Return(inStock(10), nil)
	m.carts.On("Touch", mock.Anything, "sess-001").Return(nil)

	first := cartWithItem(t, "sess-001")
	second := cartWithItem(t, "sess-001")
	second.Version = 2
	m.carts.On("Get", mock.Anything, "sess-001").Return(first, nil).Once()
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).Return(false, nil).Once()
	m.carts.On("Get", mock.Anything, "sess-001").Return(second, nil).Once()
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 2).Return(true, nil).Once()

	cart, err := svc.AddItem(context.Background(), "sess-001", validAddItemInput())

	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
	m.carts.AssertExpectations(t)
}

func TestAddItem_ConflictAfterRetriesExhausted(t *testing.T) {
	svc, m := newTestService(t)
	m.stock.On("CheckAvailability", mock.Anything, "prod-2", 1).Return(inStock(10), nil)
	m.carts.On("Touch", mock.Anything, "sess-001").Return(nil)
	m.carts.On("Get", mock.Anything, "sess-001").Return(cartWithItem(t, "sess-001"), nil)
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).Return(false, nil)

	_, err := svc.AddItem(context.Background(), "sess-001", validAddItemInput())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestAddItem_QuantityOverLimit(t *testing.T) {
	svc, _ := newTestService(t)
	input := validAddItemInput()
	input.Quantity = MaxQuantityPerItem + 1

	_, err := svc.AddItem(context.Background(), "sess-001", input)

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestAddItem_MergesExistingProduct(t *testing.T) {
	svc, m := newTestService(t)
	existing := cartWithItem(t, "sess-001")
	input := AddItemInput{
		ProductID:    "prod-1",
		ProductName:  "Olive Oil 1L",
		Quantity:     3,
		VatRate:      21,
		UnitPriceTTC: 12.00,
	}
	m.stock.On("CheckAvailability", mock.Anything, "prod-1", 3).Return(inStock(10), nil)
	m.carts.On("Get", mock.Anything, "sess-001").Return(existing, nil)
	m.carts.On("Touch", mock.Anything, "sess-001").Return(nil)
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).Return(true, nil)

	cart, err := svc.AddItem(context.Background(), "sess-001", input)

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestAddItem_RenewsExpiry(t *testing.T) {
	svc, m := newTestService(t)
	// Stored an hour ago, so the stored expiry trails the write we are about
	// to make by an hour.
	existing := cartWithItem(t, "sess-001")
	wantExpiry := time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC)
	m.stock.On("CheckAvailability", mock.Anything, "prod-2", 1).Return(inStock(10), nil)
	m.carts.On("Get", mock.Anything, "sess-001").Return(existing, nil)
	m.carts.On("Touch", mock.Anything, "sess-001").Return(nil)
	m.carts.On("SaveIfVersion", mock.Anything, mock.MatchedBy(func(c *domain.Cart) bool {
		return c.ExpiresAt.Equal(wantExpiry)
	}), 1).Return(true, nil)

	cart, err := svc.AddItem(context.Background(), "sess-001", validAddItemInput())

	require.NoError(t, err)
	assert.Equal(t, wantExpiry, cart.ExpiresAt, "expires_at must track the TTL the write put on the key")
	m.carts.AssertExpectations(t)
}

func TestGetOrCreateCart_SlidesExpiry(t *testing.T) {
	svc, m := newTestService(t)
	existing := cartWithItem(t, "sess-001")
	m.carts.On("Get", mock.Anything, "sess-001").Return(existing, nil)
	m.carts.On("Touch", mock.Anything, "sess-001").Return(nil)

	cart, err := svc.GetOrCreateCart(context.Background(), "sess-001")

	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC), cart.ExpiresAt)
}

// --- UpdateItemQuantity / RemoveItem ---

func TestUpdateItemQuantity_Success(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-001").Return(cartWithItem(t, "sess-001"), nil)
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).Return(true, nil)

	cart, err := svc.UpdateItemQuantity(context.Background(), "sess-001", "prod-1", 5)

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestUpdateItemQuantity_ZeroRemovesItem(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-001").Return(cartWithItem(t, "sess-001"), nil)
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).Return(true, nil)

	cart, err := svc.UpdateItemQuantity(context.Background(), "sess-001", "prod-1", 0)

	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.Total)
}

func TestUpdateItemQuantity_UnknownProduct(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-001").Return(cartWithItem(t, "sess-001"), nil)

	_, err := svc.UpdateItemQuantity(context.Background(), "sess-001", "prod-unknown", 2)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUpdateItemQuantity_CartNotFound(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-gone").Return(nil, apperrors.NotFound("cart", "sess-gone"))

	_, err := svc.UpdateItemQuantity(context.Background(), "sess-gone", "prod-1", 2)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRemoveItem_Success(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-001").Return(cartWithItem(t, "sess-001"), nil)
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).Return(true, nil)

	cart, err := svc.RemoveItem(context.Background(), "sess-001", "prod-1")

	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestRemoveItem_UnknownProduct(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-001").Return(cartWithItem(t, "sess-001"), nil)

	_, err := svc.RemoveItem(context.Background(), "sess-001", "prod-unknown")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- ClearCart ---

func TestClearCart_PreservesCheckoutData(t *testing.T) {
	svc, m := newTestService(t)
	existing := cartWithItem(t, "sess-001")
	withData := existing.UpdateCheckoutData(json.RawMessage(`{"note":"gift"}`), time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC))
	withData.Version = existing.Version
	m.carts.On("Get", mock.Anything, "sess-001").Return(&withData, nil)
	m.carts.On("SaveIfVersion", mock.Anything, mock.AnythingOfType("*domain.Cart"), 1).Return(true, nil)

	cart, err := svc.ClearCart(context.Background(), "sess-001")

	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.Total)
	assert.JSONEq(t, `{"note":"gift"}`, string(cart.CheckoutData))
}

func TestClearCart_NotFound(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-gone").Return(nil, apperrors.NotFound("cart", "sess-gone"))

	_, err := svc.ClearCart(context.Background(), "sess-gone")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- Checkout snapshot ---

var validSnapshot = json.RawMessage(`{
	"customer": {"email": "jeanne@example.com"},
	"shipping_address": {"street": "12 rue du Port", "city": "Lyon"}
}`)

func TestAttachCheckoutSnapshot_Success(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Exists", mock.Anything, "sess-001").Return(true, nil)
	m.snapshots.On("Save", mock.Anything, "sess-001", validSnapshot).Return(nil)

	err := svc.AttachCheckoutSnapshot(context.Background(), "sess-001", validSnapshot)

	require.NoError(t, err)
	m.snapshots.AssertExpectations(t)
}

func TestAttachCheckoutSnapshot_CartMissing(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Exists", mock.Anything, "sess-gone").Return(false, nil)

	err := svc.AttachCheckoutSnapshot(context.Background(), "sess-gone", validSnapshot)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAttachCheckoutSnapshot_Invalid(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name    string
		payload json.RawMessage
	}{
		{"not json", json.RawMessage(`not-json`)},
		{"missing customer", json.RawMessage(`{"shipping_address": {"city": "Lyon"}}`)},
		{"missing shipping address", json.RawMessage(`{"customer": {"email": "a@b.c"}}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.AttachCheckoutSnapshot(context.Background(), "sess-001", tt.payload)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

// --- GetCheckoutData / PrepareOrderData ---

func TestGetCheckoutData_JoinsCartAndSnapshot(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-001").Return(cartWithItem(t, "sess-001"), nil)
	m.snapshots.On("Get", mock.Anything, "sess-001").Return(validSnapshot, nil)

	data, err := svc.GetCheckoutData(context.Background(), "sess-001")

	require.NoError(t, err)
	assert.NotNil(t, data.Cart)
	assert.JSONEq(t, string(validSnapshot), string(data.Snapshot))
}

func TestGetCheckoutData_SnapshotOptional(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-001").Return(cartWithItem(t, "sess-001"), nil)
	m.snapshots.On("Get", mock.Anything, "sess-001").Return(nil, apperrors.NotFound("checkout snapshot", "sess-001"))

	data, err := svc.GetCheckoutData(context.Background(), "sess-001")

	require.NoError(t, err)
	assert.NotNil(t, data.Cart)
	assert.Nil(t, data.Snapshot)
}

func TestPrepareOrderData_Success(t *testing.T) {
	svc, m := newTestService(t)
	cart := cartWithItem(t, "sess-001")
	m.carts.On("Get", mock.Anything, "sess-001").Return(cart, nil)
	m.snapshots.On("Get", mock.Anything, "sess-001").Return(validSnapshot, nil)

	order, err := svc.PrepareOrderData(context.Background(), "sess-001")

	require.NoError(t, err)
	assert.Equal(t, "sess-001", order.SessionID)
	assert.Equal(t, cart.Total, order.Total)
	assert.Equal(t, cart.Subtotal, order.Subtotal)
	assert.Len(t, order.Items, 1)
	assert.JSONEq(t, `{"email": "jeanne@example.com"}`, string(order.Customer))
	assert.JSONEq(t, `{"street": "12 rue du Port", "city": "Lyon"}`, string(order.ShippingAddress))
	assert.Empty(t, order.BillingAddress)
}

func TestPrepareOrderData_IsReadOnly(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-001").Return(cartWithItem(t, "sess-001"), nil)
	m.snapshots.On("Get", mock.Anything, "sess-001").Return(validSnapshot, nil)

	_, err := svc.PrepareOrderData(context.Background(), "sess-001")
	require.NoError(t, err)

	// The join repeats identically: nothing was cleared or mutated.
	order, err := svc.PrepareOrderData(context.Background(), "sess-001")
	require.NoError(t, err)
	assert.Len(t, order.Items, 1)
	m.carts.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	m.carts.AssertNotCalled(t, "SaveIfVersion", mock.Anything, mock.Anything, mock.Anything)
	m.snapshots.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestPrepareOrderData_CartMissing(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-gone").Return(nil, apperrors.NotFound("cart", "sess-gone"))

	_, err := svc.PrepareOrderData(context.Background(), "sess-gone")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPrepareOrderData_SnapshotMissing(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Get", mock.Anything, "sess-001").Return(cartWithItem(t, "sess-001"), nil)
	m.snapshots.On("Get", mock.Anything, "sess-001").Return(nil, apperrors.NotFound("checkout snapshot", "sess-001"))

	_, err := svc.PrepareOrderData(context.Background(), "sess-001")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPrepareOrderData_EmptyCart(t *testing.T) {
	svc, m := newTestService(t)
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	empty := domain.NewCart("sess-001", now, 24*time.Hour)
	empty.Version = 1
	m.carts.On("Get", mock.Anything, "sess-001").Return(&empty, nil)

	_, err := svc.PrepareOrderData(context.Background(), "sess-001")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- ResolveCartSessionID ---

func TestResolveCartSessionID_LiveCart(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Exists", mock.Anything, "sess-001").Return(true, nil)

	resolved, err := svc.ResolveCartSessionID(context.Background(), "sess-001")

	require.NoError(t, err)
	assert.True(t, resolved)
}

func TestResolveCartSessionID_ExpiredCart(t *testing.T) {
	svc, m := newTestService(t)
	m.carts.On("Exists", mock.Anything, "sess-stale").Return(false, nil)

	resolved, err := svc.ResolveCartSessionID(context.Background(), "sess-stale")

	require.NoError(t, err)
	assert.False(t, resolved)
}

func TestResolveCartSessionID_Empty(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ResolveCartSessionID(context.Background(), "")

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- Migration on read ---

func TestGetOrCreateCart_MigratesLegacyCart(t *testing.T) {
	svc, m := newTestService(t)
	legacy := cartWithItem(t, "sess-legacy")
	legacy.SchemaVersion = 0
	legacy.VatBreakdown = nil
	m.carts.On("Get", mock.Anything, "sess-legacy").Return(legacy, nil)
	m.carts.On("Touch", mock.Anything, "sess-legacy").Return(nil)

	cart, err := svc.GetOrCreateCart(context.Background(), "sess-legacy")

	require.NoError(t, err)
	assert.Equal(t, domain.SchemaVersion, cart.SchemaVersion)
	assert.NotEmpty(t, cart.VatBreakdown)
}
