package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/lifecycle"
	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/safar/handloom-fulfillment/internal/packing"
	"github.com/safar/handloom-fulfillment/internal/reconcile"
	"github.com/safar/handloom-fulfillment/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOrders struct {
	mu     sync.Mutex
	orders map[int64]*models.Order
	// bumpOnSave simulates a concurrent writer winning the update.
	bumpOnSave bool
}

func (f *fakeOrders) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (f *fakeOrders) SaveTransition(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.orders[order.ID]
	if f.bumpOnSave {
		f.bumpOnSave = false
		stored.Status = models.OrderStatusCancelled
		stored.Version++
	}
	if stored.Status != from || stored.Version != order.Version {
		return database.ErrOptimisticLockFailed
	}
	order.Version++
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeOrders) ListOrders(ctx context.Context, status models.OrderStatus, cursor string, limit int) (*store.CursorPage, error) {
	return &store.CursorPage{}, nil
}

func (f *fakeOrders) ClaimNextPaid(ctx context.Context, apply func(*models.Order) error) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		if order.Status != models.OrderStatusPaid {
			continue
		}
		if err := apply(order); err != nil {
			return nil, err
		}
		order.Version++
		cp := *order
		return &cp, nil
	}
	return nil, database.ErrOrderNotFound
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.PackingSession
	active   map[int64]uuid.UUID
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[uuid.UUID]*models.PackingSession),
		active:   make(map[int64]uuid.UUID),
	}
}

func (f *fakeSessions) Active(ctx context.Context, orderID int64) (*models.PackingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.active[orderID]
	if !ok {
		return nil, database.ErrSessionNotFound
	}
	cp := *f.sessions[id]
	return &cp, nil
}

func (f *fakeSessions) Create(ctx context.Context, orderID int64) (*models.PackingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[orderID]; ok {
		return nil, database.ErrSessionConflict
	}
	s := &models.PackingSession{
		ID:           uuid.New(),
		OrderID:      orderID,
		Status:       models.PackingSessionActive,
		ScanProgress: map[string]int{},
		Version:      1,
	}
	f.sessions[s.ID] = s
	f.active[orderID] = s.ID
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) SaveProgress(ctx context.Context, id uuid.UUID, progress map[string]int, expectedVersion int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	if !s.IsActive() {
		return 0, database.ErrSessionNotActive
	}
	if s.Version != expectedVersion {
		return 0, database.ErrSessionConflict
	}
	s.ScanProgress = progress
	s.Version++
	return s.Version, nil
}

func (f *fakeSessions) Finish(ctx context.Context, id uuid.UUID, status models.PackingSessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return database.ErrSessionNotFound
	}
	if !s.IsActive() {
		return database.ErrSessionNotActive
	}
	s.Status = status
	delete(f.active, s.OrderID)
	return nil
}

type fakeStock struct {
	added map[int64]int
	fail  bool
}

func (f *fakeStock) Increment(ctx context.Context, productID int64, amount int) (int, error) {
	if f.fail {
		return 0, errors.New("db down")
	}
	f.added[productID] += amount
	return f.added[productID], nil
}

type fixture struct {
	svc      *Service
	orders   *fakeOrders
	sessions *fakeSessions
	stock    *fakeStock
}

func newFixture(t *testing.T, opts Options, orders ...*models.Order) *fixture {
	t.Helper()
	f := &fixture{
		orders:   &fakeOrders{orders: make(map[int64]*models.Order)},
		sessions: newFakeSessions(),
		stock:    &fakeStock{added: make(map[int64]int)},
	}
	for _, o := range orders {
		f.orders.orders[o.ID] = o
	}
	logger := zap.NewNop()
	f.svc = NewService(f.orders, packing.NewManager(f.sessions, logger), f.stock, opts, logger)
	f.svc.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func paidOrder() *models.Order {
	return &models.Order{
		ID:          1,
		OrderNumber: "ORD-1",
		Status:      models.OrderStatusPaid,
		Version:     1,
		Items: []models.OrderItem{
			{ID: 10, ProductID: 100, Name: "Indigo Shawl", Barcode: "A1", Quantity: 2},
			{ID: 11, ProductID: 101, Name: "Table Runner", Barcode: "B1", Quantity: 1},
		},
	}
}

func TestPackingScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, paidOrder())

	view, err := f.svc.OpenPacking(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Remaining)
	require.NotNil(t, view.SessionID)

	stored, _ := f.orders.GetOrder(ctx, 1)
	assert.Equal(t, models.OrderStatusInPacking, stored.Status)

	for _, code := range []string{"A1", "A1", "B1"} {
		report, err := f.svc.Scan(ctx, 1, code)
		require.NoError(t, err)
		assert.Equal(t, reconcile.Accepted, report.Outcome)
		assert.True(t, report.Persisted)
	}

	report, err := f.svc.Scan(ctx, 1, "A1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.AlreadyComplete, report.Outcome)
	report, err = f.svc.Scan(ctx, 1, "Z9")
	require.NoError(t, err)
	assert.Equal(t, reconcile.UnknownItem, report.Outcome)

	order, err := f.svc.ConfirmPacked(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPacked, order.Status)
	require.NotNil(t, order.PackedAt)

	assert.Equal(t, models.PackingSessionCompleted, f.sessions.sessions[*view.SessionID].Status)
	_, open := f.svc.runs.Get(1)
	assert.False(t, open)
}

func TestConfirmPackedRequiresFullScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, paidOrder())

	_, err := f.svc.OpenPacking(ctx, 1)
	require.NoError(t, err)
	_, err = f.svc.Scan(ctx, 1, "A1")
	require.NoError(t, err)

	_, err = f.svc.ConfirmPacked(ctx, 1)
	assert.ErrorIs(t, err, lifecycle.ErrPackingNotVerified)

	stored, _ := f.orders.GetOrder(ctx, 1)
	assert.Equal(t, models.OrderStatusInPacking, stored.Status)
	assert.Nil(t, stored.PackedAt)
}

func TestConfirmPackedAfterRestartUsesPersistedProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, paidOrder())

	_, err := f.svc.OpenPacking(ctx, 1)
	require.NoError(t, err)
	for _, code := range []string{"A1", "B1", "A1"} {
		_, err := f.svc.Scan(ctx, 1, code)
		require.NoError(t, err)
	}

	// a fresh service shares the stores but has no in-memory runs
	restarted := NewService(f.orders, packing.NewManager(f.sessions, zap.NewNop()), f.stock, Options{}, zap.NewNop())

	order, err := restarted.ConfirmPacked(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPacked, order.Status)
}

func TestStaleFromIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, paidOrder())

	_, err := f.svc.Transition(ctx, 1, models.OrderStatusPacked, models.OrderStatusShipped, lifecycle.Payload{
		ShippingCompany: "Delhivery",
		TrackingID:      "DL1",
	})

	var stale *lifecycle.StaleStatusError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, models.OrderStatusPaid, stale.Actual)
}

func TestConcurrentWriterSurfacesAsStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, paidOrder())
	f.orders.bumpOnSave = true

	_, err := f.svc.Transition(ctx, 1, models.OrderStatusPaid, models.OrderStatusInPacking, lifecycle.Payload{})

	var stale *lifecycle.StaleStatusError
	require.True(t, errors.As(err, &stale))
	assert.Equal(t, models.OrderStatusCancelled, stale.Actual)
}

func TestInvalidTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, paidOrder())

	_, err := f.svc.Transition(ctx, 1, models.OrderStatusPaid, models.OrderStatusDelivered, lifecycle.Payload{})

	var invalid *lifecycle.InvalidTransitionError
	require.True(t, errors.As(err, &invalid))
	stored, _ := f.orders.GetOrder(ctx, 1)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
}

func TestCancelDuringPacking(t *testing.T) {
	ctx := context.Background()

	t.Run("no restock by default", func(t *testing.T) {
		f := newFixture(t, Options{}, paidOrder())
		view, err := f.svc.OpenPacking(ctx, 1)
		require.NoError(t, err)

		order, err := f.svc.Transition(ctx, 1, models.OrderStatusInPacking, models.OrderStatusCancelled,
			lifecycle.Payload{Reason: "customer request"})
		require.NoError(t, err)

		assert.Equal(t, "customer request", order.CancellationReason)
		assert.NotNil(t, order.CancelledAt)
		assert.Equal(t, models.PackingSessionCancelled, f.sessions.sessions[*view.SessionID].Status)
		assert.Empty(t, f.stock.added)
	})

	t.Run("restock when enabled", func(t *testing.T) {
		f := newFixture(t, Options{RestockOnCancel: true}, paidOrder())

		_, err := f.svc.Transition(ctx, 1, models.OrderStatusPaid, models.OrderStatusCancelled,
			lifecycle.Payload{Reason: "out of dye"})
		require.NoError(t, err)

		assert.Equal(t, map[int64]int{100: 2, 101: 1}, f.stock.added)
	})

	t.Run("restock failure does not undo cancel", func(t *testing.T) {
		f := newFixture(t, Options{RestockOnCancel: true}, paidOrder())
		f.stock.fail = true

		order, err := f.svc.Transition(ctx, 1, models.OrderStatusPaid, models.OrderStatusCancelled,
			lifecycle.Payload{Reason: "fraud"})
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusCancelled, order.Status)
	})
}

func TestOpenPackingIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, paidOrder())

	first, err := f.svc.OpenPacking(ctx, 1)
	require.NoError(t, err)
	_, err = f.svc.Scan(ctx, 1, "A1")
	require.NoError(t, err)

	second, err := f.svc.OpenPacking(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, 2, second.Remaining)
}

func TestOpenPackingRejectsOtherStatuses(t *testing.T) {
	ctx := context.Background()
	order := paidOrder()
	order.Status = models.OrderStatusShipped
	f := newFixture(t, Options{}, order)

	_, err := f.svc.OpenPacking(ctx, 1)

	var invalid *lifecycle.InvalidTransitionError
	assert.True(t, errors.As(err, &invalid))
}

func TestScanRequiresInPacking(t *testing.T) {
	f := newFixture(t, Options{}, paidOrder())

	_, err := f.svc.Scan(context.Background(), 1, "A1")
	assert.ErrorIs(t, err, ErrNotInPacking)
}

func TestAbortPackingResetsProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, paidOrder())

	first, err := f.svc.OpenPacking(ctx, 1)
	require.NoError(t, err)
	_, err = f.svc.Scan(ctx, 1, "A1")
	require.NoError(t, err)

	require.NoError(t, f.svc.AbortPacking(ctx, 1))
	stored, _ := f.orders.GetOrder(ctx, 1)
	assert.Equal(t, models.OrderStatusInPacking, stored.Status)

	second, err := f.svc.OpenPacking(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, *first.SessionID, *second.SessionID)
	assert.Equal(t, 3, second.Remaining)
}

func TestClaimNext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{}, paidOrder())

	order, view, err := f.svc.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInPacking, order.Status)
	assert.Equal(t, 3, view.Remaining)

	_, _, err = f.svc.ClaimNext(ctx)
	assert.ErrorIs(t, err, database.ErrOrderNotFound)
}
