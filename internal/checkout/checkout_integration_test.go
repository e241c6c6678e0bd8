package checkout_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/safar/handloom-fulfillment/internal/checkout"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/ledger"
	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/safar/handloom-fulfillment/internal/store"
	"github.com/safar/handloom-fulfillment/internal/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var buyer = models.Customer{Name: "Anita Rao", Phone: "+91 90000 00000", Address: "4 Loom Street, Bengaluru"}

func setup(t *testing.T) (*sql.DB, *checkout.Checkout, *ledger.Ledger) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	l := ledger.New(db, zap.NewNop())
	return db, checkout.New(db, l, zap.NewNop()), l
}

func newProduct(t *testing.T, l *ledger.Ledger, name string, price int64, quantity int) *models.Product {
	t.Helper()
	product, err := l.CreateProduct(context.Background(), ledger.NewProduct{
		Name:     name,
		Price:    decimal.NewFromInt(price),
		Quantity: quantity,
	})
	if err != nil {
		t.Fatalf("Create product %s: %v", name, err)
	}
	return product
}

func countOrders(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	return n
}

func TestPlaceOrderIntegration(t *testing.T) {
	db, co, l := setup(t)
	ctx := context.Background()

	shawl := newProduct(t, l, "Indigo Shawl", 100, 50)
	runner := newProduct(t, l, "Table Runner", 200, 30)

	placement, err := co.PlaceOrder(ctx, checkout.Cart{Lines: []checkout.Line{
		{ProductID: shawl.ID, Quantity: 5},
		{ProductID: runner.ID, Quantity: 3},
	}}, buyer, "pay_001")
	if err != nil {
		t.Fatalf("Place order: %v", err)
	}

	expectedTotal := decimal.NewFromInt(100 * 5).Add(decimal.NewFromInt(200 * 3))
	if !placement.Total.Equal(expectedTotal) {
		t.Errorf("Expected total %s, got %s", expectedTotal, placement.Total)
	}

	order, err := store.GetOrder(ctx, db, placement.OrderID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if order.Status != models.OrderStatusPaid || order.PaymentRef != "pay_001" {
		t.Errorf("Unexpected order state: status=%s payment_ref=%s", order.Status, order.PaymentRef)
	}
	if len(order.Items) != 2 || order.Items[0].Barcode != shawl.Barcode {
		t.Errorf("Item snapshots not stored: %+v", order.Items)
	}

	for _, tc := range []struct {
		id   int64
		want int
	}{{shawl.ID, 45}, {runner.ID, 27}} {
		got, err := l.Quantity(ctx, tc.id)
		if err != nil {
			t.Fatalf("Get quantity: %v", err)
		}
		if got != tc.want {
			t.Errorf("Expected product %d stock %d, got %d", tc.id, tc.want, got)
		}
	}

	// renaming the product later must not touch the snapshot
	if _, err := db.Exec(`UPDATE products SET name = 'Renamed' WHERE id = $1`, shawl.ID); err != nil {
		t.Fatalf("Rename product: %v", err)
	}
	order, err = store.GetOrder(ctx, db, placement.OrderID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if order.Items[0].Name != "Indigo Shawl" {
		t.Errorf("Snapshot name changed to %q", order.Items[0].Name)
	}
}

func TestPlaceOrderInsufficientStockIntegration(t *testing.T) {
	db, co, l := setup(t)
	ctx := context.Background()

	plenty := newProduct(t, l, "Cushion", 100, 10)
	scarce := newProduct(t, l, "Dhurrie", 300, 1)

	_, err := co.PlaceOrder(ctx, checkout.Cart{Lines: []checkout.Line{
		{ProductID: plenty.ID, Quantity: 2},
		{ProductID: scarce.ID, Quantity: 2},
	}}, buyer, "pay_002")

	var stockErr *ledger.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected insufficient stock error, got: %v", err)
	}
	if stockErr.ProductID != scarce.ID || stockErr.Available != 1 {
		t.Errorf("Unexpected shortfall: %+v", stockErr)
	}

	if got, _ := l.Quantity(ctx, plenty.ID); got != 10 {
		t.Errorf("Stock should remain unchanged at 10, got %d", got)
	}
	if n := countOrders(t, db); n != 0 {
		t.Errorf("Expected no orders, got %d", n)
	}
}

func TestConcurrentPlaceOrderNeverOversells(t *testing.T) {
	db, co, l := setup(t)
	ctx := context.Background()

	product := newProduct(t, l, "Ajrakh Stole", 100, 20)

	concurrency := 15
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := co.PlaceOrder(ctx, checkout.Cart{Lines: []checkout.Line{
				{ProductID: product.ID, Quantity: 2},
			}}, buyer, "pay_concurrent")
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock), database.IsRetryable(err):
			// rejected or out of retries; either way nothing was written
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	if successCount == 0 || successCount > 10 {
		t.Errorf("Expected between 1 and 10 successful orders, got %d", successCount)
	}

	remaining, err := l.Quantity(ctx, product.ID)
	if err != nil {
		t.Fatalf("Get quantity: %v", err)
	}
	if remaining != 20-2*successCount {
		t.Errorf("Expected final stock %d, got %d", 20-2*successCount, remaining)
	}
	if n := countOrders(t, db); n != successCount {
		t.Errorf("Expected %d orders, got %d", successCount, n)
	}
}
