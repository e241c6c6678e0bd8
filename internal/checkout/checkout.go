// Package checkout turns a cart into a paid order. Stock is verified under row
// locks and decremented through the ledger in the same transaction that
// inserts the order, so either both happen or neither does.
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/ledger"
	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/safar/handloom-fulfillment/internal/store"
	"github.com/safar/handloom-fulfillment/internal/validate"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrPostCreateDecrement means stock ran out between the availability check
// and the decrement. The order insert is rolled back with it.
var ErrPostCreateDecrement = errors.New("stock decrement failed after order was created")

type Line struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gt=0"`
	// Price is the unit price the customer saw. Zero means the current product price.
	Price decimal.Decimal `json:"price"`
}

type Cart struct {
	Lines []Line `json:"lines" validate:"required,min=1,dive"`
}

type placeRequest struct {
	Cart       Cart
	Customer   models.Customer
	PaymentRef string `validate:"required,max=200"`
}

type Placement struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	Total       decimal.Decimal `json:"total"`
}

type QuoteLine struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Available int             `json:"available"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type Quote struct {
	Lines []QuoteLine     `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

type Checkout struct {
	db     *sql.DB
	ledger *ledger.Ledger
	logger *zap.Logger
}

func New(db *sql.DB, l *ledger.Ledger, logger *zap.Logger) *Checkout {
	return &Checkout{db: db, ledger: l, logger: logger.Named("checkout")}
}

// Quote checks the cart against current stock without reserving anything.
func (c *Checkout) Quote(ctx context.Context, cart Cart) (*Quote, error) {
	if err := validateCart(cart); err != nil {
		return nil, err
	}
	lines := mergeLines(cart.Lines)

	products, err := store.GetProducts(ctx, c.db, productIDs(lines))
	if err != nil {
		return nil, err
	}
	if err := checkAvailability(lines, products); err != nil {
		return nil, err
	}

	quote := &Quote{Lines: make([]QuoteLine, len(lines)), Total: decimal.Zero}
	for i, line := range lines {
		product := products[line.ProductID]
		price := unitPrice(line, product)
		subtotal := price.Mul(decimal.NewFromInt(int64(line.Quantity)))

		quote.Lines[i] = QuoteLine{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			Available: product.Quantity,
			UnitPrice: price,
			Subtotal:  subtotal,
		}
		quote.Total = quote.Total.Add(subtotal)
	}
	return quote, nil
}

// PlaceOrder creates a paid order for cart and takes its stock.
func (c *Checkout) PlaceOrder(ctx context.Context, cart Cart, customer models.Customer, paymentRef string) (*Placement, error) {
	req := placeRequest{
		Cart:       cart,
		Customer:   trimCustomer(customer),
		PaymentRef: strings.TrimSpace(paymentRef),
	}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if err := validatePrices(cart); err != nil {
		return nil, err
	}
	lines := mergeLines(cart.Lines)

	var placement *Placement
	err := database.WithRetry(ctx, c.db, database.CheckoutTxOptions(), func(tx *sql.Tx) error {
		products, err := store.LockProducts(ctx, tx, productIDs(lines))
		if err != nil {
			return err
		}
		if err := checkAvailability(lines, products); err != nil {
			return err
		}

		order := snapshot(lines, products, req.Customer, req.PaymentRef)
		if err := store.InsertOrder(ctx, tx, order); err != nil {
			return err
		}

		for _, item := range order.Items {
			if _, err := c.ledger.DecrementTx(ctx, tx, item.ProductID, item.Quantity); err != nil {
				c.logger.Error("Stock decrement failed after order insert",
					zap.String("order_number", order.OrderNumber),
					zap.Int64("product_id", item.ProductID),
					zap.Int("quantity", item.Quantity),
					zap.Error(err))
				return fmt.Errorf("%w: %w", ErrPostCreateDecrement, err)
			}
		}

		placement = &Placement{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Total:       order.TotalAmount,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Order placed",
		zap.Int64("order_id", placement.OrderID),
		zap.String("order_number", placement.OrderNumber),
		zap.String("total", placement.Total.StringFixed(2)),
		zap.Int("lines", len(lines)))
	return placement, nil
}

func validateCart(cart Cart) error {
	if err := validate.Struct(cart); err != nil {
		return err
	}
	return validatePrices(cart)
}

func validatePrices(cart Cart) error {
	for i, line := range cart.Lines {
		if line.Price.IsNegative() {
			return validate.Field(fmt.Sprintf("Cart.Lines[%d].Price", i), "gte=0")
		}
	}
	return nil
}

func trimCustomer(c models.Customer) models.Customer {
	return models.Customer{
		Name:    strings.TrimSpace(c.Name),
		Phone:   strings.TrimSpace(c.Phone),
		Email:   strings.TrimSpace(c.Email),
		Address: strings.TrimSpace(c.Address),
	}
}

// mergeLines folds repeated products into one line, keeping first-seen order
// and the first line's price.
func mergeLines(lines []Line) []Line {
	index := make(map[int64]int, len(lines))
	merged := make([]Line, 0, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}

func productIDs(lines []Line) []int64 {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	return ids
}

// checkAvailability fails on the first line in cart order that cannot be met.
func checkAvailability(lines []Line, products map[int64]*models.Product) error {
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return fmt.Errorf("product %d: %w", line.ProductID, database.ErrProductNotFound)
		}
		if product.Quantity < line.Quantity {
			return &ledger.InsufficientStockError{
				ProductID: line.ProductID,
				Available: product.Quantity,
				Requested: line.Quantity,
			}
		}
	}
	return nil
}

func unitPrice(line Line, product *models.Product) decimal.Decimal {
	if line.Price.IsZero() {
		return product.Price
	}
	return line.Price
}

func snapshot(lines []Line, products map[int64]*models.Product, customer models.Customer, paymentRef string) *models.Order {
	order := &models.Order{
		OrderNumber: store.GenerateOrderNumber(),
		Status:      models.OrderStatusPaid,
		Customer:    customer,
		PaymentRef:  paymentRef,
		TotalAmount: decimal.Zero,
		Items:       make([]models.OrderItem, len(lines)),
	}

	for i, line := range lines {
		product := products[line.ProductID]
		price := unitPrice(line, product)
		subtotal := price.Mul(decimal.NewFromInt(int64(line.Quantity)))

		order.Items[i] = models.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Barcode:   product.Barcode,
			Quantity:  line.Quantity,
			UnitPrice: price,
			Subtotal:  subtotal,
		}
		order.TotalAmount = order.TotalAmount.Add(subtotal)
	}
	return order
}
