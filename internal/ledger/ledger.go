// Package ledger is the only path through which product quantities change.
//
// Every decrement is a conditional update that re-checks availability at write
// time, so concurrent callers can never drive a quantity below zero no matter
// what they validated beforehand.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/safar/handloom-fulfillment/internal/store"
	"github.com/safar/handloom-fulfillment/internal/validate"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger.Named("ledger")}
}

// Decrement removes amount units from the product's stock.
func (l *Ledger) Decrement(ctx context.Context, productID int64, amount int) (int, error) {
	return l.DecrementTx(ctx, l.db, productID, amount)
}

// DecrementTx is Decrement on a caller-owned connection or transaction.
func (l *Ledger) DecrementTx(ctx context.Context, q database.Querier, productID int64, amount int) (int, error) {
	if amount <= 0 {
		return 0, validate.Field("amount", "gt=0")
	}

	remaining, err := store.DecrementStock(ctx, q, productID, amount)
	if errors.Is(err, database.ErrInsufficientStock) {
		return remaining, &InsufficientStockError{
			ProductID: productID,
			Available: remaining,
			Requested: amount,
		}
	}
	if err != nil {
		return 0, err
	}

	l.logger.Debug("Stock decremented",
		zap.Int64("product_id", productID),
		zap.Int("amount", amount),
		zap.Int("remaining", remaining))
	return remaining, nil
}

func (l *Ledger) Increment(ctx context.Context, productID int64, amount int) (int, error) {
	return l.IncrementTx(ctx, l.db, productID, amount)
}

func (l *Ledger) IncrementTx(ctx context.Context, q database.Querier, productID int64, amount int) (int, error) {
	if amount <= 0 {
		return 0, validate.Field("amount", "gt=0")
	}

	total, err := store.IncrementStock(ctx, q, productID, amount)
	if err != nil {
		return 0, err
	}

	l.logger.Debug("Stock incremented",
		zap.Int64("product_id", productID),
		zap.Int("amount", amount),
		zap.Int("total", total))
	return total, nil
}

// MergeStock resolves a duplicate product by restocking the existing one.
func (l *Ledger) MergeStock(ctx context.Context, productID int64, amount int) (int, error) {
	total, err := l.Increment(ctx, productID, amount)
	if err != nil {
		return 0, err
	}

	l.logger.Info("Merged stock into existing product",
		zap.Int64("product_id", productID),
		zap.Int("added", amount),
		zap.Int("total", total))
	return total, nil
}

func (l *Ledger) Quantity(ctx context.Context, productID int64) (int, error) {
	return store.GetProductQuantity(ctx, l.db, productID)
}

func (l *Ledger) Product(ctx context.Context, productID int64) (*models.Product, error) {
	return store.GetProduct(ctx, l.db, productID)
}

func (l *Ledger) ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	return store.ListProducts(ctx, l.db, page, pageSize)
}

// FindDuplicate looks for an existing product with the same barcode or the
// same name (case-insensitive, trimmed). A barcode match wins over a name
// match. It returns nil when neither matches.
func (l *Ledger) FindDuplicate(ctx context.Context, name, barcode string) (*Duplicate, error) {
	if barcode = strings.TrimSpace(barcode); barcode != "" {
		product, err := store.FindProductByBarcode(ctx, l.db, barcode)
		if err != nil {
			return nil, err
		}
		if product != nil {
			return &Duplicate{Kind: DuplicateBarcode, Product: product}, nil
		}
	}

	if strings.TrimSpace(name) != "" {
		product, err := store.FindProductByName(ctx, l.db, name)
		if err != nil {
			return nil, err
		}
		if product != nil {
			return &Duplicate{Kind: DuplicateName, Product: product}, nil
		}
	}

	return nil, nil
}

type NewProduct struct {
	SKU         string          `json:"sku" validate:"max=64"`
	Name        string          `json:"name" validate:"required,max=255"`
	Barcode     string          `json:"barcode" validate:"max=64"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity" validate:"gte=0"`
}

// CreateProduct registers a product after checking for duplicates. When one is
// found nothing is written and a *DuplicateProductError is returned so the
// caller can choose between merging stock and editing the existing product.
func (l *Ledger) CreateProduct(ctx context.Context, p NewProduct) (*models.Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Barcode = strings.TrimSpace(p.Barcode)

	if err := validate.Struct(p); err != nil {
		return nil, err
	}
	if p.Price.IsNegative() {
		return nil, validate.Field("price", "gte=0")
	}
	if looksLikeEAN13(p.Barcode) && !ValidEAN13(p.Barcode) {
		return nil, validate.Field("barcode", "ean13")
	}

	dup, err := l.FindDuplicate(ctx, p.Name, p.Barcode)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		return nil, &DuplicateProductError{Duplicate: *dup}
	}

	product, err := l.insertProduct(ctx, p)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.String("barcode", product.Barcode),
		zap.Int("quantity", product.Quantity))
	return product, nil
}

// maxBarcodeAttempts bounds retries when a generated barcode is already taken.
const maxBarcodeAttempts = 5

func (l *Ledger) insertProduct(ctx context.Context, p NewProduct) (*models.Product, error) {
	generated := p.Barcode == ""

	for attempt := 1; ; attempt++ {
		if generated {
			code, err := GenerateBarcode()
			if err != nil {
				return nil, err
			}
			p.Barcode = code
		}

		product, err := store.CreateProduct(ctx, l.db, store.CreateProductParams{
			SKU:         p.SKU,
			Name:        p.Name,
			Barcode:     p.Barcode,
			Description: p.Description,
			Price:       p.Price,
			Quantity:    p.Quantity,
		})
		if err == nil {
			return product, nil
		}
		if !database.IsUniqueViolation(err, "products_barcode_key") {
			return nil, err
		}

		if generated {
			if attempt == maxBarcodeAttempts {
				return nil, fmt.Errorf("create product: no free barcode after %d attempts: %w", attempt, err)
			}
			l.logger.Debug("Generated barcode already taken",
				zap.String("barcode", p.Barcode),
				zap.Int("attempt", attempt))
			continue
		}

		// Lost a race with a concurrent insert of the same barcode.
		dup, findErr := l.FindDuplicate(ctx, "", p.Barcode)
		if findErr == nil && dup != nil {
			return nil, &DuplicateProductError{Duplicate: *dup}
		}
		return nil, fmt.Errorf("create product: %w", err)
	}
}
