package ledger

import (
	"fmt"

	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/models"
)

// InsufficientStockError reports a requested quantity above what is available.
// It matches database.ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
	Requested int   `json:"requested"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == database.ErrInsufficientStock
}

func (e *InsufficientStockError) Code() string {
	return "INSUFFICIENT_STOCK"
}

type DuplicateKind string

const (
	DuplicateName    DuplicateKind = "name"
	DuplicateBarcode DuplicateKind = "barcode"
)

type Duplicate struct {
	Kind    DuplicateKind   `json:"duplicate_type"`
	Product *models.Product `json:"product"`
}

// DuplicateProductError is returned instead of creating a product that
// already exists.
type DuplicateProductError struct {
	Duplicate
}

func (e *DuplicateProductError) Error() string {
	return fmt.Sprintf("product with the same %s already exists (id %d)", e.Kind, e.Product.ID)
}

func (e *DuplicateProductError) Code() string {
	return "DUPLICATE_PRODUCT"
}
