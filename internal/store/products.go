package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, COALESCE(sku, ''), name, barcode, description, price, quantity, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Barcode,
		&product.Description,
		&product.Price,
		&product.Quantity,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}
	return product, nil
}

type CreateProductParams struct {
	SKU         string
	Name        string
	Barcode     string
	Description string
	Price       decimal.Decimal
	Quantity    int
}

func CreateProduct(ctx context.Context, q database.Querier, p CreateProductParams) (*models.Product, error) {
	query := `
		INSERT INTO products (sku, name, barcode, description, price, quantity, created_at, updated_at, version)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(q.QueryRowContext(ctx, query,
		p.SKU, p.Name, p.Barcode, p.Description, p.Price, p.Quantity))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q database.Querier, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// GetProducts reads the given products without locking them.
func GetProducts(ctx context.Context, q database.Querier, ids []int64) (map[int64]*models.Product, error) {
	return queryProducts(ctx, q, `SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id`, ids)
}

// LockProducts takes row locks on the given products in id order, so concurrent
// checkouts touching overlapping products always lock in the same sequence.
func LockProducts(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]*models.Product, error) {
	products, err := queryProducts(ctx, tx, `SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	return products, nil
}

func queryProducts(ctx context.Context, q database.Querier, query string, ids []int64) (map[int64]*models.Product, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rows, err := q.QueryContext(ctx, query, pq.Array(sorted))
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make(map[int64]*models.Product, len(sorted))
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[product.ID] = product
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

func GetProductQuantity(ctx context.Context, q database.Querier, id int64) (int, error) {
	var quantity int
	err := q.QueryRowContext(ctx, `SELECT quantity FROM products WHERE id = $1`, id).Scan(&quantity)
	if err != nil {
		if database.IsNoRows(err) {
			return 0, database.ErrProductNotFound
		}
		return 0, fmt.Errorf("get product quantity: %w", err)
	}
	return quantity, nil
}

// DecrementStock subtracts quantity only when enough stock remains at write
// time. On shortfall it returns the quantity observed afterwards together with
// database.ErrInsufficientStock.
func DecrementStock(ctx context.Context, q database.Querier, productID int64, quantity int) (int, error) {
	var remaining int
	err := q.QueryRowContext(ctx,
		`UPDATE products
		 SET quantity = quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND quantity >= $1
		 RETURNING quantity`,
		quantity, productID).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !database.IsNoRows(err) {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}

	available, err := GetProductQuantity(ctx, q, productID)
	if err != nil {
		return 0, err
	}
	return available, database.ErrInsufficientStock
}

func IncrementStock(ctx context.Context, q database.Querier, productID int64, quantity int) (int, error) {
	var total int
	err := q.QueryRowContext(ctx,
		`UPDATE products
		 SET quantity = quantity + $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		 RETURNING quantity`,
		quantity, productID).Scan(&total)
	if err != nil {
		if database.IsNoRows(err) {
			return 0, database.ErrProductNotFound
		}
		return 0, fmt.Errorf("increment stock: %w", err)
	}
	return total, nil
}

func FindProductByBarcode(ctx context.Context, q database.Querier, barcode string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE barcode = $1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, barcode))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find product by barcode: %w", err)
	}
	return product, nil
}

// FindProductByName matches names case-insensitively, ignoring surrounding whitespace.
func FindProductByName(ctx context.Context, q database.Querier, name string) (*models.Product, error) {
	query := `SELECT ` + productColumns + `
		FROM products
		WHERE LOWER(TRIM(name)) = $1
		ORDER BY id
		LIMIT 1`

	product, err := scanProduct(q.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(name))))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find product by name: %w", err)
	}
	return product, nil
}

func ListProducts(ctx context.Context, q database.Querier, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := q.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}
