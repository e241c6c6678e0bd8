package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/models"
)

const orderColumns = `id, order_number, status, total_amount,
	customer_name, customer_phone, customer_email, customer_address,
	payment_ref, tracking_id, shipping_company, shipping_mode, cancellation_reason,
	packed_at, shipped_at, delivered_at, cancelled_at,
	created_at, updated_at, version`

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalAmount,
		&order.Customer.Name,
		&order.Customer.Phone,
		&order.Customer.Email,
		&order.Customer.Address,
		&order.PaymentRef,
		&order.TrackingID,
		&order.ShippingCompany,
		&order.ShippingMode,
		&order.CancellationReason,
		&order.PackedAt,
		&order.ShippedAt,
		&order.DeliveredAt,
		&order.CancelledAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GenerateOrderNumber returns a human-readable order number such as
// ORD-20260314-9F2C41AB.
func GenerateOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}

// InsertOrder writes the order row and its item snapshots, filling in the
// generated ids and timestamps on the passed values.
func InsertOrder(ctx context.Context, q database.Querier, order *models.Order) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO orders (order_number, status, total_amount,
			customer_name, customer_phone, customer_email, customer_address,
			payment_ref, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW(), 1)
		 RETURNING id, created_at, updated_at, version`,
		order.OrderNumber, order.Status, order.TotalAmount,
		order.Customer.Name, order.Customer.Phone, order.Customer.Email, order.Customer.Address,
		order.PaymentRef,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt, &order.Version)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		err := q.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, position, name, barcode, quantity, unit_price, subtotal, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			 RETURNING id, created_at`,
			order.ID, item.ProductID, i, item.Name, item.Barcode, item.Quantity, item.UnitPrice, item.Subtotal,
		).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}

	return nil
}

func GetOrder(ctx context.Context, q database.Querier, id int64) (*models.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := getOrderItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func getOrderItems(ctx context.Context, q database.Querier, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, name, barcode, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Name,
			&item.Barcode,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// UpdateOrderTransition persists the lifecycle fields of order. The row is only
// touched while it still has status from and the version the caller read;
// otherwise ErrOptimisticLockFailed is returned.
func UpdateOrderTransition(ctx context.Context, q database.Querier, order *models.Order, from models.OrderStatus) error {
	err := q.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $1,
		     payment_ref = $2,
		     tracking_id = $3,
		     shipping_company = $4,
		     shipping_mode = $5,
		     cancellation_reason = $6,
		     packed_at = $7,
		     shipped_at = $8,
		     delivered_at = $9,
		     cancelled_at = $10,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $11
		   AND status = $12
		   AND version = $13
		 RETURNING version, updated_at`,
		order.Status,
		order.PaymentRef,
		order.TrackingID,
		order.ShippingCompany,
		order.ShippingMode,
		order.CancellationReason,
		order.PackedAt,
		order.ShippedAt,
		order.DeliveredAt,
		order.CancelledAt,
		order.ID,
		from,
		order.Version,
	).Scan(&order.Version, &order.UpdatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return database.ErrOptimisticLockFailed
		}
		return fmt.Errorf("update order status: %w", err)
	}

	return nil
}

func ListOrdersCursor(ctx context.Context, q database.Querier, status models.OrderStatus, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1 = '' OR status = $1)
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, status, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// GetNextPaidOrder returns the oldest paid order not locked by another packing
// station, holding its row lock for the rest of tx.
func GetNextPaidOrder(ctx context.Context, tx *sql.Tx) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1
		 ORDER BY created_at, id
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		models.OrderStatusPaid))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get next paid order: %w", err)
	}

	items, err := getOrderItems(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}
