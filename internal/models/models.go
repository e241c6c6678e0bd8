package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"id"`
	SKU         string          `json:"sku,omitempty"`
	Name        string          `json:"name"`
	Barcode     string          `json:"barcode"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusInPacking OrderStatus = "in_packing"
	OrderStatusPacked    OrderStatus = "packed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusInPacking,
	OrderStatusPacked,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

func (s OrderStatus) IsValid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) String() string {
	return string(s)
}

type ShippingMode string

const (
	ShippingModeCourier ShippingMode = "courier"
	// ShippingModeManual covers hand delivery and in-store pickup; no tracking is recorded.
	ShippingModeManual ShippingMode = "manual"
)

type Customer struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"required,max=40"`
	Email   string `json:"email,omitempty" validate:"omitempty,email"`
	Address string `json:"address" validate:"required,max=1000"`
}

type Order struct {
	ID                 int64           `json:"id"`
	OrderNumber        string          `json:"order_number"`
	Status             OrderStatus     `json:"status"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Customer           Customer        `json:"customer"`
	PaymentRef         string          `json:"payment_ref,omitempty"`
	TrackingID         string          `json:"tracking_id,omitempty"`
	ShippingCompany    string          `json:"shipping_company,omitempty"`
	ShippingMode       ShippingMode    `json:"shipping_mode,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	PackedAt           *time.Time      `json:"packed_at,omitempty"`
	ShippedAt          *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt        *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Version            int             `json:"version"`
	Items              []OrderItem     `json:"items,omitempty"`
}

// OrderItem is the line snapshot taken at checkout. It is never refreshed from the product.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Barcode   string          `json:"barcode,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

// Key identifies the line inside packing progress maps.
func (i OrderItem) Key() string {
	return strconv.FormatInt(i.ID, 10)
}

type PackingSessionStatus string

const (
	PackingSessionActive    PackingSessionStatus = "active"
	PackingSessionCompleted PackingSessionStatus = "completed"
	PackingSessionCancelled PackingSessionStatus = "cancelled"
)

type PackingSession struct {
	ID           uuid.UUID            `json:"id"`
	OrderID      int64                `json:"order_id"`
	Status       PackingSessionStatus `json:"status"`
	ScanProgress map[string]int       `json:"scan_progress"`
	Version      int                  `json:"version"`
	StartedAt    time.Time            `json:"started_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	CancelledAt  *time.Time           `json:"cancelled_at,omitempty"`
}

func (s *PackingSession) IsActive() bool {
	return s.Status == PackingSessionActive
}
