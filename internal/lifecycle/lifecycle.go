// Package lifecycle holds the order status transition table and the side
// effects each transition has on the order record.
package lifecycle

import (
	"errors"
	"strings"
	"time"

	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/safar/handloom-fulfillment/internal/validate"
)

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:   {models.OrderStatusPaid, models.OrderStatusCancelled},
	models.OrderStatusPaid:      {models.OrderStatusInPacking, models.OrderStatusCancelled},
	models.OrderStatusInPacking: {models.OrderStatusPacked, models.OrderStatusCancelled},
	models.OrderStatusPacked:    {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:   {models.OrderStatusDelivered, models.OrderStatusCancelled},
}

// ErrPackingNotVerified is returned for in_packing -> packed when the scan
// reconciliation has not reported every line complete.
var ErrPackingNotVerified = errors.New("packing not verified: not every item has been scanned")

// Payload carries the data a transition needs.
type Payload struct {
	PaymentRef      string              `json:"payment_ref,omitempty"`
	ShippingCompany string              `json:"shipping_company,omitempty"`
	TrackingID      string              `json:"tracking_id,omitempty"`
	ShippingMode    models.ShippingMode `json:"shipping_mode,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	// PackingVerified is set by the packing station once every line is scanned
	// and the operator has confirmed.
	PackingVerified bool `json:"-"`
}

func CanTransition(from, to models.OrderStatus) bool {
	if from == models.OrderStatusInPacking && to == models.OrderStatusInPacking {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Allowed lists the statuses reachable from from.
func Allowed(from models.OrderStatus) []models.OrderStatus {
	return append([]models.OrderStatus(nil), transitions[from]...)
}

// IsResume reports the idempotent re-entry into packing.
func IsResume(from, to models.OrderStatus) bool {
	return from == models.OrderStatusInPacking && to == models.OrderStatusInPacking
}

// Apply moves order to status to and stamps the fields that transition owns.
// The order is left untouched when an error is returned.
func Apply(order *models.Order, to models.OrderStatus, p Payload, now time.Time) error {
	from := order.Status
	if !CanTransition(from, to) {
		return &InvalidTransitionError{OrderID: order.ID, From: from, To: to}
	}
	if IsResume(from, to) {
		return nil
	}

	stamp := now.UTC()

	switch to {
	case models.OrderStatusPaid:
		ref := strings.TrimSpace(p.PaymentRef)
		if ref == "" {
			return validate.Field("payment_ref", "required")
		}
		order.PaymentRef = ref

	case models.OrderStatusPacked:
		if !p.PackingVerified {
			return ErrPackingNotVerified
		}
		order.PackedAt = &stamp

	case models.OrderStatusShipped:
		mode := p.ShippingMode
		if mode == "" {
			mode = models.ShippingModeCourier
		}
		switch mode {
		case models.ShippingModeCourier:
			company := strings.TrimSpace(p.ShippingCompany)
			tracking := strings.TrimSpace(p.TrackingID)
			if company == "" {
				return validate.Field("shipping_company", "required")
			}
			if tracking == "" {
				return validate.Field("tracking_id", "required")
			}
			order.ShippingCompany = company
			order.TrackingID = tracking
		case models.ShippingModeManual:
			order.ShippingCompany = strings.TrimSpace(p.ShippingCompany)
			order.TrackingID = ""
		default:
			return validate.Field("shipping_mode", "oneof=courier manual")
		}
		order.ShippingMode = mode
		order.ShippedAt = &stamp

	case models.OrderStatusDelivered:
		order.DeliveredAt = &stamp

	case models.OrderStatusCancelled:
		reason := strings.TrimSpace(p.Reason)
		if reason == "" {
			return validate.Field("reason", "required")
		}
		order.CancellationReason = reason
		order.CancelledAt = &stamp
	}

	order.Status = to
	return nil
}
