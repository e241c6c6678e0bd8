package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/safar/handloom-fulfillment/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type edge struct {
	from, to models.OrderStatus
}

var legal = map[edge]bool{
	{models.OrderStatusPending, models.OrderStatusPaid}:        true,
	{models.OrderStatusPending, models.OrderStatusCancelled}:   true,
	{models.OrderStatusPaid, models.OrderStatusInPacking}:      true,
	{models.OrderStatusPaid, models.OrderStatusCancelled}:      true,
	{models.OrderStatusInPacking, models.OrderStatusInPacking}: true,
	{models.OrderStatusInPacking, models.OrderStatusPacked}:    true,
	{models.OrderStatusInPacking, models.OrderStatusCancelled}: true,
	{models.OrderStatusPacked, models.OrderStatusShipped}:      true,
	{models.OrderStatusPacked, models.OrderStatusCancelled}:    true,
	{models.OrderStatusShipped, models.OrderStatusDelivered}:   true,
	{models.OrderStatusShipped, models.OrderStatusCancelled}:   true,
}

// fullPayload satisfies the requirements of every transition.
func fullPayload() Payload {
	return Payload{
		PaymentRef:      "pay_123",
		ShippingCompany: "Blue Dart",
		TrackingID:      "BD998877",
		Reason:          "customer request",
		PackingVerified: true,
	}
}

func TestTransitionTableClosure(t *testing.T) {
	for _, from := range models.OrderStatuses {
		for _, to := range models.OrderStatuses {
			e := edge{from, to}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				order := &models.Order{ID: 1, Status: from}

				err := Apply(order, to, fullPayload(), now)

				if legal[e] {
					require.NoError(t, err)
					assert.Equal(t, to, order.Status)
					assert.True(t, CanTransition(from, to))
					return
				}

				var invalid *InvalidTransitionError
				require.True(t, errors.As(err, &invalid), "expected InvalidTransitionError, got %v", err)
				assert.Equal(t, from, invalid.From)
				assert.Equal(t, to, invalid.To)
				assert.Equal(t, from, order.Status)
				assert.False(t, CanTransition(from, to))
			})
		}
	}
}

func TestPackedAtStampedOnlyOnPacking(t *testing.T) {
	for e := range legal {
		order := &models.Order{ID: 1, Status: e.from}
		require.NoError(t, Apply(order, e.to, fullPayload(), now))

		if e.to == models.OrderStatusPacked {
			require.NotNil(t, order.PackedAt)
			assert.Equal(t, now, *order.PackedAt)
		} else {
			assert.Nil(t, order.PackedAt, "%s->%s", e.from, e.to)
		}
	}
}

func TestSideEffects(t *testing.T) {
	t.Run("paid records payment ref", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusPending}
		require.NoError(t, Apply(order, models.OrderStatusPaid, Payload{PaymentRef: " pay_1 "}, now))
		assert.Equal(t, "pay_1", order.PaymentRef)
	})

	t.Run("shipped by courier records tracking", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusPacked}
		require.NoError(t, Apply(order, models.OrderStatusShipped, Payload{
			ShippingCompany: "India Post",
			TrackingID:      "EE123456789IN",
		}, now))

		assert.Equal(t, models.ShippingModeCourier, order.ShippingMode)
		assert.Equal(t, "India Post", order.ShippingCompany)
		assert.Equal(t, "EE123456789IN", order.TrackingID)
		require.NotNil(t, order.ShippedAt)
	})

	t.Run("manual shipping needs no tracking", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusPacked}
		require.NoError(t, Apply(order, models.OrderStatusShipped, Payload{ShippingMode: models.ShippingModeManual}, now))

		assert.Equal(t, models.ShippingModeManual, order.ShippingMode)
		assert.Empty(t, order.TrackingID)
		assert.NotNil(t, order.ShippedAt)
	})

	t.Run("delivered", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusShipped}
		require.NoError(t, Apply(order, models.OrderStatusDelivered, Payload{}, now))
		assert.NotNil(t, order.DeliveredAt)
	})

	t.Run("cancel stamps reason", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusPacked}
		require.NoError(t, Apply(order, models.OrderStatusCancelled, Payload{Reason: "  damaged in studio "}, now))

		assert.Equal(t, "damaged in studio", order.CancellationReason)
		assert.NotNil(t, order.CancelledAt)
	})

	t.Run("resume is a no-op", func(t *testing.T) {
		order := &models.Order{Status: models.OrderStatusInPacking}
		require.NoError(t, Apply(order, models.OrderStatusInPacking, Payload{}, now))
		assert.Equal(t, models.OrderStatusInPacking, order.Status)
		assert.True(t, IsResume(models.OrderStatusInPacking, models.OrderStatusInPacking))
	})
}

func TestPayloadRequirements(t *testing.T) {
	tests := []struct {
		name    string
		from    models.OrderStatus
		to      models.OrderStatus
		payload Payload
		field   string
	}{
		{"payment ref", models.OrderStatusPending, models.OrderStatusPaid, Payload{}, "payment_ref"},
		{"company", models.OrderStatusPacked, models.OrderStatusShipped, Payload{TrackingID: "X"}, "shipping_company"},
		{"tracking", models.OrderStatusPacked, models.OrderStatusShipped, Payload{ShippingCompany: "X"}, "tracking_id"},
		{"mode", models.OrderStatusPacked, models.OrderStatusShipped, Payload{ShippingMode: "drone"}, "shipping_mode"},
		{"reason", models.OrderStatusPaid, models.OrderStatusCancelled, Payload{Reason: "   "}, "reason"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := &models.Order{Status: tt.from}

			err := Apply(order, tt.to, tt.payload, now)

			var verr *validate.Error
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Contains(t, verr.Fields, tt.field)
			assert.Equal(t, tt.from, order.Status)
		})
	}
}

func TestPackingRequiresVerification(t *testing.T) {
	order := &models.Order{Status: models.OrderStatusInPacking}

	err := Apply(order, models.OrderStatusPacked, Payload{}, now)

	assert.ErrorIs(t, err, ErrPackingNotVerified)
	assert.Equal(t, models.OrderStatusInPacking, order.Status)
	assert.Nil(t, order.PackedAt)
}

func TestAllowed(t *testing.T) {
	assert.ElementsMatch(t,
		[]models.OrderStatus{models.OrderStatusShipped, models.OrderStatusCancelled},
		Allowed(models.OrderStatusPacked))
	assert.Empty(t, Allowed(models.OrderStatusDelivered))
	assert.Empty(t, Allowed(models.OrderStatusCancelled))
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, s := range models.OrderStatuses {
		if s.IsTerminal() {
			assert.Empty(t, Allowed(s), s)
		} else {
			assert.NotEmpty(t, Allowed(s), s)
		}
	}
}
