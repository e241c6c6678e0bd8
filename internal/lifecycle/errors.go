package lifecycle

import (
	"fmt"

	"github.com/safar/handloom-fulfillment/internal/models"
)

type InvalidTransitionError struct {
	OrderID int64              `json:"order_id"`
	From    models.OrderStatus `json:"from"`
	To      models.OrderStatus `json:"to"`
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: invalid transition from %s to %s", e.OrderID, e.From, e.To)
}

func (e *InvalidTransitionError) Code() string {
	return "INVALID_TRANSITION"
}

// StaleStatusError means the caller asked to transition from a status the
// order is no longer in.
type StaleStatusError struct {
	OrderID  int64              `json:"order_id"`
	Expected models.OrderStatus `json:"expected"`
	Actual   models.OrderStatus `json:"actual"`
}

func (e *StaleStatusError) Error() string {
	return fmt.Sprintf("order %d is %s, not %s", e.OrderID, e.Actual, e.Expected)
}

func (e *StaleStatusError) Code() string {
	return "STALE_STATUS"
}
