// Package fulfillment moves orders through their lifecycle. It is the only
// writer of order status and runs the side effects each transition owns.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/lifecycle"
	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/safar/handloom-fulfillment/internal/packing"
	"github.com/safar/handloom-fulfillment/internal/store"
	"go.uber.org/zap"
)

// ErrNotInPacking is returned for packing operations on an order that is not
// in_packing.
var ErrNotInPacking = errors.New("order is not in packing")

type OrderRepository interface {
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	// SaveTransition returns database.ErrOptimisticLockFailed when the order
	// is no longer at from or its version moved.
	SaveTransition(ctx context.Context, order *models.Order, from models.OrderStatus) error
	ListOrders(ctx context.Context, status models.OrderStatus, cursor string, limit int) (*store.CursorPage, error)
	ClaimNextPaid(ctx context.Context, apply func(*models.Order) error) (*models.Order, error)
}

type Restocker interface {
	Increment(ctx context.Context, productID int64, amount int) (int, error)
}

type Options struct {
	RestockOnCancel bool
}

type Service struct {
	orders  OrderRepository
	packing *packing.Manager
	runs    *packing.Registry
	stock   Restocker
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(orders OrderRepository, manager *packing.Manager, stock Restocker, opts Options, logger *zap.Logger) *Service {
	return &Service{
		orders:  orders,
		packing: manager,
		runs:    packing.NewRegistry(),
		stock:   stock,
		opts:    opts,
		logger:  logger.Named("fulfillment"),
		now:     time.Now,
	}
}

func (s *Service) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.orders.GetOrder(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, status models.OrderStatus, cursor string, limit int) (*store.CursorPage, error) {
	return s.orders.ListOrders(ctx, status, cursor, limit)
}

// Transition moves the order from -> to. from must match the stored status.
func (s *Service) Transition(ctx context.Context, orderID int64, from, to models.OrderStatus, payload lifecycle.Payload) (*models.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != from {
		return nil, &lifecycle.StaleStatusError{OrderID: orderID, Expected: from, Actual: order.Status}
	}

	if from == models.OrderStatusInPacking && to == models.OrderStatusPacked {
		payload.PackingVerified = s.run(ctx, order).FullyScanned()
	}

	if err := lifecycle.Apply(order, to, payload, s.now()); err != nil {
		return nil, err
	}

	if lifecycle.IsResume(from, to) {
		s.run(ctx, order)
		return order, nil
	}

	if err := s.orders.SaveTransition(ctx, order, from); err != nil {
		if errors.Is(err, database.ErrOptimisticLockFailed) {
			return nil, s.staleError(ctx, orderID, from)
		}
		return nil, fmt.Errorf("save order %d: %w", orderID, err)
	}

	s.logger.Info("Order transitioned",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Bool("terminal", to.IsTerminal()))

	s.afterTransition(ctx, order, from, to)
	return order, nil
}

func (s *Service) staleError(ctx context.Context, orderID int64, expected models.OrderStatus) error {
	current, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("reload order %d: %w", orderID, err)
	}
	return &lifecycle.StaleStatusError{OrderID: orderID, Expected: expected, Actual: current.Status}
}

// afterTransition runs side effects that follow a committed status change.
// Their failures are logged; the transition itself stands.
func (s *Service) afterTransition(ctx context.Context, order *models.Order, from, to models.OrderStatus) {
	switch to {
	case models.OrderStatusInPacking:
		s.run(ctx, order)

	case models.OrderStatusPacked:
		if err := s.packing.CompleteActive(ctx, order.ID); err != nil {
			s.logger.Warn("Failed to complete packing session",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
		s.runs.Remove(order.ID)

	case models.OrderStatusCancelled:
		if from == models.OrderStatusInPacking {
			if err := s.packing.CancelActive(ctx, order.ID); err != nil {
				s.logger.Warn("Failed to cancel packing session",
					zap.Int64("order_id", order.ID),
					zap.Error(err))
			}
			s.runs.Remove(order.ID)
		}
		if s.opts.RestockOnCancel {
			s.restock(ctx, order)
		}
	}
}

func (s *Service) restock(ctx context.Context, order *models.Order) {
	for _, item := range order.Items {
		if _, err := s.stock.Increment(ctx, item.ProductID, item.Quantity); err != nil {
			s.logger.Error("Failed to restock cancelled order line",
				zap.Int64("order_id", order.ID),
				zap.String("order_number", order.OrderNumber),
				zap.Int64("product_id", item.ProductID),
				zap.Int("quantity", item.Quantity),
				zap.Error(err))
			continue
		}
		s.logger.Info("Restocked cancelled order line",
			zap.Int64("order_id", order.ID),
			zap.Int64("product_id", item.ProductID),
			zap.Int("quantity", item.Quantity))
	}
}

// run returns the open packing run for order, opening it if this process has
// none yet.
func (s *Service) run(ctx context.Context, order *models.Order) *packing.Run {
	return s.runs.GetOrOpen(order.ID, func() *packing.Run {
		return s.packing.Open(ctx, order)
	})
}

// OpenPacking starts packing a paid order or resumes one already in packing.
func (s *Service) OpenPacking(ctx context.Context, orderID int64) (packing.View, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return packing.View{}, err
	}

	switch order.Status {
	case models.OrderStatusPaid, models.OrderStatusInPacking:
	default:
		return packing.View{}, &lifecycle.InvalidTransitionError{
			OrderID: orderID,
			From:    order.Status,
			To:      models.OrderStatusInPacking,
		}
	}

	order, err = s.Transition(ctx, orderID, order.Status, models.OrderStatusInPacking, lifecycle.Payload{})
	if err != nil {
		return packing.View{}, err
	}
	return s.run(ctx, order).View(), nil
}

// Scan applies one barcode to the order's packing run.
func (s *Service) Scan(ctx context.Context, orderID int64, barcode string) (packing.ScanReport, error) {
	run, ok := s.runs.Get(orderID)
	if !ok {
		order, err := s.orders.GetOrder(ctx, orderID)
		if err != nil {
			return packing.ScanReport{}, err
		}
		if order.Status != models.OrderStatusInPacking {
			return packing.ScanReport{}, ErrNotInPacking
		}
		run = s.run(ctx, order)
	}
	return s.packing.Scan(ctx, run, barcode), nil
}

// ConfirmPacked is the operator's confirmation once every line is scanned.
func (s *Service) ConfirmPacked(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.Transition(ctx, orderID, models.OrderStatusInPacking, models.OrderStatusPacked, lifecycle.Payload{})
}

// AbortPacking discards the current scan progress. The order stays
// in_packing and the next open starts from zero.
func (s *Service) AbortPacking(ctx context.Context, orderID int64) error {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusInPacking {
		return ErrNotInPacking
	}

	s.runs.Remove(orderID)
	if err := s.packing.CancelActive(ctx, orderID); err != nil {
		return fmt.Errorf("cancel packing session: %w", err)
	}

	s.logger.Info("Packing aborted", zap.Int64("order_id", orderID))
	return nil
}

// ClaimNext moves the oldest paid order into packing. Concurrent stations
// never claim the same order.
func (s *Service) ClaimNext(ctx context.Context) (*models.Order, packing.View, error) {
	order, err := s.orders.ClaimNextPaid(ctx, func(o *models.Order) error {
		return lifecycle.Apply(o, models.OrderStatusInPacking, lifecycle.Payload{}, s.now())
	})
	if err != nil {
		return nil, packing.View{}, err
	}

	s.logger.Info("Order claimed for packing",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))
	return order, s.run(ctx, order).View(), nil
}
