package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/models"
)

// Orders adapts the order functions to the fulfillment service.
type Orders struct {
	db *sql.DB
}

func NewOrders(db *sql.DB) *Orders {
	return &Orders{db: db}
}

func (o *Orders) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return GetOrder(ctx, o.db, id)
}

func (o *Orders) SaveTransition(ctx context.Context, order *models.Order, from models.OrderStatus) error {
	return UpdateOrderTransition(ctx, o.db, order, from)
}

func (o *Orders) ListOrders(ctx context.Context, status models.OrderStatus, cursor string, limit int) (*CursorPage, error) {
	return ListOrdersCursor(ctx, o.db, status, cursor, limit)
}

// ClaimNextPaid locks the oldest paid order, lets apply move it out of paid,
// and persists the result in the same transaction.
func (o *Orders) ClaimNextPaid(ctx context.Context, apply func(*models.Order) error) (*models.Order, error) {
	var claimed *models.Order

	err := database.WithTransaction(ctx, o.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order, err := GetNextPaidOrder(ctx, tx)
		if err != nil {
			return err
		}

		from := order.Status
		if err := apply(order); err != nil {
			return err
		}
		if err := UpdateOrderTransition(ctx, tx, order, from); err != nil {
			return err
		}

		claimed = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// PackingSessions is the PostgreSQL packing session store.
type PackingSessions struct {
	db *sql.DB
}

func NewPackingSessions(db *sql.DB) *PackingSessions {
	return &PackingSessions{db: db}
}

func (p *PackingSessions) Active(ctx context.Context, orderID int64) (*models.PackingSession, error) {
	return GetActivePackingSession(ctx, p.db, orderID)
}

func (p *PackingSessions) Create(ctx context.Context, orderID int64) (*models.PackingSession, error) {
	return CreatePackingSession(ctx, p.db, orderID)
}

func (p *PackingSessions) SaveProgress(ctx context.Context, id uuid.UUID, progress map[string]int, expectedVersion int) (int, error) {
	return SavePackingProgress(ctx, p.db, id, progress, expectedVersion)
}

func (p *PackingSessions) Finish(ctx context.Context, id uuid.UUID, status models.PackingSessionStatus) error {
	return FinishPackingSession(ctx, p.db, id, status)
}
