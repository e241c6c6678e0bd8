// Package packing keeps packing runs resumable. A Run pairs the in-memory
// reconciliation engine with its persisted session; the engine stays
// authoritative for the run even when saving progress fails.
package packing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/models"
	"github.com/safar/handloom-fulfillment/internal/reconcile"
	"go.uber.org/zap"
)

// SessionStore persists packing sessions. Implementations guarantee at most
// one active session per order.
type SessionStore interface {
	// Active returns database.ErrSessionNotFound when the order has no active session.
	Active(ctx context.Context, orderID int64) (*models.PackingSession, error)
	// Create returns database.ErrSessionConflict if an active session already exists.
	Create(ctx context.Context, orderID int64) (*models.PackingSession, error)
	// SaveProgress returns database.ErrSessionConflict on a version mismatch and
	// database.ErrSessionNotActive once the session is finished.
	SaveProgress(ctx context.Context, id uuid.UUID, progress map[string]int, expectedVersion int) (int, error)
	Finish(ctx context.Context, id uuid.UUID, status models.PackingSessionStatus) error
}

type Manager struct {
	store  SessionStore
	logger *zap.Logger
}

func NewManager(store SessionStore, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger.Named("packing")}
}

// ResumeOrCreate returns the order's active session, creating one if needed.
func (m *Manager) ResumeOrCreate(ctx context.Context, orderID int64) (*models.PackingSession, error) {
	session, err := m.store.Active(ctx, orderID)
	if err == nil {
		m.logger.Debug("Resumed packing session",
			zap.Int64("order_id", orderID),
			zap.Stringer("session_id", session.ID))
		return session, nil
	}
	if !errors.Is(err, database.ErrSessionNotFound) {
		return nil, err
	}

	session, err = m.store.Create(ctx, orderID)
	if errors.Is(err, database.ErrSessionConflict) {
		// another station opened the order between our read and insert
		return m.store.Active(ctx, orderID)
	}
	if err != nil {
		return nil, err
	}

	m.logger.Info("Started packing session",
		zap.Int64("order_id", orderID),
		zap.Stringer("session_id", session.ID))
	return session, nil
}

// PersistScan saves progress for session and advances its version. Failures
// are logged and returned for reporting only; callers must not abort the scan.
func (m *Manager) PersistScan(ctx context.Context, session *models.PackingSession, progress map[string]int) error {
	version, err := m.store.SaveProgress(ctx, session.ID, progress, session.Version)
	if err != nil {
		m.logger.Warn("Failed to persist packing progress",
			zap.Int64("order_id", session.OrderID),
			zap.Stringer("session_id", session.ID),
			zap.Int("version", session.Version),
			zap.Error(err))
		return err
	}

	session.Version = version
	session.ScanProgress = progress
	return nil
}

func (m *Manager) Complete(ctx context.Context, sessionID uuid.UUID) error {
	if err := m.store.Finish(ctx, sessionID, models.PackingSessionCompleted); err != nil {
		return err
	}
	m.logger.Info("Completed packing session", zap.Stringer("session_id", sessionID))
	return nil
}

func (m *Manager) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	if err := m.store.Finish(ctx, sessionID, models.PackingSessionCancelled); err != nil {
		return err
	}
	m.logger.Info("Cancelled packing session", zap.Stringer("session_id", sessionID))
	return nil
}

// CompleteActive completes the order's active session. An order without one
// is not an error.
func (m *Manager) CompleteActive(ctx context.Context, orderID int64) error {
	return m.finishActive(ctx, orderID, m.Complete)
}

func (m *Manager) CancelActive(ctx context.Context, orderID int64) error {
	return m.finishActive(ctx, orderID, m.Cancel)
}

func (m *Manager) finishActive(ctx context.Context, orderID int64, finish func(context.Context, uuid.UUID) error) error {
	session, err := m.store.Active(ctx, orderID)
	if errors.Is(err, database.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return finish(ctx, session.ID)
}

// Open builds a run for order, resuming persisted progress when a session
// exists. If the session store is unavailable the run starts without one and
// Scan retries attaching it.
func (m *Manager) Open(ctx context.Context, order *models.Order) *Run {
	session, err := m.ResumeOrCreate(ctx, order.ID)
	if err != nil {
		m.logger.Warn("Packing session unavailable, continuing in memory",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		session = nil
	}
	return newRun(order, session)
}

// Scan applies one barcode to run and saves the new progress on acceptance.
func (m *Manager) Scan(ctx context.Context, run *Run, raw string) ScanReport {
	run.mu.Lock()
	defer run.mu.Unlock()

	result := run.engine.Submit(raw)
	report := ScanReport{
		ScanResult:   result,
		FullyScanned: run.engine.IsFullyScanned(),
		Remaining:    run.engine.Remaining(),
	}

	if result.Outcome != reconcile.Accepted {
		return report
	}

	if run.session == nil {
		session, err := m.ResumeOrCreate(ctx, run.OrderID)
		if err != nil {
			m.logger.Warn("Packing session still unavailable",
				zap.Int64("order_id", run.OrderID),
				zap.Error(err))
			return report
		}
		run.session = session
	}

	err := m.PersistScan(ctx, run.session, run.engine.Progress())
	if errors.Is(err, database.ErrSessionNotActive) || errors.Is(err, database.ErrSessionNotFound) {
		// finished or expired underneath us; the next accepted scan attaches a fresh one
		run.session = nil
	}
	report.Persisted = err == nil
	return report
}
