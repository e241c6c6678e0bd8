package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/models"
)

const oneActiveSessionConstraint = "packing_sessions_one_active"

const sessionColumns = `id, order_id, status, scan_progress, version, started_at, updated_at, completed_at, cancelled_at`

func scanPackingSession(row rowScanner) (*models.PackingSession, error) {
	session := &models.PackingSession{}
	var progress []byte
	err := row.Scan(
		&session.ID,
		&session.OrderID,
		&session.Status,
		&progress,
		&session.Version,
		&session.StartedAt,
		&session.UpdatedAt,
		&session.CompletedAt,
		&session.CancelledAt,
	)
	if err != nil {
		return nil, err
	}

	session.ScanProgress = map[string]int{}
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &session.ScanProgress); err != nil {
			return nil, fmt.Errorf("decode scan progress: %w", err)
		}
	}
	return session, nil
}

// CreatePackingSession inserts a new active session. A second active session
// for the same order is rejected with ErrSessionConflict.
func CreatePackingSession(ctx context.Context, q database.Querier, orderID int64) (*models.PackingSession, error) {
	session, err := scanPackingSession(q.QueryRowContext(ctx,
		`INSERT INTO packing_sessions (id, order_id, status, scan_progress, version, started_at, updated_at)
		 VALUES ($1, $2, $3, '{}'::jsonb, 1, NOW(), NOW())
		 RETURNING `+sessionColumns,
		uuid.New(), orderID, models.PackingSessionActive))
	if err != nil {
		if database.IsUniqueViolation(err, oneActiveSessionConstraint) {
			return nil, database.ErrSessionConflict
		}
		return nil, fmt.Errorf("create packing session: %w", err)
	}
	return session, nil
}

func GetActivePackingSession(ctx context.Context, q database.Querier, orderID int64) (*models.PackingSession, error) {
	session, err := scanPackingSession(q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM packing_sessions
		 WHERE order_id = $1 AND status = $2`,
		orderID, models.PackingSessionActive))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get active packing session: %w", err)
	}
	return session, nil
}

func GetPackingSession(ctx context.Context, q database.Querier, id uuid.UUID) (*models.PackingSession, error) {
	session, err := scanPackingSession(q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM packing_sessions WHERE id = $1`, id))
	if err != nil {
		if database.IsNoRows(err) {
			return nil, database.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get packing session: %w", err)
	}
	return session, nil
}

// SavePackingProgress overwrites the scan progress of an active session if its
// version still equals expectedVersion, returning the new version.
func SavePackingProgress(ctx context.Context, q database.Querier, id uuid.UUID, progress map[string]int, expectedVersion int) (int, error) {
	payload, err := json.Marshal(progress)
	if err != nil {
		return 0, fmt.Errorf("encode scan progress: %w", err)
	}

	var version int
	err = q.QueryRowContext(ctx,
		`UPDATE packing_sessions
		 SET scan_progress = $1::jsonb,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND status = $3
		   AND version = $4
		 RETURNING version`,
		string(payload), id, models.PackingSessionActive, expectedVersion).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !database.IsNoRows(err) {
		return 0, fmt.Errorf("save packing progress: %w", err)
	}

	current, err := GetPackingSession(ctx, q, id)
	if err != nil {
		return 0, err
	}
	if !current.IsActive() {
		return 0, database.ErrSessionNotActive
	}
	return 0, database.ErrSessionConflict
}

// FinishPackingSession moves an active session to completed or cancelled.
func FinishPackingSession(ctx context.Context, q database.Querier, id uuid.UUID, status models.PackingSessionStatus) error {
	column := "completed_at"
	if status == models.PackingSessionCancelled {
		column = "cancelled_at"
	}

	result, err := q.ExecContext(ctx,
		`UPDATE packing_sessions
		 SET status = $1, `+column+` = NOW(), version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND status = $3`,
		status, id, models.PackingSessionActive)
	if err != nil {
		return fmt.Errorf("finish packing session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := GetPackingSession(ctx, q, id); err != nil {
			return err
		}
		return database.ErrSessionNotActive
	}

	return nil
}
