package packing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/safar/handloom-fulfillment/internal/database"
	"github.com/safar/handloom-fulfillment/internal/models"
)

// RedisStore keeps sessions as JSON documents. The per-order active pointer is
// claimed with SETNX and progress writes use WATCH so a stale writer fails
// instead of overwriting.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "packing:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *RedisStore) sessionKey(id uuid.UUID) string {
	return s.keyPrefix + "session:" + id.String()
}

func (s *RedisStore) activeKey(orderID int64) string {
	return s.keyPrefix + "order:" + strconv.FormatInt(orderID, 10) + ":active"
}

func (s *RedisStore) Active(ctx context.Context, orderID int64) (*models.PackingSession, error) {
	raw, err := s.client.Get(ctx, s.activeKey(orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, database.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse active session id: %w", err)
	}

	session, err := s.load(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, database.ErrSessionNotFound
	}
	return session, nil
}

func (s *RedisStore) Create(ctx context.Context, orderID int64) (*models.PackingSession, error) {
	now := s.now().UTC()
	session := &models.PackingSession{
		ID:           uuid.New(),
		OrderID:      orderID,
		Status:       models.PackingSessionActive,
		ScanProgress: map[string]int{},
		Version:      1,
		StartedAt:    now,
		UpdatedAt:    now,
	}

	claimed, err := s.client.SetNX(ctx, s.activeKey(orderID), session.ID.String(), s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("claim active session: %w", err)
	}
	if !claimed {
		return nil, database.ErrSessionConflict
	}

	if err := s.save(ctx, s.client, session); err != nil {
		s.client.Del(ctx, s.activeKey(orderID))
		return nil, err
	}
	return session, nil
}

func (s *RedisStore) SaveProgress(ctx context.Context, id uuid.UUID, progress map[string]int, expectedVersion int) (int, error) {
	var version int

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !session.IsActive() {
			return database.ErrSessionNotActive
		}
		if session.Version != expectedVersion {
			return database.ErrSessionConflict
		}

		session.ScanProgress = progress
		session.Version++
		session.UpdatedAt = s.now().UTC()
		version = session.Version

		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.sessionKey(id), payload, s.ttl)
			pipe.Expire(ctx, s.activeKey(session.OrderID), s.ttl)
			return nil
		})
		return err
	}, s.sessionKey(id))
	if errors.Is(err, redis.TxFailedErr) {
		return 0, database.ErrSessionConflict
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *RedisStore) Finish(ctx context.Context, id uuid.UUID, status models.PackingSessionStatus) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		session, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if !session.IsActive() {
			return database.ErrSessionNotActive
		}

		now := s.now().UTC()
		session.Status = status
		session.Version++
		session.UpdatedAt = now
		if status == models.PackingSessionCancelled {
			session.CancelledAt = &now
		} else {
			session.CompletedAt = &now
		}

		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.sessionKey(id), payload, s.ttl)
			pipe.Del(ctx, s.activeKey(session.OrderID))
			return nil
		})
		return err
	}, s.sessionKey(id))
	if errors.Is(err, redis.TxFailedErr) {
		return database.ErrSessionConflict
	}
	return err
}

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, id uuid.UUID) (*models.PackingSession, error) {
	raw, err := c.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, database.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var session models.PackingSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if session.ScanProgress == nil {
		session.ScanProgress = map[string]int{}
	}
	return &session, nil
}

func (s *RedisStore) save(ctx context.Context, c redis.Cmdable, session *models.PackingSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := c.Set(ctx, s.sessionKey(session.ID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
