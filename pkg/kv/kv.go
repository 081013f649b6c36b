// Package kv implements the tenant-scoped key-value layer. It is dual
// backed: a durable table is the source of truth for existence, scans and
// TTL expiry, while redis serves reads fast. Short-TTL keys are therefore
// always visible to scans even when the fast layer has dropped them.
package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/observability"
)

// Store is the tenant-addressable map contract
type Store interface {
	Put(ctx context.Context, tenantID, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, tenantID, key string) (json.RawMessage, error)
	Delete(ctx context.Context, tenantID, key string) (bool, error)
	Scan(ctx context.Context, tenantID, prefix string, limit int) ([]json.RawMessage, error)
}

// CreateTableSQL is the durable-table DDL for the PostgreSQL dialect
const CreateTableSQL = `
CREATE SCHEMA IF NOT EXISTS kv;
CREATE TABLE IF NOT EXISTS kv.storage (
    tenant_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value JSONB NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, key)
);
CREATE INDEX IF NOT EXISTS idx_kv_storage_expires ON kv.storage (expires_at);
`

// DualStore is the durable-table + redis implementation of Store
type DualStore struct {
	db     *sqlx.DB
	client *redis.Client
	logger observability.Logger
}

// NewDualStore creates a DualStore. The redis client may be nil; the store
// then operates on the durable table alone.
func NewDualStore(db *sqlx.DB, client *redis.Client, logger observability.Logger) *DualStore {
	if logger == nil {
		logger = observability.NewStandardLogger("kv")
	}
	return &DualStore{db: db, client: client, logger: logger}
}

func redisKey(tenantID, key string) string {
	return fmt.Sprintf("kv:%s:%s", tenantID, key)
}

// Put writes the value to the durable table first, then to the fast layer.
// A fast-layer failure is logged, never surfaced.
func (s *DualStore) Put(ctx context.Context, tenantID, key string, value interface{}, ttl time.Duration) error {
	if tenantID == "" || key == "" {
		return commonerrors.Newf("kv", "Put", commonerrors.KindValidation, "tenant id and key are required")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return commonerrors.New("kv", "Put", commonerrors.KindValidation, err)
	}

	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	query := s.db.Rebind(`INSERT INTO kv.storage (tenant_id, key, value, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`)
	if _, err := s.db.ExecContext(ctx, query, tenantID, key, data, expiresAt); err != nil {
		return fmt.Errorf("failed to write kv durable table: %w", err)
	}

	if s.client != nil {
		if err := s.client.Set(ctx, redisKey(tenantID, key), data, ttl).Err(); err != nil {
			s.logger.Warn("kv fast-layer write failed", map[string]interface{}{
				"tenant_id": tenantID,
				"key":       key,
				"error":     err.Error(),
			})
		}
	}
	return nil
}

// Get reads from the fast layer first, falling back to the durable table.
// A durable hit backfills the fast layer.
func (s *DualStore) Get(ctx context.Context, tenantID, key string) (json.RawMessage, error) {
	if s.client != nil {
		data, err := s.client.Get(ctx, redisKey(tenantID, key)).Bytes()
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("kv fast-layer read failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}

	var data []byte
	var expiresAt sql.NullTime
	query := s.db.Rebind(`SELECT value, expires_at FROM kv.storage WHERE tenant_id = ? AND key = ?`)
	err := s.db.QueryRowxContext(ctx, query, tenantID, key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, commonerrors.New("kv", "Get", commonerrors.KindNotFound, commonerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read kv durable table: %w", err)
	}
	if expiresAt.Valid && time.Now().After(expiresAt.Time) {
		return nil, commonerrors.New("kv", "Get", commonerrors.KindNotFound, commonerrors.ErrNotFound)
	}

	if s.client != nil {
		ttl := time.Duration(0)
		if expiresAt.Valid {
			ttl = time.Until(expiresAt.Time)
		}
		if err := s.client.Set(ctx, redisKey(tenantID, key), data, ttl).Err(); err != nil {
			s.logger.Debug("kv fast-layer backfill failed", map[string]interface{}{"key": key})
		}
	}
	return data, nil
}

// Delete removes the key from both layers. Returns true when a durable
// row existed.
func (s *DualStore) Delete(ctx context.Context, tenantID, key string) (bool, error) {
	query := s.db.Rebind(`DELETE FROM kv.storage WHERE tenant_id = ? AND key = ?`)
	res, err := s.db.ExecContext(ctx, query, tenantID, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete kv key: %w", err)
	}
	n, _ := res.RowsAffected()

	if s.client != nil {
		if err := s.client.Del(ctx, redisKey(tenantID, key)).Err(); err != nil {
			s.logger.Warn("kv fast-layer delete failed", map[string]interface{}{"key": key})
		}
	}
	return n > 0, nil
}

// likeEscaper neutralizes LIKE metacharacters in key prefixes. The hash
// escape character works unquoted in both supported dialects, unlike a
// backslash.
var likeEscaper = strings.NewReplacer("#", "##", "%", "#%", "_", "#_")

// Scan returns values for keys under the prefix, in key order. The durable
// table is authoritative for existence; expired rows are excluded. The
// prefix is matched literally; % and _ in keys do not wildcard.
func (s *DualStore) Scan(ctx context.Context, tenantID, prefix string, limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.db.Rebind(`SELECT value FROM kv.storage
WHERE tenant_id = ? AND key LIKE ? ESCAPE '#' AND (expires_at IS NULL OR expires_at > ?)
ORDER BY key LIMIT ?`)
	rows, err := s.db.QueryxContext(ctx, query, tenantID, likeEscaper.Replace(prefix)+"%", time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan kv prefix %q: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	var out []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan kv row: %w", err)
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

// PurgeExpired deletes durable rows past their TTL. Run periodically by
// the scheduled-job tick.
func (s *DualStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := s.db.Rebind(`DELETE FROM kv.storage WHERE expires_at IS NOT NULL AND expires_at <= ?`)
	res, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired kv rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
