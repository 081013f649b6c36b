package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The reverse entity index maps {tenant_id}/{entity_id}/{entity_type} to
// the set of resource ids mentioning that entity. Durability comes from a
// junction table with insert-on-conflict (append-only set under
// contention); redis holds a read-through cache of the derived set.

// CreateEntityIndexSQL is the junction-table DDL for the PostgreSQL dialect
const CreateEntityIndexSQL = `
CREATE TABLE IF NOT EXISTS kv.entity_index (
    tenant_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, entity_id, entity_type, resource_id)
);
CREATE INDEX IF NOT EXISTS idx_kv_entity_index_lookup
    ON kv.entity_index (tenant_id, entity_id, entity_type);
`

// reverseIndexCacheTTL bounds staleness of the cached derived set
const reverseIndexCacheTTL = 5 * time.Minute

// ReverseIndexKey builds the conventional key {tenant_id}/{entity_id}/{entity_type}
func ReverseIndexKey(tenantID, entityID, entityType string) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, entityID, entityType)
}

// ReverseIndexEntry is the value shape held under a reverse-index key
type ReverseIndexEntry struct {
	EntityType string   `json:"entity_type"`
	EntityIDs  []string `json:"entity_ids"`
}

// AppendEntityRef records that resourceID mentions the entity. Idempotent;
// concurrent appends cannot lose rows.
func (s *DualStore) AppendEntityRef(ctx context.Context, tenantID, entityID, entityType, resourceID string) error {
	query := s.db.Rebind(`INSERT INTO kv.entity_index (tenant_id, entity_id, entity_type, resource_id)
VALUES (?, ?, ?, ?)
ON CONFLICT (tenant_id, entity_id, entity_type, resource_id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, tenantID, entityID, entityType, resourceID); err != nil {
		return fmt.Errorf("failed to append entity ref %s/%s: %w", entityID, entityType, err)
	}

	// Invalidate the cached derived set
	if s.client != nil {
		cacheKey := redisKey(tenantID, ReverseIndexKey(tenantID, entityID, entityType))
		if err := s.client.Del(ctx, cacheKey).Err(); err != nil {
			s.logger.Debug("reverse-index cache invalidation failed", map[string]interface{}{
				"entity_id": entityID,
			})
		}
	}
	return nil
}

// GetEntityRefs returns the resource ids registered for the entity, in
// insertion order. Readers must treat an empty result as "unknown", not
// "none" — the index is eventually consistent with related_entities.
func (s *DualStore) GetEntityRefs(ctx context.Context, tenantID, entityID, entityType string) ([]string, error) {
	cacheKey := redisKey(tenantID, ReverseIndexKey(tenantID, entityID, entityType))
	if s.client != nil {
		data, err := s.client.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var entry ReverseIndexEntry
			if err := json.Unmarshal(data, &entry); err == nil {
				return entry.EntityIDs, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Debug("reverse-index cache read failed", map[string]interface{}{
				"entity_id": entityID,
			})
		}
	}

	query := s.db.Rebind(`SELECT resource_id FROM kv.entity_index
WHERE tenant_id = ? AND entity_id = ? AND entity_type = ?
ORDER BY created_at, resource_id`)
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, tenantID, entityID, entityType); err != nil {
		return nil, fmt.Errorf("failed to read entity index for %s/%s: %w", entityID, entityType, err)
	}

	if s.client != nil && len(ids) > 0 {
		entry := ReverseIndexEntry{EntityType: entityType, EntityIDs: ids}
		if data, err := json.Marshal(entry); err == nil {
			if err := s.client.Set(ctx, cacheKey, data, reverseIndexCacheTTL).Err(); err != nil {
				s.logger.Debug("reverse-index cache fill failed", map[string]interface{}{
					"entity_id": entityID,
				})
			}
		}
	}
	return ids, nil
}

// GetEntityRefsAnyType unions the id sets across every entity_type the
// entity is registered under. Used when a lookup omits the type suffix.
func (s *DualStore) GetEntityRefsAnyType(ctx context.Context, tenantID, entityID string) ([]string, error) {
	query := s.db.Rebind(`SELECT DISTINCT resource_id FROM kv.entity_index
WHERE tenant_id = ? AND entity_id = ?
ORDER BY resource_id`)
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, tenantID, entityID); err != nil {
		return nil, fmt.Errorf("failed to read entity index for %s: %w", entityID, err)
	}
	return ids, nil
}

// DeleteResourceRefs removes every index row pointing at the resource.
// Called from the file-delete cascade.
func (s *DualStore) DeleteResourceRefs(ctx context.Context, tenantID, resourceID string) error {
	query := s.db.Rebind(`DELETE FROM kv.entity_index WHERE tenant_id = ? AND resource_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, tenantID, resourceID); err != nil {
		return fmt.Errorf("failed to delete entity refs for resource %s: %w", resourceID, err)
	}
	return nil
}
