package kv

import (
	"context"
	"fmt"
	"time"
)

// Scheduler leases prevent two schedulers from running the same tenant
// pipeline concurrently. Key convention: lease/{tenant_id}/{pipeline},
// TTL = pipeline budget.

// LeaseKey builds the conventional lease key
func LeaseKey(tenantID, pipeline string) string {
	return fmt.Sprintf("lease/%s/%s", tenantID, pipeline)
}

// AcquireLease attempts to take the lease. Returns false when another
// holder is active. The fast layer arbitrates (single writer per key via
// SETNX); the durable table records the lease for scan visibility.
func (s *DualStore) AcquireLease(ctx context.Context, tenantID, pipeline string, ttl time.Duration) (bool, error) {
	key := LeaseKey(tenantID, pipeline)

	if s.client != nil {
		ok, err := s.client.SetNX(ctx, redisKey(tenantID, key), "1", ttl).Result()
		if err != nil {
			return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
		}
		if !ok {
			return false, nil
		}
	} else {
		// Durable-only mode: an unexpired row means the lease is held
		if _, err := s.Get(ctx, tenantID, key); err == nil {
			return false, nil
		}
	}

	if err := s.Put(ctx, tenantID, key, "1", ttl); err != nil {
		return false, err
	}
	return true, nil
}

// ReleaseLease drops the lease before its TTL expires
func (s *DualStore) ReleaseLease(ctx context.Context, tenantID, pipeline string) error {
	_, err := s.Delete(ctx, tenantID, LeaseKey(tenantID, pipeline))
	return err
}
