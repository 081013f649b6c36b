package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// Session-message convention: keys session-{session_id}-msg-{ordinal} hold
// the full expanded message body; a short synopsis remains inline on the
// session row. Messages compress when the body exceeds
// CompressionThreshold bytes.

// CompressionThreshold is the inline-size limit above which a session
// message body moves to KV
const CompressionThreshold = 1024

// SessionMessageKey builds the conventional key for one session turn
func SessionMessageKey(sessionID string, ordinal int) string {
	return fmt.Sprintf("session-%s-msg-%d", sessionID, ordinal)
}

// PutSessionMessage stores the full message body. Session-message keys
// carry no TTL.
func (s *DualStore) PutSessionMessage(ctx context.Context, tenantID, sessionID string, ordinal int, body string) error {
	return s.Put(ctx, tenantID, SessionMessageKey(sessionID, ordinal), body, 0)
}

// GetSessionMessage returns the raw expanded message body
func (s *DualStore) GetSessionMessage(ctx context.Context, tenantID, sessionID string, ordinal int) (string, error) {
	data, err := s.Get(ctx, tenantID, SessionMessageKey(sessionID, ordinal))
	if err != nil {
		return "", err
	}
	var body string
	if err := json.Unmarshal(data, &body); err != nil {
		// Pre-convention rows stored the body unquoted
		return string(data), nil
	}
	return body, nil
}
