// Package queue carries storage events from the object store to the
// ingestion worker: the event schema and path contract, an SQS source,
// and a tenant-fair bounded in-memory queue with a dead-letter side.
package queue

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
)

// Storage event types
const (
	EventTypeCreate = "create"
	EventTypeUpdate = "update"
	EventTypeDelete = "delete"
)

// pathPrefix is the required leading segment of every event path
const pathPrefix = "buckets"

// StorageEvent is one object-store notification. Paths follow
// buckets/{tenant_id}/{category}/{file_path}; producers sometimes emit
// timestamps and sizes as strings, which decoding coerces.
type StorageEvent struct {
	EventType   string  `json:"event_type"`
	Path        string  `json:"path"`
	Timestamp   float64 `json:"timestamp"`
	FileSize    int64   `json:"file_size"`
	ContentType string  `json:"content_type,omitempty"`
	ETag        string  `json:"etag,omitempty"`
}

// storageEventWire tolerates the producer-side type looseness
type storageEventWire struct {
	EventType   string      `json:"event_type"`
	Path        string      `json:"path"`
	Timestamp   interface{} `json:"timestamp"`
	FileSize    interface{} `json:"file_size"`
	ContentType string      `json:"content_type,omitempty"`
	ETag        string      `json:"etag,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler with numeric coercion
func (e *StorageEvent) UnmarshalJSON(data []byte) error {
	var w storageEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := coerceFloat(w.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid timestamp %v: %w", w.Timestamp, err)
	}
	size, err := coerceFloat(w.FileSize)
	if err != nil {
		return fmt.Errorf("invalid file_size %v: %w", w.FileSize, err)
	}
	*e = StorageEvent{
		EventType:   w.EventType,
		Path:        w.Path,
		Timestamp:   ts,
		FileSize:    int64(size),
		ContentType: w.ContentType,
		ETag:        w.ETag,
	}
	return nil
}

func coerceFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case string:
		if t == "" {
			return 0, nil
		}
		return strconv.ParseFloat(t, 64)
	case json.Number:
		return t.Float64()
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// Time converts the epoch-seconds timestamp
func (e *StorageEvent) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// EventPath is the decomposed form of a valid event path
type EventPath struct {
	TenantID string
	Category string
	FilePath string
}

// Basename returns the final path element
func (p EventPath) Basename() string {
	return path.Base(p.FilePath)
}

// Full reassembles the canonical path
func (p EventPath) Full() string {
	return strings.Join([]string{pathPrefix, p.TenantID, p.Category, p.FilePath}, "/")
}

// ParsePath validates and decomposes an event path. Directory markers and
// paths outside the buckets/{tenant}/{category}/ contract are permanent
// validation errors.
func ParsePath(raw string) (EventPath, error) {
	if strings.HasSuffix(raw, "/") {
		return EventPath{}, commonerrors.Newf("queue", "ParsePath", commonerrors.KindValidation,
			"path %q is a directory", raw)
	}
	parts := strings.SplitN(raw, "/", 4)
	if len(parts) != 4 || parts[0] != pathPrefix {
		return EventPath{}, commonerrors.Newf("queue", "ParsePath", commonerrors.KindValidation,
			"path %q does not match buckets/{tenant_id}/{category}/{file_path}", raw)
	}
	p := EventPath{TenantID: parts[1], Category: parts[2], FilePath: parts[3]}
	if p.TenantID == "" || p.Category == "" || p.FilePath == "" {
		return EventPath{}, commonerrors.Newf("queue", "ParsePath", commonerrors.KindValidation,
			"path %q has empty segments", raw)
	}
	if strings.Contains(raw, "//") || strings.Contains(p.FilePath, "..") {
		return EventPath{}, commonerrors.Newf("queue", "ParsePath", commonerrors.KindValidation,
			"path %q is malformed", raw)
	}
	return p, nil
}

// Validate checks the event against the schema. Returns a Validation
// error suitable for immediate dead-lettering.
func (e *StorageEvent) Validate() error {
	switch e.EventType {
	case EventTypeCreate, EventTypeUpdate, EventTypeDelete:
	default:
		return commonerrors.Newf("queue", "Validate", commonerrors.KindValidation,
			"unknown event type %q", e.EventType)
	}
	_, err := ParsePath(e.Path)
	return err
}
