// Package models defines the remstore entity families, their typed model
// descriptors, and the database-facing value types (JSON maps, vectors,
// tagged lists) shared by the storage providers and the tenant repository.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JSONMap is a free-form metadata map stored in the backend's native JSON
// column type (JSONB on PostgreSQL, JSON on MySQL)
type JSONMap map[string]interface{}

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	data, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("failed to scan JSONMap: %w", err)
	}
	return json.Unmarshal(data, m)
}

// GetString returns a string value from the map, or "" when absent
func (m JSONMap) GetString(key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// StringList is a []string stored as a JSON array column
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	data, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("failed to scan StringList: %w", err)
	}
	return json.Unmarshal(data, l)
}

// RelatedEntity is one entry of a resource's related_entities list. The
// entity id is the lowercase-hyphenated canonical form produced by entity
// extraction.
type RelatedEntity struct {
	EntityID   string  `json:"entity_id"`
	EntityType string  `json:"entity_type"`
	EntityName string  `json:"entity_name"`
	Mentions   int     `json:"mentions"`
	Confidence float64 `json:"confidence"`
}

// RelatedEntityList is stored as a JSON array column
type RelatedEntityList []RelatedEntity

// Value implements driver.Valuer
func (l RelatedEntityList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *RelatedEntityList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	data, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("failed to scan RelatedEntityList: %w", err)
	}
	return json.Unmarshal(data, l)
}

// GraphEdge is a weighted edge from the owning resource to a target entity
type GraphEdge struct {
	TargetID string  `json:"target_id"`
	Weight   float64 `json:"weight"`
	Kind     string  `json:"kind"`
}

// GraphEdgeList is stored as a JSON array column
type GraphEdgeList []GraphEdge

// Value implements driver.Valuer
func (l GraphEdgeList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *GraphEdgeList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	data, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("failed to scan GraphEdgeList: %w", err)
	}
	return json.Unmarshal(data, l)
}

// Person is one entry of a moment's present_persons map, keyed by
// fingerprint (or a synthetic key when no fingerprint is known)
type Person struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Relation    string `json:"relation,omitempty"`
}

// PersonMap is stored as a JSON object column keyed by fingerprint
type PersonMap map[string]Person

// Value implements driver.Valuer
func (m PersonMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *PersonMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	data, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("failed to scan PersonMap: %w", err)
	}
	return json.Unmarshal(data, m)
}

// Vector is a fixed-dimension float32 embedding stored in the backend's
// native vector column. The wire format is the pgvector text literal
// "[0.1,0.2,...]", which the MySQL-flavor provider also accepts.
type Vector []float32

// Value implements driver.Valuer
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

// Scan implements sql.Scanner
func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	var s string
	switch t := src.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return fmt.Errorf("failed to scan Vector: unsupported type %T", src)
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Vector, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("failed to scan Vector element %q: %w", p, err)
		}
		out = append(out, float32(f))
	}
	*v = out
	return nil
}

// jsonBytes normalizes the driver value for JSON columns. lib/pq returns
// []byte; the mysql driver may return string.
func jsonBytes(src interface{}) ([]byte, error) {
	switch t := src.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("unsupported JSON column type %T", src)
	}
}
