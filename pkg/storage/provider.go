// Package storage defines the uniform contract over a relational+vector
// backend variant and the process-wide provider registry. Two dialects are
// supported: a PostgreSQL flavor (JSONB + GIN + pgvector) and a MySQL
// flavor (JSON + native vector column).
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/S-Corkum/remstore/pkg/models"
)

// Provider is the backend adapter contract. Implementations must be safe
// for concurrent use from the tenant repository and workers.
type Provider interface {
	// DialectName returns the dialect identifier ("postgres" or "mysql")
	DialectName() string

	// Connect opens the connection pool
	Connect(ctx context.Context) (*Pool, error)

	// MapType maps a language-level field type to a dialect column type
	MapType(ft models.FieldDescriptor) string

	// CreateTableSQL generates DDL for a model table from its descriptor,
	// including GIN (or equivalent) indexes on JSON columns
	CreateTableSQL(d models.ModelDescriptor) string

	// CreateEmbeddingTableSQL generates DDL for the sibling embedding
	// table embeddings.<table>_embeddings, including a vector index
	CreateEmbeddingTableSQL(d models.ModelDescriptor) string

	// UpsertSQL generates the dialect-specific multi-row
	// insert-on-conflict statement for the given columns, with ?
	// placeholders (rebind before execution)
	UpsertSQL(d models.ModelDescriptor, columns []string, rows int) string

	// UpsertEmbeddingSQL generates the insert-on-conflict statement for
	// one row of the sibling embedding table, keyed by
	// (tenant_id, entity_id, field_name). Columns in bind order:
	// tenant_id, entity_id, field_name, embedding, embedding_provider,
	// vector_dimension, content_hash, created_at.
	UpsertEmbeddingSQL(d models.ModelDescriptor) string

	// SemanticSearchSQL returns the dialect-specific vector search over
	// the embedding table of d, plus the named param slots in bind order
	// (from ParamVector, ParamTenant, ParamField, ParamThreshold,
	// ParamLimit; a slot may repeat). Rows: (entity_id, score) ordered by
	// similarity descending, ties broken by entity_id ascending.
	SemanticSearchSQL(d models.ModelDescriptor) (string, []string)

	// VectorSimilaritySearchSQL returns a raw similarity search over an
	// arbitrary table and vector column, with named param slots in bind
	// order (ParamVector, ParamTenant, ParamThreshold, ParamLimit).
	VectorSimilaritySearchSQL(table, vectorColumn, idColumn string) (string, []string)

	// Rebind translates ? placeholders to the dialect form
	Rebind(query string) string
}

// Named parameter slots used by the vector search statements
const (
	ParamVector    = "vector"
	ParamTenant    = "tenant"
	ParamField     = "field"
	ParamThreshold = "threshold"
	ParamLimit     = "limit"
)

// BindParams resolves a slot list against supplied values
func BindParams(slots []string, values map[string]interface{}) []interface{} {
	out := make([]interface{}, len(slots))
	for i, s := range slots {
		out[i] = values[s]
	}
	return out
}

// Config carries connection and pool settings shared by both dialects
type Config struct {
	Driver   string
	DSN      string
	Host     string
	Port     int
	Username string
	Password string
	Database string
	SSLMode  string

	MaxConnections  int
	MaxIdleConns    int
	MaxUsagePerConn int64
	MaxLifetime     int // seconds
	PingOnBorrow    bool
}

// registry is the process-wide provider registry. Initialized once at
// process start via Register and frozen by Freeze.
var (
	registryMu sync.Mutex
	registry   = map[string]func(Config) Provider{}
	frozen     bool
)

// Register adds a provider constructor under a dialect name. Registration
// after Freeze is an error.
func Register(name string, ctor func(Config) Provider) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if frozen {
		return fmt.Errorf("provider registry is frozen; cannot register %q", name)
	}
	if _, exists := registry[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	registry[name] = ctor
	return nil
}

// Freeze forbids further registration
func Freeze() {
	registryMu.Lock()
	defer registryMu.Unlock()
	frozen = true
}

// NewProvider constructs a registered provider by name
func NewProvider(name string, cfg Config) (Provider, error) {
	registryMu.Lock()
	ctor, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown storage provider %q", name)
	}
	return ctor(cfg), nil
}
