// Package postgres implements the PostgreSQL-flavor storage provider:
// JSONB metadata with GIN indexes, pgvector columns with the <=> cosine
// distance operator, and $n parameter placeholders.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	// PostgreSQL driver
	_ "github.com/lib/pq"

	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/storage"
)

// DefaultEmbeddingDimensions is used when a vector field declares no
// dimension of its own
const DefaultEmbeddingDimensions = 1536

// Provider is the PostgreSQL storage provider
type Provider struct {
	cfg storage.Config
}

// New creates a PostgreSQL provider
func New(cfg storage.Config) storage.Provider {
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	return &Provider{cfg: cfg}
}

func init() {
	if err := storage.Register("postgres", New); err != nil {
		panic(err)
	}
}

// DialectName implements storage.Provider
func (p *Provider) DialectName() string { return "postgres" }

// Connect implements storage.Provider
func (p *Provider) Connect(ctx context.Context) (*storage.Pool, error) {
	dsn := p.cfg.DSN
	if dsn == "" {
		sslMode := p.cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s search_path=rem,public",
			p.cfg.Host, p.cfg.Port, p.cfg.Username, p.cfg.Password, p.cfg.Database, sslMode)
	}

	db, err := sqlx.ConnectContext(ctx, p.cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return storage.NewPool(db, p.cfg, nil), nil
}

// MapType implements storage.Provider
func (p *Provider) MapType(f models.FieldDescriptor) string {
	switch f.Type {
	case models.TypeUUID:
		return "UUID"
	case models.TypeText:
		return "TEXT"
	case models.TypeInt:
		return "INTEGER"
	case models.TypeBigInt:
		return "BIGINT"
	case models.TypeFloat:
		return "DOUBLE PRECISION"
	case models.TypeBool:
		return "BOOLEAN"
	case models.TypeTimestamp:
		return "TIMESTAMP WITH TIME ZONE"
	case models.TypeJSON:
		return "JSONB"
	case models.TypeVector:
		dims := f.Dimensions
		if dims <= 0 {
			dims = DefaultEmbeddingDimensions
		}
		return fmt.Sprintf("vector(%d)", dims)
	default:
		return "TEXT"
	}
}

// CreateTableSQL implements storage.Provider
func (p *Provider) CreateTableSQL(d models.ModelDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE SCHEMA IF NOT EXISTS %s;\n", d.Schema)
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", d.QualifiedTable())

	for i, f := range d.Fields {
		col := fmt.Sprintf("    %s %s", f.Name, p.MapType(f))
		if f.Name == d.PrimaryKey {
			col += " PRIMARY KEY"
		} else if !f.Nullable {
			col += " NOT NULL"
		}
		if i < len(d.Fields)-1 {
			col += ","
		}
		b.WriteString(col + "\n")
	}
	b.WriteString(");\n")

	// Tenant predicate is appended to every repository query; index it
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_tenant ON %s (tenant_id);\n",
		d.Table, d.QualifiedTable())

	for _, f := range d.Fields {
		if f.Type == models.TypeJSON {
			fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s_gin ON %s USING GIN (%s);\n",
				d.Table, f.Name, d.QualifiedTable(), f.Name)
		}
	}
	return b.String()
}

// CreateEmbeddingTableSQL implements storage.Provider
func (p *Provider) CreateEmbeddingTableSQL(d models.ModelDescriptor) string {
	table := d.EmbeddingTable()
	var b strings.Builder
	b.WriteString("CREATE SCHEMA IF NOT EXISTS embeddings;\n")
	fmt.Fprintf(&b, `CREATE TABLE IF NOT EXISTS %s (
    tenant_id TEXT NOT NULL,
    entity_id UUID NOT NULL,
    field_name TEXT NOT NULL,
    embedding vector(%d),
    embedding_provider TEXT NOT NULL,
    vector_dimension INTEGER NOT NULL,
    content_hash TEXT,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant_id, entity_id, field_name)
);
`, table, DefaultEmbeddingDimensions)
	fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_embeddings_vec ON %s USING ivfflat (embedding vector_cosine_ops);\n",
		d.Table, table)
	return b.String()
}

// UpsertSQL implements storage.Provider. Placeholders are ? and must be
// rebound before execution.
func (p *Provider) UpsertSQL(d models.ModelDescriptor, columns []string, rows int) string {
	if rows <= 0 {
		rows = 1
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	tuples := make([]string, rows)
	for i := range tuples {
		tuples[i] = tuple
	}
	var updates []string
	for _, c := range columns {
		if c == d.PrimaryKey || c == "tenant_id" || c == "created_at" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO UPDATE SET %s",
		d.QualifiedTable(),
		strings.Join(columns, ", "),
		strings.Join(tuples, ", "),
		d.PrimaryKey,
		strings.Join(updates, ", "))
}

// UpsertEmbeddingSQL implements storage.Provider
func (p *Provider) UpsertEmbeddingSQL(d models.ModelDescriptor) string {
	return fmt.Sprintf(`INSERT INTO %s (tenant_id, entity_id, field_name, embedding, embedding_provider, vector_dimension, content_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, entity_id, field_name) DO UPDATE SET
    embedding = EXCLUDED.embedding,
    embedding_provider = EXCLUDED.embedding_provider,
    vector_dimension = EXCLUDED.vector_dimension,
    content_hash = EXCLUDED.content_hash`, d.EmbeddingTable())
}

// SemanticSearchSQL implements storage.Provider. pgvector's <=> operator
// is cosine distance; similarity = 1 - distance.
func (p *Provider) SemanticSearchSQL(d models.ModelDescriptor) (string, []string) {
	sql := fmt.Sprintf(`SELECT entity_id, 1 - (embedding <=> $1) AS score
FROM %s
WHERE tenant_id = $2 AND field_name = $3 AND 1 - (embedding <=> $1) >= $4
ORDER BY embedding <=> $1 ASC, entity_id ASC
LIMIT $5`, d.EmbeddingTable())
	return sql, []string{storage.ParamVector, storage.ParamTenant, storage.ParamField, storage.ParamThreshold, storage.ParamLimit}
}

// VectorSimilaritySearchSQL implements storage.Provider
func (p *Provider) VectorSimilaritySearchSQL(table, vectorColumn, idColumn string) (string, []string) {
	sql := fmt.Sprintf(`SELECT %s, 1 - (%s <=> $1) AS score
FROM %s
WHERE tenant_id = $2 AND 1 - (%s <=> $1) >= $3
ORDER BY %s <=> $1 ASC, %s ASC
LIMIT $4`, idColumn, vectorColumn, table, vectorColumn, vectorColumn, idColumn)
	return sql, []string{storage.ParamVector, storage.ParamTenant, storage.ParamThreshold, storage.ParamLimit}
}

// Rebind implements storage.Provider
func (p *Provider) Rebind(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}
