// Package mysql implements the MySQL-flavor storage provider: JSON
// metadata columns, a native VECTOR column searched with
// VEC_COSINE_DISTANCE, and ? parameter placeholders.
package mysql

import (
	"context"
	"fmt"
	"strings"

	// MySQL driver
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/storage"
)

// DefaultEmbeddingDimensions mirrors the postgres provider default
const DefaultEmbeddingDimensions = 1536

// Provider is the MySQL storage provider
type Provider struct {
	cfg storage.Config
}

// New creates a MySQL provider
func New(cfg storage.Config) storage.Provider {
	if cfg.Driver == "" {
		cfg.Driver = "mysql"
	}
	return &Provider{cfg: cfg}
}

func init() {
	if err := storage.Register("mysql", New); err != nil {
		panic(err)
	}
}

// DialectName implements storage.Provider
func (p *Provider) DialectName() string { return "mysql" }

// Connect implements storage.Provider
func (p *Provider) Connect(ctx context.Context) (*storage.Pool, error) {
	dsn := p.cfg.DSN
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			p.cfg.Username, p.cfg.Password, p.cfg.Host, p.cfg.Port, p.cfg.Database)
	}

	db, err := sqlx.ConnectContext(ctx, p.cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}
	return storage.NewPool(db, p.cfg, nil), nil
}

// MapType implements storage.Provider
func (p *Provider) MapType(f models.FieldDescriptor) string {
	switch f.Type {
	case models.TypeUUID:
		return "VARCHAR(36)"
	case models.TypeText:
		return "TEXT"
	case models.TypeInt:
		return "INT"
	case models.TypeBigInt:
		return "BIGINT"
	case models.TypeFloat:
		return "DOUBLE"
	case models.TypeBool:
		return "BOOLEAN"
	case models.TypeTimestamp:
		return "TIMESTAMP(6)"
	case models.TypeJSON:
		return "JSON"
	case models.TypeVector:
		dims := f.Dimensions
		if dims <= 0 {
			dims = DefaultEmbeddingDimensions
		}
		return fmt.Sprintf("VECTOR(%d)", dims)
	default:
		return "TEXT"
	}
}

// CreateTableSQL implements storage.Provider. MySQL has no schemas in the
// PostgreSQL sense; the schema prefix becomes a table-name prefix.
func (p *Provider) CreateTableSQL(d models.ModelDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", p.tableName(d.Schema, d.Table))

	for _, f := range d.Fields {
		colType := p.MapType(f)
		// TEXT columns cannot be primary keys without a length prefix
		if f.Name == d.PrimaryKey && f.Type == models.TypeText {
			colType = "VARCHAR(255)"
		}
		col := fmt.Sprintf("    %s %s", f.Name, colType)
		if !f.Nullable && f.Name != d.PrimaryKey {
			col += " NOT NULL"
		}
		b.WriteString(col + ",\n")
	}
	fmt.Fprintf(&b, "    PRIMARY KEY (%s),\n", d.PrimaryKey)
	fmt.Fprintf(&b, "    KEY idx_%s_tenant (tenant_id(64))\n", d.Table)
	b.WriteString(");\n")
	return b.String()
}

// CreateEmbeddingTableSQL implements storage.Provider
func (p *Provider) CreateEmbeddingTableSQL(d models.ModelDescriptor) string {
	table := p.tableName("embeddings", d.Table+"_embeddings")
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    tenant_id VARCHAR(64) NOT NULL,
    entity_id VARCHAR(36) NOT NULL,
    field_name VARCHAR(64) NOT NULL,
    embedding VECTOR(%d),
    embedding_provider VARCHAR(64) NOT NULL,
    vector_dimension INT NOT NULL,
    content_hash VARCHAR(64),
    created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    PRIMARY KEY (tenant_id, entity_id, field_name),
    VECTOR INDEX idx_%s_embeddings_vec ((VEC_COSINE_DISTANCE(embedding)))
);
`, table, DefaultEmbeddingDimensions, d.Table)
}

// UpsertSQL implements storage.Provider
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
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", c, c))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		p.tableName(d.Schema, d.Table),
		strings.Join(columns, ", "),
		strings.Join(tuples, ", "),
		strings.Join(updates, ", "))
}

// UpsertEmbeddingSQL implements storage.Provider
func (p *Provider) UpsertEmbeddingSQL(d models.ModelDescriptor) string {
	table := p.tableName("embeddings", d.Table+"_embeddings")
	return fmt.Sprintf(`INSERT INTO %s (tenant_id, entity_id, field_name, embedding, embedding_provider, vector_dimension, content_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    embedding = VALUES(embedding),
    embedding_provider = VALUES(embedding_provider),
    vector_dimension = VALUES(vector_dimension),
    content_hash = VALUES(content_hash)`, table)
}

// SemanticSearchSQL implements storage.Provider. VEC_COSINE_DISTANCE
// returns cosine distance; similarity = 1 - distance.
func (p *Provider) SemanticSearchSQL(d models.ModelDescriptor) (string, []string) {
	table := p.tableName("embeddings", d.Table+"_embeddings")
	sql := fmt.Sprintf(`SELECT entity_id, 1 - VEC_COSINE_DISTANCE(embedding, ?) AS score
FROM %s
WHERE tenant_id = ? AND field_name = ? AND 1 - VEC_COSINE_DISTANCE(embedding, ?) >= ?
ORDER BY VEC_COSINE_DISTANCE(embedding, ?) ASC, entity_id ASC
LIMIT ?`, table)
	return sql, []string{
		storage.ParamVector, storage.ParamTenant, storage.ParamField,
		storage.ParamVector, storage.ParamThreshold,
		storage.ParamVector, storage.ParamLimit,
	}
}

// VectorSimilaritySearchSQL implements storage.Provider
func (p *Provider) VectorSimilaritySearchSQL(table, vectorColumn, idColumn string) (string, []string) {
	sql := fmt.Sprintf(`SELECT %s, 1 - VEC_COSINE_DISTANCE(%s, ?) AS score
FROM %s
WHERE tenant_id = ? AND 1 - VEC_COSINE_DISTANCE(%s, ?) >= ?
ORDER BY VEC_COSINE_DISTANCE(%s, ?) ASC, %s ASC
LIMIT ?`, idColumn, vectorColumn, table, vectorColumn, vectorColumn, idColumn)
	return sql, []string{
		storage.ParamVector, storage.ParamTenant,
		storage.ParamVector, storage.ParamThreshold,
		storage.ParamVector, storage.ParamLimit,
	}
}

// Rebind implements storage.Provider. MySQL uses ? natively.
func (p *Provider) Rebind(query string) string {
	return sqlx.Rebind(sqlx.QUESTION, query)
}

func (p *Provider) tableName(schema, table string) string {
	if schema == "" {
		return table
	}
	return schema + "_" + table
}
