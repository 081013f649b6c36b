package models

import "fmt"

// ColumnType is the language-level field type mapped by a storage provider
// to a dialect-native column type
type ColumnType string

const (
	TypeUUID      ColumnType = "uuid"
	TypeText      ColumnType = "text"
	TypeInt       ColumnType = "int"
	TypeBigInt    ColumnType = "bigint"
	TypeFloat     ColumnType = "float"
	TypeBool      ColumnType = "bool"
	TypeTimestamp ColumnType = "timestamp"
	TypeJSON      ColumnType = "json"
	TypeVector    ColumnType = "vector"
)

// FieldDescriptor declares one column of a model table
type FieldDescriptor struct {
	// Name is the column name (and the db struct tag of the entity field)
	Name string

	// Type is the language-level type mapped by the provider
	Type ColumnType

	// Nullable marks the column as NULL-able
	Nullable bool

	// Embed marks the field for per-row embedding generation. One vector
	// per flagged field per row is written to the sibling embedding table.
	Embed bool

	// Dimensions is set for TypeVector fields
	Dimensions int
}

// ModelDescriptor is the static, compile-time registered description of a
// model. DDL generation and the generic tenant repository are pure
// functions of the descriptor set.
type ModelDescriptor struct {
	Schema     string
	Table      string
	PrimaryKey string
	// KeyField is the business key used for deterministic ids and
	// idempotent upserts (e.g. "uri" for files, "name" for moments)
	KeyField string
	Fields   []FieldDescriptor
}

// QualifiedTable returns the schema-qualified table name
func (d ModelDescriptor) QualifiedTable() string {
	if d.Schema == "" {
		return d.Table
	}
	return fmt.Sprintf("%s.%s", d.Schema, d.Table)
}

// EmbeddingTable returns the sibling embedding table name, by convention
// embeddings.<table>_embeddings
func (d ModelDescriptor) EmbeddingTable() string {
	return fmt.Sprintf("embeddings.%s_embeddings", d.Table)
}

// EmbeddingFields returns the names of fields flagged for embedding
func (d ModelDescriptor) EmbeddingFields() []string {
	var out []string
	for _, f := range d.Fields {
		if f.Embed {
			out = append(out, f.Name)
		}
	}
	return out
}

// Field returns the descriptor of a named field
func (d ModelDescriptor) Field(name string) (FieldDescriptor, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// ColumnNames returns all column names in declaration order
func (d ModelDescriptor) ColumnNames() []string {
	out := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		out = append(out, f.Name)
	}
	return out
}

// baseFields are the columns shared by every model table. (tenant_id, id)
// is the logical primary key of every core table.
func baseFields() []FieldDescriptor {
	return []FieldDescriptor{
		{Name: "id", Type: TypeUUID},
		{Name: "tenant_id", Type: TypeText},
		{Name: "name", Type: TypeText, Nullable: true},
		{Name: "metadata", Type: TypeJSON, Nullable: true},
		{Name: "created_at", Type: TypeTimestamp},
		{Name: "updated_at", Type: TypeTimestamp},
	}
}

func withBase(fields ...FieldDescriptor) []FieldDescriptor {
	return append(baseFields(), fields...)
}
