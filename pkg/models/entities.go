package models

import (
	"time"
)

// Entity is the capability set the tenant repository requires of every
// model instance
type Entity interface {
	GetID() string
	SetID(id string)
	GetTenantID() string
	SetTenantID(tenant string)
	Descriptor() ModelDescriptor
	Touch(now time.Time)
}

// RelatedEntityCarrier is implemented by entities whose related_entities
// list feeds the reverse entity index
type RelatedEntityCarrier interface {
	GetRelatedEntities() []RelatedEntity
}

// BaseModel carries the columns shared by every model table
type BaseModel struct {
	ID        string    `db:"id" json:"id"`
	TenantID  string    `db:"tenant_id" json:"tenant_id"`
	Name      string    `db:"name" json:"name,omitempty"`
	Metadata  JSONMap   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// GetID returns the entity id
func (b *BaseModel) GetID() string { return b.ID }

// SetID sets the entity id
func (b *BaseModel) SetID(id string) { b.ID = id }

// GetTenantID returns the owning tenant
func (b *BaseModel) GetTenantID() string { return b.TenantID }

// SetTenantID sets the owning tenant
func (b *BaseModel) SetTenantID(tenant string) { b.TenantID = tenant }

// Touch stamps created_at (first write only) and updated_at
func (b *BaseModel) Touch(now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// Resource is the atomic content-bearing entity: a chunk or a document
// summary produced by ingestion or dreaming
type Resource struct {
	BaseModel
	Content           string            `db:"content" json:"content"`
	Summary           string            `db:"summary" json:"summary,omitempty"`
	Category          string            `db:"category" json:"category,omitempty"`
	Ordinal           int               `db:"ordinal" json:"ordinal"`
	URI               string            `db:"uri" json:"uri,omitempty"`
	ResourceTimestamp *time.Time        `db:"resource_timestamp" json:"resource_timestamp,omitempty"`
	RelatedEntities   RelatedEntityList `db:"related_entities" json:"related_entities,omitempty"`
	GraphEdges        GraphEdgeList     `db:"graph_edges" json:"graph_edges,omitempty"`
}

// Descriptor implements Entity
func (r *Resource) Descriptor() ModelDescriptor { return ResourceDescriptor }

// GetRelatedEntities implements RelatedEntityCarrier
func (r *Resource) GetRelatedEntities() []RelatedEntity { return r.RelatedEntities }

// File is a source artifact descriptor. Its id is deterministic:
// uuid5(DNS, tenant_id + ":" + uri).
type File struct {
	BaseModel
	URI      string `db:"uri" json:"uri"`
	FileSize int64  `db:"file_size" json:"file_size"`
}

// Descriptor implements Entity
func (f *File) Descriptor() ModelDescriptor { return FileDescriptor }

// SessionType values
const (
	SessionTypeChat     = "chat"
	SessionTypeInternal = "internal"
)

// SessionMessage is one turn of a session. When Compressed is set the full
// body lives in KV under session-{session_id}-msg-{ordinal} and Content
// holds a short synopsis.
type SessionMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Ordinal    int    `json:"ordinal"`
	Compressed bool   `json:"_compressed,omitempty"`
}

// Session is a conversation header
type Session struct {
	BaseModel
	Query       string  `db:"query" json:"query,omitempty"`
	SessionType string  `db:"session_type" json:"session_type"`
	UserID      string  `db:"user_id" json:"user_id,omitempty"`
	Messages    JSONMap `db:"messages" json:"messages,omitempty"`
}

// Descriptor implements Entity
func (s *Session) Descriptor() ModelDescriptor { return SessionDescriptor }

// Moment is a dreaming-derived interpretive event over one or more
// resources and sessions. Idempotent on (tenant_id, name,
// resource_timestamp).
type Moment struct {
	BaseModel
	Content               string     `db:"content" json:"content"`
	Summary               string     `db:"summary" json:"summary,omitempty"`
	ResourceTimestamp     *time.Time `db:"resource_timestamp" json:"resource_timestamp,omitempty"`
	ResourceEndsTimestamp *time.Time `db:"resource_ends_timestamp" json:"resource_ends_timestamp,omitempty"`
	MomentType            string     `db:"moment_type" json:"moment_type,omitempty"`
	EmotionTags           StringList `db:"emotion_tags" json:"emotion_tags,omitempty"`
	TopicTags             StringList `db:"topic_tags" json:"topic_tags,omitempty"`
	PresentPersons        PersonMap  `db:"present_persons" json:"present_persons,omitempty"`
	Location              string     `db:"location" json:"location,omitempty"`
}

// Descriptor implements Entity
func (m *Moment) Descriptor() ModelDescriptor { return MomentDescriptor }

// Job statuses
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job records one invocation of a worker pipeline
type Job struct {
	BaseModel
	Pipeline    string     `db:"pipeline" json:"pipeline"`
	Status      string     `db:"status" json:"status"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Result      JSONMap    `db:"result" json:"result,omitempty"`
	ErrorText   string     `db:"error_text" json:"error_text,omitempty"`
}

// Descriptor implements Entity
func (j *Job) Descriptor() ModelDescriptor { return JobDescriptor }

// Tenant is the isolation unit. Metadata carries per-tenant settings such
// as the digest email recipient.
type Tenant struct {
	BaseModel
	Email string `db:"email" json:"email,omitempty"`
}

// Descriptor implements Entity
func (t *Tenant) Descriptor() ModelDescriptor { return TenantDescriptor }

// User is a tenant-scoped principal
type User struct {
	BaseModel
	Email   string `db:"email" json:"email,omitempty"`
	Summary string `db:"summary" json:"summary,omitempty"`
}

// Descriptor implements Entity
func (u *User) Descriptor() ModelDescriptor { return UserDescriptor }

// Core model descriptors. Registered at compile time; DDL generation is a
// pure function of these.
var (
	ResourceDescriptor = ModelDescriptor{
		Schema:     "rem",
		Table:      "resources",
		PrimaryKey: "id",
		KeyField:   "uri",
		Fields: withBase(
			FieldDescriptor{Name: "content", Type: TypeText, Embed: true},
			FieldDescriptor{Name: "summary", Type: TypeText, Nullable: true, Embed: true},
			FieldDescriptor{Name: "category", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "ordinal", Type: TypeInt},
			FieldDescriptor{Name: "uri", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "resource_timestamp", Type: TypeTimestamp, Nullable: true},
			FieldDescriptor{Name: "related_entities", Type: TypeJSON, Nullable: true},
			FieldDescriptor{Name: "graph_edges", Type: TypeJSON, Nullable: true},
		),
	}

	FileDescriptor = ModelDescriptor{
		Schema:     "rem",
		Table:      "files",
		PrimaryKey: "id",
		KeyField:   "uri",
		Fields: withBase(
			FieldDescriptor{Name: "uri", Type: TypeText},
			FieldDescriptor{Name: "file_size", Type: TypeBigInt},
		),
	}

	SessionDescriptor = ModelDescriptor{
		Schema:     "rem",
		Table:      "sessions",
		PrimaryKey: "id",
		KeyField:   "name",
		Fields: withBase(
			FieldDescriptor{Name: "query", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "session_type", Type: TypeText},
			FieldDescriptor{Name: "user_id", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "messages", Type: TypeJSON, Nullable: true},
		),
	}

	MomentDescriptor = ModelDescriptor{
		Schema:     "rem",
		Table:      "moments",
		PrimaryKey: "id",
		KeyField:   "name",
		Fields: withBase(
			FieldDescriptor{Name: "content", Type: TypeText, Embed: true},
			FieldDescriptor{Name: "summary", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "resource_timestamp", Type: TypeTimestamp, Nullable: true},
			FieldDescriptor{Name: "resource_ends_timestamp", Type: TypeTimestamp, Nullable: true},
			FieldDescriptor{Name: "moment_type", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "emotion_tags", Type: TypeJSON, Nullable: true},
			FieldDescriptor{Name: "topic_tags", Type: TypeJSON, Nullable: true},
			FieldDescriptor{Name: "present_persons", Type: TypeJSON, Nullable: true},
			FieldDescriptor{Name: "location", Type: TypeText, Nullable: true},
		),
	}

	JobDescriptor = ModelDescriptor{
		Schema:     "rem",
		Table:      "jobs",
		PrimaryKey: "id",
		KeyField:   "name",
		Fields: withBase(
			FieldDescriptor{Name: "pipeline", Type: TypeText},
			FieldDescriptor{Name: "status", Type: TypeText},
			FieldDescriptor{Name: "started_at", Type: TypeTimestamp, Nullable: true},
			FieldDescriptor{Name: "completed_at", Type: TypeTimestamp, Nullable: true},
			FieldDescriptor{Name: "result", Type: TypeJSON, Nullable: true},
			FieldDescriptor{Name: "error_text", Type: TypeText, Nullable: true},
		),
	}

	TenantDescriptor = ModelDescriptor{
		Schema:     "rem",
		Table:      "tenants",
		PrimaryKey: "id",
		KeyField:   "name",
		Fields: withBase(
			FieldDescriptor{Name: "email", Type: TypeText, Nullable: true},
		),
	}

	UserDescriptor = ModelDescriptor{
		Schema:     "rem",
		Table:      "users",
		PrimaryKey: "id",
		KeyField:   "email",
		Fields: withBase(
			FieldDescriptor{Name: "email", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "summary", Type: TypeText, Nullable: true},
		),
	}
)
