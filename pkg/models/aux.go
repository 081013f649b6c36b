package models

// Auxiliary models. The same generic repository machinery applies; their
// descriptors carry no embedding fields.

// Agent is a registered autonomous agent definition
type Agent struct {
	BaseModel
	Description string `db:"description" json:"description,omitempty"`
	Model       string `db:"model" json:"model,omitempty"`
	Enabled     bool   `db:"enabled" json:"enabled"`
}

// Descriptor implements Entity
func (a *Agent) Descriptor() ModelDescriptor { return AgentDescriptor }

// Function is a callable tool definition exposed to agents
type Function struct {
	BaseModel
	Description string  `db:"description" json:"description,omitempty"`
	Parameters  JSONMap `db:"parameters" json:"parameters,omitempty"`
}

// Descriptor implements Entity
func (f *Function) Descriptor() ModelDescriptor { return FunctionDescriptor }

// LanguageModelAPI describes a reachable LLM endpoint
type LanguageModelAPI struct {
	BaseModel
	Provider string `db:"provider" json:"provider"`
	Model    string `db:"model" json:"model"`
	BaseURL  string `db:"base_url" json:"base_url,omitempty"`
}

// Descriptor implements Entity
func (l *LanguageModelAPI) Descriptor() ModelDescriptor { return LanguageModelAPIDescriptor }

// Task is a unit of scheduled work owned by a tenant
type Task struct {
	BaseModel
	Status   string  `db:"status" json:"status"`
	Schedule string  `db:"schedule" json:"schedule,omitempty"`
	Spec     JSONMap `db:"spec" json:"spec,omitempty"`
}

// Descriptor implements Entity
func (t *Task) Descriptor() ModelDescriptor { return TaskDescriptor }

// Project groups related resources and sessions
type Project struct {
	BaseModel
	Description string `db:"description" json:"description,omitempty"`
}

// Descriptor implements Entity
func (p *Project) Descriptor() ModelDescriptor { return ProjectDescriptor }

// APIProxy is a stored upstream API route definition
type APIProxy struct {
	BaseModel
	TargetURL string  `db:"target_url" json:"target_url"`
	Headers   JSONMap `db:"headers" json:"headers,omitempty"`
}

// Descriptor implements Entity
func (a *APIProxy) Descriptor() ModelDescriptor { return APIProxyDescriptor }

// TokenUsage records LLM and embedding token consumption per tenant
type TokenUsage struct {
	BaseModel
	Model        string `db:"model" json:"model"`
	InputTokens  int64  `db:"input_tokens" json:"input_tokens"`
	OutputTokens int64  `db:"output_tokens" json:"output_tokens"`
}

// Descriptor implements Entity
func (t *TokenUsage) Descriptor() ModelDescriptor { return TokenUsageDescriptor }

// ErrorRecord persists a surfaced error for later inspection
type ErrorRecord struct {
	BaseModel
	Component string  `db:"component" json:"component"`
	Kind      string  `db:"kind" json:"kind"`
	Message   string  `db:"message" json:"message"`
	Context   JSONMap `db:"context" json:"context,omitempty"`
}

// Descriptor implements Entity
func (e *ErrorRecord) Descriptor() ModelDescriptor { return ErrorDescriptor }

var (
	AgentDescriptor = ModelDescriptor{
		Schema: "rem", Table: "agents", PrimaryKey: "id", KeyField: "name",
		Fields: withBase(
			FieldDescriptor{Name: "description", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "model", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "enabled", Type: TypeBool},
		),
	}

	FunctionDescriptor = ModelDescriptor{
		Schema: "rem", Table: "functions", PrimaryKey: "id", KeyField: "name",
		Fields: withBase(
			FieldDescriptor{Name: "description", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "parameters", Type: TypeJSON, Nullable: true},
		),
	}

	LanguageModelAPIDescriptor = ModelDescriptor{
		Schema: "rem", Table: "language_model_apis", PrimaryKey: "id", KeyField: "name",
		Fields: withBase(
			FieldDescriptor{Name: "provider", Type: TypeText},
			FieldDescriptor{Name: "model", Type: TypeText},
			FieldDescriptor{Name: "base_url", Type: TypeText, Nullable: true},
		),
	}

	TaskDescriptor = ModelDescriptor{
		Schema: "rem", Table: "tasks", PrimaryKey: "id", KeyField: "name",
		Fields: withBase(
			FieldDescriptor{Name: "status", Type: TypeText},
			FieldDescriptor{Name: "schedule", Type: TypeText, Nullable: true},
			FieldDescriptor{Name: "spec", Type: TypeJSON, Nullable: true},
		),
	}

	ProjectDescriptor = ModelDescriptor{
		Schema: "rem", Table: "projects", PrimaryKey: "id", KeyField: "name",
		Fields: withBase(
			FieldDescriptor{Name: "description", Type: TypeText, Nullable: true},
		),
	}

	APIProxyDescriptor = ModelDescriptor{
		Schema: "rem", Table: "api_proxies", PrimaryKey: "id", KeyField: "name",
		Fields: withBase(
			FieldDescriptor{Name: "target_url", Type: TypeText},
			FieldDescriptor{Name: "headers", Type: TypeJSON, Nullable: true},
		),
	}

	TokenUsageDescriptor = ModelDescriptor{
		Schema: "rem", Table: "token_usage", PrimaryKey: "id", KeyField: "name",
		Fields: withBase(
			FieldDescriptor{Name: "model", Type: TypeText},
			FieldDescriptor{Name: "input_tokens", Type: TypeBigInt},
			FieldDescriptor{Name: "output_tokens", Type: TypeBigInt},
		),
	}

	ErrorDescriptor = ModelDescriptor{
		Schema: "rem", Table: "errors", PrimaryKey: "id", KeyField: "name",
		Fields: withBase(
			FieldDescriptor{Name: "component", Type: TypeText},
			FieldDescriptor{Name: "kind", Type: TypeText},
			FieldDescriptor{Name: "message", Type: TypeText},
			FieldDescriptor{Name: "context", Type: TypeJSON, Nullable: true},
		),
	}
)
