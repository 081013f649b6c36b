package rem

import (
	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
)

// queryableTables is the SELECT/SEARCH/LOOKUP whitelist. The REM surface
// is not a general SQL endpoint; auxiliary tables stay internal.
var queryableTables = map[string]bool{
	"resources": true,
	"moments":   true,
	"sessions":  true,
	"files":     true,
}

// DefaultTable is used when a query names no table and the planner was
// built without an override
const DefaultTable = "resources"

// Planner binds parsed plans to a tenant and a default table. The tenant
// is fixed at construction and never read from the query text.
type Planner struct {
	tenantID     string
	defaultTable string
}

// NewPlanner creates a Planner for the tenant
func NewPlanner(tenantID, defaultTable string) (*Planner, error) {
	if tenantID == "" {
		return nil, commonerrors.Newf("rem", "NewPlanner", commonerrors.KindValidation, "tenant id is required")
	}
	if defaultTable == "" {
		defaultTable = DefaultTable
	}
	if !queryableTables[defaultTable] {
		return nil, commonerrors.Newf("rem", "NewPlanner", commonerrors.KindValidation,
			"table %q is not queryable", defaultTable)
	}
	return &Planner{tenantID: tenantID, defaultTable: defaultTable}, nil
}

// TenantID returns the bound tenant
func (p *Planner) TenantID() string { return p.tenantID }

// Plan parses the query and validates table access. Per-key table
// overrides on lookups are validated individually; the seed table of a
// traversal falls back to the default.
func (p *Planner) Plan(query string) (*Plan, error) {
	plan, err := Parse(query)
	if err != nil {
		return nil, err
	}

	if plan.Table == "" {
		plan.Table = p.defaultTable
	}
	if !queryableTables[plan.Table] {
		return nil, commonerrors.Newf("rem", "Plan", commonerrors.KindValidation,
			"table %q is not queryable", plan.Table)
	}

	if plan.Kind == PlanLookup {
		for _, k := range plan.Keys {
			if k.Table != "" && !queryableTables[k.Table] {
				return nil, commonerrors.Newf("rem", "Plan", commonerrors.KindValidation,
					"table %q is not queryable", k.Table)
			}
		}
	}
	return plan, nil
}
