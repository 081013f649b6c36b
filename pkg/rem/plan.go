// Package rem implements the REM query language: a parser producing typed
// plans, a planner that binds plans to a tenant and validates table access,
// and an executor that dispatches plans to the tenant repository, the
// reverse entity index, and the graph walker.
package rem

import (
	"fmt"
	"strings"
)

// PlanKind tags the plan variant
type PlanKind string

const (
	PlanLookup   PlanKind = "lookup"
	PlanSearch   PlanKind = "search"
	PlanSelect   PlanKind = "select"
	PlanTraverse PlanKind = "traverse"
)

// Combinator selects the set operation applied over multi-key lookup
// results before hydration
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
	CombinatorNot Combinator = "NOT"
)

// Key is one lookup key, optionally carrying a per-key table override
type Key struct {
	Table string
	Value string
}

// Plan is the typed result of parsing a REM query string
type Plan struct {
	Kind PlanKind

	// Table is the target table: the IN clause, the per-key override, the
	// SELECT's FROM table, or the planner's default
	Table string

	// Keys holds the lookup keys (PlanLookup)
	Keys []Key

	// Text is the quoted search text (PlanSearch)
	Text string

	// SQL is the full statement (PlanSelect)
	SQL string

	// Seed and Depth drive graph traversal (PlanTraverse); Depth 0 means
	// the executor default
	Seed  string
	Depth int
}

// Format renders the plan back to canonical REM. Parsing the output yields
// an equivalent plan.
func (p *Plan) Format() string {
	switch p.Kind {
	case PlanLookup:
		keys := make([]string, len(p.Keys))
		for i, k := range p.Keys {
			keys[i] = formatKey(k)
		}
		out := "LOOKUP " + strings.Join(keys, ", ")
		if p.Table != "" {
			out += " IN " + p.Table
		}
		return out
	case PlanSearch:
		return fmt.Sprintf("SEARCH %q IN %s", p.Text, p.Table)
	case PlanSelect:
		return p.SQL
	case PlanTraverse:
		out := "TRAVERSE " + formatKey(Key{Value: p.Seed})
		if p.Depth > 0 {
			out += fmt.Sprintf(" DEPTH %d", p.Depth)
		}
		return out
	default:
		return ""
	}
}

func formatKey(k Key) string {
	v := k.Value
	if strings.ContainsAny(v, ", \t\"'") {
		v = fmt.Sprintf("%q", v)
	}
	if k.Table != "" {
		return k.Table + ":" + v
	}
	return v
}

// Result is the uniform query envelope
type Result struct {
	Success bool                     `json:"success"`
	Results []map[string]interface{} `json:"results"`
	Count   int                      `json:"count"`
	Query   string                   `json:"query"`
	Error   string                   `json:"error,omitempty"`
}
