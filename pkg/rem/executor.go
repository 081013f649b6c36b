package rem

import (
	"context"
	"regexp"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/observability"
	"github.com/S-Corkum/remstore/pkg/repository"
)

// Repository is the per-table surface the executor drives. Satisfied by
// *repository.TenantRepository.
type Repository interface {
	FetchRows(ctx context.Context, ids []string) ([]map[string]interface{}, error)
	SemanticSearch(ctx context.Context, query, field string, limit int, threshold float64) ([]repository.SearchHit, error)
	HydrateHits(ctx context.Context, hits []repository.SearchHit) ([]map[string]interface{}, error)
	Traverse(ctx context.Context, seedID string, depth int, minWeight float64) ([]repository.TraversalStep, error)
	Query(ctx context.Context, query, hint string, limit int) ([]map[string]interface{}, error)
}

// ReverseIndex resolves non-uuid lookup keys to resource id sets.
// Satisfied by *kv.DualStore.
type ReverseIndex interface {
	GetEntityRefs(ctx context.Context, tenantID, entityID, entityType string) ([]string, error)
	GetEntityRefsAnyType(ctx context.Context, tenantID, entityID string) ([]string, error)
}

// RepositoryResolver hands out the repository bound to a table. Tables
// reaching the resolver have already passed the planner whitelist.
type RepositoryResolver func(table string) (Repository, error)

var uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

var (
	orderByRe = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	limitRe   = regexp.MustCompile(`(?i)\bLIMIT\b`)
)

// ExecutorConfig carries execution bounds
type ExecutorConfig struct {
	// SearchLimit bounds SEARCH and SELECT result sets
	SearchLimit int

	// SearchThreshold is the minimum similarity for SEARCH hits
	SearchThreshold float64

	// TraverseMinWeight prunes graph edges below the weight
	TraverseMinWeight float64
}

// Executor dispatches plans to the repositories and the reverse index
type Executor struct {
	planner *Planner
	repos   RepositoryResolver
	index   ReverseIndex
	cfg     ExecutorConfig
	logger  observability.Logger
}

// NewExecutor creates an Executor over the planner, repository resolver,
// and reverse index
func NewExecutor(planner *Planner, repos RepositoryResolver, index ReverseIndex,
	cfg ExecutorConfig, logger observability.Logger) *Executor {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 100
	}
	if logger == nil {
		logger = observability.NewStandardLogger("rem.executor")
	}
	return &Executor{planner: planner, repos: repos, index: index, cfg: cfg, logger: logger}
}

// Execute parses and runs the query. Multi-key lookups intersect by
// default; see ExecuteWith for explicit combinators. Errors are carried in
// the envelope, never panicked or dropped.
func (e *Executor) Execute(ctx context.Context, query string) *Result {
	return e.ExecuteWith(ctx, query, CombinatorAnd)
}

// ExecuteWith runs the query with an explicit lookup combinator
func (e *Executor) ExecuteWith(ctx context.Context, query string, comb Combinator) *Result {
	plan, err := e.planner.Plan(query)
	if err != nil {
		return e.fail(query, err)
	}

	var rows []map[string]interface{}
	switch plan.Kind {
	case PlanLookup:
		rows, err = e.runLookup(ctx, plan, comb)
	case PlanSearch:
		rows, err = e.runSearch(ctx, plan)
	case PlanSelect:
		rows, err = e.runSelect(ctx, plan)
	case PlanTraverse:
		rows, err = e.runTraverse(ctx, plan)
	default:
		err = commonerrors.Newf("rem", "Execute", commonerrors.KindInternal, "unhandled plan kind %q", plan.Kind)
	}

	if err != nil {
		// A missing id or index key is an empty result, not a failure
		if commonerrors.IsNotFound(err) {
			return e.ok(query, nil)
		}
		return e.fail(query, err)
	}
	return e.ok(query, rows)
}

// runLookup resolves each key to an id set, applies the combinator, and
// hydrates in combined order with duplicates suppressed
func (e *Executor) runLookup(ctx context.Context, plan *Plan, comb Combinator) ([]map[string]interface{}, error) {
	if len(plan.Keys) == 0 {
		return nil, nil
	}

	sets := make([][]string, 0, len(plan.Keys))
	idTable := make(map[string]string)
	for _, key := range plan.Keys {
		table := plan.Table
		if key.Table != "" {
			table = key.Table
		}

		var ids []string
		if uuidRe.MatchString(key.Value) {
			ids = []string{key.Value}
		} else {
			var err error
			ids, err = e.index.GetEntityRefsAnyType(ctx, e.planner.TenantID(), key.Value)
			if err != nil && !commonerrors.IsNotFound(err) {
				return nil, err
			}
		}
		for _, id := range ids {
			if _, claimed := idTable[id]; !claimed {
				idTable[id] = table
			}
		}
		sets = append(sets, ids)
	}

	combined := combine(sets, comb)
	if len(combined) == 0 {
		return nil, nil
	}

	// Hydrate per table, then reassemble in combined order
	byTable := make(map[string][]string)
	for _, id := range combined {
		t := idTable[id]
		byTable[t] = append(byTable[t], id)
	}
	byID := make(map[string]map[string]interface{}, len(combined))
	for table, ids := range byTable {
		repo, err := e.repos(table)
		if err != nil {
			return nil, err
		}
		rows, err := repo.FetchRows(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if id, ok := row["id"].(string); ok {
				byID[id] = row
			}
		}
	}

	out := make([]map[string]interface{}, 0, len(combined))
	for _, id := range combined {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (e *Executor) runSearch(ctx context.Context, plan *Plan) ([]map[string]interface{}, error) {
	repo, err := e.repos(plan.Table)
	if err != nil {
		return nil, err
	}
	hits, err := repo.SemanticSearch(ctx, plan.Text, "", e.cfg.SearchLimit, e.cfg.SearchThreshold)
	if err != nil {
		return nil, err
	}
	return repo.HydrateHits(ctx, hits)
}

func (e *Executor) runSelect(ctx context.Context, plan *Plan) ([]map[string]interface{}, error) {
	repo, err := e.repos(plan.Table)
	if err != nil {
		return nil, err
	}
	return repo.Query(ctx, withDefaultOrder(plan.SQL), repository.HintSQL, e.cfg.SearchLimit)
}

func (e *Executor) runTraverse(ctx context.Context, plan *Plan) ([]map[string]interface{}, error) {
	repo, err := e.repos(plan.Table)
	if err != nil {
		return nil, err
	}
	steps, err := repo.Traverse(ctx, plan.Seed, plan.Depth, e.cfg.TraverseMinWeight)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, nil
	}

	ids := make([]string, len(steps))
	stepByID := make(map[string]repository.TraversalStep, len(steps))
	for i, s := range steps {
		ids[i] = s.EntityID
		stepByID[s.EntityID] = s
	}
	rows, err := repo.FetchRows(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if id, ok := row["id"].(string); ok {
			if s, found := stepByID[id]; found {
				row["_depth"] = s.Depth
				row["_weight"] = s.Weight
			}
		}
	}
	return rows, nil
}

// combine applies the set operation over the per-key id lists. AND keeps
// the first list's order; OR keeps first-seen order; NOT subtracts the
// rest from the first list.
func combine(sets [][]string, comb Combinator) []string {
	if len(sets) == 0 {
		return nil
	}
	if len(sets) == 1 {
		return dedupe(sets[0])
	}

	switch comb {
	case CombinatorOr:
		var all []string
		for _, s := range sets {
			all = append(all, s...)
		}
		return dedupe(all)
	case CombinatorNot:
		excluded := make(map[string]bool)
		for _, s := range sets[1:] {
			for _, id := range s {
				excluded[id] = true
			}
		}
		var out []string
		for _, id := range dedupe(sets[0]) {
			if !excluded[id] {
				out = append(out, id)
			}
		}
		return out
	default: // AND
		counts := make(map[string]int)
		for _, s := range sets {
			for _, id := range dedupe(s) {
				counts[id]++
			}
		}
		var out []string
		for _, id := range dedupe(sets[0]) {
			if counts[id] == len(sets) {
				out = append(out, id)
			}
		}
		return out
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// withDefaultOrder applies the SELECT default ordering (created_at DESC)
// when the statement specifies none
func withDefaultOrder(sql string) string {
	if orderByRe.MatchString(sql) {
		return sql
	}
	if loc := limitRe.FindStringIndex(sql); loc != nil {
		return sql[:loc[0]] + "ORDER BY created_at DESC " + sql[loc[0]:]
	}
	return sql + " ORDER BY created_at DESC"
}

func (e *Executor) ok(query string, rows []map[string]interface{}) *Result {
	return &Result{Success: true, Results: rows, Count: len(rows), Query: query}
}

func (e *Executor) fail(query string, err error) *Result {
	e.logger.Debug("query failed", map[string]interface{}{
		"query": query,
		"kind":  string(commonerrors.KindOf(err)),
		"error": err.Error(),
	})
	return &Result{Success: false, Query: query, Error: err.Error()}
}
