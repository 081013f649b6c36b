package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/storage"
)

// Query hints accepted by Query
const (
	HintSQL      = "sql"
	HintSemantic = "semantic"
	HintHybrid   = "hybrid"
	HintGraph    = "graph"
)

// Traversal bounds
const (
	DefaultTraverseDepth = 2
	MaxTraverseDepth     = 5
)

// rrfK is the reciprocal-rank-fusion constant for hybrid ranking
const rrfK = 60

// SearchHit is one semantic search result, ordered by similarity
// descending with ties broken by id ascending
type SearchHit struct {
	ID    string
	Score float64
}

// TraversalStep is one edge followed during graph traversal
type TraversalStep struct {
	SourceID string  `json:"source_id"`
	EntityID string  `json:"entity_id"`
	Depth    int     `json:"depth"`
	Weight   float64 `json:"weight"`
	Kind     string  `json:"kind,omitempty"`
}

// SemanticSearch encodes the query and ranks the tenant's embedding rows
// by cosine similarity. An empty field searches the descriptor's first
// Embed field. Without an embedding provider the error is Dependency and
// the caller decides whether to degrade.
func (r *TenantRepository) SemanticSearch(ctx context.Context, query, field string, limit int, threshold float64) ([]SearchHit, error) {
	embedFields := r.desc.EmbeddingFields()
	if len(embedFields) == 0 {
		return nil, commonerrors.Newf("repository", "SemanticSearch", commonerrors.KindValidation,
			"table %q has no embedding fields", r.desc.Table)
	}
	if field == "" {
		field = embedFields[0]
	}
	if limit <= 0 {
		limit = defaultSelectLimit
	}
	if r.embeddings == nil {
		return nil, commonerrors.New("repository", "SemanticSearch",
			commonerrors.KindDependency, commonerrors.ErrNoEmbeddingProvider)
	}

	vec, err := r.embeddings.Encode(ctx, query)
	if err != nil {
		return nil, err
	}

	sqlStr, slots := r.provider.SemanticSearchSQL(r.desc)
	args := storage.BindParams(slots, map[string]interface{}{
		storage.ParamVector:    vec,
		storage.ParamTenant:    r.tenantID,
		storage.ParamField:     field,
		storage.ParamThreshold: threshold,
		storage.ParamLimit:     limit,
	})

	rows, err := r.pool.Execute(ctx, sqlStr, args...)
	if err != nil {
		return nil, r.classify("SemanticSearch", err)
	}

	hits := make([]SearchHit, 0, len(rows))
	for _, row := range rows {
		id, _ := row["entity_id"].(string)
		hits = append(hits, SearchHit{ID: id, Score: toFloat(row["score"])})
	}
	return hits, nil
}

// Traverse walks the tenant's graph_edges outward from seedID in BFS
// order. Edges below minWeight are not followed; each entity is visited
// once. Depth is clamped to [1, MaxTraverseDepth].
func (r *TenantRepository) Traverse(ctx context.Context, seedID string, depth int, minWeight float64) ([]TraversalStep, error) {
	if seedID == "" {
		return nil, commonerrors.Newf("repository", "Traverse", commonerrors.KindValidation, "seed id is required")
	}
	if depth <= 0 {
		depth = DefaultTraverseDepth
	}
	if depth > MaxTraverseDepth {
		depth = MaxTraverseDepth
	}

	visited := map[string]bool{seedID: true}
	frontier := []string{seedID}
	var steps []TraversalStep

	for d := 1; d <= depth && len(frontier) > 0; d++ {
		edges, err := r.loadEdges(ctx, frontier)
		if err != nil {
			return nil, err
		}

		var next []string
		for _, source := range frontier {
			outgoing := edges[source]
			sort.Slice(outgoing, func(i, j int) bool {
				if outgoing[i].Weight != outgoing[j].Weight {
					return outgoing[i].Weight > outgoing[j].Weight
				}
				return outgoing[i].TargetID < outgoing[j].TargetID
			})
			for _, edge := range outgoing {
				if edge.Weight < minWeight || edge.TargetID == "" || visited[edge.TargetID] {
					continue
				}
				visited[edge.TargetID] = true
				steps = append(steps, TraversalStep{
					SourceID: source,
					EntityID: edge.TargetID,
					Depth:    d,
					Weight:   edge.Weight,
					Kind:     edge.Kind,
				})
				next = append(next, edge.TargetID)
			}
		}
		frontier = next
	}
	return steps, nil
}

// loadEdges reads the graph_edges column for a frontier of ids
func (r *TenantRepository) loadEdges(ctx context.Context, ids []string) (map[string]models.GraphEdgeList, error) {
	if _, ok := r.desc.Field("graph_edges"); !ok {
		return nil, commonerrors.Newf("repository", "Traverse", commonerrors.KindValidation,
			"table %q carries no graph edges", r.desc.Table)
	}
	query, args, err := sqlx.In(fmt.Sprintf(
		"SELECT id, graph_edges FROM %s WHERE tenant_id = ? AND id IN (?)",
		r.desc.QualifiedTable()), r.tenantID, ids)
	if err != nil {
		return nil, commonerrors.New("repository", "Traverse", commonerrors.KindInternal, err)
	}

	rows, err := r.pool.DB().QueryxContext(ctx, r.provider.Rebind(query), args...)
	if err != nil {
		return nil, r.classify("Traverse", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]models.GraphEdgeList, len(ids))
	for rows.Next() {
		var id string
		var edges models.GraphEdgeList
		if err := rows.Scan(&id, &edges); err != nil {
			return nil, r.classify("Traverse", err)
		}
		out[id] = edges
	}
	return out, rows.Err()
}

// Query runs a raw query under one of the execution hints. The sql hint
// takes a SELECT statement and injects the tenant predicate; semantic and
// hybrid take free text; graph takes a seed entity id.
func (r *TenantRepository) Query(ctx context.Context, query, hint string, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = defaultSelectLimit
	}
	switch hint {
	case "", HintSQL:
		return r.querySQL(ctx, query)
	case HintSemantic:
		hits, err := r.SemanticSearch(ctx, query, "", limit, 0)
		if err != nil {
			return nil, err
		}
		return r.HydrateHits(ctx, hits)
	case HintHybrid:
		return r.queryHybrid(ctx, query, limit)
	case HintGraph:
		steps, err := r.Traverse(ctx, query, DefaultTraverseDepth, 0)
		if err != nil {
			return nil, err
		}
		hits := make([]SearchHit, len(steps))
		for i, s := range steps {
			hits[i] = SearchHit{ID: s.EntityID, Score: s.Weight}
		}
		return r.HydrateHits(ctx, hits)
	default:
		return nil, commonerrors.Newf("repository", "Query", commonerrors.KindValidation,
			"unknown query hint %q", hint)
	}
}

// querySQL validates the statement, injects the tenant predicate, and
// executes it through the pool
func (r *TenantRepository) querySQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	table, ok := storage.TableOf(query)
	if !ok {
		return nil, commonerrors.Newf("repository", "Query", commonerrors.KindValidation,
			"statement has no FROM table")
	}
	if table != r.desc.Table && table != r.desc.QualifiedTable() {
		return nil, commonerrors.Newf("repository", "Query", commonerrors.KindValidation,
			"statement targets %q, repository is bound to %q", table, r.desc.Table)
	}
	rewritten, err := storage.InjectTenantPredicate(query)
	if err != nil {
		return nil, commonerrors.New("repository", "Query", commonerrors.KindValidation, err)
	}
	rows, err := r.pool.Execute(ctx, r.provider.Rebind(rewritten), r.tenantID)
	if err != nil {
		return nil, r.classify("Query", err)
	}
	return rows, nil
}

// queryHybrid fuses the semantic ranking with a keyword ranking over the
// first Embed field using reciprocal rank fusion
func (r *TenantRepository) queryHybrid(ctx context.Context, query string, limit int) ([]map[string]interface{}, error) {
	scores := make(map[string]float64)

	semantic, err := r.SemanticSearch(ctx, query, "", limit, 0)
	if err != nil && !commonerrors.IsDependency(err) {
		return nil, err
	}
	for rank, hit := range semantic {
		scores[hit.ID] += 1.0 / float64(rrfK+rank+1)
	}

	keyword, err := r.keywordSearch(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	for rank, id := range keyword {
		scores[id] += 1.0 / float64(rrfK+rank+1)
	}

	fused := make([]SearchHit, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, SearchHit{ID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return r.HydrateHits(ctx, fused)
}

// keywordSearch ranks rows whose first Embed field contains the query
// text, newest first
func (r *TenantRepository) keywordSearch(ctx context.Context, query string, limit int) ([]string, error) {
	fields := r.desc.EmbeddingFields()
	if len(fields) == 0 {
		return nil, nil
	}
	stmt := r.provider.Rebind(fmt.Sprintf(
		"SELECT id FROM %s WHERE tenant_id = ? AND LOWER(%s) LIKE ? ESCAPE '#' ORDER BY created_at DESC, id LIMIT ?",
		r.desc.QualifiedTable(), fields[0]))
	// Query text is matched literally; % and _ do not wildcard
	escaped := strings.NewReplacer("#", "##", "%", "#%", "_", "#_").Replace(strings.ToLower(query))
	var ids []string
	err := r.pool.DB().SelectContext(ctx, &ids, stmt,
		r.tenantID, "%"+escaped+"%", limit)
	if err != nil {
		return nil, r.classify("keywordSearch", err)
	}
	return ids, nil
}

// FetchRows loads full rows for the ids as maps, preserving input order
// and suppressing duplicates. Missing ids are dropped.
func (r *TenantRepository) FetchRows(ctx context.Context, ids []string) ([]map[string]interface{}, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ordered = append(ordered, id)
	}

	query, args, err := sqlx.In(fmt.Sprintf(
		"SELECT %s FROM %s WHERE tenant_id = ? AND id IN (?)",
		strings.Join(r.desc.ColumnNames(), ", "), r.desc.QualifiedTable()),
		r.tenantID, ordered)
	if err != nil {
		return nil, commonerrors.New("repository", "FetchRows", commonerrors.KindInternal, err)
	}
	rows, err := r.pool.Execute(ctx, r.provider.Rebind(query), args...)
	if err != nil {
		return nil, r.classify("FetchRows", err)
	}

	byID := make(map[string]map[string]interface{}, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(string); ok {
			byID[id] = row
		}
	}
	out := make([]map[string]interface{}, 0, len(ordered))
	for _, id := range ordered {
		if row, ok := byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// HydrateHits loads full rows for the hits, preserving hit order and
// attaching the score as "_score". Hits whose rows have been deleted are
// dropped.
func (r *TenantRepository) HydrateHits(ctx context.Context, hits []SearchHit) ([]map[string]interface{}, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	query, args, err := sqlx.In(fmt.Sprintf(
		"SELECT %s FROM %s WHERE tenant_id = ? AND id IN (?)",
		strings.Join(r.desc.ColumnNames(), ", "), r.desc.QualifiedTable()),
		r.tenantID, ids)
	if err != nil {
		return nil, commonerrors.New("repository", "HydrateHits", commonerrors.KindInternal, err)
	}
	rows, err := r.pool.Execute(ctx, r.provider.Rebind(query), args...)
	if err != nil {
		return nil, r.classify("HydrateHits", err)
	}

	byID := make(map[string]map[string]interface{}, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(string); ok {
			byID[id] = row
		}
	}
	out := make([]map[string]interface{}, 0, len(hits))
	for _, h := range hits {
		row, ok := byID[h.ID]
		if !ok {
			continue
		}
		row["_score"] = h.Score
		out = append(out, row)
	}
	return out, nil
}

// toFloat normalizes driver score values; the MySQL driver may hand back
// numeric text
func toFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(t), 64)
		return f
	default:
		return 0
	}
}
