package rem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/repository"
)

// mockRepo records calls and serves canned rows keyed by id
type mockRepo struct {
	rows       map[string]map[string]interface{}
	searchHits []repository.SearchHit
	steps      []repository.TraversalStep

	lastSearchText string
	lastQuery      string
	lastHint       string
}

func (m *mockRepo) FetchRows(_ context.Context, ids []string) ([]map[string]interface{}, error) {
	seen := map[string]bool{}
	var out []map[string]interface{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if row, ok := m.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *mockRepo) SemanticSearch(_ context.Context, query, _ string, _ int, _ float64) ([]repository.SearchHit, error) {
	m.lastSearchText = query
	return m.searchHits, nil
}

func (m *mockRepo) HydrateHits(ctx context.Context, hits []repository.SearchHit) ([]map[string]interface{}, error) {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return m.FetchRows(ctx, ids)
}

func (m *mockRepo) Traverse(_ context.Context, _ string, _ int, _ float64) ([]repository.TraversalStep, error) {
	return m.steps, nil
}

func (m *mockRepo) Query(_ context.Context, query, hint string, _ int) ([]map[string]interface{}, error) {
	m.lastQuery = query
	m.lastHint = hint
	var out []map[string]interface{}
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out, nil
}

// mockIndex serves reverse-index id lists keyed by entity id
type mockIndex struct {
	refs map[string][]string
	err  error
}

func (m *mockIndex) GetEntityRefs(_ context.Context, _, entityID, _ string) ([]string, error) {
	return m.refs[entityID], m.err
}

func (m *mockIndex) GetEntityRefsAnyType(_ context.Context, _, entityID string) ([]string, error) {
	return m.refs[entityID], m.err
}

func row(id string) map[string]interface{} {
	return map[string]interface{}{"id": id}
}

func newTestExecutor(t *testing.T, repo *mockRepo, index *mockIndex) *Executor {
	t.Helper()
	planner, err := NewPlanner("tenant-a", "resources")
	require.NoError(t, err)
	resolver := func(table string) (Repository, error) { return repo, nil }
	return NewExecutor(planner, resolver, index, ExecutorConfig{}, nil)
}

func TestExecute_LookupCombinators(t *testing.T) {
	repo := &mockRepo{rows: map[string]map[string]interface{}{
		"r1": row("r1"), "r2": row("r2"), "r3": row("r3"),
	}}
	index := &mockIndex{refs: map[string][]string{
		"sarah-chen": {"r1", "r2"},
		"tidb":       {"r2", "r3"},
	}}
	exec := newTestExecutor(t, repo, index)
	ctx := context.Background()

	// Default AND: only resources mentioning both
	res := exec.Execute(ctx, "LOOKUP sarah-chen, tidb IN resources")
	require.True(t, res.Success, res.Error)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "r2", res.Results[0]["id"])

	// OR: the union, first-seen order
	res = exec.ExecuteWith(ctx, "LOOKUP sarah-chen, tidb IN resources", CombinatorOr)
	require.True(t, res.Success)
	require.Equal(t, 3, res.Count)
	assert.Equal(t, "r1", res.Results[0]["id"])
	assert.Equal(t, "r3", res.Results[2]["id"])

	// NOT: first set minus the rest
	res = exec.ExecuteWith(ctx, "LOOKUP sarah-chen, tidb IN resources", CombinatorNot)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "r1", res.Results[0]["id"])
}

func TestExecute_LookupUUIDBypassesIndex(t *testing.T) {
	id := "01234567-89ab-cdef-0123-456789abcdef"
	repo := &mockRepo{rows: map[string]map[string]interface{}{id: row(id)}}
	exec := newTestExecutor(t, repo, &mockIndex{})

	res := exec.Execute(context.Background(), "LOOKUP "+id)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, id, res.Results[0]["id"])
}

func TestExecute_LookupUnknownKeyIsEmptySuccess(t *testing.T) {
	exec := newTestExecutor(t, &mockRepo{}, &mockIndex{})

	res := exec.Execute(context.Background(), "LOOKUP never-heard-of-it")
	require.True(t, res.Success)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.Results)
}

func TestExecute_SearchPreservesSimilarityOrder(t *testing.T) {
	repo := &mockRepo{
		rows: map[string]map[string]interface{}{
			"r1": row("r1"), "r2": row("r2"),
		},
		searchHits: []repository.SearchHit{
			{ID: "r2", Score: 0.9},
			{ID: "r1", Score: 0.6},
		},
	}
	exec := newTestExecutor(t, repo, &mockIndex{})

	res := exec.Execute(context.Background(), `SEARCH "neural networks" IN resources`)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Count)
	assert.Equal(t, "r2", res.Results[0]["id"])
	assert.Equal(t, "neural networks", repo.lastSearchText)
}

func TestExecute_SelectAppliesDefaultOrder(t *testing.T) {
	repo := &mockRepo{rows: map[string]map[string]interface{}{"r1": row("r1")}}
	exec := newTestExecutor(t, repo, &mockIndex{})

	res := exec.Execute(context.Background(), "SELECT id FROM resources WHERE ordinal = 1")
	require.True(t, res.Success)
	assert.Equal(t, repository.HintSQL, repo.lastHint)
	assert.Contains(t, repo.lastQuery, "ORDER BY created_at DESC")

	// An explicit ORDER BY is left alone
	exec.Execute(context.Background(), "SELECT id FROM resources ORDER BY ordinal")
	assert.NotContains(t, repo.lastQuery, "created_at DESC")

	// Default order lands before LIMIT
	exec.Execute(context.Background(), "SELECT id FROM resources LIMIT 5")
	assert.Contains(t, repo.lastQuery, "ORDER BY created_at DESC LIMIT 5")
}

func TestExecute_TraverseAnnotatesDepth(t *testing.T) {
	repo := &mockRepo{
		rows: map[string]map[string]interface{}{"r2": row("r2")},
		steps: []repository.TraversalStep{
			{SourceID: "r1", EntityID: "r2", Depth: 1, Weight: 0.8},
		},
	}
	exec := newTestExecutor(t, repo, &mockIndex{})

	res := exec.Execute(context.Background(), "TRAVERSE r1 DEPTH 2")
	require.True(t, res.Success)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, 1, res.Results[0]["_depth"])
	assert.InDelta(t, 0.8, res.Results[0]["_weight"].(float64), 1e-9)
}

func TestExecute_ParseFailureFillsEnvelope(t *testing.T) {
	exec := newTestExecutor(t, &mockRepo{}, &mockIndex{})

	res := exec.Execute(context.Background(), "EXPLODE everything")
	assert.False(t, res.Success)
	assert.Zero(t, res.Count)
	assert.Contains(t, res.Error, "offset 0")
	assert.Equal(t, "EXPLODE everything", res.Query)
}

func TestExecute_IndexErrorFails(t *testing.T) {
	index := &mockIndex{err: commonerrors.New("kv", "Get", commonerrors.KindTransient, errors.New("redis down"))}
	exec := newTestExecutor(t, &mockRepo{}, index)

	res := exec.Execute(context.Background(), "LOOKUP sarah-chen")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "redis down")
}
