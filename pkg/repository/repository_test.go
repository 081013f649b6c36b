package repository

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/embedding"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/storage"
	"github.com/S-Corkum/remstore/pkg/storage/postgres"
)

const testTenant = "tenant-a"

func newTestRepo(t *testing.T, desc models.ModelDescriptor, withEmbeddings bool) (*TenantRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	provider := postgres.New(storage.Config{})
	pool := storage.NewPool(sqlxDB, storage.Config{}, nil)

	var svc *embedding.Service
	if withEmbeddings {
		prov, err := embedding.Resolve("mock", embedding.Config{Dimensions: 8})
		require.NoError(t, err)
		svc = embedding.NewService(prov, nil)
	}

	repo, err := New(testTenant, desc, provider, pool, nil, svc, nil)
	require.NoError(t, err)
	return repo, mock
}

func TestNew_RequiresTenant(t *testing.T) {
	_, err := New("", models.FileDescriptor, nil, nil, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, commonerrors.IsValidation(err))
}

func TestUpsertEntities_TenantMismatch(t *testing.T) {
	repo, mock := newTestRepo(t, models.FileDescriptor, false)

	file := &models.File{URI: "buckets/tenant-b/docs/a.txt"}
	file.SetTenantID("tenant-b")

	err := repo.UpsertEntities(context.Background(), []models.Entity{file})
	require.Error(t, err)
	assert.True(t, commonerrors.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEntities_ClaimsTenantAndAssignsID(t *testing.T) {
	repo, mock := newTestRepo(t, models.FileDescriptor, false)

	upsert := repo.provider.Rebind(repo.provider.UpsertSQL(models.FileDescriptor, models.FileDescriptor.ColumnNames(), 1))
	mock.ExpectExec(regexp.QuoteMeta(upsert)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	file := &models.File{URI: "buckets/tenant-a/docs/a.txt", FileSize: 42}
	err := repo.UpsertEntities(context.Background(), []models.Entity{file})
	require.NoError(t, err)

	assert.Equal(t, testTenant, file.GetTenantID())
	assert.NotEmpty(t, file.GetID())
	assert.False(t, file.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEntities_WritesEmbeddingRows(t *testing.T) {
	repo, mock := newTestRepo(t, models.ResourceDescriptor, true)
	desc := models.ResourceDescriptor

	upsert := repo.provider.Rebind(repo.provider.UpsertSQL(desc, desc.ColumnNames(), 1))
	mock.ExpectExec(regexp.QuoteMeta(upsert)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT entity_id, field_name, content_hash FROM embeddings.resources_embeddings WHERE tenant_id = $1 AND entity_id IN ($2)")).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "field_name", "content_hash"}))

	// Content is set, summary is empty: exactly one embedding row
	embUpsert := repo.provider.Rebind(repo.provider.UpsertEmbeddingSQL(desc))
	mock.ExpectExec(regexp.QuoteMeta(embUpsert)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := &models.Resource{Content: "the lighthouse keeper kept a journal"}
	err := repo.UpsertEntities(context.Background(), []models.Entity{res})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEntities_SkipsUnchangedEmbedding(t *testing.T) {
	repo, mock := newTestRepo(t, models.ResourceDescriptor, true)
	desc := models.ResourceDescriptor

	content := "the lighthouse keeper kept a journal"
	res := &models.Resource{Content: content}
	res.SetID(models.NewID())

	upsert := repo.provider.Rebind(repo.provider.UpsertSQL(desc, desc.ColumnNames(), 1))
	mock.ExpectExec(regexp.QuoteMeta(upsert)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Stored hash matches the new content: no embedding write
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT entity_id, field_name, content_hash FROM embeddings.resources_embeddings WHERE tenant_id = $1 AND entity_id IN ($2)")).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "field_name", "content_hash"}).
			AddRow(res.GetID(), "content", embedding.ContentHash(content)))

	err := repo.UpsertEntities(context.Background(), []models.Entity{res})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t, models.FileDescriptor, false)

	mock.ExpectQuery("SELECT .+ FROM rem.files WHERE tenant_id = .+ AND id = .+").
		WillReturnRows(sqlmock.NewRows(models.FileDescriptor.ColumnNames()))

	var file models.File
	err := repo.Get(context.Background(), "00000000-0000-0000-0000-000000000001", &file)
	require.Error(t, err)
	assert.True(t, commonerrors.IsNotFound(err))
}

func TestSelect_RejectsUnknownColumns(t *testing.T) {
	repo, _ := newTestRepo(t, models.FileDescriptor, false)

	var files []models.File
	err := repo.Select(context.Background(), map[string]interface{}{"no_such_col": 1}, "", 0, &files)
	require.Error(t, err)
	assert.True(t, commonerrors.IsValidation(err))

	err = repo.Select(context.Background(), nil, "no_such_col", 0, &files)
	require.Error(t, err)
	assert.True(t, commonerrors.IsValidation(err))

	err = repo.Select(context.Background(), nil, "created_at SIDEWAYS", 0, &files)
	require.Error(t, err)
	assert.True(t, commonerrors.IsValidation(err))
}

func TestSemanticSearch_PreservesRankOrder(t *testing.T) {
	repo, mock := newTestRepo(t, models.ResourceDescriptor, true)

	sqlStr, _ := repo.provider.SemanticSearchSQL(models.ResourceDescriptor)
	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "score"}).
			AddRow("id-high", 0.93).
			AddRow("id-mid", 0.71).
			AddRow("id-low", 0.55))

	hits, err := repo.SemanticSearch(context.Background(), "lighthouse journal", "", 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "id-high", hits[0].ID)
	assert.InDelta(t, 0.93, hits[0].Score, 1e-9)
	assert.Equal(t, "id-low", hits[2].ID)
}

func TestSemanticSearch_NoProviderIsDependency(t *testing.T) {
	repo, _ := newTestRepo(t, models.ResourceDescriptor, false)

	_, err := repo.SemanticSearch(context.Background(), "anything", "", 10, 0)
	require.Error(t, err)
	assert.True(t, commonerrors.IsDependency(err))
}

func TestTraverse_BFSWithWeightThreshold(t *testing.T) {
	repo, mock := newTestRepo(t, models.ResourceDescriptor, false)

	edgesA, _ := json.Marshal(models.GraphEdgeList{
		{TargetID: "node-b", Weight: 0.9, Kind: "mentions"},
		{TargetID: "node-x", Weight: 0.2, Kind: "mentions"},
	})
	mock.ExpectQuery("SELECT id, graph_edges FROM rem.resources WHERE tenant_id = .+ AND id IN").
		WillReturnRows(sqlmock.NewRows([]string{"id", "graph_edges"}).
			AddRow("node-a", edgesA))

	edgesB, _ := json.Marshal(models.GraphEdgeList{
		{TargetID: "node-c", Weight: 0.8, Kind: "mentions"},
		{TargetID: "node-a", Weight: 0.7, Kind: "mentions"}, // back edge, already visited
	})
	mock.ExpectQuery("SELECT id, graph_edges FROM rem.resources WHERE tenant_id = .+ AND id IN").
		WillReturnRows(sqlmock.NewRows([]string{"id", "graph_edges"}).
			AddRow("node-b", edgesB))

	steps, err := repo.Traverse(context.Background(), "node-a", 2, 0.5)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, "node-b", steps[0].EntityID)
	assert.Equal(t, 1, steps[0].Depth)
	assert.Equal(t, "node-c", steps[1].EntityID)
	assert.Equal(t, 2, steps[1].Depth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTraverse_ClampsDepth(t *testing.T) {
	repo, mock := newTestRepo(t, models.ResourceDescriptor, false)

	// Depth 99 clamps to 5; the walk ends early once the frontier drains
	mock.ExpectQuery("SELECT id, graph_edges FROM rem.resources").
		WillReturnRows(sqlmock.NewRows([]string{"id", "graph_edges"}).
			AddRow("node-a", []byte("[]")))

	steps, err := repo.Traverse(context.Background(), "node-a", 99, 0)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestQuery_SQLInjectsTenantPredicate(t *testing.T) {
	repo, mock := newTestRepo(t, models.ResourceDescriptor, false)

	mock.ExpectQuery(`SELECT id FROM resources WHERE \(category = 'journal'\) AND tenant_id = \$1`).
		WithArgs(testTenant).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("id-1"))

	rows, err := repo.Query(context.Background(), "SELECT id FROM resources WHERE category = 'journal'", HintSQL, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "id-1", rows[0]["id"])
}

func TestQuery_SQLRejectsMutationsAndForeignTables(t *testing.T) {
	repo, _ := newTestRepo(t, models.ResourceDescriptor, false)

	_, err := repo.Query(context.Background(), "DELETE FROM resources", HintSQL, 10)
	require.Error(t, err)
	assert.True(t, commonerrors.IsValidation(err))

	_, err = repo.Query(context.Background(), "SELECT id FROM moments", HintSQL, 10)
	require.Error(t, err)
	assert.True(t, commonerrors.IsValidation(err))

	_, err = repo.Query(context.Background(), "whatever", "teleport", 10)
	require.Error(t, err)
	assert.True(t, commonerrors.IsValidation(err))
}

func TestDelete_CascadesEmbeddingRows(t *testing.T) {
	repo, mock := newTestRepo(t, models.ResourceDescriptor, false)

	mock.ExpectExec(regexp.QuoteMeta(
		"DELETE FROM embeddings.resources_embeddings WHERE tenant_id = $1 AND entity_id = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(
		"DELETE FROM rem.resources WHERE tenant_id = $1 AND id = $2")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	existed, err := repo.Delete(context.Background(), "id-1")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHydrateHits_PreservesHitOrderAndDropsMissing(t *testing.T) {
	repo, mock := newTestRepo(t, models.FileDescriptor, false)
	cols := models.FileDescriptor.ColumnNames()

	rows := sqlmock.NewRows([]string{"id", "name"})
	// Database hands rows back in its own order
	rows.AddRow("id-2", "second")
	rows.AddRow("id-1", "first")
	mock.ExpectQuery("SELECT " + regexp.QuoteMeta(strings.Join(cols, ", ")) + " FROM rem.files").
		WillReturnRows(rows)

	out, err := repo.HydrateHits(context.Background(), []SearchHit{
		{ID: "id-1", Score: 0.9},
		{ID: "id-gone", Score: 0.8},
		{ID: "id-2", Score: 0.7},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "id-1", out[0]["id"])
	assert.InDelta(t, 0.9, out[0]["_score"].(float64), 1e-9)
	assert.Equal(t, "id-2", out[1]["id"])
}
