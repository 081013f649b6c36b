package dreaming

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/repository"
)

// stubLLM serves canned responses keyed by a fragment of the system
// prompt, so each pipeline gets its own script
type stubLLM struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []string
}

func (s *stubLLM) Complete(_ context.Context, system, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fragment, response := range s.responses {
		if strings.Contains(system, fragment) {
			s.calls = append(s.calls, fragment)
			return response, nil
		}
	}
	return "", commonerrors.Newf("dreaming", "Complete", commonerrors.KindDependency, "no scripted response")
}

func (s *stubLLM) Model() string { return "stub" }

type fakeLeaser struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
}

func (l *fakeLeaser) AcquireLease(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	l.acquired++
	return true, nil
}

func (l *fakeLeaser) ReleaseLease(_ context.Context, _, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.released++
	return nil
}

// dreamStore is an in-memory Store over typed entities
type dreamStore struct {
	mu   sync.Mutex
	rows map[string]models.Entity
	hits []repository.SearchHit
}

func newDreamStore() *dreamStore {
	return &dreamStore{rows: make(map[string]models.Entity)}
}

func (s *dreamStore) UpsertEntities(_ context.Context, entities []models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		e.Touch(time.Now())
		s.rows[e.GetID()] = e
	}
	return nil
}

func (s *dreamStore) Select(_ context.Context, _ map[string]interface{}, _ string, limit int, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch d := dest.(type) {
	case *[]*models.Session:
		for _, e := range s.rows {
			if sess, ok := e.(*models.Session); ok && len(*d) < limit {
				*d = append(*d, sess)
			}
		}
	case *[]*models.Resource:
		for _, e := range s.rows {
			if res, ok := e.(*models.Resource); ok && len(*d) < limit {
				*d = append(*d, res)
			}
		}
	case *[]*models.Moment:
		for _, e := range s.rows {
			if m, ok := e.(*models.Moment); ok && len(*d) < limit {
				*d = append(*d, m)
			}
		}
	case *[]*models.File:
		for _, e := range s.rows {
			if f, ok := e.(*models.File); ok && len(*d) < limit {
				*d = append(*d, f)
			}
		}
	default:
		return commonerrors.Newf("dreaming", "Select", commonerrors.KindInternal, "unsupported dest %T", dest)
	}
	return nil
}

func (s *dreamStore) Get(_ context.Context, id string, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return commonerrors.New("dreaming", "Get", commonerrors.KindNotFound, commonerrors.ErrNotFound)
	}
	switch d := dest.(type) {
	case *models.Resource:
		*d = *(e.(*models.Resource))
	case *models.Tenant:
		*d = *(e.(*models.Tenant))
	default:
		return commonerrors.Newf("dreaming", "Get", commonerrors.KindInternal, "unsupported dest %T", dest)
	}
	return nil
}

func (s *dreamStore) SemanticSearch(_ context.Context, _, _ string, limit int, _ float64) ([]repository.SearchHit, error) {
	if len(s.hits) > limit {
		return s.hits[:limit], nil
	}
	return s.hits, nil
}

type recordingSender struct {
	mu       sync.Mutex
	to       []string
	subjects []string
	bodies   []string
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.to = append(r.to, to)
	r.subjects = append(r.subjects, subject)
	r.bodies = append(r.bodies, body)
	return nil
}

type dreamHarness struct {
	sessions  *dreamStore
	resources *dreamStore
	moments   *dreamStore
	files     *dreamStore
	jobs      *dreamStore
	tenants   *dreamStore
	leaser    *fakeLeaser
	llm       *stubLLM
	sender    *recordingSender
}

func newDreamHarness() *dreamHarness {
	return &dreamHarness{
		sessions:  newDreamStore(),
		resources: newDreamStore(),
		moments:   newDreamStore(),
		files:     newDreamStore(),
		jobs:      newDreamStore(),
		tenants:   newDreamStore(),
		leaser:    &fakeLeaser{},
		llm: &stubLLM{responses: map[string]string{
			"memory consolidation": noisyMomentResponse,
			"named entities":       `{"entities":[{"entity_id":"Sarah Chen","entity_type":"person","entity_name":"Sarah Chen","mentions":2,"confidence":0.9}]}`,
			"running profile":      "A focused engineer who journals daily.",
		}},
		sender: &recordingSender{},
	}
}

func (h *dreamHarness) factory(_ string, desc models.ModelDescriptor) (Store, error) {
	switch desc.Table {
	case "sessions":
		return h.sessions, nil
	case "resources":
		return h.resources, nil
	case "moments":
		return h.moments, nil
	case "files":
		return h.files, nil
	case "jobs":
		return h.jobs, nil
	case "tenants":
		return h.tenants, nil
	}
	return nil, commonerrors.Newf("dreaming", "factory", commonerrors.KindInternal, "no store for %s", desc.Table)
}

func (h *dreamHarness) dreamer(cfg Config) *Dreamer {
	return NewDreamer(h.factory, h.leaser, h.llm, nil, h.sender, cfg, nil)
}

func seedResource(store *dreamStore, id, content string) *models.Resource {
	r := &models.Resource{
		BaseModel: models.BaseModel{
			ID:        id,
			Name:      id,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		},
		Content:  content,
		Category: "content_chunk",
	}
	store.rows[id] = r
	return r
}

func TestDreamer_RunTenantFullPipeline(t *testing.T) {
	h := newDreamHarness()
	h.tenants.rows["tenant-a"] = &models.Tenant{
		BaseModel: models.BaseModel{ID: "tenant-a", Name: "tenant-a"},
		Email:     "owner@example.com",
	}
	h.sessions.rows["s1"] = &models.Session{
		BaseModel:   models.BaseModel{ID: "s1", CreatedAt: time.Now(), UpdatedAt: time.Now()},
		Query:       "what did I do yesterday",
		SessionType: models.SessionTypeChat,
	}
	r1 := seedResource(h.resources, "r1", "Met Sarah Chen to plan the TiDB migration.")
	r2 := seedResource(h.resources, "r2", "Notes on the TiDB vector index rollout.")
	h.resources.hits = []repository.SearchHit{
		{ID: "r1", Score: 1.0},
		{ID: "r2", Score: 0.82},
	}

	d := h.dreamer(Config{
		EmailEnabled: true,
		Affinity:     AffinityConfig{TopK: 3, Threshold: 0.5},
	})

	job, err := d.RunTenant(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, PipelineDreaming, job.Pipeline)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, 1, job.Result["moments"])
	assert.NotContains(t, job.Result, "errors")

	// Moment landed with its deterministic id
	ts := time.Date(2024, 3, 18, 8, 0, 0, 0, time.UTC)
	_, ok := h.moments.rows[MomentID("tenant-a", "M1", &ts)]
	assert.True(t, ok)

	// Affinity edges exclude the source itself
	assert.Equal(t, models.GraphEdgeList{{TargetID: "r2", Weight: 0.82, Kind: "affinity"}}, r1.GraphEdges)
	assert.Equal(t, models.GraphEdgeList{{TargetID: "r1", Weight: 1.0, Kind: "affinity"}}, r2.GraphEdges)

	// Entity extraction canonicalized the id
	require.Len(t, r1.RelatedEntities, 1)
	assert.Equal(t, "sarah-chen", r1.RelatedEntities[0].EntityID)

	// Rolling profile resource
	profile, ok := h.resources.rows[UserInfoID("tenant-a")]
	require.True(t, ok)
	assert.Equal(t, UserInfoResourceName, profile.(*models.Resource).Name)
	assert.Contains(t, profile.(*models.Resource).Content, "focused engineer")

	// Digest went to the tenant's address
	require.Len(t, h.sender.to, 1)
	assert.Equal(t, "owner@example.com", h.sender.to[0])
	assert.Equal(t, DigestSubject, h.sender.subjects[0])
	assert.Contains(t, h.sender.bodies[0], "M1")

	assert.Equal(t, 1, h.leaser.acquired)
	assert.Equal(t, 1, h.leaser.released)
}

func TestDreamer_HeldLeaseSkipsRun(t *testing.T) {
	h := newDreamHarness()
	h.leaser.held = true

	job, err := h.dreamer(Config{}).RunTenant(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Empty(t, h.jobs.rows)
}

func TestDreamer_UnparseableBatchStillCompletes(t *testing.T) {
	h := newDreamHarness()
	h.llm.responses["memory consolidation"] = "I found nothing interesting."
	seedResource(h.resources, "r1", "some content")

	job, err := h.dreamer(Config{SkipAffinity: true, SkipEntities: true, SkipSummary: true}).
		RunTenant(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 0, job.Result["moments"])
	assert.Empty(t, h.moments.rows)
}

func TestDreamer_DigestRecipientOverride(t *testing.T) {
	h := newDreamHarness()
	seedResource(h.resources, "r1", "content")

	d := h.dreamer(Config{
		EmailEnabled:   true,
		EmailRecipient: "override@example.com",
		SkipAffinity:   true,
		SkipEntities:   true,
		SkipSummary:    true,
	})
	_, err := d.RunTenant(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Len(t, h.sender.to, 1)
	assert.Equal(t, "override@example.com", h.sender.to[0])
}

func TestDreamer_BudgetExpiryMarksFailed(t *testing.T) {
	h := newDreamHarness()
	seedResource(h.resources, "r1", "content")

	d := h.dreamer(Config{LeaseTTL: time.Nanosecond})
	job, err := d.RunTenant(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "timeout", job.ErrorText)
}
