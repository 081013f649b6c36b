package dreaming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
	"github.com/S-Corkum/remstore/pkg/repository"
	"github.com/S-Corkum/remstore/pkg/tokenizer"
)

// Pipeline names used for jobs and leases
const (
	PipelineDreaming = "dreaming"

	// UserInfoResourceName is the rolling per-tenant profile resource
	// loaded by downstream chat as a system-message preamble
	UserInfoResourceName = "p8fs-user-info"
)

// Store is the slice of the tenant repository the pipelines use
type Store interface {
	UpsertEntities(ctx context.Context, entities []models.Entity) error
	Select(ctx context.Context, filters map[string]interface{}, orderBy string, limit int, dest interface{}) error
	Get(ctx context.Context, id string, dest interface{}) error
	SemanticSearch(ctx context.Context, query, field string, limit int, threshold float64) ([]repository.SearchHit, error)
}

// StoreFactory yields a tenant-scoped store for one model table
type StoreFactory func(tenantID string, desc models.ModelDescriptor) (Store, error)

// Leaser arbitrates pipeline runs across schedulers
type Leaser interface {
	AcquireLease(ctx context.Context, tenantID, pipeline string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, tenantID, pipeline string) error
}

// Config tunes the dreaming runner. The zero value runs every pipeline
// with email disabled.
type Config struct {
	// Lookback is the window of recent content each pipeline reads
	Lookback time.Duration
	// LeaseTTL is both the scheduler lease TTL and the wall-clock budget
	// of one invocation
	LeaseTTL time.Duration
	// ContextTokens is the per-batch LLM token budget
	ContextTokens int
	// MaxRecords caps rows fetched per source table
	MaxRecords int

	Affinity AffinityConfig

	SkipMoments  bool
	SkipAffinity bool
	SkipEntities bool
	SkipSummary  bool

	// EmailEnabled gates the digest; EmailRecipient overrides the
	// tenant's own address when set
	EmailEnabled   bool
	EmailRecipient string
}

// Dreamer runs the per-tenant enrichment pipelines in order: moments,
// affinity, entities, user summary, digest
type Dreamer struct {
	stores   StoreFactory
	leases   Leaser
	llm      LLMClient
	moments  *MomentBuilder
	entities *EntityExtractor
	affinity *AffinityScorer
	batcher  *tokenizer.RecordBatcher
	limiters *LimiterPool
	email    EmailSender
	cfg      Config
	logger   observability.Logger
	now      func() time.Time
}

// NewDreamer wires a runner. email may be nil when cfg.EmailEnabled is
// false; limiters may be nil to disable throttling.
func NewDreamer(stores StoreFactory, leases Leaser, llm LLMClient, limiters *LimiterPool, email EmailSender, cfg Config, logger observability.Logger) *Dreamer {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 6 * time.Hour
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 15 * time.Minute
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = 6000
	}
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 200
	}
	if logger == nil {
		logger = observability.NewStandardLogger("dreaming")
	}
	if email == nil {
		email = NewNoopSender(logger)
	}
	return &Dreamer{
		stores:   stores,
		leases:   leases,
		llm:      llm,
		moments:  NewMomentBuilder(llm, logger),
		entities: NewEntityExtractor(llm, logger),
		affinity: NewAffinityScorer(llm, cfg.Affinity, logger),
		batcher:  tokenizer.NewRecordBatcher(nil),
		limiters: limiters,
		email:    email,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// RunTenant executes one dreaming invocation for a tenant. A held lease
// skips the run. Pipeline failures are partial: the job completes with
// per-pipeline counts and errors; only a blown wall-clock budget marks
// it failed.
func (d *Dreamer) RunTenant(ctx context.Context, tenantID string) (*models.Job, error) {
	acquired, err := d.leases.AcquireLease(ctx, tenantID, PipelineDreaming, d.cfg.LeaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		d.logger.Info("lease held, skipping tenant", map[string]interface{}{"tenant_id": tenantID})
		return nil, nil
	}
	defer func() {
		if err := d.leases.ReleaseLease(context.Background(), tenantID, PipelineDreaming); err != nil {
			d.logger.Warn("lease release failed", map[string]interface{}{
				"tenant_id": tenantID,
				"error":     err.Error(),
			})
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.LeaseTTL)
	defer cancel()

	jobs, err := d.stores(tenantID, models.JobDescriptor)
	if err != nil {
		return nil, err
	}
	job := &models.Job{
		BaseModel: models.BaseModel{ID: models.NewID()},
		Pipeline:  PipelineDreaming,
		Status:    models.JobStatusPending,
	}
	job.Name = fmt.Sprintf("%s-%s", PipelineDreaming, job.ID[:8])
	if err := jobs.UpsertEntities(ctx, []models.Entity{job}); err != nil {
		return nil, err
	}

	started := d.now().UTC()
	job.Status = models.JobStatusRunning
	job.StartedAt = &started
	if err := jobs.UpsertEntities(ctx, []models.Entity{job}); err != nil {
		return nil, err
	}

	result := models.JSONMap{}
	var pipelineErrs []string
	record := func(pipeline string, count int, err error) {
		result[pipeline] = count
		if err != nil {
			pipelineErrs = append(pipelineErrs, fmt.Sprintf("%s: %s", pipeline, err.Error()))
			d.logger.Warn("pipeline failed", map[string]interface{}{
				"tenant_id": tenantID,
				"pipeline":  pipeline,
				"error":     err.Error(),
			})
		}
	}

	var newMoments []*models.Moment
	if !d.cfg.SkipMoments {
		var err error
		newMoments, err = d.runMoments(ctx, tenantID)
		record("moments", len(newMoments), err)
	}
	// Affinity reads the moment-enriched corpus; it never starts before
	// moment extraction finishes for this tenant
	if !d.cfg.SkipAffinity && ctx.Err() == nil {
		count, err := d.runAffinity(ctx, tenantID)
		record("affinity_edges", count, err)
	}
	if !d.cfg.SkipEntities && ctx.Err() == nil {
		count, err := d.runEntities(ctx, tenantID)
		record("entity_resources", count, err)
	}
	if !d.cfg.SkipSummary && ctx.Err() == nil {
		err := d.runUserSummary(ctx, tenantID)
		record("user_summary", 1, err)
	}
	if d.cfg.EmailEnabled && len(newMoments) > 0 && ctx.Err() == nil {
		err := d.sendDigest(ctx, tenantID, newMoments)
		record("digest_sent", 1, err)
	}
	if len(pipelineErrs) > 0 {
		result["errors"] = pipelineErrs
	}

	completed := d.now().UTC()
	job.CompletedAt = &completed
	job.Result = result
	if ctx.Err() != nil {
		job.Status = models.JobStatusFailed
		job.ErrorText = "timeout"
	} else {
		job.Status = models.JobStatusCompleted
	}
	// Final status write gets a fresh context; the budget may be spent
	finalCtx, finalCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer finalCancel()
	if err := jobs.UpsertEntities(finalCtx, []models.Entity{job}); err != nil {
		return job, err
	}
	return job, nil
}

func (d *Dreamer) runMoments(ctx context.Context, tenantID string) ([]*models.Moment, error) {
	records, err := d.gatherRecords(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	moments, err := d.stores(tenantID, models.MomentDescriptor)
	if err != nil {
		return nil, err
	}

	var created []*models.Moment
	for _, batch := range d.batcher.Batch(records, d.cfg.ContextTokens) {
		if err := d.throttle(ctx, tenantID); err != nil {
			return created, err
		}
		entities, err := d.moments.Build(ctx, tenantID, d.batcher.RenderBatch(batch))
		if err != nil {
			if commonerrors.IsValidation(err) {
				// Unparseable response: skip the batch, keep the rest
				d.logger.Warn("moment batch skipped", map[string]interface{}{
					"tenant_id": tenantID,
					"error":     err.Error(),
				})
				continue
			}
			return created, err
		}
		if len(entities) == 0 {
			continue
		}
		if err := moments.UpsertEntities(ctx, entities); err != nil {
			return created, err
		}
		for _, e := range entities {
			created = append(created, e.(*models.Moment))
		}
	}
	return created, nil
}

func (d *Dreamer) runAffinity(ctx context.Context, tenantID string) (int, error) {
	resources, err := d.stores(tenantID, models.ResourceDescriptor)
	if err != nil {
		return 0, err
	}
	recent, err := d.recentResources(ctx, resources)
	if err != nil {
		return 0, err
	}

	edgeCount := 0
	for _, source := range recent {
		if err := d.throttle(ctx, tenantID); err != nil {
			return edgeCount, err
		}
		edges, err := d.affinity.Edges(ctx, resources, source)
		if err != nil {
			if commonerrors.IsDependency(err) {
				// No embedding provider: affinity degrades to a no-op
				return edgeCount, nil
			}
			return edgeCount, err
		}
		if len(edges) == 0 {
			continue
		}
		source.GraphEdges = edges
		if err := resources.UpsertEntities(ctx, []models.Entity{source}); err != nil {
			return edgeCount, err
		}
		edgeCount += len(edges)
	}
	return edgeCount, nil
}

func (d *Dreamer) runEntities(ctx context.Context, tenantID string) (int, error) {
	resources, err := d.stores(tenantID, models.ResourceDescriptor)
	if err != nil {
		return 0, err
	}
	recent, err := d.recentResources(ctx, resources)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, res := range recent {
		if len(res.RelatedEntities) > 0 || res.Content == "" {
			continue
		}
		if err := d.throttle(ctx, tenantID); err != nil {
			return updated, err
		}
		ents, err := d.entities.Extract(ctx, res.Content)
		if err != nil {
			if commonerrors.IsValidation(err) {
				continue
			}
			return updated, err
		}
		if len(ents) == 0 {
			continue
		}
		res.RelatedEntities = ents
		if err := resources.UpsertEntities(ctx, []models.Entity{res}); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

const summarySystemPrompt = `You maintain a short running profile of a person from their
recent activity: who they are, what they are working on, who they interact with, and any
stable preferences. Write 3-6 plain sentences. No headings, no lists.`

func (d *Dreamer) runUserSummary(ctx context.Context, tenantID string) error {
	records, err := d.gatherRecords(ctx, tenantID)
	if err != nil {
		return err
	}
	extra, err := d.summaryRecords(ctx, tenantID)
	if err != nil {
		return err
	}
	records = append(records, extra...)
	if len(records) == 0 {
		return nil
	}

	if err := d.throttle(ctx, tenantID); err != nil {
		return err
	}
	batches := d.batcher.Batch(records, d.cfg.ContextTokens)
	summary, err := d.llm.Complete(ctx, summarySystemPrompt, d.batcher.RenderBatch(batches[0]))
	if err != nil {
		return err
	}

	resources, err := d.stores(tenantID, models.ResourceDescriptor)
	if err != nil {
		return err
	}
	profile := &models.Resource{
		BaseModel: models.BaseModel{
			ID:   UserInfoID(tenantID),
			Name: UserInfoResourceName,
		},
		Content:  summary,
		Category: "user_info",
		URI:      UserInfoResourceName,
	}
	return resources.UpsertEntities(ctx, []models.Entity{profile})
}

func (d *Dreamer) sendDigest(ctx context.Context, tenantID string, moments []*models.Moment) error {
	recipient := d.cfg.EmailRecipient
	if recipient == "" {
		tenants, err := d.stores(tenantID, models.TenantDescriptor)
		if err != nil {
			return err
		}
		var tenant models.Tenant
		if err := tenants.Get(ctx, tenantID, &tenant); err != nil {
			return err
		}
		if addr, ok := tenant.Metadata["digest_email"].(string); ok && addr != "" {
			recipient = addr
		} else {
			recipient = tenant.Email
		}
	}
	if recipient == "" {
		d.logger.Info("no digest recipient, skipping", map[string]interface{}{"tenant_id": tenantID})
		return nil
	}

	body, err := RenderDigest(moments, d.now())
	if err != nil {
		return err
	}
	return d.email.Send(ctx, recipient, DigestSubject, body)
}

// summaryRecords adds the moment and file views the profile summary
// reads on top of gatherRecords
func (d *Dreamer) summaryRecords(ctx context.Context, tenantID string) ([]tokenizer.Record, error) {
	cutoff := d.now().Add(-d.cfg.Lookback)
	var records []tokenizer.Record

	moments, err := d.stores(tenantID, models.MomentDescriptor)
	if err != nil {
		return nil, err
	}
	var recentMoments []*models.Moment
	if err := moments.Select(ctx, nil, "created_at DESC", d.cfg.MaxRecords, &recentMoments); err != nil {
		return nil, err
	}
	for _, m := range recentMoments {
		if m.UpdatedAt.Before(cutoff) {
			continue
		}
		content := m.Summary
		if content == "" {
			content = m.Content
		}
		records = append(records, tokenizer.Record{
			ID:        m.ID,
			Kind:      "moment",
			Content:   m.Name + ": " + content,
			Timestamp: m.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}

	files, err := d.stores(tenantID, models.FileDescriptor)
	if err != nil {
		return nil, err
	}
	var recentFiles []*models.File
	if err := files.Select(ctx, nil, "created_at DESC", d.cfg.MaxRecords, &recentFiles); err != nil {
		return nil, err
	}
	for _, f := range recentFiles {
		if f.UpdatedAt.Before(cutoff) {
			continue
		}
		records = append(records, tokenizer.Record{
			ID:      f.ID,
			Kind:    "file",
			Content: f.Name,
		})
	}
	return records, nil
}

// gatherRecords loads the lookback window of sessions and resources as
// batchable records, oldest first
func (d *Dreamer) gatherRecords(ctx context.Context, tenantID string) ([]tokenizer.Record, error) {
	cutoff := d.now().Add(-d.cfg.Lookback)
	var records []tokenizer.Record

	sessions, err := d.stores(tenantID, models.SessionDescriptor)
	if err != nil {
		return nil, err
	}
	var recentSessions []*models.Session
	if err := sessions.Select(ctx, nil, "created_at DESC", d.cfg.MaxRecords, &recentSessions); err != nil {
		return nil, err
	}
	for _, s := range recentSessions {
		if s.UpdatedAt.Before(cutoff) {
			continue
		}
		if text := sessionText(s); text != "" {
			records = append(records, tokenizer.Record{
				ID:        s.ID,
				Kind:      "session",
				Content:   text,
				Timestamp: s.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
	}

	resources, err := d.stores(tenantID, models.ResourceDescriptor)
	if err != nil {
		return nil, err
	}
	recent, err := d.recentResources(ctx, resources)
	if err != nil {
		return nil, err
	}
	for _, r := range recent {
		content := r.Summary
		if content == "" {
			content = r.Content
		}
		if content == "" {
			continue
		}
		ts := r.UpdatedAt
		if r.ResourceTimestamp != nil {
			ts = *r.ResourceTimestamp
		}
		records = append(records, tokenizer.Record{
			ID:        r.ID,
			Kind:      "resource",
			Content:   content,
			Timestamp: ts.UTC().Format(time.RFC3339),
		})
	}

	// Oldest first so moments read chronologically
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (d *Dreamer) recentResources(ctx context.Context, resources Store) ([]*models.Resource, error) {
	cutoff := d.now().Add(-d.cfg.Lookback)
	var rows []*models.Resource
	if err := resources.Select(ctx, nil, "created_at DESC", d.cfg.MaxRecords, &rows); err != nil {
		return nil, err
	}
	recent := rows[:0]
	for _, r := range rows {
		if r.Name == UserInfoResourceName {
			continue
		}
		if !r.UpdatedAt.Before(cutoff) {
			recent = append(recent, r)
		}
	}
	return recent, nil
}

func (d *Dreamer) throttle(ctx context.Context, tenantID string) error {
	if l := d.limiters.Get(tenantID); l != nil {
		return l.Wait(ctx)
	}
	return nil
}

// UserInfoID is the deterministic id of the rolling profile resource
func UserInfoID(tenantID string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(tenantID+"|"+UserInfoResourceName)).String()
}

// sessionText flattens a session into prompt text: the query plus each
// message as "role: content"
func sessionText(s *models.Session) string {
	var out []byte
	if s.Query != "" {
		out = append(out, s.Query...)
	}
	rawMessages, ok := s.Messages["messages"].([]interface{})
	if !ok {
		return string(out)
	}
	for _, raw := range rawMessages {
		var msg models.SessionMessage
		encoded, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		if err := json.Unmarshal(encoded, &msg); err != nil {
			continue
		}
		if msg.Content == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, msg.Role...)
		out = append(out, ": "...)
		out = append(out, msg.Content...)
	}
	return string(out)
}
