package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/embedding"
	"github.com/S-Corkum/remstore/pkg/models"
)

// embeddingJob is one pending vector write: an entity field whose content
// hash differs from the stored embedding row
type embeddingJob struct {
	entityID string
	field    string
	text     string
	hash     string
}

// syncEmbeddings writes one embedding row per non-empty Embed field per
// entity. Rows whose content hash is unchanged are skipped. A missing
// embedding provider is reported as a Dependency error so the caller can
// degrade to rows without vectors.
func (r *TenantRepository) syncEmbeddings(ctx context.Context, entities []models.Entity) error {
	fields := r.desc.EmbeddingFields()
	if len(fields) == 0 {
		return nil
	}
	if r.embeddings == nil || !r.embeddings.Available() {
		return commonerrors.New("repository", "syncEmbeddings",
			commonerrors.KindDependency, commonerrors.ErrNoEmbeddingProvider)
	}

	candidates := make([]embeddingJob, 0, len(entities)*len(fields))
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.GetID())
		vals, err := r.columnValues(e, fields)
		if err != nil {
			return commonerrors.New("repository", "syncEmbeddings", commonerrors.KindInternal, err)
		}
		for i, f := range fields {
			text, _ := vals[i].(string)
			if text == "" {
				continue
			}
			candidates = append(candidates, embeddingJob{
				entityID: e.GetID(),
				field:    f,
				text:     text,
				hash:     embedding.ContentHash(text),
			})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	existing, err := r.existingHashes(ctx, ids)
	if err != nil {
		return err
	}
	jobs := candidates[:0]
	for _, j := range candidates {
		if existing[j.entityID+"/"+j.field] == j.hash {
			continue
		}
		jobs = append(jobs, j)
	}
	if len(jobs) == 0 {
		return nil
	}

	texts := make([]string, len(jobs))
	for i, j := range jobs {
		texts[i] = j.text
	}
	vectors, err := r.embeddings.EncodeBatch(ctx, texts)
	if err != nil {
		return err
	}

	query := r.provider.Rebind(r.provider.UpsertEmbeddingSQL(r.desc))
	now := time.Now().UTC()
	for i, j := range jobs {
		err := r.execRetry(ctx, "syncEmbeddings", query,
			r.tenantID, j.entityID, j.field, vectors[i],
			r.embeddings.ProviderName(), len(vectors[i]), j.hash, now)
		if err != nil {
			return err
		}
	}
	r.logger.Debug("embedding rows written", map[string]interface{}{
		"table":   r.desc.Table,
		"written": len(jobs),
		"skipped": len(candidates) - len(jobs),
	})
	return nil
}

// existingHashes loads the stored content hash per (entity_id, field_name)
// for the batch, keyed "entity_id/field_name"
func (r *TenantRepository) existingHashes(ctx context.Context, ids []string) (map[string]string, error) {
	query, args, err := sqlx.In(fmt.Sprintf(
		"SELECT entity_id, field_name, content_hash FROM %s WHERE tenant_id = ? AND entity_id IN (?)",
		r.desc.EmbeddingTable()), r.tenantID, ids)
	if err != nil {
		return nil, commonerrors.New("repository", "existingHashes", commonerrors.KindInternal, err)
	}

	rows, err := r.pool.DB().QueryxContext(ctx, r.provider.Rebind(query), args...)
	if err != nil {
		return nil, r.classify("existingHashes", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var entityID, fieldName string
		var hash *string
		if err := rows.Scan(&entityID, &fieldName, &hash); err != nil {
			return nil, r.classify("existingHashes", err)
		}
		if hash != nil {
			out[entityID+"/"+fieldName] = *hash
		}
	}
	return out, rows.Err()
}
