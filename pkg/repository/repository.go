// Package repository implements the descriptor-driven tenant repository.
// A repository instance is bound to one tenant and one model descriptor at
// construction; every read and write it performs carries the tenant
// predicate, and writes fan out to the sibling embedding table and the
// reverse entity index.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"

	commonerrors "github.com/S-Corkum/remstore/pkg/common/errors"
	"github.com/S-Corkum/remstore/pkg/embedding"
	"github.com/S-Corkum/remstore/pkg/kv"
	"github.com/S-Corkum/remstore/pkg/models"
	"github.com/S-Corkum/remstore/pkg/observability"
	"github.com/S-Corkum/remstore/pkg/storage"
)

// defaultSelectLimit bounds unpaged Select calls
const defaultSelectLimit = 100

// TenantRepository is the per-tenant, per-model data access layer
type TenantRepository struct {
	tenantID   string
	desc       models.ModelDescriptor
	provider   storage.Provider
	pool       *storage.Pool
	kvStore    *kv.DualStore
	embeddings *embedding.Service
	logger     observability.Logger
	mapper     *reflectx.Mapper
}

// New creates a TenantRepository bound to tenantID and desc. The KV store
// and embedding service may be nil; the corresponding write fan-outs are
// then skipped.
func New(tenantID string, desc models.ModelDescriptor, provider storage.Provider, pool *storage.Pool,
	kvStore *kv.DualStore, embeddings *embedding.Service, logger observability.Logger) (*TenantRepository, error) {
	if tenantID == "" {
		return nil, commonerrors.Newf("repository", "New", commonerrors.KindValidation, "tenant id is required")
	}
	if provider == nil || pool == nil {
		return nil, commonerrors.Newf("repository", "New", commonerrors.KindValidation, "storage provider and pool are required")
	}
	if logger == nil {
		logger = observability.NewStandardLogger("repository." + desc.Table)
	}
	return &TenantRepository{
		tenantID:   tenantID,
		desc:       desc,
		provider:   provider,
		pool:       pool,
		kvStore:    kvStore,
		embeddings: embeddings,
		logger:     logger,
		mapper:     reflectx.NewMapper("db"),
	}, nil
}

// TenantID returns the tenant the repository is bound to
func (r *TenantRepository) TenantID() string { return r.tenantID }

// Descriptor returns the bound model descriptor
func (r *TenantRepository) Descriptor() models.ModelDescriptor { return r.desc }

// Put upserts a single entity
func (r *TenantRepository) Put(ctx context.Context, e models.Entity) error {
	return r.UpsertEntities(ctx, []models.Entity{e})
}

// UpsertEntities upserts a batch in one multi-row statement. Entities with
// an empty tenant are claimed by the repository's tenant; an entity owned
// by a different tenant fails the whole batch with a Conflict error.
// Embedding rows and reverse-index entries are written after the row
// upsert succeeds; their failures degrade (logged) rather than abort.
func (r *TenantRepository) UpsertEntities(ctx context.Context, entities []models.Entity) error {
	if len(entities) == 0 {
		return nil
	}

	now := time.Now().UTC()
	for i, e := range entities {
		if e.Descriptor().Table != r.desc.Table {
			return commonerrors.Newf("repository", "UpsertEntities", commonerrors.KindValidation,
				"entity %d targets table %q, repository is bound to %q", i, e.Descriptor().Table, r.desc.Table)
		}
		switch e.GetTenantID() {
		case "":
			e.SetTenantID(r.tenantID)
		case r.tenantID:
		default:
			return commonerrors.Newf("repository", "UpsertEntities", commonerrors.KindConflict,
				"entity %d belongs to tenant %q, repository is bound to %q", i, e.GetTenantID(), r.tenantID)
		}
		if e.GetID() == "" {
			e.SetID(models.NewID())
		}
		e.Touch(now)
	}

	columns := r.desc.ColumnNames()
	args := make([]interface{}, 0, len(entities)*len(columns))
	for i, e := range entities {
		vals, err := r.columnValues(e, columns)
		if err != nil {
			return commonerrors.Newf("repository", "UpsertEntities", commonerrors.KindValidation,
				"entity %d: %v", i, err)
		}
		args = append(args, vals...)
	}

	query := r.provider.Rebind(r.provider.UpsertSQL(r.desc, columns, len(entities)))
	if err := r.execRetry(ctx, "UpsertEntities", query, args...); err != nil {
		return err
	}

	if err := r.syncEmbeddings(ctx, entities); err != nil {
		r.logger.Warn("embedding sync skipped", map[string]interface{}{
			"table": r.desc.Table,
			"count": len(entities),
			"error": err.Error(),
		})
	}
	r.indexRelatedEntities(ctx, entities)
	return nil
}

// Get loads the entity with the given id into dest, a pointer to the model
// struct. A missing row is a NotFound error.
func (r *TenantRepository) Get(ctx context.Context, id string, dest interface{}) error {
	query := r.provider.Rebind(fmt.Sprintf(
		"SELECT %s FROM %s WHERE tenant_id = ? AND id = ?",
		strings.Join(r.desc.ColumnNames(), ", "), r.desc.QualifiedTable()))
	err := r.pool.DB().GetContext(ctx, dest, query, r.tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return commonerrors.New("repository", "Get", commonerrors.KindNotFound, commonerrors.ErrNotFound).
			WithContext("id", id).WithContext("table", r.desc.Table)
	}
	if err != nil {
		return r.classify("Get", err)
	}
	return nil
}

// Select loads rows matching equality filters into dest, a pointer to a
// slice of the model struct. Filter keys must name descriptor columns.
func (r *TenantRepository) Select(ctx context.Context, filters map[string]interface{}, orderBy string, limit int, dest interface{}) error {
	if limit <= 0 {
		limit = defaultSelectLimit
	}
	if orderBy == "" {
		orderBy = "created_at"
	}
	if err := r.validateOrderBy(orderBy); err != nil {
		return err
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		if _, ok := r.desc.Field(k); !ok {
			return commonerrors.Newf("repository", "Select", commonerrors.KindValidation,
				"unknown filter column %q on table %q", k, r.desc.Table)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE tenant_id = ?",
		strings.Join(r.desc.ColumnNames(), ", "), r.desc.QualifiedTable())
	args := []interface{}{r.tenantID}
	for _, k := range keys {
		fmt.Fprintf(&b, " AND %s = ?", k)
		args = append(args, filters[k])
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT ?", orderBy)
	args = append(args, limit)

	if err := r.pool.DB().SelectContext(ctx, dest, r.provider.Rebind(b.String()), args...); err != nil {
		return r.classify("Select", err)
	}
	return nil
}

// FetchByIDs loads the named rows into dest in database order. Callers
// needing hit order reorder afterward.
func (r *TenantRepository) FetchByIDs(ctx context.Context, ids []string, dest interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(fmt.Sprintf(
		"SELECT %s FROM %s WHERE tenant_id = ? AND id IN (?)",
		strings.Join(r.desc.ColumnNames(), ", "), r.desc.QualifiedTable()),
		r.tenantID, ids)
	if err != nil {
		return commonerrors.New("repository", "FetchByIDs", commonerrors.KindInternal, err)
	}
	if err := r.pool.DB().SelectContext(ctx, dest, r.provider.Rebind(query), args...); err != nil {
		return r.classify("FetchByIDs", err)
	}
	return nil
}

// Delete removes the entity row plus its embedding rows and, when a KV
// store is wired, its reverse-index references. Returns true when the row
// existed.
func (r *TenantRepository) Delete(ctx context.Context, id string) (bool, error) {
	embQuery := r.provider.Rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE tenant_id = ? AND entity_id = ?", r.desc.EmbeddingTable()))
	if err := r.execRetry(ctx, "Delete", embQuery, r.tenantID, id); err != nil {
		return false, err
	}

	if r.kvStore != nil {
		if err := r.kvStore.DeleteResourceRefs(ctx, r.tenantID, id); err != nil {
			r.logger.Warn("reverse-index cleanup failed", map[string]interface{}{
				"id":    id,
				"error": err.Error(),
			})
		}
	}

	query := r.provider.Rebind(fmt.Sprintf(
		"DELETE FROM %s WHERE tenant_id = ? AND id = ?", r.desc.QualifiedTable()))
	conn, err := r.pool.Checkout(ctx)
	if err != nil {
		return false, r.classify("Delete", err)
	}
	defer conn.Release()
	res, err := conn.ExecContext(ctx, query, r.tenantID, id)
	if err != nil {
		return false, r.classify("Delete", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Count returns the tenant's row count for the bound table
func (r *TenantRepository) Count(ctx context.Context) (int64, error) {
	query := r.provider.Rebind(fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE tenant_id = ?", r.desc.QualifiedTable()))
	var n int64
	if err := r.pool.DB().GetContext(ctx, &n, query, r.tenantID); err != nil {
		return 0, r.classify("Count", err)
	}
	return n, nil
}

// columnValues extracts bind arguments for the given columns from the
// entity's db-tagged fields
func (r *TenantRepository) columnValues(e models.Entity, columns []string) ([]interface{}, error) {
	v := reflect.ValueOf(e)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	traversals := r.mapper.TraversalsByName(v.Type(), columns)
	out := make([]interface{}, len(columns))
	for i, t := range traversals {
		if len(t) == 0 {
			return nil, fmt.Errorf("entity type %T has no field for column %q", e, columns[i])
		}
		out[i] = reflectx.FieldByIndexesReadOnly(v, t).Interface()
	}
	return out, nil
}

// indexRelatedEntities appends reverse-index references for every related
// entity the batch mentions. Best effort; the index is eventually
// consistent with related_entities.
func (r *TenantRepository) indexRelatedEntities(ctx context.Context, entities []models.Entity) {
	if r.kvStore == nil {
		return
	}
	for _, e := range entities {
		carrier, ok := e.(models.RelatedEntityCarrier)
		if !ok {
			continue
		}
		for _, rel := range carrier.GetRelatedEntities() {
			if rel.EntityID == "" {
				continue
			}
			if err := r.kvStore.AppendEntityRef(ctx, r.tenantID, rel.EntityID, rel.EntityType, e.GetID()); err != nil {
				r.logger.Warn("reverse-index append failed", map[string]interface{}{
					"entity_id":   rel.EntityID,
					"entity_type": rel.EntityType,
					"resource_id": e.GetID(),
					"error":       err.Error(),
				})
			}
		}
	}
}

func (r *TenantRepository) validateOrderBy(orderBy string) error {
	col := orderBy
	dir := ""
	if i := strings.IndexByte(orderBy, ' '); i > 0 {
		col, dir = orderBy[:i], strings.ToUpper(strings.TrimSpace(orderBy[i+1:]))
	}
	if _, ok := r.desc.Field(col); !ok {
		return commonerrors.Newf("repository", "Select", commonerrors.KindValidation,
			"unknown order column %q on table %q", col, r.desc.Table)
	}
	if dir != "" && dir != "ASC" && dir != "DESC" {
		return commonerrors.Newf("repository", "Select", commonerrors.KindValidation,
			"invalid order direction %q", dir)
	}
	return nil
}

// execRetry runs a mutation through the pool, retrying transient
// failures with exponential backoff
func (r *TenantRepository) execRetry(ctx context.Context, op, query string, args ...interface{}) error {
	attempt := func() error {
		conn, err := r.pool.Checkout(ctx)
		if err != nil {
			return r.classify(op, err)
		}
		defer conn.Release()
		if _, err := conn.ExecContext(ctx, query, args...); err != nil {
			return r.classify(op, err)
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(100*time.Millisecond)), 3), ctx)
	return backoff.Retry(func() error {
		err := attempt()
		if err != nil && !commonerrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

// classify maps raw database errors onto the error taxonomy
func (r *TenantRepository) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *commonerrors.Error
	if errors.As(err, &ce) {
		return err
	}
	kind := commonerrors.KindInternal
	if isTransientDB(err) {
		kind = commonerrors.KindTransient
	}
	return commonerrors.New("repository", op, kind, err).WithContext("table", r.desc.Table)
}

func isTransientDB(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"too many connections",
		"deadlock",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
