package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/quarryai/quarry/internal/db"
	"github.com/quarryai/quarry/internal/model"
	"github.com/quarryai/quarry/internal/pkg/dbutil"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/tenant"
)

var jobFields = []string{"id", "tenant_id", "document_id", "document_version_id", "status", "source_type", "source_uri", "total_chunks", "processed_chunks", "error_message", "started_at", "finished_at", "ctime", "mtime"}

type IngestionJobRepo struct {
	conn *sql.DB
}

func NewIngestionJobRepo(conn *sql.DB) *IngestionJobRepo {
	return &IngestionJobRepo{conn: conn}
}

func (r *IngestionJobRepo) Create(ctx context.Context, job *model.IngestionJob) error {
	fillTenant(ctx, &job.TenantID)
	now := nowMilli()
	if job.Ctime == 0 {
		job.Ctime = now
	}
	if job.Mtime == 0 {
		job.Mtime = now
	}
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}
	data := map[string]interface{}{
		"id":                  job.ID,
		"tenant_id":           job.TenantID,
		"document_id":         job.DocumentID,
		"document_version_id": job.DocumentVersionID,
		"status":              job.Status,
		"source_type":         job.SourceType,
		"source_uri":          job.SourceURI,
		"total_chunks":        job.TotalChunks,
		"processed_chunks":    job.ProcessedChunks,
		"error_message":       job.ErrorMessage,
		"started_at":          job.StartedAt,
		"finished_at":         job.FinishedAt,
		"ctime":               job.Ctime,
		"mtime":               job.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("ingestion_jobs", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = db.From(ctx, r.conn).ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *IngestionJobRepo) Get(ctx context.Context, id string) (*model.IngestionJob, error) {
	where := tenant.Scope(ctx, map[string]interface{}{"id": id})
	jobs, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, appErr.ErrNotFound
	}
	return jobs[0], nil
}

func (r *IngestionJobRepo) LatestByDocument(ctx context.Context, documentID string) (*model.IngestionJob, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"document_id": documentID,
		"_orderby":    "ctime desc",
		"_limit":      []uint{0, 1},
	})
	jobs, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, appErr.ErrNotFound
	}
	return jobs[0], nil
}

func (r *IngestionJobRepo) ListByDocument(ctx context.Context, documentID string, limit, offset uint) ([]*model.IngestionJob, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"document_id": documentID,
		"_orderby":    "ctime desc",
	})
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	return r.query(ctx, where)
}

// ListStale finds non-terminal jobs whose last update predates the cutoff.
// This read is deliberately unscoped, the sweeper runs across all tenants.
func (r *IngestionJobRepo) ListStale(ctx context.Context, cutoff int64, limit uint) ([]*model.IngestionJob, error) {
	where := map[string]interface{}{
		"status in": []interface{}{model.JobStatusQueued, model.JobStatusRunning},
		"mtime <":   cutoff,
		"_orderby":  "mtime asc",
	}
	if limit > 0 {
		where["_limit"] = []uint{0, limit}
	}
	return r.query(ctx, where)
}

func (r *IngestionJobRepo) Update(ctx context.Context, job *model.IngestionJob) error {
	where := tenant.Scope(ctx, map[string]interface{}{"id": job.ID})
	job.Mtime = nowMilli()
	update := map[string]interface{}{
		"document_version_id": job.DocumentVersionID,
		"status":              job.Status,
		"total_chunks":        job.TotalChunks,
		"processed_chunks":    job.ProcessedChunks,
		"error_message":       job.ErrorMessage,
		"started_at":          job.StartedAt,
		"finished_at":         job.FinishedAt,
		"mtime":               job.Mtime,
	}
	sqlStr, args, err := builder.BuildUpdate("ingestion_jobs", where, update)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := db.From(ctx, r.conn).ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// CancelIf moves the job to cancelled only while it is still in fromStatus.
// A false return means the job already left that state.
func (r *IngestionJobRepo) CancelIf(ctx context.Context, tenantID, jobID, fromStatus string) (bool, error) {
	where := map[string]interface{}{
		"id":        jobID,
		"tenant_id": tenantID,
		"status":    fromStatus,
	}
	now := nowMilli()
	update := map[string]interface{}{
		"status":      model.JobStatusCancelled,
		"finished_at": now,
		"mtime":       now,
	}
	sqlStr, args, err := builder.BuildUpdate("ingestion_jobs", where, update)
	if err != nil {
		return false, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	result, err := db.From(ctx, r.conn).ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *IngestionJobRepo) query(ctx context.Context, where map[string]interface{}) ([]*model.IngestionJob, error) {
	sqlStr, args, err := builder.BuildSelect("ingestion_jobs", where, jobFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := db.From(ctx, r.conn).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs := make([]*model.IngestionJob, 0)
	for rows.Next() {
		var job model.IngestionJob
		if err := rows.Scan(&job.ID, &job.TenantID, &job.DocumentID, &job.DocumentVersionID, &job.Status, &job.SourceType, &job.SourceURI, &job.TotalChunks, &job.ProcessedChunks, &job.ErrorMessage, &job.StartedAt, &job.FinishedAt, &job.Ctime, &job.Mtime); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
