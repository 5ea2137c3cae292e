package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/quarryai/quarry/internal/db"
	"github.com/quarryai/quarry/internal/model"
	"github.com/quarryai/quarry/internal/pkg/dbutil"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/tenant"
)

var versionFields = []string{"id", "tenant_id", "document_id", "version", "content_sha256", "mime_type", "size_bytes", "chunk_count", "meta", "created_by_user_id", "ctime"}

type VersionRepo struct {
	conn *sql.DB
}

func NewVersionRepo(conn *sql.DB) *VersionRepo {
	return &VersionRepo{conn: conn}
}

func (r *VersionRepo) Create(ctx context.Context, version *model.DocumentVersion) error {
	fillTenant(ctx, &version.TenantID)
	if version.Ctime == 0 {
		version.Ctime = nowMilli()
	}
	metaJSON, err := json.Marshal(version.Meta)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":                 version.ID,
		"tenant_id":          version.TenantID,
		"document_id":        version.DocumentID,
		"version":            version.Version,
		"content_sha256":     version.ContentSHA256,
		"mime_type":          version.MimeType,
		"size_bytes":         version.SizeBytes,
		"chunk_count":        version.ChunkCount,
		"meta":               string(metaJSON),
		"created_by_user_id": version.CreatedByUserID,
		"ctime":              version.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("document_versions", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := db.From(ctx, r.conn).ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrConflict
		}
		return err
	}
	return nil
}

// LatestVersion returns the highest version number recorded for the
// document, or ErrNotFound when it has never been ingested.
func (r *VersionRepo) LatestVersion(ctx context.Context, documentID string) (int, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"document_id": documentID,
		"_orderby":    "version desc",
		"_limit":      []uint{0, 1},
	})
	sqlStr, args, err := builder.BuildSelect("document_versions", where, []string{"version"})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := db.From(ctx, r.conn).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, appErr.ErrNotFound
	}
	var version int
	if err := rows.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (r *VersionRepo) Get(ctx context.Context, id string) (*model.DocumentVersion, error) {
	where := tenant.Scope(ctx, map[string]interface{}{"id": id})
	versions, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, appErr.ErrNotFound
	}
	return versions[0], nil
}

func (r *VersionRepo) ListByDocument(ctx context.Context, documentID string) ([]*model.DocumentVersion, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"document_id": documentID,
		"_orderby":    "version desc",
	})
	return r.query(ctx, where)
}

func (r *VersionRepo) query(ctx context.Context, where map[string]interface{}) ([]*model.DocumentVersion, error) {
	sqlStr, args, err := builder.BuildSelect("document_versions", where, versionFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := db.From(ctx, r.conn).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	versions := make([]*model.DocumentVersion, 0)
	for rows.Next() {
		var version model.DocumentVersion
		var metaJSON string
		if err := rows.Scan(&version.ID, &version.TenantID, &version.DocumentID, &version.Version, &version.ContentSHA256, &version.MimeType, &version.SizeBytes, &version.ChunkCount, &metaJSON, &version.CreatedByUserID, &version.Ctime); err != nil {
			return nil, err
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &version.Meta)
		}
		versions = append(versions, &version)
	}
	return versions, rows.Err()
}

func (r *VersionRepo) UpdateChunkCount(ctx context.Context, versionID string, count int) error {
	where := tenant.Scope(ctx, map[string]interface{}{"id": versionID})
	update := map[string]interface{}{"chunk_count": count}
	sqlStr, args, err := builder.BuildUpdate("document_versions", where, update)
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
