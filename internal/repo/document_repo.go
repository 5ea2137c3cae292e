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

var documentFields = []string{"id", "tenant_id", "title", "source_uri", "external_id", "is_deleted", "created_by_user_id", "ctime", "mtime"}

type DocumentRepo struct {
	conn *sql.DB
}

func NewDocumentRepo(conn *sql.DB) *DocumentRepo {
	return &DocumentRepo{conn: conn}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	fillTenant(ctx, &doc.TenantID)
	now := nowMilli()
	if doc.Ctime == 0 {
		doc.Ctime = now
	}
	if doc.Mtime == 0 {
		doc.Mtime = now
	}
	data := map[string]interface{}{
		"id":                 doc.ID,
		"tenant_id":          doc.TenantID,
		"title":              doc.Title,
		"source_uri":         doc.SourceURI,
		"external_id":        doc.ExternalID,
		"is_deleted":         doc.IsDeleted,
		"created_by_user_id": doc.CreatedByUserID,
		"ctime":              doc.Ctime,
		"mtime":              doc.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = db.From(ctx, r.conn).ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DocumentRepo) Get(ctx context.Context, id string) (*model.Document, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"id":         id,
		"is_deleted": false,
	})
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := db.From(ctx, r.conn).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	var doc model.Document
	if err := scanDocument(rows, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepo) List(ctx context.Context, limit, offset uint) ([]model.Document, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"is_deleted": false,
		"_orderby":   "ctime desc",
	})
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := db.From(ctx, r.conn).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]model.Document, 0)
	for rows.Next() {
		var doc model.Document
		if err := scanDocument(rows, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// TitlesByIDs resolves document titles for citation display. Deleted and
// foreign-tenant documents are simply absent from the result.
func (r *DocumentRepo) TitlesByIDs(ctx context.Context, documentIDs []string) (map[string]string, error) {
	if len(documentIDs) == 0 {
		return map[string]string{}, nil
	}
	ids := make([]interface{}, 0, len(documentIDs))
	for _, id := range documentIDs {
		ids = append(ids, id)
	}
	where := tenant.Scope(ctx, map[string]interface{}{
		"_custom_ids": builder.In{"id": ids},
	})
	sqlStr, args, err := builder.BuildSelect("documents", where, []string{"id", "title"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := db.From(ctx, r.conn).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	titles := make(map[string]string, len(documentIDs))
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

func (r *DocumentRepo) UpdateTitle(ctx context.Context, id, title string) error {
	where := tenant.Scope(ctx, map[string]interface{}{
		"id":         id,
		"is_deleted": false,
	})
	update := map[string]interface{}{"title": title, "mtime": nowMilli()}
	return r.update(ctx, where, update)
}

// SoftDelete hides the document from reads; chunk and vector cleanup is the
// caller's responsibility.
func (r *DocumentRepo) SoftDelete(ctx context.Context, id string) error {
	where := tenant.Scope(ctx, map[string]interface{}{
		"id":         id,
		"is_deleted": false,
	})
	update := map[string]interface{}{"is_deleted": true, "mtime": nowMilli()}
	return r.update(ctx, where, update)
}

func (r *DocumentRepo) update(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("documents", where, update)
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

func scanDocument(rows *sql.Rows, doc *model.Document) error {
	return rows.Scan(&doc.ID, &doc.TenantID, &doc.Title, &doc.SourceURI, &doc.ExternalID, &doc.IsDeleted, &doc.CreatedByUserID, &doc.Ctime, &doc.Mtime)
}
