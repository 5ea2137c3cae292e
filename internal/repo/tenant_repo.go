package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/quarryai/quarry/internal/db"
	"github.com/quarryai/quarry/internal/model"
	"github.com/quarryai/quarry/internal/pkg/dbutil"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
)

var tenantFields = []string{"id", "slug", "name", "status", "ctime", "mtime"}

type TenantRepo struct {
	conn *sql.DB
}

func NewTenantRepo(conn *sql.DB) *TenantRepo {
	return &TenantRepo{conn: conn}
}

func (r *TenantRepo) Create(ctx context.Context, t *model.Tenant) error {
	now := nowMilli()
	if t.Ctime == 0 {
		t.Ctime = now
	}
	if t.Mtime == 0 {
		t.Mtime = now
	}
	if t.Status == "" {
		t.Status = model.TenantStatusActive
	}
	data := map[string]interface{}{
		"id":     t.ID,
		"slug":   t.Slug,
		"name":   t.Name,
		"status": t.Status,
		"ctime":  t.Ctime,
		"mtime":  t.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("tenants", []map[string]interface{}{data})
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

func (r *TenantRepo) Get(ctx context.Context, id string) (*model.Tenant, error) {
	return r.getOne(ctx, map[string]interface{}{"id": id})
}

func (r *TenantRepo) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	return r.getOne(ctx, map[string]interface{}{"slug": slug})
}

func (r *TenantRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.Tenant, error) {
	sqlStr, args, err := builder.BuildSelect("tenants", where, tenantFields)
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
	var t model.Tenant
	if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.Status, &t.Ctime, &t.Mtime); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantRepo) UpdateStatus(ctx context.Context, id, status string) error {
	where := map[string]interface{}{"id": id}
	update := map[string]interface{}{"status": status, "mtime": nowMilli()}
	sqlStr, args, err := builder.BuildUpdate("tenants", where, update)
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
