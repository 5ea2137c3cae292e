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

var userFields = []string{"id", "tenant_id", "email", "full_name", "password_hash", "is_active", "is_admin", "ctime", "mtime"}

type UserRepo struct {
	conn *sql.DB
}

func NewUserRepo(conn *sql.DB) *UserRepo {
	return &UserRepo{conn: conn}
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	fillTenant(ctx, &user.TenantID)
	now := nowMilli()
	if user.Ctime == 0 {
		user.Ctime = now
	}
	if user.Mtime == 0 {
		user.Mtime = now
	}
	data := map[string]interface{}{
		"id":            user.ID,
		"tenant_id":     user.TenantID,
		"email":         user.Email,
		"full_name":     user.FullName,
		"password_hash": user.PasswordHash,
		"is_active":     user.IsActive,
		"is_admin":      user.IsAdmin,
		"ctime":         user.Ctime,
		"mtime":         user.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("users", []map[string]interface{}{data})
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

func (r *UserRepo) Get(ctx context.Context, id string) (*model.User, error) {
	return r.getOne(ctx, tenant.Scope(ctx, map[string]interface{}{"id": id}))
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, tenant.Scope(ctx, map[string]interface{}{"email": email}))
}

func (r *UserRepo) getOne(ctx context.Context, where map[string]interface{}) (*model.User, error) {
	sqlStr, args, err := builder.BuildSelect("users", where, userFields)
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
	var user model.User
	if err := rows.Scan(&user.ID, &user.TenantID, &user.Email, &user.FullName, &user.PasswordHash, &user.IsActive, &user.IsAdmin, &user.Ctime, &user.Mtime); err != nil {
		return nil, err
	}
	return &user, nil
}
