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

var conversationFields = []string{"id", "tenant_id", "user_id", "title", "is_archived", "last_message_at", "ctime", "mtime"}

type ConversationRepo struct {
	conn *sql.DB
}

func NewConversationRepo(conn *sql.DB) *ConversationRepo {
	return &ConversationRepo{conn: conn}
}

func (r *ConversationRepo) Create(ctx context.Context, conversation *model.Conversation) error {
	fillTenant(ctx, &conversation.TenantID)
	now := nowMilli()
	if conversation.Ctime == 0 {
		conversation.Ctime = now
	}
	if conversation.Mtime == 0 {
		conversation.Mtime = now
	}
	data := map[string]interface{}{
		"id":              conversation.ID,
		"tenant_id":       conversation.TenantID,
		"user_id":         conversation.UserID,
		"title":           conversation.Title,
		"is_archived":     conversation.IsArchived,
		"last_message_at": conversation.LastMessageAt,
		"ctime":           conversation.Ctime,
		"mtime":           conversation.Mtime,
	}
	sqlStr, args, err := builder.BuildInsert("conversations", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = db.From(ctx, r.conn).ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ConversationRepo) Get(ctx context.Context, id string) (*model.Conversation, error) {
	where := tenant.Scope(ctx, map[string]interface{}{"id": id})
	conversations, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return nil, appErr.ErrNotFound
	}
	return conversations[0], nil
}

func (r *ConversationRepo) List(ctx context.Context, userID string, limit, offset uint) ([]*model.Conversation, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"is_archived": false,
		"_orderby":    "last_message_at desc, ctime desc",
	})
	if userID != "" {
		where["user_id"] = userID
	}
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	return r.query(ctx, where)
}

func (r *ConversationRepo) TouchLastMessage(ctx context.Context, id string, at int64) error {
	where := tenant.Scope(ctx, map[string]interface{}{"id": id})
	update := map[string]interface{}{
		"last_message_at": at,
		"mtime":           nowMilli(),
	}
	return r.update(ctx, where, update)
}

func (r *ConversationRepo) SetArchived(ctx context.Context, id string, archived bool) error {
	where := tenant.Scope(ctx, map[string]interface{}{"id": id})
	update := map[string]interface{}{
		"is_archived": archived,
		"mtime":       nowMilli(),
	}
	return r.update(ctx, where, update)
}

func (r *ConversationRepo) update(ctx context.Context, where, update map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("conversations", where, update)
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

func (r *ConversationRepo) query(ctx context.Context, where map[string]interface{}) ([]*model.Conversation, error) {
	sqlStr, args, err := builder.BuildSelect("conversations", where, conversationFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := db.From(ctx, r.conn).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	conversations := make([]*model.Conversation, 0)
	for rows.Next() {
		var conversation model.Conversation
		if err := rows.Scan(&conversation.ID, &conversation.TenantID, &conversation.UserID, &conversation.Title, &conversation.IsArchived, &conversation.LastMessageAt, &conversation.Ctime, &conversation.Mtime); err != nil {
			return nil, err
		}
		conversations = append(conversations, &conversation)
	}
	return conversations, rows.Err()
}
