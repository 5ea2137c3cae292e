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

var messageFields = []string{"id", "tenant_id", "conversation_id", "role", "content", "citations", "token_count", "ctime"}

// memoryRoles are the only roles conversation memory and summaries read;
// system and tool messages never enter the prompt.
var memoryRoles = []interface{}{model.RoleUser, model.RoleAssistant}

type MessageRepo struct {
	conn *sql.DB
}

func NewMessageRepo(conn *sql.DB) *MessageRepo {
	return &MessageRepo{conn: conn}
}

func (r *MessageRepo) Create(ctx context.Context, message *model.Message) error {
	fillTenant(ctx, &message.TenantID)
	if message.Ctime == 0 {
		message.Ctime = nowMilli()
	}
	citations := message.Citations
	if citations == nil {
		citations = []model.Citation{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"id":              message.ID,
		"tenant_id":       message.TenantID,
		"conversation_id": message.ConversationID,
		"role":            message.Role,
		"content":         message.Content,
		"citations":       string(citationsJSON),
		"token_count":     message.TokenCount,
		"ctime":           message.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("messages", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = db.From(ctx, r.conn).ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *MessageRepo) Get(ctx context.Context, id string) (*model.Message, error) {
	where := tenant.Scope(ctx, map[string]interface{}{"id": id})
	messages, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, appErr.ErrNotFound
	}
	return messages[0], nil
}

// ListRecent returns the newest limit user/assistant messages in
// chronological order.
func (r *MessageRepo) ListRecent(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"conversation_id": conversationID,
		"role in":         memoryRoles,
		"_orderby":        "ctime desc, id desc",
	})
	if limit > 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	messages, err := r.query(ctx, where)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListAfter returns user/assistant messages newer than afterMessageID in
// chronological order. An empty id means from the beginning of the
// conversation.
func (r *MessageRepo) ListAfter(ctx context.Context, conversationID string, afterMessageID string, limit int) ([]*model.Message, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"conversation_id": conversationID,
		"role in":         memoryRoles,
		"_orderby":        "ctime asc, id asc",
	})
	if afterMessageID != "" {
		cutoff, err := r.Get(ctx, afterMessageID)
		if err != nil {
			if appErr.IsNotFound(err) {
				cutoff = nil
			} else {
				return nil, err
			}
		}
		if cutoff != nil {
			where["ctime >"] = cutoff.Ctime
		}
	}
	if limit > 0 {
		where["_limit"] = []uint{0, uint(limit)}
	}
	return r.query(ctx, where)
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string, limit, offset uint) ([]*model.Message, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"conversation_id": conversationID,
		"_orderby":        "ctime asc, id asc",
	})
	if limit > 0 {
		where["_limit"] = []uint{offset, limit}
	}
	return r.query(ctx, where)
}

func (r *MessageRepo) CountByRole(ctx context.Context, conversationID string, role string) (int, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"conversation_id": conversationID,
		"role":            role,
	})
	sqlStr, args, err := builder.BuildSelect("messages", where, []string{"count(*)"})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	row := db.From(ctx, r.conn).QueryRowContext(ctx, sqlStr, args...)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *MessageRepo) query(ctx context.Context, where map[string]interface{}) ([]*model.Message, error) {
	sqlStr, args, err := builder.BuildSelect("messages", where, messageFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := db.From(ctx, r.conn).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	messages := make([]*model.Message, 0)
	for rows.Next() {
		var message model.Message
		var citationsJSON string
		if err := rows.Scan(&message.ID, &message.TenantID, &message.ConversationID, &message.Role, &message.Content, &citationsJSON, &message.TokenCount, &message.Ctime); err != nil {
			return nil, err
		}
		if citationsJSON != "" {
			_ = json.Unmarshal([]byte(citationsJSON), &message.Citations)
		}
		messages = append(messages, &message)
	}
	return messages, rows.Err()
}
