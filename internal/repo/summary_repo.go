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

var summaryFields = []string{"id", "tenant_id", "conversation_id", "summary_index", "summary_text", "up_to_message_id", "ctime"}

type SummaryRepo struct {
	conn *sql.DB
}

func NewSummaryRepo(conn *sql.DB) *SummaryRepo {
	return &SummaryRepo{conn: conn}
}

func (r *SummaryRepo) Create(ctx context.Context, summary *model.ConversationSummary) error {
	fillTenant(ctx, &summary.TenantID)
	if summary.Ctime == 0 {
		summary.Ctime = nowMilli()
	}
	data := map[string]interface{}{
		"id":               summary.ID,
		"tenant_id":        summary.TenantID,
		"conversation_id":  summary.ConversationID,
		"summary_index":    summary.SummaryIndex,
		"summary_text":     summary.SummaryText,
		"up_to_message_id": summary.UpToMessageID,
		"ctime":            summary.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("conversation_summaries", []map[string]interface{}{data})
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

// Latest returns the summary with the highest index for the conversation.
func (r *SummaryRepo) Latest(ctx context.Context, conversationID string) (*model.ConversationSummary, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"conversation_id": conversationID,
		"_orderby":        "summary_index desc",
		"_limit":          []uint{0, 1},
	})
	sqlStr, args, err := builder.BuildSelect("conversation_summaries", where, summaryFields)
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
	var summary model.ConversationSummary
	if err := rows.Scan(&summary.ID, &summary.TenantID, &summary.ConversationID, &summary.SummaryIndex, &summary.SummaryText, &summary.UpToMessageID, &summary.Ctime); err != nil {
		return nil, err
	}
	return &summary, nil
}
