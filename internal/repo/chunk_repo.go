package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/quarryai/quarry/internal/db"
	"github.com/quarryai/quarry/internal/model"
	"github.com/quarryai/quarry/internal/pkg/dbutil"
	"github.com/quarryai/quarry/internal/tenant"
)

var chunkFields = []string{"id", "tenant_id", "document_id", "document_version_id", "chunk_index", "page_number", "section", "token_count", "content_text", "meta", "vector_id", "ctime"}

type ChunkRepo struct {
	conn *sql.DB
}

func NewChunkRepo(conn *sql.DB) *ChunkRepo {
	return &ChunkRepo{conn: conn}
}

// CreateBatch inserts all rows in one statement. The pipeline calls this
// inside the replacement transaction after DeleteByDocument.
func (r *ChunkRepo) CreateBatch(ctx context.Context, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	data := make([]map[string]interface{}, 0, len(chunks))
	for _, chunk := range chunks {
		fillTenant(ctx, &chunk.TenantID)
		if chunk.Ctime == 0 {
			chunk.Ctime = nowMilli()
		}
		metaJSON, err := json.Marshal(chunk.Meta)
		if err != nil {
			return err
		}
		data = append(data, map[string]interface{}{
			"id":                  chunk.ID,
			"tenant_id":           chunk.TenantID,
			"document_id":         chunk.DocumentID,
			"document_version_id": chunk.DocumentVersionID,
			"chunk_index":         chunk.ChunkIndex,
			"page_number":         chunk.PageNumber,
			"section":             chunk.Section,
			"token_count":         chunk.TokenCount,
			"content_text":        chunk.ContentText,
			"meta":                string(metaJSON),
			"vector_id":           chunk.VectorID,
			"ctime":               chunk.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert("chunks", data)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = db.From(ctx, r.conn).ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ChunkRepo) DeleteByDocument(ctx context.Context, documentID string) error {
	where := tenant.Scope(ctx, map[string]interface{}{"document_id": documentID})
	sqlStr, args, err := builder.BuildDelete("chunks", where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = db.From(ctx, r.conn).ExecContext(ctx, sqlStr, args...)
	return err
}

// ListByVectorIDs resolves vector ids to chunk rows within the active
// tenant. Unknown ids are absent from the result, not an error.
func (r *ChunkRepo) ListByVectorIDs(ctx context.Context, vectorIDs []string) ([]*model.Chunk, error) {
	if len(vectorIDs) == 0 {
		return []*model.Chunk{}, nil
	}
	ids := make([]interface{}, 0, len(vectorIDs))
	for _, id := range vectorIDs {
		ids = append(ids, id)
	}
	where := tenant.Scope(ctx, map[string]interface{}{
		"_custom_ids": builder.In{"vector_id": ids},
	})
	return r.query(ctx, where)
}

func (r *ChunkRepo) ListByVersion(ctx context.Context, versionID string) ([]*model.Chunk, error) {
	where := tenant.Scope(ctx, map[string]interface{}{
		"document_version_id": versionID,
		"_orderby":            "chunk_index asc",
	})
	return r.query(ctx, where)
}

func (r *ChunkRepo) CountByDocument(ctx context.Context, documentID string) (int, error) {
	where := tenant.Scope(ctx, map[string]interface{}{"document_id": documentID})
	sqlStr, args, err := builder.BuildSelect("chunks", where, []string{"count(*)"})
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

func (r *ChunkRepo) query(ctx context.Context, where map[string]interface{}) ([]*model.Chunk, error) {
	sqlStr, args, err := builder.BuildSelect("chunks", where, chunkFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := db.From(ctx, r.conn).QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	chunks := make([]*model.Chunk, 0)
	for rows.Next() {
		var chunk model.Chunk
		var pageNumber sql.NullInt64
		var metaJSON string
		if err := rows.Scan(&chunk.ID, &chunk.TenantID, &chunk.DocumentID, &chunk.DocumentVersionID, &chunk.ChunkIndex, &pageNumber, &chunk.Section, &chunk.TokenCount, &chunk.ContentText, &metaJSON, &chunk.VectorID, &chunk.Ctime); err != nil {
			return nil, err
		}
		if pageNumber.Valid {
			page := int(pageNumber.Int64)
			chunk.PageNumber = &page
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &chunk.Meta)
		}
		chunks = append(chunks, &chunk)
	}
	return chunks, rows.Err()
}
