// Package pgvector keeps vectors in the primary Postgres next to the
// canonical rows, using the pgvector extension for nearest-neighbor search.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pgv "github.com/pgvector/pgvector-go"

	"github.com/quarryai/quarry/internal/vector"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Upsert(ctx context.Context, namespace string, vectors []vector.Vector) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	const query = `
		INSERT INTO chunk_vectors (namespace, vector_id, embedding, meta, ctime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (namespace, vector_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			meta = EXCLUDED.meta,
			ctime = EXCLUDED.ctime
	`
	now := time.Now().UnixMilli()
	for _, v := range vectors {
		meta, err := json.Marshal(v.Metadata)
		if err != nil {
			return 0, err
		}
		if _, err := s.db.ExecContext(ctx, query, namespace, v.ID, pgv.NewVector(v.Values), meta, now); err != nil {
			return 0, err
		}
	}
	return len(vectors), nil
}

func (s *Store) Query(ctx context.Context, namespace string, q vector.Query) ([]vector.Match, error) {
	if q.TopK <= 0 {
		return nil, nil
	}
	conditions := []string{"namespace = $1"}
	args := []interface{}{namespace, pgv.NewVector(q.Vector)}
	idx := 3
	for key, want := range q.Filter {
		switch v := want.(type) {
		case []string:
			placeholders := make([]string, 0, len(v))
			for _, member := range v {
				placeholders = append(placeholders, fmt.Sprintf("$%d", idx))
				args = append(args, member)
				idx++
			}
			conditions = append(conditions, fmt.Sprintf("meta->>'%s' IN (%s)", key, strings.Join(placeholders, ", ")))
		default:
			conditions = append(conditions, fmt.Sprintf("meta->>'%s' = $%d", key, idx))
			args = append(args, fmt.Sprint(v))
			idx++
		}
	}
	args = append(args, q.TopK)
	query := fmt.Sprintf(`
		SELECT vector_id, 1 - (embedding <=> $2) AS score, embedding, meta
		FROM chunk_vectors
		WHERE %s
		ORDER BY embedding <=> $2
		LIMIT $%d
	`, strings.Join(conditions, " AND "), idx)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []vector.Match
	for rows.Next() {
		var match vector.Match
		var embedding pgv.Vector
		var meta []byte
		if err := rows.Scan(&match.ID, &match.Score, &embedding, &meta); err != nil {
			return nil, err
		}
		if q.IncludeValues {
			match.Values = embedding.Slice()
		}
		if q.IncludeMetadata {
			if err := json.Unmarshal(meta, &match.Metadata); err != nil {
				return nil, err
			}
		}
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

func (s *Store) Delete(ctx context.Context, namespace string, filter vector.Filter) error {
	conditions := []string{"namespace = $1"}
	args := []interface{}{namespace}
	idx := 2
	for key, want := range filter {
		switch v := want.(type) {
		case []string:
			placeholders := make([]string, 0, len(v))
			for _, member := range v {
				placeholders = append(placeholders, fmt.Sprintf("$%d", idx))
				args = append(args, member)
				idx++
			}
			conditions = append(conditions, fmt.Sprintf("meta->>'%s' IN (%s)", key, strings.Join(placeholders, ", ")))
		default:
			conditions = append(conditions, fmt.Sprintf("meta->>'%s' = $%d", key, idx))
			args = append(args, fmt.Sprint(v))
			idx++
		}
	}
	query := fmt.Sprintf("DELETE FROM chunk_vectors WHERE %s", strings.Join(conditions, " AND "))
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
