// Package memory is an in-process vector store for tests and local dev.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/quarryai/quarry/internal/vector"
)

type entry struct {
	values   []float32
	metadata map[string]interface{}
}

type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]entry
}

func New() *Store {
	return &Store{namespaces: make(map[string]map[string]entry)}
}

func (s *Store) Upsert(ctx context.Context, namespace string, vectors []vector.Vector) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[namespace]
	if ns == nil {
		ns = make(map[string]entry)
		s.namespaces[namespace] = ns
	}
	for _, v := range vectors {
		values := make([]float32, len(v.Values))
		copy(values, v.Values)
		ns[v.ID] = entry{values: values, metadata: v.Metadata}
	}
	return len(vectors), nil
}

func (s *Store) Query(ctx context.Context, namespace string, q vector.Query) ([]vector.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := s.namespaces[namespace]
	matches := make([]vector.Match, 0, len(ns))
	for id, ent := range ns {
		if !vector.MatchesFilter(ent.metadata, q.Filter) {
			continue
		}
		match := vector.Match{ID: id, Score: cosine(q.Vector, ent.values)}
		if q.IncludeValues {
			match.Values = append([]float32(nil), ent.values...)
		}
		if q.IncludeMetadata {
			match.Metadata = ent.metadata
		}
		matches = append(matches, match)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if q.TopK > 0 && len(matches) > q.TopK {
		matches = matches[:q.TopK]
	}
	return matches, nil
}

func (s *Store) Delete(ctx context.Context, namespace string, filter vector.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[namespace]
	for id, ent := range ns {
		if vector.MatchesFilter(ent.metadata, filter) {
			delete(ns, id)
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
