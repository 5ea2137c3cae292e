package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarryai/quarry/internal/model"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/tenant"
	"github.com/quarryai/quarry/internal/vector"
	"github.com/quarryai/quarry/internal/vector/memory"
)

type staticEmbedder struct {
	vec []float32
}

func (s *staticEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func (s *staticEmbedder) ModelName() string { return "static" }

type mapChunkLookup struct {
	byVectorID map[string]*model.Chunk
}

func (m *mapChunkLookup) ListByVectorIDs(ctx context.Context, vectorIDs []string) ([]*model.Chunk, error) {
	tenantID, _ := tenant.FromContext(ctx)
	var out []*model.Chunk
	for _, id := range vectorIDs {
		chunk, ok := m.byVectorID[id]
		if !ok {
			continue
		}
		if tenantID != "" && chunk.TenantID != tenantID {
			continue
		}
		out = append(out, chunk)
	}
	return out, nil
}

type mapTitles struct {
	titles map[string]string
}

func (m *mapTitles) TitlesByIDs(ctx context.Context, documentIDs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, id := range documentIDs {
		if title, ok := m.titles[id]; ok {
			out[id] = title
		}
	}
	return out, nil
}

func TestDedupCandidates_KeepsBestScorePerID(t *testing.T) {
	candidates := []Candidate{
		{VectorID: "a", Score: 0.5},
		{VectorID: "b", Score: 0.9},
		{VectorID: "a", Score: 0.8},
		{VectorID: "c", Score: 0.7},
	}
	out := dedupCandidates(candidates)
	require.Len(t, out, 3)
	require.Equal(t, "b", out[0].VectorID)
	require.Equal(t, "a", out[1].VectorID)
	require.InDelta(t, 0.8, out[1].Score, 1e-9)
	require.Equal(t, "c", out[2].VectorID)
}

func TestMMRSelect_LambdaOneIsPureRelevance(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{VectorID: "a", Score: 0.99, Values: []float32{1, 0}},
		{VectorID: "b", Score: 0.98, Values: []float32{0.99, 0.02}},
		{VectorID: "c", Score: 0.5, Values: []float32{0, 1}},
	}
	selected, picked := mmrSelect(query, candidates, 2, 1.0)
	require.Equal(t, 2, picked)
	require.Equal(t, "a", selected[0].VectorID)
	require.Equal(t, "b", selected[1].VectorID)
}

func TestMMRSelect_LambdaZeroPrefersDiversity(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{VectorID: "a", Score: 0.99, Values: []float32{1, 0}},
		{VectorID: "b", Score: 0.98, Values: []float32{0.999, 0.01}},
		{VectorID: "c", Score: 0.5, Values: []float32{0, 1}},
	}
	selected, _ := mmrSelect(query, candidates, 2, 0.0)
	require.Len(t, selected, 2)
	require.Equal(t, "c", selected[1].VectorID)
}

func TestMMRSelect_FirstPickIsMostRelevantEvenAtLambdaZero(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{VectorID: "a", Score: 0.99, Values: []float32{0, 1}},
		{VectorID: "b", Score: 0.5, Values: []float32{1, 0}},
	}
	selected, picked := mmrSelect(query, candidates, 1, 0.0)
	require.Equal(t, 1, picked)
	require.Len(t, selected, 1)
	require.Equal(t, "b", selected[0].VectorID)
}

func TestMMRSelect_NoValuesFallsBackToScoreOrder(t *testing.T) {
	candidates := []Candidate{
		{VectorID: "a", Score: 0.9},
		{VectorID: "b", Score: 0.8},
		{VectorID: "c", Score: 0.7},
	}
	selected, picked := mmrSelect([]float32{1, 0}, candidates, 2, 0.5)
	require.Equal(t, 0, picked)
	require.Len(t, selected, 2)
	require.Equal(t, "a", selected[0].VectorID)
	require.Equal(t, "b", selected[1].VectorID)
}

func TestMMRSelect_FillsLeftoverFromScoreOrder(t *testing.T) {
	query := []float32{1, 0}
	candidates := []Candidate{
		{VectorID: "a", Score: 0.9, Values: []float32{1, 0}},
		{VectorID: "b", Score: 0.8},
		{VectorID: "c", Score: 0.7},
	}
	selected, picked := mmrSelect(query, candidates, 3, 0.5)
	require.Equal(t, 1, picked)
	require.Len(t, selected, 3)
	require.Equal(t, "a", selected[0].VectorID)
	require.Equal(t, "b", selected[1].VectorID)
	require.Equal(t, "c", selected[2].VectorID)
}

func TestCosineSimilarity_ZeroVectorSafe(t *testing.T) {
	require.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	require.InDelta(t, 1.0, cosineSimilarity([]float32{1, 1}, []float32{2, 2}), 1e-9)
}

func newRetrievalEnv(t *testing.T, useMMR bool) (*Pipeline, *memory.Store) {
	t.Helper()
	store := memory.New()
	chunks := &mapChunkLookup{byVectorID: map[string]*model.Chunk{
		"doc-d1-v1-c0": {ID: "c-a", TenantID: "t1", VectorID: "doc-d1-v1-c0", ContentText: "alpha text", Meta: model.ChunkMeta{DocID: "d1", Section: "intro"}},
		"doc-d1-v1-c1": {ID: "c-b", TenantID: "t1", VectorID: "doc-d1-v1-c1", ContentText: "beta text", Meta: model.ChunkMeta{DocID: "d1", Section: "body"}},
		"doc-d9-v1-c0": {ID: "c-x", TenantID: "t2", VectorID: "doc-d9-v1-c0", ContentText: "other tenant", Meta: model.ChunkMeta{DocID: "d9"}},
	}}
	titles := &mapTitles{titles: map[string]string{"d1": "Handbook"}}
	pipeline, err := NewPipeline(&staticEmbedder{vec: []float32{1, 0}}, store, chunks, titles, NoopReranker{}, Config{
		TopK:            2,
		FetchK:          8,
		UseMMR:          useMMR,
		MMRLambda:       0.5,
		NamespacePrefix: "quarry",
		Env:             "test",
	})
	require.NoError(t, err)
	return pipeline, store
}

func seedVectors(t *testing.T, store *memory.Store, namespace, tenantID, docID string, n int) {
	t.Helper()
	vectors := make([]vector.Vector, 0, n)
	for i := 0; i < n; i++ {
		vectors = append(vectors, vector.Vector{
			ID:     vectorIDFor(docID, i),
			Values: []float32{1, float32(i) * 0.1},
			Metadata: map[string]interface{}{
				"tenant_id": tenantID,
				"doc_id":    docID,
			},
		})
	}
	_, err := store.Upsert(context.Background(), namespace, vectors)
	require.NoError(t, err)
}

func vectorIDFor(docID string, index int) string {
	return "doc-" + docID + "-v1-c" + string(rune('0'+index))
}

func TestRetrieve_RequiresTenantScope(t *testing.T) {
	pipeline, _ := newRetrievalEnv(t, false)
	_, err := pipeline.Retrieve(context.Background(), "what is alpha", Options{})
	require.ErrorIs(t, err, appErr.ErrForbidden)
}

func TestRetrieve_ReturnsScopedItemsWithCitations(t *testing.T) {
	pipeline, store := newRetrievalEnv(t, false)
	seedVectors(t, store, "quarry:test:t1", "t1", "d1", 2)
	seedVectors(t, store, "quarry:test:t2", "t2", "d9", 1)

	ctx := tenant.WithTenant(context.Background(), "t1")
	res, err := pipeline.Retrieve(ctx, "what is alpha", Options{})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	require.Equal(t, "1", res.Items[0].CitationID)
	require.Equal(t, "2", res.Items[1].CitationID)
	for _, item := range res.Items {
		require.Equal(t, "d1", item.DocID)
		require.Equal(t, "Handbook", item.Title)
	}
	require.Equal(t, 2, res.Debug.Fetched)
	require.Equal(t, 2, res.Debug.Selected)
	require.False(t, res.Debug.UsedMMR)
}

func TestRetrieve_ForeignNamespaceStaysEmpty(t *testing.T) {
	pipeline, store := newRetrievalEnv(t, false)
	seedVectors(t, store, "quarry:test:t2", "t2", "d9", 1)

	ctx := tenant.WithTenant(context.Background(), "t1")
	res, err := pipeline.Retrieve(ctx, "anything", Options{})
	require.NoError(t, err)
	require.Empty(t, res.Items)
	require.Zero(t, res.Debug.Fetched)
}

func TestRetrieve_DanglingVectorIDsDroppedSilently(t *testing.T) {
	pipeline, store := newRetrievalEnv(t, false)
	seedVectors(t, store, "quarry:test:t1", "t1", "d1", 2)
	_, err := store.Upsert(context.Background(), "quarry:test:t1", []vector.Vector{{
		ID:     "doc-gone-v1-c0",
		Values: []float32{1, 0},
		Metadata: map[string]interface{}{
			"tenant_id": "t1",
			"doc_id":    "gone",
		},
	}})
	require.NoError(t, err)

	ctx := tenant.WithTenant(context.Background(), "t1")
	res, err := pipeline.Retrieve(ctx, "alpha", Options{})
	require.NoError(t, err)
	for _, item := range res.Items {
		require.NotEqual(t, "gone", item.DocID)
	}
}

func TestRetrieve_DocIDAllowlist(t *testing.T) {
	pipeline, store := newRetrievalEnv(t, false)
	seedVectors(t, store, "quarry:test:t1", "t1", "d1", 2)

	ctx := tenant.WithTenant(context.Background(), "t1")
	res, err := pipeline.Retrieve(ctx, "alpha", Options{DocIDs: []string{"d2"}})
	require.NoError(t, err)
	require.Empty(t, res.Items)

	res, err = pipeline.Retrieve(ctx, "alpha", Options{DocIDs: []string{"d1"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
}

func TestRetrieve_MMRPathSetsDebug(t *testing.T) {
	pipeline, store := newRetrievalEnv(t, true)
	seedVectors(t, store, "quarry:test:t1", "t1", "d1", 2)

	ctx := tenant.WithTenant(context.Background(), "t1")
	res, err := pipeline.Retrieve(ctx, "alpha", Options{})
	require.NoError(t, err)
	require.True(t, res.Debug.UsedMMR)
	require.Equal(t, 2, res.Debug.MMRSelected)
	require.Len(t, res.Items, 2)
}

func TestRetrieve_EmptyQueryRejected(t *testing.T) {
	pipeline, _ := newRetrievalEnv(t, false)
	ctx := tenant.WithTenant(context.Background(), "t1")
	_, err := pipeline.Retrieve(ctx, "", Options{})
	require.Error(t, err)
	require.True(t, appErr.IsValidation(err))
}
