package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	reply string
	err   error
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.reply, g.err
}

func (g *scriptedGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(delta string) error) (string, error) {
	return g.reply, g.err
}

func TestNoopReranker_Truncates(t *testing.T) {
	candidates := []Candidate{{VectorID: "a"}, {VectorID: "b"}, {VectorID: "c"}}
	out, err := NoopReranker{}.Rerank(context.Background(), "q", candidates, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].VectorID)
}

func TestParseRankOrder(t *testing.T) {
	require.Equal(t, []int{1, 0, 2}, parseRankOrder("2, 1, 3", 3))
	require.Equal(t, []int{2, 0}, parseRankOrder("order: 3 then 1", 3))
	// duplicates and out-of-range entries dropped
	require.Equal(t, []int{1, 0}, parseRankOrder("2, 2, 7, 1", 3))
	require.Empty(t, parseRankOrder("no numbers here", 3))
}

func TestLLMReranker_ReordersByModelOutput(t *testing.T) {
	gen := &scriptedGenerator{reply: "3, 1, 2"}
	candidates := []Candidate{
		{VectorID: "a", Score: 0.9},
		{VectorID: "b", Score: 0.8},
		{VectorID: "c", Score: 0.7},
	}
	out, err := NewLLMReranker(gen).Rerank(context.Background(), "q", candidates, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "c", out[0].VectorID)
	require.Equal(t, "a", out[1].VectorID)
}

func TestLLMReranker_FallsBackOnGeneratorError(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("model offline")}
	candidates := []Candidate{
		{VectorID: "a", Score: 0.9},
		{VectorID: "b", Score: 0.8},
	}
	out, err := NewLLMReranker(gen).Rerank(context.Background(), "q", candidates, 2)
	require.NoError(t, err)
	require.Equal(t, "a", out[0].VectorID)
	require.Equal(t, "b", out[1].VectorID)
}

func TestLLMReranker_FallsBackOnGarbageOutput(t *testing.T) {
	gen := &scriptedGenerator{reply: "I cannot rank these."}
	candidates := []Candidate{
		{VectorID: "a", Score: 0.9},
		{VectorID: "b", Score: 0.8},
	}
	out, err := NewLLMReranker(gen).Rerank(context.Background(), "q", candidates, 1)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "a", out[0].VectorID)
}

func TestNewReranker(t *testing.T) {
	r, err := NewReranker("", nil)
	require.NoError(t, err)
	require.IsType(t, NoopReranker{}, r)

	r, err = NewReranker("llm", &scriptedGenerator{})
	require.NoError(t, err)
	require.IsType(t, &LLMReranker{}, r)

	_, err = NewReranker("bm25", nil)
	require.Error(t, err)
}
