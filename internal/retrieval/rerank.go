package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarryai/quarry/internal/ai"
)

// Candidate is one vector-store hit flowing through dedup, MMR and rerank.
type Candidate struct {
	VectorID string
	Score    float64
	Values   []float32
	Metadata map[string]interface{}
}

// Reranker may reorder or cut the selected set but never exceeds topK items.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error)
}

// NoopReranker truncates to topK and changes nothing else.
type NoopReranker struct{}

func (NoopReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error) {
	if topK < 0 {
		topK = 0
	}
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// LLMReranker asks a generator to order candidates by relevance. On any
// failure it falls back to truncation so retrieval never dies on rerank.
type LLMReranker struct {
	gen ai.IGenerator
}

func NewLLMReranker(gen ai.IGenerator) *LLMReranker {
	return &LLMReranker{gen: gen}
}

func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Candidate, error) {
	if r.gen == nil || len(candidates) == 0 {
		return NoopReranker{}.Rerank(ctx, query, candidates, topK)
	}
	var sb strings.Builder
	sb.WriteString("Rank the passages below by relevance to the query.\n")
	sb.WriteString("Output ONLY the passage numbers, most relevant first, comma separated.\n\n")
	sb.WriteString("QUERY:\n")
	sb.WriteString(query)
	sb.WriteString("\n\nPASSAGES:\n")
	for i, candidate := range candidates {
		text, _ := candidate.Metadata["text"].(string)
		if text == "" {
			text = candidate.VectorID
		}
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, truncateText(text, 400)))
	}
	raw, err := r.gen.Generate(ctx, sb.String())
	if err != nil {
		logutil.GetLogger(ctx).Warn("llm rerank failed, keeping score order", zap.Error(err))
		return NoopReranker{}.Rerank(ctx, query, candidates, topK)
	}
	order := parseRankOrder(raw, len(candidates))
	if len(order) == 0 {
		return NoopReranker{}.Rerank(ctx, query, candidates, topK)
	}
	ranked := make([]Candidate, 0, len(candidates))
	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		ranked = append(ranked, candidates[idx])
		seen[idx] = true
	}
	for i, candidate := range candidates {
		if !seen[i] {
			ranked = append(ranked, candidate)
		}
	}
	return NoopReranker{}.Rerank(ctx, query, ranked, topK)
}

func parseRankOrder(raw string, n int) []int {
	var order []int
	seen := make(map[int]bool)
	for _, field := range strings.FieldsFunc(raw, func(r rune) bool {
		return r < '0' || r > '9'
	}) {
		num, err := strconv.Atoi(field)
		if err != nil || num < 1 || num > n || seen[num] {
			continue
		}
		seen[num] = true
		order = append(order, num-1)
	}
	return order
}

func truncateText(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

// NewReranker selects the reranker variant by configuration name.
func NewReranker(name string, gen ai.IGenerator) (Reranker, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "noop":
		return NoopReranker{}, nil
	case "llm":
		return NewLLMReranker(gen), nil
	}
	return nil, fmt.Errorf("unsupported reranker: %s", name)
}
