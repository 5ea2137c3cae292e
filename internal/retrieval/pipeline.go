package retrieval

import (
	"context"
	"math"
	"sort"
	"strconv"

	"github.com/quarryai/quarry/internal/ai"
	"github.com/quarryai/quarry/internal/model"
	"github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/tenant"
	"github.com/quarryai/quarry/internal/vector"
)

// ChunkLookup resolves vector ids back to stored chunks. Implementations are
// tenant scoped, so ids belonging to other tenants come back absent.
type ChunkLookup interface {
	ListByVectorIDs(ctx context.Context, vectorIDs []string) ([]*model.Chunk, error)
}

// TitleLookup maps document ids to their titles for citation display.
type TitleLookup interface {
	TitlesByIDs(ctx context.Context, documentIDs []string) (map[string]string, error)
}

type Config struct {
	TopK            int
	FetchK          int
	UseMMR          bool
	MMRLambda       float64
	RerankEnabled   bool
	NamespacePrefix string
	Env             string
}

// Options override the configured defaults for a single query. Nil pointer
// fields fall through to the pipeline configuration.
type Options struct {
	TopK          int
	DocIDs        []string
	UseMMR        *bool
	RerankEnabled *bool
}

// Item is one retrieved chunk with a stable citation id for prompt building.
type Item struct {
	CitationID string
	ChunkID    string
	DocID      string
	Title      string
	Score      float64
	Content    string
	Page       *int
	Section    string
	Meta       model.ChunkMeta
}

type Debug struct {
	Query         string    `json:"query"`
	TopK          int       `json:"top_k"`
	Fetched       int       `json:"fetched"`
	Deduped       int       `json:"deduped"`
	Selected      int       `json:"selected"`
	MMRSelected   int       `json:"mmr_selected"`
	UsedMMR       bool      `json:"used_mmr"`
	RerankEnabled bool      `json:"rerank_enabled"`
	Scores        []float64 `json:"scores"`
	ChunkIDs      []string  `json:"chunk_ids"`
	DocIDs        []string  `json:"doc_ids"`
}

type Result struct {
	Query string
	Items []Item
	Debug Debug
}

type Pipeline struct {
	embedder ai.IEmbedder
	store    vector.Store
	chunks   ChunkLookup
	docs     TitleLookup
	reranker Reranker
	cfg      Config
}

func NewPipeline(embedder ai.IEmbedder, store vector.Store, chunks ChunkLookup, docs TitleLookup, reranker Reranker, cfg Config) (*Pipeline, error) {
	if cfg.TopK <= 0 {
		return nil, errors.Validationf("top_k must be positive, got %d", cfg.TopK)
	}
	if cfg.MMRLambda < 0 || cfg.MMRLambda > 1 {
		return nil, errors.Validationf("mmr_lambda must be in [0,1], got %g", cfg.MMRLambda)
	}
	if reranker == nil {
		reranker = NoopReranker{}
	}
	return &Pipeline{
		embedder: embedder,
		store:    store,
		chunks:   chunks,
		docs:     docs,
		reranker: reranker,
		cfg:      cfg,
	}, nil
}

// Retrieve runs the query end to end: embed, fetch, dedup, diversify, rerank
// and resolve the survivors back to chunk rows.
func (p *Pipeline) Retrieve(ctx context.Context, query string, opts Options) (*Result, error) {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, errors.Validationf("query must not be empty")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = p.cfg.TopK
	}
	useMMR := p.cfg.UseMMR
	if opts.UseMMR != nil {
		useMMR = *opts.UseMMR
	}
	rerankEnabled := p.cfg.RerankEnabled
	if opts.RerankEnabled != nil {
		rerankEnabled = *opts.RerankEnabled
	}
	fetchK := p.cfg.FetchK
	if fetchK < topK {
		fetchK = topK
	}

	embeddings, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, errors.Upstream("embed query", err)
	}
	if len(embeddings) == 0 {
		return nil, errors.Upstream("embed query", errors.Validationf("embedder returned no vectors"))
	}
	queryVec := embeddings[0]

	filter := vector.Filter{"tenant_id": tenantID}
	if len(opts.DocIDs) > 0 {
		filter["doc_id"] = opts.DocIDs
	}
	ns, err := vector.Namespace(p.cfg.NamespacePrefix, p.cfg.Env, tenantID)
	if err != nil {
		return nil, err
	}
	matches, err := p.store.Query(ctx, ns, vector.Query{
		Vector:          queryVec,
		TopK:            fetchK,
		Filter:          filter,
		IncludeValues:   useMMR,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, errors.Upstream("vector query", err)
	}

	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, Candidate{
			VectorID: m.ID,
			Score:    m.Score,
			Values:   m.Values,
			Metadata: m.Metadata,
		})
	}
	deduped := dedupCandidates(candidates)

	var selected []Candidate
	mmrSelected := 0
	if useMMR {
		selected, mmrSelected = mmrSelect(queryVec, deduped, topK, p.cfg.MMRLambda)
	} else {
		selected = deduped
		if len(selected) > topK {
			selected = selected[:topK]
		}
	}

	if rerankEnabled {
		selected, err = p.reranker.Rerank(ctx, query, selected, topK)
		if err != nil {
			return nil, errors.Upstream("rerank", err)
		}
	}

	items, err := p.resolveItems(ctx, selected)
	if err != nil {
		return nil, err
	}

	debug := Debug{
		Query:         query,
		TopK:          topK,
		Fetched:       len(matches),
		Deduped:       len(deduped),
		Selected:      len(items),
		MMRSelected:   mmrSelected,
		UsedMMR:       useMMR,
		RerankEnabled: rerankEnabled,
	}
	for _, item := range items {
		debug.Scores = append(debug.Scores, item.Score)
		debug.ChunkIDs = append(debug.ChunkIDs, item.ChunkID)
		debug.DocIDs = append(debug.DocIDs, item.DocID)
	}
	return &Result{Query: query, Items: items, Debug: debug}, nil
}

// resolveItems maps surviving vector ids back to chunk rows. Ids with no
// matching row (deleted documents, foreign tenants) are dropped silently.
func (p *Pipeline) resolveItems(ctx context.Context, selected []Candidate) ([]Item, error) {
	if len(selected) == 0 {
		return nil, nil
	}
	vectorIDs := make([]string, 0, len(selected))
	for _, candidate := range selected {
		vectorIDs = append(vectorIDs, candidate.VectorID)
	}
	chunks, err := p.chunks.ListByVectorIDs(ctx, vectorIDs)
	if err != nil {
		return nil, err
	}
	byVectorID := make(map[string]*model.Chunk, len(chunks))
	docIDSet := make(map[string]bool)
	for _, chunk := range chunks {
		byVectorID[chunk.VectorID] = chunk
		docIDSet[chunk.Meta.DocID] = true
	}
	titles := map[string]string{}
	if p.docs != nil && len(docIDSet) > 0 {
		docIDs := make([]string, 0, len(docIDSet))
		for id := range docIDSet {
			docIDs = append(docIDs, id)
		}
		sort.Strings(docIDs)
		titles, err = p.docs.TitlesByIDs(ctx, docIDs)
		if err != nil {
			return nil, err
		}
	}
	items := make([]Item, 0, len(selected))
	for _, candidate := range selected {
		chunk, ok := byVectorID[candidate.VectorID]
		if !ok {
			continue
		}
		items = append(items, Item{
			CitationID: strconv.Itoa(len(items) + 1),
			ChunkID:    chunk.ID,
			DocID:      chunk.Meta.DocID,
			Title:      titles[chunk.Meta.DocID],
			Score:      candidate.Score,
			Content:    chunk.ContentText,
			Page:       chunk.Meta.Page,
			Section:    chunk.Meta.Section,
			Meta:       chunk.Meta,
		})
	}
	return items, nil
}

// dedupCandidates keeps the best score per vector id and returns the
// survivors in descending score order.
func dedupCandidates(candidates []Candidate) []Candidate {
	best := make(map[string]Candidate, len(candidates))
	for _, candidate := range candidates {
		prev, ok := best[candidate.VectorID]
		if !ok || candidate.Score > prev.Score {
			best[candidate.VectorID] = candidate
		}
	}
	out := make([]Candidate, 0, len(best))
	for _, candidate := range best {
		out = append(out, candidate)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].VectorID < out[j].VectorID
	})
	return out
}

// mmrSelect applies maximal marginal relevance over candidates that carry
// embeddings. Candidates without values cannot be compared for similarity;
// when none carry values the top scored slice is returned unchanged, and
// leftover capacity after the greedy loop is filled in score order. The
// second return value counts picks made by the greedy loop itself.
func mmrSelect(queryVec []float32, candidates []Candidate, topK int, lambda float64) ([]Candidate, int) {
	if topK <= 0 || len(candidates) == 0 {
		return nil, 0
	}
	working := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if len(candidate.Values) > 0 {
			working = append(working, candidate)
		}
	}
	if len(working) == 0 {
		if len(candidates) > topK {
			candidates = candidates[:topK]
		}
		return candidates, 0
	}

	relevance := make([]float64, len(working))
	for i, candidate := range working {
		relevance[i] = cosineSimilarity(queryVec, candidate.Values)
	}
	selected := make([]Candidate, 0, topK)
	selectedIdx := make([]int, 0, topK)
	used := make([]bool, len(working))
	for len(selected) < topK && len(selected) < len(working) {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i := range working {
			if used[i] {
				continue
			}
			// first pick is the most relevant candidate regardless of lambda
			score := relevance[i]
			if len(selectedIdx) > 0 {
				maxSim := 0.0
				for _, j := range selectedIdx {
					sim := cosineSimilarity(working[i].Values, working[j].Values)
					if sim > maxSim {
						maxSim = sim
					}
				}
				score = lambda*relevance[i] - (1-lambda)*maxSim
			}
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		used[bestIdx] = true
		selectedIdx = append(selectedIdx, bestIdx)
		selected = append(selected, working[bestIdx])
	}
	mmrCount := len(selected)

	if len(selected) < topK {
		chosen := make(map[string]bool, len(selected))
		for _, candidate := range selected {
			chosen[candidate.VectorID] = true
		}
		for _, candidate := range candidates {
			if len(selected) >= topK {
				break
			}
			if chosen[candidate.VectorID] {
				continue
			}
			chosen[candidate.VectorID] = true
			selected = append(selected, candidate)
		}
	}
	return selected, mmrCount
}

func cosineSimilarity(a []float32, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
