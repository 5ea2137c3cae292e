package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarryai/quarry/internal/model"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/vector"
	"github.com/quarryai/quarry/internal/vector/memory"
)

type fakeDocs struct {
	docs map[string]*model.Document
}

func (f *fakeDocs) Get(ctx context.Context, id string) (*model.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return doc, nil
}

type fakeVersions struct {
	versions []*model.DocumentVersion
}

func (f *fakeVersions) LatestVersion(ctx context.Context, documentID string) (int, error) {
	latest := 0
	for _, version := range f.versions {
		if version.DocumentID == documentID && version.Version > latest {
			latest = version.Version
		}
	}
	if latest == 0 {
		return 0, appErr.ErrNotFound
	}
	return latest, nil
}

func (f *fakeVersions) Create(ctx context.Context, version *model.DocumentVersion) error {
	f.versions = append(f.versions, version)
	return nil
}

func (f *fakeVersions) UpdateChunkCount(ctx context.Context, versionID string, count int) error {
	for _, version := range f.versions {
		if version.ID == versionID {
			version.ChunkCount = count
			return nil
		}
	}
	return appErr.ErrNotFound
}

type fakeChunks struct {
	byDoc map[string][]*model.Chunk
}

func (f *fakeChunks) DeleteByDocument(ctx context.Context, documentID string) error {
	delete(f.byDoc, documentID)
	return nil
}

func (f *fakeChunks) CreateBatch(ctx context.Context, chunks []*model.Chunk) error {
	for _, chunk := range chunks {
		f.byDoc[chunk.DocumentID] = append(f.byDoc[chunk.DocumentID], chunk)
	}
	return nil
}

type fakeJobs struct {
	jobs []*model.IngestionJob
}

func (f *fakeJobs) LatestByDocument(ctx context.Context, documentID string) (*model.IngestionJob, error) {
	for i := len(f.jobs) - 1; i >= 0; i-- {
		if f.jobs[i].DocumentID == documentID {
			return f.jobs[i], nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (f *fakeJobs) Create(ctx context.Context, job *model.IngestionJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeJobs) Update(ctx context.Context, job *model.IngestionJob) error {
	for i, existing := range f.jobs {
		if existing.ID == job.ID {
			f.jobs[i] = job
			return nil
		}
	}
	return appErr.ErrNotFound
}

type fakeTx struct{}

func (fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeEmbedder struct {
	calls int
	fail  bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, fmt.Errorf("embedder down")
	}
	out := make([][]float32, 0, len(texts))
	for i := range texts {
		out = append(out, []float32{float32(i + 1), 1, 0})
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake-embed" }

type pipelineEnv struct {
	docs     *fakeDocs
	versions *fakeVersions
	chunks   *fakeChunks
	jobs     *fakeJobs
	embedder *fakeEmbedder
	store    *memory.Store
	pipeline *Pipeline
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()
	env := &pipelineEnv{
		docs: &fakeDocs{docs: map[string]*model.Document{
			"d1": {ID: "d1", TenantID: "t1", Title: "Handbook"},
		}},
		versions: &fakeVersions{},
		chunks:   &fakeChunks{byDoc: map[string][]*model.Chunk{}},
		jobs:     &fakeJobs{},
		embedder: &fakeEmbedder{},
		store:    memory.New(),
	}
	pipeline, err := NewPipeline(env.docs, env.versions, env.chunks, env.jobs, fakeTx{}, env.embedder, env.store, PipelineConfig{
		ChunkSize:       500,
		ChunkOverlap:    50,
		EmbedBatchSize:  2,
		NamespacePrefix: "quarry",
		Env:             "test",
	})
	require.NoError(t, err)
	env.pipeline = pipeline
	return env
}

func TestIngest_FirstVersion(t *testing.T) {
	env := newPipelineEnv(t)
	path := writeTempFile(t, "doc.md", "# Intro\n\nhello chunked world\n")

	result, err := env.pipeline.Ingest(context.Background(), "d1", path)
	require.NoError(t, err)
	require.Equal(t, "t1", result.TenantID)
	require.Equal(t, model.JobStatusCompleted, result.Status)
	require.Equal(t, 1, result.ChunkCount)

	require.Len(t, env.versions.versions, 1)
	version := env.versions.versions[0]
	require.Equal(t, 1, version.Version)
	require.Equal(t, 1, version.ChunkCount)
	require.NotEmpty(t, version.ContentSHA256)

	chunks := env.chunks.byDoc["d1"]
	require.Len(t, chunks, 1)
	require.Equal(t, "doc-d1-v1-c0", chunks[0].VectorID)
	require.Equal(t, "Intro", chunks[0].Section)

	matches, err := env.store.Query(context.Background(), "quarry:test:t1", vector.Query{
		Vector: []float32{1, 1, 0}, TopK: 10, IncludeMetadata: true,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "doc-d1-v1-c0", matches[0].ID)
	require.Equal(t, "t1", matches[0].Metadata["tenant_id"])
}

func TestIngest_ReingestReplacesChunksAndBumpsVersion(t *testing.T) {
	env := newPipelineEnv(t)
	first := writeTempFile(t, "v1.md", "# A\n\noriginal content\n")
	second := writeTempFile(t, "v2.md", "# A\n\nrewritten content that replaced the original\n")

	_, err := env.pipeline.Ingest(context.Background(), "d1", first)
	require.NoError(t, err)
	result, err := env.pipeline.Ingest(context.Background(), "d1", second)
	require.NoError(t, err)

	require.Len(t, env.versions.versions, 2)
	require.Equal(t, 2, env.versions.versions[1].Version)

	chunks := env.chunks.byDoc["d1"]
	require.Len(t, chunks, 1)
	require.Equal(t, "doc-d1-v2-c0", chunks[0].VectorID)
	require.Contains(t, chunks[0].ContentText, "rewritten")

	matches, err := env.store.Query(context.Background(), "quarry:test:t1", vector.Query{
		Vector: []float32{1, 1, 0}, TopK: 10,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "doc-d1-v2-c0", matches[0].ID)

	// a completed job is terminal, so the second run made its own job
	require.Len(t, env.jobs.jobs, 2)
	require.Equal(t, model.JobStatusCompleted, env.jobs.jobs[1].Status)
	require.Equal(t, result.JobID, env.jobs.jobs[1].ID)
}

func TestIngest_IdenticalContentStillAdvancesVersion(t *testing.T) {
	env := newPipelineEnv(t)
	path := writeTempFile(t, "same.md", "# A\n\nstable content\n")

	_, err := env.pipeline.Ingest(context.Background(), "d1", path)
	require.NoError(t, err)
	_, err = env.pipeline.Ingest(context.Background(), "d1", path)
	require.NoError(t, err)

	require.Len(t, env.versions.versions, 2)
	require.Equal(t, env.versions.versions[0].ContentSHA256, env.versions.versions[1].ContentSHA256)
	require.Equal(t, 2, env.versions.versions[1].Version)
}

func TestIngest_EmptyFileFailsJob(t *testing.T) {
	env := newPipelineEnv(t)
	path := writeTempFile(t, "empty.txt", "")

	_, err := env.pipeline.Ingest(context.Background(), "d1", path)
	require.Error(t, err)

	require.Len(t, env.jobs.jobs, 1)
	job := env.jobs.jobs[0]
	require.Equal(t, model.JobStatusFailed, job.Status)
	require.NotEmpty(t, job.ErrorMessage)
	require.NotZero(t, job.FinishedAt)

	require.Empty(t, env.versions.versions)
	require.Empty(t, env.chunks.byDoc["d1"])
}

func TestIngest_EmbedderFailureFailsJobKeepsNoChunks(t *testing.T) {
	env := newPipelineEnv(t)
	env.embedder.fail = true
	path := writeTempFile(t, "doc.md", "# A\n\nsome content\n")

	_, err := env.pipeline.Ingest(context.Background(), "d1", path)
	require.Error(t, err)
	require.True(t, appErr.IsUpstream(err))

	job := env.jobs.jobs[0]
	require.Equal(t, model.JobStatusFailed, job.Status)
}

func TestIngest_UnknownDocument(t *testing.T) {
	env := newPipelineEnv(t)
	_, err := env.pipeline.Ingest(context.Background(), "nope", "whatever.md")
	require.Error(t, err)
	require.Empty(t, env.jobs.jobs)
}
