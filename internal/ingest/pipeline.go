package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarryai/quarry/internal/ai"
	"github.com/quarryai/quarry/internal/model"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/pkg/ids"
	"github.com/quarryai/quarry/internal/tenant"
	"github.com/quarryai/quarry/internal/vector"
)

type DocumentStore interface {
	Get(ctx context.Context, id string) (*model.Document, error)
}

type VersionStore interface {
	LatestVersion(ctx context.Context, documentID string) (int, error)
	Create(ctx context.Context, version *model.DocumentVersion) error
	UpdateChunkCount(ctx context.Context, versionID string, count int) error
}

type ChunkStore interface {
	DeleteByDocument(ctx context.Context, documentID string) error
	CreateBatch(ctx context.Context, chunks []*model.Chunk) error
}

type JobStore interface {
	LatestByDocument(ctx context.Context, documentID string) (*model.IngestionJob, error)
	Create(ctx context.Context, job *model.IngestionJob) error
	Update(ctx context.Context, job *model.IngestionJob) error
}

// TxRunner commits everything fn writes as one unit. The version and its
// chunk rows go through it so a mid-pipeline failure leaves no partial chunk
// set visible; job status updates stay outside so they survive the rollback.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type PipelineConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	EmbedBatchSize  int
	NamespacePrefix string
	Env             string
}

// Pipeline drives one document through parse, chunk, version, embed and
// vector-store sync while maintaining the job record.
type Pipeline struct {
	docs     DocumentStore
	versions VersionStore
	chunks   ChunkStore
	jobs     JobStore
	tx       TxRunner
	embedder ai.IEmbedder
	store    vector.Store
	chunker  *Chunker
	cfg      PipelineConfig
}

func NewPipeline(
	docs DocumentStore,
	versions VersionStore,
	chunks ChunkStore,
	jobs JobStore,
	tx TxRunner,
	embedder ai.IEmbedder,
	store vector.Store,
	cfg PipelineConfig,
) (*Pipeline, error) {
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.EmbedBatchSize <= 0 {
		return nil, appErr.Validationf("embed batch size must be greater than 0")
	}
	return &Pipeline{
		docs:     docs,
		versions: versions,
		chunks:   chunks,
		jobs:     jobs,
		tx:       tx,
		embedder: embedder,
		store:    store,
		chunker:  chunker,
		cfg:      cfg,
	}, nil
}

type Result struct {
	TenantID          string `json:"tenant_id"`
	DocumentID        string `json:"document_id"`
	DocumentVersionID string `json:"document_version_id"`
	ChunkCount        int    `json:"chunk_count"`
	JobID             string `json:"job_id"`
	Status            string `json:"status"`
}

// Ingest runs one ingestion attempt for the document. Failures after the job
// reaches running are recorded on the job and re-raised to the caller.
func (p *Pipeline) Ingest(ctx context.Context, documentID, source string) (*Result, error) {
	doc, err := p.docs.Get(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("document not found: %s: %w", documentID, err)
	}
	ctx = tenant.WithTenant(ctx, doc.TenantID)
	logger := logutil.GetLogger(ctx).With(
		zap.String("document_id", doc.ID),
		zap.String("tenant_id", doc.TenantID),
	)

	job, err := p.getOrCreateJob(ctx, doc, source)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	job.Status = model.JobStatusRunning
	job.ErrorMessage = ""
	job.StartedAt = now
	if err := p.jobs.Update(ctx, job); err != nil {
		return nil, err
	}

	version, chunkCount, runErr := p.run(ctx, doc, job, source)
	finished := time.Now().UnixMilli()
	if runErr != nil {
		logger.Error("ingestion failed", zap.String("job_id", job.ID), zap.Error(runErr))
		job.Status = model.JobStatusFailed
		job.ErrorMessage = runErr.Error()
		job.FinishedAt = finished
		if updErr := p.jobs.Update(ctx, job); updErr != nil {
			logger.Error("record job failure", zap.Error(updErr))
		}
		return nil, runErr
	}

	job.DocumentVersionID = version.ID
	job.TotalChunks = chunkCount
	job.ProcessedChunks = chunkCount
	job.Status = model.JobStatusCompleted
	job.ErrorMessage = ""
	job.FinishedAt = finished
	if err := p.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	logger.Info("ingestion completed",
		zap.String("job_id", job.ID),
		zap.Int("version", version.Version),
		zap.Int("chunks", chunkCount),
	)

	return &Result{
		TenantID:          doc.TenantID,
		DocumentID:        doc.ID,
		DocumentVersionID: version.ID,
		ChunkCount:        chunkCount,
		JobID:             job.ID,
		Status:            job.Status,
	}, nil
}

func (p *Pipeline) run(ctx context.Context, doc *model.Document, job *model.IngestionJob, source string) (*model.DocumentVersion, int, error) {
	sourcePath, err := resolveSourcePath(doc, source)
	if err != nil {
		return nil, 0, err
	}
	sections, err := Parse(sourcePath)
	if err != nil {
		return nil, 0, err
	}
	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, 0, appErr.Validationf("read source: %v", err)
	}

	latest, err := p.versions.LatestVersion(ctx, doc.ID)
	if err != nil && !appErr.IsNotFound(err) {
		return nil, 0, err
	}
	sum := sha256.Sum256(raw)
	version := &model.DocumentVersion{
		ID:            ids.New(),
		TenantID:      doc.TenantID,
		DocumentID:    doc.ID,
		Version:       latest + 1,
		ContentSHA256: hex.EncodeToString(sum[:]),
		MimeType:      mime.TypeByExtension(filepath.Ext(sourcePath)),
		SizeBytes:     int64(len(raw)),
		Meta:          model.VersionMeta{Source: sourcePath},
		Ctime:         time.Now().UnixMilli(),
	}

	payloads := p.chunker.Chunk(sections, model.ChunkMeta{
		DocID:             doc.ID,
		Version:           version.Version,
		DocumentVersionID: version.ID,
	})

	rows := make([]*model.Chunk, 0, len(payloads))
	now := time.Now().UnixMilli()
	for _, payload := range payloads {
		rows = append(rows, &model.Chunk{
			ID:                ids.New(),
			TenantID:          doc.TenantID,
			DocumentID:        doc.ID,
			DocumentVersionID: version.ID,
			ChunkIndex:        payload.ChunkIndex,
			PageNumber:        payload.PageNumber,
			Section:           payload.Section,
			TokenCount:        payload.TokenCount,
			ContentText:       payload.ContentText,
			Meta:              payload.Meta,
			VectorID:          vectorID(doc.ID, version.Version, payload.ChunkIndex),
			Ctime:             now,
		})
	}

	namespace, err := vector.Namespace(p.cfg.NamespacePrefix, p.cfg.Env, doc.TenantID)
	if err != nil {
		return nil, 0, err
	}

	err = p.tx.InTx(ctx, func(txctx context.Context) error {
		if err := p.versions.Create(txctx, version); err != nil {
			return err
		}
		if err := p.store.Delete(ctx, namespace, vector.Filter{
			"tenant_id": doc.TenantID,
			"doc_id":    doc.ID,
		}); err != nil {
			return appErr.Upstream("vector delete", err)
		}
		if err := p.chunks.DeleteByDocument(txctx, doc.ID); err != nil {
			return err
		}
		if err := p.chunks.CreateBatch(txctx, rows); err != nil {
			return err
		}
		if err := p.embedAndUpsert(ctx, doc, version, payloads, namespace); err != nil {
			return err
		}
		return p.versions.UpdateChunkCount(txctx, version.ID, len(rows))
	})
	if err != nil {
		return nil, 0, err
	}
	version.ChunkCount = len(rows)
	return version, len(rows), nil
}

func (p *Pipeline) embedAndUpsert(ctx context.Context, doc *model.Document, version *model.DocumentVersion, payloads []Payload, namespace string) error {
	if len(payloads) == 0 {
		return nil
	}
	batchSize := p.cfg.EmbedBatchSize
	for start := 0; start < len(payloads); start += batchSize {
		end := start + batchSize
		if end > len(payloads) {
			end = len(payloads)
		}
		batch := payloads[start:end]
		texts := make([]string, 0, len(batch))
		for _, payload := range batch {
			texts = append(texts, payload.ContentText)
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return appErr.Upstream("embed chunks", err)
		}
		if len(vectors) != len(batch) {
			return appErr.Upstream("embed chunks", fmt.Errorf("got %d vectors for %d texts", len(vectors), len(batch)))
		}

		upserts := make([]vector.Vector, 0, len(batch))
		for i, payload := range batch {
			metadata := map[string]interface{}{
				"tenant_id":           doc.TenantID,
				"doc_id":              doc.ID,
				"version":             version.Version,
				"chunk_index":         payload.ChunkIndex,
				"document_version_id": version.ID,
				"section":             payload.Section,
			}
			if payload.PageNumber != nil {
				metadata["page"] = *payload.PageNumber
			}
			upserts = append(upserts, vector.Vector{
				ID:       vectorID(doc.ID, version.Version, payload.ChunkIndex),
				Values:   vectors[i],
				Metadata: metadata,
			})
		}
		if _, err := p.store.Upsert(ctx, namespace, upserts); err != nil {
			return appErr.Upstream("vector upsert", err)
		}
	}
	return nil
}

func (p *Pipeline) getOrCreateJob(ctx context.Context, doc *model.Document, source string) (*model.IngestionJob, error) {
	existing, err := p.jobs.LatestByDocument(ctx, doc.ID)
	if err == nil && !existing.Terminal() {
		return existing, nil
	}
	if err != nil && !appErr.IsNotFound(err) {
		return nil, err
	}
	now := time.Now().UnixMilli()
	job := &model.IngestionJob{
		ID:         ids.New(),
		TenantID:   doc.TenantID,
		DocumentID: doc.ID,
		Status:     model.JobStatusQueued,
		SourceType: inferSourceType(source),
		SourceURI:  source,
		Ctime:      now,
		Mtime:      now,
	}
	if err := p.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func resolveSourcePath(doc *model.Document, source string) (string, error) {
	candidate := strings.TrimSpace(source)
	if candidate == "" {
		candidate = doc.SourceURI
	}
	if candidate == "" {
		return "", appErr.Validationf("ingestion source is required")
	}
	if strings.HasPrefix(candidate, "http://") || strings.HasPrefix(candidate, "https://") || strings.HasPrefix(candidate, "s3://") {
		return "", appErr.Validationf("only local file sources are currently supported in this pipeline")
	}
	path, err := filepath.Abs(candidate)
	if err != nil {
		return "", appErr.Validationf("resolve source path: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", appErr.Validationf("source file not found: %s", path)
	}
	if !info.Mode().IsRegular() {
		return "", appErr.Validationf("source path is not a file: %s", path)
	}
	return path, nil
}

func inferSourceType(source string) string {
	if strings.HasPrefix(source, "s3://") {
		return model.SourceTypeS3
	}
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return model.SourceTypeURL
	}
	return model.SourceTypeUpload
}

func vectorID(documentID string, version, index int) string {
	return fmt.Sprintf("doc-%s-v%d-c%d", documentID, version, index)
}
