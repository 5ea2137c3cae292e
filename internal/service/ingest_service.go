package service

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarryai/quarry/internal/filestore"
	"github.com/quarryai/quarry/internal/ingest"
	"github.com/quarryai/quarry/internal/model"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/pkg/ids"
	"github.com/quarryai/quarry/internal/repo"
)

type IngestService struct {
	pipeline *ingest.Pipeline
	files    filestore.Store
	jobs     *repo.IngestionJobRepo
}

func NewIngestService(pipeline *ingest.Pipeline, files filestore.Store, jobs *repo.IngestionJobRepo) *IngestService {
	return &IngestService{pipeline: pipeline, files: files, jobs: jobs}
}

// Run ingests synchronously: the stored file is materialized to a temp path
// the parser can read, then fed through the pipeline.
func (s *IngestService) Run(ctx context.Context, documentID, storedKey string) (*ingest.Result, error) {
	path, cleanup, err := s.materialize(ctx, storedKey)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return s.pipeline.Ingest(ctx, documentID, path)
}

// Enqueue records a queued job and runs the ingestion in the background. The
// pipeline picks the queued job up, so callers can poll it immediately.
func (s *IngestService) Enqueue(ctx context.Context, documentID, storedKey string) (*model.IngestionJob, error) {
	latest, err := s.jobs.LatestByDocument(ctx, documentID)
	if err != nil && !appErr.IsNotFound(err) {
		return nil, err
	}
	if latest != nil && !latest.Terminal() {
		return nil, appErr.ErrConflict
	}
	job := &model.IngestionJob{
		ID:         ids.New(),
		DocumentID: documentID,
		Status:     model.JobStatusQueued,
		SourceType: model.SourceTypeUpload,
		SourceURI:  storedKey,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.Run(bg, documentID, storedKey); err != nil {
			logutil.GetLogger(bg).Error("background ingestion failed",
				zap.String("document_id", documentID), zap.String("job_id", job.ID), zap.Error(err))
		}
	}()
	return job, nil
}

func (s *IngestService) Job(ctx context.Context, jobID string) (*model.IngestionJob, error) {
	return s.jobs.Get(ctx, jobID)
}

func (s *IngestService) JobsForDocument(ctx context.Context, documentID string, limit, offset uint) ([]*model.IngestionJob, error) {
	return s.jobs.ListByDocument(ctx, documentID, limit, offset)
}

// CancelJob moves a queued or running job to cancelled. Terminal jobs
// cannot be cancelled.
func (s *IngestService) CancelJob(ctx context.Context, jobID string) (*model.IngestionJob, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return nil, appErr.ErrConflict
	}
	ok, err := s.jobs.CancelIf(ctx, job.TenantID, job.ID, job.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErr.ErrConflict
	}
	return s.jobs.Get(ctx, jobID)
}

func (s *IngestService) materialize(ctx context.Context, storedKey string) (string, func(), error) {
	src, err := s.files.Open(ctx, storedKey)
	if err != nil {
		return "", nil, err
	}
	defer src.Close()
	tmp, err := os.CreateTemp("", "quarry-ingest-*"+filepath.Ext(storedKey))
	if err != nil {
		return "", nil, err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
