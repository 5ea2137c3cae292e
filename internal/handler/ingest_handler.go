package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/quarryai/quarry/internal/pkg/errcode"
	"github.com/quarryai/quarry/internal/pkg/response"
	"github.com/quarryai/quarry/internal/service"
)

const maxUploadBytes = 64 << 20

type IngestHandler struct {
	documents *service.DocumentService
	ingest    *service.IngestService
}

func NewIngestHandler(documents *service.DocumentService, ingest *service.IngestService) *IngestHandler {
	return &IngestHandler{documents: documents, ingest: ingest}
}

// Upload stores the source file and enqueues ingestion in one request. The
// returned job can be polled until it reaches a terminal state.
func (h *IngestHandler) Upload(c *gin.Context) {
	documentID := c.Param("id")
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "file field is required")
		return
	}
	if file.Size > maxUploadBytes {
		response.Error(c, errcode.ErrInvalidFile, "file too large")
		return
	}
	src, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrUploadFailed, "cannot read upload")
		return
	}
	defer src.Close()
	key, err := h.documents.Upload(c.Request.Context(), documentID, file.Filename, src)
	if err != nil {
		handleError(c, err)
		return
	}
	job, err := h.ingest.Enqueue(c.Request.Context(), documentID, key)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"job": job, "stored_key": key})
}

func (h *IngestHandler) GetJob(c *gin.Context) {
	job, err := h.ingest.Job(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, job)
}

func (h *IngestHandler) ListJobs(c *gin.Context) {
	limit, offset := pageParams(c)
	jobs, err := h.ingest.JobsForDocument(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"jobs": jobs})
}

func (h *IngestHandler) CancelJob(c *gin.Context) {
	job, err := h.ingest.CancelJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, job)
}
