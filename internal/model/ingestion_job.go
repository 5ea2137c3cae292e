package model

// Job states move one way: queued -> running -> completed or failed.
// Cancelled is terminal and only ever set by an external actor (sweeper,
// admin endpoint), never by the pipeline itself.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	SourceTypeUpload = "upload"
	SourceTypeURL    = "url"
	SourceTypeS3     = "s3"
)

type IngestionJob struct {
	ID                string `json:"id"`
	TenantID          string `json:"tenant_id"`
	DocumentID        string `json:"document_id,omitempty"`
	DocumentVersionID string `json:"document_version_id,omitempty"`
	Status            string `json:"status"`
	SourceType        string `json:"source_type"`
	SourceURI         string `json:"source_uri,omitempty"`
	TotalChunks       int    `json:"total_chunks"`
	ProcessedChunks   int    `json:"processed_chunks"`
	ErrorMessage      string `json:"error_message,omitempty"`
	StartedAt         int64  `json:"started_at,omitempty"`
	FinishedAt        int64  `json:"finished_at,omitempty"`
	Ctime             int64  `json:"ctime"`
	Mtime             int64  `json:"mtime"`
}

// Terminal reports whether the job can no longer change state.
func (j *IngestionJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
