package model

// ChunkMeta carries the chunk fields the retrieval path reads directly.
// Extra preserves caller-supplied metadata the core does not interpret.
type ChunkMeta struct {
	DocID             string                 `json:"doc_id,omitempty"`
	Version           int                    `json:"version,omitempty"`
	DocumentVersionID string                 `json:"document_version_id,omitempty"`
	Page              *int                   `json:"page,omitempty"`
	Section           string                 `json:"section,omitempty"`
	CharStart         int                    `json:"char_start"`
	CharEnd           int                    `json:"char_end"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// Chunk is the unit retrieved and cited. (document_version_id, chunk_index)
// and (tenant_id, vector_id) are unique; the chunk set of a document is
// bulk-replaced on every re-ingestion.
type Chunk struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	DocumentID        string    `json:"document_id"`
	DocumentVersionID string    `json:"document_version_id"`
	ChunkIndex        int       `json:"chunk_index"`
	PageNumber        *int      `json:"page_number,omitempty"`
	Section           string    `json:"section,omitempty"`
	TokenCount        int       `json:"token_count"`
	ContentText       string    `json:"content_text"`
	Meta              ChunkMeta `json:"meta"`
	VectorID          string    `json:"vector_id"`
	Ctime             int64     `json:"ctime"`
}
