package model

type Document struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	Title           string `json:"title"`
	SourceURI       string `json:"source_uri,omitempty"`
	ExternalID      string `json:"external_id,omitempty"`
	IsDeleted       bool   `json:"is_deleted"`
	CreatedByUserID string `json:"created_by_user_id,omitempty"`
	Ctime           int64  `json:"ctime"`
	Mtime           int64  `json:"mtime"`
}

// VersionMeta holds the version fields the pipeline reads, plus caller
// extras carried through untouched.
type VersionMeta struct {
	Source string                 `json:"source,omitempty"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// DocumentVersion is one immutable snapshot of a document's content.
// (document_id, version) is unique; version numbers only grow.
type DocumentVersion struct {
	ID              string      `json:"id"`
	TenantID        string      `json:"tenant_id"`
	DocumentID      string      `json:"document_id"`
	Version         int         `json:"version"`
	ContentSHA256   string      `json:"content_sha256"`
	MimeType        string      `json:"mime_type,omitempty"`
	SizeBytes       int64       `json:"size_bytes"`
	ChunkCount      int         `json:"chunk_count"`
	Meta            VersionMeta `json:"meta"`
	CreatedByUserID string      `json:"created_by_user_id,omitempty"`
	Ctime           int64       `json:"ctime"`
}
