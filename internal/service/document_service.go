package service

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/quarryai/quarry/internal/filestore"
	"github.com/quarryai/quarry/internal/model"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/pkg/ids"
	"github.com/quarryai/quarry/internal/repo"
	"github.com/quarryai/quarry/internal/tenant"
	"github.com/quarryai/quarry/internal/vector"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

type DocumentService struct {
	docs     *repo.DocumentRepo
	versions *repo.VersionRepo
	chunks   *repo.ChunkRepo
	files    filestore.Store
	store    vector.Store
	nsPrefix string
	nsEnv    string
}

func NewDocumentService(docs *repo.DocumentRepo, versions *repo.VersionRepo, chunks *repo.ChunkRepo, files filestore.Store, store vector.Store, nsPrefix, nsEnv string) *DocumentService {
	return &DocumentService{
		docs:     docs,
		versions: versions,
		chunks:   chunks,
		files:    files,
		store:    store,
		nsPrefix: nsPrefix,
		nsEnv:    nsEnv,
	}
}

func (s *DocumentService) Create(ctx context.Context, title, sourceURI, externalID, userID string) (*model.Document, error) {
	if strings.TrimSpace(title) == "" {
		return nil, appErr.Validationf("title is required")
	}
	doc := &model.Document{
		ID:              ids.New(),
		Title:           title,
		SourceURI:       sourceURI,
		ExternalID:      externalID,
		CreatedByUserID: userID,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Upload stores the raw source file and returns the key ingestion will read
// it back under.
func (s *DocumentService) Upload(ctx context.Context, documentID, filename string, r io.Reader) (string, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return "", err
	}
	base := unsafeKeyChars.ReplaceAllString(path.Base(filename), "_")
	if base == "" || base == "." {
		return "", appErr.Validationf("filename is required")
	}
	key := fmt.Sprintf("%s/%s/%s", doc.TenantID, doc.ID, base)
	if err := s.files.Save(ctx, key, r); err != nil {
		return "", err
	}
	return key, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*model.Document, error) {
	return s.docs.Get(ctx, id)
}

func (s *DocumentService) List(ctx context.Context, limit, offset uint) ([]model.Document, error) {
	return s.docs.List(ctx, limit, offset)
}

func (s *DocumentService) ListVersions(ctx context.Context, documentID string) ([]*model.DocumentVersion, error) {
	if _, err := s.docs.Get(ctx, documentID); err != nil {
		return nil, err
	}
	return s.versions.ListByDocument(ctx, documentID)
}

func (s *DocumentService) UpdateTitle(ctx context.Context, id, title string) error {
	if strings.TrimSpace(title) == "" {
		return appErr.Validationf("title is required")
	}
	return s.docs.UpdateTitle(ctx, id, title)
}

// Delete soft-deletes the document and removes its chunks and vectors so it
// can no longer surface in retrieval.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	tenantID, err := tenant.MustFromContext(ctx)
	if err != nil {
		return err
	}
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.docs.SoftDelete(ctx, doc.ID); err != nil {
		return err
	}
	ns, err := vector.Namespace(s.nsPrefix, s.nsEnv, tenantID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, ns, vector.Filter{"tenant_id": tenantID, "doc_id": doc.ID}); err != nil {
		return appErr.Upstream("vector delete", err)
	}
	return s.chunks.DeleteByDocument(ctx, doc.ID)
}
