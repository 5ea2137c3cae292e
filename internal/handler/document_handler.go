package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/quarryai/quarry/internal/pkg/errcode"
	"github.com/quarryai/quarry/internal/pkg/response"
	"github.com/quarryai/quarry/internal/service"
)

type DocumentHandler struct {
	documents *service.DocumentService
}

func NewDocumentHandler(documents *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

type createDocumentRequest struct {
	Title      string `json:"title" binding:"required"`
	SourceURI  string `json:"source_uri"`
	ExternalID string `json:"external_id"`
}

type updateDocumentRequest struct {
	Title string `json:"title" binding:"required"`
}

func (h *DocumentHandler) Create(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, err.Error())
		return
	}
	doc, err := h.documents.Create(c.Request.Context(), req.Title, req.SourceURI, req.ExternalID, getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	limit, offset := pageParams(c)
	docs, err := h.documents.List(c.Request.Context(), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"documents": docs})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Update(c *gin.Context) {
	var req updateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, err.Error())
		return
	}
	if err := h.documents.UpdateTitle(c.Request.Context(), c.Param("id"), req.Title); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"updated": true})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.documents.Delete(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": true})
}

func (h *DocumentHandler) ListVersions(c *gin.Context) {
	versions, err := h.documents.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"versions": versions})
}
