package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quarryai/quarry/internal/pkg/errcode"
	"github.com/quarryai/quarry/internal/pkg/response"
	"github.com/quarryai/quarry/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type askRequest struct {
	ConversationID string   `json:"conversation_id"`
	Message        string   `json:"message" binding:"required"`
	DocIDs         []string `json:"doc_ids"`
	TopK           int      `json:"top_k"`
	UseMMR         *bool    `json:"use_mmr"`
	RerankEnabled  *bool    `json:"rerank_enabled"`
	Debug          bool     `json:"debug"`
}

func (r *askRequest) toService(userID string) service.AskRequest {
	return service.AskRequest{
		ConversationID: r.ConversationID,
		UserID:         userID,
		Message:        r.Message,
		DocIDs:         r.DocIDs,
		TopK:           r.TopK,
		UseMMR:         r.UseMMR,
		RerankEnabled:  r.RerankEnabled,
		IncludeDebug:   r.Debug,
	}
}

func (h *ChatHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, err.Error())
		return
	}
	result, err := h.chat.Ask(c.Request.Context(), req.toService(getUserID(c)))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, result)
}

// AskStream answers over SSE: delta events carry answer fragments, the done
// event carries the final turn result, error events end the stream early.
func (h *ChatHandler) AskStream(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, err.Error())
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	result, err := h.chat.AskStream(c.Request.Context(), req.toService(getUserID(c)), func(delta string) error {
		return writeSSE(c, "delta", gin.H{"text": delta})
	})
	if err != nil {
		_ = writeSSE(c, "error", gin.H{"message": err.Error()})
		return
	}
	_ = writeSSE(c, "done", result)
}

func writeSSE(c *gin.Context, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}

func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, err.Error())
		return
	}
	conversation, err := h.chat.CreateConversation(c.Request.Context(), getUserID(c), req.Title)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, conversation)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	limit, offset := pageParams(c)
	conversations, err := h.chat.ListConversations(c.Request.Context(), getUserID(c), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"conversations": conversations})
}

func (h *ChatHandler) GetConversation(c *gin.Context) {
	conversation, err := h.chat.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, conversation)
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	limit, offset := pageParams(c)
	messages, err := h.chat.ListMessages(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"messages": messages})
}

func (h *ChatHandler) ArchiveConversation(c *gin.Context) {
	if err := h.chat.ArchiveConversation(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"archived": true})
}
