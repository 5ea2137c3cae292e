package service

import (
	"context"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarryai/quarry/internal/ai"
	"github.com/quarryai/quarry/internal/chat"
	"github.com/quarryai/quarry/internal/model"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/pkg/ids"
	"github.com/quarryai/quarry/internal/repo"
	"github.com/quarryai/quarry/internal/retrieval"
)

type ChatConfig struct {
	MaxMessageChars int
}

type AskRequest struct {
	ConversationID string
	UserID         string
	Message        string
	DocIDs         []string
	TopK           int
	UseMMR         *bool
	RerankEnabled  *bool
	IncludeDebug   bool
}

type TurnResult struct {
	ConversationID   string            `json:"conversation_id"`
	UserMessageID    string            `json:"user_message_id"`
	AssistantMessage *model.Message    `json:"assistant_message"`
	Answer           string            `json:"answer"`
	Citations        []model.Citation  `json:"citations"`
	Debug            *retrieval.Debug  `json:"debug,omitempty"`
	TimingsMs        map[string]int64  `json:"timings_ms"`
}

type ChatService struct {
	conversations *repo.ConversationRepo
	messages      *repo.MessageRepo
	retriever     *retrieval.Pipeline
	memory        *chat.Manager
	gen           ai.IGenerator
	cfg           ChatConfig
}

func NewChatService(conversations *repo.ConversationRepo, messages *repo.MessageRepo, retriever *retrieval.Pipeline, memory *chat.Manager, gen ai.IGenerator, cfg ChatConfig) *ChatService {
	if cfg.MaxMessageChars <= 0 {
		cfg.MaxMessageChars = 16000
	}
	return &ChatService{
		conversations: conversations,
		messages:      messages,
		retriever:     retriever,
		memory:        memory,
		gen:           gen,
		cfg:           cfg,
	}
}

func (s *ChatService) CreateConversation(ctx context.Context, userID, title string) (*model.Conversation, error) {
	conversation := &model.Conversation{
		ID:     ids.New(),
		UserID: userID,
		Title:  title,
	}
	if err := s.conversations.Create(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *ChatService) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return s.conversations.Get(ctx, id)
}

func (s *ChatService) ListConversations(ctx context.Context, userID string, limit, offset uint) ([]*model.Conversation, error) {
	return s.conversations.List(ctx, userID, limit, offset)
}

func (s *ChatService) ListMessages(ctx context.Context, conversationID string, limit, offset uint) ([]*model.Message, error) {
	if _, err := s.conversations.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.messages.ListByConversation(ctx, conversationID, limit, offset)
}

func (s *ChatService) ArchiveConversation(ctx context.Context, id string) error {
	return s.conversations.SetArchived(ctx, id, true)
}

// Ask runs one full question turn: persist the user message, retrieve
// context, generate a grounded answer and persist it with citations.
func (s *ChatService) Ask(ctx context.Context, req AskRequest) (*TurnResult, error) {
	return s.turn(ctx, req, nil)
}

// AskStream behaves like Ask but forwards answer deltas to onDelta while
// the model generates. The assistant message is persisted only after the
// stream completes.
func (s *ChatService) AskStream(ctx context.Context, req AskRequest, onDelta func(delta string) error) (*TurnResult, error) {
	if onDelta == nil {
		return nil, appErr.Validationf("stream callback is required")
	}
	return s.turn(ctx, req, onDelta)
}

func (s *ChatService) turn(ctx context.Context, req AskRequest, onDelta func(delta string) error) (*TurnResult, error) {
	started := time.Now()
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, appErr.Validationf("message must not be empty")
	}
	if len([]rune(message)) > s.cfg.MaxMessageChars {
		return nil, appErr.Validationf("message exceeds %d characters", s.cfg.MaxMessageChars)
	}

	conversation, err := s.resolveConversation(ctx, req, message)
	if err != nil {
		return nil, err
	}

	userMsg := &model.Message{
		ID:             ids.New(),
		ConversationID: conversation.ID,
		Role:           model.RoleUser,
		Content:        message,
	}
	if err := s.messages.Create(ctx, userMsg); err != nil {
		return nil, err
	}

	memoryPrompt, err := s.memory.BuildMemoryPrompt(ctx, conversation.ID, userMsg.ID)
	if err != nil {
		return nil, err
	}

	retrieveStarted := time.Now()
	res, err := s.retriever.Retrieve(ctx, message, retrieval.Options{
		TopK:          req.TopK,
		DocIDs:        req.DocIDs,
		UseMMR:        req.UseMMR,
		RerankEnabled: req.RerankEnabled,
	})
	if err != nil {
		return nil, err
	}
	retrievalMs := time.Since(retrieveStarted).Milliseconds()

	prompt := chat.PromptPackage(memoryPrompt, res.Items, message)
	generateStarted := time.Now()
	var raw string
	if onDelta != nil {
		raw, err = s.gen.GenerateStream(ctx, prompt, onDelta)
	} else {
		raw, err = s.gen.Generate(ctx, prompt)
	}
	if err != nil {
		return nil, appErr.Upstream("generate answer", err)
	}
	generateMs := time.Since(generateStarted).Milliseconds()

	answer, citedIDs := chat.ParseAnswerAndCitations(raw)
	if err := chat.ValidateModelOutput(answer); err != nil {
		return nil, err
	}
	citations := chat.BuildCitations(citedIDs, res.Items)

	assistantMsg := &model.Message{
		ID:             ids.New(),
		ConversationID: conversation.ID,
		Role:           model.RoleAssistant,
		Content:        answer,
		Citations:      citations,
	}
	if err := s.messages.Create(ctx, assistantMsg); err != nil {
		return nil, err
	}
	if err := s.conversations.TouchLastMessage(ctx, conversation.ID, assistantMsg.Ctime); err != nil {
		logutil.GetLogger(ctx).Warn("touch conversation failed",
			zap.String("conversation_id", conversation.ID), zap.Error(err))
	}
	s.memory.MaybeRefreshSummary(ctx, conversation.ID)

	result := &TurnResult{
		ConversationID:   conversation.ID,
		UserMessageID:    userMsg.ID,
		AssistantMessage: assistantMsg,
		Answer:           answer,
		Citations:        citations,
		TimingsMs: map[string]int64{
			"retrieval": retrievalMs,
			"generate":  generateMs,
			"total":     time.Since(started).Milliseconds(),
		},
	}
	if req.IncludeDebug {
		debug := res.Debug
		result.Debug = &debug
	}
	return result, nil
}

func (s *ChatService) resolveConversation(ctx context.Context, req AskRequest, message string) (*model.Conversation, error) {
	if req.ConversationID != "" {
		return s.conversations.Get(ctx, req.ConversationID)
	}
	title := message
	if runes := []rune(title); len(runes) > 80 {
		title = string(runes[:80])
	}
	return s.CreateConversation(ctx, req.UserID, title)
}
