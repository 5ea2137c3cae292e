package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/quarryai/quarry/internal/ai"
	"github.com/quarryai/quarry/internal/model"
	"github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/pkg/ids"
)

// MessageStore is the slice of the message repo the memory manager needs.
// ListRecent and ListAfter return messages in chronological order.
type MessageStore interface {
	ListRecent(ctx context.Context, conversationID string, limit int) ([]*model.Message, error)
	ListAfter(ctx context.Context, conversationID string, afterMessageID string, limit int) ([]*model.Message, error)
	CountByRole(ctx context.Context, conversationID string, role string) (int, error)
}

type SummaryStore interface {
	Latest(ctx context.Context, conversationID string) (*model.ConversationSummary, error)
	Create(ctx context.Context, summary *model.ConversationSummary) error
}

type MemoryConfig struct {
	// MemoryTurns is how many recent messages the prompt carries verbatim.
	MemoryTurns int
	// SummaryCadence refreshes the rolling summary every N user messages.
	// Zero disables summarization.
	SummaryCadence int
	// SummaryBatchLimit caps how many messages one refresh may read.
	SummaryBatchLimit int
}

// Manager builds conversation memory prompts and maintains the rolling
// summary that compresses older turns.
type Manager struct {
	messages  MessageStore
	summaries SummaryStore
	gen       ai.IGenerator
	cfg       MemoryConfig
}

func NewManager(messages MessageStore, summaries SummaryStore, gen ai.IGenerator, cfg MemoryConfig) *Manager {
	if cfg.MemoryTurns <= 0 {
		cfg.MemoryTurns = 6
	}
	if cfg.SummaryBatchLimit <= 0 {
		cfg.SummaryBatchLimit = 200
	}
	return &Manager{messages: messages, summaries: summaries, gen: gen, cfg: cfg}
}

// BuildMemoryPrompt renders the latest summary plus the most recent turns.
// excludeMessageID drops the in-flight user message so it is not echoed back
// as history. An empty conversation yields an empty prompt.
func (m *Manager) BuildMemoryPrompt(ctx context.Context, conversationID string, excludeMessageID string) (string, error) {
	summary, err := m.summaries.Latest(ctx, conversationID)
	if err != nil && !errors.IsNotFound(err) {
		return "", err
	}
	recent, err := m.messages.ListRecent(ctx, conversationID, m.cfg.MemoryTurns+1)
	if err != nil {
		return "", err
	}
	turns := make([]*model.Message, 0, len(recent))
	for _, msg := range recent {
		if msg.ID == excludeMessageID {
			continue
		}
		turns = append(turns, msg)
	}
	if len(turns) > m.cfg.MemoryTurns {
		turns = turns[len(turns)-m.cfg.MemoryTurns:]
	}
	if summary == nil && len(turns) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("CONVERSATION_MEMORY:\n")
	sb.WriteString("SUMMARY:\n")
	if summary != nil && strings.TrimSpace(summary.SummaryText) != "" {
		sb.WriteString(summary.SummaryText)
	} else {
		sb.WriteString("(none)")
	}
	sb.WriteString("\nRECENT_TURNS:\n")
	if len(turns) == 0 {
		sb.WriteString("(none)")
	} else {
		for _, msg := range turns {
			sb.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// MaybeRefreshSummary regenerates the rolling summary when the user message
// count hits the configured cadence. Summarization is best effort: failures
// are logged and swallowed so the chat turn itself never fails on memory.
func (m *Manager) MaybeRefreshSummary(ctx context.Context, conversationID string) {
	if m.cfg.SummaryCadence <= 0 || m.gen == nil {
		return
	}
	logger := logutil.GetLogger(ctx).With(zap.String("conversation_id", conversationID))
	userCount, err := m.messages.CountByRole(ctx, conversationID, model.RoleUser)
	if err != nil {
		logger.Warn("count user messages failed, skipping summary refresh", zap.Error(err))
		return
	}
	if userCount == 0 || userCount%m.cfg.SummaryCadence != 0 {
		return
	}
	prev, err := m.summaries.Latest(ctx, conversationID)
	if err != nil && !errors.IsNotFound(err) {
		logger.Warn("load latest summary failed, skipping summary refresh", zap.Error(err))
		return
	}
	cutoff := ""
	prevIndex := 0
	prevText := ""
	if prev != nil {
		cutoff = prev.UpToMessageID
		prevIndex = prev.SummaryIndex
		prevText = prev.SummaryText
	}
	fresh, err := m.messages.ListAfter(ctx, conversationID, cutoff, m.cfg.SummaryBatchLimit)
	if err != nil {
		logger.Warn("load messages for summary failed", zap.Error(err))
		return
	}
	if len(fresh) == 0 {
		return
	}
	text, err := m.summarize(ctx, prevText, fresh)
	if err != nil {
		logger.Warn("summary generation failed", zap.Error(err))
		return
	}
	summary := &model.ConversationSummary{
		ID:             ids.New(),
		ConversationID: conversationID,
		SummaryIndex:   prevIndex + 1,
		SummaryText:    text,
		UpToMessageID:  fresh[len(fresh)-1].ID,
	}
	if err := m.summaries.Create(ctx, summary); err != nil {
		logger.Warn("persist summary failed", zap.Error(err))
		return
	}
	logger.Debug("conversation summary refreshed", zap.Int("summary_index", summary.SummaryIndex))
}

func (m *Manager) summarize(ctx context.Context, prevText string, fresh []*model.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize the conversation below into a compact paragraph that preserves facts, decisions and open questions.\n")
	if prevText != "" {
		sb.WriteString("\nPREVIOUS_SUMMARY:\n")
		sb.WriteString(prevText)
		sb.WriteString("\n")
	}
	sb.WriteString("\nNEW_TURNS:\n")
	for _, msg := range fresh {
		sb.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
	}
	text, err := m.gen.Generate(ctx, sb.String())
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.Parsef("summarizer returned empty text")
	}
	return text, nil
}
