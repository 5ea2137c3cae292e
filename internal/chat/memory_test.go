package chat

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quarryai/quarry/internal/model"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
)

type scriptedGenerator struct {
	reply string
	err   error
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.reply, g.err
}

func (g *scriptedGenerator) GenerateStream(ctx context.Context, prompt string, onDelta func(delta string) error) (string, error) {
	if g.err == nil && g.reply != "" {
		if err := onDelta(g.reply); err != nil {
			return "", err
		}
	}
	return g.reply, g.err
}

type fakeMessageStore struct {
	messages []*model.Message
	countErr error
}

// memoryRole mirrors the store contract: only user/assistant messages are
// visible to conversation memory.
func memoryRole(role string) bool {
	return role == model.RoleUser || role == model.RoleAssistant
}

func (f *fakeMessageStore) ListRecent(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	var out []*model.Message
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID && memoryRole(msg.Role) {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMessageStore) ListAfter(ctx context.Context, conversationID string, afterMessageID string, limit int) ([]*model.Message, error) {
	var out []*model.Message
	past := afterMessageID == ""
	for _, msg := range f.messages {
		if msg.ConversationID != conversationID {
			continue
		}
		if past && memoryRole(msg.Role) {
			out = append(out, msg)
		}
		if msg.ID == afterMessageID {
			past = true
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessageStore) CountByRole(ctx context.Context, conversationID string, role string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	count := 0
	for _, msg := range f.messages {
		if msg.ConversationID == conversationID && msg.Role == role {
			count++
		}
	}
	return count, nil
}

type fakeSummaryStore struct {
	summaries []*model.ConversationSummary
	createErr error
}

func (f *fakeSummaryStore) Latest(ctx context.Context, conversationID string) (*model.ConversationSummary, error) {
	var latest *model.ConversationSummary
	for _, s := range f.summaries {
		if s.ConversationID != conversationID {
			continue
		}
		if latest == nil || s.SummaryIndex > latest.SummaryIndex {
			latest = s
		}
	}
	if latest == nil {
		return nil, appErr.ErrNotFound
	}
	return latest, nil
}

func (f *fakeSummaryStore) Create(ctx context.Context, summary *model.ConversationSummary) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.summaries = append(f.summaries, summary)
	return nil
}

func seedTurns(store *fakeMessageStore, convID string, userTurns int) {
	for i := 0; i < userTurns; i++ {
		n := strconv.Itoa(len(store.messages))
		store.messages = append(store.messages,
			&model.Message{ID: convID + "-u" + n, ConversationID: convID, Role: model.RoleUser, Content: "question"},
			&model.Message{ID: convID + "-a" + n, ConversationID: convID, Role: model.RoleAssistant, Content: "answer"},
		)
	}
}

func TestBuildMemoryPrompt_EmptyConversation(t *testing.T) {
	mgr := NewManager(&fakeMessageStore{}, &fakeSummaryStore{}, nil, MemoryConfig{MemoryTurns: 4})
	prompt, err := mgr.BuildMemoryPrompt(context.Background(), "c1", "")
	require.NoError(t, err)
	require.Empty(t, prompt)
}

func TestBuildMemoryPrompt_ExcludesInFlightAndTrims(t *testing.T) {
	store := &fakeMessageStore{}
	seedTurns(store, "c1", 3)
	store.messages = append(store.messages, &model.Message{ID: "inflight", ConversationID: "c1", Role: model.RoleUser, Content: "current question"})

	mgr := NewManager(store, &fakeSummaryStore{}, nil, MemoryConfig{MemoryTurns: 2})
	prompt, err := mgr.BuildMemoryPrompt(context.Background(), "c1", "inflight")
	require.NoError(t, err)
	require.NotContains(t, prompt, "current question")
	require.Contains(t, prompt, "CONVERSATION_MEMORY:")
	require.Contains(t, prompt, "SUMMARY:\n(none)")
	require.Contains(t, prompt, "user: question")
	require.Contains(t, prompt, "assistant: answer")
}

func TestBuildMemoryPrompt_SkipsSystemAndToolMessages(t *testing.T) {
	store := &fakeMessageStore{}
	store.messages = append(store.messages, &model.Message{ID: "s0", ConversationID: "c1", Role: model.RoleSystem, Content: "system preamble"})
	seedTurns(store, "c1", 1)
	store.messages = append(store.messages, &model.Message{ID: "t0", ConversationID: "c1", Role: model.RoleTool, Content: "tool output"})

	mgr := NewManager(store, &fakeSummaryStore{}, nil, MemoryConfig{MemoryTurns: 4})
	prompt, err := mgr.BuildMemoryPrompt(context.Background(), "c1", "")
	require.NoError(t, err)
	require.NotContains(t, prompt, "system preamble")
	require.NotContains(t, prompt, "tool output")
	require.Contains(t, prompt, "user: question")
}

func TestBuildMemoryPrompt_IncludesLatestSummary(t *testing.T) {
	store := &fakeMessageStore{}
	seedTurns(store, "c1", 1)
	summaries := &fakeSummaryStore{summaries: []*model.ConversationSummary{
		{ConversationID: "c1", SummaryIndex: 1, SummaryText: "old facts"},
		{ConversationID: "c1", SummaryIndex: 2, SummaryText: "newer facts"},
	}}
	mgr := NewManager(store, summaries, nil, MemoryConfig{MemoryTurns: 4})
	prompt, err := mgr.BuildMemoryPrompt(context.Background(), "c1", "")
	require.NoError(t, err)
	require.Contains(t, prompt, "newer facts")
	require.NotContains(t, prompt, "old facts")
}

func TestMaybeRefreshSummary_CadenceGating(t *testing.T) {
	store := &fakeMessageStore{}
	summaries := &fakeSummaryStore{}
	gen := &scriptedGenerator{reply: "a summary"}
	mgr := NewManager(store, summaries, gen, MemoryConfig{SummaryCadence: 4})

	seedTurns(store, "c1", 3)
	mgr.MaybeRefreshSummary(context.Background(), "c1")
	require.Empty(t, summaries.summaries)

	seedTurns(store, "c1", 1)
	mgr.MaybeRefreshSummary(context.Background(), "c1")
	require.Len(t, summaries.summaries, 1)
	require.Equal(t, 1, summaries.summaries[0].SummaryIndex)
	last := store.messages[len(store.messages)-1]
	require.Equal(t, last.ID, summaries.summaries[0].UpToMessageID)
}

func TestMaybeRefreshSummary_IncrementsIndexFromCutoff(t *testing.T) {
	store := &fakeMessageStore{}
	seedTurns(store, "c1", 4)
	cutoff := store.messages[len(store.messages)-1].ID
	summaries := &fakeSummaryStore{summaries: []*model.ConversationSummary{
		{ConversationID: "c1", SummaryIndex: 1, SummaryText: "first", UpToMessageID: cutoff},
	}}
	gen := &scriptedGenerator{reply: "second"}
	mgr := NewManager(store, summaries, gen, MemoryConfig{SummaryCadence: 4})

	seedTurns(store, "c1", 4)
	mgr.MaybeRefreshSummary(context.Background(), "c1")
	require.Len(t, summaries.summaries, 2)
	require.Equal(t, 2, summaries.summaries[1].SummaryIndex)
	require.Equal(t, "second", summaries.summaries[1].SummaryText)
}

func TestMaybeRefreshSummary_NoFreshMessagesSkips(t *testing.T) {
	store := &fakeMessageStore{}
	seedTurns(store, "c1", 4)
	cutoff := store.messages[len(store.messages)-1].ID
	summaries := &fakeSummaryStore{summaries: []*model.ConversationSummary{
		{ConversationID: "c1", SummaryIndex: 1, SummaryText: "done", UpToMessageID: cutoff},
	}}
	mgr := NewManager(store, summaries, &scriptedGenerator{reply: "x"}, MemoryConfig{SummaryCadence: 4})
	mgr.MaybeRefreshSummary(context.Background(), "c1")
	require.Len(t, summaries.summaries, 1)
}

func TestMaybeRefreshSummary_FailuresAreSwallowed(t *testing.T) {
	store := &fakeMessageStore{}
	seedTurns(store, "c1", 4)

	genFail := &scriptedGenerator{err: errors.New("model offline")}
	summaries := &fakeSummaryStore{}
	NewManager(store, summaries, genFail, MemoryConfig{SummaryCadence: 4}).MaybeRefreshSummary(context.Background(), "c1")
	require.Empty(t, summaries.summaries)

	createFail := &fakeSummaryStore{createErr: errors.New("db down")}
	NewManager(store, createFail, &scriptedGenerator{reply: "s"}, MemoryConfig{SummaryCadence: 4}).MaybeRefreshSummary(context.Background(), "c1")
	require.Empty(t, createFail.summaries)

	countFail := &fakeMessageStore{countErr: errors.New("db down")}
	seedTurns(countFail, "c1", 4)
	sums := &fakeSummaryStore{}
	NewManager(countFail, sums, &scriptedGenerator{reply: "s"}, MemoryConfig{SummaryCadence: 4}).MaybeRefreshSummary(context.Background(), "c1")
	require.Empty(t, sums.summaries)
}

func TestMaybeRefreshSummary_DisabledWhenCadenceZero(t *testing.T) {
	store := &fakeMessageStore{}
	seedTurns(store, "c1", 4)
	summaries := &fakeSummaryStore{}
	NewManager(store, summaries, &scriptedGenerator{reply: "s"}, MemoryConfig{}).MaybeRefreshSummary(context.Background(), "c1")
	require.Empty(t, summaries.summaries)
}
