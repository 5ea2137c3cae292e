package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/retrieval"
)

func sampleItems() []retrieval.Item {
	page := 3
	return []retrieval.Item{
		{CitationID: "1", ChunkID: "c1", DocID: "d1", Title: "Handbook", Content: "alpha passage", Page: &page, Section: "Intro"},
		{CitationID: "2", ChunkID: "c2", DocID: "d1", Title: "Handbook", Content: "beta passage"},
	}
}

func TestBuildContextPrompt_Formatting(t *testing.T) {
	got := BuildContextPrompt(sampleItems())
	require.Contains(t, got, "RETRIEVAL_CONTEXT:")
	require.Contains(t, got, "[1] title=Handbook | doc_id=d1 | page=3 | section=Intro")
	require.Contains(t, got, "[2] title=Handbook | doc_id=d1 | page=- | section=-")
	require.Contains(t, got, "alpha passage")
}

func TestBuildContextPrompt_EmptyAndUntitled(t *testing.T) {
	require.Equal(t, "RETRIEVAL_CONTEXT:\n(no passages retrieved)", BuildContextPrompt(nil))

	got := BuildContextPrompt([]retrieval.Item{{CitationID: "1", DocID: "d1", Content: "x"}})
	require.Contains(t, got, "title=Untitled")
}

func TestPromptPackage_Order(t *testing.T) {
	pkg := PromptPackage("CONVERSATION_MEMORY:\nSUMMARY:\nstuff", sampleItems(), "what is alpha?")
	sysIdx := strings.Index(pkg, "You are a document question answering assistant.")
	memIdx := strings.Index(pkg, "CONVERSATION_MEMORY:")
	ctxIdx := strings.Index(pkg, "RETRIEVAL_CONTEXT:")
	qIdx := strings.Index(pkg, "QUESTION:\nwhat is alpha?")
	require.True(t, sysIdx >= 0 && sysIdx < memIdx)
	require.True(t, memIdx < ctxIdx)
	require.True(t, ctxIdx < qIdx)
}

func TestPromptPackage_OmitsEmptyMemory(t *testing.T) {
	pkg := PromptPackage("", sampleItems(), "q")
	require.NotContains(t, pkg, "CONVERSATION_MEMORY:")
}

func TestParseAnswerAndCitations_Sections(t *testing.T) {
	raw := "Answer:\nAlpha is the first letter [2][1][2].\n\nCitations:\n[1], [2]"
	answer, ids := ParseAnswerAndCitations(raw)
	require.Equal(t, "Alpha is the first letter [2][1][2].", answer)
	require.Equal(t, []string{"2", "1"}, ids)
}

func TestParseAnswerAndCitations_NoSections(t *testing.T) {
	answer, ids := ParseAnswerAndCitations("plain reply without format [1]")
	require.Equal(t, "plain reply without format [1]", answer)
	require.Equal(t, []string{"1"}, ids)
}

func TestParseAnswerAndCitations_IgnoresCitationsSectionMarkers(t *testing.T) {
	// markers outside the answer text do not count; the uncited answer
	// falls through to the top-item default
	raw := "Answer:\nit is alpha\n\nCitations:\n[2]"
	answer, ids := ParseAnswerAndCitations(raw)
	require.Equal(t, "it is alpha", answer)
	require.Empty(t, ids)

	citations := BuildCitations(ids, sampleItems())
	require.Len(t, citations, 1)
	require.Equal(t, "1", citations[0].ID)
}

func TestBuildCitations_DropsUnknownMarkers(t *testing.T) {
	citations := BuildCitations([]string{"2", "9"}, sampleItems())
	require.Len(t, citations, 1)
	require.Equal(t, "2", citations[0].ID)
	require.Equal(t, "d1", citations[0].DocID)
}

func TestBuildCitations_FallsBackToTopItem(t *testing.T) {
	citations := BuildCitations(nil, sampleItems())
	require.Len(t, citations, 1)
	require.Equal(t, "1", citations[0].ID)
	require.Equal(t, "Handbook", citations[0].Title)

	require.Empty(t, BuildCitations(nil, nil))
}

func TestValidateModelOutput(t *testing.T) {
	require.NoError(t, ValidateModelOutput("ok"))
	err := ValidateModelOutput("  \n ")
	require.Error(t, err)
	require.True(t, appErr.IsParse(err))
}
