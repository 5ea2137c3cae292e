package chat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quarryai/quarry/internal/model"
	"github.com/quarryai/quarry/internal/pkg/errors"
	"github.com/quarryai/quarry/internal/retrieval"
)

// SystemPrompt pins the assistant to the retrieved context. Answers must be
// grounded in the numbered passages and cite them with bracket markers.
const SystemPrompt = `You are a document question answering assistant.

Rules:
- Answer ONLY from the passages in RETRIEVAL_CONTEXT.
- If the context does not contain the answer, say you do not know. Do not guess.
- Cite passages inline with their bracket markers, e.g. [1] or [2][3].
- Never invent citations for passages that were not provided.
- Keep answers concise and factual.`

// OutputFormatSpec instructs the model to emit sections the server can parse
// back into an answer and a citation list.
const OutputFormatSpec = `Format your reply exactly as:

Answer:
<your answer with inline [n] citation markers>

Citations:
<comma separated markers you used, e.g. [1], [3]>`

// BuildContextPrompt renders retrieved items as numbered passages with their
// source metadata so the model can cite them.
func BuildContextPrompt(items []retrieval.Item) string {
	if len(items) == 0 {
		return "RETRIEVAL_CONTEXT:\n(no passages retrieved)"
	}
	var sb strings.Builder
	sb.WriteString("RETRIEVAL_CONTEXT:\n")
	for _, item := range items {
		title := item.Title
		if title == "" {
			title = "Untitled"
		}
		page := "-"
		if item.Page != nil {
			page = fmt.Sprintf("%d", *item.Page)
		}
		section := item.Section
		if section == "" {
			section = "-"
		}
		sb.WriteString(fmt.Sprintf("[%s] title=%s | doc_id=%s | page=%s | section=%s\n", item.CitationID, title, item.DocID, page, section))
		sb.WriteString(item.Content)
		sb.WriteString("\n\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// PromptPackage assembles the full generation prompt from its parts. Empty
// memory is omitted rather than rendered as a blank section.
func PromptPackage(memoryPrompt string, items []retrieval.Item, question string) string {
	parts := make([]string, 0, 5)
	parts = append(parts, SystemPrompt)
	if memoryPrompt != "" {
		parts = append(parts, memoryPrompt)
	}
	parts = append(parts, BuildContextPrompt(items))
	parts = append(parts, OutputFormatSpec)
	parts = append(parts, "QUESTION:\n"+question)
	return strings.Join(parts, "\n\n")
}

var (
	answerSectionRe  = regexp.MustCompile(`(?is)answer:\s*(.*?)(?:\n\s*citations:|\z)`)
	citationMarkerRe = regexp.MustCompile(`\[(\d+)\]`)
)

// ParseAnswerAndCitations splits model output into the answer text and the
// ordered, deduplicated citation markers that appear in it. Only markers in
// the answer text count; an answer citing nothing falls through to the
// top-item default in BuildCitations. When the output lacks the Answer:
// section the whole text is taken as the answer.
func ParseAnswerAndCitations(raw string) (string, []string) {
	answer := strings.TrimSpace(raw)
	if m := answerSectionRe.FindStringSubmatch(raw); m != nil {
		if trimmed := strings.TrimSpace(m[1]); trimmed != "" {
			answer = trimmed
		}
	}
	markers := citationMarkerRe.FindAllStringSubmatch(answer, -1)
	seen := make(map[string]bool, len(markers))
	var ids []string
	for _, m := range markers {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		ids = append(ids, m[1])
	}
	return answer, ids
}

// BuildCitations maps cited markers back to the retrieved items. Markers that
// match no item are dropped; when the model cited nothing at all, the top
// ranked item is cited as a fallback so every grounded answer carries at
// least one source.
func BuildCitations(ids []string, items []retrieval.Item) []model.Citation {
	byID := make(map[string]retrieval.Item, len(items))
	for _, item := range items {
		byID[item.CitationID] = item
	}
	var citations []model.Citation
	for _, id := range ids {
		item, ok := byID[id]
		if !ok {
			continue
		}
		citations = append(citations, model.Citation{
			ID:      item.CitationID,
			Title:   item.Title,
			DocID:   item.DocID,
			Page:    item.Page,
			Section: item.Section,
		})
	}
	if len(citations) == 0 && len(items) > 0 {
		top := items[0]
		citations = append(citations, model.Citation{
			ID:      top.CitationID,
			Title:   top.Title,
			DocID:   top.DocID,
			Page:    top.Page,
			Section: top.Section,
		})
	}
	return citations
}

// ValidateModelOutput rejects empty generations before they are persisted.
func ValidateModelOutput(answer string) error {
	if strings.TrimSpace(answer) == "" {
		return errors.Parsef("model returned an empty answer")
	}
	return nil
}
