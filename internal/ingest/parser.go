package ingest

import (
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dslipak/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"

	appErr "github.com/quarryai/quarry/internal/pkg/errors"
)

// Section is one labeled span of extracted document text.
type Section struct {
	Text    string
	Page    *int
	Section string
}

// Parse dispatches on extension, then MIME sniffing, and fails closed on
// anything it cannot turn into text.
func Parse(path string) ([]Section, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return parsePDF(path)
	case ".md", ".markdown", ".txt":
		return parseTextOrMarkdown(path)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "application/pdf" {
		return parsePDF(path)
	}
	if strings.HasPrefix(mimeType, "text/") {
		return parseTextOrMarkdown(path)
	}
	name := filepath.Ext(path)
	if name == "" {
		name = filepath.Base(path)
	}
	return nil, appErr.Parsef("unsupported file type: %s", name)
}

func parsePDF(path string) ([]Section, error) {
	reader, err := pdf.Open(path)
	if err != nil {
		return nil, appErr.Parsef("open pdf: %v", err)
	}
	var sections []Section
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		num := pageNum
		sections = append(sections, Section{
			Text:    text,
			Page:    &num,
			Section: "page-" + strconv.Itoa(num),
		})
	}
	if len(sections) == 0 {
		return nil, appErr.Parsef("no extractable text found in pdf: %s", filepath.Base(path))
	}
	return sections, nil
}

// parseTextOrMarkdown splits on markdown headings; content before the first
// heading lands in a "body" section. Plain text without headings is a single
// body section.
func parseTextOrMarkdown(path string) ([]Section, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, appErr.Parsef("read source: %v", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, appErr.Parsef("document is empty")
	}

	md := goldmark.New()
	reader := gmtext.NewReader(raw)
	doc := md.Parser().Parse(reader)

	var sections []Section
	currentSection := "body"
	var buffer []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(buffer, "\n\n"))
		buffer = nil
		if text != "" {
			sections = append(sections, Section{Text: text, Section: currentSection})
		}
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if heading, ok := node.(*ast.Heading); ok {
			flush()
			label := strings.TrimSpace(string(heading.Text(raw)))
			if label != "" {
				currentSection = label
			}
			continue
		}
		if text := extractText(node, raw); text != "" {
			buffer = append(buffer, text)
		}
	}
	flush()

	if len(sections) == 0 {
		return nil, appErr.Parsef("no extractable text found in: %s", filepath.Base(path))
	}
	return sections, nil
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.FencedCodeBlock:
			for i := 0; i < t.Lines().Len(); i++ {
				line := t.Lines().At(i)
				sb.Write(line.Value(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock:
			for i := 0; i < t.Lines().Len(); i++ {
				line := t.Lines().At(i)
				sb.Write(line.Value(source))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
