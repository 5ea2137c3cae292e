package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/quarryai/quarry/internal/pkg/errors"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse_MarkdownSections(t *testing.T) {
	path := writeTempFile(t, "doc.md", `intro paragraph

# Setup

install the thing

run the thing

# Usage

ask questions
`)
	sections, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, sections, 3)

	require.Equal(t, "body", sections[0].Section)
	require.Equal(t, "intro paragraph", sections[0].Text)
	require.Equal(t, "Setup", sections[1].Section)
	require.Contains(t, sections[1].Text, "install the thing")
	require.Contains(t, sections[1].Text, "run the thing")
	require.Equal(t, "Usage", sections[2].Section)
	require.Equal(t, "ask questions", sections[2].Text)
}

func TestParse_PlainTextSingleBodySection(t *testing.T) {
	path := writeTempFile(t, "notes.txt", "just some plain text\nwith two lines")
	sections, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, "body", sections[0].Section)
	require.Contains(t, sections[0].Text, "just some plain text")
}

func TestParse_MarkdownCodeBlockKept(t *testing.T) {
	path := writeTempFile(t, "code.md", "# Example\n\n```\nfmt.Println(1)\n```\n")
	sections, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, sections, 1)
	require.Equal(t, "Example", sections[0].Section)
	require.Contains(t, sections[0].Text, "fmt.Println(1)")
}

func TestParse_EmptyFileFails(t *testing.T) {
	path := writeTempFile(t, "empty.txt", "   \n  ")
	_, err := Parse(path)
	require.Error(t, err)
	require.True(t, appErr.IsParse(err))
}

func TestParse_UnsupportedExtensionFails(t *testing.T) {
	path := writeTempFile(t, "blob.bin", "\x00\x01\x02")
	_, err := Parse(path)
	require.Error(t, err)
	require.True(t, appErr.IsParse(err))
}
