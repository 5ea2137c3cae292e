package ingest

import (
	"strings"

	"github.com/quarryai/quarry/internal/model"
	appErr "github.com/quarryai/quarry/internal/pkg/errors"
)

// Chunker slices section text into fixed-size overlapping windows.
// Stride is size minus overlap, so consecutive windows share overlap chars.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, appErr.Validationf("chunk size must be greater than 0")
	}
	if overlap < 0 {
		return nil, appErr.Validationf("chunk overlap cannot be negative")
	}
	if overlap >= size {
		return nil, appErr.Validationf("chunk overlap must be smaller than chunk size")
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Payload is one chunk ready for persistence and embedding.
type Payload struct {
	ChunkIndex  int
	ContentText string
	PageNumber  *int
	Section     string
	TokenCount  int
	Meta        model.ChunkMeta
}

// Chunk walks sections in order, skipping empty ones; chunk indexes are
// 0-based and contiguous across the whole document.
func (c *Chunker) Chunk(sections []Section, base model.ChunkMeta) []Payload {
	var chunks []Payload
	chunkIndex := 0

	for _, section := range sections {
		text := []rune(strings.TrimSpace(section.Text))
		if len(text) == 0 {
			continue
		}

		start := 0
		for start < len(text) {
			end := start + c.size
			if end > len(text) {
				end = len(text)
			}
			chunkText := strings.TrimSpace(string(text[start:end]))
			if chunkText != "" {
				meta := base
				meta.Page = section.Page
				meta.Section = section.Section
				meta.CharStart = start
				meta.CharEnd = end
				chunks = append(chunks, Payload{
					ChunkIndex:  chunkIndex,
					ContentText: chunkText,
					PageNumber:  section.Page,
					Section:     section.Section,
					TokenCount:  estimateTokenCount(chunkText),
					Meta:        meta,
				})
				chunkIndex++
			}
			if end >= len(text) {
				break
			}
			start = end - c.overlap
		}
	}
	return chunks
}

func estimateTokenCount(text string) int {
	count := len(strings.Fields(text))
	if count < 1 {
		return 1
	}
	return count
}
