// Package chunker groups extracted paragraphs into size-bounded chunks that
// carry page and section metadata.
//
// Sizes are measured in characters (runes). Paragraphs are joined with a
// blank line while the result fits; a paragraph longer than the limit is cut
// into overlapping windows on its own.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"docchat/internal/extract"
)

const (
	DefaultMaxChars     = 1200
	DefaultOverlapChars = 200

	separator       = "\n\n"
	separatorLen    = 2
	headerWordLimit = 10
)

var ErrInvalidChunkConfig = errors.New("invalid chunk config")

type Chunk struct {
	Index   int
	Text    string
	Page    int
	Section string
}

type Chunker struct {
	maxChars     int
	overlapChars int
}

func New(maxChars, overlapChars int) (*Chunker, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("%w: max chars must be positive, got %d", ErrInvalidChunkConfig, maxChars)
	}
	if overlapChars < 0 || overlapChars >= maxChars {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunkConfig, overlapChars, maxChars)
	}
	return &Chunker{maxChars: maxChars, overlapChars: overlapChars}, nil
}

func (c *Chunker) MaxChars() int     { return c.maxChars }
func (c *Chunker) OverlapChars() int { return c.overlapChars }

func (c *Chunker) Chunk(paragraphs []extract.Paragraph) []Chunk {
	var (
		out     []Chunk
		buf     []rune
		bufPage int
		section string
	)

	emit := func(text []rune, page int) {
		out = append(out, Chunk{
			Index:   len(out),
			Text:    string(text),
			Page:    page,
			Section: section,
		})
	}

	for _, p := range paragraphs {
		para := []rune(p.Text)
		if len(para) == 0 {
			continue
		}
		if isSectionHeader(p.Text) {
			section = p.Text
		}

		switch {
		case len(para) > c.maxChars:
			if len(buf) > 0 {
				emit(buf, bufPage)
				buf = nil
			}
			for _, window := range c.slice(para) {
				emit(window, p.Page)
			}
		case len(buf) == 0:
			buf = append(buf, para...)
			bufPage = p.Page
		case len(buf)+separatorLen+len(para) <= c.maxChars:
			buf = append(buf, []rune(separator)...)
			buf = append(buf, para...)
		default:
			emit(buf, bufPage)
			buf = append(buf[:0:0], para...)
			bufPage = p.Page
		}
	}

	if len(buf) > 0 {
		emit(buf, bufPage)
	}
	return out
}

// slice cuts para into maxChars windows, each starting overlapChars before the
// previous one ended. The last window ends exactly at the end of para.
func (c *Chunker) slice(para []rune) [][]rune {
	var windows [][]rune
	n := len(para)
	start := 0
	for start < n {
		end := min(start+c.maxChars, n)
		windows = append(windows, para[start:end])
		if end == n {
			break
		}
		start = max(0, end-c.overlapChars)
	}
	return windows
}

// isSectionHeader matches short all-caps lines such as "INTRODUCTION" or
// "2. RESULTS AND DISCUSSION".
func isSectionHeader(text string) bool {
	cased := false
	for _, r := range text {
		switch {
		case unicode.IsLower(r), unicode.IsTitle(r):
			return false
		case unicode.IsUpper(r):
			cased = true
		}
	}
	return cased && len(strings.Fields(text)) < headerWordLimit
}
