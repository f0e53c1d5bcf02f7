// Package extract turns a PDF or DOCX byte stream into ordered paragraphs
// tagged with their source page.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
)

const (
	TypePDF  = "pdf"
	TypeDOCX = "docx"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrExtraction        = errors.New("document extraction failed")
)

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// Paragraph is one non-empty block of text. Page is 1-based.
type Paragraph struct {
	Page int
	Text string
}

// Extract reads src fully and parses it as docType ("pdf" or "docx").
func Extract(ctx context.Context, src io.Reader, docType string) ([]Paragraph, error) {
	if docType != TypePDF && docType != TypeDOCX {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, docType)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: read source: %w", ErrExtraction, err)
	}
	return ExtractBytes(ctx, data, docType)
}

func ExtractBytes(ctx context.Context, data []byte, docType string) ([]Paragraph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch docType {
	case TypePDF:
		return extractPDF(ctx, data)
	case TypeDOCX:
		return extractDOCX(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, docType)
	}
}

func extractPDF(ctx context.Context, data []byte) (paragraphs []Paragraph, err error) {
	// The pdf package panics on some malformed object graphs.
	defer func() {
		if r := recover(); r != nil {
			paragraphs = nil
			err = fmt.Errorf("%w: pdf: %v", ErrExtraction, r)
		}
	}()

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: pdf: empty input", ErrExtraction)
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: pdf: %w", ErrExtraction, err)
	}

	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		text, err := page.GetPlainText(fonts)
		if err != nil {
			return nil, fmt.Errorf("%w: pdf page %d: %w", ErrExtraction, i, err)
		}
		for _, block := range blankLine.Split(normalizeNewlines(text), -1) {
			if block = strings.TrimSpace(block); block != "" {
				paragraphs = append(paragraphs, Paragraph{Page: i, Text: block})
			}
		}
	}
	return paragraphs, nil
}

// Soft breaks and tabs inside a paragraph are rewritten to text runs so that
// only <w:p> starts a new line in the converted text.
var (
	docxSoftBreak = regexp.MustCompile(`<w:(?:br|cr)\b[^>]*/>`)
	docxTab       = regexp.MustCompile(`<w:tab\b[^>]*/>`)
)

const lineSeparator = "\u2028"

func extractDOCX(data []byte) ([]Paragraph, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: docx: %w", ErrExtraction, err)
	}
	body, err := readZipEntry(zr, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("%w: docx: %w", ErrExtraction, err)
	}

	body = docxSoftBreak.ReplaceAll(body, []byte("<w:t>"+lineSeparator+"</w:t>"))
	body = docxTab.ReplaceAll(body, []byte("<w:t>\t</w:t>"))
	text, err := docconv.XMLToText(bytes.NewReader(body), []string{"p"}, []string{"instrText", "script"}, true)
	if err != nil {
		return nil, fmt.Errorf("%w: docx: %w", ErrExtraction, err)
	}

	var paragraphs []Paragraph
	for _, line := range strings.Split(normalizeNewlines(text), "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, lineSeparator, "\n"))
		if line != "" {
			paragraphs = append(paragraphs, Paragraph{Page: 1, Text: line})
		}
	}
	return paragraphs, nil
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
