package app

import (
	"fmt"
	"mime"
	"strings"

	"docchat/internal/extract"
)

const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var allowedFileTypes = map[string]string{
	mimePDF:          extract.TypePDF,
	mimeDOCX:         extract.TypeDOCX,
	extract.TypePDF:  extract.TypePDF,
	extract.TypeDOCX: extract.TypeDOCX,
}

// ResolveFileType maps a MIME type or short name ("pdf", ".docx") to the
// stored file type and its canonical MIME type.
func ResolveFileType(declared string) (fileType, contentType string, err error) {
	key := strings.ToLower(strings.TrimSpace(declared))
	if mediaType, _, parseErr := mime.ParseMediaType(key); parseErr == nil {
		key = mediaType
	}
	key = strings.TrimPrefix(key, ".")

	fileType, ok := allowedFileTypes[key]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, declared)
	}
	if fileType == extract.TypePDF {
		return fileType, mimePDF, nil
	}
	return fileType, mimeDOCX, nil
}
