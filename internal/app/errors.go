package app

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnsupportedFileType  = errors.New("unsupported file type")
	ErrIngestionFailed      = errors.New("ingestion failed")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrQuestionEmpty        = errors.New("question is empty")
)
