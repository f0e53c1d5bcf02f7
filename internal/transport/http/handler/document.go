package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docchat/internal/app"
	"docchat/internal/model"
	"docchat/internal/transport/http/response"
)

// multipartSlack covers form boundaries and part headers on top of the file.
const multipartSlack = 1 << 20

type Ingester interface {
	Ingest(ctx context.Context, in app.IngestInput) (*model.Document, error)
}

type DocumentStore interface {
	List(ctx context.Context) ([]model.Document, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Document, error)
	Chunks(ctx context.Context, id uuid.UUID) ([]model.Chunk, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type JobPublisher interface {
	PublishIngest(ctx context.Context, job model.IngestJob) error
}

type DocumentHandler struct {
	ingester  Ingester
	documents DocumentStore
	jobs      JobPublisher
	maxUpload int64
}

// NewDocumentHandler builds the document endpoints. jobs may be nil, in which
// case async uploads are refused.
func NewDocumentHandler(ingester Ingester, documents DocumentStore, jobs JobPublisher, maxUpload int64) *DocumentHandler {
	return &DocumentHandler{
		ingester:  ingester,
		documents: documents,
		jobs:      jobs,
		maxUpload: maxUpload,
	}
}

// Upload accepts a multipart form with "file". With ?async=true the file is
// queued and 202 is returned with the document id assigned up front.
func (h *DocumentHandler) Upload(c *gin.Context) {
	async, _ := strconv.ParseBool(c.Query("async"))
	if async && h.jobs == nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, "async ingestion is not configured")
		return
	}

	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartSlack)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if h.maxUpload > 0 && file.Size > h.maxUpload {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "file too large")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	if len(content) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file is empty")
		return
	}

	declared, ok := detectFileType(content, file.Header.Get("Content-Type"), file.Filename)
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFileType, "only PDF and DOCX files are supported")
		return
	}

	if async {
		job := model.IngestJob{
			DocumentID:   uuid.New(),
			Filename:     file.Filename,
			DeclaredType: declared,
			Content:      content,
		}
		if err := h.jobs.PublishIngest(c.Request.Context(), job); err != nil {
			response.Error(c, http.StatusServiceUnavailable, response.CodeUnavailable, "enqueue ingestion failed")
			return
		}
		response.Accepted(c, gin.H{"document_id": job.DocumentID, "status": "queued"})
		return
	}

	doc, err := h.ingester.Ingest(c.Request.Context(), app.IngestInput{
		Filename:     file.Filename,
		DeclaredType: declared,
		Content:      content,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrUnsupportedFileType):
			response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFileType, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrIngestionFailed):
			response.Error(c, http.StatusInternalServerError, response.CodeIngestionFailed, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed")
		}
		return
	}
	response.OK(c, doc)
}

// detectFileType prefers the sniffed content type, then the part header, then
// the filename extension.
func detectFileType(content []byte, header, filename string) (string, bool) {
	candidates := []string{
		mimetype.Detect(content).String(),
		header,
		filepath.Ext(filename),
	}
	for _, candidate := range candidates {
		if _, contentType, err := app.ResolveFileType(candidate); err == nil {
			return contentType, true
		}
	}
	return "", false
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), id)
	if err != nil {
		writeDocumentError(c, err, "get document failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) Chunks(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	chunks, err := h.documents.Chunks(c.Request.Context(), id)
	if err != nil {
		writeDocumentError(c, err, "list chunks failed")
		return
	}
	response.OK(c, chunks)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id, err := parseUUIDParam(c, "id")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	if err := h.documents.Delete(c.Request.Context(), id); err != nil {
		writeDocumentError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": id})
}

func writeDocumentError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, app.ErrDocumentNotFound) {
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, err.Error())
		return
	}
	response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
}
