package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"docchat/internal/chunker"
	"docchat/internal/extract"
	"docchat/internal/logger"
	"docchat/internal/model"
	"docchat/internal/repository"
	"docchat/internal/storage"
)

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type IngestionService struct {
	docRepo   *repository.DocumentRepository
	chunkRepo *repository.ChunkRepository
	blobs     storage.BlobStore
	chunker   *chunker.Chunker
	embedder  Embedder
	log       *slog.Logger
}

func NewIngestionService(
	docRepo *repository.DocumentRepository,
	chunkRepo *repository.ChunkRepository,
	blobs storage.BlobStore,
	chunker *chunker.Chunker,
	embedder Embedder,
	log *slog.Logger,
) *IngestionService {
	return &IngestionService{
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		blobs:     blobs,
		chunker:   chunker,
		embedder:  embedder,
		log:       logger.OrDefault(log),
	}
}

// IngestInput describes one uploaded file. DeclaredType is a MIME type or a
// short name; DocumentID may be preassigned by the caller.
type IngestInput struct {
	DocumentID   uuid.UUID
	Filename     string
	DeclaredType string
	Content      []byte
}

// Ingest stores the file, extracts, chunks and embeds it, and returns the
// document in status ready. On any failure after the first write every side
// effect is undone and the error wraps ErrIngestionFailed and its cause.
func (s *IngestionService) Ingest(ctx context.Context, in IngestInput) (*model.Document, error) {
	fileType, contentType, err := ResolveFileType(in.DeclaredType)
	if err != nil {
		return nil, err
	}
	if len(in.Content) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}

	id := in.DocumentID
	if id == uuid.Nil {
		id = uuid.New()
	}
	log := s.log.With("document_id", id.String(), "file_type", fileType)
	started := time.Now()

	var undo compensations
	fail := func(stage string, cause error) (*model.Document, error) {
		log.Error("ingestion failed, rolling back", "stage", stage, "error", cause)
		undo.run(ctx, log)
		return nil, fmt.Errorf("%w: %s: %w", ErrIngestionFailed, stage, cause)
	}

	key := storage.Key(id, fileType)
	location, err := s.blobs.Put(ctx, key, in.Content, contentType)
	if err != nil {
		return fail("store file", err)
	}
	undo.add("delete file", func(ctx context.Context) error {
		return s.blobs.Delete(ctx, key)
	})

	doc := &model.Document{
		ID:               id,
		OriginalFilename: in.Filename,
		StoragePath:      location,
		FileType:         fileType,
		Status:           model.DocumentStatusProcessing,
		UploadedAt:       time.Now().UTC(),
	}
	if err := s.docRepo.Create(ctx, doc); err != nil {
		return fail("create document", err)
	}
	undo.add("delete document", func(ctx context.Context) error {
		return s.docRepo.Delete(ctx, id)
	})

	paragraphs, err := extract.ExtractBytes(ctx, in.Content, fileType)
	if err != nil {
		return fail("extract", err)
	}

	chunks := s.chunker.Chunk(paragraphs)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fail("embed", err)
	}
	if len(vectors) != len(chunks) {
		return fail("embed", fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	rows := make([]model.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = model.Chunk{
			DocumentID: id,
			Index:      c.Index,
			Content:    c.Text,
			Embedding:  model.NewVector(vectors[i]),
			PageNumber: c.Page,
			Section:    c.Section,
		}
	}
	if err := s.chunkRepo.CreateBatch(ctx, rows); err != nil {
		return fail("store chunks", err)
	}
	undo.add("delete chunks", func(ctx context.Context) error {
		return s.chunkRepo.DeleteByDocumentID(ctx, id)
	})

	if err := s.docRepo.UpdateStatus(ctx, id, model.DocumentStatusReady); err != nil {
		return fail("mark ready", err)
	}
	doc.Status = model.DocumentStatusReady

	log.Info("document ingested",
		"paragraphs", len(paragraphs),
		"chunks", len(chunks),
		"elapsed", time.Since(started),
	)
	return doc, nil
}
