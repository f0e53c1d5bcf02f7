package app

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"docchat/internal/logger"
	"docchat/internal/model"
	"docchat/internal/repository"
	"docchat/internal/storage"
)

type DocumentService struct {
	docRepo   *repository.DocumentRepository
	chunkRepo *repository.ChunkRepository
	blobs     storage.BlobStore
	log       *slog.Logger
}

func NewDocumentService(
	docRepo *repository.DocumentRepository,
	chunkRepo *repository.ChunkRepository,
	blobs storage.BlobStore,
	log *slog.Logger,
) *DocumentService {
	return &DocumentService{
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		blobs:     blobs,
		log:       logger.OrDefault(log),
	}
}

func (s *DocumentService) List(ctx context.Context) ([]model.Document, error) {
	return s.docRepo.List(ctx)
}

func (s *DocumentService) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	doc, err := s.docRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Chunks returns the document's chunks in index order.
func (s *DocumentService) Chunks(ctx context.Context, id uuid.UUID) ([]model.Chunk, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.chunkRepo.ListByDocumentID(ctx, id)
}

// Delete removes the row and chunks, then the stored file. A missing file is
// logged and does not fail the call.
func (s *DocumentService) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.docRepo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, storage.Key(id, doc.FileType)); err != nil {
		s.log.Warn("delete document file failed", "document_id", id.String(), "error", err)
	}
	return nil
}
