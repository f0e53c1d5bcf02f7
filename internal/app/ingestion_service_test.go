package app

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"docchat/internal/chunker"
	"docchat/internal/embedding"
	"docchat/internal/extract"
	"docchat/internal/extract/extracttest"
	"docchat/internal/model"
	"docchat/internal/platform/database/databasetest"
	"docchat/internal/repository"
	"docchat/internal/storage"
)

var errEncoderBroke = errors.New("encoder broke")

// stubEncoder returns a two-value vector per text and fails on the failOn-th
// call when failOn > 0.
type stubEncoder struct {
	mu     sync.Mutex
	calls  int
	failOn int
}

func (e *stubEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failOn > 0 && e.calls == e.failOn {
		return nil, errEncoderBroke
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{1, float32(len(text))}
	}
	return out, nil
}

type ingestFixture struct {
	svc       *IngestionService
	docRepo   *repository.DocumentRepository
	chunkRepo *repository.ChunkRepository
	dir       string
	encoder   *stubEncoder
}

func newIngestFixture(t *testing.T, failOn int) *ingestFixture {
	t.Helper()
	db := databasetest.New(t)
	dir := t.TempDir()
	blobs, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	c, err := chunker.New(20, 5)
	if err != nil {
		t.Fatalf("chunker: %v", err)
	}
	enc := &stubEncoder{failOn: failOn}
	gen := embedding.NewGenerator("stub", func(context.Context, string) (embedding.Encoder, error) {
		return enc, nil
	}, embedding.WithBatchSize(1))

	docRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	return &ingestFixture{
		svc:       NewIngestionService(docRepo, chunkRepo, blobs, c, gen, nil),
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		dir:       dir,
		encoder:   enc,
	}
}

func (f *ingestFixture) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var fiveParagraphs = []string{
	"paragraph one alpha",
	"paragraph two beta",
	"paragraph three c",
	"paragraph four del",
	"paragraph five eps",
}

func buildDocx(t *testing.T) []byte {
	t.Helper()
	data, err := extracttest.DOCX(fiveParagraphs...)
	if err != nil {
		t.Fatalf("build docx: %v", err)
	}
	return data
}

func TestIngest_StoresChunksInOrderAndMarksReady(t *testing.T) {
	f := newIngestFixture(t, 0)
	ctx := context.Background()
	data := buildDocx(t)

	doc, err := f.svc.Ingest(ctx, IngestInput{
		Filename:     "notes.docx",
		DeclaredType: mimeDOCX,
		Content:      data,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if doc.Status != model.DocumentStatusReady || doc.FileType != extract.TypeDOCX {
		t.Errorf("unexpected document: %+v", doc)
	}

	stored, err := f.docRepo.GetByID(ctx, doc.ID)
	if err != nil || stored == nil {
		t.Fatalf("expected stored document, got %v, %v", stored, err)
	}
	if stored.Status != model.DocumentStatusReady {
		t.Errorf("expected ready, got %s", stored.Status)
	}

	chunks, err := f.chunkRepo.ListByDocumentID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != len(fiveParagraphs) {
		t.Fatalf("expected %d chunks, got %d", len(fiveParagraphs), len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i || c.Content != fiveParagraphs[i] || c.PageNumber != 1 {
			t.Errorf("chunk %d: unexpected %+v", i, c)
		}
		if got := len(c.Embedding.Slice()); got != model.EmbeddingDim {
			t.Errorf("chunk %d: expected %d dims, got %d", i, model.EmbeddingDim, got)
		}
	}

	files := f.files(t)
	if len(files) != 1 || files[0] != storage.Key(doc.ID, "docx") {
		t.Errorf("expected one stored file named after the document, got %v", files)
	}
}

func TestIngest_KeepsPreassignedID(t *testing.T) {
	f := newIngestFixture(t, 0)
	id := uuid.New()

	doc, err := f.svc.Ingest(context.Background(), IngestInput{
		DocumentID:   id,
		Filename:     "notes.docx",
		DeclaredType: "docx",
		Content:      buildDocx(t),
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if doc.ID != id {
		t.Errorf("expected id %s, got %s", id, doc.ID)
	}
}

func TestIngest_EmbeddingFailureRollsBackEverything(t *testing.T) {
	f := newIngestFixture(t, 3)
	ctx := context.Background()
	id := uuid.New()

	_, err := f.svc.Ingest(ctx, IngestInput{
		DocumentID:   id,
		Filename:     "notes.docx",
		DeclaredType: mimeDOCX,
		Content:      buildDocx(t),
	})
	if !errors.Is(err, ErrIngestionFailed) {
		t.Fatalf("expected ErrIngestionFailed, got %v", err)
	}
	if !errors.Is(err, errEncoderBroke) {
		t.Errorf("expected the encoder error as cause, got %v", err)
	}

	doc, err := f.docRepo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if doc != nil {
		t.Errorf("document should be gone, got status %s", doc.Status)
	}
	chunks, err := f.chunkRepo.ListByDocumentID(ctx, id)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
	if files := f.files(t); len(files) != 0 {
		t.Errorf("expected no stored files, got %v", files)
	}
}

func TestIngest_UnsupportedTypeWritesNothing(t *testing.T) {
	f := newIngestFixture(t, 0)

	_, err := f.svc.Ingest(context.Background(), IngestInput{
		Filename:     "notes.txt",
		DeclaredType: "text/plain",
		Content:      []byte("plain text"),
	})
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("expected ErrUnsupportedFileType, got %v", err)
	}
	if files := f.files(t); len(files) != 0 {
		t.Errorf("expected no stored files, got %v", files)
	}
	docs, err := f.docRepo.List(context.Background())
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected no documents, got %d", len(docs))
	}
	if f.encoder.calls != 0 {
		t.Errorf("encoder should not run, got %d calls", f.encoder.calls)
	}
}

func TestIngest_CorruptFileRollsBack(t *testing.T) {
	f := newIngestFixture(t, 0)
	id := uuid.New()

	_, err := f.svc.Ingest(context.Background(), IngestInput{
		DocumentID:   id,
		Filename:     "broken.pdf",
		DeclaredType: mimePDF,
		Content:      []byte("this is not a pdf at all"),
	})
	if !errors.Is(err, ErrIngestionFailed) || !errors.Is(err, extract.ErrExtraction) {
		t.Fatalf("expected ingestion failure caused by extraction, got %v", err)
	}
	doc, _ := f.docRepo.GetByID(context.Background(), id)
	if doc != nil {
		t.Error("document row should be removed")
	}
	if files := f.files(t); len(files) != 0 {
		t.Errorf("expected no stored files, got %v", files)
	}
}

func TestIngest_EmptyContentRejected(t *testing.T) {
	f := newIngestFixture(t, 0)

	_, err := f.svc.Ingest(context.Background(), IngestInput{
		Filename:     "empty.pdf",
		DeclaredType: "pdf",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
