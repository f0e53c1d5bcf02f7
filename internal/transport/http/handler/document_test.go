package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docchat/internal/app"
	"docchat/internal/extract/extracttest"
	"docchat/internal/model"
	"docchat/internal/transport/http/response"
)

type fakeIngester struct {
	calls []app.IngestInput
	err   error
}

func (f *fakeIngester) Ingest(_ context.Context, in app.IngestInput) (*model.Document, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Document{
		ID:               uuid.New(),
		OriginalFilename: in.Filename,
		Status:           model.DocumentStatusReady,
		UploadedAt:       time.Now(),
	}, nil
}

type fakeDocuments struct {
	docs map[uuid.UUID]model.Document
}

func (f *fakeDocuments) List(context.Context) ([]model.Document, error) {
	out := make([]model.Document, 0, len(f.docs))
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDocuments) Get(_ context.Context, id uuid.UUID) (*model.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, app.ErrDocumentNotFound
	}
	return &d, nil
}

func (f *fakeDocuments) Chunks(ctx context.Context, id uuid.UUID) ([]model.Chunk, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	return []model.Chunk{{DocumentID: id, Index: 0, Content: "first"}, {DocumentID: id, Index: 1, Content: "second"}}, nil
}

func (f *fakeDocuments) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	delete(f.docs, id)
	return nil
}

type fakePublisher struct {
	jobs []model.IngestJob
}

func (f *fakePublisher) PublishIngest(_ context.Context, job model.IngestJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func newDocumentRouter(h *DocumentHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/documents/upload", h.Upload)
	r.GET("/api/documents", h.List)
	r.GET("/api/documents/:id", h.Get)
	r.GET("/api/documents/:id/chunks", h.Chunks)
	r.DELETE("/api/documents/:id", h.Delete)
	return r
}

func uploadRequest(t *testing.T, target, filename, contentType string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	header["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (response.APIResponse, json.RawMessage) {
	t.Helper()
	var raw struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return response.APIResponse{Code: raw.Code, Message: raw.Message}, raw.Data
}

func TestDocumentHandler_UploadSniffsPDF(t *testing.T) {
	ingester := &fakeIngester{}
	r := newDocumentRouter(NewDocumentHandler(ingester, &fakeDocuments{}, nil, 1<<20))

	// The part header claims octet-stream; the content decides.
	req := uploadRequest(t, "/api/documents/upload", "report.bin", "application/octet-stream", extracttest.PDF("BT (Hello) Tj ET"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ingester.calls) != 1 {
		t.Fatalf("expected one ingest call, got %d", len(ingester.calls))
	}
	if got := ingester.calls[0].DeclaredType; got != "application/pdf" {
		t.Errorf("expected sniffed pdf type, got %q", got)
	}
	if ingester.calls[0].Filename != "report.bin" {
		t.Errorf("filename should be passed through, got %q", ingester.calls[0].Filename)
	}
}

func TestDocumentHandler_UploadFallsBackToExtension(t *testing.T) {
	const docxType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	for _, name := range []string{"notes.docx", "NOTES.DOCX"} {
		got, ok := detectFileType([]byte("not sniffable"), "application/octet-stream", name)
		if !ok || got != docxType {
			t.Errorf("%s: expected docx from extension, got %q %v", name, got, ok)
		}
	}
	if _, ok := detectFileType([]byte("not sniffable"), "", "notes.txt"); ok {
		t.Error("text file should not resolve")
	}
}

func TestDocumentHandler_UploadRejectsUnsupportedType(t *testing.T) {
	ingester := &fakeIngester{}
	r := newDocumentRouter(NewDocumentHandler(ingester, &fakeDocuments{}, nil, 1<<20))

	req := uploadRequest(t, "/api/documents/upload", "notes.txt", "text/plain", []byte("just some text"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	env, _ := decodeEnvelope(t, rec)
	if env.Code != response.CodeUnsupportedFileType {
		t.Errorf("expected unsupported type code, got %d", env.Code)
	}
	if len(ingester.calls) != 0 {
		t.Error("ingester should not be called")
	}
}

func TestDocumentHandler_UploadTooLarge(t *testing.T) {
	ingester := &fakeIngester{}
	r := newDocumentRouter(NewDocumentHandler(ingester, &fakeDocuments{}, nil, 64))

	req := uploadRequest(t, "/api/documents/upload", "big.pdf", "application/pdf", bytes.Repeat([]byte("x"), 1024))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if len(ingester.calls) != 0 {
		t.Error("ingester should not be called")
	}
}

func TestDocumentHandler_UploadIngestionFailure(t *testing.T) {
	ingester := &fakeIngester{err: app.ErrIngestionFailed}
	r := newDocumentRouter(NewDocumentHandler(ingester, &fakeDocuments{}, nil, 1<<20))

	req := uploadRequest(t, "/api/documents/upload", "report.pdf", "application/pdf", extracttest.PDF("BT (Hello) Tj ET"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	env, _ := decodeEnvelope(t, rec)
	if env.Code != response.CodeIngestionFailed {
		t.Errorf("expected ingestion failed code, got %d", env.Code)
	}
}

func TestDocumentHandler_AsyncUploadQueuesJob(t *testing.T) {
	ingester := &fakeIngester{}
	jobs := &fakePublisher{}
	r := newDocumentRouter(NewDocumentHandler(ingester, &fakeDocuments{}, jobs, 1<<20))

	content := extracttest.PDF("BT (Hello) Tj ET")
	req := uploadRequest(t, "/api/documents/upload?async=true", "report.pdf", "application/pdf", content)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ingester.calls) != 0 {
		t.Error("async upload should not ingest inline")
	}
	if len(jobs.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(jobs.jobs))
	}
	job := jobs.jobs[0]
	if !bytes.Equal(job.Content, content) || job.DeclaredType != "application/pdf" {
		t.Errorf("unexpected job %+v", job.DeclaredType)
	}

	_, data := decodeEnvelope(t, rec)
	var accepted struct {
		DocumentID uuid.UUID `json:"document_id"`
		Status     string    `json:"status"`
	}
	if err := json.Unmarshal(data, &accepted); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if accepted.DocumentID != job.DocumentID || accepted.Status != "queued" {
		t.Errorf("unexpected accepted payload %+v", accepted)
	}
}

func TestDocumentHandler_AsyncUploadWithoutQueue(t *testing.T) {
	r := newDocumentRouter(NewDocumentHandler(&fakeIngester{}, &fakeDocuments{}, nil, 1<<20))

	req := uploadRequest(t, "/api/documents/upload?async=true", "report.pdf", "application/pdf", extracttest.PDF("BT (Hello) Tj ET"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestDocumentHandler_GetChunksAndDelete(t *testing.T) {
	id := uuid.New()
	docs := &fakeDocuments{docs: map[uuid.UUID]model.Document{id: {ID: id, Status: model.DocumentStatusReady}}}
	r := newDocumentRouter(NewDocumentHandler(&fakeIngester{}, docs, nil, 1<<20))

	cases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/api/documents/not-a-uuid", http.StatusBadRequest},
		{http.MethodGet, "/api/documents/" + uuid.NewString(), http.StatusNotFound},
		{http.MethodGet, "/api/documents/" + id.String(), http.StatusOK},
		{http.MethodGet, "/api/documents/" + id.String() + "/chunks", http.StatusOK},
		{http.MethodGet, "/api/documents", http.StatusOK},
		{http.MethodDelete, "/api/documents/" + id.String(), http.StatusOK},
		{http.MethodDelete, "/api/documents/" + id.String(), http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.status {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rec.Code)
		}
	}
}
