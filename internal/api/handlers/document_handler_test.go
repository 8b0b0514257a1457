package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core/pipeline"
	"github.com/markdave123-py/Indexa/internal/core/queue"
	"github.com/markdave123-py/Indexa/internal/models"
)

type fakeStore struct {
	mu   sync.Mutex
	docs map[string]*models.Document
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]*models.Document)}
}

func (s *fakeStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *fakeStore) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (s *fakeStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, *doc)
	}
	return out, nil
}

func (s *fakeStore) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.Status != from {
		return false, nil
	}
	doc.Status = to
	return true, nil
}

func (s *fakeStore) SaveExtraction(ctx context.Context, id, text string, metadata map[string]string, contentHash string, retryCount int) (bool, error) {
	return false, errors.New("not used by handler tests")
}

func (s *fakeStore) RecordRetry(ctx context.Context, id string, retryCount int, kind, msg string) (bool, error) {
	return false, errors.New("not used by handler tests")
}

func (s *fakeStore) MarkFailed(ctx context.Context, id string, retryCount int, kind, msg string) (bool, error) {
	return false, errors.New("not used by handler tests")
}

func (s *fakeStore) ResetDocument(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok || doc.Status != models.StatusFailed {
		return false, nil
	}
	doc.Status = models.StatusPending
	doc.RetryCount = 0
	doc.LastErrKind = ""
	doc.LastErrMsg = ""
	return true, nil
}

type fakeObjects struct {
	mu      sync.Mutex
	uploads map[string][]byte
	failUp  bool
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{uploads: make(map[string][]byte)}
}

func (o *fakeObjects) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failUp {
		return "", errors.New("s3 unreachable")
	}
	o.uploads[bucket+"/"+key] = data
	return fmt.Sprintf("https://%s.s3.test.amazonaws.com/%s", bucket, key), nil
}

func (o *fakeObjects) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.uploads[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (o *fakeObjects) DeleteFile(ctx context.Context, bucket, key string) error {
	return nil
}

type fakeIndex struct {
	hits    []models.SearchHit
	lastQ   string
	lastLim int
	err     error
}

func (i *fakeIndex) Upsert(ctx context.Context, entry models.IndexEntry) error { return nil }
func (i *fakeIndex) Delete(ctx context.Context, documentID string) error       { return nil }
func (i *fakeIndex) GetHash(ctx context.Context, documentID string) (string, error) {
	return "", nil
}
func (i *fakeIndex) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	i.lastQ, i.lastLim = query, limit
	return i.hits, i.err
}
func (i *fakeIndex) Close() error { return nil }

type testEnv struct {
	store   *fakeStore
	objects *fakeObjects
	index   *fakeIndex
	queue   *queue.MemoryQueue
	router  *chi.Mux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   newFakeStore(),
		objects: newFakeObjects(),
		index:   &fakeIndex{},
		queue:   queue.NewMemoryQueue(time.Second),
	}
	t.Cleanup(func() { env.queue.Close() })

	coord := pipeline.NewCoordinator(env.store, env.index, env.queue)
	h := NewDocumentHandler(env.store, env.objects, env.index, coord, &config.Config{BucketName: "test-bucket"})

	r := chi.NewRouter()
	r.Post("/api/documents", h.RegisterDocument)
	r.Get("/api/documents", h.ListDocuments)
	r.Get("/api/documents/{id}", h.GetDocument)
	r.Post("/api/documents/{id}/reset", h.ResetDocument)
	r.Get("/api/search", h.Search)
	env.router = r
	return env
}

func multipartUpload(t *testing.T, filename, mime string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(content)
	mw.WriteField("mime", mime)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestRegisterDocumentAccepted(t *testing.T) {
	env := newTestEnv(t)

	body, contentType := multipartUpload(t, "report.pdf", "application/pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != models.StatusPending {
		t.Errorf("status = %q, want pending", resp["status"])
	}

	doc, _ := env.store.GetDocumentByID(context.Background(), resp["id"])
	if doc == nil {
		t.Fatal("no pending row created")
	}
	if doc.FileName != "report.pdf" || doc.DeclaredMime != "application/pdf" {
		t.Errorf("doc = %+v", doc)
	}
	if env.queue.Len() != 1 {
		t.Errorf("queue len = %d, want 1 job enqueued", env.queue.Len())
	}
	if len(env.objects.uploads) != 1 {
		t.Errorf("uploads = %d, want raw bytes staged once", len(env.objects.uploads))
	}
}

func TestRegisterDocumentUploadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.objects.failUp = true

	body, contentType := multipartUpload(t, "a.png", "image/png", []byte{1, 2, 3})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if env.queue.Len() != 0 {
		t.Error("job enqueued although the upload never landed")
	}
}

func TestRegisterDocumentRejectsMissingFile(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("mime", "text/plain")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/missing", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetFailedDocumentExposesErrorKind(t *testing.T) {
	env := newTestEnv(t)
	env.store.CreateDocument(context.Background(), &models.Document{
		ID:           "bad",
		FileName:     "weird.bin",
		DeclaredMime: "application/octet-stream",
		Status:       models.StatusFailed,
		LastErrKind:  "unsupported_format",
		LastErrMsg:   `no adapter for mime type "application/octet-stream"`,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/documents/bad", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var doc models.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.LastErrKind != "unsupported_format" {
		t.Errorf("last_error_kind = %q", doc.LastErrKind)
	}
	if doc.LastErrMsg == "" {
		t.Error("failed document must carry its recorded error message")
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/search", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSearchReturnsHits(t *testing.T) {
	env := newTestEnv(t)
	env.index.hits = []models.SearchHit{
		{DocumentID: "d1", FileName: "invoice.pdf", Score: 1.2, Fragment: "road <mark>repair</mark>"},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=repair&limit=5", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if env.index.lastQ != "repair" || env.index.lastLim != 5 {
		t.Errorf("index queried with (%q, %d)", env.index.lastQ, env.index.lastLim)
	}
	var resp struct {
		Query string             `json:"query"`
		Hits  []models.SearchHit `json:"hits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Hits) != 1 || resp.Hits[0].DocumentID != "d1" {
		t.Errorf("hits = %+v", resp.Hits)
	}
}

func TestResetFailedDocument(t *testing.T) {
	env := newTestEnv(t)
	env.store.CreateDocument(context.Background(), &models.Document{
		ID:           "dead",
		DeclaredMime: "application/pdf",
		Status:       models.StatusFailed,
		RetryCount:   3,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/documents/dead/reset", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	doc, _ := env.store.GetDocumentByID(context.Background(), "dead")
	if doc.Status != models.StatusPending || doc.RetryCount != 0 {
		t.Errorf("after reset doc = %+v", doc)
	}
	if env.queue.Len() != 1 {
		t.Errorf("queue len = %d, want fresh job enqueued", env.queue.Len())
	}
}

func TestResetRejectsIndexedDocument(t *testing.T) {
	env := newTestEnv(t)
	env.store.CreateDocument(context.Background(), &models.Document{
		ID:     "done",
		Status: models.StatusIndexed,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/documents/done/reset", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}
