package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
)

// mockStore implements core.DocumentStore in memory with the same
// compare-and-set semantics as the Postgres client.
type mockStore struct {
	mu   sync.Mutex
	docs map[string]*models.Document
	// failNext, when set, makes every operation fail until cleared.
	failNext error
	// indexedTransitions counts successful CAS transitions into indexed.
	indexedTransitions int
}

func newMockStore() *mockStore {
	return &mockStore{docs: make(map[string]*models.Document)}
}

func (s *mockStore) setFail(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *mockStore) get(id string) *models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.docs[id]; ok {
		cp := *d
		return &cp
	}
	return nil
}

func (s *mockStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return s.failNext
	}
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("duplicate id %s", doc.ID)
	}
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *mockStore) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	if s.failNext != nil {
		err := s.failNext
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.get(id), nil
}

func (s *mockStore) ListDocuments(ctx context.Context) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Document
	for _, d := range s.docs {
		out = append(out, *d)
	}
	return out, nil
}

func (s *mockStore) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return false, s.failNext
	}
	d, ok := s.docs[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	if to == models.StatusIndexed {
		s.indexedTransitions++
	}
	return true, nil
}

func (s *mockStore) indexedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexedTransitions
}

func (s *mockStore) SaveExtraction(ctx context.Context, id string, text string, metadata map[string]string, contentHash string, retryCount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return false, s.failNext
	}
	d, ok := s.docs[id]
	if !ok || d.Status != models.StatusProcessing {
		return false, nil
	}
	d.Status = models.StatusIndexing
	d.Text = text
	d.Metadata = metadata
	d.ContentHash = contentHash
	d.RetryCount = retryCount
	d.LastErrKind = ""
	d.LastErrMsg = ""
	d.UpdatedAt = time.Now()
	return true, nil
}

func (s *mockStore) RecordRetry(ctx context.Context, id string, retryCount int, kind, msg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return false, s.failNext
	}
	d, ok := s.docs[id]
	if !ok || d.Status != models.StatusProcessing {
		return false, nil
	}
	d.Status = models.StatusPending
	d.RetryCount = retryCount
	d.LastErrKind = kind
	d.LastErrMsg = msg
	d.UpdatedAt = time.Now()
	return true, nil
}

func (s *mockStore) MarkFailed(ctx context.Context, id string, retryCount int, kind, msg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return false, s.failNext
	}
	d, ok := s.docs[id]
	if !ok || (d.Status != models.StatusProcessing && d.Status != models.StatusPending) {
		return false, nil
	}
	d.Status = models.StatusFailed
	d.RetryCount = retryCount
	d.LastErrKind = kind
	d.LastErrMsg = msg
	d.UpdatedAt = time.Now()
	return true, nil
}

func (s *mockStore) ResetDocument(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return false, s.failNext
	}
	d, ok := s.docs[id]
	if !ok || d.Status != models.StatusFailed {
		return false, nil
	}
	d.Status = models.StatusPending
	d.RetryCount = 0
	d.Text = ""
	d.ContentHash = ""
	d.LastErrKind = ""
	d.LastErrMsg = ""
	d.UpdatedAt = time.Now()
	return true, nil
}

// mockIndex implements core.SearchIndex over a map. Upserts can be scripted
// to fail to exercise the indexing fallback path.
type mockIndex struct {
	mu        sync.Mutex
	entries   map[string]models.IndexEntry
	upserts   int
	failFirst int  // fail this many upserts before succeeding
	dropWrite bool // accept upserts without storing, to simulate drift
}

func newMockIndex() *mockIndex {
	return &mockIndex{entries: make(map[string]models.IndexEntry)}
}

func (m *mockIndex) Upsert(ctx context.Context, entry models.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.failFirst > 0 {
		m.failFirst--
		return core.NewFailure(core.KindIndexWriteFailure, true, "induced index outage")
	}
	if m.dropWrite {
		return nil
	}
	if existing, ok := m.entries[entry.DocumentID]; ok && existing.ContentHash == entry.ContentHash {
		return nil
	}
	m.entries[entry.DocumentID] = entry
	return nil
}

func (m *mockIndex) Delete(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, documentID)
	return nil
}

func (m *mockIndex) GetHash(ctx context.Context, documentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[documentID]; ok {
		return e.ContentHash, nil
	}
	return "", nil
}

func (m *mockIndex) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []models.SearchHit
	for id, e := range m.entries {
		if strings.Contains(strings.ToLower(e.Text), strings.ToLower(query)) {
			hits = append(hits, models.SearchHit{
				DocumentID:  id,
				FileName:    e.FileName,
				Mime:        e.Mime,
				ContentHash: e.ContentHash,
				Score:       1,
			})
		}
	}
	return hits, nil
}

func (m *mockIndex) Close() error { return nil }

func (m *mockIndex) entry(id string) (models.IndexEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

func (m *mockIndex) upsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}

// mockObjects implements core.ObjectClient over a map keyed bucket/key.
type mockObjects struct {
	mu    sync.Mutex
	blobs map[string][]byte
	gets  int
}

func newMockObjects() *mockObjects {
	return &mockObjects{blobs: make(map[string][]byte)}
}

func (m *mockObjects) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[bucket+"/"+key] = data
	return fmt.Sprintf("https://%s.s3.us-east-2.amazonaws.com/%s", bucket, key), nil
}

func (m *mockObjects) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if b, ok := m.blobs[bucket+"/"+key]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("no object at %s/%s", bucket, key)
}

func (m *mockObjects) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

func (m *mockObjects) DeleteFile(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, bucket+"/"+key)
	return nil
}

// scriptedExtractor returns whatever fn decides per invocation, counting
// calls so tests can assert extraction is not repeated.
type scriptedExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, mime string) (*core.ExtractResult, error)
}

func (e *scriptedExtractor) Extract(ctx context.Context, content []byte, declaredMime string) (*core.ExtractResult, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	fn := e.fn
	e.mu.Unlock()
	return fn(call, declaredMime)
}

func (e *scriptedExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
