package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/core/pipeline"
	"github.com/markdave123-py/Indexa/internal/models"
	"github.com/markdave123-py/Indexa/pkg/logger"
)

type DocumentHandler struct {
	store    core.DocumentStore
	objects  core.ObjectClient
	index    core.SearchIndex
	coord    *pipeline.Coordinator
	cfg      *config.Config
}

func NewDocumentHandler(store core.DocumentStore, objects core.ObjectClient, index core.SearchIndex, coord *pipeline.Coordinator, cfg *config.Config) *DocumentHandler {
	return &DocumentHandler{store: store, objects: objects, index: index, coord: coord, cfg: cfg}
}

// RegisterDocument handles file upload, S3 staging, the pending row insert,
// and job enqueue. Returns 202 immediately; processing is asynchronous.
func (h *DocumentHandler) RegisterDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(52 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read file", http.StatusBadRequest)
		return
	}

	declaredMime := r.FormValue("mime")
	if declaredMime == "" {
		declaredMime = header.Header.Get("Content-Type")
	}
	if declaredMime == "" {
		declaredMime = "application/octet-stream"
	}

	// Sanitize filename to prevent path traversal or invalid characters
	cleanFilename := filepath.Base(header.Filename)
	docID := uuid.NewString()
	s3Key := fmt.Sprintf("%s/%s", docID, cleanFilename)

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	url, err := h.objects.UploadFile(uploadCtx, h.cfg.BucketName, s3Key, data, declaredMime)
	if err != nil {
		logger.Error(r.Context(), "raw content upload failed", "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}

	doc := &models.Document{
		ID:           docID,
		FileName:     cleanFilename,
		StorageURL:   url,
		DeclaredMime: declaredMime,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := h.coord.Register(r.Context(), doc); err != nil {
		logger.Error(r.Context(), "document registration failed", "error", err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}

	logger.Info(r.Context(), "document registered", "document_id", docID, "mime", declaredMime)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     docID,
		"status": models.StatusPending,
	})
}

// GetDocument returns status, extracted text and metadata for one document.
// A failed document carries its recorded error kind and message, never a
// generic error.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := h.store.GetDocumentByID(r.Context(), id)
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments(r.Context())
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// Search queries the search index. Results reflect the content-hash
// invariant: every hit's hash matches the text its entry was built from.
func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	hits, err := h.index.Search(r.Context(), q, limit)
	if err != nil {
		logger.Error(r.Context(), "search failed", "error", err)
		http.Error(w, "search failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "hits": hits})
}

// ResetDocument is the operator action returning a failed document to
// pending with a cleared retry budget.
func (h *DocumentHandler) ResetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := h.coord.Reset(r.Context(), id)
	if err != nil {
		logger.Error(r.Context(), "reset failed", "document_id", id, "error", err)
		http.Error(w, "reset failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "document not found or not failed", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": models.StatusPending})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
