package searchindex

import (
	"context"
	"fmt"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/markdave123-py/Indexa/internal/core"
	"github.com/markdave123-py/Indexa/internal/models"
)

// indexDoc is the flat shape actually stored in bleve, one per document id.
type indexDoc struct {
	Text        string            `json:"text"`
	FileName    string            `json:"file_name"`
	Mime        string            `json:"mime"`
	ContentHash string            `json:"content_hash"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BleveIndex implements core.SearchIndex on a bleve inverted index, either
// on disk or in memory (empty path).
type BleveIndex struct {
	idx bleve.Index
}

var _ core.SearchIndex = (*BleveIndex)(nil)

func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("bleve mem index: %w", err)
		}
		return &BleveIndex{idx: idx}, nil
	}

	if _, err := os.Stat(path); err == nil {
		idx, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("bleve open %s: %w", path, err)
		}
		return &BleveIndex{idx: idx}, nil
	}

	idx, err := bleve.New(path, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve create %s: %w", path, err)
	}
	return &BleveIndex{idx: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	text := bleve.NewTextFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", text)
	doc.AddFieldMappingsAt("file_name", text)
	doc.AddFieldMappingsAt("mime", kw)
	doc.AddFieldMappingsAt("content_hash", kw)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Upsert writes the projection for a document id. A matching stored hash is
// a no-op; a differing hash deletes the old entry before the new write so a
// document id never briefly exposes two conflicting entries.
func (b *BleveIndex) Upsert(ctx context.Context, entry models.IndexEntry) error {
	existing, err := b.GetHash(ctx, entry.DocumentID)
	if err != nil {
		return err
	}
	if existing == entry.ContentHash {
		return nil
	}
	if existing != "" {
		if err := b.idx.Delete(entry.DocumentID); err != nil {
			return core.NewFailure(core.KindIndexWriteFailure, true, "delete stale entry %s: %v", entry.DocumentID, err)
		}
	}

	doc := indexDoc{
		Text:        entry.Text,
		FileName:    entry.FileName,
		Mime:        entry.Mime,
		ContentHash: entry.ContentHash,
		Metadata:    entry.Metadata,
	}
	if err := b.idx.Index(entry.DocumentID, doc); err != nil {
		return core.NewFailure(core.KindIndexWriteFailure, true, "index %s: %v", entry.DocumentID, err)
	}
	return nil
}

func (b *BleveIndex) Delete(ctx context.Context, documentID string) error {
	if err := b.idx.Delete(documentID); err != nil {
		return core.NewFailure(core.KindIndexWriteFailure, true, "delete %s: %v", documentID, err)
	}
	return nil
}

// GetHash returns the stored content hash for a document id, "" when the
// document has no entry.
func (b *BleveIndex) GetHash(ctx context.Context, documentID string) (string, error) {
	q := bleve.NewDocIDQuery([]string{documentID})
	req := bleve.NewSearchRequest(q)
	req.Fields = []string{"content_hash"}
	res, err := b.idx.SearchInContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("hash lookup %s: %w", documentID, err)
	}
	if len(res.Hits) == 0 {
		return "", nil
	}
	if h, ok := res.Hits[0].Fields["content_hash"].(string); ok {
		return h, nil
	}
	return "", nil
}

func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"file_name", "mime", "content_hash"}
	req.Highlight = bleve.NewHighlightWithStyle("html")
	req.Highlight.AddField("text")

	res, err := b.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hit := models.SearchHit{
			DocumentID: h.ID,
			Score:      h.Score,
		}
		if v, ok := h.Fields["file_name"].(string); ok {
			hit.FileName = v
		}
		if v, ok := h.Fields["mime"].(string); ok {
			hit.Mime = v
		}
		if v, ok := h.Fields["content_hash"].(string); ok {
			hit.ContentHash = v
		}
		if frags, ok := h.Fragments["text"]; ok && len(frags) > 0 {
			hit.Fragment = frags[0]
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (b *BleveIndex) Close() error {
	return b.idx.Close()
}
