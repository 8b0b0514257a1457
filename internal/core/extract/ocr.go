package extract

import (
	"bytes"
	"context"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/Indexa/internal/core"
)

// OCRExtractor recognizes text in scanned images through docconv's
// tesseract-backed image path. OCR output is not deterministic across
// engine versions; downstream consistency checks hash whatever text was
// actually stored, so that nondeterminism is harmless.
type OCRExtractor struct{}

var _ core.Extractor = (*OCRExtractor)(nil)

func NewOCRExtractor() *OCRExtractor {
	return &OCRExtractor{}
}

func (e *OCRExtractor) Extract(ctx context.Context, content []byte, declaredMime string) (*core.ExtractResult, error) {
	res, err := docconv.Convert(bytes.NewReader(content), declaredMime, false)
	if err != nil {
		return nil, core.NewFailure(core.KindExtractionCrash, true, "ocr %s: %v", declaredMime, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := map[string]string{"engine": "tesseract"}
	for k, v := range res.Meta {
		meta[strings.ToLower(k)] = v
	}
	return &core.ExtractResult{Text: strings.TrimSpace(res.Body), Metadata: meta}, nil
}
