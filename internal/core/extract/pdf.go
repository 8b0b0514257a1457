package extract

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/markdave123-py/Indexa/internal/core"
)

// PDFExtractor extracts text from PDFs via docconv (pdftotext) and reads
// the page count with pdfcpu so the index can facet on it.
type PDFExtractor struct {
	conf *model.Configuration
}

var _ core.Extractor = (*PDFExtractor)(nil)

func NewPDFExtractor() *PDFExtractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDFExtractor{conf: conf}
}

func (e *PDFExtractor) Extract(ctx context.Context, content []byte, declaredMime string) (*core.ExtractResult, error) {
	res, err := docconv.Convert(bytes.NewReader(content), declaredMime, false)
	if err != nil {
		return nil, core.NewFailure(core.KindExtractionCrash, true, "pdf text extraction: %v", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := map[string]string{}
	for k, v := range res.Meta {
		meta[strings.ToLower(k)] = v
	}

	// Page count failure is not fatal; the text already extracted fine.
	if pages, err := api.PageCount(bytes.NewReader(content), e.conf); err == nil {
		meta["page_count"] = strconv.Itoa(pages)
	}

	return &core.ExtractResult{Text: strings.TrimSpace(res.Body), Metadata: meta}, nil
}
