package extract

import (
	"bytes"
	"context"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/Indexa/internal/core"
)

// DocconvExtractor handles office formats, HTML, RTF and plain text through
// sajari/docconv's native converters.
type DocconvExtractor struct{}

var _ core.Extractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor() *DocconvExtractor {
	return &DocconvExtractor{}
}

func (e *DocconvExtractor) Extract(ctx context.Context, content []byte, declaredMime string) (*core.ExtractResult, error) {
	res, err := docconv.Convert(bytes.NewReader(content), declaredMime, false)
	if err != nil {
		return nil, core.NewFailure(core.KindExtractionCrash, true, "docconv %s: %v", declaredMime, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(res.Body)
	meta := map[string]string{}
	for k, v := range res.Meta {
		meta[strings.ToLower(k)] = v
	}
	return &core.ExtractResult{Text: text, Metadata: meta}, nil
}
