package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/markdave123-py/Indexa/internal/core"
)

// DjvuExtractor shells out to djvutxt, the DjVuLibre text extractor. The
// tool only reads from a file path, so the bytes are staged in a temp file
// for the duration of the call.
type DjvuExtractor struct {
	binary string
}

var _ core.Extractor = (*DjvuExtractor)(nil)

func NewDjvuExtractor(binary string) *DjvuExtractor {
	if binary == "" {
		binary = "djvutxt"
	}
	return &DjvuExtractor{binary: binary}
}

func (e *DjvuExtractor) Extract(ctx context.Context, content []byte, declaredMime string) (*core.ExtractResult, error) {
	f, err := os.CreateTemp("", "indexa-*.djvu")
	if err != nil {
		return nil, core.NewFailure(core.KindExtractionCrash, true, "djvu temp file: %v", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(content); err != nil {
		f.Close()
		return nil, core.NewFailure(core.KindExtractionCrash, true, "djvu temp write: %v", err)
	}
	if err := f.Close(); err != nil {
		return nil, core.NewFailure(core.KindExtractionCrash, true, "djvu temp close: %v", err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, f.Name())
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, core.NewFailure(core.KindExtractionCrash, true, "djvutxt: %s", detail)
	}

	return &core.ExtractResult{
		Text:     strings.TrimSpace(stdout.String()),
		Metadata: map[string]string{"converter": "djvutxt"},
	}, nil
}

// Available reports whether the djvutxt binary can be found, for startup
// diagnostics.
func (e *DjvuExtractor) Available() error {
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("djvutxt not found: %w", err)
	}
	return nil
}
