package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/core/chunker"
	objectclient "github.com/markdave123-py/kbingest/internal/core/object-client"
)

// docconvTypes are the content types handed to docconv.
var docconvTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.oasis.opendocument.text":                                 true,
	"application/vnd.apple.pages":                                             true,
	"application/rtf":                                                         true,
	"text/rtf":                                                                true,
	"text/html":                                                               true,
	"application/xhtml+xml":                                                   true,
	"text/xml":                                                                true,
	"application/xml":                                                         true,
}

// plainTypes are read as-is.
var plainTypes = map[string]bool{
	"text/plain":    true,
	"text/markdown": true,
	"text/csv":      true,
}

// DocconvExtractor implements core.TextExtractor using sajari/docconv.
// Paths that are S3 object URLs are fetched through obj; anything else is a local file.
type DocconvExtractor struct {
	obj            core.ObjectClient
	useReadability bool
	logger         *slog.Logger
}

var _ core.TextExtractor = (*DocconvExtractor)(nil)

// NewDocconvExtractor accepts a nil obj when documents only live on local disk.
func NewDocconvExtractor(obj core.ObjectClient, useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{
		obj:            obj,
		useReadability: useReadability,
		logger:         slog.Default().With("component", "extractor"),
	}
}

func (e *DocconvExtractor) Supports(mimeType string) bool {
	mt := normalizeMime(mimeType)
	return docconvTypes[mt] || plainTypes[mt]
}

func (e *DocconvExtractor) Extract(ctx context.Context, filePath, mimeType string) (*core.ExtractResult, error) {
	mt := normalizeMime(mimeType)
	if !e.Supports(mt) {
		return nil, fmt.Errorf("%q: %w", mimeType, core.ErrUnsupportedType)
	}

	data, err := e.read(ctx, filePath)
	if err != nil {
		return nil, err
	}

	var text string
	if plainTypes[mt] {
		text = string(data)
	} else {
		res, err := docconv.Convert(bytes.NewReader(data), mt, e.useReadability)
		if err != nil {
			return nil, fmt.Errorf("docconv %s: %w", mt, err)
		}
		text = res.Body
	}
	text = strings.TrimSpace(text)

	e.logger.Debug("text extracted", "path", filePath, "mime", mt, "bytes", len(data), "chars", len(text))
	return &core.ExtractResult{
		Text:      text,
		WordCount: chunker.WordCount(text),
		MimeType:  mt,
	}, nil
}

func (e *DocconvExtractor) read(ctx context.Context, filePath string) ([]byte, error) {
	if bucket, key, ok := objectclient.ParseObjectURL(filePath); ok {
		if e.obj == nil {
			return nil, fmt.Errorf("read %s: no object storage configured", filePath)
		}
		data, err := e.obj.GetFile(ctx, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", filePath, err)
		}
		return data, nil
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file %s: %w", filePath, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filePath, err)
	}
	return data, nil
}

func normalizeMime(m string) string {
	mt, _, err := mime.ParseMediaType(m)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(m))
	}
	return mt
}
