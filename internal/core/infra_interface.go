package core

import (
	"context"
	"io"

	"github.com/markdave123-py/kbingest/internal/models"
)

// DocumentStore is the persistence boundary for document records the ingestion job mutates.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	// UpdateDocument persists status, extracted text, error and derived AI fields.
	UpdateDocument(ctx context.Context, doc *models.Document) error
	// ClaimDocument atomically moves a document into processing unless it is
	// already processing or completed. It reports whether the claim succeeded.
	ClaimDocument(ctx context.Context, id string) (bool, error)
	// ResetDocument puts a document back to pending and clears its error.
	ResetDocument(ctx context.Context, id string) error
	ListDocumentIDsByStatus(ctx context.Context, statuses []models.DocumentStatus, limit int) ([]string, error)
}

// ChunkStore is the tenant-partitioned chunk collection.
type ChunkStore interface {
	InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error
	DeleteChunksByDocument(ctx context.Context, documentID string) (int64, error)
	// GetChunksByDocument returns chunks ordered by chunk index ascending.
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	HasChunks(ctx context.Context, documentID string) (bool, error)
	ChunkStats(ctx context.Context) (models.ChunkStats, error)

	// SearchChunks finds the top-k chunks of a single tenant closest to queryVec.
	// A non-empty documentID narrows the search to that document.
	SearchChunks(ctx context.Context, tenantID, documentID string, queryVec []float32, limit int) ([]models.ChunkMatch, error)
	// EmbeddingDimensions lists the distinct embedding dimensions stored for a tenant.
	EmbeddingDimensions(ctx context.Context, tenantID string) ([]int, error)
}

// SearchIndex is the keyword index. Both calls are best-effort from the pipeline's view.
type SearchIndex interface {
	Index(ctx context.Context, documentID string, fields map[string]string) error
	Remove(ctx context.Context, documentID string) error
}

// ExtractResult is the output of text extraction.
type ExtractResult struct {
	Text      string
	WordCount int
	MimeType  string
}

// TextExtractor turns a stored file into plain text.
type TextExtractor interface {
	Supports(mimeType string) bool
	// Extract fails with ErrNotFound when the file is missing and ErrUnsupportedType
	// when no extractor handles mimeType.
	Extract(ctx context.Context, filePath, mimeType string) (*ExtractResult, error)
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	// GetFile fails with ErrNotFound when the object does not exist.
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
