package models

import (
	"time"
)

// DocumentStatus tracks where a document is in the ingestion pipeline.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Document represents an uploaded document and the fields the ingestion job fills in.
type Document struct {
	ID                 string         `db:"id" json:"id"`
	TenantID           string         `db:"tenant_id" json:"tenant_id,omitempty"` // empty means no tenant; never chunked
	UserID             string         `db:"user_id" json:"user_id"`
	FileName           string         `db:"file_name" json:"file_name"`
	StorageURL         string         `db:"storage_url" json:"storage_url"` // S3 URL or local path
	ContentType        string         `db:"content_type" json:"content_type"`
	Status             DocumentStatus `db:"status" json:"status"`
	ExtractedText      string         `db:"extracted_text" json:"-"`
	WordCount          int            `db:"word_count" json:"word_count"`
	ChunkCount         int            `db:"chunk_count" json:"chunk_count"`
	EmbeddingDim       int            `db:"embedding_dim" json:"embedding_dim"`
	ErrorMessage       string         `db:"error_message" json:"error_message,omitempty"`
	ProcessedAt        *time.Time     `db:"processed_at" json:"processed_at,omitempty"`
	Category           string         `db:"category" json:"category,omitempty"`
	CategoryConfidence float64        `db:"category_confidence" json:"category_confidence,omitempty"`
	Tags               []string       `db:"tags" json:"tags,omitempty"`
	Summary            string         `db:"summary" json:"summary,omitempty"`
	KeyPoints          []string       `db:"key_points" json:"key_points,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one text chunk from a document.
type DocumentChunk struct {
	ID             string    `db:"id" json:"id"`
	DocumentID     string    `db:"document_id" json:"document_id"`
	TenantID       string    `db:"tenant_id" json:"tenant_id"`
	ChunkIndex     int       `db:"chunk_index" json:"chunk_index"`
	Text           string    `db:"text" json:"text"`
	Embedding      []float32 `db:"embedding" json:"embedding,omitempty"` // pgvector column
	WordCount      int       `db:"word_count" json:"word_count"`
	EmbeddingModel string    `db:"embedding_model" json:"embedding_model"`
	EmbeddingDim   int       `db:"embedding_dim" json:"embedding_dim"`
	Placeholder    bool      `db:"placeholder" json:"placeholder,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ChunkMatch is a chunk returned by similarity search together with its score (cosine similarity).
type ChunkMatch struct {
	DocumentChunk
	Score float64 `json:"score"`
}

// ProcessingResult summarises one (re)processing run of a document.
type ProcessingResult struct {
	DocumentID      string        `json:"document_id"`
	ChunksCreated   int           `json:"chunks_created"`
	TotalWords      int           `json:"total_words"`
	Elapsed         time.Duration `json:"elapsed"`
	EmbeddingDim    int           `json:"embedding_dim"`
	EmbeddingModel  string        `json:"embedding_model"`
	UsedPlaceholder bool          `json:"used_placeholder"`
}

// ChunkStats is the global chunk store summary.
type ChunkStats struct {
	TotalChunks    int64 `json:"total_chunks"`
	TotalDocuments int64 `json:"total_documents"`
}
