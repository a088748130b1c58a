package ingestion_engine

import "context"

// Ingestor is what the HTTP layer drives.
type Ingestor interface {
	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, docID string) error
	Run(ctx context.Context, docID string) error
	RunBatch(ctx context.Context, limit int) (int, error)
	Reprocess(ctx context.Context, docID string) error
}

var _ Ingestor = (*Job)(nil)
