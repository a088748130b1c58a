package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/models"
)

// SQLiteChunkStore is the embedded single-node chunk store. Embeddings are little-endian
// float32 blobs; similarity is computed in process over one tenant's rows.
type SQLiteChunkStore struct {
	db *sqlx.DB
}

var _ core.ChunkStore = (*SQLiteChunkStore)(nil)

type sqliteChunkRow struct {
	ID             string `db:"id"`
	DocumentID     string `db:"document_id"`
	TenantID       string `db:"tenant_id"`
	ChunkIndex     int    `db:"chunk_index"`
	Text           string `db:"text"`
	Embedding      []byte `db:"embedding"`
	WordCount      int    `db:"word_count"`
	EmbeddingModel string `db:"embedding_model"`
	EmbeddingDim   int    `db:"embedding_dim"`
	Placeholder    bool   `db:"placeholder"`
	CreatedAt      int64  `db:"created_at"` // unix nanoseconds
}

func NewSQLiteChunkStore(path string) (*SQLiteChunkStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Concurrent writers would otherwise hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteChunkStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteChunkStore) initSchema() error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS document_chunks (
			id              TEXT PRIMARY KEY,
			document_id     TEXT NOT NULL,
			tenant_id       TEXT NOT NULL CHECK (tenant_id <> ''),
			chunk_index     INTEGER NOT NULL,
			text            TEXT NOT NULL,
			embedding       BLOB NOT NULL,
			word_count      INTEGER NOT NULL DEFAULT 0,
			embedding_model TEXT NOT NULL DEFAULT '',
			embedding_dim   INTEGER NOT NULL,
			placeholder     INTEGER NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL,
			UNIQUE (document_id, chunk_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_tenant_dim ON document_chunks (tenant_id, embedding_dim)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteChunkStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteChunkStore) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.StorageFailure("insert chunks", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO document_chunks
			(id, document_id, tenant_id, chunk_index, text, embedding, word_count,
			 embedding_model, embedding_dim, placeholder, created_at)
		VALUES
			(:id, :document_id, :tenant_id, :chunk_index, :text, :embedding, :word_count,
			 :embedding_model, :embedding_dim, :placeholder, :created_at)`)
	if err != nil {
		return core.StorageFailure("insert chunks", err)
	}
	defer stmt.Close()

	for i := range chunks {
		if _, err := stmt.ExecContext(ctx, toSQLiteRow(&chunks[i])); err != nil {
			return core.StorageFailure("insert chunks", err)
		}
	}
	return core.StorageFailure("insert chunks", tx.Commit())
}

func (s *SQLiteChunkStore) DeleteChunksByDocument(ctx context.Context, documentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, core.StorageFailure("delete chunks", err)
	}
	return rowsAffected(res, "delete chunks")
}

func (s *SQLiteChunkStore) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	var rows []sqliteChunkRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, core.StorageFailure("get chunks", err)
	}
	out := make([]models.DocumentChunk, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

func (s *SQLiteChunkStore) HasChunks(ctx context.Context, documentID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM document_chunks WHERE document_id = ?)`, documentID)
	if err != nil {
		return false, core.StorageFailure("has chunks", err)
	}
	return exists, nil
}

func (s *SQLiteChunkStore) ChunkStats(ctx context.Context) (models.ChunkStats, error) {
	var st struct {
		Chunks    int64 `db:"chunks"`
		Documents int64 `db:"documents"`
	}
	err := s.db.GetContext(ctx, &st,
		`SELECT count(*) AS chunks, count(DISTINCT document_id) AS documents FROM document_chunks`)
	if err != nil {
		return models.ChunkStats{}, core.StorageFailure("chunk stats", err)
	}
	return models.ChunkStats{TotalChunks: st.Chunks, TotalDocuments: st.Documents}, nil
}

func (s *SQLiteChunkStore) SearchChunks(ctx context.Context, tenantID, documentID string, queryVec []float32, limit int) ([]models.ChunkMatch, error) {
	if tenantID == "" {
		return nil, core.InvalidInput("search: tenant id is required")
	}
	var rows []sqliteChunkRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM document_chunks
		 WHERE tenant_id = ? AND embedding_dim = ? AND (? = '' OR document_id = ?)`,
		tenantID, len(queryVec), documentID, documentID)
	if err != nil {
		return nil, core.StorageFailure("search chunks", err)
	}
	candidates := make([]models.ChunkMatch, len(rows))
	for i := range rows {
		candidates[i] = models.ChunkMatch{DocumentChunk: rows[i].toModel()}
	}
	return rankMatches(candidates, queryVec, limit), nil
}

func (s *SQLiteChunkStore) EmbeddingDimensions(ctx context.Context, tenantID string) ([]int, error) {
	var dims []int
	err := s.db.SelectContext(ctx, &dims,
		`SELECT DISTINCT embedding_dim FROM document_chunks WHERE tenant_id = ? ORDER BY embedding_dim`, tenantID)
	if err != nil {
		return nil, core.StorageFailure("embedding dimensions", err)
	}
	return dims, nil
}

func toSQLiteRow(ch *models.DocumentChunk) sqliteChunkRow {
	created := ch.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return sqliteChunkRow{
		ID:             ch.ID,
		DocumentID:     ch.DocumentID,
		TenantID:       ch.TenantID,
		ChunkIndex:     ch.ChunkIndex,
		Text:           ch.Text,
		Embedding:      float32SliceToBytes(ch.Embedding),
		WordCount:      ch.WordCount,
		EmbeddingModel: ch.EmbeddingModel,
		EmbeddingDim:   ch.EmbeddingDim,
		Placeholder:    ch.Placeholder,
		CreatedAt:      created.UnixNano(),
	}
}

func (r *sqliteChunkRow) toModel() models.DocumentChunk {
	return models.DocumentChunk{
		ID:             r.ID,
		DocumentID:     r.DocumentID,
		TenantID:       r.TenantID,
		ChunkIndex:     r.ChunkIndex,
		Text:           r.Text,
		Embedding:      bytesToFloat32Slice(r.Embedding),
		WordCount:      r.WordCount,
		EmbeddingModel: r.EmbeddingModel,
		EmbeddingDim:   r.EmbeddingDim,
		Placeholder:    r.Placeholder,
		CreatedAt:      time.Unix(0, r.CreatedAt).UTC(),
	}
}
