package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/kbingest/internal/config"
	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/models"
)

// DatabaseClient is the Postgres + pgvector store. It backs documents, chunks and the keyword index.
type DatabaseClient struct {
	db *sql.DB
}

var (
	_ core.DocumentStore = (*DatabaseClient)(nil)
	_ core.ChunkStore    = (*DatabaseClient)(nil)
	_ core.SearchIndex   = (*DatabaseClient)(nil)
)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		// Append SSL params to the provided DATABASE_URL safely.
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// Ensure bootstrap once
	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Documents

const documentColumns = `
	id, tenant_id, user_id, file_name, storage_url, content_type, status,
	extracted_text, word_count, chunk_count, embedding_dim, error_message, processed_at,
	category, category_confidence, tags, summary, key_points, created_at, updated_at`

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return core.InvalidInput("nil document")
	}
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	const q = `
		INSERT INTO documents
			(id, tenant_id, user_id, file_name, storage_url, content_type, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`
	err := c.db.QueryRowContext(ctx, q,
		doc.ID, doc.TenantID, doc.UserID, doc.FileName, doc.StorageURL, doc.ContentType, doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	return core.StorageFailure("create document", err)
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	var (
		d           models.Document
		processedAt sql.NullTime
		tags, kps   []byte
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.TenantID, &d.UserID, &d.FileName, &d.StorageURL, &d.ContentType, &d.Status,
		&d.ExtractedText, &d.WordCount, &d.ChunkCount, &d.EmbeddingDim, &d.ErrorMessage, &processedAt,
		&d.Category, &d.CategoryConfidence, &tags, &d.Summary, &kps, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, core.StorageFailure("get document", err)
	}
	if processedAt.Valid {
		t := processedAt.Time
		d.ProcessedAt = &t
	}
	if err := decodeList(tags, &d.Tags); err != nil {
		return nil, core.StorageFailure("decode tags", err)
	}
	if err := decodeList(kps, &d.KeyPoints); err != nil {
		return nil, core.StorageFailure("decode key points", err)
	}
	return &d, nil
}

func (c *DatabaseClient) UpdateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return core.InvalidInput("nil document")
	}
	tags, err := encodeList(doc.Tags)
	if err != nil {
		return err
	}
	kps, err := encodeList(doc.KeyPoints)
	if err != nil {
		return err
	}

	const q = `
		UPDATE documents SET
			status = $2, extracted_text = $3, word_count = $4, chunk_count = $5, embedding_dim = $6,
			error_message = $7, processed_at = $8, category = $9, category_confidence = $10,
			tags = $11, summary = $12, key_points = $13, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.Status, doc.ExtractedText, doc.WordCount, doc.ChunkCount, doc.EmbeddingDim,
		doc.ErrorMessage, doc.ProcessedAt, doc.Category, doc.CategoryConfidence,
		string(tags), doc.Summary, string(kps),
	)
	if err != nil {
		return core.StorageFailure("update document", err)
	}
	return expectRow(res, doc.ID)
}

// ClaimDocument is a conditional UPDATE, so two workers racing on one document cannot both win.
func (c *DatabaseClient) ClaimDocument(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE documents
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status NOT IN ('processing', 'completed')
	`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, core.StorageFailure("claim document", err)
	}
	n, err := rowsAffected(res, "claim document")
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := c.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, core.StorageFailure("claim document", err)
	}
	if !exists {
		return false, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return false, nil
}

func (c *DatabaseClient) ResetDocument(ctx context.Context, id string) error {
	const q = `
		UPDATE documents
		SET status = 'pending', error_message = '', updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return core.StorageFailure("reset document", err)
	}
	return expectRow(res, id)
}

func (c *DatabaseClient) ListDocumentIDsByStatus(ctx context.Context, statuses []models.DocumentStatus, limit int) ([]string, error) {
	if len(statuses) == 0 || limit <= 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	const q = `
		SELECT id FROM documents
		WHERE status = ANY($1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, names, limit)
	if err != nil {
		return nil, core.StorageFailure("list documents", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, core.StorageFailure("list documents", err)
		}
		out = append(out, id)
	}
	return out, core.StorageFailure("list documents", rows.Err())
}

// Chunks

// InsertChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return core.StorageFailure("insert chunks", err)
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, tenant_id, chunk_index, text, embedding, word_count,
			 embedding_model, embedding_dim, placeholder, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return core.StorageFailure("insert chunks", err)
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.TenantID, ch.ChunkIndex, ch.Text, pgvector.NewVector(ch.Embedding),
			ch.WordCount, ch.EmbeddingModel, ch.EmbeddingDim, ch.Placeholder, ch.CreatedAt,
		); err != nil {
			_ = tx.Rollback()
			return core.StorageFailure("insert chunks", err)
		}
	}
	return core.StorageFailure("insert chunks", tx.Commit())
}

func (c *DatabaseClient) DeleteChunksByDocument(ctx context.Context, documentID string) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, core.StorageFailure("delete chunks", err)
	}
	return rowsAffected(res, "delete chunks")
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, tenant_id, chunk_index, text, embedding, word_count,
		       embedding_model, embedding_dim, placeholder, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, core.StorageFailure("get chunks", err)
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var (
			ch  models.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.TenantID, &ch.ChunkIndex, &ch.Text, &emb, &ch.WordCount,
			&ch.EmbeddingModel, &ch.EmbeddingDim, &ch.Placeholder, &ch.CreatedAt,
		); err != nil {
			return nil, core.StorageFailure("get chunks", err)
		}
		ch.Embedding = emb.Slice()
		out = append(out, ch)
	}
	return out, core.StorageFailure("get chunks", rows.Err())
}

func (c *DatabaseClient) HasChunks(ctx context.Context, documentID string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM document_chunks WHERE document_id = $1)`, documentID,
	).Scan(&exists)
	if err != nil {
		return false, core.StorageFailure("has chunks", err)
	}
	return exists, nil
}

func (c *DatabaseClient) ChunkStats(ctx context.Context) (models.ChunkStats, error) {
	var s models.ChunkStats
	err := c.db.QueryRowContext(ctx,
		`SELECT count(*), count(DISTINCT document_id) FROM document_chunks`,
	).Scan(&s.TotalChunks, &s.TotalDocuments)
	if err != nil {
		return models.ChunkStats{}, core.StorageFailure("chunk stats", err)
	}
	return s, nil
}

// SearchChunks ranks one tenant's chunks by cosine similarity. Only vectors of the
// query's dimensionality are compared; pgvector rejects mixed-length distances.
func (c *DatabaseClient) SearchChunks(ctx context.Context, tenantID, documentID string, queryVec []float32, limit int) ([]models.ChunkMatch, error) {
	if tenantID == "" {
		return nil, core.InvalidInput("search: tenant id is required")
	}
	const q = `
		SELECT id, document_id, tenant_id, chunk_index, text, word_count,
		       embedding_model, embedding_dim, placeholder, created_at,
		       1 - (embedding <=> $3) AS score
		FROM document_chunks
		WHERE tenant_id = $1 AND embedding_dim = $2
		  AND ($5 = '' OR document_id::text = $5)
		ORDER BY embedding <=> $3
		LIMIT $4
	`
	rows, err := c.db.QueryContext(ctx, q, tenantID, len(queryVec), pgvector.NewVector(queryVec), limit, documentID)
	if err != nil {
		return nil, core.StorageFailure("search chunks", err)
	}
	defer rows.Close()

	var out []models.ChunkMatch
	for rows.Next() {
		var m models.ChunkMatch
		if err := rows.Scan(
			&m.ID, &m.DocumentID, &m.TenantID, &m.ChunkIndex, &m.Text, &m.WordCount,
			&m.EmbeddingModel, &m.EmbeddingDim, &m.Placeholder, &m.CreatedAt, &m.Score,
		); err != nil {
			return nil, core.StorageFailure("search chunks", err)
		}
		out = append(out, m)
	}
	return out, core.StorageFailure("search chunks", rows.Err())
}

func (c *DatabaseClient) EmbeddingDimensions(ctx context.Context, tenantID string) ([]int, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT DISTINCT embedding_dim FROM document_chunks WHERE tenant_id = $1 ORDER BY 1`, tenantID)
	if err != nil {
		return nil, core.StorageFailure("embedding dimensions", err)
	}
	defer rows.Close()

	var dims []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, core.StorageFailure("embedding dimensions", err)
		}
		dims = append(dims, d)
	}
	return dims, core.StorageFailure("embedding dimensions", rows.Err())
}

// Keyword index

// Index weights the file name above every other field.
func (c *DatabaseClient) Index(ctx context.Context, documentID string, fields map[string]string) error {
	title := fields["file_name"]
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "file_name" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	body := make([]string, 0, len(keys))
	for _, k := range keys {
		body = append(body, fields[k])
	}

	const q = `
		UPDATE documents
		SET search_vector = setweight(to_tsvector('english', $2), 'A') ||
		                    setweight(to_tsvector('english', $3), 'B')
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, documentID, title, strings.Join(body, "\n"))
	if err != nil {
		return core.StorageFailure("index document", err)
	}
	return expectRow(res, documentID)
}

func (c *DatabaseClient) Remove(ctx context.Context, documentID string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE documents SET search_vector = NULL WHERE id = $1`, documentID)
	return core.StorageFailure("remove from index", err)
}

// rowsAffected reads the affected-row count, which some drivers cannot report.
func rowsAffected(res sql.Result, op string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.StorageFailure(op+": rows affected", err)
	}
	return n, nil
}

func expectRow(res sql.Result, id string) error {
	n, err := rowsAffected(res, "update document")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func encodeList(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	return b, nil
}

func decodeList(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
