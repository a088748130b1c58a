package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/models"
)

// MemoryStore keeps documents, chunks and the keyword index in process memory.
// It serves STORE_DRIVER=memory and the package tests of the pipeline.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*models.Document
	chunks map[string][]models.DocumentChunk // by document id, index ascending
	index  map[string]map[string]string
}

var (
	_ core.DocumentStore = (*MemoryStore)(nil)
	_ core.ChunkStore    = (*MemoryStore)(nil)
	_ core.SearchIndex   = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*models.Document),
		chunks: make(map[string][]models.DocumentChunk),
		index:  make(map[string]map[string]string),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return core.InvalidInput("document id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return core.StorageFailure("create document", fmt.Errorf("duplicate id %s", doc.ID))
	}
	now := time.Now().UTC()
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	doc.CreatedAt, doc.UpdatedAt = now, now
	m.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (m *MemoryStore) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return cloneDocument(d), nil
}

func (m *MemoryStore) UpdateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return core.InvalidInput("nil document")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[doc.ID]
	if !ok {
		return fmt.Errorf("document %s: %w", doc.ID, core.ErrNotFound)
	}
	next := cloneDocument(doc)
	next.TenantID, next.UserID, next.CreatedAt = cur.TenantID, cur.UserID, cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	m.docs[doc.ID] = next
	return nil
}

func (m *MemoryStore) ClaimDocument(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return false, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if d.Status == models.StatusProcessing || d.Status == models.StatusCompleted {
		return false, nil
	}
	d.Status = models.StatusProcessing
	d.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) ResetDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	d.Status = models.StatusPending
	d.ErrorMessage = ""
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListDocumentIDsByStatus(_ context.Context, statuses []models.DocumentStatus, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	want := make(map[models.DocumentStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	m.mu.RLock()
	matched := make([]*models.Document, 0, len(m.docs))
	for _, d := range m.docs {
		if want[d.Status] {
			matched = append(matched, d)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	ids := make([]string, len(matched))
	for i, d := range matched {
		ids[i] = d.ID
	}
	return ids, nil
}

func (m *MemoryStore) InsertChunks(_ context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range chunks {
		for _, existing := range m.chunks[ch.DocumentID] {
			if existing.ChunkIndex == ch.ChunkIndex {
				return core.StorageFailure("insert chunks",
					fmt.Errorf("duplicate chunk %d for document %s", ch.ChunkIndex, ch.DocumentID))
			}
		}
	}
	for _, ch := range chunks {
		ch.Embedding = append([]float32(nil), ch.Embedding...)
		m.chunks[ch.DocumentID] = append(m.chunks[ch.DocumentID], ch)
	}
	for _, ch := range chunks {
		list := m.chunks[ch.DocumentID]
		sort.SliceStable(list, func(i, j int) bool { return list[i].ChunkIndex < list[j].ChunkIndex })
	}
	return nil
}

func (m *MemoryStore) DeleteChunksByDocument(_ context.Context, documentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.chunks[documentID])
	delete(m.chunks, documentID)
	return int64(n), nil
}

func (m *MemoryStore) GetChunksByDocument(_ context.Context, documentID string) ([]models.DocumentChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.chunks[documentID]
	out := make([]models.DocumentChunk, len(src))
	for i, ch := range src {
		ch.Embedding = append([]float32(nil), ch.Embedding...)
		out[i] = ch
	}
	return out, nil
}

func (m *MemoryStore) HasChunks(_ context.Context, documentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[documentID]) > 0, nil
}

func (m *MemoryStore) ChunkStats(_ context.Context) (models.ChunkStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s models.ChunkStats
	for _, list := range m.chunks {
		if len(list) == 0 {
			continue
		}
		s.TotalDocuments++
		s.TotalChunks += int64(len(list))
	}
	return s, nil
}

func (m *MemoryStore) SearchChunks(_ context.Context, tenantID, documentID string, queryVec []float32, limit int) ([]models.ChunkMatch, error) {
	if tenantID == "" {
		return nil, core.InvalidInput("search: tenant id is required")
	}
	m.mu.RLock()
	var candidates []models.ChunkMatch
	for docID, list := range m.chunks {
		if documentID != "" && docID != documentID {
			continue
		}
		for _, ch := range list {
			if ch.TenantID != tenantID || len(ch.Embedding) != len(queryVec) {
				continue
			}
			candidates = append(candidates, models.ChunkMatch{DocumentChunk: ch})
		}
	}
	m.mu.RUnlock()

	return rankMatches(candidates, queryVec, limit), nil
}

func (m *MemoryStore) EmbeddingDimensions(_ context.Context, tenantID string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[int]bool)
	for _, list := range m.chunks {
		for _, ch := range list {
			if ch.TenantID == tenantID {
				seen[ch.EmbeddingDim] = true
			}
		}
	}
	dims := make([]int, 0, len(seen))
	for d := range seen {
		dims = append(dims, d)
	}
	sort.Ints(dims)
	return dims, nil
}

func (m *MemoryStore) Index(_ context.Context, documentID string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		return fmt.Errorf("document %s: %w", documentID, core.ErrNotFound)
	}
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.index[documentID] = cp
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.index, documentID)
	return nil
}

// IndexedFields returns what Index last stored for a document.
func (m *MemoryStore) IndexedFields(documentID string) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.index[documentID]
	return f, ok
}

func cloneDocument(d *models.Document) *models.Document {
	cp := *d
	cp.Tags = append([]string(nil), d.Tags...)
	cp.KeyPoints = append([]string(nil), d.KeyPoints...)
	if d.ProcessedAt != nil {
		t := *d.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}
