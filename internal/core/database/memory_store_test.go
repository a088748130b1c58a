package db

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/models"
)

func TestMemoryStore_ClaimIsExclusive(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.CreateDocument(ctx, &models.Document{ID: "d1"}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.ClaimDocument(ctx, "d1")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())

	d, err := m.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, d.Status)
}

func TestMemoryStore_ClaimSkipsCompleted(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.CreateDocument(ctx, &models.Document{ID: "d1", Status: models.StatusCompleted}))

	ok, err := m.ClaimDocument(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.ClaimDocument(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryStore_UpdateKeepsTenant(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.CreateDocument(ctx, &models.Document{ID: "d1", TenantID: "t1"}))

	now := time.Now().UTC()
	require.NoError(t, m.UpdateDocument(ctx, &models.Document{
		ID: "d1", TenantID: "other", Status: models.StatusCompleted, ProcessedAt: &now, Tags: []string{"x"},
	}))

	d, err := m.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "t1", d.TenantID)
	assert.Equal(t, models.StatusCompleted, d.Status)
	require.NotNil(t, d.ProcessedAt)
	assert.True(t, now.Equal(*d.ProcessedAt))

	d.Tags[0] = "mutated"
	again, err := m.GetDocumentByID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, again.Tags)
}

func TestMemoryStore_ResetAndList(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	for _, d := range []*models.Document{
		{ID: "a", Status: models.StatusPending},
		{ID: "b", Status: models.StatusFailed, ErrorMessage: "boom"},
		{ID: "c", Status: models.StatusCompleted},
	} {
		require.NoError(t, m.CreateDocument(ctx, d))
	}

	ids, err := m.ListDocumentIDsByStatus(ctx, []models.DocumentStatus{models.StatusPending, models.StatusFailed}, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	ids, err = m.ListDocumentIDsByStatus(ctx, []models.DocumentStatus{models.StatusPending, models.StatusFailed}, 1)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	require.NoError(t, m.ResetDocument(ctx, "b"))
	d, err := m.GetDocumentByID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, d.Status)
	assert.Empty(t, d.ErrorMessage)

	assert.ErrorIs(t, m.ResetDocument(ctx, "zzz"), core.ErrNotFound)
}

func TestMemoryStore_Index(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.CreateDocument(ctx, &models.Document{ID: "d1"}))

	require.NoError(t, m.Index(ctx, "d1", map[string]string{"content": "hello"}))
	f, ok := m.IndexedFields("d1")
	require.True(t, ok)
	assert.Equal(t, "hello", f["content"])

	require.NoError(t, m.Remove(ctx, "d1"))
	_, ok = m.IndexedFields("d1")
	assert.False(t, ok)

	assert.ErrorIs(t, m.Index(ctx, "missing", nil), core.ErrNotFound)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestFloat32Blob(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	assert.Equal(t, v, bytesToFloat32Slice(float32SliceToBytes(v)))
	assert.Nil(t, float32SliceToBytes(nil))
}
