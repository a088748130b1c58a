package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/kbingest/internal/core"
	"github.com/markdave123-py/kbingest/internal/models"
)

// DocumentService owns document records and their stored files.
// With a nil object client files are written under localDir instead of S3.
type DocumentService struct {
	docs     core.DocumentStore
	storage  core.ObjectClient
	bucket   string
	localDir string
	now      func() time.Time
	logger   *slog.Logger
}

func NewDocumentService(docs core.DocumentStore, storage core.ObjectClient, bucket, localDir string) *DocumentService {
	return &DocumentService{
		docs:     docs,
		storage:  storage,
		bucket:   bucket,
		localDir: localDir,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default().With("component", "document_service"),
	}
}

// Upload stores the file and creates a pending document for tenantID.
func (s *DocumentService) Upload(ctx context.Context, tenantID, userID, filename, contentType string, data io.Reader) (*models.Document, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, core.InvalidInput("tenant id is required")
	}
	filename = cleanFilename(filename)
	if filename == "" {
		return nil, core.InvalidInput("file name is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	docID := uuid.NewString()
	key := objectKey(tenantID, docID, filename)

	location, err := s.store(ctx, key, data, contentType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	doc := &models.Document{
		ID:          docID,
		TenantID:    tenantID,
		UserID:      userID,
		FileName:    filename,
		StorageURL:  location,
		ContentType: contentType,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		s.logger.Error("document insert failed, removing stored file", "document_id", docID, "error", err)
		s.discard(ctx, key, location)
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.logger.Info("document uploaded", "document_id", docID, "tenant_id", tenantID, "content_type", contentType)
	return doc, nil
}

// Get returns the document only when it belongs to tenantID. Other tenants see ErrNotFound.
func (s *DocumentService) Get(ctx context.Context, tenantID, id string) (*models.Document, error) {
	doc, err := s.docs.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.TenantID != tenantID {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return doc, nil
}

func (s *DocumentService) store(ctx context.Context, key string, data io.Reader, contentType string) (string, error) {
	if s.storage != nil {
		url, err := s.storage.UploadFile(ctx, s.bucket, key, data, contentType)
		if err != nil {
			return "", fmt.Errorf("upload failed: %w", err)
		}
		return url, nil
	}

	dst := filepath.Join(s.localDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", core.StorageFailure("create upload dir", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", core.StorageFailure("create upload file", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, data); err != nil {
		return "", core.StorageFailure("write upload file", err)
	}
	return dst, nil
}

func (s *DocumentService) discard(ctx context.Context, key, location string) {
	var err error
	if s.storage != nil {
		err = s.storage.DeleteFile(context.WithoutCancel(ctx), s.bucket, key)
	} else {
		err = os.Remove(location)
	}
	if err != nil {
		s.logger.Warn("could not remove orphaned upload", "key", key, "error", err)
	}
}

// objectKey creates a consistent storage key layout.
func objectKey(tenantID, docID, filename string) string {
	return path.Join("tenants", tenantID, "documents", docID, filename)
}

func cleanFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == `\` {
		return ""
	}
	return strings.ReplaceAll(name, " ", "_")
}
