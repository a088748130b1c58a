package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/markdave123-py/kbingest/internal/config"
	"github.com/markdave123-py/kbingest/internal/core"
	db "github.com/markdave123-py/kbingest/internal/core/database"
	"github.com/markdave123-py/kbingest/internal/core/ingestion_engine"
	"github.com/markdave123-py/kbingest/internal/core/llm"
	objectclient "github.com/markdave123-py/kbingest/internal/core/object-client"
	"github.com/markdave123-py/kbingest/internal/core/retrieval"
	"github.com/markdave123-py/kbingest/internal/services"
)

// Stores groups the persistence roles. One value may fill several of them.
type Stores struct {
	Docs   core.DocumentStore
	Chunks core.ChunkStore
	Index  core.SearchIndex

	closers []io.Closer
}

func (s *Stores) Close() {
	for _, c := range s.closers {
		_ = c.Close()
	}
}

type App struct {
	Config    *config.Config
	Stores    *Stores
	Selector  *llm.Selector
	Processor *ingestion_engine.DocumentProcessor
	Job       *ingestion_engine.Job
	Retriever *retrieval.Retriever
	Documents *services.DocumentService
	Server    *Server
}

// NewLogger installs the process-wide slog handler at the configured level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	stores, err := OpenStores(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("Stores initialized (%s).", cfg.StoreDriver)

	var objects core.ObjectClient
	if cfg.UseObjectStorage() {
		s3Client, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			stores.Close()
			return nil, err
		}
		objects = s3Client
		log.Println("Object client initialized and ready.")
	} else {
		log.Printf("No S3 credentials, storing uploads under %s.", cfg.UploadDir)
	}

	selector := llm.NewSelector(cfg)
	backend, err := selector.Get(appCtx)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("couldn't initialize the ai backend: %w", err)
	}
	if !selector.AvailabilityCheck(appCtx) {
		slog.Default().Warn("ai backend unreachable at startup; embeddings will fall back to placeholders", "backend", backend.Name())
	}

	useReadability := false
	processor := ingestion_engine.NewDocumentProcessor(stores.Chunks, backend)
	extractor := ingestion_engine.NewDocconvExtractor(objects, useReadability)
	job := ingestion_engine.NewJob(stores.Docs, processor, extractor, stores.Index, backend, ingestion_engine.DefaultJobConfig())
	retriever := retrieval.NewRetriever(stores.Chunks, backend)
	documents := services.NewDocumentService(stores.Docs, objects, cfg.BucketName, cfg.UploadDir)

	a := &App{
		Config:    cfg,
		Stores:    stores,
		Selector:  selector,
		Processor: processor,
		Job:       job,
		Retriever: retriever,
		Documents: documents,
	}
	a.Server = NewServer(cfg, a)
	return a, nil
}

// OpenStores builds the persistence layer for cfg.StoreDriver.
//
//	postgres: documents, chunks and keyword index in one pgvector database
//	sqlite:   chunks in SQLite, documents and keyword index in memory
//	memory:   everything in memory
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.StoreDriver {
	case "postgres":
		client, err := db.NewDatabaseClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &Stores{Docs: client, Chunks: client, Index: client, closers: []io.Closer{client}}, nil
	case "sqlite":
		chunks, err := db.NewSQLiteChunkStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		mem := db.NewMemoryStore()
		return &Stores{Docs: mem, Chunks: chunks, Index: mem, closers: []io.Closer{chunks, mem}}, nil
	case "memory":
		mem := db.NewMemoryStore()
		return &Stores{Docs: mem, Chunks: mem, Index: mem, closers: []io.Closer{mem}}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Start launches the ingestion workers. They stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	a.Job.Start(ctx, a.Config.IngestWorkers)
	log.Printf("Started %d ingestion workers.", a.Config.IngestWorkers)
}

func (a *App) Close() {
	if err := a.Job.Wait(); err != nil {
		slog.Default().Warn("ingestion workers stopped with error", "error", err)
	}
	a.Selector.Reset()
	if a.Stores != nil {
		a.Stores.Close()
	}
}
