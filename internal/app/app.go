package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/markdave123-py/Indexa/internal/config"
	"github.com/markdave123-py/Indexa/internal/core"
	db "github.com/markdave123-py/Indexa/internal/core/database"
	"github.com/markdave123-py/Indexa/internal/core/extract"
	objectclient "github.com/markdave123-py/Indexa/internal/core/object-client"
	"github.com/markdave123-py/Indexa/internal/core/pipeline"
	"github.com/markdave123-py/Indexa/internal/core/queue"
	"github.com/markdave123-py/Indexa/internal/core/searchindex"
	"github.com/markdave123-py/Indexa/pkg/logger"
)

type App struct {
	Store   core.DocumentStore
	Objects core.ObjectClient
	Queue   core.TaskQueue
	Index   core.SearchIndex
	Coord   *pipeline.Coordinator
	Workers *pipeline.WorkerPool
	Server  *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	store, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	logger.Info(ctx, "database initialized and ready")

	objects, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object storage: %w", err)
	}
	logger.Info(ctx, "object client initialized and ready")

	var taskQueue core.TaskQueue
	if cfg.AmqpURL != "" {
		taskQueue, err = queue.NewAmqpQueue(cfg.AmqpURL, cfg.QueueName, cfg.WorkerCount)
		if err != nil {
			return nil, fmt.Errorf("amqp queue: %w", err)
		}
		logger.Info(ctx, "broker queue connected", "queue", cfg.QueueName)
	} else {
		taskQueue = queue.NewMemoryQueue(cfg.PollTimeout)
		logger.Info(ctx, "in-process queue active")
	}

	index, err := searchindex.NewBleveIndex(cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	registry := extract.DefaultRegistry(cfg.ExtractTimeout)
	coord := pipeline.NewCoordinator(store, index, taskQueue)
	workers := pipeline.NewWorkerPool(coord, store, taskQueue, objects, registry, pipeline.WorkerConfig{
		Workers:      cfg.WorkerCount,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		Bucket:       cfg.BucketName,
	})

	server := NewServer(cfg, store, objects, index, coord)

	return &App{
		Store:   store,
		Objects: objects,
		Queue:   taskQueue,
		Index:   index,
		Coord:   coord,
		Workers: workers,
		Server:  server,
	}, nil
}

func (a *App) Close() {
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	if a.Index != nil {
		_ = a.Index.Close()
	}
	if c, ok := a.Store.(io.Closer); ok {
		_ = c.Close()
	}
}
