package service

import (
	"context"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/api/mediav1"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/database"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/media"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxUploadBytes       = 512 << 20
	defaultMaxConcurrentUploads = 8
	maxThumbnailBytes           = 10 << 20
	chunkSize                   = 64 * 1024
)

// MediaServer implements mediav1.MediaServiceServer on top of media.Manager.
type MediaServer struct {
	mediav1.UnimplementedMediaServiceServer

	manager        *media.Manager
	users          middleware.UserStore
	jobs           JobLookup
	uploadSem      *semaphore.Weighted
	maxUploadBytes int64
	logger         *zap.Logger
}

// JobLookup reports thumbnail processing state.
type JobLookup interface {
	GetJobByMediaID(ctx context.Context, mediaID int64) (*database.ProcessingJob, error)
}

type Config struct {
	MaxUploadBytes       int64
	MaxConcurrentUploads int64
}

func NewMediaServer(manager *media.Manager, users middleware.UserStore, jobs JobLookup, cfg Config, logger *zap.Logger) *MediaServer {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = defaultMaxConcurrentUploads
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaServer{
		manager:        manager,
		users:          users,
		jobs:           jobs,
		uploadSem:      semaphore.NewWeighted(cfg.MaxConcurrentUploads),
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         logger,
	}
}
