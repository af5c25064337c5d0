package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/database"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobStore is the persistence the worker needs. *database.DB implements it.
type JobStore interface {
	ClaimPendingJobs(ctx context.Context, limit int) ([]*database.ProcessingJob, error)
	GetMedia(ctx context.Context, id int64) (*models.Media, error)
	SetThumbnail(ctx context.Context, id int64, from, to string, width, height *int32) error
	CompleteJob(ctx context.Context, jobID int64, width, height int) error
	FailJob(ctx context.Context, jobID int64, errorMsg string) error
}

// JobMetrics counts finished jobs by status.
type JobMetrics interface {
	JobFinished(status string)
}

type WorkerConfig struct {
	Store             JobStore
	Files             storage.Backend
	Logger            *zap.Logger
	Metrics           JobMetrics
	PollInterval      time.Duration
	ShutdownTimeout   time.Duration
	Concurrency       int
	MaxThumbnailWidth int
}

// ProcessingWorker polls for pending thumbnail jobs.
type ProcessingWorker struct {
	config    *WorkerConfig
	processor *ImageProcessor
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewProcessingWorker(config *WorkerConfig) *ProcessingWorker {
	if config.PollInterval == 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 2
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &ProcessingWorker{
		config:    config,
		processor: NewImageProcessor(config.Files, config.MaxThumbnailWidth),
		done:      make(chan struct{}),
	}
}

func (pw *ProcessingWorker) Start(ctx context.Context) {
	pw.wg.Add(1)
	go pw.run(ctx)
	pw.config.Logger.Info("processing worker started",
		zap.Duration("poll_interval", pw.config.PollInterval),
		zap.Int("concurrency", pw.config.Concurrency),
	)
}

// Stop signals the loop and waits up to ShutdownTimeout for the current
// batch to finish.
func (pw *ProcessingWorker) Stop() {
	pw.stopOnce.Do(func() { close(pw.done) })

	finished := make(chan struct{})
	go func() {
		pw.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		pw.config.Logger.Info("processing worker stopped")
	case <-time.After(pw.config.ShutdownTimeout):
		pw.config.Logger.Warn("processing worker did not stop in time")
	}
}

func (pw *ProcessingWorker) run(ctx context.Context) {
	defer pw.wg.Done()
	ticker := time.NewTicker(pw.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pw.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := pw.ProcessBatch(ctx); err != nil {
				pw.config.Logger.Error("error claiming jobs", zap.Error(err))
			}
		}
	}
}

// ProcessBatch claims up to Concurrency jobs and runs them in parallel. It
// returns how many jobs were claimed.
func (pw *ProcessingWorker) ProcessBatch(ctx context.Context) (int, error) {
	jobs, err := pw.config.Store.ClaimPendingJobs(ctx, pw.config.Concurrency)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pw.config.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			pw.process(gctx, job)
			return nil
		})
	}
	return len(jobs), g.Wait()
}

func (pw *ProcessingWorker) process(ctx context.Context, job *database.ProcessingJob) {
	log := pw.config.Logger.With(zap.Int64("job_id", job.ID), zap.Int64("media_id", job.MediaID))
	log.Info("processing job")

	m, err := pw.config.Store.GetMedia(ctx, job.MediaID)
	if err != nil {
		pw.fail(ctx, log, job, err)
		return
	}
	if !m.HasThumbnail() {
		pw.complete(ctx, log, job, 0, 0)
		return
	}

	thumb, err := pw.processor.Normalize(ctx, m.Thumbnail)
	if err != nil {
		pw.fail(ctx, log, job, err)
		return
	}

	var width, height *int32
	if m.Kind == models.KindVideo {
		w, h := int32(thumb.SourceWidth), int32(thumb.SourceHeight)
		width, height = &w, &h
	}
	if err := pw.config.Store.SetThumbnail(ctx, m.ID, m.Thumbnail, thumb.Name, width, height); err != nil {
		if thumb.Name != m.Thumbnail {
			if delErr := pw.config.Files.Delete(ctx, thumb.Name); delErr != nil {
				log.Warn("failed to remove unused thumbnail", zap.String("file", thumb.Name), zap.Error(delErr))
			}
		}
		if errors.Is(err, database.ErrThumbnailChanged) {
			// The edit that replaced it queued its own job.
			log.Info("thumbnail replaced while processing", zap.String("file", m.Thumbnail))
			pw.complete(ctx, log, job, 0, 0)
			return
		}
		pw.fail(ctx, log, job, err)
		return
	}
	if thumb.Name != m.Thumbnail {
		if err := pw.config.Files.Delete(ctx, m.Thumbnail); err != nil {
			log.Warn("failed to remove original thumbnail", zap.String("file", m.Thumbnail), zap.Error(err))
		}
	}

	pw.complete(ctx, log, job, thumb.Width, thumb.Height)
}

func (pw *ProcessingWorker) complete(ctx context.Context, log *zap.Logger, job *database.ProcessingJob, width, height int) {
	if err := pw.config.Store.CompleteJob(ctx, job.ID, width, height); err != nil {
		log.Error("failed to save job results", zap.Error(err))
		return
	}
	pw.observe(database.JobCompleted)
	log.Info("completed job", zap.Int("thumbnail_width", width), zap.Int("thumbnail_height", height))
}

func (pw *ProcessingWorker) fail(ctx context.Context, log *zap.Logger, job *database.ProcessingJob, cause error) {
	if errors.Is(cause, database.ErrNotFound) {
		log.Warn("media no longer exists")
	} else {
		log.Error("job failed", zap.Error(cause))
	}
	if err := pw.config.Store.FailJob(ctx, job.ID, cause.Error()); err != nil {
		log.Error("failed to record job failure", zap.Error(err))
		return
	}
	pw.observe(database.JobFailed)
}

func (pw *ProcessingWorker) observe(status string) {
	if pw.config.Metrics != nil {
		pw.config.Metrics.JobFinished(status)
	}
}
