package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Job statuses.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

const defaultMaxRetries = 3

// ProcessingJob tracks thumbnail normalisation for one media record.
type ProcessingJob struct {
	ID              int64
	MediaID         int64
	Status          string
	RetryCount      int
	MaxRetries      int
	ErrorMessage    string
	ThumbnailWidth  int
	ThumbnailHeight int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

const jobColumns = `
	id, media_id, status, retry_count, max_retries, error_message,
	thumbnail_width, thumbnail_height, created_at, updated_at, completed_at`

func (p *DB) CreateProcessingJob(ctx context.Context, mediaID int64) (int64, error) {
	now := toMillis(time.Now())
	query := `
		INSERT INTO processing_jobs (media_id, status, max_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	var id int64
	err := p.db.QueryRowContext(ctx, p.rebind(query), mediaID, JobPending, defaultMaxRetries, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert processing job: %w", err)
	}
	return id, nil
}

// ClaimPendingJobs marks up to limit pending jobs as processing and returns
// them, oldest first.
func (p *DB) ClaimPendingJobs(ctx context.Context, limit int) ([]*ProcessingJob, error) {
	var jobs []*ProcessingJob
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		selectQuery := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE status = ? ORDER BY created_at, id LIMIT ?`
		if p.dialect == Postgres {
			selectQuery += ` FOR UPDATE SKIP LOCKED`
		}
		rows, err := tx.QueryContext(ctx, p.rebind(selectQuery), JobPending, limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			job, err := scanJob(rows)
			if err != nil {
				rows.Close()
				return err
			}
			jobs = append(jobs, job)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		now := time.Now().UTC()
		for _, job := range jobs {
			_, err := tx.ExecContext(ctx,
				p.rebind(`UPDATE processing_jobs SET status = ?, updated_at = ? WHERE id = ?`),
				JobProcessing, toMillis(now), job.ID,
			)
			if err != nil {
				return err
			}
			job.Status = JobProcessing
			job.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	return jobs, nil
}

// FailJob records an error. The job goes back to pending while it has
// retries left.
func (p *DB) FailJob(ctx context.Context, jobID int64, errorMsg string) error {
	query := `
		UPDATE processing_jobs
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN ? ELSE ? END,
		    error_message = ?,
		    updated_at = ?
		WHERE id = ?
	`
	_, err := p.db.ExecContext(ctx, p.rebind(query), JobFailed, JobPending, errorMsg, toMillis(time.Now()), jobID)
	return err
}

func (p *DB) CompleteJob(ctx context.Context, jobID int64, width, height int) error {
	now := toMillis(time.Now())
	query := `
		UPDATE processing_jobs
		SET status = ?, thumbnail_width = ?, thumbnail_height = ?, error_message = '', updated_at = ?, completed_at = ?
		WHERE id = ?
	`
	_, err := p.db.ExecContext(ctx, p.rebind(query), JobCompleted, width, height, now, now, jobID)
	return err
}

// GetJobByMediaID returns the newest job for a media record.
func (p *DB) GetJobByMediaID(ctx context.Context, mediaID int64) (*ProcessingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE media_id = ? ORDER BY id DESC LIMIT 1`
	job, err := scanJob(p.db.QueryRowContext(ctx, p.rebind(query), mediaID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func scanJob(row rowScanner) (*ProcessingJob, error) {
	var (
		job              ProcessingJob
		created, updated int64
		completed        sql.NullInt64
	)
	err := row.Scan(
		&job.ID,
		&job.MediaID,
		&job.Status,
		&job.RetryCount,
		&job.MaxRetries,
		&job.ErrorMessage,
		&job.ThumbnailWidth,
		&job.ThumbnailHeight,
		&created,
		&updated,
		&completed,
	)
	if err != nil {
		return nil, err
	}
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	if completed.Valid {
		t := fromMillis(completed.Int64)
		job.CompletedAt = &t
	}
	return &job, nil
}
