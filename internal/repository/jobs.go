package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/waqarahm3d/qoqnuzmedia/internal/entity"
)

// JobRepository persists jobs. All mutating queries are guarded by the
// current status (and attempt id where relevant), so the first writer wins
// and lost updates cannot occur even if two writers race.
type JobRepository struct {
	store *Store
}

// ListFilter narrows and pages a job listing.
type ListFilter struct {
	OwnerKey string
	Status   *entity.JobStatus
	Platform *entity.SourcePlatform
	Limit    int
	Offset   int
}

// Create inserts a new pending job record.
func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	query := r.store.qb.Insert("jobs").
		Columns("id", "platform", "selection_mode", "url", "status",
			"attempt_id", "owner_key", "processing", "retry_count",
			"created_at", "updated_at").
		Values(job.ID, job.Platform, job.SelectionMode, job.URL, job.Status,
			job.AttemptID, job.OwnerKey, job.Processing, job.RetryCount,
			job.CreatedAt, job.UpdatedAt)

	if _, err := r.store.exec(ctx, "job_create", query); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID loads a job by id.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*entity.Job, error) {
	var job entity.Job
	err := r.store.db.GetContext(ctx, &job, `SELECT * FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return &job, nil
}

// GetOwned loads a job by id scoped to its owner.
func (r *JobRepository) GetOwned(ctx context.Context, id, ownerKey string) (*entity.Job, error) {
	var job entity.Job
	err := r.store.db.GetContext(ctx, &job,
		`SELECT * FROM jobs WHERE id = $1 AND owner_key = $2`, id, ownerKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return &job, nil
}

// List returns a page of jobs newest first, plus the unpaged total.
func (r *JobRepository) List(ctx context.Context, filter ListFilter) ([]*entity.Job, int, error) {
	where := squirrel.And{}
	if filter.OwnerKey != "" {
		where = append(where, squirrel.Eq{"owner_key": filter.OwnerKey})
	}
	if filter.Status != nil {
		where = append(where, squirrel.Eq{"status": *filter.Status})
	}
	if filter.Platform != nil {
		where = append(where, squirrel.Eq{"platform": *filter.Platform})
	}

	countSQL, countArgs, err := r.store.qb.Select("COUNT(*)").From("jobs").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int
	if err := r.store.db.GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	listSQL, listArgs, err := r.store.qb.Select("*").From("jobs").Where(where).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build list query: %w", err)
	}

	var jobs []*entity.Job
	if err := r.store.db.SelectContext(ctx, &jobs, listSQL, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

// Transition moves a job to a new status only if it currently sits in one of
// the given states. Every successful transition advances updated_at. The
// boolean result reports whether this caller performed the transition, which
// is what makes terminal-notification exactly-once.
func (r *JobRepository) Transition(ctx context.Context, id string, from []entity.JobStatus, to entity.JobStatus, set map[string]interface{}) (bool, error) {
	query := r.store.qb.Update("jobs").
		Set("status", to).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id, "status": from})

	for col, val := range set {
		query = query.Set(col, val)
	}

	affected, err := r.store.exec(ctx, "job_transition", query)
	if err != nil {
		return false, fmt.Errorf("failed to transition job %s to %s: %w", id, to, err)
	}
	return affected == 1, nil
}

// UpdateProgress applies a coalesced progress update. The attempt-id guard
// drops late updates from a previous attempt of a retried job, and the
// percent guard keeps progress monotonic per (job, attempt).
func (r *JobRepository) UpdateProgress(ctx context.Context, id, attemptID string, percent float64, status entity.JobStatus) (bool, error) {
	query := r.store.qb.Update("jobs").
		Set("progress_percent", percent).
		Set("status", status).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{
			"id":         id,
			"attempt_id": attemptID,
			"status":     []entity.JobStatus{entity.StatusQueued, entity.StatusDownloading, entity.StatusProcessing},
		}).
		Where(squirrel.LtOrEq{"progress_percent": percent})

	affected, err := r.store.exec(ctx, "job_progress", query)
	if err != nil {
		return false, fmt.Errorf("failed to update progress for job %s: %w", id, err)
	}
	return affected == 1, nil
}

// MarkRetry executes the FAILED -> PENDING retry edge: increments the retry
// counter, clears the error message and installs a fresh attempt id.
func (r *JobRepository) MarkRetry(ctx context.Context, id, newAttemptID string) (bool, error) {
	query := r.store.qb.Update("jobs").
		Set("status", entity.StatusPending).
		Set("error_message", nil).
		Set("retry_count", squirrel.Expr("retry_count + 1")).
		Set("attempt_id", newAttemptID).
		Set("progress_percent", 0).
		Set("completed_at", nil).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id, "status": entity.StatusFailed})

	affected, err := r.store.exec(ctx, "job_retry", query)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s for retry: %w", id, err)
	}
	return affected == 1, nil
}

// SetTaskHandle records the dispatcher-assigned execution handle. The write
// is fenced on attempt id and a non-terminal status, so a worker abandoned at
// the hard time limit cannot point a settled or retried job at a stale handle.
func (r *JobRepository) SetTaskHandle(ctx context.Context, id, attemptID, handle string) (bool, error) {
	query := r.store.qb.Update("jobs").
		Set("task_handle", handle).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{
			"id":         id,
			"attempt_id": attemptID,
			"status":     []entity.JobStatus{entity.StatusPending, entity.StatusQueued, entity.StatusDownloading, entity.StatusProcessing},
		})

	affected, err := r.store.exec(ctx, "job_set_handle", query)
	if err != nil {
		return false, fmt.Errorf("failed to set task handle for job %s: %w", id, err)
	}
	return affected == 1, nil
}

// SetMetadata stores descriptive metadata discovered during extraction. Fenced
// the same way as UpdateProgress: only the live attempt of an executing job
// may write.
func (r *JobRepository) SetMetadata(ctx context.Context, id, attemptID string, title, artist, thumbnailURL *string, totalItems int, outputDir string) (bool, error) {
	query := r.store.qb.Update("jobs").
		Set("title", title).
		Set("artist", artist).
		Set("thumbnail_url", thumbnailURL).
		Set("total_items", totalItems).
		Set("output_dir", outputDir).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{
			"id":         id,
			"attempt_id": attemptID,
			"status":     []entity.JobStatus{entity.StatusQueued, entity.StatusDownloading, entity.StatusProcessing},
		})

	affected, err := r.store.exec(ctx, "job_set_metadata", query)
	if err != nil {
		return false, fmt.Errorf("failed to set metadata for job %s: %w", id, err)
	}
	return affected == 1, nil
}

// SetItemCounts stores the per-item tallies during and after execution, fenced
// on the live attempt of an executing job.
func (r *JobRepository) SetItemCounts(ctx context.Context, id, attemptID string, total, completed, failed int) (bool, error) {
	query := r.store.qb.Update("jobs").
		Set("total_items", total).
		Set("completed_items", completed).
		Set("failed_items", failed).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{
			"id":         id,
			"attempt_id": attemptID,
			"status":     []entity.JobStatus{entity.StatusQueued, entity.StatusDownloading, entity.StatusProcessing},
		})

	affected, err := r.store.exec(ctx, "job_set_counts", query)
	if err != nil {
		return false, fmt.Errorf("failed to set item counts for job %s: %w", id, err)
	}
	return affected == 1, nil
}

// CountByStatus returns job counts grouped by status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[entity.JobStatus]int, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.JobStatus]int)
	for rows.Next() {
		var status entity.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Delete removes a job; track records cascade with it.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	query := r.store.qb.Delete("jobs").Where(squirrel.Eq{"id": id})
	affected, err := r.store.exec(ctx, "job_delete", query)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if affected == 0 {
		return entity.ErrJobNotFound
	}
	return nil
}
