package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"scholardock/pkg/models"
)

// JobRepo persists BatchJob rows so finished batches stay queryable.
type JobRepo struct {
	DB *sql.DB
}

func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{DB: db}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var jobColumns = []string{
	"id", "search_id", "subject", "include_homepage", "include_fallback",
	"status", "total", "sent", "failed", "skipped", "error", "created_at",
	"finished_at",
}

func (r *JobRepo) Create(ctx context.Context, j models.BatchJob) error {
	q, args, err := psql.Insert("batch_jobs").
		Columns(jobColumns...).
		Values(j.ID, j.SearchID, j.Subject, j.IncludeHomepageEmails, j.IncludeFallbackEmails,
			string(j.Status), j.Total, j.Sent, j.FailedCount, j.Skipped, nullString(j.Error), j.CreatedAt,
			j.FinishedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert batch: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// Get returns nil, nil when the batch does not exist.
func (r *JobRepo) Get(ctx context.Context, id string) (*models.BatchJob, error) {
	q, args, err := psql.Select(jobColumns...).From("batch_jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get batch: %w", err)
	}
	j, err := scanJob(r.DB.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	return j, nil
}

// ListBySearch returns the newest batches of a search first.
func (r *JobRepo) ListBySearch(ctx context.Context, searchID int64) ([]models.BatchJob, error) {
	q, args, err := psql.Select(jobColumns...).
		From("batch_jobs").
		Where(sq.Eq{"search_id": searchID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list batches: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	out := []models.BatchJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows batches: %w", err)
	}
	return out, nil
}

func (r *JobRepo) UpdateCounts(ctx context.Context, j models.BatchJob) error {
	q, args, err := psql.Update("batch_jobs").
		Set("sent", j.Sent).
		Set("failed", j.FailedCount).
		Set("skipped", j.Skipped).
		Where(sq.Eq{"id": j.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update batch counts: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("update batch counts: %w", err)
	}
	return nil
}

func (r *JobRepo) Finish(ctx context.Context, j models.BatchJob) error {
	q, args, err := psql.Update("batch_jobs").
		Set("status", string(j.Status)).
		Set("sent", j.Sent).
		Set("failed", j.FailedCount).
		Set("skipped", j.Skipped).
		Set("error", nullString(j.Error)).
		Set("finished_at", j.FinishedAt).
		Where(sq.Eq{"id": j.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build finish batch: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	return nil
}

// FailInterrupted marks batches left running by a previous process as failed.
func (r *JobRepo) FailInterrupted(ctx context.Context) (int64, error) {
	q, args, err := psql.Update("batch_jobs").
		Set("status", string(models.BatchFailed)).
		Set("error", "interrupted by shutdown").
		Set("finished_at", time.Now().UTC()).
		Where(sq.Eq{"status": string(models.BatchRunning)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build fail interrupted: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted batches: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.BatchJob, error) {
	var (
		j        models.BatchJob
		status   string
		errMsg   sql.NullString
		finished sql.NullTime
	)
	if err := row.Scan(
		&j.ID, &j.SearchID, &j.Subject, &j.IncludeHomepageEmails, &j.IncludeFallbackEmails,
		&status, &j.Total, &j.Sent, &j.FailedCount, &j.Skipped, &errMsg, &j.CreatedAt,
		&finished,
	); err != nil {
		return nil, err
	}
	j.Status = models.BatchStatus(status)
	j.Error = errMsg.String
	if finished.Valid {
		t := finished.Time
		j.FinishedAt = &t
	}
	return &j, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
