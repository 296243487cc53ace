package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// JobRepo persists job state so status queries survive worker restarts.
type JobRepo struct {
	db *sql.DB
}

func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

const jobColumns = `id, kind, params, requested_by, status, message, artifact, total_records, total_revenue, email_sent, created_at, started_at, finished_at`

// JobResult is what a finished job records.
type JobResult struct {
	Status       model.JobStatus
	Message      string
	Artifact     string
	TotalRecords int
	TotalRevenue decimal.Decimal
	EmailSent    bool
}

// Create inserts a job row in the given status.
func (r *JobRepo) Create(ctx context.Context, job *model.Job) error {
	const q = `INSERT INTO jobs (id, kind, params, requested_by, status, message, artifact, total_records, total_revenue, email_sent, created_at) VALUES (?, ?, ?, ?, ?, ?, '', 0, 0, 0, ?)`
	job.CreatedAt = job.CreatedAt.UTC()
	if _, err := r.db.ExecContext(ctx, q, job.ID, string(job.Kind), string(job.Params), job.RequestedBy,
		string(job.Status), job.Message, job.CreatedAt); err != nil {
		return fmt.Errorf("JobRepo.Create: %w", err)
	}
	return nil
}

// Get returns the job or ErrNotFound.
func (r *JobRepo) Get(ctx context.Context, id string) (*model.Job, error) {
	var (
		j       model.Job
		params  string
		kind    string
		status  string
		revenue decimal.NullDecimal
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id).Scan(
		&j.ID, &kind, &params, &j.RequestedBy, &status, &j.Message, &j.Artifact,
		&j.TotalRecords, &revenue, &j.EmailSent, &j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("JobRepo.Get: %w", err)
	}
	j.Kind = model.JobKind(kind)
	j.Status = model.JobStatus(status)
	j.Params = json.RawMessage(params)
	j.TotalRevenue = revenue.Decimal
	return &j, nil
}

// MarkRunning moves a pending (or redelivered running) job to running.
// ErrConflict means the job already reached a terminal status.
func (r *JobRepo) MarkRunning(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status IN (?, ?)`
	res, err := r.db.ExecContext(ctx, q, string(model.JobRunning), at.UTC(), id,
		string(model.JobPending), string(model.JobRunning))
	if err != nil {
		return fmt.Errorf("JobRepo.MarkRunning: %w", err)
	}
	return expectOne(res, ErrConflict)
}

// Finish records the final outcome of a job.
func (r *JobRepo) Finish(ctx context.Context, id string, result JobResult, at time.Time) error {
	const q = `UPDATE jobs SET status = ?, message = ?, artifact = ?, total_records = ?, total_revenue = ?, email_sent = ?, finished_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, string(result.Status), result.Message, result.Artifact,
		result.TotalRecords, result.TotalRevenue.StringFixed(2), result.EmailSent, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("JobRepo.Finish: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// ListUnfinished returns ids of jobs that never reached a terminal status,
// oldest first.  Running rows are included: their process died mid-run.
func (r *JobRepo) ListUnfinished(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM jobs WHERE status IN (?, ?) ORDER BY created_at, id LIMIT ?`,
		string(model.JobPending), string(model.JobRunning), limit)
	if err != nil {
		return nil, fmt.Errorf("JobRepo.ListUnfinished: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("JobRepo.ListUnfinished: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
