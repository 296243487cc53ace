// Package jobs runs report and export jobs out of band.  Submitting a job
// persists a pending row and hands its id to a dispatcher; a worker later
// executes it and records the outcome on the same row.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-reservation/internal/config"
	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/logger"
	parkmail "github.com/iliyamo/parking-reservation/internal/mail"
	"github.com/iliyamo/parking-reservation/internal/metrics"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
	defaultTimeout   = 2 * time.Minute
	finishTimeout    = 5 * time.Second
)

// ErrQueueFull is returned by the local dispatcher when every slot is taken.
var ErrQueueFull = errors.New("job queue is full")

// Dispatcher hands a persisted job id to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Request describes a job to submit.
type Request struct {
	Kind        model.JobKind
	AdminEmail  string
	UserID      uint64
	RequestedBy uint64
}

// ReportRequest asks for a full report mailed to adminEmail.
func ReportRequest(adminEmail string, requestedBy uint64) Request {
	return Request{Kind: model.JobGenerateReport, AdminEmail: adminEmail, RequestedBy: requestedBy}
}

// ExportRequest asks for the user's own history export.
func ExportRequest(userID uint64) Request {
	return Request{Kind: model.JobExportUserHistory, UserID: userID, RequestedBy: userID}
}

type reportParams struct {
	AdminEmail string `json:"admin_email"`
}

type exportParams struct {
	UserID uint64 `json:"user_id"`
}

// Params wire the runner.  Dispatcher defaults to the runner's own
// buffered queue drained by Config.Workers goroutines.
type Params struct {
	Store      *repository.Store
	Artifacts  ArtifactStore
	Mailer     parkmail.Mailer
	Dispatcher Dispatcher
	Logger     *logger.Logger
	Metrics    *metrics.JobMetrics
	Config     config.JobsConfig
	Clock      func() time.Time
}

type Runner struct {
	jobs      *repository.JobRepo
	reports   *repository.ReportRepo
	users     *repository.UserRepo
	artifacts ArtifactStore
	mailer    parkmail.Mailer
	logg      *logger.Logger
	metrics   *metrics.JobMetrics
	clock     func() time.Time

	dispatcher Dispatcher
	queue      chan string
	workers    int
	timeout    time.Duration
	notify     bool

	wg sync.WaitGroup
}

func NewRunner(p Params) (*Runner, error) {
	if p.Store == nil {
		return nil, errors.New("store is required")
	}
	if p.Artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	if p.Mailer == nil {
		p.Mailer = parkmail.Nop{}
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	workers := p.Config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := p.Config.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := p.Config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := p.Store.DB()
	r := &Runner{
		jobs:       repository.NewJobRepo(db),
		reports:    repository.NewReportRepo(p.Store),
		users:      repository.NewUserRepo(db, p.Store.Dialect()),
		artifacts:  p.Artifacts,
		mailer:     p.Mailer,
		logg:       p.Logger,
		metrics:    p.Metrics,
		clock:      p.Clock,
		dispatcher: p.Dispatcher,
		workers:    workers,
		timeout:    timeout,
		notify:     p.Config.NotifyExports,
	}
	if r.dispatcher == nil {
		r.queue = make(chan string, size)
		r.dispatcher = r
	}
	return r, nil
}

// Local reports whether the runner drains its own queue.
func (r *Runner) Local() bool { return r.queue != nil }

// Dispatch enqueues on the local queue without blocking.
func (r *Runner) Dispatch(_ context.Context, jobID string) error {
	if r.queue == nil {
		return errors.New("runner has no local queue")
	}
	select {
	case r.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Submit validates and persists the job, hands it to the dispatcher and
// returns its id.  It never waits for the job to run.
func (r *Runner) Submit(ctx context.Context, req Request) (string, error) {
	job, err := r.newJob(req)
	if err != nil {
		return "", err
	}
	if err := r.jobs.Create(ctx, job); err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, err, "could not record job")
	}
	if err := r.dispatcher.Dispatch(ctx, job.ID); err != nil {
		r.logg.Error(r.logg.WithField(ctx, "job_id", job.ID), "job dispatch failed", err)
		_ = r.finish(ctx, job, repository.JobResult{
			Status:  model.JobError,
			Message: "Job could not be queued: " + err.Error(),
		})
		return "", apperrors.Wrap(apperrors.CodeDependency, err, "job queue unavailable")
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{"job_id": job.ID, "kind": job.Kind}), "job submitted")
	return job.ID, nil
}

// RunNow persists and executes the job on the calling goroutine.
func (r *Runner) RunNow(ctx context.Context, req Request) (*model.Job, error) {
	job, err := r.newJob(req)
	if err != nil {
		return nil, err
	}
	if err := r.jobs.Create(ctx, job); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "could not record job")
	}
	if err := r.Execute(ctx, job.ID); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "could not record job outcome")
	}
	return r.Status(ctx, job.ID)
}

// Status returns the durable state of a job.
func (r *Runner) Status(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := r.jobs.Get(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "job not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "job lookup failed")
	}
	return job, nil
}

// Execute runs one job to a terminal status.  Redelivered jobs that already
// finished are skipped.  The returned error is non-nil only when the job's
// state could not be read or recorded, in which case a broker should
// redeliver.
func (r *Runner) Execute(ctx context.Context, jobID string) error {
	ctx = r.logg.WithField(ctx, "job_id", jobID)
	job, err := r.jobs.Get(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		r.logg.Warn(ctx, "dropping unknown job")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		r.logg.Debug(ctx, "job already finished")
		return nil
	}
	started := r.now()
	if err := r.jobs.MarkRunning(ctx, job.ID, started); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	result := r.run(runCtx, job)
	cancel()

	r.metrics.ObserveDuration(string(job.Kind), r.now().Sub(started))
	r.metrics.IncOutcome(string(job.Kind), string(result.Status))
	if err := r.finish(ctx, job, result); err != nil {
		return err
	}
	fields := map[string]any{"kind": job.Kind, "status": result.Status, "records": result.TotalRecords}
	if result.Status == model.JobError {
		r.logg.Warn(r.logg.WithFields(ctx, fields), result.Message)
	} else {
		r.logg.Info(r.logg.WithFields(ctx, fields), result.Message)
	}
	return nil
}

// Start launches the local workers and requeues jobs a previous process
// left pending or running.  It is a no-op for external dispatchers.
func (r *Runner) Start(ctx context.Context) {
	if r.queue == nil {
		return
	}
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	ids, err := r.jobs.ListUnfinished(ctx, cap(r.queue))
	if err != nil {
		r.logg.WarnErr(ctx, "could not requeue unfinished jobs", err)
		return
	}
	for _, id := range ids {
		if err := r.Dispatch(ctx, id); err != nil {
			r.logg.WarnErr(r.logg.WithField(ctx, "job_id", id), "unfinished job left for later", err)
			return
		}
	}
}

// Wait blocks until every local worker has returned.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			if err := r.Execute(ctx, id); err != nil {
				r.logg.Error(r.logg.WithField(ctx, "job_id", id), "job state could not be recorded", err)
			}
		}
	}
}

func (r *Runner) run(ctx context.Context, job *model.Job) (result repository.JobResult) {
	defer func() {
		if p := recover(); p != nil {
			result = failed(fmt.Errorf("panic: %v", p), "Job crashed")
		}
	}()
	switch job.Kind {
	case model.JobGenerateReport:
		var p reportParams
		if err := json.Unmarshal(job.Params, &p); err != nil {
			return failed(err, "Invalid report parameters")
		}
		return r.generateReport(ctx, p)
	case model.JobExportUserHistory:
		var p exportParams
		if err := json.Unmarshal(job.Params, &p); err != nil {
			return failed(err, "Invalid export parameters")
		}
		return r.exportUserHistory(ctx, p)
	default:
		return failed(fmt.Errorf("unknown job kind %q", job.Kind), "Unsupported job")
	}
}

// finish records result even if ctx was canceled mid-run.
func (r *Runner) finish(ctx context.Context, job *model.Job, result repository.JobResult) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	return r.jobs.Finish(ctx, job.ID, result, r.now())
}

func (r *Runner) newJob(req Request) (*model.Job, error) {
	var params any
	switch req.Kind {
	case model.JobGenerateReport:
		if _, err := mail.ParseAddress(req.AdminEmail); err != nil {
			return nil, apperrors.New(apperrors.CodeValidation, "a valid admin email is required")
		}
		params = reportParams{AdminEmail: req.AdminEmail}
	case model.JobExportUserHistory:
		if req.UserID == 0 {
			return nil, apperrors.New(apperrors.CodeValidation, "user id is required")
		}
		params = exportParams{UserID: req.UserID}
	default:
		return nil, apperrors.Newf(apperrors.CodeValidation, "unknown job kind %q", req.Kind)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "encode job parameters")
	}
	return &model.Job{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		Params:      raw,
		RequestedBy: req.RequestedBy,
		Status:      model.JobPending,
		CreatedAt:   r.now(),
	}, nil
}

func (r *Runner) now() time.Time {
	return r.clock().UTC().Truncate(time.Microsecond)
}

func failed(err error, msg string) repository.JobResult {
	return repository.JobResult{Status: model.JobError, Message: fmt.Sprintf("%s: %v", msg, err)}
}
