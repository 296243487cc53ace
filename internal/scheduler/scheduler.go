// Package scheduler periodically queues a parking report for every
// administrator.  Ticks that are missed while a fan-out runs are dropped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/iliyamo/parking-reservation/internal/jobs"
	"github.com/iliyamo/parking-reservation/internal/logger"
	"github.com/iliyamo/parking-reservation/internal/metrics"
	"github.com/iliyamo/parking-reservation/internal/model"
)

const defaultInterval = 24 * time.Hour

// Outcome statuses.
const (
	StatusQueued  = "queued"
	StatusWarning = "warning"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Submitter queues a job without waiting for it.
type Submitter interface {
	Submit(ctx context.Context, req jobs.Request) (string, error)
}

// AdminLister enumerates administrator accounts.
type AdminLister interface {
	ListAdmins(ctx context.Context) ([]model.User, error)
}

// Outcome reports what one tick did.
type Outcome struct {
	Status     string   `json:"status"`
	Message    string   `json:"message,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	JobIDs     []string `json:"job_ids,omitempty"`
}

type Params struct {
	Logger    *logger.Logger
	Submitter Submitter
	Admins    AdminLister
	Lock      Lock
	Metrics   *metrics.SchedulerMetrics
	Interval  time.Duration
}

type Scheduler struct {
	logg     *logger.Logger
	submit   Submitter
	admins   AdminLister
	lock     Lock
	metrics  *metrics.SchedulerMetrics
	interval time.Duration
}

func New(p Params) (*Scheduler, error) {
	if p.Submitter == nil {
		return nil, errors.New("job submitter required")
	}
	if p.Admins == nil {
		return nil, errors.New("admin lister required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Lock == nil {
		p.Lock = NopLock{}
	}
	if p.Interval <= 0 {
		p.Interval = defaultInterval
	}
	return &Scheduler{
		logg:     p.Logger,
		submit:   p.Submitter,
		admins:   p.Admins,
		lock:     p.Lock,
		metrics:  p.Metrics,
		interval: p.Interval,
	}, nil
}

// Run ticks every interval until ctx is canceled.  The first tick fires one
// interval after start.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logg.Info(s.logg.WithField(ctx, "interval", s.interval.String()), "report scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "report scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick queues one generate_report job per administrator.
func (s *Scheduler) Tick(ctx context.Context) Outcome {
	out := s.tick(ctx)
	s.metrics.IncTick(out.Status)
	fields := map[string]any{"status": out.Status, "jobs": len(out.JobIDs)}
	switch out.Status {
	case StatusWarning, StatusError:
		s.logg.Warn(s.logg.WithFields(ctx, fields), out.Message)
	default:
		s.logg.Info(s.logg.WithFields(ctx, fields), "scheduled reports dispatched")
	}
	return out
}

func (s *Scheduler) tick(ctx context.Context) Outcome {
	token, err := s.lock.Acquire(ctx)
	if err != nil {
		return Outcome{Status: StatusError, Message: fmt.Sprintf("lock acquire: %v", err)}
	}
	if token == "" {
		return Outcome{Status: StatusSkipped, Message: "another instance is dispatching reports"}
	}
	defer func() {
		if err := s.lock.Release(ctx, token); err != nil {
			s.logg.Error(ctx, "failed to release scheduler lock", err)
		}
	}()

	admins, err := s.admins.ListAdmins(ctx)
	if err != nil {
		return Outcome{Status: StatusError, Message: err.Error()}
	}
	if len(admins) == 0 {
		return Outcome{Status: StatusWarning, Message: "No admin email configured"}
	}

	out := Outcome{Status: StatusQueued}
	var errs error
	for _, admin := range admins {
		id, err := s.submit.Submit(ctx, jobs.ReportRequest(admin.Email, 0))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", admin.Email, err))
			continue
		}
		out.Recipients = append(out.Recipients, admin.Email)
		out.JobIDs = append(out.JobIDs, id)
	}
	if errs != nil {
		out.Status = StatusError
		out.Message = errs.Error()
	}
	return out
}
