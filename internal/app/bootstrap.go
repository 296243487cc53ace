// Package app holds the construction steps shared by the server and the
// admin CLI.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/database"
	"github.com/iliyamo/parking-reservation/internal/jobs"
	"github.com/iliyamo/parking-reservation/internal/logger"
	"github.com/iliyamo/parking-reservation/internal/mail"
	"github.com/iliyamo/parking-reservation/internal/metrics"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

func NewLogger(cfg config.AppConfig, service string) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(cfg.LogLevel),
		WarnStack:   cfg.LogWarnStack,
		Format:      cfg.LogFormat,
	})
}

// OpenStore connects to the configured database and, when migrate is set,
// applies pending migrations.  The caller owns closing store.DB().
func OpenStore(ctx context.Context, cfg config.DBConfig, migrate bool, logg *logger.Logger) (*repository.Store, error) {
	db, dialect, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if migrate {
		version, err := database.Migrate(ctx, db, dialect, "up")
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logg.Info(logg.WithField(ctx, "schema_version", version), "database migrated")
	}
	return repository.NewStore(db, dialect), nil
}

// RunnerParams are the pieces of a job runner that differ between the
// server and the CLI.
type RunnerParams struct {
	Dispatcher jobs.Dispatcher
	Registerer prometheus.Registerer
}

// NewRunner wires a job runner with the SMTP mailer and the artifact
// directory from cfg.
func NewRunner(cfg *config.Config, store *repository.Store, logg *logger.Logger, p RunnerParams) (*jobs.Runner, jobs.ArtifactStore, error) {
	artifacts, err := jobs.NewDirStore(cfg.Jobs.ArtifactDir)
	if err != nil {
		return nil, nil, err
	}
	var m *metrics.JobMetrics
	if p.Registerer != nil {
		m = metrics.NewJobMetrics(p.Registerer)
	}
	runner, err := jobs.NewRunner(jobs.Params{
		Store:      store,
		Artifacts:  artifacts,
		Mailer:     mail.NewSMTP(cfg.Mail, logg),
		Dispatcher: p.Dispatcher,
		Logger:     logg,
		Metrics:    m,
		Config:     cfg.Jobs,
	})
	if err != nil {
		return nil, nil, err
	}
	return runner, artifacts, nil
}
