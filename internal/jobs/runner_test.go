package jobs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-reservation/internal/config"
	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/jobs"
	parkmail "github.com/iliyamo/parking-reservation/internal/mail"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
	"github.com/iliyamo/parking-reservation/internal/testutil"
)

var reportTime = time.Date(2025, 3, 14, 13, 0, 0, 0, time.UTC)

type recordingMailer struct {
	mu   sync.Mutex
	sent []parkmail.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg parkmail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []parkmail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]parkmail.Message(nil), m.sent...)
}

type failingArtifacts struct {
	mu    sync.Mutex
	saves int
}

func (f *failingArtifacts) Save(context.Context, string, []byte) (string, error) {
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
	return "", errors.New("disk full")
}

func (f *failingArtifacts) Load(context.Context, string) ([]byte, error) {
	return nil, jobs.ErrArtifactNotFound
}

type recordingDispatcher struct {
	ids []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id string) error {
	d.ids = append(d.ids, id)
	return nil
}

type env struct {
	store     *repository.Store
	runner    *jobs.Runner
	mailer    *recordingMailer
	artifacts *jobs.DirStore
	dir       string
}

func newEnv(t *testing.T, mutate func(*jobs.Params)) *env {
	t.Helper()
	store := testutil.NewStore(t)
	dir := t.TempDir()
	artifacts, err := jobs.NewDirStore(dir)
	require.NoError(t, err)
	mailer := &recordingMailer{}
	clock := testutil.NewClock(reportTime)
	p := jobs.Params{
		Store:     store,
		Artifacts: artifacts,
		Mailer:    mailer,
		Clock:     clock.Now,
		Config:    config.JobsConfig{Workers: 2, QueueSize: 8, Timeout: 10 * time.Second, NotifyExports: true},
	}
	if mutate != nil {
		mutate(&p)
	}
	runner, err := jobs.NewRunner(p)
	require.NoError(t, err)
	return &env{store: store, runner: runner, mailer: mailer, artifacts: artifacts, dir: dir}
}

func (e *env) reservation(t *testing.T, userID uint64, start time.Time, end *time.Time, cost string) {
	t.Helper()
	var ended any
	if end != nil {
		ended = *end
	}
	_, err := e.store.DB().Exec(
		`INSERT INTO reservations (spot_id, lot_id, spot_number, user_id, started_at, ended_at, cost) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		int64(userID)*100+start.Unix()%97, 1, 1, userID, start, ended, cost)
	require.NoError(t, err)
}

func hoursAgo(h int) time.Time { return reportTime.Add(-time.Duration(h) * time.Hour) }

func TestSubmitReturnsImmediatelyAndWorkersFinish(t *testing.T) {
	e := newEnv(t, nil)
	u := testutil.CreateUser(t, e.store, "Asha", "asha@example.com", model.RoleUser)
	end := hoursAgo(1)
	e.reservation(t, u, hoursAgo(3), &end, "40.00")

	ctx := context.Background()
	id, err := e.runner.Submit(ctx, jobs.ReportRequest("admin@example.com", 0))
	require.NoError(t, err)

	job, err := e.runner.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)

	runCtx, cancel := context.WithCancel(ctx)
	e.runner.Start(runCtx)
	require.Eventually(t, func() bool {
		job, err := e.runner.Status(ctx, id)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	e.runner.Wait()

	job, err = e.runner.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, job.Status)
	assert.True(t, job.EmailSent)
	assert.Equal(t, 1, job.TotalRecords)
	assert.Equal(t, "40.00", job.TotalRevenue.StringFixed(2))
	assert.True(t, job.StartedAt.Valid)
	assert.True(t, job.FinishedAt.Valid)
}

func TestGenerateReportMailsAttachment(t *testing.T) {
	e := newEnv(t, nil)
	u := testutil.CreateUser(t, e.store, "Ravi", "ravi@example.com", model.RoleUser)
	end := hoursAgo(2)
	e.reservation(t, u, hoursAgo(4), &end, "30.00")
	e.reservation(t, u, hoursAgo(1), nil, "0")

	job, err := e.runner.RunNow(context.Background(), jobs.ReportRequest("admin@example.com", 7))
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, job.Status)
	assert.Equal(t, uint64(7), job.RequestedBy)
	assert.Equal(t, "Report generated and emailed successfully to admin@example.com", job.Message)
	assert.Equal(t, filepath.Join(e.dir, "reports", "parking_report_20250314_130000.csv"), job.Artifact)

	sent := e.mailer.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "admin@example.com", sent[0].To)
	assert.Equal(t, parkmail.ReportSubject, sent[0].Subject)
	assert.Contains(t, sent[0].Body, "- Active Reservations: 1")
	require.Len(t, sent[0].Attachments, 1)
	att := sent[0].Attachments[0]
	assert.Equal(t, "parking_report_20250314_130000.csv", att.Filename)

	onDisk, err := os.ReadFile(job.Artifact)
	require.NoError(t, err)
	assert.Equal(t, onDisk, att.Data)
	assert.True(t, strings.HasPrefix(string(onDisk), "Reservation ID,User Name,"))
	assert.Contains(t, string(onDisk), "Total Revenue,30.00\r\n")
}

func TestGenerateReportMailFailureIsPartialSuccess(t *testing.T) {
	e := newEnv(t, nil)
	e.mailer.err = errors.New("connection refused")

	job, err := e.runner.RunNow(context.Background(), jobs.ReportRequest("admin@example.com", 0))
	require.NoError(t, err)
	assert.Equal(t, model.JobPartialSuccess, job.Status)
	assert.False(t, job.EmailSent)
	assert.Equal(t, "Report generated but failed to send email to admin@example.com", job.Message)
	_, err = os.Stat(job.Artifact)
	assert.NoError(t, err)
}

func TestReportStoreFailureIsErrorWithoutRetry(t *testing.T) {
	failing := &failingArtifacts{}
	e := newEnv(t, func(p *jobs.Params) { p.Artifacts = failing })
	ctx := context.Background()

	job, err := e.runner.RunNow(ctx, jobs.ReportRequest("admin@example.com", 0))
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Contains(t, job.Message, "disk full")
	assert.Empty(t, e.mailer.messages())

	require.NoError(t, e.runner.Execute(ctx, job.ID))
	assert.Equal(t, 1, failing.saves)
}

func TestExportOverwritesPreviousExport(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	u := testutil.CreateUser(t, e.store, "Meera", "meera@example.com", model.RoleUser)
	other := testutil.CreateUser(t, e.store, "Kabir", "kabir@example.com", model.RoleUser)
	end := hoursAgo(5)
	e.reservation(t, u, hoursAgo(6), &end, "10.00")
	e.reservation(t, other, hoursAgo(6), &end, "99.00")

	first, err := e.runner.RunNow(ctx, jobs.ExportRequest(u))
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, first.Status)
	assert.Equal(t, 1, first.TotalRecords)
	assert.True(t, first.EmailSent)

	e.reservation(t, u, hoursAgo(2), nil, "0")
	second, err := e.runner.RunNow(ctx, jobs.ExportRequest(u))
	require.NoError(t, err)
	assert.Equal(t, 2, second.TotalRecords)
	assert.Equal(t, first.Artifact, second.Artifact)

	data, err := e.artifacts.Load(ctx, jobs.ExportKey(u))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Total Reservations,2\r\n")
	assert.NotContains(t, string(data), "kabir@example.com")

	sent := e.mailer.messages()
	require.Len(t, sent, 2)
	assert.Equal(t, "meera@example.com", sent[1].To)
	assert.Equal(t, parkmail.ExportSubject, sent[1].Subject)
}

func TestExportNotificationFailureIsPartialSuccess(t *testing.T) {
	e := newEnv(t, nil)
	e.mailer.err = errors.New("relay denied")
	u := testutil.CreateUser(t, e.store, "Ira", "ira@example.com", model.RoleUser)

	job, err := e.runner.RunNow(context.Background(), jobs.ExportRequest(u))
	require.NoError(t, err)
	assert.Equal(t, model.JobPartialSuccess, job.Status)
	assert.NotEmpty(t, job.Artifact)
}

func TestExportWithoutNotification(t *testing.T) {
	e := newEnv(t, func(p *jobs.Params) { p.Config.NotifyExports = false })
	u := testutil.CreateUser(t, e.store, "Dev", "dev@example.com", model.RoleUser)

	job, err := e.runner.RunNow(context.Background(), jobs.ExportRequest(u))
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, job.Status)
	assert.False(t, job.EmailSent)
	assert.Empty(t, e.mailer.messages())
}

func TestExportUnknownUserIsError(t *testing.T) {
	e := newEnv(t, nil)
	job, err := e.runner.RunNow(context.Background(), jobs.ExportRequest(4242))
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.runner.Submit(ctx, jobs.ReportRequest("not-an-email", 0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
	_, err = e.runner.Submit(ctx, jobs.ExportRequest(0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
	_, err = e.runner.Submit(ctx, jobs.Request{Kind: "purge"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestSubmitOnFullQueueMarksJobFailed(t *testing.T) {
	e := newEnv(t, func(p *jobs.Params) { p.Config.QueueSize = 1 })
	ctx := context.Background()

	_, err := e.runner.Submit(ctx, jobs.ReportRequest("admin@example.com", 0))
	require.NoError(t, err)
	_, err = e.runner.Submit(ctx, jobs.ReportRequest("admin@example.com", 0))
	assert.True(t, apperrors.IsCode(err, apperrors.CodeDependency), "got %v", err)

	var failed int
	require.NoError(t, e.store.DB().QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = 'error'`).Scan(&failed))
	assert.Equal(t, 1, failed)
}

func TestExternalDispatcherReceivesJobID(t *testing.T) {
	d := &recordingDispatcher{}
	e := newEnv(t, func(p *jobs.Params) { p.Dispatcher = d })
	assert.False(t, e.runner.Local())

	id, err := e.runner.Submit(context.Background(), jobs.ReportRequest("admin@example.com", 0))
	require.NoError(t, err)
	assert.Equal(t, []string{id}, d.ids)
}

func TestExecuteSkipsFinishedAndUnknownJobs(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	job, err := e.runner.RunNow(ctx, jobs.ReportRequest("admin@example.com", 0))
	require.NoError(t, err)
	require.Len(t, e.mailer.messages(), 1)

	require.NoError(t, e.runner.Execute(ctx, job.ID))
	assert.Len(t, e.mailer.messages(), 1)
	assert.NoError(t, e.runner.Execute(ctx, "5c1f4e38-0000-0000-0000-000000000000"))

	_, err = e.runner.Status(ctx, "missing")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestStartRequeuesPendingJobs(t *testing.T) {
	d := &recordingDispatcher{}
	store := testutil.NewStore(t)
	artifacts, err := jobs.NewDirStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	remote, err := jobs.NewRunner(jobs.Params{Store: store, Artifacts: artifacts, Dispatcher: d})
	require.NoError(t, err)
	id, err := remote.Submit(ctx, jobs.ReportRequest("admin@example.com", 0))
	require.NoError(t, err)

	local, err := jobs.NewRunner(jobs.Params{Store: store, Artifacts: artifacts, Config: config.JobsConfig{Workers: 1}})
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	local.Start(runCtx)
	require.Eventually(t, func() bool {
		job, err := local.Status(ctx, id)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	local.Wait()
}

func TestStartResumesJobsInterruptedMidRun(t *testing.T) {
	d := &recordingDispatcher{}
	store := testutil.NewStore(t)
	artifacts, err := jobs.NewDirStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	remote, err := jobs.NewRunner(jobs.Params{Store: store, Artifacts: artifacts, Dispatcher: d})
	require.NoError(t, err)
	id, err := remote.Submit(ctx, jobs.ReportRequest("admin@example.com", 0))
	require.NoError(t, err)
	_, err = store.DB().Exec(`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		string(model.JobRunning), reportTime, id)
	require.NoError(t, err)

	local, err := jobs.NewRunner(jobs.Params{Store: store, Artifacts: artifacts, Config: config.JobsConfig{Workers: 1}})
	require.NoError(t, err)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	local.Start(runCtx)
	require.Eventually(t, func() bool {
		job, err := local.Status(ctx, id)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	local.Wait()

	job, err := local.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, job.Status)
}

func TestDirStoreRejectsEscapingKeys(t *testing.T) {
	s, err := jobs.NewDirStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.Save(ctx, "../outside.csv", []byte("x"))
	assert.Error(t, err)
	_, err = s.Load(ctx, "exports/user_1.csv")
	assert.ErrorIs(t, err, jobs.ErrArtifactNotFound)
}
