package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// JobKind names an asynchronous job type.
type JobKind string

const (
	JobGenerateReport    JobKind = "generate_report"
	JobExportUserHistory JobKind = "export_user_history"
)

// JobStatus is the lifecycle state of a job row.
type JobStatus string

const (
	JobPending        JobStatus = "pending"
	JobRunning        JobStatus = "running"
	JobSuccess        JobStatus = "success"
	JobPartialSuccess JobStatus = "partial_success"
	JobError          JobStatus = "error"
)

// Terminal reports whether no further transition is expected.
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobPartialSuccess || s == JobError
}

// Job is a durable record of one submitted report or export.
//
// Fields:
//
//	ID           – uuid handle returned to the submitter.
//	Kind         – generate_report or export_user_history.
//	Params       – JSON encoded job parameters.
//	RequestedBy  – user that submitted the job (0 for the scheduler).
//	Status       – pending, running, success, partial_success or error.
//	Message      – human readable outcome.
//	Artifact     – location of the produced CSV, if any.
//	TotalRecords – rows written to the CSV.
//	TotalRevenue – revenue summed over the rows.
//	EmailSent    – whether the notification/attachment mail was delivered.
type Job struct {
	ID           string          `json:"id"`            // jobs.id
	Kind         JobKind         `json:"kind"`          // jobs.kind
	Params       json.RawMessage `json:"params"`        // jobs.params
	RequestedBy  uint64          `json:"requested_by"`  // jobs.requested_by
	Status       JobStatus       `json:"status"`        // jobs.status
	Message      string          `json:"message"`       // jobs.message
	Artifact     string          `json:"artifact"`      // jobs.artifact
	TotalRecords int             `json:"total_records"` // jobs.total_records
	TotalRevenue decimal.Decimal `json:"total_revenue"` // jobs.total_revenue
	EmailSent    bool            `json:"email_sent"`    // jobs.email_sent
	CreatedAt    time.Time       `json:"created_at"`    // jobs.created_at
	StartedAt    null.Time       `json:"started_at"`    // jobs.started_at
	FinishedAt   null.Time       `json:"finished_at"`   // jobs.finished_at
}
