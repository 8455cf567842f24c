package models

import (
	"time"
)

// JobStatus enumerates validation job lifecycle states.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidationJob is one asynchronous validation run across the eligible uploads of a document.
type ValidationJob struct {
	ID               string          `json:"job_id"`
	DocumentID       string          `json:"document_id"`
	Status           JobStatus       `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Error            *string         `json:"error,omitempty"`
	TotalUploads     *int            `json:"total_uploads,omitempty"`
	ProcessedUploads *int            `json:"processed_uploads,omitempty"`
	Result           *DocumentResult `json:"-"`
}

// JobUpdate is a field mask over ValidationJob: nil fields are left untouched.
// started_at and completed_at are derived from Status by the store.
type JobUpdate struct {
	Status           *JobStatus
	Error            *string
	Result           *DocumentResult
	TotalUploads     *int
	ProcessedUploads *int
}

// UpdateStatus starts a mask that sets the status.
func UpdateStatus(status JobStatus) JobUpdate {
	return JobUpdate{Status: &status}
}

// WithError sets the job error message.
func (u JobUpdate) WithError(msg string) JobUpdate {
	u.Error = &msg
	return u
}

// WithResult attaches the aggregated document result.
func (u JobUpdate) WithResult(r DocumentResult) JobUpdate {
	u.Result = &r
	return u
}

// WithTotal sets total_uploads.
func (u JobUpdate) WithTotal(n int) JobUpdate {
	u.TotalUploads = &n
	return u
}

// WithProcessed sets processed_uploads.
func (u JobUpdate) WithProcessed(n int) JobUpdate {
	u.ProcessedUploads = &n
	return u
}

// Apply folds the mask into job as of now: started_at and completed_at are stamped
// once and never moved. The SQL stores encode the same rules in their UPDATE.
func (u JobUpdate) Apply(job *ValidationJob, now time.Time) {
	if u.Status != nil {
		job.Status = *u.Status
		if *u.Status == StatusRunning && job.StartedAt == nil {
			t := now
			job.StartedAt = &t
		}
		if u.Status.Terminal() && job.CompletedAt == nil {
			t := now
			job.CompletedAt = &t
		}
	}
	if u.Error != nil {
		msg := *u.Error
		job.Error = &msg
	}
	if u.Result != nil {
		r := *u.Result
		job.Result = &r
	}
	if u.TotalUploads != nil {
		n := *u.TotalUploads
		job.TotalUploads = &n
	}
	if u.ProcessedUploads != nil {
		n := *u.ProcessedUploads
		job.ProcessedUploads = &n
	}
}

// JobSnapshot is the status view handed to pollers.
type JobSnapshot struct {
	JobID            string     `json:"job_id"`
	DocumentID       string     `json:"document_id"`
	Status           JobStatus  `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	Error            *string    `json:"error"`
	TotalUploads     *int       `json:"total_uploads"`
	ProcessedUploads *int       `json:"processed_uploads"`
}

// Snapshot projects the job onto its status view.
func (j ValidationJob) Snapshot() JobSnapshot {
	return JobSnapshot{
		JobID:            j.ID,
		DocumentID:       j.DocumentID,
		Status:           j.Status,
		CreatedAt:        j.CreatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
		Error:            j.Error,
		TotalUploads:     j.TotalUploads,
		ProcessedUploads: j.ProcessedUploads,
	}
}

// JobResult is the result view; Result is only populated once the job completed.
type JobResult struct {
	JobID  string          `json:"job_id"`
	Status JobStatus       `json:"status"`
	Result *DocumentResult `json:"result"`
	Error  *string         `json:"error"`
}

// ResultView builds the result view of the job.
func (j ValidationJob) ResultView() JobResult {
	out := JobResult{JobID: j.ID, Status: j.Status, Error: j.Error}
	if j.Status == StatusCompleted {
		out.Result = j.Result
	}
	return out
}

// LogLevel is the severity of an event log entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "INFO"
	LevelError LogLevel = "ERROR"
)

// LogEntry is an append-only event row.
type LogEntry struct {
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Context   *string   `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
