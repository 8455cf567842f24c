package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ocr-accuracy-validator/internal/models"
	"ocr-accuracy-validator/internal/store"
	"ocr-accuracy-validator/internal/telemetry"
)

// Job failure messages, also returned by Create as errors.
var (
	ErrDocumentNotFound  = errors.New("Document not found")
	ErrNoEligibleUploads = errors.New("No uploads with user input found for this document")
	ErrJobNotFound       = errors.New("Job not found")
)

// Store is the persistence the runner depends on.
type Store interface {
	GetDocument(ctx context.Context, id string) (models.Document, error)
	ListEligibleUploads(ctx context.Context, documentID string) ([]models.Upload, error)
	CreateJob(ctx context.Context, documentID string) (models.ValidationJob, error)
	GetJob(ctx context.Context, id string) (models.ValidationJob, error)
	UpdateJob(ctx context.Context, id string, u models.JobUpdate) error
	ListJobsByDocument(ctx context.Context, documentID string) ([]models.ValidationJob, error)
	LogEvent(ctx context.Context, entry models.LogEntry) error
}

// Validator validates one upload and never fails.
type Validator interface {
	Validate(ctx context.Context, doc models.Document, up models.Upload) models.UploadResult
}

// Runner owns the validation job lifecycle: pending, running, then completed or failed.
type Runner struct {
	store     Store
	validator Validator
	log       *zap.Logger
	wg        sync.WaitGroup
}

func NewRunner(st Store, v Validator, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{store: st, validator: v, log: log}
}

// Create persists a pending job and starts it in the background. The run is detached
// from ctx; the returned job is the pending snapshot. A missing document or a document
// without eligible uploads is rejected before anything is persisted.
func (r *Runner) Create(ctx context.Context, documentID string) (models.ValidationJob, error) {
	job, err := r.create(ctx, documentID)
	if err != nil {
		return models.ValidationJob{}, err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Run(context.Background(), job.ID, documentID)
	}()
	return job, nil
}

// Execute creates a job like Create but runs it in the calling goroutine. Cancelling
// ctx does not stop the run. The job is returned whenever it was persisted, together
// with the run error, if any.
func (r *Runner) Execute(ctx context.Context, documentID string) (models.ValidationJob, error) {
	job, err := r.create(ctx, documentID)
	if err != nil {
		return models.ValidationJob{}, err
	}
	return job, r.Run(context.WithoutCancel(ctx), job.ID, documentID)
}

func (r *Runner) create(ctx context.Context, documentID string) (models.ValidationJob, error) {
	if _, err := r.document(ctx, documentID); err != nil {
		return models.ValidationJob{}, err
	}
	if _, err := r.eligible(ctx, documentID); err != nil {
		return models.ValidationJob{}, err
	}
	job, err := r.store.CreateJob(ctx, documentID)
	if err != nil {
		return models.ValidationJob{}, fmt.Errorf("create job: %w", err)
	}
	telemetry.JobsCreated.Inc()
	r.log.Info("validation job created", zap.String("job_id", job.ID), zap.String("document_id", documentID))
	return job, nil
}

// Run executes a job in the calling goroutine. Uploads are validated one at a time and
// progress is persisted after each. It returns nil when the job completed; otherwise
// the job has been marked failed and the cause is returned.
func (r *Runner) Run(ctx context.Context, jobID, documentID string) (err error) {
	telemetry.JobsRunning.Inc()
	defer telemetry.JobsRunning.Dec()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			r.fail(ctx, jobID, err)
		}
	}()

	if err := r.store.UpdateJob(ctx, jobID, models.UpdateStatus(models.StatusRunning)); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	doc, err := r.document(ctx, documentID)
	if err != nil {
		return err
	}
	uploads, err := r.eligible(ctx, documentID)
	if err != nil {
		return err
	}

	total := len(uploads)
	if err := r.store.UpdateJob(ctx, jobID, models.UpdateStatus(models.StatusRunning).WithTotal(total).WithProcessed(0)); err != nil {
		return fmt.Errorf("record total: %w", err)
	}

	results := make([]models.UploadResult, 0, total)
	for i, up := range uploads {
		results = append(results, r.validator.Validate(ctx, doc, up))
		if err := r.store.UpdateJob(ctx, jobID, models.UpdateStatus(models.StatusRunning).WithProcessed(i+1)); err != nil {
			return fmt.Errorf("record progress: %w", err)
		}
	}

	result := models.Aggregate(doc.ID, results)
	done := models.UpdateStatus(models.StatusCompleted).WithResult(result).WithProcessed(total)
	if err := r.store.UpdateJob(ctx, jobID, done); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	telemetry.JobsCompleted.Inc()

	msg := fmt.Sprintf("Validation job %s completed: %d successful, %d failed", jobID, result.SuccessfulUploads, result.FailedUploads)
	r.event(ctx, models.LogEntry{Level: models.LevelInfo, Message: msg})
	r.log.Info("validation job completed",
		zap.String("job_id", jobID),
		zap.Int("successful", result.SuccessfulUploads),
		zap.Int("failed", result.FailedUploads),
	)
	return nil
}

func (r *Runner) document(ctx context.Context, documentID string) (models.Document, error) {
	doc, err := r.store.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("load document: %w", err)
	}
	return doc, nil
}

func (r *Runner) eligible(ctx context.Context, documentID string) ([]models.Upload, error) {
	uploads, err := r.store.ListEligibleUploads(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	if len(uploads) == 0 {
		return nil, ErrNoEligibleUploads
	}
	return uploads, nil
}

// fail writes the terminal state even when ctx is already done.
func (r *Runner) fail(ctx context.Context, jobID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	telemetry.JobsFailed.Inc()
	msg := cause.Error()
	r.log.Error("validation job failed", zap.String("job_id", jobID), zap.Error(cause))
	r.event(ctx, models.LogEntry{Level: models.LevelError, Message: fmt.Sprintf("Validation job %s failed", jobID), Context: &msg})
	if err := r.store.UpdateJob(ctx, jobID, models.UpdateStatus(models.StatusFailed).WithError(msg)); err != nil {
		r.log.Error("mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (r *Runner) event(ctx context.Context, entry models.LogEntry) {
	if err := r.store.LogEvent(ctx, entry); err != nil {
		r.log.Warn("write event log", zap.Error(err))
	}
}

// Status returns the job snapshot.
func (r *Runner) Status(ctx context.Context, jobID string) (models.JobSnapshot, error) {
	job, err := r.job(ctx, jobID)
	if err != nil {
		return models.JobSnapshot{}, err
	}
	return job.Snapshot(), nil
}

// Result returns the result view; the aggregate is only present once completed.
func (r *Runner) Result(ctx context.Context, jobID string) (models.JobResult, error) {
	job, err := r.job(ctx, jobID)
	if err != nil {
		return models.JobResult{}, err
	}
	return job.ResultView(), nil
}

// History lists the jobs of a document, newest first.
func (r *Runner) History(ctx context.Context, documentID string) ([]models.JobSnapshot, error) {
	if _, err := r.document(ctx, documentID); err != nil {
		return nil, err
	}
	jobs, err := r.store.ListJobsByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]models.JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	return out, nil
}

func (r *Runner) job(ctx context.Context, jobID string) (models.ValidationJob, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return models.ValidationJob{}, ErrJobNotFound
	}
	if err != nil {
		return models.ValidationJob{}, fmt.Errorf("load job: %w", err)
	}
	return job, nil
}

// Wait blocks until every background run started by Create has returned, or ctx ends.
// Runs are never cancelled.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
