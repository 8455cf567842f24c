package validation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ocr-accuracy-validator/internal/models"
	"ocr-accuracy-validator/internal/ocr"
	"ocr-accuracy-validator/internal/storage"
	"ocr-accuracy-validator/internal/telemetry"
)

// Upload-level error reasons.
const (
	ReasonNoUserInput      = "Upload has no user input JSON"
	ReasonInvalidUserInput = "User input JSON format invalid; expected an object"
	ReasonNoOCREndpoint    = "Document has no OCR URL configured"
	ReasonNoSampleJSON     = "Sample JSON not uploaded for document"
)

// FileReader loads stored bytes by reference.
type FileReader interface {
	Read(ctx context.Context, ref storage.Ref) ([]byte, error)
}

// OCRClient submits a file to an OCR endpoint and returns the decoded JSON reply.
type OCRClient interface {
	Submit(ctx context.Context, endpoint, filename string, data []byte) (any, error)
}

// ResultSink replaces the stored field results of an upload.
type ResultSink interface {
	ReplaceFieldResults(ctx context.Context, uploadID string, rows []models.FieldResult) error
}

// EventLog is the append-only event sink.
type EventLog interface {
	LogEvent(ctx context.Context, entry models.LogEntry) error
}

// Pipeline validates a single upload end to end.
type Pipeline struct {
	files   FileReader
	ocr     OCRClient
	results ResultSink
	events  EventLog
	log     *zap.Logger
}

func NewPipeline(files FileReader, client OCRClient, results ResultSink, events EventLog, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{files: files, ocr: client, results: results, events: events, log: log}
}

// Validate never fails: every problem is reported in UploadResult.Error.
func (p *Pipeline) Validate(ctx context.Context, doc models.Document, up models.Upload) (res models.UploadResult) {
	defer func() {
		if r := recover(); r != nil {
			res = p.fail(ctx, up.ID, fmt.Sprintf("Validation error: %v", r),
				fmt.Sprintf("Validation error for upload %s", up.ID), fmt.Sprint(r))
		}
		outcome := telemetry.OutcomeSuccess
		if res.Error != nil {
			outcome = telemetry.OutcomeError
		}
		telemetry.UploadsValidated.WithLabelValues(outcome).Inc()
	}()
	return p.validate(ctx, doc, up)
}

func (p *Pipeline) validate(ctx context.Context, doc models.Document, up models.Upload) models.UploadResult {
	if !up.Eligible() {
		return p.fail(ctx, up.ID, ReasonNoUserInput, "Upload has no user input JSON: "+up.ID, "")
	}
	raw, err := p.files.Read(ctx, *up.UserInput)
	if err != nil {
		return p.unexpected(ctx, up.ID, fmt.Errorf("read user input: %w", err))
	}
	fields, err := DecodeUserFields(raw)
	if err != nil {
		if errors.Is(err, ErrInvalidUserInput) {
			return p.fail(ctx, up.ID, ReasonInvalidUserInput, "Invalid user input JSON for upload "+up.ID, err.Error())
		}
		return p.unexpected(ctx, up.ID, err)
	}

	if doc.OCRURL == nil || *doc.OCRURL == "" {
		return p.fail(ctx, up.ID, ReasonNoOCREndpoint, "Document has no OCR URL configured: "+doc.ID, "")
	}

	var resp any
	if doc.UsesMockOCR() {
		if doc.SampleJSON == nil {
			return p.fail(ctx, up.ID, ReasonNoSampleJSON, "Sample JSON not uploaded for document "+doc.ID, "")
		}
		resp, err = p.readSample(ctx, *doc.SampleJSON)
		if err != nil {
			return p.fail(ctx, up.ID, "Failed to read sample JSON: "+err.Error(),
				"Failed to read sample JSON for document "+doc.ID, err.Error())
		}
	} else {
		resp, err = p.callOCR(ctx, *doc.OCRURL, up)
		if err != nil {
			return p.fail(ctx, up.ID, "OCR service error: "+err.Error(),
				"OCR request failed for upload "+up.ID, err.Error())
		}
	}

	ocrFields := ExtractFields(resp)
	scores, overall := Compare(fields, ocrFields)

	rows := make([]models.FieldResult, 0, len(scores))
	for _, s := range scores {
		rows = append(rows, models.FieldResult{
			DocumentID: doc.ID,
			UploadID:   up.ID,
			FieldName:  s.FieldName,
			UserValue:  s.UserValue,
			OCRValue:   s.OCRValue,
			Accuracy:   s.Accuracy,
		})
	}
	if err := p.results.ReplaceFieldResults(ctx, up.ID, rows); err != nil {
		return p.unexpected(ctx, up.ID, fmt.Errorf("persist field results: %w", err))
	}

	p.log.Debug("upload validated",
		zap.String("upload_id", up.ID),
		zap.Int("fields", len(scores)),
		zap.Float64("overall_accuracy", overall),
	)
	return models.UploadResult{
		UploadID:        up.ID,
		Results:         scores,
		OverallAccuracy: overall,
		ProcessingTime:  processingTime(resp),
	}
}

func (p *Pipeline) readSample(ctx context.Context, ref storage.Ref) (any, error) {
	raw, err := p.files.Read(ctx, ref)
	if err != nil {
		return nil, err
	}
	return ocr.DecodeResponse(raw)
}

func (p *Pipeline) callOCR(ctx context.Context, endpoint string, up models.Upload) (any, error) {
	data, err := p.files.Read(ctx, up.File)
	if err != nil {
		return nil, fmt.Errorf("read upload file: %w", err)
	}
	return p.ocr.Submit(ctx, endpoint, up.File.Name(), data)
}

func (p *Pipeline) unexpected(ctx context.Context, uploadID string, err error) models.UploadResult {
	return p.fail(ctx, uploadID, "Validation error: "+err.Error(),
		"Validation error for upload "+uploadID, err.Error())
}

// fail logs the problem to both sinks and builds the error outcome.
func (p *Pipeline) fail(ctx context.Context, uploadID, reason, event, detail string) models.UploadResult {
	p.log.Warn("upload validation failed",
		zap.String("upload_id", uploadID),
		zap.String("reason", reason),
	)
	entry := models.LogEntry{Level: models.LevelError, Message: event}
	if detail != "" {
		entry.Context = &detail
	}
	if err := p.events.LogEvent(ctx, entry); err != nil {
		p.log.Error("write event log", zap.String("upload_id", uploadID), zap.Error(err))
	}
	return models.Failed(uploadID, reason)
}
