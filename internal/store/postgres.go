package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"ocr-accuracy-validator/internal/models"
	"ocr-accuracy-validator/internal/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Postgres wraps pgxpool for Postgres persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// CreateJob inserts a pending job row.
func (s *Postgres) CreateJob(ctx context.Context, documentID string) (models.ValidationJob, error) {
	job := models.ValidationJob{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Status:     models.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO validation_jobs (id, document_id, status, created_at)
		VALUES ($1, $2, $3, $4)
	`, job.ID, job.DocumentID, string(job.Status), job.CreatedAt)
	if err != nil {
		return models.ValidationJob{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

const jobColumns = `id, document_id, status, created_at, started_at, completed_at, error, total_uploads, processed_uploads, result`

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.ValidationJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM validation_jobs WHERE id = $1`, id)
	job, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ValidationJob{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

// UpdateJob applies the field mask in a single statement. started_at and completed_at
// are only ever written once.
func (s *Postgres) UpdateJob(ctx context.Context, id string, u models.JobUpdate) error {
	var status *string
	if u.Status != nil {
		v := string(*u.Status)
		status = &v
	}
	var result []byte
	if u.Result != nil {
		b, err := json.Marshal(u.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = b
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE validation_jobs
		SET status            = COALESCE($2, status),
		    started_at        = CASE WHEN started_at IS NULL AND $2 = 'running' THEN NOW() ELSE started_at END,
		    completed_at      = CASE WHEN completed_at IS NULL AND $2 IN ('completed', 'failed') THEN NOW() ELSE completed_at END,
		    error             = COALESCE($3, error),
		    result            = COALESCE($4::jsonb, result),
		    total_uploads     = COALESCE($5, total_uploads),
		    processed_uploads = COALESCE($6, processed_uploads)
		WHERE id = $1
	`, id, status, u.Error, result, u.TotalUploads, u.ProcessedUploads)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListJobsByDocument returns the jobs of a document, newest first.
func (s *Postgres) ListJobsByDocument(ctx context.Context, documentID string) ([]models.ValidationJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM validation_jobs WHERE document_id = $1 ORDER BY created_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ValidationJob
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanPgJob(row pgx.Row) (models.ValidationJob, error) {
	var (
		job        models.ValidationJob
		status     string
		started    pgtype.Timestamptz
		completed  pgtype.Timestamptz
		lastErr    pgtype.Text
		total      pgtype.Int4
		processed  pgtype.Int4
		resultJSON []byte
	)
	if err := row.Scan(&job.ID, &job.DocumentID, &status, &job.CreatedAt, &started, &completed, &lastErr, &total, &processed, &resultJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ValidationJob{}, err
		}
		return models.ValidationJob{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.JobStatus(status)
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	job.Error = textPtr(lastErr)
	job.TotalUploads = intPtr(total)
	job.ProcessedUploads = intPtr(processed)
	if len(resultJSON) > 0 {
		var r models.DocumentResult
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return models.ValidationJob{}, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &r
	}
	return job, nil
}

// CreateDocument inserts a document; an empty ID is generated.
func (s *Postgres) CreateDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, project_id, name, ocr_url, sample_json_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, doc.ID, doc.ProjectID, doc.Name, doc.OCRURL, refText(doc.SampleJSON), doc.CreatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// GetDocument fetches a document by id.
func (s *Postgres) GetDocument(ctx context.Context, id string) (models.Document, error) {
	var (
		doc    models.Document
		ocrURL pgtype.Text
		sample pgtype.Text
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, name, ocr_url, sample_json_path, created_at FROM documents WHERE id = $1
	`, id).Scan(&doc.ID, &doc.ProjectID, &doc.Name, &ocrURL, &sample, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("scan document: %w", err)
	}
	doc.OCRURL = textPtr(ocrURL)
	if doc.SampleJSON, err = optionalRef(textPtr(sample)); err != nil {
		return models.Document{}, err
	}
	return doc, nil
}

// CreateUpload inserts an upload; an empty ID is generated.
func (s *Postgres) CreateUpload(ctx context.Context, up models.Upload) (models.Upload, error) {
	if up.ID == "" {
		up.ID = uuid.New().String()
	}
	if up.CreatedAt.IsZero() {
		up.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO uploads (id, document_id, file_path, user_input_json_path, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, up.ID, up.DocumentID, up.File.String(), refText(up.UserInput), up.CreatedAt)
	if err != nil {
		return models.Upload{}, fmt.Errorf("insert upload: %w", err)
	}
	return up, nil
}

const uploadColumns = `id, document_id, file_path, user_input_json_path, created_at`

// GetUpload fetches an upload by id.
func (s *Postgres) GetUpload(ctx context.Context, id string) (models.Upload, error) {
	up, err := scanPgUpload(s.pool.QueryRow(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Upload{}, fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	return up, err
}

// ListEligibleUploads returns uploads of the document that carry user input, newest first.
func (s *Postgres) ListEligibleUploads(ctx context.Context, documentID string) ([]models.Upload, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+uploadColumns+` FROM uploads
		WHERE document_id = $1 AND user_input_json_path IS NOT NULL
		ORDER BY created_at DESC, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var out []models.Upload
	for rows.Next() {
		up, err := scanPgUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, up)
	}
	return out, rows.Err()
}

func scanPgUpload(row pgx.Row) (models.Upload, error) {
	var (
		up        models.Upload
		file      string
		userInput pgtype.Text
	)
	if err := row.Scan(&up.ID, &up.DocumentID, &file, &userInput, &up.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Upload{}, err
		}
		return models.Upload{}, fmt.Errorf("scan upload: %w", err)
	}
	ref, err := storage.ParseRef(file)
	if err != nil {
		return models.Upload{}, fmt.Errorf("upload %s file: %w", up.ID, err)
	}
	up.File = ref
	if up.UserInput, err = optionalRef(textPtr(userInput)); err != nil {
		return models.Upload{}, err
	}
	return up, nil
}

// ReplaceFieldResults deletes every prior result of the upload and inserts rows, atomically.
func (s *Postgres) ReplaceFieldResults(ctx context.Context, uploadID string, rows []models.FieldResult) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `DELETE FROM validation_results WHERE upload_id = $1`, uploadID); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	if len(rows) > 0 {
		batch := &pgx.Batch{}
		for _, r := range rows {
			batch.Queue(`
				INSERT INTO validation_results (document_id, upload_id, field_name, user_value, ocr_value, accuracy)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, r.DocumentID, uploadID, r.FieldName, r.UserValue, r.OCRValue, r.Accuracy)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert results: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListFieldResults returns the stored results of an upload in insertion order.
func (s *Postgres) ListFieldResults(ctx context.Context, uploadID string) ([]models.FieldResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document_id, upload_id, field_name, user_value, ocr_value, accuracy
		FROM validation_results WHERE upload_id = $1 ORDER BY id
	`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := []models.FieldResult{}
	for rows.Next() {
		var r models.FieldResult
		if err := rows.Scan(&r.DocumentID, &r.UploadID, &r.FieldName, &r.UserValue, &r.OCRValue, &r.Accuracy); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LogEvent appends a row to the event log.
func (s *Postgres) LogEvent(ctx context.Context, entry models.LogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO logs (level, message, context, created_at)
		VALUES ($1, $2, $3, NOW())
	`, string(entry.Level), entry.Message, entry.Context)
	return err
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}

func intPtr(v pgtype.Int4) *int {
	if v.Valid {
		n := int(v.Int32)
		return &n
	}
	return nil
}
