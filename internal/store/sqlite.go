package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"ocr-accuracy-validator/internal/models"
	"ocr-accuracy-validator/internal/storage"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
  id TEXT PRIMARY KEY,
  project_id TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL,
  ocr_url TEXT,
  sample_json_path TEXT,
  created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS uploads (
  id TEXT PRIMARY KEY,
  document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  file_path TEXT NOT NULL,
  user_input_json_path TEXT,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_document ON uploads (document_id);
CREATE TABLE IF NOT EXISTS validation_results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  document_id TEXT NOT NULL,
  upload_id TEXT NOT NULL,
  field_name TEXT NOT NULL,
  user_value TEXT NOT NULL,
  ocr_value TEXT NOT NULL,
  accuracy REAL NOT NULL CHECK (accuracy >= 0 AND accuracy <= 1),
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validation_results_upload ON validation_results (upload_id);
CREATE TABLE IF NOT EXISTS validation_jobs (
  id TEXT PRIMARY KEY,
  document_id TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  started_at INTEGER,
  completed_at INTEGER,
  error TEXT,
  total_uploads INTEGER,
  processed_uploads INTEGER,
  result TEXT
);
CREATE INDEX IF NOT EXISTS idx_validation_jobs_document ON validation_jobs (document_id);
CREATE TABLE IF NOT EXISTS logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  level TEXT NOT NULL,
  message TEXT NOT NULL,
  context TEXT,
  created_at INTEGER NOT NULL
);
`

// SQLite is the embedded single-node store.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database file and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() { _ = s.db.Close() }

func (s *SQLite) CreateJob(ctx context.Context, documentID string) (models.ValidationJob, error) {
	job := models.ValidationJob{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Status:     models.StatusPending,
		CreatedAt:  s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_jobs (id, document_id, status, created_at) VALUES (?, ?, ?, ?)`,
		job.ID, job.DocumentID, string(job.Status), job.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return models.ValidationJob{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *SQLite) GetJob(ctx context.Context, id string) (models.ValidationJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM validation_jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ValidationJob{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, err
}

func (s *SQLite) UpdateJob(ctx context.Context, id string, u models.JobUpdate) error {
	var status any
	if u.Status != nil {
		status = string(*u.Status)
	}
	var result any
	if u.Result != nil {
		b, err := json.Marshal(u.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = string(b)
	}
	now := s.now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE validation_jobs
		SET status            = COALESCE(?, status),
		    started_at        = CASE WHEN started_at IS NULL AND ? = 'running' THEN ? ELSE started_at END,
		    completed_at      = CASE WHEN completed_at IS NULL AND ? IN ('completed', 'failed') THEN ? ELSE completed_at END,
		    error             = COALESCE(?, error),
		    result            = COALESCE(?, result),
		    total_uploads     = COALESCE(?, total_uploads),
		    processed_uploads = COALESCE(?, processed_uploads)
		WHERE id = ?`,
		status, status, now, status, now,
		nullableString(u.Error), result, nullableInt(u.TotalUploads), nullableInt(u.ProcessedUploads),
		id,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) ListJobsByDocument(ctx context.Context, documentID string) ([]models.ValidationJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM validation_jobs WHERE document_id = ? ORDER BY created_at DESC, rowid DESC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ValidationJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (models.ValidationJob, error) {
	var (
		job        models.ValidationJob
		status     string
		createdMs  int64
		started    sql.NullInt64
		completed  sql.NullInt64
		lastErr    sql.NullString
		total      sql.NullInt64
		processed  sql.NullInt64
		resultJSON sql.NullString
	)
	if err := row.Scan(&job.ID, &job.DocumentID, &status, &createdMs, &started, &completed, &lastErr, &total, &processed, &resultJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ValidationJob{}, err
		}
		return models.ValidationJob{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = models.JobStatus(status)
	job.CreatedAt = time.UnixMilli(createdMs).UTC()
	job.StartedAt = millisPtr(started)
	job.CompletedAt = millisPtr(completed)
	job.Error = stringPtr(lastErr)
	job.TotalUploads = nullIntPtr(total)
	job.ProcessedUploads = nullIntPtr(processed)
	if resultJSON.Valid && resultJSON.String != "" {
		var r models.DocumentResult
		if err := json.Unmarshal([]byte(resultJSON.String), &r); err != nil {
			return models.ValidationJob{}, fmt.Errorf("unmarshal result: %w", err)
		}
		job.Result = &r
	}
	return job, nil
}

func (s *SQLite) CreateDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, project_id, name, ocr_url, sample_json_path, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ProjectID, doc.Name, nullableString(doc.OCRURL), nullableString(refText(doc.SampleJSON)), doc.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *SQLite) GetDocument(ctx context.Context, id string) (models.Document, error) {
	var (
		doc       models.Document
		ocrURL    sql.NullString
		sample    sql.NullString
		createdMs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, ocr_url, sample_json_path, created_at FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.ProjectID, &doc.Name, &ocrURL, &sample, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("scan document: %w", err)
	}
	doc.CreatedAt = time.UnixMilli(createdMs).UTC()
	doc.OCRURL = stringPtr(ocrURL)
	if doc.SampleJSON, err = optionalRef(stringPtr(sample)); err != nil {
		return models.Document{}, err
	}
	return doc, nil
}

func (s *SQLite) CreateUpload(ctx context.Context, up models.Upload) (models.Upload, error) {
	if up.ID == "" {
		up.ID = uuid.New().String()
	}
	if up.CreatedAt.IsZero() {
		up.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO uploads (id, document_id, file_path, user_input_json_path, created_at) VALUES (?, ?, ?, ?, ?)`,
		up.ID, up.DocumentID, up.File.String(), nullableString(refText(up.UserInput)), up.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return models.Upload{}, fmt.Errorf("insert upload: %w", err)
	}
	return up, nil
}

func (s *SQLite) GetUpload(ctx context.Context, id string) (models.Upload, error) {
	up, err := scanSQLiteUpload(s.db.QueryRowContext(ctx, `SELECT `+uploadColumns+` FROM uploads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Upload{}, fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	return up, err
}

func (s *SQLite) ListEligibleUploads(ctx context.Context, documentID string) ([]models.Upload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+uploadColumns+` FROM uploads
		WHERE document_id = ? AND user_input_json_path IS NOT NULL
		ORDER BY created_at DESC, id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var out []models.Upload
	for rows.Next() {
		up, err := scanSQLiteUpload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, up)
	}
	return out, rows.Err()
}

func scanSQLiteUpload(row rowScanner) (models.Upload, error) {
	var (
		up        models.Upload
		file      string
		userInput sql.NullString
		createdMs int64
	)
	if err := row.Scan(&up.ID, &up.DocumentID, &file, &userInput, &createdMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Upload{}, err
		}
		return models.Upload{}, fmt.Errorf("scan upload: %w", err)
	}
	up.CreatedAt = time.UnixMilli(createdMs).UTC()
	ref, err := storage.ParseRef(file)
	if err != nil {
		return models.Upload{}, fmt.Errorf("upload %s file: %w", up.ID, err)
	}
	up.File = ref
	if up.UserInput, err = optionalRef(stringPtr(userInput)); err != nil {
		return models.Upload{}, err
	}
	return up, nil
}

func (s *SQLite) ReplaceFieldResults(ctx context.Context, uploadID string, rows []models.FieldResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM validation_results WHERE upload_id = ?`, uploadID); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	now := s.now().UnixMilli()
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO validation_results (document_id, upload_id, field_name, user_value, ocr_value, accuracy, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.DocumentID, uploadID, r.FieldName, r.UserValue, r.OCRValue, r.Accuracy, now,
		); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) ListFieldResults(ctx context.Context, uploadID string) ([]models.FieldResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, upload_id, field_name, user_value, ocr_value, accuracy
		FROM validation_results WHERE upload_id = ? ORDER BY id`, uploadID)
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

func (s *SQLite) LogEvent(ctx context.Context, entry models.LogEntry) error {
	created := entry.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (level, message, context, created_at) VALUES (?, ?, ?, ?)`,
		string(entry.Level), entry.Message, nullableString(entry.Context), created.UnixMilli(),
	)
	return err
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func stringPtr(v sql.NullString) *string {
	if v.Valid {
		return &v.String
	}
	return nil
}

func nullIntPtr(v sql.NullInt64) *int {
	if v.Valid {
		n := int(v.Int64)
		return &n
	}
	return nil
}

func millisPtr(v sql.NullInt64) *time.Time {
	if v.Valid {
		t := time.UnixMilli(v.Int64).UTC()
		return &t
	}
	return nil
}
