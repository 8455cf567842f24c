package store

import (
	"context"
	"errors"
	"fmt"

	"ocr-accuracy-validator/internal/config"
	"ocr-accuracy-validator/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence surface shared by the Postgres and SQLite implementations.
type Store interface {
	CreateJob(ctx context.Context, documentID string) (models.ValidationJob, error)
	GetJob(ctx context.Context, id string) (models.ValidationJob, error)
	UpdateJob(ctx context.Context, id string, u models.JobUpdate) error
	ListJobsByDocument(ctx context.Context, documentID string) ([]models.ValidationJob, error)

	CreateDocument(ctx context.Context, doc models.Document) (models.Document, error)
	GetDocument(ctx context.Context, id string) (models.Document, error)
	CreateUpload(ctx context.Context, up models.Upload) (models.Upload, error)
	GetUpload(ctx context.Context, id string) (models.Upload, error)
	ListEligibleUploads(ctx context.Context, documentID string) ([]models.Upload, error)

	ReplaceFieldResults(ctx context.Context, uploadID string, rows []models.FieldResult) error
	ListFieldResults(ctx context.Context, uploadID string) ([]models.FieldResult, error)

	LogEvent(ctx context.Context, entry models.LogEntry) error

	Close()
}

// Open connects the store selected by configuration and applies its schema.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pg, err := NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, nil
	case config.StoreDriverSQLite:
		db, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
