package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"ocr-accuracy-validator/internal/config"
)

// DayLayout is the UTC calendar-day partition prefix of every stored key (dd-mm-yyyy).
const DayLayout = "02-01-2006"

// DefaultSubfolder is used when a key carries no subfolder.
const DefaultSubfolder = "uploads"

var (
	// ErrBackendMismatch is returned when a Ref belongs to a backend other than the active one.
	ErrBackendMismatch = errors.New("storage: reference belongs to another backend")
	// ErrNotFound is returned when the referenced bytes do not exist.
	ErrNotFound = errors.New("storage: object not found")
)

// Object is an opened stored file ready to be streamed.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
	ModTime     time.Time
}

// Backend stores and retrieves file bytes. Returned refs are opaque to callers.
type Backend interface {
	// Save stores data under dd-mm-yyyy/subfolder/filename for the current UTC day.
	Save(ctx context.Context, subfolder, filename string, data []byte, contentType string) (Ref, error)
	// SaveKey stores data under key, reusing it verbatim when it already carries a day prefix.
	SaveKey(ctx context.Context, key string, data []byte, contentType string) (Ref, error)
	Read(ctx context.Context, ref Ref) ([]byte, error)
	// Delete is best-effort cleanup; callers may ignore the error.
	Delete(ctx context.Context, ref Ref) error
	Open(ctx context.Context, ref Ref) (*Object, error)
	Kind() Kind
}

// New builds the backend selected by configuration. The choice is fixed for the process lifetime.
func New(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendLocal, "":
		return NewLocal(cfg.StorageDir)
	case config.StorageBackendS3:
		client, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewRemote(ctx, client, cfg.S3Bucket, cfg.S3Region)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// HasDayPrefix reports whether the first key segment is a dd-mm-yyyy date.
func HasDayPrefix(key string) bool {
	first, _, _ := strings.Cut(sanitizeKey(key), "/")
	_, err := time.Parse(DayLayout, first)
	return err == nil
}

// DatedKey builds dd-mm-yyyy/subfolder/filename for the UTC day of now.
func DatedKey(now time.Time, subfolder, filename string) string {
	if subfolder = sanitizeKey(subfolder); subfolder == "" {
		subfolder = DefaultSubfolder
	}
	return path.Join(now.UTC().Format(DayLayout), subfolder, sanitizeKey(filename))
}

// NormalizeKey returns key unchanged when it is already day-prefixed, otherwise splits
// it into subfolder/filename and partitions it under the current day.
func NormalizeKey(now time.Time, key string) string {
	key = sanitizeKey(key)
	if HasDayPrefix(key) {
		return key
	}
	subfolder, filename, ok := strings.Cut(key, "/")
	if !ok {
		return DatedKey(now, DefaultSubfolder, key)
	}
	return DatedKey(now, subfolder, filename)
}

// sanitizeKey cleans a slash separated key so it can never climb out of its root.
func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	key = path.Clean("/" + key)
	return strings.TrimPrefix(key, "/")
}

func joinKey(subfolder, filename string) string {
	if strings.TrimSpace(subfolder) == "" {
		return filename
	}
	return strings.TrimSuffix(subfolder, "/") + "/" + filename
}
