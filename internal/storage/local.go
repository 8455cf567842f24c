package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"time"
)

// Local keeps files under a root directory.
type Local struct {
	root string
	now  func() time.Time
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{root: abs, now: time.Now}, nil
}

func (l *Local) Kind() Kind { return KindLocal }

func (l *Local) Save(ctx context.Context, subfolder, filename string, data []byte, contentType string) (Ref, error) {
	if subfolder == "" {
		subfolder = DefaultSubfolder
	}
	return l.SaveKey(ctx, joinKey(subfolder, filename), data, contentType)
}

func (l *Local) SaveKey(_ context.Context, key string, data []byte, _ string) (Ref, error) {
	key = NormalizeKey(l.now(), key)
	p := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Ref{}, fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return Ref{}, fmt.Errorf("write file: %w", err)
	}
	return LocalRef(p), nil
}

func (l *Local) Read(_ context.Context, ref Ref) ([]byte, error) {
	if ref.Kind != KindLocal {
		return nil, fmt.Errorf("%w: %s ref on local backend", ErrBackendMismatch, ref.Kind)
	}
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, wrapFSError(err, ref)
	}
	return data, nil
}

func (l *Local) Delete(_ context.Context, ref Ref) error {
	if ref.Kind != KindLocal {
		return fmt.Errorf("%w: %s ref on local backend", ErrBackendMismatch, ref.Kind)
	}
	if err := os.Remove(ref.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (l *Local) Open(_ context.Context, ref Ref) (*Object, error) {
	if ref.Kind != KindLocal {
		return nil, fmt.Errorf("%w: %s ref on local backend", ErrBackendMismatch, ref.Kind)
	}
	f, err := os.Open(ref.Path)
	if err != nil {
		return nil, wrapFSError(err, ref)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(ref.Path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Object{
		Body:        f,
		ContentType: contentType,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}

func wrapFSError(err error, ref Ref) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return fmt.Errorf("read file: %w", err)
}
