package storage

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Kind tells which backend owns the bytes behind a Ref.
type Kind int

const (
	KindLocal Kind = iota + 1
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

const (
	s3Scheme = "s3://"
	// Identifiers written before bucket names were recorded.
	legacyRemoteScheme = "minio://"
)

// ErrInvalidRef is returned when a persisted identifier cannot be decoded.
var ErrInvalidRef = errors.New("storage: invalid reference")

// Ref is the decoded form of a persisted storage identifier. It is decoded once when
// read from the database and encoded again with String when written back.
type Ref struct {
	Kind   Kind
	Path   string // local filesystem path
	Bucket string // remote bucket; empty means the backend's configured bucket
	Key    string // remote object key
}

// LocalRef references a file on the local filesystem.
func LocalRef(p string) Ref {
	return Ref{Kind: KindLocal, Path: p}
}

// RemoteRef references an object in an S3-compatible bucket.
func RemoteRef(bucket, key string) Ref {
	return Ref{Kind: KindRemote, Bucket: bucket, Key: key}
}

// ParseRef decodes a persisted identifier.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Ref{}, fmt.Errorf("%w: empty identifier", ErrInvalidRef)
	case strings.HasPrefix(s, s3Scheme):
		rest := strings.TrimPrefix(s, s3Scheme)
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
		}
		return RemoteRef(bucket, key), nil
	case strings.HasPrefix(s, legacyRemoteScheme):
		key := strings.TrimPrefix(s, legacyRemoteScheme)
		if key == "" {
			return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, s)
		}
		return RemoteRef("", key), nil
	default:
		return LocalRef(s), nil
	}
}

// String encodes the reference for persistence.
func (r Ref) String() string {
	switch r.Kind {
	case KindLocal:
		return r.Path
	case KindRemote:
		if r.Bucket == "" {
			return legacyRemoteScheme + r.Key
		}
		return s3Scheme + r.Bucket + "/" + r.Key
	default:
		return ""
	}
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.Kind == 0
}

// Name is the base file name of the referenced object.
func (r Ref) Name() string {
	switch r.Kind {
	case KindLocal:
		return filepath.Base(r.Path)
	case KindRemote:
		return path.Base(r.Key)
	default:
		return ""
	}
}

func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Ref) UnmarshalText(b []byte) error {
	parsed, err := ParseRef(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
