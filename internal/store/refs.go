package store

import (
	"fmt"

	"ocr-accuracy-validator/internal/storage"
)

// refText encodes an optional ref for a nullable column.
func refText(ref *storage.Ref) *string {
	if ref == nil || ref.IsZero() {
		return nil
	}
	s := ref.String()
	return &s
}

// optionalRef decodes a nullable identifier column.
func optionalRef(s *string) (*storage.Ref, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	ref, err := storage.ParseRef(*s)
	if err != nil {
		return nil, fmt.Errorf("decode identifier: %w", err)
	}
	return &ref, nil
}
