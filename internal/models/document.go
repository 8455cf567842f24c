package models

import (
	"strings"
	"time"

	"ocr-accuracy-validator/internal/storage"
)

// MockOCREndpoint makes the pipeline use the document's sample JSON instead of a live OCR call.
const MockOCREndpoint = "mock"

// Document groups uploads of one form type and carries its OCR configuration.
type Document struct {
	ID         string       `json:"id"`
	ProjectID  string       `json:"project_id"`
	Name       string       `json:"name"`
	OCRURL     *string      `json:"ocr_url"`
	SampleJSON *storage.Ref `json:"sample_json_path"`
	CreatedAt  time.Time    `json:"created_at"`
}

// UsesMockOCR reports whether the OCR endpoint is the "mock" sentinel.
func (d Document) UsesMockOCR() bool {
	return d.OCRURL != nil && strings.EqualFold(strings.TrimSpace(*d.OCRURL), MockOCREndpoint)
}

// Upload is one scanned file belonging to a document.
type Upload struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"document_id"`
	File       storage.Ref  `json:"file_path"`
	UserInput  *storage.Ref `json:"user_input_json_path"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Eligible reports whether the upload has a user-input reference to validate against.
func (u Upload) Eligible() bool {
	return u.UserInput != nil
}
