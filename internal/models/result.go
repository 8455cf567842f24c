package models

// FieldResult is a persisted per-field comparison row.
type FieldResult struct {
	DocumentID string  `json:"document_id"`
	UploadID   string  `json:"upload_id"`
	FieldName  string  `json:"field_name"`
	UserValue  string  `json:"user_value"`
	OCRValue   string  `json:"ocr_value"`
	Accuracy   float64 `json:"accuracy"`
}

// FieldScore is a field comparison as reported inside an UploadResult.
type FieldScore struct {
	FieldName string  `json:"field_name"`
	UserValue string  `json:"user_value"`
	OCRValue  string  `json:"ocr_value"`
	Accuracy  float64 `json:"accuracy"`
}

// UploadResult is the outcome of validating one upload. Error and Results are exclusive.
type UploadResult struct {
	UploadID        string       `json:"upload_id"`
	Results         []FieldScore `json:"results"`
	OverallAccuracy float64      `json:"overall_accuracy"`
	ProcessingTime  *float64     `json:"ocr_processing_time,omitempty"`
	Error           *string      `json:"error,omitempty"`
}

// Failed builds the error outcome for an upload.
func Failed(uploadID, reason string) UploadResult {
	return UploadResult{
		UploadID:        uploadID,
		Results:         []FieldScore{},
		OverallAccuracy: 0,
		Error:           &reason,
	}
}

// DocumentResult aggregates all upload outcomes of a job.
type DocumentResult struct {
	DocumentID        string         `json:"document_id"`
	UploadResults     []UploadResult `json:"upload_results"`
	TotalUploads      int            `json:"total_uploads"`
	SuccessfulUploads int            `json:"successful_uploads"`
	FailedUploads     int            `json:"failed_uploads"`
}

// Aggregate counts successes (no error) and failures over the upload results.
func Aggregate(documentID string, results []UploadResult) DocumentResult {
	successful := 0
	for _, r := range results {
		if r.Error == nil {
			successful++
		}
	}
	if results == nil {
		results = []UploadResult{}
	}
	return DocumentResult{
		DocumentID:        documentID,
		UploadResults:     results,
		TotalUploads:      len(results),
		SuccessfulUploads: successful,
		FailedUploads:     len(results) - successful,
	}
}
