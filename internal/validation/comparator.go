package validation

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"ocr-accuracy-validator/internal/models"
)

// Similarity is the SequenceMatcher ratio 2*M/T of the trimmed strings, compared rune by
// rune. Two empty strings score 1.0.
func Similarity(a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	// The matcher's block search is not order-independent; fix the order.
	if b < a {
		a, b = b, a
	}
	m := difflib.NewMatcher(runes(a), runes(b))
	return m.Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// Compare scores every user field against the OCR value of the same name (missing OCR
// fields compare against ""). OCR-only fields are ignored. overall is the mean score,
// 0.0 when there are no user fields.
func Compare(user []Field, ocr map[string]string) ([]models.FieldScore, float64) {
	scores := make([]models.FieldScore, 0, len(user))
	if len(user) == 0 {
		return scores, 0
	}
	var sum float64
	for _, f := range user {
		ocrValue := ocr[f.Name]
		acc := Similarity(f.Value, ocrValue)
		sum += acc
		scores = append(scores, models.FieldScore{
			FieldName: f.Name,
			UserValue: f.Value,
			OCRValue:  ocrValue,
			Accuracy:  acc,
		})
	}
	return scores, sum / float64(len(user))
}
