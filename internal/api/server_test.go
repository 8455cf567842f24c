package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ocr-accuracy-validator/internal/jobs"
	"ocr-accuracy-validator/internal/models"
	"ocr-accuracy-validator/internal/ratelimit"
	"ocr-accuracy-validator/internal/storage"
	"ocr-accuracy-validator/internal/store"
)

type okValidator struct{}

func (okValidator) Validate(_ context.Context, _ models.Document, up models.Upload) models.UploadResult {
	return models.UploadResult{UploadID: up.ID, Results: []models.FieldScore{}, OverallAccuracy: 1}
}

type fixture struct {
	srv    *httptest.Server
	db     *store.SQLite
	files  *storage.Local
	runner *jobs.Runner
}

func newFixture(t *testing.T, limiter Limiter) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(db.Close)
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	runner := jobs.NewRunner(db, okValidator{}, zap.NewNop())
	srv := httptest.NewServer(New(runner, db, files, limiter, zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, db: db, files: files, runner: runner}
}

func (f *fixture) seedDocument(t *testing.T, withUpload bool) (models.Document, models.Upload) {
	t.Helper()
	ctx := context.Background()
	sample, err := f.files.Save(ctx, "samples", "sample.json", []byte(`{"information":[]}`), "application/json")
	if err != nil {
		t.Fatalf("save sample: %v", err)
	}
	mock := "mock"
	doc, err := f.db.CreateDocument(ctx, models.Document{Name: "Form", OCRURL: &mock, SampleJSON: &sample})
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if !withUpload {
		return doc, models.Upload{}
	}
	file, _ := f.files.Save(ctx, "uploads", "scan.png", []byte("PNGDATA"), "image/png")
	input, _ := f.files.Save(ctx, "user_input", "in.json", []byte(`{}`), "application/json")
	up, err := f.db.CreateUpload(ctx, models.Upload{DocumentID: doc.ID, File: file, UserInput: &input})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return doc, up
}

func postRun(t *testing.T, base, documentID string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"document_id": documentID})
	resp, err := http.Post(base+"/validation/run", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestRunAndPollJob(t *testing.T) {
	f := newFixture(t, nil)
	doc, _ := f.seedDocument(t, true)

	resp := postRun(t, f.srv.URL, doc.ID)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created models.JobSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.JobID == "" || created.Status != models.StatusPending {
		t.Fatalf("unexpected snapshot %+v", created)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.runner.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	res, err := http.Get(f.srv.URL + "/validation/result/" + created.JobID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	defer res.Body.Close()
	var view models.JobResult
	if err := json.NewDecoder(res.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != models.StatusCompleted || view.Result == nil || view.Result.SuccessfulUploads != 1 {
		t.Fatalf("unexpected result %+v", view)
	}

	hist, err := http.Get(f.srv.URL + "/documents/" + doc.ID + "/validation-jobs")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer hist.Body.Close()
	var snaps []models.JobSnapshot
	if err := json.NewDecoder(hist.Body).Decode(&snaps); err != nil || len(snaps) != 1 {
		t.Fatalf("unexpected history %v %v", snaps, err)
	}
}

func TestRunErrors(t *testing.T) {
	f := newFixture(t, nil)
	empty, _ := f.seedDocument(t, false)

	cases := []struct {
		name string
		doc  string
		code int
	}{
		{"unknown document", "missing", http.StatusNotFound},
		{"no eligible uploads", empty.ID, http.StatusBadRequest},
		{"missing id", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postRun(t, f.srv.URL, tc.doc)
			resp.Body.Close()
			if resp.StatusCode != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, resp.StatusCode)
			}
		})
	}
	persisted, _ := f.db.ListJobsByDocument(context.Background(), empty.ID)
	if len(persisted) != 0 {
		t.Fatalf("rejected runs must not persist jobs")
	}
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/validation/status/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRunRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	limiter := ratelimit.NewTokenBucket(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1, 0.1)

	f := newFixture(t, limiter)
	doc, _ := f.seedDocument(t, true)

	first := postRun(t, f.srv.URL, doc.ID)
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", first.StatusCode)
	}
	second := postRun(t, f.srv.URL, doc.ID)
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = f.runner.Wait(ctx)
}

func TestDownloadUploadFileAndSample(t *testing.T) {
	f := newFixture(t, nil)
	doc, up := f.seedDocument(t, true)

	resp, err := http.Get(f.srv.URL + "/uploads/" + up.ID + "/file")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if resp.StatusCode != http.StatusOK || buf.String() != "PNGDATA" {
		t.Fatalf("unexpected download %d %q", resp.StatusCode, buf.String())
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, "scan.png") {
		t.Fatalf("unexpected disposition %q", cd)
	}

	sample, err := http.Get(f.srv.URL + "/documents/" + doc.ID + "/sample")
	if err != nil {
		t.Fatalf("get sample: %v", err)
	}
	sample.Body.Close()
	if sample.StatusCode != http.StatusOK {
		t.Fatalf("expected sample download, got %d", sample.StatusCode)
	}

	missing, err := http.Get(f.srv.URL + "/uploads/nope/file")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}

func TestUploadResults(t *testing.T) {
	f := newFixture(t, nil)
	rows := []models.FieldResult{{DocumentID: "d", UploadID: "u", FieldName: "name", UserValue: "Jon", OCRValue: "John", Accuracy: 0.857}}
	if err := f.db.ReplaceFieldResults(context.Background(), "u", rows); err != nil {
		t.Fatalf("replace: %v", err)
	}
	resp, err := http.Get(f.srv.URL + "/validation/upload/u/results")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var scores []models.FieldScore
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(scores) != 1 || scores[0].FieldName != "name" || scores[0].OCRValue != "John" {
		t.Fatalf("unexpected scores %+v", scores)
	}
}
