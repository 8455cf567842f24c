package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObject struct {
	data        []byte
	contentType string
}

type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string]fakeObject
	created int
}

func newFakeS3(buckets ...string) *fakeS3 {
	f := &fakeS3{buckets: map[string]bool{}, objects: map[string]fakeObject{}}
	for _, b := range buckets {
		f.buckets[b] = true
	}
	return f
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = fakeObject{data: body, contentType: aws.ToString(in.ContentType)}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentType:   aws.String(obj.contentType),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets[aws.ToString(in.Bucket)] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	f.buckets[aws.ToString(in.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func TestRemoteEnsuresBucket(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	if _, err := NewRemote(ctx, fake, "ocr", "us-east-1"); err != nil {
		t.Fatalf("new remote: %v", err)
	}
	if fake.created != 1 || !fake.buckets["ocr"] {
		t.Fatalf("expected bucket to be created once, created=%d", fake.created)
	}
	if _, err := NewRemote(ctx, fake, "ocr", "us-east-1"); err != nil {
		t.Fatalf("new remote: %v", err)
	}
	if fake.created != 1 {
		t.Fatalf("existing bucket must not be recreated, created=%d", fake.created)
	}
}

func TestRemoteSaveReadDelete(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("ocr")
	r, err := NewRemote(ctx, fake, "ocr", "")
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}
	r.now = func() time.Time { return time.Date(2024, 11, 2, 1, 0, 0, 0, time.UTC) }

	ref, err := r.Save(ctx, "uploads", "scan.png", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	want := RemoteRef("ocr", "02-11-2024/uploads/scan.png")
	if ref != want {
		t.Fatalf("got ref %+v want %+v", ref, want)
	}
	if ref.String() != "s3://ocr/02-11-2024/uploads/scan.png" {
		t.Fatalf("unexpected identifier %s", ref)
	}

	data, err := r.Read(ctx, ref)
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("read: %q %v", data, err)
	}

	legacy, _ := ParseRef("minio://02-11-2024/uploads/scan.png")
	if data, err := r.Read(ctx, legacy); err != nil || string(data) != "png-bytes" {
		t.Fatalf("legacy read: %q %v", data, err)
	}

	if err := r.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Read(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := r.Read(ctx, LocalRef("/tmp/x")); !errors.Is(err, ErrBackendMismatch) {
		t.Fatalf("expected ErrBackendMismatch, got %v", err)
	}
}

func TestServeRemoteObject(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3("ocr")
	r, err := NewRemote(ctx, fake, "ocr", "")
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}
	ref, err := r.SaveKey(ctx, "samples/sample.json", []byte(`{"information":[]}`), "application/json")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/download", nil)
	if err := Serve(rec, req, r, ref, ""); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != "attachment; filename=sample.json" {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if rec.Body.String() != `{"information":[]}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestServeLocalFile(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, time.Now())
	ref, err := l.Save(ctx, "uploads", "form.txt", []byte("hello"), "text/plain")
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/download", nil)
	if err := Serve(rec, req, l, ref, "renamed.txt"); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != "attachment; filename=renamed.txt" {
		t.Fatalf("unexpected disposition %q", cd)
	}

	missing := LocalRef(ref.Path + ".missing")
	if err := Serve(httptest.NewRecorder(), req, l, missing, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
