package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLocal(t *testing.T, now time.Time) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	l.now = func() time.Time { return now }
	return l
}

func TestLocalSavePartitionsByUTCDay(t *testing.T) {
	ctx := context.Background()
	day1 := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)
	l := newTestLocal(t, day1)

	first, err := l.Save(ctx, "uploads", "scan.pdf", []byte("one"), "application/pdf")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasSuffix(filepath.ToSlash(first.Path), "05-03-2024/uploads/scan.pdf") {
		t.Fatalf("unexpected path %s", first.Path)
	}

	l.now = func() time.Time { return day1.Add(time.Hour) }
	second, err := l.Save(ctx, "uploads", "scan.pdf", []byte("two"), "application/pdf")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first == second {
		t.Fatalf("expected a distinct prefix on the next UTC day, got %s twice", first.Path)
	}
	if !strings.Contains(filepath.ToSlash(second.Path), "06-03-2024/uploads/") {
		t.Fatalf("unexpected path %s", second.Path)
	}
}

func TestLocalSaveSameDayOverwrites(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))

	a, err := l.Save(ctx, "samples", "s.json", []byte(`{"v":1}`), "application/json")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	b, err := l.Save(ctx, "samples", "s.json", []byte(`{"v":2}`), "application/json")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if a != b {
		t.Fatalf("expected identical refs, got %s and %s", a, b)
	}
	data, err := l.Read(ctx, a)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"v":2}` {
		t.Fatalf("expected overwritten content, got %s", data)
	}
}

func TestLocalSaveKeyReusesDayPrefix(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))

	ref, err := l.SaveKey(ctx, "01-01-2023/user_inputs/u.json", []byte("{}"), "")
	if err != nil {
		t.Fatalf("save key: %v", err)
	}
	if !strings.HasSuffix(filepath.ToSlash(ref.Path), "01-01-2023/user_inputs/u.json") {
		t.Fatalf("expected key reused verbatim, got %s", ref.Path)
	}

	ref, err = l.SaveKey(ctx, "loose.bin", []byte("x"), "")
	if err != nil {
		t.Fatalf("save key: %v", err)
	}
	if !strings.HasSuffix(filepath.ToSlash(ref.Path), "05-03-2024/uploads/loose.bin") {
		t.Fatalf("expected default subfolder, got %s", ref.Path)
	}
}

func TestLocalKeysStayUnderRoot(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))

	ref, err := l.Save(ctx, "../../etc", "../passwd", []byte("x"), "")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	rel, err := filepath.Rel(l.root, ref.Path)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("path escaped root: %s", ref.Path)
	}
}

func TestLocalDeleteAndMissing(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, time.Now())

	ref, err := l.Save(ctx, "uploads", "gone.txt", []byte("x"), "text/plain")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := l.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(ref.Path); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	if err := l.Delete(ctx, ref); err != nil {
		t.Fatalf("second delete should be tolerated: %v", err)
	}
	if _, err := l.Read(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalRejectsRemoteRef(t *testing.T) {
	l := newTestLocal(t, time.Now())
	if _, err := l.Read(context.Background(), RemoteRef("b", "k")); !errors.Is(err, ErrBackendMismatch) {
		t.Fatalf("expected ErrBackendMismatch, got %v", err)
	}
}

func TestHasDayPrefix(t *testing.T) {
	cases := map[string]bool{
		"05-03-2024/uploads/a.pdf": true,
		"31-12-1999/x":             true,
		"2024-03-05/uploads/a.pdf": false,
		"uploads/a.pdf":            false,
		"32-01-2024/a":             false,
		"":                         false,
	}
	for key, want := range cases {
		if got := HasDayPrefix(key); got != want {
			t.Fatalf("HasDayPrefix(%q) = %v, want %v", key, got, want)
		}
	}
}
