package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	return storage
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return p
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage := newLocal(t)
	srcDir := t.TempDir()
	srcPath := writeFile(t, srcDir, "segment.db", "hello world")
	ctx := context.Background()

	objectPath := "sentry_local/segment.db"
	if err := storage.Upload(ctx, srcPath, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	dstPath := filepath.Join(srcDir, "downloaded.db")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != "hello world" {
		t.Errorf("content mismatch: got %q", downloaded)
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err = storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("expected object to not exist after delete")
	}

	// Deleting twice is fine.
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	storage := newLocal(t)
	err := storage.Download(context.Background(), "missing.db", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage := newLocal(t)
	srcDir := t.TempDir()
	src := writeFile(t, srcDir, "seg.db", "x")
	ctx := context.Background()

	for _, p := range []string{"archive/sentry_local/b.db", "archive/sentry_local/a.db", "archive/errors_local/c.db"} {
		if err := storage.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
	}

	objects, err := storage.ListObjects(ctx, "archive/sentry_local")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []string{"archive/sentry_local/a.db", "archive/sentry_local/b.db"}
	if !reflect.DeepEqual(objects, want) {
		t.Errorf("got %v, want %v", objects, want)
	}

	objects, err = storage.ListObjects(ctx, "nothing-here")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(objects) != 0 {
		t.Errorf("expected no objects, got %v", objects)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := storage.Upload(ctx, "a", "b"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
