package infra

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStorage_PutGet(t *testing.T) {
	ctx := context.Background()
	storage := NewFileStorage(t.TempDir())

	data := []byte("ciphertext-bytes")
	locator, err := storage.Put(ctx, "org-1/file-1.enc", data, "application/octet-stream")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if locator != "org-1/file-1.enc" {
		t.Errorf("unexpected locator: %s", locator)
	}

	// 保存したバイト列が無変更で返ること
	got, err := storage.Get(ctx, "org-1/file-1.enc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("stored bytes do not round trip")
	}
}

func TestFileStorage_Get_NotFound(t *testing.T) {
	storage := NewFileStorage(t.TempDir())

	if _, err := storage.Get(context.Background(), "missing.enc"); err == nil {
		t.Error("expected error for missing object")
	}
}

func TestFileStorage_NeutralizesTraversal(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	storage := NewFileStorage(root)

	// 相対パスによる脱出はルート配下に正規化される
	if _, err := storage.Put(ctx, "../escape.enc", []byte("x"), ""); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.enc")); err != nil {
		t.Errorf("expected object inside the root, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "escape.enc")); err == nil {
		t.Error("object was written outside the root")
	}

	// 空のパスは拒否される
	if _, err := storage.Put(ctx, "", []byte("x"), ""); err == nil {
		t.Error("expected error for empty object path")
	}
}
