package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFSStorePutAndExists(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	ctx := context.Background()
	body := []byte("fake image bytes")
	if err := store.Put(ctx, "12345/image_1.jpg", bytes.NewReader(body), int64(len(body)), "image/jpeg"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ok, err := store.Exists(ctx, "12345/image_1.jpg")
	if err != nil || !ok {
		t.Fatalf("Exists = (%v, %v), want (true, nil)", ok, err)
	}

	got, err := os.ReadFile(filepath.Join(store.baseDir, "12345", "image_1.jpg"))
	if err != nil {
		t.Fatalf("failed to read stored file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Error("stored bytes differ from input")
	}
}

func TestFSStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	if err := store.Put(context.Background(), "a/b.jpg", strings.NewReader("x"), 1, ""); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var leftovers []string
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.Contains(info.Name(), ".tmp-") {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	if len(leftovers) > 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestFSStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	testCases := []string{
		"../outside.jpg",
		"a/../../outside.jpg",
		"/etc/passwd",
		".",
	}
	for _, key := range testCases {
		if err := store.Put(context.Background(), key, strings.NewReader("x"), 1, ""); err == nil {
			t.Errorf("Put(%q) should reject a key escaping the base directory", key)
		}
	}
}

func TestFSStoreMissingKey(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ok, err := store.Exists(context.Background(), "nope/missing.jpg")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("Exists = true for a key that was never written")
	}
}
