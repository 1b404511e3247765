package uploads

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalStoreSaveAndRemove(t *testing.T) {
	dir := t.TempDir()
	ls, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx := context.Background()
	body := strings.NewReader("fake image bytes")
	stored, err := ls.Save(ctx, "avatar.png", body, int64(body.Len()), "image/png")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !strings.HasPrefix(stored, "/uploads/") {
		t.Fatalf("expected /uploads/ path, got %q", stored)
	}

	onDisk := filepath.Join(dir, "avatar.png")
	data, err := os.ReadFile(onDisk)
	if err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}
	if string(data) != "fake image bytes" {
		t.Fatalf("unexpected file contents: %q", data)
	}

	if err := ls.Remove(ctx, stored); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(onDisk); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err = %v", err)
	}
}

func TestLocalStoreRemoveMissingIsNoop(t *testing.T) {
	ls, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	if err := ls.Remove(context.Background(), "/uploads/never-existed.png"); err != nil {
		t.Fatalf("Remove() on missing file error = %v", err)
	}
}

func TestLocalStoreSaveStripsPathComponents(t *testing.T) {
	dir := t.TempDir()
	ls, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	stored, err := ls.Save(context.Background(), "../escape.png", strings.NewReader("x"), 1, "image/png")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if stored != "/uploads/escape.png" {
		t.Fatalf("expected base name only, got %q", stored)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.png")); err != nil {
		t.Fatalf("expected file inside uploads dir: %v", err)
	}
}

func TestNewNameKeepsExtension(t *testing.T) {
	name := NewName("photo.JPG")
	if !strings.HasSuffix(name, ".JPG") {
		t.Fatalf("expected extension preserved, got %q", name)
	}
	if name == NewName("photo.JPG") {
		t.Fatalf("expected unique names")
	}
}
