package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hollowtree/bookreader-go-server/internal/db"
	"github.com/hollowtree/bookreader-go-server/internal/library"
)

// SetupTestDB creates an in-memory SQLite DB with schema
func SetupTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Failed to init in-memory db: %v", err)
	}
	return database
}

// SetupLibrary creates a library over temp user and shared roots.
func SetupLibrary(t *testing.T) *library.Library {
	t.Helper()
	return library.New(t.TempDir(), t.TempDir())
}

// WriteFile creates a file (and its parents) under root from slash-joined
// path elements.
func WriteFile(t *testing.T, root string, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// MkDir creates a directory under root from a slash-joined relative path.
func MkDir(t *testing.T, root string, rel string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	return path
}
