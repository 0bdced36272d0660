package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"canon/internal/store"
)

func TestCheckDirectoryAccessOK(t *testing.T) {
	dir := t.TempDir()
	result := CheckSourceRoot(dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccessNotExist(t *testing.T) {
	result := CheckSourceRoot(filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccessNotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckSourceRoot(f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestRunAllChecksEachRootByRole(t *testing.T) {
	sourceDir := t.TempDir()
	archiveDir := t.TempDir()

	results := RunAll([]store.Root{
		{ID: 1, Path: sourceDir, Role: store.RoleSource},
		{ID: 2, Path: archiveDir, Role: store.RoleArchive},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestRunAllEmpty(t *testing.T) {
	if got := RunAll(nil); len(got) != 0 {
		t.Fatalf("expected no results for no roots, got %d", len(got))
	}
}
