package scanner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"canon/internal/logging"
	"canon/internal/scanner"
	"canon/internal/store"
)

func mustOpen(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "canon.db"), 2*time.Second)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func TestScanRootsNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello")
	writeFile(t, filepath.Join(root, "nested", "b.txt"), "world")

	s := mustOpen(t)
	ctx := context.Background()
	stats, err := scanner.ScanRoots(ctx, s, logging.NewNop(), []string{root}, store.RoleSource)
	if err != nil {
		t.Fatalf("ScanRoots failed: %v", err)
	}
	if stats.Scanned != 2 || stats.New != 2 {
		t.Fatalf("expected 2 new files scanned, got %#v", stats)
	}
}

func TestScanRootsDetectsUnchangedThenUpdated(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "hello")

	s := mustOpen(t)
	ctx := context.Background()

	if _, err := scanner.ScanRoots(ctx, s, logging.NewNop(), []string{root}, store.RoleSource); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}

	stats, err := scanner.ScanRoots(ctx, s, logging.NewNop(), []string{root}, store.RoleSource)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if stats.Unchanged != 1 {
		t.Fatalf("expected unchanged file on second scan, got %#v", stats)
	}

	time.Sleep(1100 * time.Millisecond)
	writeFile(t, path, "hello world, now longer")

	stats, err = scanner.ScanRoots(ctx, s, logging.NewNop(), []string{root}, store.RoleSource)
	if err != nil {
		t.Fatalf("third scan failed: %v", err)
	}
	if stats.Updated != 1 {
		t.Fatalf("expected updated file on third scan, got %#v", stats)
	}
}

func TestScanRootsDetectsMove(t *testing.T) {
	root := t.TempDir()
	oldPath := filepath.Join(root, "old.txt")
	writeFile(t, oldPath, "hello")

	s := mustOpen(t)
	ctx := context.Background()
	if _, err := scanner.ScanRoots(ctx, s, logging.NewNop(), []string{root}, store.RoleSource); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}

	newPath := filepath.Join(root, "new.txt")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	stats, err := scanner.ScanRoots(ctx, s, logging.NewNop(), []string{root}, store.RoleSource)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if stats.Moved != 1 {
		t.Fatalf("expected moved file detected, got %#v", stats)
	}
}

func TestScanRootsDetectsMissing(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "hello")

	s := mustOpen(t)
	ctx := context.Background()
	if _, err := scanner.ScanRoots(ctx, s, logging.NewNop(), []string{root}, store.RoleSource); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	stats, err := scanner.ScanRoots(ctx, s, logging.NewNop(), []string{root}, store.RoleSource)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if stats.Missing != 1 {
		t.Fatalf("expected missing file detected, got %#v", stats)
	}
}

func TestScanRootsRejectsOverlap(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "nested")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	s := mustOpen(t)
	ctx := context.Background()
	if _, err := scanner.ScanRoots(ctx, s, logging.NewNop(), []string{root}, store.RoleSource); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	if _, err := scanner.ScanRoots(ctx, s, logging.NewNop(), []string{nested}, store.RoleSource); err == nil {
		t.Fatal("expected overlapping root to be rejected")
	}
}

func TestStatsSummaryFormat(t *testing.T) {
	stats := scanner.Stats{Scanned: 10, New: 2, Updated: 3, Moved: 1, Unchanged: 3, Missing: 1}
	want := "Scanned 10 files: 2 new, 3 updated, 1 moved, 3 unchanged, 1 missing"
	if got := stats.Summary(); got != want {
		t.Fatalf("Summary() = %q, want %q", got, want)
	}
}
