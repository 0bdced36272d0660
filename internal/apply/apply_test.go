package apply_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"canon/internal/apply"
	"canon/internal/logging"
	"canon/internal/manifest"
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

var nextInode int64 = 1

func writeSourceFile(t *testing.T, dir, relPath, content string) (string, os.FileInfo) {
	t.Helper()
	full := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	info, err := os.Stat(full)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	return full, info
}

func insertSourceAt(t *testing.T, s *store.Store, root store.Root, relPath string, size, mtime int64) store.Source {
	t.Helper()
	ctx := context.Background()
	inode := nextInode
	nextInode++
	id, err := s.InsertSource(ctx, root.ID, relPath, size, mtime, 1, inode, 1)
	if err != nil {
		t.Fatalf("InsertSource failed: %v", err)
	}
	src, err := s.GetSource(ctx, id)
	if err != nil || src == nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	return *src
}

// buildManifest registers a source and archive root under tmpdir-backed
// paths, writes one real file, generates a manifest with the given
// pattern, and writes it to manifestPath.
func buildManifest(t *testing.T, s *store.Store, mediaDir, archiveDir, relPath, pattern, manifestPath string) manifest.Entry {
	t.Helper()
	ctx := context.Background()

	full, info := writeSourceFile(t, mediaDir, relPath, "hello")
	root, err := s.GetOrCreateRoot(ctx, mediaDir, store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	archive, err := s.GetOrCreateRoot(ctx, archiveDir, store.RoleArchive)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}

	src := insertSourceAt(t, s, root, relPath, info.Size(), info.ModTime().Unix())
	_ = full
	_ = src

	m, err := manifest.Generate(ctx, s, nil, manifest.GenerateOptions{
		ArchiveRootID: archive.ID,
		Pattern:       pattern,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(m.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(m.Entries))
	}
	if err := manifest.Write(m, manifestPath); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return m.Entries[0]
}

func TestRunCopiesEntry(t *testing.T) {
	s := mustOpen(t)
	mediaDir := t.TempDir()
	archiveDir := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "manifest.toml")

	entry := buildManifest(t, s, mediaDir, archiveDir, "a.txt", "{filename}", manifestPath)

	report, err := apply.Run(context.Background(), s, manifestPath, apply.Options{}, logging.NewNop())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Summary.Copied != 1 {
		t.Fatalf("expected 1 copied, got %#v", report.Summary)
	}

	dest := filepath.Join(archiveDir, entry.Dest)
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected destination file to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mediaDir, "a.txt")); err != nil {
		t.Fatalf("expected source to remain after copy: %v", err)
	}
}

func TestRunDryRunMakesNoChanges(t *testing.T) {
	s := mustOpen(t)
	mediaDir := t.TempDir()
	archiveDir := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "manifest.toml")

	entry := buildManifest(t, s, mediaDir, archiveDir, "a.txt", "{filename}", manifestPath)

	report, err := apply.Run(context.Background(), s, manifestPath, apply.Options{DryRun: true}, logging.NewNop())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Summary.Copied != 1 {
		t.Fatalf("expected 1 planned copy, got %#v", report.Summary)
	}
	if _, err := os.Stat(filepath.Join(archiveDir, entry.Dest)); !os.IsNotExist(err) {
		t.Fatalf("expected no destination file written during dry-run")
	}
}

func TestRunRerunReportsDestinationExists(t *testing.T) {
	s := mustOpen(t)
	mediaDir := t.TempDir()
	archiveDir := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "manifest.toml")

	buildManifest(t, s, mediaDir, archiveDir, "a.txt", "{filename}", manifestPath)

	ctx := context.Background()
	if _, err := apply.Run(ctx, s, manifestPath, apply.Options{}, logging.NewNop()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	_, err := apply.Run(ctx, s, manifestPath, apply.Options{}, logging.NewNop())
	if err == nil {
		t.Fatalf("expected second Run to report destination already exists")
	}
}

func TestRunRejectsMoveWithoutYes(t *testing.T) {
	s := mustOpen(t)
	mediaDir := t.TempDir()
	archiveDir := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "manifest.toml")

	buildManifest(t, s, mediaDir, archiveDir, "a.txt", "{filename}", manifestPath)

	_, err := apply.Run(context.Background(), s, manifestPath, apply.Options{Mode: apply.Move}, logging.NewNop())
	if err == nil {
		t.Fatalf("expected error requiring --yes for move mode")
	}
}

func TestRunMoveDeletesSource(t *testing.T) {
	s := mustOpen(t)
	mediaDir := t.TempDir()
	archiveDir := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "manifest.toml")

	entry := buildManifest(t, s, mediaDir, archiveDir, "a.txt", "{filename}", manifestPath)

	report, err := apply.Run(context.Background(), s, manifestPath, apply.Options{Mode: apply.Move, Yes: true}, logging.NewNop())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Summary.Moved != 1 {
		t.Fatalf("expected 1 moved, got %#v", report.Summary)
	}
	if _, err := os.Stat(filepath.Join(mediaDir, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected source removed after move")
	}
	if _, err := os.Stat(filepath.Join(archiveDir, entry.Dest)); err != nil {
		t.Fatalf("expected destination file to exist: %v", err)
	}
}

func TestRunDetectsCollision(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()
	mediaDir := t.TempDir()
	archiveDir := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "manifest.toml")

	writeSourceFile(t, mediaDir, "x/a.txt", "one")
	writeSourceFile(t, mediaDir, "y/a.txt", "two")
	root, err := s.GetOrCreateRoot(ctx, mediaDir, store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	archive, err := s.GetOrCreateRoot(ctx, archiveDir, store.RoleArchive)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	insertSourceAt(t, s, root, "x/a.txt", 3, 1000)
	insertSourceAt(t, s, root, "y/a.txt", 3, 1000)

	m, err := manifest.Generate(ctx, s, nil, manifest.GenerateOptions{
		ArchiveRootID: archive.ID,
		Pattern:       "{filename}",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if err := manifest.Write(m, manifestPath); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	report, err := apply.Run(ctx, s, manifestPath, apply.Options{}, logging.NewNop())
	if err == nil {
		t.Fatalf("expected collision error")
	}
	if len(report.Collisions) != 1 {
		t.Fatalf("expected 1 collision, got %#v", report.Collisions)
	}
}

func TestRunDetectsStaleBasisRev(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()
	mediaDir := t.TempDir()
	archiveDir := t.TempDir()
	manifestPath := filepath.Join(t.TempDir(), "manifest.toml")

	buildManifest(t, s, mediaDir, archiveDir, "a.txt", "{filename}", manifestPath)

	root, err := s.GetOrCreateRoot(ctx, mediaDir, store.RoleSource)
	if err != nil {
		t.Fatalf("GetOrCreateRoot failed: %v", err)
	}
	sources, err := s.SourcesForRoot(ctx, root.ID)
	if err != nil || len(sources) != 1 {
		t.Fatalf("SourcesForRoot failed: %v", err)
	}
	if err := s.UpdateSourceChanged(ctx, sources[0].ID, sources[0].Size, sources[0].Mtime+1, 1, nextInode, 1, 1); err != nil {
		t.Fatalf("UpdateSourceChanged failed: %v", err)
	}

	report, err := apply.Run(ctx, s, manifestPath, apply.Options{}, logging.NewNop())
	if err == nil {
		t.Fatalf("expected validation failure for stale basis_rev")
	}
	if len(report.ValidationFailures) != 1 {
		t.Fatalf("expected 1 validation failure, got %#v", report.ValidationFailures)
	}
}
