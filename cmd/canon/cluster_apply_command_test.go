package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestClusterGenerateThenApplyCopiesFile(t *testing.T) {
	env := setupCLITestEnv(t)

	sourceRoot := filepath.Join(env.baseDir, "library")
	writeTestFile(t, filepath.Join(sourceRoot, "movie.mkv"), "movie-bytes")
	if _, _, err := env.runCLI(t, "scan", sourceRoot); err != nil {
		t.Fatalf("scan source root: %v", err)
	}

	archiveRoot := filepath.Join(env.baseDir, "archive")
	if err := os.MkdirAll(archiveRoot, 0o755); err != nil {
		t.Fatalf("mkdir archive root: %v", err)
	}
	if _, _, err := env.runCLI(t, "scan", "--role", "archive", archiveRoot); err != nil {
		t.Fatalf("scan archive root: %v", err)
	}

	src := firstScannedSource(t, env, sourceRoot)
	record := fmt.Sprintf(`{"source_id":%d,"basis_rev":%d,"facts":{"content.hash.sha256":"aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44"}}`,
		src.ID, src.BasisRev)
	if _, _, err := env.runCLIWithStdin(t, record+"\n", "import-facts"); err != nil {
		t.Fatalf("import-facts: %v", err)
	}

	manifestPath := filepath.Join(env.baseDir, "manifest.toml")
	out, _, err := env.runCLI(t, "cluster", "generate",
		"--where", "source.root_id != 0",
		"--dest", archiveRoot,
		"--output", manifestPath,
		"--pattern", "{filename}")
	if err != nil {
		t.Fatalf("cluster generate: %v", err)
	}
	requireContains(t, out, "Wrote 1 entries")

	if _, err := os.Stat(manifestPath); err != nil {
		t.Fatalf("expected manifest at %s: %v", manifestPath, err)
	}

	out, _, err = env.runCLI(t, "apply", manifestPath, "--yes")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	requireContains(t, out, "copied=1")

	if _, err := os.Stat(filepath.Join(archiveRoot, "movie.mkv")); err != nil {
		t.Fatalf("expected copied file in archive: %v", err)
	}
}

func TestClusterGenerateRequiresWhereAndDest(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := env.runCLI(t, "cluster", "generate"); err == nil {
		t.Fatal("expected error when --where and --dest are missing")
	}
}
