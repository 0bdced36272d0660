package main

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"canon/internal/store"
)

func canonicalize(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		t.Fatalf("eval symlinks %s: %v", path, err)
	}
	return resolved
}

// firstScannedSource opens the store directly to read back the source a
// scan just produced, the way a real fact-computation pipeline would learn
// a source's id and basis_rev before writing a fact-import record for it.
func firstScannedSource(t *testing.T, env *cliTestEnv, rootPath string) store.Source {
	t.Helper()
	st, err := store.Open(env.dbPath, 2*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	root, err := st.FindRootByPath(ctx, canonicalize(t, rootPath))
	if err != nil {
		t.Fatalf("find root: %v", err)
	}
	if root == nil {
		t.Fatalf("no root registered for %s", rootPath)
	}
	sources, err := st.SourcesForRoot(ctx, root.ID)
	if err != nil {
		t.Fatalf("sources for root: %v", err)
	}
	if len(sources) == 0 {
		t.Fatalf("no sources under root %s", rootPath)
	}
	return sources[0]
}

func TestImportFactsThenCoverage(t *testing.T) {
	env := setupCLITestEnv(t)

	root := filepath.Join(env.baseDir, "library")
	writeTestFile(t, filepath.Join(root, "movie.mkv"), "movie-bytes")
	if _, _, err := env.runCLI(t, "scan", root); err != nil {
		t.Fatalf("scan: %v", err)
	}

	src := firstScannedSource(t, env, root)
	record := fmt.Sprintf(`{"source_id":%d,"basis_rev":%d,"facts":{"content.hash.sha256":"%s","media.duration_seconds":120}}`,
		src.ID, src.BasisRev, "aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44ee55ff66aa11bb22cc33dd44")

	out, stderr, err := env.runCLIWithStdin(t, record+"\n", "import-facts")
	if err != nil {
		t.Fatalf("import-facts: %v (stderr=%s)", err, stderr)
	}
	requireContains(t, out, "imported=1")

	out, _, err = env.runCLI(t, "facts")
	if err != nil {
		t.Fatalf("facts: %v", err)
	}
	requireContains(t, out, "content.media.duration.seconds")

	out, _, err = env.runCLI(t, "facts", "content.media.duration.seconds")
	if err != nil {
		t.Fatalf("facts detail: %v", err)
	}
	requireContains(t, out, "120")

	out, _, err = env.runCLI(t, "facts", "--json")
	if err != nil {
		t.Fatalf("facts --json: %v", err)
	}
	requireContains(t, out, `"key"`)
}

func TestFactsDeleteDryRunThenYes(t *testing.T) {
	env := setupCLITestEnv(t)

	root := filepath.Join(env.baseDir, "library")
	writeTestFile(t, filepath.Join(root, "movie.mkv"), "movie-bytes")
	if _, _, err := env.runCLI(t, "scan", root); err != nil {
		t.Fatalf("scan: %v", err)
	}

	src := firstScannedSource(t, env, root)
	record := fmt.Sprintf(`{"source_id":%d,"basis_rev":%d,"facts":{"media.duration_seconds":120}}`, src.ID, src.BasisRev)
	if _, _, err := env.runCLIWithStdin(t, record+"\n", "import-facts"); err != nil {
		t.Fatalf("import-facts: %v", err)
	}

	out, _, err := env.runCLI(t, "facts", "delete", "content.media.duration.seconds", "--on", "source")
	if err != nil {
		t.Fatalf("facts delete dry-run: %v", err)
	}
	requireContains(t, out, "Would delete")

	out, _, err = env.runCLI(t, "facts", "delete", "content.media.duration.seconds", "--on", "source", "--yes")
	if err != nil {
		t.Fatalf("facts delete: %v", err)
	}
	requireContains(t, out, "Deleted")

	out, _, err = env.runCLI(t, "facts")
	if err != nil {
		t.Fatalf("facts after delete: %v", err)
	}
	requireNotContains(t, out, "content.media.duration.seconds")
}

func TestExcludeSetListClear(t *testing.T) {
	env := setupCLITestEnv(t)

	root := filepath.Join(env.baseDir, "library")
	writeTestFile(t, filepath.Join(root, "movie.mkv"), "movie-bytes")
	if _, _, err := env.runCLI(t, "scan", root); err != nil {
		t.Fatalf("scan: %v", err)
	}

	out, _, err := env.runCLI(t, "ls")
	if err != nil {
		t.Fatalf("ls before exclude: %v", err)
	}
	requireContains(t, out, "movie.mkv")

	if _, _, err := env.runCLI(t, "exclude", "set"); err != nil {
		t.Fatalf("exclude set: %v", err)
	}

	out, _, err = env.runCLI(t, "exclude", "list")
	if err != nil {
		t.Fatalf("exclude list: %v", err)
	}
	requireContains(t, out, "movie.mkv")

	out, _, err = env.runCLI(t, "ls")
	if err != nil {
		t.Fatalf("ls after exclude: %v", err)
	}
	requireNotContains(t, out, "movie.mkv")

	out, _, err = env.runCLI(t, "ls", "--include-excluded")
	if err != nil {
		t.Fatalf("ls --include-excluded: %v", err)
	}
	requireContains(t, out, "movie.mkv")

	if _, _, err := env.runCLI(t, "exclude", "clear"); err != nil {
		t.Fatalf("exclude clear: %v", err)
	}

	out, _, err = env.runCLI(t, "ls")
	if err != nil {
		t.Fatalf("ls after clear: %v", err)
	}
	requireContains(t, out, "movie.mkv")
}
