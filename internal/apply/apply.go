package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"canon/internal/canonerr"
	"canon/internal/fileutil"
	"canon/internal/logging"
	"canon/internal/manifest"
	"canon/internal/preflight"
	"canon/internal/store"
)

// Run loads the manifest at manifestPath and materializes it against disk
// in the three phases spec.md §4.7 defines: validation, pre-flight, and
// materialization. It never partially mutates the filesystem on a Phase
// A/B failure — those are reported as a single ErrPreflight error with no
// entry touched. Phase C failures are per-entry and summarized in the
// returned Report; if any entry errors, the returned error wraps
// ErrPartialApply.
func Run(ctx context.Context, st *store.Store, manifestPath string, opts Options, logger *slog.Logger) (*Report, error) {
	logger = logging.NewComponentLogger(logger, "apply")

	if (opts.Mode == Rename || opts.Mode == Move) && runtime.GOOS == "windows" {
		return nil, canonerr.Wrap(canonerr.ErrUserInput, "apply", "run",
			"--rename and --move are only supported on Unix platforms", nil)
	}
	if opts.Mode == Move && !opts.DryRun && !opts.Yes {
		return nil, canonerr.Wrap(canonerr.ErrUserInput, "apply", "run",
			"--move requires --yes to confirm source deletion", nil)
	}

	m, err := manifest.Read(manifestPath)
	if err != nil {
		return nil, canonerr.Wrap(canonerr.ErrUserInput, "apply", "run", "load manifest", err)
	}

	archiveRoot, err := st.GetRoot(ctx, m.ArchiveRootID)
	if err != nil {
		return nil, err
	}
	if archiveRoot == nil {
		return nil, canonerr.Wrap(canonerr.ErrUserInput, "apply", "run",
			fmt.Sprintf("manifest's archive root %d no longer exists", m.ArchiveRootID), nil)
	}
	baseDir := filepath.Join(archiveRoot.Path, m.Output.BaseDir)
	if !opts.DryRun {
		if check := preflight.CheckArchiveRoot(archiveRoot.Path); !check.Passed {
			return nil, canonerr.Wrap(canonerr.ErrPreflight, "apply", "preflight", check.Detail, nil)
		}
	}

	entries, err := filterByRoots(ctx, st, m.Entries, opts.Roots)
	if err != nil {
		return nil, err
	}
	skippedByFilter := len(m.Entries) - len(entries)
	if skippedByFilter > 0 {
		logger.Info("apply: entries excluded by --root filter", logging.Int64("skipped", int64(skippedByFilter)))
	}

	report := &Report{}
	var sources []*store.Source
	for _, e := range entries {
		src, failure := validateEntry(ctx, st, e, m.Output.Pattern)
		if failure != nil {
			report.ValidationFailures = append(report.ValidationFailures, *failure)
			continue
		}
		sources = append(sources, src)
	}
	if len(report.ValidationFailures) > 0 {
		return report, canonerr.Wrap(canonerr.ErrPreflight, "apply", "validate",
			fmt.Sprintf("%d entries failed validation", len(report.ValidationFailures)), nil)
	}

	report.Collisions = checkCollisions(entries, baseDir)
	if len(report.Collisions) > 0 {
		return report, canonerr.Wrap(canonerr.ErrPreflight, "apply", "preflight",
			fmt.Sprintf("%d destination collisions", len(report.Collisions)), nil)
	}

	destExists := checkDestinationExists(entries, baseDir)
	if len(destExists) > 0 {
		report.ValidationFailures = destExists
		return report, canonerr.Wrap(canonerr.ErrPreflight, "apply", "preflight",
			fmt.Sprintf("%d destinations already exist on disk", len(destExists)), nil)
	}

	if !opts.DryRun {
		lock := acquireArchiveLock(archiveRoot.Path, logger)
		defer releaseArchiveLock(lock)
	}

	type surviving struct {
		entry manifest.Entry
		src   *store.Source
	}
	var survivors []surviving
	for i, e := range entries {
		src := sources[i]
		if src.ObjectID != nil {
			skip, reason, err := archiveConflict(ctx, st, *src.ObjectID, m.ArchiveRootID, opts.AllowCrossArchiveDuplicates)
			if err != nil {
				return report, err
			}
			if skip {
				dest := filepath.Join(baseDir, e.Dest)
				report.SkipNotices = append(report.SkipNotices, SkipNotice{SourceID: e.SourceID, Dest: dest, Reason: reason})
				report.Entries = append(report.Entries, EntryResult{SourceID: e.SourceID, Dest: dest, Outcome: OutcomeSkippedArchived})
				report.Summary.record(OutcomeSkippedArchived)
				continue
			}
		}
		survivors = append(survivors, surviving{entry: e, src: src})
	}

	for _, s := range survivors {
		dest := filepath.Join(baseDir, s.entry.Dest)
		result := processEntry(s.entry, dest, opts, logger)
		report.Entries = append(report.Entries, result)
		report.Summary.record(result.Outcome)
	}

	if report.Summary.Errored > 0 {
		return report, canonerr.Wrap(canonerr.ErrPartialApply, "apply", "run",
			fmt.Sprintf("%d entries failed materialization", report.Summary.Errored), nil)
	}
	return report, nil
}

func processEntry(e manifest.Entry, dest string, opts Options, logger *slog.Logger) EntryResult {
	result := EntryResult{SourceID: e.SourceID, Dest: dest}

	if _, err := os.Stat(e.Path); err != nil {
		result.Outcome = OutcomeErrored
		result.Err = canonerr.Wrap(canonerr.ErrIO, "apply", "materialize",
			fmt.Sprintf("source %d: %s is missing", e.SourceID, e.Path), err)
		return result
	}

	if opts.DryRun {
		switch opts.Mode {
		case Rename:
			result.Outcome = OutcomeRenamed
		case Move:
			result.Outcome = OutcomeMoved
		default:
			result.Outcome = OutcomeCopied
		}
		logger.Info("apply: dry-run", logging.String("mode", opts.Mode.String()),
			logging.String("src", e.Path), logging.String("dest", dest))
		return result
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		result.Outcome = OutcomeErrored
		result.Err = canonerr.Wrap(canonerr.ErrIO, "apply", "materialize", "create destination directory", err)
		return result
	}

	var err error
	switch opts.Mode {
	case Rename:
		err = renameNoClobber(e.Path, dest)
		if err == nil {
			result.Outcome = OutcomeRenamed
		}
	case Move:
		err = fileutil.Move(e.Path, dest)
		if err == nil {
			result.Outcome = OutcomeMoved
		}
	default:
		err = fileutil.CopyFileExclusive(e.Path, dest)
		if err == nil {
			result.Outcome = OutcomeCopied
		}
	}

	if err != nil {
		if errors.Is(err, fileutil.ErrExists) {
			result.Outcome = OutcomeSkippedExisting
		} else {
			result.Outcome = OutcomeErrored
		}
		result.Err = canonerr.Wrap(canonerr.ErrIO, "apply", "materialize",
			fmt.Sprintf("%s -> %s", e.Path, dest), err)
		return result
	}

	logger.Info("apply: materialized", logging.String("mode", opts.Mode.String()),
		logging.String("src", e.Path), logging.String("dest", dest))
	return result
}

// renameNoClobber performs an atomic same-device rename, refusing to
// overwrite an existing destination and surfacing a cross-device rename
// as a per-entry error rather than falling back to a copy (spec.md §4.7's
// transfer matrix: rename fails outright cross-device; only move falls
// back).
func renameNoClobber(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("rename %s to %s: %w", src, dst, fileutil.ErrExists)
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && linkErr.Err == syscall.EXDEV {
			return fmt.Errorf("rename %s to %s: cross-device rename not supported in rename mode: %w", src, dst, err)
		}
		return err
	}
	return nil
}
