package apply

import (
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"

	"canon/internal/logging"
)

// acquireArchiveLock takes a non-blocking advisory lock on a sentinel file
// inside the archive root, per spec.md §5 "Apply exclusion": the engine
// warns but does not enforce that only one apply runs at a time. A failed
// or contended lock is logged and otherwise ignored — it never blocks or
// fails Run. The caller must release the returned handle (nil if the lock
// could not be taken) once Phase C finishes.
func acquireArchiveLock(archiveRootPath string, logger *slog.Logger) *flock.Flock {
	path := filepath.Join(archiveRootPath, ".canon-apply.lock")
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		logger.Warn("apply: could not take advisory archive lock", logging.String("path", path), logging.Error(err))
		return nil
	}
	if !locked {
		logger.Warn("apply: archive root is already locked by another apply run", logging.String("path", path))
		return nil
	}
	return lock
}

func releaseArchiveLock(lock *flock.Flock) {
	if lock == nil {
		return
	}
	_ = lock.Unlock()
}
