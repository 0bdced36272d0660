package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// CheckDirectoryAccess verifies that path exists, is a directory, and is
// accessible with the requested permission bits.
func CheckDirectoryAccess(name, path string, mode uint32) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (ok)", path)}
}

// CheckSourceRoot verifies a root the scanner is about to walk is readable
// and traversable, per spec.md §4.2 ("Canonicalize the root path; find or
// create the root record").
func CheckSourceRoot(path string) Result {
	return CheckDirectoryAccess("source root", path, unix.R_OK|unix.X_OK)
}

// CheckArchiveRoot verifies an archive root the apply engine is about to
// materialize files into is readable, writable, and traversable.
func CheckArchiveRoot(path string) Result {
	return CheckDirectoryAccess("archive root", path, unix.R_OK|unix.W_OK|unix.X_OK)
}
