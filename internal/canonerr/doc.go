// Package canonerr defines the sentinel error markers shared across Canon's
// commands plus the Wrap helper that attaches operation context to them.
//
// Every operation that can fail for a reason the caller should branch on
// wraps its underlying error with one of the markers below using Wrap. CLI
// commands translate a marker into a process exit code with ExitCode.
package canonerr
