// Package logging builds the structured slog.Logger used by every Canon
// command.
//
// It supports two output formats: a terse console handler for interactive
// use and a JSON handler for piping into other tools. Choice of format and
// level comes from config.Logging, with an optional per-command override.
// Context-aware helpers tag log lines with the active operation and a
// request correlation ID so a single invocation's records can be traced
// through the store, filter, and apply packages.
package logging
