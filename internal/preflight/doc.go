// Package preflight provides filesystem readiness checks shared by the
// scanner (read access to a root before a walk) and the apply engine
// (write access to an archive root before materialization).
//
// No CLI command runs these checks on their own; they run only as part of
// a scan or an apply.
package preflight
