// Package manifest builds and serializes the declarative apply manifest
// spec.md §4.6 "Cluster (manifest) generator" and §6 describe: a filtered
// snapshot of sources, their flattened facts, and a destination pattern,
// ready for internal/apply to materialize.
package manifest
