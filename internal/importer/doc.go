// Package importer applies a stream of fact-import records to the store,
// per spec.md §4.4 "Fact importer": staleness checks, protected-namespace
// rejection, key normalization, and promotion of content facts onto a
// linked object.
package importer
