// Package worklist streams a snapshot of sources matching a filter as
// line-delimited JSON records, per spec.md §4.3 and §6 "Worklist record".
package worklist
