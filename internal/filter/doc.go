// Package filter implements the predicate language described in spec.md
// §4.1: a boolean expression over fact keys, parsed into a tagged-sum AST
// and compiled to a single parameterized SQL fragment — sub-selects
// against the facts table, never per-row in-memory filtering.
package filter
