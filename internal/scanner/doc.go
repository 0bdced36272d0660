// Package scanner walks one or more root directories and reconciles
// observed files against the store's sources table, per spec.md §4.2.
package scanner
