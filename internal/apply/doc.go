// Package apply materializes a manifest onto disk: validation, pre-flight
// conflict detection, and copy/rename/move transfer, per spec.md §4.7.
package apply
