// Package coverage reports fact-key coverage, value distributions, and
// archive coverage over a filtered source set, per spec.md §4.5 "Fact
// query / coverage".
package coverage
