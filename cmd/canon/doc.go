// Command canon organizes large media libraries into a canonical,
// deduplicated archive: it scans directories into a fact store, accepts
// externally computed facts (hashes, EXIF, etc.) over JSONL, and turns a
// filtered selection of sources into a manifest it can apply to disk.
package main
