package manifest

import "time"

// Output describes where and how destination paths are built, per
// spec.md §6 "Manifest" [output] table.
type Output struct {
	Pattern string `toml:"pattern"`
	BaseDir string `toml:"base_dir"`
}

// Entry is one file to materialize, per spec.md §6 [[entries]].
type Entry struct {
	SourceID int64             `toml:"source_id"`
	RootID   int64             `toml:"root_id"`
	Path     string            `toml:"path"`
	Dest     string            `toml:"dest"`
	BasisRev int64             `toml:"basis_rev"`
	Facts    map[string]string `toml:"facts"`
}

// Manifest is the declarative apply input spec.md §4.6/§6 define.
type Manifest struct {
	Query         []string  `toml:"query"`
	ArchiveRootID int64     `toml:"archive_root_id"`
	GeneratedAt   time.Time `toml:"generated_at"`
	Output        Output    `toml:"output"`
	Entries       []Entry   `toml:"entries"`
}
