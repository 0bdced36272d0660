package preflight

import "canon/internal/store"

// RunAll checks every registered root's accessibility: source roots for
// read access, archive roots for read/write access. No command calls it;
// the scanner and the apply engine call CheckSourceRoot and
// CheckArchiveRoot for the single root they are about to use.
func RunAll(roots []store.Root) []Result {
	results := make([]Result, 0, len(roots))
	for _, r := range roots {
		switch r.Role {
		case store.RoleArchive:
			results = append(results, CheckArchiveRoot(r.Path))
		default:
			results = append(results, CheckSourceRoot(r.Path))
		}
	}
	return results
}
