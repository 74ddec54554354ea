package archive

import (
	"fmt"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// CloneToStaging fetches item content from a git repository into the
// staging directory. ref may be a branch or tag name; empty means the
// remote default branch. The .git directory is removed afterwards so
// only content remains, and a single wrapping directory is flattened
// the same way archive extraction does.
func CloneToStaging(url, ref, stagingDir string) error {
	opts := &git.CloneOptions{
		URL:   url,
		Depth: 1,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.ReferenceName(ref)
		if !opts.ReferenceName.IsBranch() && !opts.ReferenceName.IsTag() {
			// Try a branch first; the caller gave a short name.
			opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		}
		opts.SingleBranch = true
	}

	if _, err := git.PlainClone(stagingDir, false, opts); err != nil {
		return fmt.Errorf("clone %s: %w", url, err)
	}
	if err := os.RemoveAll(filepath.Join(stagingDir, ".git")); err != nil {
		return fmt.Errorf("strip git metadata: %w", err)
	}
	return FlattenSingleDir(stagingDir)
}
