// Package repository is the KIMkit lifecycle manager. It orchestrates
// the identifier codec, the metadata validator, the provenance ledger,
// and the permission gate into the item operations: import, version
// update, fork, metadata edits, deletion, export, and install.
//
// Every mutation follows the same shape: prepare and validate in a
// staging directory, claim the destination with an exclusive directory
// creation, then commit with a single rename. A failed operation leaves
// the repository exactly as it was.
package repository

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/openkim/KIMkit/pkg/archive"
	"github.com/openkim/KIMkit/pkg/build"
	"github.com/openkim/KIMkit/pkg/kimcode"
	"github.com/openkim/KIMkit/pkg/kimerr"
	"github.com/openkim/KIMkit/pkg/kimspec"
	"github.com/openkim/KIMkit/pkg/provenance"
	"github.com/openkim/KIMkit/pkg/users"
)

// maxClaimAttempts bounds identifier regeneration when a freshly
// generated code loses the commit race.
const maxClaimAttempts = 5

// Indexer mirrors committed item versions into the search index. Index
// maintenance is post-commit: the repository tree is the source of
// truth and index failures never roll a commit back.
type Indexer interface {
	Upsert(extendedID string) error
	Delete(extendedID string) error
}

// Repository is the lifecycle manager.
type Repository struct {
	cfg     *Config
	gate    *users.Gate
	index   Indexer
	builder build.Builder
}

// New assembles a Repository. index and builder may be nil when the
// caller needs neither the search mirror nor item compilation.
func New(cfg *Config, gate *users.Gate, index Indexer, builder build.Builder) *Repository {
	return &Repository{cfg: cfg, gate: gate, index: index, builder: builder}
}

// Gate exposes the permission gate, which doubles as the user resolver.
func (r *Repository) Gate() *users.Gate { return r.gate }

// Import ingests item content from a gzipped tarball, allocates a fresh
// identifier at version 000, validates and stamps the metadata, and
// commits the new item.
func (r *Repository) Import(content io.Reader, name string, itemType kimcode.ItemType, metadata map[string]any, comment string) (string, error) {
	staging, err := r.newStaging("import")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)

	if err := archive.ExtractToStaging(content, staging); err != nil {
		return "", err
	}
	return r.importStaged(staging, name, itemType, metadata, comment)
}

// ImportFromGit ingests item content by cloning a git repository into
// staging. The source URL is recorded as content-origin unless the
// metadata already names one.
func (r *Repository) ImportFromGit(url, ref, name string, itemType kimcode.ItemType, metadata map[string]any, comment string) (string, error) {
	staging, err := r.newStaging("clone")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)

	if err := archive.CloneToStaging(url, ref, staging); err != nil {
		return "", err
	}
	if _, ok := metadata["content-origin"]; !ok {
		metadata = cloneMap(metadata)
		metadata["content-origin"] = url
	}
	return r.importStaged(staging, name, itemType, metadata, comment)
}

// ImportWithIdentifier ingests item content from a gzipped tarball
// under a caller-supplied extended kimcode, for identifiers reserved or
// assigned outside this repository. The exclusive claim at commit time
// decides ownership; a taken code surfaces ErrIdentifierInUse and the
// repository is left untouched.
func (r *Repository) ImportWithIdentifier(content io.Reader, code string, metadata map[string]any, comment string) error {
	c, err := kimcode.Parse(code)
	if err != nil {
		return err
	}
	if !c.HasVersion {
		return fmt.Errorf("%w: %q has no version", kimerr.ErrInvalidIdentifier, code)
	}
	itemType, err := c.ItemType()
	if err != nil {
		return err
	}
	actingUUID, err := r.gate.CurrentUserUUID()
	if err != nil {
		return err
	}

	staging, err := r.newStaging("import")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	if err := archive.ExtractToStaging(content, staging); err != nil {
		return err
	}
	executables, err := archive.DetectExecutables(staging)
	if err != nil {
		return err
	}
	if err := r.prepareSpec(staging, code, itemType, metadata, executables, actingUUID); err != nil {
		return err
	}
	if err := r.commit(staging, code); err != nil {
		return err
	}
	if err := r.postCommit(code, actingUUID, provenance.EventInitialCreation, comment); err != nil {
		return err
	}
	glog.Infof("imported %s %s contributed by %s", itemType, code, actingUUID)
	return nil
}

// importStaged finishes an import whose content already sits in
// staging: detect executables, allocate an identifier, stamp and
// validate metadata, claim the destination, commit, and open the
// provenance ledger.
func (r *Repository) importStaged(staging, name string, itemType kimcode.ItemType, metadata map[string]any, comment string) (string, error) {
	actingUUID, err := r.gate.CurrentUserUUID()
	if err != nil {
		return "", err
	}

	executables, err := archive.DetectExecutables(staging)
	if err != nil {
		return "", err
	}

	var code string
	for attempt := 0; ; attempt++ {
		code, err = kimcode.Generate(name, itemType, r.cfg.RepositoryPath)
		if err != nil {
			return "", err
		}
		if err := r.prepareSpec(staging, code, itemType, metadata, executables, actingUUID); err != nil {
			return "", err
		}

		err = r.commit(staging, code)
		if err == nil {
			break
		}
		if !isIdentifierInUse(err) || attempt >= maxClaimAttempts {
			return "", err
		}
		// Lost the commit race on a fresh random id; draw again.
	}

	if err := r.postCommit(code, actingUUID, provenance.EventInitialCreation, comment); err != nil {
		return code, err
	}
	glog.Infof("imported %s %s contributed by %s", itemType, code, actingUUID)
	return code, nil
}

// prepareSpec stamps, validates, and writes a new item's metadata into
// its staging directory.
func (r *Repository) prepareSpec(staging, code string, itemType kimcode.ItemType, metadata map[string]any, executables []string, actingUUID string) error {
	raw := cloneMap(metadata)
	raw["kim-item-type"] = string(itemType)
	if len(executables) > 0 {
		raw["executables"] = executables
	}
	kimspec.Stamp(raw, code, actingUUID)

	record, err := kimspec.Validate(raw, r.gate)
	if err != nil {
		return err
	}
	return kimspec.WriteDir(staging, record)
}

// commit claims the destination directory with an exclusive create and
// renames the staging directory over it. The exclusive create is the
// only arbiter of identifier ownership; checking availability first is
// advisory.
func (r *Repository) commit(staging, code string) error {
	dest, err := kimcode.Path(code, r.cfg.RepositoryPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("prepare %s: %w", code, err)
	}
	if err := os.Mkdir(dest, 0o755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", kimerr.ErrIdentifierInUse, code)
		}
		return fmt.Errorf("claim %s: %w", code, err)
	}
	// Renaming over the just-claimed empty directory is atomic on POSIX.
	if err := os.Rename(staging, dest); err != nil {
		os.Remove(dest)
		return fmt.Errorf("commit %s: %w", code, err)
	}
	return nil
}

// postCommit appends the provenance entry and refreshes the index for a
// freshly committed version. The content is already committed; failures
// here are reported but nothing is rolled back, since losing a valid
// item is worse than a ledger or index lagging one event behind.
func (r *Repository) postCommit(code, actingUUID string, event provenance.EventKind, comment string) error {
	dir, err := kimcode.Path(code, r.cfg.RepositoryPath)
	if err != nil {
		return err
	}
	if err := provenance.Append(dir, actingUUID, event, comment, r.gate); err != nil {
		glog.Errorf("item %s committed but provenance append failed: %v", code, err)
		return fmt.Errorf("item %s committed, provenance append failed: %w", code, err)
	}
	if r.index != nil {
		if err := r.index.Upsert(code); err != nil {
			glog.Errorf("item %s committed but index update failed: %v", code, err)
			return fmt.Errorf("item %s committed, index update failed: %w", code, err)
		}
	}
	return nil
}

func (r *Repository) newStaging(kind string) (string, error) {
	if err := os.MkdirAll(r.cfg.StagingDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	staging, err := os.MkdirTemp(r.cfg.StagingDir, kind+"-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return staging, nil
}

// itemDir resolves an extended kimcode to its committed directory,
// distinguishing a malformed code from an absent item.
func (r *Repository) itemDir(code string) (string, error) {
	dir, err := kimcode.Path(code, r.cfg.RepositoryPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", kimerr.ErrItemNotFound, code)
		}
		return "", err
	}
	return dir, nil
}

func isIdentifierInUse(err error) bool {
	return errors.Is(err, kimerr.ErrIdentifierInUse)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
