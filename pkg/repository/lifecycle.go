package repository

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/golang/glog"

	"github.com/openkim/KIMkit/pkg/archive"
	"github.com/openkim/KIMkit/pkg/kimcode"
	"github.com/openkim/KIMkit/pkg/kimerr"
	"github.com/openkim/KIMkit/pkg/kimspec"
	"github.com/openkim/KIMkit/pkg/provenance"
)

// VersionUpdate creates the next version of an item from new content.
// Only the latest existing version may be updated, and only by the
// item's owner or maintainer, or by an Editor confirming with
// runAsEditor. Metadata carries forward with the given overrides
// applied, and the provenance ledger carries forward with a
// revised-version-creation entry on top.
func (r *Repository) VersionUpdate(code string, content io.Reader, overrides map[string]any, comment string, runAsEditor bool) (string, error) {
	oldDir, err := r.itemDir(code)
	if err != nil {
		return "", err
	}
	c, err := kimcode.Parse(code)
	if err != nil {
		return "", err
	}
	latest, err := latestVersion(filepath.Dir(oldDir))
	if err != nil {
		return "", err
	}
	if c.Version != latest {
		return "", fmt.Errorf("%w: %s is not the latest version (%03d)", kimerr.ErrNotLatestVersion, code, latest)
	}

	base, err := kimspec.LoadDir(oldDir)
	if err != nil {
		return "", err
	}
	actingUUID, err := r.gate.CurrentUserUUID()
	if err != nil {
		return "", err
	}
	if err := r.gate.AuthorizeMutation(actingUUID, base.ContributorID, base.MaintainerID, runAsEditor); err != nil {
		return "", err
	}

	staging, err := r.newStaging("update")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)

	if err := archive.ExtractToStaging(content, staging); err != nil {
		return "", err
	}
	executables, err := archive.DetectExecutables(staging)
	if err != nil {
		return "", err
	}

	newCode := kimcode.Format(c.Name, c.Leader, c.Number, c.Version+1)
	raw := kimspec.Derive(base, newCode, actingUUID, overrides)
	delete(raw, "executables")
	if len(executables) > 0 {
		raw["executables"] = executables
	}
	kimspec.Stamp(raw, newCode, actingUUID)

	record, err := kimspec.Validate(raw, r.gate)
	if err != nil {
		return "", err
	}
	if err := kimspec.WriteDir(staging, record); err != nil {
		return "", err
	}
	if err := provenance.CopyForward(oldDir, staging); err != nil {
		return "", err
	}

	if err := r.commit(staging, newCode); err != nil {
		return "", err
	}
	if err := r.postCommit(newCode, actingUUID, provenance.EventRevisedVersion, comment); err != nil {
		return newCode, err
	}
	glog.Infof("updated %s to %s by %s", code, newCode, actingUUID)
	return newCode, nil
}

// Fork copies an item version into a brand new lineage at version 000
// under a fresh identifier, keeping its content and full provenance
// history and appending a fork entry.
func (r *Repository) Fork(code, newName, comment string, runAsEditor bool) (string, error) {
	srcDir, err := r.itemDir(code)
	if err != nil {
		return "", err
	}
	base, err := kimspec.LoadDir(srcDir)
	if err != nil {
		return "", err
	}
	actingUUID, err := r.gate.CurrentUserUUID()
	if err != nil {
		return "", err
	}
	if err := r.gate.AuthorizeMutation(actingUUID, base.ContributorID, base.MaintainerID, runAsEditor); err != nil {
		return "", err
	}

	itemType := base.ItemType
	if itemType == "" {
		return "", fmt.Errorf("%w: %s has no kim-item-type", kimerr.ErrInvalidItemType, code)
	}

	staging, err := r.newStaging("fork")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(staging)
	if err := copyDir(srcDir, staging); err != nil {
		return "", err
	}

	var newCode string
	for attempt := 0; ; attempt++ {
		newCode, err = kimcode.Generate(newName, itemType, r.cfg.RepositoryPath)
		if err != nil {
			return "", err
		}
		raw := kimspec.Derive(base, newCode, actingUUID, nil)
		kimspec.Stamp(raw, newCode, actingUUID)
		record, err := kimspec.Validate(raw, r.gate)
		if err != nil {
			return "", err
		}
		if err := kimspec.WriteDir(staging, record); err != nil {
			return "", err
		}

		err = r.commit(staging, newCode)
		if err == nil {
			break
		}
		if !isIdentifierInUse(err) || attempt >= maxClaimAttempts {
			return "", err
		}
	}

	if err := r.postCommit(newCode, actingUUID, provenance.EventFork, comment); err != nil {
		return newCode, err
	}
	glog.Infof("forked %s as %s by %s", code, newCode, actingUUID)
	return newCode, nil
}

// EditMetadata sets a single metadata field on a committed item version
// and records a metadata-update event.
func (r *Repository) EditMetadata(code, field string, value any, comment string, runAsEditor bool) error {
	return r.editRecord(code, comment, runAsEditor, func(record *kimspec.Record) error {
		return record.Set(field, value)
	})
}

// DeleteMetadataField removes a single metadata field from a committed
// item version and records a metadata-update event.
func (r *Repository) DeleteMetadataField(code, field, comment string, runAsEditor bool) error {
	return r.editRecord(code, comment, runAsEditor, func(record *kimspec.Record) error {
		return record.Delete(field)
	})
}

func (r *Repository) editRecord(code, comment string, runAsEditor bool, mutate func(*kimspec.Record) error) error {
	dir, err := r.itemDir(code)
	if err != nil {
		return err
	}
	record, err := kimspec.LoadDir(dir)
	if err != nil {
		return err
	}
	actingUUID, err := r.gate.CurrentUserUUID()
	if err != nil {
		return err
	}
	if err := r.gate.AuthorizeMutation(actingUUID, record.ContributorID, record.MaintainerID, runAsEditor); err != nil {
		return err
	}

	if err := mutate(record); err != nil {
		return err
	}
	// The edited document has to satisfy the standard as a whole, not
	// just the one field.
	validated, err := kimspec.Validate(record.ToMap(), r.gate)
	if err != nil {
		return err
	}
	if err := kimspec.WriteDir(dir, validated); err != nil {
		return err
	}
	return r.postCommit(code, actingUUID, provenance.EventMetadataUpdate, comment)
}

// Discontinue marks an item version as no longer maintained. Content
// stays in place; only a provenance entry records the decision.
func (r *Repository) Discontinue(code, comment string, runAsEditor bool) error {
	dir, err := r.itemDir(code)
	if err != nil {
		return err
	}
	record, err := kimspec.LoadDir(dir)
	if err != nil {
		return err
	}
	actingUUID, err := r.gate.CurrentUserUUID()
	if err != nil {
		return err
	}
	if err := r.gate.AuthorizeMutation(actingUUID, record.ContributorID, record.MaintainerID, runAsEditor); err != nil {
		return err
	}
	glog.Infof("discontinuing %s by %s", code, actingUUID)
	return r.postCommit(code, actingUUID, provenance.EventDiscontinued, comment)
}

// Delete removes an item version from the repository and the index.
// Empty lineage and shard directories left behind are pruned so the
// identifier becomes allocatable again.
func (r *Repository) Delete(code string, runAsEditor bool) error {
	dir, err := r.itemDir(code)
	if err != nil {
		return err
	}
	record, err := kimspec.LoadDir(dir)
	if err != nil {
		return err
	}
	actingUUID, err := r.gate.CurrentUserUUID()
	if err != nil {
		return err
	}
	if err := r.gate.AuthorizeMutation(actingUUID, record.ContributorID, record.MaintainerID, runAsEditor); err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete %s: %w", code, err)
	}
	pruneEmptyDirs(filepath.Dir(dir), r.cfg.RepositoryPath)

	if r.index != nil {
		if err := r.index.Delete(code); err != nil {
			glog.Errorf("item %s deleted but index update failed: %v", code, err)
			return fmt.Errorf("item %s deleted, index update failed: %w", code, err)
		}
	}
	glog.Infof("deleted %s by %s", code, actingUUID)
	return nil
}

// latestVersion scans a lineage directory for its highest version.
func latestVersion(lineageDir string) (int, error) {
	entries, err := os.ReadDir(lineageDir)
	if err != nil {
		return 0, err
	}
	latest := -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}
	if latest < 0 {
		return 0, fmt.Errorf("%w: no versions in %s", kimerr.ErrItemNotFound, lineageDir)
	}
	return latest, nil
}

// pruneEmptyDirs removes empty directories from dir upward, stopping at
// root or at the first non-empty directory.
func pruneEmptyDirs(dir, root string) {
	for dir != root && len(dir) > len(root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// copyDir copies the regular files and directories of src into dst,
// which must already exist.
func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := os.MkdirAll(to, 0o755); err != nil {
				return err
			}
			if err := copyDir(from, to); err != nil {
				return err
			}
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("copy %s: not a regular file", from)
		}
		if err := copyFile(from, to, info.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
