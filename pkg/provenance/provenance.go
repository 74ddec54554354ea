// Package provenance maintains the append-only, checksum-backed
// history ledger stored beside every item version. Each entry records
// a content checksum map, the event that produced it, the acting user,
// and a timestamp. Entries are never rewritten; new history is
// prepended, so the oldest entry is always the lineage's
// initial-creation.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openkim/KIMkit/pkg/kimerr"
	"github.com/openkim/KIMkit/pkg/kimspec"
)

// LedgerFileName is the provenance file kept in every item version
// directory.
const LedgerFileName = "kimprovenance.json"

const ledgerTmpFileName = ".kimprovenance.json.tmp"

// EventKind classifies a version-creating event.
type EventKind string

const (
	EventInitialCreation EventKind = "initial-creation"
	EventRevisedVersion  EventKind = "revised-version-creation"
	EventMetadataUpdate  EventKind = "metadata-update"
	EventFork            EventKind = "fork"
	EventDiscontinued    EventKind = "discontinued"
)

// ValidEventKind reports whether kind is in the fixed enumeration.
func ValidEventKind(kind EventKind) bool {
	switch kind {
	case EventInitialCreation, EventRevisedVersion, EventMetadataUpdate, EventFork, EventDiscontinued:
		return true
	}
	return false
}

// Entry is one ledger record. Field declaration order matches the
// canonical serialized key order.
type Entry struct {
	Checksums  map[string]string `json:"checksums"`
	Comments   string            `json:"comments,omitempty"`
	EventType  EventKind         `json:"event-type"`
	ExtendedID string            `json:"extended-id"`
	Timestamp  string            `json:"timestamp"`
	UserID     string            `json:"user-id"`
}

// UserResolver answers whether an id names a known user.
type UserResolver interface {
	IsUserID(id string) (bool, error)
}

// ComputeChecksums hashes every content file under the item directory,
// keyed by path relative to it. The ledger file itself and hidden
// entries are excluded. Directories are not listed; their files are
// hashed individually, except that an empty directory contributes a
// hash of its (empty) recursive listing so it is not silently dropped.
func ComputeChecksums(itemDirectory string) (map[string]string, error) {
	sums := make(map[string]string)
	err := filepath.WalkDir(itemDirectory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == itemDirectory {
			return nil
		}
		rel, err := filepath.Rel(itemDirectory, path)
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			empty, err := isEmptyDir(path)
			if err != nil {
				return err
			}
			if empty {
				sums[rel] = hashListing(nil)
			}
			return nil
		}
		if rel == LedgerFileName {
			return nil
		}
		if !d.Type().IsRegular() {
			return fmt.Errorf("cannot checksum %s: neither a regular file nor a directory", rel)
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		sums[rel] = sum
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checksum %s: %w", itemDirectory, err)
	}
	return sums, nil
}

// Append constructs a new ledger entry from the directory's current
// content and writes the extended ledger. For any event other than
// initial-creation the existing ledger must be present; a missing
// ledger is a data integrity failure, not a recoverable state.
func Append(itemDirectory, userID string, event EventKind, comment string, resolver UserResolver) error {
	known, err := resolver.IsUserID(userID)
	if err != nil {
		return err
	}
	if !known {
		return fmt.Errorf("%w: uuid %q", kimerr.ErrUnknownUser, userID)
	}
	if !ValidEventKind(event) {
		return fmt.Errorf("%w: %q", kimerr.ErrInvalidEventKind, event)
	}

	spec, err := kimspec.LoadDir(itemDirectory)
	if err != nil {
		return err
	}

	var existing []Entry
	ledgerPath := filepath.Join(itemDirectory, LedgerFileName)
	_, statErr := os.Stat(ledgerPath)
	switch {
	case event == EventInitialCreation:
		if statErr == nil {
			return fmt.Errorf("%w: ledger already exists for initial-creation in %s", kimerr.ErrCorruptProvenance, itemDirectory)
		}
	case statErr != nil:
		return fmt.Errorf("%w: no ledger in %s for %s event", kimerr.ErrCorruptProvenance, itemDirectory, event)
	default:
		existing, err = Load(itemDirectory)
		if err != nil {
			return err
		}
	}

	sums, err := ComputeChecksums(itemDirectory)
	if err != nil {
		return err
	}

	entry := Entry{
		Checksums:  sums,
		Comments:   comment,
		EventType:  event,
		ExtendedID: spec.ExtendedID,
		Timestamp:  time.Now().UTC().Format("2006-01-02 15:04:05"),
		UserID:     userID,
	}

	return write(itemDirectory, append([]Entry{entry}, existing...))
}

// Load reads the ledger of an item directory, newest entry first.
func Load(itemDirectory string) ([]Entry, error) {
	data, err := os.ReadFile(filepath.Join(itemDirectory, LedgerFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no %s in %s", kimerr.ErrCorruptProvenance, LedgerFileName, itemDirectory)
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", kimerr.ErrCorruptProvenance, err)
	}
	return entries, nil
}

// CopyForward copies the ledger file of one item directory into
// another, preserving history when a new version or fork starts from an
// existing item.
func CopyForward(fromDir, toDir string) error {
	data, err := os.ReadFile(filepath.Join(fromDir, LedgerFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: no %s in %s", kimerr.ErrCorruptProvenance, LedgerFileName, fromDir)
		}
		return fmt.Errorf("read ledger: %w", err)
	}
	if err := os.WriteFile(filepath.Join(toDir, LedgerFileName), data, 0o644); err != nil {
		return fmt.Errorf("copy ledger: %w", err)
	}
	return nil
}

// write serializes the ledger with canonical per-entry key order
// (checksum keys sorted by the JSON encoder) through a temp file and
// atomic rename.
func write(itemDirectory string, entries []Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	data = append(data, '\n')

	tmp := filepath.Join(itemDirectory, ledgerTmpFileName)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(itemDirectory, LedgerFileName)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit ledger: %w", err)
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashListing(names []string) string {
	sort.Strings(names)
	h := sha256.New()
	for _, n := range names {
		io.WriteString(h, n)
		io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}

func isEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
