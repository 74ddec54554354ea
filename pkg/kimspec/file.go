package kimspec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openkim/KIMkit/pkg/kimcode"
	"github.com/openkim/KIMkit/pkg/kimerr"
)

// Load reads and decodes the metadata record of an item version.
func Load(repositoryRoot, code string) (*Record, error) {
	dir, err := kimcode.Path(code, repositoryRoot)
	if err != nil {
		return nil, err
	}
	return LoadDir(dir)
}

// LoadDir reads the metadata record stored in an item directory.
func LoadDir(dir string) (*Record, error) {
	raw, err := LoadMapDir(dir)
	if err != nil {
		return nil, err
	}
	return FromMap(raw)
}

// LoadMapDir reads the metadata file in an item directory as a raw
// key-value document.
func LoadMapDir(dir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(dir, SpecFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no %s in %s", kimerr.ErrItemNotFound, SpecFileName, dir)
		}
		return nil, fmt.Errorf("read %s: %w", SpecFileName, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", SpecFileName, err)
	}
	return raw, nil
}

// Write serializes a record to the item's metadata file.
func Write(repositoryRoot, code string, r *Record) error {
	dir, err := kimcode.Path(code, repositoryRoot)
	if err != nil {
		return err
	}
	return WriteDir(dir, r)
}

// WriteDir serializes a record into an existing item directory. The
// document is written with canonical key ordering to a temporary file
// and atomically renamed over the metadata file, so a crash mid-write
// never corrupts the previous valid copy.
func WriteDir(dir string, r *Record) error {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: directory %s", kimerr.ErrItemNotFound, dir)
		}
		return err
	}

	// encoding/json sorts map keys, which is exactly the canonical
	// alphabetical field order of the standard.
	data, err := json.MarshalIndent(r.ToMap(), "", "    ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	data = append(data, '\n')

	tmp := filepath.Join(dir, specTmpFileName)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, SpecFileName)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit metadata: %w", err)
	}
	return nil
}
