// Package kimcode handles KIM identifiers: parsing, formatting, random
// allocation, and the mapping from an identifier to its storage path
// inside a repository.
//
// A kimcode has the form
//
//	[name__]LL_NNNNNNNNNNNN[_VVV]
//
// where LL is a two-letter leader naming the item type (MO, SM, MD),
// NNNNNNNNNNNN is a 12 digit number, and VVV is a zero-padded version
// starting at 000. The optional name prefix must begin with a letter or
// underscore and may contain only letters, digits, and underscores.
package kimcode

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/openkim/KIMkit/pkg/kimerr"
)

// ItemType names a kind of KIMkit item.
type ItemType string

const (
	PortableModel  ItemType = "portable-model"
	SimulatorModel ItemType = "simulator-model"
	ModelDriver    ItemType = "model-driver"
)

// Leaders for each item type.
const (
	LeaderPortableModel  = "MO"
	LeaderSimulatorModel = "SM"
	LeaderModelDriver    = "MD"
)

var (
	reKIMID    = regexp.MustCompile(`^(?:([_a-zA-Z][_a-zA-Z0-9]*?)__)?([A-Z]{2})_([0-9]{12})(?:_([0-9]{3}))?$`)
	reExtended = regexp.MustCompile(`^(?:([_a-zA-Z][_a-zA-Z0-9]*?)__)?([A-Z]{2})_([0-9]{12})_([0-9]{3})$`)
	reJobID    = regexp.MustCompile(`^([A-Z]{2}_[0-9]{12}_[0-9]{3})-and-([A-Z]{2}_[0-9]{12}_[0-9]{3})-([0-9]{5,})$`)
	reResultID = regexp.MustCompile(`^([A-Z]{2}_[0-9]{12}_[0-9]{3})-and-([A-Z]{2}_[0-9]{12}_[0-9]{3})-([0-9]{5,})-([tve]r)$`)
)

// shardWidth is the number of digits per storage path segment.
const shardWidth = 4

// maxGenerateAttempts bounds the random allocation loop. The 10^12 id
// space makes collisions vanishingly rare in any realistic repository;
// exhausting this bound means something is feeding Generate a full or
// broken repository.
const maxGenerateAttempts = 1000

// Code is a parsed kimcode.
type Code struct {
	Name       string // optional human-readable prefix, "" if absent
	Leader     string // MO, SM, or MD
	Number     string // 12 digit id number, kept as a string to preserve zeros
	Version    int
	HasVersion bool
}

// String formats the code back into canonical form.
func (c Code) String() string {
	if c.HasVersion {
		return Format(c.Name, c.Leader, c.Number, c.Version)
	}
	if c.Name != "" {
		return fmt.Sprintf("%s__%s_%s", c.Name, c.Leader, c.Number)
	}
	return fmt.Sprintf("%s_%s", c.Leader, c.Number)
}

// ItemType returns the item type named by the code's leader.
func (c Code) ItemType() (ItemType, error) {
	return ItemTypeForLeader(c.Leader)
}

// Parse splits a kimcode into its pieces. Composite job and result ids
// are recognized by IsJobID and IsResultID; Parse accepts plain and
// extended kimcodes only.
func Parse(code string) (Code, error) {
	m := reKIMID.FindStringSubmatch(code)
	if m == nil {
		return Code{}, fmt.Errorf("%w: %q", kimerr.ErrInvalidIdentifier, code)
	}
	c := Code{Name: m[1], Leader: m[2], Number: m[3]}
	if m[4] != "" {
		v, err := strconv.Atoi(m[4])
		if err != nil {
			return Code{}, fmt.Errorf("%w: %q", kimerr.ErrInvalidIdentifier, code)
		}
		c.Version = v
		c.HasVersion = true
	}
	return c, nil
}

// Format builds a canonical kimcode. The version is always zero-padded
// to three digits.
func Format(name, leader, number string, version int) string {
	if name != "" {
		return fmt.Sprintf("%s__%s_%s_%03d", name, leader, number, version)
	}
	return fmt.Sprintf("%s_%s_%03d", leader, number, version)
}

// ShortID strips the name prefix from an extended kimcode, leaving
// LL_NNNNNNNNNNNN_VVV.
func ShortID(code string) (string, error) {
	m := reExtended.FindStringSubmatch(code)
	if m == nil {
		return "", fmt.Errorf("%w: %q has no version", kimerr.ErrInvalidIdentifier, code)
	}
	return m[2] + "_" + m[3] + "_" + m[4], nil
}

// StripVersion drops the version suffix, keeping any name prefix.
func StripVersion(code string) (string, error) {
	c, err := Parse(code)
	if err != nil {
		return "", err
	}
	c.HasVersion = false
	return c.String(), nil
}

// StripName drops the name prefix, keeping the version.
func StripName(code string) (string, error) {
	c, err := Parse(code)
	if err != nil {
		return "", err
	}
	c.Name = ""
	return c.String(), nil
}

// IsKIMID reports whether code is a kimcode, with or without a version.
func IsKIMID(code string) bool { return reKIMID.MatchString(code) }

// IsExtendedKIMID reports whether code is a kimcode including a version.
func IsExtendedKIMID(code string) bool { return reExtended.MatchString(code) }

// IsJobID reports whether code is a composite pipeline job id.
func IsJobID(code string) bool { return reJobID.MatchString(code) }

// IsResultID reports whether code is a composite result id
// (test result, verification result, or error).
func IsResultID(code string) bool { return reResultID.MatchString(code) }

// LeaderForItemType maps an item type to its two-letter leader.
func LeaderForItemType(t ItemType) (string, error) {
	switch t {
	case PortableModel:
		return LeaderPortableModel, nil
	case SimulatorModel:
		return LeaderSimulatorModel, nil
	case ModelDriver:
		return LeaderModelDriver, nil
	}
	return "", fmt.Errorf("%w: %q", kimerr.ErrInvalidItemType, t)
}

// ItemTypeForLeader maps a leader back to its item type.
func ItemTypeForLeader(leader string) (ItemType, error) {
	switch leader {
	case LeaderPortableModel:
		return PortableModel, nil
	case LeaderSimulatorModel:
		return SimulatorModel, nil
	case LeaderModelDriver:
		return ModelDriver, nil
	}
	return "", fmt.Errorf("%w: leader %q", kimerr.ErrInvalidItemType, leader)
}

// bucketForLeader maps a leader to the repository type bucket directory.
func bucketForLeader(leader string) (string, error) {
	switch leader {
	case LeaderPortableModel:
		return "portable-models", nil
	case LeaderSimulatorModel:
		return "simulator-models", nil
	case LeaderModelDriver:
		return "model-drivers", nil
	}
	return "", fmt.Errorf("%w: leader %q", kimerr.ErrInvalidItemType, leader)
}

// Path maps an extended kimcode to its storage directory under the
// repository root. The 12 digit number is split into 4 digit shard
// segments, so XXXXYYYYZZZZ version VVV lives at
//
//	root/<bucket>/XXXX/YYYY/ZZZZ/VVV
func Path(code, repositoryRoot string) (string, error) {
	c, err := Parse(code)
	if err != nil {
		return "", err
	}
	if !c.HasVersion {
		return "", fmt.Errorf("%w: %q has no version", kimerr.ErrInvalidIdentifier, code)
	}
	bucket, err := bucketForLeader(c.Leader)
	if err != nil {
		return "", err
	}
	parts := []string{repositoryRoot, bucket}
	for i := 0; i < len(c.Number); i += shardWidth {
		parts = append(parts, c.Number[i:i+shardWidth])
	}
	parts = append(parts, fmt.Sprintf("%03d", c.Version))
	return filepath.Join(parts...), nil
}

// IsAvailable reports whether no item directory exists for the code in
// the repository. A positive answer is advisory only: the final claim is
// the exclusive directory creation at commit time.
func IsAvailable(repositoryRoot, code string) (bool, error) {
	p, err := Path(code, repositoryRoot)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Generate allocates a fresh kimcode for a new item at version 000. It
// samples random 12 digit numbers until one maps to an unused storage
// path. Termination is statistical, not absolute: the id space vastly
// exceeds realistic repository sizes, and the attempt bound turns a
// pathological caller into an error instead of a spin.
func Generate(name string, itemType ItemType, repositoryRoot string) (string, error) {
	leader, err := LeaderForItemType(itemType)
	if err != nil {
		return "", err
	}
	return generateWith(randomNumber, name, leader, repositoryRoot)
}

func generateWith(next func() string, name, leader, repositoryRoot string) (string, error) {
	for i := 0; i < maxGenerateAttempts; i++ {
		code := Format(name, leader, next(), 0)
		free, err := IsAvailable(repositoryRoot, code)
		if err != nil {
			return "", err
		}
		if free {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: no free identifier after %d attempts", kimerr.ErrIdentifierInUse, maxGenerateAttempts)
}

func randomNumber() string {
	return fmt.Sprintf("%012d", rand.Uint64N(1_000_000_000_000))
}
