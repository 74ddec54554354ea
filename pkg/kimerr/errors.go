// Package kimerr defines the sentinel errors shared by every KIMkit
// component. Callers classify failures with errors.Is; components wrap
// these with fmt.Errorf("...: %w", ...) to add context.
package kimerr

import "errors"

// Identifier errors.
var (
	ErrInvalidIdentifier = errors.New("not a valid KIM identifier")
	ErrIdentifierInUse   = errors.New("identifier is already in use")
	ErrInvalidItemType   = errors.New("unrecognized KIM item type")
)

// Metadata errors.
var (
	ErrMissingRequiredField = errors.New("required metadata field missing")
	ErrInvalidFieldType     = errors.New("metadata field has invalid type")
	ErrUnknownMetadataField = errors.New("metadata field not recognized")
)

// User and permission errors.
var (
	ErrUnknownUser           = errors.New("not a recognized KIMkit user")
	ErrNotAnEditor           = errors.New("editor permissions required")
	ErrNotRunAsEditor        = errors.New("editor must set run-as-editor")
	ErrNotAdministrator      = errors.New("administrator permissions required")
	ErrNotRunAsAdministrator = errors.New("administrator must set run-as-administrator")
)

// Item and lifecycle errors.
var (
	ErrItemNotFound      = errors.New("item not found in repository")
	ErrNotLatestVersion  = errors.New("item is not the latest version of its lineage")
	ErrCorruptProvenance = errors.New("provenance ledger is missing or corrupt")
	ErrInvalidEventKind  = errors.New("unrecognized provenance event kind")
)
