package kimspec

import (
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/openkim/KIMkit/pkg/kimcode"
	"github.com/openkim/KIMkit/pkg/kimerr"
)

// UserResolver answers whether an id names a known user. UUID-reference
// fields are checked against it during validation.
type UserResolver interface {
	IsUserID(id string) (bool, error)
}

// Stamp fills in the fields KIMkit assigns itself on item creation: the
// extended id, the creation date, the contributing user, a defaulted
// maintainer, and the domain tag.
func Stamp(raw map[string]any, extendedID, contributorUUID string) {
	raw["extended-id"] = extendedID
	raw["date"] = time.Now().UTC().Format("2006-01-02 15:04:05")
	raw["contributor-id"] = contributorUUID
	if _, ok := raw["maintainer-id"]; !ok {
		raw["maintainer-id"] = contributorUUID
	}
	raw["domain"] = "KIMkit"
}

// Derive builds the raw metadata for a new item based on an existing
// record, reassigning the identifier and contributor and applying any
// caller overrides. The result still has to pass Validate.
func Derive(base *Record, newExtendedID, contributorUUID string, overrides map[string]any) map[string]any {
	raw := base.ToMap()
	raw["extended-id"] = newExtendedID
	raw["contributor-id"] = contributorUUID
	for k, v := range overrides {
		raw[k] = v
	}
	return raw
}

// Validate checks a raw metadata document against the standard and
// returns the typed record.
//
// Validation is two-phase: field presence first, then types and user
// references. Missing fields are the most actionable error, and the
// reference checks cost a store lookup each, so they run last. Fields
// outside the item type's required and optional sets are dropped with a
// warning rather than rejected, to tolerate schema evolution.
func Validate(raw map[string]any, resolver UserResolver) (*Record, error) {
	itemTypeValue, ok := raw["kim-item-type"]
	if !ok {
		return nil, fmt.Errorf("%w: kim-item-type", kimerr.ErrMissingRequiredField)
	}
	itemTypeStr, ok := itemTypeValue.(string)
	if !ok {
		return nil, fmt.Errorf("%w: kim-item-type must be a string", kimerr.ErrInvalidFieldType)
	}
	itemType := kimcode.ItemType(itemTypeStr)
	reqs, ok := typeRequirements[itemType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", kimerr.ErrInvalidItemType, itemTypeStr)
	}

	for _, field := range reqs.required {
		if _, present := raw[field]; !present {
			return nil, fmt.Errorf("%w: %q", kimerr.ErrMissingRequiredField, field)
		}
	}

	cleaned := make(map[string]any, len(raw))
	for field, value := range raw {
		if !allowedField(reqs, field) {
			glog.Warningf("metadata field %q not used for item type %s, dropping", field, itemType)
			continue
		}
		cleaned[field] = value
	}

	if err := CheckTypes(cleaned, itemType, resolver); err != nil {
		return nil, err
	}
	return FromMap(cleaned)
}

// CheckTypes verifies that every present field matches its declared
// shape: strings are strings, UUID references resolve to known users,
// arrays hold the declared element type, and object elements carry
// their required sub-keys.
func CheckTypes(raw map[string]any, itemType kimcode.ItemType, resolver UserResolver) error {
	if _, ok := typeRequirements[itemType]; !ok {
		return fmt.Errorf("%w: %q", kimerr.ErrInvalidItemType, itemType)
	}

	for field, value := range raw {
		if stringFields[field] {
			s, err := asString(field, value)
			if err != nil {
				return err
			}
			if uuidFields[field] {
				if err := resolveUser(field, s, resolver); err != nil {
					return err
				}
			}
			continue
		}

		kind, isArray := arrayFields[field]
		if !isArray {
			continue
		}
		switch kind {
		case stringElement:
			elems, err := asStringSlice(field, value)
			if err != nil {
				return err
			}
			if uuidFields[field] {
				for _, id := range elems {
					if err := resolveUser(field, id, resolver); err != nil {
						return err
					}
				}
			}
		case objectElement:
			objs, err := asObjectSlice(field, value)
			if err != nil {
				return err
			}
			required := objectSubKeys[field]
			for _, obj := range objs {
				for subKey, mandatory := range required {
					if !mandatory {
						continue
					}
					if _, present := obj[subKey]; !present {
						return fmt.Errorf("%w: %q entries require sub-key %q", kimerr.ErrInvalidFieldType, field, subKey)
					}
				}
			}
		}
	}
	return nil
}

func resolveUser(field, id string, resolver UserResolver) error {
	known, err := resolver.IsUserID(id)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", field, err)
	}
	if !known {
		return fmt.Errorf("%w: field %q references %q", kimerr.ErrUnknownUser, field, id)
	}
	return nil
}
