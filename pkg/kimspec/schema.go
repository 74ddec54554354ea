// Package kimspec defines the KIMkit metadata standard: which fields
// each item type requires, what types their values must have, and the
// canonical on-disk form of the kimspec file stored beside every item
// version.
package kimspec

import "github.com/openkim/KIMkit/pkg/kimcode"

// SpecFileName is the metadata file kept in every item version
// directory.
const SpecFileName = "kimspec.json"

// specTmpFileName is the staging name for atomic writes. The leading
// dot keeps it out of provenance checksums if a crash leaves it behind.
const specTmpFileName = ".kimspec.json.tmp"

// FieldOrder is the canonical field order for serialized metadata. It
// is alphabetical, which keeps the JSON encoder's sorted-key output
// identical to the standard's ordering.
var FieldOrder = []string{
	"content-origin",
	"content-other-locations",
	"contributor-id",
	"date",
	"description",
	"developer",
	"disclaimer",
	"doi",
	"domain",
	"executables",
	"extended-id",
	"funding",
	"implementer",
	"kim-api-version",
	"kim-item-type",
	"license",
	"maintainer-id",
	"model-driver",
	"potential-type",
	"simulator-name",
	"simulator-potential",
	"simulator-potential-compatibility",
	"source-citations",
	"species",
	"title",
	"training",
}

// stringFields must hold string values.
var stringFields = map[string]bool{
	"content-origin":          true,
	"content-other-locations": true,
	"contributor-id":          true,
	"date":                    true,
	"description":             true,
	"disclaimer":              true,
	"doi":                     true,
	"domain":                  true,
	"extended-id":             true,
	"kim-api-version":         true,
	"kim-item-type":           true,
	"license":                 true,
	"maintainer-id":           true,
	"model-driver":            true,
	"potential-type":          true,
	"simulator-name":          true,
	"simulator-potential":     true,
	"title":                   true,
}

// uuidFields hold user references that must resolve to known users.
// contributor-id and maintainer-id are single strings; developer and
// implementer are arrays of them.
var uuidFields = map[string]bool{
	"contributor-id": true,
	"developer":      true,
	"implementer":    true,
	"maintainer-id":  true,
}

// elementKind is the declared element type of an array field.
type elementKind int

const (
	stringElement elementKind = iota
	objectElement
)

// arrayFields maps each array-valued field to its element kind.
var arrayFields = map[string]elementKind{
	"developer":                         stringElement,
	"executables":                       stringElement,
	"funding":                           objectElement,
	"implementer":                       stringElement,
	"simulator-potential-compatibility": objectElement,
	"source-citations":                  objectElement,
	"species":                           stringElement,
	"training":                          stringElement,
}

// objectSubKeys lists the sub-keys of object array elements; true
// marks a required sub-key. source-citations elements are free-form
// BibTeX-style records, so no sub-key is required there.
var objectSubKeys = map[string]map[string]bool{
	"funding": {
		"funder-name":  true,
		"award-number": false,
		"award-uri":    false,
		"award-title":  false,
	},
	"simulator-potential-compatibility": {
		"simulator-name":      true,
		"simulator-potential": true,
		"compatibility":       true,
		"compatibility-notes": false,
	},
}

// requirements holds the required and optional field sets for one item
// type.
type requirements struct {
	required []string
	optional []string
}

// typeRequirements is the per-item-type metadata standard.
var typeRequirements = map[kimcode.ItemType]requirements{
	kimcode.PortableModel: {
		required: []string{
			"description",
			"developer",
			"extended-id",
			"implementer",
			"kim-api-version",
			"kim-item-type",
			"license",
			"potential-type",
			"species",
			"title",
		},
		optional: []string{
			"content-origin",
			"content-other-locations",
			"contributor-id",
			"date",
			"disclaimer",
			"doi",
			"domain",
			"executables",
			"funding",
			"maintainer-id",
			"model-driver",
			"source-citations",
			"training",
		},
	},
	kimcode.SimulatorModel: {
		required: []string{
			"description",
			"developer",
			"extended-id",
			"implementer",
			"kim-api-version",
			"kim-item-type",
			"license",
			"potential-type",
			"simulator-name",
			"simulator-potential",
			"species",
			"title",
		},
		optional: []string{
			"content-origin",
			"content-other-locations",
			"contributor-id",
			"date",
			"disclaimer",
			"doi",
			"domain",
			"executables",
			"funding",
			"maintainer-id",
			"source-citations",
			"training",
		},
	},
	kimcode.ModelDriver: {
		required: []string{
			"description",
			"developer",
			"extended-id",
			"implementer",
			"kim-api-version",
			"kim-item-type",
			"license",
			"title",
		},
		optional: []string{
			"content-origin",
			"content-other-locations",
			"contributor-id",
			"date",
			"disclaimer",
			"doi",
			"domain",
			"executables",
			"funding",
			"maintainer-id",
			"simulator-potential-compatibility",
			"source-citations",
		},
	},
}

// knownField reports whether the field is part of the standard at all.
func knownField(field string) bool {
	for _, f := range FieldOrder {
		if f == field {
			return true
		}
	}
	return false
}

// allowedField reports whether the field is in the required or optional
// set for the item type.
func allowedField(reqs requirements, field string) bool {
	for _, f := range reqs.required {
		if f == field {
			return true
		}
	}
	for _, f := range reqs.optional {
		if f == field {
			return true
		}
	}
	return false
}
