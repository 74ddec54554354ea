package kimspec

import (
	"fmt"

	"github.com/openkim/KIMkit/pkg/kimcode"
	"github.com/openkim/KIMkit/pkg/kimerr"
)

// Record is a typed KIMkit metadata record. One struct covers all three
// item types; which fields must be set is decided by the per-type
// tables in this package, not by subtyping. Extra holds fields read
// from disk that this version of the standard does not know, so newer
// files survive a round trip through older tooling.
type Record struct {
	ContentOrigin                   string
	ContentOtherLocations           string
	ContributorID                   string
	Date                            string
	Description                     string
	Developer                       []string
	Disclaimer                      string
	DOI                             string
	Domain                          string
	Executables                     []string
	ExtendedID                      string
	Funding                         []map[string]string
	Implementer                     []string
	KIMAPIVersion                   string
	ItemType                        kimcode.ItemType
	License                         string
	MaintainerID                    string
	ModelDriver                     string
	PotentialType                   string
	SimulatorName                   string
	SimulatorPotential              string
	SimulatorPotentialCompatibility []map[string]string
	SourceCitations                 []map[string]string
	Species                         []string
	Title                           string
	Training                        []string

	Extra map[string]any
}

// ToMap renders the record as a canonical key-value document. Zero
// fields are omitted.
func (r *Record) ToMap() map[string]any {
	m := make(map[string]any)
	putString := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	putStrings := func(k string, v []string) {
		if len(v) > 0 {
			m[k] = v
		}
	}
	putObjects := func(k string, v []map[string]string) {
		if len(v) > 0 {
			m[k] = v
		}
	}

	putString("content-origin", r.ContentOrigin)
	putString("content-other-locations", r.ContentOtherLocations)
	putString("contributor-id", r.ContributorID)
	putString("date", r.Date)
	putString("description", r.Description)
	putStrings("developer", r.Developer)
	putString("disclaimer", r.Disclaimer)
	putString("doi", r.DOI)
	putString("domain", r.Domain)
	putStrings("executables", r.Executables)
	putString("extended-id", r.ExtendedID)
	putObjects("funding", r.Funding)
	putStrings("implementer", r.Implementer)
	putString("kim-api-version", r.KIMAPIVersion)
	putString("kim-item-type", string(r.ItemType))
	putString("license", r.License)
	putString("maintainer-id", r.MaintainerID)
	putString("model-driver", r.ModelDriver)
	putString("potential-type", r.PotentialType)
	putString("simulator-name", r.SimulatorName)
	putString("simulator-potential", r.SimulatorPotential)
	putObjects("simulator-potential-compatibility", r.SimulatorPotentialCompatibility)
	putObjects("source-citations", r.SourceCitations)
	putStrings("species", r.Species)
	putString("title", r.Title)
	putStrings("training", r.Training)

	for k, v := range r.Extra {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	return m
}

// FromMap decodes a key-value document into a typed Record. Values of
// the wrong shape yield ErrInvalidFieldType; fields outside the
// standard land in Extra.
func FromMap(m map[string]any) (*Record, error) {
	r := &Record{}
	for field, value := range m {
		var err error
		switch field {
		case "content-origin":
			r.ContentOrigin, err = asString(field, value)
		case "content-other-locations":
			r.ContentOtherLocations, err = asString(field, value)
		case "contributor-id":
			r.ContributorID, err = asString(field, value)
		case "date":
			r.Date, err = asString(field, value)
		case "description":
			r.Description, err = asString(field, value)
		case "developer":
			r.Developer, err = asStringSlice(field, value)
		case "disclaimer":
			r.Disclaimer, err = asString(field, value)
		case "doi":
			r.DOI, err = asString(field, value)
		case "domain":
			r.Domain, err = asString(field, value)
		case "executables":
			r.Executables, err = asStringSlice(field, value)
		case "extended-id":
			r.ExtendedID, err = asString(field, value)
		case "funding":
			r.Funding, err = asObjectSlice(field, value)
		case "implementer":
			r.Implementer, err = asStringSlice(field, value)
		case "kim-api-version":
			r.KIMAPIVersion, err = asString(field, value)
		case "kim-item-type":
			var s string
			s, err = asString(field, value)
			r.ItemType = kimcode.ItemType(s)
		case "license":
			r.License, err = asString(field, value)
		case "maintainer-id":
			r.MaintainerID, err = asString(field, value)
		case "model-driver":
			r.ModelDriver, err = asString(field, value)
		case "potential-type":
			r.PotentialType, err = asString(field, value)
		case "simulator-name":
			r.SimulatorName, err = asString(field, value)
		case "simulator-potential":
			r.SimulatorPotential, err = asString(field, value)
		case "simulator-potential-compatibility":
			r.SimulatorPotentialCompatibility, err = asObjectSlice(field, value)
		case "source-citations":
			r.SourceCitations, err = asObjectSlice(field, value)
		case "species":
			r.Species, err = asStringSlice(field, value)
		case "title":
			r.Title, err = asString(field, value)
		case "training":
			r.Training, err = asStringSlice(field, value)
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]any)
			}
			r.Extra[field] = value
		}
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Set assigns a metadata field by its standard name. The value is
// checked against the field's declared shape.
func (r *Record) Set(field string, value any) error {
	if !knownField(field) {
		return fmt.Errorf("%w: %q", kimerr.ErrUnknownMetadataField, field)
	}
	m := r.ToMap()
	m[field] = value
	updated, err := FromMap(m)
	if err != nil {
		return err
	}
	*r = *updated
	return nil
}

// Delete removes a metadata field by its standard name.
func (r *Record) Delete(field string) error {
	if !knownField(field) {
		return fmt.Errorf("%w: %q", kimerr.ErrUnknownMetadataField, field)
	}
	m := r.ToMap()
	delete(m, field)
	updated, err := FromMap(m)
	if err != nil {
		return err
	}
	*r = *updated
	return nil
}

func asString(field string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", kimerr.ErrInvalidFieldType, field)
	}
	return s, nil
}

func asStringSlice(field string, v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: elements of %q must be strings", kimerr.ErrInvalidFieldType, field)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q must be an array of strings", kimerr.ErrInvalidFieldType, field)
}

func asObjectSlice(field string, v any) ([]map[string]string, error) {
	toObject := func(e any) (map[string]string, error) {
		switch obj := e.(type) {
		case map[string]string:
			return obj, nil
		case map[string]any:
			out := make(map[string]string, len(obj))
			for k, val := range obj {
				s, ok := val.(string)
				if !ok {
					return nil, fmt.Errorf("%w: values of %q entries must be strings", kimerr.ErrInvalidFieldType, field)
				}
				out[k] = s
			}
			return out, nil
		}
		return nil, fmt.Errorf("%w: elements of %q must be objects", kimerr.ErrInvalidFieldType, field)
	}

	switch vv := v.(type) {
	case []map[string]string:
		return vv, nil
	case []any:
		out := make([]map[string]string, 0, len(vv))
		for _, e := range vv {
			obj, err := toObject(e)
			if err != nil {
				return nil, err
			}
			out = append(out, obj)
		}
		return out, nil
	case []map[string]any:
		out := make([]map[string]string, 0, len(vv))
		for _, e := range vv {
			obj, err := toObject(e)
			if err != nil {
				return nil, err
			}
			out = append(out, obj)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q must be an array of objects", kimerr.ErrInvalidFieldType, field)
}
