// Package facet derives the cascading district/municipality/cemetery option lists
// from the flattened region hierarchy.
package facet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
)

// Facet is one of the three filterable dimensions of the hierarchy.
type Facet int

const (
	District Facet = iota + 1
	Municipality
	Cemetery
)

// All lists the facets from the most general to the most specific.
var All = [...]Facet{District, Municipality, Cemetery}

// Unconstrained is the sentinel filter value meaning "no filter applied".
const Unconstrained model.ID = ""

var ErrUnknownFacet = errors.New("unknown facet")

func (f Facet) String() string {
	switch f {
	case District:
		return "district"
	case Municipality:
		return "municipality"
	case Cemetery:
		return "cemetery"
	default:
		return fmt.Sprintf("facet(%d)", int(f))
	}
}

// Param is the navigation parameter name carrying this facet's id.
func (f Facet) Param() string {
	switch f {
	case District:
		return "okrug"
	case Municipality:
		return "opstina"
	case Cemetery:
		return "groblje"
	default:
		return ""
	}
}

// ParseFacet accepts english names and the archive's own terms (okrug, opstina, groblje).
func ParseFacet(s string) (Facet, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "district", "okrug":
		return District, nil
	case "municipality", "opstina", "opština":
		return Municipality, nil
	case "cemetery", "groblje":
		return Cemetery, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFacet, s)
	}
}

func (f Facet) valid() bool {
	return f >= District && f <= Cemetery
}

// column projects the facet's id/name pair out of a record.
func (f Facet) column(r model.RegionRecord) model.FacetOption {
	switch f {
	case District:
		return model.FacetOption{ID: r.DistrictID, Name: r.DistrictName}
	case Municipality:
		return model.FacetOption{ID: r.MunicipalityID, Name: r.MunicipalityName}
	case Cemetery:
		return model.FacetOption{ID: r.CemeteryID, Name: r.CemeteryName}
	default:
		return model.FacetOption{}
	}
}

func (f Facet) id(r model.RegionRecord) model.ID {
	switch f {
	case District:
		return r.DistrictID
	case Municipality:
		return r.MunicipalityID
	case Cemetery:
		return r.CemeteryID
	default:
		return ""
	}
}

// Filters holds one value per facet; Unconstrained slots match everything.
type Filters struct {
	District     model.ID
	Municipality model.ID
	Cemetery     model.ID
}

func (fs Filters) Get(f Facet) model.ID {
	switch f {
	case District:
		return fs.District
	case Municipality:
		return fs.Municipality
	case Cemetery:
		return fs.Cemetery
	default:
		return Unconstrained
	}
}

// With returns a copy with facet f set to v.
func (fs Filters) With(f Facet, v model.ID) Filters {
	switch f {
	case District:
		fs.District = v
	case Municipality:
		fs.Municipality = v
	case Cemetery:
		fs.Cemetery = v
	}
	return fs
}

// Without returns a copy with facet f unconstrained.
func (fs Filters) Without(f Facet) Filters {
	return fs.With(f, Unconstrained)
}

// Active reports whether facet f carries a concrete value.
func (fs Filters) Active(f Facet) bool {
	return fs.Get(f) != Unconstrained
}

// IsZero is true when no facet is constrained.
func (fs Filters) IsZero() bool {
	return fs == Filters{}
}

// Matches applies every constrained facet except skip as an AND predicate.
func (fs Filters) Matches(r model.RegionRecord, skip Facet) bool {
	for _, f := range All {
		if f == skip || !fs.Active(f) {
			continue
		}
		if f.id(r) != fs.Get(f) {
			return false
		}
	}
	return true
}

// ComputeOptions returns the distinct target-column values among records matching every
// facet other than target, in first-seen order. The target's own value is ignored.
func ComputeOptions(records []model.RegionRecord, filters Filters, target Facet) []model.FacetOption {
	if !target.valid() {
		return nil
	}
	out := make([]model.FacetOption, 0)
	seen := make(map[model.ID]struct{})
	for _, r := range records {
		if !filters.Matches(r, target) {
			continue
		}
		opt := target.column(r)
		if _, ok := seen[opt.ID]; ok {
			continue
		}
		seen[opt.ID] = struct{}{}
		out = append(out, opt)
	}
	return out
}
