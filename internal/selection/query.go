package selection

import (
	"net/url"
	"strings"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/facet"
)

// Navigation parameter names shared with the results view.
const (
	ParamQuery = "ime"
	SearchPath = "/search"
)

var djReplacer = []struct{ from, to string }{
	{"dj", "đ"},
	{"Dj", "Đ"},
}

// NormalizeQuery joins tokens with a single space and spells the digraph dj as đ
// (and Dj as Đ). All occurrences are replaced, lowercase rule first.
func NormalizeQuery(tokens ...string) string {
	s := strings.Join(tokens, " ")
	for _, r := range djReplacer {
		s = strings.ReplaceAll(s, r.from, r.to)
	}
	return s
}

// NavigationTarget is where a submitted search sends the user.
type NavigationTarget struct {
	Path           string   `json:"path"`
	Query          string   `json:"query"`
	DistrictID     model.ID `json:"district_id,omitempty"`
	MunicipalityID model.ID `json:"municipality_id,omitempty"`
	CemeteryID     model.ID `json:"cemetery_id,omitempty"`
}

// Values encodes the target as navigation parameters; unconstrained facets are omitted.
func (t NavigationTarget) Values() url.Values {
	v := url.Values{}
	v.Set(ParamQuery, t.Query)
	if t.CemeteryID != facet.Unconstrained {
		v.Set(facet.Cemetery.Param(), t.CemeteryID.String())
	}
	if t.MunicipalityID != facet.Unconstrained {
		v.Set(facet.Municipality.Param(), t.MunicipalityID.String())
	}
	if t.DistrictID != facet.Unconstrained {
		v.Set(facet.District.Param(), t.DistrictID.String())
	}
	return v
}

func (t NavigationTarget) URL() string {
	return t.Path + "?" + t.Values().Encode()
}

// InitialParams is the navigation state read back when a view starts.
type InitialParams struct {
	Query          string
	DistrictID     model.ID
	MunicipalityID model.ID
	CemeteryID     model.ID
}

// ParseInitialParams reads ime, okrug, opstina and groblje. The placeholder value "0"
// is treated as absent.
func ParseInitialParams(v url.Values) InitialParams {
	return InitialParams{
		Query:          v.Get(ParamQuery),
		DistrictID:     paramID(v, facet.District),
		MunicipalityID: paramID(v, facet.Municipality),
		CemeteryID:     paramID(v, facet.Cemetery),
	}
}

func paramID(v url.Values, f facet.Facet) model.ID {
	return NormalizeID(v.Get(f.Param()))
}

// NormalizeID maps the dropdown placeholder "0" and blanks to the unconstrained sentinel.
func NormalizeID(s string) model.ID {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return facet.Unconstrained
	}
	return model.ID(s)
}

// HasRegion reports whether any region identifier is present.
func (p InitialParams) HasRegion() bool {
	return p.DistrictID != facet.Unconstrained ||
		p.MunicipalityID != facet.Unconstrained ||
		p.CemeteryID != facet.Unconstrained
}
