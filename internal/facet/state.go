package facet

import (
	"github.com/mohammed-shakir/burial-registry/internal/core/model"
)

// State keeps the current filters and the option list shown for each facet.
// It is not safe for concurrent use; callers serialize access.
type State struct {
	records []model.RegionRecord
	filters Filters
	options map[Facet][]model.FacetOption
}

// NewState computes initial option lists with every facet unconstrained.
func NewState(records []model.RegionRecord) *State {
	s := &State{
		records: records,
		options: make(map[Facet][]model.FacetOption, len(All)),
	}
	for _, f := range All {
		s.options[f] = ComputeOptions(records, s.filters, f)
	}
	return s
}

// SetFacet stores v for f and recomputes the option lists of the other two facets.
// The chosen facet keeps its list; it is displayed as a selected value, not a selector.
func (s *State) SetFacet(f Facet, v model.ID) {
	if !f.valid() {
		return
	}
	s.filters = s.filters.With(f, v)
	s.recomputeExcept(f)
}

// ClearFacet makes f unconstrained again. Descendant selections are left as they are.
func (s *State) ClearFacet(f Facet) {
	if !f.valid() {
		return
	}
	s.filters = s.filters.Without(f)
	s.recomputeExcept(f)
	// f is a selector again, so its list must reflect the other two constraints too.
	s.options[f] = ComputeOptions(s.records, s.filters, f)
}

func (s *State) recomputeExcept(f Facet) {
	for _, other := range All {
		if other == f {
			continue
		}
		s.options[other] = ComputeOptions(s.records, s.filters, other)
	}
}

func (s *State) Filters() Filters { return s.filters }

// Options returns a copy of the list currently shown for f.
func (s *State) Options(f Facet) []model.FacetOption {
	src := s.options[f]
	out := make([]model.FacetOption, len(src))
	copy(out, src)
	return out
}

// Selected resolves the chosen value of f to its option, for the selected-value chip.
func (s *State) Selected(f Facet) (model.FacetOption, bool) {
	v := s.filters.Get(f)
	if v == Unconstrained {
		return model.FacetOption{}, false
	}
	for _, r := range s.records {
		if f.id(r) == v {
			return f.column(r), true
		}
	}
	return model.FacetOption{ID: v}, false
}

// Len reports the size of the underlying record collection.
func (s *State) Len() int { return len(s.records) }
