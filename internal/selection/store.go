// Package selection owns the search text and facet selections of one session.
package selection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/dataset"
	"github.com/mohammed-shakir/burial-registry/internal/facet"
)

// Store is safe for concurrent use; operations are serialized.
type Store struct {
	data   *dataset.Cache
	logger *slog.Logger

	mu     sync.Mutex
	query  string
	shown  bool
	state  *facet.State
	queued facet.Filters // selections made before the dataset is loaded
}

func New(data *dataset.Cache, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{data: data, logger: logger}
}

// ToggleOptions opens the facet panel, loading the dataset on the first call.
// Later calls flip the panel's visibility.
func (s *Store) ToggleOptions(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.ensureStateLocked(ctx)
		s.shown = true
		return s.shown
	}
	s.shown = !s.shown
	return s.shown
}

// OpenOptions makes sure the panel is visible and the dataset loaded.
func (s *Store) OpenOptions(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureStateLocked(ctx)
	s.shown = true
}

func (s *Store) ensureStateLocked(ctx context.Context) {
	if s.state != nil {
		return
	}
	s.state = facet.NewState(s.data.Load(ctx))
	for _, f := range facet.All {
		if v := s.queued.Get(f); v != facet.Unconstrained {
			s.state.SetFacet(f, v)
		}
	}
	s.queued = facet.Filters{}
}

func (s *Store) SetQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = q
}

func (s *Store) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

func (s *Store) Shown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown
}

// SetFacet records a selection. Before the panel has loaded the dataset the value is
// kept and applied once the facet state exists.
func (s *Store) SetFacet(f facet.Facet, v model.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.queued = s.queued.With(f, v)
		return
	}
	s.state.SetFacet(f, v)
}

func (s *Store) ClearFacet(f facet.Facet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.queued = s.queued.Without(f)
		return
	}
	s.state.ClearFacet(f)
}

func (s *Store) Filters() facet.Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return s.queued
	}
	return s.state.Filters()
}

// Options is empty until the dataset has been loaded.
func (s *Store) Options(f facet.Facet) []model.FacetOption {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return []model.FacetOption{}
	}
	return s.state.Options(f)
}

func (s *Store) Selected(f facet.Facet) (model.FacetOption, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		v := s.queued.Get(f)
		return model.FacetOption{ID: v}, false
	}
	return s.state.Selected(f)
}

// SubmitSearch normalizes the text and builds the navigation target carrying every
// constrained facet. The store itself is left untouched.
func (s *Store) SubmitSearch(tokens ...string) NavigationTarget {
	q := NormalizeQuery(tokens...)
	filters := s.Filters()
	return NavigationTarget{
		Path:           SearchPath,
		Query:          q,
		DistrictID:     filters.District,
		MunicipalityID: filters.Municipality,
		CemeteryID:     filters.Cemetery,
	}
}

// Restore rebuilds the store from navigation parameters. With any region id present
// the panel is opened (loading the dataset) and the ids are applied as selections.
func (s *Store) Restore(ctx context.Context, p InitialParams) {
	s.SetQuery(p.Query)
	if !p.HasRegion() {
		return
	}
	s.OpenOptions(ctx)
	for _, f := range []facet.Facet{facet.Municipality, facet.Cemetery, facet.District} {
		var v model.ID
		switch f {
		case facet.District:
			v = p.DistrictID
		case facet.Municipality:
			v = p.MunicipalityID
		case facet.Cemetery:
			v = p.CemeteryID
		}
		if v != facet.Unconstrained {
			s.SetFacet(f, v)
		}
	}
	s.logger.DebugContext(ctx, "selection restored",
		"query", p.Query,
		"district", p.DistrictID.String(),
		"municipality", p.MunicipalityID.String(),
		"cemetery", p.CemeteryID.String())
}

// DatasetErr exposes the hierarchy fetch failure for diagnostics.
func (s *Store) DatasetErr() error {
	return s.data.Err()
}
