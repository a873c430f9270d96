package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/facet"
	mylog "github.com/mohammed-shakir/burial-registry/internal/logger"
	"github.com/mohammed-shakir/burial-registry/internal/regionstats"
	"github.com/mohammed-shakir/burial-registry/internal/searchevents"
	"github.com/mohammed-shakir/burial-registry/internal/selection"
	"github.com/mohammed-shakir/burial-registry/internal/session"
)

func (h *handlers) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := chi.URLParam(r, "sid")
		s, err := h.Sessions.Get(sid)
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		ctx := mylog.WithSessionID(r.Context(), sid)
		ctx = context.WithValue(ctx, sessionKey{}, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type sessionCreated struct {
	SessionID string `json:"session_id"`
	facetView
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	s := h.Sessions.Create(r.Context())
	p := selection.ParseInitialParams(r.URL.Query())
	s.Restore(mylog.WithSessionID(r.Context(), s.ID), p)

	w.Header().Set("Location", "/v1/sessions/"+s.ID)
	writeJSON(w, http.StatusCreated, sessionCreated{SessionID: s.ID, facetView: buildFacetView(s)})
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	h.Sessions.Delete(sessionFrom(r.Context()).ID)
	w.WriteHeader(http.StatusNoContent)
}

type facetView struct {
	Query        string                         `json:"query"`
	Shown        bool                           `json:"shown"`
	Filters      map[string]model.ID            `json:"filters"`
	Options      map[string][]model.FacetOption `json:"options"`
	Selected     map[string]model.FacetOption   `json:"selected"`
	DatasetError string                         `json:"dataset_error,omitempty"`
}

func buildFacetView(s *session.Session) facetView {
	st := s.Selection
	v := facetView{
		Query:    st.Query(),
		Shown:    st.Shown(),
		Filters:  map[string]model.ID{},
		Options:  map[string][]model.FacetOption{},
		Selected: map[string]model.FacetOption{},
	}
	filters := st.Filters()
	for _, f := range facet.All {
		key := f.Param()
		v.Filters[key] = filters.Get(f)
		v.Options[key] = st.Options(f)
		if opt, ok := st.Selected(f); ok {
			v.Selected[key] = opt
		}
	}
	if err := st.DatasetErr(); err != nil {
		v.DatasetError = err.Error()
	}
	return v
}

func (h *handlers) getFacets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildFacetView(sessionFrom(r.Context())))
}

func (h *handlers) toggleFacets(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	s.Selection.ToggleOptions(r.Context())
	writeJSON(w, http.StatusOK, buildFacetView(s))
}

type idBody struct {
	ID model.ID `json:"id"`
}

func (h *handlers) setFacet(w http.ResponseWriter, r *http.Request) {
	f, err := facet.ParseFacet(chi.URLParam(r, "facet"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body idBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s := sessionFrom(r.Context())
	if v := selection.NormalizeID(body.ID.String()); v == facet.Unconstrained {
		s.Selection.ClearFacet(f)
	} else {
		s.Selection.SetFacet(f, v)
	}
	writeJSON(w, http.StatusOK, buildFacetView(s))
}

func (h *handlers) clearFacet(w http.ResponseWriter, r *http.Request) {
	f, err := facet.ParseFacet(chi.URLParam(r, "facet"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s := sessionFrom(r.Context())
	s.Selection.ClearFacet(f)
	writeJSON(w, http.StatusOK, buildFacetView(s))
}

type queryBody struct {
	Query tokens `json:"query"`
}

// tokens accepts either a string or a list of strings.
type tokens []string

func (t *tokens) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*t = tokens{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("query must be a string or a list of strings")
	}
	*t = many
	return nil
}

func (h *handlers) setQuery(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s := sessionFrom(r.Context())
	s.Selection.SetQuery(strings.Join(body.Query, " "))
	writeJSON(w, http.StatusOK, buildFacetView(s))
}

type searchResponse struct {
	selection.NavigationTarget
	URL string `json:"url"`
}

// submitSearch uses the body's query when given and the stored query otherwise.
func (h *handlers) submitSearch(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	var body queryBody
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	toks := []string(body.Query)
	if body.Query == nil {
		toks = []string{s.Selection.Query()}
	}
	target := s.Selection.SubmitSearch(toks...)

	h.Search.Publish(searchevents.Event{
		SessionID:      s.ID,
		Query:          target.Query,
		DistrictID:     target.DistrictID,
		MunicipalityID: target.MunicipalityID,
		CemeteryID:     target.CemeteryID,
	})
	writeJSON(w, http.StatusOK, searchResponse{NavigationTarget: target, URL: target.URL()})
}

type selectResponse struct {
	Generation uint64           `json:"generation"`
	DistrictID model.ID         `json:"district_id,omitempty"`
	District   *locatedDistrict `json:"district,omitempty"`
}

type locatedDistrict struct {
	ID   model.ID `json:"id"`
	Name string   `json:"name"`
}

func (h *handlers) selectRegion(w http.ResponseWriter, r *http.Request) {
	var body idBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s := sessionFrom(r.Context())
	id := selection.NormalizeID(body.ID.String())
	gen := s.SelectDistrict(r.Context(), id)
	writeJSON(w, http.StatusAccepted, selectResponse{Generation: gen, DistrictID: id})
}

type locateBody struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (h *handlers) locateRegion(w http.ResponseWriter, r *http.Request) {
	if h.Locator == nil {
		writeError(w, http.StatusServiceUnavailable, "map locator is not configured")
		return
	}
	var body locateBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Lat == nil || body.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	d, ok, err := h.Locator.Locate(*body.Lat, *body.Lng)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no district at this point")
		return
	}
	s := sessionFrom(r.Context())
	gen := s.SelectDistrict(r.Context(), d.ID)
	writeJSON(w, http.StatusAccepted, selectResponse{
		Generation: gen,
		DistrictID: d.ID,
		District:   &locatedDistrict{ID: d.ID, Name: d.Name},
	})
}

// getRegion returns the statistics snapshot. With ?wait=<duration> it waits, at
// most StatsWaitMax, for the current selection to settle.
func (h *handlers) getRegion(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	raw := r.URL.Query().Get("wait")
	if raw == "" {
		snap := s.Stats.Snapshot()
		writeJSON(w, http.StatusOK, snapshotView{Snapshot: snap, Settled: snap.Settled()})
		return
	}
	wait, err := time.ParseDuration(raw)
	if err != nil || wait < 0 {
		writeError(w, http.StatusBadRequest, "wait must be a non-negative duration such as 2s")
		return
	}
	if wait > h.StatsWaitMax {
		wait = h.StatsWaitMax
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	snap, err := s.Stats.Wait(ctx)
	if err != nil {
		// not settled in time; the current view is still a valid answer
		snap = s.Stats.Snapshot()
	}
	writeJSON(w, http.StatusOK, snapshotView{Snapshot: snap, Settled: snap.Settled()})
}

type snapshotView struct {
	regionstats.Snapshot
	Settled bool `json:"settled"`
}
