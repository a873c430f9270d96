package api

import (
	"net/http"

	"github.com/mohammed-shakir/burial-registry/internal/regionindex"
)

func (h *handlers) getIndex(w http.ResponseWriter, r *http.Request) {
	records, err := h.Hierarchy.FetchRegionHierarchy(r.Context())
	if err != nil {
		h.Logger.WarnContext(r.Context(), "region index unavailable", "err", err)
		writeError(w, http.StatusBadGateway, "region hierarchy unavailable")
		return
	}
	writeJSON(w, http.StatusOK, regionindex.Build(records))
}

func (h *handlers) getOverview(w http.ResponseWriter, r *http.Request) {
	if h.Overview == nil {
		writeError(w, http.StatusServiceUnavailable, "overview statistics are not configured")
		return
	}
	st, err := h.Overview.Get(r.Context())
	if err != nil {
		h.Logger.WarnContext(r.Context(), "overview unavailable", "err", err)
		writeError(w, http.StatusBadGateway, "overview statistics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
