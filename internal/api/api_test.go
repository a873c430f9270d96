package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/burial-registry/internal/core/health"
	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/locator"
	"github.com/mohammed-shakir/burial-registry/internal/overview"
	"github.com/mohammed-shakir/burial-registry/internal/searchevents"
	"github.com/mohammed-shakir/burial-registry/internal/session"
)

var hierarchy = []model.RegionRecord{
	{CemeteryID: "C1", CemeteryName: "Novo groblje", MunicipalityID: "M1", MunicipalityName: "Palilula", DistrictID: "D1", DistrictName: "Beogradski"},
	{CemeteryID: "C2", CemeteryName: "Gradsko", MunicipalityID: "M2", MunicipalityName: "Niš", DistrictID: "D2", DistrictName: "Nišavski"},
}

// fakeData answers immediately unless a gate is registered for the district.
type fakeData struct {
	mu             sync.Mutex
	gates          map[model.ID]chan struct{}
	failGraveyards bool
}

func (f *fakeData) gate(d model.ID) {
	f.mu.Lock()
	ch := f.gates[d]
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

func (f *fakeData) FetchRegionHierarchy(context.Context) ([]model.RegionRecord, error) {
	return hierarchy, nil
}

func (f *fakeData) FetchGraveyardsForDistrict(_ context.Context, d model.ID) ([]model.Graveyard, error) {
	f.gate(d)
	f.mu.Lock()
	fail := f.failGraveyards
	f.mu.Unlock()
	if fail {
		return nil, errors.New("rpc 500")
	}
	return []model.Graveyard{{ID: "g-" + d, Name: "Groblje " + d.String()}}, nil
}

func (f *fakeData) FetchTopNames(_ context.Context, d model.ID) ([]model.NameStat, error) {
	f.gate(d)
	return []model.NameStat{{Name: "Name " + d.String(), Percent: 10, Total: 3}}, nil
}

func (f *fakeData) FetchTopLastnames(_ context.Context, d model.ID) ([]model.NameStat, error) {
	f.gate(d)
	return []model.NameStat{{Name: "Lastname " + d.String(), Percent: 5, Total: 1}}, nil
}

func (f *fakeData) FetchPersonsPerDistrict(context.Context) ([]model.DistrictPersons, error) {
	return []model.DistrictPersons{{DistrictID: "D1", DistrictName: "Beogradski", Total: 10}}, nil
}

func (f *fakeData) FetchGenderDistribution(context.Context) ([]model.GenderStat, error) {
	return []model.GenderStat{{Gender: "M", Total: 6}, {Gender: "Ž", Total: 4}}, nil
}

type recordedSearches struct {
	mu     sync.Mutex
	events []searchevents.Event
}

func (r *recordedSearches) Publish(ev searchevents.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

type testServer struct {
	*httptest.Server
	data     *fakeData
	searches *recordedSearches
}

func newTestServer(t *testing.T, loc *locator.Locator) *testServer {
	t.Helper()
	data := &fakeData{gates: map[model.ID]chan struct{}{}}
	reg, err := session.NewRegistry(data, 16, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	searches := &recordedSearches{}
	h := NewRouter(Deps{
		Sessions:     reg,
		Hierarchy:    data,
		Overview:     overview.New(data, time.Hour, nil),
		Locator:      loc,
		Search:       searches,
		StatsWaitMax: 2 * time.Second,
		Liveness:     health.Liveness(),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, data: data, searches: searches}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s *testServer) newSession(t *testing.T, query string) string {
	t.Helper()
	var created struct {
		SessionID string `json:"session_id"`
	}
	path := "/v1/sessions"
	if query != "" {
		path += "?" + query
	}
	if code := s.do(t, http.MethodPost, path, nil, &created); code != http.StatusCreated {
		t.Fatalf("create session: %d", code)
	}
	return created.SessionID
}

type facetResp struct {
	Query    string                         `json:"query"`
	Shown    bool                           `json:"shown"`
	Filters  map[string]model.ID            `json:"filters"`
	Options  map[string][]model.FacetOption `json:"options"`
	Selected map[string]model.FacetOption   `json:"selected"`
}

func ids(opts []model.FacetOption) string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.ID.String())
	}
	return strings.Join(out, ",")
}

func TestDistrictNarrowsMunicipalities(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t, "")

	var v facetResp
	s.do(t, http.MethodPost, "/v1/sessions/"+sid+"/facets/toggle", nil, &v)
	if !v.Shown || ids(v.Options["opstina"]) != "M1,M2" {
		t.Fatalf("after toggle: %+v", v)
	}
	if code := s.do(t, http.MethodPut, "/v1/sessions/"+sid+"/facets/okrug", map[string]string{"id": "D1"}, &v); code != http.StatusOK {
		t.Fatalf("set facet: %d", code)
	}
	if got := ids(v.Options["opstina"]); got != "M1" {
		t.Fatalf("municipalities=%s want M1", got)
	}
	if v.Selected["okrug"].Name != "Beogradski" {
		t.Fatalf("selected=%+v", v.Selected)
	}
}

func TestCemeteryNarrowsAncestors(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t, "")

	var v facetResp
	s.do(t, http.MethodPost, "/v1/sessions/"+sid+"/facets/toggle", nil, nil)
	s.do(t, http.MethodPut, "/v1/sessions/"+sid+"/facets/groblje", map[string]string{"id": "C2"}, &v)
	if ids(v.Options["okrug"]) != "D2" || ids(v.Options["opstina"]) != "M2" {
		t.Fatalf("options=%+v", v.Options)
	}

	// "0" is the placeholder and clears the facet
	s.do(t, http.MethodPut, "/v1/sessions/"+sid+"/facets/groblje", map[string]string{"id": "0"}, &v)
	if ids(v.Options["okrug"]) != "D1,D2" || v.Filters["groblje"] != "" {
		t.Fatalf("after clear: %+v", v)
	}

	s.do(t, http.MethodPut, "/v1/sessions/"+sid+"/facets/cemetery", map[string]any{"id": "C1"}, nil)
	s.do(t, http.MethodDelete, "/v1/sessions/"+sid+"/facets/cemetery", nil, &v)
	if v.Filters["groblje"] != "" {
		t.Fatalf("delete did not clear: %+v", v.Filters)
	}
}

func TestSearch_NormalizesAndPublishes(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t, "")

	s.do(t, http.MethodPut, "/v1/sessions/"+sid+"/facets/okrug", map[string]string{"id": "D1"}, nil)
	var out struct {
		Path       string   `json:"path"`
		Query      string   `json:"query"`
		DistrictID model.ID `json:"district_id"`
		URL        string   `json:"url"`
	}
	body := map[string]any{"query": []string{"Djordje", "Djordjevic"}}
	if code := s.do(t, http.MethodPost, "/v1/sessions/"+sid+"/search", body, &out); code != http.StatusOK {
		t.Fatalf("search: %d", code)
	}
	if out.Query != "Đorđe Đorđevic" || out.Path != "/search" || out.DistrictID != "D1" {
		t.Fatalf("target=%+v", out)
	}
	if !strings.Contains(out.URL, "okrug=D1") || strings.Contains(out.URL, "groblje") {
		t.Fatalf("url=%s", out.URL)
	}

	s.searches.mu.Lock()
	defer s.searches.mu.Unlock()
	if len(s.searches.events) != 1 || s.searches.events[0].SessionID != sid || s.searches.events[0].Query != "Đorđe Đorđevic" {
		t.Fatalf("events=%+v", s.searches.events)
	}
}

func TestSearch_UsesStoredQuery(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t, "")
	s.do(t, http.MethodPut, "/v1/sessions/"+sid+"/query", map[string]string{"query": "Nikoladjic"}, nil)

	var out struct {
		Query string `json:"query"`
	}
	s.do(t, http.MethodPost, "/v1/sessions/"+sid+"/search", nil, &out)
	if out.Query != "Nikolađic" {
		t.Fatalf("query=%q", out.Query)
	}
}

type regionResp struct {
	Generation uint64            `json:"generation"`
	DistrictID model.ID          `json:"district_id"`
	Status     string            `json:"status"`
	Ready      bool              `json:"ready"`
	Stats      model.StatsBundle `json:"stats"`
	Settled    bool              `json:"settled"`
}

func TestRegion_LatestSelectionWins(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t, "")

	gate := make(chan struct{})
	s.data.mu.Lock()
	s.data.gates["D1"] = gate
	s.data.mu.Unlock()

	s.do(t, http.MethodPut, "/v1/sessions/"+sid+"/region", map[string]string{"id": "D1"}, nil)
	s.do(t, http.MethodPut, "/v1/sessions/"+sid+"/region", map[string]string{"id": "D2"}, nil)
	close(gate) // D1 answers after D2 was selected

	var r regionResp
	s.do(t, http.MethodGet, "/v1/sessions/"+sid+"/region?wait=2s", nil, &r)
	if !r.Settled || r.DistrictID != "D2" || r.Status != "ready" {
		t.Fatalf("region=%+v", r)
	}
	time.Sleep(20 * time.Millisecond)
	s.do(t, http.MethodGet, "/v1/sessions/"+sid+"/region", nil, &r)
	if r.Stats.Names[0].Name != "Name D2" || r.Stats.Graveyards[0].ID != "g-D2" {
		t.Fatalf("stats leaked from D1: %+v", r.Stats)
	}
}

func TestRegion_GraveyardFailureIsNotReady(t *testing.T) {
	s := newTestServer(t, nil)
	s.data.mu.Lock()
	s.data.failGraveyards = true
	s.data.mu.Unlock()
	sid := s.newSession(t, "")

	s.do(t, http.MethodPut, "/v1/sessions/"+sid+"/region", map[string]string{"id": "D1"}, nil)
	var r regionResp
	s.do(t, http.MethodGet, "/v1/sessions/"+sid+"/region?wait=2s", nil, &r)
	if r.Ready || len(r.Stats.Graveyards) != 0 || len(r.Stats.Names) != 1 || r.Status != "failed" {
		t.Fatalf("region=%+v", r)
	}
}

func TestCreateSession_RestoresFromQuery(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t, "ime=Marko&okrug=D2&opstina=0")

	var v facetResp
	s.do(t, http.MethodGet, "/v1/sessions/"+sid+"/facets", nil, &v)
	if v.Query != "Marko" || !v.Shown || v.Filters["okrug"] != "D2" || v.Filters["opstina"] != "" {
		t.Fatalf("facets=%+v", v)
	}
	var r regionResp
	s.do(t, http.MethodGet, "/v1/sessions/"+sid+"/region?wait=1s", nil, &r)
	if r.DistrictID != "D2" {
		t.Fatalf("region=%+v", r)
	}
}

func TestLocate(t *testing.T) {
	doc := fmt.Sprintf(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"district_id":"D1","name":"Beogradski"},"geometry":{"type":"Polygon","coordinates":%s}}]}`,
		`[[[20.3,44.7],[20.5,44.7],[20.5,44.9],[20.3,44.9],[20.3,44.7]]]`)
	loc, err := locator.Parse([]byte(doc), 7, nil)
	if err != nil {
		t.Fatalf("locator: %v", err)
	}
	s := newTestServer(t, loc)
	sid := s.newSession(t, "")

	var out struct {
		DistrictID model.ID `json:"district_id"`
		District   struct {
			Name string `json:"name"`
		} `json:"district"`
	}
	if code := s.do(t, http.MethodPost, "/v1/sessions/"+sid+"/region/locate", map[string]float64{"lat": 44.8, "lng": 20.4}, &out); code != http.StatusAccepted {
		t.Fatalf("locate: %d", code)
	}
	if out.DistrictID != "D1" || out.District.Name != "Beogradski" {
		t.Fatalf("out=%+v", out)
	}
	if code := s.do(t, http.MethodPost, "/v1/sessions/"+sid+"/region/locate", map[string]float64{"lat": 10, "lng": 10}, nil); code != http.StatusNotFound {
		t.Fatalf("outside: %d want 404", code)
	}
	if code := s.do(t, http.MethodPost, "/v1/sessions/"+sid+"/region/locate", map[string]float64{"lat": 44.8}, nil); code != http.StatusBadRequest {
		t.Fatalf("missing lng: %d want 400", code)
	}
}

func TestErrors(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t, "")

	cases := []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodGet, "/v1/sessions/nope/facets", nil, http.StatusNotFound},
		{http.MethodPut, "/v1/sessions/" + sid + "/facets/country", map[string]string{"id": "1"}, http.StatusBadRequest},
		{http.MethodPut, "/v1/sessions/" + sid + "/facets/okrug", nil, http.StatusBadRequest},
		{http.MethodGet, "/v1/sessions/" + sid + "/region?wait=soon", nil, http.StatusBadRequest},
		{http.MethodPost, "/v1/sessions/" + sid + "/region/locate", map[string]float64{"lat": 1, "lng": 1}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		if code := s.do(t, tc.method, tc.path, tc.body, nil); code != tc.want {
			t.Errorf("%s %s: %d want %d", tc.method, tc.path, code, tc.want)
		}
	}
}

func TestCatalogRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	var idx struct {
		Districts []struct {
			ID   model.ID `json:"id"`
			Name string   `json:"name"`
		} `json:"okrug"`
		CemeteryCount int `json:"groblje_count"`
	}
	if code := s.do(t, http.MethodGet, "/v1/index", nil, &idx); code != http.StatusOK {
		t.Fatalf("index: %d", code)
	}
	if len(idx.Districts) != 2 || idx.Districts[0].Name != "Beogradski" || idx.CemeteryCount != 2 {
		t.Fatalf("index=%+v", idx)
	}

	var ov overview.Stats
	if code := s.do(t, http.MethodGet, "/v1/overview", nil, &ov); code != http.StatusOK {
		t.Fatalf("overview: %d", code)
	}
	if len(ov.Gender) != 2 || ov.PersonsPerDistrict[0].Total != 10 {
		t.Fatalf("overview=%+v", ov)
	}

	if code := s.do(t, http.MethodGet, "/healthz", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz: %d", code)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestServer(t, nil)
	sid := s.newSession(t, "")
	if code := s.do(t, http.MethodDelete, "/v1/sessions/"+sid, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: %d", code)
	}
	if code := s.do(t, http.MethodGet, "/v1/sessions/"+sid+"/facets", nil, nil); code != http.StatusNotFound {
		t.Fatalf("after delete: %d", code)
	}
}
