package locator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mohammed-shakir/burial-registry/internal/locator/boundary"
)

func square(lng0, lat0, size float64) string {
	return fmt.Sprintf(`[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]`,
		lng0, lat0, lng0+size, lat0, lng0+size, lat0+size, lng0, lat0+size, lng0, lat0)
}

// two neighbouring districts around Belgrade plus a MultiPolygon district further south
var testBoundaries = fmt.Sprintf(`{
  "type": "FeatureCollection",
  "features": [
    {"type":"Feature","properties":{"district_id":1,"name":"Beogradski"},
     "geometry":{"type":"Polygon","coordinates":%s}},
    {"type":"Feature","properties":{"okrugid":"2","okrugname":"Sremski"},
     "geometry":{"type":"Polygon","coordinates":%s}},
    {"type":"Feature","properties":{"district_id":"3","name":"Nišavski"},
     "geometry":{"type":"MultiPolygon","coordinates":[%s,%s]}}
  ]
}`, square(20.3, 44.7, 0.2), square(20.1, 44.7, 0.2), square(21.8, 43.2, 0.1), square(22.0, 43.2, 0.1))

func TestParse_LocatesPoints(t *testing.T) {
	l, err := Parse([]byte(testBoundaries), 7, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if l.CellCount() == 0 || len(l.Districts()) != 3 {
		t.Fatalf("cells=%d districts=%v", l.CellCount(), l.Districts())
	}

	cases := []struct {
		lat, lng float64
		want     string
		name     string
	}{
		{44.8, 20.4, "1", "Beogradski"},
		{44.8, 20.2, "2", "Sremski"},
		{43.25, 21.85, "3", "Nišavski"},
		{43.25, 22.05, "3", "Nišavski"},
	}
	for _, tc := range cases {
		d, ok, err := l.Locate(tc.lat, tc.lng)
		if err != nil || !ok {
			t.Fatalf("locate %g,%g: ok=%v err=%v", tc.lat, tc.lng, ok, err)
		}
		if string(d.ID) != tc.want || d.Name != tc.name {
			t.Fatalf("locate %g,%g = %+v want %s %s", tc.lat, tc.lng, d, tc.want, tc.name)
		}
	}
}

func TestLocate_OutsideAll(t *testing.T) {
	l, err := Parse([]byte(testBoundaries), 7, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, ok, err := l.Locate(40.0, 10.0); err != nil || ok {
		t.Fatalf("ok=%v err=%v want miss", ok, err)
	}
	if _, _, err := l.Locate(95, 0); err == nil {
		t.Fatal("expected range error")
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"wrong type":     `{"type":"Feature"}`,
		"missing id":     `{"type":"FeatureCollection","features":[{"properties":{},"geometry":{"type":"Polygon","coordinates":` + square(20, 44, 0.1) + `}}]}`,
		"point geometry": `{"type":"FeatureCollection","features":[{"properties":{"district_id":1},"geometry":{"type":"Point","coordinates":[20,44]}}]}`,
		"degenerate":     `{"type":"FeatureCollection","features":[{"properties":{"district_id":1},"geometry":{"type":"Polygon","coordinates":[[[20,44],[20.1,44],[20,44]]]}}]}`,
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc), 7, nil); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if _, err := Parse([]byte(`{"type":"FeatureCollection","features":[]}`), 7, nil); !errors.Is(err, ErrNoBoundaries) {
		t.Fatalf("empty: err=%v", err)
	}
	if _, err := Parse([]byte(testBoundaries), 16, nil); err == nil {
		t.Fatal("expected resolution error")
	}
}

func TestLoad_FromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "districts.geojson")
	if err := os.WriteFile(p, []byte(testBoundaries), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	l, err := Load(context.Background(), boundary.File{Path: p}, 6, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if l.Resolution() != 6 {
		t.Fatalf("res=%d", l.Resolution())
	}
}

func TestToLoop_DropsClosingVertex(t *testing.T) {
	loop := toLoop([][]float64{{20, 44}, {20.1, 44}, {20.1, 44.1}, {20, 44}})
	if len(loop) != 3 {
		t.Fatalf("len=%d want 3", len(loop))
	}
	if loop[0].Lat != 44 || loop[0].Lng != 20 {
		t.Fatalf("first=%+v", loop[0])
	}
}
