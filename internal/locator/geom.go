package locator

import (
	"encoding/json"
	"errors"
	"fmt"

	h3 "github.com/uber/h3-go/v4"
)

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// geometryCells polyfills a GeoJSON Polygon or MultiPolygon at res.
// The result may contain duplicates for overlapping parts.
func geometryCells(raw json.RawMessage, res int) ([]h3.Cell, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("parse geometry: %w", err)
	}

	switch hdr.Type {
	case "Polygon":
		var g struct {
			Coordinates [][][]float64 `json:"coordinates"` // [ring][i][lon,lat]
		}
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("parse polygon coords: %w", err)
		}
		return polygonCells(g.Coordinates, res)

	case "MultiPolygon":
		var g struct {
			Coordinates [][][][]float64 `json:"coordinates"` // [poly][ring][i][lon,lat]
		}
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("parse multipolygon coords: %w", err)
		}
		if len(g.Coordinates) == 0 {
			return nil, errors.New("empty multipolygon")
		}
		var out []h3.Cell
		for pi, rings := range g.Coordinates {
			cells, err := polygonCells(rings, res)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", pi, err)
			}
			out = append(out, cells...)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported GeoJSON type: %q", hdr.Type)
	}
}

func polygonCells(rings [][][]float64, res int) ([]h3.Cell, error) {
	if len(rings) == 0 {
		return nil, errors.New("empty polygon")
	}
	outer := toLoop(rings[0])
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 distinct vertices")
	}
	var holes []h3.GeoLoop
	for i := 1; i < len(rings); i++ {
		h := toLoop(rings[i])
		if len(h) < 3 {
			return nil, fmt.Errorf("hole %d has < 3 distinct vertices", i-1)
		}
		holes = append(holes, h)
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	return cells, nil
}

// toLoop converts a GeoJSON ring [[lon,lat], ...] and drops the closing vertex.
func toLoop(coords [][]float64) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(coords))
	for _, xy := range coords {
		if len(xy) < 2 {
			continue
		}
		loop = append(loop, h3.NewLatLng(xy[1], xy[0]))
	}
	if n := len(loop); n >= 2 && loop[0] == loop[n-1] {
		loop = loop[:n-1]
	}
	return loop
}
