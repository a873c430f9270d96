// Package locator resolves a map point to the district containing it.
//
// District boundaries are polyfilled into H3 cells once; a lookup is a single
// cell computation plus a map read. Points in a cell that no boundary filled
// (cells straddling a border) are resolved through the nearest ring of cells.
package locator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/locator/boundary"
)

var ErrNoBoundaries = errors.New("no district boundaries")

type District struct {
	ID   model.ID `json:"okrugid"`
	Name string   `json:"okrugname"`
}

type Locator struct {
	res       int
	cells     map[h3.Cell]model.ID
	districts map[model.ID]District
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Properties struct {
		DistrictID   model.ID `json:"district_id"`
		OkrugID      model.ID `json:"okrugid"`
		Name         string   `json:"name"`
		DistrictName string   `json:"okrugname"`
	} `json:"properties"`
	Geometry json.RawMessage `json:"geometry"`
}

// Parse builds a locator from a GeoJSON FeatureCollection. Each feature carries
// district_id (or okrugid) and name (or okrugname). Where boundaries overlap the
// first feature keeps the cell.
func Parse(data []byte, res int, logger *slog.Logger) (*Locator, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse boundaries: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("boundaries: expected FeatureCollection, got %q", fc.Type)
	}
	if len(fc.Features) == 0 {
		return nil, ErrNoBoundaries
	}

	l := &Locator{
		res:       res,
		cells:     make(map[h3.Cell]model.ID),
		districts: make(map[model.ID]District, len(fc.Features)),
	}
	overlaps := 0
	for i, f := range fc.Features {
		id := f.Properties.DistrictID
		if id == "" {
			id = f.Properties.OkrugID
		}
		if id == "" {
			return nil, fmt.Errorf("feature %d: missing district_id", i)
		}
		name := f.Properties.Name
		if name == "" {
			name = f.Properties.DistrictName
		}
		cells, err := geometryCells(f.Geometry, res)
		if err != nil {
			return nil, fmt.Errorf("feature %d (district %s): %w", i, id, err)
		}
		if _, ok := l.districts[id]; !ok {
			l.districts[id] = District{ID: id, Name: name}
		}
		for _, c := range cells {
			if owner, ok := l.cells[c]; ok && owner != id {
				overlaps++
				continue
			}
			l.cells[c] = id
		}
	}
	logger.Info("district boundaries indexed",
		"districts", len(l.districts), "cells", len(l.cells), "overlaps", overlaps, "res", res)
	return l, nil
}

// Locate returns the district containing the point; ok is false outside all boundaries.
func (l *Locator) Locate(lat, lng float64) (District, bool, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return District{}, false, fmt.Errorf("coordinates out of range: %g,%g", lat, lng)
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), l.res)
	if err != nil {
		return District{}, false, fmt.Errorf("h3 cell: %w", err)
	}
	if id, ok := l.cells[cell]; ok {
		return l.districts[id], true, nil
	}

	ring, err := h3.GridDisk(cell, 1)
	if err != nil {
		return District{}, false, fmt.Errorf("h3 disk: %w", err)
	}
	// majority of the neighbours, ties broken by id
	votes := map[model.ID]int{}
	for _, n := range ring {
		if id, ok := l.cells[n]; ok {
			votes[id]++
		}
	}
	if len(votes) == 0 {
		return District{}, false, nil
	}
	ids := make([]model.ID, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if votes[ids[i]] != votes[ids[j]] {
			return votes[ids[i]] > votes[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return l.districts[ids[0]], true, nil
}

// Districts lists the indexed districts ordered by id.
func (l *Locator) Districts() []District {
	out := make([]District, 0, len(l.districts))
	for _, d := range l.districts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (l *Locator) Resolution() int { return l.res }

func (l *Locator) CellCount() int { return len(l.cells) }

// Load reads the boundary document from src and indexes it.
func Load(ctx context.Context, src boundary.Source, res int, logger *slog.Logger) (*Locator, error) {
	data, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	l, err := Parse(data, res, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	return l, nil
}
