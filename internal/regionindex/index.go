// Package regionindex arranges the region hierarchy as a sorted tree for the
// alphabetical index of districts, municipalities and cemeteries.
package regionindex

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
)

type Cemetery struct {
	ID   model.ID `json:"id"`
	Name string   `json:"name"`
}

type Municipality struct {
	ID         model.ID   `json:"id"`
	Name       string     `json:"name"`
	Cemeteries []Cemetery `json:"groblje"`
}

type District struct {
	ID             model.ID       `json:"id"`
	Name           string         `json:"name"`
	Municipalities []Municipality `json:"opstina"`
}

// Index is the tree plus the section counts shown in the index headings.
type Index struct {
	Districts         []District `json:"okrug"`
	MunicipalityCount int        `json:"opstina_count"`
	CemeteryCount     int        `json:"groblje_count"`
}

// Build groups records by district and municipality. Every level is ordered with
// Serbian Latin collation, so č, ć, đ, š and ž sort after their base letters.
// A record repeating an already seen cemetery id is ignored.
func Build(records []model.RegionRecord) Index {
	type muniAcc struct {
		m    Municipality
		seen map[model.ID]bool
	}
	type distAcc struct {
		d     District
		munis map[model.ID]*muniAcc
		order []model.ID
	}

	dists := map[model.ID]*distAcc{}
	var order []model.ID
	cemeteries := 0
	for _, r := range records {
		da := dists[r.DistrictID]
		if da == nil {
			da = &distAcc{d: District{ID: r.DistrictID, Name: r.DistrictName}, munis: map[model.ID]*muniAcc{}}
			dists[r.DistrictID] = da
			order = append(order, r.DistrictID)
		}
		ma := da.munis[r.MunicipalityID]
		if ma == nil {
			ma = &muniAcc{m: Municipality{ID: r.MunicipalityID, Name: r.MunicipalityName}, seen: map[model.ID]bool{}}
			da.munis[r.MunicipalityID] = ma
			da.order = append(da.order, r.MunicipalityID)
		}
		if ma.seen[r.CemeteryID] {
			continue
		}
		ma.seen[r.CemeteryID] = true
		ma.m.Cemeteries = append(ma.m.Cemeteries, Cemetery{ID: r.CemeteryID, Name: r.CemeteryName})
		cemeteries++
	}

	// collators keep internal buffers; one per build
	col := collate.New(language.SerbianLatin, collate.IgnoreCase)
	less := func(a, b string, ida, idb model.ID) bool {
		if c := col.CompareString(a, b); c != 0 {
			return c < 0
		}
		return ida < idb
	}

	idx := Index{Districts: make([]District, 0, len(order)), CemeteryCount: cemeteries}
	for _, id := range order {
		da := dists[id]
		d := da.d
		d.Municipalities = make([]Municipality, 0, len(da.order))
		for _, mid := range da.order {
			m := da.munis[mid].m
			sort.SliceStable(m.Cemeteries, func(i, j int) bool {
				return less(m.Cemeteries[i].Name, m.Cemeteries[j].Name, m.Cemeteries[i].ID, m.Cemeteries[j].ID)
			})
			d.Municipalities = append(d.Municipalities, m)
		}
		sort.SliceStable(d.Municipalities, func(i, j int) bool {
			a, b := d.Municipalities[i], d.Municipalities[j]
			return less(a.Name, b.Name, a.ID, b.ID)
		})
		idx.MunicipalityCount += len(d.Municipalities)
		idx.Districts = append(idx.Districts, d)
	}
	sort.SliceStable(idx.Districts, func(i, j int) bool {
		a, b := idx.Districts[i], idx.Districts[j]
		return less(a.Name, b.Name, a.ID, b.ID)
	})
	return idx
}
