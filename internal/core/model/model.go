// Package model defines core domain types shared across the service.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID identifies a district, municipality or cemetery.
// Upstream RPC responses carry numeric ids, so decoding accepts both numbers and strings.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Int64 reports the numeric form of the id, when it has one.
func (id ID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RegionRecord is one denormalized row of the region hierarchy, one per cemetery.
type RegionRecord struct {
	CemeteryID       ID     `json:"grobljeid"`
	CemeteryName     string `json:"grobljename"`
	MunicipalityID   ID     `json:"opstinaid"`
	MunicipalityName string `json:"opstinaname"`
	DistrictID       ID     `json:"okrugid"`
	DistrictName     string `json:"okrugname"`
}

type FacetOption struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type Graveyard struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// NameStat is one row of a name or surname frequency list.
type NameStat struct {
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
	Total   int64   `json:"total"`
}

// StatsBundle holds the statistics shown for one selected district.
type StatsBundle struct {
	Graveyards []Graveyard `json:"graveyards"`
	Names      []NameStat  `json:"names"`
	Lastnames  []NameStat  `json:"lastnames"`
}

// Ready is true once graveyards and names are both present; surnames are not required.
func (b StatsBundle) Ready() bool {
	return len(b.Graveyards) > 0 && len(b.Names) > 0
}

type DistrictPersons struct {
	DistrictID   ID     `json:"okrugid"`
	DistrictName string `json:"okrugname"`
	Total        int64  `json:"total"`
}

type GenderStat struct {
	Gender string `json:"gender"`
	Total  int64  `json:"total"`
}
