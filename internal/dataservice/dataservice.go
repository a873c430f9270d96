// Package dataservice defines the backend boundary the registry core reads from.
package dataservice

import (
	"context"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
)

// Hierarchy returns the full flattened region table.
type Hierarchy interface {
	FetchRegionHierarchy(ctx context.Context) ([]model.RegionRecord, error)
}

// DistrictStats returns the statistics shown for one selected district.
type DistrictStats interface {
	FetchGraveyardsForDistrict(ctx context.Context, districtID model.ID) ([]model.Graveyard, error)
	FetchTopNames(ctx context.Context, districtID model.ID) ([]model.NameStat, error)
	FetchTopLastnames(ctx context.Context, districtID model.ID) ([]model.NameStat, error)
}

// Overview returns country-wide statistics.
type Overview interface {
	FetchPersonsPerDistrict(ctx context.Context) ([]model.DistrictPersons, error)
	FetchGenderDistribution(ctx context.Context) ([]model.GenderStat, error)
}

type Service interface {
	Hierarchy
	DistrictStats
	Overview
	Ping(ctx context.Context) error
}
