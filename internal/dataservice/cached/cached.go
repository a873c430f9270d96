// Package cached puts a Redis cache in front of a data service.
//
// The hierarchy and the per-district statistics are stored as JSON. District
// entries live longer the more often the district is requested. Cache failures
// never fail a call; the backend is asked instead.
package cached

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/burial-registry/internal/cache"
	"github.com/mohammed-shakir/burial-registry/internal/cache/keys"
	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice"
	"github.com/mohammed-shakir/burial-registry/internal/hotness"
)

// Statistic parts used in district keys.
const (
	partGraveyards = "graveyards"
	partNames      = "names"
	partLastnames  = "lastnames"
)

type TTLs struct {
	Cold time.Duration
	Warm time.Duration
	Hot  time.Duration
}

type Config struct {
	TTL       TTLs
	Tiers     hotness.Tiers
	OpTimeout time.Duration
}

type Service struct {
	next   dataservice.Service
	store  cache.Interface
	hot    hotness.Interface
	cfg    Config
	logger *slog.Logger
	group  singleflight.Group
}

var _ dataservice.Service = (*Service)(nil)

func New(next dataservice.Service, store cache.Interface, hot hotness.Interface, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	return &Service{next: next, store: store, hot: hot, cfg: cfg, logger: logger}
}

func (s *Service) ttlFor(district string) time.Duration {
	switch s.cfg.Tiers.Classify(s.hot.Score(district)) {
	case hotness.Hot:
		return s.cfg.TTL.Hot
	case hotness.Warm:
		return s.cfg.TTL.Warm
	default:
		return s.cfg.TTL.Cold
	}
}

// load reads key from the cache or calls fetch once for all concurrent callers,
// storing a successful result with the given ttl. The shared fill ignores the
// cancellation of whichever caller started it.
func load[T any](ctx context.Context, s *Service, key string, ttl func() time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	if v, ok := lookup[T](ctx, s, key); ok {
		return v, nil
	}

	res, err, shared := s.group.Do(key, func() (any, error) {
		fillCtx := context.WithoutCancel(ctx)
		v, err := fetch(fillCtx)
		if err != nil {
			return v, err
		}
		s.put(fillCtx, key, v, ttl())
		return v, nil
	})
	if shared {
		s.logger.DebugContext(ctx, "cache fill shared", "key", key)
	}
	v, _ := res.(T)
	return v, err
}

func lookup[T any](ctx context.Context, s *Service, key string) (T, bool) {
	var zero T
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	raw, ok, err := s.store.Get(opCtx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "cache read failed; using backend", "key", key, "err", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		s.logger.WarnContext(ctx, "cache entry undecodable; refetching", "key", key, "err", err)
		return zero, false
	}
	return v, true
}

func (s *Service) put(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.WarnContext(ctx, "cache encode failed", "key", key, "err", err)
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	if err := s.store.Set(opCtx, key, raw, ttl); err != nil {
		s.logger.WarnContext(ctx, "cache write failed", "key", key, "err", err)
	}
}

func (s *Service) FetchRegionHierarchy(ctx context.Context) ([]model.RegionRecord, error) {
	return load(ctx, s, keys.Hierarchy(),
		func() time.Duration { return s.cfg.TTL.Hot },
		s.next.FetchRegionHierarchy)
}

// FetchGraveyardsForDistrict also counts the request toward the district's hotness;
// it is issued once per selection.
func (s *Service) FetchGraveyardsForDistrict(ctx context.Context, districtID model.ID) ([]model.Graveyard, error) {
	d := districtID.String()
	s.hot.Inc(d)
	return load(ctx, s, keys.District(d, partGraveyards),
		func() time.Duration { return s.ttlFor(d) },
		func(ctx context.Context) ([]model.Graveyard, error) {
			return s.next.FetchGraveyardsForDistrict(ctx, districtID)
		})
}

func (s *Service) FetchTopNames(ctx context.Context, districtID model.ID) ([]model.NameStat, error) {
	d := districtID.String()
	return load(ctx, s, keys.District(d, partNames),
		func() time.Duration { return s.ttlFor(d) },
		func(ctx context.Context) ([]model.NameStat, error) {
			return s.next.FetchTopNames(ctx, districtID)
		})
}

func (s *Service) FetchTopLastnames(ctx context.Context, districtID model.ID) ([]model.NameStat, error) {
	d := districtID.String()
	return load(ctx, s, keys.District(d, partLastnames),
		func() time.Duration { return s.ttlFor(d) },
		func(ctx context.Context) ([]model.NameStat, error) {
			return s.next.FetchTopLastnames(ctx, districtID)
		})
}

func (s *Service) FetchPersonsPerDistrict(ctx context.Context) ([]model.DistrictPersons, error) {
	return s.next.FetchPersonsPerDistrict(ctx)
}

func (s *Service) FetchGenderDistribution(ctx context.Context) ([]model.GenderStat, error) {
	return s.next.FetchGenderDistribution(ctx)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

// InvalidateHierarchy drops the cached region table.
func (s *Service) InvalidateHierarchy(ctx context.Context) error {
	if err := s.store.Del(ctx, keys.Hierarchy()); err != nil {
		return fmt.Errorf("invalidate hierarchy: %w", err)
	}
	return nil
}

// InvalidateDistrict drops every cached part of a district and forgets its hotness.
func (s *Service) InvalidateDistrict(ctx context.Context, districtID model.ID) error {
	d := districtID.String()
	if _, err := s.store.DelMatch(ctx, keys.DistrictPattern(d)); err != nil {
		return fmt.Errorf("invalidate district %s: %w", d, err)
	}
	s.hot.Reset(d)
	return nil
}

// InvalidateAll drops the hierarchy and all district entries.
func (s *Service) InvalidateAll(ctx context.Context) error {
	if err := s.InvalidateHierarchy(ctx); err != nil {
		return err
	}
	n, err := s.store.DelMatch(ctx, keys.AllDistrictsPattern())
	if err != nil {
		return fmt.Errorf("invalidate all districts: %w", err)
	}
	s.logger.InfoContext(ctx, "statistics cache cleared", "keys", n)
	return nil
}
