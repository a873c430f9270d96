// Package overview serves the country-wide statistics: persons per district and
// the gender distribution. Results are kept in memory for a fixed period.
package overview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice"
)

const cacheKey = "overview"

// DefaultTTL matches the daily regeneration of the statistics page.
const DefaultTTL = 24 * time.Hour

type Stats struct {
	PersonsPerDistrict []model.DistrictPersons `json:"persons_per_okrug"`
	Gender             []model.GenderStat      `json:"gender"`
	GeneratedAt        time.Time               `json:"generated_at"`
}

type Service struct {
	src    dataservice.Overview
	cache  *expirable.LRU[string, Stats]
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex // one refresh at a time
}

func New(src dataservice.Overview, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		src:    src,
		cache:  expirable.NewLRU[string, Stats](1, nil, ttl),
		logger: logger,
		now:    time.Now,
	}
}

// Get returns the cached statistics or fetches both lists concurrently.
// A failed fetch is not cached.
func (s *Service) Get(ctx context.Context) (Stats, error) {
	if st, ok := s.cache.Get(cacheKey); ok {
		return st, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.cache.Get(cacheKey); ok {
		return st, nil
	}

	var st Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := s.src.FetchPersonsPerDistrict(gctx)
		if err != nil {
			return fmt.Errorf("persons per district: %w", err)
		}
		st.PersonsPerDistrict = v
		return nil
	})
	g.Go(func() error {
		v, err := s.src.FetchGenderDistribution(gctx)
		if err != nil {
			return fmt.Errorf("gender distribution: %w", err)
		}
		st.Gender = v
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.WarnContext(ctx, "overview fetch failed", "err", err)
		return Stats{}, err
	}
	if st.PersonsPerDistrict == nil {
		st.PersonsPerDistrict = []model.DistrictPersons{}
	}
	if st.Gender == nil {
		st.Gender = []model.GenderStat{}
	}
	st.GeneratedAt = s.now().UTC()
	s.cache.Add(cacheKey, st)
	return st, nil
}

// Purge forgets the cached statistics.
func (s *Service) Purge() {
	s.cache.Purge()
}
