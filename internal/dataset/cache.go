// Package dataset holds the region hierarchy for the lifetime of a session.
package dataset

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/core/observability"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice"
)

// Cache fetches the hierarchy at most once. A failed fetch is not retried:
// the collection stays empty and the error is kept for diagnostics.
type Cache struct {
	src    dataservice.Hierarchy
	logger *slog.Logger

	mu      sync.Mutex
	fetched bool
	records []model.RegionRecord
	err     error
}

func New(src dataservice.Hierarchy, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{src: src, logger: logger}
}

// Load returns the cached collection, fetching it on the first call.
// Concurrent first callers wait for the single fetch in flight. The fetch does
// not inherit the caller's cancellation; an aborted request must not leave the
// session without facets.
func (c *Cache) Load(ctx context.Context) []model.RegionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetched {
		return c.records
	}
	c.fetched = true

	records, err := c.src.FetchRegionHierarchy(context.WithoutCancel(ctx))
	observability.ObserveDatasetFetch(err)
	if err != nil {
		c.err = err
		c.records = []model.RegionRecord{}
		c.logger.WarnContext(ctx, "region hierarchy fetch failed; facets stay empty", "err", err)
		return c.records
	}
	if records == nil {
		records = []model.RegionRecord{}
	}
	c.records = records
	c.logger.DebugContext(ctx, "region hierarchy loaded", "records", len(records))
	return c.records
}

// Loaded reports whether the single fetch has already happened.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetched
}

// Err returns the fetch failure, if the fetch failed.
func (c *Cache) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
