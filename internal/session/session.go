// Package session keeps the per-visitor state of the registry: its dataset,
// facet selection and district statistics.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	obs "github.com/mohammed-shakir/burial-registry/internal/core/observability"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice"
	"github.com/mohammed-shakir/burial-registry/internal/dataset"
	"github.com/mohammed-shakir/burial-registry/internal/facet"
	mylog "github.com/mohammed-shakir/burial-registry/internal/logger"
	"github.com/mohammed-shakir/burial-registry/internal/regionstats"
	"github.com/mohammed-shakir/burial-registry/internal/selection"
)

var ErrSessionNotFound = errors.New("session not found")

// Source is what a session reads from.
type Source interface {
	dataservice.Hierarchy
	dataservice.DistrictStats
}

type Session struct {
	ID        string
	Created   time.Time
	Data      *dataset.Cache
	Selection *selection.Store
	Stats     *regionstats.Loader

	lastSeen atomic.Int64
}

func newSession(id string, src Source, logger *slog.Logger) *Session {
	logger = logger.With("session_id", id)
	data := dataset.New(src, logger)
	s := &Session{
		ID:        id,
		Created:   time.Now().UTC(),
		Data:      data,
		Selection: selection.New(data, logger),
		Stats:     regionstats.New(src, logger),
	}
	s.touch()
	return s
}

func (s *Session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()).UTC() }

// Restore applies navigation parameters and, when a district is given, starts
// loading its statistics.
func (s *Session) Restore(ctx context.Context, p selection.InitialParams) {
	s.Selection.Restore(ctx, p)
	if p.DistrictID != facet.Unconstrained {
		s.Stats.Select(ctx, p.DistrictID)
	}
}

// SelectDistrict starts loading the statistics for id; an unconstrained id resets them.
func (s *Session) SelectDistrict(ctx context.Context, id model.ID) uint64 {
	return s.Stats.Select(mylog.WithDistrict(ctx, id.String()), id)
}

// Registry holds the most recently used sessions; the least recently used one
// is dropped when capacity is reached.
type Registry struct {
	src    Source
	logger *slog.Logger
	cache  *lru.Cache[string, *Session]
}

func NewRegistry(src Source, capacity int, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = 4096
	}
	r := &Registry{src: src, logger: logger}
	c, err := lru.NewWithEvict(capacity, func(id string, _ *Session) {
		r.logger.Debug("session evicted", "session_id", id)
	})
	if err != nil {
		return nil, err
	}
	r.cache = c
	return r, nil
}

func (r *Registry) Create(ctx context.Context) *Session {
	id := mylog.NewID()
	for r.cache.Contains(id) {
		id = mylog.NewID()
	}
	s := newSession(id, r.src, r.logger)
	r.cache.Add(id, s)
	obs.SetActiveSessions(r.cache.Len())
	r.logger.DebugContext(ctx, "session created", "session_id", id)
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	s, ok := r.cache.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch()
	return s, nil
}

// Delete reports whether the session existed.
func (r *Registry) Delete(id string) bool {
	ok := r.cache.Remove(id)
	obs.SetActiveSessions(r.cache.Len())
	return ok
}

func (r *Registry) Len() int { return r.cache.Len() }
