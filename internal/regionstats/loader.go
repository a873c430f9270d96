// Package regionstats loads the statistics bundle of the selected district.
//
// Every Select starts a new generation. The three fetches of a generation apply
// their results only while that generation is still current, so a slow response
// for a superseded district never becomes visible.
package regionstats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
	"github.com/mohammed-shakir/burial-registry/internal/core/observability"
	"github.com/mohammed-shakir/burial-registry/internal/dataservice"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
)

// Part names one of the three statistic fetches.
type Part string

const (
	PartGraveyards Part = "graveyards"
	PartNames      Part = "names"
	PartLastnames  Part = "lastnames"
)

var parts = [...]Part{PartGraveyards, PartNames, PartLastnames}

// Snapshot is an immutable view of the loader.
type Snapshot struct {
	Generation uint64            `json:"generation"`
	DistrictID model.ID          `json:"district_id,omitempty"`
	Status     Status            `json:"status"`
	Ready      bool              `json:"ready"`
	Stats      model.StatsBundle `json:"stats"`
	Errors     map[Part]string   `json:"errors,omitempty"`
	Pending    int               `json:"pending"`
}

// Settled reports whether no fetch of this generation is outstanding.
func (s Snapshot) Settled() bool {
	return s.Pending == 0
}

type settleSignal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *settleSignal { return &settleSignal{ch: make(chan struct{})} }

func (s *settleSignal) fire() { s.once.Do(func() { close(s.ch) }) }

type state struct {
	snap   Snapshot
	signal *settleSignal
}

// Loader holds the current generation as an immutable state swapped atomically.
// Updates compare the captured generation with the current one and retry on
// contention; there is no lock around the fetches or the state.
type Loader struct {
	src    dataservice.DistrictStats
	logger *slog.Logger
	cur    atomic.Pointer[state]
}

func New(src dataservice.DistrictStats, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{src: src, logger: logger}
	sig := newSignal()
	sig.fire()
	l.cur.Store(&state{snap: emptySnapshot(0, "", StatusIdle), signal: sig})
	return l
}

func emptySnapshot(gen uint64, district model.ID, st Status) Snapshot {
	return Snapshot{
		Generation: gen,
		DistrictID: district,
		Status:     st,
		Stats: model.StatsBundle{
			Graveyards: []model.Graveyard{},
			Names:      []model.NameStat{},
			Lastnames:  []model.NameStat{},
		},
	}
}

// Select starts loading the bundle for districtID and returns the new generation.
// The previous bundle is dropped immediately. An empty id resets the loader to idle.
// Fetches run detached from ctx cancellation; only its values are kept.
func (l *Loader) Select(ctx context.Context, districtID model.ID) uint64 {
	next := &state{signal: newSignal()}
	var prev *state
	for {
		prev = l.cur.Load()
		gen := prev.snap.Generation + 1
		if districtID == "" {
			next.snap = emptySnapshot(gen, "", StatusIdle)
		} else {
			next.snap = emptySnapshot(gen, districtID, StatusLoading)
			next.snap.Pending = len(parts)
		}
		if l.cur.CompareAndSwap(prev, next) {
			break
		}
	}
	// Waiters on the superseded generation re-check the current one.
	prev.signal.fire()

	gen := next.snap.Generation
	if districtID == "" {
		next.signal.fire()
		return gen
	}

	l.logger.DebugContext(ctx, "region stats loading", "district", districtID.String(), "generation", gen)
	fetchCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.Go(func() error {
		v, err := l.src.FetchGraveyardsForDistrict(fetchCtx, districtID)
		l.apply(fetchCtx, gen, PartGraveyards, err, func(b *model.StatsBundle) {
			b.Graveyards = nonNil(v)
		})
		return partErr(PartGraveyards, err)
	})
	g.Go(func() error {
		v, err := l.src.FetchTopNames(fetchCtx, districtID)
		l.apply(fetchCtx, gen, PartNames, err, func(b *model.StatsBundle) {
			b.Names = nonNil(v)
		})
		return partErr(PartNames, err)
	})
	g.Go(func() error {
		v, err := l.src.FetchTopLastnames(fetchCtx, districtID)
		l.apply(fetchCtx, gen, PartLastnames, err, func(b *model.StatsBundle) {
			b.Lastnames = nonNil(v)
		})
		return partErr(PartLastnames, err)
	})
	go func() {
		err := g.Wait()
		snap := l.Snapshot()
		if snap.Generation != gen {
			return
		}
		if err != nil {
			l.logger.WarnContext(fetchCtx, "region stats settled with errors",
				"district", districtID.String(), "generation", gen, "status", string(snap.Status), "err", err)
			return
		}
		l.logger.DebugContext(fetchCtx, "region stats settled",
			"district", districtID.String(), "generation", gen, "status", string(snap.Status))
	}()
	return gen
}

func partErr(p Part, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", p, err)
}

// apply merges one part into the state of generation gen. Results for any other
// generation are discarded.
func (l *Loader) apply(ctx context.Context, gen uint64, part Part, err error, set func(*model.StatsBundle)) {
	for {
		cur := l.cur.Load()
		if cur.snap.Generation != gen {
			observability.ObserveStatsResult(string(part), "stale")
			l.logger.DebugContext(ctx, "stale region stats discarded",
				"part", string(part), "generation", gen, "current", cur.snap.Generation)
			return
		}

		next := &state{snap: cur.snap, signal: cur.signal}
		next.snap.Pending--
		if err != nil {
			next.snap.Errors = make(map[Part]string, len(cur.snap.Errors)+1)
			for k, v := range cur.snap.Errors {
				next.snap.Errors[k] = v
			}
			next.snap.Errors[part] = err.Error()
		} else {
			set(&next.snap.Stats)
		}
		next.snap.Ready = next.snap.Stats.Ready()
		next.snap.Status = derive(next.snap)

		if !l.cur.CompareAndSwap(cur, next) {
			continue
		}

		if err != nil {
			observability.ObserveStatsResult(string(part), "failed")
			l.logger.WarnContext(ctx, "region stats fetch failed",
				"part", string(part), "district", next.snap.DistrictID.String(), "err", err)
		} else {
			observability.ObserveStatsResult(string(part), "applied")
		}
		if next.snap.Pending == 0 {
			observability.ObserveStatsSettled(string(next.snap.Status))
			next.signal.fire()
		}
		return
	}
}

func derive(s Snapshot) Status {
	switch {
	case s.Ready:
		return StatusReady
	case s.Pending > 0:
		return StatusLoading
	case len(s.Errors) > 0:
		return StatusFailed
	default:
		return StatusEmpty
	}
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// Snapshot returns the current state. Slices in the bundle are shared and must
// not be modified.
func (l *Loader) Snapshot() Snapshot {
	return l.cur.Load().snap
}

func (l *Loader) Generation() uint64 {
	return l.cur.Load().snap.Generation
}

// Wait blocks until the current generation has no outstanding fetches, following
// newer selections made while waiting.
func (l *Loader) Wait(ctx context.Context) (Snapshot, error) {
	for {
		cur := l.cur.Load()
		select {
		case <-cur.signal.ch:
		case <-ctx.Done():
			return l.Snapshot(), ctx.Err()
		}
		latest := l.cur.Load()
		if latest == cur || latest.signal == cur.signal {
			return latest.snap, nil
		}
	}
}
