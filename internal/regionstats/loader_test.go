package regionstats

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/burial-registry/internal/core/model"
)

type bundle struct {
	graveyards []model.Graveyard
	names      []model.NameStat
	lastnames  []model.NameStat
	err        map[Part]error
}

// gatedStats answers per district and holds each district's responses until its
// gate is opened.
type gatedStats struct {
	mu      sync.Mutex
	data    map[model.ID]bundle
	gates   map[model.ID]chan struct{}
	applied chan Part
}

func newGatedStats(data map[model.ID]bundle) *gatedStats {
	return &gatedStats{data: data, gates: map[model.ID]chan struct{}{}}
}

func (g *gatedStats) gate(d model.ID) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[d]
	if !ok {
		ch = make(chan struct{})
		g.gates[d] = ch
	}
	return ch
}

func (g *gatedStats) open(d model.ID) { close(g.gate(d)) }

func (g *gatedStats) wait(ctx context.Context, d model.ID, p Part) (bundle, error) {
	select {
	case <-g.gate(d):
	case <-ctx.Done():
		return bundle{}, ctx.Err()
	}
	b := g.data[d]
	return b, b.err[p]
}

func (g *gatedStats) FetchGraveyardsForDistrict(ctx context.Context, d model.ID) ([]model.Graveyard, error) {
	b, err := g.wait(ctx, d, PartGraveyards)
	return b.graveyards, err
}

func (g *gatedStats) FetchTopNames(ctx context.Context, d model.ID) ([]model.NameStat, error) {
	b, err := g.wait(ctx, d, PartNames)
	return b.names, err
}

func (g *gatedStats) FetchTopLastnames(ctx context.Context, d model.ID) ([]model.NameStat, error) {
	b, err := g.wait(ctx, d, PartLastnames)
	return b.lastnames, err
}

func full(prefix string) bundle {
	return bundle{
		graveyards: []model.Graveyard{{ID: model.ID(prefix + "-g1"), Name: prefix + " groblje"}},
		names:      []model.NameStat{{Name: prefix + "-Marko", Percent: 1.5, Total: 30}},
		lastnames:  []model.NameStat{{Name: prefix + "-Petrović", Percent: 2, Total: 40}},
	}
}

func waitSettled(t *testing.T, l *Loader) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := l.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return snap
}

func TestLoader_IdleBeforeSelect(t *testing.T) {
	l := New(newGatedStats(nil), nil)
	snap := l.Snapshot()
	if snap.Status != StatusIdle || snap.Generation != 0 || snap.Ready {
		t.Fatalf("snapshot=%+v", snap)
	}
	if _, err := l.Wait(context.Background()); err != nil {
		t.Fatalf("wait on idle loader: %v", err)
	}
}

func TestLoader_ReadyWhenAllArrive(t *testing.T) {
	src := newGatedStats(map[model.ID]bundle{"X": full("X")})
	l := New(src, nil)

	gen := l.Select(context.Background(), "X")
	if gen != 1 {
		t.Fatalf("generation=%d want 1", gen)
	}
	if s := l.Snapshot(); s.Status != StatusLoading || s.Ready {
		t.Fatalf("before responses: %+v", s)
	}
	src.open("X")
	snap := waitSettled(t, l)
	if snap.Status != StatusReady || !snap.Ready {
		t.Fatalf("status=%s ready=%v", snap.Status, snap.Ready)
	}
	if len(snap.Stats.Lastnames) != 1 {
		t.Fatalf("lastnames=%d want 1", len(snap.Stats.Lastnames))
	}
}

// X's responses arrive strictly after Y's; none of X's data may ever show.
func TestLoader_StaleResponsesDiscarded(t *testing.T) {
	src := newGatedStats(map[model.ID]bundle{"X": full("X"), "Y": full("Y")})
	l := New(src, nil)

	l.Select(context.Background(), "X")
	genY := l.Select(context.Background(), "Y")

	src.open("Y")
	snap := waitSettled(t, l)
	if snap.Generation != genY || snap.DistrictID != "Y" || !snap.Ready {
		t.Fatalf("after Y: %+v", snap)
	}

	src.open("X")
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		s := l.Snapshot()
		if s.Generation != genY {
			t.Fatalf("generation moved to %d", s.Generation)
		}
		if s.Stats.Graveyards[0].ID != "Y-g1" || s.Stats.Names[0].Name != "Y-Marko" ||
			s.Stats.Lastnames[0].Name != "Y-Petrović" {
			t.Fatalf("stale data visible: %+v", s.Stats)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoader_SelectDropsPreviousBundle(t *testing.T) {
	src := newGatedStats(map[model.ID]bundle{"X": full("X"), "Y": full("Y")})
	l := New(src, nil)

	l.Select(context.Background(), "X")
	src.open("X")
	waitSettled(t, l)

	l.Select(context.Background(), "Y")
	s := l.Snapshot()
	if s.Ready || len(s.Stats.Graveyards) != 0 || len(s.Stats.Names) != 0 || len(s.Stats.Lastnames) != 0 {
		t.Fatalf("previous bundle still visible: %+v", s)
	}
}

func TestLoader_ReadinessIgnoresLastnames(t *testing.T) {
	b := full("X")
	b.lastnames = nil
	src := newGatedStats(map[model.ID]bundle{"X": b})
	l := New(src, nil)

	l.Select(context.Background(), "X")
	src.open("X")
	snap := waitSettled(t, l)
	if !snap.Ready || snap.Status != StatusReady {
		t.Fatalf("expected ready without lastnames, got %+v", snap)
	}
	if snap.Stats.Lastnames == nil {
		t.Fatal("lastnames must be an empty list, not nil")
	}
}

func TestLoader_GraveyardFailureIsFailed(t *testing.T) {
	b := full("X")
	b.err = map[Part]error{PartGraveyards: errors.New("rpc 500")}
	src := newGatedStats(map[model.ID]bundle{"X": b})
	l := New(src, nil)

	l.Select(context.Background(), "X")
	src.open("X")
	snap := waitSettled(t, l)
	if snap.Ready {
		t.Fatal("must not be ready without graveyards")
	}
	if snap.Status != StatusFailed {
		t.Fatalf("status=%s want failed", snap.Status)
	}
	if snap.Errors[PartGraveyards] == "" {
		t.Fatalf("errors=%v", snap.Errors)
	}
	if len(snap.Stats.Names) != 1 {
		t.Fatalf("names should still be applied, got %d", len(snap.Stats.Names))
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLoader_SettleLogReportsFetchError(t *testing.T) {
	b := full("X")
	b.err = map[Part]error{PartNames: errors.New("rpc 503")}
	src := newGatedStats(map[model.ID]bundle{"X": b})
	var out lockedBuffer
	l := New(src, slog.New(slog.NewTextHandler(&out, nil)))

	l.Select(context.Background(), "X")
	src.open("X")
	waitSettled(t, l)

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "settled with errors") {
		if time.Now().After(deadline) {
			t.Fatalf("settle log missing, got %q", out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !strings.Contains(out.String(), "names: rpc 503") {
		t.Fatalf("settle log must name the failed part: %q", out.String())
	}
}

func TestLoader_EmptyDistrictIsEmpty(t *testing.T) {
	src := newGatedStats(map[model.ID]bundle{"Z": {}})
	l := New(src, nil)

	l.Select(context.Background(), "Z")
	src.open("Z")
	snap := waitSettled(t, l)
	if snap.Status != StatusEmpty || snap.Ready || len(snap.Errors) != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestLoader_FetchesSurviveCallerCancel(t *testing.T) {
	src := newGatedStats(map[model.ID]bundle{"X": full("X")})
	l := New(src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	l.Select(ctx, "X")
	cancel()
	src.open("X")
	if snap := waitSettled(t, l); !snap.Ready {
		t.Fatalf("expected ready after caller cancel, got %+v", snap)
	}
}

func TestLoader_WaitFollowsNewerSelection(t *testing.T) {
	src := newGatedStats(map[model.ID]bundle{"X": full("X"), "Y": full("Y")})
	l := New(src, nil)
	l.Select(context.Background(), "X")

	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := l.Wait(context.Background())
		done <- snap
	}()

	time.Sleep(10 * time.Millisecond)
	l.Select(context.Background(), "Y")
	src.open("Y")

	select {
	case snap := <-done:
		if snap.DistrictID != "Y" || !snap.Settled() {
			t.Fatalf("wait returned %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return")
	}
	src.open("X")
}

func TestLoader_WaitHonorsContext(t *testing.T) {
	src := newGatedStats(map[model.ID]bundle{"X": full("X")})
	l := New(src, nil)
	l.Select(context.Background(), "X")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := l.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	if snap.Status != StatusLoading {
		t.Fatalf("status=%s want loading", snap.Status)
	}
	src.open("X")
}

func TestLoader_EmptyIDResetsToIdle(t *testing.T) {
	src := newGatedStats(map[model.ID]bundle{"X": full("X")})
	l := New(src, nil)
	l.Select(context.Background(), "X")
	gen := l.Select(context.Background(), "")
	src.open("X")

	snap := waitSettled(t, l)
	if snap.Status != StatusIdle || snap.Generation != gen {
		t.Fatalf("snapshot=%+v", snap)
	}
}
