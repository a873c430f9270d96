package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr(), WithOpTimeout(500*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetGetDel(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()

	if err := rc.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := rc.Get(ctx, "k1")
	if err != nil || !ok || string(got) != "v1" {
		t.Fatalf("Get got=%q ok=%v err=%v", got, ok, err)
	}

	if err := rc.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, err := rc.Get(ctx, "k1"); err != nil || ok {
		t.Fatalf("after Del ok=%v err=%v", ok, err)
	}
}

func TestNew_AppliesPoolAndDialOptions(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rc, err := New(context.Background(), mr.Addr(), WithPoolSize(7), WithDialTimeout(3*time.Second), WithPoolSize(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	o := rc.rdb.Options()
	if o.PoolSize != 7 {
		t.Fatalf("pool size=%d want 7", o.PoolSize)
	}
	if o.DialTimeout != 3*time.Second {
		t.Fatalf("dial timeout=%v want 3s", o.DialTimeout)
	}
}

func TestTTLExpiry(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if err := rc.Set(ctx, "ttl-key", []byte("v"), 2*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(3 * time.Second)

	if _, ok, err := rc.Get(ctx, "ttl-key"); err != nil || ok {
		t.Fatalf("expected ttl-key absent after expiry; ok=%v err=%v", ok, err)
	}
}

func TestDelMatch_RemovesOnlyMatching(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	for _, k := range []string{"d:1:a", "d:1:b", "d:2:a", "other"} {
		if err := rc.Set(ctx, k, []byte("x"), time.Minute); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	n, err := rc.DelMatch(ctx, "d:1:*")
	if err != nil {
		t.Fatalf("DelMatch: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed=%d want 2", n)
	}
	if mr.Exists("d:1:a") || mr.Exists("d:1:b") {
		t.Fatal("matching keys still present")
	}
	if !mr.Exists("d:2:a") || !mr.Exists("other") {
		t.Fatal("non-matching keys removed")
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}
