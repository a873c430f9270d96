// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check is one named readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ReadinessReporter is implemented by background consumers.
type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// FromReporter adapts a consumer's partition assignment into a check.
func FromReporter(name string, rr ReadinessReporter) Check {
	return Check{Name: name, Fn: func(context.Context) error {
		if ok, _ := rr.Readiness(); !ok {
			return errNotAssigned
		}
		return nil
	}}
}

var errNotAssigned = errors.New("no partitions assigned")

// Readiness runs every check concurrently within timeout and answers 503 when
// any of them fails.
func Readiness(timeout time.Duration, checks ...Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		out := resp{Status: "ready", Checks: make(map[string]string, len(checks))}
		var (
			mu sync.Mutex
			wg sync.WaitGroup
		)
		for _, c := range checks {
			wg.Add(1)
			go func(c Check) {
				defer wg.Done()
				res := "ok"
				if err := c.Fn(ctx); err != nil {
					res = err.Error()
				}
				mu.Lock()
				out.Checks[c.Name] = res
				if res != "ok" {
					out.Status = "not_ready"
				}
				mu.Unlock()
			}(c)
		}
		wg.Wait()

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
