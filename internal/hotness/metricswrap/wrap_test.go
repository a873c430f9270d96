package metricswrap

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/burial-registry/internal/hotness/expdecay"
	"github.com/mohammed-shakir/burial-registry/internal/metrics"
)

func TestHotDistrictsGauge_Updates(t *testing.T) {
	p := metrics.Init(metrics.Config{})

	w := New(expdecay.New(30*time.Second), 0, nil)
	w.Inc("1")
	w.Inc("2")
	w.Reset("1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	body := rr.Body.String()

	if !strings.Contains(body, "hot_districts 1") {
		t.Fatalf("expected hot_districts gauge == 1, got:\n%s", body)
	}
}

func TestThresholdCrossingIsLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	w := New(expdecay.New(time.Hour), 2, logger)
	w.Inc("5")
	w.Inc("5")
	w.Inc("5")

	if n := strings.Count(buf.String(), "district became hot"); n != 1 {
		t.Fatalf("logged %d times, want 1:\n%s", n, buf.String())
	}
}
