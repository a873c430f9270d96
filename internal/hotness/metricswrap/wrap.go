// Package metricswrap reports district hotness to Prometheus and the log.
package metricswrap

import (
	"log/slog"

	"github.com/mohammed-shakir/burial-registry/internal/core/observability"
	"github.com/mohammed-shakir/burial-registry/internal/hotness"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner     hotness.Interface
	threshold float64
	logger    *slog.Logger
}

var _ hotness.Interface = (*WithMetrics)(nil)

// New wraps inner. A positive threshold logs the increment that makes a district hot.
func New(inner hotness.Interface, threshold float64, logger *slog.Logger) *WithMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &WithMetrics{inner: inner, threshold: threshold, logger: logger}
}

func (w *WithMetrics) Inc(district string) {
	before := w.inner.Score(district)
	w.inner.Inc(district)
	if w.threshold > 0 {
		if after := w.inner.Score(district); before < w.threshold && after >= w.threshold {
			w.logger.Info("district became hot",
				"event", "hotness_threshold",
				"district", district,
				"score", after)
		}
	}
	w.report()
}

func (w *WithMetrics) Score(district string) float64 {
	return w.inner.Score(district)
}

func (w *WithMetrics) Reset(districts ...string) {
	w.inner.Reset(districts...)
	w.report()
}

func (w *WithMetrics) report() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotDistricts(s.Size())
	}
}
