// Package hotness tracks how often each district's statistics are requested.
package hotness

type Interface interface {
	Inc(district string)
	Score(district string) float64
	Reset(districts ...string)
}

type Tier string

const (
	Cold Tier = "cold"
	Warm Tier = "warm"
	Hot  Tier = "hot"
)

// Tiers classifies a score: at or above Threshold is hot, at or above
// Threshold*WarmFraction is warm, anything lower is cold.
type Tiers struct {
	Threshold    float64
	WarmFraction float64
}

func (t Tiers) Classify(score float64) Tier {
	if t.Threshold <= 0 {
		return Cold
	}
	switch {
	case score >= t.Threshold:
		return Hot
	case t.WarmFraction > 0 && score >= t.Threshold*t.WarmFraction:
		return Warm
	default:
		return Cold
	}
}
