// Package decay implements the confidence decay pass over consolidated
// memories described in spec.md §4.7.4, grounded on the consolidated
// package's Store for reading/writing memory rows.
package decay

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/mama/internal/memory/consolidated"
)

// Config tunes the decay pass.
type Config struct {
	InactiveDaysThreshold int
	DecayFactor           float64
	DeactivateThreshold   float64
}

// DefaultConfig returns the spec's default thresholds.
func DefaultConfig() Config {
	return Config{InactiveDaysThreshold: 30, DecayFactor: 0.9, DeactivateThreshold: 0.1}
}

// Report summarizes one decay pass.
type Report struct {
	Checked     int
	Decayed     int
	Deactivated int
}

// Run applies confidence decay to every active memory whose reference date
// (lastReinforcedAt, falling back to createdAt) is older than
// InactiveDaysThreshold days.
func Run(ctx context.Context, store *consolidated.Store, cfg Config, now time.Time) (Report, error) {
	cfg = withDefaults(cfg)

	active, err := store.GetActive(ctx, 0)
	if err != nil {
		return Report{}, fmt.Errorf("decay: load active memories: %w", err)
	}

	var report Report
	threshold := time.Duration(cfg.InactiveDaysThreshold) * 24 * time.Hour

	for _, m := range active {
		report.Checked++
		reference := m.LastReinforcedAt
		if reference.IsZero() {
			reference = m.CreatedAt
		}
		if now.Sub(reference) < threshold {
			continue
		}

		newConfidence := clamp(m.Confidence * cfg.DecayFactor)
		report.Decayed++

		deactivate := newConfidence < cfg.DeactivateThreshold
		if _, err := store.Update(ctx, m.ID, nil, &newConfidence, boolPtr(!deactivate)); err != nil {
			return report, fmt.Errorf("decay: update memory %s: %w", m.ID, err)
		}
		if deactivate {
			report.Deactivated++
		}
	}
	return report, nil
}

func withDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.InactiveDaysThreshold > 0 {
		d.InactiveDaysThreshold = cfg.InactiveDaysThreshold
	}
	if cfg.DecayFactor > 0 {
		d.DecayFactor = cfg.DecayFactor
	}
	if cfg.DeactivateThreshold > 0 {
		d.DeactivateThreshold = cfg.DeactivateThreshold
	}
	return d
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolPtr(b bool) *bool { return &b }
