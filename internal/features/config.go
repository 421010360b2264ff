package features

import (
	"fmt"

	"github.com/creasty/defaults"
)

// Config carries every constant the pipeline and the reconstructor depend on.
// The values become part of the frozen schema at training time, so two engines
// built from the same Config produce identical column sets and identical
// defaulting behavior.
type Config struct {
	// LabelThreshold is the exclusive fractional band for direction labels:
	// next-step changes strictly above +threshold are BULLISH, strictly below
	// -threshold BEARISH, everything else NEUTRAL.
	LabelThreshold  float64 `yaml:"label_threshold" json:"label_threshold" default:"0.005"`
	MinObservations int     `yaml:"min_observations" json:"min_observations" default:"50"`

	FastWindow       int     `yaml:"fast_window" json:"fast_window" default:"5"`
	SlowWindow       int     `yaml:"slow_window" json:"slow_window" default:"20"`
	OscillatorPeriod int     `yaml:"oscillator_period" json:"oscillator_period" default:"14"`
	BandWidth        float64 `yaml:"band_width" json:"band_width" default:"2.0"`

	// Anchors used by the reconstructor when a prediction request omits the
	// corresponding raw input.
	FallbackPrice  float64 `yaml:"fallback_price" json:"fallback_price" default:"150"`
	FallbackVolume float64 `yaml:"fallback_volume" json:"fallback_volume" default:"20000000"`
	BaselineTech   float64 `yaml:"baseline_tech" json:"baseline_tech" default:"35"`
	BaselineSocial float64 `yaml:"baseline_social" json:"baseline_social" default:"32"`
	BaselineFund   float64 `yaml:"baseline_fund" json:"baseline_fund" default:"35"`
	BaselineAstro  float64 `yaml:"baseline_astro" json:"baseline_astro" default:"55"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(err) // struct tags are static; this cannot fail at runtime
	}
	return c
}

// Baseline returns the neutral fallback score for a pillar.
func (c Config) Baseline(p Pillar) float64 {
	switch p {
	case PillarTech:
		return c.BaselineTech
	case PillarSocial:
		return c.BaselineSocial
	case PillarFund:
		return c.BaselineFund
	default:
		return c.BaselineAstro
	}
}

// Validate checks the ranges the pipeline assumes.
func (c Config) Validate() error {
	if c.LabelThreshold <= 0 {
		return fmt.Errorf("label_threshold must be positive, got %v", c.LabelThreshold)
	}
	if c.FastWindow < 2 || c.SlowWindow <= c.FastWindow {
		return fmt.Errorf("windows must satisfy 2 <= fast (%d) < slow (%d)", c.FastWindow, c.SlowWindow)
	}
	if c.OscillatorPeriod < 2 {
		return fmt.Errorf("oscillator_period must be at least 2, got %d", c.OscillatorPeriod)
	}
	if c.BandWidth <= 0 {
		return fmt.Errorf("band_width must be positive, got %v", c.BandWidth)
	}
	if c.MinObservations <= c.warmup()+1 {
		return fmt.Errorf("min_observations %d leaves no rows after the %d-row warm-up", c.MinObservations, c.warmup())
	}
	if c.FallbackPrice <= 0 || c.FallbackVolume < 0 {
		return fmt.Errorf("fallback anchors must be positive")
	}
	for p := Pillar(0); p < NumPillars; p++ {
		if b := c.Baseline(p); b < 0 || b > 100 {
			return fmt.Errorf("baseline for %s must be within 0-100, got %v", p, b)
		}
	}
	return nil
}

// warmup is the number of leading observations that cannot produce a dense row.
func (c Config) warmup() int {
	w := c.SlowWindow - 1
	if c.OscillatorPeriod > w {
		w = c.OscillatorPeriod
	}
	if lagLong > w {
		w = lagLong
	}
	return w
}
