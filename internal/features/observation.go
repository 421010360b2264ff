package features

import (
	"fmt"
	"math"
	"time"
)

// Pillar identifies one of the four 0-100 sentiment pillars carried by every
// observation.
type Pillar int

const (
	PillarTech Pillar = iota
	PillarSocial
	PillarFund
	PillarAstro

	NumPillars = 4
)

var pillarNames = [NumPillars]string{"tech", "social", "fund", "astro"}

func (p Pillar) String() string {
	if p < 0 || int(p) >= NumPillars {
		return "unknown"
	}
	return pillarNames[p]
}

// ScoreKey returns the request/observation key for the pillar, e.g. "tech_score".
func (p Pillar) ScoreKey() string { return p.String() + "_score" }

// Observation is a single point of the asset telemetry series: market state plus
// the four pillar scores. Series handed to the pipeline must be in chronological
// order.
type Observation struct {
	Ts     time.Time `json:"ts"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Tech   float64   `json:"tech_score"`
	Social float64   `json:"social_score"`
	Fund   float64   `json:"fund_score"`
	Astro  float64   `json:"astro_score"`
}

// Score returns the named pillar value.
func (o Observation) Score(p Pillar) float64 {
	switch p {
	case PillarTech:
		return o.Tech
	case PillarSocial:
		return o.Social
	case PillarFund:
		return o.Fund
	default:
		return o.Astro
	}
}

// Validate rejects observations the pipeline cannot use: non-positive or
// non-finite prices, negative volume, pillar scores outside the 0-100 scale.
func (o Observation) Validate() error {
	if !isFinite(o.Price) || o.Price <= 0 {
		return &InvalidFeatureValueError{Name: "price", Value: o.Price, Reason: "must be a finite positive number"}
	}
	if !isFinite(o.Volume) || o.Volume < 0 {
		return &InvalidFeatureValueError{Name: "volume", Value: o.Volume, Reason: "must be finite and non-negative"}
	}
	for p := Pillar(0); p < NumPillars; p++ {
		s := o.Score(p)
		if !isFinite(s) || s < 0 || s > 100 {
			return &InvalidFeatureValueError{Name: p.ScoreKey(), Value: s, Reason: "must be within the 0-100 scale"}
		}
	}
	return nil
}

// ValidateSeries checks every observation and chronological ordering.
func ValidateSeries(obs []Observation) error {
	for i, o := range obs {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("observation %d: %w", i, err)
		}
		if i > 0 && o.Ts.Before(obs[i-1].Ts) {
			return fmt.Errorf("observation %d: timestamps out of order", i)
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
