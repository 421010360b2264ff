package features

import (
	"errors"
	"math"
	"testing"
)

func TestReconstructEmptyMap(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	s := BuildSchema(cfg)

	vec, defaulted, err := s.Reconstruct(map[string]float64{}, nil)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if len(vec) != s.Len() {
		t.Fatalf("vector width = %d, want %d", len(vec), s.Len())
	}
	if defaulted != s.Len() {
		t.Errorf("defaulted = %d, want every column (%d)", defaulted, s.Len())
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("column %q is not finite: %v", s.Columns()[i], v)
		}
	}

	checks := map[string]float64{
		"price_ma_5":          cfg.FallbackPrice,
		"price_ma_20":         cfg.FallbackPrice,
		"price_lag_1":         cfg.FallbackPrice,
		"price_return":        0,
		"price_rsi_14":        50,
		"price_band_position": 0.5,
		"price_ma_ratio":      1,
		"volume_ratio":        1,
		"volume_ma_20":        cfg.FallbackVolume,
		"tech_score_ma_5":     cfg.BaselineTech,
		"astro_score_lag_3":   cfg.BaselineAstro,
		"hour_sin":            0,
		"hour_cos":            1,
	}
	for name, want := range checks {
		if got := vec[s.Index(name)]; got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}

	wantMean := (cfg.BaselineTech + cfg.BaselineSocial + cfg.BaselineFund + cfg.BaselineAstro) / 4
	if got := vec[s.Index("pillar_mean")]; math.Abs(got-wantMean) > 1e-12 {
		t.Errorf("pillar_mean = %v, want %v", got, wantMean)
	}
}

func TestReconstructPartialInput(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	s := BuildSchema(cfg)

	// The canonical partial request: just a price and one pillar score.
	vec, defaulted, err := s.Reconstruct(map[string]float64{"price": 150, "tech_score": 80}, nil)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if defaulted != s.Len() {
		t.Errorf("defaulted = %d; anchor keys are not schema columns, every column is derived", defaulted)
	}
	if got := vec[s.Index("price_ma_5")]; got != 150 {
		t.Errorf("price_ma_5 = %v, want supplied price 150", got)
	}
	if got := vec[s.Index("tech_score_ma_5")]; got != 80 {
		t.Errorf("tech_score_ma_5 = %v, want supplied tech score 80", got)
	}
	if got := vec[s.Index("tech_score_momentum")]; got != 0 {
		t.Errorf("tech_score_momentum = %v, want 0", got)
	}

	wantInteraction := 80 * cfg.BaselineSocial / 100
	if got := vec[s.Index("tech_social_interaction")]; math.Abs(got-wantInteraction) > 1e-12 {
		t.Errorf("tech_social_interaction = %v, want %v", got, wantInteraction)
	}

	pillars := [NumPillars]float64{80, cfg.BaselineSocial, cfg.BaselineFund, cfg.BaselineAstro}
	if got := vec[s.Index("pillar_variance")]; math.Abs(got-pillarVariance(pillars)) > 1e-12 {
		t.Errorf("pillar_variance = %v, want recomputed %v", got, pillarVariance(pillars))
	}
}

func TestReconstructVerbatimWins(t *testing.T) {
	t.Parallel()

	s := BuildSchema(DefaultConfig())
	vec, defaulted, err := s.Reconstruct(map[string]float64{
		"price_rsi_14": 77,
		"pillar_mean":  12,
		"price":        200,
	}, nil)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if got := vec[s.Index("price_rsi_14")]; got != 77 {
		t.Errorf("verbatim oscillator = %v, want 77", got)
	}
	if got := vec[s.Index("pillar_mean")]; got != 12 {
		t.Errorf("verbatim composite = %v, want 12", got)
	}
	if want := s.Len() - 2; defaulted != want {
		t.Errorf("defaulted = %d, want %d", defaulted, want)
	}
}

func TestReconstructRejectsNonFinite(t *testing.T) {
	t.Parallel()

	s := BuildSchema(DefaultConfig())

	tests := []struct {
		name     string
		supplied map[string]float64
		history  []float64
	}{
		{"nan value", map[string]float64{"price": math.NaN()}, nil},
		{"positive inf", map[string]float64{"tech_score": math.Inf(1)}, nil},
		{"nan history", map[string]float64{}, []float64{100, math.NaN()}},
		{"non-positive history", map[string]float64{}, []float64{100, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Reconstruct(tt.supplied, tt.history)
			var invalid *InvalidFeatureValueError
			if !errors.As(err, &invalid) {
				t.Fatalf("expected InvalidFeatureValueError, got %v", err)
			}
		})
	}
}

func TestReconstructFromHistory(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	s := BuildSchema(cfg)

	history := make([]float64, 30)
	price := 100.0
	for i := range history {
		price *= 1.01
		history[i] = price
	}
	last := history[len(history)-1]
	prev := history[len(history)-2]

	vec, _, err := s.Reconstruct(map[string]float64{}, history)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	if got, want := vec[s.Index("price_return")], (last-prev)/prev; math.Abs(got-want) > 1e-12 {
		t.Errorf("price_return = %v, want %v", got, want)
	}
	if got := vec[s.Index("price_lag_1")]; got != prev {
		t.Errorf("price_lag_1 = %v, want %v", got, prev)
	}
	if got := vec[s.Index("price_lag_3")]; got != history[len(history)-4] {
		t.Errorf("price_lag_3 = %v, want %v", got, history[len(history)-4])
	}
	if got := vec[s.Index("price_rsi_14")]; got <= 50 {
		t.Errorf("oscillator on a rising history = %v, want > 50", got)
	}
	if got := vec[s.Index("price_band_position")]; got <= 0.5 {
		t.Errorf("band position on a rising history = %v, want > 0.5", got)
	}
	if got := vec[s.Index("price_ma_5")]; got <= vec[s.Index("price_ma_20")] {
		t.Errorf("fast mean %v should exceed slow mean %v on a rising history", got, vec[s.Index("price_ma_20")])
	}
	// The last history point anchors the price level.
	if got := vec[s.Index("price_lag_1")]; got >= last {
		t.Errorf("lag %v should be below the last price %v", got, last)
	}
}

func TestReconstructShortHistoryFallsBack(t *testing.T) {
	t.Parallel()

	s := BuildSchema(DefaultConfig())

	// Two points: returns come from the history, oscillator and band lack
	// depth and keep their neutral defaults.
	vec, _, err := s.Reconstruct(map[string]float64{}, []float64{100, 102})
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if got := vec[s.Index("price_return")]; math.Abs(got-0.02) > 1e-12 {
		t.Errorf("price_return = %v, want 0.02", got)
	}
	if got := vec[s.Index("price_rsi_14")]; got != 50 {
		t.Errorf("oscillator without depth = %v, want neutral 50", got)
	}
	if got := vec[s.Index("price_band_position")]; got != 0.5 {
		t.Errorf("band without depth = %v, want 0.5", got)
	}
}

func BenchmarkReconstruct(b *testing.B) {
	s := BuildSchema(DefaultConfig())
	supplied := map[string]float64{"price": 150, "tech_score": 80, "social_score": 44}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := s.Reconstruct(supplied, nil); err != nil {
			b.Fatal(err)
		}
	}
}
