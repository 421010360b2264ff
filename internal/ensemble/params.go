package ensemble

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/rs/zerolog"

	"stackcast/internal/features"
)

// Params bundles every tunable of a training run: the feature pipeline
// configuration plus hyperparameters for each learner and the combiner.
type Params struct {
	Features features.Config `yaml:"features" json:"features"`
	Boost    BoostParams     `yaml:"boost" json:"boost"`
	Net      NetParams       `yaml:"net" json:"net"`
	Sequence SeqParams       `yaml:"sequence" json:"sequence"`
	Meta     MetaParams      `yaml:"meta" json:"meta"`

	// TestFraction is the chronological tail held out for evaluation.
	TestFraction float64 `yaml:"test_fraction" json:"test_fraction" default:"0.2"`
	// Seed makes training deterministic for a fixed dataset.
	Seed int64 `yaml:"seed" json:"seed" default:"42"`
	// RangeTolerance widens the input monitor envelope (fraction of span).
	RangeTolerance float64 `yaml:"range_tolerance" json:"range_tolerance" default:"0.25"`
}

// DefaultParams returns the stock configuration.
func DefaultParams() Params {
	var p Params
	if err := defaults.Set(&p); err != nil {
		panic(fmt.Sprintf("ensemble defaults: %v", err))
	}
	return p
}

// Validate checks the cross-learner settings; per-learner bounds are enforced
// where each learner consumes them.
func (p Params) Validate() error {
	if err := p.Features.Validate(); err != nil {
		return err
	}
	if p.TestFraction < 0.05 || p.TestFraction > 0.5 {
		return fmt.Errorf("test_fraction %.3f outside [0.05, 0.5]", p.TestFraction)
	}
	if p.Boost.Rounds < 1 || p.Boost.MaxDepth < 1 {
		return fmt.Errorf("boost rounds/max_depth must be positive")
	}
	if p.Net.Epochs < 1 || p.Net.BatchSize < 1 {
		return fmt.Errorf("net epochs/batch_size must be positive")
	}
	if p.Sequence.Enabled && p.Sequence.Window < 2 {
		return fmt.Errorf("sequence window %d too small", p.Sequence.Window)
	}
	if p.RangeTolerance < 0 {
		return fmt.Errorf("range_tolerance must be non-negative")
	}
	return nil
}

// ApplyOverrides mutates a copy of p with flat key/value overrides, the shape
// a config file or train request carries them in. Unknown keys and
// wrong-typed values are logged and skipped rather than failing the run.
func (p Params) ApplyOverrides(overrides map[string]any, log zerolog.Logger) Params {
	for key, raw := range overrides {
		if !p.applyOverride(key, raw) {
			log.Warn().Str("key", key).Interface("value", raw).
				Msg("unknown or malformed model override, skipping")
		}
	}
	return p
}

func (p *Params) applyOverride(key string, raw any) bool {
	switch key {
	case "label_threshold":
		return setFloat(&p.Features.LabelThreshold, raw)
	case "min_observations":
		return setInt(&p.Features.MinObservations, raw)
	case "fast_window":
		return setInt(&p.Features.FastWindow, raw)
	case "slow_window":
		return setInt(&p.Features.SlowWindow, raw)
	case "oscillator_period":
		return setInt(&p.Features.OscillatorPeriod, raw)
	case "band_width":
		return setFloat(&p.Features.BandWidth, raw)
	case "fallback_price":
		return setFloat(&p.Features.FallbackPrice, raw)
	case "fallback_volume":
		return setFloat(&p.Features.FallbackVolume, raw)
	case "baseline_tech":
		return setFloat(&p.Features.BaselineTech, raw)
	case "baseline_social":
		return setFloat(&p.Features.BaselineSocial, raw)
	case "baseline_fund":
		return setFloat(&p.Features.BaselineFund, raw)
	case "baseline_astro":
		return setFloat(&p.Features.BaselineAstro, raw)
	case "boost_rounds":
		return setInt(&p.Boost.Rounds, raw)
	case "boost_max_depth":
		return setInt(&p.Boost.MaxDepth, raw)
	case "boost_learning_rate":
		return setFloat(&p.Boost.LearningRate, raw)
	case "boost_subsample":
		return setFloat(&p.Boost.Subsample, raw)
	case "boost_colsample":
		return setFloat(&p.Boost.ColSample, raw)
	case "boost_min_leaf":
		return setInt(&p.Boost.MinLeaf, raw)
	case "boost_lambda":
		return setFloat(&p.Boost.Lambda, raw)
	case "net_learning_rate":
		return setFloat(&p.Net.LearningRate, raw)
	case "net_epochs":
		return setInt(&p.Net.Epochs, raw)
	case "net_batch_size":
		return setInt(&p.Net.BatchSize, raw)
	case "net_patience":
		return setInt(&p.Net.Patience, raw)
	case "net_val_fraction":
		return setFloat(&p.Net.ValFraction, raw)
	case "sequence_enabled":
		return setBool(&p.Sequence.Enabled, raw)
	case "sequence_window":
		return setInt(&p.Sequence.Window, raw)
	case "sequence_min_rows":
		return setInt(&p.Sequence.MinTrainRows, raw)
	case "sequence_learning_rate":
		return setFloat(&p.Sequence.LearningRate, raw)
	case "sequence_epochs":
		return setInt(&p.Sequence.Epochs, raw)
	case "sequence_l2":
		return setFloat(&p.Sequence.L2, raw)
	case "meta_learning_rate":
		return setFloat(&p.Meta.LearningRate, raw)
	case "meta_epochs":
		return setInt(&p.Meta.Epochs, raw)
	case "meta_l2":
		return setFloat(&p.Meta.L2, raw)
	case "test_fraction":
		return setFloat(&p.TestFraction, raw)
	case "range_tolerance":
		return setFloat(&p.RangeTolerance, raw)
	case "seed":
		var s int
		if !setInt(&s, raw) {
			return false
		}
		p.Seed = int64(s)
		return true
	}
	return false
}

// YAML and JSON decoders hand numbers over as different concrete types, so
// the setters accept the common ones.
func setFloat(dst *float64, raw any) bool {
	switch v := raw.(type) {
	case float64:
		*dst = v
	case float32:
		*dst = float64(v)
	case int:
		*dst = float64(v)
	case int64:
		*dst = float64(v)
	default:
		return false
	}
	return true
}

func setInt(dst *int, raw any) bool {
	switch v := raw.(type) {
	case int:
		*dst = v
	case int64:
		*dst = int(v)
	case float64:
		if v != float64(int(v)) {
			return false
		}
		*dst = int(v)
	default:
		return false
	}
	return true
}

func setBool(dst *bool, raw any) bool {
	v, ok := raw.(bool)
	if !ok {
		return false
	}
	*dst = v
	return true
}
