package features

import (
	"fmt"
	"math"
)

// Lags applied to price and every pillar score. Fixed by the model family, not
// tunable.
const (
	lagShort = 1
	lagLong  = 3
)

// colOp identifies how a column is computed during training and how it is
// defaulted during inference when the request does not supply it verbatim.
type colOp uint8

const (
	opPriceReturn colOp = iota
	opPriceMAFast
	opPriceMASlow
	opPriceStdFast
	opPriceStdSlow
	opPriceMARatio
	opPriceMomentum
	opPriceLagShort
	opPriceLagLong
	opOscillator
	opBandPosition
	opVolumeMAFast
	opVolumeMASlow
	opVolumeRatio
	opPriceVolumeTrend
	opPillarMA
	opPillarMomentum
	opPillarLagShort
	opPillarLagLong
	opPillarMean
	opPillarVariance
	opPairInteraction
	opHourSin
	opHourCos
	opDowSin
	opDowCos
)

// colSpec is one entry of the declarative column table: the frozen name, the
// operation, and the pillar operands where the operation needs them.
type colSpec struct {
	Name   string
	Op     colOp
	Pillar Pillar
	A, B   Pillar
}

// Schema is the frozen, ordered column set of a trained ensemble together with
// the defaulting-rule table. It is built exactly once per training run; the
// column order never changes afterwards and is part of the persisted artifact.
type Schema struct {
	cfg   Config
	specs []colSpec
	index map[string]int
}

// BuildSchema freezes the column table for the given configuration. The same
// Config always yields the same schema, which is what lets a restored snapshot
// reproduce identical predictions.
func BuildSchema(cfg Config) *Schema {
	specs := make([]colSpec, 0, 48)
	add := func(name string, op colOp) {
		specs = append(specs, colSpec{Name: name, Op: op})
	}

	add("price_return", opPriceReturn)
	add(fmt.Sprintf("price_ma_%d", cfg.FastWindow), opPriceMAFast)
	add(fmt.Sprintf("price_ma_%d", cfg.SlowWindow), opPriceMASlow)
	add(fmt.Sprintf("price_std_%d", cfg.FastWindow), opPriceStdFast)
	add(fmt.Sprintf("price_std_%d", cfg.SlowWindow), opPriceStdSlow)
	add("price_ma_ratio", opPriceMARatio)
	add("price_momentum", opPriceMomentum)
	add(fmt.Sprintf("price_lag_%d", lagShort), opPriceLagShort)
	add(fmt.Sprintf("price_lag_%d", lagLong), opPriceLagLong)
	add(fmt.Sprintf("price_rsi_%d", cfg.OscillatorPeriod), opOscillator)
	add("price_band_position", opBandPosition)
	add(fmt.Sprintf("volume_ma_%d", cfg.FastWindow), opVolumeMAFast)
	add(fmt.Sprintf("volume_ma_%d", cfg.SlowWindow), opVolumeMASlow)
	add("volume_ratio", opVolumeRatio)
	add("price_volume_trend", opPriceVolumeTrend)

	for p := Pillar(0); p < NumPillars; p++ {
		key := p.ScoreKey()
		specs = append(specs,
			colSpec{Name: fmt.Sprintf("%s_ma_%d", key, cfg.FastWindow), Op: opPillarMA, Pillar: p},
			colSpec{Name: key + "_momentum", Op: opPillarMomentum, Pillar: p},
			colSpec{Name: fmt.Sprintf("%s_lag_%d", key, lagShort), Op: opPillarLagShort, Pillar: p},
			colSpec{Name: fmt.Sprintf("%s_lag_%d", key, lagLong), Op: opPillarLagLong, Pillar: p},
		)
	}

	add("pillar_mean", opPillarMean)
	add("pillar_variance", opPillarVariance)
	specs = append(specs,
		colSpec{Name: "tech_social_interaction", Op: opPairInteraction, A: PillarTech, B: PillarSocial},
		colSpec{Name: "fund_astro_interaction", Op: opPairInteraction, A: PillarFund, B: PillarAstro},
	)

	add("hour_sin", opHourSin)
	add("hour_cos", opHourCos)
	add("dow_sin", opDowSin)
	add("dow_cos", opDowCos)

	index := make(map[string]int, len(specs))
	for i, s := range specs {
		index[s.Name] = i
	}
	return &Schema{cfg: cfg, specs: specs, index: index}
}

// Columns returns the frozen column names in order.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.specs))
	for i, sp := range s.specs {
		out[i] = sp.Name
	}
	return out
}

// Len returns the schema width.
func (s *Schema) Len() int { return len(s.specs) }

// Index returns the position of a column, or -1 when unknown.
func (s *Schema) Index(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	return -1
}

// Config returns the constants the schema was frozen with.
func (s *Schema) Config() Config { return s.cfg }

// anchors are the raw values every defaulting rule derives from. They are
// resolved once per reconstruction, never per column.
type anchors struct {
	price   float64
	volume  float64
	pillars [NumPillars]float64
	hist    *histStats
}

// histStats holds rolling values computed from an optional recent price
// history supplied with a prediction request.
type histStats struct {
	ret      float64
	maFast   float64
	maSlow   float64
	stdFast  float64
	stdSlow  float64
	momentum float64
	lagShort float64
	lagLong  float64
	osc      float64
	hasOsc   bool
	band     float64
	hasBand  bool
}

// Reconstruct builds a dense model-ready vector from a partial feature map and
// an optional recent price history. Resolution order per column: the exact
// column name in the supplied map always wins; otherwise the column's
// defaulting rule runs against the resolved anchors. The result never contains
// NaN or Inf, and defaulted reports how many columns did not come verbatim
// from the caller.
func (s *Schema) Reconstruct(supplied map[string]float64, history []float64) (vec []float64, defaulted int, err error) {
	for name, v := range supplied {
		if !isFinite(v) {
			return nil, 0, &InvalidFeatureValueError{Name: name, Value: v, Reason: "must be finite"}
		}
	}
	for i, v := range history {
		if !isFinite(v) || v <= 0 {
			return nil, 0, &InvalidFeatureValueError{Name: fmt.Sprintf("price_history[%d]", i), Value: v, Reason: "must be a finite positive price"}
		}
	}

	a := s.resolveAnchors(supplied, history)

	vec = make([]float64, len(s.specs))
	for i, sp := range s.specs {
		if v, ok := supplied[sp.Name]; ok {
			vec[i] = v
			continue
		}
		vec[i] = s.defaultValue(sp, a, supplied)
		defaulted++
	}
	return vec, defaulted, nil
}

func (s *Schema) resolveAnchors(supplied map[string]float64, history []float64) anchors {
	a := anchors{price: s.cfg.FallbackPrice, volume: s.cfg.FallbackVolume}
	if len(history) > 0 {
		a.price = history[len(history)-1]
	}
	if v, ok := supplied["price"]; ok && v > 0 {
		a.price = v
	}
	if v, ok := supplied["volume"]; ok && v >= 0 {
		a.volume = v
	}
	for p := Pillar(0); p < NumPillars; p++ {
		a.pillars[p] = s.cfg.Baseline(p)
		if v, ok := supplied[p.ScoreKey()]; ok {
			a.pillars[p] = clamp(v, 0, 100)
		}
	}
	if len(history) >= 2 {
		a.hist = s.historyStats(history)
	}
	return a
}

func (s *Schema) historyStats(history []float64) *histStats {
	n := len(history)
	last, prev := history[n-1], history[n-2]

	h := &histStats{
		momentum: last - prev,
		lagShort: prev,
		lagLong:  history[0],
	}
	if prev != 0 {
		h.ret = (last - prev) / prev
	}
	if n > lagLong {
		h.lagLong = history[n-1-lagLong]
	}

	h.maFast = meanTail(history, s.cfg.FastWindow)
	h.maSlow = meanTail(history, s.cfg.SlowWindow)
	h.stdFast = stdTail(history, s.cfg.FastWindow)
	h.stdSlow = stdTail(history, s.cfg.SlowWindow)

	if n > s.cfg.OscillatorPeriod {
		h.osc = oscillatorAt(history, s.cfg.OscillatorPeriod, n-1)
		h.hasOsc = true
	}
	if n >= s.cfg.SlowWindow {
		h.band = bandPosition(last, h.maSlow, h.stdSlow, s.cfg.BandWidth)
		h.hasBand = true
	}
	return h
}

// defaultValue applies one rule from the frozen table. Flat-history semantics
// apply when no usable price history was supplied: means and lags collapse to
// the resolved level, differences to zero.
func (s *Schema) defaultValue(sp colSpec, a anchors, supplied map[string]float64) float64 {
	h := a.hist
	switch sp.Op {
	case opPriceReturn:
		if h != nil {
			return h.ret
		}
		return 0
	case opPriceMAFast:
		if h != nil {
			return h.maFast
		}
		return a.price
	case opPriceMASlow:
		if h != nil {
			return h.maSlow
		}
		return a.price
	case opPriceStdFast:
		if h != nil {
			return h.stdFast
		}
		return 0
	case opPriceStdSlow:
		if h != nil {
			return h.stdSlow
		}
		return 0
	case opPriceMARatio:
		if h != nil && h.maSlow != 0 {
			return h.maFast / h.maSlow
		}
		return 1
	case opPriceMomentum:
		if h != nil {
			return h.momentum
		}
		return 0
	case opPriceLagShort:
		if h != nil {
			return h.lagShort
		}
		return a.price
	case opPriceLagLong:
		if h != nil {
			return h.lagLong
		}
		return a.price
	case opOscillator:
		if h != nil && h.hasOsc {
			return h.osc
		}
		return 50
	case opBandPosition:
		if h != nil && h.hasBand {
			return h.band
		}
		return 0.5
	case opVolumeMAFast, opVolumeMASlow:
		return a.volume
	case opVolumeRatio:
		return 1
	case opPriceVolumeTrend:
		if h != nil {
			return h.ret // volume ratio defaults to 1
		}
		return 0
	case opPillarMA, opPillarLagShort, opPillarLagLong:
		return a.pillars[sp.Pillar]
	case opPillarMomentum:
		return 0
	case opPillarMean:
		return pillarMean(a.pillars)
	case opPillarVariance:
		return pillarVariance(a.pillars)
	case opPairInteraction:
		return a.pillars[sp.A] * a.pillars[sp.B] / 100
	case opHourSin, opDowSin:
		return 0
	case opHourCos, opDowCos:
		return 1
	default:
		return 0
	}
}

func pillarMean(p [NumPillars]float64) float64 {
	return (p[0] + p[1] + p[2] + p[3]) / NumPillars
}

func pillarVariance(p [NumPillars]float64) float64 {
	m := pillarMean(p)
	var ss float64
	for _, v := range p {
		d := v - m
		ss += d * d
	}
	return ss / NumPillars
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
