// Package features turns raw asset telemetry into the dense engineered matrix
// the ensemble trains on, and reconstructs model-ready vectors from the partial
// feature maps that arrive at inference time.
//
// The column schema is frozen when a pipeline is built: the same Config always
// produces the same ordered column set and the same defaulting-rule table, so a
// trained artifact can be restored later and behave identically.
package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Matrix is the engineered training set: dense rows in schema order with the
// aligned direction labels. Rows are chronological and fully finite; warm-up
// rows that would contain undefined rolling values are dropped, never imputed.
type Matrix struct {
	Schema *Schema
	Rows   [][]float64
	Labels []Label
}

// NumRows returns the number of engineered rows.
func (m *Matrix) NumRows() int { return len(m.Rows) }

// Pipeline engineers feature matrices for one frozen schema.
type Pipeline struct {
	cfg    Config
	schema *Schema
}

// NewPipeline validates the configuration and freezes the schema.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, schema: BuildSchema(cfg)}, nil
}

// Schema returns the frozen schema.
func (p *Pipeline) Schema() *Schema { return p.schema }

// BuildMatrix engineers the full feature matrix and labels from a
// chronologically ordered observation series. Series shorter than
// MinObservations are rejected with InsufficientDataError. The final
// observation has no next-step change and is not emitted as a row.
func (p *Pipeline) BuildMatrix(obs []Observation) (*Matrix, error) {
	if len(obs) < p.cfg.MinObservations {
		return nil, &InsufficientDataError{Have: len(obs), Need: p.cfg.MinObservations}
	}
	if err := ValidateSeries(obs); err != nil {
		return nil, err
	}

	n := len(obs)
	prices := make([]float64, n)
	volumes := make([]float64, n)
	var pillars [NumPillars][]float64
	for p := range pillars {
		pillars[p] = make([]float64, n)
	}
	for i, o := range obs {
		prices[i] = o.Price
		volumes[i] = o.Volume
		for pi := Pillar(0); pi < NumPillars; pi++ {
			pillars[pi][i] = o.Score(pi)
		}
	}

	start := p.cfg.warmup()
	rows := make([][]float64, 0, n-start-1)
	labels := make([]Label, 0, n-start-1)

	for i := start; i < n-1; i++ {
		rows = append(rows, p.rowAt(i, obs, prices, volumes, &pillars))
		change := (prices[i+1] - prices[i]) / prices[i]
		labels = append(labels, LabelFromChange(change, p.cfg.LabelThreshold))
	}

	return &Matrix{Schema: p.schema, Rows: rows, Labels: labels}, nil
}

// rowAt computes one dense row at index i. Every op mirrors the defaulting
// rule in the schema table; i is always past the warm-up so no value here can
// be undefined.
func (p *Pipeline) rowAt(i int, obs []Observation, prices, volumes []float64, pillars *[NumPillars][]float64) []float64 {
	cfg := p.cfg
	row := make([]float64, len(p.schema.specs))

	var cur [NumPillars]float64
	for pi := Pillar(0); pi < NumPillars; pi++ {
		cur[pi] = pillars[pi][i]
	}
	maSlow := windowMean(prices, cfg.SlowWindow, i)
	stdSlow := windowStd(prices, cfg.SlowWindow, i)
	volSlow := windowMean(volumes, cfg.SlowWindow, i)
	ret := (prices[i] - prices[i-1]) / prices[i-1]

	volRatio := 1.0
	if volSlow > 0 {
		volRatio = volumes[i] / volSlow
	}

	for j, sp := range p.schema.specs {
		switch sp.Op {
		case opPriceReturn:
			row[j] = ret
		case opPriceMAFast:
			row[j] = windowMean(prices, cfg.FastWindow, i)
		case opPriceMASlow:
			row[j] = maSlow
		case opPriceStdFast:
			row[j] = windowStd(prices, cfg.FastWindow, i)
		case opPriceStdSlow:
			row[j] = stdSlow
		case opPriceMARatio:
			fast := windowMean(prices, cfg.FastWindow, i)
			if maSlow != 0 {
				row[j] = fast / maSlow
			} else {
				row[j] = 1
			}
		case opPriceMomentum:
			row[j] = prices[i] - prices[i-1]
		case opPriceLagShort:
			row[j] = prices[i-lagShort]
		case opPriceLagLong:
			row[j] = prices[i-lagLong]
		case opOscillator:
			row[j] = oscillatorAt(prices, cfg.OscillatorPeriod, i)
		case opBandPosition:
			row[j] = bandPosition(prices[i], maSlow, stdSlow, cfg.BandWidth)
		case opVolumeMAFast:
			row[j] = windowMean(volumes, cfg.FastWindow, i)
		case opVolumeMASlow:
			row[j] = volSlow
		case opVolumeRatio:
			row[j] = volRatio
		case opPriceVolumeTrend:
			row[j] = ret * volRatio
		case opPillarMA:
			row[j] = windowMean(pillars[sp.Pillar], cfg.FastWindow, i)
		case opPillarMomentum:
			row[j] = pillars[sp.Pillar][i] - pillars[sp.Pillar][i-1]
		case opPillarLagShort:
			row[j] = pillars[sp.Pillar][i-lagShort]
		case opPillarLagLong:
			row[j] = pillars[sp.Pillar][i-lagLong]
		case opPillarMean:
			row[j] = pillarMean(cur)
		case opPillarVariance:
			row[j] = pillarVariance(cur)
		case opPairInteraction:
			row[j] = cur[sp.A] * cur[sp.B] / 100
		case opHourSin:
			row[j] = hourSin(obs[i])
		case opHourCos:
			row[j] = hourCos(obs[i])
		case opDowSin:
			row[j] = dowSin(obs[i])
		case opDowCos:
			row[j] = dowCos(obs[i])
		}
	}
	return row
}

// windowMean is the mean of vals[i-w+1 .. i].
func windowMean(vals []float64, w, i int) float64 {
	return stat.Mean(vals[i-w+1:i+1], nil)
}

// windowStd is the sample standard deviation of vals[i-w+1 .. i].
func windowStd(vals []float64, w, i int) float64 {
	return stat.StdDev(vals[i-w+1:i+1], nil)
}

// meanTail is the mean of the trailing min(w, len) values.
func meanTail(vals []float64, w int) float64 {
	if len(vals) < w {
		w = len(vals)
	}
	return stat.Mean(vals[len(vals)-w:], nil)
}

// stdTail is the sample standard deviation of the trailing min(w, len)
// values, or 0 when fewer than two values remain.
func stdTail(vals []float64, w int) float64 {
	if len(vals) < w {
		w = len(vals)
	}
	tail := vals[len(vals)-w:]
	if len(tail) < 2 {
		return 0
	}
	return stat.StdDev(tail, nil)
}

// oscillatorAt computes the RSI-style oscillator over the trailing period.
// Requires i >= period. A flat window has no gains or losses and yields the
// neutral value 50.
func oscillatorAt(prices []float64, period, i int) float64 {
	var gain, loss float64
	for k := i - period + 1; k <= i; k++ {
		d := prices[k] - prices[k-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if gain == 0 && loss == 0 {
		return 50
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	rs := avgGain / (avgLoss + 1e-8)
	return 100 - 100/(1+rs)
}

// bandPosition locates price within mean ± width·std, clipped to [0,1]. A
// degenerate band (zero deviation) yields the midpoint 0.5.
func bandPosition(price, ma, std, width float64) float64 {
	span := 2 * width * std
	if span <= 0 {
		return 0.5
	}
	lower := ma - width*std
	return clamp((price-lower)/span, 0, 1)
}

func hourSin(o Observation) float64 {
	h := float64(o.Ts.UTC().Hour())
	return math.Sin(2 * math.Pi * h / 24)
}

func hourCos(o Observation) float64 {
	h := float64(o.Ts.UTC().Hour())
	return math.Cos(2 * math.Pi * h / 24)
}

func dowSin(o Observation) float64 {
	d := float64(o.Ts.UTC().Weekday())
	return math.Sin(2 * math.Pi * d / 7)
}

func dowCos(o Observation) float64 {
	d := float64(o.Ts.UTC().Weekday())
	return math.Cos(2 * math.Pi * d / 7)
}
