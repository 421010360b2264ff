package ensemble

// RangeMonitor keeps the per-column envelope observed at training time and
// flags inference vectors that land far outside it. Out-of-envelope inputs
// are served anyway; the monitor only feeds logs and metrics so operators see
// when live telemetry has drifted from the training distribution.
type RangeMonitor struct {
	Columns []string  `json:"columns"`
	Min     []float64 `json:"min"`
	Max     []float64 `json:"max"`
	// Tolerance widens the envelope by a fraction of each column's span
	// before a value counts as out of range.
	Tolerance float64 `json:"tolerance"`
}

// FitRangeMonitor records the envelope of the unscaled engineered matrix.
func FitRangeMonitor(columns []string, rows [][]float64, tolerance float64) *RangeMonitor {
	m := &RangeMonitor{
		Columns:   columns,
		Min:       make([]float64, len(columns)),
		Max:       make([]float64, len(columns)),
		Tolerance: tolerance,
	}
	for j := range columns {
		lo, hi := rows[0][j], rows[0][j]
		for _, row := range rows[1:] {
			if row[j] < lo {
				lo = row[j]
			}
			if row[j] > hi {
				hi = row[j]
			}
		}
		m.Min[j] = lo
		m.Max[j] = hi
	}
	return m
}

// Check returns the names of columns outside the widened training envelope.
func (m *RangeMonitor) Check(vec []float64) []string {
	if len(vec) != len(m.Columns) {
		return nil
	}
	var out []string
	for j, v := range vec {
		span := m.Max[j] - m.Min[j]
		pad := span * m.Tolerance
		if span == 0 {
			pad = m.Tolerance * maxAbs(m.Min[j], 1)
		}
		if v < m.Min[j]-pad || v > m.Max[j]+pad {
			out = append(out, m.Columns[j])
		}
	}
	return out
}

func maxAbs(v, floor float64) float64 {
	if v < 0 {
		v = -v
	}
	if v < floor {
		return floor
	}
	return v
}
