package features

import (
	"encoding/json"
	"fmt"
)

// Label is the direction class. The integer encoding is stable and part of
// every trained artifact: BEARISH=0, NEUTRAL=1, BULLISH=2.
type Label int

const (
	Bearish Label = 0
	Neutral Label = 1
	Bullish Label = 2

	NumLabels = 3
)

var labelNames = [NumLabels]string{"BEARISH", "NEUTRAL", "BULLISH"}

func (l Label) String() string {
	if l < 0 || int(l) >= NumLabels {
		return "UNKNOWN"
	}
	return labelNames[l]
}

// Valid reports whether l is one of the three direction classes.
func (l Label) Valid() bool { return l >= 0 && int(l) < NumLabels }

// MarshalJSON renders the class name so API payloads and journal entries
// carry "BULLISH" rather than a bare integer.
func (l Label) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Label) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLabel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLabel maps a class name back to its Label.
func ParseLabel(s string) (Label, error) {
	for i, name := range labelNames {
		if name == s {
			return Label(i), nil
		}
	}
	return Neutral, fmt.Errorf("unknown label %q", s)
}

// LabelFromChange classifies a fractional next-step change against the
// threshold band. The band is exclusive: a change of exactly ±threshold is
// NEUTRAL, only strictly larger moves are directional.
func LabelFromChange(change, threshold float64) Label {
	switch {
	case change > threshold:
		return Bullish
	case change < -threshold:
		return Bearish
	default:
		return Neutral
	}
}
