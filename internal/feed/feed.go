// Package feed pulls asset telemetry observations from external
// collaborators: an HTTP collection endpoint or CSV exports. Sources return
// validated, chronologically ordered series ready for the feature pipeline.
package feed

import (
	"context"
	"time"

	"stackcast/internal/features"
)

// Source produces observations for one asset. Implementations must return
// series sorted by timestamp with invalid rows already dropped.
type Source interface {
	Fetch(ctx context.Context, asset string, since time.Time, limit int) ([]features.Observation, error)
}
