package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackcast/internal/ensemble"
	"stackcast/internal/features"
)

const testAsset = "SOLUSD"

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func obsAt(ts time.Time, price float64) features.Observation {
	return features.Observation{
		Ts: ts, Price: price, Volume: 2e7,
		Tech: 35, Social: 32, Fund: 35, Astro: 55,
	}
}

func TestObservationRoundTrip(t *testing.T) {
	s := newTestStore(t)

	var batch []features.Observation
	for i := 0; i < 10; i++ {
		batch = append(batch, obsAt(testBase.Add(time.Duration(i)*time.Hour), 150+float64(i)))
	}
	require.NoError(t, s.AppendObservations(testAsset, batch))

	got, err := s.Observations(testAsset, testBase.Add(2*time.Hour), testBase.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 4, "range bounds are inclusive")
	assert.Equal(t, 152.0, got[0].Price)
	assert.Equal(t, 155.0, got[3].Price)

	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Ts.After(got[i-1].Ts), "results must stay in timestamp order")
	}
}

func TestRecentObservations(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 8; i++ {
		require.NoError(t, s.AppendObservation(testAsset, obsAt(testBase.Add(time.Duration(i)*time.Hour), 150+float64(i))))
	}

	got, err := s.RecentObservations(testAsset, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 155.0, got[0].Price, "oldest of the last three")
	assert.Equal(t, 157.0, got[2].Price, "newest last")

	all, err := s.RecentObservations(testAsset, 100)
	require.NoError(t, err)
	assert.Len(t, all, 8)

	none, err := s.RecentObservations(testAsset, 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestAssetIsolation(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AppendObservation("SOLUSD", obsAt(testBase, 150)))
	require.NoError(t, s.AppendObservation("ETHUSD", obsAt(testBase, 2500)))

	got, err := s.RecentObservations("SOLUSD", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 150.0, got[0].Price)
}

func TestPruneObservations(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendObservation(testAsset, obsAt(testBase.Add(time.Duration(i)*time.Hour), 150)))
	}

	removed, err := s.PruneObservations(testAsset, testBase.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	remaining, err := s.RecentObservations(testAsset, 100)
	require.NoError(t, err)
	assert.Len(t, remaining, 6)
	assert.WithinDuration(t, testBase.Add(4*time.Hour), remaining[0].Ts, 0)
}

func predictionAt(ts time.Time, label features.Label) *ensemble.Prediction {
	return &ensemble.Prediction{
		Label:       label,
		Confidence:  0.7,
		Score:       0.3,
		GeneratedAt: ts,
	}
}

func TestRecordPrediction(t *testing.T) {
	s := newTestStore(t)

	inputs := map[string]float64{"price": 150, "tech_score": 80}
	e, err := s.RecordPrediction(testAsset, 150.0, inputs, predictionAt(testBase, features.Bullish))
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, testAsset, e.Asset)
	assert.Equal(t, features.Bullish, e.Label)
	assert.NotEmpty(t, e.InputsDigest)
	assert.False(t, e.Resolved)

	st, err := s.Stats(testAsset)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Predictions)
	assert.Equal(t, 0, st.Resolved)
}

func TestDigestInputs(t *testing.T) {
	a := map[string]float64{"price": 150, "tech_score": 80}
	b := map[string]float64{"tech_score": 80, "price": 150}
	assert.Equal(t, digestInputs(a), digestInputs(b), "digest must not depend on map iteration order")
	assert.NotEqual(t, digestInputs(a), digestInputs(map[string]float64{"price": 151, "tech_score": 80}))
	assert.Empty(t, digestInputs(nil))
}

func TestResolveOutcomesGrading(t *testing.T) {
	s := newTestStore(t)
	horizon := time.Hour
	threshold := 0.005

	// realized prices: +2% after the first prediction, -2% after the second
	require.NoError(t, s.AppendObservation(testAsset, obsAt(testBase.Add(horizon), 153.0)))
	require.NoError(t, s.AppendObservation(testAsset, obsAt(testBase.Add(2*time.Hour+horizon), 147.0)))

	_, err := s.RecordPrediction(testAsset, 150.0, nil, predictionAt(testBase, features.Bullish))
	require.NoError(t, err)
	_, err = s.RecordPrediction(testAsset, 150.0, nil, predictionAt(testBase.Add(2*time.Hour), features.Bullish))
	require.NoError(t, err)

	now := testBase.Add(6 * time.Hour)
	stats, err := s.ResolveOutcomes(testAsset, horizon, threshold, now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Resolved)
	assert.Equal(t, 1, stats.Correct, "only the first call went the predicted way")
	assert.Equal(t, 0, stats.Pending)

	st, err := s.Stats(testAsset)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Resolved)
	assert.Equal(t, 1, st.Correct)
	assert.InDelta(t, 0.5, st.Accuracy, 1e-12)

	// a second pass must find nothing left to grade
	again, err := s.ResolveOutcomes(testAsset, horizon, threshold, now)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Resolved)
	assert.Equal(t, 0, again.Pending)
}

func TestResolveOutcomesPending(t *testing.T) {
	s := newTestStore(t)
	horizon := time.Hour

	_, err := s.RecordPrediction(testAsset, 150.0, nil, predictionAt(testBase, features.Neutral))
	require.NoError(t, err)

	// horizon not elapsed yet
	stats, err := s.ResolveOutcomes(testAsset, horizon, 0.005, testBase.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Resolved)
	assert.Equal(t, 1, stats.Pending)

	// elapsed, but no realized observation recorded yet
	stats, err = s.ResolveOutcomes(testAsset, horizon, 0.005, testBase.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Resolved)
	assert.Equal(t, 1, stats.Pending)

	// once the realized price lands, a flat move grades NEUTRAL as correct
	require.NoError(t, s.AppendObservation(testAsset, obsAt(testBase.Add(horizon), 150.2)))
	stats, err = s.ResolveOutcomes(testAsset, horizon, 0.005, testBase.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Correct)
}

func TestResolveUsesFirstObservationPastHorizon(t *testing.T) {
	s := newTestStore(t)
	horizon := time.Hour

	// a later observation exists too; grading must use the first one at or
	// after the due time
	require.NoError(t, s.AppendObservation(testAsset, obsAt(testBase.Add(90*time.Minute), 155.0)))
	require.NoError(t, s.AppendObservation(testAsset, obsAt(testBase.Add(5*time.Hour), 120.0)))

	_, err := s.RecordPrediction(testAsset, 150.0, nil, predictionAt(testBase, features.Bullish))
	require.NoError(t, err)

	stats, err := s.ResolveOutcomes(testAsset, horizon, 0.005, testBase.Add(6*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Correct, "graded against 155, not the later 120")
}

func TestStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	st, err := s.Stats(testAsset)
	require.NoError(t, err)
	assert.Zero(t, st.Observations)
	assert.Zero(t, st.Predictions)
	assert.Zero(t, st.Accuracy)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.AppendObservation(testAsset, obsAt(testBase, 150)))
	require.NoError(t, s.Close())

	s2, err := New(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.RecentObservations(testAsset, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 150.0, got[0].Price)
}

func BenchmarkAppendObservation(b *testing.B) {
	s, err := New(b.TempDir())
	if err != nil {
		b.Fatalf("open store: %v", err)
	}
	defer s.Close()

	// pre-build the batch so the loop measures storage only
	obs := make([]features.Observation, b.N)
	for i := 0; i < b.N; i++ {
		obs[i] = obsAt(testBase.Add(time.Duration(i)*time.Nanosecond), 150)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.AppendObservation(testAsset, obs[i]); err != nil {
			b.Fatal(err)
		}
	}
}
