package ensemble

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackcast/internal/synthetic"
)

func snapshotInputs() []map[string]float64 {
	return []map[string]float64{
		{"price": 150.0, "tech_score": 80},
		{"price": 148.2, "volume": 1.8e7, "social_score": 25},
		{"price": 152.9, "fund_score": 70, "astro_score": 61},
		{"price_rsi_14": 72, "price": 151.1},
	}
}

func TestSnapshotRoundTripIdenticalPredictions(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Train(context.Background(), synthetic.Series(300, 42), nil)
	require.NoError(t, err)

	data, err := eng.Snapshot()
	require.NoError(t, err)

	restored := newTestEngine(t)
	require.NoError(t, restored.RestoreSnapshot(data))

	history := []float64{147, 148, 149, 150, 151}
	for _, input := range snapshotInputs() {
		a, err := eng.Predict(input, history)
		require.NoError(t, err)
		b, err := restored.Predict(input, history)
		require.NoError(t, err)

		assert.Equal(t, a.Label, b.Label)
		assert.Equal(t, a.Confidence, b.Confidence)
		assert.Equal(t, a.Score, b.Score)
		assert.Equal(t, a.Probabilities, b.Probabilities)
		assert.Equal(t, a.Defaulted, b.Defaulted)
	}

	st := restored.Status()
	assert.True(t, st.Trained)
	assert.Len(t, st.Learners, 3)
}

func TestSnapshotPreservesDegradedSlots(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Train(context.Background(), synthetic.Series(300, 42),
		map[string]any{"net_batch_size": 100000})
	require.NoError(t, err)

	data, err := eng.Snapshot()
	require.NoError(t, err)

	restored := newTestEngine(t)
	require.NoError(t, restored.RestoreSnapshot(data))

	statuses := restored.Model().Learners()
	require.Len(t, statuses, 3)
	assert.Equal(t, LearnerDegraded, statuses[1].Status)
	assert.NotEmpty(t, statuses[1].Reason)

	p, err := restored.Predict(map[string]float64{"price": 150}, nil)
	require.NoError(t, err)
	assert.True(t, validProbs(p.Probabilities["feed_forward"]))
}

func TestSnapshotVersionGuard(t *testing.T) {
	data := trainedSnapshot(t)

	tampered := tamper(t, data, func(m map[string]any) {
		m["version"] = 99
	})
	_, err := DecodeSnapshot(tampered)
	require.ErrorContains(t, err, "unsupported version")
}

func TestSnapshotClassOrderGuard(t *testing.T) {
	data := trainedSnapshot(t)

	tampered := tamper(t, data, func(m map[string]any) {
		m["classes"] = []string{"BULLISH", "NEUTRAL", "BEARISH"}
	})
	_, err := DecodeSnapshot(tampered)
	require.ErrorContains(t, err, "class order mismatch")
}

func TestSnapshotScalerWidthGuard(t *testing.T) {
	data := trainedSnapshot(t)

	tampered := tamper(t, data, func(m map[string]any) {
		scaler := m["scaler"].(map[string]any)
		scaler["means"] = []float64{1, 2}
		scaler["stds"] = []float64{1, 1}
	})
	_, err := DecodeSnapshot(tampered)
	require.ErrorContains(t, err, "schema mismatch")
}

func TestSnapshotGarbageInput(t *testing.T) {
	_, err := DecodeSnapshot([]byte("not json at all"))
	require.Error(t, err)

	_, err = DecodeSnapshot([]byte(`{"version": 1}`))
	require.Error(t, err)
}

func TestRestoreRefusesDuringTraining(t *testing.T) {
	data := trainedSnapshot(t)

	eng := newTestEngine(t)
	eng.training.Store(true)
	require.ErrorIs(t, eng.RestoreSnapshot(data), ErrTrainingInProgress)

	eng.training.Store(false)
	require.NoError(t, eng.RestoreSnapshot(data))
}

func trainedSnapshot(t *testing.T) []byte {
	t.Helper()
	eng := newTestEngine(t)
	_, err := eng.Train(context.Background(), synthetic.Series(300, 42), nil)
	require.NoError(t, err)
	data, err := eng.Snapshot()
	require.NoError(t, err)
	return data
}

func tamper(t *testing.T, data []byte, mutate func(map[string]any)) []byte {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	mutate(m)
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return out
}
