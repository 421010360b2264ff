package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackcast/internal/ensemble"
	"stackcast/internal/journal"
	"stackcast/internal/metrics"
	"stackcast/internal/synthetic"
)

func newTestServer(t *testing.T, trained bool) (*Server, *ensemble.Engine, *journal.Store) {
	t.Helper()

	eng, err := ensemble.New(ensemble.DefaultParams(), zerolog.Nop(), nil)
	require.NoError(t, err)
	if trained {
		_, err = eng.Train(context.Background(), synthetic.Series(300, 7), nil)
		require.NoError(t, err)
	}

	store, err := journal.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	return New(Config{Addr: ":0", Asset: "SOLUSD"}, eng, store, m, zerolog.Nop()), eng, store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func validPredictRequest() PredictionRequest {
	return PredictionRequest{
		RequestID: "req-1",
		Features: map[string]float64{
			"price":        150,
			"volume":       2e7,
			"tech_score":   35,
			"social_score": 32,
			"fund_score":   35,
			"astro_score":  55,
		},
		PriceHistory: []float64{148.2, 148.9, 149.4, 149.1, 150.0},
	}
}

func TestPredictEndpoint(t *testing.T) {
	s, _, store := newTestServer(t, true)

	w := doJSON(t, s.Handler(), http.MethodPost, "/predict", validPredictRequest())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	require.NotNil(t, resp.Prediction)
	assert.Contains(t, []string{"BEARISH", "NEUTRAL", "BULLISH"}, resp.Label.String())
	assert.GreaterOrEqual(t, resp.Confidence, 1.0/3.0)
	assert.GreaterOrEqual(t, resp.LatencyMS, 0.0)
	assert.False(t, resp.ModelTrainedAt.IsZero())

	// journaling happens off-path
	require.Eventually(t, func() bool {
		st, err := store.Stats("SOLUSD")
		return err == nil && st.Predictions == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPredictGeneratesRequestID(t *testing.T) {
	s, _, _ := newTestServer(t, true)

	req := validPredictRequest()
	req.RequestID = ""
	w := doJSON(t, s.Handler(), http.MethodPost, "/predict", req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp PredictionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RequestID)
}

func TestPredictErrors(t *testing.T) {
	t.Run("not trained", func(t *testing.T) {
		s, _, _ := newTestServer(t, false)
		w := doJSON(t, s.Handler(), http.MethodPost, "/predict", validPredictRequest())
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		s, _, _ := newTestServer(t, true)
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString("{nope"))
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid history", func(t *testing.T) {
		s, _, _ := newTestServer(t, true)
		req := validPredictRequest()
		req.PriceHistory = []float64{150, -3}
		w := doJSON(t, s.Handler(), http.MethodPost, "/predict", req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		s, _, _ := newTestServer(t, false)
		w := doJSON(t, s.Handler(), http.MethodGet, "/predict", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestTrainEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, false)

	w := doJSON(t, s.Handler(), http.MethodPost, "/train", TrainRequest{
		Observations: synthetic.Series(300, 7),
		Overrides:    map[string]any{"seed": 99},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report ensemble.TrainReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 300, report.Samples)
	assert.Positive(t, report.Columns)

	w = doJSON(t, s.Handler(), http.MethodPost, "/predict", validPredictRequest())
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTrainValidation(t *testing.T) {
	s, _, _ := newTestServer(t, false)

	t.Run("bad override", func(t *testing.T) {
		w := doJSON(t, s.Handler(), http.MethodPost, "/train", TrainRequest{
			Observations: synthetic.Series(300, 7),
			Overrides:    map[string]any{"test_fraction": 0.9},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("insufficient data", func(t *testing.T) {
		w := doJSON(t, s.Handler(), http.MethodPost, "/train", TrainRequest{
			Observations: synthetic.Series(10, 7),
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		w := doJSON(t, s.Handler(), http.MethodGet, "/train", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestTrainFromJournal(t *testing.T) {
	s, _, store := newTestServer(t, false)
	require.NoError(t, store.AppendObservations("SOLUSD", synthetic.Series(300, 7)))

	w := doJSON(t, s.Handler(), http.MethodPost, "/train", TrainRequest{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report ensemble.TrainReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 300, report.Samples)
}

func TestTrainConflict(t *testing.T) {
	s, eng, _ := newTestServer(t, false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = eng.Train(context.Background(), synthetic.Series(2000, 3), nil)
	}()
	t.Cleanup(wg.Wait)

	require.Eventually(t, func() bool { return eng.Status().Training }, 5*time.Second, time.Millisecond)

	w := doJSON(t, s.Handler(), http.MethodPost, "/train", TrainRequest{
		Observations: synthetic.Series(300, 7),
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, _, store := newTestServer(t, true)
	require.NoError(t, store.AppendObservations("SOLUSD", synthetic.Series(5, 7)))

	w := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["trained"])
	assert.Equal(t, false, health["training"])
	assert.Contains(t, health, "journal")
}

func TestModelInfoEndpoint(t *testing.T) {
	t.Run("trained", func(t *testing.T) {
		s, eng, _ := newTestServer(t, true)
		w := doJSON(t, s.Handler(), http.MethodGet, "/model/info", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var info struct {
			Trained  bool                     `json:"trained"`
			Learners []ensemble.LearnerStatus `json:"learners"`
			Params   *ensemble.Params         `json:"params"`
			Columns  []string                 `json:"columns"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
		assert.True(t, info.Trained)
		assert.Len(t, info.Learners, 3)
		require.NotNil(t, info.Params)
		assert.Equal(t, eng.Params().Seed, info.Params.Seed)
		assert.Len(t, info.Columns, eng.Model().Schema().Len())
	})

	t.Run("untrained", func(t *testing.T) {
		s, _, _ := newTestServer(t, false)
		w := doJSON(t, s.Handler(), http.MethodGet, "/model/info", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var info map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
		assert.Equal(t, false, info["trained"])
		assert.NotContains(t, info, "params")
	})
}

func TestImportanceEndpoint(t *testing.T) {
	t.Run("trained", func(t *testing.T) {
		s, eng, _ := newTestServer(t, true)
		w := doJSON(t, s.Handler(), http.MethodGet, "/model/importance", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var importance map[string]float64
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &importance))
		assert.Len(t, importance, eng.Model().Schema().Len())
	})

	t.Run("untrained", func(t *testing.T) {
		s, _, _ := newTestServer(t, false)
		w := doJSON(t, s.Handler(), http.MethodGet, "/model/importance", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	w := doJSON(t, s.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.String())
}
