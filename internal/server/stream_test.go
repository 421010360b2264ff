package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stackcast/internal/ensemble"
	"stackcast/internal/metrics"
	"stackcast/internal/synthetic"
)

func dialStream(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) StreamResponse {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame StreamResponse
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestStreamPredict(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	conn := dialStream(t, s)

	require.NoError(t, conn.WriteJSON(validPredictRequest()))
	frame := readFrame(t, conn)
	assert.Empty(t, frame.Error)
	require.NotNil(t, frame.PredictionResponse)
	assert.Equal(t, "req-1", frame.RequestID)
	require.NotNil(t, frame.Prediction)
	assert.GreaterOrEqual(t, frame.Confidence, 1.0/3.0)

	// ids are generated when the caller omits them
	req := validPredictRequest()
	req.RequestID = ""
	require.NoError(t, conn.WriteJSON(req))
	frame = readFrame(t, conn)
	assert.NotEmpty(t, frame.RequestID)
}

func TestStreamErrorFrameKeepsConnection(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	conn := dialStream(t, s)

	bad := validPredictRequest()
	bad.PriceHistory = []float64{150, -3}
	require.NoError(t, conn.WriteJSON(bad))
	frame := readFrame(t, conn)
	assert.Contains(t, frame.Error, "prediction failed")

	require.NoError(t, conn.WriteJSON(validPredictRequest()))
	frame = readFrame(t, conn)
	assert.Empty(t, frame.Error)
	require.NotNil(t, frame.Prediction)
}

func TestStreamMalformedFrame(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	conn := dialStream(t, s)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{{{")))
	frame := readFrame(t, conn)
	assert.Contains(t, frame.Error, "malformed frame")

	require.NoError(t, conn.WriteJSON(validPredictRequest()))
	frame = readFrame(t, conn)
	assert.Empty(t, frame.Error)
}

func TestStreamUntrainedEngine(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	conn := dialStream(t, s)

	require.NoError(t, conn.WriteJSON(validPredictRequest()))
	frame := readFrame(t, conn)
	assert.Contains(t, frame.Error, ensemble.ErrNotTrained.Error())
}

func TestStreamClientGauge(t *testing.T) {
	eng, err := ensemble.New(ensemble.DefaultParams(), zerolog.Nop(), nil)
	require.NoError(t, err)
	_, err = eng.Train(context.Background(), synthetic.Series(300, 7), nil)
	require.NoError(t, err)

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	s := New(Config{Asset: "SOLUSD"}, eng, nil, m, zerolog.Nop())

	conn := dialStream(t, s)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.StreamClients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.StreamClients) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
