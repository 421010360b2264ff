// Package server exposes the stacking engine over HTTP: prediction and
// training endpoints, model introspection, Prometheus metrics and a WebSocket
// prediction stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"stackcast/internal/ensemble"
	"stackcast/internal/features"
	"stackcast/internal/journal"
	"stackcast/internal/metrics"
)

// Config shapes the serving surface.
type Config struct {
	Addr  string
	Asset string // tag recorded with journaled predictions
}

// Server routes requests to one engine instance. The journal and metrics
// collaborators are optional; a nil journal disables prediction recording.
type Server struct {
	cfg      Config
	engine   *ensemble.Engine
	journal  *journal.Store
	metrics  *metrics.Metrics
	log      zerolog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// New wires the route table. The /metrics endpoint serves the default
// Prometheus registry.
func New(cfg Config, eng *ensemble.Engine, store *journal.Store, m *metrics.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		journal:  store,
		metrics:  m,
		log:      log.With().Str("component", "server").Logger(),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/train", s.handleTrain)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/model/info", s.handleModelInfo)
	mux.HandleFunc("/model/importance", s.handleImportance)
	mux.HandleFunc("/stream", s.handleStream)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second, // /train runs synchronously
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting API server")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// PredictionRequest is the body of POST /predict and of stream frames.
type PredictionRequest struct {
	RequestID    string             `json:"request_id,omitempty"`
	Features     map[string]float64 `json:"features"`
	PriceHistory []float64          `json:"price_history,omitempty"`
}

// PredictionResponse wraps the engine's prediction with request bookkeeping.
type PredictionResponse struct {
	RequestID string `json:"request_id"`
	*ensemble.Prediction
	LatencyMS      float64   `json:"latency_ms"`
	ModelTrainedAt time.Time `json:"model_trained_at"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	resp, status, err := s.predict(&req)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// predict serves both the HTTP handler and the stream. It never touches the
// request body.
func (s *Server) predict(req *PredictionRequest) (*PredictionResponse, int, error) {
	start := time.Now()

	pred, err := s.engine.Predict(req.Features, req.PriceHistory)
	if err != nil {
		return nil, predictStatus(err), fmt.Errorf("prediction failed: %w", err)
	}

	resp := &PredictionResponse{
		RequestID:  req.RequestID,
		Prediction: pred,
		LatencyMS:  float64(time.Since(start).Microseconds()) / 1000.0,
	}
	if resp.RequestID == "" {
		resp.RequestID = uuid.NewString()
	}
	if model := s.engine.Model(); model != nil {
		resp.ModelTrainedAt = model.Report().TrainedAt
	}

	// journaling stays off the hot path
	if s.journal != nil {
		go s.recordPrediction(req, pred)
	}
	return resp, http.StatusOK, nil
}

func predictStatus(err error) int {
	var invalid *features.InvalidFeatureValueError
	var mismatch *features.SchemaMismatchError
	switch {
	case errors.Is(err, ensemble.ErrNotTrained):
		return http.StatusServiceUnavailable
	case errors.As(err, &invalid), errors.As(err, &mismatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) recordPrediction(req *PredictionRequest, pred *ensemble.Prediction) {
	base := req.Features["price"]
	if base <= 0 && len(req.PriceHistory) > 0 {
		base = req.PriceHistory[len(req.PriceHistory)-1]
	}
	if base <= 0 {
		return // nothing to grade against later
	}
	if _, err := s.journal.RecordPrediction(s.cfg.Asset, base, req.Features, pred); err != nil {
		s.log.Warn().Err(err).Msg("prediction journaling failed")
	}
}

// TrainRequest is the body of POST /train. With no inline observations the
// server trains on the journal's stored series.
type TrainRequest struct {
	Observations []features.Observation `json:"observations,omitempty"`
	Overrides    map[string]any         `json:"overrides,omitempty"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if len(req.Overrides) > 0 {
		params := s.engine.Params().ApplyOverrides(req.Overrides, s.log)
		if err := params.Validate(); err != nil {
			http.Error(w, fmt.Sprintf("invalid overrides: %v", err), http.StatusBadRequest)
			return
		}
	}

	obs := req.Observations
	if len(obs) == 0 {
		if s.journal == nil {
			http.Error(w, "no observations supplied and no journal configured", http.StatusBadRequest)
			return
		}
		var err error
		obs, err = s.journal.Observations(s.cfg.Asset, time.Unix(0, 0), time.Now())
		if err != nil {
			http.Error(w, fmt.Sprintf("loading journal: %v", err), http.StatusInternalServerError)
			return
		}
	}

	report, err := s.engine.Train(r.Context(), obs, req.Overrides)
	if err != nil {
		var insufficient *features.InsufficientDataError
		switch {
		case errors.Is(err, ensemble.ErrTrainingInProgress):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.As(err, &insufficient):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, fmt.Sprintf("training failed: %v", err), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	health := map[string]any{
		"status":   "ok",
		"trained":  st.Trained,
		"training": st.Training,
	}
	if s.journal != nil {
		if js, err := s.journal.Stats(s.cfg.Asset); err == nil {
			health["journal"] = js
		}
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	info := map[string]any{
		"trained":  st.Trained,
		"training": st.Training,
		"learners": st.Learners,
	}
	if st.Report != nil {
		info["last_report"] = st.Report
	}
	if model := s.engine.Model(); model != nil {
		info["params"] = model.Params()
		info["columns"] = model.Schema().Columns()
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleImportance(w http.ResponseWriter, r *http.Request) {
	importance, err := s.engine.FeatureImportance()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, importance)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
