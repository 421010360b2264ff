package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"stackcast/internal/cfg"
	"stackcast/internal/ensemble"
	"stackcast/internal/feed"
	"stackcast/internal/journal"
	"stackcast/internal/metrics"
	"stackcast/internal/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// feedBatchLimit caps the rows requested per feed poll.
const feedBatchLimit = 1000

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	m := metrics.New()
	mw := metrics.NewWrapper(m)
	store := initializeJournal(c)
	if store != nil {
		defer store.Close()
	}

	// Config-level hyperparameter overrides become the engine's base params,
	// so a bad value fails here instead of on the first training run.
	params := ensemble.DefaultParams().ApplyOverrides(c.Model, log.Logger)
	eng, err := ensemble.New(params, log.Logger, mw)
	if err != nil {
		log.Fatal().Err(err).Msg("engine initialization failed")
	}
	restoreSnapshot(c, eng)

	// Start background goroutines
	var wg sync.WaitGroup
	startFeedIntake(ctx, &wg, c, store, m)
	startTrainLoop(ctx, &wg, c, eng, store)
	startOutcomeResolver(ctx, &wg, c, eng, store, m)
	startServer(ctx, cancel, c, eng, store, m)

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, &wg)
	saveSnapshot(c, eng)
}

// setupLogging applies the configured level to the global logger.
func setupLogging(logLevel string) {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// initializeJournal opens the bbolt journal if DATA_PATH is configured
func initializeJournal(c cfg.Settings) *journal.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := journal.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("journal initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// restoreSnapshot loads a model snapshot from disk when one exists. Any
// failure leaves the engine untrained; the train loop or the /train endpoint
// produce a fresh model later.
func restoreSnapshot(c cfg.Settings, eng *ensemble.Engine) {
	if c.SnapshotPath == "" {
		return
	}
	data, err := os.ReadFile(c.SnapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", c.SnapshotPath).Msg("no model snapshot found, starting untrained")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("snapshot read failed, starting untrained")
		return
	}
	if err := eng.RestoreSnapshot(data); err != nil {
		log.Warn().Err(err).Msg("snapshot restore failed, starting untrained")
		return
	}
	report := eng.Model().Report()
	log.Info().
		Str("path", c.SnapshotPath).
		Time("trainedAt", report.TrainedAt).
		Float64("accuracy", report.CombinedAccuracy).
		Msg("model restored from snapshot")
}

// saveSnapshot persists the live model to the configured snapshot path.
func saveSnapshot(c cfg.Settings, eng *ensemble.Engine) {
	if c.SnapshotPath == "" || !eng.Status().Trained {
		return
	}
	data, err := eng.Snapshot()
	if err != nil {
		log.Error().Err(err).Msg("snapshot encode failed")
		return
	}
	if dir := filepath.Dir(c.SnapshotPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error().Err(err).Msg("snapshot directory creation failed")
			return
		}
	}
	if err := os.WriteFile(c.SnapshotPath, data, 0o644); err != nil {
		log.Error().Err(err).Msg("snapshot write failed")
		return
	}
	log.Info().Str("path", c.SnapshotPath).Msg("model snapshot saved")
}

// startFeedIntake polls the telemetry endpoint and appends new observations
// to the journal.
func startFeedIntake(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, store *journal.Store, m *metrics.Metrics) {
	if c.FeedURL == "" {
		return
	}
	if store == nil {
		log.Warn().Msg("feed intake needs a journal, set DATA_PATH to enable it")
		return
	}

	src := feed.NewHTTPSource(feed.Options{
		BaseURL:        c.FeedURL,
		APIKey:         c.FeedAPIKey,
		Timeout:        c.FeedTimeout,
		RequestsPerSec: c.FeedRateLimit,
	}, log.Logger)

	// Resume from the newest journaled observation.
	var since time.Time
	if recent, err := store.RecentObservations(c.Asset, 1); err == nil && len(recent) == 1 {
		since = recent[0].Ts.Add(time.Millisecond)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.FeedInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				obs, err := src.Fetch(ctx, c.Asset, since, feedBatchLimit)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					m.FeedErrors.Inc()
					log.Warn().Err(err).Msg("feed fetch failed")
					continue
				}
				if len(obs) == 0 {
					continue
				}
				if err := store.AppendObservations(c.Asset, obs); err != nil {
					log.Error().Err(err).Msg("journal append failed")
					continue
				}
				m.ObservationsStored.Add(float64(len(obs)))
				since = obs[len(obs)-1].Ts.Add(time.Millisecond)
				log.Debug().
					Int("rows", len(obs)).
					Time("through", obs[len(obs)-1].Ts).
					Msg("observations ingested")
			}
		}
	}()
}

// startTrainLoop retrains the model from journaled observations on the
// configured cadence. An untrained engine gets a first run immediately.
func startTrainLoop(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, eng *ensemble.Engine, store *journal.Store) {
	if c.TrainInterval == 0 {
		return
	}
	if store == nil {
		log.Warn().Msg("periodic training needs a journal, set DATA_PATH to enable it")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if !eng.Status().Trained {
			trainOnce(ctx, c, eng, store)
		}
		ticker := time.NewTicker(c.TrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				trainOnce(ctx, c, eng, store)
			}
		}
	}()
}

func trainOnce(ctx context.Context, c cfg.Settings, eng *ensemble.Engine, store *journal.Store) {
	obs, err := store.Observations(c.Asset, time.Unix(0, 0), time.Now())
	if err != nil {
		log.Error().Err(err).Msg("journal read failed, skipping training run")
		return
	}

	report, err := eng.Train(ctx, obs, nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Int("observations", len(obs)).Msg("training run skipped")
		return
	}

	log.Info().
		Int("samples", report.Samples).
		Float64("accuracy", report.CombinedAccuracy).
		Dur("elapsed", report.Elapsed).
		Msg("model retrained")
	saveSnapshot(c, eng)
}

// startOutcomeResolver grades journaled predictions against realized prices
// and refreshes the journal gauges.
func startOutcomeResolver(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, eng *ensemble.Engine, store *journal.Store, m *metrics.Metrics) {
	if store == nil {
		return
	}

	// Grading falls back to the configured threshold until a model is live.
	fallbackThreshold := eng.Params().Features.LabelThreshold

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.ResolveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				threshold := fallbackThreshold
				if model := eng.Model(); model != nil {
					threshold = model.Params().Features.LabelThreshold
					m.SetModelTrainedAt(model.Report().TrainedAt)
				}

				rs, err := store.ResolveOutcomes(c.Asset, c.OutcomeHorizon, threshold, time.Now())
				if err != nil {
					log.Error().Err(err).Msg("outcome resolution failed")
					continue
				}
				if rs.Resolved > 0 {
					m.OutcomesResolved.Add(float64(rs.Resolved))
					log.Info().
						Int("resolved", rs.Resolved).
						Int("correct", rs.Correct).
						Int("pending", rs.Pending).
						Msg("prediction outcomes graded")
				}

				st, err := store.Stats(c.Asset)
				if err != nil {
					log.Warn().Err(err).Msg("journal stats failed")
					continue
				}
				m.JournalEntries.WithLabelValues("observations").Set(float64(st.Observations))
				m.JournalEntries.WithLabelValues("predictions").Set(float64(st.Predictions))
				if st.Resolved > 0 {
					m.LiveAccuracy.Set(st.Accuracy)
				}
			}
		}
	}()
}

// startServer runs the prediction API and shuts it down when ctx ends.
func startServer(ctx context.Context, cancel context.CancelFunc, c cfg.Settings, eng *ensemble.Engine, store *journal.Store, m *metrics.Metrics) {
	srv := server.New(server.Config{Addr: c.ListenAddr, Asset: c.Asset}, eng, store, m, log.Logger)

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	go func() {
		log.Info().Str("addr", c.ListenAddr).Str("asset", c.Asset).Msg("prediction API listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("prediction API failed")
			cancel()
		}
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	// Wait for all goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
