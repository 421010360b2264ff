package main

import (
	"context"
	"flag"
	"os"

	"stackcast/internal/cfg"
	"stackcast/internal/ensemble"
	"stackcast/internal/eval"
	"stackcast/internal/features"
	"stackcast/internal/feed"
	"stackcast/internal/synthetic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Parse command line arguments
	var (
		dataPath   = flag.String("data", "", "CSV file with observations (ts, price, volume, pillar score columns)")
		syntheticN = flag.Int("synthetic", 500, "Synthetic series length used when no -data is given")
		seed       = flag.Int64("seed", 7, "Synthetic series seed")
		drift      = flag.Float64("drift", 0.0002, "Synthetic fractional price drift per step")
		asset      = flag.String("asset", "SOLUSD", "Asset tag for the report")
		fraction   = flag.Float64("fraction", 0.2, "Held-out tail share")
		overrides  = flag.String("overrides", "", "Comma-separated hyperparameter overrides, e.g. boost_rounds=80,label_threshold=0.004")
		jsonPath   = flag.String("json", "", "Write the JSON report to this file")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	// Setup logging
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	obs, source := loadObservations(*dataPath, *syntheticN, *seed, *drift)
	log.Info().
		Int("observations", len(obs)).
		Str("source", source).
		Msg("starting walk-forward evaluation")

	res, err := eval.Run(context.Background(), obs, ensemble.DefaultParams(), eval.Options{
		Asset:        *asset,
		EvalFraction: *fraction,
		Overrides:    cfg.ParseOverrides(*overrides),
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("evaluation failed")
	}

	res.WriteText(os.Stdout)

	if *jsonPath != "" {
		data, err := res.JSON()
		if err != nil {
			log.Fatal().Err(err).Msg("report encoding failed")
		}
		if err := os.WriteFile(*jsonPath, data, 0o644); err != nil {
			log.Fatal().Err(err).Msg("report write failed")
		}
		log.Info().Str("path", *jsonPath).Msg("JSON report written")
	}
}

// loadObservations reads the CSV file when one is given, otherwise it
// generates a deterministic synthetic series.
func loadObservations(dataPath string, n int, seed int64, drift float64) ([]features.Observation, string) {
	if dataPath != "" {
		obs, err := feed.LoadCSV(dataPath)
		if err != nil {
			log.Fatal().Err(err).Msg("data load failed")
		}
		return obs, dataPath
	}

	p := synthetic.DefaultParams()
	p.N = n
	p.Seed = seed
	p.Drift = drift
	return synthetic.Generate(p), "synthetic"
}
