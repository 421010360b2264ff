// Package cfg loads runtime settings for the stackcast daemon from a YAML
// file, the environment, or both. Environment variables always win over file
// values; a .env file is honored when present.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"stackcast/internal/common"
)

// Settings is the resolved daemon configuration.
type Settings struct {
	Asset      string
	ListenAddr string
	LogLevel   string

	DataPath     string // bbolt journal directory, empty disables persistence
	SnapshotPath string // model snapshot file, empty disables load/save

	FeedURL       string // telemetry endpoint, empty disables intake
	FeedAPIKey    string
	FeedInterval  time.Duration
	FeedTimeout   time.Duration
	FeedRateLimit float64

	TrainInterval   time.Duration // periodic retraining, zero disables
	ResolveInterval time.Duration // outcome grading cadence
	OutcomeHorizon  time.Duration // how far ahead a prediction is graded

	Model map[string]any // flat hyperparameter overrides handed to every training run
}

// ConfigFile is the YAML layout.
type ConfigFile struct {
	Asset string `yaml:"asset"`

	Server struct {
		ListenAddr string `yaml:"listenAddr"`
	} `yaml:"server"`

	Feed struct {
		URL       string  `yaml:"url"`
		APIKey    string  `yaml:"apiKey"`
		Interval  string  `yaml:"interval"`
		Timeout   string  `yaml:"timeout"`
		RateLimit float64 `yaml:"rateLimit"`
	} `yaml:"feed"`

	Journal struct {
		DataPath        string `yaml:"dataPath"`
		ResolveInterval string `yaml:"resolveInterval"`
		OutcomeHorizon  string `yaml:"outcomeHorizon"`
	} `yaml:"journal"`

	Model struct {
		SnapshotPath  string         `yaml:"snapshotPath"`
		TrainInterval string         `yaml:"trainInterval"`
		Params        map[string]any `yaml:"params"`
	} `yaml:"model"`

	System struct {
		LogLevel string `yaml:"logLevel"`
	} `yaml:"system"`
}

// Load resolves settings. With CONFIG_FILE set the named YAML file provides
// the base values and the environment overrides individual fields; otherwise
// everything comes from the environment with built-in defaults.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on actual environment")
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		Asset:           getEnvOrDefault(common.EnvAsset, orDefault(config.Asset, common.DefaultAsset)),
		ListenAddr:      getEnvOrDefault(common.EnvListenAddr, orDefault(config.Server.ListenAddr, common.DefaultListenAddr)),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, orDefault(config.System.LogLevel, common.DefaultLogLevel)),
		DataPath:        getEnvOrDefault(common.EnvDataPath, config.Journal.DataPath),
		SnapshotPath:    getEnvOrDefault(common.EnvSnapshotPath, config.Model.SnapshotPath),
		FeedURL:         getEnvOrDefault(common.EnvFeedURL, config.Feed.URL),
		FeedAPIKey:      getEnvOrDefault(common.EnvFeedAPIKey, config.Feed.APIKey),
		FeedInterval:    getDurationOrDefault(common.EnvFeedInterval, parseDurationOr(config.Feed.Interval, common.DefaultFeedInterval)),
		FeedTimeout:     getDurationOrDefault(common.EnvFeedTimeout, parseDurationOr(config.Feed.Timeout, common.DefaultFeedTimeout)),
		FeedRateLimit:   getFloatOrDefault(common.EnvFeedRateLimit, floatOrDefault(config.Feed.RateLimit, common.DefaultFeedRateLimit)),
		TrainInterval:   getDurationOrDefault(common.EnvTrainInterval, parseDurationOr(config.Model.TrainInterval, 0)),
		ResolveInterval: getDurationOrDefault(common.EnvResolveInterval, parseDurationOr(config.Journal.ResolveInterval, common.DefaultResolveInterval)),
		OutcomeHorizon:  getDurationOrDefault(common.EnvOutcomeHorizon, parseDurationOr(config.Journal.OutcomeHorizon, common.DefaultOutcomeHorizon)),
		Model:           mergeModelParams(config.Model.Params, ParseOverrides(os.Getenv(common.EnvModelParams))),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Asset:           getEnvOrDefault(common.EnvAsset, common.DefaultAsset),
		ListenAddr:      getEnvOrDefault(common.EnvListenAddr, common.DefaultListenAddr),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		DataPath:        os.Getenv(common.EnvDataPath), // optional
		SnapshotPath:    os.Getenv(common.EnvSnapshotPath),
		FeedURL:         os.Getenv(common.EnvFeedURL),
		FeedAPIKey:      os.Getenv(common.EnvFeedAPIKey),
		FeedInterval:    getDurationOrDefault(common.EnvFeedInterval, common.DefaultFeedInterval),
		FeedTimeout:     getDurationOrDefault(common.EnvFeedTimeout, common.DefaultFeedTimeout),
		FeedRateLimit:   getFloatOrDefault(common.EnvFeedRateLimit, common.DefaultFeedRateLimit),
		TrainInterval:   getDurationOrDefault(common.EnvTrainInterval, 0),
		ResolveInterval: getDurationOrDefault(common.EnvResolveInterval, common.DefaultResolveInterval),
		OutcomeHorizon:  getDurationOrDefault(common.EnvOutcomeHorizon, common.DefaultOutcomeHorizon),
		Model:           ParseOverrides(os.Getenv(common.EnvModelParams)),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// validateSettings performs comprehensive validation of configuration values.
func validateSettings(settings *Settings) error {
	if settings.Asset == "" {
		return fmt.Errorf(common.ErrMsgAssetRequired)
	}
	if settings.ListenAddr == "" {
		return fmt.Errorf(common.ErrMsgListenAddrRequired)
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("unknown log level %q", settings.LogLevel)
	}

	if settings.FeedURL != "" {
		if settings.FeedInterval < common.MinFeedInterval || settings.FeedInterval > common.MaxFeedInterval {
			return fmt.Errorf("feed interval must be between %v and %v, got %v", common.MinFeedInterval, common.MaxFeedInterval, settings.FeedInterval)
		}
		if settings.FeedTimeout < common.MinFeedTimeout || settings.FeedTimeout > common.MaxFeedTimeout {
			return fmt.Errorf("feed timeout must be between %v and %v, got %v", common.MinFeedTimeout, common.MaxFeedTimeout, settings.FeedTimeout)
		}
		if settings.FeedRateLimit <= 0 || settings.FeedRateLimit > common.MaxFeedRateLimit {
			return fmt.Errorf("feed rate limit must be between 0 and %v requests/sec, got %f", common.MaxFeedRateLimit, settings.FeedRateLimit)
		}
	}

	if settings.TrainInterval != 0 && settings.TrainInterval < common.MinTrainInterval {
		return fmt.Errorf("train interval must be zero or at least %v, got %v", common.MinTrainInterval, settings.TrainInterval)
	}
	if settings.ResolveInterval < common.MinResolveInterval || settings.ResolveInterval > common.MaxResolveInterval {
		return fmt.Errorf("resolve interval must be between %v and %v, got %v", common.MinResolveInterval, common.MaxResolveInterval, settings.ResolveInterval)
	}
	if settings.OutcomeHorizon < common.MinOutcomeHorizon || settings.OutcomeHorizon > common.MaxOutcomeHorizon {
		return fmt.Errorf("outcome horizon must be between %v and %v, got %v", common.MinOutcomeHorizon, common.MaxOutcomeHorizon, settings.OutcomeHorizon)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// ParseOverrides turns a "key=value,key=value" string into a typed
// hyperparameter override map. Values become int, float64 or bool when they
// parse as one and stay strings otherwise. Malformed pairs are logged and
// skipped. cmd/evaluate parses its -overrides flag with the same function.
func ParseOverrides(s string) map[string]any {
	if s == "" {
		return nil
	}
	out := make(map[string]any)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			log.Warn().Str("pair", pair).Msg("skipping malformed model param override")
			continue
		}
		key, raw := kv[0], kv[1]
		if n, err := strconv.Atoi(raw); err == nil {
			out[key] = n
		} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
			out[key] = f
		} else if b, err := strconv.ParseBool(raw); err == nil {
			out[key] = b
		} else {
			out[key] = raw
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// mergeModelParams overlays env-provided model params on the file-provided
// map, env winning per key.
func mergeModelParams(file, env map[string]any) map[string]any {
	if len(env) == 0 {
		return file
	}
	if len(file) == 0 {
		return env
	}
	out := make(map[string]any, len(file)+len(env))
	for k, v := range file {
		out[k] = v
	}
	for k, v := range env {
		out[k] = v
	}
	return out
}

func parseDurationOr(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func floatOrDefault(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}
