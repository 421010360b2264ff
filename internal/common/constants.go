package common

import "time"

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvAsset           = "ASSET"
	EnvListenAddr      = "LISTEN_ADDR"
	EnvLogLevel        = "LOG_LEVEL"
	EnvDataPath        = "DATA_PATH"
	EnvSnapshotPath    = "SNAPSHOT_PATH"
	EnvFeedURL         = "FEED_URL"
	EnvFeedAPIKey      = "FEED_API_KEY"
	EnvFeedInterval    = "FEED_INTERVAL"
	EnvFeedTimeout     = "FEED_TIMEOUT"
	EnvFeedRateLimit   = "FEED_RATE_LIMIT"
	EnvTrainInterval   = "TRAIN_INTERVAL"
	EnvResolveInterval = "RESOLVE_INTERVAL"
	EnvOutcomeHorizon  = "OUTCOME_HORIZON"
	EnvModelParams     = "MODEL_PARAMS"
)

// Configuration defaults
const (
	DefaultAsset           = "SOLUSD"
	DefaultListenAddr      = ":8090"
	DefaultLogLevel        = "info"
	DefaultFeedInterval    = time.Minute
	DefaultFeedTimeout     = 10 * time.Second
	DefaultFeedRateLimit   = 5.0
	DefaultResolveInterval = 5 * time.Minute
	DefaultOutcomeHorizon  = time.Hour
)

// Common error messages
const (
	ErrMsgAssetRequired      = "asset must be specified"
	ErrMsgListenAddrRequired = "listen address cannot be empty"
)

// Validation bounds
const (
	MinFeedInterval    = time.Second
	MaxFeedInterval    = 24 * time.Hour
	MinFeedTimeout     = time.Second
	MaxFeedTimeout     = time.Minute
	MaxFeedRateLimit   = 100.0
	MinTrainInterval   = time.Minute
	MinResolveInterval = time.Second
	MaxResolveInterval = 24 * time.Hour
	MinOutcomeHorizon  = time.Minute
	MaxOutcomeHorizon  = 7 * 24 * time.Hour
)
