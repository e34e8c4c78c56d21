package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. WALLET_POLL_INTERVAL.
const EnvPrefix = "WALLET"

// Keys shared by the config file, environment and command-line flags.
const (
	AccessNodeKey          = "access-node"
	RPCTimeoutKey          = "rpc-timeout"
	RPCRateLimitKey        = "rpc-rate-limit"
	RPCBurstKey            = "rpc-burst"
	PollIntervalKey        = "poll-interval"
	MaxPollsKey            = "max-polls"
	MaxWatchKey            = "max-watch"
	RetryBudgetKey         = "retry-budget"
	BackoffInitialKey      = "backoff-initial"
	BackoffMaxKey          = "backoff-max"
	SignTimeoutKey         = "sign-timeout"
	BroadcastRetriesKey    = "broadcast-retries"
	BroadcastRetryDelayKey = "broadcast-retry-delay"
	GasLimitKey            = "gas-limit"
	StorageBackendKey      = "storage-backend"
	DataDirKey             = "data-dir"
	RedisAddrKey           = "redis-addr"
	RetentionKey           = "retention"
	PruneScheduleKey       = "prune-schedule"
	MetricsAddrKey         = "metrics-addr"
	LogLevelKey            = "log-level"
)

// Config holds all configurable parameters of the wallet daemon.
type Config struct {
	// Access node
	AccessNode   string
	RPCTimeout   time.Duration
	RPCRateLimit float64
	RPCBurst     int

	// Transaction watcher
	PollInterval   time.Duration
	MaxPolls       int
	MaxWatch       time.Duration
	RetryBudget    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Signing and submission
	SignTimeout         time.Duration
	BroadcastMaxRetries int
	BroadcastRetryDelay time.Duration
	GasLimit            uint64

	// Storage
	StorageBackend string
	DataDir        string
	RedisAddr      string
	Retention      time.Duration
	PruneSchedule  string

	MetricsAddr string
	LogLevel    string
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		AccessNode:   "https://rest-mainnet.onflow.org",
		RPCTimeout:   10 * time.Second,
		RPCRateLimit: 20,
		RPCBurst:     5,

		PollInterval:   1 * time.Second,
		MaxPolls:       300,
		MaxWatch:       10 * time.Minute,
		RetryBudget:    10,
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     30 * time.Second,

		SignTimeout:         30 * time.Second,
		BroadcastMaxRetries: 3,
		BroadcastRetryDelay: 1 * time.Second,
		GasLimit:            9999,

		StorageBackend: "leveldb",
		DataDir:        "./data",
		Retention:      30 * 24 * time.Hour,
		PruneSchedule:  "@hourly",

		MetricsAddr: ":9102",
		LogLevel:    "info",
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(AccessNodeKey, d.AccessNode)
	v.SetDefault(RPCTimeoutKey, d.RPCTimeout)
	v.SetDefault(RPCRateLimitKey, d.RPCRateLimit)
	v.SetDefault(RPCBurstKey, d.RPCBurst)
	v.SetDefault(PollIntervalKey, d.PollInterval)
	v.SetDefault(MaxPollsKey, d.MaxPolls)
	v.SetDefault(MaxWatchKey, d.MaxWatch)
	v.SetDefault(RetryBudgetKey, d.RetryBudget)
	v.SetDefault(BackoffInitialKey, d.BackoffInitial)
	v.SetDefault(BackoffMaxKey, d.BackoffMax)
	v.SetDefault(SignTimeoutKey, d.SignTimeout)
	v.SetDefault(BroadcastRetriesKey, d.BroadcastMaxRetries)
	v.SetDefault(BroadcastRetryDelayKey, d.BroadcastRetryDelay)
	v.SetDefault(GasLimitKey, d.GasLimit)
	v.SetDefault(StorageBackendKey, d.StorageBackend)
	v.SetDefault(DataDirKey, d.DataDir)
	v.SetDefault(RedisAddrKey, d.RedisAddr)
	v.SetDefault(RetentionKey, d.Retention)
	v.SetDefault(PruneScheduleKey, d.PruneSchedule)
	v.SetDefault(MetricsAddrKey, d.MetricsAddr)
	v.SetDefault(LogLevelKey, d.LogLevel)
}

// Flags registers every key on fs so a command line can override it.
func Flags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(AccessNodeKey, d.AccessNode, "Flow access node REST endpoint")
	fs.Duration(RPCTimeoutKey, d.RPCTimeout, "timeout of a single access node request")
	fs.Float64(RPCRateLimitKey, d.RPCRateLimit, "access node requests per second, 0 disables limiting")
	fs.Int(RPCBurstKey, d.RPCBurst, "access node request burst")
	fs.Duration(PollIntervalKey, d.PollInterval, "transaction status poll interval")
	fs.Int(MaxPollsKey, d.MaxPolls, "polls before a transaction is expired, 0 for no limit")
	fs.Duration(MaxWatchKey, d.MaxWatch, "time before a transaction is expired, 0 for no limit")
	fs.Int(RetryBudgetKey, d.RetryBudget, "consecutive failed polls before a transaction is marked Error")
	fs.Duration(BackoffInitialKey, d.BackoffInitial, "first retry delay after a failed poll")
	fs.Duration(BackoffMaxKey, d.BackoffMax, "largest retry delay after failed polls")
	fs.Duration(SignTimeoutKey, d.SignTimeout, "timeout of a single signing request")
	fs.Int(BroadcastRetriesKey, d.BroadcastMaxRetries, "submission attempts per transaction")
	fs.Duration(BroadcastRetryDelayKey, d.BroadcastRetryDelay, "base delay between submission attempts")
	fs.Uint64(GasLimitKey, d.GasLimit, "gas limit of submitted transactions")
	fs.String(StorageBackendKey, d.StorageBackend, "storage backend: leveldb, redis or memory")
	fs.String(DataDirKey, d.DataDir, "leveldb data directory")
	fs.String(RedisAddrKey, d.RedisAddr, "redis address for the redis backend")
	fs.Duration(RetentionKey, d.Retention, "how long finished transactions are kept")
	fs.String(PruneScheduleKey, d.PruneSchedule, "cron schedule of ledger pruning")
	fs.String(MetricsAddrKey, d.MetricsAddr, "prometheus listen address, empty disables metrics")
	fs.String(LogLevelKey, d.LogLevel, "log level: debug, info, warn or error")
}

// Load builds a Config from defaults, an optional config file at path, the
// environment and flags, in increasing order of precedence. path and flags
// may be empty.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := Config{
		AccessNode:   v.GetString(AccessNodeKey),
		RPCTimeout:   v.GetDuration(RPCTimeoutKey),
		RPCRateLimit: v.GetFloat64(RPCRateLimitKey),
		RPCBurst:     v.GetInt(RPCBurstKey),

		PollInterval:   v.GetDuration(PollIntervalKey),
		MaxPolls:       v.GetInt(MaxPollsKey),
		MaxWatch:       v.GetDuration(MaxWatchKey),
		RetryBudget:    v.GetInt(RetryBudgetKey),
		BackoffInitial: v.GetDuration(BackoffInitialKey),
		BackoffMax:     v.GetDuration(BackoffMaxKey),

		SignTimeout:         v.GetDuration(SignTimeoutKey),
		BroadcastMaxRetries: v.GetInt(BroadcastRetriesKey),
		BroadcastRetryDelay: v.GetDuration(BroadcastRetryDelayKey),
		GasLimit:            v.GetUint64(GasLimitKey),

		StorageBackend: v.GetString(StorageBackendKey),
		DataDir:        v.GetString(DataDirKey),
		RedisAddr:      v.GetString(RedisAddrKey),
		Retention:      v.GetDuration(RetentionKey),
		PruneSchedule:  v.GetString(PruneScheduleKey),

		MetricsAddr: v.GetString(MetricsAddrKey),
		LogLevel:    v.GetString(LogLevelKey),
	}
	return cfg, cfg.Validate()
}

// FromEnv returns a Config populated from environment variables,
// falling back to defaults for unset or invalid values.
func FromEnv() Config {
	cfg, err := Load("", nil)
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	if c.AccessNode == "" {
		return fmt.Errorf("%s must be set", AccessNodeKey)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", PollIntervalKey, c.PollInterval)
	}
	if c.RetryBudget <= 0 {
		return fmt.Errorf("%s must be positive, got %d", RetryBudgetKey, c.RetryBudget)
	}
	if c.MaxPolls < 0 || c.MaxWatch < 0 {
		return fmt.Errorf("%s and %s must not be negative", MaxPollsKey, MaxWatchKey)
	}
	switch c.StorageBackend {
	case "leveldb", "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("%s must be set for the redis backend", RedisAddrKey)
		}
	default:
		return fmt.Errorf("unknown %s %q", StorageBackendKey, c.StorageBackend)
	}
	return nil
}
