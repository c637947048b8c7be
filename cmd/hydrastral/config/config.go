// Package config provides configuration parsing and validation for hydrastral.
//
// Every setting is a flag whose default comes from an environment variable,
// so precedence is:
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// Flags are registered on the root command's persistent flag set and are
// shared by the build, live, thresholds and serve commands. Validate reports
// the first invalid setting by flag name.
//
// Example usage:
//
//	cfg := config.Bind(rootCmd.PersistentFlags())
//	// ... cobra parses flags ...
//	if err := cfg.Validate(); err != nil { ... }
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/HatiCode/hydrastral/pkg/classify"
	"github.com/HatiCode/hydrastral/pkg/reference"
)

// historyLayout is the date format of --history-start.
const historyLayout = "2006-01-02"

// Config holds all hydrastral configuration.
type Config struct {
	Partitions string
	Inventory  string

	Source     string
	SourceURL  string
	NWSURL     string
	FixtureDir string
	UserAgent  string

	Workers      int
	FetchTimeout time.Duration
	RateLimit    float64
	RateBurst    int

	HistoryStart string
	Ranks        string
	Bands        string
	DroughtTiers string
	TrendWindow  time.Duration

	Store          string
	StoreRoot      string
	GCSBucket      string
	GCSPrefix      string
	GCSCredentials string
	Archive        bool

	Listen        string
	GRPCListen    string
	Interval      time.Duration
	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	PassLog          string
	PassLogRetention time.Duration
	PushgatewayURL   string
	DryRun           bool

	LogFormat string
	LogLevel  string
}

// Bind registers every flag on fs, with environment-variable defaults, and
// returns the Config the flags write into.
func Bind(fs *pflag.FlagSet) *Config {
	cfg := &Config{}

	fs.StringVar(&cfg.Partitions, "partitions", getEnv("PARTITIONS", ""), "Comma-separated partitions (state codes); empty means every partition in the inventory")
	fs.StringVar(&cfg.Inventory, "inventory", getEnv("INVENTORY_FILE", ""), "YAML gauge inventory; when empty gauges are listed from the USGS site service")

	fs.StringVar(&cfg.Source, "source", getEnv("SOURCE", "usgs"), "Observation source: usgs or fixture")
	fs.StringVar(&cfg.SourceURL, "source-url", getEnv("SOURCE_URL", ""), "NWIS web services root (default https://waterservices.usgs.gov/nwis)")
	fs.StringVar(&cfg.NWSURL, "nws-url", getEnv("NWS_URL", ""), "NWS gauges API (default https://api.water.weather.gov/v1/gauges)")
	fs.StringVar(&cfg.FixtureDir, "fixture-dir", getEnv("FIXTURE_DIR", ""), "Directory of NWIS JSON documents (source=fixture)")
	fs.StringVar(&cfg.UserAgent, "user-agent", getEnv("USER_AGENT", ""), "User-Agent sent to upstream services")

	fs.IntVar(&cfg.Workers, "workers", getEnvInt("MAX_WORKERS", 10), "Maximum concurrent gauge tasks")
	fs.DurationVar(&cfg.FetchTimeout, "fetch-timeout", getEnvDuration("FETCH_TIMEOUT", 30*time.Second), "Timeout of each upstream call")
	fs.Float64Var(&cfg.RateLimit, "rate-limit", getEnvFloat("RATE_LIMIT", 0), "Upstream requests per second across all workers (0 disables)")
	fs.IntVar(&cfg.RateBurst, "rate-burst", getEnvInt("RATE_BURST", 1), "Upstream request burst")

	fs.StringVar(&cfg.HistoryStart, "history-start", getEnv("HISTORY_START", "2000-01-01"), "First day of history requested by the build pass")
	fs.StringVar(&cfg.Ranks, "ranks", getEnv("RANKS", "0,5,10,25,50,75,90,95,100"), "Percentile ranks (p-notation or plain numbers)")
	fs.StringVar(&cfg.Bands, "bands", getEnv("FLOW_BANDS", "5,25,75,95"), "Flow band cut points")
	fs.StringVar(&cfg.DroughtTiers, "drought-tiers", getEnv("DROUGHT_TIERS", "2,5,10,20,30"), "Drought tier cut points D4..D0, or off")
	fs.DurationVar(&cfg.TrendWindow, "trend-window", getEnvDuration("TREND_WINDOW", 48*time.Hour), "Archived snapshot window for trends (0 disables)")

	fs.StringVar(&cfg.Store, "store", getEnv("OBJECT_STORE", "fs"), "Object store: fs or gcs")
	fs.StringVar(&cfg.StoreRoot, "store-root", getEnv("STORE_ROOT", "./data"), "Root directory of the fs object store")
	fs.StringVar(&cfg.GCSBucket, "gcs-bucket", getEnv("GCS_BUCKET", ""), "GCS bucket (store=gcs)")
	fs.StringVar(&cfg.GCSPrefix, "gcs-prefix", getEnv("GCS_PREFIX", ""), "Object name prefix inside the bucket")
	fs.StringVar(&cfg.GCSCredentials, "gcs-credentials", getEnv("GCS_CREDENTIALS_FILE", ""), "Service account JSON; empty uses application default credentials")
	fs.BoolVar(&cfg.Archive, "archive", getEnvBool("ARCHIVE_SNAPSHOTS", true), "Archive every published snapshot")

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address (serve)")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ""), "gRPC health listen address (serve; empty disables)")
	fs.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 15*time.Minute), "Live pass interval (serve)")
	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Snapshot cache backend: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", getEnvDuration("CACHE_TTL", 24*time.Hour), "Age after which a cached snapshot is dropped")

	fs.StringVar(&cfg.PassLog, "pass-log", getEnv("PASS_LOG_DB", ""), "SQLite pass history path (empty disables)")
	fs.DurationVar(&cfg.PassLogRetention, "pass-log-retention", getEnvDuration("PASS_LOG_RETENTION", 30*24*time.Hour), "Age after which recorded passes are pruned (0 keeps all)")
	fs.StringVar(&cfg.PushgatewayURL, "pushgateway-url", getEnv("PUSHGATEWAY_URL", ""), "Prometheus Pushgateway for batch passes (empty disables)")
	fs.BoolVar(&cfg.DryRun, "dry-run", getEnvBool("DRY_RUN", false), "Compute everything and publish nothing")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	return cfg
}

// Validate checks every setting and returns the first problem found.
func (c *Config) Validate() error {
	switch c.Source {
	case "usgs":
	case "fixture":
		if c.FixtureDir == "" {
			return errors.New("--fixture-dir is required with --source=fixture")
		}
		if c.Inventory == "" {
			return errors.New("--inventory is required with --source=fixture")
		}
	default:
		return fmt.Errorf("--source: unknown source %q (must be usgs or fixture)", c.Source)
	}
	if c.Inventory == "" && len(c.PartitionList()) == 0 {
		return errors.New("--partitions is required when no --inventory is given")
	}
	for _, p := range c.PartitionList() {
		if err := reference.ValidatePartition(p); err != nil {
			return fmt.Errorf("--partitions: %w", err)
		}
	}

	if c.Workers <= 0 {
		return fmt.Errorf("--workers must be > 0, got %d", c.Workers)
	}
	if c.FetchTimeout < 0 {
		return errors.New("--fetch-timeout cannot be negative")
	}
	if c.RateLimit < 0 {
		return errors.New("--rate-limit cannot be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.New("--rate-burst must be >= 1 when --rate-limit is set")
	}

	if _, err := c.HistoryStartTime(); err != nil {
		return err
	}
	if _, err := c.RankSet(); err != nil {
		return fmt.Errorf("--ranks: %w", err)
	}
	if _, err := classify.ParseBands(c.Bands); err != nil {
		return fmt.Errorf("--bands: %w", err)
	}
	if _, err := classify.ParseDroughtTiers(c.DroughtTiers); err != nil {
		return fmt.Errorf("--drought-tiers: %w", err)
	}
	if c.TrendWindow < 0 {
		return errors.New("--trend-window cannot be negative")
	}

	switch c.Store {
	case "fs":
		if c.StoreRoot == "" {
			return errors.New("--store-root is required with --store=fs")
		}
	case "gcs":
		if c.GCSBucket == "" {
			return errors.New("--gcs-bucket is required with --store=gcs")
		}
	default:
		return fmt.Errorf("--store: unknown object store %q (must be fs or gcs)", c.Store)
	}

	if c.Interval <= 0 {
		return errors.New("--interval must be > 0")
	}
	if c.Storage != "memory" && c.Storage != "redis" {
		return fmt.Errorf("--storage: unknown backend %q (must be memory or redis)", c.Storage)
	}
	if c.RedisDB < 0 {
		return errors.New("--redis-db must be >= 0")
	}
	if c.CacheTTL <= 0 {
		return errors.New("--cache-ttl must be > 0")
	}
	if c.PassLogRetention < 0 {
		return errors.New("--pass-log-retention cannot be negative")
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("--log-format: unknown format %q (must be text or json)", c.LogFormat)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("--log-level: unknown level %q", c.LogLevel)
	}
	return nil
}

// PartitionList returns the configured partitions, upper-cased, without
// blanks or duplicates.
func (c *Config) PartitionList() []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range strings.Split(c.Partitions, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// HistoryStartTime parses --history-start as a UTC date.
func (c *Config) HistoryStartTime() (time.Time, error) {
	t, err := time.ParseInLocation(historyLayout, c.HistoryStart, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("--history-start: want YYYY-MM-DD, got %q", c.HistoryStart)
	}
	return t, nil
}

// RankSet parses --ranks.
func (c *Config) RankSet() ([]float64, error) {
	return reference.ParseRanks(c.Ranks)
}

// Classifier builds the live classifier from --bands and --drought-tiers.
func (c *Config) Classifier() (*classify.Classifier, error) {
	bands, err := classify.ParseBands(c.Bands)
	if err != nil {
		return nil, err
	}
	tiers, err := classify.ParseDroughtTiers(c.DroughtTiers)
	if err != nil {
		return nil, err
	}
	return classify.New(bands, tiers), nil
}

// SourceConfig returns the generic adapter configuration map.
func (c *Config) SourceConfig() map[string]string {
	m := map[string]string{}
	if c.SourceURL != "" {
		m["url"] = c.SourceURL
	}
	if c.FixtureDir != "" {
		m["dir"] = c.FixtureDir
	}
	if c.UserAgent != "" {
		m["userAgent"] = c.UserAgent
	}
	return m
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
