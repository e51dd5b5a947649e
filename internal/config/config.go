package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyConfig holds the resilience parameters for one workflow type.
type PolicyConfig struct {
	MaxAttempts          uint          `yaml:"max_attempts"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
	FailureRateThreshold float64       `yaml:"failure_rate_threshold"`
	SlowCallThreshold    time.Duration `yaml:"slow_call_threshold"`
	WindowSize           uint32        `yaml:"window_size"`
	BreakerInterval      time.Duration `yaml:"breaker_interval"`
	OpenTimeout          time.Duration `yaml:"open_timeout"`
	HalfOpenCalls        uint32        `yaml:"half_open_calls"`
	RateLimit            int           `yaml:"rate_limit"`
	RatePeriod           time.Duration `yaml:"rate_period"`
}

// Config is the full configuration surface of the coordination engine.
// Values come from built-in defaults, then an optional YAML file, then
// TM_-prefixed environment variables, in that order.
type Config struct {
	HTTPAddr      string `yaml:"http_addr"`
	LogLevel      string `yaml:"log_level"`
	NATSURL       string `yaml:"nats_url"`
	AlertSubject  string `yaml:"alert_subject"`
	ReportSubject string `yaml:"report_subject"`
	CompressMin   int    `yaml:"compress_min_bytes"`

	MaxConcurrentWorkflows int           `yaml:"max_concurrent_workflows"`
	StepTimeout            time.Duration `yaml:"step_timeout"`
	EnrichmentTimeout      time.Duration `yaml:"enrichment_timeout"`
	EnableEnrichment       bool          `yaml:"enable_enrichment"`
	RetentionWindow        time.Duration `yaml:"retention_window"`
	SweepInterval          time.Duration `yaml:"sweep_interval"`
	StartupDelay           time.Duration `yaml:"startup_delay"`

	AgentWorkers       int           `yaml:"agent_workers"`
	IntelCacheSize     int           `yaml:"intel_cache_size"`
	IntelCacheTTL      time.Duration `yaml:"intel_cache_ttl"`
	ProfileMaxAge      time.Duration `yaml:"profile_max_age"`
	LearnBufferLimit   int           `yaml:"learn_buffer_limit"`
	LearnFlushInterval time.Duration `yaml:"learn_flush_interval"`

	NetworkPolicy     PolicyConfig `yaml:"network_policy"`
	BehaviorPolicy    PolicyConfig `yaml:"behavior_policy"`
	CorrelationPolicy PolicyConfig `yaml:"correlation_policy"`
}

func defaultPolicy() PolicyConfig {
	return PolicyConfig{
		MaxAttempts:          3,
		RetryDelay:           time.Second,
		FailureRateThreshold: 0.5,
		SlowCallThreshold:    2 * time.Second,
		WindowSize:           10,
		BreakerInterval:      time.Minute,
		OpenTimeout:          time.Second,
		HalfOpenCalls:        3,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	network := defaultPolicy()
	network.RateLimit = 20
	network.RatePeriod = time.Second

	behavior := defaultPolicy()
	behavior.RateLimit = 10
	behavior.RatePeriod = time.Minute

	correlation := defaultPolicy()
	correlation.RateLimit = 5
	correlation.RatePeriod = 10 * time.Second

	return &Config{
		HTTPAddr:      ":8080",
		LogLevel:      "info",
		NATSURL:       "",
		AlertSubject:  "threatmesh.alerts",
		ReportSubject: "threatmesh.reports",
		CompressMin:   4096,

		MaxConcurrentWorkflows: 50,
		StepTimeout:            300 * time.Second,
		EnrichmentTimeout:      30 * time.Second,
		EnableEnrichment:       true,
		RetentionWindow:        time.Hour,
		SweepInterval:          5 * time.Minute,
		StartupDelay:           10 * time.Second,

		AgentWorkers:       10,
		IntelCacheSize:     4096,
		IntelCacheTTL:      24 * time.Hour,
		ProfileMaxAge:      7 * 24 * time.Hour,
		LearnBufferLimit:   100,
		LearnFlushInterval: time.Hour,

		NetworkPolicy:     network,
		BehaviorPolicy:    behavior,
		CorrelationPolicy: correlation,
	}
}

// Load builds the configuration from defaults, the optional file named by
// TM_CONFIG_FILE, and environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("TM_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if cfg.MaxConcurrentWorkflows <= 0 {
		return nil, fmt.Errorf("max_concurrent_workflows must be positive, got %d", cfg.MaxConcurrentWorkflows)
	}
	if cfg.AgentWorkers <= 0 {
		return nil, fmt.Errorf("agent_workers must be positive, got %d", cfg.AgentWorkers)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	shadow := newFileConfig(c)
	if err := yaml.Unmarshal(data, shadow); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	shadow.apply(c)
	return nil
}

// duration parses YAML durations written as strings like "30s".
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = duration(parsed)
	return nil
}

// filePolicy mirrors PolicyConfig for YAML decoding.
type filePolicy struct {
	MaxAttempts          uint     `yaml:"max_attempts"`
	RetryDelay           duration `yaml:"retry_delay"`
	FailureRateThreshold float64  `yaml:"failure_rate_threshold"`
	SlowCallThreshold    duration `yaml:"slow_call_threshold"`
	WindowSize           uint32   `yaml:"window_size"`
	BreakerInterval      duration `yaml:"breaker_interval"`
	OpenTimeout          duration `yaml:"open_timeout"`
	HalfOpenCalls        uint32   `yaml:"half_open_calls"`
	RateLimit            int      `yaml:"rate_limit"`
	RatePeriod           duration `yaml:"rate_period"`
}

func newFilePolicy(p PolicyConfig) filePolicy {
	return filePolicy{
		MaxAttempts:          p.MaxAttempts,
		RetryDelay:           duration(p.RetryDelay),
		FailureRateThreshold: p.FailureRateThreshold,
		SlowCallThreshold:    duration(p.SlowCallThreshold),
		WindowSize:           p.WindowSize,
		BreakerInterval:      duration(p.BreakerInterval),
		OpenTimeout:          duration(p.OpenTimeout),
		HalfOpenCalls:        p.HalfOpenCalls,
		RateLimit:            p.RateLimit,
		RatePeriod:           duration(p.RatePeriod),
	}
}

func (p filePolicy) policy() PolicyConfig {
	return PolicyConfig{
		MaxAttempts:          p.MaxAttempts,
		RetryDelay:           time.Duration(p.RetryDelay),
		FailureRateThreshold: p.FailureRateThreshold,
		SlowCallThreshold:    time.Duration(p.SlowCallThreshold),
		WindowSize:           p.WindowSize,
		BreakerInterval:      time.Duration(p.BreakerInterval),
		OpenTimeout:          time.Duration(p.OpenTimeout),
		HalfOpenCalls:        p.HalfOpenCalls,
		RateLimit:            p.RateLimit,
		RatePeriod:           time.Duration(p.RatePeriod),
	}
}

// fileConfig mirrors Config for YAML decoding. It is seeded with the
// current values so fields absent from the file keep their defaults.
type fileConfig struct {
	HTTPAddr      string `yaml:"http_addr"`
	LogLevel      string `yaml:"log_level"`
	NATSURL       string `yaml:"nats_url"`
	AlertSubject  string `yaml:"alert_subject"`
	ReportSubject string `yaml:"report_subject"`
	CompressMin   int    `yaml:"compress_min_bytes"`

	MaxConcurrentWorkflows int      `yaml:"max_concurrent_workflows"`
	StepTimeout            duration `yaml:"step_timeout"`
	EnrichmentTimeout      duration `yaml:"enrichment_timeout"`
	EnableEnrichment       bool     `yaml:"enable_enrichment"`
	RetentionWindow        duration `yaml:"retention_window"`
	SweepInterval          duration `yaml:"sweep_interval"`
	StartupDelay           duration `yaml:"startup_delay"`

	AgentWorkers       int      `yaml:"agent_workers"`
	IntelCacheSize     int      `yaml:"intel_cache_size"`
	IntelCacheTTL      duration `yaml:"intel_cache_ttl"`
	ProfileMaxAge      duration `yaml:"profile_max_age"`
	LearnBufferLimit   int      `yaml:"learn_buffer_limit"`
	LearnFlushInterval duration `yaml:"learn_flush_interval"`

	NetworkPolicy     filePolicy `yaml:"network_policy"`
	BehaviorPolicy    filePolicy `yaml:"behavior_policy"`
	CorrelationPolicy filePolicy `yaml:"correlation_policy"`
}

func newFileConfig(c *Config) *fileConfig {
	return &fileConfig{
		HTTPAddr:      c.HTTPAddr,
		LogLevel:      c.LogLevel,
		NATSURL:       c.NATSURL,
		AlertSubject:  c.AlertSubject,
		ReportSubject: c.ReportSubject,
		CompressMin:   c.CompressMin,

		MaxConcurrentWorkflows: c.MaxConcurrentWorkflows,
		StepTimeout:            duration(c.StepTimeout),
		EnrichmentTimeout:      duration(c.EnrichmentTimeout),
		EnableEnrichment:       c.EnableEnrichment,
		RetentionWindow:        duration(c.RetentionWindow),
		SweepInterval:          duration(c.SweepInterval),
		StartupDelay:           duration(c.StartupDelay),

		AgentWorkers:       c.AgentWorkers,
		IntelCacheSize:     c.IntelCacheSize,
		IntelCacheTTL:      duration(c.IntelCacheTTL),
		ProfileMaxAge:      duration(c.ProfileMaxAge),
		LearnBufferLimit:   c.LearnBufferLimit,
		LearnFlushInterval: duration(c.LearnFlushInterval),

		NetworkPolicy:     newFilePolicy(c.NetworkPolicy),
		BehaviorPolicy:    newFilePolicy(c.BehaviorPolicy),
		CorrelationPolicy: newFilePolicy(c.CorrelationPolicy),
	}
}

func (f *fileConfig) apply(c *Config) {
	c.HTTPAddr = f.HTTPAddr
	c.LogLevel = f.LogLevel
	c.NATSURL = f.NATSURL
	c.AlertSubject = f.AlertSubject
	c.ReportSubject = f.ReportSubject
	c.CompressMin = f.CompressMin

	c.MaxConcurrentWorkflows = f.MaxConcurrentWorkflows
	c.StepTimeout = time.Duration(f.StepTimeout)
	c.EnrichmentTimeout = time.Duration(f.EnrichmentTimeout)
	c.EnableEnrichment = f.EnableEnrichment
	c.RetentionWindow = time.Duration(f.RetentionWindow)
	c.SweepInterval = time.Duration(f.SweepInterval)
	c.StartupDelay = time.Duration(f.StartupDelay)

	c.AgentWorkers = f.AgentWorkers
	c.IntelCacheSize = f.IntelCacheSize
	c.IntelCacheTTL = time.Duration(f.IntelCacheTTL)
	c.ProfileMaxAge = time.Duration(f.ProfileMaxAge)
	c.LearnBufferLimit = f.LearnBufferLimit
	c.LearnFlushInterval = time.Duration(f.LearnFlushInterval)

	c.NetworkPolicy = f.NetworkPolicy.policy()
	c.BehaviorPolicy = f.BehaviorPolicy.policy()
	c.CorrelationPolicy = f.CorrelationPolicy.policy()
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("TM_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv("TM_LOG_LEVEL", c.LogLevel)
	c.NATSURL = getEnv("TM_NATS_URL", c.NATSURL)
	c.AlertSubject = getEnv("TM_ALERT_SUBJECT", c.AlertSubject)
	c.ReportSubject = getEnv("TM_REPORT_SUBJECT", c.ReportSubject)
	c.CompressMin = getEnvInt("TM_COMPRESS_MIN_BYTES", c.CompressMin)

	c.MaxConcurrentWorkflows = getEnvInt("TM_MAX_CONCURRENT_WORKFLOWS", c.MaxConcurrentWorkflows)
	c.StepTimeout = getEnvDuration("TM_STEP_TIMEOUT", c.StepTimeout)
	c.EnrichmentTimeout = getEnvDuration("TM_ENRICHMENT_TIMEOUT", c.EnrichmentTimeout)
	c.EnableEnrichment = getEnvBool("TM_ENABLE_ENRICHMENT", c.EnableEnrichment)
	c.RetentionWindow = getEnvDuration("TM_RETENTION_WINDOW", c.RetentionWindow)
	c.SweepInterval = getEnvDuration("TM_SWEEP_INTERVAL", c.SweepInterval)
	c.StartupDelay = getEnvDuration("TM_STARTUP_DELAY", c.StartupDelay)

	c.AgentWorkers = getEnvInt("TM_AGENT_WORKERS", c.AgentWorkers)
	c.IntelCacheSize = getEnvInt("TM_INTEL_CACHE_SIZE", c.IntelCacheSize)
	c.IntelCacheTTL = getEnvDuration("TM_INTEL_CACHE_TTL", c.IntelCacheTTL)
	c.ProfileMaxAge = getEnvDuration("TM_PROFILE_MAX_AGE", c.ProfileMaxAge)
	c.LearnBufferLimit = getEnvInt("TM_LEARN_BUFFER_LIMIT", c.LearnBufferLimit)
	c.LearnFlushInterval = getEnvDuration("TM_LEARN_FLUSH_INTERVAL", c.LearnFlushInterval)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
