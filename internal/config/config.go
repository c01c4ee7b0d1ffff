package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the policyrag configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Cache      CacheConfig      `yaml:"cache"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Build      BuildConfig      `yaml:"build"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	NATS       NATSConfig       `yaml:"nats"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// EmbeddingConfig selects the embedding producer.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"`
	Model            string `yaml:"model"`
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	Dimensions       int    `yaml:"dimensions"` // 0 = whatever the model returns
	QueryInstruction string `yaml:"query_instruction"`
	TimeoutSec       int    `yaml:"timeout_sec"`
}

// CacheConfig holds the embedding cache (Redis/Valkey) settings.
type CacheConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	TTLHours         int      `yaml:"ttl_hours"` // 0 = no expiry
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// MetadataConfig holds LLM metadata extraction settings.
type MetadataConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`  // defaults to embedding.api_key
	BaseURL  string `yaml:"base_url"` // defaults to embedding.base_url
	MinChars int    `yaml:"min_chars"`
}

// RerankConfig selects the optional reranker.
type RerankConfig struct {
	Provider    string   `yaml:"provider"` // none, http, command
	URL         string   `yaml:"url"`
	Model       string   `yaml:"model"`
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	BatchSize   int      `yaml:"batch_size"`
	Concurrency int      `yaml:"concurrency"`
}

// RetrievalConfig tunes the query pipeline.
type RetrievalConfig struct {
	Alpha              *float64 `yaml:"alpha"` // nil = 0.5; 0 is a valid sparse-only weight
	Fusion             string   `yaml:"fusion"`
	RRFK               int      `yaml:"rrf_k"`
	Width              int      `yaml:"width"`
	RerankWidth        int      `yaml:"rerank_width"`
	DefaultTopK        int      `yaml:"default_top_k"`
	MaxTopK            int      `yaml:"max_top_k"`
	EmbedTimeoutMs     int      `yaml:"embed_timeout_ms"`
	RerankTimeoutMs    int      `yaml:"rerank_timeout_ms"`
	PrefilterThreshold *float64 `yaml:"prefilter_threshold"`
	RerankByDefault    *bool    `yaml:"rerank_by_default"`
}

// BuildConfig tunes the index builder.
type BuildConfig struct {
	Workers      int     `yaml:"workers"`
	RateLimit    float64 `yaml:"rate_limit"` // provider calls per second, 0 = unlimited
	Burst        int     `yaml:"burst"`
	EmbedText    string  `yaml:"embed_text"`
	KeywordCount int     `yaml:"keyword_count"`
}

// CorpusConfig locates and chunks the source documents.
type CorpusConfig struct {
	Dir          string `yaml:"dir"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

// SnapshotConfig holds snapshot persistence settings.
type SnapshotConfig struct {
	Root       string `yaml:"root"`
	Retain     int    `yaml:"retain"`
	Watch      bool   `yaml:"watch"`
	VerifyHash bool   `yaml:"verify_hash"`
}

// NATSConfig holds snapshot event settings.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// ResilienceConfig holds retry and circuit breaker settings for provider calls.
type ResilienceConfig struct {
	RetryMaxAttempts      int     `yaml:"retry_max_attempts"`
	RetryInitialBackoffMs int     `yaml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int     `yaml:"retry_max_backoff_ms"`
	BreakerEnabled        *bool   `yaml:"breaker_enabled"`
	BreakerMinRequests    uint32  `yaml:"breaker_min_requests"`
	BreakerFailureRatio   float64 `yaml:"breaker_failure_ratio"`
	BreakerOpenTimeoutSec int     `yaml:"breaker_open_timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory is loaded first when present.
func Load(env string) (Config, error) {
	_ = godotenv.Load()

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}

	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "policyrag:"
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}

	if c.Metadata.Model == "" {
		c.Metadata.Model = "gpt-4o-mini"
	}
	if c.Metadata.MinChars <= 0 {
		c.Metadata.MinChars = 50
	}
	if c.Metadata.APIKey == "" {
		c.Metadata.APIKey = c.Embedding.APIKey
	}
	if c.Metadata.BaseURL == "" {
		c.Metadata.BaseURL = c.Embedding.BaseURL
	}

	if c.Rerank.Provider == "" {
		c.Rerank.Provider = "none"
	}
	if c.Rerank.BatchSize <= 0 {
		c.Rerank.BatchSize = 32
	}
	if c.Rerank.Concurrency <= 0 {
		c.Rerank.Concurrency = 4
	}

	if c.Retrieval.Alpha == nil {
		c.Retrieval.Alpha = ptr(0.5)
	}
	if c.Retrieval.Fusion == "" {
		c.Retrieval.Fusion = "weighted"
	}
	if c.Retrieval.RRFK <= 0 {
		c.Retrieval.RRFK = 60
	}
	if c.Retrieval.Width <= 0 {
		c.Retrieval.Width = 50
	}
	if c.Retrieval.RerankWidth <= 0 {
		c.Retrieval.RerankWidth = 20
	}
	if c.Retrieval.DefaultTopK <= 0 {
		c.Retrieval.DefaultTopK = 5
	}
	if c.Retrieval.MaxTopK <= 0 {
		c.Retrieval.MaxTopK = 100
	}
	if c.Retrieval.EmbedTimeoutMs <= 0 {
		c.Retrieval.EmbedTimeoutMs = 10000
	}
	if c.Retrieval.RerankTimeoutMs <= 0 {
		c.Retrieval.RerankTimeoutMs = 5000
	}
	if c.Retrieval.PrefilterThreshold == nil {
		c.Retrieval.PrefilterThreshold = ptr(0.2)
	}
	if c.Retrieval.RerankByDefault == nil {
		c.Retrieval.RerankByDefault = ptr(true)
	}

	if c.Build.Workers <= 0 {
		c.Build.Workers = 4
	}
	if c.Build.Burst <= 0 {
		c.Build.Burst = 1
	}
	if c.Build.EmbedText == "" {
		c.Build.EmbedText = "keywords"
	}
	if c.Build.KeywordCount <= 0 {
		c.Build.KeywordCount = 5
	}

	if c.Corpus.Dir == "" {
		c.Corpus.Dir = "docs"
	}
	if c.Corpus.ChunkSize <= 0 {
		c.Corpus.ChunkSize = 3000
	}
	if c.Corpus.ChunkOverlap <= 0 {
		c.Corpus.ChunkOverlap = 200
	}

	if c.Snapshot.Root == "" {
		c.Snapshot.Root = "data/index"
	}
	if c.Snapshot.Retain < 0 {
		c.Snapshot.Retain = 0
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "policyrag.snapshot.published"
	}

	if c.Resilience.BreakerEnabled == nil {
		c.Resilience.BreakerEnabled = ptr(true)
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Cache.Enabled && len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required when cache.enabled")
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must not be negative, got %d", c.Embedding.Dimensions)
	}
	switch c.Rerank.Provider {
	case "none":
	case "http":
		if c.Rerank.URL == "" {
			return fmt.Errorf("rerank.url is required for the http reranker")
		}
	case "command":
		if c.Rerank.Command == "" {
			return fmt.Errorf("rerank.command is required for the command reranker")
		}
	default:
		return fmt.Errorf("rerank.provider must be \"none\", \"http\" or \"command\", got %q", c.Rerank.Provider)
	}
	if a := *c.Retrieval.Alpha; a < 0 || a > 1 {
		return fmt.Errorf("retrieval.alpha must be in [0,1], got %v", a)
	}
	if p := *c.Retrieval.PrefilterThreshold; p < 0 || p > 1 {
		return fmt.Errorf("retrieval.prefilter_threshold must be in [0,1], got %v", p)
	}
	switch c.Retrieval.Fusion {
	case "weighted", "rrf":
	default:
		return fmt.Errorf("retrieval.fusion must be \"weighted\" or \"rrf\", got %q", c.Retrieval.Fusion)
	}
	if c.Retrieval.RerankWidth > c.Retrieval.Width {
		return fmt.Errorf("retrieval.rerank_width (%d) must not exceed retrieval.width (%d)",
			c.Retrieval.RerankWidth, c.Retrieval.Width)
	}
	if c.Retrieval.MaxTopK > 100 {
		return fmt.Errorf("retrieval.max_top_k must not exceed 100, got %d", c.Retrieval.MaxTopK)
	}
	if c.Retrieval.DefaultTopK > c.Retrieval.MaxTopK {
		return fmt.Errorf("retrieval.default_top_k (%d) must not exceed retrieval.max_top_k (%d)",
			c.Retrieval.DefaultTopK, c.Retrieval.MaxTopK)
	}
	switch c.Build.EmbedText {
	case "content", "keywords", "summary_prefix":
	default:
		return fmt.Errorf("build.embed_text must be \"content\", \"keywords\" or \"summary_prefix\", got %q", c.Build.EmbedText)
	}
	if c.Corpus.ChunkOverlap >= c.Corpus.ChunkSize {
		return fmt.Errorf("corpus.chunk_overlap (%d) must be smaller than corpus.chunk_size (%d)",
			c.Corpus.ChunkOverlap, c.Corpus.ChunkSize)
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled")
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
