package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/dsearch/internal/domain/search/filter"
)

// Config holds the dsearch configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Search    SearchConfig    `yaml:"search"`
	Lexical   LexicalConfig   `yaml:"lexical"`
	Vector    VectorConfig    `yaml:"vector"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Augment   AugmentConfig   `yaml:"augment"`
	MCP       MCPConfig       `yaml:"mcp"`
	Logging   LoggingConfig   `yaml:"logging"`

	defaulted []string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// RedisConfig holds Redis connection settings. Redis hosts the lexical index and,
// depending on the backends chosen, the vector index, the result cache and job records.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	KeyPrefix        string   `yaml:"key_prefix"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Backend    string `yaml:"backend"` // redis | badger
	TTLSec     int    `yaml:"ttl_sec"`
	BadgerPath string `yaml:"badger_path"` // empty = in-memory
}

// RetryConfig bounds adapter-level retries of transient backend errors.
type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMs int `yaml:"base_delay_ms"`
}

// SearchConfig holds query routing settings.
type SearchConfig struct {
	BackendTimeoutMs int         `yaml:"backend_timeout_ms"`
	DefaultLimit     int         `yaml:"default_limit"`
	MaxLimit         int         `yaml:"max_limit"`
	Retry            RetryConfig `yaml:"retry"`
}

// FilterField declares a metadata field usable in filters.
type FilterField struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"` // tag | numeric
}

// LexicalConfig holds full-text index settings.
type LexicalConfig struct {
	Index        string             `yaml:"index"`
	FieldBoosts  map[string]float64 `yaml:"field_boosts"`
	FilterFields []FilterField      `yaml:"filter_fields"`
}

// MilvusConfig holds Milvus connection settings.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Collection string `yaml:"collection"`
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	Backend         string       `yaml:"backend"` // redis | milvus
	Index           string       `yaml:"index"`
	HNSWM           int          `yaml:"hnsw_m"`
	HNSWEFConstruct int          `yaml:"hnsw_ef_construction"`
	Milvus          MilvusConfig `yaml:"milvus"`
}

// FusionConfig holds result fusion settings.
type FusionConfig struct {
	Method        string   `yaml:"method"` // weighted | rrf
	LexicalWeight *float64 `yaml:"lexical_weight"`
	VectorWeight  *float64 `yaml:"vector_weight"`
	RRFK          int      `yaml:"rrf_k"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	Provider            string `yaml:"provider"`
	BaseURL             string `yaml:"base_url"`
	APIKey              string `yaml:"api_key"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	MaxTokens           int    `yaml:"max_tokens"`
	Cache               *bool  `yaml:"cache"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// IngestConfig holds batch ingestion settings.
type IngestConfig struct {
	BatchSize    int `yaml:"batch_size"`
	Workers      int `yaml:"workers"`
	MaxDocuments int `yaml:"max_documents"`
	JobTTLHours  int `yaml:"job_ttl_hours"`
}

// SchedulerConfig holds scheduled task settings. An interval of zero disables a task.
type SchedulerConfig struct {
	Enabled                bool   `yaml:"enabled"`
	SpoolDir               string `yaml:"spool_dir"`
	SpoolIntervalSec       int    `yaml:"spool_interval_sec"`
	CleanupIntervalSec     int    `yaml:"cleanup_interval_sec"`
	MaintenanceIntervalSec int    `yaml:"maintenance_interval_sec"`
	JobRetentionHours      int    `yaml:"job_retention_hours"`
}

// AugmentConfig holds generative augmentation settings.
type AugmentConfig struct {
	Enabled     bool    `yaml:"enabled"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	ContextHits int     `yaml:"context_hits"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

// MCPConfig toggles the MCP tool endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory is loaded first when present.
func Load(env string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	return LoadFile(findConfigPath(env))
}

// LoadFile reads, expands, defaults and validates a config file.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML config content, applies defaults and validates it.
func Parse(data []byte) (Config, error) {
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

// Defaulted lists the options that were filled by ApplyDefaults, as "key=value".
// Callers log them at startup so no search-relevant default goes unnoticed.
func (c *Config) Defaulted() []string { return c.defaulted }

func (c *Config) note(key string, value any) {
	c.defaulted = append(c.defaulted, fmt.Sprintf("%s=%v", key, value))
}

func ptr[T any](v T) *T { return &v }

// ApplyDefaults fills empty fields with default values and records each of them.
//
//nolint:gocyclo // flat list of defaults
func (c *Config) ApplyDefaults() {
	c.defaulted = nil

	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Redis.ReadinessTimeout <= 0 {
		c.Redis.ReadinessTimeout = 10
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "dsearch:"
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "redis"
		c.note("cache.backend", c.Cache.Backend)
	}
	if c.Cache.TTLSec == 0 {
		c.Cache.TTLSec = 300
		c.note("cache.ttl_sec", c.Cache.TTLSec)
	}

	if c.Search.BackendTimeoutMs == 0 {
		c.Search.BackendTimeoutMs = 2000
		c.note("search.backend_timeout_ms", c.Search.BackendTimeoutMs)
	}
	if c.Search.DefaultLimit == 0 {
		c.Search.DefaultLimit = 10
		c.note("search.default_limit", c.Search.DefaultLimit)
	}
	if c.Search.MaxLimit == 0 {
		c.Search.MaxLimit = 100
		c.note("search.max_limit", c.Search.MaxLimit)
	}
	if c.Search.Retry.MaxRetries == 0 {
		c.Search.Retry.MaxRetries = 2
		c.note("search.retry.max_retries", c.Search.Retry.MaxRetries)
	}
	if c.Search.Retry.BaseDelayMs == 0 {
		c.Search.Retry.BaseDelayMs = 50
	}

	if c.Lexical.Index == "" {
		c.Lexical.Index = "dsearch_docs"
	}
	if c.Lexical.FieldBoosts == nil {
		c.Lexical.FieldBoosts = map[string]float64{"title": 2, "body": 1, "source": 0}
		c.note("lexical.field_boosts", "title^2 body^1 source^0")
	}

	if c.Vector.Backend == "" {
		c.Vector.Backend = "redis"
		c.note("vector.backend", c.Vector.Backend)
	}
	if c.Vector.Index == "" {
		c.Vector.Index = "dsearch_vectors"
	}
	if c.Vector.HNSWM <= 0 {
		c.Vector.HNSWM = 16
	}
	if c.Vector.HNSWEFConstruct <= 0 {
		c.Vector.HNSWEFConstruct = 200
	}
	if c.Vector.Milvus.Collection == "" {
		c.Vector.Milvus.Collection = "dsearch_documents"
	}

	if c.Fusion.Method == "" {
		c.Fusion.Method = "weighted"
		c.note("fusion.method", c.Fusion.Method)
	}
	if c.Fusion.LexicalWeight == nil {
		c.Fusion.LexicalWeight = ptr(0.5)
		c.note("fusion.lexical_weight", 0.5)
	}
	if c.Fusion.VectorWeight == nil {
		c.Fusion.VectorWeight = ptr(0.5)
		c.note("fusion.vector_weight", 0.5)
	}
	if c.Fusion.RRFK <= 0 {
		c.Fusion.RRFK = 60
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "paraphrase-multilingual-MiniLM-L12-v2"
		c.note("embedding.model", c.Embedding.Model)
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = 384
		c.note("embedding.dimensions", c.Embedding.Dimensions)
	}
	if c.Embedding.MaxTokens == 0 {
		c.Embedding.MaxTokens = 256
		c.note("embedding.max_tokens", c.Embedding.MaxTokens)
	}
	if c.Embedding.Cache == nil {
		c.Embedding.Cache = ptr(true)
	}

	if c.Ingest.BatchSize == 0 {
		c.Ingest.BatchSize = 100
		c.note("ingest.batch_size", c.Ingest.BatchSize)
	}
	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = 4
		c.note("ingest.workers", c.Ingest.Workers)
	}
	if c.Ingest.MaxDocuments == 0 {
		c.Ingest.MaxDocuments = 10000
	}
	if c.Ingest.JobTTLHours == 0 {
		c.Ingest.JobTTLHours = 7 * 24
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.CleanupIntervalSec == 0 {
			c.Scheduler.CleanupIntervalSec = 3600
			c.note("scheduler.cleanup_interval_sec", c.Scheduler.CleanupIntervalSec)
		}
		if c.Scheduler.MaintenanceIntervalSec == 0 {
			c.Scheduler.MaintenanceIntervalSec = 600
			c.note("scheduler.maintenance_interval_sec", c.Scheduler.MaintenanceIntervalSec)
		}
		if c.Scheduler.SpoolDir != "" && c.Scheduler.SpoolIntervalSec == 0 {
			c.Scheduler.SpoolIntervalSec = 60
			c.note("scheduler.spool_interval_sec", c.Scheduler.SpoolIntervalSec)
		}
	}
	if c.Scheduler.JobRetentionHours == 0 {
		c.Scheduler.JobRetentionHours = 7 * 24
	}

	if c.Augment.Model == "" {
		c.Augment.Model = "gpt-3.5-turbo"
	}
	if c.Augment.ContextHits == 0 {
		c.Augment.ContextHits = 5
	}
	if c.Augment.TimeoutSec == 0 {
		c.Augment.TimeoutSec = 60
	}
}

// Validate checks the configuration for correctness.
//
//nolint:gocyclo // flat list of checks
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Redis.Addrs) == 0 {
		return errors.New("redis.addrs is required")
	}

	switch c.Cache.Backend {
	case "redis", "badger":
	default:
		return fmt.Errorf("cache.backend must be \"redis\" or \"badger\", got %q", c.Cache.Backend)
	}
	if c.Cache.TTLSec <= 0 {
		return fmt.Errorf("cache.ttl_sec must be positive, got %d", c.Cache.TTLSec)
	}

	if c.Search.BackendTimeoutMs < 0 {
		return fmt.Errorf("search.backend_timeout_ms must be positive, got %d", c.Search.BackendTimeoutMs)
	}
	if c.Search.DefaultLimit < 0 || c.Search.MaxLimit < 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit (%d) must be positive and not above search.max_limit (%d)",
			c.Search.DefaultLimit, c.Search.MaxLimit)
	}
	if c.Search.MaxLimit > 500 {
		return fmt.Errorf("search.max_limit must be at most 500, got %d", c.Search.MaxLimit)
	}
	if c.Search.Retry.MaxRetries < 0 || c.Search.Retry.BaseDelayMs < 0 {
		return errors.New("search.retry values must not be negative")
	}

	known := []string{"title", "body", "source"}
	for field, w := range c.Lexical.FieldBoosts {
		if !slices.Contains(known, field) {
			return fmt.Errorf("lexical.field_boosts: unknown field %q (want one of %s)", field, strings.Join(known, ", "))
		}
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("lexical.field_boosts.%s must not be negative, got %g", field, w)
		}
	}
	seen := make(map[string]bool)
	for _, f := range c.Lexical.FilterFields {
		if f.Name == "" || slices.Contains(known, f.Name) || f.Name == "vector" || seen[f.Name] {
			return fmt.Errorf("lexical.filter_fields: invalid or duplicate name %q", f.Name)
		}
		seen[f.Name] = true
		if f.Type != "tag" && f.Type != "numeric" {
			return fmt.Errorf("lexical.filter_fields.%s.type must be \"tag\" or \"numeric\", got %q", f.Name, f.Type)
		}
	}

	switch c.Vector.Backend {
	case "redis":
	case "milvus":
		if c.Vector.Milvus.Address == "" {
			return errors.New("vector.milvus.address is required for the milvus backend")
		}
	default:
		return fmt.Errorf("vector.backend must be \"redis\" or \"milvus\", got %q", c.Vector.Backend)
	}

	switch c.Fusion.Method {
	case "weighted", "rrf":
	default:
		return fmt.Errorf("fusion.method must be \"weighted\" or \"rrf\", got %q", c.Fusion.Method)
	}
	lw, vw := *c.Fusion.LexicalWeight, *c.Fusion.VectorWeight
	if lw < 0 || vw < 0 || math.IsNaN(lw) || math.IsNaN(vw) {
		return fmt.Errorf("fusion weights must not be negative, got lexical=%g vector=%g", lw, vw)
	}
	if lw+vw == 0 {
		return errors.New("fusion weights must not both be zero")
	}

	if c.Embedding.Provider != "openai" {
		return fmt.Errorf("embedding.provider must be \"openai\", got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions < 0 || c.Embedding.Dimensions > 8192 {
		return fmt.Errorf("embedding.dimensions must be between 1 and 8192, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.MaxTokens < 0 {
		return fmt.Errorf("embedding.max_tokens must be positive, got %d", c.Embedding.MaxTokens)
	}

	if c.Ingest.BatchSize < 0 || c.Ingest.Workers < 0 || c.Ingest.MaxDocuments < 0 || c.Ingest.JobTTLHours < 0 {
		return errors.New("ingest values must be positive")
	}

	if c.Scheduler.SpoolIntervalSec < 0 || c.Scheduler.CleanupIntervalSec < 0 || c.Scheduler.MaintenanceIntervalSec < 0 {
		return errors.New("scheduler intervals must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.SpoolIntervalSec > 0 && c.Scheduler.SpoolDir == "" {
		return errors.New("scheduler.spool_dir is required when spool ingestion is scheduled")
	}

	if c.Augment.Enabled && c.Augment.BaseURL == "" {
		return errors.New("augment.base_url is required when augmentation is enabled")
	}
	if c.Augment.Temperature < 0 || c.Augment.Temperature > 2 {
		return fmt.Errorf("augment.temperature must be between 0 and 2, got %g", c.Augment.Temperature)
	}

	return nil
}

// CacheTTL returns the result cache TTL.
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.Cache.TTLSec) * time.Second }

// BackendTimeout returns the per-backend query timeout.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Search.BackendTimeoutMs) * time.Millisecond
}

// JobTTL returns how long job records are kept.
func (c *Config) JobTTL() time.Duration { return time.Duration(c.Ingest.JobTTLHours) * time.Hour }

// RetryDelay returns the base delay of adapter retries.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Search.Retry.BaseDelayMs) * time.Millisecond
}

// FilterSchema converts lexical.filter_fields to a filter schema.
func (c *Config) FilterSchema() filter.Schema {
	s := make(filter.Schema, len(c.Lexical.FilterFields))
	for _, f := range c.Lexical.FilterFields {
		s[f.Name] = filter.Kind(f.Type)
	}
	return s
}

// Seconds converts a seconds option to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

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
