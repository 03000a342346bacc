package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete embedgraph core configuration.
// It mirrors the component wiring table in SPEC_FULL.md §2.
type Config struct {
	Version  int            `yaml:"version" json:"version"`
	Storage  StorageConfig  `yaml:"storage" json:"storage"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Cow      CowConfig      `yaml:"cow" json:"cow"`
	Vector   VectorConfig   `yaml:"vector" json:"vector"`
	Metadata MetadataConfig `yaml:"metadata" json:"metadata"`
	Graph    GraphConfig    `yaml:"graph" json:"graph"`
	Query    QueryConfig    `yaml:"query" json:"query"`
	Server   ServerConfig   `yaml:"server" json:"server"`

	// MigrationGraceDays is how long a superseded on-disk layout version
	// is still readable after a migration (spec.md §6).
	MigrationGraceDays int `yaml:"migration_grace_days" json:"migration_grace_days"`

	// Hostname and InstanceID identify this process for multi-writer
	// diagnostics; both default from the environment.
	Hostname   string `yaml:"hostname" json:"hostname"`
	InstanceID string `yaml:"instance_id" json:"instance_id"`
}

// StorageConfig selects and configures the Blob Store Adapter backend.
type StorageConfig struct {
	// Backend is one of "local", "memory", "s3".
	Backend string `yaml:"backend" json:"backend"`

	// RootDir is the root directory for the local-fs backend.
	RootDir string `yaml:"root_dir" json:"root_dir"`

	S3    S3Config    `yaml:"s3" json:"s3"`
	Retry RetryConfig `yaml:"retry" json:"retry"`
}

// S3Config configures the object-store backend.
type S3Config struct {
	Bucket   string `yaml:"bucket" json:"bucket"`
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"` // non-empty for S3-compatible endpoints
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// RetryConfig configures transient-error retry for blob store IO
// (spec.md §5: capped backoff, only for StorageTransient errors).
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
}

// CacheConfig configures the Unified Cache.
type CacheConfig struct {
	// MaxBytes is the total byte budget arbitrated across every index kind.
	MaxBytes int64 `yaml:"max_bytes" json:"max_bytes"`
	// MaxItems bounds the number of distinct cache keys (golang-lru sizing).
	MaxItems int `yaml:"max_items" json:"max_items"`
}

// CowConfig configures the content-addressed object store.
type CowConfig struct {
	// CompressionThreshold is the minimum blob size (bytes) that triggers
	// zstd compression before handoff to the Blob Store.
	CompressionThreshold int `yaml:"compression_threshold" json:"compression_threshold"`
	// CompressionLevel is the zstd encoder level.
	CompressionLevel int `yaml:"compression_level" json:"compression_level"`
}

// VectorConfig configures the HNSW index.
type VectorConfig struct {
	// M is the max number of bidirectional connections per node per level.
	M int `yaml:"m" json:"m"`
	// EfConstruction controls the candidate list size during insertion.
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`
	// EfSearch controls the candidate list size during search.
	EfSearch int `yaml:"ef_search" json:"ef_search"`
	// Distance is one of "cosine", "dot", "euclidean".
	Distance string `yaml:"distance" json:"distance"`
	// PreloadThresholdBytes: sub-graphs smaller than this are eagerly
	// loaded into memory rather than lazily paged via the Unified Cache.
	PreloadThresholdBytes int64 `yaml:"preload_threshold_bytes" json:"preload_threshold_bytes"`
}

// MetadataConfig configures the chunked sparse metadata index.
type MetadataConfig struct {
	// ChunkValueCount is the target distinct-value count per chunk (~50).
	ChunkValueCount int `yaml:"chunk_value_count" json:"chunk_value_count"`
	// BloomFalsePositiveRate is the target FPR for chunk bloom filters.
	BloomFalsePositiveRate float64 `yaml:"bloom_fpr" json:"bloom_fpr"`
	// TemporalBucketMillis is the floor-division bucket width for
	// timestamp-valued fields.
	TemporalBucketMillis int64 `yaml:"temporal_bucket_millis" json:"temporal_bucket_millis"`
}

// GraphConfig configures the bidirectional adjacency index.
type GraphConfig struct {
	// HotAdjacencyCacheSize bounds the in-memory hot-adjacency LRU (entries).
	HotAdjacencyCacheSize int `yaml:"hot_adjacency_cache_size" json:"hot_adjacency_cache_size"`
	// BadgerDir is the root directory for the four LSM-tree instances.
	BadgerDir string `yaml:"badger_dir" json:"badger_dir"`
}

// QueryConfig configures the planner/executor's score fusion and limits.
type QueryConfig struct {
	// WeightVector, WeightField, WeightGraph are the default fusion
	// weights (spec.md §4.7 default 0.4/0.3/0.3), renormalized over
	// whichever signals actually participate in a given query.
	WeightVector float64 `yaml:"weight_vector" json:"weight_vector"`
	WeightField  float64 `yaml:"weight_field" json:"weight_field"`
	WeightGraph  float64 `yaml:"weight_graph" json:"weight_graph"`

	DefaultLimit int           `yaml:"default_limit" json:"default_limit"`
	MaxLimit     int           `yaml:"max_limit" json:"max_limit"`
	DefaultDeadline time.Duration `yaml:"default_deadline" json:"default_deadline"`
}

// ServerConfig configures ambient process-level concerns.
type ServerConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Backend: "local",
			RootDir: defaultDataDir(),
			S3: S3Config{
				Region: "us-east-1",
			},
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     10 * time.Second,
			},
		},
		Cache: CacheConfig{
			MaxBytes: 512 * 1024 * 1024, // 512MB
			MaxItems: 100000,
		},
		Cow: CowConfig{
			CompressionThreshold: 4096,
			CompressionLevel:     3,
		},
		Vector: VectorConfig{
			M:                     16,
			EfConstruction:        200,
			EfSearch:              64,
			Distance:              "cosine",
			PreloadThresholdBytes: 64 * 1024 * 1024,
		},
		Metadata: MetadataConfig{
			ChunkValueCount:        50,
			BloomFalsePositiveRate: 0.01,
			TemporalBucketMillis:   60000,
		},
		Graph: GraphConfig{
			HotAdjacencyCacheSize: 10000,
			BadgerDir:             filepath.Join(defaultDataDir(), "_system", "graph"),
		},
		Query: QueryConfig{
			WeightVector:    0.4,
			WeightField:     0.3,
			WeightGraph:     0.3,
			DefaultLimit:    20,
			MaxLimit:        500,
			DefaultDeadline: 5 * time.Second,
		},
		Server: ServerConfig{
			LogLevel:    "info",
			MetricsAddr: ":9090",
		},
		MigrationGraceDays: 30,
		Hostname:           envOrDefault("HOSTNAME", ""),
		InstanceID:         envOrDefault("INSTANCE_ID", ""),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// defaultDataDir returns the default root directory for the local-fs
// blob store backend.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".embedgraph", "data")
	}
	return filepath.Join(home, ".embedgraph", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/embedgraph/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/embedgraph/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "embedgraph", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "embedgraph", "config.yaml")
	}
	return filepath.Join(home, ".config", "embedgraph", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration from the specified directory, applying
// sources in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/embedgraph/config.yaml)
//  3. Project config (.embedgraph.yaml in dir)
//  4. Environment variables (EMBEDGRAPH_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .embedgraph.yaml or .yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".embedgraph.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".embedgraph.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.RootDir != "" {
		c.Storage.RootDir = other.Storage.RootDir
	}
	if other.Storage.S3.Bucket != "" {
		c.Storage.S3.Bucket = other.Storage.S3.Bucket
	}
	if other.Storage.S3.Region != "" {
		c.Storage.S3.Region = other.Storage.S3.Region
	}
	if other.Storage.S3.Endpoint != "" {
		c.Storage.S3.Endpoint = other.Storage.S3.Endpoint
	}
	if other.Storage.S3.Prefix != "" {
		c.Storage.S3.Prefix = other.Storage.S3.Prefix
	}
	if other.Storage.Retry.MaxAttempts != 0 {
		c.Storage.Retry.MaxAttempts = other.Storage.Retry.MaxAttempts
	}
	if other.Storage.Retry.InitialDelay != 0 {
		c.Storage.Retry.InitialDelay = other.Storage.Retry.InitialDelay
	}
	if other.Storage.Retry.MaxDelay != 0 {
		c.Storage.Retry.MaxDelay = other.Storage.Retry.MaxDelay
	}

	if other.Cache.MaxBytes != 0 {
		c.Cache.MaxBytes = other.Cache.MaxBytes
	}
	if other.Cache.MaxItems != 0 {
		c.Cache.MaxItems = other.Cache.MaxItems
	}

	if other.Cow.CompressionThreshold != 0 {
		c.Cow.CompressionThreshold = other.Cow.CompressionThreshold
	}
	if other.Cow.CompressionLevel != 0 {
		c.Cow.CompressionLevel = other.Cow.CompressionLevel
	}

	if other.Vector.M != 0 {
		c.Vector.M = other.Vector.M
	}
	if other.Vector.EfConstruction != 0 {
		c.Vector.EfConstruction = other.Vector.EfConstruction
	}
	if other.Vector.EfSearch != 0 {
		c.Vector.EfSearch = other.Vector.EfSearch
	}
	if other.Vector.Distance != "" {
		c.Vector.Distance = other.Vector.Distance
	}
	if other.Vector.PreloadThresholdBytes != 0 {
		c.Vector.PreloadThresholdBytes = other.Vector.PreloadThresholdBytes
	}

	if other.Metadata.ChunkValueCount != 0 {
		c.Metadata.ChunkValueCount = other.Metadata.ChunkValueCount
	}
	if other.Metadata.BloomFalsePositiveRate != 0 {
		c.Metadata.BloomFalsePositiveRate = other.Metadata.BloomFalsePositiveRate
	}
	if other.Metadata.TemporalBucketMillis != 0 {
		c.Metadata.TemporalBucketMillis = other.Metadata.TemporalBucketMillis
	}

	if other.Graph.HotAdjacencyCacheSize != 0 {
		c.Graph.HotAdjacencyCacheSize = other.Graph.HotAdjacencyCacheSize
	}
	if other.Graph.BadgerDir != "" {
		c.Graph.BadgerDir = other.Graph.BadgerDir
	}

	if other.Query.WeightVector != 0 {
		c.Query.WeightVector = other.Query.WeightVector
	}
	if other.Query.WeightField != 0 {
		c.Query.WeightField = other.Query.WeightField
	}
	if other.Query.WeightGraph != 0 {
		c.Query.WeightGraph = other.Query.WeightGraph
	}
	if other.Query.DefaultLimit != 0 {
		c.Query.DefaultLimit = other.Query.DefaultLimit
	}
	if other.Query.MaxLimit != 0 {
		c.Query.MaxLimit = other.Query.MaxLimit
	}
	if other.Query.DefaultDeadline != 0 {
		c.Query.DefaultDeadline = other.Query.DefaultDeadline
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.MetricsAddr != "" {
		c.Server.MetricsAddr = other.Server.MetricsAddr
	}

	if other.MigrationGraceDays != 0 {
		c.MigrationGraceDays = other.MigrationGraceDays
	}
	if other.Hostname != "" {
		c.Hostname = other.Hostname
	}
	if other.InstanceID != "" {
		c.InstanceID = other.InstanceID
	}
}

// applyEnvOverrides applies EMBEDGRAPH_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EMBEDGRAPH_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("EMBEDGRAPH_STORAGE_ROOT_DIR"); v != "" {
		c.Storage.RootDir = v
	}
	if v := os.Getenv("EMBEDGRAPH_S3_BUCKET"); v != "" {
		c.Storage.S3.Bucket = v
	}
	if v := os.Getenv("EMBEDGRAPH_S3_REGION"); v != "" {
		c.Storage.S3.Region = v
	}

	if v := os.Getenv("EMBEDGRAPH_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Cache.MaxBytes = n
		}
	}

	if v := os.Getenv("EMBEDGRAPH_QUERY_WEIGHT_VECTOR"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Query.WeightVector = w
		}
	}
	if v := os.Getenv("EMBEDGRAPH_QUERY_WEIGHT_FIELD"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Query.WeightField = w
		}
	}
	if v := os.Getenv("EMBEDGRAPH_QUERY_WEIGHT_GRAPH"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Query.WeightGraph = w
		}
	}

	if v := os.Getenv("EMBEDGRAPH_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}

	if v := os.Getenv("MIGRATION_GRACE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MigrationGraceDays = n
		}
	}
	if v := os.Getenv("HOSTNAME"); v != "" {
		c.Hostname = v
	}
	if v := os.Getenv("INSTANCE_ID"); v != "" {
		c.InstanceID = v
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// FindProjectRoot walks up from startDir looking for a .git directory or
// a .embedgraph.yaml/.yml file, returning startDir unchanged if neither
// is found.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".embedgraph.yaml")) ||
			fileExists(filepath.Join(currentDir, ".embedgraph.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local", "memory", "s3":
	default:
		return fmt.Errorf("storage.backend must be 'local', 'memory', or 's3', got %s", c.Storage.Backend)
	}
	if c.Storage.Backend == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when storage.backend is 's3'")
	}

	if c.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache.max_bytes must be positive, got %d", c.Cache.MaxBytes)
	}

	if c.Vector.M <= 0 {
		return fmt.Errorf("vector.m must be positive, got %d", c.Vector.M)
	}
	if c.Vector.EfSearch <= 0 {
		return fmt.Errorf("vector.ef_search must be positive, got %d", c.Vector.EfSearch)
	}
	switch c.Vector.Distance {
	case "cosine", "dot", "euclidean":
	default:
		return fmt.Errorf("vector.distance must be 'cosine', 'dot', or 'euclidean', got %s", c.Vector.Distance)
	}

	if c.Metadata.BloomFalsePositiveRate <= 0 || c.Metadata.BloomFalsePositiveRate >= 1 {
		return fmt.Errorf("metadata.bloom_fpr must be between 0 and 1, got %f", c.Metadata.BloomFalsePositiveRate)
	}

	sum := c.Query.WeightVector + c.Query.WeightField + c.Query.WeightGraph
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("query fusion weights must sum to 1.0, got %.2f", sum)
	}
	if c.Query.MaxLimit < c.Query.DefaultLimit {
		return fmt.Errorf("query.max_limit (%d) must be >= query.default_limit (%d)", c.Query.MaxLimit, c.Query.DefaultLimit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds new default fields while preserving existing
// values. Returns the list of field names that were added.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Query.WeightVector == 0 && c.Query.WeightField == 0 && c.Query.WeightGraph == 0 {
		c.Query.WeightVector = defaults.Query.WeightVector
		c.Query.WeightField = defaults.Query.WeightField
		c.Query.WeightGraph = defaults.Query.WeightGraph
		added = append(added, "query.weight_vector", "query.weight_field", "query.weight_graph")
	}
	if c.Cow.CompressionThreshold == 0 {
		c.Cow.CompressionThreshold = defaults.Cow.CompressionThreshold
		added = append(added, "cow.compression_threshold")
	}
	if c.Graph.HotAdjacencyCacheSize == 0 {
		c.Graph.HotAdjacencyCacheSize = defaults.Graph.HotAdjacencyCacheSize
		added = append(added, "graph.hot_adjacency_cache_size")
	}
	if c.MigrationGraceDays == 0 {
		c.MigrationGraceDays = defaults.MigrationGraceDays
		added = append(added, "migration_grace_days")
	}

	return added
}
