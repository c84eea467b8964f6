// Package config provides configuration for mtgsql sessions and the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration of a session.
type Config struct {
	// DataDir is the base directory for all local files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Artifacts configures where raw dataset files come from
	Artifacts ArtifactsConfig `json:"artifacts" yaml:"artifacts"`

	// Engine configures the embedded DuckDB database
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Schema configures the array-column classifier
	Schema SchemaConfig `json:"schema" yaml:"schema"`

	// Query configures builder defaults
	Query QueryConfig `json:"query" yaml:"query"`

	// Prices configures the price flattening transform
	Prices PricesConfig `json:"prices" yaml:"prices"`

	// Manifest configures the build ledger
	Manifest ManifestConfig `json:"manifest" yaml:"manifest"`
}

// ArtifactsConfig holds raw artifact source configuration.
type ArtifactsConfig struct {
	// Type is the source type: local, s3
	Type string `json:"type" yaml:"type"`

	// Dir is the directory holding the artifacts (local type) or the
	// local mirror of the bucket (s3 type)
	Dir string `json:"dir" yaml:"dir"`

	// CacheMaxBytes bounds the mirror's download cache (s3 type)
	CacheMaxBytes int64 `json:"cache_max_bytes" yaml:"cache_max_bytes"`

	// Files overrides the relative path of a view's source artifact
	Files map[string]string `json:"files" yaml:"files"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`

	// UsePathStyle forces path-style addressing (MinIO and friends)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// EngineConfig holds DuckDB configuration.
type EngineConfig struct {
	// Path is the database file; empty means in-memory
	Path string `json:"path" yaml:"path"`

	// Threads is the DuckDB worker thread count (0 = engine default)
	Threads int `json:"threads" yaml:"threads"`

	// MemoryLimit is passed through as DuckDB's memory_limit, e.g. "2GB"
	MemoryLimit string `json:"memory_limit" yaml:"memory_limit"`

	// MaxOpenConns bounds the database/sql pool
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns"`
}

// SchemaConfig holds classifier overrides.
type SchemaConfig struct {
	// ArrayColumns adds baseline array columns per relation
	ArrayColumns map[string][]string `json:"array_columns" yaml:"array_columns"`

	// ScalarColumns adds blocklisted (always scalar) columns for every relation
	ScalarColumns []string `json:"scalar_columns" yaml:"scalar_columns"`

	// ShapeCacheSize bounds the verdict cache
	ShapeCacheSize int `json:"shape_cache_size" yaml:"shape_cache_size"`
}

// QueryConfig holds query builder defaults.
type QueryConfig struct {
	// FuzzyThreshold is the default Jaro-Winkler similarity cut-off
	FuzzyThreshold float64 `json:"fuzzy_threshold" yaml:"fuzzy_threshold"`
}

// PricesConfig holds price flattening configuration.
type PricesConfig struct {
	// Sources are tree levels recognised as the price source (paper, mtgo)
	Sources []string `json:"sources" yaml:"sources"`

	// PriceTypes are tree levels recognised as the price type (retail, buylist)
	PriceTypes []string `json:"price_types" yaml:"price_types"`

	// ExpectedEntities sizes the loader's duplicate-entity filter
	ExpectedEntities uint64 `json:"expected_entities" yaml:"expected_entities"`

	// BufferSize is the streaming reader buffer in bytes
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`
}

// ManifestConfig holds build ledger configuration.
type ManifestConfig struct {
	// Enabled turns the SQLite build ledger on
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the ledger database path
	Path string `json:"path" yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/mtgsql",
		Artifacts: ArtifactsConfig{
			Type:          "local",
			CacheMaxBytes: 4 << 30,
		},
		Engine: EngineConfig{
			MaxOpenConns: 4,
		},
		Schema: SchemaConfig{
			ShapeCacheSize: 4096,
		},
		Query: QueryConfig{
			FuzzyThreshold: 0.85,
		},
		Prices: PricesConfig{
			Sources:          []string{"paper", "mtgo"},
			PriceTypes:       []string{"retail", "buylist"},
			ExpectedEntities: 120000,
			BufferSize:       64 * 1024,
		},
		Manifest: ManifestConfig{
			Enabled: true,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/mtgsql"
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = filepath.Join(c.DataDir, "artifacts")
	}
	if c.Manifest.Path == "" {
		c.Manifest.Path = filepath.Join(c.DataDir, "manifest.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Artifacts.Type != "local" && c.Artifacts.Type != "s3" {
		return fmt.Errorf("invalid artifacts type: %s (must be local or s3)", c.Artifacts.Type)
	}

	if c.Artifacts.Type == "s3" && c.Artifacts.S3.Bucket == "" {
		return fmt.Errorf("artifacts.s3.bucket is required when artifacts type is s3")
	}

	if c.Engine.Threads < 0 {
		return fmt.Errorf("engine.threads must be >= 0, got %d", c.Engine.Threads)
	}

	if c.Query.FuzzyThreshold < 0 || c.Query.FuzzyThreshold > 1 {
		return fmt.Errorf("query.fuzzy_threshold must be between 0 and 1, got %v", c.Query.FuzzyThreshold)
	}

	if c.Schema.ShapeCacheSize <= 0 {
		return fmt.Errorf("schema.shape_cache_size must be positive, got %d", c.Schema.ShapeCacheSize)
	}

	for _, s := range c.Prices.Sources {
		for _, p := range c.Prices.PriceTypes {
			if s == p {
				return fmt.Errorf("prices: %q cannot be both a source and a price type", s)
			}
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the MTGSQL_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MTGSQL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Artifact configuration
	if v := os.Getenv("MTGSQL_ARTIFACTS_TYPE"); v != "" {
		cfg.Artifacts.Type = v
	}
	if v := os.Getenv("MTGSQL_ARTIFACTS_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}
	if v := os.Getenv("MTGSQL_S3_BUCKET"); v != "" {
		cfg.Artifacts.S3.Bucket = v
	}
	if v := os.Getenv("MTGSQL_S3_REGION"); v != "" {
		cfg.Artifacts.S3.Region = v
	}
	if v := os.Getenv("MTGSQL_S3_ENDPOINT"); v != "" {
		cfg.Artifacts.S3.Endpoint = v
	}
	if v := os.Getenv("MTGSQL_S3_PREFIX"); v != "" {
		cfg.Artifacts.S3.Prefix = v
	}

	// Engine configuration
	if v := os.Getenv("MTGSQL_ENGINE_PATH"); v != "" {
		cfg.Engine.Path = v
	}
	if v := os.Getenv("MTGSQL_ENGINE_THREADS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Engine.Threads)
	}
	if v := os.Getenv("MTGSQL_ENGINE_MEMORY_LIMIT"); v != "" {
		cfg.Engine.MemoryLimit = v
	}

	// Query configuration
	if v := os.Getenv("MTGSQL_QUERY_FUZZY_THRESHOLD"); v != "" {
		fmt.Sscanf(v, "%g", &cfg.Query.FuzzyThreshold)
	}

	// Manifest configuration
	if v := os.Getenv("MTGSQL_MANIFEST_ENABLED"); v != "" {
		cfg.Manifest.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MTGSQL_MANIFEST_PATH"); v != "" {
		cfg.Manifest.Path = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Artifacts.Dir}
	if c.Manifest.Enabled && c.Manifest.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Manifest.Path))
	}
	if c.Engine.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Engine.Path))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
