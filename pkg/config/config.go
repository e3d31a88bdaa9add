// Package config loads the settings of the call-graph pipeline.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/ipo-callgraph/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. IPO_GRAPH_VERIFY=false.
const EnvPrefix = "IPO"

// Config holds all configuration for the application.
type Config struct {
	Graph    GraphConfig    `mapstructure:"graph"`
	CallSite CallSiteConfig `mapstructure:"callsite"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Neo4j    Neo4jConfig    `mapstructure:"neo4j"`
}

// GraphConfig controls graph construction and cycle elimination.
// Dispatch with at least LikelySpuriousThreshold targets only bumps
// call-site counts. A non-zero MaxDepthThreshold cuts removable edges once
// the traversal is that deep.
type GraphConfig struct {
	LikelySpuriousThreshold       int    `mapstructure:"likely_spurious_threshold"`
	MaxDepthThreshold             int    `mapstructure:"max_depth_threshold"`
	AddCallEdgesForLibraryInvokes bool   `mapstructure:"add_call_edges_for_library_invokes"`
	Verify                        bool   `mapstructure:"verify"`
	Nondeterministic              bool   `mapstructure:"nondeterministic"`
	Seed                          uint64 `mapstructure:"seed"`
}

// CallSiteConfig controls call-site classification.
type CallSiteConfig struct {
	ExcludeLibraryMethodOverrides bool `mapstructure:"exclude_library_method_overrides"`
}

// WorkersConfig controls the population executor.
type WorkersConfig struct {
	MaxWorkers       int `mapstructure:"max_workers"`       // 0 means one per CPU
	ProgressInterval int `mapstructure:"progress_interval"` // in milliseconds, 0 disables
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // empty means stderr
}

// DatabaseConfig selects where build reports are persisted.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	DSN      string `mapstructure:"dsn"`  // sqlite file path, or a full DSN
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds artifact storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	Endpoint  string `mapstructure:"endpoint"`
	LocalPath string `mapstructure:"local_path"`
	Prefix    string `mapstructure:"prefix"`
	// Compression of uploaded dumps: none, gzip or zstd.
	Compression string `mapstructure:"compression"`
}

// Neo4jConfig holds graph database export configuration.
type Neo4jConfig struct {
	URI       string `mapstructure:"uri"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database"`
	BatchSize int    `mapstructure:"batch_size"`
}

// Load reads configuration from the specified file path. An empty path
// searches the standard locations. A missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ipo")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ipo-callgraph")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config file", err)
		}
	}

	return decode(v)
}

// LoadFromReader loads configuration from raw content.
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to read config", err)
	}
	return decode(v)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "failed to unmarshal config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("graph.likely_spurious_threshold", 50)
	v.SetDefault("graph.max_depth_threshold", 0)
	v.SetDefault("graph.add_call_edges_for_library_invokes", false)
	v.SetDefault("graph.verify", true)
	v.SetDefault("graph.nondeterministic", false)
	v.SetDefault("graph.seed", 0)

	v.SetDefault("callsite.exclude_library_method_overrides", true)

	v.SetDefault("workers.max_workers", 0)
	v.SetDefault("workers.progress_interval", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.database", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./artifacts")
	v.SetDefault("storage.prefix", "callgraph")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.secret_id", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.domain", "")
	v.SetDefault("storage.scheme", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.compression", "none")

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "")
	v.SetDefault("neo4j.batch_size", 500)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Graph.LikelySpuriousThreshold < 1 {
		return apperrors.New(apperrors.CodeConfigError, "graph.likely_spurious_threshold must be at least 1")
	}
	if c.Graph.MaxDepthThreshold < 0 {
		return apperrors.New(apperrors.CodeConfigError, "graph.max_depth_threshold must not be negative")
	}
	if c.Workers.MaxWorkers < 0 {
		return apperrors.New(apperrors.CodeConfigError, "workers.max_workers must not be negative")
	}
	switch c.Database.Type {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported database type: %s", c.Database.Type)
	}
	switch strings.ToLower(c.Storage.Compression) {
	case "", "none", "gzip", "zstd":
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported storage.compression: %s", c.Storage.Compression)
	}
	if c.Neo4j.BatchSize < 1 {
		return apperrors.New(apperrors.CodeConfigError, "neo4j.batch_size must be at least 1")
	}
	// Storage config validation is delegated to the storage package.
	return nil
}

// DatabaseDSN returns the DSN for the configured database, building one
// from the discrete fields when DSN is empty.
func (c *DatabaseConfig) DatabaseDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch c.Type {
	case "mysql":
		port := c.Port
		if port == 0 {
			port = 3306
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, port, c.Database)
	case "postgres", "postgresql":
		port := c.Port
		if port == 0 {
			port = 5432
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, port, c.User, c.Password, c.Database)
	default:
		return "ipo-reports.db"
	}
}
