package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ipo-callgraph/pkg/errors"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "ipo.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("log:\n  level: debug\n"), 0644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Graph.LikelySpuriousThreshold)
	assert.Equal(t, 0, cfg.Graph.MaxDepthThreshold)
	assert.True(t, cfg.Graph.Verify)
	assert.False(t, cfg.Graph.Nondeterministic)
	assert.True(t, cfg.CallSite.ExcludeLibraryMethodOverrides)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, 500, cfg.Neo4j.BatchSize)
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "ipo.yaml")
	content := `
graph:
  likely_spurious_threshold: 8
  max_depth_threshold: 64
  add_call_edges_for_library_invokes: true
  verify: false
  nondeterministic: true
  seed: 42
callsite:
  exclude_library_method_overrides: false
workers:
  max_workers: 3
database:
  enabled: true
  type: postgres
  host: db.example.com
  port: 5433
  database: reports
  user: ipo
  password: secret
storage:
  type: cos
  bucket: artifacts-1250000000
  region: ap-guangzhou
neo4j:
  uri: bolt://graph:7687
  batch_size: 50
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Graph.LikelySpuriousThreshold)
	assert.Equal(t, 64, cfg.Graph.MaxDepthThreshold)
	assert.True(t, cfg.Graph.AddCallEdgesForLibraryInvokes)
	assert.False(t, cfg.Graph.Verify)
	assert.True(t, cfg.Graph.Nondeterministic)
	assert.Equal(t, uint64(42), cfg.Graph.Seed)
	assert.False(t, cfg.CallSite.ExcludeLibraryMethodOverrides)
	assert.Equal(t, 3, cfg.Workers.MaxWorkers)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "host=db.example.com port=5433 user=ipo password=secret dbname=reports sslmode=disable", cfg.Database.DatabaseDSN())
	assert.Equal(t, "cos", cfg.Storage.Type)
	assert.Equal(t, "bolt://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, 50, cfg.Neo4j.BatchSize)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Graph.LikelySpuriousThreshold)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("IPO_GRAPH_LIKELY_SPURIOUS_THRESHOLD", "7")
	t.Setenv("IPO_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Graph.LikelySpuriousThreshold)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader("yaml", []byte("graph:\n  max_depth_threshold: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Graph.MaxDepthThreshold)

	_, err = LoadFromReader("yaml", []byte("graph: [unclosed"))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"threshold", func(c *Config) { c.Graph.LikelySpuriousThreshold = 0 }, "likely_spurious_threshold"},
		{"depth", func(c *Config) { c.Graph.MaxDepthThreshold = -1 }, "max_depth_threshold"},
		{"workers", func(c *Config) { c.Workers.MaxWorkers = -2 }, "max_workers"},
		{"database", func(c *Config) { c.Database.Type = "oracle" }, "unsupported database type"},
		{"compression", func(c *Config) { c.Storage.Compression = "lz4" }, "storage.compression"},
		{"batch", func(c *Config) { c.Neo4j.BatchSize = 0 }, "batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	mysql := DatabaseConfig{Type: "mysql", Host: "h", User: "u", Password: "p", Database: "d"}
	assert.Equal(t, "u:p@tcp(h:3306)/d?charset=utf8mb4&parseTime=True&loc=Local", mysql.DatabaseDSN())

	sqlite := DatabaseConfig{Type: "sqlite", DSN: "/tmp/r.db"}
	assert.Equal(t, "/tmp/r.db", sqlite.DatabaseDSN())
}
