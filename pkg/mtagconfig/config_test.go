package mtagconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "mtag.yaml")
	content := `
database:
  host: localhost
  type: sqlite
storage:
  type: local
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	cfg, err := Load(configFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 256, cfg.Profiler.MaxNodes)
	assert.Equal(t, 256, cfg.Profiler.MaxLevels)
	assert.Equal(t, 16, cfg.Profiler.MaxSiblings)
	assert.Equal(t, 128, cfg.Profiler.MaxTrees)
	assert.Equal(t, "goheap", cfg.Profiler.Allocator)
	assert.Equal(t, 1, cfg.Scheduler.PollInterval)
	assert.Equal(t, "zstd", cfg.Storage.Compress)
}

func TestValidate_RejectsUnknownCompressType(t *testing.T) {
	cfg := &Config{
		Profiler: ProfilerConfig{MaxNameLen: 32, MaxNodes: 1},
		Database: DatabaseConfig{Type: "sqlite"},
		Storage:  StorageConfig{Type: "local", Compress: "lz4"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compression")
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "mtag.yaml")
	content := `
profiler:
  max_nodes: 1024
  max_levels: 64
  allocator: mmap
database:
  type: postgres
  host: db.example.com
  port: 5432
storage:
  type: cos
  bucket: mtag-snapshots
  region: ap-singapore
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Profiler.MaxNodes)
	assert.Equal(t, 64, cfg.Profiler.MaxLevels)
	assert.Equal(t, "mmap", cfg.Profiler.Allocator)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "cos", cfg.Storage.Type)
	assert.Equal(t, "mtag-snapshots", cfg.Storage.Bucket)
}

func TestLoadFromReader(t *testing.T) {
	content := []byte(`
profiler:
  max_name_len: 48
database:
  type: mysql
storage:
  type: local
  local_path: /tmp/mtag
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, 48, cfg.Profiler.MaxNameLen)
	assert.Equal(t, "mysql", cfg.Database.Type)
}

func TestValidate_RejectsShortNameLen(t *testing.T) {
	cfg := &Config{
		Profiler: ProfilerConfig{MaxNameLen: 4, MaxNodes: 10},
		Database: DatabaseConfig{Type: "sqlite"},
		Storage:  StorageConfig{Type: "local"},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownStorageType(t *testing.T) {
	cfg := &Config{
		Profiler: ProfilerConfig{MaxNameLen: 32, MaxNodes: 10},
		Database: DatabaseConfig{Type: "sqlite"},
		Storage:  StorageConfig{Type: "s3"},
	}
	assert.Error(t, cfg.Validate())
}

func TestEnsureLocalStorageDir(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{Storage: StorageConfig{Type: "local", LocalPath: filepath.Join(dir, "out")}}
	require.NoError(t, cfg.EnsureLocalStorageDir())
	info, err := os.Stat(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
