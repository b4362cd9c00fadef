package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/plclogger/config"
)

// Storage layouts.
const (
	LayoutChunked = "chunked"
	LayoutSingle  = "single"
)

// MiB is the byte multiplier of every *_mb setting.
const MiB = 1024 * 1024

// Config represents the complete storage configuration.
type Config struct {
	// Layout selects "chunked" (per-family rotating files) or "single"
	// (one database file with in-place retention).
	Layout string `yaml:"layout"`

	// Root is the directory holding chunks/, meta.db and archive/.
	Root string `yaml:"root"`

	// Path is the single-file database. Defaults to {Root}/plc.db.
	Path string `yaml:"path"`

	// BusyTimeout is the SQLite busy_timeout of every connection.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// EnforceEvery is the minimum spacing between periodic quota runs.
	EnforceEvery time.Duration `yaml:"enforce_every"`

	// Chunks configures the chunked layout.
	Chunks ChunkConfig `yaml:"chunks"`

	// Retention configures the single-file layout.
	Retention RetentionConfig `yaml:"retention"`

	// Query configures the read path.
	Query QueryConfig `yaml:"query"`

	// Archive configures Parquet export of evicted chunks.
	Archive ArchiveConfig `yaml:"archive"`

	// Percentile configures DDSketch statistics of bucketed queries.
	Percentile PercentileConfig `yaml:"percentile"`
}

// ChunkConfig configures the chunked layout.
type ChunkConfig struct {
	// MaxMB rotates the active chunk once it reaches this size.
	MaxMB float64 `yaml:"chunk_max_mb"`

	// TotalCapMB is the global cap across every family. 0 disables it.
	TotalCapMB float64 `yaml:"total_cap_mb"`

	// FamilyCapsMB caps individual families, keyed by family name.
	FamilyCapsMB map[string]float64 `yaml:"family_caps_mb"`

	// FamilyOverrides routes named tags to a family regardless of their
	// logging policy.
	FamilyOverrides map[string]string `yaml:"family_overrides"`
}

// RetentionConfig configures the single-file layout.
type RetentionConfig struct {
	// MaxDBMB is the size cap of the database file (main + wal + shm).
	MaxDBMB float64 `yaml:"max_db_mb"`

	// RawKeepDays: rows older than this are deleted first.
	RawKeepDays int `yaml:"raw_keep_days"`

	// DeleteBatch is the row count removed per batch.
	DeleteBatch int `yaml:"delete_batch"`

	// VacuumPages is the page count released after each batch.
	VacuumPages int `yaml:"vacuum_pages"`

	// PurgeTags are deleted, oldest first, before touching other tags.
	PurgeTags []string `yaml:"purge_tags"`

	// MinGainMB ends a phase whose last batch shrank the file by less.
	MinGainMB float64 `yaml:"min_gain_mb"`
}

// QueryConfig configures the read path.
type QueryConfig struct {
	// BusyWait bounds retries of a read that hits SQLITE_BUSY.
	BusyWait time.Duration `yaml:"busy_wait"`

	// MaxLimit caps the row limit of any query.
	MaxLimit int `yaml:"max_limit"`

	// BucketFetchFactor and BucketFetchMin size the raw fetch of bucketed
	// queries: max(limit*factor, min).
	BucketFetchFactor int `yaml:"bucket_fetch_factor"`
	BucketFetchMin    int `yaml:"bucket_fetch_min"`
}

// ArchiveConfig configures Parquet export of evicted chunks.
type ArchiveConfig struct {
	// Enabled exports each chunk before quota enforcement deletes it.
	Enabled bool `yaml:"enabled"`

	// Dir is the archive directory. Defaults to {Root}/archive.
	Dir string `yaml:"dir"`

	// Compression is the Parquet codec: zstd, snappy, gzip, none.
	Compression string `yaml:"compression"`

	// MemoryLimit caps DuckDB memory of archive analysis (e.g. "512MB").
	MemoryLimit string `yaml:"memory_limit"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Layout:       LayoutChunked,
		Root:         defaults.DefaultStorageRoot,
		BusyTimeout:  defaults.DefaultBusyTimeout,
		EnforceEvery: defaults.DefaultEnforceEvery,
		Chunks: ChunkConfig{
			MaxMB:      defaults.DefaultChunkMaxMB,
			TotalCapMB: defaults.DefaultTotalCapMB,
		},
		Retention: RetentionConfig{
			MaxDBMB:     defaults.DefaultMaxDBMB,
			RawKeepDays: defaults.DefaultRawKeepDays,
			DeleteBatch: defaults.DefaultDeleteBatch,
			VacuumPages: defaults.DefaultVacuumPages,
			PurgeTags:   append([]string(nil), defaults.DefaultPurgeTags...),
			MinGainMB:   defaults.DefaultMinGainMB,
		},
		Query: QueryConfig{
			BusyWait:          defaults.DefaultQueryBusyWait,
			MaxLimit:          defaults.DefaultQueryMaxLimit,
			BucketFetchFactor: defaults.DefaultBucketFetchFactor,
			BucketFetchMin:    defaults.DefaultBucketFetchMin,
		},
		Archive: ArchiveConfig{
			Compression: "zstd",
		},
		Percentile: PercentileConfig{
			Accuracy: 0.01,
		},
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Root}
	switch c.Layout {
	case LayoutChunked:
		dirs = append(dirs, c.ChunksDir())
	case LayoutSingle:
		dirs = append(dirs, filepath.Dir(c.SinglePath()))
	}
	if c.Archive.Enabled {
		dirs = append(dirs, c.ArchiveDir())
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ChunksDir returns the parent of the per-family chunk directories.
func (c *Config) ChunksDir() string {
	return filepath.Join(c.Root, "chunks")
}

// MetaPath returns the metadata database of the chunked layout. The
// single-file layout keeps its metadata in the data file.
func (c *Config) MetaPath() string {
	if c.Layout == LayoutSingle {
		return c.SinglePath()
	}
	return filepath.Join(c.Root, "meta.db")
}

// SinglePath returns the single-file database path.
func (c *Config) SinglePath() string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(c.Root, "plc.db")
}

// ArchiveDir returns the Parquet archive directory.
func (c *Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return filepath.Join(c.Root, "archive")
}

// Bytes converts a *_mb setting to bytes.
func Bytes(mb float64) int64 {
	return int64(mb * MiB)
}
