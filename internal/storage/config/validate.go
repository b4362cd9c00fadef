package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/xtxerr/plclogger/internal/storage/types"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Layout {
	case LayoutChunked, LayoutSingle:
	default:
		errs = append(errs, fmt.Errorf("layout must be %q or %q, got %q", LayoutChunked, LayoutSingle, c.Layout))
	}

	if c.Root == "" {
		errs = append(errs, errors.New("root is required"))
	}

	if c.BusyTimeout < 0 {
		errs = append(errs, errors.New("busy_timeout must not be negative"))
	}

	if c.EnforceEvery < 0 {
		errs = append(errs, errors.New("enforce_every must not be negative"))
	}

	if c.Layout == LayoutChunked {
		if err := c.Chunks.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("chunks: %w", err))
		}
	}

	if c.Layout == LayoutSingle {
		if err := c.Retention.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("retention: %w", err))
		}
	}

	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	if c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy >= 1 {
		errs = append(errs, errors.New("percentile.accuracy must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the chunk configuration.
func (c *ChunkConfig) Validate() error {
	var errs []error

	if c.MaxMB <= 0 {
		errs = append(errs, errors.New("chunk_max_mb must be positive"))
	}

	if c.TotalCapMB < 0 {
		errs = append(errs, errors.New("total_cap_mb must not be negative"))
	}

	if c.TotalCapMB > 0 && c.TotalCapMB < c.MaxMB {
		errs = append(errs, errors.New("total_cap_mb should be >= chunk_max_mb"))
	}

	if _, err := c.FamilyCaps(); err != nil {
		errs = append(errs, err)
	}

	if _, err := c.Overrides(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// FamilyCaps returns the per-family caps in bytes.
func (c *ChunkConfig) FamilyCaps() (map[types.Family]int64, error) {
	out := make(map[types.Family]int64, len(c.FamilyCapsMB))
	var errs []error
	for name, mb := range c.FamilyCapsMB {
		f, err := types.ParseFamily(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("family_caps_mb: %w", err))
			continue
		}
		if mb < 0 {
			errs = append(errs, fmt.Errorf("family_caps_mb.%s must not be negative", name))
			continue
		}
		if mb > 0 {
			out[f] = Bytes(mb)
		}
	}
	return out, errors.Join(errs...)
}

// Overrides returns the tag to family overrides.
func (c *ChunkConfig) Overrides() (map[string]types.Family, error) {
	out := make(map[string]types.Family, len(c.FamilyOverrides))
	var errs []error
	for tag, name := range c.FamilyOverrides {
		f, err := types.ParseFamily(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("family_overrides.%s: %w", tag, err))
			continue
		}
		out[tag] = f
	}
	return out, errors.Join(errs...)
}

// Validate checks the single-file retention configuration.
func (c *RetentionConfig) Validate() error {
	var errs []error

	if c.MaxDBMB <= 0 {
		errs = append(errs, errors.New("max_db_mb must be positive"))
	}

	if c.RawKeepDays < 0 {
		errs = append(errs, errors.New("raw_keep_days must not be negative"))
	}

	if c.DeleteBatch <= 0 {
		errs = append(errs, errors.New("delete_batch must be positive"))
	}

	if c.VacuumPages < 0 {
		errs = append(errs, errors.New("vacuum_pages must not be negative"))
	}

	if c.MinGainMB < 0 {
		errs = append(errs, errors.New("min_gain_mb must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// RawKeep returns RawKeepDays as a duration. 0 disables the age phase.
func (c *RetentionConfig) RawKeep() time.Duration {
	return time.Duration(c.RawKeepDays) * 24 * time.Hour
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.BusyWait < 0 {
		errs = append(errs, errors.New("busy_wait must not be negative"))
	}

	if c.MaxLimit <= 0 {
		errs = append(errs, errors.New("max_limit must be positive"))
	}

	if c.BucketFetchFactor < 1 {
		errs = append(errs, errors.New("bucket_fetch_factor must be >= 1"))
	}

	if c.BucketFetchMin < 0 {
		errs = append(errs, errors.New("bucket_fetch_min must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	validCodecs := map[string]bool{
		"zstd":   true,
		"snappy": true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validCodecs[c.Compression] {
		return errors.New("compression must be one of: zstd, snappy, gzip, none")
	}
	return nil
}
