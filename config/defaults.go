// Package config provides configuration defaults for the plclogger
// binaries.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via plclogger.yaml or command-line flags.
package config

import "time"

// =============================================================================
// PLC Defaults
// =============================================================================

const (
	// DefaultPLCPort is the Modbus/TCP port.
	// Override via config: plc.port
	DefaultPLCPort = 502

	// DefaultPLCUnitID is the Modbus unit identifier sent with each request.
	// Override via config: plc.unit_id
	DefaultPLCUnitID = 1

	// DefaultPLCTimeout bounds a single register read or write.
	// Override via config: plc.timeout
	DefaultPLCTimeout = 2 * time.Second

	// DefaultWordOrder is the register order for 32-bit values.
	// "HL" puts the high word first, "LH" the low word first.
	// Override via config: plc.word_order
	DefaultWordOrder = "HL"
)

// =============================================================================
// Poll Loop Defaults
// =============================================================================

const (
	// DefaultSampleInterval is how often the status window is read.
	// Override via config: poll.sample_interval
	DefaultSampleInterval = 200 * time.Millisecond

	// DefaultFlushInterval is the minimum spacing between batch writes.
	// Storage sees at most one write transaction per family per interval.
	// Override via config: poll.flush_interval
	DefaultFlushInterval = time.Second

	// DefaultMaxPending caps the rows kept in memory while storage fails.
	// The oldest rows are dropped beyond this.
	// Override via config: poll.max_pending
	DefaultMaxPending = 50000

	// DefaultBackoffMin is the first reconnect delay after a read failure.
	// Override via config: poll.backoff.min
	DefaultBackoffMin = 500 * time.Millisecond

	// DefaultBackoffMax caps the reconnect delay.
	// Override via config: poll.backoff.max
	DefaultBackoffMax = 30 * time.Second

	// DefaultBackoffFactor is the growth factor between attempts.
	// Override via config: poll.backoff.factor
	DefaultBackoffFactor = 2.0

	// DefaultBackoffJitter is the +/- fraction applied to each delay.
	// Range: 0.0-1.0
	// Override via config: poll.backoff.jitter
	DefaultBackoffJitter = 0.2

	// DefaultFaultResetHold is how long the fault-reset coil is held high.
	// Override via config: plc.fault_reset_hold
	DefaultFaultResetHold = 200 * time.Millisecond
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultStorageRoot is the chunked layout root directory.
	// Override via config: storage.root
	DefaultStorageRoot = "/var/lib/plclogger"

	// DefaultChunkMaxMB is the size at which the active chunk is rotated.
	// Override via config: storage.chunk_max_mb
	DefaultChunkMaxMB = 256

	// DefaultTotalCapMB is the global cap across all families.
	// Override via config: storage.total_cap_mb
	DefaultTotalCapMB = 20480

	// DefaultEnforceEvery is the minimum spacing between periodic quota runs.
	// Override via config: storage.enforce_every
	DefaultEnforceEvery = 5 * time.Minute

	// DefaultBusyTimeout is the SQLite busy_timeout for every connection.
	// Override via config: storage.busy_timeout
	DefaultBusyTimeout = 5 * time.Second

	// DefaultQueryBusyWait bounds the retry loop of a read that hits SQLITE_BUSY.
	// Override via config: storage.query.busy_wait
	DefaultQueryBusyWait = 3 * time.Second
)

// =============================================================================
// Single-File Retention Defaults
// =============================================================================

const (
	// DefaultMaxDBMB is the cap for the single-file layout.
	// Override via config: storage.retention.max_db_mb
	DefaultMaxDBMB = 512

	// DefaultRawKeepDays is the age beyond which rows are deleted first.
	// Override via config: storage.retention.raw_keep_days
	DefaultRawKeepDays = 14

	// DefaultDeleteBatch is the row count removed per retention batch.
	// Override via config: storage.retention.delete_batch
	DefaultDeleteBatch = 10000

	// DefaultVacuumPages is the page count released per incremental vacuum.
	// Override via config: storage.retention.vacuum_pages
	DefaultVacuumPages = 2000

	// DefaultMinGainMB ends a retention phase whose last batch shrank the
	// file by less than this.
	// Override via config: storage.retention.min_gain_mb
	DefaultMinGainMB = 0.5
)

// DefaultPurgeTags are the high-volume tags purged in phase B.
var DefaultPurgeTags = []string{"SYS_WetWellLevel"}

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryLimit is used when a request carries no limit.
	DefaultQueryLimit = 500

	// DefaultQueryMaxLimit caps any requested limit.
	// Override via config: storage.query.max_limit
	DefaultQueryMaxLimit = 100000

	// DefaultBucketFetchFactor multiplies the limit for bucketed queries.
	DefaultBucketFetchFactor = 4

	// DefaultBucketFetchMin is the smallest raw fetch for bucketed queries.
	DefaultBucketFetchMin = 2000

	// DefaultWeekStart is the first day of a "week" preset.
	// Override via config: api.week_start
	DefaultWeekStart = time.Monday
)

// =============================================================================
// API Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default API listen address.
	// Override via config: api.listen
	DefaultListenAddress = "0.0.0.0:8080"

	// DefaultShutdownTimeout is how long in-flight requests get on shutdown.
	// Override via config: api.shutdown_timeout
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultCSVLimit is the row limit of a CSV download without one.
	DefaultCSVLimit = 100000

	// DefaultCSVFetchMin is the smallest raw fetch for CSV downloads.
	DefaultCSVFetchMin = 5000

	// DefaultReadTimeout bounds reading one request, headers included.
	DefaultReadTimeout = 15 * time.Second

	// DefaultMaxMessageSize bounds one framed row of the binary export.
	DefaultMaxMessageSize = 64 * 1024
)
