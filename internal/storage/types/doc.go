// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - LogRow: one logged observation (timestamp, tag, value, unit)
//   - Family: storage partition a tag's rows are routed to
//   - AggregateResult: statistics for one time bucket of one tag
//   - RuntimeState: poll loop health persisted next to the data
package types
