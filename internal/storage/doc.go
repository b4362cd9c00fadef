// Package storage persists PLC log rows in SQLite and answers time-range
// queries over them.
//
// Two layouts sit behind one Service:
//
//	chunked:  {root}/chunks/{continuous,conditional,onchange}/plc-*.db
//	          {root}/meta.db
//	single:   {root}/plc.db (logs and metadata in one file)
//
// The chunked layout routes each tag to a family by its logging policy,
// rotates the active chunk of a family at chunk_max_mb and enforces its
// caps by deleting whole chunk files, continuous first and on-change last.
// Evicted chunks can be exported to Parquet first (see package archive).
//
// The single-file layout keeps the file under max_db_mb by deleting rows in
// batches and releasing pages with incremental auto-vacuum (see package
// retention).
//
// A store has one writer process. Readers such as the API open it with
// OpenReadOnly and retry briefly on lock contention.
package storage
