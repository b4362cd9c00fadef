package types

// Partition is one independently scanned group of database files: a chunk
// family, or the whole single-file store.
type Partition struct {
	Name  string
	Files []string // newest first
}
