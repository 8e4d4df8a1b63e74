// Package catalog defines the replica catalogue contract (spec.md §4.3):
// the two-relation logical view of which physical file names back a
// logical file name, and the attribute store layered over the same key.
// Two backends implement Catalog: memorycat for tests and standalone
// mode, cassandracat for production (Cassandra-backed with a Redis
// write-through cache).
package catalog

import "context"

// Iterator carries forEachFile's continue/stop decision back to the
// catalogue, and lets the callback short-circuit a potentially large scan
// without the catalogue needing to know anything about the caller's state.
type Iterator struct {
	// Stop set to true by the callback halts the scan after this entry.
	Stop bool
}

// FileVisitor is called once per LFN matched by forEachFile's prefix.
type FileVisitor func(ctx context.Context, lfn string, it *Iterator) error

// Catalog is the replica catalogue contract every backend implements.
// Every method is safe for concurrent use; callers needing a stable
// multi-call view (e.g. the control thread's reconciliation tick) should
// rely on getLocations/getAllAttributeValues snapshots rather than
// assuming isolation across calls.
type Catalog interface {
	// GetLocations returns every pfn currently recorded for lfn, or an
	// empty slice if lfn is unknown.
	GetLocations(ctx context.Context, lfn string) ([]string, error)

	// AddLocation idempotently records pfn as a replica of lfn.
	AddLocation(ctx context.Context, lfn, pfn string) error

	// RemoveLocation idempotently removes pfn from lfn's replica set. When
	// the last location for lfn is removed, every attribute for lfn is
	// deleted in the same logical operation (spec.md §4.3's invariant).
	RemoveLocation(ctx context.Context, lfn, pfn string) error

	// GetAttribute returns the stored value, or the digs.NullAttribute
	// sentinel for both "missing" and "present but empty" — the two cases
	// are deliberately indistinguishable per spec.md §4.3.
	GetAttribute(ctx context.Context, lfn, key string) (string, error)

	// SetAttribute upserts key=value for lfn. It rejects a literal
	// digs.NullAttribute value so that, going forward, a caller reading
	// that sentinel back always means "never set" rather than "someone
	// explicitly stored the ambiguous marker".
	SetAttribute(ctx context.Context, lfn, key, value string) error

	// ForEachFile iterates every LFN whose path has prefix as a directory
	// prefix (spec.md's DirName semantics), calling visit for each. The
	// scan stops early if visit sets it.Stop or returns an error.
	ForEachFile(ctx context.Context, prefix string, visit FileVisitor) error

	// GetAllAttributeValues returns a snapshot of lfn -> value for every
	// LFN that has key set, used by bulk/recursive commands that would
	// otherwise issue one GetAttribute call per file.
	GetAllAttributeValues(ctx context.Context, key string) (map[string]string, error)
}
