// Package dbs implements the persisted timestamp cache: per-directory
// scopes mapping an image filename to its capture instant.
package dbs

import (
	"fmt"
)

// Store is a scope-partitioned filename -> capture instant cache. All
// methods are safe for concurrent use; writes are serialized.
type Store interface {
	Close() error

	// EnsureScope registers scope if it is not known yet. It performs no
	// write when the scope already exists.
	EnsureScope(scope string) error
	// ListFilenames returns every filename cached for scope.
	ListFilenames(scope string) (map[string]struct{}, error)
	// Upsert inserts or replaces the entry for filename in scope.
	Upsert(scope, filename string, capturedAt int64) error
	// DeleteMany removes the entries for filenames from scope, all or none.
	// Filenames that are not cached are ignored.
	DeleteMany(scope string, filenames []string) error
	// ListSorted returns all entries of scope ordered by CapturedAt, with
	// ties ordered by Filename.
	ListSorted(scope string) ([]Entry, error)
	// Scopes lists every registered scope ordered by path.
	Scopes() ([]ScopeInfo, error)
}

type Entry struct {
	Filename   string `json:"filename"`
	CapturedAt int64  `json:"captured_at"` // Unix seconds
}

type ScopeInfo struct {
	Path    string `json:"path"`
	Entries int    `json:"entries"`
}

// Backend names accepted by Open.
const (
	BackendQL     = "ql"
	BackendTiedot = "tiedot"
)

// Open opens (creating if needed) the store of the given backend at path.
// An empty backend selects ql.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendQL:
		return OpenQL(path)
	case BackendTiedot:
		return OpenTiedot(path)
	default:
		return nil, fmt.Errorf("unknown DB backend %q", backend)
	}
}

func less(a, b Entry) bool {
	if a.CapturedAt != b.CapturedAt {
		return a.CapturedAt < b.CapturedAt
	}
	return a.Filename < b.Filename
}
