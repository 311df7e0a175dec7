package dbs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	tiedot "github.com/HouzuoGuo/tiedot/db"

	"github.com/akavel/imagev/query"
)

// tdb keeps entries as documents {"scope", "filename", "capturedAt"} and
// scopes as {"path"}. tiedot has no transactions, so DeleteMany undoes a
// failed batch by re-inserting what it already removed.
type tdb struct {
	mu      sync.Mutex
	t       *tiedot.DB
	entries *tiedot.Col
	scopes  *tiedot.Col

	// beforeCommit, if set, runs after DeleteMany removed every document;
	// a non-nil error makes it restore them.
	beforeCommit func() error
}

type loose = map[string]interface{}

var _ Store = (*tdb)(nil)

func OpenTiedot(path string) (Store, error) {
	t, err := tiedot.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("opening tiedot DB: %w", err)
	}
	indexes := map[string][][]string{
		"Entries": {{"scope"}, {"filename"}},
		"Scopes":  {{"path"}},
	}
	for name, paths := range indexes {
		if !t.ColExists(name) {
			err = t.Create(name)
			if err != nil {
				t.Close()
				return nil, fmt.Errorf("initializing tiedot DB %q: %w", path, err)
			}
		}
		col := t.Use(name)
		for _, ind := range paths {
			err = col.Index(ind)
			if err != nil && !strings.HasSuffix(err.Error(), "is already indexed") {
				t.Close()
				return nil, fmt.Errorf("initializing tiedot DB %q index %v: %w",
					path, ind, err)
			}
		}
	}
	return &tdb{
		t:       t,
		entries: t.Use("Entries"),
		scopes:  t.Use("Scopes"),
	}, nil
}

func (db *tdb) Close() error { return db.t.Close() }

func (db *tdb) EnsureScope(scope string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ids, err := db.query(db.scopes, query.EqLimit(scope, query.Path{"path"}, 1))
	if err != nil {
		return fmt.Errorf("tiedot DB checking scope %q: %w", scope, err)
	}
	if len(ids) > 0 {
		return nil
	}
	_, err = db.scopes.Insert(loose{"path": scope})
	if err != nil {
		return fmt.Errorf("tiedot DB creating scope %q: %w", scope, err)
	}
	return nil
}

func (db *tdb) ListFilenames(scope string) (map[string]struct{}, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	entries, err := db.scopeEntries(scope)
	if err != nil {
		return nil, fmt.Errorf("tiedot DB listing %q: %w", scope, err)
	}
	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		names[e.Filename] = struct{}{}
	}
	return names, nil
}

func (db *tdb) Upsert(scope, filename string, capturedAt int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ids, err := db.entryIDs(scope, filename)
	if err != nil {
		return fmt.Errorf("tiedot DB upsert %q in %q: %w", filename, scope, err)
	}
	doc := loose{
		"scope":      scope,
		"filename":   filename,
		"capturedAt": capturedAt,
	}
	switch len(ids) {
	case 0: // Insert new
		_, err = db.entries.Insert(doc)
	case 1: // Update existing
		err = db.entries.Update(int(ids[0]), doc)
	default:
		return fmt.Errorf("tiedot DB upsert %q in %q: found %d entries: %v", filename, scope, len(ids), ids)
	}
	if err != nil {
		return fmt.Errorf("tiedot DB upsert %q in %q: %w", filename, scope, err)
	}
	return nil
}

func (db *tdb) DeleteMany(scope string, filenames []string) error {
	if len(filenames) == 0 {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	var removed []loose
	undo := func(cause error) error {
		for _, doc := range removed {
			if _, err := db.entries.Insert(doc); err != nil {
				return fmt.Errorf("tiedot DB delete from %q: %v (restoring %q: %w)",
					scope, cause, doc["filename"], err)
			}
		}
		return fmt.Errorf("tiedot DB delete from %q: %w", scope, cause)
	}

	for _, name := range filenames {
		ids, err := db.entryIDs(scope, name)
		if err != nil {
			return undo(err)
		}
		for _, id := range ids {
			doc, err := db.entries.Read(int(id))
			if err != nil {
				return undo(err)
			}
			err = db.entries.Delete(int(id))
			if err != nil {
				return undo(err)
			}
			removed = append(removed, doc)
		}
	}
	if db.beforeCommit != nil {
		if err := db.beforeCommit(); err != nil {
			return undo(err)
		}
	}
	return nil
}

func (db *tdb) ListSorted(scope string) ([]Entry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	entries, err := db.scopeEntries(scope)
	if err != nil {
		return nil, fmt.Errorf("tiedot DB sorting %q: %w", scope, err)
	}
	sort.Slice(entries, func(i, j int) bool { return less(entries[i], entries[j]) })
	return entries, nil
}

func (db *tdb) Scopes() ([]ScopeInfo, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var paths []string
	var final error
	db.scopes.ForEachDoc(func(id int, doc []byte) (moveOn bool) {
		var s struct {
			Path string `json:"path"`
		}
		err := json.Unmarshal(doc, &s)
		if err != nil {
			final = fmt.Errorf("tiedot DB failed to decode scope: %s RAW: %s", err, string(doc))
			return false
		}
		paths = append(paths, s.Path)
		return true
	})
	if final != nil {
		return nil, final
	}
	sort.Strings(paths)

	scopes := make([]ScopeInfo, 0, len(paths))
	for _, p := range paths {
		ids, err := db.query(db.entries, query.Eq(p, query.Path{"scope"}))
		if err != nil {
			return nil, fmt.Errorf("tiedot DB counting %q: %w", p, err)
		}
		scopes = append(scopes, ScopeInfo{Path: p, Entries: len(ids)})
	}
	return scopes, nil
}

func (db *tdb) entryIDs(scope, filename string) ([]int64, error) {
	return db.query(db.entries, query.And(
		query.Eq(scope, query.Path{"scope"}),
		query.Eq(filename, query.Path{"filename"}),
	))
}

func (db *tdb) scopeEntries(scope string) ([]Entry, error) {
	ids, err := db.query(db.entries, query.Eq(scope, query.Path{"scope"}))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		doc, err := db.entries.Read(int(id))
		if err != nil {
			return nil, fmt.Errorf("reading entry %v: %w", id, err)
		}
		e, err := decodeEntry(doc)
		if err != nil {
			return nil, fmt.Errorf("decoding entry %v: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (db *tdb) query(col *tiedot.Col, q interface{}) ([]int64, error) {
	rawIDs := make(map[int]struct{})
	err := tiedot.EvalQuery(q, col, &rawIDs)
	if err != nil {
		return nil, err
	}
	if len(rawIDs) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(rawIDs))
	for id := range rawIDs {
		ids = append(ids, int64(id))
	}
	return ids, nil
}

// decodeEntry converts a document read back from tiedot, where numbers
// come out of JSON as float64.
func decodeEntry(doc loose) (Entry, error) {
	name, ok := doc["filename"].(string)
	if !ok {
		return Entry{}, fmt.Errorf("bad filename: %v", doc["filename"])
	}
	var ts int64
	switch v := doc["capturedAt"].(type) {
	case float64:
		ts = int64(v)
	case int64:
		ts = v
	case int:
		ts = int64(v)
	default:
		return Entry{}, fmt.Errorf("bad capturedAt for %q: %T=%[2]v", name, v)
	}
	return Entry{Filename: name, CapturedAt: ts}, nil
}
