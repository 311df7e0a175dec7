package dbs

import (
	"fmt"
	"sync"

	"modernc.org/ql"
)

type qldb struct {
	mu sync.Mutex
	q  *ql.DB

	// beforeCommit, if set, runs inside DeleteMany's transaction right
	// before COMMIT; a non-nil error aborts the transaction.
	beforeCommit func() error
}

var _ Store = (*qldb)(nil)

func OpenQL(path string) (Store, error) {
	q, err := ql.OpenFile(path, &ql.Options{
		CanCreate:      true,
		RemoveEmptyWAL: true,
		FileFormat:     2, // newest, apparently?
	})
	if err != nil {
		return nil, fmt.Errorf("opening ql DB: %w", err)
	}
	_, failed, err := q.Run(ql.NewRWCtx(), qlSchema)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("initializing ql DB stmt %d: %w", failed, err)
	}
	return &qldb{q: q}, nil
}

// Scope is the absolute directory path; (Scope, Filename) is the key.
const qlSchema = `
BEGIN TRANSACTION;
	CREATE TABLE IF NOT EXISTS scope (
		Path string  Path != "",
	);
	CREATE UNIQUE INDEX IF NOT EXISTS scope_Path ON scope (Path);
--------
	CREATE TABLE IF NOT EXISTS entry (
		Scope      string  Scope != "",
		Filename   string  Filename != "",
		CapturedAt int64   NOT NULL,
	);
	CREATE UNIQUE INDEX IF NOT EXISTS
		entry_perScope ON entry (Scope, Filename);
	CREATE        INDEX IF NOT EXISTS
		entry_CapturedAt ON entry (CapturedAt);
COMMIT;
`

func (db *qldb) Close() error { return db.q.Close() }

func (db *qldb) EnsureScope(scope string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	rs, _, err := db.q.Run(nil, `
		SELECT count(*) FROM scope WHERE Path == $1;`, scope)
	if err != nil {
		return fmt.Errorf("ql DB checking scope %q: %w", scope, err)
	}
	row, err := rs[0].FirstRow()
	if err != nil {
		return fmt.Errorf("ql DB checking scope %q: %w", scope, err)
	}
	if row != nil && row[0].(int64) > 0 {
		return nil
	}

	tx := ql.NewRWCtx()
	_, failed, err := db.q.Run(tx, `
BEGIN TRANSACTION;
	INSERT INTO scope (Path) VALUES ($1);
COMMIT;`, scope)
	if err != nil {
		db.rollback(tx)
		return fmt.Errorf("ql DB creating scope %q stmt %d: %w", scope, failed, err)
	}
	return nil
}

func (db *qldb) ListFilenames(scope string) (map[string]struct{}, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rs, _, err := db.q.Run(nil, `
		SELECT Filename FROM entry WHERE Scope == $1;`, scope)
	if err != nil {
		return nil, fmt.Errorf("ql DB listing %q: %w", scope, err)
	}
	names := map[string]struct{}{}
	err = rs[0].Do(false, func(data []interface{}) (bool, error) {
		names[data[0].(string)] = struct{}{}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ql DB listing %q: %w", scope, err)
	}
	return names, nil
}

func (db *qldb) Upsert(scope, filename string, capturedAt int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx := ql.NewRWCtx()
	_, failed, err := db.q.Run(tx, `
BEGIN TRANSACTION;
	DELETE FROM entry WHERE Scope == $1 && Filename == $2;
	INSERT INTO entry (Scope, Filename, CapturedAt) VALUES ($1, $2, $3);
COMMIT;`, scope, filename, capturedAt)
	if err != nil {
		db.rollback(tx)
		return fmt.Errorf("ql DB upsert %q in %q stmt %d: %w", filename, scope, failed, err)
	}
	return nil
}

func (db *qldb) DeleteMany(scope string, filenames []string) error {
	if len(filenames) == 0 {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	tx := ql.NewRWCtx()
	_, failed, err := db.q.Run(tx, `BEGIN TRANSACTION;`)
	if err != nil {
		return fmt.Errorf("ql DB delete from %q stmt %d: %w", scope, failed, err)
	}
	committed := false
	defer func() {
		if !committed {
			db.rollback(tx)
		}
	}()

	for _, name := range filenames {
		_, failed, err := db.q.Run(tx, `
			DELETE FROM entry WHERE Scope == $1 && Filename == $2;`,
			scope, name)
		if err != nil {
			return fmt.Errorf("ql DB delete %q from %q stmt %d: %w", name, scope, failed, err)
		}
	}
	if db.beforeCommit != nil {
		if err := db.beforeCommit(); err != nil {
			return fmt.Errorf("ql DB delete from %q: %w", scope, err)
		}
	}
	_, failed, err = db.q.Run(tx, `COMMIT;`)
	if err != nil {
		return fmt.Errorf("ql DB delete from %q stmt %d: %w", scope, failed, err)
	}
	committed = true
	return nil
}

func (db *qldb) rollback(tx *ql.TCtx) {
	db.q.Run(tx, `ROLLBACK;`)
}

func (db *qldb) ListSorted(scope string) ([]Entry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rs, _, err := db.q.Run(nil, `
		SELECT Filename, CapturedAt
			FROM entry
			WHERE Scope == $1
			ORDER BY CapturedAt, Filename;`, scope)
	if err != nil {
		return nil, fmt.Errorf("ql DB sorting %q: %w", scope, err)
	}
	var entries []Entry
	err = rs[0].Do(false, func(data []interface{}) (bool, error) {
		entries = append(entries, Entry{
			Filename:   data[0].(string),
			CapturedAt: data[1].(int64),
		})
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ql DB sorting %q: %w", scope, err)
	}
	return entries, nil
}

func (db *qldb) Scopes() ([]ScopeInfo, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	rs, _, err := db.q.Run(nil, `
		SELECT Path FROM scope ORDER BY Path;
		SELECT Scope, count(*) FROM entry GROUP BY Scope;`)
	if err != nil {
		return nil, fmt.Errorf("ql DB listing scopes: %w", err)
	}
	var scopes []ScopeInfo
	err = rs[0].Do(false, func(data []interface{}) (bool, error) {
		scopes = append(scopes, ScopeInfo{Path: data[0].(string)})
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ql DB listing scopes: %w", err)
	}
	counts := map[string]int{}
	err = rs[1].Do(false, func(data []interface{}) (bool, error) {
		counts[data[0].(string)] = int(data[1].(int64))
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ql DB counting entries: %w", err)
	}
	for i := range scopes {
		scopes[i].Entries = counts[scopes[i].Path]
	}
	return scopes, nil
}
