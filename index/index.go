// Package index keeps the timestamp cache of a directory in step with the
// files actually in it, and lists the directory's images by capture time.
package index

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/akavel/imagev/dbs"
)

// extensions accepted as images, lowercase, without the dot.
var extensions = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"heif": true,
	"heic": true,
}

// IsImage reports whether name has an accepted image extension (case
// insensitive). A name that is only an extension, like ".jpg", is not.
func IsImage(name string) bool {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return false
	}
	return extensions[strings.ToLower(ext[1:])]
}

// ImageInfo is one image of a reconciled directory.
type ImageInfo struct {
	Path       string `json:"path"`
	CapturedAt int64  `json:"captured_at"` // Unix seconds
}

// Resolver finds the capture instant of an image file; ok is false if no
// timestamp can be obtained at all.
type Resolver interface {
	CaptureInstant(path string) (ts int64, ok bool)
}

// Reconciler converges the cached entries of a directory with its current
// listing. One reconciliation runs at a time.
type Reconciler struct {
	mu       sync.Mutex
	store    dbs.Store
	resolver Resolver
	log      *log.Logger
}

// New returns a Reconciler working on store. A nil logger discards.
func New(store dbs.Store, resolver Resolver, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Reconciler{
		store:    store,
		resolver: resolver,
		log:      logger,
	}
}

// Scope returns the cache scope of the absolute directory dir.
func Scope(dir string) string {
	return filepath.Clean(dir)
}

// Reconcile brings the cache of the directory at path (or containing path,
// if it is not a directory) up to date and returns its images ordered by
// capture time. Files whose capture time cannot be resolved are left out
// and retried on the next call.
func (r *Reconciler) Reconcile(path string) ([]ImageInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir, err := EffectiveDir(path)
	if err != nil {
		return nil, err
	}
	// List first, so an unreadable directory leaves no scope behind.
	onDisk, err := r.listImages(dir)
	if err != nil {
		return nil, &Error{FilesystemError, dir, err}
	}
	scope := Scope(dir)
	if err := r.store.EnsureScope(scope); err != nil {
		return nil, &Error{StoreError, dir, err}
	}
	cached, err := r.store.ListFilenames(scope)
	if err != nil {
		return nil, &Error{StoreError, dir, err}
	}

	toAdd := difference(onDisk, cached)
	toRemove := difference(cached, onDisk)

	if len(toRemove) > 0 {
		if err := r.store.DeleteMany(scope, toRemove); err != nil {
			return nil, &Error{StoreError, dir, err}
		}
	}

	skipped := 0
	for _, name := range toAdd {
		ts, ok := r.resolver.CaptureInstant(filepath.Join(dir, name))
		if !ok {
			r.log.Warn("no capture time, skipping", "dir", dir, "file", name)
			skipped++
			continue
		}
		if err := r.store.Upsert(scope, name, ts); err != nil {
			return nil, &Error{StoreError, dir, err}
		}
	}

	entries, err := r.store.ListSorted(scope)
	if err != nil {
		return nil, &Error{StoreError, dir, err}
	}
	r.log.Debug("reconciled", "dir", dir,
		"added", len(toAdd)-skipped, "removed", len(toRemove),
		"skipped", skipped, "total", len(entries))

	images := make([]ImageInfo, 0, len(entries))
	for _, e := range entries {
		images = append(images, ImageInfo{
			Path:       filepath.Join(dir, e.Filename),
			CapturedAt: e.CapturedAt,
		})
	}
	return images, nil
}

// EffectiveDir returns path if it is a directory, else its parent.
func EffectiveDir(path string) (string, error) {
	if path == "" {
		return "", &Error{NotResolvable, path, errors.New("empty path")}
	}
	if !filepath.IsAbs(path) {
		return "", &Error{NotResolvable, path, errors.New("path is not absolute")}
	}
	path = filepath.Clean(path)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path, nil
	}
	parent := filepath.Dir(path)
	if parent == path {
		return "", &Error{NotResolvable, path, errors.New("no parent directory")}
	}
	return parent, nil
}

// listImages returns the names of the regular image files directly in dir.
func (r *Reconciler) listImages(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := map[string]struct{}{}
	for _, e := range entries {
		if !IsImage(e.Name()) {
			continue
		}
		mode := e.Type()
		if mode&os.ModeSymlink != 0 {
			info, err := os.Stat(filepath.Join(dir, e.Name()))
			if err != nil {
				r.log.Debug("cannot stat, ignoring", "dir", dir, "file", e.Name(), "err", err)
				continue
			}
			mode = info.Mode()
		}
		if !mode.IsRegular() {
			continue
		}
		names[e.Name()] = struct{}{}
	}
	return names, nil
}

// difference returns the sorted names in a that are not in b.
func difference(a, b map[string]struct{}) []string {
	var diff []string
	for name := range a {
		if _, found := b[name]; !found {
			diff = append(diff, name)
		}
	}
	sort.Strings(diff)
	return diff
}
