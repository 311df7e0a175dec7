package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/akavel/imagev/index"
)

// handler serves the directory listing, EXIF and thumbnail endpoints.
// Every endpoint takes the absolute file or directory in ?path=.
func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/images", a.handleImages)
	mux.HandleFunc("/exif", a.handleExif)
	mux.HandleFunc("/thumb", a.handleThumb)
	return mux
}

func (a *app) handleImages(w http.ResponseWriter, r *http.Request) {
	path, ok := a.pathParam(w, r)
	if !ok {
		return
	}
	images, err := a.index.Reconcile(path)
	switch {
	case index.IsKind(err, index.NotResolvable):
		a.writeError(w, http.StatusBadRequest, err)
	case err != nil:
		a.log.Error("reconciling failed", "path", path, "err", err)
		a.writeError(w, http.StatusInternalServerError, err)
	default:
		a.writeJSON(w, http.StatusOK, images)
	}
}

func (a *app) handleExif(w http.ResponseWriter, r *http.Request) {
	path, ok := a.pathParam(w, r)
	if !ok {
		return
	}
	d, err := a.resolver.Display(path)
	if err != nil {
		a.writeError(w, http.StatusNotFound, errors.New("could not get EXIF data"))
		return
	}
	a.writeJSON(w, http.StatusOK, d)
}

func (a *app) handleThumb(w http.ResponseWriter, r *http.Request) {
	path, ok := a.pathParam(w, r)
	if !ok {
		return
	}
	if !index.IsImage(path) {
		a.writeError(w, http.StatusBadRequest, errors.New("not an image file"))
		return
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		a.writeError(w, http.StatusNotFound, err)
		return
	}
	thumb, err := thumbnailFile(path, a.cfg.Serve.ThumbSize)
	if err != nil {
		a.log.Warn("thumbnailing failed", "path", path, "err", err)
		a.writeError(w, http.StatusUnsupportedMediaType, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	if _, err := w.Write(thumb); err != nil {
		a.log.Debug("writing thumbnail", "path", path, "err", err)
	}
}

func (a *app) pathParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return "", false
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("missing path parameter"))
		return "", false
	}
	return filepath.Clean(path), true
}

func (a *app) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Debug("writing response", "err", err)
	}
}

func (a *app) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}
