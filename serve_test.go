package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/akavel/imagev/index"
	"github.com/akavel/imagev/meta"
	"github.com/akavel/imagev/meta/metatest"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := defaultConfig()
	cfg.Main.DataDir = t.TempDir()
	a, err := openApp(cfg, log.New(io.Discard))
	if err != nil {
		t.Fatalf("openApp: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func get(t *testing.T, h http.Handler, endpoint, path string) *httptest.ResponseRecorder {
	t.Helper()
	target := endpoint
	if path != "" {
		target += "?path=" + url.QueryEscape(path)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	metatest.WriteFile(t, path, buf.Bytes(), time.Unix(3000, 0))
}

func TestHandleImages(t *testing.T) {
	a := newTestApp(t)
	dir := t.TempDir()
	metatest.WriteFile(t, filepath.Join(dir, "late.jpg"), nil, time.Unix(300, 0))
	metatest.WriteFile(t, filepath.Join(dir, "early.jpg"), nil, time.Unix(100, 0))
	metatest.WriteFile(t, filepath.Join(dir, "skip.gif"), nil, time.Unix(200, 0))

	rec := get(t, a.handler(), "/images", filepath.Join(dir, "late.jpg"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got []index.ImageInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := []index.ImageInfo{
		{Path: filepath.Join(dir, "early.jpg"), CapturedAt: 100},
		{Path: filepath.Join(dir, "late.jpg"), CapturedAt: 300},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("images = %v, want %v", got, want)
	}
}

func TestHandleImages_Errors(t *testing.T) {
	a := newTestApp(t)
	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"missing path", "", http.StatusBadRequest},
		{"relative path", "photos/a.jpg", http.StatusBadRequest},
		{"unreadable dir", filepath.Join(t.TempDir(), "no", "such", "a.jpg"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, a.handler(), "/images", tt.path)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("body = %s, want JSON error", rec.Body)
			}
		})
	}
}

func TestHandleImages_Method(t *testing.T) {
	a := newTestApp(t)
	rec := httptest.NewRecorder()
	a.handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/images?path=/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleExif(t *testing.T) {
	a := newTestApp(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	metatest.WriteFile(t, path, metatest.JPEG(metatest.Fields{
		Model:   "X100V",
		FNumber: [2]uint32{2, 1},
	}), time.Time{})

	rec := get(t, a.handler(), "/exif", path)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got meta.Display
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if want := (meta.Display{Model: "X100V", Aperture: "f/2"}); got != want {
		t.Errorf("exif = %+v, want %+v", got, want)
	}

	plain := filepath.Join(dir, "plain.png")
	metatest.WriteFile(t, plain, []byte("no exif here"), time.Time{})
	if rec := get(t, a.handler(), "/exif", plain); rec.Code != http.StatusNotFound {
		t.Errorf("status without EXIF = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleThumb(t *testing.T) {
	a := newTestApp(t)
	a.cfg.Serve.ThumbSize = 50
	dir := t.TempDir()
	path := filepath.Join(dir, "wide.png")
	writePNG(t, path, 200, 100)

	rec := get(t, a.handler(), "/thumb", path)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	img, err := jpeg.Decode(rec.Body)
	if err != nil {
		t.Fatalf("jpeg.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 50 || b.Dy() != 25 {
		t.Errorf("thumbnail is %dx%d, want 50x25", b.Dx(), b.Dy())
	}
}

func TestHandleThumb_Errors(t *testing.T) {
	a := newTestApp(t)
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.heic")
	if err := os.WriteFile(broken, []byte("not decodable"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"not an image", filepath.Join(dir, "notes.txt"), http.StatusBadRequest},
		{"missing", filepath.Join(dir, "gone.jpg"), http.StatusNotFound},
		{"undecodable", broken, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := get(t, a.handler(), "/thumb", tt.path); rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{200, 100, 50, 50, 25},
		{100, 400, 100, 25, 100},
		{40, 30, 100, 40, 30},
		{1000, 1, 10, 10, 1},
	}
	for _, tt := range tests {
		w, h := fitSize(image.Rect(0, 0, tt.w, tt.h), tt.max, tt.max)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("fitSize(%dx%d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
		}
	}
}

type failingWriter struct{ *httptest.ResponseRecorder }

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("client gone") }

func TestHandleThumb_WriteErrorLogged(t *testing.T) {
	a := newTestApp(t)
	var logs bytes.Buffer
	a.log = log.New(&logs)
	a.log.SetLevel(log.DebugLevel)
	path := filepath.Join(t.TempDir(), "a.png")
	writePNG(t, path, 4, 4)

	req := httptest.NewRequest(http.MethodGet, "/thumb?path="+url.QueryEscape(path), nil)
	a.handler().ServeHTTP(failingWriter{httptest.NewRecorder()}, req)
	if !strings.Contains(logs.String(), "writing thumbnail") {
		t.Errorf("log = %q, want the write error", logs.String())
	}
}
