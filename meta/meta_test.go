package meta

import (
	"bytes"
	"image"
	"image/png"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/akavel/imagev/meta/metatest"
)

// containers lists the file formats that carry EXIF fields.
var containers = []struct {
	ext  string
	file func(metatest.Fields) []byte
}{
	{".jpg", metatest.JPEG},
	{".png", metatest.PNG},
	{".heic", metatest.HEIC},
}

func TestCaptureInstant_Embedded(t *testing.T) {
	dir := t.TempDir()
	mtime := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, c := range containers {
		t.Run(c.ext, func(t *testing.T) {
			path := filepath.Join(dir, "b"+c.ext)
			metatest.WriteFile(t, path, c.file(metatest.Fields{
				DateTimeOriginal: "2021:05:01 10:00:00",
			}), mtime)

			got, ok := (&Resolver{}).CaptureInstant(path)
			if !ok {
				t.Fatal("CaptureInstant returned not ok")
			}
			want := time.Date(2021, 5, 1, 10, 0, 0, 0, time.UTC).Unix()
			if got != want {
				t.Errorf("CaptureInstant = %d, want %d (UTC, ignoring mtime)", got, want)
			}
		})
	}
}

func TestCaptureInstant_FallbackToMtime(t *testing.T) {
	dir := t.TempDir()
	mtime := time.Unix(1000, 0)
	tests := []struct {
		name string
		data []byte
	}{
		{"not-an-image.png", []byte("plain bytes, no EXIF")},
		{"no-datetime.jpg", metatest.JPEG(metatest.Fields{Model: "X100"})},
		{"bad-datetime.jpg", metatest.JPEG(metatest.Fields{DateTimeOriginal: "0000:00:00 00:00:00"})},
		{"empty.heic", nil},
		{"no-exif-chunk.png", plainPNG(t)},
		{"not-heif.heic", []byte("\x00\x00\x00\x10ftypheic\x00\x00\x00\x00")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			metatest.WriteFile(t, path, tt.data, mtime)
			got, ok := (&Resolver{}).CaptureInstant(path)
			if !ok {
				t.Fatal("CaptureInstant returned not ok")
			}
			if got != 1000 {
				t.Errorf("CaptureInstant = %d, want mtime 1000", got)
			}
		})
	}
}

func TestCaptureInstant_Missing(t *testing.T) {
	_, ok := (&Resolver{}).CaptureInstant(filepath.Join(t.TempDir(), "gone.jpg"))
	if ok {
		t.Error("CaptureInstant of a missing file returned ok")
	}
}

func TestResolverNilLogShared(t *testing.T) {
	if (&Resolver{}).logger() != (&Resolver{}).logger() {
		t.Error("nil Log builds a new logger per call")
	}
}

func TestParseDateTime(t *testing.T) {
	got, err := ParseDateTime("2021:05:01 10:00:00\x00")
	if err != nil {
		t.Fatalf("ParseDateTime: %v", err)
	}
	if want := time.Date(2021, 5, 1, 10, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("ParseDateTime = %v, want %v", got, want)
	}
	if _, err := ParseDateTime("2021-05-01T10:00:00"); err == nil {
		t.Error("ParseDateTime accepted a non-EXIF layout")
	}
}

func TestDisplay(t *testing.T) {
	dir := t.TempDir()
	for _, c := range containers {
		t.Run(c.ext, func(t *testing.T) {
			path := filepath.Join(dir, "full"+c.ext)
			metatest.WriteFile(t, path, c.file(metatest.Fields{
				Model:            "X100V",
				DateTimeOriginal: "2021:05:01 10:00:00",
				ExposureTime:     [2]uint32{1, 125},
				FNumber:          [2]uint32{28, 10},
				ISO:              400,
				FocalLength35mm:  50,
			}), time.Time{})

			got, err := (&Resolver{}).Display(path)
			if err != nil {
				t.Fatalf("Display: %v", err)
			}
			want := &Display{
				ShutterSpeed:     "1/125s",
				Aperture:         "f/2.8",
				ISO:              400,
				FocalLength35mm:  "50mm",
				Model:            "X100V",
				DateTimeOriginal: "2021:05:01 10:00:00",
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Display = %+v, want %+v", got, want)
			}
		})
	}
}

func TestDisplay_Partial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.jpg")
	metatest.WriteFile(t, path, metatest.JPEG(metatest.Fields{
		ExposureTime: [2]uint32{2, 1},
	}), time.Time{})

	got, err := (&Resolver{}).Display(path)
	if err != nil {
		t.Fatalf("Display: %v", err)
	}
	if want := (&Display{ShutterSpeed: "2s"}); !reflect.DeepEqual(got, want) {
		t.Errorf("Display = %+v, want %+v", got, want)
	}
}

func TestDisplay_NoExif(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.png")
	metatest.WriteFile(t, path, []byte("no exif here"), time.Time{})
	if _, err := (&Resolver{}).Display(path); err == nil {
		t.Error("Display of a file without EXIF succeeded")
	}
}

func TestShutterSpeed(t *testing.T) {
	tests := []struct {
		num, den int64
		want     string
	}{
		{1, 125, "1/125s"},
		{10, 1250, "1/125s"},
		{2, 1, "2s"},
		{30, 1, "30s"},
		{5, 2, "2.5s"},
		{3, 10, "3/10s"},
	}
	for _, tt := range tests {
		if got := shutterSpeed(tt.num, tt.den); got != tt.want {
			t.Errorf("shutterSpeed(%d, %d) = %q, want %q", tt.num, tt.den, got, tt.want)
		}
	}
}

func TestPNGFixtureDecodes(t *testing.T) {
	img, err := png.Decode(bytes.NewReader(metatest.PNG(metatest.Fields{Model: "X100V"})))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1 || b.Dy() != 1 {
		t.Errorf("bounds = %v, want 1x1", b)
	}
}

func plainPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}
