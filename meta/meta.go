// Package meta reads what imagev needs to know about an image file: the
// instant it was captured, and EXIF fields for display.
package meta

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
)

// DateTimeLayout is the EXIF DateTimeOriginal format.
const DateTimeLayout = "2006:01:02 15:04:05"

// Resolver resolves capture instants from embedded EXIF data, falling back
// to the file's modification time.
type Resolver struct {
	Log *log.Logger // nil discards
}

var discard = log.New(io.Discard)

func (r *Resolver) logger() *log.Logger {
	if r == nil || r.Log == nil {
		return discard
	}
	return r.Log
}

// CaptureInstant returns the Unix time at which the image at path was
// taken. The EXIF DateTimeOriginal is read as UTC; without it, the file's
// mtime is used. It reports false only if the file cannot be stat'd.
func (r *Resolver) CaptureInstant(path string) (int64, bool) {
	t, err := EmbeddedCaptureTime(path)
	if err == nil {
		return t.Unix(), true
	}
	r.logger().Debug("no embedded capture time, using mtime", "path", path, "err", err)

	info, err := os.Stat(path)
	if err != nil {
		r.logger().Debug("cannot stat", "path", path, "err", err)
		return 0, false
	}
	return info.ModTime().Unix(), true
}

// EmbeddedCaptureTime reads the EXIF DateTimeOriginal of the file at path,
// interpreted as UTC.
func EmbeddedCaptureTime(path string) (time.Time, error) {
	x, err := decode(path)
	if err != nil {
		return time.Time{}, err
	}
	s, err := tagString(x, exif.DateTimeOriginal)
	if err != nil {
		return time.Time{}, err
	}
	return ParseDateTime(s)
}

// ParseDateTime parses an EXIF "YYYY:MM:DD HH:MM:SS" value as UTC.
func ParseDateTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateTimeLayout, strings.TrimRight(s, "\x00"), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing EXIF datetime %q: %w", s, err)
	}
	return t, nil
}

// decode returns whatever EXIF data could be read from path, a JPEG, TIFF,
// PNG or HEIF file. goexif may return partially decoded data together with
// an error; that data is kept.
func decode(path string) (*exif.Exif, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	r, err := exifReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("decoding EXIF of %s: %w", path, err)
	}
	x, err := exif.Decode(r)
	if x == nil {
		if err == nil {
			err = errNoExif
		}
		return nil, fmt.Errorf("decoding EXIF of %s: %w", path, err)
	}
	return x, nil
}

func tagString(x *exif.Exif, name exif.FieldName) (string, error) {
	tag, err := x.Get(name)
	if err != nil {
		return "", err
	}
	if tag.Format() != tiff.StringVal {
		return "", fmt.Errorf("exif: %s is not a string", name)
	}
	s, err := tag.StringVal()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(s, "\x00"), nil
}
