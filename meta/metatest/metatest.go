// Package metatest synthesizes image files carrying EXIF data, for tests.
package metatest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"os"
	"testing"
	"time"
)

// TIFF field types.
const (
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
)

// EXIF tag IDs.
const (
	tagModel            = 0x0110
	tagExifIFDPointer   = 0x8769
	tagExposureTime     = 0x829A
	tagFNumber          = 0x829D
	tagISO              = 0x8827
	tagDateTimeOriginal = 0x9003
	tagFocalLength35mm  = 0xA405
)

// Fields selects the EXIF fields written by JPEG, PNG and HEIC. Zero fields
// are omitted.
type Fields struct {
	Model            string
	DateTimeOriginal string // "YYYY:MM:DD HH:MM:SS"
	ExposureTime     [2]uint32
	FNumber          [2]uint32
	ISO              uint16
	FocalLength35mm  uint16
}

type entry struct {
	tag, typ uint16
	count    uint32
	data     []byte
}

var le = binary.LittleEndian

// JPEG returns a minimal JPEG stream whose APP1 segment holds f. It has
// no image data; it is only meant for EXIF parsing.
func JPEG(f Fields) []byte {
	tif := TIFF(f)
	out := []byte{0xFF, 0xD8, 0xFF, 0xE1}
	out = binary.BigEndian.AppendUint16(out, uint16(2+6+len(tif)))
	out = append(out, "Exif\x00\x00"...)
	out = append(out, tif...)
	return append(out, 0xFF, 0xD9)
}

// PNG returns a decodable 1x1 grayscale PNG with f in an eXIf chunk.
func PNG(f Fields) []byte {
	out := []byte("\x89PNG\r\n\x1a\n")
	ihdr := binary.BigEndian.AppendUint32(nil, 1) // width
	ihdr = binary.BigEndian.AppendUint32(ihdr, 1) // height
	ihdr = append(ihdr, 8, 0, 0, 0, 0)            // 8-bit gray, no interlace
	out = chunk(out, "IHDR", ihdr)
	out = chunk(out, "eXIf", TIFF(f))

	var idat bytes.Buffer
	zw := zlib.NewWriter(&idat)
	zw.Write([]byte{0, 0x80}) // filter type, one pixel
	zw.Close()
	out = chunk(out, "IDAT", idat.Bytes())
	return chunk(out, "IEND", nil)
}

func chunk(out []byte, typ string, data []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(data)))
	start := len(out)
	out = append(out, typ...)
	out = append(out, data...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[start:]))
}

// HEIC returns a HEIF container whose only item is an Exif item holding f,
// stored in mdat and located through iinf and iloc. It has no image item;
// it is only meant for EXIF parsing.
func HEIC(f Fields) []byte {
	item := binary.BigEndian.AppendUint32(nil, 6) // offset of the TIFF header
	item = append(item, "Exif\x00\x00"...)
	item = append(item, TIFF(f)...)

	ftyp := isoBox("ftyp", []byte("heic\x00\x00\x00\x00mif1heic"))

	hdlr := fullBox("hdlr", 0, []byte("\x00\x00\x00\x00pict\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"))
	infe := fullBox("infe", 2, []byte("\x00\x01\x00\x00Exif\x00")) // item 1, unprotected, unnamed
	iinf := fullBox("iinf", 0, append([]byte{0, 1}, infe...))
	iloc := func(off uint32) []byte {
		b := []byte{0x44, 0x00} // 4-byte offsets and lengths, no base offset
		b = append(b, 0, 1)     // item count
		b = append(b, 0, 1)     // item 1
		b = append(b, 0, 0)     // this file
		b = append(b, 0, 1)     // extent count
		b = binary.BigEndian.AppendUint32(b, off)
		b = binary.BigEndian.AppendUint32(b, uint32(len(item)))
		return fullBox("iloc", 0, b)
	}
	metaBox := func(off uint32) []byte {
		children := append(append(append([]byte(nil), hdlr...), iinf...), iloc(off)...)
		return fullBox("meta", 0, children)
	}
	// The box sizes do not depend on the offset, so measure with a placeholder.
	off := uint32(len(ftyp) + len(metaBox(0)) + 8)

	out := append(ftyp, metaBox(off)...)
	return append(out, isoBox("mdat", item)...)
}

func isoBox(typ string, payload []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(8+len(payload)))
	out = append(out, typ...)
	return append(out, payload...)
}

func fullBox(typ string, version byte, payload []byte) []byte {
	return isoBox(typ, append([]byte{version, 0, 0, 0}, payload...))
}

// TIFF returns the little-endian TIFF block holding f: Model in IFD0, the
// other fields in the Exif sub-IFD.
func TIFF(f Fields) []byte {
	var ifd0, sub []entry
	if f.Model != "" {
		ifd0 = append(ifd0, ascii(tagModel, f.Model))
	}
	if f.ExposureTime[1] != 0 {
		sub = append(sub, rational(tagExposureTime, f.ExposureTime))
	}
	if f.FNumber[1] != 0 {
		sub = append(sub, rational(tagFNumber, f.FNumber))
	}
	if f.ISO != 0 {
		sub = append(sub, short(tagISO, f.ISO))
	}
	if f.DateTimeOriginal != "" {
		sub = append(sub, ascii(tagDateTimeOriginal, f.DateTimeOriginal))
	}
	if f.FocalLength35mm != 0 {
		sub = append(sub, short(tagFocalLength35mm, f.FocalLength35mm))
	}
	return buildTIFF(ifd0, sub)
}

// WriteFile writes data to path and sets its modification time to mtime
// (when non-zero).
func WriteFile(t testing.TB, path string, data []byte, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}
}

func buildTIFF(ifd0, sub []entry) []byte {
	if len(sub) > 0 {
		ifd0 = append(ifd0, entry{tagExifIFDPointer, typeLong, 1, make([]byte, 4)})
	}
	const ifd0Off = 8
	data0Off := ifd0Off + ifdSize(ifd0)
	subOff := data0Off + dataSize(ifd0)
	if len(sub) > 0 {
		le.PutUint32(ifd0[len(ifd0)-1].data, uint32(subOff))
	}

	out := []byte("II*\x00")
	out = le.AppendUint32(out, ifd0Off)
	out = writeIFD(out, ifd0, data0Off)
	if len(sub) > 0 {
		out = writeIFD(out, sub, subOff+ifdSize(sub))
	}
	return out
}

func ifdSize(es []entry) int { return 2 + 12*len(es) + 4 }

func dataSize(es []entry) int {
	n := 0
	for _, e := range es {
		if len(e.data) > 4 {
			n += len(e.data) + len(e.data)%2
		}
	}
	return n
}

// writeIFD appends the directory and then its out-of-line values, which
// start at offset dataOff.
func writeIFD(out []byte, es []entry, dataOff int) []byte {
	var data []byte
	out = le.AppendUint16(out, uint16(len(es)))
	for _, e := range es {
		out = le.AppendUint16(out, e.tag)
		out = le.AppendUint16(out, e.typ)
		out = le.AppendUint32(out, e.count)
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			out = append(out, v...)
			continue
		}
		out = le.AppendUint32(out, uint32(dataOff+len(data)))
		data = append(data, e.data...)
		if len(e.data)%2 == 1 {
			data = append(data, 0)
		}
	}
	out = le.AppendUint32(out, 0) // no next IFD
	return append(out, data...)
}

func ascii(tag uint16, s string) entry {
	b := append([]byte(s), 0)
	return entry{tag, typeASCII, uint32(len(b)), b}
}

func short(tag uint16, v uint16) entry {
	return entry{tag, typeShort, 1, le.AppendUint16(nil, v)}
}

func rational(tag uint16, r [2]uint32) entry {
	b := le.AppendUint32(nil, r[0])
	b = le.AppendUint32(b, r[1])
	return entry{tag, typeRational, 1, b}
}
