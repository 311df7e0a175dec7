package meta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const pngSignature = "\x89PNG\r\n\x1a\n"

// maxBox bounds the HEIF metadata and Exif item read into memory.
const maxBox = 16 << 20

var errNoExif = errors.New("exif: no data")

// exifReader locates the EXIF payload in the image r of the given size.
// PNG eXIf chunks and HEIF Exif items are returned as bare TIFF data; any
// other file is handed to goexif whole, which reads JPEG and TIFF itself.
func exifReader(r io.ReaderAt, size int64) (io.Reader, error) {
	var head [12]byte
	n, _ := r.ReadAt(head[:], 0)
	switch {
	case n >= len(pngSignature) && string(head[:len(pngSignature)]) == pngSignature:
		return pngExif(r, size)
	case n == len(head) && string(head[4:8]) == "ftyp":
		return heifExif(r, size)
	default:
		return io.NewSectionReader(r, 0, size), nil
	}
}

func pngExif(r io.ReaderAt, size int64) (io.Reader, error) {
	off := int64(len(pngSignature))
	for off+8 <= size {
		var h [8]byte
		if _, err := r.ReadAt(h[:], off); err != nil {
			return nil, fmt.Errorf("png: reading chunk at %d: %w", off, err)
		}
		n := int64(binary.BigEndian.Uint32(h[:4]))
		switch string(h[4:8]) {
		case "eXIf":
			return io.NewSectionReader(r, off+8, n), nil
		case "IEND":
			return nil, errNoExif
		}
		off += 8 + n + 4 // header, data, crc
	}
	return nil, errNoExif
}

// heifExif finds the item of type "Exif" in the meta box and returns its
// TIFF data, found past the offset stored in the item's first 4 bytes.
func heifExif(r io.ReaderAt, size int64) (io.Reader, error) {
	meta, err := findBox(r, 0, size, "meta")
	if err != nil {
		return nil, err
	}
	start, end := meta.off+4, meta.off+meta.size // meta is a full box
	iinf, err := findBox(r, start, end, "iinf")
	if err != nil {
		return nil, err
	}
	id, err := exifItemID(r, iinf)
	if err != nil {
		return nil, err
	}
	iloc, err := findBox(r, start, end, "iloc")
	if err != nil {
		return nil, err
	}
	extents, err := itemExtents(r, iloc, id)
	if err != nil {
		return nil, err
	}
	data, err := readExtents(r, size, extents)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, errors.New("heif: short Exif item")
	}
	skip := 4 + int64(binary.BigEndian.Uint32(data))
	if skip > int64(len(data)) {
		return nil, fmt.Errorf("heif: Exif header offset %d out of range", skip-4)
	}
	return bytes.NewReader(data[skip:]), nil
}

// box is an ISOBMFF box; off and size locate its payload.
type box struct {
	typ       string
	off, size int64
}

func readBox(r io.ReaderAt, off, end int64) (box, error) {
	var h [16]byte
	if _, err := r.ReadAt(h[:8], off); err != nil {
		return box{}, fmt.Errorf("heif: reading box at %d: %w", off, err)
	}
	size := int64(binary.BigEndian.Uint32(h[:4]))
	typ := string(h[4:8])
	hdr := int64(8)
	switch size {
	case 0: // up to the end
		size = end - off
	case 1:
		if _, err := r.ReadAt(h[8:], off+8); err != nil {
			return box{}, fmt.Errorf("heif: reading %q box size: %w", typ, err)
		}
		size = int64(binary.BigEndian.Uint64(h[8:]))
		hdr = 16
	}
	if size < hdr || size > end-off {
		return box{}, fmt.Errorf("heif: bad %q box size %d", typ, size)
	}
	return box{typ: typ, off: off + hdr, size: size - hdr}, nil
}

func findBox(r io.ReaderAt, off, end int64, typ string) (box, error) {
	for off < end {
		b, err := readBox(r, off, end)
		if err != nil {
			return box{}, err
		}
		if b.typ == typ {
			return b, nil
		}
		off = b.off + b.size
	}
	return box{}, fmt.Errorf("heif: no %q box", typ)
}

func readPayload(r io.ReaderAt, b box) ([]byte, error) {
	if b.size > maxBox {
		return nil, fmt.Errorf("heif: %q box too large: %d", b.typ, b.size)
	}
	buf := make([]byte, b.size)
	if _, err := r.ReadAt(buf, b.off); err != nil {
		return nil, fmt.Errorf("heif: reading %q box: %w", b.typ, err)
	}
	return buf, nil
}

func exifItemID(r io.ReaderAt, iinf box) (uint64, error) {
	p, err := readPayload(r, iinf)
	if err != nil {
		return 0, err
	}
	c := &cursor{b: p}
	version := c.uintN(1)
	c.uintN(3)
	if version == 0 {
		c.uintN(2) // entry count
	} else {
		c.uintN(4)
	}
	if c.err != nil {
		return 0, fmt.Errorf("heif: iinf: %w", c.err)
	}

	entries := bytes.NewReader(c.b)
	for off, end := int64(0), int64(len(c.b)); off < end; {
		infe, err := readBox(entries, off, end)
		if err != nil {
			return 0, err
		}
		off = infe.off + infe.size
		if infe.typ != "infe" {
			continue
		}
		p, err := readPayload(entries, infe)
		if err != nil {
			return 0, err
		}
		ic := &cursor{b: p}
		v := ic.uintN(1)
		ic.uintN(3)
		if v < 2 {
			continue // no item type before version 2
		}
		idSize := 2
		if v >= 3 {
			idSize = 4
		}
		id := ic.uintN(idSize)
		ic.uintN(2) // protection index
		typ := ic.bytes(4)
		if ic.err == nil && string(typ) == "Exif" {
			return id, nil
		}
	}
	return 0, errNoExif
}

type extent struct{ off, len int64 }

func itemExtents(r io.ReaderAt, iloc box, id uint64) ([]extent, error) {
	p, err := readPayload(r, iloc)
	if err != nil {
		return nil, err
	}
	c := &cursor{b: p}
	version := c.uintN(1)
	c.uintN(3)
	sizes := c.uintN(2)
	offSize, lenSize, baseSize := int(sizes>>12&0xF), int(sizes>>8&0xF), int(sizes>>4&0xF)
	indexSize := 0
	if version == 1 || version == 2 {
		indexSize = int(sizes & 0xF)
	}
	for _, n := range []int{offSize, lenSize, baseSize, indexSize} {
		if n > 8 {
			return nil, fmt.Errorf("heif: iloc: bad field size %d", n)
		}
	}
	idSize := 2
	var count uint64
	if version < 2 {
		count = c.uintN(2)
	} else {
		count = c.uintN(4)
		idSize = 4
	}

	for i := uint64(0); i < count && c.err == nil; i++ {
		itemID := c.uintN(idSize)
		method := uint64(0)
		if version == 1 || version == 2 {
			method = c.uintN(2) & 0xF
		}
		c.uintN(2) // data reference index
		base := c.uintN(baseSize)
		n := c.uintN(2)
		var extents []extent
		for j := uint64(0); j < n && c.err == nil; j++ {
			c.uintN(indexSize)
			off := c.uintN(offSize)
			l := c.uintN(lenSize)
			extents = append(extents, extent{int64(base + off), int64(l)})
		}
		if itemID != id || c.err != nil {
			continue
		}
		if method != 0 {
			return nil, fmt.Errorf("heif: unsupported Exif construction method %d", method)
		}
		return extents, nil
	}
	if c.err != nil {
		return nil, fmt.Errorf("heif: iloc: %w", c.err)
	}
	return nil, fmt.Errorf("heif: no location for Exif item %d", id)
}

func readExtents(r io.ReaderAt, size int64, extents []extent) ([]byte, error) {
	var data []byte
	for _, e := range extents {
		if e.len == 0 { // up to the end of file
			e.len = size - e.off
		}
		if e.off < 0 || e.len < 0 || e.off+e.len > size || int64(len(data))+e.len > maxBox {
			return nil, fmt.Errorf("heif: bad Exif extent %d+%d", e.off, e.len)
		}
		buf := make([]byte, e.len)
		if _, err := r.ReadAt(buf, e.off); err != nil {
			return nil, fmt.Errorf("heif: reading Exif item: %w", err)
		}
		data = append(data, buf...)
	}
	return data, nil
}

// cursor reads big-endian fields; after the first short read every call
// returns zero and err stays set.
type cursor struct {
	b   []byte
	err error
}

func (c *cursor) bytes(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n > len(c.b) {
		c.err = io.ErrUnexpectedEOF
		return nil
	}
	v := c.b[:n]
	c.b = c.b[n:]
	return v
}

func (c *cursor) uintN(n int) uint64 {
	var v uint64
	for _, x := range c.bytes(n) {
		v = v<<8 | uint64(x)
	}
	return v
}
