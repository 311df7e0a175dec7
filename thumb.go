package main

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

const thumbQuality = 80

// thumbnailFile renders the image at path, EXIF orientation applied, as a
// JPEG fitting in a size x size square. Smaller images keep their size.
func thumbnailFile(path string, size int) ([]byte, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("parsing image for thumbnail: %w", err)
	}
	w, h := fitSize(src.Bounds(), size, size)

	// Render the thumbnail
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	buf := bytes.NewBuffer(nil)
	err = imaging.Encode(buf, dst, imaging.JPEG, imaging.JPEGQuality(thumbQuality))
	if err != nil {
		return nil, fmt.Errorf("encoding jpeg thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// fitSize scales srcb down, keeping its aspect ratio, to fit maxw x maxh.
func fitSize(srcb image.Rectangle, maxw, maxh int) (int, int) {
	if srcb.Dx() <= maxw && srcb.Dy() <= maxh {
		return srcb.Dx(), srcb.Dy()
	}
	sx := float64(maxw) / float64(srcb.Dx())
	sy := float64(maxh) / float64(srcb.Dy())
	scale := sx
	if sy < sx {
		scale = sy
	}
	w := int(float64(srcb.Dx()) * scale)
	h := int(float64(srcb.Dy()) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
