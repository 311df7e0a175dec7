package meta

import (
	"fmt"
	"strconv"

	"github.com/rwcarlsen/goexif/exif"
)

// Display holds human-formatted EXIF fields for presentation. Fields
// missing from the file are left empty.
type Display struct {
	ShutterSpeed     string `json:"shutter_speed,omitempty"`     // "1/125s", "2s"
	Aperture         string `json:"aperture,omitempty"`          // "f/2.8"
	ISO              uint32 `json:"iso,omitempty"`
	FocalLength35mm  string `json:"focal_length_35mm,omitempty"` // "50mm"
	Model            string `json:"model,omitempty"`
	DateTimeOriginal string `json:"date_time_original,omitempty"`
}

// Display reads the display metadata of the image at path. It fails only
// if the file cannot be read or carries no EXIF data.
func (r *Resolver) Display(path string) (*Display, error) {
	x, err := decode(path)
	if err != nil {
		return nil, err
	}

	d := &Display{}
	if tag, err := x.Get(exif.ExposureTime); err == nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			d.ShutterSpeed = shutterSpeed(num, den)
		}
	}
	if tag, err := x.Get(exif.FNumber); err == nil {
		if num, den, err := tag.Rat2(0); err == nil && den != 0 {
			d.Aperture = "f/" + decimal(num, den)
		}
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if v, err := tag.Int(0); err == nil && v >= 0 {
			d.ISO = uint32(v)
		}
	}
	if tag, err := x.Get(exif.FocalLengthIn35mmFilm); err == nil {
		if v, err := tag.Int(0); err == nil {
			d.FocalLength35mm = fmt.Sprintf("%dmm", v)
		}
	}
	if s, err := tagString(x, exif.Model); err == nil {
		d.Model = s
	}
	if s, err := tagString(x, exif.DateTimeOriginal); err == nil {
		d.DateTimeOriginal = s
	}
	return d, nil
}

func shutterSpeed(num, den int64) string {
	if g := gcd(num, den); g > 1 {
		num, den = num/g, den/g
	}
	switch {
	case den == 1:
		return fmt.Sprintf("%ds", num)
	case num == 1:
		return fmt.Sprintf("1/%ds", den)
	case num > den:
		return decimal(num, den) + "s"
	default:
		return fmt.Sprintf("%d/%ds", num, den)
	}
}

func decimal(num, den int64) string {
	return strconv.FormatFloat(float64(num)/float64(den), 'f', -1, 64)
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
