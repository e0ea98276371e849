// Package exif implements the §4.10 naming and promotion rules: scanning
// a freshly-carved image for an embedded EXIF DateTimeOriginal string,
// falling back to a camera-profile default prefix, and promoting
// ambiguous little-endian TIFF hits to a camera-specific raw extension.
package exif

import (
	"fmt"

	"github.com/shubham/salvage/internal/model"
	"github.com/shubham/salvage/internal/sigreg"
)

// MaxDateScanWindow bounds how far past a hit the DateTimeOriginal scan
// looks, per §4.10.
const MaxDateScanWindow = 64 * 1024

const dateTimePattern = "YYYY:MM:DD HH:MM:SS"

// Reader reads length bytes at offset, returning fewer than requested at
// end of available data.
type Reader func(offset int64, length int) ([]byte, error)

// FindDateTimeOriginal scans up to MaxDateScanWindow bytes starting at
// start for an ASCII "YYYY:MM:DD HH:MM:SS" substring and returns it
// verbatim if found.
func FindDateTimeOriginal(read Reader, start int64) (string, bool) {
	buf, err := read(start, MaxDateScanWindow)
	if err != nil || len(buf) < len(dateTimePattern) {
		return "", false
	}

	for i := 0; i+len(dateTimePattern) <= len(buf); i++ {
		if looksLikeDateTimeOriginal(buf[i : i+len(dateTimePattern)]) {
			return string(buf[i : i+len(dateTimePattern)]), true
		}
	}
	return "", false
}

func looksLikeDateTimeOriginal(s []byte) bool {
	if len(s) != len(dateTimePattern) {
		return false
	}
	for i, c := range s {
		switch i {
		case 4, 7:
			if c != ':' {
				return false
			}
		case 10:
			if c != ' ' {
				return false
			}
		case 13, 16:
			if c != ':' {
				return false
			}
		default:
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// PhotoName formats a §4.10 "Photo_YYYY-MM-DD_HHMMSS_<seq>" name from a
// raw "YYYY:MM:DD HH:MM:SS" EXIF timestamp.
func PhotoName(dateTimeOriginal string, seq int) string {
	d := dateTimeOriginal
	return fmt.Sprintf("Photo_%s-%s-%s_%s%s%s_%d",
		d[0:4], d[5:7], d[8:10], d[11:13], d[14:16], d[17:19], seq)
}

// DefaultPrefix returns the camera-profile default filename prefix used
// when no EXIF DateTimeOriginal could be located.
func DefaultPrefix(profile model.CameraProfile) string {
	switch profile {
	case model.ProfileGoPro:
		return "GOPR"
	case model.ProfileCanon:
		return "IMG_"
	case model.ProfileSony:
		return "DSC0"
	case model.ProfileDJI:
		return "DJI_"
	default:
		return "recovered_"
	}
}

// GenerateName implements the full §4.10 naming decision: try the EXIF
// scan for image-category hits, else fall back to the profile prefix.
func GenerateName(read Reader, start int64, category model.Category, profile model.CameraProfile, seq int) string {
	if category == model.CategoryImage {
		if dt, ok := FindDateTimeOriginal(read, start); ok {
			return PhotoName(dt, seq)
		}
	}
	return fmt.Sprintf("%s%04d", DefaultPrefix(profile), seq)
}

// PromoteSignature applies the §4.10 camera-profile promotion table to a
// plain little-endian TIFF hit. header must hold at least the first 12
// bytes of the candidate. The Canon CR2 rule is always on, independent of
// the active profile; Sony/DJI promotion only applies when that profile
// is active.
func PromoteSignature(header []byte, profile model.CameraProfile, sig model.Signature) model.Signature {
	if sig.Extension != "tiff" {
		return sig
	}
	if len(header) >= 10 && string(header[8:10]) == "CR" {
		if cr2, ok := sigreg.Lookup("cr2"); ok {
			return cr2
		}
	}
	switch profile {
	case model.ProfileSony:
		if arw, ok := sigreg.Lookup("arw"); ok {
			return arw
		}
	case model.ProfileDJI:
		if dng, ok := sigreg.Lookup("dng"); ok {
			return dng
		}
	}
	return sig
}
