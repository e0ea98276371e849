// Package sigreg is the §4.2 Signature Registry: a static, immutable table
// of magic-byte prefixes plus the disambiguation rules for signature
// families that share a prefix (TIFF, ISO-BMFF, RIFF).
package sigreg

import (
	"bytes"

	"github.com/shubham/salvage/internal/model"
)

// MaxPrefixLen is the §3 invariant: prefix length <= 12.
const MaxPrefixLen = 12

// HeaderWindow is how many leading bytes a caller should hand to Match —
// enough to resolve every disambiguated family.
const HeaderWindow = 16

var registry = map[string]model.Signature{
	"jpg":  {Extension: "jpg", Category: model.CategoryImage, Prefix: []byte{0xFF, 0xD8, 0xFF}},
	"png":  {Extension: "png", Category: model.CategoryImage, Prefix: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	"gif":  {Extension: "gif", Category: model.CategoryImage, Prefix: []byte{0x47, 0x49, 0x46, 0x38}},
	"bmp":  {Extension: "bmp", Category: model.CategoryImage, Prefix: []byte{0x42, 0x4D}},
	"tiff": {Extension: "tiff", Category: model.CategoryImage, Prefix: []byte{0x49, 0x49, 0x2A, 0x00}, Disambiguator: "tiff-le"},
	"cr2":  {Extension: "cr2", Category: model.CategoryImage, Prefix: []byte{0x49, 0x49, 0x2A, 0x00}, Disambiguator: "tiff-le"},
	// arw/dng share the plain-TIFF prefix and are only ever reached through
	// camera-profile promotion (§4.10), never through Match's ladder.
	"arw": {Extension: "arw", Category: model.CategoryImage, Prefix: []byte{0x49, 0x49, 0x2A, 0x00}, Disambiguator: "tiff-le-profile"},
	"dng": {Extension: "dng", Category: model.CategoryImage, Prefix: []byte{0x49, 0x49, 0x2A, 0x00}, Disambiguator: "tiff-le-profile"},
	"avi":  {Extension: "avi", Category: model.CategoryVideo, Prefix: []byte{0x52, 0x49, 0x46, 0x46}, Disambiguator: "riff"},
	"webp": {Extension: "webp", Category: model.CategoryImage, Prefix: []byte{0x52, 0x49, 0x46, 0x46}, Disambiguator: "riff"},
	"mp4":  {Extension: "mp4", Category: model.CategoryVideo, Disambiguator: "ftyp"},
	"mov":  {Extension: "mov", Category: model.CategoryVideo, Disambiguator: "ftyp"},
	"m4v":  {Extension: "m4v", Category: model.CategoryVideo, Disambiguator: "ftyp"},
	"3gp":  {Extension: "3gp", Category: model.CategoryVideo, Disambiguator: "ftyp"},
	"heic": {Extension: "heic", Category: model.CategoryImage, Disambiguator: "ftyp"},
	"heif": {Extension: "heif", Category: model.CategoryImage, Disambiguator: "ftyp"},
}

// riffBrands classifies bytes 8..12 of a RIFF container.
var riffBrands = map[string]string{
	"AVI ": "avi",
	"WEBP": "webp",
}

// isoBMFFBrands classifies bytes 8..12 of an ISO-BMFF ftyp box.
var isoBMFFBrands = map[string]string{
	"isom": "mp4", "mp41": "mp4", "mp42": "mp4", "avc1": "mp4", "MSNV": "mp4",
	"qt  ": "mov",
	"heic": "heic", "mif1": "heic",
	"heif": "heif", "msf1": "heif",
	"M4V ": "m4v", "M4VH": "m4v", "M4VP": "m4v",
	"3gp4": "3gp", "3gp5": "3gp", "3g2a": "3gp",
}

// Lookup returns the registry entry for extension, and whether it exists.
func Lookup(extension string) (model.Signature, bool) {
	sig, ok := registry[extension]
	return sig, ok
}

// All returns every registry entry, used by callers that need to know the
// full extension universe (e.g. validating a catalog-declared extension).
func All() []model.Signature {
	out := make([]model.Signature, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	return out
}

// Match runs the §4.2/§4.3 match ladder against buf (expected to hold at
// least HeaderWindow bytes, fewer is tolerated but may miss a family that
// needs later bytes): unambiguous direct signatures, then TIFF family, then
// RIFF family, then ISO-BMFF ftyp. The first hit wins.
func Match(buf []byte) (model.Signature, bool) {
	if sig, ok := matchUnambiguous(buf); ok {
		return sig, true
	}
	if sig, ok := matchTIFF(buf); ok {
		return sig, true
	}
	if sig, ok := matchRIFF(buf); ok {
		return sig, true
	}
	if sig, ok := matchISOBMFF(buf); ok {
		return sig, true
	}
	return model.Signature{}, false
}

func matchUnambiguous(buf []byte) (model.Signature, bool) {
	for _, ext := range []string{"jpg", "png", "gif", "bmp"} {
		sig := registry[ext]
		if hasPrefix(buf, sig.Prefix) {
			return sig, true
		}
	}
	return model.Signature{}, false
}

func matchTIFF(buf []byte) (model.Signature, bool) {
	tiffLE := []byte{0x49, 0x49, 0x2A, 0x00}
	if !hasPrefix(buf, tiffLE) {
		return model.Signature{}, false
	}
	if len(buf) >= 10 && bytes.Equal(buf[8:10], []byte("CR")) {
		return registry["cr2"], true
	}
	return registry["tiff"], true
}

func matchRIFF(buf []byte) (model.Signature, bool) {
	riff := []byte{0x52, 0x49, 0x46, 0x46}
	if !hasPrefix(buf, riff) || len(buf) < 12 {
		return model.Signature{}, false
	}
	brand := string(buf[8:12])
	ext, ok := riffBrands[brand]
	if !ok {
		return model.Signature{}, false
	}
	return registry[ext], true
}

func matchISOBMFF(buf []byte) (model.Signature, bool) {
	if len(buf) < 12 || string(buf[4:8]) != "ftyp" {
		return model.Signature{}, false
	}
	brand := string(buf[8:12])
	ext, ok := isoBMFFBrands[brand]
	if !ok {
		ext = "mp4" // unknown brand defaults to mp4, per §4.2
	}
	return registry[ext], true
}

func hasPrefix(buf, prefix []byte) bool {
	return len(buf) >= len(prefix) && bytes.Equal(buf[:len(prefix)], prefix)
}
