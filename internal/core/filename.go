package core

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// FileName is the parsed form of an archival scan file name. Scans are
// named <stem>_<sequence>[marker].<ext> where the marker is a trailing
// recto/verso indicator ("r" or "v"), e.g. scan_0001r.tif.
type FileName struct {
	// Stem is the base name without extension, sequence and marker.
	Stem string
	// Sequence is the trailing sequence number, -1 when absent.
	Sequence int
	// SeqWidth is the zero-padded width of the sequence as written.
	SeqWidth int
	// Marker is the recto/verso suffix ("r", "v") or empty.
	Marker string
	// Ext is the lowercased extension including the dot.
	Ext string
}

var sequenceRE = regexp.MustCompile(`^(.*?)_(\d+)([rv]?)$`)

// ParseFileName splits a file name into stem, sequence number,
// recto/verso marker and extension.
func ParseFileName(name string) FileName {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	fn := FileName{Stem: stem, Sequence: -1, Ext: strings.ToLower(ext)}
	if m := sequenceRE.FindStringSubmatch(stem); m != nil && m[1] != "" {
		if n, err := strconv.Atoi(m[2]); err == nil {
			fn.Stem = m[1]
			fn.Sequence = n
			fn.SeqWidth = len(m[2])
			fn.Marker = m[3]
		}
	}
	return fn
}

// Stem returns the base name of path without its extension. Files with
// differing extensions for the same logical page share a stem.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var naturalChunkRE = regexp.MustCompile(`\d+|\D+`)

// NaturalLess compares two strings treating embedded digit runs as
// numbers, so scan_2 sorts before scan_10.
func NaturalLess(a, b string) bool {
	as := naturalChunkRE.FindAllString(strings.ToLower(a), -1)
	bs := naturalChunkRE.FindAllString(strings.ToLower(b), -1)
	for i := 0; i < len(as) && i < len(bs); i++ {
		x, y := as[i], bs[i]
		if x == y {
			continue
		}
		xn, xerr := strconv.Atoi(x)
		yn, yerr := strconv.Atoi(y)
		if xerr == nil && yerr == nil {
			return xn < yn
		}
		return x < y
	}
	return len(as) < len(bs)
}
