package core

import (
	"regexp"
	"strings"
)

// Normalization rules for archival signatures, following the HLA naming
// guideline: lowercase, umlauts transliterated, whitespace to
// underscores, an archival-class token before a slash opens a new path
// segment, a remaining (volume/part) slash becomes "--", plus becomes
// "..", commas vanish, anything else outside [a-z0-9._-] is dropped.
var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	disallowedRE = regexp.MustCompile(`[^a-z0-9._/-]`)
	underscoreRE = regexp.MustCompile(`_{2,}`)
	dotsRE       = regexp.MustCompile(`[.]{3,}`)
	dashesRE     = regexp.MustCompile(`-{3,}`)
	slashesRE    = regexp.MustCompile(`/{2,}`)

	// classTokenRE matches an archival-class marker (a|b|c|p|r followed
	// by a roman or numeric qualifier) at the end of a segment. A slash
	// right after such a marker separates path levels instead of volume
	// parts.
	classTokenRE = regexp.MustCompile(`(?:^|[_/])[abcpr]_(?:\d+[a-z]?|[ivxlcdm]+)$`)
)

var umlauts = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss",
)

// Normalize converts a free-text archival signature into a canonical
// filesystem-safe path segment. It is deterministic and idempotent:
// normalizing an already-normalized string is a no-op.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrInvalidSignature
	}

	s = strings.ToLower(s)
	s = umlauts.Replace(s)
	s = whitespaceRE.ReplaceAllString(s, "_")
	s = strings.ReplaceAll(s, "+", "..")
	s = strings.ReplaceAll(s, ",", "")
	s = resolveSlashes(s)
	s = disallowedRE.ReplaceAllString(s, "")
	s = underscoreRE.ReplaceAllString(s, "_")
	s = dotsRE.ReplaceAllString(s, "..")
	s = dashesRE.ReplaceAllString(s, "--")
	s = slashesRE.ReplaceAllString(s, "/")

	segments := strings.Split(s, "/")
	out := segments[:0]
	for _, seg := range segments {
		seg = strings.Trim(seg, "._-")
		if seg != "" {
			out = append(out, seg)
		}
	}
	if len(out) == 0 {
		return "", ErrInvalidSignature
	}
	return strings.Join(out, "/"), nil
}

// resolveSlashes decides, per slash, between a path separator (slash
// preceded by an archival-class token) and a volume/part separator
// (everything else, rewritten to "--").
func resolveSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '/' {
			b.WriteByte(c)
			continue
		}
		if classTokenRE.MatchString(b.String()) {
			b.WriteByte('/')
		} else {
			b.WriteString("--")
		}
	}
	return b.String()
}

// SanitizeSegment normalizes a single name component (no path nesting),
// used when building sequential file names. An input that reduces to
// nothing becomes "x", matching the archival renaming convention.
func SanitizeSegment(raw string) string {
	n, err := Normalize(raw)
	if err != nil {
		return "x"
	}
	return strings.ReplaceAll(n, "/", "_")
}

// BestandOf extracts the archival collection (Bestand) component of a
// normalized path: the leading token before the first underscore or
// path separator. Nesting depth does not change the collection, so
// "urk_b_14/120" and "urk_b_14_120" belong to the same Bestand.
func BestandOf(normalized string) string {
	if i := strings.IndexAny(normalized, "_/"); i >= 0 {
		return normalized[:i]
	}
	return normalized
}
