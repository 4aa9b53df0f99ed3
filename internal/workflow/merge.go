package workflow

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"casiel/internal/tempfiles"
)

// mergeUnder returns a copy of base with every key of top applied over it.
func mergeUnder(top, base map[string]any) map[string]any {
	out := make(map[string]any, len(top)+len(base))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range top {
		out[key] = value
	}
	return out
}

// BuildSlug joins base, with spaces replaced by underscores, and suffix.
func BuildSlug(base, suffix string) string {
	return tempfiles.SafeName(foldName(base)) + "_" + suffix
}

// foldName strips diacritics so names stay ASCII in URLs and file names.
func foldName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		return name
	}
	return folded
}

// randomSuffix returns four lowercase hex characters.
func randomSuffix() string {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0000"
	}
	return hex.EncodeToString(b[:])
}
