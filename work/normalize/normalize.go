package normalize

import (
	"strings"
	"unicode"

	"github.com/grafana/regexp"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Channel directory entries and provider stream names describe the same
// channel with wildly different decorations ("ESPN FHD", "Éspn 4K BR",
// "Canal ESPN"). Key canonicalizes both sides into a comparison key so the
// logo resolver can match them. The function is pure: same input, same key,
// no locale dependence beyond Unicode normalization.
var (
	// Multi-word quality tags are removed before the single-word pass so the
	// word-boundary patterns below never see their fragments.
	multiWordTags = regexp.MustCompile(`\b(full ?hd|high ?definition)\b`)

	// Quality, codec, and region decorations removed as whole words.
	qualityTags = regexp.MustCompile(`\b(fhd|uhd|hd|sd|4k|h265|h264|channel|canal|br|brasil|brazil)\b`)

	// Everything that is not a lowercase letter, digit, or space becomes a
	// separator. This also flattens brackets and pipe decorations.
	symbols = regexp.MustCompile(`[^a-z0-9\s]+`)

	spaces = regexp.MustCompile(`\s+`)

	// NFD decomposition followed by combining-mark removal strips diacritics.
	markStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Key canonicalizes a free-text channel name into a comparison key.
// Empty or whitespace-only input yields the empty string; callers must treat
// an empty key as "no match".
func Key(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}

	if stripped, _, err := transform.String(markStripper, s); err == nil {
		s = stripped
	}

	s = multiWordTags.ReplaceAllString(s, " ")
	s = qualityTags.ReplaceAllString(s, " ")
	s = symbols.ReplaceAllString(s, " ")
	s = spaces.ReplaceAllString(s, " ")

	return strings.TrimSpace(s)
}
