// Package fingerprint reduces message text to a compact hash so that
// near-identical spam collapses to the same value.
package fingerprint

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/spaolacci/murmur3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Empty is the fingerprint of text with no content after normalization.
const Empty uint64 = 0

var (
	userMention    = regexp.MustCompile(`<@[!&]?\d+>`)
	channelMention = regexp.MustCompile(`<#\d+>`)
	customEmoji    = regexp.MustCompile(`<a?:[A-Za-z0-9_~]+:\d+>`)
	timestamp      = regexp.MustCompile(`<t:-?\d+(:[tTdDfFR])?>`)
	link           = regexp.MustCompile(`(?i)https?://\S+`)
	markup         = regexp.MustCompile("[*_~`|]+")
)

// Normalize returns the canonical form of text used for hashing.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	out := link.ReplaceAllString(text, " <link> ")
	out = userMention.ReplaceAllString(out, " @mention ")
	out = channelMention.ReplaceAllString(out, " #channel ")
	out = customEmoji.ReplaceAllString(out, " :emoji: ")
	out = timestamp.ReplaceAllString(out, " <time> ")
	out = markup.ReplaceAllString(out, " ")

	// chain is not safe for concurrent use, build one per call
	chain := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(chain, out); err == nil {
		out = folded
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// Sum fingerprints text. Text that normalizes to nothing yields Empty.
func Sum(text string) uint64 {
	normalized := Normalize(text)
	if normalized == "" {
		return Empty
	}
	sum := murmur3.Sum64([]byte(normalized))
	if sum == Empty {
		// 0 is reserved for empty text
		return 1
	}
	return sum
}
