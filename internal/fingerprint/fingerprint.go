// Package fingerprint turns free-form post text into a canonical form
// suitable for duplicate detection: a normalized string, a content hash,
// a stop-word-filtered token list, and a small set of topic keys used
// for cooldown checks.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	urlRe      = regexp.MustCompile(`https?://\S+`)
	mentionRe  = regexp.MustCompile(`(?i)@[a-z0-9_]+`)
	hashtagRe  = regexp.MustCompile(`#[\p{L}\p{N}_-]+`)
	nonWordRe  = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// stopWords are common English function words excluded from token sets
// so that similarity compares content words only.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "if": {},
	"on": {}, "in": {}, "to": {}, "for": {}, "of": {}, "with": {}, "from": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"it": {}, "this": {}, "that": {}, "these": {}, "those": {}, "as": {},
	"at": {}, "by": {}, "we": {}, "you": {}, "i": {}, "they": {}, "he": {},
	"she": {}, "them": {}, "our": {}, "your": {}, "their": {},
}

// Normalize lowercases text, strips URLs, @-mentions and hashtags,
// replaces every remaining non-alphanumeric rune with a space, collapses
// whitespace, and trims. Normalize is idempotent.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = urlRe.ReplaceAllString(s, "")
	s = mentionRe.ReplaceAllString(s, "")
	s = hashtagRe.ReplaceAllString(s, "")
	s = nonWordRe.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Hash returns the hex-encoded SHA-256 of the normalized form of s.
// Equal hashes mean exact duplicates after normalization.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// Tokens splits the normalized form of s on whitespace and drops
// stop words.
func Tokens(s string) []string {
	var out []string
	for _, w := range strings.Fields(Normalize(s)) {
		if _, stop := stopWords[w]; !stop {
			out = append(out, w)
		}
	}
	return out
}

// TokenSet returns the tokens of s as a set.
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range Tokens(s) {
		set[w] = struct{}{}
	}
	return set
}

// Bigrams returns adjacent token pairs joined by a single space.
func Bigrams(words []string) []string {
	if len(words) < 2 {
		return nil
	}
	out := make([]string, 0, len(words)-1)
	for i := 0; i < len(words)-1; i++ {
		out = append(out, words[i]+" "+words[i+1])
	}
	return out
}

// Topics extracts a cheap subject-matter key set from s: the first 4
// bigrams followed by the first 6 unigrams, de-duplicated, capped at 8
// entries. Topics approximate "what the post is about" for cooldown
// checks, nothing more.
func Topics(s string) []string {
	t := Tokens(s)

	uni := t
	if len(uni) > 6 {
		uni = uni[:6]
	}
	bi := Bigrams(t)
	if len(bi) > 4 {
		bi = bi[:4]
	}

	seen := make(map[string]struct{}, len(bi)+len(uni))
	out := make([]string, 0, 8)
	for _, topic := range append(append([]string{}, bi...), uni...) {
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
		if len(out) == 8 {
			break
		}
	}
	return out
}

// Jaccard computes |A∩B| / |A∪B| over two token sets. Two empty sets
// have similarity 0, not 1, so empty strings never count as duplicates.
func Jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
