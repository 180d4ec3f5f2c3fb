package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// stopwords are dropped during normalization so trivial rewordings of
// the same fact ("has a cat" / "he has the cat") hash identically.
// Deduplication is exact-match on the normalized form; semantic
// similarity is out of scope.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"has": {}, "have": {}, "had": {},
	"he": {}, "she": {}, "they": {}, "it": {}, "i": {}, "we": {}, "you": {},
	"his": {}, "her": {}, "their": {}, "its": {}, "my": {}, "our": {}, "your": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {},
	"and": {}, "or": {}, "that": {}, "this": {},
}

// Normalize reduces content to its canonical comparison form: lowercase,
// punctuation stripped, whitespace collapsed, stopwords removed. If every
// token is a stopword the stopword filter is skipped, so short facts like
// "she is in" still normalize to something non-empty.
func Normalize(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range strings.ToLower(content) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	tokens := strings.Fields(b.String())
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, skip := stopwords[tok]; !skip {
			kept = append(kept, tok)
		}
	}
	if len(kept) == 0 {
		kept = tokens
	}
	return strings.Join(kept, " ")
}

// ContentHash returns the hex SHA-256 of the normalized content. Records
// are unique per (user, tier, hash), so this is the deduplication key.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}
