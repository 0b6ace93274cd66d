// Package similarity implements the text normalization and scoring used by
// the question store's fuzzy lookup. Questions scraped from homework pages
// carry ordinal prefixes, full-width punctuation and inconsistent spacing,
// so both sides of a comparison are normalized before scoring.
//
// All functions are pure; callers may cache results keyed by input.
package similarity

import (
	"regexp"
	"strings"
)

// Empirical constants carried over from the production question bank. Do not
// re-tune without a corpus to validate against.
const (
	// SubstringScore is returned when one normalized text contains the other.
	SubstringScore = 0.8
	// TokenEarlyExit short-circuits the blend when token overlap alone is high.
	TokenEarlyExit = 0.7
	// TokenWeight and CharWeight blend word-level and character-level overlap.
	TokenWeight = 0.6
	CharWeight  = 0.4
)

// ordinalPrefix matches leading question numbering like "1.(25分)".
var ordinalPrefix = regexp.MustCompile(`^\d+\.\s*\(\d+分\)\s*`)

var multiSpace = regexp.MustCompile(`\s+`)

// punctuation maps full-width punctuation to ASCII and drops bracket quotes.
var punctuation = strings.NewReplacer(
	"，", ",",
	"。", ".",
	"；", ";",
	"：", ":",
	"？", "?",
	"！", "!",
	"《", "",
	"》", "",
	"「", "",
	"」", "",
	"（", "(",
	"）", ")",
)

// Normalize canonicalizes question text for matching: the ordinal/score
// prefix is stripped, full-width punctuation becomes ASCII, everything that
// is not a CJK ideograph, ASCII letter or digit collapses to a single space,
// and the result is case-folded.
func Normalize(text string) string {
	text = ordinalPrefix.ReplaceAllString(text, "")
	text = punctuation.Replace(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 0x4E00 && r <= 0x9FA5:
			b.WriteRune(r)
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	text = multiSpace.ReplaceAllString(b.String(), " ")
	return strings.ToLower(strings.TrimSpace(text))
}

// Tokens splits normalized text into its token set. ASCII words are tokens
// as-is; CJK text carries no word boundaries, so each ideograph is its own
// token — otherwise two Chinese questions would almost never share a token
// and the overlap pre-filter would reject every candidate.
func Tokens(normalized string) map[string]struct{} {
	set := make(map[string]struct{})
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			set[word.String()] = struct{}{}
			word.Reset()
		}
	}
	for _, r := range normalized {
		switch {
		case r == ' ':
			flush()
		case r >= 0x4E00 && r <= 0x9FA5:
			flush()
			set[string(r)] = struct{}{}
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return set
}

// Score rates the similarity of two normalized texts in [0,1].
//
// Identical texts score 1.0. A containment relation scores a fixed 0.8,
// which absorbs minor formatting drift cheaply. Otherwise the token-set
// Jaccard index is used directly when it is decisive on its own, and blended
// with a character-set Jaccard index when it is not.
func Score(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return SubstringScore
	}
	return ScoreTokens(a, b, Tokens(a), Tokens(b))
}

// ScoreTokens is Score for callers that already hold the token sets, such as
// the store's candidate scan which tokenizes each record once for its
// overlap pre-filter.
func ScoreTokens(a, b string, ta, tb map[string]struct{}) float64 {
	if a == b {
		return 1.0
	}
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return SubstringScore
	}

	token := jaccard(ta, tb)
	if token > TokenEarlyExit {
		return token
	}

	char := jaccard(runeSet(a), runeSet(b))
	return token*TokenWeight + char*CharWeight
}

func jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func runeSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, r := range s {
		if r == ' ' {
			continue
		}
		set[string(r)] = struct{}{}
	}
	return set
}
