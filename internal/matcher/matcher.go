/**
 * Field matcher
 *
 * Scores how well an expected string (a declared name, course or school)
 * appears in OCR text. Scores are 0-100. A verbatim hit on the normalized
 * strings always scores 100; otherwise credit is given per needle word so that
 * compound names and abbreviated institutions survive OCR noise.
 */

package matcher

import (
	"math"
	"regexp"
	"strings"
)

var (
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// Normalize lowercases s, turns punctuation into spaces and collapses whitespace.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = punctuation.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Words splits a normalized string into words.
func Words(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, " ")
}

// Matcher scores needles against haystacks with a fixed set of thresholds
type Matcher struct {
	th Thresholds
}

// New creates a matcher. Zero-valued thresholds fall back to the defaults.
func New(th Thresholds) *Matcher {
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	return &Matcher{th: th}
}

// Default returns a matcher using DefaultThresholds.
func Default() *Matcher {
	return New(DefaultThresholds())
}

func (m *Matcher) Thresholds() Thresholds {
	return m.th
}

// Match is the general-text variant used for courses and institutions.
// Words shorter than 3 characters never earn credit but still count toward the total.
func (m *Matcher) Match(needle, haystack string) float64 {
	n := Normalize(needle)
	h := Normalize(haystack)
	if n == "" {
		return 0
	}
	if strings.Contains(h, n) {
		return 100
	}

	needleWords := Words(n)
	haystackWords := Words(h)
	total := float64(len(needleWords))

	exact := 0
	for _, nw := range needleWords {
		if runeLen(nw) < 3 {
			continue
		}
		if contains(haystackWords, nw) {
			exact++
		}
	}
	wordPercent := float64(exact) / total * 100
	if wordPercent >= m.th.WordMatchAccept {
		return wordPercent
	}

	fuzzy := 0
	for _, nw := range needleWords {
		if runeLen(nw) < 3 {
			continue
		}
		best := 0.0
		for _, hw := range haystackWords {
			if runeLen(hw) < 3 {
				continue
			}
			best = math.Max(best, Similarity(nw, hw))
		}
		if best >= m.th.GeneralFuzzyWord {
			fuzzy++
		}
	}
	fuzzyPercent := float64(fuzzy) / total * 100

	return math.Max(wordPercent, fuzzyPercent)
}

// MatchName is the name variant. Two-letter particles ("dy", "go") are
// eligible, a haystack word containing the needle word earns partial credit,
// and partial hits add a bonus capped at 20.
func (m *Matcher) MatchName(needle, haystack string) float64 {
	n := Normalize(needle)
	h := Normalize(haystack)
	if n == "" {
		return 0
	}
	if strings.Contains(h, n) {
		return 100
	}

	needleWords := Words(n)
	haystackWords := Words(h)
	total := float64(len(needleWords))

	matched, partials := 0, 0
	for _, nw := range needleWords {
		if runeLen(nw) < 2 {
			continue
		}
		best := 0.0
		for _, hw := range haystackWords {
			if nw == hw {
				best = 100
				break
			}
			if runeLen(hw) >= 2 && strings.Contains(hw, nw) && best < 75 {
				partials++
				best = 75
			}
			if runeLen(nw) >= 3 && runeLen(hw) >= 3 {
				if sim := Similarity(nw, hw); sim >= m.th.NameFuzzyWord && sim > best {
					best = sim
				}
			}
		}
		if best >= m.th.NameFuzzyWord {
			matched++
		}
	}

	score := float64(matched)/total*100 + math.Min(20, float64(partials)/total*50)
	return math.Min(100, score)
}

// FuzzyMatch scores with the default thresholds.
func FuzzyMatch(needle, haystack string) float64 {
	return Default().Match(needle, haystack)
}

// FuzzyMatchName scores a name with the default thresholds.
func FuzzyMatchName(needle, haystack string) float64 {
	return Default().MatchName(needle, haystack)
}

// ContainsAny reports whether the normalized text contains any of the terms.
func ContainsAny(normalizedText string, terms ...string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(normalizedText, Normalize(t)) {
			return true
		}
	}
	return false
}

func contains(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

func runeLen(s string) int {
	return len([]rune(s))
}
