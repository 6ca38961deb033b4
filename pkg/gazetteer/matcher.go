// Package gazetteer matches known entity names against free text using a
// single Aho-Corasick automaton. One canonicalizer serves both pattern
// compilation and scanning so multiword names match reliably.
package gazetteer

import (
	"strings"
	"unicode"

	"github.com/coregx/ahocorasick"
	"github.com/orsinium-labs/stopwords"
)

// isJoiner returns true for punctuation that commonly appears INSIDE names.
// These are preserved during canonicalization to keep multiword entities
// coherent: "Monkey D. Luffy", "O'Brien", "Jean-Luc", "AT&T".
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '‘',
		'-', '–', '—',
		'·', '.', '_', '/', '#', '&':
		return true
	default:
		return false
	}
}

// Canonicalize transforms text into the normalized form used for matching:
// lowercase, joiners preserved, every other non-alphanumeric run collapsed
// to a single space, leading/trailing spaces trimmed.
func Canonicalize(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	lastWasSpace := true
	for _, ch := range s {
		c := unicode.ToLower(ch)
		if c == '’' || c == '‘' {
			c = '\''
		}
		if c == '–' || c == '—' {
			c = '-'
		}

		if unicode.IsLetter(c) || unicode.IsDigit(c) || isJoiner(c) {
			out.WriteRune(c)
			lastWasSpace = false
		} else if !lastWasSpace {
			out.WriteRune(' ')
			lastWasSpace = true
		}
	}

	result := out.String()
	if len(result) > 0 && result[len(result)-1] == ' ' {
		result = result[:len(result)-1]
	}
	return result
}

// Matcher scans text for mentions of known entity names.
type Matcher struct {
	ac *ahocorasick.Automaton

	// Pattern index -> the original (canonical-cased) entity name.
	patternToName []string
	patterns      []string
}

// englishStopwords filters single-token names like "the" or "and" that
// would otherwise match nearly every query.
var englishStopwords = stopwords.MustGet("en")

// NewMatcher compiles an automaton over the given entity names. Names that
// canonicalize to empty strings or to single stopword tokens are skipped;
// duplicate canonical forms keep the first name.
func NewMatcher(names []string) (*Matcher, error) {
	m := &Matcher{}
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		key := Canonicalize(name)
		if key == "" || seen[key] {
			continue
		}
		if !strings.Contains(key, " ") && englishStopwords.Contains(key) {
			continue
		}
		seen[key] = true
		m.patterns = append(m.patterns, key)
		m.patternToName = append(m.patternToName, name)
	}

	if len(m.patterns) == 0 {
		return m, nil
	}

	// LeftmostLongest prefers "San Francisco" over "San".
	automaton, err := ahocorasick.NewBuilder().
		AddStrings(m.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	m.ac = automaton
	return m, nil
}

// Len returns the number of compiled patterns.
func (m *Matcher) Len() int {
	return len(m.patterns)
}

// MatchNames returns the distinct entity names mentioned in text, in order
// of first occurrence. Matches must align with token boundaries in the
// canonicalized text so "Ann" never fires inside "anniversary".
func (m *Matcher) MatchNames(text string) []string {
	if m.ac == nil || text == "" {
		return nil
	}

	haystack := Canonicalize(text)
	matches := m.ac.FindAllOverlapping([]byte(haystack))

	var names []string
	emitted := make(map[int]bool, len(matches))
	for _, match := range matches {
		if !onTokenBoundary(haystack, match.Start, match.End) {
			continue
		}
		if emitted[match.PatternID] {
			continue
		}
		emitted[match.PatternID] = true
		names = append(names, m.patternToName[match.PatternID])
	}
	return names
}

func onTokenBoundary(s string, start, end int) bool {
	if start > 0 && s[start-1] != ' ' {
		return false
	}
	if end < len(s) && s[end] != ' ' {
		return false
	}
	return true
}
