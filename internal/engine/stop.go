package engine

import (
	"strings"
	"unicode/utf8"
)

// stopMatcher scans generated text for stop sequences. Any tail that could
// still grow into a stop sequence, or that ends in an incomplete UTF-8
// sequence, is held back until later fragments disambiguate it. Text handed
// out for emission therefore never contains any part of a matched stop.
type stopMatcher struct {
	stops   []string
	pending string
}

func newStopMatcher(stops []string) *stopMatcher {
	m := &stopMatcher{}
	for _, s := range stops {
		if s != "" {
			m.stops = append(m.stops, s)
		}
	}
	return m
}

// push adds a fragment and returns the text that is now safe to emit. When a
// stop sequence matches, emit is the text preceding the earliest match and
// matched is true; the matcher must not be used afterwards.
func (m *stopMatcher) push(fragment string) (emit string, matched bool) {
	s := m.pending + fragment
	cut := -1
	for _, stop := range m.stops {
		if i := strings.Index(s, stop); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		m.pending = ""
		return s[:cut], true
	}
	hold := max(m.stopPrefixLen(s), partialRuneLen(s))
	m.pending = s[len(s)-hold:]
	return s[:len(s)-hold], false
}

// flush releases held text once generation ends without a match.
func (m *stopMatcher) flush() string {
	s := m.pending
	m.pending = ""
	return s
}

// stopPrefixLen is the length of the longest suffix of s that is a proper
// prefix of some stop sequence.
func (m *stopMatcher) stopPrefixLen(s string) int {
	best := 0
	for _, stop := range m.stops {
		n := min(len(stop)-1, len(s))
		for k := n; k > best; k-- {
			if strings.HasPrefix(stop, s[len(s)-k:]) {
				best = k
				break
			}
		}
	}
	return best
}

// partialRuneLen is the byte length of a trailing incomplete UTF-8 sequence.
func partialRuneLen(s string) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(s); i++ {
		c := s[len(s)-i]
		if utf8.RuneStart(c) {
			if c >= utf8.RuneSelf && !utf8.FullRuneInString(s[len(s)-i:]) {
				return i
			}
			return 0
		}
	}
	return 0
}
