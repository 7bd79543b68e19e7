package registry

import (
	"sort"
	"strings"
	"unicode"
)

// Match scores per index, additive across matches.
const (
	scoreCapabilityExact = 15
	scoreKeywordExact    = 10
	scoreTagExact        = 8
	scoreKeywordPartial  = 5
)

// minTokenLen drops short noise tokens ("a", "to", "is") from message
// tokenization and capability word splitting.
const minTokenLen = 3

// index is one inverted index: normalized term → set of service ids.
type index map[string]map[string]struct{}

func (ix index) add(term, serviceID string) {
	if term == "" {
		return
	}
	set, ok := ix[term]
	if !ok {
		set = make(map[string]struct{})
		ix[term] = set
	}
	set[serviceID] = struct{}{}
}

func (ix index) removeService(serviceID string) {
	for term, set := range ix {
		delete(set, serviceID)
		if len(set) == 0 {
			delete(ix, term)
		}
	}
}

// normalizeToken lowercases and strips all non-alphanumeric runes.
func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// normalizePhrase lowercases and collapses non-alphanumeric runs to single
// spaces, preserving word boundaries for multi-word capability phrases.
func normalizePhrase(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		} else {
			space = true
		}
	}
	return b.String()
}

// tokenize splits free text into normalized tokens, dropping short ones.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// scoreboard accumulates per-service scores across index matches.
type scoreboard map[string]int

func (sb scoreboard) credit(ids map[string]struct{}, points int) {
	for id := range ids {
		sb[id] += points
	}
}

// ranked returns service ids sorted by descending score; ties break by id
// so results are stable.
func (sb scoreboard) ranked() []string {
	ids := make([]string, 0, len(sb))
	for id := range sb {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if sb[ids[i]] != sb[ids[j]] {
			return sb[ids[i]] > sb[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
