// Package champions normalizes user-supplied champion names and resolves them
// against the names a model was trained with.
package champions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

const (
	// MinSimilarity is the lowest ratio accepted by the fuzzy tier.
	MinSimilarity = 0.6

	maxSuggestions = 5
)

var ErrEmptyName = errors.New("champions: empty name")

// UnknownNameError is returned when no key is close enough to the query.
type UnknownNameError struct {
	Query       string
	Suggestions []string
}

func (e *UnknownNameError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("unknown champion %q", e.Query)
	}
	return fmt.Sprintf("unknown champion %q (did you mean: %s)", e.Query, strings.Join(e.Suggestions, ", "))
}

// Candidate is a key with its similarity to the query.
type Candidate struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Result describes how a query was resolved. Exact is true for every tier
// except the similarity scan.
type Result struct {
	Key        string
	Exact      bool
	Score      float64
	Candidates []Candidate
}

// Normalize trims the name and fixes its casing. Multi-word names are
// capitalized per word and joined; single words in all upper or all lower
// case are capitalized; mixed case is kept.
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if strings.ContainsAny(name, " \t") {
		var b strings.Builder
		for _, w := range strings.Fields(name) {
			b.WriteString(capitalize(w))
		}
		return b.String()
	}
	if isUpper(name) || isLower(name) {
		return capitalize(name)
	}
	return name
}

func capitalize(w string) string {
	r := []rune(strings.ToLower(w))
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	return string(r)
}

// isUpper and isLower require at least one cased letter.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

func isLower(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsUpper(r) {
			return false
		}
		if unicode.IsLower(r) {
			cased = true
		}
	}
	return cased
}

// compact lowercases s and drops everything but letters and digits.
func compact(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Similarity returns 1 - levenshtein(a, b) / max(len(a), len(b)) over runes.
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Resolver matches queries against a fixed key set.
type Resolver struct {
	keys    []string
	exact   map[string]string
	lower   map[string]string
	compact map[string]string
}

// NewResolver indexes keys. When two keys collide in a looser tier the first
// one in sorted order wins.
func NewResolver(keys []string) *Resolver {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	r := &Resolver{
		keys:    sorted,
		exact:   make(map[string]string, len(sorted)),
		lower:   make(map[string]string, len(sorted)),
		compact: make(map[string]string, len(sorted)),
	}
	for _, k := range sorted {
		r.exact[k] = k
		if _, ok := r.lower[strings.ToLower(k)]; !ok {
			r.lower[strings.ToLower(k)] = k
		}
		if _, ok := r.compact[compact(k)]; !ok {
			r.compact[compact(k)] = k
		}
	}
	return r
}

// Keys returns the indexed keys in sorted order.
func (r *Resolver) Keys() []string {
	return r.keys
}

// Resolve tries exact, case-insensitive, punctuation-insensitive and finally
// similarity matching. A miss returns *UnknownNameError.
func (r *Resolver) Resolve(query string) (Result, error) {
	raw := strings.TrimSpace(query)
	if raw == "" {
		return Result{}, ErrEmptyName
	}
	norm := Normalize(raw)

	for _, q := range []string{raw, norm} {
		if k, ok := r.exact[q]; ok {
			return Result{Key: k, Exact: true, Score: 1}, nil
		}
	}
	if k, ok := r.lower[strings.ToLower(norm)]; ok {
		return Result{Key: k, Exact: true, Score: 1}, nil
	}
	cq := compact(norm)
	if k, ok := r.compact[cq]; ok && cq != "" {
		return Result{Key: k, Exact: true, Score: 1}, nil
	}

	ranked := r.rank(cq)
	if len(ranked) > 0 && ranked[0].Score >= MinSimilarity {
		return Result{Key: ranked[0].Name, Score: ranked[0].Score, Candidates: ranked}, nil
	}

	sugg := make([]string, 0, len(ranked))
	for _, c := range ranked {
		sugg = append(sugg, c.Name)
	}
	return Result{}, &UnknownNameError{Query: query, Suggestions: sugg}
}

// rank scores every key against the compacted query and keeps the best few.
func (r *Resolver) rank(cq string) []Candidate {
	all := make([]Candidate, 0, len(r.keys))
	for _, k := range r.keys {
		ck := compact(k)
		score := Similarity(cq, ck)
		// Substring hits are good suggestions even when short
		if cq != "" && (strings.Contains(ck, cq) || strings.Contains(cq, ck)) && score < 0.5 {
			score = 0.5
		}
		if score <= 0 {
			continue
		}
		all = append(all, Candidate{Name: k, Score: score})
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Score > all[j].Score
	})
	if len(all) > maxSuggestions {
		all = all[:maxSuggestions]
	}
	return all
}

// Resolve is a one-shot helper for callers without a long-lived Resolver.
func Resolve(query string, keys []string) (Result, error) {
	return NewResolver(keys).Resolve(query)
}
