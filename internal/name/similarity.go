package name

import (
	"strings"

	"github.com/wetneb/dissemin/internal/reference"
	"github.com/wetneb/dissemin/internal/textnorm"
)

// MatchFirstNames reports whether two given names are compatible.
// An empty string stands for an unknown name and matches anything.
// A single letter is compared with the other name's initial.
func MatchFirstNames(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	ra, rb := []rune(a), []rune(b)
	switch {
	case len(ra) == 1:
		return strings.EqualFold(a, string(rb[0]))
	case len(rb) == 1:
		return strings.EqualFold(b, string(ra[0]))
	default:
		return strings.ToLower(textnorm.RemoveDiacritics(a)) == strings.ToLower(textnorm.RemoveDiacritics(b))
	}
}

// ShallowSimilarity scores two names between 0 and 1. Family names are
// compared as sets of words, so partial overlaps still score. Given names
// only need compatible initials.
func ShallowSimilarity(a, b reference.Name) float64 {
	wordsA := wordSet(textnorm.IUnaccent(a.Last))
	wordsB := wordSet(textnorm.IUnaccent(b.Last))
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	common := 0
	for w := range wordsA {
		if wordsB[w] {
			common++
		}
	}
	ratio := float64(common) / float64(len(wordsA)+len(wordsB)-common)

	initialsA := initials(a.First)
	initialsB := initials(b.First)
	if !initialsMatch(initialsA, initialsB) {
		if !initialsMatch(reversed(initialsA), reversed(initialsB)) {
			return 0
		}
	}
	shortest, longest := len(initialsA), len(initialsB)
	if shortest > longest {
		shortest, longest = longest, shortest
	}
	return ratio * float64(shortest+1) / float64(longest+1)
}

// MostSimilar returns the index of the candidate closest to ref. It
// reports false when no candidate has a positive score. Ties keep the
// earliest index.
func MostSimilar(ref reference.Name, candidates []reference.Name) (int, bool) {
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		if score := ShallowSimilarity(c, ref); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, best >= 0
}

// AffiliateORCID assigns orcid to the author most similar to ref. The
// result starts from initial when it has one entry per author.
func AffiliateORCID(ref reference.Name, orcid string, authors []reference.Name, initial []string) []string {
	orcids := make([]string, len(authors))
	if len(initial) == len(authors) {
		copy(orcids, initial)
	}
	if idx, ok := MostSimilar(ref, authors); ok {
		orcids[idx] = orcid
	}
	return orcids
}

func wordSet(s string) map[string]bool {
	words, _ := SplitWords(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func initials(first string) []string {
	words, _ := SplitWords(first)
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, string([]rune(w)[0]))
	}
	return out
}

func initialsMatch(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if !MatchFirstNames(a[i], b[i]) {
			return false
		}
	}
	return true
}

func reversed(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[len(s)-1-i] = v
	}
	return out
}
