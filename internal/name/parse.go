package name

import (
	"regexp"
	"strings"

	"github.com/wetneb/dissemin/internal/reference"
	"github.com/wetneb/dissemin/internal/textnorm"
)

var lowercaseRegex = regexp.MustCompile(`[a-z]`)

// suffixes appear after a name and are not part of it.
var suffixes = map[string]bool{
	"jr": true, "jr.": true, "sr": true, "sr.": true,
	"ii": true, "iii": true, "iv": true,
	"phd": true, "ph.d.": true, "md": true, "m.d.": true,
}

// particles are nobiliary particles that belong to the family name.
var particles = map[string]bool{
	"van": true, "von": true, "de": true, "del": true, "della": true,
	"di": true, "da": true, "le": true, "la": true, "du": true,
	"des": true, "den": true, "der": true, "het": true, "ter": true,
	"ten": true, "op": true, "dos": true, "das": true, "do": true,
	"y": true, "bin": true, "ibn": true, "al": true, "el": true,
}

func isInitial(w string) bool {
	return len([]rune(w)) == 1
}

func isFullyCapitalized(w string) bool {
	return !lowercaseRegex.MatchString(textnorm.RemoveDiacritics(w))
}

// ParseCommaName parses "Last, First" into a name pair and does something
// reasonable when there is no comma.
func ParseCommaName(s string) reference.Name {
	var first, last string
	if strings.Contains(s, ",") {
		parts := strings.SplitN(s, ",", 2)
		last = parts[0]
		first = stripSuffixes(strings.ReplaceAll(parts[1], ",", " "))
	} else {
		words, _ := SplitWords(s)
		if len(words) == 0 {
			return reference.Name{}
		}
		firstWords, lastWords := splitWithoutComma(words)
		first = strings.Join(firstWords, " ")
		last = strings.Join(lastWords, " ")
	}

	first = NormalizeWords(strings.TrimSpace(first))
	last = NormalizeWords(strings.TrimSpace(last))
	if last == "" {
		first, last = last, first
	}
	return reference.Name{First: first, Last: last}
}

func splitWithoutComma(words []string) (first, last []string) {
	n := len(words)
	initial := make([]bool, n)
	capitalized := make([]bool, n)
	allCapitalized := true
	lastInitial := -1
	for i, w := range words {
		initial[i] = isInitial(w)
		capitalized[i] = isFullyCapitalized(w)
		if !capitalized[i] {
			allCapitalized = false
		}
		if initial[i] {
			lastInitial = i
		}
	}

	switch {
	// The leading capitalized words are the family name: "DOE John".
	case !initial[0] && capitalized[0] && !allCapitalized:
		last, first = splitForward(func(i int) bool { return capitalized[i] && !initial[i] }, words)
	// The trailing capitalized words are the family name: "John DOE".
	case !initial[n-1] && capitalized[n-1] && !allCapitalized:
		first, last = splitForward(func(i int) bool { return !capitalized[i] || initial[i] }, words)
	// Leading initials are the given name: "J. R. Doe".
	case initial[0]:
		first, last = splitForward(func(i int) bool { return initial[i] }, words)
	// Trailing initials are the given name: "Doe J. R.".
	case initial[n-1]:
		last, first = splitBackward(func(i int) bool { return initial[i] }, words)
	case lastInitial >= 0:
		first = words[:lastInitial+1]
		last = words[lastInitial+1:]
	default:
		first, last = splitOnParticles(words)
	}
	return first, last
}

// splitForward moves the leading words satisfying pred to head.
func splitForward(pred func(int) bool, words []string) (head, tail []string) {
	holds := true
	for i, w := range words {
		if holds && pred(i) {
			head = append(head, w)
		} else {
			holds = false
			tail = append(tail, w)
		}
	}
	return head, tail
}

// splitBackward moves the trailing words satisfying pred to tail.
func splitBackward(pred func(int) bool, words []string) (head, tail []string) {
	i := len(words)
	for i > 0 && pred(i-1) {
		i--
	}
	return append([]string(nil), words[:i]...), append([]string(nil), words[i:]...)
}

// splitOnParticles takes the last word, with any nobiliary particles
// before it, as the family name.
func splitOnParticles(words []string) (first, last []string) {
	end := len(words)
	for end > 1 && suffixes[strings.ToLower(words[end-1])] {
		end--
	}
	words = words[:end]
	start := len(words) - 1
	for start > 1 && particles[strings.ToLower(words[start-1])] {
		start--
	}
	return words[:start], words[start:]
}

func stripSuffixes(s string) string {
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if !suffixes[strings.ToLower(f)] {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}
