// Package name tokenizes, normalizes, parses and compares personal names.
package name

import (
	"regexp"
	"strings"
	"unicode"
)

// commonAbbr are words that keep their trailing period.
var commonAbbr = map[string]bool{
	"st": true, "dr": true, "prof": true, "jr": true, "sr": true,
	"mr": true, "ms": true, "mrs": true, "mme": true, "fr": true,
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_'
}

// separator locates the first word end followed by periods, spaces and
// hyphens that lead to another word or to the end of the string.
type separator struct {
	start, end int // rune offsets of the separator run
	hasPeriod  bool
	hyphen     bool
	atEnd      bool
}

func findSeparator(r []rune) (separator, bool) {
	for i := 0; i < len(r); i++ {
		if !isWordRune(r[i]) || (i+1 < len(r) && isWordRune(r[i+1])) {
			continue
		}
		j := i + 1
		for j < len(r) && r[j] == '.' {
			j++
		}
		hasPeriod := j > i+1
		for j < len(r) && r[j] == ' ' {
			j++
		}
		hyphenStart := j
		for j < len(r) && r[j] == '-' {
			j++
		}
		hyphen := j > hyphenStart
		for j < len(r) && r[j] == ' ' {
			j++
		}
		if j == len(r) || isWordRune(r[j]) {
			return separator{start: i + 1, end: j, hasPeriod: hasPeriod, hyphen: hyphen, atEnd: j == len(r)}, true
		}
	}
	return separator{}, false
}

// SplitWords splits a name into words and the separators between them.
// Separators are "" (space) or "-". A period after a short word marks
// initials: "Jp." yields the words "J" and "P" joined by "-".
func SplitWords(s string) (words, separators []string) {
	orig := []rune(s)
	buf := []rune(strings.TrimSpace(s))
	for {
		sep, ok := findSeparator(buf)
		if !ok || sep.start <= 0 || sep.start >= len(orig) {
			break
		}
		word := string(buf[:sep.start])
		buf = buf[sep.end:]
		switch {
		case !sep.hasPeriod:
			words = append(words, word)
		case commonAbbr[strings.ToLower(word)]:
			words = append(words, word+".")
		case len([]rune(word)) <= 3:
			letters := []rune(word)
			for i, c := range letters {
				words = append(words, string(unicode.ToUpper(c)))
				if i < len(letters)-1 {
					separators = append(separators, "-")
				}
			}
		default:
			words = append(words, word)
		}
		if !sep.atEnd {
			if sep.hyphen {
				separators = append(separators, "-")
			} else {
				separators = append(separators, "")
			}
		}
	}
	if len(buf) > 0 {
		words = append(words, string(buf))
	}
	return words, separators
}

// RecapitalizeWord lowercases every letter of a fully capitalized word
// except those starting a letter run. force applies it to any word.
func RecapitalizeWord(w string, force bool) string {
	runes := []rune(w)
	if !(force || (strings.ToUpper(w) == w && len(runes) > 1)) {
		return w
	}
	var b strings.Builder
	previousIsLetter := false
	for i, c := range runes {
		switch {
		case previousIsLetter:
			b.WriteRune(unicode.ToLower(c))
		case i == 0:
			b.WriteRune(unicode.ToUpper(c))
		default:
			b.WriteRune(c)
		}
		previousIsLetter = isWordRune(c)
	}
	return b.String()
}

// RebuildName joins words and separators back into a name string.
// Single-letter words are written as initials ("J.").
func RebuildName(words, separators []string) string {
	var b strings.Builder
	for i, w := range words {
		b.WriteString(w)
		if len([]rune(w)) == 1 {
			b.WriteByte('.')
		}
		switch {
		case i < len(separators):
			if separators[i] == "" {
				b.WriteByte(' ')
			} else {
				b.WriteString(separators[i])
			}
		case i < len(words)-1:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// NormalizeWords recapitalizes a first or last name and formats initials
// as "J.". It converts "Jp." to "J.-P.".
func NormalizeWords(s string) string {
	words, separators := SplitWords(s)
	allLower := true
	for _, w := range words {
		if strings.ToLower(w) != w {
			allLower = false
			break
		}
	}
	out := make([]string, len(words))
	for i, w := range words {
		force := allLower || (i > 0 && separators[i-1] != "")
		out[i] = removeFinalComma(RecapitalizeWord(w, force))
	}
	return RebuildName(out, separators)
}

var finalCommaRegex = regexp.MustCompile(`,+( |$)`)

// removeFinalComma removes commas that end a word.
func removeFinalComma(w string) string {
	return finalCommaRegex.ReplaceAllString(w, "$1")
}
