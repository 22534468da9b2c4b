// Package bibtex reads author lists from BibTeX citations and writes
// catalog papers as BibTeX entries.
package bibtex

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/wetneb/dissemin/internal/name"
	"github.com/wetneb/dissemin/internal/reference"
)

// ErrMalformed is returned when the author field cannot be delimited.
var ErrMalformed = errors.New("malformed bibtex")

var (
	authorFieldRegex = regexp.MustCompile(`(?i)[,{\s]author\s*=\s*`)
	andRegex         = regexp.MustCompile(`(?i)\s+and\s+`)
	latexAccentRegex = regexp.MustCompile(`\\(['` + "`" + `^"~=.uvHc])\s*\{?([A-Za-z])\}?`)
)

// latexAccents maps LaTeX accent commands to combining marks.
var latexAccents = map[string]string{
	"'":  "\u0301",
	"`":  "\u0300",
	"^":  "\u0302",
	"\"": "\u0308",
	"~":  "\u0303",
	"=":  "\u0304",
	".":  "\u0307",
	"u":  "\u0306",
	"v":  "\u030c",
	"H":  "\u030b",
	"c":  "\u0327",
}

// ParseAuthors returns the authors listed in the author field of a BibTeX
// entry. A citation without an author field yields no names and no error.
func ParseAuthors(citation string) ([]reference.Name, error) {
	loc := authorFieldRegex.FindStringIndex(citation)
	if loc == nil {
		return nil, nil
	}
	value, err := fieldValue(citation[loc[1]:])
	if err != nil {
		return nil, err
	}

	var names []reference.Name
	for _, raw := range splitTopLevel(value) {
		raw = strings.TrimSpace(decodeLatex(raw))
		if raw == "" {
			continue
		}
		if n := name.ParseCommaName(raw); !n.IsZero() {
			names = append(names, n)
		}
	}
	return names, nil
}

// fieldValue reads a brace or quote delimited value at the start of s.
func fieldValue(s string) (string, error) {
	if s == "" {
		return "", ErrMalformed
	}
	switch s[0] {
	case '{':
		depth := 0
		for i, c := range s {
			switch c {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return s[1:i], nil
				}
			}
		}
	case '"':
		depth := 0
		for i, c := range s[1:] {
			switch c {
			case '{':
				depth++
			case '}':
				depth--
			case '"':
				if depth == 0 {
					return s[1 : i+1], nil
				}
			}
		}
	}
	return "", ErrMalformed
}

// splitTopLevel splits on " and " outside of braces.
func splitTopLevel(value string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '{':
			depth++
		case '}':
			depth--
		default:
			if depth != 0 {
				continue
			}
			if m := andRegex.FindStringIndex(value[i:]); m != nil && m[0] == 0 {
				parts = append(parts, value[start:i])
				i += m[1] - 1
				start = i + 1
			}
		}
	}
	return append(parts, value[start:])
}

// decodeLatex turns accent commands into Unicode and drops grouping braces.
func decodeLatex(s string) string {
	s = latexAccentRegex.ReplaceAllStringFunc(s, func(m string) string {
		sub := latexAccentRegex.FindStringSubmatch(m)
		return sub[2] + latexAccents[sub[1]]
	})
	s = strings.NewReplacer("{", "", "}", "", "~", " ", `\&`, "&").Replace(s)
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
