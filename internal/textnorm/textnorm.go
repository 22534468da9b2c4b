// Package textnorm provides the text normalization primitives shared by
// name matching and fingerprinting.
package textnorm

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldings covers Latin letters that carry no combining mark under NFD.
var foldings = strings.NewReplacer(
	"ø", "o", "Ø", "O",
	"ł", "l", "Ł", "L",
	"ß", "ss",
	"æ", "ae", "Æ", "AE",
	"œ", "oe", "Œ", "OE",
	"đ", "d", "Đ", "D",
	"ð", "d", "Ð", "D",
	"þ", "th", "Þ", "Th",
	"ı", "i",
	"’", "'",
)

// RemoveDiacritics strips combining marks and folds a few Latin letters to
// their ASCII counterparts.
func RemoveDiacritics(s string) string {
	if s == "" {
		return s
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return foldings.Replace(out)
}

// IUnaccent removes diacritics and case.
func IUnaccent(s string) string {
	return strings.ToLower(RemoveDiacritics(s))
}

// KillHTML removes every tag from s and returns the text content, trimmed.
// Strings without '<' or '>' are returned unchanged.
func KillHTML(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<div>" + s + "</div>"))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Find("div").First().Text())
}
