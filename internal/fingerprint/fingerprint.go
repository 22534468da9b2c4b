// Package fingerprint computes the identity keys used to detect duplicate
// papers that carry no shared DOI.
package fingerprint

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/wetneb/dissemin/internal/name"
	"github.com/wetneb/dissemin/internal/reference"
	"github.com/wetneb/dissemin/internal/textnorm"
)

// longTitle is the length above which a single-word title is considered
// distinctive enough to only need the year.
const longTitle = 80

var (
	strippedChars = regexp.MustCompile(`[^- a-z0-9]`)
	dashRuns      = regexp.MustCompile(`[ -]+`)
	nonWord       = regexp.MustCompile(`\W`)
)

// Plain returns the readable fingerprint of a paper, such as
// "it-cleans-whitespace-and-case/doe". The author order does not matter.
// A zero pubdate falls back to January 1st of year.
func Plain(title string, authors []reference.Name, year int, pubdate time.Time) string {
	t := textnorm.KillHTML(title)
	t = strings.ToLower(textnorm.RemoveDiacritics(t))
	t = strippedChars.ReplaceAllString(t, "")
	t = strings.TrimSpace(t)
	t = dashRuns.ReplaceAllString(t, "-")

	var b strings.Builder
	b.WriteString(t)

	// Single words like "Preface" need a date to tell them apart.
	if !strings.Contains(t, "-") {
		if len(t) > longTitle {
			fmt.Fprintf(&b, "-%d", year)
		} else {
			if pubdate.IsZero() {
				pubdate = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
			}
			b.WriteString("-" + pubdate.Format("20060102"))
		}
	}

	fragments := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.IsZero() && nonWord.ReplaceAllString(strings.ToLower(a.String()), "") != "na" {
			continue
		}
		fragments = append(fragments, authorFragment(a.Last))
	}
	sort.Strings(fragments)
	for _, f := range fragments {
		b.WriteString("/" + f)
	}
	return b.String()
}

// Key is the value stored and indexed by the catalog.
func Key(title string, authors []reference.Name, year int, pubdate time.Time) string {
	return Plain(title, authors, year, pubdate)
}

// authorFragment keeps the significant words of a family name, dropping
// particles such as "van" or "de".
func authorFragment(last string) string {
	words, seps := name.SplitWords(textnorm.RemoveDiacritics(last))
	var kept []string
	for i, w := range words {
		first := []rune(w)[0]
		if unicode.IsUpper(first) || (i > 0 && seps[i-1] == "-") {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		kept = words
	}
	for i := range kept {
		kept[i] = strings.ToLower(kept[i])
	}
	return strings.Join(kept, "-")
}
