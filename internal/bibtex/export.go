package bibtex

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wetneb/dissemin/internal/ident"
	"github.com/wetneb/dissemin/internal/reference"
	"github.com/wetneb/dissemin/internal/textnorm"
)

var monthAbbr = []string{"", "jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

// ToBibTeX converts a catalog paper to a BibTeX entry. Fields are sorted
// by name.
func ToBibTeX(p reference.Paper) string {
	fields := map[string]string{
		"title": escapeLatex(p.Title),
		"year":  fmt.Sprintf("%d", p.Published.Year),
	}
	if len(p.Authors) > 0 {
		fields["author"] = formatAuthors(p.Authors)
	}
	if p.Published.Month >= 1 && p.Published.Month <= 12 {
		fields["month"] = monthAbbr[p.Published.Month]
	}
	if doi := p.DOI(); doi != "" {
		fields["doi"] = doi
		fields["url"] = ident.DOIURL(doi)
	} else if p.PDFURL != "" {
		fields["url"] = p.PDFURL
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "@%s{%s,\n", entryType(p.DocType), citationKey(p))
	for i, k := range names {
		fmt.Fprintf(&b, "  %s = {%s}", k, fields[k])
		if i < len(names)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
	return b.String()
}

// ToBibTeXList converts multiple papers to BibTeX format.
func ToBibTeXList(papers []reference.Paper) string {
	entries := make([]string, 0, len(papers))
	for _, p := range papers {
		entries = append(entries, ToBibTeX(p))
	}
	return strings.Join(entries, "\n")
}

// entryType returns the BibTeX entry type for a publication type.
func entryType(t reference.PubType) string {
	switch t {
	case reference.PubTypeJournalArticle:
		return "article"
	case reference.PubTypeProceedingsArticle:
		return "inproceedings"
	case reference.PubTypeBookChapter:
		return "incollection"
	case reference.PubTypeBook:
		return "book"
	case reference.PubTypeProceedings:
		return "proceedings"
	case reference.PubTypeThesis:
		return "phdthesis"
	case reference.PubTypeReport:
		return "techreport"
	default:
		return "misc"
	}
}

// citationKey is the first author's family name followed by the year,
// such as "Amarilli2017".
func citationKey(p reference.Paper) string {
	last := "Unknown"
	if len(p.Authors) > 0 && p.Authors[0].Last != "" {
		last = p.Authors[0].Last
	}
	var b strings.Builder
	for _, r := range textnorm.RemoveDiacritics(last) {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return fmt.Sprintf("%s%d", b.String(), p.Published.Year)
}

// formatAuthors formats authors in BibTeX style: "Last, First and Last, First"
func formatAuthors(authors []reference.Author) string {
	formatted := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.First != "" {
			formatted = append(formatted, fmt.Sprintf("%s, %s", escapeLatex(a.Last), escapeLatex(a.First)))
		} else {
			formatted = append(formatted, escapeLatex(a.Last))
		}
	}
	return strings.Join(formatted, " and ")
}

var latexReplacer = strings.NewReplacer(
	"&", `\&`,
	"%", `\%`,
	"$", `\$`,
	"#", `\#`,
	"_", `\_`,
	"{", `\{`,
	"}", `\}`,
	"~", `\textasciitilde{}`,
	"^", `\textasciicircum{}`,
)

// escapeLatex escapes special LaTeX characters.
func escapeLatex(s string) string {
	return latexReplacer.Replace(s)
}
