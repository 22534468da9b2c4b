package crossref

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/wetneb/dissemin/internal/fingerprint"
	"github.com/wetneb/dissemin/internal/ident"
	"github.com/wetneb/dissemin/internal/name"
	"github.com/wetneb/dissemin/internal/reference"
)

// Conversion errors. A record failing any of these checks is handed to the
// registry fallback.
var (
	ErrNoAuthor      = errors.New("no author provided")
	ErrNoTitle       = errors.New("no title")
	ErrNoDOI         = errors.New("no DOI")
	ErrNoPubDate     = errors.New("no publication date")
	ErrInvalidAuthor = errors.New("invalid author")
)

// yearMargin bounds how far in the future a publication date may be.
const yearMargin = 3

// now is replaced in tests.
var now = time.Now

var oaLicenses = map[string]bool{
	"http://koreanjpathol.org/authors/access.php":                           true,
	"http://olabout.wiley.com/WileyCDA/Section/id-815641.html":              true,
	"http://pubs.acs.org/page/policy/authorchoice_ccby_termsofuse.html":     true,
	"http://pubs.acs.org/page/policy/authorchoice_ccbyncnd_termsofuse.html": true,
	"http://pubs.acs.org/page/policy/authorchoice_termsofuse.html":          true,
	"http://www.elsevier.com/open-access/userlicense/1.0/":                  true,
}

// IsOALicense reports whether a license URL, as recorded by Crossref, means
// the publisher version is freely available.
func IsOALicense(url string) bool {
	return strings.Contains(url, "creativecommons.org/licenses/") || oaLicenses[url]
}

// citeprocTypes maps citeproc and Crossref work types to publication types.
var citeprocTypes = map[string]reference.PubType{
	"article":             reference.PubTypeJournalArticle,
	"article-journal":     reference.PubTypeJournalArticle,
	"journal-article":     reference.PubTypeJournalArticle,
	"book":                reference.PubTypeBook,
	"book-chapter":        reference.PubTypeBookChapter,
	"book-part":           reference.PubTypeBookChapter,
	"book-section":        reference.PubTypeBookChapter,
	"chapter":             reference.PubTypeBookChapter,
	"dataset":             reference.PubTypeDataset,
	"dissertation":        reference.PubTypeThesis,
	"thesis":              reference.PubTypeThesis,
	"entry":               reference.PubTypeReferenceEntry,
	"entry-dictionary":    reference.PubTypeReferenceEntry,
	"entry-encyclopedia":  reference.PubTypeReferenceEntry,
	"reference-entry":     reference.PubTypeReferenceEntry,
	"reference-book":      reference.PubTypeReferenceEntry,
	"peer-review":         reference.PubTypeReferenceEntry,
	"journal-issue":       reference.PubTypeJournalIssue,
	"journal-volume":      reference.PubTypeJournalIssue,
	"monograph":           reference.PubTypeBook,
	"paper-conference":    reference.PubTypeProceedingsArticle,
	"proceedings-article": reference.PubTypeProceedingsArticle,
	"posted-content":      reference.PubTypePreprint,
	"preprint":            reference.PubTypePreprint,
	"proceedings":         reference.PubTypeProceedings,
	"report":              reference.PubTypeReport,
}

// PubTypeFor maps a citeproc type to a publication type; unknown types are
// "other".
func PubTypeFor(t string) reference.PubType {
	if pt, ok := citeprocTypes[strings.ToLower(strings.TrimSpace(t))]; ok {
		return pt
	}
	return reference.PubTypeOther
}

// ConvertToNamePair turns a contributor into a normalized name. It returns
// false when the contributor has neither a family nor a literal name.
func ConvertToNamePair(c Contributor) (reference.Name, bool) {
	var n reference.Name
	switch {
	case c.Family != "":
		n = reference.Name{First: c.Given, Last: c.Family}
	case c.Literal != "":
		n = name.ParseCommaName(c.Literal)
	default:
		return reference.Name{}, false
	}
	return reference.Name{
		First: name.NormalizeWords(n.First),
		Last:  name.NormalizeWords(n.Last),
	}, true
}

// AuthorNames converts every author; ok is false if one of them cannot be
// converted.
func AuthorNames(m *Metadata) (names []reference.Name, ok bool) {
	names = make([]reference.Name, 0, len(m.Author))
	for _, c := range m.Author {
		n, ok := ConvertToNamePair(c)
		if !ok {
			return nil, false
		}
		names = append(names, n)
	}
	return names, true
}

// PublicationDate returns the first usable date among issued, created and
// deposited.
func PublicationDate(m *Metadata) (reference.PublicationDate, bool) {
	for _, d := range []*Date{m.Issued, m.Created, m.Deposited} {
		if date, ok := parseDate(d); ok {
			return date, true
		}
	}
	return reference.PublicationDate{}, false
}

// parseDate tries each date-parts prefix in turn. The epoch stands for a
// missing date. An out-of-range part abandons the date-parts and falls
// back to the raw string.
func parseDate(d *Date) (reference.PublicationDate, bool) {
	if d == nil {
		return reference.PublicationDate{}, false
	}
	var (
		date  reference.PublicationDate
		found bool
	)
	for _, parts := range d.DateParts {
		dp, ok := fromDateParts(parts)
		if !ok {
			break
		}
		if dp == (reference.PublicationDate{Year: 1970, Month: 1, Day: 1}) {
			continue
		}
		date, found = dp, true
		break
	}
	if !found && d.Raw != "" {
		t, err := dateparse.ParseAny(d.Raw)
		if err == nil {
			date = reference.PublicationDate{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
			found = true
		}
	}
	if !found || !validPublicationDate(date) {
		return reference.PublicationDate{}, false
	}
	return date, true
}

func fromDateParts(parts []DatePart) (reference.PublicationDate, bool) {
	year, month, day := 1970, 1, 1
	if len(parts) > 0 {
		year = atoi(parts[0].Value, 1970)
	}
	if len(parts) > 1 {
		month = atoi(parts[1].Value, 1)
	}
	if len(parts) > 2 {
		day = atoi(parts[2].Value, 1)
	}
	return reference.NewDate(year, month, day)
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// validPublicationDate rejects dates too far in the future to be
// plausible.
func validPublicationDate(d reference.PublicationDate) bool {
	return d.Valid() && d.Year < now().Year()+yearMargin
}

// ToPaper converts a record into a visible paper. extraORCIDs, parallel to
// the authors, fills in ORCIDs the record itself does not carry.
func ToPaper(m *Metadata, extraORCIDs []string) (*reference.Paper, error) {
	if m == nil || len(m.Author) == 0 {
		return nil, ErrNoAuthor
	}
	title := m.Title.First()
	if title == "" {
		return nil, ErrNoTitle
	}
	doi := ident.CleanDOI(m.DOI)
	if doi == "" {
		return nil, ErrNoDOI
	}
	published, ok := PublicationDate(m)
	if !ok {
		return nil, ErrNoPubDate
	}
	if subtitle := m.Subtitle.First(); subtitle != "" {
		title += ": " + subtitle
	}

	names, ok := AuthorNames(m)
	if !ok {
		return nil, ErrInvalidAuthor
	}
	authors := make([]reference.Author, len(names))
	for i, n := range names {
		authors[i] = reference.Author{Name: n, Affiliation: affiliation(m.Author[i])}
		orcid, _ := ident.ValidateORCID(m.Author[i].ORCID)
		if orcid == "" && i < len(extraORCIDs) {
			orcid = extraORCIDs[i]
		}
		authors[i].ORCID = orcid
	}

	pubType := PubTypeFor(m.Type)
	p := &reference.Paper{
		Title:       title,
		Fingerprint: fingerprint.Key(title, names, published.Year, published.Time()),
		Authors:     authors,
		Published:   published,
		DocType:     pubType,
		Visibility:  reference.VisibilityVisible,
	}

	// Without a container there is no publication; the paper is shown
	// only if another source vouches for it.
	if m.ContainerTitle.First() == "" {
		p.Visibility = reference.VisibilityCandidate
		return p, nil
	}
	splash := ident.DOIURL(doi)
	rec := reference.SourceRecord{
		Source:     reference.SourceCrossref,
		Identifier: RecordIdentifier(doi),
		DOI:        doi,
		SplashURL:  splash,
		PubType:    pubType,
		Priority:   reference.PriorityCrossref,
	}
	for _, l := range m.License {
		if IsOALicense(l.URL) {
			rec.PDFURL = splash
			break
		}
	}
	p.Records = []reference.SourceRecord{rec}
	return p, nil
}

// RecordIdentifier is the identifier of the Crossref record of doi.
func RecordIdentifier(doi string) string {
	return "oai:crossref.org:" + doi
}

func affiliation(c Contributor) string {
	for _, a := range c.Affiliation {
		if a.Name != "" {
			return a.Name
		}
	}
	return ""
}
