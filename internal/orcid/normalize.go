package orcid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wetneb/dissemin/internal/bibtex"
	"github.com/wetneb/dissemin/internal/fingerprint"
	"github.com/wetneb/dissemin/internal/ident"
	"github.com/wetneb/dissemin/internal/name"
	"github.com/wetneb/dissemin/internal/reference"
)

// SkipReason tells why a work could not become a paper.
type SkipReason string

const (
	SkipNoTitle        SkipReason = "NO_TITLE"
	SkipNoAuthor       SkipReason = "NO_AUTHOR"
	SkipInvalidPubDate SkipReason = "INVALID_PUB_DATE"
)

// defaultYear is assumed when a work carries no usable year.
const defaultYear = 1970

// SkipError is returned by Normalize for works with unusable metadata.
type SkipError struct {
	PutCode int64
	Reason  SkipReason
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("work %d skipped: %s", e.PutCode, e.Reason)
}

// IsSkip reports whether err is a *SkipError.
func IsSkip(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}

// NormalizedWork is a work with parsed authors and date, ready to become a
// catalog paper.
type NormalizedWork struct {
	Title     string
	Authors   []reference.Name
	ORCIDs    []string // parallel to Authors, "" when unknown
	Published reference.PublicationDate
	PubType   reference.PubType
	PutCode   int64
	SplashURL string
	APIURI    string
}

// Normalize extracts title, authors and date from w. The profile holder is
// affiliated with the most similar author. Checks run in order: title,
// authors, then publication date.
func Normalize(w Work, p *Profile, instance string) (*NormalizedWork, error) {
	title := strings.TrimSpace(w.Title())
	if title == "" {
		return nil, &SkipError{PutCode: w.PutCode(), Reason: SkipNoTitle}
	}

	authors, initial := workAuthors(w, p)
	if len(authors) == 0 {
		return nil, &SkipError{PutCode: w.PutCode(), Reason: SkipNoAuthor}
	}

	published, ok := workDate(w)
	if !ok {
		return nil, &SkipError{PutCode: w.PutCode(), Reason: SkipInvalidPubDate}
	}

	return &NormalizedWork{
		Title:     title,
		Authors:   authors,
		ORCIDs:    name.AffiliateORCID(p.Name(), p.ID, authors, initial),
		Published: published,
		PubType:   PubTypeFor(w.Type()),
		PutCode:   w.PutCode(),
		SplashURL: fmt.Sprintf("https://%s/%s", instance, p.ID),
		APIURI:    fmt.Sprintf("https://pub.%s/v2.1/%s/work/%d", instance, p.ID, w.PutCode()),
	}, nil
}

// workAuthors picks the first non-empty author source: contributors, the
// BibTeX citation, then the profile holder alone. initial holds the
// contributor ORCIDs when authors come from contributors.
func workAuthors(w Work, p *Profile) (authors []reference.Name, initial []string) {
	for _, c := range w.Contributors() {
		if c.Name == "" {
			continue
		}
		n := name.ParseCommaName(c.Name)
		if n.IsZero() {
			continue
		}
		orcid, _ := ident.ValidateORCID(c.ORCID)
		authors = append(authors, n)
		initial = append(initial, orcid)
	}
	if len(authors) > 0 {
		return authors, initial
	}

	if _, citation := w.Citation(); citation != "" {
		if names, err := bibtex.ParseAuthors(citation); err == nil && len(names) > 0 {
			return names, nil
		}
	}

	if holder := p.Name(); !holder.IsZero() {
		return []reference.Name{holder}, nil
	}
	return nil, nil
}

// workDate falls back to the first of the month, then of the year, when
// the day or month is out of range.
func workDate(w Work) (reference.PublicationDate, bool) {
	y, m, d := w.DateParts()
	year := parseInt(y, defaultYear)
	month := parseInt(m, 1)
	day := parseInt(d, 1)

	if date, ok := reference.NewDate(year, month, day); ok {
		return date, true
	}
	if date, ok := reference.NewDate(year, month, 1); ok {
		return date, true
	}
	return reference.NewDate(year, 1, 1)
}

func parseInt(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// ToPaper returns a visible paper carrying one ORCID record.
func (n *NormalizedWork) ToPaper() *reference.Paper {
	return &reference.Paper{
		Title:       n.Title,
		Fingerprint: fingerprint.Key(n.Title, n.Authors, n.Published.Year, n.Published.Time()),
		Authors:     reference.NewAuthors(n.Authors, n.ORCIDs),
		Published:   n.Published,
		DocType:     n.PubType,
		Visibility:  reference.VisibilityVisible,
		Records: []reference.SourceRecord{{
			Source:     reference.SourceORCID,
			Identifier: n.APIURI,
			SplashURL:  n.SplashURL,
			PubType:    n.PubType,
			Priority:   reference.PriorityORCID,
		}},
	}
}

// SkippedWork describes an ignored work in user notifications.
type SkippedWork struct {
	PutCode    int64      `json:"put_code"`
	Title      string     `json:"title,omitempty"`
	Skipped    bool       `json:"skipped"`
	SkipReason SkipReason `json:"skip_reason"`
	RawRecord
}

// NewSkippedWork describes w as skipped for reason.
func NewSkippedWork(w Work, reason SkipReason) SkippedWork {
	return SkippedWork{
		PutCode:    w.PutCode(),
		Title:      strings.TrimSpace(w.Title()),
		Skipped:    true,
		SkipReason: reason,
		RawRecord:  w.Raw(),
	}
}
