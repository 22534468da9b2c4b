// Package reference defines the core domain types for catalog papers.
package reference

import (
	"fmt"
	"time"
)

// Paper represents a deduplicated catalog entry.
type Paper struct {
	// Identity
	ID          string `json:"id"`          // Catalog primary key (UUID)
	Fingerprint string `json:"fingerprint"` // Plain fingerprint, unique across the catalog

	// Metadata
	Title     string          `json:"title"`
	Authors   []Author        `json:"authors"`
	Published PublicationDate `json:"published"`
	DocType   PubType         `json:"doctype"`

	// State
	Visibility Visibility `json:"visibility"`
	PDFURL     string     `json:"pdf_url,omitempty"` // Derived from records
	OAStatus   string     `json:"oa_status"`         // OA or UNK, derived from records

	// Sources
	Records []SourceRecord `json:"records"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Year returns the publication year.
func (p *Paper) Year() int {
	return p.Published.Year
}

// DOI returns the first DOI carried by one of the paper's records.
func (p *Paper) DOI() string {
	for _, r := range p.Records {
		if r.DOI != "" {
			return r.DOI
		}
	}
	return ""
}

// AuthorNames returns the (given, family) pairs of the paper's authors.
func (p *Paper) AuthorNames() []Name {
	names := make([]Name, len(p.Authors))
	for i, a := range p.Authors {
		names[i] = a.Name
	}
	return names
}

// PublicationDate represents a publication date with optional month and day.
type PublicationDate struct {
	Year  int `json:"year"`
	Month int `json:"month,omitempty"` // 1-12, 0 if unknown
	Day   int `json:"day,omitempty"`   // 1-31, 0 if unknown
}

// NewDate returns the date if year, month and day form a real calendar date.
func NewDate(year, month, day int) (PublicationDate, bool) {
	d := PublicationDate{Year: year, Month: month, Day: day}
	return d, d.Valid()
}

// Valid reports whether the date is an actual calendar date.
func (d PublicationDate) Valid() bool {
	if d.Year < 1 || d.Year > 9999 || d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	return t.Year() == d.Year && int(t.Month()) == d.Month && t.Day() == d.Day
}

// Time returns the date at midnight UTC. Unknown parts default to 1.
func (d PublicationDate) Time() time.Time {
	month, day := d.Month, d.Day
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(d.Year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// String formats the date as YYYY-MM-DD.
func (d PublicationDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Researcher is the catalog identity of an external profile holder.
type Researcher struct {
	ID       int64  `json:"id"`
	ORCID    string `json:"orcid"`
	Name     Name   `json:"name"`
	Homepage string `json:"homepage,omitempty"`
	UserID   string `json:"user_id,omitempty"` // Owning user account, empty if unclaimed

	// EmptyORCIDProfile is nil until a fetch decided whether the profile
	// yields any paper.
	EmptyORCIDProfile *bool `json:"empty_orcid_profile,omitempty"`
}
