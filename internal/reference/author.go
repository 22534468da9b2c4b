package reference

import "strings"

// Name is a (given, family) name pair.
type Name struct {
	First string `json:"first"` // Given name(s)
	Last  string `json:"last"`  // Family name
}

// IsZero reports whether both parts are blank.
func (n Name) IsZero() bool {
	return strings.TrimSpace(n.First) == "" && strings.TrimSpace(n.Last) == ""
}

// String returns "First Last".
func (n Name) String() string {
	return strings.TrimSpace(n.First + " " + n.Last)
}

// Author represents a paper author with optional identity links.
type Author struct {
	Name
	ORCID        string `json:"orcid,omitempty"`         // ORCID identifier (without URL prefix)
	ResearcherID int64  `json:"researcher_id,omitempty"` // Catalog researcher, 0 if unlinked
	Affiliation  string `json:"affiliation,omitempty"`
}

// NewAuthors pairs names with ORCIDs. orcids may be shorter than names.
func NewAuthors(names []Name, orcids []string) []Author {
	authors := make([]Author, 0, len(names))
	for i, n := range names {
		a := Author{Name: n}
		if i < len(orcids) {
			a.ORCID = orcids[i]
		}
		authors = append(authors, a)
	}
	return authors
}
