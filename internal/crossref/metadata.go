// Package crossref reads DOI metadata in the citeproc JSON format served by
// Crossref and by DOI content negotiation, and converts it to catalog
// papers.
package crossref

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
)

// Metadata is one citeproc record. Only the fields used for conversion are
// decoded.
type Metadata struct {
	DOI            string        `json:"DOI"`
	Title          StringList    `json:"title"`
	Subtitle       StringList    `json:"subtitle"`
	Author         []Contributor `json:"author"`
	Issued         *Date         `json:"issued"`
	Created        *Date         `json:"created"`
	Deposited      *Date         `json:"deposited"`
	Type           string        `json:"type"`
	ContainerTitle StringList    `json:"container-title"`
	Publisher      string        `json:"publisher"`
	ISSN           StringList    `json:"ISSN"`
	License        []License     `json:"license"`
}

// Contributor is a citeproc author.
type Contributor struct {
	Given       string        `json:"given,omitempty"`
	Family      string        `json:"family,omitempty"`
	Literal     string        `json:"literal,omitempty"`
	ORCID       string        `json:"ORCID,omitempty"`
	Affiliation []Affiliation `json:"affiliation,omitempty"`
}

// Affiliation is a free-form institution name.
type Affiliation struct {
	Name string `json:"name"`
}

// License is a license statement attached to a record.
type License struct {
	URL string `json:"URL"`
}

// Date is a citeproc date. DateParts holds one or more [year, month, day]
// prefixes; Raw is a free-form fallback.
type Date struct {
	DateParts [][]DatePart `json:"date-parts"`
	Raw       string       `json:"raw,omitempty"`
}

// DatePart is a date component. Crossref sends numbers, numeric strings and
// nulls.
type DatePart struct {
	Value string
}

// UnmarshalJSON accepts numbers, strings and null.
func (p *DatePart) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		p.Value = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &p.Value)
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	p.Value = n.String()
	return nil
}

// MarshalJSON writes the part as a number when it is one.
func (p DatePart) MarshalJSON() ([]byte, error) {
	if p.Value == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.Atoi(p.Value); err == nil {
		return []byte(p.Value), nil
	}
	return json.Marshal(p.Value)
}

// StringList is a citeproc field that is either a string or a list of
// strings.
type StringList []string

// UnmarshalJSON accepts a string, a list of strings or null.
func (l *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = nil
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// First returns the first non-blank entry.
func (l StringList) First() string {
	for _, s := range l {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// ParseMetadata decodes a single citeproc record.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
