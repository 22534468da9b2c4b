package orcid

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"
)

// Contributor is a work contributor as listed by the registry. Both fields
// may be empty.
type Contributor struct {
	Name  string
	ORCID string
}

// RawRecord is the original payload of a work, kept for notifications.
type RawRecord struct {
	JSON json.RawMessage `json:"json"`
	XML  *string         `json:"xml"`
}

// Work is the read contract shared by the JSON works of the API and the
// XML works of the activities dump.
type Work interface {
	Title() string
	Type() string
	Contributors() []Contributor
	DateParts() (year, month, day string)
	PutCode() int64
	Citation() (kind, value string)
	Raw() RawRecord
}

type workJSON struct {
	PutCode int64 `json:"put-code"`
	Title   *struct {
		Title *valueField `json:"title"`
	} `json:"title"`
	Type            *string `json:"type"`
	PublicationDate *struct {
		Year  *valueField `json:"year"`
		Month *valueField `json:"month"`
		Day   *valueField `json:"day"`
	} `json:"publication-date"`
	Contributors *struct {
		Contributor []struct {
			ORCID *struct {
				Path string `json:"path"`
			} `json:"contributor-orcid"`
			CreditName *valueField `json:"credit-name"`
		} `json:"contributor"`
	} `json:"contributors"`
	Citation *struct {
		Type  string `json:"citation-type"`
		Value string `json:"citation-value"`
	} `json:"citation"`
}

// jsonWork is a work returned by the API.
type jsonWork struct {
	raw  json.RawMessage
	data workJSON
}

// ParseJSONWork parses a work in the JSON format of the public API.
func ParseJSONWork(data []byte) (Work, error) {
	w := &jsonWork{raw: append(json.RawMessage(nil), data...)}
	if err := json.Unmarshal(data, &w.data); err != nil {
		return nil, fmt.Errorf("%w: work: %v", ErrInvalidResponse, err)
	}
	return w, nil
}

func (w *jsonWork) Title() string {
	if w.data.Title == nil {
		return ""
	}
	return w.data.Title.Title.get()
}

func (w *jsonWork) Type() string {
	if w.data.Type == nil {
		return "other"
	}
	return *w.data.Type
}

func (w *jsonWork) Contributors() []Contributor {
	if w.data.Contributors == nil {
		return nil
	}
	out := make([]Contributor, 0, len(w.data.Contributors.Contributor))
	for _, c := range w.data.Contributors.Contributor {
		contrib := Contributor{Name: c.CreditName.get()}
		if c.ORCID != nil {
			contrib.ORCID = c.ORCID.Path
		}
		out = append(out, contrib)
	}
	return out
}

func (w *jsonWork) DateParts() (year, month, day string) {
	d := w.data.PublicationDate
	if d == nil {
		return "", "", ""
	}
	return d.Year.get(), d.Month.get(), d.Day.get()
}

func (w *jsonWork) PutCode() int64 { return w.data.PutCode }

func (w *jsonWork) Citation() (kind, value string) {
	if w.data.Citation == nil {
		return "", ""
	}
	return w.data.Citation.Type, w.data.Citation.Value
}

func (w *jsonWork) Raw() RawRecord { return RawRecord{JSON: w.raw} }

// Namespaces of the activities dump.
const (
	WorkNamespace   = "http://www.orcid.org/ns/work"
	CommonNamespace = "http://www.orcid.org/ns/common"
)

// workXML matches child elements by local name; the root element carries
// the work namespace.
type workXML struct {
	XMLName xml.Name `xml:"http://www.orcid.org/ns/work work"`
	PutCode int64    `xml:"put-code,attr"`
	Title   string   `xml:"title>title"`
	Type    *string  `xml:"type"`
	Year    string   `xml:"publication-date>year"`
	Month   string   `xml:"publication-date>month"`
	Day     string   `xml:"publication-date>day"`

	Contributors []struct {
		Name  *string `xml:"credit-name"`
		ORCID *string `xml:"contributor-orcid>path"`
	} `xml:"contributors>contributor"`

	CitationType  string `xml:"citation>citation-type"`
	CitationValue string `xml:"citation>citation-value"`
}

// xmlWork is a work read from the activities dump.
type xmlWork struct {
	raw  string
	data workXML
}

// ParseXMLWork parses a work in the XML format of the activities dump.
func ParseXMLWork(data []byte) (Work, error) {
	w := &xmlWork{raw: string(data)}
	if err := xml.Unmarshal(data, &w.data); err != nil {
		return nil, fmt.Errorf("%w: work: %v", ErrInvalidResponse, err)
	}
	return w, nil
}

func (w *xmlWork) Title() string { return strings.TrimSpace(w.data.Title) }

func (w *xmlWork) Type() string {
	if w.data.Type == nil {
		return "other"
	}
	return strings.TrimSpace(*w.data.Type)
}

func (w *xmlWork) Contributors() []Contributor {
	out := make([]Contributor, 0, len(w.data.Contributors))
	for _, c := range w.data.Contributors {
		var contrib Contributor
		if c.Name != nil {
			contrib.Name = strings.TrimSpace(*c.Name)
		}
		if c.ORCID != nil {
			contrib.ORCID = strings.TrimSpace(*c.ORCID)
		}
		out = append(out, contrib)
	}
	return out
}

func (w *xmlWork) DateParts() (year, month, day string) {
	return strings.TrimSpace(w.data.Year), strings.TrimSpace(w.data.Month), strings.TrimSpace(w.data.Day)
}

func (w *xmlWork) PutCode() int64 { return w.data.PutCode }

func (w *xmlWork) Citation() (kind, value string) {
	return strings.TrimSpace(w.data.CitationType), w.data.CitationValue
}

func (w *xmlWork) Raw() RawRecord {
	raw := w.raw
	return RawRecord{XML: &raw}
}
