package reference

// SourceKind identifies the registry a source record came from.
type SourceKind string

const (
	SourceCrossref SourceKind = "crossref"
	SourceORCID    SourceKind = "orcid"
)

// Default record priorities; publisher metadata outranks registry metadata.
const (
	PriorityCrossref = 10
	PriorityORCID    = 1
)

// SourceRecord links a paper to one external record describing it.
type SourceRecord struct {
	ID         int64      `json:"id,omitempty"`
	PaperID    string     `json:"paper_id,omitempty"`
	Source     SourceKind `json:"source"`
	Identifier string     `json:"identifier"` // Unique within Source
	DOI        string     `json:"doi,omitempty"`
	SplashURL  string     `json:"splash_url,omitempty"`
	PDFURL     string     `json:"pdf_url,omitempty"`
	PubType    PubType    `json:"pubtype"`
	Priority   int        `json:"priority"`
}
