package reference

// PubType is the closed set of publication types.
type PubType string

const (
	PubTypeJournalArticle     PubType = "journal-article"
	PubTypeProceedingsArticle PubType = "proceedings-article"
	PubTypeBookChapter        PubType = "book-chapter"
	PubTypeBook               PubType = "book"
	PubTypeJournalIssue       PubType = "journal-issue"
	PubTypeProceedings        PubType = "proceedings"
	PubTypeReferenceEntry     PubType = "reference-entry"
	PubTypePoster             PubType = "poster"
	PubTypeReport             PubType = "report"
	PubTypeThesis             PubType = "thesis"
	PubTypeDataset            PubType = "dataset"
	PubTypePreprint           PubType = "preprint"
	PubTypeOther              PubType = "other"
)

// PubTypes lists every publication type, most specific first. The order is
// the preference used when a paper has several records.
var PubTypes = []PubType{
	PubTypeJournalArticle,
	PubTypeProceedingsArticle,
	PubTypeBookChapter,
	PubTypeBook,
	PubTypeJournalIssue,
	PubTypeProceedings,
	PubTypeReferenceEntry,
	PubTypePoster,
	PubTypeReport,
	PubTypeThesis,
	PubTypeDataset,
	PubTypePreprint,
	PubTypeOther,
}

// ParsePubType maps a string to a PubType; unknown values are PubTypeOther.
func ParsePubType(s string) PubType {
	for _, t := range PubTypes {
		if string(t) == s {
			return t
		}
	}
	return PubTypeOther
}

// Preference returns the index of t in PubTypes (lower is preferred).
func (t PubType) Preference() int {
	for i, pt := range PubTypes {
		if pt == t {
			return i
		}
	}
	return len(PubTypes)
}
