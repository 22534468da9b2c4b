package orcid

import (
	"strings"

	"github.com/wetneb/dissemin/internal/reference"
)

// workTypes maps ORCID work types to publication types. Intellectual
// property types are absent and map to other.
var workTypes = map[string]reference.PubType{
	"book":                           reference.PubTypeBook,
	"book-chapter":                   reference.PubTypeBookChapter,
	"book-review":                    reference.PubTypeOther,
	"dictionary-entry":               reference.PubTypeReferenceEntry,
	"dissertation":                   reference.PubTypeThesis,
	"encyclopedia-entry":             reference.PubTypeReferenceEntry,
	"edited-book":                    reference.PubTypeBook,
	"journal-article":                reference.PubTypeJournalArticle,
	"journal-issue":                  reference.PubTypeJournalIssue,
	"magazine-article":               reference.PubTypeOther,
	"manual":                         reference.PubTypeOther,
	"online-resource":                reference.PubTypeDataset,
	"newsletter-article":             reference.PubTypeOther,
	"newspaper-article":              reference.PubTypeOther,
	"report":                         reference.PubTypeReport,
	"research-tool":                  reference.PubTypeOther,
	"supervised-student-publication": reference.PubTypeOther,
	"test":                           reference.PubTypeOther,
	"translation":                    reference.PubTypeOther,
	"website":                        reference.PubTypeOther,
	"working-paper":                  reference.PubTypePreprint,
	"conference-abstract":            reference.PubTypeOther,
	"conference-paper":               reference.PubTypeProceedingsArticle,
	"conference-poster":              reference.PubTypePoster,
	"data-set":                       reference.PubTypeDataset,
}

// PubTypeFor maps an ORCID work type such as "JOURNAL_ARTICLE" to a
// publication type.
func PubTypeFor(orcidType string) reference.PubType {
	key := strings.NewReplacer("_", "-", " ", "-").Replace(strings.ToLower(strings.TrimSpace(orcidType)))
	if t, ok := workTypes[key]; ok {
		return t
	}
	return reference.PubTypeOther
}
