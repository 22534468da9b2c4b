// Package ident cleans and validates the external identifiers used as
// catalog keys: DOIs and ORCID iDs.
package ident

import (
	"regexp"
	"strings"
)

// doiRegex matches a bare DOI: 10.XXXX/... where XXXX is 4+ digits.
var doiRegex = regexp.MustCompile(`^10\.\d{4,}/\S+$`)

// doiPattern finds a DOI embedded in free text.
var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[^\s<>"{}|\\^~\[\]` + "`" + `]+`)

var doiPrefixes = []string{
	"doi:",
	"http://",
	"https://",
	"dx.doi.org/",
	"doi.org/",
}

// CleanDOI normalizes a DOI to its lowercase bare form. It returns "" when
// raw does not hold a valid DOI.
func CleanDOI(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	// En dashes are never part of a DOI; reject rather than guess.
	if strings.Contains(raw, "–") || strings.Contains(raw, " ") {
		return ""
	}
	for _, prefix := range doiPrefixes {
		raw = strings.TrimPrefix(raw, prefix)
	}
	if !doiRegex.MatchString(raw) || !isASCII(raw) {
		return ""
	}
	return raw
}

// FindDOI extracts the first DOI found in free text.
func FindDOI(text string) string {
	match := doiPattern.FindString(text)
	if match == "" {
		return ""
	}
	return CleanDOI(strings.TrimRight(match, ".,;"))
}

// DOIURL returns the resolver URL of a DOI.
func DOIURL(doi string) string {
	return "https://doi.org/" + doi
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > 127 {
			return false
		}
	}
	return true
}
