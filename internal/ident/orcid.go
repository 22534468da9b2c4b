package ident

import (
	"regexp"
	"strings"
)

var orcidRegex = regexp.MustCompile(`^(?:https?://(?:sandbox\.)?orcid\.org/)?([0-9]{4}-[0-9]{4}-[0-9]{4}-[0-9]{3}[X0-9])$`)

// ValidateORCID returns the bare ORCID iD if raw is syntactically valid,
// including its ISO 7064 11,2 check digit.
func ValidateORCID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	m := orcidRegex.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	id := m[1]
	digits := strings.ReplaceAll(id, "-", "")
	total := 0
	for i := 0; i < 15; i++ {
		total = (total + int(digits[i]-'0')) * 2
	}
	check := (12 - total%11) % 11
	want := byte('0' + check)
	if check == 10 {
		want = 'X'
	}
	if digits[15] != want {
		return "", false
	}
	return id, true
}
