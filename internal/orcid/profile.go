// Package orcid reads ORCID profiles and works, from the public API or from
// the bulk dumps, and normalizes works into catalog papers.
package orcid

import (
	"fmt"
	"strings"

	"github.com/segmentio/encoding/json"

	"github.com/wetneb/dissemin/internal/ident"
	"github.com/wetneb/dissemin/internal/name"
	"github.com/wetneb/dissemin/internal/reference"
)

// Instances of the registry.
const (
	ProductionInstance = "orcid.org"
	SandboxInstance    = "sandbox.orcid.org"
)

type valueField struct {
	Value string `json:"value"`
}

func (v *valueField) get() string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(v.Value)
}

type profileJSON struct {
	Identifier *struct {
		Path string `json:"path"`
	} `json:"orcid-identifier"`
	Person *struct {
		Name *struct {
			GivenNames *valueField `json:"given-names"`
			FamilyName *valueField `json:"family-name"`
			CreditName *valueField `json:"credit-name"`
		} `json:"name"`
		OtherNames *struct {
			OtherName []struct {
				Content *string `json:"content"`
			} `json:"other-name"`
		} `json:"other-names"`
		ResearcherURLs *struct {
			ResearcherURL []struct {
				URLName *string     `json:"url-name"`
				URL     *valueField `json:"url"`
			} `json:"researcher-url"`
		} `json:"researcher-urls"`
	} `json:"person"`
	Activities *struct {
		Works *struct {
			Group []struct {
				WorkSummary []summaryJSON `json:"work-summary"`
			} `json:"group"`
		} `json:"works"`
	} `json:"activities-summary"`
}

type summaryJSON struct {
	PutCode int64 `json:"put-code"`
	Title   *struct {
		Title *valueField `json:"title"`
	} `json:"title"`
	ExternalIDs *struct {
		ExternalID []struct {
			Type         string `json:"external-id-type"`
			Value        string `json:"external-id-value"`
			Relationship string `json:"external-id-relationship"`
		} `json:"external-id"`
	} `json:"external-ids"`
}

// Profile is an ORCID record as served by the public API in JSON, or as
// found in the summaries dump.
type Profile struct {
	ID       string
	Instance string

	raw  json.RawMessage
	data profileJSON
}

// ParseProfile parses a JSON profile. The identifier is required.
func ParseProfile(data []byte) (*Profile, error) {
	p := &Profile{Instance: ProductionInstance, raw: append(json.RawMessage(nil), data...)}
	if err := json.Unmarshal(data, &p.data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	if p.data.Identifier == nil || p.data.Identifier.Path == "" {
		return nil, fmt.Errorf("%w: missing orcid-identifier", ErrInvalidProfile)
	}
	p.ID = p.data.Identifier.Path
	return p, nil
}

// Raw returns the JSON the profile was parsed from.
func (p *Profile) Raw() json.RawMessage {
	return p.raw
}

// APIURI is the profile URL on the public API, ending with a slash.
func (p *Profile) APIURI() string {
	return fmt.Sprintf("https://pub.%s/v2.1/%s/", p.Instance, p.ID)
}

// SplashURL is the public page of the profile.
func (p *Profile) SplashURL() string {
	return fmt.Sprintf("https://%s/%s", p.Instance, p.ID)
}

// Name returns the parsed credit name, or the given and family names when
// there is no credit name.
func (p *Profile) Name() reference.Name {
	if p.data.Person == nil || p.data.Person.Name == nil {
		return reference.Name{}
	}
	n := p.data.Person.Name
	if credit := n.CreditName.get(); credit != "" {
		return name.ParseCommaName(credit)
	}
	return reference.Name{
		First: name.NormalizeWords(n.GivenNames.get()),
		Last:  name.NormalizeWords(n.FamilyName.get()),
	}
}

// OtherNames lists alternative names. When a credit name is set, the given
// and family names come first.
func (p *Profile) OtherNames() []reference.Name {
	person := p.data.Person
	if person == nil {
		return nil
	}
	var names []reference.Name
	if person.Name != nil && person.Name.CreditName.get() != "" {
		names = append(names, reference.Name{
			First: name.NormalizeWords(person.Name.GivenNames.get()),
			Last:  name.NormalizeWords(person.Name.FamilyName.get()),
		})
	}
	if person.OtherNames != nil {
		for _, o := range person.OtherNames.OtherName {
			if o.Content != nil {
				names = append(names, name.ParseCommaName(*o.Content))
			}
		}
	}
	return names
}

// Homepage returns the researcher URL named like a home page, or the first
// URL of the profile.
func (p *Profile) Homepage() string {
	if p.data.Person == nil || p.data.Person.ResearcherURLs == nil {
		return ""
	}
	urls := p.data.Person.ResearcherURLs.ResearcherURL
	for _, u := range urls {
		if u.URLName == nil {
			continue
		}
		label := strings.ToLower(*u.URLName)
		if strings.Contains(label, "home") || strings.Contains(label, "personal") {
			return urlize(u.URL.get())
		}
	}
	if len(urls) > 0 {
		return urlize(urls[0].URL.get())
	}
	return ""
}

// WorkSummary is the short form of a work listed in a profile.
type WorkSummary struct {
	PutCode int64
	Title   string
	DOI     string // empty when the work has no usable DOI
}

// WorkSummaries lists the works of the profile, group by group.
func (p *Profile) WorkSummaries() []WorkSummary {
	if p.data.Activities == nil || p.data.Activities.Works == nil {
		return nil
	}
	var out []WorkSummary
	for _, g := range p.data.Activities.Works.Group {
		for _, s := range g.WorkSummary {
			ws := WorkSummary{PutCode: s.PutCode}
			if s.Title != nil {
				ws.Title = s.Title.Title.get()
			}
			ws.DOI = summaryDOI(s)
			out = append(out, ws)
		}
	}
	return out
}

func summaryDOI(s summaryJSON) string {
	if s.ExternalIDs == nil {
		return ""
	}
	for _, id := range s.ExternalIDs.ExternalID {
		if id.Type != "doi" || id.Relationship != "SELF" || id.Value == "" {
			continue
		}
		if doi := ident.CleanDOI(id.Value); doi != "" {
			return doi
		}
	}
	return ""
}

// urlize adds a scheme to bare host names.
func urlize(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return "http://" + u
	}
	return u
}
