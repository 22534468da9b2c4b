package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wetneb/dissemin/internal/bulkimport"
	"github.com/wetneb/dissemin/internal/catalog"
	"github.com/wetneb/dissemin/internal/metrics"
	"github.com/wetneb/dissemin/internal/orcid"
	"github.com/wetneb/dissemin/internal/reconcile"
	"github.com/wetneb/dissemin/internal/reference"
)

const holder = "0000-0002-1825-0097"

func profileJSON(id, given string, putCodes ...int64) string {
	var groups []string
	for _, pc := range putCodes {
		groups = append(groups, fmt.Sprintf(`{"work-summary": [{"put-code": %d, "title": {"title": {"value": "Work %d"}}}]}`, pc, pc))
	}
	return fmt.Sprintf(`{
		"orcid-identifier": {"path": %q},
		"person": {
			"name": {"given-names": {"value": %q}, "family-name": {"value": "Carberry"}},
			"researcher-urls": {"researcher-url": [{"url-name": "Homepage", "url": {"value": "https://carberry.example.org"}}]}
		},
		"activities-summary": {"works": {"group": [%s]}}
	}`, id, given, strings.Join(groups, ","))
}

func parseProfile(t *testing.T, data string) *orcid.Profile {
	t.Helper()
	p, err := orcid.ParseProfile([]byte(data))
	if err != nil {
		t.Fatalf("ParseProfile() error = %v", err)
	}
	return p
}

type fakeProfiles struct {
	profiles map[string]*orcid.Profile
	err      error
}

func (f *fakeProfiles) FetchProfile(_ context.Context, id string) (*orcid.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", orcid.ErrNotFound, id)
	}
	return p, nil
}

// fakeWorks serves one journal article per put-code. Put-code 4 has no
// title and is skipped by the normalizer.
type fakeWorks struct {
	err error
}

func (f *fakeWorks) FetchWorks(_ context.Context, _ *orcid.Profile, putCodes []int64) ([]orcid.Work, error) {
	if f.err != nil {
		return nil, f.err
	}
	var works []orcid.Work
	for _, pc := range putCodes {
		title := fmt.Sprintf("Study of topic %d", pc)
		if pc == 4 {
			title = ""
		}
		w, err := orcid.ParseJSONWork([]byte(fmt.Sprintf(`{
			"put-code": %d,
			"title": {"title": {"value": %q}},
			"type": "JOURNAL_ARTICLE",
			"publication-date": {"year": {"value": "2019"}},
			"contributors": {"contributor": [{"credit-name": {"value": "Carberry, Josiah"}}]}
		}`, pc, title)))
		if err != nil {
			return nil, err
		}
		works = append(works, w)
	}
	return works, nil
}

func newSource(profiles *fakeProfiles, works orcid.WorkFetcher) (*Source, *catalog.MemoryStore) {
	store := catalog.NewMemoryStore()
	return &Source{
		Engine: catalog.NewEngine(store, nil),
		Pipeline: &reconcile.Pipeline{
			Works:    works,
			Instance: orcid.ProductionInstance,
		},
		Profiles: profiles,
		Metrics:  metrics.NewImportMetrics(),
	}, store
}

func TestFetchAndSave(t *testing.T) {
	profile := parseProfile(t, profileJSON(holder, "Josiah", 1, 2, 3, 4))
	src, store := newSource(&fakeProfiles{profiles: map[string]*orcid.Profile{holder: profile}}, &fakeWorks{})

	out, err := src.FetchAndSave(context.Background(), "https://orcid.org/"+holder, "user-1", false)
	if err != nil {
		t.Fatalf("FetchAndSave() error = %v", err)
	}

	want := &Outcome{ORCID: holder, ResearcherID: out.ResearcherID, Papers: 3, Created: 3, Skipped: 1}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("outcome mismatch (-want +got):\n%s", diff)
	}
	if n := len(store.Papers()); n != 3 {
		t.Errorf("expected 3 papers, got %d", n)
	}

	r, err := store.ResearcherByORCID(context.Background(), holder)
	if err != nil {
		t.Fatalf("ResearcherByORCID() error = %v", err)
	}
	if r.UserID != "user-1" {
		t.Errorf("expected owner user-1, got %q", r.UserID)
	}
	if r.Homepage != "https://carberry.example.org" {
		t.Errorf("expected homepage, got %q", r.Homepage)
	}
	if r.EmptyORCIDProfile == nil || *r.EmptyORCIDProfile {
		t.Errorf("expected non-empty profile flag, got %v", r.EmptyORCIDProfile)
	}

	for _, p := range store.Papers() {
		linked := false
		for _, a := range p.Authors {
			if a.ResearcherID == r.ID {
				linked = true
			}
		}
		if !linked {
			t.Errorf("paper %q is not linked to the researcher", p.Title)
		}
	}
}

func TestFetchAndSaveIsIdempotent(t *testing.T) {
	profile := parseProfile(t, profileJSON(holder, "Josiah", 1, 2))
	src, store := newSource(&fakeProfiles{profiles: map[string]*orcid.Profile{holder: profile}}, &fakeWorks{})

	for i := 0; i < 2; i++ {
		if _, err := src.FetchAndSave(context.Background(), holder, "", false); err != nil {
			t.Fatalf("run %d: FetchAndSave() error = %v", i, err)
		}
	}
	if n := len(store.Papers()); n != 2 {
		t.Errorf("expected 2 papers after two runs, got %d", n)
	}
}

func TestFetchAndSaveMaxResults(t *testing.T) {
	profile := parseProfile(t, profileJSON(holder, "Josiah", 1, 2, 3))
	src, store := newSource(&fakeProfiles{profiles: map[string]*orcid.Profile{holder: profile}}, &fakeWorks{})
	src.MaxResults = 2

	out, err := src.FetchAndSave(context.Background(), holder, "", false)
	if err != nil {
		t.Fatalf("FetchAndSave() error = %v", err)
	}
	if out.Papers != 2 {
		t.Errorf("expected 2 papers, got %d", out.Papers)
	}
	if n := len(store.Papers()); n != 2 {
		t.Errorf("expected 2 stored papers, got %d", n)
	}
}

func TestFetchAndSaveSourceFailures(t *testing.T) {
	profile := parseProfile(t, profileJSON(holder, "Josiah", 1))

	tests := []struct {
		name     string
		orcidID  string
		profiles *fakeProfiles
		works    orcid.WorkFetcher
		empty    *bool // expected researcher flag, nil when no researcher is created
	}{
		{
			name:     "invalid identifier",
			orcidID:  "0000-0002-1825-0098",
			profiles: &fakeProfiles{},
			works:    &fakeWorks{},
		},
		{
			name:     "profile not found",
			orcidID:  holder,
			profiles: &fakeProfiles{},
			works:    &fakeWorks{},
		},
		{
			name:     "registry down",
			orcidID:  holder,
			profiles: &fakeProfiles{err: orcid.ErrRateLimited},
			works:    &fakeWorks{},
		},
		{
			name:     "works unavailable",
			orcidID:  holder,
			profiles: &fakeProfiles{profiles: map[string]*orcid.Profile{holder: profile}},
			works:    &fakeWorks{err: orcid.ErrInvalidResponse},
			empty:    ptr(true),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, store := newSource(tt.profiles, tt.works)
			out, err := src.FetchAndSave(context.Background(), tt.orcidID, "", false)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if out.Papers != 0 {
				t.Errorf("expected no papers, got %d", out.Papers)
			}
			if out.Reason == "" {
				t.Error("expected a reason")
			}

			r, err := store.ResearcherByORCID(context.Background(), holder)
			if tt.empty == nil {
				if !errors.Is(err, catalog.ErrNotFound) {
					t.Errorf("expected no researcher, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResearcherByORCID() error = %v", err)
			}
			if diff := cmp.Diff(tt.empty, r.EmptyORCIDProfile); diff != "" {
				t.Errorf("empty flag mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

type failingStore struct {
	*catalog.MemoryStore
}

func (s failingStore) InTx(ctx context.Context, fn func(catalog.Store) error) error {
	return errors.New("disk full")
}

func TestFetchAndSaveReturnsCatalogErrors(t *testing.T) {
	profile := parseProfile(t, profileJSON(holder, "Josiah", 1))
	src, _ := newSource(&fakeProfiles{profiles: map[string]*orcid.Profile{holder: profile}}, &fakeWorks{})
	src.Engine = catalog.NewEngine(failingStore{catalog.NewMemoryStore()}, nil)

	_, err := src.FetchAndSave(context.Background(), holder, "", false)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected the catalog error, got %v", err)
	}
}

const dumpWork = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<work:work xmlns:common="http://www.orcid.org/ns/common" xmlns:work="http://www.orcid.org/ns/work" put-code="%d">
    <work:title><common:title>Dumped work %d</common:title></work:title>
    <work:type>journal-article</work:type>
    <common:publication-date><common:year>2016</common:year><common:month>03</common:month></common:publication-date>
    <work:contributors>
        <work:contributor>
            <common:contributor-orcid><common:path>%s</common:path></common:contributor-orcid>
            <work:credit-name>Josiah Carberry</work:credit-name>
        </work:contributor>
    </work:contributors>
</work:work>`

func writeDump(t *testing.T, dir, id string, putCodes ...int64) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, pc := range putCodes {
		path := filepath.Join(dir, fmt.Sprintf("%s_works_%d.xml", id, pc))
		if err := os.WriteFile(path, []byte(fmt.Sprintf(dumpWork, pc, pc, id)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHandleProfile(t *testing.T) {
	worksDir := filepath.Join(t.TempDir(), "works")
	writeDump(t, worksDir, holder, 10, 11)

	src, store := newSource(&fakeProfiles{}, nil)
	job := bulkimport.ProfileJob{
		Folder:      "097",
		SummaryPath: "summaries/097/" + holder + ".json",
		Profile:     parseProfile(t, profileJSON(holder, "Josiah", 10, 11, 12)),
		WorksDir:    worksDir,
		FetchPapers: true,
	}

	rep, err := src.HandleProfile(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleProfile() error = %v", err)
	}
	if diff := cmp.Diff(bulkimport.ProfileReport{Papers: 2}, rep); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	var titles []string
	for _, p := range store.Papers() {
		titles = append(titles, p.Title)
		if p.Visibility != reference.VisibilityVisible {
			t.Errorf("expected %q to be visible, got %s", p.Title, p.Visibility)
		}
	}
	if len(titles) != 2 {
		t.Errorf("expected 2 papers, got %v", titles)
	}

	r, err := store.ResearcherByORCID(context.Background(), holder)
	if err != nil {
		t.Fatalf("ResearcherByORCID() error = %v", err)
	}
	if r.Name.Last != "Carberry" {
		t.Errorf("expected researcher Carberry, got %+v", r.Name)
	}
}

func TestHandleProfileWithoutPapers(t *testing.T) {
	src, store := newSource(&fakeProfiles{}, nil)
	job := bulkimport.ProfileJob{
		Profile:  parseProfile(t, profileJSON(holder, "Josiah", 10)),
		WorksDir: filepath.Join(t.TempDir(), "missing"),
	}

	rep, err := src.HandleProfile(context.Background(), job)
	if err != nil {
		t.Fatalf("HandleProfile() error = %v", err)
	}
	if rep.Papers != 0 {
		t.Errorf("expected no papers, got %d", rep.Papers)
	}
	if n := len(store.Papers()); n != 0 {
		t.Errorf("expected empty catalog, got %d papers", n)
	}
	if _, err := store.ResearcherByORCID(context.Background(), holder); err != nil {
		t.Errorf("expected the researcher to be created, got %v", err)
	}
}

func TestHandleProfileRefreshesResearcher(t *testing.T) {
	src, store := newSource(&fakeProfiles{}, nil)
	ctx := context.Background()

	for _, given := range []string{"J.", "Josiah"} {
		job := bulkimport.ProfileJob{Profile: parseProfile(t, profileJSON(holder, given))}
		if _, err := src.HandleProfile(ctx, job); err != nil {
			t.Fatalf("HandleProfile(%s) error = %v", given, err)
		}
	}
	r, err := store.ResearcherByORCID(ctx, holder)
	if err != nil {
		t.Fatal(err)
	}
	if r.Name.First != "Josiah" {
		t.Errorf("expected refreshed first name Josiah, got %q", r.Name.First)
	}
}

func TestHandleProfileInvalid(t *testing.T) {
	noName := `{"orcid-identifier": {"path": "0000-0002-1825-0097"}, "person": {}}`
	badID := profileJSON("0000-0002-1825-0098", "Josiah")

	tests := []struct {
		name    string
		profile *orcid.Profile
	}{
		{"nil profile", nil},
		{"no name", parseProfile(t, noName)},
		{"bad checksum", parseProfile(t, badID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, _ := newSource(&fakeProfiles{}, nil)
			_, err := src.HandleProfile(context.Background(), bulkimport.ProfileJob{
				SummaryPath: "summary.json",
				Profile:     tt.profile,
			})
			if !bulkimport.IsInvalidProfile(err) {
				t.Errorf("expected invalid profile error, got %v", err)
			}
		})
	}
}

func TestResearcherForTruncatesHomepage(t *testing.T) {
	long := "https://example.org/" + strings.Repeat("a", 2000)
	p := parseProfile(t, fmt.Sprintf(`{
		"orcid-identifier": {"path": %q},
		"person": {
			"name": {"given-names": {"value": "Josiah"}, "family-name": {"value": "Carberry"}},
			"researcher-urls": {"researcher-url": [{"url-name": "Homepage", "url": {"value": %q}}]}
		}
	}`, holder, long))

	r := researcherFor(p, "u")
	if len(r.Homepage) != MaxHomepageLength {
		t.Errorf("expected homepage of %d bytes, got %d", MaxHomepageLength, len(r.Homepage))
	}
}

func ptr[T any](v T) *T { return &v }
