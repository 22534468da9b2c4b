package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/segmentio/encoding/json"

	"github.com/wetneb/dissemin/internal/catalog"
	"github.com/wetneb/dissemin/internal/notify"
	"github.com/wetneb/dissemin/internal/reference"
)

// setupTestDB opens a fresh SQLite catalog in a temp dir.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Failed to open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testPaper(id, title string) reference.Paper {
	created := time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)
	return reference.Paper{
		ID:          id,
		Fingerprint: title + "/dupont",
		Title:       title,
		Published:   reference.PublicationDate{Year: 2015, Month: 3},
		DocType:     reference.PubTypeJournalArticle,
		Visibility:  reference.VisibilityVisible,
		OAStatus:    catalog.OAStatusUnknown,
		Authors: []reference.Author{
			{Name: reference.Name{First: "Jean", Last: "Dupont"}, ORCID: "0000-0002-1825-0097", ResearcherID: 3},
			{Name: reference.Name{First: "Marie", Last: "Curie"}, Affiliation: "Sorbonne"},
		},
		Records: []reference.SourceRecord{{
			Source:     reference.SourceCrossref,
			Identifier: "oai:crossref.org:10.1234/" + id,
			DOI:        "10.1234/" + id,
			SplashURL:  "https://doi.org/10.1234/" + id,
			PubType:    reference.PubTypeJournalArticle,
			Priority:   reference.PriorityCrossref,
		}},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

var ignoreRecordKeys = cmpopts.IgnoreFields(reference.SourceRecord{}, "ID", "PaperID")

func TestPaperRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	p := testPaper("p1", "sur-les-graphes")
	if err := db.CreatePaper(ctx, &p); err != nil {
		t.Fatalf("CreatePaper() error = %v", err)
	}
	if err := db.AddRecords(ctx, p.ID, p.Records); err != nil {
		t.Fatalf("AddRecords() error = %v", err)
	}

	for name, lookup := range map[string]func() (*reference.Paper, error){
		"id":          func() (*reference.Paper, error) { return db.PaperByID(ctx, "p1") },
		"doi":         func() (*reference.Paper, error) { return db.PaperByDOI(ctx, "10.1234/p1") },
		"fingerprint": func() (*reference.Paper, error) { return db.PaperByFingerprint(ctx, "sur-les-graphes/dupont") },
	} {
		t.Run(name, func(t *testing.T) {
			got, err := lookup()
			if err != nil {
				t.Fatalf("lookup error = %v", err)
			}
			if diff := cmp.Diff(p, *got, ignoreRecordKeys); diff != "" {
				t.Errorf("paper mismatch (-want +got):\n%s", diff)
			}
			if got.Records[0].PaperID != "p1" || got.Records[0].ID == 0 {
				t.Errorf("expected stored record keys, got %+v", got.Records[0])
			}
		})
	}
}

func TestLookupNotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.PaperByID(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expected ErrNotFound by id, got %v", err)
	}
	if _, err := db.PaperByDOI(ctx, "10.1234/missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expected ErrNotFound by DOI, got %v", err)
	}
	if _, err := db.ResearcherByORCID(ctx, "0000-0002-1825-0097"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expected ErrNotFound for researcher, got %v", err)
	}
}

func TestCreatePaperDuplicateFingerprint(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	p := testPaper("p1", "sur-les-graphes")
	if err := db.CreatePaper(ctx, &p); err != nil {
		t.Fatal(err)
	}
	q := testPaper("p2", "sur-les-graphes")
	if err := db.CreatePaper(ctx, &q); !errors.Is(err, catalog.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestAddRecords(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	p := testPaper("p1", "sur-les-graphes")
	if err := db.CreatePaper(ctx, &p); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := db.AddRecords(ctx, p.ID, p.Records); err != nil {
			t.Fatalf("AddRecords() #%d error = %v", i, err)
		}
	}
	got, err := db.PaperByID(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(got.Records))
	}

	other := []reference.SourceRecord{{Source: reference.SourceORCID, Identifier: "orcid:x", PubType: reference.PubTypeOther}}
	if err := db.AddRecords(ctx, "missing", other); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown paper, got %v", err)
	}
}

func TestInTxRollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.InTx(ctx, func(s catalog.Store) error {
		p := testPaper("p1", "sur-les-graphes")
		if err := s.CreatePaper(ctx, &p); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n, err := db.Count(ctx); err != nil || n != 0 {
		t.Errorf("expected rollback to leave 0 papers, got %d (%v)", n, err)
	}
}

func TestEngineOverSQLite(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	e := catalog.NewEngine(db, nil)

	fromCrossref := testPaper("", "Sur les graphes")
	fromCrossref.Fingerprint = ""
	fromCrossref.Visibility = reference.VisibilityCandidate
	fromCrossref.Authors[0].ORCID = ""
	first, outcome, err := e.Upsert(ctx, &fromCrossref)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if outcome != catalog.OutcomeCreated {
		t.Fatalf("expected created, got %s", outcome)
	}

	fromORCID := reference.Paper{
		Title:      "Sur les graphes",
		Published:  reference.PublicationDate{Year: 2015},
		Visibility: reference.VisibilityVisible,
		Authors: []reference.Author{
			{Name: reference.Name{First: "J.", Last: "Dupont"}, ORCID: "0000-0002-1825-0097"},
			{Name: reference.Name{First: "M.", Last: "Curie"}},
		},
		Records: []reference.SourceRecord{{
			Source:     reference.SourceORCID,
			Identifier: "orcid:0000-0002-1825-0097:7",
			PDFURL:     "https://example.org/graphes.pdf",
			PubType:    reference.PubTypePreprint,
			Priority:   reference.PriorityORCID,
		}},
	}
	second, outcome, err := e.Upsert(ctx, &fromORCID)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if outcome != catalog.OutcomeMatchedFingerprint || second.ID != first.ID {
		t.Errorf("expected fingerprint match on %s, got %s on %s", first.ID, outcome, second.ID)
	}

	stored, err := db.PaperByID(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Visibility != reference.VisibilityVisible {
		t.Errorf("expected VISIBLE, got %s", stored.Visibility)
	}
	if len(stored.Records) != 2 {
		t.Errorf("expected 2 records, got %d", len(stored.Records))
	}
	if stored.Authors[0].ORCID != "0000-0002-1825-0097" || stored.Authors[0].First != "Jean" {
		t.Errorf("expected ORCID filled on Jean Dupont, got %+v", stored.Authors[0])
	}
	if stored.OAStatus != catalog.OAStatusOpen || stored.PDFURL != "https://example.org/graphes.pdf" {
		t.Errorf("expected OA via ORCID record, got %s %q", stored.OAStatus, stored.PDFURL)
	}
}

func TestMergeOverSQLite(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	e := catalog.NewEngine(db, nil)

	a := testPaper("a", "paper-a")
	b := testPaper("b", "paper-b")
	b.Visibility = reference.VisibilityCandidate
	for _, p := range []*reference.Paper{&a, &b} {
		if err := db.CreatePaper(ctx, p); err != nil {
			t.Fatal(err)
		}
		if err := db.AddRecords(ctx, p.ID, p.Records); err != nil {
			t.Fatal(err)
		}
	}

	merged, err := e.Merge(ctx, "b", "a")
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if merged.Visibility != reference.VisibilityVisible {
		t.Errorf("expected VISIBLE, got %s", merged.Visibility)
	}
	if _, err := db.PaperByID(ctx, "a"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expected secondary deleted, got %v", err)
	}
	got, err := db.PaperByDOI(ctx, "10.1234/a")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "b" || len(got.Records) != 2 {
		t.Errorf("expected both records on b, got %s with %d records", got.ID, len(got.Records))
	}
}

func TestResearchers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	e := catalog.NewEngine(db, nil)

	r, err := e.ResolveResearcher(ctx, reference.Researcher{
		ORCID: "0000-0002-1825-0097",
		Name:  reference.Name{First: "Josiah", Last: "Carberry"},
	})
	if err != nil {
		t.Fatalf("ResolveResearcher() error = %v", err)
	}
	if r.ID == 0 {
		t.Fatal("expected researcher ID assigned")
	}

	p := testPaper("", "sur-les-graphes")
	if _, _, err := e.SavePaper(ctx, &p, r); err != nil {
		t.Fatalf("SavePaper() error = %v", err)
	}

	got, err := db.ResearcherByORCID(ctx, r.ORCID)
	if err != nil {
		t.Fatal(err)
	}
	empty := false
	want := reference.Researcher{
		ID:                r.ID,
		ORCID:             "0000-0002-1825-0097",
		Name:              reference.Name{First: "Josiah", Last: "Carberry"},
		EmptyORCIDProfile: &empty,
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("researcher mismatch (-want +got):\n%s", diff)
	}

	saved, err := db.PaperByDOI(ctx, "10.1234/")
	if err != nil {
		t.Fatal(err)
	}
	if saved.Authors[0].ResearcherID != r.ID {
		t.Errorf("expected author linked to %d, got %d", r.ID, saved.Authors[0].ResearcherID)
	}
}

func TestNotificationStoreReplace(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := db.Notifications()

	for _, papers := range [][]string{{"first"}, {"second", "third"}} {
		n := notify.Notification{
			UserID:  "u1",
			Level:   notify.LevelError,
			Tag:     "backend_orcid",
			Payload: map[string]any{"code": "IGNORED_PAPERS", "papers": papers},
		}
		if err := notify.Replace(ctx, store, n); err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
	}
	if err := store.Notify(ctx, notify.Notification{UserID: "u2", Level: notify.LevelInfo, Tag: "other"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.List(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	var payload struct {
		Code   string   `json:"code"`
		Papers []string `json:"papers"`
	}
	if err := json.Unmarshal(got[0].Payload.(json.RawMessage), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Code != "IGNORED_PAPERS" || len(payload.Papers) != 2 {
		t.Errorf("expected the latest payload, got %+v", payload)
	}
	if got[0].Level != notify.LevelError || got[0].Date.IsZero() {
		t.Errorf("unexpected notification %+v", got[0])
	}

	if err := store.ClearTag(ctx, "u1", "backend_orcid"); err != nil {
		t.Fatal(err)
	}
	if got, _ := store.List(ctx, "u1"); len(got) != 0 {
		t.Errorf("expected no notification after clear, got %d", len(got))
	}
}

func TestJSONLRestore(t *testing.T) {
	src := setupTestDB(t)
	ctx := context.Background()

	papers := []reference.Paper{testPaper("p1", "paper-one"), testPaper("p2", "paper-two")}
	if n, err := src.Restore(ctx, papers); err != nil || n != 2 {
		t.Fatalf("Restore() = %d, %v", n, err)
	}
	exported, err := src.Papers(ctx)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, exported); err != nil {
		t.Fatalf("WriteJSONL() error = %v", err)
	}
	read, err := ReadJSONL(&buf)
	if err != nil {
		t.Fatalf("ReadJSONL() error = %v", err)
	}

	dst := setupTestDB(t)
	if _, err := dst.Restore(ctx, read); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, err := dst.Papers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(papers, got, ignoreRecordKeys); diff != "" {
		t.Errorf("catalog changed through JSONL (-want +got):\n%s", diff)
	}

	if _, err := dst.Restore(ctx, read[:1]); !errors.Is(err, catalog.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate restoring twice, got %v", err)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	papers, err := ReadAll(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err != nil || papers != nil {
		t.Errorf("expected no papers and no error, got %v, %v", papers, err)
	}
}
