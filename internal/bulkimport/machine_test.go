package bulkimport

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// sliceStream is a synthetic archive.
type sliceStream struct {
	entries []Entry
	failAt  int // entries returned before failing, -1 for never
}

func (s *sliceStream) Next() (Entry, error) {
	if s.failAt == 0 {
		return Entry{}, errors.New("unexpected EOF")
	}
	if len(s.entries) == 0 {
		return Entry{}, io.EOF
	}
	e := s.entries[0]
	s.entries = s.entries[1:]
	s.failAt--
	return e, nil
}

type archiveFile struct {
	name string
	body string // empty for directories
}

// activities builds the entries of an activities dump with one profile per
// folder, plus a non-works entry that must not be extracted.
func activities(folders ...string) []archiveFile {
	files := []archiveFile{{name: "activities/"}}
	for _, f := range folders {
		id := profileID(f)
		files = append(files,
			archiveFile{name: "activities/" + f + "/"},
			archiveFile{name: "activities/" + f + "/" + id + "/"},
			archiveFile{name: "activities/" + f + "/" + id + "/works/"},
			archiveFile{name: "activities/" + f + "/" + id + "/works/" + id + "_works_1.xml", body: "<work/>"},
			archiveFile{name: "activities/" + f + "/" + id + "/educations/" + id + "_educations_1.xml", body: "<education/>"},
		)
	}
	return files
}

func profileID(folder string) string {
	return "0000-0002-1825-0" + folder
}

func entries(files []archiveFile) []Entry {
	out := make([]Entry, len(files))
	for i, f := range files {
		out[i] = Entry{Name: f.name, Dir: strings.HasSuffix(f.name, "/")}
		if !out[i].Dir {
			out[i].Body = strings.NewReader(f.body)
		}
	}
	return out
}

func newStream(files []archiveFile) *sliceStream {
	return &sliceStream{entries: entries(files), failAt: -1}
}

// writeSummaries creates summaries/<folder>/<orcid>.json for each folder.
func writeSummaries(t *testing.T, folders ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range folders {
		writeSummary(t, dir, f, profileID(f)+".json", fmt.Sprintf(`{"orcid-identifier": {"path": %q}}`, profileID(f)))
	}
	return dir
}

func writeSummary(t *testing.T, dir, folder, file, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, folder), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, folder, file), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// recordingHandler remembers the profiles it saw and checks the extracted
// works while the folder is on disk.
type recordingHandler struct {
	t    *testing.T
	fail map[string]error

	mu   sync.Mutex
	seen []string
}

func (h *recordingHandler) HandleProfile(ctx context.Context, job ProfileJob) (ProfileReport, error) {
	h.mu.Lock()
	h.seen = append(h.seen, job.Folder+"/"+job.Profile.ID)
	h.mu.Unlock()

	if err, ok := h.fail[job.Profile.ID]; ok {
		return ProfileReport{}, err
	}

	work := filepath.Join(job.WorksDir, job.Profile.ID+"_works_1.xml")
	if _, err := os.Stat(work); err != nil {
		h.t.Errorf("expected extracted work %s: %v", work, err)
	}
	educations := filepath.Join(filepath.Dir(job.WorksDir), "educations")
	if _, err := os.Stat(educations); !os.IsNotExist(err) {
		h.t.Errorf("expected educations not extracted, got %v", err)
	}
	return ProfileReport{Papers: 2, Skipped: 1}, nil
}

func newMachine(t *testing.T, summaries string, h ProfileHandler, opts Options) (*Machine, string) {
	t.Helper()
	tempBase := t.TempDir()
	opts.SummariesDir = summaries
	opts.Handler = h
	opts.TempDir = tempBase
	opts.FetchPapers = true
	return NewMachine(opts), tempBase
}

func assertNoTempDirs(t *testing.T, base string) {
	t.Helper()
	left, err := os.ReadDir(base)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("expected temp dirs removed, found %d", len(left))
	}
}

func TestRunImportsEveryFolder(t *testing.T) {
	folders := []string{"000", "001", "002"}
	h := &recordingHandler{t: t}
	m, tempBase := newMachine(t, writeSummaries(t, folders...), h, Options{})

	stats, err := m.Run(context.Background(), newStream(activities(folders...)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"000/" + profileID("000"), "001/" + profileID("001"), "002/" + profileID("002")}
	if diff := cmp.Diff(want, h.seen); diff != "" {
		t.Errorf("profiles mismatch (-want +got):\n%s", diff)
	}
	wantStats := Stats{FoldersSeen: 3, FoldersImported: 3, Profiles: 3, Papers: 6, SkippedWorks: 3}
	if diff := cmp.Diff(wantStats, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if m.State() != Done {
		t.Errorf("expected DONE, got %s", m.State())
	}
	assertNoTempDirs(t, tempBase)
}

func TestRunResumeImportsStartFolder(t *testing.T) {
	folders := []string{"000", "001", "002"}
	h := &recordingHandler{t: t}
	m, tempBase := newMachine(t, writeSummaries(t, folders...), h, Options{StartFrom: "001"})

	stats, err := m.Run(context.Background(), newStream(activities(folders...)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"001/" + profileID("001"), "002/" + profileID("002")}
	if diff := cmp.Diff(want, h.seen); diff != "" {
		t.Errorf("profiles mismatch (-want +got):\n%s", diff)
	}
	if stats.FoldersSkipped != 1 || stats.FoldersImported != 2 {
		t.Errorf("expected 1 skipped and 2 imported folders, got %+v", stats)
	}
	assertNoTempDirs(t, tempBase)
}

func TestRunResumeNeverReached(t *testing.T) {
	h := &recordingHandler{t: t}
	m, _ := newMachine(t, writeSummaries(t, "000"), h, Options{StartFrom: "999"})

	stats, err := m.Run(context.Background(), newStream(activities("000")))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(h.seen) != 0 || stats.FoldersSkipped != 1 {
		t.Errorf("expected the only folder skipped, got %v and %+v", h.seen, stats)
	}
}

func TestRunInvalidSummaryDoesNotStopFolder(t *testing.T) {
	summaries := writeSummaries(t, "000")
	writeSummary(t, summaries, "000", "0000-0000-0000-0000.json", `{"orcid-identifier": `)
	writeSummary(t, summaries, "000", "0000-0000-0000-0001.json", `{"person": {}}`)

	h := &recordingHandler{t: t}
	m, _ := newMachine(t, summaries, h, Options{})
	stats, err := m.Run(context.Background(), newStream(activities("000")))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if diff := cmp.Diff([]string{"000/" + profileID("000")}, h.seen); diff != "" {
		t.Errorf("profiles mismatch (-want +got):\n%s", diff)
	}
	if stats.InvalidProfiles != 2 || stats.Profiles != 3 {
		t.Errorf("expected 2 invalid of 3 profiles, got %+v", stats)
	}
}

func TestRunHandlerInvalidProfile(t *testing.T) {
	folders := []string{"000", "001"}
	h := &recordingHandler{t: t, fail: map[string]error{
		profileID("000"): InvalidProfile("x", errors.New("missing name")),
	}}
	m, _ := newMachine(t, writeSummaries(t, folders...), h, Options{})

	stats, err := m.Run(context.Background(), newStream(activities(folders...)))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if stats.InvalidProfiles != 1 || stats.FoldersImported != 2 {
		t.Errorf("expected run to continue past invalid profile, got %+v", stats)
	}
}

func TestRunUnexpectedError(t *testing.T) {
	folders := []string{"000", "001"}
	dbDown := errors.New("database is down")

	tests := []struct {
		policy      Policy
		wantErr     bool
		wantFolders int
	}{
		{PolicyAbort, true, 0},
		{PolicyContinue, false, 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			h := &recordingHandler{t: t, fail: map[string]error{profileID("000"): dbDown}}
			m, tempBase := newMachine(t, writeSummaries(t, folders...), h, Options{OnUnexpected: tt.policy})

			stats, err := m.Run(context.Background(), newStream(activities(folders...)))
			if tt.wantErr {
				var pe *ProfileError
				if !errors.As(err, &pe) || pe.Kind != KindUnexpected || !errors.Is(err, dbDown) {
					t.Fatalf("expected unexpected ProfileError, got %v", err)
				}
				if pe.ORCID != profileID("000") {
					t.Errorf("expected ORCID %s, got %s", profileID("000"), pe.ORCID)
				}
			} else if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if stats.FailedProfiles != 1 {
				t.Errorf("expected 1 failed profile, got %d", stats.FailedProfiles)
			}
			if stats.FoldersImported != tt.wantFolders {
				t.Errorf("expected %d imported folders, got %d", tt.wantFolders, stats.FoldersImported)
			}
			assertNoTempDirs(t, tempBase)
		})
	}
}

func TestRunArchiveErrorRemovesTempDir(t *testing.T) {
	h := &recordingHandler{t: t}
	m, tempBase := newMachine(t, writeSummaries(t, "000"), h, Options{})

	stream := newStream(activities("000"))
	stream.failAt = 4 // inside folder 000, after the first works entries
	_, err := m.Run(context.Background(), stream)
	if !IsArchiveError(err) {
		t.Fatalf("expected ArchiveError, got %v", err)
	}
	if len(h.seen) != 0 {
		t.Errorf("expected no profile imported, got %v", h.seen)
	}
	assertNoTempDirs(t, tempBase)
}

func TestRunMissingSummariesFolder(t *testing.T) {
	h := &recordingHandler{t: t}
	m, tempBase := newMachine(t, writeSummaries(t, "000"), h, Options{})

	_, err := m.Run(context.Background(), newStream(activities("000", "001")))
	var ae *ArchiveError
	if !errors.As(err, &ae) || ae.Folder != "001" {
		t.Fatalf("expected ArchiveError for folder 001, got %v", err)
	}
	assertNoTempDirs(t, tempBase)
}

func TestRunWorkers(t *testing.T) {
	summaries := writeSummaries(t, "000")
	for i := 1; i < 8; i++ {
		id := fmt.Sprintf("0000-0002-1825-%04d", i)
		writeSummary(t, summaries, "000", id+".json", fmt.Sprintf(`{"orcid-identifier": {"path": %q}}`, id))
	}

	var mu sync.Mutex
	count := 0
	h := ProfileHandlerFunc(func(ctx context.Context, job ProfileJob) (ProfileReport, error) {
		mu.Lock()
		defer mu.Unlock()
		count++
		return ProfileReport{Papers: 1}, nil
	})
	m, _ := newMachine(t, summaries, h, Options{Workers: 4})
	stats, err := m.Run(context.Background(), newStream(activities("000")))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if count != 8 || stats.Papers != 8 {
		t.Errorf("expected 8 profiles handled, got %d (%+v)", count, stats)
	}
}

func TestRunIgnoresEscapingEntries(t *testing.T) {
	files := append(activities("000"), archiveFile{name: "activities/000/../../../works/evil.xml", body: "x"})
	h := &recordingHandler{t: t}
	m, tempBase := newMachine(t, writeSummaries(t, "000"), h, Options{})
	if _, err := m.Run(context.Background(), newStream(files)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempBase, "works")); !os.IsNotExist(err) {
		t.Errorf("expected escaping entry not written, got %v", err)
	}
}

func buildTar(t *testing.T, w io.Writer, files []archiveFile) {
	t.Helper()
	tw := tar.NewWriter(w)
	for _, f := range files {
		hdr := &tar.Header{Name: f.name, Mode: 0o644, Size: int64(len(f.body)), Typeflag: tar.TypeReg}
		if strings.HasSuffix(f.name, "/") {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, f.body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOpenArchive(t *testing.T) {
	folders := []string{"000", "001"}
	files := activities(folders...)

	tests := []struct {
		name     string
		compress func(t *testing.T, w io.Writer) io.WriteCloser
	}{
		{"activities.tar.gz", func(t *testing.T, w io.Writer) io.WriteCloser { return pgzip.NewWriter(w) }},
		{"activities.tar.zst", func(t *testing.T, w io.Writer) io.WriteCloser {
			zw, err := zstd.NewWriter(w)
			if err != nil {
				t.Fatal(err)
			}
			return zw
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cw := tt.compress(t, &buf)
			buildTar(t, cw, files)
			if err := cw.Close(); err != nil {
				t.Fatal(err)
			}
			path := filepath.Join(t.TempDir(), tt.name)
			if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
				t.Fatal(err)
			}

			stream, closer, err := OpenArchive(path)
			if err != nil {
				t.Fatalf("OpenArchive() error = %v", err)
			}
			defer closer.Close()

			h := &recordingHandler{t: t}
			m, tempBase := newMachine(t, writeSummaries(t, folders...), h, Options{})
			stats, err := m.Run(context.Background(), stream)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if stats.FoldersImported != 2 || len(h.seen) != 2 {
				t.Errorf("expected 2 folders imported, got %+v", stats)
			}
			assertNoTempDirs(t, tempBase)
		})
	}
}

func TestOpenArchiveErrors(t *testing.T) {
	dir := t.TempDir()
	notGzip := filepath.Join(dir, "activities.tar.gz")
	if err := os.WriteFile(notGzip, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.tar.gz"), notGzip, filepath.Join(dir, "activities.rar")} {
		if _, _, err := OpenArchive(path); !IsArchiveError(err) {
			t.Errorf("OpenArchive(%s): expected ArchiveError, got %v", filepath.Base(path), err)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyAbort, false},
		{"abort", PolicyAbort, false},
		{"continue", PolicyContinue, false},
		{"ignore", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, %v", tt.in, got, err)
		}
	}
}
