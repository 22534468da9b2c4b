package bulkimport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wetneb/dissemin/internal/metrics"
	"github.com/wetneb/dissemin/internal/orcid"
)

// State is the position of a Machine in the archive.
type State int

const (
	// Scanning: no folder is being accumulated. Entries are read until the
	// next folder boundary.
	Scanning State = iota
	// AccumulatingFolder: works entries of the current folder are
	// extracted into its temp dir.
	AccumulatingFolder
	// FlushingFolder: the current folder's profiles are being imported.
	FlushingFolder
	// Done: the stream is exhausted or the run failed.
	Done
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "SCANNING"
	case AccumulatingFolder:
		return "ACCUMULATING_FOLDER"
	case FlushingFolder:
		return "FLUSHING_FOLDER"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Machine.
type Options struct {
	// SummariesDir holds one directory per folder, each holding one JSON
	// summary per profile.
	SummariesDir string
	Handler      ProfileHandler

	// StartFrom skips every folder before the named one. The named folder
	// is the first one imported.
	StartFrom string

	FetchPapers bool
	UseDOI      bool

	// Workers bounds how many profiles of a folder are imported at once.
	Workers      int
	OnUnexpected Policy

	// TempDir is where folders are extracted. Empty means os.TempDir().
	TempDir string

	Logger  *slog.Logger
	Metrics *metrics.ImportMetrics
}

// Machine drives an import over one archive stream.
type Machine struct {
	opts   Options
	logger *slog.Logger

	state State
	seen  bool // StartFrom reached

	// Accumulator of the current folder.
	folder     string // folder name, such as "000"
	folderPath string // folder entry path, such as "activities/000"
	tempDir    string
	extracted  int

	mu    sync.Mutex
	stats Stats
}

// NewMachine creates a machine in the Scanning state.
func NewMachine(opts Options) *Machine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.OnUnexpected == "" {
		opts.OnUnexpected = PolicyAbort
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		opts:   opts,
		logger: logger,
		seen:   opts.StartFrom == "",
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Stats returns a copy of the counters.
func (m *Machine) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Machine) transition(s State) {
	m.logger.Debug("import state", "from", m.state.String(), "to", s.String(), "folder", m.folder)
	m.state = s
}

// Run consumes the stream. It returns after the last folder is flushed,
// on the first archive error, or on an unexpected profile error under
// PolicyAbort. The temp dir of the current folder is removed on every
// path.
func (m *Machine) Run(ctx context.Context, stream EntryStream) (Stats, error) {
	defer m.discard()

	for {
		if err := ctx.Err(); err != nil {
			m.transition(Done)
			return m.Stats(), err
		}
		e, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			m.transition(Done)
			return m.Stats(), &ArchiveError{Folder: m.folder, Op: "reading archive", Err: err}
		}
		if err := m.step(ctx, e); err != nil {
			m.transition(Done)
			return m.Stats(), err
		}
	}

	if m.state == AccumulatingFolder {
		if err := m.flush(ctx); err != nil {
			m.transition(Done)
			return m.Stats(), err
		}
	}
	m.transition(Done)
	return m.Stats(), nil
}

// step feeds one entry to the machine.
func (m *Machine) step(ctx context.Context, e Entry) error {
	name := strings.TrimPrefix(strings.TrimSuffix(e.Name, "/"), "./")
	switch strings.Count(name, "/") {
	case 0:
		// Archive root.
		return nil
	case 1:
		if m.state == AccumulatingFolder {
			if err := m.flush(ctx); err != nil {
				return err
			}
		}
		return m.begin(name)
	}

	if m.state != AccumulatingFolder || !strings.Contains(name, "/works/") {
		return nil
	}
	return m.extract(name, e)
}

// begin starts a new folder, or skips it when it precedes StartFrom.
func (m *Machine) begin(folderPath string) error {
	m.folder = path.Base(folderPath)
	m.folderPath = folderPath
	m.extracted = 0
	m.count(func(s *Stats) { s.FoldersSeen++ })

	if !m.seen && m.folder == m.opts.StartFrom {
		m.seen = true
	}
	if !m.seen {
		m.logger.Info("skipping folder", "folder", m.folder, "start_from", m.opts.StartFrom)
		m.count(func(s *Stats) { s.FoldersSkipped++ })
		m.opts.Metrics.Folder(metrics.FolderSkipped)
		m.transition(Scanning)
		return nil
	}

	dir, err := os.MkdirTemp(m.opts.TempDir, "dissemin-orcid-")
	if err != nil {
		return &ArchiveError{Folder: m.folder, Op: "creating temp dir", Err: err}
	}
	m.tempDir = dir
	m.logger.Info("extracting folder", "folder", m.folder)
	m.transition(AccumulatingFolder)
	return nil
}

// extract writes a works entry under the folder's temp dir.
func (m *Machine) extract(name string, e Entry) error {
	target := filepath.Join(m.tempDir, filepath.FromSlash(name))
	if rel, err := filepath.Rel(m.tempDir, target); err != nil || strings.HasPrefix(rel, "..") {
		m.logger.Warn("ignoring entry outside the archive root", "entry", e.Name)
		return nil
	}

	if e.Dir {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return &ArchiveError{Folder: m.folder, Op: "extracting " + name, Err: err}
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &ArchiveError{Folder: m.folder, Op: "extracting " + name, Err: err}
	}
	f, err := os.Create(target)
	if err != nil {
		return &ArchiveError{Folder: m.folder, Op: "extracting " + name, Err: err}
	}
	if _, err := io.Copy(f, e.Body); err != nil {
		f.Close()
		return &ArchiveError{Folder: m.folder, Op: "extracting " + name, Err: err}
	}
	if err := f.Close(); err != nil {
		return &ArchiveError{Folder: m.folder, Op: "extracting " + name, Err: err}
	}
	m.extracted++
	return nil
}

// flush imports every profile of the current folder, then removes its
// temp dir.
func (m *Machine) flush(ctx context.Context) error {
	m.transition(FlushingFolder)
	defer m.discard()
	start := time.Now()

	summaries := filepath.Join(m.opts.SummariesDir, m.folder)
	entries, err := os.ReadDir(summaries)
	if err != nil {
		return &ArchiveError{Folder: m.folder, Op: "listing summaries", Err: err}
	}
	var files []string
	for _, de := range entries {
		if de.Type().IsRegular() {
			files = append(files, de.Name())
		}
	}
	slices.Sort(files)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for _, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return m.importProfile(gctx, filepath.Join(summaries, file))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.count(func(s *Stats) { s.FoldersImported++ })
	m.opts.Metrics.Folder(metrics.FolderImported)
	elapsed := time.Since(start)
	m.logger.Info("imported folder",
		"folder", m.folder,
		"profiles", len(files),
		"works_files", m.extracted,
		"duration", elapsed.Round(time.Millisecond).String(),
		"profiles_per_second", rate(len(files), elapsed),
	)
	m.transition(Scanning)
	return nil
}

// importProfile parses one summary file and hands it to the handler.
func (m *Machine) importProfile(ctx context.Context, summaryPath string) error {
	m.opts.Metrics.StartProfile()
	start := time.Now()
	status := metrics.ProfileImported
	defer func() { m.opts.Metrics.FinishProfile(status, time.Since(start)) }()

	m.count(func(s *Stats) { s.Profiles++ })

	job, err := m.job(summaryPath)
	if err == nil {
		var report ProfileReport
		report, err = m.opts.Handler.HandleProfile(ctx, job)
		m.count(func(s *Stats) {
			s.Papers += report.Papers
			s.SkippedWorks += report.Skipped
		})
	}
	if err == nil {
		return nil
	}

	if IsInvalidProfile(err) {
		status = metrics.ProfileInvalid
		m.count(func(s *Stats) { s.InvalidProfiles++ })
		m.logger.Warn("invalid profile", "path", summaryPath, "error", err)
		return nil
	}

	status = metrics.ProfileFailed
	m.count(func(s *Stats) { s.FailedProfiles++ })
	m.logger.Error("failed to import profile",
		"path", summaryPath,
		"folder", m.folder,
		"orcid", job.profileID(),
		"error", err,
	)
	if m.opts.OnUnexpected == PolicyContinue {
		return nil
	}
	return &ProfileError{Kind: KindUnexpected, Path: summaryPath, ORCID: job.profileID(), Err: err}
}

func (m *Machine) job(summaryPath string) (ProfileJob, error) {
	data, err := os.ReadFile(summaryPath)
	if err != nil {
		return ProfileJob{}, InvalidProfile(summaryPath, err)
	}
	profile, err := orcid.ParseProfile(data)
	if err != nil {
		return ProfileJob{}, InvalidProfile(summaryPath, err)
	}
	base := strings.TrimSuffix(filepath.Base(summaryPath), filepath.Ext(summaryPath))
	return ProfileJob{
		Folder:      m.folder,
		SummaryPath: summaryPath,
		Profile:     profile,
		WorksDir:    filepath.Join(m.tempDir, filepath.FromSlash(m.folderPath), base, "works"),
		FetchPapers: m.opts.FetchPapers,
		UseDOI:      m.opts.UseDOI,
	}, nil
}

func (j ProfileJob) profileID() string {
	if j.Profile == nil {
		return ""
	}
	return j.Profile.ID
}

// discard removes the current temp dir, if any.
func (m *Machine) discard() {
	if m.tempDir == "" {
		return
	}
	if err := os.RemoveAll(m.tempDir); err != nil {
		m.logger.Error("failed to remove temp dir", "path", m.tempDir, "error", err)
	}
	m.tempDir = ""
}

func (m *Machine) count(fn func(*Stats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.stats)
}

func rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}
