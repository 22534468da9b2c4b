// Package reconcile turns the works declared on an ORCID profile into
// catalog papers. Works with a DOI are resolved against Crossref first;
// the others, and every DOI work Crossref cannot convert, are read from
// ORCID itself.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wetneb/dissemin/internal/crossref"
	"github.com/wetneb/dissemin/internal/name"
	"github.com/wetneb/dissemin/internal/notify"
	"github.com/wetneb/dissemin/internal/orcid"
	"github.com/wetneb/dissemin/internal/reference"
)

// Notification identifiers for ignored works.
const (
	NotificationTag   = "backend_orcid"
	IgnoredPapersCode = "IGNORED_PAPERS"
)

// Origin tells which source produced a paper.
type Origin string

const (
	OriginCrossref Origin = "crossref"
	OriginORCID    Origin = "orcid"
)

// Result is one terminal outcome for a declared work: a paper or a skipped
// work, never both.
type Result struct {
	Paper   *reference.Paper
	Skipped *orcid.SkippedWork
	Origin  Origin
	PutCode int64
}

// Report summarizes a reconciliation run.
type Report struct {
	ORCID     string
	Papers    int
	Skipped   []orcid.SkippedWork
	Fallbacks int // DOI works handed to the ORCID fallback
}

// Emitted is the number of results yielded.
func (r *Report) Emitted() int {
	return r.Papers + len(r.Skipped)
}

// IgnoredPapers is the payload of the notification sent for skipped works.
type IgnoredPapers struct {
	Code   string              `json:"code"`
	Papers []orcid.SkippedWork `json:"papers"`
}

// Run holds the per-profile parameters of one reconciliation.
type Run struct {
	Profile *orcid.Profile
	UserID  string // owner notified of skipped works, "" for none
	UseDOI  bool
	DumpDir string // extracted works of the profile; live API when empty
}

// Pipeline reconciles profiles. Metadata may be nil, in which case DOIs are
// not looked up.
type Pipeline struct {
	Metadata crossref.MetadataSource
	Works    orcid.WorkFetcher
	Notifier notify.Sink
	Instance string
	Logger   *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Reconcile yields one Result per declared work. Crossref successes come
// first, followed by the ORCID results in put-code list order. Iteration
// stops at the first error returned by yield.
func (p *Pipeline) Reconcile(ctx context.Context, run Run, yield func(Result) error) (*Report, error) {
	if run.Profile == nil {
		return nil, errors.New("reconcile: nil profile")
	}
	profile := run.Profile
	report := &Report{ORCID: profile.ID}
	logger := p.logger().With("orcid", profile.ID)

	var (
		doiWorks []orcid.WorkSummary
		putCodes []int64
	)
	useDOI := run.UseDOI && p.Metadata != nil
	if useDOI && p.Instance != orcid.ProductionInstance {
		logger.Debug("DOI lookup disabled outside production", "instance", p.Instance)
		useDOI = false
	}
	for _, s := range profile.WorkSummaries() {
		if s.DOI != "" && useDOI {
			doiWorks = append(doiWorks, s)
		} else {
			putCodes = append(putCodes, s.PutCode)
		}
	}

	if len(doiWorks) > 0 {
		failed, err := p.resolveDOIs(ctx, profile, doiWorks, report, yield)
		if err != nil {
			return report, err
		}
		putCodes = append(putCodes, failed...)
	}

	fetchErr := p.fallback(ctx, run, putCodes, report, yield)
	var yieldErr *yieldError
	if errors.As(fetchErr, &yieldErr) {
		return report, yieldErr.err
	}

	p.warnUser(ctx, run.UserID, report.Skipped)
	if len(report.Skipped) > 0 {
		logger.Warn("ignored papers", "count", len(report.Skipped))
	}
	return report, fetchErr
}

// resolveDOIs yields the papers Crossref can provide and returns the
// put-codes of the other works.
func (p *Pipeline) resolveDOIs(ctx context.Context, profile *orcid.Profile, works []orcid.WorkSummary, report *Report, yield func(Result) error) ([]int64, error) {
	logger := p.logger().With("orcid", profile.ID)
	dois := make([]string, len(works))
	for i, w := range works {
		dois[i] = w.DOI
	}

	metadata, err := p.Metadata.FetchBatch(ctx, dois)
	if err != nil {
		logger.Warn("metadata source failed, falling back to ORCID", "error", err)
	}

	var failed []int64
	for i, w := range works {
		var m *crossref.Metadata
		if i < len(metadata) {
			m = metadata[i]
		}
		paper, convErr := p.fromMetadata(profile, m)
		if convErr != nil {
			logger.Debug("DOI work falls back to ORCID", "doi", w.DOI, "put_code", w.PutCode, "reason", convErr)
			failed = append(failed, w.PutCode)
			report.Fallbacks++
			continue
		}
		if err := yield(Result{Paper: paper, Origin: OriginCrossref, PutCode: w.PutCode}); err != nil {
			return nil, err
		}
		report.Papers++
	}
	return failed, nil
}

var errNoMetadata = errors.New("no metadata")

// fromMetadata converts a Crossref record, affiliating the profile holder
// with the closest author, and attaches the ORCID record of the work.
func (p *Pipeline) fromMetadata(profile *orcid.Profile, m *crossref.Metadata) (*reference.Paper, error) {
	if m == nil {
		return nil, errNoMetadata
	}
	names, ok := crossref.AuthorNames(m)
	if !ok {
		return nil, crossref.ErrInvalidAuthor
	}
	orcids := name.AffiliateORCID(profile.Name(), profile.ID, names, nil)
	paper, err := crossref.ToPaper(m, orcids)
	if err != nil {
		return nil, err
	}
	doi := paper.DOI()
	if doi == "" {
		doi = m.DOI
	}
	paper.Records = append(paper.Records, reference.SourceRecord{
		Source:     reference.SourceORCID,
		Identifier: RecordIdentifier(profile.ID, doi),
		DOI:        doi,
		SplashURL:  fmt.Sprintf("https://%s/%s", p.Instance, profile.ID),
		PubType:    paper.DocType,
		Priority:   reference.PriorityORCID,
	})
	paper.Visibility = reference.VisibilityVisible
	return paper, nil
}

// RecordIdentifier is the identifier of the ORCID record asserting that a
// profile holder authored a DOI.
func RecordIdentifier(orcidID, doi string) string {
	return fmt.Sprintf("orcid:%s:%s", orcidID, doi)
}

type yieldError struct{ err error }

func (e *yieldError) Error() string { return e.err.Error() }

// fallback normalizes the ORCID works of putCodes. A fetch error is
// returned after the works read so far have been yielded.
func (p *Pipeline) fallback(ctx context.Context, run Run, putCodes []int64, report *Report, yield func(Result) error) error {
	if len(putCodes) == 0 {
		return nil
	}
	profile := run.Profile
	logger := p.logger().With("orcid", profile.ID)

	var fetcher orcid.WorkFetcher = p.Works
	if run.DumpDir != "" {
		fetcher = orcid.DumpSource{Dir: run.DumpDir, Logger: p.Logger}
	}
	if fetcher == nil {
		return errors.New("reconcile: no work fetcher")
	}

	works, fetchErr := fetcher.FetchWorks(ctx, profile, putCodes)
	if fetchErr != nil {
		logger.Warn("fetching works failed", "error", fetchErr)
	}

	instance := profile.Instance
	if instance == "" {
		instance = p.Instance
	}
	for _, w := range works {
		if w == nil {
			continue
		}
		res := Result{Origin: OriginORCID, PutCode: w.PutCode()}
		nw, err := orcid.Normalize(w, profile, instance)
		var skip *orcid.SkipError
		switch {
		case errors.As(err, &skip):
			logger.Warn("work skipped due to incorrect metadata", "put_code", w.PutCode(), "reason", skip.Reason)
			sw := orcid.NewSkippedWork(w, skip.Reason)
			report.Skipped = append(report.Skipped, sw)
			res.Skipped = &sw
		case err != nil:
			return fmt.Errorf("normalizing work %d: %w", w.PutCode(), err)
		default:
			res.Paper = nw.ToPaper()
			report.Papers++
		}
		if err := yield(res); err != nil {
			return &yieldError{err: err}
		}
	}
	return fetchErr
}

// warnUser replaces the user's pending ignored-papers notification. The
// previous one is cleared even when nothing was skipped this time.
func (p *Pipeline) warnUser(ctx context.Context, userID string, skipped []orcid.SkippedWork) {
	if userID == "" || p.Notifier == nil {
		return
	}
	logger := p.logger()
	if len(skipped) == 0 {
		if err := p.Notifier.ClearTag(ctx, userID, NotificationTag); err != nil {
			logger.Warn("clearing notification failed", "user", userID, "error", err)
		}
		return
	}
	n := notify.Notification{
		UserID:  userID,
		Level:   notify.LevelError,
		Tag:     NotificationTag,
		Payload: IgnoredPapers{Code: IgnoredPapersCode, Papers: skipped},
	}
	if err := notify.Replace(ctx, p.Notifier, n); err != nil {
		logger.Warn("notifying ignored papers failed", "user", userID, "error", err)
	}
}
