// Package ingest saves the papers of ORCID profiles into the catalog, one
// profile at a time from the live registry or in bulk from an extracted
// activities dump.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wetneb/dissemin/internal/bulkimport"
	"github.com/wetneb/dissemin/internal/catalog"
	"github.com/wetneb/dissemin/internal/ident"
	"github.com/wetneb/dissemin/internal/metrics"
	"github.com/wetneb/dissemin/internal/orcid"
	"github.com/wetneb/dissemin/internal/reconcile"
	"github.com/wetneb/dissemin/internal/reference"
)

// MaxHomepageLength bounds the homepage stored on a researcher.
const MaxHomepageLength = 1024

// ProfileFetcher reads profiles from the registry.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, id string) (*orcid.Profile, error)
}

// Source saves reconciled papers into the catalog.
type Source struct {
	Engine   *catalog.Engine
	Pipeline *reconcile.Pipeline
	Profiles ProfileFetcher
	Logger   *slog.Logger
	Metrics  *metrics.ImportMetrics

	// MaxResults stops FetchAndSave after that many saved papers. Zero
	// means no limit.
	MaxResults int
}

var _ bulkimport.ProfileHandler = (*Source)(nil)

// Outcome reports what FetchAndSave did for one profile.
type Outcome struct {
	ORCID        string `json:"orcid"`
	ResearcherID int64  `json:"researcher_id,omitempty"`
	Papers       int    `json:"papers"`
	Created      int    `json:"created"`
	Skipped      int    `json:"skipped"`
	// Reason is set when nothing could be fetched.
	Reason string `json:"reason,omitempty"`
}

func (s *Source) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// errLimit stops reconciliation once MaxResults papers are saved.
var errLimit = errors.New("result limit reached")

// saveError carries catalog failures out of a reconcile run, so they can
// be told apart from source failures.
type saveError struct{ err error }

func (e *saveError) Error() string { return e.err.Error() }
func (e *saveError) Unwrap() error { return e.err }

// FetchAndSave fetches the profile of orcidID from the registry and saves
// its papers. Registry failures are logged and reported as an Outcome with
// no papers; only catalog failures are returned as errors.
func (s *Source) FetchAndSave(ctx context.Context, orcidID, userID string, useDOI bool) (*Outcome, error) {
	logger := s.logger().With("orcid", orcidID)
	out := &Outcome{ORCID: orcidID}

	id, ok := ident.ValidateORCID(orcidID)
	if !ok {
		logger.Warn("invalid ORCID identifier")
		out.Reason = orcid.ErrInvalidORCID.Error()
		return out, nil
	}
	out.ORCID = id

	profile, err := s.Profiles.FetchProfile(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		logger.Warn("fetching profile failed", "error", err)
		out.Reason = err.Error()
		return out, nil
	}

	r, err := s.Engine.ResolveResearcher(ctx, researcherFor(profile, userID))
	if err != nil {
		return out, err
	}
	out.ResearcherID = r.ID
	if r.EmptyORCIDProfile == nil {
		if err := s.Engine.SetEmptyORCIDProfile(ctx, r, true); err != nil {
			return out, err
		}
	}

	report, err := s.Pipeline.Reconcile(ctx, reconcile.Run{
		Profile: profile,
		UserID:  r.UserID,
		UseDOI:  useDOI,
	}, s.saver(ctx, r, out))
	if report != nil {
		out.Skipped = len(report.Skipped)
	}

	var se *saveError
	switch {
	case err == nil, errors.Is(err, errLimit):
	case errors.As(err, &se):
		return out, se.err
	case ctx.Err() != nil:
		return out, ctx.Err()
	default:
		logger.Warn("fetching works failed", "error", err, "papers", out.Papers)
		if out.Papers == 0 {
			out.Reason = err.Error()
		}
	}

	logger.Info("fetched profile", "papers", out.Papers, "created", out.Created, "skipped", out.Skipped)
	return out, nil
}

// saver returns the reconcile callback saving papers for r.
func (s *Source) saver(ctx context.Context, r *reference.Researcher, out *Outcome) func(reconcile.Result) error {
	return func(res reconcile.Result) error {
		if res.Skipped != nil {
			s.Metrics.SkippedWork(string(res.Skipped.SkipReason))
			return nil
		}
		if s.MaxResults > 0 && out.Papers >= s.MaxResults {
			return errLimit
		}
		_, outcome, err := s.Engine.SavePaper(ctx, res.Paper, r)
		if err != nil {
			return &saveError{err: fmt.Errorf("saving work %d: %w", res.PutCode, err)}
		}
		s.Metrics.Paper(string(outcome))
		out.Papers++
		if outcome == catalog.OutcomeCreated {
			out.Created++
		}
		return nil
	}
}

// HandleProfile imports one profile of a bulk dump. The researcher is
// always created or refreshed; papers are read from the job's works dir
// when the job asks for them.
func (s *Source) HandleProfile(ctx context.Context, job bulkimport.ProfileJob) (bulkimport.ProfileReport, error) {
	var rep bulkimport.ProfileReport
	profile := job.Profile
	if profile == nil || profile.ID == "" {
		return rep, bulkimport.InvalidProfile(job.SummaryPath, errors.New("missing ORCID identifier"))
	}
	if _, ok := ident.ValidateORCID(profile.ID); !ok {
		return rep, bulkimport.InvalidProfile(job.SummaryPath, fmt.Errorf("%w: %q", orcid.ErrInvalidORCID, profile.ID))
	}
	if profile.Name().IsZero() {
		return rep, bulkimport.InvalidProfile(job.SummaryPath, errors.New("profile has no name"))
	}

	r, err := s.Engine.ResolveResearcher(ctx, researcherFor(profile, ""))
	if err != nil {
		return rep, err
	}
	if !job.FetchPapers {
		return rep, nil
	}

	out := &Outcome{ORCID: profile.ID}
	report, err := s.Pipeline.Reconcile(ctx, reconcile.Run{
		Profile: profile,
		UserID:  r.UserID,
		UseDOI:  job.UseDOI,
		DumpDir: job.WorksDir,
	}, s.saver(ctx, r, out))
	rep.Papers = out.Papers
	if report != nil {
		rep.Skipped = len(report.Skipped)
	}
	var se *saveError
	if errors.As(err, &se) {
		return rep, se.err
	}
	if err != nil && !errors.Is(err, errLimit) {
		return rep, fmt.Errorf("reading works of %s: %w", profile.ID, err)
	}
	return rep, nil
}

func researcherFor(p *orcid.Profile, userID string) reference.Researcher {
	homepage := p.Homepage()
	if len(homepage) > MaxHomepageLength {
		homepage = homepage[:MaxHomepageLength]
	}
	return reference.Researcher{
		ORCID:    p.ID,
		Name:     p.Name(),
		Homepage: homepage,
		UserID:   userID,
	}
}
