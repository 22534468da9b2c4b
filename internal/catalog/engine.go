package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/wetneb/dissemin/internal/fingerprint"
	"github.com/wetneb/dissemin/internal/name"
	"github.com/wetneb/dissemin/internal/reference"
)

// Availability statuses.
const (
	OAStatusOpen    = "OA"
	OAStatusUnknown = "UNK"
)

// Engine is the single writer of catalog papers.
type Engine struct {
	store  Store
	locks  *keyedMutex
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine creates an engine over store. A nil logger means
// slog.Default().
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		locks:  newKeyedMutex(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Store returns the underlying store.
func (e *Engine) Store() Store {
	return e.store
}

// Upsert resolves p against the catalog by DOI, then by fingerprint, and
// creates it when neither matches. A matched paper gains p's records and
// missing author ORCIDs; its visibility only moves from CANDIDATE to
// VISIBLE. Concurrent upserts of the same identity create one paper.
func (e *Engine) Upsert(ctx context.Context, p *reference.Paper) (*reference.Paper, UpsertOutcome, error) {
	if p.Fingerprint == "" {
		p.Fingerprint = fingerprint.Key(p.Title, p.AuthorNames(), p.Year(), p.Published.Time())
	}
	doi := p.DOI()
	unlock := e.locks.lock(lockKey("doi", doi), lockKey("fp", p.Fingerprint))
	defer unlock()

	var (
		result  *reference.Paper
		outcome UpsertOutcome
	)
	upsert := func(s Store) error {
		existing, how, err := lookup(ctx, s, doi, p.Fingerprint)
		if err != nil {
			return err
		}
		if existing != nil {
			if err := e.absorb(ctx, s, existing, p); err != nil {
				return err
			}
			result, outcome = existing, how
			return nil
		}
		created, err := e.create(ctx, s, p)
		if err != nil {
			return err
		}
		result, outcome = created, OutcomeCreated
		return nil
	}

	err := e.store.InTx(ctx, upsert)
	if errors.Is(err, ErrDuplicate) {
		// Another writer created the same identity; it is now visible to
		// the lookup.
		e.logger.Debug("create conflict, retrying upsert", "fingerprint", p.Fingerprint, "doi", doi)
		err = e.store.InTx(ctx, upsert)
	}
	if err != nil {
		return nil, "", fmt.Errorf("upserting %q: %w", p.Title, err)
	}
	return result, outcome, nil
}

func lockKey(kind, key string) string {
	if key == "" {
		return ""
	}
	return kind + ":" + key
}

func lookup(ctx context.Context, s Store, doi, fp string) (*reference.Paper, UpsertOutcome, error) {
	if doi != "" {
		p, err := s.PaperByDOI(ctx, doi)
		switch {
		case err == nil:
			return p, OutcomeMatchedDOI, nil
		case !errors.Is(err, ErrNotFound):
			return nil, "", fmt.Errorf("looking up DOI %s: %w", doi, err)
		}
	}
	p, err := s.PaperByFingerprint(ctx, fp)
	switch {
	case err == nil:
		return p, OutcomeMatchedFingerprint, nil
	case errors.Is(err, ErrNotFound):
		return nil, "", nil
	default:
		return nil, "", fmt.Errorf("looking up fingerprint %s: %w", fp, err)
	}
}

func (e *Engine) create(ctx context.Context, s Store, p *reference.Paper) (*reference.Paper, error) {
	created := *p
	created.ID = e.newID()
	created.Authors = slices.Clone(p.Authors)
	created.Records = withPaperID(p.Records, created.ID)
	created.CreatedAt = e.now()
	created.UpdatedAt = created.CreatedAt
	UpdateAvailability(&created)

	if err := s.CreatePaper(ctx, &created); err != nil {
		return nil, err
	}
	if err := s.AddRecords(ctx, created.ID, created.Records); err != nil {
		return nil, err
	}
	return &created, nil
}

// absorb folds an incoming duplicate into an existing paper.
func (e *Engine) absorb(ctx context.Context, s Store, existing, incoming *reference.Paper) error {
	if existing.Visibility == reference.VisibilityCandidate && incoming.Visibility == reference.VisibilityVisible {
		existing.Visibility = reference.VisibilityVisible
	}
	unifyAuthors(existing, incoming.Authors, false)

	if err := s.AddRecords(ctx, existing.ID, incoming.Records); err != nil {
		return err
	}
	existing.Records = mergeRecords(existing.Records, withPaperID(incoming.Records, existing.ID))
	UpdateAvailability(existing)
	existing.UpdatedAt = e.now()
	return s.UpdatePaper(ctx, existing)
}

// Merge folds secondary into primary: records are repointed, the highest
// visibility wins, and secondary is deleted. Primary authors keep their
// order; secondary authors with no match in primary are appended.
func (e *Engine) Merge(ctx context.Context, primaryID, secondaryID string) (*reference.Paper, error) {
	if primaryID == secondaryID {
		return e.store.PaperByID(ctx, primaryID)
	}
	unlock := e.locks.lock(lockKey("paper", primaryID), lockKey("paper", secondaryID))
	defer unlock()

	var merged *reference.Paper
	err := e.store.InTx(ctx, func(s Store) error {
		primary, err := s.PaperByID(ctx, primaryID)
		if err != nil {
			return fmt.Errorf("loading %s: %w", primaryID, err)
		}
		secondary, err := s.PaperByID(ctx, secondaryID)
		if err != nil {
			return fmt.Errorf("loading %s: %w", secondaryID, err)
		}

		if err := s.RepointRecords(ctx, secondary.ID, primary.ID); err != nil {
			return err
		}
		primary.Records = mergeRecords(primary.Records, withPaperID(secondary.Records, primary.ID))
		primary.Visibility = reference.MaxVisibility(primary.Visibility, secondary.Visibility)
		unifyAuthors(primary, secondary.Authors, true)

		if err := s.DeletePaper(ctx, secondary.ID); err != nil {
			return err
		}
		UpdateAvailability(primary)
		primary.UpdatedAt = e.now()
		if err := s.UpdatePaper(ctx, primary); err != nil {
			return err
		}
		merged = primary
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merging %s into %s: %w", secondaryID, primaryID, err)
	}
	e.logger.Info("merged papers", "primary", primaryID, "secondary", secondaryID)
	return merged, nil
}

// unifyAuthors copies identity links from others onto the matching authors
// of p. Authors are matched by name similarity; unmatched ones are appended
// when appendUnmatched is set.
func unifyAuthors(p *reference.Paper, others []reference.Author, appendUnmatched bool) {
	for _, o := range others {
		i, ok := name.MostSimilar(o.Name, p.AuthorNames())
		if !ok {
			if appendUnmatched {
				p.Authors = append(p.Authors, o)
			}
			continue
		}
		a := &p.Authors[i]
		if a.ORCID == "" {
			a.ORCID = o.ORCID
		}
		if a.ResearcherID == 0 {
			a.ResearcherID = o.ResearcherID
		}
		if a.Affiliation == "" {
			a.Affiliation = o.Affiliation
		}
	}
}

func withPaperID(records []reference.SourceRecord, id string) []reference.SourceRecord {
	out := make([]reference.SourceRecord, len(records))
	for i, r := range records {
		r.PaperID = id
		out[i] = r
	}
	return out
}

// mergeRecords appends the records of extra not already in base.
func mergeRecords(base, extra []reference.SourceRecord) []reference.SourceRecord {
	type key struct {
		source reference.SourceKind
		id     string
	}
	seen := make(map[key]bool, len(base))
	for _, r := range base {
		seen[key{r.Source, r.Identifier}] = true
	}
	for _, r := range extra {
		k := key{r.Source, r.Identifier}
		if seen[k] {
			continue
		}
		seen[k] = true
		base = append(base, r)
	}
	return base
}

// UpdateAvailability recomputes the fields derived from the records: the
// PDF URL and document type of the highest-priority records, and the OA
// status.
func UpdateAvailability(p *reference.Paper) {
	records := slices.Clone(p.Records)
	slices.SortStableFunc(records, func(a, b reference.SourceRecord) int {
		return cmp.Compare(b.Priority, a.Priority)
	})

	p.PDFURL = ""
	p.OAStatus = OAStatusUnknown
	for _, r := range records {
		if r.PDFURL != "" {
			p.PDFURL = r.PDFURL
			p.OAStatus = OAStatusOpen
			break
		}
	}
	if len(records) > 0 && records[0].PubType != "" {
		p.DocType = records[0].PubType
	}
}

// SavePaper upserts p after linking the authors carrying the researcher's
// ORCID to the researcher. A researcher gaining a paper no longer has an
// empty ORCID profile.
func (e *Engine) SavePaper(ctx context.Context, p *reference.Paper, r *reference.Researcher) (*reference.Paper, UpsertOutcome, error) {
	linked := false
	if r != nil && r.ORCID != "" {
		for i := range p.Authors {
			if p.Authors[i].ORCID == r.ORCID {
				p.Authors[i].ResearcherID = r.ID
				linked = true
			}
		}
	}

	saved, outcome, err := e.Upsert(ctx, p)
	if err != nil {
		return nil, "", err
	}
	if linked {
		if err := e.SetEmptyORCIDProfile(ctx, r, false); err != nil {
			return saved, outcome, err
		}
	}
	return saved, outcome, nil
}

// SetEmptyORCIDProfile records whether the researcher's ORCID profile
// yields papers. The researcher is only written when the flag changes.
func (e *Engine) SetEmptyORCIDProfile(ctx context.Context, r *reference.Researcher, empty bool) error {
	if r.EmptyORCIDProfile != nil && *r.EmptyORCIDProfile == empty {
		return nil
	}
	r.EmptyORCIDProfile = &empty
	if err := e.store.SaveResearcher(ctx, r); err != nil {
		return fmt.Errorf("updating researcher %s: %w", r.ORCID, err)
	}
	return nil
}

// ResolveResearcher returns the researcher of r.ORCID, creating it when
// needed. An existing researcher gets r's name, homepage and owning user
// when those are set.
func (e *Engine) ResolveResearcher(ctx context.Context, r reference.Researcher) (*reference.Researcher, error) {
	if r.ORCID == "" {
		return nil, errors.New("researcher without ORCID")
	}
	unlock := e.locks.lock(lockKey("orcid", r.ORCID))
	defer unlock()

	existing, err := e.store.ResearcherByORCID(ctx, r.ORCID)
	switch {
	case errors.Is(err, ErrNotFound):
		created := r
		created.ID = 0
		if err := e.store.SaveResearcher(ctx, &created); err != nil {
			return nil, fmt.Errorf("creating researcher %s: %w", r.ORCID, err)
		}
		return &created, nil
	case err != nil:
		return nil, fmt.Errorf("looking up researcher %s: %w", r.ORCID, err)
	}

	if !r.Name.IsZero() {
		existing.Name = r.Name
	}
	if r.Homepage != "" {
		existing.Homepage = r.Homepage
	}
	if r.UserID != "" && existing.UserID == "" {
		existing.UserID = r.UserID
	}
	if err := e.store.SaveResearcher(ctx, existing); err != nil {
		return nil, fmt.Errorf("updating researcher %s: %w", r.ORCID, err)
	}
	return existing, nil
}
