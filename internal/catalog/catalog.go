// Package catalog maintains the deduplicated paper catalog: it decides
// whether an incoming paper is new or a duplicate of an existing entry,
// and merges entries found to describe the same work.
package catalog

import (
	"context"
	"errors"

	"github.com/wetneb/dissemin/internal/reference"
)

var (
	// ErrNotFound indicates no paper or researcher matches the lookup.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a create conflicted with an existing
	// fingerprint, record or ORCID.
	ErrDuplicate = errors.New("duplicate catalog entry")
)

// Store is the persistence contract of the catalog. Lookups return papers
// with their records loaded, or ErrNotFound.
type Store interface {
	PaperByID(ctx context.Context, id string) (*reference.Paper, error)
	PaperByDOI(ctx context.Context, doi string) (*reference.Paper, error)
	PaperByFingerprint(ctx context.Context, fingerprint string) (*reference.Paper, error)

	// CreatePaper inserts p without its records. It returns ErrDuplicate
	// when the fingerprint is taken.
	CreatePaper(ctx context.Context, p *reference.Paper) error
	// UpdatePaper rewrites the metadata, visibility and availability of p.
	UpdatePaper(ctx context.Context, p *reference.Paper) error
	// AddRecords attaches records to a paper. A record whose (source,
	// identifier) already exists is left untouched.
	AddRecords(ctx context.Context, paperID string, records []reference.SourceRecord) error
	// RepointRecords moves every record of one paper to another.
	RepointRecords(ctx context.Context, fromID, toID string) error
	DeletePaper(ctx context.Context, id string) error

	ResearcherByORCID(ctx context.Context, orcid string) (*reference.Researcher, error)
	// SaveResearcher inserts r when r.ID is zero, and updates it otherwise.
	SaveResearcher(ctx context.Context, r *reference.Researcher) error

	// InTx runs fn against a store whose changes commit together.
	InTx(ctx context.Context, fn func(Store) error) error
}

// UpsertOutcome tells how Upsert resolved a paper.
type UpsertOutcome string

const (
	OutcomeCreated            UpsertOutcome = "created"
	OutcomeMatchedDOI         UpsertOutcome = "matched_doi"
	OutcomeMatchedFingerprint UpsertOutcome = "matched_fingerprint"
)
