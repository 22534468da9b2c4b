// Package bulkimport streams an ORCID activities archive folder by folder,
// joins each folder with the matching summaries directory, and hands every
// profile to a ProfileHandler. Only one folder is ever extracted on disk.
package bulkimport

import (
	"context"
	"errors"
	"fmt"

	"github.com/wetneb/dissemin/internal/orcid"
)

// ProfileJob is the unit of work handed to a ProfileHandler.
type ProfileJob struct {
	Folder      string
	SummaryPath string
	Profile     *orcid.Profile

	// WorksDir holds the profile's extracted work files. It may not exist
	// when the archive has no works for the profile.
	WorksDir string

	FetchPapers bool
	UseDOI      bool
}

// ProfileReport summarizes what a handler did with one profile.
type ProfileReport struct {
	Papers  int
	Skipped int
}

// ProfileHandler imports one profile. Returning a ProfileError of kind
// KindInvalidProfile skips the profile; any other error is unexpected.
type ProfileHandler interface {
	HandleProfile(ctx context.Context, job ProfileJob) (ProfileReport, error)
}

// ProfileHandlerFunc adapts a function to ProfileHandler.
type ProfileHandlerFunc func(ctx context.Context, job ProfileJob) (ProfileReport, error)

// HandleProfile implements ProfileHandler.
func (f ProfileHandlerFunc) HandleProfile(ctx context.Context, job ProfileJob) (ProfileReport, error) {
	return f(ctx, job)
}

// ErrorKind classifies profile failures.
type ErrorKind int

const (
	// KindInvalidProfile covers malformed or incomplete summary files.
	// The profile is logged and skipped.
	KindInvalidProfile ErrorKind = iota + 1
	// KindUnexpected covers every other failure. The Policy decides
	// whether it aborts the run.
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidProfile:
		return "invalid profile"
	case KindUnexpected:
		return "unexpected error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ProfileError reports the failure of one profile.
type ProfileError struct {
	Kind  ErrorKind
	Path  string
	ORCID string
	Err   error
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *ProfileError) Unwrap() error {
	return e.Err
}

// InvalidProfile wraps err as a KindInvalidProfile error.
func InvalidProfile(path string, err error) error {
	return &ProfileError{Kind: KindInvalidProfile, Path: path, Err: err}
}

// IsInvalidProfile reports whether err marks a profile to skip.
func IsInvalidProfile(err error) bool {
	var pe *ProfileError
	return errors.As(err, &pe) && pe.Kind == KindInvalidProfile
}

// Policy decides what an unexpected profile error does to the run.
type Policy string

const (
	PolicyAbort    Policy = "abort"
	PolicyContinue Policy = "continue"
)

// ParsePolicy parses a policy name. The empty string means PolicyAbort.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyAbort:
		return PolicyAbort, nil
	case PolicyContinue:
		return PolicyContinue, nil
	}
	return "", fmt.Errorf("unknown error policy %q (want %s or %s)", s, PolicyAbort, PolicyContinue)
}

// Stats counts what a run did.
type Stats struct {
	FoldersSeen     int `json:"folders_seen"`
	FoldersSkipped  int `json:"folders_skipped"`
	FoldersImported int `json:"folders_imported"`
	Profiles        int `json:"profiles"`
	InvalidProfiles int `json:"invalid_profiles"`
	FailedProfiles  int `json:"failed_profiles"`
	Papers          int `json:"papers"`
	SkippedWorks    int `json:"skipped_works"`
}
