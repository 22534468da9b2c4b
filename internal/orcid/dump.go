package orcid

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// DumpSource reads works from an extracted activities dump, where each work
// is stored as {orcid}_works_{putcode}.xml.
type DumpSource struct {
	Dir    string
	Logger *slog.Logger
}

// WorkPath returns the dump file of a work.
func (d DumpSource) WorkPath(orcid string, putCode int64) string {
	return filepath.Join(d.Dir, fmt.Sprintf("%s_works_%d.xml", orcid, putCode))
}

// FetchWorks reads the requested works. Missing files are skipped; so are
// unparseable ones, with a warning.
func (d DumpSource) FetchWorks(ctx context.Context, p *Profile, putCodes []int64) ([]Work, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	works := make([]Work, 0, len(putCodes))
	for _, pc := range putCodes {
		if err := ctx.Err(); err != nil {
			return works, err
		}
		path := d.WorkPath(p.ID, pc)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Debug("work missing from dump", "orcid", p.ID, "put_code", pc)
				continue
			}
			return works, fmt.Errorf("reading %s: %w", path, err)
		}
		w, err := ParseXMLWork(data)
		if err != nil {
			logger.Warn("unparseable work in dump", "path", path, "error", err)
			continue
		}
		works = append(works, w)
	}
	return works, nil
}
