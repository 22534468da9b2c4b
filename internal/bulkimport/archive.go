package bulkimport

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Entry is one member of an archive stream. Body is only valid until the
// next call to Next.
type Entry struct {
	Name string
	Dir  bool
	Body io.Reader
}

// EntryStream yields archive members in archive order. Next returns io.EOF
// after the last entry.
type EntryStream interface {
	Next() (Entry, error)
}

type tarStream struct {
	tr *tar.Reader
}

// NewTarStream reads entries from an uncompressed tar stream. Members
// other than directories and regular files are skipped.
func NewTarStream(r io.Reader) EntryStream {
	return &tarStream{tr: tar.NewReader(r)}
}

func (s *tarStream) Next() (Entry, error) {
	for {
		hdr, err := s.tr.Next()
		if err != nil {
			return Entry{}, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			return Entry{Name: hdr.Name, Dir: true}, nil
		case tar.TypeReg:
			return Entry{Name: hdr.Name, Body: s.tr}, nil
		}
	}
}

// ArchiveError reports an archive or filesystem failure. It is fatal for
// the folder being imported.
type ArchiveError struct {
	Folder string
	Op     string
	Err    error
}

func (e *ArchiveError) Error() string {
	if e.Folder == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("folder %s: %s: %v", e.Folder, e.Op, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// IsArchiveError reports whether err carries an ArchiveError.
func IsArchiveError(err error) bool {
	var ae *ArchiveError
	return errors.As(err, &ae)
}

// OpenArchive opens a compressed tar archive. The decompressor is chosen
// by suffix: pgzip for .gz and .tgz, zstd for .zst, none for .tar.
func OpenArchive(path string) (EntryStream, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &ArchiveError{Op: "opening archive", Err: err}
	}

	var r io.Reader
	closers := closerList{f}
	switch {
	case strings.HasSuffix(path, ".gz"), strings.HasSuffix(path, ".tgz"):
		zr, err := pgzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, &ArchiveError{Op: "reading gzip header", Err: err}
		}
		r = zr
		closers = append(closerList{zr}, closers...)
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, &ArchiveError{Op: "opening zstd stream", Err: err}
		}
		r = zr
		closers = append(closerList{zr.IOReadCloser()}, closers...)
	case strings.HasSuffix(path, ".tar"):
		r = f
	default:
		f.Close()
		return nil, nil, &ArchiveError{Op: "opening archive", Err: fmt.Errorf("unsupported archive format: %s", path)}
	}
	return NewTarStream(r), closers, nil
}

// closerList closes every member in order and returns the first error.
type closerList []io.Closer

func (c closerList) Close() error {
	var first error
	for _, cl := range c {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
