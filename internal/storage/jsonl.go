package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/segmentio/encoding/json"

	"github.com/wetneb/dissemin/internal/reference"
)

// MaxJSONLLineCapacity is the maximum buffer size for reading JSONL lines
// (4MB per line; large author lists make long papers).
const MaxJSONLLineCapacity = 4 * 1024 * 1024

// ReadJSONL reads one paper per line. Empty lines are skipped.
func ReadJSONL(r io.Reader) ([]reference.Paper, error) {
	var papers []reference.Paper
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxJSONLLineCapacity)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var p reference.Paper
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, fmt.Errorf("parsing line %d: %w", lineNum, err)
		}
		papers = append(papers, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading papers: %w", err)
	}
	return papers, nil
}

// WriteJSONL writes one paper per line.
func WriteJSONL(w io.Writer, papers []reference.Paper) error {
	bw := bufio.NewWriter(w)
	for i, p := range papers {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding paper %d: %w", i, err)
		}
		if _, err := bw.Write(data); err != nil {
			return fmt.Errorf("writing paper %d: %w", i, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	return bw.Flush()
}

// ReadAll reads all papers from a JSONL file. A missing file holds no
// paper.
func ReadAll(path string) ([]reference.Paper, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening papers file: %w", err)
	}
	defer f.Close()
	return ReadJSONL(f)
}

// WriteAll writes all papers to a JSONL file, replacing existing content.
func WriteAll(path string, papers []reference.Paper) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating papers file: %w", err)
	}
	if err := WriteJSONL(f, papers); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
