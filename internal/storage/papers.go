package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/segmentio/encoding/json"

	"github.com/wetneb/dissemin/internal/catalog"
	"github.com/wetneb/dissemin/internal/reference"
)

// selectPaperFields contains the standard field list for paper queries.
const selectPaperFields = `id, fingerprint, title,
	pub_year, pub_month, pub_day,
	doctype, visibility, pdf_url, oa_status,
	authors_json, created_at, updated_at`

const selectRecordFields = `id, paper_id, source, identifier,
	doi, splash_url, pdf_url, pubtype, priority`

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanPaper(s scanner) (*reference.Paper, error) {
	var p reference.Paper
	var pubMonth, pubDay sql.NullInt64
	var pdfURL sql.NullString
	var doctype, visibility, authorsJSON string
	var createdAt, updatedAt int64

	err := s.Scan(
		&p.ID, &p.Fingerprint, &p.Title,
		&p.Published.Year, &pubMonth, &pubDay,
		&doctype, &visibility, &pdfURL, &p.OAStatus,
		&authorsJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, err
	}

	p.Published.Month = int(pubMonth.Int64)
	p.Published.Day = int(pubDay.Int64)
	p.DocType = reference.PubType(doctype)
	p.PDFURL = pdfURL.String
	p.CreatedAt = fromUnixMilli(createdAt)
	p.UpdatedAt = fromUnixMilli(updatedAt)

	if p.Visibility, err = reference.ParseVisibility(visibility); err != nil {
		return nil, fmt.Errorf("paper %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(authorsJSON), &p.Authors); err != nil {
		return nil, fmt.Errorf("parsing authors JSON for %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanRecord(s scanner) (reference.SourceRecord, error) {
	var r reference.SourceRecord
	var source, pubtype string
	var doi, splash, pdf sql.NullString
	err := s.Scan(&r.ID, &r.PaperID, &source, &r.Identifier, &doi, &splash, &pdf, &pubtype, &r.Priority)
	r.Source = reference.SourceKind(source)
	r.PubType = reference.PubType(pubtype)
	r.DOI = doi.String
	r.SplashURL = splash.String
	r.PDFURL = pdf.String
	return r, err
}

func (d *DB) paperWhere(ctx context.Context, where string, arg any) (*reference.Paper, error) {
	p, err := scanPaper(d.queryRow(ctx, `SELECT `+selectPaperFields+` FROM papers WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	if p.Records, err = d.records(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *DB) records(ctx context.Context, paperID string) ([]reference.SourceRecord, error) {
	rows, err := d.query(ctx, `SELECT `+selectRecordFields+` FROM records WHERE paper_id = ? ORDER BY id`, paperID)
	if err != nil {
		return nil, fmt.Errorf("loading records of %s: %w", paperID, err)
	}
	defer rows.Close()

	var records []reference.SourceRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PaperByID implements catalog.Store.
func (d *DB) PaperByID(ctx context.Context, id string) (*reference.Paper, error) {
	return d.paperWhere(ctx, `id = ?`, id)
}

// PaperByDOI implements catalog.Store.
func (d *DB) PaperByDOI(ctx context.Context, doi string) (*reference.Paper, error) {
	var paperID string
	err := d.queryRow(ctx, `SELECT paper_id FROM records WHERE doi = ? ORDER BY id LIMIT 1`, doi).Scan(&paperID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.PaperByID(ctx, paperID)
}

// PaperByFingerprint implements catalog.Store.
func (d *DB) PaperByFingerprint(ctx context.Context, fingerprint string) (*reference.Paper, error) {
	return d.paperWhere(ctx, `fingerprint = ?`, fingerprint)
}

// CreatePaper implements catalog.Store.
func (d *DB) CreatePaper(ctx context.Context, p *reference.Paper) error {
	authorsJSON, err := json.Marshal(p.Authors)
	if err != nil {
		return fmt.Errorf("marshaling authors for %s: %w", p.ID, err)
	}
	_, err = d.exec(ctx, `
		INSERT INTO papers (
			id, fingerprint, title,
			pub_year, pub_month, pub_day,
			doctype, visibility, pdf_url, oa_status,
			authors_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Fingerprint, p.Title,
		p.Published.Year, nullableInt(p.Published.Month), nullableInt(p.Published.Day),
		string(p.DocType), p.Visibility.String(), nullableString(p.PDFURL), p.OAStatus,
		string(authorsJSON), unixMilli(p.CreatedAt), unixMilli(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting paper %s: %w", p.ID, err)
	}
	return nil
}

// UpdatePaper implements catalog.Store.
func (d *DB) UpdatePaper(ctx context.Context, p *reference.Paper) error {
	authorsJSON, err := json.Marshal(p.Authors)
	if err != nil {
		return fmt.Errorf("marshaling authors for %s: %w", p.ID, err)
	}
	res, err := d.exec(ctx, `
		UPDATE papers SET
			title = ?, pub_year = ?, pub_month = ?, pub_day = ?,
			doctype = ?, visibility = ?, pdf_url = ?, oa_status = ?,
			authors_json = ?, updated_at = ?
		WHERE id = ?`,
		p.Title, p.Published.Year, nullableInt(p.Published.Month), nullableInt(p.Published.Day),
		string(p.DocType), p.Visibility.String(), nullableString(p.PDFURL), p.OAStatus,
		string(authorsJSON), unixMilli(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating paper %s: %w", p.ID, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("updating paper %s: %w", p.ID, err)
	}
	return nil
}

// AddRecords implements catalog.Store.
func (d *DB) AddRecords(ctx context.Context, paperID string, records []reference.SourceRecord) error {
	for _, r := range records {
		_, err := d.exec(ctx, `
			INSERT INTO records (
				paper_id, source, identifier,
				doi, splash_url, pdf_url, pubtype, priority
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (source, identifier) DO NOTHING`,
			paperID, string(r.Source), r.Identifier,
			nullableString(r.DOI), nullableString(r.SplashURL), nullableString(r.PDFURL),
			string(r.PubType), r.Priority,
		)
		if err != nil {
			return fmt.Errorf("inserting record %s for %s: %w", r.Identifier, paperID, err)
		}
	}
	return nil
}

// RepointRecords implements catalog.Store.
func (d *DB) RepointRecords(ctx context.Context, fromID, toID string) error {
	if _, err := d.exec(ctx, `UPDATE records SET paper_id = ? WHERE paper_id = ?`, toID, fromID); err != nil {
		return fmt.Errorf("repointing records of %s: %w", fromID, err)
	}
	return nil
}

// DeletePaper implements catalog.Store.
func (d *DB) DeletePaper(ctx context.Context, id string) error {
	if _, err := d.exec(ctx, `DELETE FROM records WHERE paper_id = ?`, id); err != nil {
		return fmt.Errorf("deleting records of %s: %w", id, err)
	}
	res, err := d.exec(ctx, `DELETE FROM papers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting paper %s: %w", id, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("deleting paper %s: %w", id, err)
	}
	return nil
}

// ResearcherByORCID implements catalog.Store.
func (d *DB) ResearcherByORCID(ctx context.Context, orcid string) (*reference.Researcher, error) {
	var r reference.Researcher
	var first, last, homepage, userID sql.NullString
	var empty sql.NullBool
	err := d.queryRow(ctx, `
		SELECT id, orcid, first_name, last_name, homepage, user_id, empty_orcid_profile
		FROM researchers WHERE orcid = ?`, orcid,
	).Scan(&r.ID, &r.ORCID, &first, &last, &homepage, &userID, &empty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading researcher %s: %w", orcid, err)
	}
	r.Name = reference.Name{First: first.String, Last: last.String}
	r.Homepage = homepage.String
	r.UserID = userID.String
	if empty.Valid {
		r.EmptyORCIDProfile = &empty.Bool
	}
	return &r, nil
}

// SaveResearcher implements catalog.Store.
func (d *DB) SaveResearcher(ctx context.Context, r *reference.Researcher) error {
	args := []any{
		nullableString(r.Name.First), nullableString(r.Name.Last),
		nullableString(r.Homepage), nullableString(r.UserID),
		nullableBool(r.EmptyORCIDProfile),
	}
	if r.ID == 0 {
		err := d.queryRow(ctx, `
			INSERT INTO researchers (first_name, last_name, homepage, user_id, empty_orcid_profile, orcid)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id`, append(args, r.ORCID)...,
		).Scan(&r.ID)
		if err != nil {
			return fmt.Errorf("inserting researcher %s: %w", r.ORCID, mapError(err))
		}
		return nil
	}

	res, err := d.exec(ctx, `
		UPDATE researchers SET
			first_name = ?, last_name = ?, homepage = ?, user_id = ?, empty_orcid_profile = ?
		WHERE id = ?`, append(args, r.ID)...,
	)
	if err != nil {
		return fmt.Errorf("updating researcher %s: %w", r.ORCID, err)
	}
	if err := affected(res); err != nil {
		return fmt.Errorf("updating researcher %s: %w", r.ORCID, err)
	}
	return nil
}

// Papers returns every paper with its records, ordered by ID.
func (d *DB) Papers(ctx context.Context) ([]reference.Paper, error) {
	rows, err := d.query(ctx, `SELECT `+selectPaperFields+` FROM papers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing papers: %w", err)
	}
	var papers []reference.Paper
	index := make(map[string]int)
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[p.ID] = len(papers)
		papers = append(papers, *p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = d.query(ctx, `SELECT `+selectRecordFields+` FROM records ORDER BY paper_id, id`)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[r.PaperID]; ok {
			papers[i].Records = append(papers[i].Records, r)
		}
	}
	return papers, rows.Err()
}

// Count returns the number of papers.
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.queryRow(ctx, `SELECT COUNT(*) FROM papers`).Scan(&count)
	return count, err
}

// Restore inserts papers with their records in one transaction. Papers
// whose ID or fingerprint already exists fail the whole restore.
func (d *DB) Restore(ctx context.Context, papers []reference.Paper) (int, error) {
	err := d.tx(ctx, func(tx *DB) error {
		for i := range papers {
			p := &papers[i]
			if err := tx.CreatePaper(ctx, p); err != nil {
				return err
			}
			if err := tx.AddRecords(ctx, p.ID, p.Records); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(papers), nil
}
