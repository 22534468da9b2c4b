package catalog

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/wetneb/dissemin/internal/reference"
)

// MemoryStore is an in-process Store. Transactions hold an exclusive lock
// and restore a snapshot on error.
type MemoryStore struct {
	mu          sync.Mutex
	papers      map[string]reference.Paper
	records     []reference.SourceRecord
	researchers map[string]reference.Researcher
	nextID      int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		papers:      make(map[string]reference.Paper),
		researchers: make(map[string]reference.Researcher),
	}
}

// memoryTx is the view of a MemoryStore inside InTx; the lock is held.
type memoryTx struct{ m *MemoryStore }

func (m *MemoryStore) do(fn func(t memoryTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memoryTx{m})
}

// InTx implements Store.
func (m *MemoryStore) InTx(ctx context.Context, fn func(Store) error) error {
	return m.do(func(t memoryTx) error {
		papers := maps.Clone(m.papers)
		records := slices.Clone(m.records)
		researchers := maps.Clone(m.researchers)
		nextID := m.nextID
		if err := fn(t); err != nil {
			m.papers, m.records, m.researchers, m.nextID = papers, records, researchers, nextID
			return err
		}
		return nil
	})
}

// Papers returns every paper, ordered by ID.
func (m *MemoryStore) Papers() []reference.Paper {
	var out []reference.Paper
	_ = m.do(func(t memoryTx) error {
		for _, id := range slices.Sorted(maps.Keys(m.papers)) {
			p, _ := t.paper(id)
			out = append(out, *p)
		}
		return nil
	})
	return out
}

func (m *MemoryStore) PaperByID(ctx context.Context, id string) (p *reference.Paper, err error) {
	err = m.do(func(t memoryTx) error { p, err = t.PaperByID(ctx, id); return err })
	return p, err
}

func (m *MemoryStore) PaperByDOI(ctx context.Context, doi string) (p *reference.Paper, err error) {
	err = m.do(func(t memoryTx) error { p, err = t.PaperByDOI(ctx, doi); return err })
	return p, err
}

func (m *MemoryStore) PaperByFingerprint(ctx context.Context, fp string) (p *reference.Paper, err error) {
	err = m.do(func(t memoryTx) error { p, err = t.PaperByFingerprint(ctx, fp); return err })
	return p, err
}

func (m *MemoryStore) CreatePaper(ctx context.Context, p *reference.Paper) error {
	return m.do(func(t memoryTx) error { return t.CreatePaper(ctx, p) })
}

func (m *MemoryStore) UpdatePaper(ctx context.Context, p *reference.Paper) error {
	return m.do(func(t memoryTx) error { return t.UpdatePaper(ctx, p) })
}

func (m *MemoryStore) AddRecords(ctx context.Context, paperID string, records []reference.SourceRecord) error {
	return m.do(func(t memoryTx) error { return t.AddRecords(ctx, paperID, records) })
}

func (m *MemoryStore) RepointRecords(ctx context.Context, fromID, toID string) error {
	return m.do(func(t memoryTx) error { return t.RepointRecords(ctx, fromID, toID) })
}

func (m *MemoryStore) DeletePaper(ctx context.Context, id string) error {
	return m.do(func(t memoryTx) error { return t.DeletePaper(ctx, id) })
}

func (m *MemoryStore) ResearcherByORCID(ctx context.Context, orcid string) (r *reference.Researcher, err error) {
	err = m.do(func(t memoryTx) error { r, err = t.ResearcherByORCID(ctx, orcid); return err })
	return r, err
}

func (m *MemoryStore) SaveResearcher(ctx context.Context, r *reference.Researcher) error {
	return m.do(func(t memoryTx) error { return t.SaveResearcher(ctx, r) })
}

func (t memoryTx) paper(id string) (*reference.Paper, error) {
	p, ok := t.m.papers[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Authors = slices.Clone(p.Authors)
	p.Records = nil
	for _, r := range t.m.records {
		if r.PaperID == id {
			p.Records = append(p.Records, r)
		}
	}
	return &p, nil
}

func (t memoryTx) PaperByID(_ context.Context, id string) (*reference.Paper, error) {
	return t.paper(id)
}

func (t memoryTx) PaperByDOI(_ context.Context, doi string) (*reference.Paper, error) {
	for _, r := range t.m.records {
		if r.DOI == doi {
			return t.paper(r.PaperID)
		}
	}
	return nil, ErrNotFound
}

func (t memoryTx) PaperByFingerprint(_ context.Context, fp string) (*reference.Paper, error) {
	for id, p := range t.m.papers {
		if p.Fingerprint == fp {
			return t.paper(id)
		}
	}
	return nil, ErrNotFound
}

func (t memoryTx) CreatePaper(_ context.Context, p *reference.Paper) error {
	if _, ok := t.m.papers[p.ID]; ok {
		return ErrDuplicate
	}
	for _, other := range t.m.papers {
		if other.Fingerprint == p.Fingerprint {
			return ErrDuplicate
		}
	}
	stored := *p
	stored.Authors = slices.Clone(p.Authors)
	stored.Records = nil
	t.m.papers[p.ID] = stored
	return nil
}

func (t memoryTx) UpdatePaper(_ context.Context, p *reference.Paper) error {
	if _, ok := t.m.papers[p.ID]; !ok {
		return ErrNotFound
	}
	stored := *p
	stored.Authors = slices.Clone(p.Authors)
	stored.Records = nil
	t.m.papers[p.ID] = stored
	return nil
}

func (t memoryTx) AddRecords(_ context.Context, paperID string, records []reference.SourceRecord) error {
	if _, ok := t.m.papers[paperID]; !ok {
		return ErrNotFound
	}
	for _, r := range records {
		exists := slices.ContainsFunc(t.m.records, func(o reference.SourceRecord) bool {
			return o.Source == r.Source && o.Identifier == r.Identifier
		})
		if exists {
			continue
		}
		t.m.nextID++
		r.ID = t.m.nextID
		r.PaperID = paperID
		t.m.records = append(t.m.records, r)
	}
	return nil
}

func (t memoryTx) RepointRecords(_ context.Context, fromID, toID string) error {
	for i := range t.m.records {
		if t.m.records[i].PaperID == fromID {
			t.m.records[i].PaperID = toID
		}
	}
	return nil
}

func (t memoryTx) DeletePaper(_ context.Context, id string) error {
	if _, ok := t.m.papers[id]; !ok {
		return ErrNotFound
	}
	delete(t.m.papers, id)
	t.m.records = slices.DeleteFunc(t.m.records, func(r reference.SourceRecord) bool {
		return r.PaperID == id
	})
	return nil
}

func (t memoryTx) ResearcherByORCID(_ context.Context, orcid string) (*reference.Researcher, error) {
	r, ok := t.m.researchers[orcid]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t memoryTx) SaveResearcher(_ context.Context, r *reference.Researcher) error {
	if r.ID == 0 {
		if _, ok := t.m.researchers[r.ORCID]; ok {
			return ErrDuplicate
		}
		t.m.nextID++
		r.ID = t.m.nextID
	}
	t.m.researchers[r.ORCID] = *r
	return nil
}

// InTx runs fn in the enclosing transaction.
func (t memoryTx) InTx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}
