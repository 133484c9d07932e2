package service

import (
	"context"
	"sort"
	"sync"

	"github.com/arturkryukov/fileprocessing/internal/domain/model"
	"github.com/arturkryukov/fileprocessing/internal/domain/scan"
	"github.com/arturkryukov/fileprocessing/internal/repository"
	"github.com/arturkryukov/fileprocessing/internal/scanner"
)

// fakeRepo — in-memory реализация FileRepository для тестов.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*model.FileRecord // ключ — uuid

	// Инъекция ошибок
	createErr    error
	setStatusErr error
	listErr      error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*model.FileRecord)}
}

func (r *fakeRepo) add(record *model.FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.records[record.UUID] = &cp
}

func (r *fakeRepo) get(uuid string) *model.FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[uuid]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

func (r *fakeRepo) Create(_ context.Context, f *model.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, rec := range r.records {
		if rec.Checksum == f.Checksum || rec.FileStorageName == f.FileStorageName {
			return repository.ErrConflict
		}
	}
	cp := *f
	r.records[f.UUID] = &cp
	return nil
}

func (r *fakeRepo) GetByChecksum(_ context.Context, checksum string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Checksum == checksum {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) GetByStorageName(_ context.Context, storageName string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.FileStorageName == storageName {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) GetOwned(_ context.Context, uuid, ownerID string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[uuid]
	if !ok || rec.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRepo) ListVisible(_ context.Context, ownerID string) ([]*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FileRecord
	for _, rec := range r.records {
		if rec.OwnerID == ownerID || rec.Visibility == model.VisibilityPublic {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (r *fakeRepo) ListByScanStatus(_ context.Context, status scan.Status, limit, offset int) ([]*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var matched []*model.FileRecord
	for _, rec := range r.records {
		if rec.ScanStatus == status {
			cp := *rec
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UUID < matched[j].UUID })
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *fakeRepo) SetScanStatus(_ context.Context, storageName string, status scan.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setStatusErr != nil {
		return r.setStatusErr
	}
	for _, rec := range r.records {
		if rec.FileStorageName == storageName {
			rec.ScanStatus = status
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeRepo) SetVisibility(_ context.Context, uuid, ownerID string, v model.Visibility) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[uuid]
	if !ok || rec.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	rec.Visibility = v
	cp := *rec
	return &cp, nil
}

func (r *fakeRepo) Delete(_ context.Context, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[uuid]; !ok {
		return repository.ErrNotFound
	}
	delete(r.records, uuid)
	return nil
}

func (r *fakeRepo) ExistsByStorageName(_ context.Context, storageName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.FileStorageName == storageName {
			return true, nil
		}
	}
	return false, nil
}

// fakePublisher собирает опубликованные задания.
type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, filePath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, filePath)
	return nil
}

func (p *fakePublisher) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.published...)
}

// fakeScanner — управляемый клиент сканера.
type fakeScanner struct {
	mu sync.Mutex

	submitErr   error
	analysisURL string
	submits     int

	// analyses возвращаются по очереди; последний повторяется
	analyses    []scanner.Analysis
	analysisErr error
	polls       int
}

func (s *fakeScanner) Submit(_ context.Context, filePath string, size int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	if s.submitErr != nil {
		return "", s.submitErr
	}
	if s.analysisURL == "" {
		return "https://scanner.test/analyses/1", nil
	}
	return s.analysisURL, nil
}

func (s *fakeScanner) GetAnalysis(_ context.Context, _ string) (scanner.Analysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysisErr != nil {
		return scanner.Analysis{}, s.analysisErr
	}
	idx := s.polls
	if idx >= len(s.analyses) {
		idx = len(s.analyses) - 1
	}
	s.polls++
	if idx < 0 {
		return scanner.Analysis{Status: "queued"}, nil
	}
	return s.analyses[idx], nil
}

// fakeCompressor возвращает заранее подготовленный архив.
type fakeCompressor struct {
	archive string
	err     error
	calls   int
}

func (c *fakeCompressor) Compress(paths ...string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.archive, nil
}
