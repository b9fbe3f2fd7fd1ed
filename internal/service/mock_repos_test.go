package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/noorqidam/satam-kahiji-sub002/internal/model"
	"github.com/noorqidam/satam-kahiji-sub002/internal/repository"
)

var errMockStoreDown = errors.New("mock store down")

// ── Mock StaffRepository ──

type mockStaffRepo struct {
	staff map[uint]*model.Staff
	err   error
}

func newMockStaffRepo(staff ...*model.Staff) *mockStaffRepo {
	m := &mockStaffRepo{staff: make(map[uint]*model.Staff)}
	for _, s := range staff {
		if s.AssignmentVersion == 0 {
			s.AssignmentVersion = 1
		}
		m.staff[s.ID] = s
	}
	return m
}

func (m *mockStaffRepo) GetByID(_ context.Context, id uint) (*model.Staff, error) {
	if m.err != nil {
		return nil, m.err
	}
	if s, ok := m.staff[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockStaffRepo) ListByIDs(_ context.Context, ids []uint) ([]model.Staff, error) {
	if m.err != nil {
		return nil, m.err
	}
	var result []model.Staff
	for _, id := range ids {
		if s, ok := m.staff[id]; ok {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (m *mockStaffRepo) List(ctx context.Context, filter repository.StaffFilter, offset, limit int) ([]model.Staff, int64, error) {
	all, err := m.ListAll(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Staff{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *mockStaffRepo) ListAll(_ context.Context, filter repository.StaffFilter) ([]model.Staff, error) {
	if m.err != nil {
		return nil, m.err
	}
	var result []model.Staff
	for _, s := range m.staff {
		if filter.Division != "" && !strings.EqualFold(s.Division, filter.Division) {
			continue
		}
		if len(filter.PositionKeywords) > 0 && !containsAny(s.Position, filter.PositionKeywords) {
			continue
		}
		if filter.Search != "" && !containsAny(s.Name+" "+s.Position+" "+s.Division, []string{filter.Search}) {
			continue
		}
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func containsAny(s string, keywords []string) bool {
	s = strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// ── Mock SubjectRepository ──

type mockSubjectRepo struct {
	subjects map[uint]*model.Subject
	// assignments 用于 CountStaff，与 mockAssignmentRepo 共享
	assignments *mockAssignmentRepo
	countErr    error
}

func newMockSubjectRepo(assignments *mockAssignmentRepo, subjects ...*model.Subject) *mockSubjectRepo {
	m := &mockSubjectRepo{subjects: make(map[uint]*model.Subject), assignments: assignments}
	for _, s := range subjects {
		m.subjects[s.ID] = s
	}
	return m
}

func (m *mockSubjectRepo) sorted() []model.Subject {
	result := make([]model.Subject, 0, len(m.subjects))
	for _, s := range m.subjects {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (m *mockSubjectRepo) List(_ context.Context, search string, offset, limit int) ([]model.Subject, int64, error) {
	var matched []model.Subject
	for _, s := range m.sorted() {
		code := ""
		if s.Code != nil {
			code = *s.Code
		}
		if search != "" && !containsAny(s.Name+" "+code, []string{search}) {
			continue
		}
		matched = append(matched, s)
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return []model.Subject{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *mockSubjectRepo) ListAll(_ context.Context) ([]model.Subject, error) {
	return m.sorted(), nil
}

func (m *mockSubjectRepo) ListByIDs(_ context.Context, ids []uint) ([]model.Subject, error) {
	var result []model.Subject
	for _, id := range ids {
		if s, ok := m.subjects[id]; ok {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (m *mockSubjectRepo) CountStaff(_ context.Context, subjectIDs []uint) (map[uint]int64, error) {
	if m.countErr != nil {
		return nil, m.countErr
	}
	counts := make(map[uint]int64, len(subjectIDs))
	m.assignments.mu.Lock()
	defer m.assignments.mu.Unlock()
	for _, set := range m.assignments.sets {
		for _, id := range subjectIDs {
			if _, ok := set[id]; ok {
				counts[id]++
			}
		}
	}
	return counts, nil
}

// ── Mock SubjectAssignmentRepository ──

type mockAssignmentRepo struct {
	mu       sync.Mutex
	sets     map[uint]map[uint]struct{}
	versions map[uint]int
	// failOn staffID → 该教职工的事务在写入时失败
	failOn  map[uint]bool
	listErr error
	txs     int
}

func newMockAssignmentRepo(initial map[uint][]uint) *mockAssignmentRepo {
	m := &mockAssignmentRepo{
		sets:     make(map[uint]map[uint]struct{}),
		versions: make(map[uint]int),
		failOn:   make(map[uint]bool),
	}
	for staffID, ids := range initial {
		set := make(map[uint]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		m.sets[staffID] = set
	}
	return m
}

func (m *mockAssignmentRepo) current(staffID uint) []uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint, 0, len(m.sets[staffID]))
	for id := range m.sets[staffID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *mockAssignmentRepo) ListByStaff(_ context.Context, staffIDs []uint) ([]model.SubjectStaff, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []model.SubjectStaff
	for _, staffID := range staffIDs {
		for subjectID := range m.sets[staffID] {
			rows = append(rows, model.SubjectStaff{StaffID: staffID, SubjectID: subjectID})
		}
	}
	return rows, nil
}

func (m *mockAssignmentRepo) WithStaffTx(_ context.Context, staffID uint, fn func(tx repository.StaffSubjectTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs++

	snapshot := make(map[uint]struct{}, len(m.sets[staffID]))
	for id := range m.sets[staffID] {
		snapshot[id] = struct{}{}
	}
	version := m.versions[staffID]

	if err := fn(&mockStaffSubjectTx{repo: m, staffID: staffID}); err != nil {
		m.sets[staffID] = snapshot
		m.versions[staffID] = version
		return err
	}
	return nil
}

type mockStaffSubjectTx struct {
	repo    *mockAssignmentRepo
	staffID uint
}

func (t *mockStaffSubjectTx) Lock(_ context.Context) (int, error) {
	if _, ok := t.repo.versions[t.staffID]; !ok {
		t.repo.versions[t.staffID] = 1
	}
	return t.repo.versions[t.staffID], nil
}

func (t *mockStaffSubjectTx) SubjectIDs(_ context.Context) ([]uint, error) {
	ids := make([]uint, 0, len(t.repo.sets[t.staffID]))
	for id := range t.repo.sets[t.staffID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *mockStaffSubjectTx) AddSubjects(_ context.Context, subjectIDs []uint) error {
	if t.repo.failOn[t.staffID] {
		return errMockStoreDown
	}
	if t.repo.sets[t.staffID] == nil {
		t.repo.sets[t.staffID] = make(map[uint]struct{})
	}
	for _, id := range subjectIDs {
		t.repo.sets[t.staffID][id] = struct{}{}
	}
	return nil
}

func (t *mockStaffSubjectTx) RemoveSubjects(_ context.Context, subjectIDs []uint) error {
	if t.repo.failOn[t.staffID] {
		return errMockStoreDown
	}
	for _, id := range subjectIDs {
		delete(t.repo.sets[t.staffID], id)
	}
	return nil
}

func (t *mockStaffSubjectTx) BumpVersion(_ context.Context) (int, error) {
	t.repo.versions[t.staffID]++
	return t.repo.versions[t.staffID], nil
}

// ── Mock ChangeNotifier ──

type mockNotifier struct {
	mu    sync.Mutex
	calls [][]uint
	err   error
}

func (n *mockNotifier) AssignmentsChanged(_ context.Context, staffIDs []uint, _ uint) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, append([]uint(nil), staffIDs...))
	return n.err
}

// ── Mock Publisher ──

type mockPublisher struct {
	channel string
	payload []byte
	err     error
}

func (p *mockPublisher) Publish(_ context.Context, channel string, payload []byte) (int64, error) {
	p.channel = channel
	p.payload = payload
	return 1, p.err
}
