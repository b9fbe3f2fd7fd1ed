package assignment

import (
	"context"
	"errors"
	"sync"
)

// ── 内存版 Store（带事务回滚与故障注入）──

type memStore struct {
	mu       sync.Mutex
	subjects map[uint]map[uint]struct{}
	versions map[uint]int
	// failOn staffID → 在该操作上返回错误："lock" | "read" | "add" | "remove"
	failOn map[uint]string
	ops    []string
	txs    int
}

var errStoreDown = errors.New("store down")

func newMemStore(initial map[uint][]uint) *memStore {
	s := &memStore{
		subjects: make(map[uint]map[uint]struct{}),
		versions: make(map[uint]int),
		failOn:   make(map[uint]string),
	}
	for staffID, ids := range initial {
		set := make(map[uint]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		s.subjects[staffID] = set
		s.versions[staffID] = 1
	}
	return s
}

func (s *memStore) InStaffTx(_ context.Context, staffID uint, fn func(tx StaffAssignments) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs++

	// 快照，失败时回滚
	snapshot := make(map[uint]struct{}, len(s.subjects[staffID]))
	for id := range s.subjects[staffID] {
		snapshot[id] = struct{}{}
	}
	version := s.versions[staffID]

	if err := fn(&memTx{store: s, staffID: staffID}); err != nil {
		s.subjects[staffID] = snapshot
		s.versions[staffID] = version
		return err
	}
	return nil
}

func (s *memStore) current(staffID uint) []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint, 0, len(s.subjects[staffID]))
	for id := range s.subjects[staffID] {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

type memTx struct {
	store   *memStore
	staffID uint
}

func (t *memTx) fail(op string) error {
	if t.store.failOn[t.staffID] == op {
		return errStoreDown
	}
	return nil
}

func (t *memTx) Lock(_ context.Context) (int, error) {
	if err := t.fail("lock"); err != nil {
		return 0, err
	}
	if _, ok := t.store.versions[t.staffID]; !ok {
		t.store.versions[t.staffID] = 1
	}
	return t.store.versions[t.staffID], nil
}

func (t *memTx) SubjectIDs(_ context.Context) ([]uint, error) {
	if err := t.fail("read"); err != nil {
		return nil, err
	}
	ids := make([]uint, 0)
	for id := range t.store.subjects[t.staffID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *memTx) AddSubjects(_ context.Context, subjectIDs []uint) error {
	t.store.ops = append(t.store.ops, "add")
	if err := t.fail("add"); err != nil {
		return err
	}
	if t.store.subjects[t.staffID] == nil {
		t.store.subjects[t.staffID] = make(map[uint]struct{})
	}
	for _, id := range subjectIDs {
		t.store.subjects[t.staffID][id] = struct{}{}
	}
	return nil
}

func (t *memTx) RemoveSubjects(_ context.Context, subjectIDs []uint) error {
	t.store.ops = append(t.store.ops, "remove")
	if err := t.fail("remove"); err != nil {
		return err
	}
	for _, id := range subjectIDs {
		delete(t.store.subjects[t.staffID], id)
	}
	return nil
}

func (t *memTx) BumpVersion(_ context.Context) (int, error) {
	t.store.versions[t.staffID]++
	return t.store.versions[t.staffID], nil
}
