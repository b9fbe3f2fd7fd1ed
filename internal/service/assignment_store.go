package service

import (
	"context"

	"github.com/noorqidam/satam-kahiji-sub002/internal/assignment"
	"github.com/noorqidam/satam-kahiji-sub002/internal/repository"
)

// assignmentStore 把 SubjectAssignmentRepository 适配为对账器的 Store
type assignmentStore struct {
	repo repository.SubjectAssignmentRepository
}

func (s assignmentStore) InStaffTx(ctx context.Context, staffID uint, fn func(tx assignment.StaffAssignments) error) error {
	return s.repo.WithStaffTx(ctx, staffID, func(tx repository.StaffSubjectTx) error {
		return fn(tx)
	})
}
