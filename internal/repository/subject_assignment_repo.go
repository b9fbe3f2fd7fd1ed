package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noorqidam/satam-kahiji-sub002/internal/model"
)

// StaffSubjectTx 单个教职工在事务内的分配关系操作
type StaffSubjectTx interface {
	// Lock SELECT ... FOR UPDATE 锁定教职工行并返回 assignment_version
	Lock(ctx context.Context) (int, error)
	SubjectIDs(ctx context.Context) ([]uint, error)
	AddSubjects(ctx context.Context, subjectIDs []uint) error
	RemoveSubjects(ctx context.Context, subjectIDs []uint) error
	BumpVersion(ctx context.Context) (int, error)
}

// SubjectAssignmentRepository 教职工-学科分配数据访问接口
type SubjectAssignmentRepository interface {
	// ListByStaff 返回给定教职工的全部分配行
	ListByStaff(ctx context.Context, staffIDs []uint) ([]model.SubjectStaff, error)
	// WithStaffTx 为单个教职工开启事务，fn 返回错误时回滚
	WithStaffTx(ctx context.Context, staffID uint, fn func(tx StaffSubjectTx) error) error
}

type subjectAssignmentRepo struct {
	db *gorm.DB
}

// NewSubjectAssignmentRepo 创建 SubjectAssignmentRepository 实例
func NewSubjectAssignmentRepo(db *gorm.DB) SubjectAssignmentRepository {
	return &subjectAssignmentRepo{db: db}
}

func (r *subjectAssignmentRepo) ListByStaff(ctx context.Context, staffIDs []uint) ([]model.SubjectStaff, error) {
	if len(staffIDs) == 0 {
		return []model.SubjectStaff{}, nil
	}
	var rows []model.SubjectStaff
	err := r.db.WithContext(ctx).
		Where("staff_id IN ?", staffIDs).
		Order("staff_id ASC").Order("subject_id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *subjectAssignmentRepo) WithStaffTx(ctx context.Context, staffID uint, fn func(tx StaffSubjectTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&staffSubjectTx{db: tx, staffID: staffID})
	})
}

// ── 事务内实现 ──

type staffSubjectTx struct {
	db      *gorm.DB
	staffID uint
	version int
}

func (t *staffSubjectTx) Lock(ctx context.Context) (int, error) {
	var staff model.Staff
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "assignment_version").
		Where("id = ?", t.staffID).
		First(&staff).Error
	if err != nil {
		return 0, err
	}
	t.version = staff.AssignmentVersion
	return t.version, nil
}

func (t *staffSubjectTx) SubjectIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := t.db.WithContext(ctx).
		Model(&model.SubjectStaff{}).
		Where("staff_id = ?", t.staffID).
		Order("subject_id ASC").
		Pluck("subject_id", &ids).Error
	return ids, err
}

func (t *staffSubjectTx) AddSubjects(ctx context.Context, subjectIDs []uint) error {
	if len(subjectIDs) == 0 {
		return nil
	}
	rows := make([]model.SubjectStaff, 0, len(subjectIDs))
	for _, id := range subjectIDs {
		rows = append(rows, model.SubjectStaff{StaffID: t.staffID, SubjectID: id})
	}
	// 联合主键保证唯一，已存在的行直接跳过
	return t.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (t *staffSubjectTx) RemoveSubjects(ctx context.Context, subjectIDs []uint) error {
	if len(subjectIDs) == 0 {
		return nil
	}
	return t.db.WithContext(ctx).
		Where("staff_id = ? AND subject_id IN ?", t.staffID, subjectIDs).
		Delete(&model.SubjectStaff{}).Error
}

func (t *staffSubjectTx) BumpVersion(ctx context.Context) (int, error) {
	next := t.version + 1
	err := t.db.WithContext(ctx).
		Model(&model.Staff{}).
		Where("id = ?", t.staffID).
		Updates(map[string]interface{}{
			"assignment_version": next,
			"updated_at":         gorm.Expr("NOW()"),
		}).Error
	if err != nil {
		return 0, err
	}
	t.version = next
	return next, nil
}
