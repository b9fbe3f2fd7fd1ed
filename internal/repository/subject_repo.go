package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/noorqidam/satam-kahiji-sub002/internal/model"
)

// SubjectRepository 学科数据访问接口
type SubjectRepository interface {
	List(ctx context.Context, search string, offset, limit int) ([]model.Subject, int64, error)
	ListAll(ctx context.Context) ([]model.Subject, error)
	ListByIDs(ctx context.Context, ids []uint) ([]model.Subject, error)
	// CountStaff 统计每个学科已分配的教职工数，未出现的学科计数为 0
	CountStaff(ctx context.Context, subjectIDs []uint) (map[uint]int64, error)
}

type subjectRepo struct {
	db *gorm.DB
}

// NewSubjectRepo 创建 SubjectRepository 实例
func NewSubjectRepo(db *gorm.DB) SubjectRepository {
	return &subjectRepo{db: db}
}

func (r *subjectRepo) List(ctx context.Context, search string, offset, limit int) ([]model.Subject, int64, error) {
	var subjects []model.Subject
	var total int64

	db := r.db.WithContext(ctx).Model(&model.Subject{})
	if s := strings.TrimSpace(search); s != "" {
		like := containsPattern(s)
		db = db.Where("(LOWER(name) LIKE ? OR LOWER(COALESCE(code, '')) LIKE ?)", like, like)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Offset(offset).Limit(limit).
		Order("name ASC").Order("id ASC").
		Find(&subjects).Error; err != nil {
		return nil, 0, err
	}

	return subjects, total, nil
}

func (r *subjectRepo) ListAll(ctx context.Context) ([]model.Subject, error) {
	var subjects []model.Subject
	err := r.db.WithContext(ctx).
		Order("name ASC").Order("id ASC").
		Find(&subjects).Error
	return subjects, err
}

func (r *subjectRepo) ListByIDs(ctx context.Context, ids []uint) ([]model.Subject, error) {
	if len(ids) == 0 {
		return []model.Subject{}, nil
	}
	var subjects []model.Subject
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&subjects).Error
	return subjects, err
}

func (r *subjectRepo) CountStaff(ctx context.Context, subjectIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(subjectIDs))
	if len(subjectIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		SubjectID uint
		Total     int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.SubjectStaff{}).
		Select("subject_id, COUNT(*) AS total").
		Where("subject_id IN ?", subjectIDs).
		Group("subject_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		counts[row.SubjectID] = row.Total
	}
	return counts, nil
}
