package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/noorqidam/satam-kahiji-sub002/internal/model"
)

// StaffFilter 教职工筛选条件
type StaffFilter struct {
	// PositionKeywords 职位包含任一关键字即匹配（不区分大小写）
	PositionKeywords []string
	// Division 部门完全匹配（不区分大小写），为空时不过滤
	Division string
	// Search 模糊匹配姓名 / 职位 / 部门
	Search string
}

// StaffRepository 教职工数据访问接口
type StaffRepository interface {
	GetByID(ctx context.Context, id uint) (*model.Staff, error)
	ListByIDs(ctx context.Context, ids []uint) ([]model.Staff, error)
	List(ctx context.Context, filter StaffFilter, offset, limit int) ([]model.Staff, int64, error)
	ListAll(ctx context.Context, filter StaffFilter) ([]model.Staff, error)
}

type staffRepo struct {
	db *gorm.DB
}

// NewStaffRepo 创建 StaffRepository 实例
func NewStaffRepo(db *gorm.DB) StaffRepository {
	return &staffRepo{db: db}
}

func (r *staffRepo) GetByID(ctx context.Context, id uint) (*model.Staff, error) {
	var staff model.Staff
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&staff).Error
	if err != nil {
		return nil, err
	}
	return &staff, nil
}

func (r *staffRepo) ListByIDs(ctx context.Context, ids []uint) ([]model.Staff, error) {
	if len(ids) == 0 {
		return []model.Staff{}, nil
	}
	var staff []model.Staff
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&staff).Error
	return staff, err
}

func (r *staffRepo) List(ctx context.Context, filter StaffFilter, offset, limit int) ([]model.Staff, int64, error) {
	var staff []model.Staff
	var total int64

	db := applyStaffFilter(r.db.WithContext(ctx).Model(&model.Staff{}), filter)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := db.Offset(offset).Limit(limit).
		Order("name ASC").Order("id ASC").
		Find(&staff).Error; err != nil {
		return nil, 0, err
	}

	return staff, total, nil
}

func (r *staffRepo) ListAll(ctx context.Context, filter StaffFilter) ([]model.Staff, error) {
	var staff []model.Staff
	err := applyStaffFilter(r.db.WithContext(ctx).Model(&model.Staff{}), filter).
		Order("name ASC").Order("id ASC").
		Find(&staff).Error
	return staff, err
}

func applyStaffFilter(db *gorm.DB, f StaffFilter) *gorm.DB {
	if f.Division != "" {
		db = db.Where("LOWER(division) = ?", strings.ToLower(f.Division))
	}

	if len(f.PositionKeywords) > 0 {
		conds := make([]string, 0, len(f.PositionKeywords))
		args := make([]interface{}, 0, len(f.PositionKeywords))
		for _, kw := range f.PositionKeywords {
			conds = append(conds, "LOWER(position) LIKE ?")
			args = append(args, containsPattern(kw))
		}
		db = db.Where("("+strings.Join(conds, " OR ")+")", args...)
	}

	if s := strings.TrimSpace(f.Search); s != "" {
		like := containsPattern(s)
		db = db.Where("(LOWER(name) LIKE ? OR LOWER(position) LIKE ? OR LOWER(division) LIKE ?)", like, like, like)
	}

	return db
}

// containsPattern 转义 LIKE 通配符并包装为 %s%
func containsPattern(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
	return "%" + s + "%"
}
