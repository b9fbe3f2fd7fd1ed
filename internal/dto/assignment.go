package dto

import (
	"github.com/noorqidam/satam-kahiji-sub002/internal/assignment"
	"github.com/noorqidam/satam-kahiji-sub002/pkg/response"
)

// ── 学科分配总览 ──

// AssignmentOverviewRequest 总览查询参数，教职工与学科各自分页
type AssignmentOverviewRequest struct {
	StaffPage     int    `form:"staff_page"     binding:"omitempty,min=1"`
	StaffSearch   string `form:"staff_search"   binding:"omitempty,max=100"`
	SubjectPage   int    `form:"subject_page"   binding:"omitempty,min=1"`
	SubjectSearch string `form:"subject_search" binding:"omitempty,max=100"`
}

// StaffAssignmentResponse 教职工及其当前学科
type StaffAssignmentResponse struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Position   string `json:"position"`
	Division   string `json:"division"`
	SubjectIDs []uint `json:"subject_ids"`
	// Version 保存时回传，用于乐观锁校验
	Version int `json:"version"`
}

// SubjectSummaryResponse 学科及已分配教职工数
type SubjectSummaryResponse struct {
	ID         uint    `json:"id"`
	Name       string  `json:"name"`
	Code       *string `json:"code,omitempty"`
	StaffCount int64   `json:"staff_count"`
}

// StaffPageResponse 教职工分页
type StaffPageResponse struct {
	Items      []StaffAssignmentResponse `json:"items"`
	Pagination response.Pagination       `json:"pagination"`
}

// SubjectPageResponse 学科分页
type SubjectPageResponse struct {
	Items      []SubjectSummaryResponse `json:"items"`
	Pagination response.Pagination      `json:"pagination"`
}

// AssignmentOverviewResponse 总览响应
type AssignmentOverviewResponse struct {
	Staff    StaffPageResponse   `json:"staff"`
	Subjects SubjectPageResponse `json:"subjects"`
	Filters  OverviewFilters     `json:"filters"`
}

// OverviewFilters 回显当前筛选条件
type OverviewFilters struct {
	StaffSearch   string `json:"staff_search"`
	SubjectSearch string `json:"subject_search"`
}

// AssignmentMatrixResponse 完整分配矩阵
// Matrix 以 staff_id → subject_id → bool 表示，每个格子都存在
type AssignmentMatrixResponse struct {
	Staff    []StaffAssignmentResponse `json:"staff"`
	Subjects []SubjectSummaryResponse  `json:"subjects"`
	Matrix   assignment.Matrix         `json:"matrix"`
}

// ── 批量保存 ──

// BulkAssignmentItem 单个教职工的目标学科集合
type BulkAssignmentItem struct {
	StaffID    uint   `json:"staff_id"    binding:"required,min=1"`
	SubjectIDs []uint `json:"subject_ids" binding:"required,dive,min=1"`
	Version    *int   `json:"version"     binding:"omitempty,min=1"`
}

// BulkUpdateAssignmentsRequest 批量保存请求，assignments 为空视为无变更
type BulkUpdateAssignmentsRequest struct {
	Assignments []BulkAssignmentItem `json:"assignments" binding:"max=500,dive"`
}

// FailedStaffResponse 对账失败的教职工
type FailedStaffResponse struct {
	StaffID uint   `json:"staff_id"`
	Error   string `json:"error"`
}

// SkippedStaffResponse 被跳过的教职工（不存在或不符合任课条件）
type SkippedStaffResponse struct {
	StaffID uint   `json:"staff_id"`
	Reason  string `json:"reason"`
}

// BulkUpdateAssignmentsResponse 批量保存结果
type BulkUpdateAssignmentsResponse struct {
	State          string                       `json:"state"`
	Message        string                       `json:"message"`
	UpdatedCount   int                          `json:"updated_count"`
	UnchangedCount int                          `json:"unchanged_count"`
	SkippedCount   int                          `json:"skipped_count"`
	ProcessedCount int                          `json:"processed_count"`
	TotalCount     int                          `json:"total_count"`
	Updated        []assignment.ReconcileResult `json:"updated"`
	Unchanged      []uint                       `json:"unchanged"`
	Failed         []FailedStaffResponse        `json:"failed"`
	Skipped        []SkippedStaffResponse       `json:"skipped"`
}

// ── 单个教职工 ──

// UpdateStaffSubjectsRequest 替换单个教职工的学科集合
type UpdateStaffSubjectsRequest struct {
	SubjectIDs []uint `json:"subject_ids" binding:"required,dive,min=1"`
	Version    *int   `json:"version"     binding:"omitempty,min=1"`
}

// StaffSubjectsResponse 单个教职工对账结果
type StaffSubjectsResponse struct {
	StaffID    uint   `json:"staff_id"`
	SubjectIDs []uint `json:"subject_ids"`
	Added      []uint `json:"added"`
	Removed    []uint `json:"removed"`
	Version    int    `json:"version"`
	Changed    bool   `json:"changed"`
}
