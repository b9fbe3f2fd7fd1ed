package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/noorqidam/satam-kahiji-sub002/internal/assignment"
	"github.com/noorqidam/satam-kahiji-sub002/internal/dto"
	"github.com/noorqidam/satam-kahiji-sub002/internal/service"
	pkgerrors "github.com/noorqidam/satam-kahiji-sub002/pkg/errors"
	"github.com/noorqidam/satam-kahiji-sub002/pkg/response"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AssignmentHandler 学科分配模块 HTTP 处理器
type AssignmentHandler struct {
	assignSvc service.AssignmentService
}

// NewAssignmentHandler 创建 AssignmentHandler
func NewAssignmentHandler(assignSvc service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{assignSvc: assignSvc}
}

// GetOverview 分配总览（教职工与学科分别分页）
// GET /api/v1/subject-assignments?staff_page=&staff_search=&subject_page=&subject_search=
func (h *AssignmentHandler) GetOverview(c *gin.Context) {
	var req dto.AssignmentOverviewRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "Invalid query parameters.")
		return
	}

	resp, err := h.assignSvc.GetOverview(c.Request.Context(), &req)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, resp)
}

// GetMatrix 完整分配矩阵
// GET /api/v1/subject-assignments/matrix
func (h *AssignmentHandler) GetMatrix(c *gin.Context) {
	resp, err := h.assignSvc.GetMatrix(c.Request.Context())
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, resp)
}

// BulkUpdate 批量保存
// POST /api/v1/subject-assignments/bulk-update
//
// 无变更 → 200 info；全部成功 → 200 success；部分失败 → 200 warning（code 14010）
func (h *AssignmentHandler) BulkUpdate(c *gin.Context) {
	var req dto.BulkUpdateAssignmentsRequest
	if !MustBindJSON(c, &req) {
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	resp, err := h.assignSvc.BulkUpdate(c.Request.Context(), &req, callerID)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	switch resp.State {
	case string(assignment.StatePartialFailure):
		response.Warning(c, 14010, resp.Message, resp)
	case string(assignment.StateNoChanges):
		response.OKWithMessage(c, "info", resp.Message, resp)
	default:
		if resp.UpdatedCount == 0 {
			response.OKWithMessage(c, "info", resp.Message, resp)
			return
		}
		response.OKWithMessage(c, "success", resp.Message, resp)
	}
}

// UpdateStaffSubjects 替换单个教职工的学科集合
// PUT /api/v1/staff/:id/subjects
func (h *AssignmentHandler) UpdateStaffSubjects(c *gin.Context) {
	staffID, ok := MustParseIDParam(c, "id")
	if !ok {
		return
	}

	var req dto.UpdateStaffSubjectsRequest
	if !MustBindJSON(c, &req) {
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	resp, err := h.assignSvc.UpdateStaffSubjects(c.Request.Context(), staffID, &req, callerID)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	if !resp.Changed {
		response.OKWithMessage(c, "info", "No changes detected in subject assignments.", resp)
		return
	}
	response.OKWithMessage(c, "success", "Subject assignments updated successfully.", resp)
}

// RemoveAssignment 移除单条分配
// DELETE /api/v1/staff/:id/subjects/:subject_id
func (h *AssignmentHandler) RemoveAssignment(c *gin.Context) {
	staffID, ok := MustParseIDParam(c, "id")
	if !ok {
		return
	}
	subjectID, ok := MustParseIDParam(c, "subject_id")
	if !ok {
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	resp, err := h.assignSvc.RemoveAssignment(c.Request.Context(), staffID, subjectID, callerID)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	if !resp.Changed {
		response.OKWithMessage(c, "info", "The subject was not assigned to this staff member.", resp)
		return
	}
	response.OKWithMessage(c, "success", "Subject assignment removed successfully.", resp)
}

// ExportMatrix 导出分配矩阵
// GET /api/v1/subject-assignments/export
func (h *AssignmentHandler) ExportMatrix(c *gin.Context) {
	buf, filename, err := h.assignSvc.ExportMatrix(c.Request.Context())
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	// 设置下载响应头
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.QueryEscape(filename))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// handleAssignmentError 业务错误 → HTTP 响应
// 存储故障优先于版本冲突判断：混合失败时按整体故障处理
func (h *AssignmentHandler) handleAssignmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrStaffNotFound):
		response.NotFound(c, 14001, "Staff member not found.")
	case errors.Is(err, service.ErrStaffNotEligible):
		response.BadRequest(c, 14002, "Staff member is not eligible for subject assignment.")
	case errors.Is(err, service.ErrSubjectNotFound):
		response.NotFound(c, 14003, "One or more selected subjects do not exist.")
	case errors.Is(err, service.ErrDuplicateStaffEntry):
		response.BadRequest(c, 14004, "Each staff member may appear only once per request.")
	case errors.Is(err, assignment.ErrInvalidCell):
		response.Conflict(c, 14005, "The assignment matrix is out of date, please reload.")
	case errors.Is(err, pkgerrors.ErrStoreUnavailable):
		response.InternalError(c)
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 14006, "Assignments were changed by someone else. Please reload and try again.")
	default:
		response.InternalError(c)
	}
}
