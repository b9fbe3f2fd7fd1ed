package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/noorqidam/satam-kahiji-sub002/config"
	"github.com/noorqidam/satam-kahiji-sub002/internal/assignment"
	"github.com/noorqidam/satam-kahiji-sub002/internal/dto"
	"github.com/noorqidam/satam-kahiji-sub002/internal/model"
	"github.com/noorqidam/satam-kahiji-sub002/internal/repository"
	pkgerrors "github.com/noorqidam/satam-kahiji-sub002/pkg/errors"
	"github.com/noorqidam/satam-kahiji-sub002/pkg/response"
)

// ── 学科分配模块业务错误 ──

var (
	ErrStaffNotFound       = errors.New("教职工不存在")
	ErrStaffNotEligible    = errors.New("该教职工不符合任课条件")
	ErrSubjectNotFound     = errors.New("学科不存在")
	ErrDuplicateStaffEntry = errors.New("同一教职工在请求中出现多次")
)

const (
	skipReasonNotFound    = "Staff member not found."
	skipReasonNotEligible = "Staff member is not eligible for subject assignment."

	messageNoChanges = "No changes detected in subject assignments."
)

// AssignmentService 学科分配业务接口
//
// 设计说明：
//   - 矩阵的差异计算与落库由 internal/assignment 完成，本层负责输入校验、任课资格与结果汇总
//   - 批量保存时基线由服务端从存储重建，请求体只携带目标集合
//   - 不存在或不符合任课条件的教职工被跳过，不影响其他人；未知学科则整体拒绝
type AssignmentService interface {
	GetOverview(ctx context.Context, req *dto.AssignmentOverviewRequest) (*dto.AssignmentOverviewResponse, error)
	GetMatrix(ctx context.Context) (*dto.AssignmentMatrixResponse, error)
	BulkUpdate(ctx context.Context, req *dto.BulkUpdateAssignmentsRequest, callerID uint) (*dto.BulkUpdateAssignmentsResponse, error)
	UpdateStaffSubjects(ctx context.Context, staffID uint, req *dto.UpdateStaffSubjectsRequest, callerID uint) (*dto.StaffSubjectsResponse, error)
	RemoveAssignment(ctx context.Context, staffID, subjectID, callerID uint) (*dto.StaffSubjectsResponse, error)
	// ExportMatrix 导出完整矩阵为 Excel，返回内容与建议文件名
	ExportMatrix(ctx context.Context) (*bytes.Buffer, string, error)
}

type assignmentService struct {
	cfg        config.AssignmentConfig
	repo       *repository.Repository
	reconciler *assignment.Reconciler
	notifier   ChangeNotifier
	logger     *zap.Logger
}

// NewAssignmentService 创建 AssignmentService 实例
func NewAssignmentService(
	cfg config.AssignmentConfig,
	repo *repository.Repository,
	notifier ChangeNotifier,
	logger *zap.Logger,
) AssignmentService {
	if notifier == nil {
		notifier = NewNopNotifier()
	}
	reconciler := assignment.NewReconciler(
		assignmentStore{repo: repo.Assignment},
		assignment.WithConcurrency(cfg.ReconcileConcurrency),
		assignment.WithLogger(logger),
	)
	return &assignmentService{
		cfg:        cfg,
		repo:       repo,
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger,
	}
}

// ────────────────────── GetOverview ──────────────────────

func (s *assignmentService) GetOverview(ctx context.Context, req *dto.AssignmentOverviewRequest) (*dto.AssignmentOverviewResponse, error) {
	staffQ := dto.NewPageQuery(req.StaffPage, s.cfg.StaffPageSize)
	staff, staffTotal, err := s.repo.Staff.List(ctx, s.eligibleFilter(req.StaffSearch), staffQ.GetOffset(), staffQ.PageSize)
	if err != nil {
		s.logger.Error("查询任课教职工失败", zap.Error(err))
		return nil, err
	}

	staffIDs := make([]uint, 0, len(staff))
	for _, st := range staff {
		staffIDs = append(staffIDs, st.ID)
	}
	rows, err := s.repo.Assignment.ListByStaff(ctx, staffIDs)
	if err != nil {
		s.logger.Error("查询学科分配失败", zap.Error(err))
		return nil, err
	}
	subjectsByStaff := groupSubjectsByStaff(rows)

	subjQ := dto.NewPageQuery(req.SubjectPage, s.cfg.SubjectPageSize)
	subjects, subjectTotal, err := s.repo.Subject.List(ctx, req.SubjectSearch, subjQ.GetOffset(), subjQ.PageSize)
	if err != nil {
		s.logger.Error("查询学科失败", zap.Error(err))
		return nil, err
	}

	subjectIDs := make([]uint, 0, len(subjects))
	for _, subj := range subjects {
		subjectIDs = append(subjectIDs, subj.ID)
	}
	// 批量统计，避免 N+1 查询
	counts, err := s.repo.Subject.CountStaff(ctx, subjectIDs)
	if err != nil {
		s.logger.Warn("统计学科教职工数失败，回退为0", zap.Error(err))
		counts = make(map[uint]int64)
	}

	resp := &dto.AssignmentOverviewResponse{
		Staff: dto.StaffPageResponse{
			Items:      make([]dto.StaffAssignmentResponse, 0, len(staff)),
			Pagination: response.NewPagination(staffTotal, staffQ.Page, staffQ.PageSize),
		},
		Subjects: dto.SubjectPageResponse{
			Items:      make([]dto.SubjectSummaryResponse, 0, len(subjects)),
			Pagination: response.NewPagination(subjectTotal, subjQ.Page, subjQ.PageSize),
		},
		Filters: dto.OverviewFilters{
			StaffSearch:   req.StaffSearch,
			SubjectSearch: req.SubjectSearch,
		},
	}
	for i := range staff {
		ids := subjectsByStaff[staff[i].ID]
		if ids == nil {
			ids = []uint{}
		}
		resp.Staff.Items = append(resp.Staff.Items, toStaffAssignmentResponse(&staff[i], ids))
	}
	for i := range subjects {
		resp.Subjects.Items = append(resp.Subjects.Items, toSubjectSummaryResponse(&subjects[i], counts[subjects[i].ID]))
	}

	return resp, nil
}

// ────────────────────── GetMatrix ──────────────────────

func (s *assignmentService) GetMatrix(ctx context.Context) (*dto.AssignmentMatrixResponse, error) {
	staff, err := s.repo.Staff.ListAll(ctx, s.eligibleFilter(""))
	if err != nil {
		s.logger.Error("查询任课教职工失败", zap.Error(err))
		return nil, err
	}
	subjects, err := s.repo.Subject.ListAll(ctx)
	if err != nil {
		s.logger.Error("查询学科失败", zap.Error(err))
		return nil, err
	}

	staffIDs := make([]uint, 0, len(staff))
	for _, st := range staff {
		staffIDs = append(staffIDs, st.ID)
	}
	subjectIDs := make([]uint, 0, len(subjects))
	for _, subj := range subjects {
		subjectIDs = append(subjectIDs, subj.ID)
	}

	rows, err := s.repo.Assignment.ListByStaff(ctx, staffIDs)
	if err != nil {
		s.logger.Error("查询学科分配失败", zap.Error(err))
		return nil, err
	}

	matrix := assignment.BuildBaseline(staffIDs, subjectIDs, toPairs(rows))

	counts := make(map[uint]int64, len(subjects))
	for _, row := range matrix {
		for subjectID, assigned := range row {
			if assigned {
				counts[subjectID]++
			}
		}
	}

	resp := &dto.AssignmentMatrixResponse{
		Staff:    make([]dto.StaffAssignmentResponse, 0, len(staff)),
		Subjects: make([]dto.SubjectSummaryResponse, 0, len(subjects)),
		Matrix:   matrix,
	}
	for i := range staff {
		resp.Staff = append(resp.Staff, toStaffAssignmentResponse(&staff[i], matrix.Subjects(staff[i].ID)))
	}
	for i := range subjects {
		resp.Subjects = append(resp.Subjects, toSubjectSummaryResponse(&subjects[i], counts[subjects[i].ID]))
	}
	return resp, nil
}

// ════════════════════════════════════════════════════════════
// BulkUpdate 批量保存
// ════════════════════════════════════════════════════════════
//
// 流程：
//  1. 校验请求：同一教职工只能出现一次；所有学科必须存在
//  2. 不存在 / 不符合任课条件的教职工记为 skipped
//  3. 从存储重建这些教职工的基线，把请求叠加为编辑后矩阵
//  4. 交给对账器逐个教职工落库，汇总结果
//
// 全部失败时返回包装 ErrStoreUnavailable 的错误；
// 若失败全部是版本冲突，则返回可被 errors.Is 识别为 ErrOptimisticLock 的错误。

func (s *assignmentService) BulkUpdate(ctx context.Context, req *dto.BulkUpdateAssignmentsRequest, callerID uint) (*dto.BulkUpdateAssignmentsResponse, error) {
	resp := &dto.BulkUpdateAssignmentsResponse{
		TotalCount: len(req.Assignments),
		Updated:    []assignment.ReconcileResult{},
		Unchanged:  []uint{},
		Failed:     []dto.FailedStaffResponse{},
		Skipped:    []dto.SkippedStaffResponse{},
	}

	// 1. 请求校验
	staffIDs := make([]uint, 0, len(req.Assignments))
	seen := make(map[uint]struct{}, len(req.Assignments))
	var requestedSubjects []uint
	for _, item := range req.Assignments {
		if _, dup := seen[item.StaffID]; dup {
			return nil, fmt.Errorf("%w: staff %d", ErrDuplicateStaffEntry, item.StaffID)
		}
		seen[item.StaffID] = struct{}{}
		staffIDs = append(staffIDs, item.StaffID)
		requestedSubjects = append(requestedSubjects, item.SubjectIDs...)
	}
	requestedSubjects = uniqueIDs(requestedSubjects)

	if err := s.ensureSubjectsExist(ctx, requestedSubjects); err != nil {
		return nil, err
	}

	// 2. 任课资格
	staffList, err := s.repo.Staff.ListByIDs(ctx, staffIDs)
	if err != nil {
		s.logger.Error("查询教职工失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrStoreUnavailable, err)
	}
	byID := make(map[uint]*model.Staff, len(staffList))
	for i := range staffList {
		byID[staffList[i].ID] = &staffList[i]
	}

	targets := make(map[uint][]uint, len(req.Assignments))
	versions := make(map[uint]int)
	eligibleIDs := make([]uint, 0, len(req.Assignments))
	for _, item := range req.Assignments {
		st, ok := byID[item.StaffID]
		switch {
		case !ok:
			resp.Skipped = append(resp.Skipped, dto.SkippedStaffResponse{StaffID: item.StaffID, Reason: skipReasonNotFound})
		case !s.isEligible(st):
			resp.Skipped = append(resp.Skipped, dto.SkippedStaffResponse{StaffID: item.StaffID, Reason: skipReasonNotEligible})
		default:
			eligibleIDs = append(eligibleIDs, item.StaffID)
			targets[item.StaffID] = uniqueIDs(item.SubjectIDs)
			if item.Version != nil {
				versions[item.StaffID] = *item.Version
			}
		}
	}
	resp.SkippedCount = len(resp.Skipped)
	resp.ProcessedCount = len(eligibleIDs)

	if len(eligibleIDs) == 0 {
		resp.State = string(assignment.StateNoChanges)
		resp.Message = summarizeBulk(resp)
		return resp, nil
	}

	// 3. 基线与编辑后矩阵
	rows, err := s.repo.Assignment.ListByStaff(ctx, eligibleIDs)
	if err != nil {
		s.logger.Error("加载学科分配基线失败", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrStoreUnavailable, err)
	}

	universe := requestedSubjects
	for _, row := range rows {
		universe = append(universe, row.SubjectID)
	}
	baseline := assignment.BuildBaseline(eligibleIDs, uniqueIDs(universe), toPairs(rows))
	edited := baseline.Clone()
	for staffID, target := range targets {
		row := edited[staffID]
		for subjectID := range row {
			row[subjectID] = false
		}
		for _, subjectID := range target {
			row[subjectID] = true
		}
	}

	// 4. 对账
	result, err := s.reconciler.Bulk(ctx, assignment.BulkRequest{
		Baseline: baseline,
		Edited:   edited,
		Versions: versions,
	})
	if result == nil {
		return nil, err
	}

	resp.State = string(result.State)
	resp.Updated = append(resp.Updated, result.Updated...)
	resp.Unchanged = append(resp.Unchanged, result.Unchanged...)
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, dto.FailedStaffResponse{StaffID: f.StaffID, Error: failureMessage(f.Err)})
	}
	resp.UpdatedCount = len(resp.Updated)
	resp.UnchangedCount = len(resp.Unchanged)

	if result.State == assignment.StateFailed {
		if allConflicts(result.Failed) {
			return nil, err
		}
		s.logger.Error("批量保存学科分配全部失败",
			zap.Uint("caller_id", callerID),
			zap.Int("failed_count", len(result.Failed)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrStoreUnavailable, err)
	}

	if resp.UpdatedCount > 0 {
		s.notify(ctx, result.UpdatedIDs(), callerID)
	}

	resp.Message = summarizeBulk(resp)
	if result.State == assignment.StatePartialFailure {
		s.logger.Warn("批量保存学科分配部分失败",
			zap.Uint("caller_id", callerID),
			zap.Int("updated_count", resp.UpdatedCount),
			zap.Int("failed_count", len(resp.Failed)),
		)
	} else {
		s.logger.Info("批量保存学科分配完成",
			zap.Uint("caller_id", callerID),
			zap.Int("processed_count", resp.ProcessedCount),
			zap.Int("updated_count", resp.UpdatedCount),
		)
	}
	return resp, nil
}

// ────────────────────── UpdateStaffSubjects ──────────────────────

func (s *assignmentService) UpdateStaffSubjects(ctx context.Context, staffID uint, req *dto.UpdateStaffSubjectsRequest, callerID uint) (*dto.StaffSubjectsResponse, error) {
	staff, err := s.getStaff(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if !s.isEligible(staff) {
		return nil, ErrStaffNotEligible
	}

	subjectIDs := uniqueIDs(req.SubjectIDs)
	if err := s.ensureSubjectsExist(ctx, subjectIDs); err != nil {
		return nil, err
	}

	res, err := s.reconciler.Reconcile(ctx, assignment.Target{
		StaffID:         staffID,
		SubjectIDs:      subjectIDs,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		return nil, s.reconcileFailure(staffID, err)
	}

	if res.Changed() {
		s.notify(ctx, []uint{staffID}, callerID)
	}
	return toStaffSubjectsResponse(res), nil
}

// ────────────────────── RemoveAssignment ──────────────────────

func (s *assignmentService) RemoveAssignment(ctx context.Context, staffID, subjectID, callerID uint) (*dto.StaffSubjectsResponse, error) {
	if _, err := s.getStaff(ctx, staffID); err != nil {
		return nil, err
	}
	if err := s.ensureSubjectsExist(ctx, []uint{subjectID}); err != nil {
		return nil, err
	}

	res, err := s.reconciler.RemoveOne(ctx, staffID, subjectID)
	if err != nil {
		return nil, s.reconcileFailure(staffID, err)
	}

	if res.Changed() {
		s.notify(ctx, []uint{staffID}, callerID)
	}
	return toStaffSubjectsResponse(res), nil
}

// ── 内部方法 ──

func (s *assignmentService) eligibleFilter(search string) repository.StaffFilter {
	return repository.StaffFilter{
		PositionKeywords: s.cfg.EligiblePositions,
		Division:         s.cfg.EligibleDivision,
		Search:           search,
	}
}

// isEligible 职位包含任一关键字且部门匹配（均不区分大小写）
func (s *assignmentService) isEligible(staff *model.Staff) bool {
	if s.cfg.EligibleDivision != "" && !strings.EqualFold(staff.Division, s.cfg.EligibleDivision) {
		return false
	}
	if len(s.cfg.EligiblePositions) == 0 {
		return true
	}
	position := strings.ToLower(staff.Position)
	for _, kw := range s.cfg.EligiblePositions {
		if strings.Contains(position, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func (s *assignmentService) getStaff(ctx context.Context, staffID uint) (*model.Staff, error) {
	staff, err := s.repo.Staff.GetByID(ctx, staffID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStaffNotFound
		}
		s.logger.Error("查询教职工失败", zap.Uint("staff_id", staffID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", pkgerrors.ErrStoreUnavailable, err)
	}
	return staff, nil
}

// ensureSubjectsExist 任一学科不存在时返回 ErrSubjectNotFound，并列出缺失的 ID
func (s *assignmentService) ensureSubjectsExist(ctx context.Context, subjectIDs []uint) error {
	if len(subjectIDs) == 0 {
		return nil
	}
	subjects, err := s.repo.Subject.ListByIDs(ctx, subjectIDs)
	if err != nil {
		s.logger.Error("查询学科失败", zap.Error(err))
		return fmt.Errorf("%w: %w", pkgerrors.ErrStoreUnavailable, err)
	}
	if len(subjects) == len(subjectIDs) {
		return nil
	}

	found := make(map[uint]struct{}, len(subjects))
	for _, subj := range subjects {
		found[subj.ID] = struct{}{}
	}
	missing := make([]uint, 0)
	for _, id := range subjectIDs {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return fmt.Errorf("%w: %v", ErrSubjectNotFound, missing)
}

// reconcileFailure 版本冲突与取消原样返回，其余视为存储故障
func (s *assignmentService) reconcileFailure(staffID uint, err error) error {
	if errors.Is(err, pkgerrors.ErrOptimisticLock) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error("学科分配落库失败", zap.Uint("staff_id", staffID), zap.Error(err))
	return fmt.Errorf("%w: %w", pkgerrors.ErrStoreUnavailable, err)
}

func (s *assignmentService) notify(ctx context.Context, staffIDs []uint, callerID uint) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.notifier.AssignmentsChanged(nctx, staffIDs, callerID); err != nil {
		s.logger.Warn("广播学科分配变更失败", zap.Error(err))
	}
}

// summarizeBulk 生成面向用户的批量保存摘要
func summarizeBulk(r *dto.BulkUpdateAssignmentsResponse) string {
	if r.UpdatedCount == 0 && len(r.Failed) == 0 {
		return messageNoChanges
	}

	var b strings.Builder
	b.WriteString("Subject assignments updated successfully. ")
	fmt.Fprintf(&b, "Changed: %d, Processed: %d", r.UpdatedCount, r.ProcessedCount)
	if r.SkippedCount > 0 {
		fmt.Fprintf(&b, ", Skipped: %d", r.SkippedCount)
	}
	if len(r.Failed) > 0 {
		fmt.Fprintf(&b, ". Errors encountered: %d issues.", len(r.Failed))
	}
	return b.String()
}

// failureMessage 失败原因对外只暴露可操作的信息
func failureMessage(err error) string {
	switch {
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		return pkgerrors.ErrOptimisticLock.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request cancelled before this staff member was saved"
	default:
		return "failed to save assignments, please try again"
	}
}

func allConflicts(failed []assignment.StaffFailure) bool {
	for _, f := range failed {
		if !errors.Is(f.Err, pkgerrors.ErrOptimisticLock) {
			return false
		}
	}
	return len(failed) > 0
}

func uniqueIDs(ids []uint) []uint {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func groupSubjectsByStaff(rows []model.SubjectStaff) map[uint][]uint {
	out := make(map[uint][]uint)
	for _, row := range rows {
		out[row.StaffID] = append(out[row.StaffID], row.SubjectID)
	}
	for staffID := range out {
		slices.Sort(out[staffID])
	}
	return out
}

func toPairs(rows []model.SubjectStaff) []assignment.Pair {
	pairs := make([]assignment.Pair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, assignment.Pair{StaffID: row.StaffID, SubjectID: row.SubjectID})
	}
	return pairs
}

func toStaffAssignmentResponse(st *model.Staff, subjectIDs []uint) dto.StaffAssignmentResponse {
	return dto.StaffAssignmentResponse{
		ID:         st.ID,
		Name:       st.Name,
		Position:   st.Position,
		Division:   st.Division,
		SubjectIDs: subjectIDs,
		Version:    st.AssignmentVersion,
	}
}

func toSubjectSummaryResponse(subj *model.Subject, staffCount int64) dto.SubjectSummaryResponse {
	return dto.SubjectSummaryResponse{
		ID:         subj.ID,
		Name:       subj.Name,
		Code:       subj.Code,
		StaffCount: staffCount,
	}
}

func toStaffSubjectsResponse(res *assignment.ReconcileResult) *dto.StaffSubjectsResponse {
	return &dto.StaffSubjectsResponse{
		StaffID:    res.StaffID,
		SubjectIDs: res.Subjects,
		Added:      res.Added,
		Removed:    res.Removed,
		Version:    res.Version,
		Changed:    res.Changed(),
	}
}
