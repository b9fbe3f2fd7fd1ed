package assignment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCell 矩阵中不存在该单元格（客户端矩阵已过期，需要重新加载）
	ErrInvalidCell = errors.New("assignment matrix cell does not exist")
	// ErrBulkFailed 批量对账中没有任何教职工保存成功
	ErrBulkFailed = errors.New("no staff assignments could be saved")
)

// InvalidCellError Toggle 引用了矩阵中不存在的教职工或学科
type InvalidCellError struct {
	StaffID   uint
	SubjectID uint
}

func (e *InvalidCellError) Error() string {
	return fmt.Sprintf("invalid cell (staff %d, subject %d): %v", e.StaffID, e.SubjectID, ErrInvalidCell)
}

func (e *InvalidCellError) Unwrap() error { return ErrInvalidCell }

// ReconcileError 单个教职工的分配落库失败，该教职工的增删全部回滚
type ReconcileError struct {
	StaffID uint
	Cause   error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile staff %d: %v", e.StaffID, e.Cause)
}

func (e *ReconcileError) Unwrap() error { return e.Cause }

// StaffFailure 批量对账中失败的教职工
type StaffFailure struct {
	StaffID uint
	Err     error
}

// PartialBulkFailure 批量对账部分成功：Updated 已提交，Failed 未提交
type PartialBulkFailure struct {
	Updated []uint
	Failed  []StaffFailure
}

func (e *PartialBulkFailure) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, fmt.Sprintf("%d", f.StaffID))
	}
	return fmt.Sprintf("%d staff saved, %d failed (staff %s)",
		len(e.Updated), len(e.Failed), strings.Join(ids, ", "))
}

// Unwrap 暴露每个失败教职工的 *ReconcileError，便于 errors.Is 判断根因
func (e *PartialBulkFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}
