package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	pkgerrors "github.com/noorqidam/satam-kahiji-sub002/pkg/errors"
)

// Store 分配关系存储
// InStaffTx 在单个事务内执行 fn，fn 返回错误时整体回滚
type Store interface {
	InStaffTx(ctx context.Context, staffID uint, fn func(tx StaffAssignments) error) error
}

// StaffAssignments 事务内单个教职工的分配关系视图
type StaffAssignments interface {
	// Lock 锁定教职工行并返回当前版本号
	Lock(ctx context.Context) (int, error)
	SubjectIDs(ctx context.Context) ([]uint, error)
	AddSubjects(ctx context.Context, subjectIDs []uint) error
	RemoveSubjects(ctx context.Context, subjectIDs []uint) error
	// BumpVersion 版本号 +1 并返回新版本
	BumpVersion(ctx context.Context) (int, error)
}

// Target 单个教职工的目标学科集合
type Target struct {
	StaffID    uint
	SubjectIDs []uint
	// ExpectedVersion 调用方加载时看到的版本号；为 nil 时后写覆盖先写
	ExpectedVersion *int
}

// ReconcileResult 单个教职工的对账结果
type ReconcileResult struct {
	StaffID  uint   `json:"staff_id"`
	Added    []uint `json:"added"`
	Removed  []uint `json:"removed"`
	Subjects []uint `json:"subject_ids"`
	Version  int    `json:"version"`
}

// Changed 本次对账是否实际写入了存储
func (r *ReconcileResult) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// State 批量对账的终态
type State string

const (
	StateNoChanges      State = "no_changes"
	StateCommitted      State = "committed"
	StatePartialFailure State = "partial_failure"
	StateFailed         State = "failed"
)

// BulkRequest 批量对账输入，矩阵由调用方持有并传入
type BulkRequest struct {
	Baseline Matrix
	Edited   Matrix
	// Versions 可选：staffID → 期望版本号
	Versions map[uint]int
}

// BulkResult 批量对账结果
type BulkResult struct {
	State State
	Diff  DiffResult
	// Updated 实际写入存储的教职工（按 staffID 升序）
	Updated []ReconcileResult
	// Unchanged 集合未变化或存储已与目标一致的教职工
	Unchanged []uint
	Failed    []StaffFailure
	// Baseline 推进后的基线：成功的教职工取编辑后的行，失败的保留原行
	Baseline Matrix
}

// UpdatedIDs 返回已提交的教职工 ID
func (r *BulkResult) UpdatedIDs() []uint {
	ids := make([]uint, 0, len(r.Updated))
	for _, u := range r.Updated {
		ids = append(ids, u.StaffID)
	}
	return ids
}

// Err 把终态映射为错误值：部分失败为 *PartialBulkFailure，全部失败包装 ErrBulkFailed
func (r *BulkResult) Err() error {
	switch r.State {
	case StatePartialFailure:
		return &PartialBulkFailure{Updated: r.UpdatedIDs(), Failed: r.Failed}
	case StateFailed:
		causes := make([]error, 0, len(r.Failed))
		for _, f := range r.Failed {
			causes = append(causes, f.Err)
		}
		return fmt.Errorf("%w: %w", ErrBulkFailed, errors.Join(causes...))
	default:
		return nil
	}
}

// Option Reconciler 可选配置
type Option func(*Reconciler)

// WithConcurrency 并发对账的教职工数上限，默认 1（顺序执行）
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithApplyTimeout 单个教职工事务的最长执行时间
func WithApplyTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.applyTimeout = d
		}
	}
}

// WithLogger 设置日志器
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reconciler 计算并落库分配差异
type Reconciler struct {
	store        Store
	concurrency  int
	applyTimeout time.Duration
	logger       *zap.Logger
}

// NewReconciler 创建 Reconciler
func NewReconciler(store Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:        store,
		concurrency:  1,
		applyTimeout: 30 * time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ════════════════════════════════════════════════════════════
// Reconcile 单个教职工对账
// ════════════════════════════════════════════════════════════
//
// 流程：锁行 → 校验版本 → 读当前集合 → 计算 toAdd / toRemove
//       → 先增后删 → 版本号 +1，全部在一个事务内完成。
// 事务一旦开始就与调用方的取消信号脱钩，只受 applyTimeout 约束。

func (r *Reconciler) Reconcile(ctx context.Context, t Target) (*ReconcileResult, error) {
	target := normalizeIDs(t.SubjectIDs)
	return r.apply(ctx, t.StaffID, t.ExpectedVersion, func([]uint) []uint { return target })
}

// RemoveOne 移除单条分配，是 Reconcile 的单教职工单学科特例
func (r *Reconciler) RemoveOne(ctx context.Context, staffID, subjectID uint) (*ReconcileResult, error) {
	return r.apply(ctx, staffID, nil, func(current []uint) []uint {
		return subtractIDs(current, []uint{subjectID})
	})
}

func (r *Reconciler) apply(ctx context.Context, staffID uint, expected *int, targetOf func(current []uint) []uint) (*ReconcileResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ReconcileError{StaffID: staffID, Cause: err}
	}

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.applyTimeout)
	defer cancel()

	var res *ReconcileResult
	err := r.store.InStaffTx(txCtx, staffID, func(tx StaffAssignments) error {
		version, err := tx.Lock(txCtx)
		if err != nil {
			return err
		}
		if expected != nil && *expected != version {
			return fmt.Errorf("expected version %d, current %d: %w", *expected, version, pkgerrors.ErrOptimisticLock)
		}

		current, err := tx.SubjectIDs(txCtx)
		if err != nil {
			return err
		}
		current = normalizeIDs(current)
		target := targetOf(current)

		res = &ReconcileResult{
			StaffID:  staffID,
			Added:    subtractIDs(target, current),
			Removed:  subtractIDs(current, target),
			Subjects: target,
			Version:  version,
		}
		if !res.Changed() {
			return nil
		}

		// 先增后删：无事务隔离的存储上也不会短暂丢失正在被重新添加的分配
		if len(res.Added) > 0 {
			if err := tx.AddSubjects(txCtx, res.Added); err != nil {
				return err
			}
		}
		if len(res.Removed) > 0 {
			if err := tx.RemoveSubjects(txCtx, res.Removed); err != nil {
				return err
			}
		}

		res.Version, err = tx.BumpVersion(txCtx)
		return err
	})
	if err != nil {
		return nil, &ReconcileError{StaffID: staffID, Cause: err}
	}

	return res, nil
}

// ════════════════════════════════════════════════════════════
// Bulk 批量对账
// ════════════════════════════════════════════════════════════
//
// 状态流转：IDLE → DIFFING → (NO_CHANGES | APPLYING) → (COMMITTED | PARTIAL_FAILURE)
//
//   - 每名教职工是一个独立事务，已提交的不会因其他人失败而回滚
//   - 某个教职工失败不会取消其他正在进行的对账
//   - APPLYING 之前取消：直接返回 ctx.Err()，不产生任何写入
//   - APPLYING 之后取消：已开始的教职工执行完毕，未开始的记为失败
//
// 返回的 error 与 result.Err() 一致；取消时 result 为 nil。

func (r *Reconciler) Bulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	diff := Diff(req.Baseline, req.Edited)
	res := &BulkResult{
		Diff:      diff,
		Updated:   make([]ReconcileResult, 0, len(diff.Changed)),
		Unchanged: make([]uint, 0),
		Failed:    make([]StaffFailure, 0),
		Baseline:  req.Baseline.Clone(),
	}
	if res.Baseline == nil {
		res.Baseline = make(Matrix)
	}

	changed := make(map[uint]struct{}, len(diff.Changed))
	for _, staffID := range diff.Changed {
		changed[staffID] = struct{}{}
	}
	for _, staffID := range req.Edited.StaffIDs() {
		if _, ok := changed[staffID]; !ok {
			res.Unchanged = append(res.Unchanged, staffID)
		}
	}

	if !diff.HasChanges {
		res.State = StateNoChanges
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ── APPLYING ──
	type outcome struct {
		result *ReconcileResult
		err    error
	}
	outcomes := make([]outcome, len(diff.Changed))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, staffID := range diff.Changed {
		i, staffID := i, staffID
		target := Target{StaffID: staffID, SubjectIDs: diff.PerStaff[staffID]}
		if v, ok := req.Versions[staffID]; ok {
			target.ExpectedVersion = &v
		}
		g.Go(func() error {
			result, err := r.Reconcile(ctx, target)
			outcomes[i] = outcome{result: result, err: err}
			// 始终返回 nil：单个失败不影响其他教职工
			return nil
		})
	}
	_ = g.Wait()

	failed := make(map[uint]struct{})
	for i, staffID := range diff.Changed {
		o := outcomes[i]
		if o.err != nil {
			r.logger.Warn("教职工学科分配对账失败",
				zap.Uint("staff_id", staffID),
				zap.Error(o.err),
			)
			res.Failed = append(res.Failed, StaffFailure{StaffID: staffID, Err: o.err})
			failed[staffID] = struct{}{}
			continue
		}

		if o.result.Changed() {
			res.Updated = append(res.Updated, *o.result)
		} else {
			res.Unchanged = append(res.Unchanged, staffID)
		}
	}
	sortIDs(res.Unchanged)

	// 推进基线：失败的教职工保留原行，下次加载时以存储为准
	for _, staffID := range req.Edited.StaffIDs() {
		if _, ok := failed[staffID]; ok {
			continue
		}
		res.Baseline[staffID] = cloneRow(req.Edited[staffID])
	}

	switch {
	case len(res.Failed) == 0:
		res.State = StateCommitted
	case len(res.Failed) == len(diff.Changed):
		res.State = StateFailed
	default:
		res.State = StatePartialFailure
	}

	return res, res.Err()
}

func cloneRow(row map[uint]bool) map[uint]bool {
	cp := make(map[uint]bool, len(row))
	for k, v := range row {
		cp[k] = v
	}
	return cp
}
