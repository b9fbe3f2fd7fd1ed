package assignment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	pkgerrors "github.com/noorqidam/satam-kahiji-sub002/pkg/errors"
)

func newTestReconciler(store Store, opts ...Option) *Reconciler {
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	return NewReconciler(store, opts...)
}

// ── Reconcile 测试 ──

func TestReconcile_Scenario42(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}})
	r := newTestReconciler(store)

	res, err := r.Reconcile(context.Background(), Target{StaffID: 42, SubjectIDs: []uint{2, 3}})
	if err != nil {
		t.Fatalf("Reconcile 应成功: %v", err)
	}
	if !equalIDs(res.Added, []uint{3}) {
		t.Errorf("期望 toAdd=[3]，实际 %v", res.Added)
	}
	if !equalIDs(res.Removed, []uint{1}) {
		t.Errorf("期望 toRemove=[1]，实际 %v", res.Removed)
	}
	if got := store.current(42); !equalIDs(got, []uint{2, 3}) {
		t.Errorf("期望持久化集合 [2 3]，实际 %v", got)
	}
	if res.Version != 2 {
		t.Errorf("期望版本号 2，实际 %d", res.Version)
	}
}

func TestReconcile_AddsBeforeRemoves(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}})
	r := newTestReconciler(store)

	if _, err := r.Reconcile(context.Background(), Target{StaffID: 42, SubjectIDs: []uint{2, 3}}); err != nil {
		t.Fatalf("Reconcile 应成功: %v", err)
	}
	if len(store.ops) != 2 || store.ops[0] != "add" || store.ops[1] != "remove" {
		t.Errorf("期望先 add 后 remove，实际 %v", store.ops)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}})
	r := newTestReconciler(store)
	ctx := context.Background()

	first, err := r.Reconcile(ctx, Target{StaffID: 42, SubjectIDs: []uint{3, 2, 3}})
	if err != nil {
		t.Fatalf("第一次 Reconcile 失败: %v", err)
	}
	second, err := r.Reconcile(ctx, Target{StaffID: 42, SubjectIDs: []uint{2, 3}})
	if err != nil {
		t.Fatalf("第二次 Reconcile 失败: %v", err)
	}
	if len(second.Added) != 0 || len(second.Removed) != 0 {
		t.Errorf("第二次应无增删，实际 add=%v remove=%v", second.Added, second.Removed)
	}
	if second.Changed() {
		t.Error("第二次不应标记为已变更")
	}
	if second.Version != first.Version {
		t.Errorf("无变更时版本号不应增加: %d → %d", first.Version, second.Version)
	}
	if got := store.current(42); !equalIDs(got, []uint{2, 3}) {
		t.Errorf("期望 [2 3]，实际 %v", got)
	}
}

func TestReconcile_RoundTrip(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {}})
	r := newTestReconciler(store)
	ctx := context.Background()

	x := []uint{1, 4, 7}
	y := []uint{2, 4, 9, 10}
	for _, target := range [][]uint{x, y, x} {
		if _, err := r.Reconcile(ctx, Target{StaffID: 42, SubjectIDs: target}); err != nil {
			t.Fatalf("Reconcile 失败: %v", err)
		}
	}
	if got := store.current(42); !equalIDs(got, x) {
		t.Errorf("X→Y→X 后期望 %v，实际 %v", x, got)
	}
}

func TestReconcile_EmptyTargetClearsAll(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}})
	r := newTestReconciler(store)

	res, err := r.Reconcile(context.Background(), Target{StaffID: 42})
	if err != nil {
		t.Fatalf("Reconcile 应成功: %v", err)
	}
	if !equalIDs(res.Removed, []uint{1, 2}) {
		t.Errorf("期望移除 [1 2]，实际 %v", res.Removed)
	}
	if len(store.current(42)) != 0 {
		t.Error("期望清空")
	}
}

func TestReconcile_FailureRollsBack(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}})
	store.failOn[42] = "remove"
	r := newTestReconciler(store)

	_, err := r.Reconcile(context.Background(), Target{StaffID: 42, SubjectIDs: []uint{2, 3}})
	var recErr *ReconcileError
	if !errors.As(err, &recErr) {
		t.Fatalf("期望 *ReconcileError，实际: %v", err)
	}
	if recErr.StaffID != 42 {
		t.Errorf("期望 StaffID=42，实际 %d", recErr.StaffID)
	}
	if !errors.Is(err, errStoreDown) {
		t.Errorf("期望保留底层错误，实际: %v", err)
	}
	// 已执行的 add 随事务一起回滚
	if got := store.current(42); !equalIDs(got, []uint{1, 2}) {
		t.Errorf("失败后持久化集合应保持 [1 2]，实际 %v", got)
	}
}

func TestReconcile_OptimisticLock(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1}})
	r := newTestReconciler(store)
	ctx := context.Background()

	stale := 1
	if _, err := r.Reconcile(ctx, Target{StaffID: 42, SubjectIDs: []uint{2}, ExpectedVersion: &stale}); err != nil {
		t.Fatalf("版本匹配时应成功: %v", err)
	}

	// 版本已变为 2，再用 1 提交应被拒绝
	_, err := r.Reconcile(ctx, Target{StaffID: 42, SubjectIDs: []uint{3}, ExpectedVersion: &stale})
	if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		t.Fatalf("期望 ErrOptimisticLock，实际: %v", err)
	}
	if got := store.current(42); !equalIDs(got, []uint{2}) {
		t.Errorf("被拒绝的提交不应生效，实际 %v", got)
	}
}

func TestReconcile_CancelledBeforeStart(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1}})
	r := newTestReconciler(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Reconcile(ctx, Target{StaffID: 42, SubjectIDs: []uint{2}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际: %v", err)
	}
	if store.txs != 0 {
		t.Error("取消后不应开启事务")
	}
}

// cancelOnLockStore 在事务开始后取消调用方的 context
type cancelOnLockStore struct {
	*memStore
	cancel context.CancelFunc
}

func (s *cancelOnLockStore) InStaffTx(ctx context.Context, staffID uint, fn func(tx StaffAssignments) error) error {
	s.cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return s.memStore.InStaffTx(ctx, staffID, fn)
}

func TestReconcile_RunsToCompletionAfterStart(t *testing.T) {
	mem := newMemStore(map[uint][]uint{42: {1}})
	ctx, cancel := context.WithCancel(context.Background())
	r := newTestReconciler(&cancelOnLockStore{memStore: mem, cancel: cancel})

	if _, err := r.Reconcile(ctx, Target{StaffID: 42, SubjectIDs: []uint{2}}); err != nil {
		t.Fatalf("事务开始后的取消不应中断对账: %v", err)
	}
	if got := mem.current(42); !equalIDs(got, []uint{2}) {
		t.Errorf("期望 [2]，实际 %v", got)
	}
}

// ── RemoveOne 测试 ──

func TestRemoveOne(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}})
	r := newTestReconciler(store)
	ctx := context.Background()

	res, err := r.RemoveOne(ctx, 42, 1)
	if err != nil {
		t.Fatalf("RemoveOne 应成功: %v", err)
	}
	if !equalIDs(res.Removed, []uint{1}) || len(res.Added) != 0 {
		t.Errorf("期望仅移除 1，实际 add=%v remove=%v", res.Added, res.Removed)
	}
	if got := store.current(42); !equalIDs(got, []uint{2}) {
		t.Errorf("期望 [2]，实际 %v", got)
	}

	// 再次移除同一学科是空操作
	again, err := r.RemoveOne(ctx, 42, 1)
	if err != nil {
		t.Fatalf("重复 RemoveOne 应成功: %v", err)
	}
	if again.Changed() {
		t.Error("重复移除不应产生变更")
	}
}

// ── Bulk 测试 ──

func TestBulk_NoChangesMakesNoStoreCalls(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}, 43: {3}})
	r := newTestReconciler(store)
	baseline := sampleBaseline()

	res, err := r.Bulk(context.Background(), BulkRequest{Baseline: baseline, Edited: baseline.Clone()})
	if err != nil {
		t.Fatalf("Bulk 应成功: %v", err)
	}
	if res.State != StateNoChanges {
		t.Errorf("期望 no_changes，实际 %s", res.State)
	}
	if store.txs != 0 {
		t.Errorf("无变更时不应访问存储，实际事务数 %d", store.txs)
	}
	if len(res.Unchanged) != 2 {
		t.Errorf("期望 2 名未变更，实际 %v", res.Unchanged)
	}
}

func TestBulk_CommittedAdvancesBaseline(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}, 43: {3}})
	r := newTestReconciler(store)
	baseline := sampleBaseline()

	edited, _ := Toggle(baseline, 42, 1)
	edited, _ = Toggle(edited, 42, 3)

	res, err := r.Bulk(context.Background(), BulkRequest{Baseline: baseline, Edited: edited})
	if err != nil {
		t.Fatalf("Bulk 应成功: %v", err)
	}
	if res.State != StateCommitted {
		t.Errorf("期望 committed，实际 %s", res.State)
	}
	if ids := res.UpdatedIDs(); !equalIDs(ids, []uint{42}) {
		t.Errorf("期望更新 [42]，实际 %v", ids)
	}
	if !equalIDs(res.Unchanged, []uint{43}) {
		t.Errorf("期望未变更 [43]，实际 %v", res.Unchanged)
	}
	if !res.Baseline.Equal(edited) {
		t.Error("全部成功后基线应等于编辑后矩阵")
	}
	if got := store.current(42); !equalIDs(got, []uint{2, 3}) {
		t.Errorf("期望 [2 3]，实际 %v", got)
	}
	if Diff(res.Baseline, edited).HasChanges {
		t.Error("推进后的基线与编辑矩阵应无差异")
	}
}

func TestBulk_PartialFailure(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}, 43: {3}})
	store.failOn[43] = "add"
	r := newTestReconciler(store)
	baseline := sampleBaseline()

	edited, _ := Toggle(baseline, 42, 3)
	edited, _ = Toggle(edited, 43, 1)

	res, err := r.Bulk(context.Background(), BulkRequest{Baseline: baseline, Edited: edited})

	var partial *PartialBulkFailure
	if !errors.As(err, &partial) {
		t.Fatalf("期望 *PartialBulkFailure，实际: %v", err)
	}
	if res.State != StatePartialFailure {
		t.Errorf("期望 partial_failure，实际 %s", res.State)
	}
	if !equalIDs(res.UpdatedIDs(), []uint{42}) {
		t.Errorf("期望更新 [42]，实际 %v", res.UpdatedIDs())
	}
	if len(res.Failed) != 1 || res.Failed[0].StaffID != 43 {
		t.Fatalf("期望失败 [43]，实际 %+v", res.Failed)
	}
	if !errors.Is(err, errStoreDown) {
		t.Error("部分失败应能通过 errors.Is 追溯到根因")
	}

	// 42 的基线推进，43 保持原样
	if !res.Baseline[42][3] {
		t.Error("42 的基线应推进到编辑后状态")
	}
	if res.Baseline[43][1] {
		t.Error("43 的基线不应推进")
	}
	if got := store.current(43); !equalIDs(got, []uint{3}) {
		t.Errorf("43 的持久化集合应保持 [3]，实际 %v", got)
	}
	if got := store.current(42); !equalIDs(got, []uint{1, 2, 3}) {
		t.Errorf("42 的持久化集合应为 [1 2 3]，实际 %v", got)
	}
}

func TestBulk_AllFailed(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}, 43: {3}})
	store.failOn[42] = "lock"
	store.failOn[43] = "lock"
	r := newTestReconciler(store)
	baseline := sampleBaseline()

	edited, _ := Toggle(baseline, 42, 3)
	edited, _ = Toggle(edited, 43, 1)

	res, err := r.Bulk(context.Background(), BulkRequest{Baseline: baseline, Edited: edited})
	if !errors.Is(err, ErrBulkFailed) {
		t.Fatalf("期望 ErrBulkFailed，实际: %v", err)
	}
	if res.State != StateFailed {
		t.Errorf("期望 failed，实际 %s", res.State)
	}
	if len(res.Updated) != 0 {
		t.Errorf("不应有成功的教职工，实际 %v", res.UpdatedIDs())
	}
	if !res.Baseline.Equal(baseline) {
		t.Error("全部失败时基线不应推进")
	}
}

func TestBulk_CancelledBeforeApplying(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}})
	r := newTestReconciler(store)
	baseline := sampleBaseline()
	edited, _ := Toggle(baseline, 42, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := r.Bulk(ctx, BulkRequest{Baseline: baseline, Edited: edited})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际: %v", err)
	}
	if res != nil {
		t.Error("取消时不应返回结果")
	}
	if store.txs != 0 {
		t.Error("取消后不应有任何写入")
	}
}

func TestBulk_StaleBaselineCountsAsUnchanged(t *testing.T) {
	// 存储已经是编辑后的状态（例如另一位管理员刚保存过）
	store := newMemStore(map[uint][]uint{42: {1, 2, 3}})
	r := newTestReconciler(store)
	baseline := BuildBaseline([]uint{42}, []uint{1, 2, 3}, []Pair{{42, 1}, {42, 2}})
	edited, _ := Toggle(baseline, 42, 3)

	res, err := r.Bulk(context.Background(), BulkRequest{Baseline: baseline, Edited: edited})
	if err != nil {
		t.Fatalf("Bulk 应成功: %v", err)
	}
	if res.State != StateCommitted {
		t.Errorf("期望 committed，实际 %s", res.State)
	}
	if len(res.Updated) != 0 || !equalIDs(res.Unchanged, []uint{42}) {
		t.Errorf("存储已一致时应计为未变更: updated=%v unchanged=%v", res.UpdatedIDs(), res.Unchanged)
	}
}

func TestBulk_VersionsAreChecked(t *testing.T) {
	store := newMemStore(map[uint][]uint{42: {1, 2}, 43: {3}})
	r := newTestReconciler(store)
	baseline := sampleBaseline()
	edited, _ := Toggle(baseline, 42, 3)
	edited, _ = Toggle(edited, 43, 2)

	res, err := r.Bulk(context.Background(), BulkRequest{
		Baseline: baseline,
		Edited:   edited,
		Versions: map[uint]int{42: 1, 43: 5},
	})
	if res.State != StatePartialFailure {
		t.Fatalf("期望 partial_failure，实际 %s (%v)", res.State, err)
	}
	if !errors.Is(res.Failed[0].Err, pkgerrors.ErrOptimisticLock) {
		t.Errorf("43 应因版本冲突失败，实际: %v", res.Failed[0].Err)
	}
}

// countingStore 记录并发执行的峰值
type countingStore struct {
	*memStore
	inFlight atomic.Int32
	peak     atomic.Int32
	release  chan struct{}
}

func (s *countingStore) InStaffTx(ctx context.Context, staffID uint, fn func(tx StaffAssignments) error) error {
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-s.release
	defer s.inFlight.Add(-1)
	return s.memStore.InStaffTx(ctx, staffID, fn)
}

func TestBulk_ConcurrentIndependentFailures(t *testing.T) {
	initial := map[uint][]uint{}
	staffIDs := []uint{1, 2, 3, 4, 5, 6}
	for _, id := range staffIDs {
		initial[id] = []uint{}
	}
	mem := newMemStore(initial)
	mem.failOn[3] = "add"
	store := &countingStore{memStore: mem, release: make(chan struct{})}
	close(store.release)

	r := newTestReconciler(store, WithConcurrency(3))
	baseline := BuildBaseline(staffIDs, []uint{10}, nil)
	edited := baseline.Clone()
	for _, id := range staffIDs {
		edited[id][10] = true
	}

	res, err := r.Bulk(context.Background(), BulkRequest{Baseline: baseline, Edited: edited})
	var partial *PartialBulkFailure
	if !errors.As(err, &partial) {
		t.Fatalf("期望部分失败，实际: %v", err)
	}
	if len(res.Updated) != 5 || len(res.Failed) != 1 || res.Failed[0].StaffID != 3 {
		t.Errorf("期望 5 成功 1 失败，实际 updated=%v failed=%+v", res.UpdatedIDs(), res.Failed)
	}
	if p := store.peak.Load(); p > 3 {
		t.Errorf("并发峰值不应超过 3，实际 %d", p)
	}
	if !equalIDs(res.UpdatedIDs(), []uint{1, 2, 4, 5, 6}) {
		t.Errorf("结果应按 staffID 升序，实际 %v", res.UpdatedIDs())
	}
}
