// Package assignment 实现教职工-学科分配矩阵的构建、编辑、比对与落库对账。
//
// 矩阵是调用方持有的值：BuildBaseline / Toggle / Diff 都是纯函数，
// 只有 Reconciler 会访问存储。
package assignment

import "sort"

// Matrix 分配矩阵：staffID → subjectID → 是否已分配
type Matrix map[uint]map[uint]bool

// Pair 一条已持久化的分配关系
type Pair struct {
	StaffID   uint
	SubjectID uint
}

// BuildBaseline 根据已持久化的分配关系构建基线矩阵
//
// 结果是稠密的：staffIDs × subjectIDs 的每个单元格都存在。
// 引用了列表之外的教职工或学科的 pair 会被忽略。
func BuildBaseline(staffIDs, subjectIDs []uint, pairs []Pair) Matrix {
	assigned := make(map[Pair]struct{}, len(pairs))
	for _, p := range pairs {
		assigned[p] = struct{}{}
	}

	m := make(Matrix, len(staffIDs))
	for _, staffID := range staffIDs {
		row := make(map[uint]bool, len(subjectIDs))
		for _, subjectID := range subjectIDs {
			_, ok := assigned[Pair{StaffID: staffID, SubjectID: subjectID}]
			row[subjectID] = ok
		}
		m[staffID] = row
	}
	return m
}

// Toggle 翻转单个单元格并返回新矩阵，原矩阵不变
// 单元格不存在说明矩阵已过期，返回 *InvalidCellError
func Toggle(m Matrix, staffID, subjectID uint) (Matrix, error) {
	row, ok := m[staffID]
	if !ok {
		return nil, &InvalidCellError{StaffID: staffID, SubjectID: subjectID}
	}
	current, ok := row[subjectID]
	if !ok {
		return nil, &InvalidCellError{StaffID: staffID, SubjectID: subjectID}
	}

	next := m.Clone()
	next[staffID][subjectID] = !current
	return next, nil
}

// Clone 深拷贝矩阵
func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for staffID, row := range m {
		cp := make(map[uint]bool, len(row))
		for subjectID, v := range row {
			cp[subjectID] = v
		}
		out[staffID] = cp
	}
	return out
}

// Subjects 返回某教职工已分配学科 ID（升序）
func (m Matrix) Subjects(staffID uint) []uint {
	row := m[staffID]
	ids := make([]uint, 0, len(row))
	for subjectID, v := range row {
		if v {
			ids = append(ids, subjectID)
		}
	}
	sortIDs(ids)
	return ids
}

// StaffIDs 返回矩阵中的教职工 ID（升序）
func (m Matrix) StaffIDs() []uint {
	ids := make([]uint, 0, len(m))
	for staffID := range m {
		ids = append(ids, staffID)
	}
	sortIDs(ids)
	return ids
}

// Equal 比较两个矩阵的单元格是否完全一致
func (m Matrix) Equal(other Matrix) bool {
	if len(m) != len(other) {
		return false
	}
	for staffID, row := range m {
		otherRow, ok := other[staffID]
		if !ok || len(row) != len(otherRow) {
			return false
		}
		for subjectID, v := range row {
			ov, ok := otherRow[subjectID]
			if !ok || ov != v {
				return false
			}
		}
	}
	return true
}

// ── ID 集合工具 ──

func sortIDs(ids []uint) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// normalizeIDs 去重并升序排列
func normalizeIDs(ids []uint) []uint {
	out := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// subtractIDs 返回 a − b（升序）
func subtractIDs(a, b []uint) []uint {
	exclude := make(map[uint]struct{}, len(b))
	for _, id := range b {
		exclude[id] = struct{}{}
	}
	out := make([]uint, 0)
	for _, id := range a {
		if _, ok := exclude[id]; !ok {
			out = append(out, id)
		}
	}
	return normalizeIDs(out)
}

func equalIDs(a, b []uint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
