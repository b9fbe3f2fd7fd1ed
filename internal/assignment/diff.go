package assignment

// DiffResult 基线与编辑后矩阵的差异
type DiffResult struct {
	// HasChanges 至少一名教职工的已分配学科集合发生变化
	HasChanges bool
	// PerStaff 编辑后矩阵中每名教职工的已分配学科（升序）
	PerStaff map[uint][]uint
	// Changed 集合发生变化的教职工 ID（升序）
	Changed []uint
}

// Diff 以集合语义比较基线与编辑后矩阵
//
// 只考察 edited 中出现的教职工；基线缺失的行视为空集合。
// 顺序无关：{5,6} 与 {6,5} 相同。
func Diff(baseline, edited Matrix) DiffResult {
	res := DiffResult{
		PerStaff: make(map[uint][]uint, len(edited)),
		Changed:  make([]uint, 0),
	}

	for _, staffID := range edited.StaffIDs() {
		after := edited.Subjects(staffID)
		res.PerStaff[staffID] = after

		if !equalIDs(baseline.Subjects(staffID), after) {
			res.Changed = append(res.Changed, staffID)
		}
	}

	res.HasChanges = len(res.Changed) > 0
	return res
}
