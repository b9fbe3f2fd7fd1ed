package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ErrExportGenerateFail 生成 Excel 失败
var ErrExportGenerateFail = errors.New("生成 Excel 文件失败")

const exportSheetName = "Subject Assignments"

// ═══════════════════════════════════════════════════════════
// ExportMatrix 导出学科分配矩阵
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - 单个 Sheet，行为任课教职工，列为学科
//   - 前三列：姓名 / 职位 / 部门；最后一列：已分配学科数
//   - 已分配的单元格填 "✓"
//   - 冻结表头与前三列

func (s *assignmentService) ExportMatrix(ctx context.Context) (*bytes.Buffer, string, error) {
	m, err := s.GetMatrix(ctx)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(exportSheetName)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrExportGenerateFail, err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headers := []string{"Name", "Position", "Division"}
	for _, subj := range m.Subjects {
		label := subj.Name
		if subj.Code != nil && *subj.Code != "" {
			label = fmt.Sprintf("%s (%s)", subj.Name, *subj.Code)
		}
		headers = append(headers, label)
	}
	headers = append(headers, "Total")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheetName, cell, h)
	}

	// 列宽
	f.SetColWidth(exportSheetName, "A", "A", 28)
	f.SetColWidth(exportSheetName, "B", "C", 20)
	if len(m.Subjects) > 0 {
		first, _ := excelize.ColumnNumberToName(4)
		last, _ := excelize.ColumnNumberToName(3 + len(m.Subjects))
		f.SetColWidth(exportSheetName, first, last, 14)
	}

	// 样式
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	markStyle, _ := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	f.SetCellStyle(exportSheetName, "A1", lastHeader, headerStyle)

	for r, st := range m.Staff {
		row := r + 2
		f.SetCellValue(exportSheetName, fmt.Sprintf("A%d", row), st.Name)
		f.SetCellValue(exportSheetName, fmt.Sprintf("B%d", row), st.Position)
		f.SetCellValue(exportSheetName, fmt.Sprintf("C%d", row), st.Division)

		for c, subj := range m.Subjects {
			if !m.Matrix[st.ID][subj.ID] {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(4+c, row)
			f.SetCellValue(exportSheetName, cell, "✓")
			f.SetCellStyle(exportSheetName, cell, cell, markStyle)
		}

		totalCell, _ := excelize.CoordinatesToCellName(len(headers), row)
		f.SetCellValue(exportSheetName, totalCell, len(st.SubjectIDs))
	}

	f.SetPanes(exportSheetName, &excelize.Panes{
		Freeze:      true,
		XSplit:      3,
		YSplit:      1,
		TopLeftCell: "D2",
		ActivePane:  "bottomRight",
	})

	buf, err := f.WriteToBuffer()
	if err != nil {
		s.logger.Error("写出 Excel 失败", zap.Error(err))
		return nil, "", fmt.Errorf("%w: %w", ErrExportGenerateFail, err)
	}

	filename := fmt.Sprintf("subject-assignments-%s.xlsx", time.Now().Format("20060102"))
	return buf, filename, nil
}
