// Package export writes monthly report row-sets as spreadsheet artifacts.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/insurance-engine/report"
)

const sheetName = "Changes"

var header = []interface{}{
	"Record", "Employee Code", "Employee Name", "Change Type", "Reason", "Effective Date",
	"Insurance Salary", "Social", "Health", "Unemployment", "Status", "Adjust Reason", "Contract", "Appendix",
}

// XLSXSink writes one workbook per report into Dir. Re-exporting a report
// overwrites its workbook.
type XLSXSink struct {
	Dir string
}

func NewXLSXSink(dir string) *XLSXSink {
	return &XLSXSink{Dir: dir}
}

// FileName is the workbook name for a report period.
func FileName(r report.Report) string {
	return fmt.Sprintf("insurance-changes-%s.xlsx", r.Period().Key())
}

func (s *XLSXSink) Write(_ context.Context, r report.Report, rows []report.ExportRow) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return "", err
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return "", err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return "", err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", bold); err != nil {
		return "", err
	}

	total := decimal.Zero
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		values := []interface{}{
			row.RecordID,
			row.EmployeeCode,
			row.EmployeeName,
			string(row.ChangeType),
			string(row.Reason),
			row.EffectiveDate,
			row.InsuranceSalary.InexactFloat64(),
			yesNo(row.Coverage.Social),
			yesNo(row.Coverage.Health),
			yesNo(row.Coverage.Unemployment),
			string(row.ApprovalStatus),
			row.AdjustReason,
			row.ContractID,
			row.AppendixID,
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return "", err
		}
		total = total.Add(row.InsuranceSalary)
	}

	totalRow := len(rows) + 2
	labelCell, _ := excelize.CoordinatesToCellName(6, totalRow)
	sumCell, _ := excelize.CoordinatesToCellName(7, totalRow)
	if err := f.SetCellValue(sheetName, labelCell, "Total"); err != nil {
		return "", err
	}
	if err := f.SetCellValue(sheetName, sumCell, total.InexactFloat64()); err != nil {
		return "", err
	}

	path := filepath.Join(s.Dir, FileName(r))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook %s: %w", path, err)
	}
	return path, nil
}

func yesNo(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

var _ report.ExportSink = (*XLSXSink)(nil)
