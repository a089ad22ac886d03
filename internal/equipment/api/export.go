package api

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/aed-compliance/platform/internal/equipment/domain"
)

const exportSheet = "AED"

var exportHeader = []any{
	"관리번호", "장비연번", "시도", "구군", "설치주소", "설치위치",
	"관할시도", "관할구군", "설치기관", "기관전화", "관리책임자", "관리자전화", "관리자이메일",
	"분류1", "분류2", "분류3", "모델명", "제조사",
	"배터리유효기간", "패드유효기간", "최근점검일", "유효기간상태",
}

var exportWidths = []float64{16, 14, 12, 10, 36, 20, 12, 10, 28, 14, 12, 14, 24, 14, 14, 14, 16, 16, 14, 14, 14, 12}

// workbook writes equipment rows through excelize's stream writer so large
// exports do not hold every cell in memory.
type workbook struct {
	f    *excelize.File
	sw   *excelize.StreamWriter
	rows int
}

func newWorkbook() (*workbook, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(exportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create stream writer: %w", err)
	}

	for i, width := range exportWidths {
		if err := sw.SetColWidth(i+1, i+1, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]any, len(exportHeader))
	for i, v := range exportHeader {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: v}
	}
	if err := sw.SetRow("A1", header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &workbook{f: f, sw: sw}, nil
}

// Add appends one device.
func (x *workbook) Add(e *domain.Equipment, now time.Time, leadDays int) error {
	cell, err := excelize.CoordinatesToCellName(1, x.rows+2)
	if err != nil {
		return err
	}
	row := []any{
		e.ManagementNumber, e.EquipmentSerial, e.Sido, e.Gugun, e.InstallAddress, e.InstallDetail,
		e.JurisdictionSido, e.JurisdictionGugun, e.InstitutionName, e.InstitutionPhone,
		e.ManagerName, e.ManagerPhone, e.ManagerEmail,
		e.Category1, e.Category2, e.Category3, e.ModelName, e.Manufacturer,
		formatDate(e.BatteryExpiry), formatDate(e.PatchExpiry), formatDate(e.LastInspectionDate),
		string(e.ExpiryStatus(now, leadDays)),
	}
	if err := x.sw.SetRow(cell, row); err != nil {
		return fmt.Errorf("failed to write row %d: %w", x.rows+2, err)
	}
	x.rows++
	return nil
}

// Rows returns the number of data rows written.
func (x *workbook) Rows() int { return x.rows }

// Write flushes the stream and writes the workbook to w.
func (x *workbook) Write(w io.Writer) error {
	if err := x.sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	_, err := x.f.WriteTo(w)
	return err
}

func (x *workbook) Close() error {
	return x.f.Close()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
