// Package export renders admin views as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"interviewprep/pkg/domain"
)

const (
	reportsSheet = "Reports"
	itemsSheet   = "Items"
)

var (
	reportHeaders = []string{"Report ID", "User ID", "Interview ID", "Version ID", "Status", "Items", "Refunded", "Description", "Admin Response", "Created At"}
	itemHeaders   = []string{"Report ID", "Kind", "Category", "Index", "Refunded", "Refund Amount", "Refunded At"}
)

// WriteReports writes a workbook with one row per report and one row per flagged item.
func WriteReports(w io.Writer, reports []domain.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportsSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	statusStyles, err := newStatusStyles(f)
	if err != nil {
		return err
	}

	if err := writeHeader(f, reportsSheet, reportHeaders, headerStyle); err != nil {
		return err
	}
	if err := writeHeader(f, itemsSheet, itemHeaders, headerStyle); err != nil {
		return err
	}
	_ = f.SetColWidth(reportsSheet, "A", "D", 38)
	_ = f.SetColWidth(reportsSheet, "H", "I", 50)
	_ = f.SetColWidth(itemsSheet, "A", "A", 38)
	_ = f.SetColWidth(itemsSheet, "C", "C", 26)

	itemRow := 2
	for i, r := range reports {
		row := i + 2
		refunded := 0
		for _, it := range append(append([]domain.ReportItem{}, r.Items.Questions...), r.Items.Answers...) {
			if it.Refunded {
				refunded++
			}
		}
		values := []any{
			r.ID, r.UserID, r.InterviewID, r.QAVersionID, string(r.Status),
			r.Items.Count(), refunded, r.Description, r.AdminResponse,
			r.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		if err := setRow(f, reportsSheet, row, values); err != nil {
			return err
		}
		if style, ok := statusStyles[r.Status]; ok {
			cell := fmt.Sprintf("E%d", row)
			_ = f.SetCellStyle(reportsSheet, cell, cell, style)
		}

		for _, group := range []struct {
			kind  domain.ItemKind
			items []domain.ReportItem
		}{{domain.ItemQuestion, r.Items.Questions}, {domain.ItemAnswer, r.Items.Answers}} {
			for _, it := range group.items {
				refundedAt := ""
				if it.RefundedAt != nil {
					refundedAt = it.RefundedAt.UTC().Format("2006-01-02 15:04:05")
				}
				values := []any{r.ID, string(group.kind), it.Category, it.Index, it.Refunded, it.RefundAmount.StringFixed(1), refundedAt}
				if err := setRow(f, itemsSheet, itemRow, values); err != nil {
					return err
				}
				itemRow++
			}
		}
	}

	_, err = f.WriteTo(w)
	return err
}

func newStatusStyles(f *excelize.File) (map[domain.ReportStatus]int, error) {
	colors := map[domain.ReportStatus]string{
		domain.ReportPending:  "FFEB9C",
		domain.ReportInReview: "BDD7EE",
		domain.ReportResolved: "C6EFCE",
		domain.ReportRejected: "FFC7CE",
	}
	out := make(map[domain.ReportStatus]int, len(colors))
	for status, color := range colors {
		style, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return nil, err
		}
		out[status] = style
	}
	return out, nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
