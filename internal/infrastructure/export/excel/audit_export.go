package excel

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/veracta/doclifecycle/internal/core/domain"
)

const sheetName = "Transitions"

var headers = []string{
	"Transition ID", "Workflow ID", "Document", "From", "To",
	"Actor", "Comment", "Data", "Occurred At (UTC)",
}

// AuditExporter renders a transition history as an XLSX workbook for
// compliance reporting.
type AuditExporter struct{}

func NewAuditExporter() *AuditExporter {
	return &AuditExporter{}
}

// Write streams the workbook to w. Transitions are written in the order
// given; callers pass them already ordered by occurrence.
func (e *AuditExporter) Write(w io.Writer, documentRef string, transitions []domain.DocumentTransition) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("header cell name: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for i, t := range transitions {
		values := []any{
			t.ID,
			t.WorkflowID,
			t.DocumentRef,
			string(t.FromState),
			string(t.ToState),
			t.Actor,
			t.Comment,
			marshalData(t.TransitionData),
			t.OccurredAt.UTC().Format(time.RFC3339),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return fmt.Errorf("cell name: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("write row %d: %w", i+2, err)
			}
		}
	}

	if err := f.SetColWidth(sheetName, "A", "C", 38); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetColWidth(sheetName, "D", "I", 24); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Transition audit trail: " + documentRef,
		Created: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("set doc properties: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func marshalData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(raw)
}
