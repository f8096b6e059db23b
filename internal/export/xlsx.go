package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Annotations"

// renderXLSX flattens the organized records into one spreadsheet row per
// label group coding that saw any activity.
func renderXLSX(records []Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header := []interface{}{"Annotation", "Created", "Label", "Variant", "Chain", "Scales", "Evidence", "Comments", "Summary"}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	row := 2
	for _, rec := range records {
		for _, group := range rec.Groups {
			for _, variant := range []struct {
				name   string
				coding Coding
			}{
				{"main", group.Main},
				{"additional", group.Additional},
			} {
				if codingEmpty(variant.coding) {
					continue
				}
				cells := []interface{}{
					rec.AnnotationID,
					rec.CreatedAt.Format("2006-01-02 15:04:05"),
					group.Label,
					variant.name,
					strings.Join(variant.coding.Labels, " > "),
					joinScales(variant.coding.Scales),
					joinInts(variant.coding.Evidence),
					strings.Join(variant.coding.Comments, "; "),
					rec.CommentSummary,
				}
				cell, err := excelize.CoordinatesToCellName(1, row)
				if err != nil {
					return nil, fmt.Errorf("cell name: %w", err)
				}
				if err := f.SetSheetRow(sheetName, cell, &cells); err != nil {
					return nil, fmt.Errorf("write row %d: %w", row, err)
				}
				row++
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func codingEmpty(c Coding) bool {
	return len(c.Labels) == 0 && len(c.Scales) == 0 && len(c.Evidence) == 0 && len(c.Comments) == 0
}

func joinScales(pairs []ScalePair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Title, p.Level))
	}
	return strings.Join(parts, "; ")
}

func joinInts(ns []int) string {
	parts := make([]string, 0, len(ns))
	for _, n := range ns {
		parts = append(parts, strconv.Itoa(n))
	}
	return strings.Join(parts, ", ")
}
