package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/saffronlab/loom/internal/domain"
)

const sheetName = "Grounded Theory"

// Excel renders one row per highlight: code, its categories, the source
// document and the quoted text.
func (s *Service) Excel(p domain.Project) (*Result, error) {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("drop default sheet: %w", err)
	}

	header := []any{"Code", "Category", "Document", "Quote"}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	categoriesByCode := make(map[string][]string)
	for _, cat := range p.Categories {
		for _, codeID := range cat.ContainedCodeIDs {
			categoriesByCode[codeID] = append(categoriesByCode[codeID], cat.Name)
		}
	}

	row := 2
	for _, hl := range p.Highlights {
		code := p.CodeByID(hl.CodeID)
		doc := p.DocumentByID(hl.DocumentID)
		if code == nil || doc == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, err
		}
		values := []any{
			code.Name,
			strings.Join(categoriesByCode[code.ID], ", "),
			doc.Title,
			slice(doc.Text(), hl.StartIndex, hl.EndIndex),
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		row++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return &Result{
		Data:     buf.Bytes(),
		Filename: "grounded_theory_report.xlsx",
		MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}, nil
}
