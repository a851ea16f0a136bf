package invoice

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/v2fin/backoffice/pkg/logger"
)

// RenderEntity produces the workbook and PDF artifacts for a single entity
// and returns the paths written. File names carry a numeric suffix when an
// earlier run already produced the same base name. A PDF failure is logged
// and the entity still counts as processed.
func RenderEntity(row EntityRow, invoiceYear, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	fees := ComputeFees(row)

	baseName := fmt.Sprintf("Year end performance fee Calculation %s #%s", invoiceYear, row.EntityID)
	excelPath := filepath.Join(outputDir, baseName+".xlsx")
	pdfPath := filepath.Join(outputDir, baseName+".pdf")

	for counter := 1; exists(excelPath) || exists(pdfPath); counter++ {
		excelPath = filepath.Join(outputDir, fmt.Sprintf("%s_%d.xlsx", baseName, counter))
		pdfPath = filepath.Join(outputDir, fmt.Sprintf("%s_%d.pdf", baseName, counter))
	}

	if err := WriteWorkbook(row, fees, invoiceYear, excelPath); err != nil {
		return nil, fmt.Errorf("render workbook for entity %s: %w", row.EntityID, err)
	}

	generated := []string{excelPath}

	if err := WritePDF(row, fees, invoiceYear, pdfPath); err != nil {
		logger.Error("PDF generation failed, continuing without it",
			zap.String("entity_id", row.EntityID),
			zap.Error(err))
	} else {
		generated = append(generated, pdfPath)
	}

	return generated, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
