package invoice

import (
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// WritePDF renders the PDF edition of the calculation for one entity. The
// layout mirrors the workbook: centered title block, the label/value table,
// then the quarterly fee grid. PDF output is best-effort at the pipeline
// level; callers log and continue on error.
func WritePDF(row EntityRow, fees FeeBreakdown, invoiceYear, outputPath string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "PERFORMANCE FEE CALCULATION", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 7, fmt.Sprintf("Perf Based %s Aggressive", formatPercent(row.PerformanceFeeRate)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	lines := [][2]string{
		{"Inception date of performance based billing", formatDate(row.InceptionDate)},
		{fmt.Sprintf("%s year end AUM", invoiceYear), formatCurrency(row.PeriodEndingMarketValue)},
		{"Since inception IRR after fees", formatPercent(row.InceptionPerformance)},
		{"Since inception benchmark", formatPercent(row.InceptionBenchmark)},
		{fmt.Sprintf("%s IRR after fees", invoiceYear), formatPercent(row.PeriodPerformance)},
		{fmt.Sprintf("%s benchmark", invoiceYear), formatPercent(row.YearBenchmark)},
		{fmt.Sprintf("Excess return over benchmark - %s", invoiceYear), formatPercent(fees.ExcessReturn * 100)},
		{"Performance fee rate", formatPercent(row.PerformanceFeeRate)},
		{"Performance fee $", formatCurrency(fees.PerformanceFee)},
		{"Performance fee %", formatPercent(safeRatio(fees.PerformanceFee, row.PeriodEndingMarketValue) * 100)},
		{fmt.Sprintf("Quarterly asset based Fees already billed during %s", invoiceYear), formatCurrency(row.QuarterlyTotal())},
		{"Total fees (Asset based + Performance)", formatCurrency(fees.TotalFees)},
		{"Fees as % of year end AUM", formatPercent(safeRatio(fees.TotalFees, row.PeriodEndingMarketValue) * 100)},
		{"Fee cap", formatPercent(row.FeeCap)},
		{"Adjusted total fees (if cap exceeded)", formatCurrency(fees.AdjustedTotalFees)},
		{"Adjusted final performance fees", formatCurrency(fees.AdjustedFinalFees)},
	}

	for _, line := range lines {
		pdf.SetFont("Helvetica", "", 10)
		pdf.CellFormat(120, 6, line[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(0, 6, line[1], "", 1, "R", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(120, 7, fmt.Sprintf("Quarterly Asset based fees during %s", invoiceYear), "1", 1, "C", false, 0, "")

	headers := []string{"Q1", "Q2", "Q3", "Q4"}
	for _, header := range headers {
		pdf.CellFormat(30, 6, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	values := []string{
		formatCurrency(row.Q1Fees), formatCurrency(row.Q2Fees),
		formatCurrency(row.Q3Fees), formatCurrency(row.Q4Fees),
	}
	for _, value := range values {
		pdf.CellFormat(30, 6, value, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	dates := []string{
		"1/21/" + invoiceYear, "4/27/" + invoiceYear,
		"7/21/" + invoiceYear, "10/21/" + invoiceYear,
	}
	for _, date := range dates {
		pdf.CellFormat(30, 6, date, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	if err := pdf.OutputFileAndClose(outputPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}

	return nil
}
