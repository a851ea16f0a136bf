package invoice

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Invoice"

// WriteWorkbook renders the fixed-layout calculation workbook for one entity:
// a title block, the label/value/note table, and the quarterly asset-based
// fee sub-table to the right.
func WriteWorkbook(row EntityRow, fees FeeBreakdown, invoiceYear, outputPath string) error {
	file := excelize.NewFile()
	defer file.Close()

	file.SetSheetName(file.GetSheetName(0), sheetName)

	widths := []struct {
		column string
		width  float64
	}{
		{"A", 45}, {"B", 18}, {"C", 35}, {"D", 8},
		{"E", 12}, {"F", 12}, {"G", 12}, {"H", 12},
	}
	for _, w := range widths {
		if err := file.SetColWidth(sheetName, w.column, w.column, w.width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	set := func(cell string, value any) error {
		return file.SetCellValue(sheetName, cell, value)
	}

	quarterlyBilled := formatCurrency(row.QuarterlyTotal())

	mainTable := [][2]string{
		{"Inception date of performance based billing", formatDate(row.InceptionDate)},
		{fmt.Sprintf("%s year end AUM", invoiceYear), formatCurrency(row.PeriodEndingMarketValue)},
		{"Since inception IRR (measured from inception date above) after fees", formatPercent(row.InceptionPerformance)},
		{"Since inception benchmark", formatPercent(row.InceptionBenchmark)},
		{fmt.Sprintf("%s IRR after fees", invoiceYear), formatPercent(row.PeriodPerformance)},
		{fmt.Sprintf("%s benchmark", invoiceYear), formatPercent(row.YearBenchmark)},
		{fmt.Sprintf("Excess return over benchmark - %s", invoiceYear), formatPercent(fees.ExcessReturn * 100)},
		{"Performance fee rate", formatPercent(row.PerformanceFeeRate)},
		{"Performance fee $", formatCurrency(fees.PerformanceFee)},
		{"Performance fee %", formatPercent(safeRatio(fees.PerformanceFee, row.PeriodEndingMarketValue) * 100)},
		{fmt.Sprintf("Quarterly asset based Fees already billed during %s", invoiceYear), quarterlyBilled},
		{"Total fees (Asset based + Performance)", formatCurrency(fees.TotalFees)},
		{"Fees as % of year end AUM", formatPercent(safeRatio(fees.TotalFees, row.PeriodEndingMarketValue) * 100)},
		{"Fee cap", formatPercent(row.FeeCap)},
		{"Adjusted total fees (if cap exceeded)", formatCurrency(fees.AdjustedTotalFees)},
		{"Adjusted final performance fees", formatCurrency(fees.AdjustedFinalFees)},
	}

	if err := set("A1", "PERFORMANCE FEE CALCULATION"); err != nil {
		return err
	}
	if err := set("A2", fmt.Sprintf("Perf Based %s Aggressive", formatPercent(row.PerformanceFeeRate))); err != nil {
		return err
	}

	notes := map[int]string{
		0: "This is the date from which IRR will be measured",
		1: "Excluding any staging accounts",
		2: `Needs to exceed "Since inception benchmark" for perf`,
	}

	for i, entry := range mainTable {
		rowNum := i + 4
		if err := set(fmt.Sprintf("A%d", rowNum), entry[0]); err != nil {
			return err
		}
		if err := set(fmt.Sprintf("B%d", rowNum), entry[1]); err != nil {
			return err
		}
		if note, ok := notes[i]; ok {
			if err := set(fmt.Sprintf("C%d", rowNum), note); err != nil {
				return err
			}
		}
	}

	// Quarterly sub-table to the right of the main block.
	if err := set("D21", fmt.Sprintf("Quarterly Asset based fees during %s", invoiceYear)); err != nil {
		return err
	}
	quarterHeaders := []string{"Q1", "Q2", "Q3", "Q4"}
	quarterValues := []string{
		formatCurrency(row.Q1Fees), formatCurrency(row.Q2Fees),
		formatCurrency(row.Q3Fees), formatCurrency(row.Q4Fees),
	}
	quarterDates := []string{
		"1/21/" + invoiceYear, "4/27/" + invoiceYear,
		"7/21/" + invoiceYear, "10/21/" + invoiceYear,
	}
	for i, column := range []string{"E", "F", "G", "H"} {
		if err := set(column+"22", quarterHeaders[i]); err != nil {
			return err
		}
		if err := set(column+"23", quarterValues[i]); err != nil {
			return err
		}
		if err := set(column+"24", quarterDates[i]); err != nil {
			return err
		}
	}

	if err := applyStyles(file); err != nil {
		return err
	}

	if err := file.SaveAs(outputPath); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	return nil
}

func applyStyles(file *excelize.File) error {
	titleStyle, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	subtitleStyle, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	valueStyle, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "right"},
	})
	if err != nil {
		return err
	}
	noteStyle, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Italic: true, Size: 10, Color: "666666"},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return err
	}
	quarterStyle, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}
	centeredStyle, err := file.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return err
	}

	if err := file.SetCellStyle(sheetName, "A1", "A1", titleStyle); err != nil {
		return err
	}
	if err := file.SetCellStyle(sheetName, "A2", "A2", subtitleStyle); err != nil {
		return err
	}
	if err := file.SetCellStyle(sheetName, "B4", "B19", valueStyle); err != nil {
		return err
	}
	if err := file.SetCellStyle(sheetName, "C4", "C19", noteStyle); err != nil {
		return err
	}
	if err := file.SetCellStyle(sheetName, "D21", "H22", quarterStyle); err != nil {
		return err
	}
	if err := file.SetCellStyle(sheetName, "E23", "H24", centeredStyle); err != nil {
		return err
	}

	return nil
}

func safeRatio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

func formatPercent(value float64) string {
	return fmt.Sprintf("%.2f%%", value)
}

// formatCurrency matches the display convention used on issued invoices:
// whole dollars with thousand separators for large amounts, cents for small.
func formatCurrency(value float64) string {
	if value >= 1000 {
		return "$" + groupThousands(fmt.Sprintf("%.0f", value))
	}
	return fmt.Sprintf("$%.2f", value)
}

func groupThousands(digits string) string {
	var negative bool
	if strings.HasPrefix(digits, "-") {
		negative = true
		digits = digits[1:]
	}

	var builder strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			builder.WriteByte(',')
		}
		builder.WriteRune(r)
	}

	if negative {
		return "-" + builder.String()
	}
	return builder.String()
}

var dateLayouts = []string{
	"2006-01-02", "01/02/2006", "1/2/2006", time.RFC3339,
}

func formatDate(value string) string {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format("01/02/2006")
		}
	}
	return value
}
