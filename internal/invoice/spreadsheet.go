package invoice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// requiredColumns must all be present in the header row of an uploaded
// entity spreadsheet. Q1-Q4 fees and AccountsPayingFees are optional.
var requiredColumns = []string{
	"Entity ID", "Entity Name", "Group Name", "Entity Path", "Inception Date",
	"Inception Benchmark", "Year Benchmark", "Performance Fee Rate", "Fee Cap",
	"Inception Performance", "Period Ending Market Value", "Period Performance",
	"Period Beginning Market Value",
}

// ValidationError describes why an uploaded spreadsheet was rejected. The
// message is safe to surface to the client verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// EntityRow is one parsed entity from the uploaded spreadsheet. Numeric
// fields parse permissively: anything that is not a number becomes zero.
type EntityRow struct {
	EntityID      string
	EntityName    string
	GroupName     string
	EntityPath    string
	InceptionDate string

	InceptionBenchmark         float64
	YearBenchmark              float64
	PerformanceFeeRate         float64
	FeeCap                     float64
	InceptionPerformance       float64
	PeriodEndingMarketValue    float64
	PeriodPerformance          float64
	PeriodBeginningMarketValue float64

	Q1Fees float64
	Q2Fees float64
	Q3Fees float64
	Q4Fees float64

	AccountsPayingFees string
}

// QuarterlyTotal sums the asset-based fees already billed during the year.
func (r EntityRow) QuarterlyTotal() float64 {
	return r.Q1Fees + r.Q2Fees + r.Q3Fees + r.Q4Fees
}

// ValidateWorkbook opens the spreadsheet at path, checks the header row for
// all required columns and parses every non-empty data row. Rows whose first
// cell is empty are skipped; rows with an empty entity path are kept here and
// filtered later during generation.
func ValidateWorkbook(path string) ([]EntityRow, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, validationErrorf("File does not exist")
		}
		return nil, fmt.Errorf("stat spreadsheet: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".xlsx" && ext != ".xls" {
		return nil, validationErrorf("File must be an Excel file (.xlsx or .xls)")
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, validationErrorf("Error reading Excel file: %v", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, validationErrorf("Excel file must contain at least a header row and one data row")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, validationErrorf("Error reading Excel file: %v", err)
	}

	if len(rows) < 2 {
		return nil, validationErrorf("Excel file must contain at least a header row and one data row")
	}

	headers := rows[0]
	index := make(map[string]int, len(headers))
	for i, header := range headers {
		index[strings.TrimSpace(header)] = i
	}

	var missing []string
	for _, column := range requiredColumns {
		if _, ok := index[column]; !ok {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return nil, validationErrorf("Missing required columns: %s", strings.Join(missing, ", "))
	}

	cell := func(row []string, column string) string {
		i, ok := index[column]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	number := func(row []string, column string) float64 {
		value, err := strconv.ParseFloat(cell(row, column), 64)
		if err != nil {
			return 0
		}
		return value
	}

	entities := make([]EntityRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}

		entities = append(entities, EntityRow{
			EntityID:      cell(row, "Entity ID"),
			EntityName:    cell(row, "Entity Name"),
			GroupName:     cell(row, "Group Name"),
			EntityPath:    cell(row, "Entity Path"),
			InceptionDate: cell(row, "Inception Date"),

			InceptionBenchmark:         number(row, "Inception Benchmark"),
			YearBenchmark:              number(row, "Year Benchmark"),
			PerformanceFeeRate:         number(row, "Performance Fee Rate"),
			FeeCap:                     number(row, "Fee Cap"),
			InceptionPerformance:       number(row, "Inception Performance"),
			PeriodEndingMarketValue:    number(row, "Period Ending Market Value"),
			PeriodPerformance:          number(row, "Period Performance"),
			PeriodBeginningMarketValue: number(row, "Period Beginning Market Value"),

			Q1Fees: number(row, "Q1 Fees"),
			Q2Fees: number(row, "Q2 Fees"),
			Q3Fees: number(row, "Q3 Fees"),
			Q4Fees: number(row, "Q4 Fees"),

			AccountsPayingFees: cell(row, "AccountsPayingFees"),
		})
	}

	return entities, nil
}
