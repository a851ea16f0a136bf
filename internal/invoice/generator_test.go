package invoice

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleEntity() EntityRow {
	return EntityRow{
		EntityID:                "ENT-001",
		EntityName:              "Alpha Fund",
		GroupName:               "Alpha Group",
		EntityPath:              "/funds/alpha",
		InceptionDate:           "2020-01-15",
		InceptionBenchmark:      8,
		YearBenchmark:           6.5,
		PerformanceFeeRate:      15,
		FeeCap:                  10,
		InceptionPerformance:    12,
		PeriodEndingMarketValue: 1_000_000,
		PeriodPerformance:       9,
	}
}

func TestRenderEntityWritesWorkbookAndPDF(t *testing.T) {
	dir := t.TempDir()

	files, err := RenderEntity(sampleEntity(), "2025", dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	expectedBase := "Year end performance fee Calculation 2025 #ENT-001"
	require.Equal(t, filepath.Join(dir, expectedBase+".xlsx"), files[0])
	require.Equal(t, filepath.Join(dir, expectedBase+".pdf"), files[1])

	for _, file := range files {
		info, err := os.Stat(file)
		require.NoError(t, err)
		require.Positive(t, info.Size())
	}

	workbook, err := excelize.OpenFile(files[0])
	require.NoError(t, err)
	defer workbook.Close()

	title, err := workbook.GetCellValue(sheetName, "A1")
	require.NoError(t, err)
	require.Equal(t, "PERFORMANCE FEE CALCULATION", title)

	aum, err := workbook.GetCellValue(sheetName, "B5")
	require.NoError(t, err)
	require.Equal(t, "$1,000,000", aum)
}

func TestRenderEntityAddsCollisionSuffix(t *testing.T) {
	dir := t.TempDir()

	_, err := RenderEntity(sampleEntity(), "2025", dir)
	require.NoError(t, err)

	second, err := RenderEntity(sampleEntity(), "2025", dir)
	require.NoError(t, err)

	expectedBase := "Year end performance fee Calculation 2025 #ENT-001_1"
	require.Equal(t, filepath.Join(dir, expectedBase+".xlsx"), second[0])

	third, err := RenderEntity(sampleEntity(), "2025", dir)
	require.NoError(t, err)
	require.Contains(t, third[0], "#ENT-001_2.xlsx")
}

func TestRenderEntityCreatesOutputDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "output")

	files, err := RenderEntity(sampleEntity(), "2025", dir)
	require.NoError(t, err)
	require.NotEmpty(t, files)
}

func TestFormatCurrency(t *testing.T) {
	require.Equal(t, "$1,000,000", formatCurrency(1_000_000))
	require.Equal(t, "$1,356,574", formatCurrency(1_356_574))
	require.Equal(t, "$1,000", formatCurrency(1000))
	require.Equal(t, "$25.00", formatCurrency(25))
	require.Equal(t, "$0.00", formatCurrency(0))
}

func TestFormatDate(t *testing.T) {
	require.Equal(t, "01/15/2020", formatDate("2020-01-15"))
	require.Equal(t, "01/15/2020", formatDate("1/15/2020"))
	require.Equal(t, "not-a-date", formatDate("not-a-date"))
}
