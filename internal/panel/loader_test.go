package panel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "rxpanel/internal/errors"
)

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPopulation(t *testing.T) {
	path := writeCSV(t, "population.csv",
		"FIPS,Year,Population,State\n"+
			"1001,2006,51328,al\n"+
			"12003.0,2006.0,27538,FL\n")

	rows, err := NewLoader(testLogger()).LoadPopulation(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, PopulationRow{CountyCode: "01001", StateCode: "AL", Year: 2006, Population: 51328}, rows[0])
	assert.Equal(t, "12003", rows[1].CountyCode)
	assert.Equal(t, 2006, rows[1].Year)
}

func TestLoadPopulation_HeaderAliases(t *testing.T) {
	path := writeCSV(t, "population.csv",
		"county_code,year,pop,state_code\n"+
			"1001,2006,51328,AL\n")

	rows, err := NewLoader(testLogger()).LoadPopulation(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 51328, rows[0].Population)
}

func TestLoadPopulation_MissingColumn(t *testing.T) {
	path := writeCSV(t, "population.csv",
		"fips,year,state\n"+
			"1001,2006,AL\n")

	_, err := NewLoader(testLogger()).LoadPopulation(context.Background(), path)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrTypeInput, appErr.Type)
}

func TestLoadPopulation_StripsBOM(t *testing.T) {
	path := writeCSV(t, "population.csv",
		"\ufefffips,year,population,state\n"+
			"1001,2006,51328,AL\n")

	rows, err := NewLoader(testLogger()).LoadPopulation(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestLoadMortality_SkipsSuppressedCells(t *testing.T) {
	path := writeCSV(t, "mortality.csv",
		"fips,year,drug_deaths\n"+
			"1001,2006,12\n"+
			"1001,2007,\n"+
			"1003,2006,25.0\n")

	rows, err := NewLoader(testLogger()).LoadMortality(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, MortalityRow{CountyCode: "01001", Year: 2006, Deaths: 12}, rows[0])
	assert.Equal(t, 25, rows[1].Deaths)
}

func TestLoadMortality_RejectsNegativeCount(t *testing.T) {
	path := writeCSV(t, "mortality.csv",
		"fips,year,deaths\n"+
			"1001,2006,-3\n")

	_, err := NewLoader(testLogger()).LoadMortality(context.Background(), path)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrTypeParsing, appErr.Type)
	assert.Equal(t, 2, appErr.Context["line"])
}

func TestLoadShipments(t *testing.T) {
	path := writeCSV(t, "shipments.csv",
		"fips,year,opioid_shipments_mme,total_pills\n"+
			"1001,2006,\"1,250,000.5\",480000\n"+
			"1001,2007,,\n")

	rows, err := NewLoader(testLogger()).LoadShipments(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "01001", rows[0].CountyCode)
	assert.Equal(t, 1250000.5, rows[0].MME)
	require.NotNil(t, rows[0].Pills)
	assert.Equal(t, 480000.0, *rows[0].Pills)
}

func TestLoadShipments_PillsColumnOptional(t *testing.T) {
	path := writeCSV(t, "shipments.csv",
		"fips,year,mme\n"+
			"1001,2006,500.25\n")

	rows, err := NewLoader(testLogger()).LoadShipments(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Pills)
}

func TestLoad_ExcelWorkbook(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "population.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"fips", "year", "population", "state"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"1001", 2006, 51328, "AL"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	rows, err := NewLoader(testLogger()).LoadPopulation(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "01001", rows[0].CountyCode)
	assert.Equal(t, 51328, rows[0].Population)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewLoader(testLogger()).LoadPopulation(context.Background(), filepath.Join(t.TempDir(), "absent.csv"))
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrTypeInput, appErr.Type)
}

func TestNormalizeFIPS(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "four_digit", in: "1001", want: "01001"},
		{name: "five_digit", in: "12003", want: "12003"},
		{name: "float_rendering", in: "1001.0", want: "01001"},
		{name: "whitespace", in: " 1001 ", want: "01001"},
		{name: "empty", in: "", wantErr: true},
		{name: "letter", in: "12O31", wantErr: true},
		{name: "too_long", in: "123456", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeFIPS(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
