package panel

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"rxpanel/internal/errors"
)

// PopulationRow is one county-year population record. The population
// table is the grid authority, so it also carries the state code.
type PopulationRow struct {
	CountyCode string
	StateCode  string
	Year       int
	Population int
}

// MortalityRow is one observed county-year mortality count. Suppressed
// cells arrive as absent rows, never as zeros.
type MortalityRow struct {
	CountyCode string
	Year       int
	Deaths     int
}

// ShipmentRow is one county-year shipment record in MME, with the
// secondary pill count when the source provides it
type ShipmentRow struct {
	CountyCode string
	Year       int
	MME        float64
	Pills      *float64
}

// Sources holds the three parsed raw tables along with the paths they
// came from, so later stages can name the file in error reports
type Sources struct {
	Population []PopulationRow
	Mortality  []MortalityRow
	Shipments  []ShipmentRow

	PopulationPath string
	MortalityPath  string
	ShipmentsPath  string
}

// Loader reads the raw input files. CSV and Excel workbooks are both
// accepted; columns are resolved by header name with known aliases.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a loader with the given logger
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Column aliases seen across the source extracts
var (
	fipsAliases       = []string{"fips", "county_code", "countyfips", "county_fips"}
	yearAliases       = []string{"year"}
	populationAliases = []string{"population", "pop"}
	stateAliases      = []string{"state", "state_code", "buyer_state"}
	deathsAliases     = []string{"drug_deaths", "deaths", "mortality_count", "overdose_deaths"}
	mmeAliases        = []string{"opioid_shipments_mme", "shipment_volume_mme", "mme", "total_mme"}
	pillsAliases      = []string{"total_pills", "pills", "dosage_units"}
)

// Load reads all three source files
func (l *Loader) Load(ctx context.Context, populationPath, mortalityPath, shipmentsPath string) (*Sources, error) {
	population, err := l.LoadPopulation(ctx, populationPath)
	if err != nil {
		return nil, err
	}

	mortality, err := l.LoadMortality(ctx, mortalityPath)
	if err != nil {
		return nil, err
	}

	shipments, err := l.LoadShipments(ctx, shipmentsPath)
	if err != nil {
		return nil, err
	}

	return &Sources{
		Population:     population,
		Mortality:      mortality,
		Shipments:      shipments,
		PopulationPath: populationPath,
		MortalityPath:  mortalityPath,
		ShipmentsPath:  shipmentsPath,
	}, nil
}

// LoadPopulation reads the population grid file
func (l *Loader) LoadPopulation(ctx context.Context, path string) ([]PopulationRow, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NewInputError("population file is empty", nil).WithContext("file", path)
	}

	fipsIdx := findColumn(rows[0], fipsAliases)
	yearIdx := findColumn(rows[0], yearAliases)
	popIdx := findColumn(rows[0], populationAliases)
	stateIdx := findColumn(rows[0], stateAliases)
	if fipsIdx < 0 || yearIdx < 0 || popIdx < 0 || stateIdx < 0 {
		return nil, errors.NewInputError("population file is missing required columns", nil).
			WithContext("file", path).
			WithContext("required", "fips, year, population, state")
	}

	var out []PopulationRow
	skipped := 0
	for i, row := range rows[1:] {
		line := i + 2
		fips, err := normalizeFIPS(cell(row, fipsIdx))
		if err != nil {
			return nil, parseError(path, line, "fips", err)
		}
		year, err := parseIntCell(cell(row, yearIdx))
		if err != nil {
			return nil, parseError(path, line, "year", err)
		}
		pop, err := parseIntCell(cell(row, popIdx))
		if err != nil {
			return nil, parseError(path, line, "population", err)
		}
		state := strings.ToUpper(strings.TrimSpace(cell(row, stateIdx)))
		if state == "" {
			skipped++
			continue
		}

		out = append(out, PopulationRow{
			CountyCode: fips,
			StateCode:  state,
			Year:       year,
			Population: pop,
		})
	}

	l.logger.InfoContext(ctx, "loaded population table",
		"file", path,
		"rows", len(out),
		"skipped", skipped,
	)
	return out, nil
}

// LoadMortality reads the mortality count file. Rows with an empty
// count cell are treated as suppressed and skipped.
func (l *Loader) LoadMortality(ctx context.Context, path string) ([]MortalityRow, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NewInputError("mortality file is empty", nil).WithContext("file", path)
	}

	fipsIdx := findColumn(rows[0], fipsAliases)
	yearIdx := findColumn(rows[0], yearAliases)
	deathsIdx := findColumn(rows[0], deathsAliases)
	if fipsIdx < 0 || yearIdx < 0 || deathsIdx < 0 {
		return nil, errors.NewInputError("mortality file is missing required columns", nil).
			WithContext("file", path).
			WithContext("required", "fips, year, drug_deaths")
	}

	var out []MortalityRow
	suppressed := 0
	for i, row := range rows[1:] {
		line := i + 2
		fips, err := normalizeFIPS(cell(row, fipsIdx))
		if err != nil {
			return nil, parseError(path, line, "fips", err)
		}
		year, err := parseIntCell(cell(row, yearIdx))
		if err != nil {
			return nil, parseError(path, line, "year", err)
		}
		deathsCell := cell(row, deathsIdx)
		if strings.TrimSpace(deathsCell) == "" {
			suppressed++
			continue
		}
		deaths, err := parseIntCell(deathsCell)
		if err != nil {
			return nil, parseError(path, line, "drug_deaths", err)
		}
		if deaths < 0 {
			return nil, parseError(path, line, "drug_deaths", fmt.Errorf("negative count %d", deaths))
		}

		out = append(out, MortalityRow{CountyCode: fips, Year: year, Deaths: deaths})
	}

	l.logger.InfoContext(ctx, "loaded mortality table",
		"file", path,
		"rows", len(out),
		"suppressed_cells", suppressed,
	)
	return out, nil
}

// LoadShipments reads the shipment volume file. The pill-count column
// is optional; rows with an empty MME cell are skipped.
func (l *Loader) LoadShipments(ctx context.Context, path string) ([]ShipmentRow, error) {
	rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NewInputError("shipments file is empty", nil).WithContext("file", path)
	}

	fipsIdx := findColumn(rows[0], fipsAliases)
	yearIdx := findColumn(rows[0], yearAliases)
	mmeIdx := findColumn(rows[0], mmeAliases)
	pillsIdx := findColumn(rows[0], pillsAliases)
	if fipsIdx < 0 || yearIdx < 0 || mmeIdx < 0 {
		return nil, errors.NewInputError("shipments file is missing required columns", nil).
			WithContext("file", path).
			WithContext("required", "fips, year, opioid_shipments_mme")
	}

	var out []ShipmentRow
	skipped := 0
	for i, row := range rows[1:] {
		line := i + 2
		fips, err := normalizeFIPS(cell(row, fipsIdx))
		if err != nil {
			return nil, parseError(path, line, "fips", err)
		}
		year, err := parseIntCell(cell(row, yearIdx))
		if err != nil {
			return nil, parseError(path, line, "year", err)
		}
		mmeCell := cell(row, mmeIdx)
		if strings.TrimSpace(mmeCell) == "" {
			skipped++
			continue
		}
		mme, err := parseFloatCell(mmeCell)
		if err != nil {
			return nil, parseError(path, line, "opioid_shipments_mme", err)
		}

		sr := ShipmentRow{CountyCode: fips, Year: year, MME: mme}
		if pillsIdx >= 0 {
			if pillsCell := cell(row, pillsIdx); strings.TrimSpace(pillsCell) != "" {
				pills, err := parseFloatCell(pillsCell)
				if err != nil {
					return nil, parseError(path, line, "total_pills", err)
				}
				sr.Pills = &pills
			}
		}

		out = append(out, sr)
	}

	l.logger.InfoContext(ctx, "loaded shipments table",
		"file", path,
		"rows", len(out),
		"skipped", skipped,
	)
	return out, nil
}

// readTable reads a CSV file or the first sheet of an Excel workbook
// into rows of cells
func readTable(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readExcel(path)
	default:
		return readCSV(path)
	}
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewInputError("cannot open input file", err).WithContext("file", path)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.NewParsingError("cannot read CSV file", err).WithContext("file", path)
	}

	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func readExcel(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.NewInputError("cannot open workbook", err).WithContext("file", path)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.NewInputError("workbook has no sheets", nil).WithContext("file", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.NewParsingError("cannot read worksheet", err).
			WithContext("file", path).
			WithContext("sheet", sheets[0])
	}
	return rows, nil
}

// findColumn resolves a column index by matching the header against
// known aliases, case-insensitive
func findColumn(header []string, aliases []string) int {
	for j, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		for _, alias := range aliases {
			if name == alias {
				return j
			}
		}
	}
	return -1
}

// cell returns row[idx], tolerating short rows
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// normalizeFIPS canonicalizes a county identifier to a 5-character
// zero-padded code. Numeric renderings like "1001.0" are accepted.
func normalizeFIPS(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty county code")
	}

	if strings.Contains(s, ".") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return "", fmt.Errorf("malformed county code %q", s)
		}
		s = strconv.Itoa(int(f))
	}

	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return "", fmt.Errorf("malformed county code %q", s)
		}
	}
	if len(s) > 5 {
		return "", fmt.Errorf("county code %q longer than five digits", s)
	}

	return strings.Repeat("0", 5-len(s)) + s, nil
}

// parseIntCell parses an integer cell, accepting float renderings like
// "12.0" that spreadsheet exports produce
func parseIntCell(s string) (int, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty cell")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

// parseFloatCell parses a float cell, tolerating thousands separators
func parseFloatCell(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty cell")
	}
	return strconv.ParseFloat(s, 64)
}

func parseError(path string, line int, column string, err error) *errors.AppError {
	return errors.NewParsingError(fmt.Sprintf("bad %s value", column), err).
		WithContext("file", path).
		WithContext("line", line)
}
