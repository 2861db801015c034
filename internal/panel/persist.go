package panel

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"rxpanel/internal/errors"
)

// Canonical column order of the panel artifact
var panelHeader = []string{
	"county_code",
	"state_code",
	"year",
	"population",
	"mortality_count",
	"shipment_volume_mme",
	"pills",
	"mortality_rate_per_100k",
	"shipment_rate_per_100k",
	"is_imputed",
}

// SavePanelCSV writes the panel artifact. Rows come out sorted by
// county then year; empty cells mean unknown, never zero.
func SavePanelCSV(p *Panel, outputPath string) error {
	if p == nil || p.Len() == 0 {
		return errors.NewStorageError("no panel rows to save", nil)
	}

	writer, file, err := createCSV(outputPath)
	if err != nil {
		return err
	}
	defer file.Close()
	defer writer.Flush()

	if err := writer.Write(panelHeader); err != nil {
		return errors.NewStorageError("write panel header", err).WithContext("file", outputPath)
	}
	for _, obs := range p.Rows {
		if err := writer.Write(observationRecord(obs)); err != nil {
			return errors.NewStorageError("write panel row", err).
				WithContext("file", outputPath).
				WithContext("key", obs.Key())
		}
	}
	return nil
}

// LoadPanelCSV reads a panel artifact written by SavePanelCSV
func LoadPanelCSV(path string) (*Panel, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.NewStorageError("panel artifact is empty", nil).WithContext("file", path)
	}

	idx := make(map[string]int, len(panelHeader))
	for _, name := range panelHeader {
		j := findColumn(rows[0], []string{name})
		if j < 0 {
			return nil, errors.NewStorageError("panel artifact is missing a column", nil).
				WithContext("file", path).
				WithContext("column", name)
		}
		idx[name] = j
	}

	out := make([]Observation, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		obs, err := parseObservation(row, idx)
		if err != nil {
			return nil, errors.NewParsingError("bad panel artifact row", err).
				WithContext("file", path).
				WithContext("line", line)
		}
		out = append(out, obs)
	}
	return NewPanel(out), nil
}

// SaveCohortCSV writes one policy case's cohort table. An empty cohort
// produces a header-only file so downstream tooling still finds all
// expected artifacts.
func SaveCohortCSV(c *Cohort, outputPath string) error {
	writer, file, err := createCSV(outputPath)
	if err != nil {
		return err
	}
	defer file.Close()
	defer writer.Flush()

	header := append(append([]string{}, panelHeader...), "is_treated", "is_pre")
	if err := writer.Write(header); err != nil {
		return errors.NewStorageError("write cohort header", err).WithContext("file", outputPath)
	}
	for _, row := range c.Rows {
		record := append(observationRecord(row.Observation),
			strconv.FormatBool(row.Treated),
			strconv.FormatBool(row.Pre),
		)
		if err := writer.Write(record); err != nil {
			return errors.NewStorageError("write cohort row", err).
				WithContext("file", outputPath).
				WithContext("key", row.Key())
		}
	}
	return nil
}

// SaveStateYearCSV writes the state-year summary table for one case
func SaveStateYearCSV(stats []StateYearStat, outputPath string) error {
	writer, file, err := createCSV(outputPath)
	if err != nil {
		return err
	}
	defer file.Close()
	defer writer.Flush()

	header := []string{
		"state_code", "year", "is_treated", "outcome",
		"n", "mean", "se", "ci_low", "ci_high",
		"total_deaths", "total_population", "aggregate_death_rate_per_100k",
	}
	if err := writer.Write(header); err != nil {
		return errors.NewStorageError("write state-year header", err).WithContext("file", outputPath)
	}
	for _, s := range stats {
		record := []string{
			s.StateCode,
			strconv.Itoa(s.Year),
			strconv.FormatBool(s.Treated),
			s.Outcome,
			strconv.Itoa(s.N),
			formatNullFloat(s.Mean),
			formatNullFloat(s.SE),
			formatNullFloat(s.CILow),
			formatNullFloat(s.CIHigh),
			strconv.Itoa(s.TotalDeaths),
			strconv.Itoa(s.TotalPopulation),
			formatNullFloat(s.AggregateRate),
		}
		if err := writer.Write(record); err != nil {
			return errors.NewStorageError("write state-year row", err).WithContext("file", outputPath)
		}
	}
	return nil
}

// SavePrePostCSV writes the pre/post group-means table for one case
func SavePrePostCSV(means []PrePostMean, outputPath string) error {
	writer, file, err := createCSV(outputPath)
	if err != nil {
		return err
	}
	defer file.Close()
	defer writer.Flush()

	header := []string{"group", "period", "outcome", "n", "mean"}
	if err := writer.Write(header); err != nil {
		return errors.NewStorageError("write pre/post header", err).WithContext("file", outputPath)
	}
	for _, m := range means {
		record := []string{
			m.Group,
			m.Period,
			m.Outcome,
			strconv.Itoa(m.N),
			formatNullFloat(m.Mean),
		}
		if err := writer.Write(record); err != nil {
			return errors.NewStorageError("write pre/post row", err).WithContext("file", outputPath)
		}
	}
	return nil
}

func createCSV(outputPath string) (*csv.Writer, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, nil, errors.NewStorageError("create output directory", err).
			WithContext("file", outputPath)
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return nil, nil, errors.NewStorageError("create output file", err).
			WithContext("file", outputPath)
	}
	return csv.NewWriter(file), file, nil
}

func observationRecord(obs Observation) []string {
	return []string{
		obs.CountyCode,
		obs.StateCode,
		strconv.Itoa(obs.Year),
		strconv.Itoa(obs.Population),
		formatNullInt(obs.Mortality),
		formatNullFloat(obs.ShipmentMME),
		formatNullFloat(obs.Pills),
		formatNullFloat(obs.MortalityRate),
		formatNullFloat(obs.ShipmentRate),
		strconv.FormatBool(obs.Imputed),
	}
}

func parseObservation(row []string, idx map[string]int) (Observation, error) {
	var obs Observation
	var err error

	obs.CountyCode, err = normalizeFIPS(cell(row, idx["county_code"]))
	if err != nil {
		return obs, err
	}
	obs.StateCode = cell(row, idx["state_code"])
	if obs.Year, err = strconv.Atoi(cell(row, idx["year"])); err != nil {
		return obs, err
	}
	if obs.Population, err = strconv.Atoi(cell(row, idx["population"])); err != nil {
		return obs, err
	}
	if obs.Mortality, err = parseNullInt(cell(row, idx["mortality_count"])); err != nil {
		return obs, err
	}
	if obs.ShipmentMME, err = parseNullFloat(cell(row, idx["shipment_volume_mme"])); err != nil {
		return obs, err
	}
	if obs.Pills, err = parseNullFloat(cell(row, idx["pills"])); err != nil {
		return obs, err
	}
	if obs.MortalityRate, err = parseNullFloat(cell(row, idx["mortality_rate_per_100k"])); err != nil {
		return obs, err
	}
	if obs.ShipmentRate, err = parseNullFloat(cell(row, idx["shipment_rate_per_100k"])); err != nil {
		return obs, err
	}
	if obs.Imputed, err = strconv.ParseBool(cell(row, idx["is_imputed"])); err != nil {
		return obs, err
	}
	return obs, nil
}

// formatNullInt renders a nullable count, empty for unknown
func formatNullInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// formatNullFloat renders a nullable float at full precision so the
// artifact round-trips exactly
func formatNullFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseNullInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseNullFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
