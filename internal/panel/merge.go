package panel

import (
	"context"
	"fmt"

	"rxpanel/internal/errors"
)

// merge joins the mortality and shipment tables onto the population
// grid. The population table decides which county-years exist; the
// other tables only fill cells. A duplicate county-year key in any
// input is a fatal input error.
func (b *Builder) merge(ctx context.Context, src *Sources) (*Panel, error) {
	type key struct {
		county string
		year   int
	}

	inWindow := func(year int) bool {
		return year >= b.cfg.YearMin && year <= b.cfg.YearMax
	}

	grid := make(map[key]PopulationRow)
	for _, row := range src.Population {
		if !inWindow(row.Year) {
			continue
		}
		k := key{row.CountyCode, row.Year}
		if _, ok := grid[k]; ok {
			return nil, duplicateKeyError(src.PopulationPath, row.CountyCode, row.Year)
		}
		grid[k] = row
	}
	if len(grid) == 0 {
		return nil, errors.NewInputError("no population rows inside the study window", nil).
			WithContext("file", src.PopulationPath).
			WithContext("year_min", b.cfg.YearMin).
			WithContext("year_max", b.cfg.YearMax)
	}

	mortality := make(map[key]MortalityRow)
	for _, row := range src.Mortality {
		if !inWindow(row.Year) {
			continue
		}
		k := key{row.CountyCode, row.Year}
		if _, ok := mortality[k]; ok {
			return nil, duplicateKeyError(src.MortalityPath, row.CountyCode, row.Year)
		}
		mortality[k] = row
	}

	shipments := make(map[key]ShipmentRow)
	for _, row := range src.Shipments {
		if !inWindow(row.Year) {
			continue
		}
		k := key{row.CountyCode, row.Year}
		if _, ok := shipments[k]; ok {
			return nil, duplicateKeyError(src.ShipmentsPath, row.CountyCode, row.Year)
		}
		shipments[k] = row
	}

	rows := make([]Observation, 0, len(grid))
	matchedMortality, matchedShipments := 0, 0
	for k, pop := range grid {
		obs := Observation{
			CountyCode: pop.CountyCode,
			StateCode:  pop.StateCode,
			Year:       pop.Year,
			Population: pop.Population,
		}
		if m, ok := mortality[k]; ok {
			deaths := m.Deaths
			obs.Mortality = &deaths
			matchedMortality++
		}
		if s, ok := shipments[k]; ok {
			mme := s.MME
			obs.ShipmentMME = &mme
			obs.Pills = cloneFloat(s.Pills)
			matchedShipments++
		}
		rows = append(rows, obs)
	}

	if unmatched := len(mortality) - matchedMortality; unmatched > 0 {
		b.logger.WarnContext(ctx, "mortality rows without a population cell",
			"file", src.MortalityPath,
			"unmatched", unmatched,
		)
	}
	if unmatched := len(shipments) - matchedShipments; unmatched > 0 {
		b.logger.WarnContext(ctx, "shipment rows without a population cell",
			"file", src.ShipmentsPath,
			"unmatched", unmatched,
		)
	}

	panel := NewPanel(rows)
	b.logger.InfoContext(ctx, "merged sources onto population grid",
		"rows", panel.Len(),
		"counties", len(panel.Counties()),
		"mortality_matched", matchedMortality,
		"shipments_matched", matchedShipments,
	)
	return panel, nil
}

func duplicateKeyError(path, county string, year int) *errors.AppError {
	return errors.NewInputError("duplicate county-year key", nil).
		WithContext("file", path).
		WithContext("key", fmt.Sprintf("%s/%d", county, year))
}
