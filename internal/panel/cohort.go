package panel

import (
	"rxpanel/internal/errors"
)

// BuildCohort projects the panel rows for one policy case: the treated
// state plus its comparison states, with treatment and period flags
// set. Rows still missing a shipment rate are dropped, since shipment
// suppression is never imputed. The source panel is not modified.
func BuildCohort(p *Panel, pcase PolicyCase) (*Cohort, error) {
	if pcase.PolicyState == "" {
		return nil, errors.NewConfigError("policy case has no treated state", nil).
			WithContext("case", pcase.Name)
	}
	if len(pcase.ComparisonStates) == 0 {
		return nil, errors.NewConfigError("policy case has no comparison states", nil).
			WithContext("case", pcase.Name)
	}

	include := make(map[string]bool, len(pcase.ComparisonStates)+1)
	include[pcase.PolicyState] = true
	for _, s := range pcase.ComparisonStates {
		include[s] = true
	}

	rows := make([]CohortRow, 0, p.Len())
	for _, obs := range p.Rows {
		if !include[obs.StateCode] {
			continue
		}
		if obs.ShipmentRate == nil {
			continue
		}
		rows = append(rows, CohortRow{
			Observation: cloneObservation(&obs),
			Treated:     obs.StateCode == pcase.PolicyState,
			Pre:         obs.Year < pcase.PolicyYear,
		})
	}

	return &Cohort{Case: pcase, Rows: rows}, nil
}
