package panel

// derive recomputes the per-100k rate columns from counts and
// population. It runs after imputation so filled counts get rates
// too, and is safe to run repeatedly.
func (b *Builder) derive(p *Panel) {
	for i := range p.Rows {
		obs := &p.Rows[i]
		obs.MortalityRate = nil
		obs.ShipmentRate = nil
		if obs.Population <= 0 {
			continue
		}

		if obs.Mortality != nil {
			rate := float64(*obs.Mortality) / float64(obs.Population) * RateScale
			obs.MortalityRate = &rate
		}
		if obs.ShipmentMME != nil {
			rate := *obs.ShipmentMME / float64(obs.Population) * RateScale
			obs.ShipmentRate = &rate
		}
	}
}
