package regress

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"rxpanel/internal/errors"
)

// ModelFit holds a fitted model with cluster-robust inference. All
// slices are aligned with Labels.
type ModelFit struct {
	Labels  []string
	Beta    []float64
	SE      []float64
	TStats  []float64
	PValues []float64
	CILow   []float64
	CIHigh  []float64

	NObs      int
	NClusters int
	RSquared  float64
}

// Coefficient looks up one coefficient by its column label
func (m *ModelFit) Coefficient(label string) (Coefficient, bool) {
	for j, l := range m.Labels {
		if l == label {
			return Coefficient{
				Label:    label,
				Estimate: m.Beta[j],
				StdErr:   m.SE[j],
				TStat:    m.TStats[j],
				PValue:   m.PValues[j],
				CILow:    m.CILow[j],
				CIHigh:   m.CIHigh[j],
			}, true
		}
	}
	return Coefficient{}, false
}

// Estimate fits the design by least squares and attaches
// cluster-robust standard errors. A rank-deficient design or one with
// too little data is a model-fit error; callers record it as a failed
// result rather than aborting the batch.
//
// Weighted designs are fit by scaling each row with the square root
// of its weight, so the clustered covariance applies to the
// transformed model.
func Estimate(d *Design, confidence float64) (*ModelFit, error) {
	n, k := d.N(), d.K()
	if n < k {
		return nil, errors.NewModelFitError("fewer observations than parameters", nil).
			WithContext("n_obs", n).
			WithContext("n_params", k)
	}
	if d.NClusters < 2 {
		return nil, errors.NewModelFitError("clustered inference needs at least two counties", nil).
			WithContext("n_clusters", d.NClusters)
	}
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.95
	}

	x, y := weightedCopy(d)

	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, errors.NewModelFitError("singular value decomposition did not converge", nil)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	singular := svd.Values(nil)

	eps := math.Nextafter(1, 2) - 1
	tol := float64(max(n, k)) * eps * singular[0]
	rank := 0
	for _, s := range singular {
		if s > tol {
			rank++
		}
	}
	if rank < k {
		return nil, errors.NewModelFitError("design matrix is rank deficient", nil).
			WithContext("rank", rank).
			WithContext("n_params", k)
	}

	// beta = V diag(1/s) U' y
	beta := make([]float64, k)
	for j := 0; j < rank; j++ {
		var c float64
		for i := 0; i < n; i++ {
			c += u.At(i, j) * y[i]
		}
		c /= singular[j]
		for p := 0; p < k; p++ {
			beta[p] += v.At(p, j) * c
		}
	}

	// (X'X)^-1 = V diag(1/s^2) V'
	xtxInv := mat.NewDense(k, k, nil)
	for p := 0; p < k; p++ {
		for q := p; q < k; q++ {
			var sum float64
			for j := 0; j < rank; j++ {
				sum += v.At(p, j) * v.At(q, j) / (singular[j] * singular[j])
			}
			xtxInv.Set(p, q, sum)
			xtxInv.Set(q, p, sum)
		}
	}

	resid := make([]float64, n)
	for i := 0; i < n; i++ {
		fitted := 0.0
		for p := 0; p < k; p++ {
			fitted += x.At(i, p) * beta[p]
		}
		resid[i] = y[i] - fitted
	}

	fit := &ModelFit{
		Labels:    d.Labels,
		Beta:      beta,
		NObs:      n,
		NClusters: d.NClusters,
		RSquared:  rSquared(y, resid),
	}

	cov := clusterCovariance(d, x, resid, xtxInv)
	df := float64(d.NClusters - 1)
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	tcrit := tdist.Quantile(0.5 + confidence/2)

	fit.SE = make([]float64, k)
	fit.TStats = make([]float64, k)
	fit.PValues = make([]float64, k)
	fit.CILow = make([]float64, k)
	fit.CIHigh = make([]float64, k)
	for j := 0; j < k; j++ {
		se := cov.At(j, j)
		if se < 0 {
			se = 0
		}
		se = math.Sqrt(se)
		fit.SE[j] = se

		t := beta[j] / se
		fit.TStats[j] = t
		fit.PValues[j] = 2 * tdist.Survival(math.Abs(t))
		fit.CILow[j] = beta[j] - tcrit*se
		fit.CIHigh[j] = beta[j] + tcrit*se
	}
	return fit, nil
}

// weightedCopy returns the design matrix and response, row-scaled by
// sqrt weight when the design is weighted
func weightedCopy(d *Design) (*mat.Dense, []float64) {
	n, k := d.N(), d.K()
	if d.Weights == nil {
		y := make([]float64, n)
		copy(y, d.Y)
		return d.X, y
	}

	x := mat.NewDense(n, k, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		w := d.Weights[i]
		if w < 0 {
			w = 0
		}
		sw := math.Sqrt(w)
		y[i] = d.Y[i] * sw
		for p := 0; p < k; p++ {
			x.Set(i, p, d.X.At(i, p)*sw)
		}
	}
	return x, y
}

func rSquared(y, resid []float64) float64 {
	n := len(y)
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(n)

	sst, ssr := 0.0, 0.0
	for i := 0; i < n; i++ {
		dev := y[i] - mean
		sst += dev * dev
		ssr += resid[i] * resid[i]
	}
	if sst <= 0 {
		return math.NaN()
	}
	return 1 - ssr/sst
}
