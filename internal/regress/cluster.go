package regress

import (
	"gonum.org/v1/gonum/mat"
)

// clusterCovariance computes the CR1 sandwich estimator grouped by
// county: c * (X'X)^-1 (sum_g X_g' e_g e_g' X_g) (X'X)^-1 with the
// small-sample factor c = G/(G-1) * (N-1)/(N-K).
func clusterCovariance(d *Design, x *mat.Dense, resid []float64, xtxInv *mat.Dense) *mat.Dense {
	n, k := d.N(), d.K()
	g := d.NClusters

	// score per cluster: s_g = sum_{i in g} e_i * x_i
	scores := mat.NewDense(g, k, nil)
	for i := 0; i < n; i++ {
		ci := d.Clusters[i]
		for p := 0; p < k; p++ {
			scores.Set(ci, p, scores.At(ci, p)+resid[i]*x.At(i, p))
		}
	}

	// meat = sum_g s_g s_g'
	var meat mat.Dense
	meat.Mul(scores.T(), scores)

	var bread mat.Dense
	bread.Mul(xtxInv, &meat)

	cov := mat.NewDense(k, k, nil)
	cov.Mul(&bread, xtxInv)

	correction := float64(g) / float64(g-1) * float64(n-1) / float64(n-k)
	cov.Scale(correction, cov)
	return cov
}
