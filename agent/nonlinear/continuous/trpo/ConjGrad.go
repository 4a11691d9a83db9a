package trpo

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// Added to the curvature term p·Ap to avoid division by zero
	cgEPS float64 = 1e-8

	// Squared residual norm below which the solve stops early
	cgResidualTol float64 = 1e-10
)

// conjGrad approximately solves Ax = b for a symmetric positive
// definite A available only through matrix-vector products. The avp
// callback computes Av for a given v. Running out of iterations
// before the residual tolerance is reached is not an error; the
// current iterate is returned.
func conjGrad(avp func([]float64) ([]float64, error), b []float64,
	iters int) ([]float64, error) {
	n := len(b)
	x := mat.NewVecDense(n, nil)
	r := mat.NewVecDense(n, append([]float64{}, b...))
	p := mat.NewVecDense(n, append([]float64{}, b...))

	rDotR := mat.Dot(r, r)

	for i := 0; i < iters; i++ {
		if rDotR < cgResidualTol {
			break
		}

		ap, err := avp(p.RawVector().Data)
		if err != nil {
			return nil, fmt.Errorf("conjGrad: iteration %d: could not "+
				"compute matrix-vector product: %v", i, err)
		}
		if len(ap) != n {
			return nil, fmt.Errorf("conjGrad: illegal product length"+
				"\n\twant(%v)\n\thave(%v)", n, len(ap))
		}
		apVec := mat.NewVecDense(n, ap)

		alpha := rDotR / (mat.Dot(p, apVec) + cgEPS)

		x.AddScaledVec(x, alpha, p)
		r.AddScaledVec(r, -alpha, apVec)

		newRDotR := mat.Dot(r, r)
		beta := newRDotR / rDotR
		p.AddScaledVec(r, beta, p)
		rDotR = newRDotR
	}

	out := make([]float64, n)
	copy(out, x.RawVector().Data)
	return out, nil
}

// dot returns the inner product of two equal-length slices
func dot(a, b []float64) float64 {
	return floats.Dot(a, b)
}
