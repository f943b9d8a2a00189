// Package update optimizes the site tensors of a PEPS by imaginary-time
// evolution. Two engines are provided: the simple update, which treats the
// environment of a bond as the mean-field product of its bond spectra, and
// the full update, which measures distances in the metric of the converged
// corner-transfer-matrix environment.
package update

import (
	"math"
	"math/cmplx"

	"github.com/fumin/tensor"
	"gonum.org/v1/gonum/floats"

	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/linalg"
)

// Gate is an imaginary-time evolution operator acting on the bond leaving
// Source through Leg. Op has legs (out1, out2, in1, in2) with 1 the source
// side and 2 the target side.
type Gate struct {
	Source int
	Leg    int
	Op     *tensor.Dense
}

// othersOf returns the three legs other than leg, in storage order.
func othersOf(leg int) [3]int {
	var o [3]int
	k := 0
	for l := range lattice.NumLegs {
		if l != leg {
			o[k] = l
			k++
		}
	}
	return o
}

// reduceQR splits a rank-5 site tensor into an isometry q over the three
// spectator legs and a reduced half r with legs (reduced, bond, phys).
// q is kept as a matrix whose rows run over the spectator legs in storage
// order.
func reduceQR(t *tensor.Dense, leg int) (*tensor.Dense, *tensor.Dense) {
	o := othersOf(leg)
	shape := t.Shape()

	a := linalg.ResetCopy(tensor.Zeros(1), t.Transpose(o[0], o[1], o[2], leg, 4))
	m := a.Reshape(shape[o[0]]*shape[o[1]]*shape[o[2]], shape[leg]*shape[4])

	q := tensor.Zeros(1)
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	r := tensor.QR(q, m, bufs)
	return q, linalg.ResetCopy(tensor.Zeros(1), r).Reshape(-1, shape[leg], shape[4])
}

// recombine rebuilds a rank-5 site tensor from the isometry q and a reduced
// half r, restoring storage leg order.
func recombine(q, r *tensor.Dense, shape []int, leg int) *tensor.Dense {
	o := othersOf(leg)
	full := tensor.Contract(tensor.Zeros(1), q, r, [][2]int{{1, 0}})
	full = full.Reshape(shape[o[0]], shape[o[1]], shape[o[2]], r.Shape()[1], shape[4])

	cur := [5]int{o[0], o[1], o[2], leg, 4}
	var inv [5]int
	for pos, l := range cur {
		inv[l] = pos
	}
	return linalg.ResetCopy(tensor.Zeros(1), full.Transpose(inv[0], inv[1], inv[2], inv[3], inv[4]))
}

// rescaled divides t by its largest magnitude entry.
func rescaled(t *tensor.Dense) *tensor.Dense {
	m := linalg.MaxAbs(t)
	if m > 0 {
		t = t.Mul(complex(float32(1/m), 0))
	}
	return t
}

// normalized returns the spectrum divided by its leading value.
func normalized(s []float64) []float64 {
	out := make([]float64, len(s))
	copy(out, s)
	if len(out) > 0 && out[0] > 0 {
		floats.Scale(1/out[0], out)
	}
	return out
}

// maxAbsDiff returns the largest entrywise distance between two tensors of
// identical shape.
func maxAbsDiff(a, b *tensor.Dense) float64 {
	var m float64
	for ijk, v := range a.All() {
		m = math.Max(m, cmplx.Abs(complex128(v-b.At(ijk...))))
	}
	return m
}
