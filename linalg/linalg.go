// Package linalg provides the dense decompositions the update and
// environment engines need on top of tensor.Dense: Hermitian
// eigendecomposition, singular value decomposition (full, truncated and
// randomized), thresholded pseudo-inverse solves, and the Hermitian
// exponential used for imaginary-time gates.
package linalg

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"github.com/fumin/tensor"
)

const (
	// Machine precision of complex64.
	epsilon = 0x1p-23

	jacobiMaxSweeps = 100
)

// EighHermitian diagonalizes a Hermitian matrix.
// It returns the eigenvalues in descending order, and the matrix whose
// columns are the corresponding eigenvectors.
// The phase of every eigenvector is fixed so that its largest entry is real
// and positive, keeping repeated decompositions of nearby matrices stable.
func EighHermitian(a *tensor.Dense) ([]float64, *tensor.Dense) {
	shape := a.Shape()
	if len(shape) != 2 || shape[0] != shape[1] {
		panic(fmt.Sprintf("%#v", shape))
	}
	n := shape[0]

	// Accumulate in complex128 to keep the rotations accurate.
	m := make([][]complex128, n)
	v := make([][]complex128, n)
	for i := range n {
		m[i] = make([]complex128, n)
		v[i] = make([]complex128, n)
		v[i][i] = 1
		for j := range n {
			m[i][j] = complex128(a.At(i, j))
		}
	}

	jacobi(m, v, n)

	vals := make([]float64, n)
	order := make([]int, n)
	for i := range n {
		vals[i] = real(m[i][i])
		order[i] = i
	}
	// Selection sort into descending eigenvalue order.
	for i := range n {
		imax := i
		for j := i + 1; j < n; j++ {
			if vals[order[j]] > vals[order[imax]] {
				imax = j
			}
		}
		order[i], order[imax] = order[imax], order[i]
	}

	sorted := make([]float64, n)
	vecs := tensor.Zeros(max(n, 1), max(n, 1))
	for j, oj := range order {
		sorted[j] = vals[oj]

		// Phase convention.
		var vmax complex128
		for k := range n {
			if cmplx.Abs(v[k][oj]) > cmplx.Abs(vmax) {
				vmax = v[k][oj]
			}
		}
		phase := complex128(1)
		if cmplx.Abs(vmax) > 0 {
			phase = cmplx.Conj(vmax) / complex(cmplx.Abs(vmax), 0)
		}

		for k := range n {
			vecs.SetAt([]int{k, j}, complex64(v[k][oj]*phase))
		}
	}
	return sorted, vecs
}

// jacobi runs cyclic complex Jacobi rotations on the Hermitian matrix m,
// accumulating the eigenvectors into v.
func jacobi(m, v [][]complex128, n int) {
	var scale float64
	for i := range n {
		for j := range n {
			scale += real(m[i][j])*real(m[i][j]) + imag(m[i][j])*imag(m[i][j])
		}
	}
	scale = math.Sqrt(scale)
	if scale == 0 {
		return
	}
	tol := 1e-14 * scale

	for range jacobiMaxSweeps {
		var off float64
		for p := 0; p < n; p++ {
			for q := p + 1; q < n; q++ {
				off += cmplx.Abs(m[p][q])
			}
		}
		if off < tol {
			return
		}

		for p := 0; p < n; p++ {
			for q := p + 1; q < n; q++ {
				g := m[p][q]
				ag := cmplx.Abs(g)
				if ag <= tol/float64(n*n) {
					continue
				}

				// Rotation angle of the phase-reduced real problem.
				tau := (real(m[q][q]) - real(m[p][p])) / (2 * ag)
				var t float64
				switch {
				case tau >= 0:
					t = 1 / (tau + math.Sqrt(1+tau*tau))
				default:
					t = -1 / (-tau + math.Sqrt(1+tau*tau))
				}
				c := 1 / math.Sqrt(1+t*t)
				s := t * c
				phase := g / complex(ag, 0)

				// m = J.H m J with J[p][p]=c, J[p][q]=s,
				// J[q][p]=-s*conj(phase), J[q][q]=c*conj(phase).
				cs := complex(c, 0)
				ss := complex(s, 0)
				for k := range n {
					akp, akq := m[k][p], m[k][q]
					m[k][p] = cs*akp - ss*cmplx.Conj(phase)*akq
					m[k][q] = ss*akp + cs*cmplx.Conj(phase)*akq
				}
				for k := range n {
					apk, aqk := m[p][k], m[q][k]
					m[p][k] = cs*apk - ss*phase*aqk
					m[q][k] = ss*apk + cs*phase*aqk
				}
				m[p][q] = 0
				m[q][p] = 0

				for k := range n {
					vkp, vkq := v[k][p], v[k][q]
					v[k][p] = cs*vkp - ss*cmplx.Conj(phase)*vkq
					v[k][q] = ss*vkp + cs*cmplx.Conj(phase)*vkq
				}
			}
		}
	}
}

// SVD computes the full singular value decomposition a = u diag(s) vh,
// with s in descending order. u is (m, k) and vh is (k, n), k = min(m, n).
// Singular values below the numerical threshold produce zero rows/columns
// in the corresponding factor; this is a best-effort truncation, not an
// error.
func SVD(a *tensor.Dense) (*tensor.Dense, []float64, *tensor.Dense) {
	shape := a.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("%#v", shape))
	}
	m, n := shape[0], shape[1]
	buf := tensor.Zeros(1)

	if m <= n {
		// Gram matrix a a.H is (m, m).
		gram := tensor.Contract(buf, a, a.Conj(), [][2]int{{1, 1}})
		vals, u := EighHermitian(gram)
		s := singularValues(vals)

		// vh = diag(1/s) u.H a.
		vh := tensor.Contract(tensor.Zeros(1), u.Conj(), a, [][2]int{{0, 0}})
		scaleAxis(vh, 0, pseudoInverse(s))
		return u, s, vh
	}

	// Gram matrix a.H a is (n, n); its eigenvectors are the right vectors.
	gram := tensor.Contract(buf, a.Conj(), a, [][2]int{{0, 0}})
	vals, v := EighHermitian(gram)
	s := singularValues(vals)

	// u = a v diag(1/s).
	u := tensor.Contract(tensor.Zeros(1), a, v, [][2]int{{1, 0}})
	scaleAxis(u, 1, pseudoInverse(s))

	vh := resetCopy(tensor.Zeros(1), v.H())
	return u, s, vh
}

// TruncSVD keeps the top chi singular triplets of a.
func TruncSVD(a *tensor.Dense, chi int) (*tensor.Dense, []float64, *tensor.Dense) {
	u, s, vh := SVD(a)
	k := min(chi, len(s))
	us := u.Shape()
	vs := vh.Shape()
	uk := resetCopy(tensor.Zeros(1), u.Slice([][2]int{{0, us[0]}, {0, k}}))
	vk := resetCopy(tensor.Zeros(1), vh.Slice([][2]int{{0, k}, {0, vs[1]}}))
	return uk, s[:k], vk
}

// RSVD computes a randomized truncated SVD keeping chi triplets, using a
// Gaussian range finder with a small oversampling.
// The random source only breaks degenerate subspaces; it carries no
// reproducibility guarantee across configurations.
func RSVD(a *tensor.Dense, chi int, rng *rand.Rand) (*tensor.Dense, []float64, *tensor.Dense) {
	shape := a.Shape()
	m, n := shape[0], shape[1]
	k := min(chi, min(m, n))
	p := min(k+8, n)
	if p >= n || p >= m {
		return TruncSVD(a, chi)
	}

	omega := RandTensor(rng, n, p)
	y := tensor.Contract(tensor.Zeros(1), a, omega, [][2]int{{1, 0}})

	q := tensor.Zeros(1)
	bufs := [2]*tensor.Dense{tensor.Zeros(1), tensor.Zeros(1)}
	tensor.QR(q, y, bufs)

	b := tensor.Contract(tensor.Zeros(1), q.Conj(), a, [][2]int{{0, 0}})
	ub, s, vh := TruncSVD(b, k)

	u := tensor.Contract(tensor.Zeros(1), q, ub, [][2]int{{1, 0}})
	return u, s, vh
}

// SolveHermitian solves h x = b for Hermitian h through a thresholded
// pseudo-inverse, so rank-deficient systems degrade instead of failing.
// b is (n, m) and holds one right-hand side per column.
func SolveHermitian(h, b *tensor.Dense, tol float64) *tensor.Dense {
	vals, v := EighHermitian(h)

	inv := make([]float64, len(vals))
	cut := tol * math.Max(math.Abs(vals[0]), epsilon)
	for i, lambda := range vals {
		if math.Abs(lambda) > cut {
			inv[i] = 1 / lambda
		}
	}

	y := tensor.Contract(tensor.Zeros(1), v.Conj(), b, [][2]int{{0, 0}})
	scaleAxis(y, 0, inv)
	return tensor.Contract(tensor.Zeros(1), v, y, [][2]int{{1, 0}})
}

// ExpHermitian returns exp(-tau h) for Hermitian h.
func ExpHermitian(h *tensor.Dense, tau float64) *tensor.Dense {
	vals, v := EighHermitian(h)

	weights := make([]float64, len(vals))
	for i, lambda := range vals {
		weights[i] = math.Exp(-tau * lambda)
	}
	w := resetCopy(tensor.Zeros(1), v)
	scaleAxis(w, 1, weights)
	return tensor.Contract(tensor.Zeros(1), w, v.Conj(), [][2]int{{1, 1}})
}

// PseudoInverse inverts a non-negative spectrum entrywise, treating values
// at or below tol as structurally zero.
func PseudoInverse(s []float64, tol float64) []float64 {
	inv := make([]float64, len(s))
	for i, v := range s {
		if v > tol {
			inv[i] = 1 / v
		}
	}
	return inv
}

func pseudoInverse(s []float64) []float64 {
	var smax float64
	for _, v := range s {
		smax = math.Max(smax, v)
	}
	return PseudoInverse(s, float64(epsilon)*math.Max(smax, 1))
}

func singularValues(vals []float64) []float64 {
	s := make([]float64, len(vals))
	for i, v := range vals {
		if v > 0 {
			s[i] = math.Sqrt(v)
		}
	}
	return s
}

// Eye returns the (n, n) identity.
func Eye(n int) *tensor.Dense {
	t := tensor.Zeros(n, n)
	for i := range n {
		t.SetAt([]int{i, i}, 1)
	}
	return t
}

// RandTensor fills a tensor with uniform entries in [-1, 1) on both the
// real and imaginary axes.
func RandTensor(rng *rand.Rand, shape ...int) *tensor.Dense {
	t := tensor.Zeros(shape...)
	for ijk := range t.All() {
		v := complex(rng.Float32()*2-1, rng.Float32()*2-1)
		t.SetAt(ijk, v)
	}
	return t
}

// MaxAbs returns the largest entry magnitude of t.
func MaxAbs(t *tensor.Dense) float64 {
	var m float64
	for _, v := range t.All() {
		m = math.Max(m, cmplx.Abs(complex128(v)))
	}
	return m
}

// ResetCopy copies src into dst, resizing dst to src's shape.
func ResetCopy(dst, src *tensor.Dense) *tensor.Dense {
	return resetCopy(dst, src)
}

func resetCopy(dst, src *tensor.Dense) *tensor.Dense {
	shape := src.Shape()
	zeroDigit := make([]int, len(shape))
	dst.Reset(shape...).Set(zeroDigit, src)
	return dst
}

// ScaleAxis multiplies t along axis by the real weights w.
func ScaleAxis(t *tensor.Dense, axis int, w []float64) {
	scaleAxis(t, axis, w)
}

func scaleAxis(t *tensor.Dense, axis int, w []float64) {
	for ijk, v := range t.All() {
		i := ijk[axis]
		if i >= len(w) {
			continue
		}
		t.SetAt(ijk, v*complex(float32(w[i]), 0))
	}
}
