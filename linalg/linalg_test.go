package linalg

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"

	"github.com/fumin/tensor"
	"github.com/stretchr/testify/require"
)

func mk(rows [][]complex64) *tensor.Dense {
	t := tensor.Zeros(len(rows), len(rows[0]))
	for i, row := range rows {
		for j, v := range row {
			t.SetAt([]int{i, j}, v)
		}
	}
	return t
}

func requireClose(t *testing.T, want, got *tensor.Dense, tol float64) {
	t.Helper()
	require.Equal(t, want.Shape(), got.Shape())
	for ijk, v := range want.All() {
		d := cmplx.Abs(complex128(v - got.At(ijk...)))
		require.LessOrEqual(t, d, tol, "%v", ijk)
	}
}

func TestEighHermitian(t *testing.T) {
	t.Parallel()
	a := mk([][]complex64{
		{2, 1 - 1i},
		{1 + 1i, 0},
	})
	vals, vecs := EighHermitian(a)

	require.InDelta(t, 1+math.Sqrt(3), vals[0], 1e-5)
	require.InDelta(t, 1-math.Sqrt(3), vals[1], 1e-5)

	// a v_j = lambda_j v_j.
	for j := range vals {
		for i := range 2 {
			var av complex128
			for k := range 2 {
				av += complex128(a.At(i, k)) * complex128(vecs.At(k, j))
			}
			want := vals[j] * real(complex128(vecs.At(i, j)))
			wanti := vals[j] * imag(complex128(vecs.At(i, j)))
			require.InDelta(t, want, real(av), 1e-5)
			require.InDelta(t, wanti, imag(av), 1e-5)
		}
	}
}

func TestSVDReconstruct(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(3, 7))
	for _, shape := range [][2]int{{3, 5}, {5, 3}, {4, 4}} {
		a := RandTensor(rng, shape[0], shape[1])
		u, s, vh := SVD(a)

		require.Equal(t, []int{shape[0], min(shape[0], shape[1])}, u.Shape())
		require.Equal(t, []int{min(shape[0], shape[1]), shape[1]}, vh.Shape())
		for k := 1; k < len(s); k++ {
			require.GreaterOrEqual(t, s[k-1], s[k])
		}

		us := ResetCopy(tensor.Zeros(1), u)
		ScaleAxis(us, 1, s)
		rec := tensor.Contract(tensor.Zeros(1), us, vh, [][2]int{{1, 0}})
		requireClose(t, a, rec, 1e-4*math.Max(s[0], 1))
	}
}

func TestTruncSVD(t *testing.T) {
	t.Parallel()
	a := mk([][]complex64{
		{3, 0, 0},
		{0, 2, 0},
		{0, 0, 1},
	})
	u, s, vh := TruncSVD(a, 2)
	require.Equal(t, []int{3, 2}, u.Shape())
	require.Equal(t, []int{2, 3}, vh.Shape())
	require.Len(t, s, 2)
	require.InDelta(t, 3, s[0], 1e-5)
	require.InDelta(t, 2, s[1], 1e-5)
}

func TestRSVDLowRank(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))

	// A rank-2 matrix big enough for the range finder path.
	n := 16
	x := RandTensor(rng, n, 2)
	y := RandTensor(rng, 2, n)
	a := tensor.Contract(tensor.Zeros(1), x, y, [][2]int{{1, 0}})

	u, s, vh := RSVD(a, 2, rng)
	require.Len(t, s, 2)

	us := ResetCopy(tensor.Zeros(1), u)
	ScaleAxis(us, 1, s)
	rec := tensor.Contract(tensor.Zeros(1), us, vh, [][2]int{{1, 0}})
	requireClose(t, a, rec, 1e-3*math.Max(s[0], 1))
}

func TestSolveHermitian(t *testing.T) {
	t.Parallel()
	h := mk([][]complex64{
		{2, 0},
		{0, 4},
	})
	b := mk([][]complex64{
		{2, 4},
		{4, 8},
	})
	x := SolveHermitian(h, b, 1e-12)
	want := mk([][]complex64{
		{1, 2},
		{1, 2},
	})
	requireClose(t, want, x, 1e-5)
}

func TestSolveHermitianRankDeficient(t *testing.T) {
	t.Parallel()
	h := mk([][]complex64{
		{1, 0},
		{0, 0},
	})
	b := mk([][]complex64{
		{3},
		{5},
	})
	// The null-space component is dropped, not amplified.
	x := SolveHermitian(h, b, 1e-6)
	require.InDelta(t, 3, real(complex128(x.At(0, 0))), 1e-5)
	require.InDelta(t, 0, real(complex128(x.At(1, 0))), 1e-5)
}

func TestExpHermitian(t *testing.T) {
	t.Parallel()
	z := mk([][]complex64{
		{1, 0},
		{0, -1},
	})
	g := ExpHermitian(z, 0.3)
	want := mk([][]complex64{
		{complex64(complex(math.Exp(-0.3), 0)), 0},
		{0, complex64(complex(math.Exp(0.3), 0))},
	})
	requireClose(t, want, g, 1e-5)
}

func TestPseudoInverse(t *testing.T) {
	t.Parallel()
	inv := PseudoInverse([]float64{2, 0.5, 1e-14, 0}, 1e-12)
	require.InDelta(t, 0.5, inv[0], 1e-12)
	require.InDelta(t, 2, inv[1], 1e-12)
	require.Zero(t, inv[2])
	require.Zero(t, inv[3])
}

func TestEye(t *testing.T) {
	t.Parallel()
	e := Eye(3)
	for ijk, v := range e.All() {
		want := complex64(0)
		if ijk[0] == ijk[1] {
			want = 1
		}
		require.Equal(t, want, v)
	}
}

func TestMaxAbs(t *testing.T) {
	t.Parallel()
	a := mk([][]complex64{
		{1, -2},
		{3i, 0},
	})
	require.InDelta(t, 3, MaxAbs(a), 1e-6)
	require.Zero(t, MaxAbs(tensor.Zeros(2, 2)))
}

func TestScaleAxis(t *testing.T) {
	t.Parallel()
	a := mk([][]complex64{
		{1, 2},
		{3, 4},
	})
	ScaleAxis(a, 0, []float64{2, 10})
	require.Equal(t, complex64(2), a.At(0, 0))
	require.Equal(t, complex64(4), a.At(0, 1))
	require.Equal(t, complex64(30), a.At(1, 0))
	require.Equal(t, complex64(40), a.At(1, 1))
}
