package peps

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/fumin/tensor"
	"github.com/stretchr/testify/require"

	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/linalg"
)

func TestNewShapes(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 3, 2, 3)
	s, err := New(cell, 5, 1)
	require.NoError(t, err)

	for i := range cell.N() {
		require.Equal(t, []int{3, 3, 3, 3, 2}, s.Tn[i].Shape())
		require.Equal(t, []int{5, 5, 3, 3}, s.ETt[i].Shape())
		require.Equal(t, []int{5, 5, 3, 3}, s.ETl[i].Shape())
		require.Equal(t, []int{5, 5}, s.C1[i].Shape())
		for leg := range lattice.NumLegs {
			require.Len(t, s.Lambda[i][leg], 3)
			for _, v := range s.Lambda[i][leg] {
				require.Equal(t, 1.0, v)
			}
		}
	}
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()
	_, err := New(lattice.Uniform(2, 2, 2, 2), 0, 1)
	require.Error(t, err)

	cell := lattice.Uniform(2, 1, 2, 2)
	cell.VirtualDims[0][lattice.Right] = 3
	_, err = New(cell, 2, 1)
	require.Error(t, err)
}

func TestNewDeterministic(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 2, 2, 2)
	a, err := New(cell, 3, 42)
	require.NoError(t, err)
	b, err := New(cell, 3, 42)
	require.NoError(t, err)
	c, err := New(cell, 3, 43)
	require.NoError(t, err)

	for i := range cell.N() {
		for ijk, v := range a.Tn[i].All() {
			require.Equal(t, v, b.Tn[i].At(ijk...))
		}
	}
	var differs bool
	for ijk, v := range a.Tn[0].All() {
		if v != c.Tn[0].At(ijk...) {
			differs = true
			break
		}
	}
	require.True(t, differs)
}

func TestInitialDirection(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(1, 1, 2, 2)
	cell.InitialDirs[0] = []float64{1, 0}
	cell.Noises[0] = 0
	s, err := New(cell, 2, 7)
	require.NoError(t, err)

	// Only the directional amplitude at the all-zero virtual index survives.
	for ijk, v := range s.Tn[0].All() {
		want := complex64(0)
		if ijk[0] == 0 && ijk[1] == 0 && ijk[2] == 0 && ijk[3] == 0 && ijk[4] == 0 {
			want = 1
		}
		require.Equal(t, want, v)
	}
}

func TestResetEnvironment(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(1, 1, 2, 2)
	s, err := New(cell, 3, 1)
	require.NoError(t, err)

	s.C1[0].SetAt([]int{1, 2}, 5)
	s.ETt[0].SetAt([]int{2, 0, 1, 0}, 5)
	s.ResetEnvironment()

	for ijk, v := range s.C1[0].All() {
		want := complex64(0)
		if ijk[0] == 0 && ijk[1] == 0 {
			want = 1
		}
		require.Equal(t, want, v)
	}
	for ijk, v := range s.ETt[0].All() {
		want := complex64(0)
		if ijk[0] == 0 && ijk[1] == 0 && ijk[2] == ijk[3] {
			want = 1
		}
		require.Equal(t, want, v)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 1, 2, 2)
	s, err := New(cell, 3, 9)
	require.NoError(t, err)

	// Perturb away from the initial state so the round trip is not trivial.
	rng := rand.New(rand.NewPCG(5, 6))
	for i := range cell.N() {
		linalg.ResetCopy(s.C1[i], linalg.RandTensor(rng, 3, 3))
		linalg.ResetCopy(s.ETt[i], linalg.RandTensor(rng, 3, 3, 2, 2))
		s.Lambda[i][lattice.Right] = []float64{0.75, 0.25}
	}

	dir := filepath.Join(t.TempDir(), "checkpoint")
	require.NoError(t, s.Save(dir))

	s2, err := New(cell, 3, 1)
	require.NoError(t, err)
	require.NoError(t, s2.Load(dir))

	for i := range cell.N() {
		for _, pair := range [][2]*tensor.Dense{
			{s.Tn[i], s2.Tn[i]},
			{s.C1[i], s2.C1[i]},
			{s.C2[i], s2.C2[i]},
			{s.C3[i], s2.C3[i]},
			{s.C4[i], s2.C4[i]},
			{s.ETt[i], s2.ETt[i]},
			{s.ETr[i], s2.ETr[i]},
			{s.ETb[i], s2.ETb[i]},
			{s.ETl[i], s2.ETl[i]},
		} {
			require.Equal(t, pair[0].Shape(), pair[1].Shape())
			for ijk, v := range pair[0].All() {
				require.Equal(t, v, pair[1].At(ijk...))
			}
		}
		require.Equal(t, s.Lambda[i], s2.Lambda[i])
	}
}

func TestLoadMissingDir(t *testing.T) {
	t.Parallel()
	s, err := New(lattice.Uniform(1, 1, 2, 2), 2, 1)
	require.NoError(t, err)
	require.Error(t, s.Load(filepath.Join(t.TempDir(), "missing")))
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()
	s, err := New(lattice.Uniform(1, 1, 2, 2), 2, 1)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "checkpoint")
	require.NoError(t, s.Save(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "T_0.dat"), []byte("junk\n"), 0644))
	require.Error(t, s.Load(dir))
}

func TestSiteOperatorIndex(t *testing.T) {
	t.Parallel()
	ops := []Operator{
		{Group: 0, Site: 0},
		{Group: 1, Site: 0},
		{Group: 0, Site: 2},
	}
	idx := SiteOperatorIndex(3, ops)
	require.Equal(t, 0, idx[0][0])
	require.Equal(t, 1, idx[0][1])
	require.Equal(t, -1, idx[1][0])
	require.Equal(t, -1, idx[1][1])
	require.Equal(t, 2, idx[2][0])
	require.Equal(t, -1, idx[2][1])
}

func TestNumGroups(t *testing.T) {
	t.Parallel()
	ops := []Operator{{Group: 0}, {Group: 3}, {Group: 1}}
	require.Equal(t, 4, NumGroups(ops, func(op Operator) int { return op.Group }))
	require.Equal(t, 0, NumGroups(nil, func(op Operator) int { return op.Group }))
}

func TestFramePermRoundTrip(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 2, 2, 2)
	s, err := New(cell, 2, 3)
	require.NoError(t, err)

	for leg := range lattice.NumLegs {
		f := s.FrameTn(0, leg)
		back := Unframe(f, leg)
		require.Equal(t, s.Tn[0].Shape(), back.Shape())
		for ijk, v := range s.Tn[0].All() {
			require.Equal(t, v, back.At(ijk...))
		}
	}

	// The rightward frame is the identity relabeling.
	require.Equal(t, [4]int{0, 1, 2, 3}, FramePerm(lattice.Right))
}

func TestFrameForRing(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 2, 2, 2)
	s, err := New(cell, 2, 3)
	require.NoError(t, err)

	// A rightward bond keeps the ring as stored.
	f := s.FrameFor(0, lattice.Right)
	require.Same(t, s.C1[0], f.C1)
	require.Same(t, s.ETt[0], f.ETt1)
	require.Same(t, s.ETt[1], f.ETt2)
	require.Same(t, s.C2[1], f.C2)
	require.Same(t, s.ETr[1], f.ETr2)
	require.Same(t, s.C3[1], f.C3)
	require.Same(t, s.ETb[1], f.ETb2)
	require.Same(t, s.ETb[0], f.ETb1)
	require.Same(t, s.C4[0], f.C4)
	require.Same(t, s.ETl[0], f.ETl1)

	// An upward bond shifts every ring tensor by one quarter turn.
	up := s.Cell.Neighbor(0, lattice.Top)
	f = s.FrameFor(0, lattice.Top)
	require.Same(t, s.C4[0], f.C1)
	require.Same(t, s.ETl[0], f.ETt1)
	require.Same(t, s.ETl[up], f.ETt2)
	require.Same(t, s.C1[up], f.C2)
	require.Same(t, s.ETt[up], f.ETr2)
	require.Same(t, s.C2[up], f.C3)
	require.Same(t, s.ETr[up], f.ETb2)
	require.Same(t, s.ETr[0], f.ETb1)
	require.Same(t, s.C3[0], f.C4)
	require.Same(t, s.ETb[0], f.ETl1)
}

func TestIdentity(t *testing.T) {
	t.Parallel()
	s, err := New(lattice.Uniform(1, 1, 3, 2), 2, 1)
	require.NoError(t, err)
	id := s.Identity(0)
	require.Equal(t, []int{3, 3}, id.Shape())
	for ijk, v := range id.All() {
		want := complex64(0)
		if ijk[0] == ijk[1] {
			want = 1
		}
		require.Equal(t, want, v)
	}
}
