package update

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fumin/tensor"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/lzhang714/TeNeS/ctm"
	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/linalg"
	"github.com/lzhang714/TeNeS/peps"
)

func identityGate(src, leg, p int) Gate {
	op := tensor.Zeros(p, p, p, p)
	for a := range p {
		for b := range p {
			op.SetAt([]int{a, b, a, b}, 1)
		}
	}
	return Gate{Source: src, Leg: leg, Op: op}
}

func TestSimpleUpdateZeroSteps(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 2, 2, 2)
	s, err := peps.New(cell, 2, 5)
	require.NoError(t, err)

	before := make([]*tensor.Dense, cell.N())
	for i := range before {
		before[i] = linalg.ResetCopy(tensor.Zeros(1), s.Tn[i])
	}

	gates := []Gate{identityGate(0, lattice.Right, 2), identityGate(0, lattice.Top, 2)}
	require.NoError(t, SimpleUpdate(s, gates, SimpleConfig{Steps: 0}))

	for i := range before {
		require.Zero(t, maxAbsDiff(before[i], s.Tn[i]))
	}
}

// Not parallel: it captures the global logger.
func TestSimpleUpdateProgressReport(t *testing.T) {
	cell := lattice.Uniform(1, 1, 2, 1)
	s, err := peps.New(cell, 1, 5)
	require.NoError(t, err)

	hook := logtest.NewGlobal()
	defer logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))

	// 25 is not a multiple of 10, so a fixed modulus would miss boundaries.
	require.NoError(t, SimpleUpdate(s, nil, SimpleConfig{Steps: 25}))

	var msgs []string
	for _, entry := range hook.AllEntries() {
		if strings.HasPrefix(entry.Message, "simple update") {
			msgs = append(msgs, entry.Message)
		}
	}
	require.Len(t, msgs, 10)
	require.Equal(t, "simple update 100% done", msgs[len(msgs)-1])
}

func TestReduceRecombine(t *testing.T) {
	t.Parallel()
	for leg := range lattice.NumLegs {
		t.Run(fmt.Sprintf("leg%d", leg), func(t *testing.T) {
			t.Parallel()
			cell := lattice.Uniform(2, 1, 2, 2)
			s, err := peps.New(cell, 2, uint64(3+leg))
			require.NoError(t, err)

			q, r := reduceQR(s.Tn[0], leg)
			back := recombine(q, r, s.Tn[0].Shape(), leg)
			require.Less(t, maxAbsDiff(back, s.Tn[0]), 1e-5)
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 2, 2, 2)
	s, err := peps.New(cell, 2, 11)
	require.NoError(t, err)

	for leg := range lattice.NumLegs {
		back := peps.Unframe(s.FrameTn(0, leg), leg)
		require.Zero(t, maxAbsDiff(back, s.Tn[0]), "leg %d", leg)
	}
}

func TestSimpleUpdateIdentityGate(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 1, 2, 2)
	s, err := peps.New(cell, 2, 9)
	require.NoError(t, err)

	gates := []Gate{identityGate(0, lattice.Right, 2)}
	require.NoError(t, SimpleUpdate(s, gates, SimpleConfig{Steps: 3}))

	// The state stays well formed: shapes are untouched, the shared bond
	// spectrum is normalized and mirrored on both sides.
	require.Equal(t, []int{2, 2, 2, 2, 2}, s.Tn[0].Shape())
	lam := s.Lambda[0][lattice.Right]
	require.InDelta(t, 1, lam[0], 1e-6)
	require.Equal(t, lam, s.Lambda[1][lattice.Left])
	require.False(t, linalg.MaxAbs(s.Tn[0]) == 0)
}

func TestFullUpdateIdentityGate(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 1, 2, 2)
	s, err := peps.New(cell, 2, 13)
	require.NoError(t, err)

	env := ctm.New(ctm.Config{Iterations: 100, Tol: 1e-9})
	gates := []Gate{identityGate(0, lattice.Right, 2), identityGate(1, lattice.Right, 2)}
	require.NoError(t, FullUpdate(s, env, gates, FullConfig{Steps: 1}))

	for i := range cell.N() {
		require.Equal(t, []int{2, 2, 2, 2, 2}, s.Tn[i].Shape())
		m := linalg.MaxAbs(s.Tn[i])
		require.Greater(t, m, 0.0)
		require.Less(t, m, 1.0+1e-6)
	}
}

func TestFullUpdateFastRefresh(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 2, 2, 2)
	s, err := peps.New(cell, 2, 17)
	require.NoError(t, err)

	env := ctm.New(ctm.Config{Iterations: 100, Tol: 1e-8})
	gates := []Gate{
		identityGate(0, lattice.Right, 2),
		identityGate(0, lattice.Top, 2),
	}
	require.NoError(t, FullUpdate(s, env, gates, FullConfig{Steps: 1, Fast: true}))
	require.NoError(t, ctm.Validate(s))
}
