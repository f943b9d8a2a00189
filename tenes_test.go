package tenes

import (
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/obsdb"
	"github.com/lzhang714/TeNeS/peps"
)

func TestTransverseFieldIsing(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 2, 2, 2)
	m, err := TransverseFieldIsing(cell, 1, 0.5, 0.01)
	require.NoError(t, err)

	require.Len(t, m.SimpleUpdates, 2*cell.N())
	require.Len(t, m.FullUpdates, 2*cell.N())
	require.Len(t, m.OneSite, 2*cell.N())
	require.Len(t, m.TwoSite, 2*cell.N())

	// At tau = 0 the Trotter gate is the identity.
	m0, err := TransverseFieldIsing(cell, 1, 0.5, 0)
	require.NoError(t, err)
	g := m0.SimpleUpdates[0].Op
	for ijk, v := range g.All() {
		want := 0.0
		if ijk[0] == ijk[2] && ijk[1] == ijk[3] {
			want = 1
		}
		require.InDelta(t, want, real(complex128(v)), 1e-5)
		require.InDelta(t, 0, imag(complex128(v)), 1e-5)
	}
}

func TestTransverseFieldIsingWrongPhysDim(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(1, 1, 3, 2)
	_, err := TransverseFieldIsing(cell, 1, 0, 0.01)
	require.Error(t, err)
}

func TestRunTrivialProductState(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(1, 1, 2, 1)
	model, err := TransverseFieldIsing(cell, 1, 0.2, 0.05)
	require.NoError(t, err)

	outDir := t.TempDir()
	saveDir := filepath.Join(outDir, "checkpoint")
	dbPath := filepath.Join(outDir, "sweep.db")
	in := Input{
		Cell: cell,
		Parameter: Parameter{
			Chi:           1,
			SimpleSteps:   20,
			FullSteps:     1,
			CTMIterations: 20,
			CTMTol:        1e-10,
			Seed:          5,
			OutDir:        outDir,
			SaveDir:       saveDir,
			ResultsDB:     dbPath,
		},
		Model:       model,
		Correlation: CorrelationParameter{RMax: 2, Pairs: [][2]int{{0, 0}}},
	}
	res, err := Run(in)
	require.NoError(t, err)

	require.False(t, math.IsNaN(res.EnergyDensity))
	require.Len(t, res.OneSite, 2)
	for g := range res.OneSite {
		v := res.OneSite[g][0]
		require.False(t, math.IsNaN(real(v)))
		require.InDelta(t, 0, imag(v), 1e-4)
		require.LessOrEqual(t, cmplx.Abs(v), 1+1e-4)
	}
	require.Len(t, res.TwoSite, 2)
	// 1 site, 2 directions, 2 distances.
	require.Len(t, res.Correlations, 4)

	for _, name := range []string{
		"parameters.dat", "onesite_obs.dat", "twosite_obs.dat",
		"correlation.dat", "energy.dat", "time.dat",
	} {
		_, err := os.Stat(filepath.Join(outDir, name))
		require.NoError(t, err, name)
	}

	b, err := os.ReadFile(filepath.Join(outDir, "onesite_obs.dat"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(b), "# $1: op_group\n"))

	db, err := obsdb.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.InDelta(t, res.EnergyDensity, runs[0].Energy, 1e-12)
	stored, err := db.Values(runs[0].ID, obsdb.KindOneSite)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	// A reloaded checkpoint with no further optimization measures the same.
	in2 := in
	in2.Parameter.SimpleSteps = 0
	in2.Parameter.FullSteps = 0
	in2.Parameter.OutDir = t.TempDir()
	in2.Parameter.SaveDir = ""
	in2.Parameter.LoadDir = saveDir
	in2.Parameter.ResultsDB = ""
	res2, err := Run(in2)
	require.NoError(t, err)
	for g := range res.OneSite {
		require.InDelta(t, real(res.OneSite[g][0]), real(res2.OneSite[g][0]), 1e-5)
	}
	require.InDelta(t, res.EnergyDensity, res2.EnergyDensity, 1e-5)
}

func TestOneSiteDensityPartialAssignment(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(2, 1, 2, 2)
	in := Input{
		Cell: cell,
		Parameter: Parameter{
			Chi:           2,
			CTMIterations: 10,
			CTMTol:        1e-4,
			Seed:          3,
			OutDir:        t.TempDir(),
		},
		// Group 0 is assigned on site 0 only.
		Model: Model{OneSite: []peps.Operator{{Group: 0, Site: 0, Op: PauliZ()}}},
	}
	res, err := Run(in)
	require.NoError(t, err)

	require.True(t, math.IsNaN(real(res.OneSite[0][1])))
	require.False(t, math.IsNaN(real(res.OneSiteDensity[0])))
	require.Equal(t, res.OneSite[0][0], res.OneSiteDensity[0])
}

func TestRunMissingCheckpoint(t *testing.T) {
	t.Parallel()
	cell := lattice.Uniform(1, 1, 2, 1)
	model, err := TransverseFieldIsing(cell, 1, 0, 0.01)
	require.NoError(t, err)

	in := Input{
		Cell: cell,
		Parameter: Parameter{
			Chi:     1,
			OutDir:  t.TempDir(),
			LoadDir: filepath.Join(t.TempDir(), "missing"),
		},
		Model: model,
	}
	_, err = Run(in)
	require.Error(t, err)
}
