package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "input.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadInput(t *testing.T) {
	t.Parallel()
	path := writeInput(t, `
[parameter]
chi = 4
simple_num_step = 500
tau = 0.02
seed = 7
output = "out"

[lattice]
lx = 2
ly = 1
virtual_dim = 3

[model]
type = "transverse_field_ising"
j = 1.0
hx = 0.5

[correlation]
r_max = 5
operators = [[0, 0], [1, 1]]
`)
	in, err := loadInput(path)
	require.NoError(t, err)

	require.Equal(t, 4, in.Parameter.Chi)
	require.Equal(t, 500, in.Parameter.SimpleSteps)
	require.Equal(t, 0, in.Parameter.FullSteps)
	require.Equal(t, 100, in.Parameter.CTMIterations)
	require.InDelta(t, 1e-8, in.Parameter.CTMTol, 1e-20)
	require.Equal(t, uint64(7), in.Parameter.Seed)
	require.Equal(t, "out", in.Parameter.OutDir)

	require.Equal(t, 2, in.Cell.LX)
	require.Equal(t, 1, in.Cell.LY)
	require.Equal(t, [4]int{3, 3, 3, 3}, in.Cell.VirtualDims[0])

	// One gate per site and bond direction, both update flavors.
	require.Len(t, in.Model.SimpleUpdates, 4)
	require.Len(t, in.Model.FullUpdates, 4)

	require.Equal(t, 5, in.Correlation.RMax)
	require.Equal(t, [][2]int{{0, 0}, {1, 1}}, in.Correlation.Pairs)
}

func TestLoadInputDefaults(t *testing.T) {
	t.Parallel()
	path := writeInput(t, "[parameter]\nchi = 3\n")
	in, err := loadInput(path)
	require.NoError(t, err)
	require.Equal(t, 3, in.Parameter.Chi)
	require.Equal(t, ".", in.Parameter.OutDir)
	require.Equal(t, 2, in.Cell.LX)
	require.Equal(t, 2, in.Cell.LY)
	require.Equal(t, 0, in.Correlation.RMax)
	require.Empty(t, in.Correlation.Pairs)
}

func TestLoadInputUnknownModel(t *testing.T) {
	t.Parallel()
	path := writeInput(t, "[model]\ntype = \"heisenberg\"\n")
	_, err := loadInput(path)
	require.Error(t, err)
}

func TestLoadInputMissingFile(t *testing.T) {
	t.Parallel()
	_, err := loadInput(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
