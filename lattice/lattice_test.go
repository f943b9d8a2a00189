package lattice

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexWraparound(t *testing.T) {
	t.Parallel()
	c := Uniform(3, 2, 2, 2)
	tests := []struct {
		x, y int
		want int
	}{
		{0, 0, 0},
		{2, 1, 5},
		{3, 0, 0},
		{-1, 0, 2},
		{0, -1, 3},
		{-4, -3, 5},
		{7, 5, 4},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%d_%d", test.x, test.y), func(t *testing.T) {
			t.Parallel()
			require.Equal(t, test.want, c.Index(test.x, test.y))
		})
	}
}

func TestCoordinatesRoundTrip(t *testing.T) {
	t.Parallel()
	c := Uniform(3, 4, 2, 2)
	for i := range c.N() {
		require.Equal(t, i, c.Index(c.X(i), c.Y(i)))
	}
}

func TestNeighbor(t *testing.T) {
	t.Parallel()
	c := Uniform(3, 2, 2, 2)
	// Site 4 sits at (1, 1).
	require.Equal(t, 3, c.Neighbor(4, Left))
	require.Equal(t, 5, c.Neighbor(4, Right))
	require.Equal(t, 1, c.Neighbor(4, Top))
	require.Equal(t, 1, c.Neighbor(4, Bottom))

	// Crossing a bond and crossing back lands on the start.
	for i := range c.N() {
		for leg := range NumLegs {
			j := c.Neighbor(i, leg)
			require.Equal(t, i, c.Neighbor(j, Opposite(leg)))
		}
	}
}

func TestOpposite(t *testing.T) {
	t.Parallel()
	require.Equal(t, Right, Opposite(Left))
	require.Equal(t, Left, Opposite(Right))
	require.Equal(t, Bottom, Opposite(Top))
	require.Equal(t, Top, Opposite(Bottom))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, Uniform(2, 3, 2, 4).Validate())

	c := Uniform(2, 1, 2, 3)
	c.VirtualDims[0][Right] = 4
	require.Error(t, c.Validate())

	c = Uniform(1, 1, 2, 2)
	c.PhysDims[0] = 0
	require.Error(t, c.Validate())

	c = Uniform(2, 2, 2, 2)
	c.InitialDirs[1] = []float64{1, 0, 0}
	require.Error(t, c.Validate())

	c = &Unitcell{LX: 0, LY: 2}
	require.Error(t, c.Validate())
}

func TestValidateMismatchedBond(t *testing.T) {
	t.Parallel()
	// In a 1-wide cell the Left and Right legs of a site share a bond with
	// itself, so they must agree.
	c := Uniform(1, 2, 2, 2)
	c.VirtualDims[0][Left] = 3
	require.Error(t, c.Validate())
}
