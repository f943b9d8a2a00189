// Package lattice describes the periodic square unit cell a PEPS lives on.
package lattice

import (
	"github.com/pkg/errors"
)

// Virtual leg directions of a site tensor, in storage order.
const (
	Left = iota
	Top
	Right
	Bottom

	NumLegs = 4
)

// Opposite returns the leg facing leg across a bond.
func Opposite(leg int) int {
	return (leg + 2) % NumLegs
}

// Unitcell is a fixed-size periodic grid of sites.
// Site i sits at (x, y) = (i%LX, i/LX), with x growing rightwards and y upwards.
// It is immutable during a run.
type Unitcell struct {
	LX int
	LY int

	// PhysDims[i] is the physical leg dimension of site i.
	PhysDims []int
	// VirtualDims[i][leg] is the virtual leg dimension of site i.
	VirtualDims [][NumLegs]int

	// InitialDirs[i] is the initial physical-space amplitude of site i.
	// All zeros means a random initial direction.
	InitialDirs [][]float64
	// Noises[i] scales the random admixture of the initial state of site i.
	Noises []float64
}

// Uniform returns a unit cell whose sites all share the same physical and
// virtual dimensions.
func Uniform(lx, ly, physDim, virtualDim int) *Unitcell {
	n := lx * ly
	cell := &Unitcell{LX: lx, LY: ly}
	cell.PhysDims = make([]int, n)
	cell.VirtualDims = make([][NumLegs]int, n)
	cell.InitialDirs = make([][]float64, n)
	cell.Noises = make([]float64, n)
	for i := range n {
		cell.PhysDims[i] = physDim
		cell.VirtualDims[i] = [NumLegs]int{virtualDim, virtualDim, virtualDim, virtualDim}
		cell.InitialDirs[i] = make([]float64, physDim)
		cell.Noises[i] = 1e-2
	}
	return cell
}

// N returns the number of sites in the unit cell.
func (c *Unitcell) N() int { return c.LX * c.LY }

func (c *Unitcell) X(i int) int { return i % c.LX }
func (c *Unitcell) Y(i int) int { return i / c.LX }

// Index returns the site at (x, y), wrapping periodically.
func (c *Unitcell) Index(x, y int) int {
	x %= c.LX
	if x < 0 {
		x += c.LX
	}
	y %= c.LY
	if y < 0 {
		y += c.LY
	}
	return y*c.LX + x
}

// Other returns the site displaced from i by (dx, dy), wrapping periodically.
func (c *Unitcell) Other(i, dx, dy int) int {
	return c.Index(c.X(i)+dx, c.Y(i)+dy)
}

// Neighbor returns the site across the given leg of site i.
func (c *Unitcell) Neighbor(i, leg int) int {
	switch leg {
	case Left:
		return c.Other(i, -1, 0)
	case Top:
		return c.Other(i, 0, 1)
	case Right:
		return c.Other(i, 1, 0)
	default:
		return c.Other(i, 0, -1)
	}
}

// Validate checks leg-dimension consistency across all shared bonds.
// A mismatch is a configuration error and aborts the run.
func (c *Unitcell) Validate() error {
	if c.LX <= 0 || c.LY <= 0 {
		return errors.Errorf("%d %d", c.LX, c.LY)
	}
	n := c.N()
	if len(c.PhysDims) != n || len(c.VirtualDims) != n {
		return errors.Errorf("%d %d %d", n, len(c.PhysDims), len(c.VirtualDims))
	}
	for i := range n {
		if c.PhysDims[i] <= 0 {
			return errors.Errorf("site %d physical dim %d", i, c.PhysDims[i])
		}
		for leg := range NumLegs {
			d := c.VirtualDims[i][leg]
			if d <= 0 {
				return errors.Errorf("site %d leg %d dim %d", i, leg, d)
			}
			j := c.Neighbor(i, leg)
			dj := c.VirtualDims[j][Opposite(leg)]
			if d != dj {
				return errors.Errorf("bond %d(%d)-%d(%d): %d %d", i, leg, j, Opposite(leg), d, dj)
			}
		}
	}
	for i, dir := range c.InitialDirs {
		if len(dir) != 0 && len(dir) != c.PhysDims[i] {
			return errors.Errorf("site %d initial dir %d %d", i, len(dir), c.PhysDims[i])
		}
	}
	return nil
}
