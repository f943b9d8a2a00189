package peps

import (
	"github.com/fumin/tensor"

	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/linalg"
)

// BondFrame holds the environment ring of a bond, relabeled so the bond
// always points rightwards from site 1 to site 2. Because every boundary
// tensor is stored in clockwise-cyclic leg order, a lattice rotation is a
// pure reassignment: no boundary tensor needs transposing. The site tensors
// themselves need a leg permutation and come from FrameTn.
type BondFrame struct {
	C1, C2, C3, C4         *tensor.Dense
	ETt1, ETt2, ETb1, ETb2 *tensor.Dense
	ETl1, ETr2             *tensor.Dense
}

// FrameFor rotates the neighborhood of the bond leaving source through leg
// into a rightward-pointing frame. The site tensors are materialized in
// frame leg order.
func (s *Store) FrameFor(source, leg int) BondFrame {
	target := s.Cell.Neighbor(source, leg)

	// The environment ring in clockwise order, starting at C1.
	ring := [8][]*tensor.Dense{s.C1, s.ETt, s.C2, s.ETr, s.C3, s.ETb, s.C4, s.ETl}
	// Rotating the bond to point rightwards shifts the ring so that the
	// corner playing the top-left role comes first.
	start := 2 * ((leg + 2) % lattice.NumLegs)
	at := func(k int, site int) *tensor.Dense {
		return ring[(start+k)%8][site]
	}

	return BondFrame{
		C1:   at(0, source),
		ETt1: at(1, source),
		ETt2: at(1, target),
		C2:   at(2, target),
		ETr2: at(3, target),
		C3:   at(4, target),
		ETb2: at(5, target),
		ETb1: at(5, source),
		C4:   at(6, source),
		ETl1: at(7, source),
	}
}

// FrameTn materializes the site tensor of i with its legs permuted into the
// frame of a bond through leg.
func (s *Store) FrameTn(i, leg int) *tensor.Dense {
	p := FramePerm(leg)
	return linalg.ResetCopy(tensor.Zeros(1), s.Tn[i].Transpose(p[0], p[1], p[2], p[3], 4))
}

// FramePerm maps frame legs to original legs: frame leg j of a site tensor
// is original leg (j+leg+2)%4.
func FramePerm(leg int) [4]int {
	var perm [4]int
	for j := range perm {
		perm[j] = (j + leg + 2) % lattice.NumLegs
	}
	return perm
}

// Unframe restores a frame-ordered site tensor to storage leg order.
func Unframe(t *tensor.Dense, leg int) *tensor.Dense {
	var inv [4]int
	for l := range inv {
		inv[l] = ((l-leg-2)%lattice.NumLegs + lattice.NumLegs) % lattice.NumLegs
	}
	return linalg.ResetCopy(tensor.Zeros(1), t.Transpose(inv[0], inv[1], inv[2], inv[3], 4))
}
