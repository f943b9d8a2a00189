// Package peps owns the per-site state of an iPEPS simulation: the rank-5
// site tensors, the corner and edge environment tensors, and the bond
// weight spectra.
//
// Index conventions, shared by every engine in this repository:
//
//	Tn:  (left, top, right, bottom, phys)
//	C1:  (chi from eTl, chi to eTt)         top-left corner
//	eTt: (chi from C1, chi to C2, ket, bra) ket contracts Tn.top
//	C2:  (chi from eTt, chi to eTr)         top-right corner
//	eTr: (chi from C2, chi to C3, ket, bra) ket contracts Tn.right
//	C3:  (chi from eTr, chi to eTb)         bottom-right corner
//	eTb: (chi from C3, chi to C4, ket, bra) ket contracts Tn.bottom
//	C4:  (chi from eTb, chi to eTl)         bottom-left corner
//	eTl: (chi from C4, chi to C1, ket, bra) ket contracts Tn.left
//
// The boundary legs run clockwise around the site, so a 90 degree rotation
// of the lattice maps every convention onto itself. One-site operators are
// (out, in); two-site operators are (out1, out2, in1, in2) with legs
// {0, 2} acting on the source site and {1, 3} on the target.
package peps

import (
	"math/rand/v2"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/linalg"
)

// Store holds all per-site tensors of a run. All tensors are allocated once
// and overwritten in place for the run's duration.
type Store struct {
	Cell *lattice.Unitcell
	Chi  int

	Tn []*tensor.Dense

	ETt []*tensor.Dense
	ETr []*tensor.Dense
	ETb []*tensor.Dense
	ETl []*tensor.Dense

	C1 []*tensor.Dense
	C2 []*tensor.Dense
	C3 []*tensor.Dense
	C4 []*tensor.Dense

	// Lambda[site][leg] is the non-negative bond spectrum of that leg.
	Lambda [][][]float64

	identity []*tensor.Dense
}

// New allocates a Store sized from the unit cell with a flat environment.
// The site tensors start from the randomized/directional initial state
// drawn from seed.
func New(cell *lattice.Unitcell, chi int, seed uint64) (*Store, error) {
	if err := cell.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if chi <= 0 {
		return nil, errors.Errorf("chi %d", chi)
	}

	n := cell.N()
	s := &Store{Cell: cell, Chi: chi}
	s.Tn = make([]*tensor.Dense, n)
	s.ETt = make([]*tensor.Dense, n)
	s.ETr = make([]*tensor.Dense, n)
	s.ETb = make([]*tensor.Dense, n)
	s.ETl = make([]*tensor.Dense, n)
	s.C1 = make([]*tensor.Dense, n)
	s.C2 = make([]*tensor.Dense, n)
	s.C3 = make([]*tensor.Dense, n)
	s.C4 = make([]*tensor.Dense, n)
	s.Lambda = make([][][]float64, n)
	s.identity = make([]*tensor.Dense, n)

	for i := range n {
		pdim := cell.PhysDims[i]
		vdim := cell.VirtualDims[i]

		s.Tn[i] = tensor.Zeros(vdim[0], vdim[1], vdim[2], vdim[3], pdim)
		s.ETt[i] = tensor.Zeros(chi, chi, vdim[lattice.Top], vdim[lattice.Top])
		s.ETr[i] = tensor.Zeros(chi, chi, vdim[lattice.Right], vdim[lattice.Right])
		s.ETb[i] = tensor.Zeros(chi, chi, vdim[lattice.Bottom], vdim[lattice.Bottom])
		s.ETl[i] = tensor.Zeros(chi, chi, vdim[lattice.Left], vdim[lattice.Left])
		s.C1[i] = tensor.Zeros(chi, chi)
		s.C2[i] = tensor.Zeros(chi, chi)
		s.C3[i] = tensor.Zeros(chi, chi)
		s.C4[i] = tensor.Zeros(chi, chi)

		s.Lambda[i] = make([][]float64, lattice.NumLegs)
		for leg := range lattice.NumLegs {
			lam := make([]float64, vdim[leg])
			for k := range lam {
				lam[k] = 1
			}
			s.Lambda[i][leg] = lam
		}

		s.identity[i] = linalg.Eye(pdim)
	}

	s.randomize(seed)
	s.ResetEnvironment()
	return s, nil
}

// Identity returns the one-site identity operator of site i.
func (s *Store) Identity(i int) *tensor.Dense { return s.identity[i] }

// ResetEnvironment overwrites the corners and edges with the flat boundary
// state: corners project onto the first boundary index, edges trace the
// bulk legs.
func (s *Store) ResetEnvironment() {
	for i := range s.Cell.N() {
		for _, c := range []*tensor.Dense{s.C1[i], s.C2[i], s.C3[i], s.C4[i]} {
			c.Reset(s.Chi, s.Chi)
			c.SetAt([]int{0, 0}, 1)
		}
		for _, e := range []*tensor.Dense{s.ETt[i], s.ETr[i], s.ETb[i], s.ETl[i]} {
			d := e.Shape()[2]
			e.Reset(s.Chi, s.Chi, d, d)
			for k := range d {
				e.SetAt([]int{0, 0, k, k}, 1)
			}
		}
	}
}

// randomize draws the initial site tensors. The directional amplitude sits
// at the all-zero virtual index; every other entry is noise-scaled random.
// Two generator streams keep real and imaginary draws independent.
func (s *Store) randomize(seed uint64) {
	genRe := rand.New(rand.NewPCG(seed, 0))
	genIm := rand.New(rand.NewPCG(seed*11+137, 0))

	for i := range s.Cell.N() {
		pdim := s.Cell.PhysDims[i]

		dirRe := make([]float64, pdim)
		dirIm := make([]float64, pdim)
		var hasDir bool
		for p, v := range s.Cell.InitialDirs[i] {
			dirRe[p] = v
			if v != 0 {
				hasDir = true
			}
		}
		if !hasDir {
			for p := range pdim {
				dirRe[p] = genRe.Float64()*2 - 1
				dirIm[p] = genIm.Float64()*2 - 1
			}
		}

		noise := s.Cell.Noises[i]
		for ijk := range s.Tn[i].All() {
			atOrigin := ijk[0] == 0 && ijk[1] == 0 && ijk[2] == 0 && ijk[3] == 0
			var v complex128
			switch {
			case atOrigin:
				v = complex(dirRe[ijk[lattice.NumLegs]], dirIm[ijk[lattice.NumLegs]])
			default:
				v = complex(noise*(genRe.Float64()*2-1), noise*(genIm.Float64()*2-1))
			}
			s.Tn[i].SetAt(ijk, complex64(v))
		}
	}
}
