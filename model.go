package tenes

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/linalg"
	"github.com/lzhang714/TeNeS/peps"
	"github.com/lzhang714/TeNeS/update"
)

// Model bundles the Trotter gates and observables of a lattice Hamiltonian.
// Two-site group 0 holds the bond Hamiltonian terms, so their sum is the
// energy.
type Model struct {
	SimpleUpdates []update.Gate
	FullUpdates   []update.Gate
	OneSite       []peps.Operator
	TwoSite       []peps.TwoSiteOperator
}

// PauliZ returns the 2x2 sigma_z matrix.
func PauliZ() *tensor.Dense {
	op := tensor.Zeros(2, 2)
	op.SetAt([]int{0, 0}, 1)
	op.SetAt([]int{1, 1}, -1)
	return op
}

// PauliX returns the 2x2 sigma_x matrix.
func PauliX() *tensor.Dense {
	op := tensor.Zeros(2, 2)
	op.SetAt([]int{0, 1}, 1)
	op.SetAt([]int{1, 0}, 1)
	return op
}

// TransverseFieldIsing builds the model H = -j sum_<ab> z_a z_b - hx sum_a x_a
// on the square lattice of cell. The field is distributed over the four bonds
// of each site. tau is the imaginary-time step of the Trotter gates.
// One-site observable groups are 0: sigma_z, 1: sigma_x.
func TransverseFieldIsing(cell *lattice.Unitcell, j, hx, tau float64) (Model, error) {
	for i := range cell.N() {
		if cell.PhysDims[i] != 2 {
			return Model{}, errors.Errorf("site %d physical dim %d", i, cell.PhysDims[i])
		}
	}

	z, x := PauliZ(), PauliX()
	eye := linalg.Eye(2)

	// Bond Hamiltonian as a 4x4 matrix over (s1 s2) pairs.
	h := tensor.Zeros(4, 4)
	addKron(h, complex(float32(-j), 0), z, z)
	addKron(h, complex(float32(-hx/4), 0), x, eye)
	addKron(h, complex(float32(-hx/4), 0), eye, x)

	gate := linalg.ResetCopy(tensor.Zeros(1), linalg.ExpHermitian(h, tau)).Reshape(2, 2, 2, 2)
	hBond := h.Reshape(2, 2, 2, 2)

	var m Model
	for i := range cell.N() {
		for _, leg := range []int{lattice.Right, lattice.Top} {
			g := update.Gate{Source: i, Leg: leg, Op: gate}
			m.SimpleUpdates = append(m.SimpleUpdates, g)
			m.FullUpdates = append(m.FullUpdates, g)

			ob := peps.TwoSiteOperator{Group: 0, Source: i, Op: hBond}
			if leg == lattice.Right {
				ob.Dx = 1
			} else {
				ob.Dy = 1
			}
			m.TwoSite = append(m.TwoSite, ob)
		}
		m.OneSite = append(m.OneSite,
			peps.Operator{Group: 0, Site: i, Op: z},
			peps.Operator{Group: 1, Site: i, Op: x},
		)
	}
	return m, nil
}

// addKron accumulates c * (a otimes b) into the 4x4 matrix h.
func addKron(h *tensor.Dense, c complex64, a, b *tensor.Dense) {
	for s1 := range 2 {
		for s2 := range 2 {
			for t1 := range 2 {
				for t2 := range 2 {
					row, col := s1*2+s2, t1*2+t2
					v := h.At(row, col) + c*a.At(s1, t1)*b.At(s2, t2)
					h.SetAt([]int{row, col}, v)
				}
			}
		}
	}
}
