package measure

import (
	"github.com/fumin/tensor"
)

// cluster contracts an nrow x ncol window of the lattice against the
// environment ring around it. tl is the top-left site; ops holds optional
// one-site operators keyed by row*ncol+col within the window. The window is
// swept column by column: a left wall absorbs one double-layer column
// transfer at a time and is closed by the right edge.
func (e *Engine) cluster(tl, nrow, ncol int, ops map[int]*tensor.Dense) complex128 {
	s := e.s

	// siteAt walks the window; row grows downward, which is -y.
	siteAt := func(row, col int) int {
		return s.Cell.Other(tl, col, -row)
	}

	// Left wall, layout (t, k_0, b_0, ..., k_{n-1}, b_{n-1}, b).
	w := tensor.Contract(tensor.Zeros(1), s.C1[siteAt(0, 0)], s.ETl[siteAt(0, 0)], [][2]int{{0, 1}})
	for r := 1; r < nrow; r++ {
		w = tensor.Contract(tensor.Zeros(1), w, s.ETl[siteAt(r, 0)], [][2]int{{2*r - 1, 1}})
	}
	w = tensor.Contract(tensor.Zeros(1), w, s.C4[siteAt(nrow-1, 0)], [][2]int{{2*nrow - 1, 1}})

	for c := 0; c < ncol; c++ {
		col := e.columnTransfer(siteAt, nrow, ncol, c, ops)
		axes := [][2]int{{0, 0}, {2*nrow + 1, 4*nrow + 3}}
		for r := 0; r < nrow; r++ {
			axes = append(axes, [2]int{1 + 2*r, 2 + 4*r}, [2]int{2 + 2*r, 4 + 4*r})
		}
		w = tensor.Contract(tensor.Zeros(1), w, col, axes)
	}

	// Right closure, same layout as the wall.
	rc := tensor.Contract(tensor.Zeros(1), s.C2[siteAt(0, ncol-1)], s.ETr[siteAt(0, ncol-1)], [][2]int{{1, 0}})
	for r := 1; r < nrow; r++ {
		rc = tensor.Contract(tensor.Zeros(1), rc, s.ETr[siteAt(r, ncol-1)], [][2]int{{2*r - 1, 0}})
	}
	rc = tensor.Contract(tensor.Zeros(1), rc, s.C3[siteAt(nrow-1, ncol-1)], [][2]int{{2*nrow - 1, 0}})

	// All legs but the bottom bond pair line up index for index; the
	// leftover chi x chi matrix closes on its trace.
	axes := make([][2]int, 2*nrow+1)
	for k := range axes {
		axes[k] = [2]int{k, k}
	}
	m := tensor.Contract(tensor.Zeros(1), w, rc, axes)
	var val complex128
	for k := 0; k < m.Shape()[0]; k++ {
		val += complex128(m.At(k, k))
	}
	return val
}

// columnTransfer builds the double-layer transfer tensor of window column c:
// the top edge, nrow bulk rows with any operators applied, and the bottom
// edge. Layout: (tl, tr, l_0, r_0, lX_0, rX_0, ..., br, bl).
func (e *Engine) columnTransfer(siteAt func(int, int) int, nrow, ncol, c int, ops map[int]*tensor.Dense) *tensor.Dense {
	s := e.s
	col := s.ETt[siteAt(0, c)]
	for r := 0; r < nrow; r++ {
		i := siteAt(r, c)
		ket := s.Tn[i]
		if op, ok := ops[r*ncol+c]; ok {
			ket = tensor.Contract(tensor.Zeros(1), s.Tn[i], op, [][2]int{{4, 1}})
		}
		pr := tensor.Contract(tensor.Zeros(1), ket, s.Tn[i].Conj(), [][2]int{{4, 4}})
		dk, db := 4*r, 4*r+3
		if r == 0 {
			dk, db = 2, 3
		}
		col = tensor.Contract(tensor.Zeros(1), col, pr, [][2]int{{dk, 1}, {db, 5}})
	}
	bot := siteAt(nrow-1, c)
	return tensor.Contract(tensor.Zeros(1), col, s.ETb[bot], [][2]int{{4 * nrow, 2}, {4*nrow + 3, 3}})
}
