// Package ctm implements the corner-transfer-matrix environment engine: it
// iteratively contracts the effectively infinite 2D network surrounding each
// unit-cell site down to bounded-dimension corner and edge tensors.
//
// A full refresh cycles four directional moves (left, top, right, bottom).
// Each move absorbs one column or row of ket+bra bulk tensors into the
// boundary, factors the enlarged quadrants by a (possibly randomized) SVD,
// keeps the top CHI singular vectors as isometric projectors, and truncates
// the enlarged boundary back to CHI. Every refreshed tensor is rescaled by
// its magnitude so long runs neither overflow nor underflow; the rescaling
// cancels in all normalized observables.
//
// Single moves are exported for the full-update fast path, which refreshes
// only the row or column containing an updated bond. That path is a
// speed/accuracy trade-off with no error bound; callers opt in explicitly.
package ctm

import (
	"math"
	"math/rand/v2"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/linalg"
	"github.com/lzhang714/TeNeS/peps"
)

// Config are the environment engine parameters.
type Config struct {
	// Iterations bounds the number of full four-direction cycles.
	Iterations int
	// Tol is the convergence tolerance on the corner singular spectra.
	Tol float64
	// UseRSVD switches projector factorization to randomized SVD.
	UseRSVD bool
	// Seed seeds the randomized factorization source.
	Seed uint64
}

// Engine drives environment refreshes against a Store.
type Engine struct {
	cfg Config
	rng *rand.Rand

	bufs []*tensor.Dense
}

// New returns an environment engine. The random source only decorrelates
// degenerate subspaces in randomized factorizations.
func New(cfg Config) *Engine {
	if cfg.Iterations <= 0 {
		cfg.Iterations = 100
	}
	if cfg.Tol <= 0 {
		cfg.Tol = 1e-10
	}
	e := &Engine{cfg: cfg}
	e.rng = rand.New(rand.NewPCG(cfg.Seed, 1))
	for range 8 {
		e.bufs = append(e.bufs, tensor.Zeros(1))
	}
	return e
}

// Converge refreshes the environment until the corner spectra stabilize or
// the iteration budget runs out, and returns the number of cycles run and
// the final spectra difference. Running out of iterations is not an error.
func (e *Engine) Converge(s *peps.Store) (int, float64, error) {
	if err := Validate(s); err != nil {
		return 0, 0, errors.Wrap(err, "")
	}

	prev := cornerSpectra(s)
	diff := math.Inf(1)
	for it := 1; it <= e.cfg.Iterations; it++ {
		if err := e.Cycle(s); err != nil {
			return it, diff, errors.Wrap(err, "")
		}

		cur := cornerSpectra(s)
		diff = spectraDiff(prev, cur)
		prev = cur
		if diff < e.cfg.Tol {
			logrus.Debugf("environment converged after %d cycles, diff %g", it, diff)
			return it, diff, nil
		}
	}
	logrus.Debugf("environment stopped at iteration budget %d, diff %g", e.cfg.Iterations, diff)
	return e.cfg.Iterations, diff, nil
}

// Cycle runs one full four-direction refresh over the whole unit cell.
func (e *Engine) Cycle(s *peps.Store) error {
	for x := range s.Cell.LX {
		if err := e.LeftMove(s, x); err != nil {
			return errors.Wrap(err, "")
		}
	}
	for y := range s.Cell.LY {
		if err := e.TopMove(s, y); err != nil {
			return errors.Wrap(err, "")
		}
	}
	for x := range s.Cell.LX {
		if err := e.RightMove(s, x); err != nil {
			return errors.Wrap(err, "")
		}
	}
	for y := range s.Cell.LY {
		if err := e.BottomMove(s, y); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// Validate checks that the boundary tensors are dimensionally consistent
// with the bulk. A mismatch means inconsistent lattice/parameter input and
// is fatal.
func Validate(s *peps.Store) error {
	if err := s.Cell.Validate(); err != nil {
		return errors.Wrap(err, "")
	}
	for i := range s.Cell.N() {
		ts := s.Tn[i].Shape()
		edges := []struct {
			e   *tensor.Dense
			leg int
		}{
			{s.ETl[i], lattice.Left}, {s.ETt[i], lattice.Top},
			{s.ETr[i], lattice.Right}, {s.ETb[i], lattice.Bottom},
		}
		for _, edge := range edges {
			es := edge.e.Shape()
			if es[0] != s.Chi || es[1] != s.Chi || es[2] != ts[edge.leg] || es[3] != ts[edge.leg] {
				return errors.Errorf("site %d leg %d: %#v %#v chi %d", i, edge.leg, es, ts, s.Chi)
			}
		}
		for _, c := range []*tensor.Dense{s.C1[i], s.C2[i], s.C3[i], s.C4[i]} {
			cs := c.Shape()
			if cs[0] != s.Chi || cs[1] != s.Chi {
				return errors.Errorf("site %d corner %#v chi %d", i, cs, s.Chi)
			}
		}
	}
	return nil
}

// quadrantTL contracts C1, eTt, eTl and the ket+bra bulk tensor of site i
// into the enlarged top-left quadrant of shape (h, c, r, bo, rX, boX),
// where h/c are the boundary legs towards eTl/eTt's far sides and the rest
// are the ket and bra bulk legs pointing right and down.
func (e *Engine) quadrantTL(s *peps.Store, i int) *tensor.Dense {
	tn := s.Tn[i]
	// ce is (a, c, t, tX).
	ce := tensor.Contract(e.bufs[0], s.C1[i], s.ETt[i], [][2]int{{1, 0}})
	// lce is (h, l, lX, c, t, tX).
	lce := tensor.Contract(e.bufs[1], s.ETl[i], ce, [][2]int{{1, 0}})
	// q is (h, lX, c, tX, r, bo, p).
	q := tensor.Contract(e.bufs[2], lce, tn, [][2]int{{1, 0}, {4, 1}})
	// q2 is (h, c, r, bo, rX, boX).
	return tensor.Contract(e.bufs[3], q, tn.Conj(), [][2]int{{1, 0}, {3, 1}, {6, 4}})
}

// quadrantBR is the bottom-right mirror of quadrantTL, with shape
// (d, g, l, t, lX, tX).
func (e *Engine) quadrantBR(s *peps.Store, i int) *tensor.Dense {
	tn := s.Tn[i]
	// ce is (e, g, bo, boX).
	ce := tensor.Contract(e.bufs[0], s.C3[i], s.ETb[i], [][2]int{{1, 0}})
	// rce is (d, r, rX, g, bo, boX).
	rce := tensor.Contract(e.bufs[1], s.ETr[i], ce, [][2]int{{1, 0}})
	// q is (d, rX, g, boX, l, t, p).
	q := tensor.Contract(e.bufs[2], rce, tn, [][2]int{{1, 2}, {4, 3}})
	// q2 is (d, g, l, t, lX, tX).
	return tensor.Contract(e.bufs[3], q, tn.Conj(), [][2]int{{1, 2}, {3, 3}, {6, 4}})
}

// projector factors the enlarged quadrant matrix and keeps the top chi left
// singular vectors, reshaped to (chiOld, d, d, chi). Rank deficiency leaves
// zero columns behind; truncation is best effort and never fails.
func (e *Engine) projector(m *tensor.Dense, chi, chiOld, d int) *tensor.Dense {
	var u *tensor.Dense
	if e.cfg.UseRSVD {
		u, _, _ = linalg.RSVD(m, chi, e.rng)
	} else {
		u, _, _ = linalg.TruncSVD(m, chi)
	}
	return u.Reshape(chiOld, d, d, -1)
}

// rescale divides t by its largest magnitude entry.
func rescale(t *tensor.Dense) *tensor.Dense {
	m := linalg.MaxAbs(t)
	if m > 0 {
		t = t.Mul(complex(float32(1/m), 0))
	}
	return t
}

// LeftMove absorbs column x of the bulk into the left boundary and stores
// the refreshed C1, eTl, C4 at column x+1. All rows are computed against a
// snapshot of the current environment and committed together.
func (e *Engine) LeftMove(s *peps.Store, x int) error {
	ly := s.Cell.LY
	chi := s.Chi

	// projU[y] truncates the horizontal cut below site (x,y). Its quadrant
	// rows are the downward composite (h, bo, boX) of site (x,y).
	projU := make([]*tensor.Dense, ly)
	for y := range ly {
		i := s.Cell.Index(x, y)
		db := s.Tn[i].Shape()[lattice.Bottom]
		dr := s.Tn[i].Shape()[lattice.Right]
		q := e.quadrantTL(s, i)
		// (h, c, r, bo, rX, boX) -> (h, bo, boX, c, r, rX).
		m := linalg.ResetCopy(e.bufs[4], q.Transpose(0, 3, 5, 1, 2, 4)).Reshape(chi*db*db, chi*dr*dr)
		projU[y] = e.projector(m, chi, chi, db)
	}

	newC1 := make([]*tensor.Dense, ly)
	newETl := make([]*tensor.Dense, ly)
	newC4 := make([]*tensor.Dense, ly)
	for y := range ly {
		i := s.Cell.Index(x, y)
		tn := s.Tn[i]
		uAbove := projU[(y+1)%ly]
		uBelow := projU[y]

		// cAbs is (a, c, t, tX); its (a, t, tX) composite meets the cut
		// above site i, where the quadrant side keeps the plain isometry.
		cAbs := tensor.Contract(e.bufs[0], s.C1[i], s.ETt[i], [][2]int{{1, 0}})
		c1 := tensor.Contract(e.bufs[4], uAbove, cAbs, [][2]int{{0, 0}, {1, 2}, {2, 3}})
		newC1[y] = rescale(linalg.ResetCopy(tensor.Zeros(1), c1))

		// el is (h, a, t, r, bo, tX, rX, boX): the edge with the ket and
		// bra bulk tensors absorbed.
		el0 := tensor.Contract(e.bufs[0], s.ETl[i], tn, [][2]int{{2, 0}})
		el := tensor.Contract(e.bufs[1], el0, tn.Conj(), [][2]int{{2, 0}, {6, 4}})
		// elt is (cbAbove, h, r, bo, rX, boX) with cbAbove the truncated
		// top leg.
		elt := tensor.Contract(e.bufs[2], uAbove.Conj(), el, [][2]int{{0, 1}, {1, 2}, {2, 5}})
		// etl is (cbAbove, r, rX, cbBelow); reorder to (bottom, top, ket, bra).
		etl := tensor.Contract(e.bufs[5], elt, uBelow, [][2]int{{1, 0}, {3, 1}, {5, 2}})
		newETl[y] = rescale(linalg.ResetCopy(tensor.Zeros(1), etl.Transpose(3, 0, 1, 2)))

		// cAbs4 is (f, bo, boX, h); its (h, bo, boX) composite meets the
		// cut below site i on the non-quadrant side.
		cAbs4 := tensor.Contract(e.bufs[0], s.ETb[i], s.C4[i], [][2]int{{1, 0}})
		c4 := tensor.Contract(e.bufs[4], cAbs4, uBelow.Conj(), [][2]int{{1, 1}, {2, 2}, {3, 0}})
		newC4[y] = rescale(linalg.ResetCopy(tensor.Zeros(1), c4))
	}

	for y := range ly {
		ir := s.Cell.Other(s.Cell.Index(x, y), 1, 0)
		linalg.ResetCopy(s.C1[ir], newC1[y])
		linalg.ResetCopy(s.ETl[ir], newETl[y])
		linalg.ResetCopy(s.C4[ir], newC4[y])
	}
	return nil
}

// RightMove absorbs column x of the bulk into the right boundary and stores
// the refreshed C2, eTr, C3 at column x-1.
func (e *Engine) RightMove(s *peps.Store, x int) error {
	ly := s.Cell.LY
	chi := s.Chi

	// projU[y] truncates the horizontal cut above site (x,y). Its quadrant
	// rows are the upward composite (d, t, tX) of site (x,y).
	projU := make([]*tensor.Dense, ly)
	for y := range ly {
		i := s.Cell.Index(x, y)
		dt := s.Tn[i].Shape()[lattice.Top]
		dl := s.Tn[i].Shape()[lattice.Left]
		q := e.quadrantBR(s, i)
		// (d, g, l, t, lX, tX) -> (d, t, tX, g, l, lX).
		m := linalg.ResetCopy(e.bufs[4], q.Transpose(0, 3, 5, 1, 2, 4)).Reshape(chi*dt*dt, chi*dl*dl)
		projU[y] = e.projector(m, chi, chi, dt)
	}

	newC2 := make([]*tensor.Dense, ly)
	newETr := make([]*tensor.Dense, ly)
	newC3 := make([]*tensor.Dense, ly)
	for y := range ly {
		i := s.Cell.Index(x, y)
		tn := s.Tn[i]
		uAbove := projU[y]
		uBelow := projU[(y-1+ly)%ly]

		// cAbs is (b, t, tX, d); its (d, t, tX) composite meets the cut
		// above site i on the non-quadrant side.
		cAbs := tensor.Contract(e.bufs[0], s.ETt[i], s.C2[i], [][2]int{{1, 0}})
		c2 := tensor.Contract(e.bufs[4], cAbs, uAbove.Conj(), [][2]int{{1, 1}, {2, 2}, {3, 0}})
		newC2[y] = rescale(linalg.ResetCopy(tensor.Zeros(1), c2))

		// er is (d, e, l, t, bo, lX, tX, boX).
		er0 := tensor.Contract(e.bufs[0], s.ETr[i], tn, [][2]int{{2, 2}})
		er := tensor.Contract(e.bufs[1], er0, tn.Conj(), [][2]int{{2, 2}, {6, 4}})
		// ert is (ctAbove, e, l, bo, lX, boX).
		ert := tensor.Contract(e.bufs[2], uAbove, er, [][2]int{{0, 0}, {1, 3}, {2, 6}})
		// etr is (ctAbove, l, lX, ctBelow); reorder to (top, bottom, ket, bra).
		etr := tensor.Contract(e.bufs[5], ert, uBelow.Conj(), [][2]int{{1, 0}, {3, 1}, {5, 2}})
		newETr[y] = rescale(linalg.ResetCopy(tensor.Zeros(1), etr.Transpose(0, 3, 1, 2)))

		// cAbs3 is (e, g, bo, boX); its (e, bo, boX) composite meets the
		// cut below site i, where the quadrant side keeps the plain isometry.
		cAbs3 := tensor.Contract(e.bufs[0], s.C3[i], s.ETb[i], [][2]int{{1, 0}})
		c3 := tensor.Contract(e.bufs[4], uBelow, cAbs3, [][2]int{{0, 0}, {1, 2}, {2, 3}})
		newC3[y] = rescale(linalg.ResetCopy(tensor.Zeros(1), c3))
	}

	for y := range ly {
		il := s.Cell.Other(s.Cell.Index(x, y), -1, 0)
		linalg.ResetCopy(s.C2[il], newC2[y])
		linalg.ResetCopy(s.ETr[il], newETr[y])
		linalg.ResetCopy(s.C3[il], newC3[y])
	}
	return nil
}

// TopMove absorbs row y of the bulk into the top boundary and stores the
// refreshed C1, eTt, C2 at row y-1.
func (e *Engine) TopMove(s *peps.Store, y int) error {
	lx := s.Cell.LX
	chi := s.Chi

	// projU[x] truncates the vertical cut right of site (x,y). Its quadrant
	// rows are the rightward composite (c, r, rX) of site (x,y).
	projU := make([]*tensor.Dense, lx)
	for x := range lx {
		i := s.Cell.Index(x, y)
		dr := s.Tn[i].Shape()[lattice.Right]
		db := s.Tn[i].Shape()[lattice.Bottom]
		q := e.quadrantTL(s, i)
		// (h, c, r, bo, rX, boX) -> (c, r, rX, h, bo, boX).
		m := linalg.ResetCopy(e.bufs[4], q.Transpose(1, 2, 4, 0, 3, 5)).Reshape(chi*dr*dr, chi*db*db)
		projU[x] = e.projector(m, chi, chi, dr)
	}

	newC1 := make([]*tensor.Dense, lx)
	newETt := make([]*tensor.Dense, lx)
	newC2 := make([]*tensor.Dense, lx)
	for x := range lx {
		i := s.Cell.Index(x, y)
		tn := s.Tn[i]
		uLeft := projU[(x-1+lx)%lx]
		uRight := projU[x]

		// cAbs is (b, h, l, lX); its (b, l, lX) composite meets the cut
		// left of site i, where the quadrant side keeps the plain isometry.
		cAbs := tensor.Contract(e.bufs[0], s.C1[i], s.ETl[i], [][2]int{{0, 1}})
		c1 := tensor.Contract(e.bufs[4], cAbs, uLeft, [][2]int{{0, 0}, {2, 1}, {3, 2}})
		newC1[x] = rescale(linalg.ResetCopy(tensor.Zeros(1), c1))

		// et is (b, c, l, r, bo, lX, rX, boX).
		et0 := tensor.Contract(e.bufs[0], s.ETt[i], tn, [][2]int{{2, 1}})
		et := tensor.Contract(e.bufs[1], et0, tn.Conj(), [][2]int{{2, 1}, {6, 4}})
		// ett is (ccLeft, c, r, bo, rX, boX).
		ett := tensor.Contract(e.bufs[2], uLeft.Conj(), et, [][2]int{{0, 0}, {1, 2}, {2, 5}})
		// etn is (ccLeft, bo, boX, ccRight); reorder to (left, right, ket, bra).
		etn := tensor.Contract(e.bufs[5], ett, uRight, [][2]int{{1, 0}, {2, 1}, {4, 2}})
		newETt[x] = rescale(linalg.ResetCopy(tensor.Zeros(1), etn.Transpose(0, 3, 1, 2)))

		// cAbs2 is (e, r, rX, c); its (c, r, rX) composite meets the cut
		// right of site i on the non-quadrant side.
		cAbs2 := tensor.Contract(e.bufs[0], s.ETr[i], s.C2[i], [][2]int{{0, 1}})
		c2 := tensor.Contract(e.bufs[4], uRight.Conj(), cAbs2, [][2]int{{0, 3}, {1, 1}, {2, 2}})
		newC2[x] = rescale(linalg.ResetCopy(tensor.Zeros(1), c2))
	}

	for x := range lx {
		ib := s.Cell.Other(s.Cell.Index(x, y), 0, -1)
		linalg.ResetCopy(s.C1[ib], newC1[x])
		linalg.ResetCopy(s.ETt[ib], newETt[x])
		linalg.ResetCopy(s.C2[ib], newC2[x])
	}
	return nil
}

// BottomMove absorbs row y of the bulk into the bottom boundary and stores
// the refreshed C4, eTb, C3 at row y+1.
func (e *Engine) BottomMove(s *peps.Store, y int) error {
	lx := s.Cell.LX
	chi := s.Chi

	// projU[x] truncates the vertical cut left of site (x,y). Its quadrant
	// rows are the leftward composite (g, l, lX) of site (x,y).
	projU := make([]*tensor.Dense, lx)
	for x := range lx {
		i := s.Cell.Index(x, y)
		dl := s.Tn[i].Shape()[lattice.Left]
		dt := s.Tn[i].Shape()[lattice.Top]
		q := e.quadrantBR(s, i)
		// (d, g, l, t, lX, tX) -> (g, l, lX, d, t, tX).
		m := linalg.ResetCopy(e.bufs[4], q.Transpose(1, 2, 4, 0, 3, 5)).Reshape(chi*dl*dl, chi*dt*dt)
		projU[x] = e.projector(m, chi, chi, dl)
	}

	newC4 := make([]*tensor.Dense, lx)
	newETb := make([]*tensor.Dense, lx)
	newC3 := make([]*tensor.Dense, lx)
	for x := range lx {
		i := s.Cell.Index(x, y)
		tn := s.Tn[i]
		uLeft := projU[x]
		uRight := projU[(x+1)%lx]

		// cAbs is (g, a, l, lX); its (g, l, lX) composite meets the cut
		// left of site i on the non-quadrant side.
		cAbs := tensor.Contract(e.bufs[0], s.C4[i], s.ETl[i], [][2]int{{1, 0}})
		c4 := tensor.Contract(e.bufs[4], uLeft.Conj(), cAbs, [][2]int{{0, 0}, {1, 2}, {2, 3}})
		newC4[x] = rescale(linalg.ResetCopy(tensor.Zeros(1), c4))

		// eb is (f, g, l, t, r, lX, tX, rX).
		eb0 := tensor.Contract(e.bufs[0], s.ETb[i], tn, [][2]int{{2, 3}})
		eb := tensor.Contract(e.bufs[1], eb0, tn.Conj(), [][2]int{{2, 3}, {6, 4}})
		// ebt is (ccLeft, f, t, r, tX, rX).
		ebt := tensor.Contract(e.bufs[2], uLeft, eb, [][2]int{{0, 1}, {1, 2}, {2, 5}})
		// ebn is (ccLeft, t, tX, ccRight); reorder to (right, left, ket, bra).
		ebn := tensor.Contract(e.bufs[5], ebt, uRight.Conj(), [][2]int{{1, 0}, {3, 1}, {5, 2}})
		newETb[x] = rescale(linalg.ResetCopy(tensor.Zeros(1), ebn.Transpose(3, 0, 1, 2)))

		// cAbs3 is (d, r, rX, f); its (f, r, rX) composite meets the cut
		// right of site i, where the quadrant side keeps the plain isometry.
		cAbs3 := tensor.Contract(e.bufs[0], s.ETr[i], s.C3[i], [][2]int{{1, 0}})
		c3 := tensor.Contract(e.bufs[4], cAbs3, uRight, [][2]int{{1, 1}, {2, 2}, {3, 0}})
		newC3[x] = rescale(linalg.ResetCopy(tensor.Zeros(1), c3))
	}

	for x := range lx {
		it := s.Cell.Other(s.Cell.Index(x, y), 0, 1)
		linalg.ResetCopy(s.C4[it], newC4[x])
		linalg.ResetCopy(s.ETb[it], newETb[x])
		linalg.ResetCopy(s.C3[it], newC3[x])
	}
	return nil
}

// cornerSpectra returns the normalized singular spectrum of every corner of
// every site, the quantity whose stabilization signals convergence.
func cornerSpectra(s *peps.Store) [][]float64 {
	var out [][]float64
	for i := range s.Cell.N() {
		for _, c := range []*tensor.Dense{s.C1[i], s.C2[i], s.C3[i], s.C4[i]} {
			_, sv, _ := linalg.SVD(c)
			if sum := floats.Sum(sv); sum > 0 {
				floats.Scale(1/sum, sv)
			}
			out = append(out, sv)
		}
	}
	return out
}

func spectraDiff(a, b [][]float64) float64 {
	var diff float64
	for i := range a {
		for k := range a[i] {
			if d := math.Abs(a[i][k] - b[i][k]); d > diff {
				diff = d
			}
		}
	}
	return diff
}
