package update

import (
	"math"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lzhang714/TeNeS/ctm"
	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/linalg"
	"github.com/lzhang714/TeNeS/peps"
)

// FullConfig are the full update parameters.
type FullConfig struct {
	// Steps is the number of times the whole gate list is applied.
	Steps int
	// ALSIterations bounds the alternating refit of a gated bond.
	ALSIterations int
	// ALSTol stops the refit once both halves move less than this.
	ALSTol float64
	// SolveTol is the relative spectrum cutoff of the metric solves.
	SolveTol float64
	// Fast refreshes only the boundary row or column containing an updated
	// bond instead of reconverging the whole environment after every bond.
	Fast bool
}

// FullUpdate applies the gate list Steps times against the corner-transfer
// environment. The environment is converged up front and refreshed after
// every bond, either fully or through single moves when Fast is set.
func FullUpdate(s *peps.Store, env *ctm.Engine, gates []Gate, cfg FullConfig) error {
	if cfg.Steps <= 0 {
		return nil
	}
	if cfg.ALSIterations <= 0 {
		cfg.ALSIterations = 50
	}
	if cfg.ALSTol <= 0 {
		cfg.ALSTol = 1e-10
	}
	if cfg.SolveTol <= 0 {
		cfg.SolveTol = 1e-12
	}

	if _, _, err := env.Converge(s); err != nil {
		return errors.Wrap(err, "")
	}

	for step := range cfg.Steps {
		for _, g := range gates {
			if err := FullUpdateBond(s, g, cfg); err != nil {
				return errors.Wrap(err, "")
			}
			if err := refresh(s, env, g, cfg.Fast); err != nil {
				return errors.Wrap(err, "")
			}
		}
		// Report on crossing each 10% boundary, ending exactly at 100%.
		if (step+1)*10/cfg.Steps > step*10/cfg.Steps {
			logrus.Infof("full update %d%% done", (step+1)*100/cfg.Steps)
		}
	}
	return nil
}

// refresh brings the environment back in line with the two site tensors a
// bond update just replaced.
func refresh(s *peps.Store, env *ctm.Engine, g Gate, fast bool) error {
	if !fast {
		_, _, err := env.Converge(s)
		return errors.Wrap(err, "")
	}

	src := g.Source
	dst := s.Cell.Neighbor(src, g.Leg)
	var err error
	switch g.Leg {
	case lattice.Right:
		err = errJoin(env.LeftMove(s, s.Cell.X(src)), env.RightMove(s, s.Cell.X(dst)))
	case lattice.Left:
		err = errJoin(env.LeftMove(s, s.Cell.X(dst)), env.RightMove(s, s.Cell.X(src)))
	case lattice.Top:
		err = errJoin(env.BottomMove(s, s.Cell.Y(src)), env.TopMove(s, s.Cell.Y(dst)))
	default:
		err = errJoin(env.BottomMove(s, s.Cell.Y(dst)), env.TopMove(s, s.Cell.Y(src)))
	}
	return errors.Wrap(err, "")
}

func errJoin(err1, err2 error) error {
	if err1 != nil {
		return err1
	}
	return err2
}

// FullUpdateBond applies one gate to one bond in the metric of the current
// environment. Both site tensors are QR-reduced onto the bond, the gated
// pair is truncated by an SVD and then refitted alternately against the
// environment ring, and the refit halves are recombined. Hitting the
// iteration bound is reported but not fatal.
func FullUpdateBond(s *peps.Store, g Gate, cfg FullConfig) error {
	if g.Leg < 0 || g.Leg >= lattice.NumLegs {
		return errors.Errorf("leg %d", g.Leg)
	}
	src, leg := g.Source, g.Leg
	dst := s.Cell.Neighbor(src, leg)
	legDst := lattice.Opposite(leg)
	f := s.FrameFor(src, leg)
	tn1 := s.FrameTn(src, leg)
	tn2 := s.FrameTn(dst, leg)

	shape1 := tn1.Shape()
	shape2 := tn2.Shape()
	dBond := shape1[lattice.Right]
	p1, p2 := shape1[4], shape2[4]

	q1, r1 := reduceQR(tn1, lattice.Right)
	q2, r2 := reduceQR(tn2, lattice.Left)
	k1 := r1.Shape()[0]
	k2 := r2.Shape()[0]

	n := metric(f, q1, q2, shape1, shape2)

	// theta is (k1, k2, out1, out2).
	th := tensor.Contract(tensor.Zeros(1), r1, r2, [][2]int{{1, 1}})
	th = tensor.Contract(tensor.Zeros(1), th, g.Op, [][2]int{{1, 2}, {3, 3}})

	// The truncated SVD of the gated pair seeds the refit and provides the
	// refreshed bond spectrum.
	m := linalg.ResetCopy(tensor.Zeros(1), th.Transpose(0, 2, 1, 3)).Reshape(k1*p1, k2*p2)
	u, sv, vh := linalg.TruncSVD(m, dBond)
	if len(sv) < dBond {
		return errors.Errorf("bond %d(%d): dimension %d exceeds rank %d", src, leg, dBond, len(sv))
	}
	lam := normalized(sv)
	s.Lambda[src][leg] = lam
	s.Lambda[dst][legDst] = append([]float64(nil), lam...)

	sqrtS := make([]float64, len(sv))
	for i, v := range sv {
		sqrtS[i] = math.Sqrt(v)
	}
	linalg.ScaleAxis(u, 1, sqrtS)
	linalg.ScaleAxis(vh, 0, sqrtS)
	rs := linalg.ResetCopy(tensor.Zeros(1), u.Reshape(k1, p1, dBond).Transpose(0, 2, 1))
	rt := linalg.ResetCopy(tensor.Zeros(1), vh.Reshape(dBond, k2, p2).Transpose(1, 0, 2))

	converged := false
	for range cfg.ALSIterations {
		rsNew := solveHalf(n, th, rt, false, cfg.SolveTol)
		rtNew := solveHalf(n, th, rsNew, true, cfg.SolveTol)
		diff := math.Max(maxAbsDiff(rsNew, rs), maxAbsDiff(rtNew, rt))
		rs, rt = rsNew, rtNew
		if diff < cfg.ALSTol {
			converged = true
			break
		}
	}
	if !converged {
		logrus.Warnf("bond %d(%d): refit not converged after %d iterations", src, leg, cfg.ALSIterations)
	}

	t1 := peps.Unframe(recombine(q1, rs, shape1, lattice.Right), leg)
	t2 := peps.Unframe(recombine(q2, rt, shape2, lattice.Left), leg)
	linalg.ResetCopy(s.Tn[src], rescaled(t1))
	linalg.ResetCopy(s.Tn[dst], rescaled(t2))
	return nil
}

// metric contracts the environment ring with the two QR isometries and
// their conjugates into the bond metric (k1, k1X, k2, k2X).
func metric(f peps.BondFrame, q1, q2 *tensor.Dense, shape1, shape2 []int) *tensor.Dense {
	qs := q1.Reshape(shape1[lattice.Left], shape1[lattice.Top], shape1[lattice.Bottom], -1)
	qt := q2.Reshape(shape2[lattice.Top], shape2[lattice.Right], shape2[lattice.Bottom], -1)

	// Left half: C1, eTt, eTl, C4, eTb of site 1 around the source isometry.
	la := tensor.Contract(tensor.Zeros(1), f.C1, f.ETt1, [][2]int{{1, 0}})
	lb := tensor.Contract(tensor.Zeros(1), f.ETl1, la, [][2]int{{1, 0}})
	// lc is (h, lX, c, tX, bq, k).
	lc := tensor.Contract(tensor.Zeros(1), lb, qs, [][2]int{{1, 0}, {4, 1}})
	// ld is (h, c, bq, k, bqX, kX).
	ld := tensor.Contract(tensor.Zeros(1), lc, qs.Conj(), [][2]int{{1, 0}, {3, 1}})
	cb := tensor.Contract(tensor.Zeros(1), f.ETb1, f.C4, [][2]int{{1, 0}})
	// left is (c, k, kX, fr) with c and fr the open ring legs.
	left := tensor.Contract(tensor.Zeros(1), ld, cb, [][2]int{{0, 3}, {2, 1}, {4, 2}})

	// Right half: eTt, C2, eTr, C3, eTb of site 2 around the target isometry.
	ra := tensor.Contract(tensor.Zeros(1), f.ETt2, f.C2, [][2]int{{1, 0}})
	rb := tensor.Contract(tensor.Zeros(1), ra, f.ETr2, [][2]int{{3, 0}})
	// rc is (b, tX, e, rX, bq, k).
	rc := tensor.Contract(tensor.Zeros(1), rb, qt, [][2]int{{1, 0}, {4, 1}})
	// rd is (b, e, bq, k, bqX, kX).
	rd := tensor.Contract(tensor.Zeros(1), rc, qt.Conj(), [][2]int{{1, 0}, {3, 1}})
	cb3 := tensor.Contract(tensor.Zeros(1), f.C3, f.ETb2, [][2]int{{1, 0}})
	right := tensor.Contract(tensor.Zeros(1), rd, cb3, [][2]int{{1, 0}, {2, 2}, {4, 3}})

	return tensor.Contract(tensor.Zeros(1), left, right, [][2]int{{0, 0}, {3, 3}})
}

// solveHalf minimizes the environment distance between the gated pair and
// the product of the two reduced halves with respect to one half, keeping
// the other fixed. target selects which half is solved for.
func solveHalf(n, th, fixed *tensor.Dense, target bool, tol float64) *tensor.Dense {
	var m2, b2 *tensor.Dense
	if target {
		// fixed is the source half (k1, bond, p1); solve for (k2, bond, p2).
		m1 := tensor.Contract(tensor.Zeros(1), n, fixed, [][2]int{{0, 0}})
		m2 = tensor.Contract(tensor.Zeros(1), m1, fixed.Conj(), [][2]int{{0, 0}, {4, 2}})
		b1 := tensor.Contract(tensor.Zeros(1), n, th, [][2]int{{0, 0}, {2, 1}})
		b2 = tensor.Contract(tensor.Zeros(1), b1, fixed.Conj(), [][2]int{{0, 0}, {2, 2}})
	} else {
		// fixed is the target half (k2, bond, p2); solve for (k1, bond, p1).
		m1 := tensor.Contract(tensor.Zeros(1), n, fixed, [][2]int{{2, 0}})
		m2 = tensor.Contract(tensor.Zeros(1), m1, fixed.Conj(), [][2]int{{2, 0}, {4, 2}})
		b1 := tensor.Contract(tensor.Zeros(1), n, th, [][2]int{{0, 0}, {2, 1}})
		b2 = tensor.Contract(tensor.Zeros(1), b1, fixed.Conj(), [][2]int{{1, 0}, {3, 2}})
	}

	ms := m2.Shape()
	k, d := ms[0], ms[2]
	h := linalg.ResetCopy(tensor.Zeros(1), m2.Transpose(1, 3, 0, 2)).Reshape(k*d, k*d)
	p := b2.Shape()[1]
	b := linalg.ResetCopy(tensor.Zeros(1), b2.Transpose(0, 2, 1)).Reshape(k*d, p)

	x := linalg.SolveHermitian(h, b, tol)
	return linalg.ResetCopy(tensor.Zeros(1), x).Reshape(k, d, p)
}
