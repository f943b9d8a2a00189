package update

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/linalg"
	"github.com/lzhang714/TeNeS/peps"
)

// SimpleConfig are the simple update parameters.
type SimpleConfig struct {
	// Steps is the number of times the whole gate list is applied.
	Steps int
	// LambdaCutoff is the threshold below which absorbed bond weights are
	// treated as structurally zero when stripped back off.
	LambdaCutoff float64
}

// SimpleUpdate applies the gate list Steps times, sweeping every gate once
// per step. Zero steps leaves the state untouched.
func SimpleUpdate(s *peps.Store, gates []Gate, cfg SimpleConfig) error {
	if cfg.LambdaCutoff <= 0 {
		cfg.LambdaCutoff = 1e-12
	}
	for step := range cfg.Steps {
		for _, g := range gates {
			if err := SimpleUpdateBond(s, g, cfg.LambdaCutoff); err != nil {
				return errors.Wrap(err, "")
			}
		}
		// Report on crossing each 10% boundary, ending exactly at 100%.
		if (step+1)*10/cfg.Steps > step*10/cfg.Steps {
			logrus.Infof("simple update %d%% done", (step+1)*100/cfg.Steps)
		}
	}
	return nil
}

// SimpleUpdateBond applies one gate to one bond. The surrounding bonds are
// absorbed as mean-field weights, the gated pair is truncated back to the
// bond dimension by an SVD, the absorbed weights are stripped off through a
// thresholded pseudo-inverse, and the singular spectrum becomes the new
// bond weight on both sides.
func SimpleUpdateBond(s *peps.Store, g Gate, cut float64) error {
	if g.Leg < 0 || g.Leg >= lattice.NumLegs {
		return errors.Errorf("leg %d", g.Leg)
	}
	src, leg := g.Source, g.Leg
	dst := s.Cell.Neighbor(src, leg)
	legDst := lattice.Opposite(leg)

	shape1 := s.Tn[src].Shape()
	shape2 := s.Tn[dst].Shape()
	dBond := shape1[leg]

	// Absorb the neighboring bond weights, and the shared weight once.
	a1 := linalg.ResetCopy(tensor.Zeros(1), s.Tn[src])
	for _, l := range othersOf(leg) {
		linalg.ScaleAxis(a1, l, s.Lambda[src][l])
	}
	linalg.ScaleAxis(a1, leg, s.Lambda[src][leg])
	a2 := linalg.ResetCopy(tensor.Zeros(1), s.Tn[dst])
	for _, l := range othersOf(legDst) {
		linalg.ScaleAxis(a2, l, s.Lambda[dst][l])
	}

	q1, r1 := reduceQR(a1, leg)
	q2, r2 := reduceQR(a2, legDst)

	// theta is (k1, k2, out1, out2).
	th := tensor.Contract(tensor.Zeros(1), r1, r2, [][2]int{{1, 1}})
	th = tensor.Contract(tensor.Zeros(1), th, g.Op, [][2]int{{1, 2}, {3, 3}})

	k1 := r1.Shape()[0]
	k2 := r2.Shape()[0]
	m := linalg.ResetCopy(tensor.Zeros(1), th.Transpose(0, 2, 1, 3)).
		Reshape(k1*shape1[4], k2*shape2[4])
	u, sv, vh := linalg.TruncSVD(m, dBond)
	if len(sv) < dBond {
		return errors.Errorf("bond %d(%d): dimension %d exceeds rank %d", src, leg, dBond, len(sv))
	}

	lam := normalized(sv)
	s.Lambda[src][leg] = lam
	s.Lambda[dst][legDst] = append([]float64(nil), lam...)

	// Back through the isometries, then strip the absorbed weights.
	r1n := linalg.ResetCopy(tensor.Zeros(1), u.Reshape(k1, shape1[4], -1).Transpose(0, 2, 1))
	r2n := linalg.ResetCopy(tensor.Zeros(1), vh.Reshape(-1, k2, shape2[4]).Transpose(1, 0, 2))
	t1 := recombine(q1, r1n, shape1, leg)
	t2 := recombine(q2, r2n, shape2, legDst)
	for _, l := range othersOf(leg) {
		linalg.ScaleAxis(t1, l, linalg.PseudoInverse(s.Lambda[src][l], cut))
	}
	for _, l := range othersOf(legDst) {
		linalg.ScaleAxis(t2, l, linalg.PseudoInverse(s.Lambda[dst][l], cut))
	}

	linalg.ResetCopy(s.Tn[src], rescaled(t1))
	linalg.ResetCopy(s.Tn[dst], rescaled(t2))
	return nil
}
