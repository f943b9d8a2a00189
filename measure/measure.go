// Package measure evaluates expectation values of a PEPS against its
// converged corner-transfer-matrix environment. All values are normalized
// by the norm of the same contraction window, computed through the same
// code path, so an identity operator measures exactly one.
package measure

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/linalg"
	"github.com/lzhang714/TeNeS/peps"
)

// maxClusterDim bounds the contraction window of a two-site observable.
// Wider separations go through the correlation chain instead.
const maxClusterDim = 4

// Engine evaluates observables against a Store. Window norms are cached per
// top-left site and window size; the cache must be dropped whenever the
// state or environment changes.
type Engine struct {
	s       *peps.Store
	oneSite []peps.Operator
	// siteIndex[site][group] locates the one-site operator a factored
	// two-site observable references, -1 when unassigned.
	siteIndex [][]int
	norms     map[normKey]complex128
}

type normKey struct {
	site int
	nrow int
	ncol int
}

// New returns a measurement engine over s. onesite is the one-site operator
// set that factored two-site observables reference by group id.
func New(s *peps.Store, onesite []peps.Operator) *Engine {
	return &Engine{
		s:         s,
		oneSite:   onesite,
		siteIndex: peps.SiteOperatorIndex(s.Cell.N(), onesite),
		norms:     map[normKey]complex128{},
	}
}

// Reset drops the cached window norms.
func (e *Engine) Reset() {
	e.norms = map[normKey]complex128{}
}

// Norm returns the contraction of an nrow x ncol window with no operators
// inserted, cached by window.
func (e *Engine) Norm(site, nrow, ncol int) complex128 {
	key := normKey{site: site, nrow: nrow, ncol: ncol}
	if v, ok := e.norms[key]; ok {
		return v
	}
	v := e.cluster(site, nrow, ncol, nil)
	e.norms[key] = v
	return v
}

// OneSite measures a single-site operator with legs (out, in).
func (e *Engine) OneSite(site int, op *tensor.Dense) (complex128, error) {
	if s := op.Shape(); len(s) != 2 || s[0] != e.s.Cell.PhysDims[site] || s[1] != s[0] {
		return 0, errors.Errorf("site %d op %#v", site, op.Shape())
	}
	norm := e.Norm(site, 1, 1)
	if norm == 0 {
		return 0, errors.Errorf("site %d: zero norm", site)
	}
	val := e.cluster(site, 1, 1, map[int]*tensor.Dense{0: op})
	return val / norm, nil
}

// TwoSiteResult is the outcome of a two-site measurement. Skipped reports
// whether the separation exceeded the supported window.
type TwoSiteResult struct {
	Value   complex128
	Skipped bool
}

// TwoSite measures a two-site operator. Adjacent bonds with an explicit
// operator are contracted directly; windows up to maxClusterDim in either
// direction go through a cluster contraction, either with the operator
// factored by an SVD or with the referenced one-site operator pair.
func (e *Engine) TwoSite(op peps.TwoSiteOperator) (TwoSiteResult, error) {
	dx, dy := op.Dx, op.Dy
	if dx == 0 && dy == 0 {
		return TwoSiteResult{}, errors.Errorf("operator group %d: zero displacement", op.Group)
	}
	nrow, ncol := abs(dy)+1, abs(dx)+1
	if nrow > maxClusterDim || ncol > maxClusterDim {
		logrus.Warnf("operator group %d: displacement (%d, %d) exceeds the %dx%d window, skipped",
			op.Group, dx, dy, maxClusterDim, maxClusterDim)
		return TwoSiteResult{Skipped: true}, nil
	}

	// A referenced operator pair takes precedence over the dense form.
	if op.Op != nil && len(op.OpsIndices) == 0 && (nrow == 1 || ncol == 1) && nrow+ncol == 3 {
		v, err := e.adjacent(op.Source, legOf(dx, dy), op.Op)
		if err != nil {
			return TwoSiteResult{}, errors.Wrap(err, "")
		}
		return TwoSiteResult{Value: v}, nil
	}

	srcRow, srcCol := max(dy, 0), max(-dx, 0)
	tgtRow, tgtCol := max(-dy, 0), max(dx, 0)
	tl := e.s.Cell.Other(op.Source, -srcCol, srcRow)
	norm := e.Norm(tl, nrow, ncol)
	if norm == 0 {
		return TwoSiteResult{}, errors.Errorf("operator group %d: zero norm", op.Group)
	}

	if len(op.OpsIndices) == 2 {
		target := e.s.Cell.Other(op.Source, dx, dy)
		a, err := e.siteOperator(op.Source, op.OpsIndices[0])
		if err != nil {
			return TwoSiteResult{}, errors.Wrap(err, "")
		}
		b, err := e.siteOperator(target, op.OpsIndices[1])
		if err != nil {
			return TwoSiteResult{}, errors.Wrap(err, "")
		}
		val := e.cluster(tl, nrow, ncol, map[int]*tensor.Dense{
			srcRow*ncol + srcCol: a,
			tgtRow*ncol + tgtCol: b,
		})
		return TwoSiteResult{Value: val / norm}, nil
	}
	if op.Op == nil {
		return TwoSiteResult{}, errors.Errorf("operator group %d: no operator", op.Group)
	}

	// Factor the two-site operator into a sum of one-site pairs and
	// measure each pair on the window.
	as, bs := factorTwoSite(op.Op)
	var val complex128
	for k := range as {
		val += e.cluster(tl, nrow, ncol, map[int]*tensor.Dense{
			srcRow*ncol + srcCol: as[k],
			tgtRow*ncol + tgtCol: bs[k],
		})
	}
	return TwoSiteResult{Value: val / norm}, nil
}

// siteOperator resolves a one-site operator group at a site.
func (e *Engine) siteOperator(site, group int) (*tensor.Dense, error) {
	if group < 0 || group >= len(e.siteIndex[site]) || e.siteIndex[site][group] < 0 {
		return nil, errors.Errorf("site %d group %d: no operator", site, group)
	}
	return e.oneSite[e.siteIndex[site][group]].Op, nil
}

// legOf maps a unit displacement to the source leg crossing it.
func legOf(dx, dy int) int {
	switch {
	case dx == 1:
		return lattice.Right
	case dx == -1:
		return lattice.Left
	case dy == 1:
		return lattice.Top
	default:
		return lattice.Bottom
	}
}

// adjacent contracts a nearest-neighbor pair with its environment ring,
// leaving the four physical legs open, and closes them with the operator.
// The norm closes the same tensor with the identity, so an identity
// operator measures exactly one.
func (e *Engine) adjacent(source, leg int, op *tensor.Dense) (complex128, error) {
	m := e.pairDensity(source, leg)
	shape := m.Shape()
	if os := op.Shape(); len(os) != 4 || os[0] != shape[0] || os[2] != shape[0] || os[1] != shape[2] || os[3] != shape[2] {
		return 0, errors.Errorf("bond %d(%d) op %#v density %#v", source, leg, op.Shape(), shape)
	}
	norm := pairValue(m, pairEye(shape[0], shape[2]))
	if norm == 0 {
		return 0, errors.Errorf("bond %d(%d): zero norm", source, leg)
	}
	return pairValue(m, op) / norm, nil
}

// pairDensity contracts the environment ring of a bond with both site
// tensors, returning the reduced density (ket1, bra1, ket2, bra2).
func (e *Engine) pairDensity(source, leg int) *tensor.Dense {
	s := e.s
	target := s.Cell.Neighbor(source, leg)
	f := s.FrameFor(source, leg)
	tn1 := s.FrameTn(source, leg)
	tn2 := s.FrameTn(target, leg)

	la := tensor.Contract(tensor.Zeros(1), f.C1, f.ETt1, [][2]int{{1, 0}})
	lb := tensor.Contract(tensor.Zeros(1), f.ETl1, la, [][2]int{{1, 0}})
	// lc is (h, lX, c, tX, r, bo, p).
	lc := tensor.Contract(tensor.Zeros(1), lb, tn1, [][2]int{{1, 0}, {4, 1}})
	// ld is (h, c, r, bo, p, rX, boX, pX).
	ld := tensor.Contract(tensor.Zeros(1), lc, tn1.Conj(), [][2]int{{1, 0}, {3, 1}})
	cb := tensor.Contract(tensor.Zeros(1), f.ETb1, f.C4, [][2]int{{1, 0}})
	// left is (c, r, p, rX, pX, fr).
	left := tensor.Contract(tensor.Zeros(1), ld, cb, [][2]int{{0, 3}, {3, 1}, {6, 2}})

	ra := tensor.Contract(tensor.Zeros(1), f.ETt2, f.C2, [][2]int{{1, 0}})
	rb := tensor.Contract(tensor.Zeros(1), ra, f.ETr2, [][2]int{{3, 0}})
	// rc is (b, tX, e, rX, l, bo, p).
	rc := tensor.Contract(tensor.Zeros(1), rb, tn2, [][2]int{{1, 1}, {4, 2}})
	// rd is (b, e, l, bo, p, lX, boX, pX).
	rd := tensor.Contract(tensor.Zeros(1), rc, tn2.Conj(), [][2]int{{1, 1}, {3, 2}})
	cb3 := tensor.Contract(tensor.Zeros(1), f.C3, f.ETb2, [][2]int{{1, 0}})
	// right is (b, l, p, lX, pX, g).
	right := tensor.Contract(tensor.Zeros(1), rd, cb3, [][2]int{{1, 0}, {3, 2}, {6, 3}})

	return tensor.Contract(tensor.Zeros(1), left, right, [][2]int{{0, 0}, {1, 1}, {3, 3}, {5, 5}})
}

// pairValue closes a pair density with a two-site operator.
func pairValue(m, op *tensor.Dense) complex128 {
	var val complex128
	for ijk, v := range op.All() {
		if v == 0 {
			continue
		}
		a, b, c, d := ijk[0], ijk[1], ijk[2], ijk[3]
		val += complex128(m.At(c, a, d, b)) * complex128(v)
	}
	return val
}

// pairEye is the identity on a pair of physical spaces.
func pairEye(p1, p2 int) *tensor.Dense {
	op := tensor.Zeros(p1, p2, p1, p2)
	for a := range p1 {
		for b := range p2 {
			op.SetAt([]int{a, b, a, b}, 1)
		}
	}
	return op
}

// factorTwoSite splits a two-site operator into sums of one-site pairs
// through an SVD across the bond.
func factorTwoSite(op *tensor.Dense) ([]*tensor.Dense, []*tensor.Dense) {
	shape := op.Shape()
	p1, p2 := shape[0], shape[1]
	m := linalg.ResetCopy(tensor.Zeros(1), op.Transpose(0, 2, 1, 3)).Reshape(p1*p1, p2*p2)
	u, sv, vh := linalg.SVD(m)

	var as, bs []*tensor.Dense
	for k, s := range sv {
		if s <= 0 {
			continue
		}
		a := linalg.ResetCopy(tensor.Zeros(1), u.Slice([][2]int{{0, p1 * p1}, {k, k + 1}}))
		b := linalg.ResetCopy(tensor.Zeros(1), vh.Slice([][2]int{{k, k + 1}, {0, p2 * p2}}))
		linalg.ScaleAxis(a, 1, []float64{s})
		as = append(as, a.Reshape(p1, p1))
		bs = append(bs, b.Reshape(p2, p2))
	}
	return as, bs
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
