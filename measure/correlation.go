package measure

import (
	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/peps"
)

// rails holds the environment row a correlation chain runs along. For a
// horizontal chain these are the tensors as stored; a vertical chain reuses
// the same contraction through the quarter-turn bond frame.
type rails struct {
	s        *peps.Store
	vertical bool
}

func (r rails) c1(i int) *tensor.Dense {
	if r.vertical {
		return r.s.C4[i]
	}
	return r.s.C1[i]
}

func (r rails) c2(i int) *tensor.Dense {
	if r.vertical {
		return r.s.C1[i]
	}
	return r.s.C2[i]
}

func (r rails) c3(i int) *tensor.Dense {
	if r.vertical {
		return r.s.C2[i]
	}
	return r.s.C3[i]
}

func (r rails) c4(i int) *tensor.Dense {
	if r.vertical {
		return r.s.C3[i]
	}
	return r.s.C4[i]
}

func (r rails) ett(i int) *tensor.Dense {
	if r.vertical {
		return r.s.ETl[i]
	}
	return r.s.ETt[i]
}

func (r rails) etb(i int) *tensor.Dense {
	if r.vertical {
		return r.s.ETr[i]
	}
	return r.s.ETb[i]
}

func (r rails) etr(i int) *tensor.Dense {
	if r.vertical {
		return r.s.ETt[i]
	}
	return r.s.ETr[i]
}

func (r rails) etl(i int) *tensor.Dense {
	if r.vertical {
		return r.s.ETb[i]
	}
	return r.s.ETl[i]
}

func (r rails) tn(i int) *tensor.Dense {
	if r.vertical {
		return r.s.FrameTn(i, lattice.Top)
	}
	return r.s.Tn[i]
}

func (r rails) next(i int) int {
	if r.vertical {
		return r.s.Cell.Other(i, 0, 1)
	}
	return r.s.Cell.Other(i, 1, 0)
}

// CorrelationRecord is one long-range correlation value. Offsets count how
// many times the displacement wrapped around the unit cell.
type CorrelationRecord struct {
	LeftSite  int
	RightSite int
	OffsetX   int
	OffsetY   int
	LeftOp    int
	RightOp   int
	Value     complex128
}

// Correlations sweeps every site and both directions, measuring each
// (left group, right group) pair out to distance rmax. A chain is seeded per
// assigned left operator; sites where a right group is unassigned produce no
// record. The normalization chain carries identities through the same
// transfer steps.
func (e *Engine) Correlations(rmax int, pairs [][2]int) ([]CorrelationRecord, error) {
	if rmax <= 0 || len(pairs) == 0 {
		return nil, nil
	}
	ngroups := peps.NumGroups(e.oneSite, func(op peps.Operator) int { return op.Group })
	rightOf := make([][]int, ngroups)
	for _, p := range pairs {
		if p[0] < 0 || p[0] >= ngroups || p[1] < 0 || p[1] >= ngroups {
			return nil, errors.Errorf("correlation pair %d %d %d", p[0], p[1], ngroups)
		}
		rightOf[p[0]] = append(rightOf[p[0]], p[1])
	}

	type chain struct {
		group int
		v     *tensor.Dense
	}
	var out []CorrelationRecord
	for i := 0; i < e.s.Cell.N(); i++ {
		for _, vertical := range []bool{false, true} {
			r := rails{s: e.s, vertical: vertical}

			var chains []chain
			for g, rights := range rightOf {
				if len(rights) == 0 || e.siteIndex[i][g] < 0 {
					continue
				}
				chains = append(chains, chain{group: g, v: r.startVector(i, e.oneSite[e.siteIndex[i][g]].Op)})
			}
			if len(chains) == 0 {
				continue
			}
			nrm := r.startVector(i, e.s.Identity(i))

			j := i
			for d := 1; d <= rmax; d++ {
				j = r.next(j)
				norm := r.close(nrm, j, e.s.Identity(j))
				if norm == 0 {
					return nil, errors.Errorf("site %d distance %d: zero norm", i, d)
				}
				rec := CorrelationRecord{LeftSite: i, RightSite: j}
				if vertical {
					rec.OffsetY = (e.s.Cell.Y(i) + d) / e.s.Cell.LY
				} else {
					rec.OffsetX = (e.s.Cell.X(i) + d) / e.s.Cell.LX
				}
				for _, c := range chains {
					for _, rg := range rightOf[c.group] {
						k := e.siteIndex[j][rg]
						if k < 0 {
							continue
						}
						rec.LeftOp, rec.RightOp = c.group, rg
						rec.Value = r.close(c.v, j, e.oneSite[k].Op) / norm
						out = append(out, rec)
					}
				}
				if d < rmax {
					nrm = r.transfer(nrm, j)
					for k := range chains {
						chains[k].v = r.transfer(chains[k].v, j)
					}
				}
			}
		}
	}
	return out, nil
}

// Correlation measures <A(site) B(site+r e)> / <1> for r = 1..rmax along the
// +x axis, or along +y when vertical. Both numerator and denominator use the
// same transfer chain, with identities in place of A and B for the latter.
func (e *Engine) Correlation(site int, opA, opB *tensor.Dense, rmax int, vertical bool) ([]complex128, error) {
	if rmax < 1 {
		return nil, errors.Errorf("rmax %d", rmax)
	}
	r := rails{s: e.s, vertical: vertical}
	id := e.s.Identity(site)

	val := r.startVector(site, opA)
	nrm := r.startVector(site, id)
	out := make([]complex128, 0, rmax)
	j := site
	for k := 1; k <= rmax; k++ {
		j = r.next(j)
		v := r.close(val, j, opB)
		n := r.close(nrm, j, e.s.Identity(j))
		if n == 0 {
			return nil, errors.Errorf("site %d distance %d: zero norm", site, k)
		}
		out = append(out, v/n)
		if k < rmax {
			val = r.transfer(val, j)
			nrm = r.transfer(nrm, j)
		}
	}
	return out, nil
}

// startVector contracts the left end of the chain with op applied at site i,
// leaving (c, r, rX, f) open toward the next column.
func (r rails) startVector(i int, op *tensor.Dense) *tensor.Dense {
	la := tensor.Contract(tensor.Zeros(1), r.c1(i), r.ett(i), [][2]int{{1, 0}})
	lb := tensor.Contract(tensor.Zeros(1), r.etl(i), la, [][2]int{{1, 0}})
	tnO := tensor.Contract(tensor.Zeros(1), r.tn(i), op, [][2]int{{4, 1}})
	lc := tensor.Contract(tensor.Zeros(1), lb, tnO, [][2]int{{1, 0}, {4, 1}})
	ld := tensor.Contract(tensor.Zeros(1), lc, r.tn(i).Conj(), [][2]int{{1, 0}, {3, 1}, {6, 4}})
	cb := tensor.Contract(tensor.Zeros(1), r.etb(i), r.c4(i), [][2]int{{1, 0}})
	return tensor.Contract(tensor.Zeros(1), ld, cb, [][2]int{{0, 3}, {3, 1}, {5, 2}})
}

// transfer pushes the chain vector through the double-layer column at j.
func (r rails) transfer(v *tensor.Dense, j int) *tensor.Dense {
	w1 := tensor.Contract(tensor.Zeros(1), v, r.ett(j), [][2]int{{0, 0}})
	w2 := tensor.Contract(tensor.Zeros(1), w1, r.tn(j), [][2]int{{0, 0}, {4, 1}})
	w3 := tensor.Contract(tensor.Zeros(1), w2, r.tn(j).Conj(), [][2]int{{0, 0}, {3, 1}, {6, 4}})
	return tensor.Contract(tensor.Zeros(1), w3, r.etb(j), [][2]int{{0, 1}, {3, 2}, {5, 3}})
}

// close caps the chain at column j with op and the right environment,
// returning the scalar.
func (r rails) close(v *tensor.Dense, j int, op *tensor.Dense) complex128 {
	ra := tensor.Contract(tensor.Zeros(1), r.ett(j), r.c2(j), [][2]int{{1, 0}})
	rb := tensor.Contract(tensor.Zeros(1), ra, r.etr(j), [][2]int{{3, 0}})
	tnO := tensor.Contract(tensor.Zeros(1), r.tn(j), op, [][2]int{{4, 1}})
	rc := tensor.Contract(tensor.Zeros(1), rb, tnO, [][2]int{{1, 1}, {4, 2}})
	rd := tensor.Contract(tensor.Zeros(1), rc, r.tn(j).Conj(), [][2]int{{1, 1}, {3, 2}, {6, 4}})
	cb3 := tensor.Contract(tensor.Zeros(1), r.c3(j), r.etb(j), [][2]int{{1, 0}})
	rv := tensor.Contract(tensor.Zeros(1), rd, cb3, [][2]int{{1, 0}, {3, 2}, {5, 3}})

	m := tensor.Contract(tensor.Zeros(1), v, rv, [][2]int{{0, 0}, {1, 1}, {2, 2}})
	var val complex128
	for k := 0; k < m.Shape()[0]; k++ {
		val += complex128(m.At(k, k))
	}
	return val
}
