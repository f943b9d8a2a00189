package peps

import (
	"github.com/fumin/tensor"
)

// Operator is a one-site gate or observable tagged with a group id.
// Op is (out, in) over the physical leg of Site.
type Operator struct {
	Group int
	Site  int
	Op    *tensor.Dense
}

// NNOperator is a two-site gate acting across the bond leaving Source
// through Leg. Op is (out1, out2, in1, in2); legs {0, 2} act on Source,
// legs {1, 3} on the neighbor across Leg.
type NNOperator struct {
	Source int
	Leg    int
	Op     *tensor.Dense
}

// TwoSiteOperator is a two-site observable between Source and the site
// displaced by (Dx, Dy). Op follows the NNOperator layout. If OpsIndices is
// set, Op is ignored and the observable is the product of the two one-site
// operator groups it references, applied at the two support sites.
type TwoSiteOperator struct {
	Group  int
	Source int
	Dx     int
	Dy     int
	Op     *tensor.Dense

	OpsIndices []int
}

// SiteOperatorIndex builds the (site, group) -> operator index table used
// for correlation and factored two-site measurements. Missing assignments
// are -1.
func SiteOperatorIndex(n int, ops []Operator) [][]int {
	ngroups := 0
	for _, op := range ops {
		if op.Group+1 > ngroups {
			ngroups = op.Group + 1
		}
	}
	idx := make([][]int, n)
	for i := range idx {
		idx[i] = make([]int, ngroups)
		for g := range idx[i] {
			idx[i][g] = -1
		}
	}
	for k, op := range ops {
		idx[op.Site][op.Group] = k
	}
	return idx
}

// NumGroups returns one past the largest group id of ops.
func NumGroups[T any](ops []T, group func(T) int) int {
	m := -1
	for _, op := range ops {
		if g := group(op); g > m {
			m = g
		}
	}
	return m + 1
}
