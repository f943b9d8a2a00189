// Package tenes orchestrates an iPEPS ground-state run: imaginary-time
// optimization of the site tensors, convergence of the corner-transfer
// environment, and measurement of the requested observables, with results
// written as flat text files into an output directory.
package tenes

import (
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lzhang714/TeNeS/ctm"
	"github.com/lzhang714/TeNeS/lattice"
	"github.com/lzhang714/TeNeS/measure"
	"github.com/lzhang714/TeNeS/obsdb"
	"github.com/lzhang714/TeNeS/peps"
	"github.com/lzhang714/TeNeS/update"
)

// Parameter is the run parameter set.
type Parameter struct {
	Chi int

	SimpleSteps int
	FullSteps   int

	CTMIterations int
	CTMTol        float64
	UseRSVD       bool

	ALSIterations  int
	ALSTol         float64
	SolveTol       float64
	LambdaCutoff   float64
	FastFullUpdate bool

	Seed uint64

	OutDir    string
	LoadDir   string
	SaveDir   string
	ResultsDB string
}

// CorrelationParameter selects the long-range correlations to measure:
// distances 1..RMax for each (left group, right group) pair of one-site
// operator groups.
type CorrelationParameter struct {
	RMax  int
	Pairs [][2]int
}

// Input is everything a run consumes.
type Input struct {
	Cell        *lattice.Unitcell
	Parameter   Parameter
	Model       Model
	Correlation CorrelationParameter
}

// TwoSiteValue is one measured two-site observable.
type TwoSiteValue struct {
	Group  int
	Source int
	Dx     int
	Dy     int
	Value  complex128
}

// Times are the elapsed seconds per run phase.
type Times struct {
	SimpleUpdate float64
	FullUpdate   float64
	Environment  float64
	Observable   float64
}

// Result collects everything a run measured. OneSite is indexed
// [group][site] and holds NaN where no operator of that group is assigned;
// OneSiteDensity[g] averages only the assigned entries of group g.
type Result struct {
	OneSite        [][]complex128
	TwoSite        []TwoSiteValue
	Correlations   []measure.CorrelationRecord
	EnergyDensity  float64
	OneSiteDensity []complex128
	Times          Times
}

// Run executes a full optimization and measurement pass and writes the
// output files into Parameter.OutDir.
func Run(in Input) (*Result, error) {
	p := in.Parameter
	if p.OutDir == "" {
		p.OutDir = "."
	}
	if err := os.MkdirAll(p.OutDir, 0755); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := writeParameters(p.OutDir, p, in.Cell); err != nil {
		return nil, errors.Wrap(err, "")
	}

	s, err := peps.New(in.Cell, p.Chi, p.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if p.LoadDir != "" {
		if err := s.Load(p.LoadDir); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	var times Times

	logrus.Info("start simple update")
	start := time.Now()
	err = update.SimpleUpdate(s, in.Model.SimpleUpdates, update.SimpleConfig{
		Steps:        p.SimpleSteps,
		LambdaCutoff: p.LambdaCutoff,
	})
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	times.SimpleUpdate = time.Since(start).Seconds()

	env := ctm.New(ctm.Config{
		Iterations: p.CTMIterations,
		Tol:        p.CTMTol,
		UseRSVD:    p.UseRSVD,
		Seed:       p.Seed,
	})
	if err := ctm.Validate(s); err != nil {
		return nil, errors.Wrap(err, "")
	}

	if p.FullSteps > 0 {
		logrus.Info("start full update")
		start = time.Now()
		err = update.FullUpdate(s, env, in.Model.FullUpdates, update.FullConfig{
			Steps:         p.FullSteps,
			ALSIterations: p.ALSIterations,
			ALSTol:        p.ALSTol,
			SolveTol:      p.SolveTol,
			Fast:          p.FastFullUpdate,
		})
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		times.FullUpdate = time.Since(start).Seconds()
	}

	start = time.Now()
	iters, diff, err := env.Converge(s)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	times.Environment = time.Since(start).Seconds()
	logrus.Infof("environment converged: %d iterations, diff %g", iters, diff)

	start = time.Now()
	res, err := measureAll(s, in)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	times.Observable = time.Since(start).Seconds()
	res.Times = times

	if err := writeResult(p.OutDir, in, res); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if p.ResultsDB != "" {
		if err := storeResult(p, res); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	if p.SaveDir != "" {
		if err := s.Save(p.SaveDir); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return res, nil
}

// measureAll evaluates every requested observable against the converged
// environment and aggregates the densities.
func measureAll(s *peps.Store, in Input) (*Result, error) {
	eng := measure.New(s, in.Model.OneSite)
	n := s.Cell.N()

	nOne := peps.NumGroups(in.Model.OneSite, func(op peps.Operator) int { return op.Group })
	res := &Result{OneSite: make([][]complex128, nOne)}
	for g := range res.OneSite {
		res.OneSite[g] = make([]complex128, n)
		for i := range res.OneSite[g] {
			res.OneSite[g][i] = complex(math.NaN(), math.NaN())
		}
	}
	for _, op := range in.Model.OneSite {
		v, err := eng.OneSite(op.Site, op.Op)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		res.OneSite[op.Group][op.Site] = v
	}

	for _, op := range in.Model.TwoSite {
		r, err := eng.TwoSite(op)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if r.Skipped {
			continue
		}
		res.TwoSite = append(res.TwoSite, TwoSiteValue{
			Group: op.Group, Source: op.Source, Dx: op.Dx, Dy: op.Dy, Value: r.Value,
		})
	}

	if in.Correlation.RMax > 0 {
		recs, err := eng.Correlations(in.Correlation.RMax, in.Correlation.Pairs)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		res.Correlations = recs
	}

	// Group 0 of the two-site set holds the bond Hamiltonian, so the energy
	// is the sum of its measured values.
	var energy float64
	for _, v := range res.TwoSite {
		if v.Group == 0 {
			energy += real(v.Value)
		}
	}
	res.EnergyDensity = energy / float64(n)

	// Unassigned site/group entries are excluded: the density is the mean
	// over the sites that carry an operator of the group.
	res.OneSiteDensity = make([]complex128, nOne)
	for g := range res.OneSite {
		var sum complex128
		var num int
		for _, v := range res.OneSite[g] {
			if math.IsNaN(real(v)) {
				continue
			}
			sum += v
			num++
		}
		if num == 0 {
			res.OneSiteDensity[g] = complex(math.NaN(), math.NaN())
			continue
		}
		res.OneSiteDensity[g] = sum / complex(float64(num), 0)
	}
	return res, nil
}

// storeResult appends the run and its observables to the sweep database.
func storeResult(p Parameter, res *Result) error {
	db, err := obsdb.Open(p.ResultsDB)
	if err != nil {
		return errors.Wrap(err, "")
	}

	var values []obsdb.Value
	for g, row := range res.OneSite {
		for i, v := range row {
			if math.IsNaN(real(v)) {
				continue
			}
			values = append(values, obsdb.Value{Kind: obsdb.KindOneSite, Group: g, Site: i, Value: v})
		}
	}
	for _, v := range res.TwoSite {
		values = append(values, obsdb.Value{
			Kind: obsdb.KindTwoSite, Group: v.Group, Site: v.Source, Dx: v.Dx, Dy: v.Dy, Value: v.Value,
		})
	}

	run := obsdb.Run{
		Chi:         p.Chi,
		SimpleSteps: p.SimpleSteps,
		FullSteps:   p.FullSteps,
		Seed:        p.Seed,
		Energy:      res.EnergyDensity,
	}
	id, err := db.InsertRun(run, values)
	if err != nil {
		return errors.Wrap(err, "")
	}
	logrus.Infof("stored run %d in %s", id, p.ResultsDB)
	return errors.Wrap(db.Close(), "")
}
