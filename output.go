package tenes

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lzhang714/TeNeS/lattice"
)

// writeParameters dumps the effective parameter set and lattice shape before
// the optimization starts.
func writeParameters(dir string, p Parameter, cell *lattice.Unitcell) error {
	f, err := os.Create(filepath.Join(dir, "parameters.dat"))
	if err != nil {
		return errors.Wrap(err, "")
	}

	fmt.Fprintf(f, "chi = %d\n", p.Chi)
	fmt.Fprintf(f, "simple_num_step = %d\n", p.SimpleSteps)
	fmt.Fprintf(f, "full_num_step = %d\n", p.FullSteps)
	fmt.Fprintf(f, "ctm_iteration_max = %d\n", p.CTMIterations)
	fmt.Fprintf(f, "ctm_convergence_epsilon = %g\n", p.CTMTol)
	fmt.Fprintf(f, "ctm_projector_randomized = %t\n", p.UseRSVD)
	fmt.Fprintf(f, "full_iteration_max = %d\n", p.ALSIterations)
	fmt.Fprintf(f, "full_convergence_epsilon = %g\n", p.ALSTol)
	fmt.Fprintf(f, "full_inverse_precision = %g\n", p.SolveTol)
	fmt.Fprintf(f, "simple_inverse_lambda_cutoff = %g\n", p.LambdaCutoff)
	fmt.Fprintf(f, "full_fastupdate = %t\n", p.FastFullUpdate)
	fmt.Fprintf(f, "seed = %d\n", p.Seed)
	fmt.Fprintf(f, "\n")
	fmt.Fprintf(f, "Lx = %d\n", cell.LX)
	fmt.Fprintf(f, "Ly = %d\n", cell.LY)
	for i := range cell.N() {
		fmt.Fprintf(f, "site %d: phys_dim = %d virtual_dims = %v\n",
			i, cell.PhysDims[i], cell.VirtualDims[i])
	}
	return errors.Wrap(f.Close(), "")
}

// writeResult writes every observable output file of a finished run.
func writeResult(dir string, in Input, res *Result) error {
	if err := writeOneSite(dir, res); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeTwoSite(dir, res); err != nil {
		return errors.Wrap(err, "")
	}
	if in.Correlation.RMax > 0 {
		if err := writeCorrelation(dir, res); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if err := writeEnergy(dir, res); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeTimes(dir, res.Times); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func writeOneSite(dir string, res *Result) error {
	fpath := filepath.Join(dir, "onesite_obs.dat")
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}

	fmt.Fprintf(f, "# $1: op_group\n")
	fmt.Fprintf(f, "# $2: site_index\n")
	fmt.Fprintf(f, "# $3: real\n")
	fmt.Fprintf(f, "# $4: imag\n")
	fmt.Fprintf(f, "\n")
	for g := range res.OneSite {
		for i, v := range res.OneSite[g] {
			if math.IsNaN(real(v)) {
				continue
			}
			fmt.Fprintf(f, "%d %d %.12g %.12g\n", g, i, real(v), imag(v))
		}
	}
	logrus.Infof("saved one-site observables to %s", fpath)
	return errors.Wrap(f.Close(), "")
}

func writeTwoSite(dir string, res *Result) error {
	fpath := filepath.Join(dir, "twosite_obs.dat")
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}

	fmt.Fprintf(f, "# $1: op_group\n")
	fmt.Fprintf(f, "# $2: source_site\n")
	fmt.Fprintf(f, "# $3: dx\n")
	fmt.Fprintf(f, "# $4: dy\n")
	fmt.Fprintf(f, "# $5: real\n")
	fmt.Fprintf(f, "# $6: imag\n")
	fmt.Fprintf(f, "\n")
	for _, v := range res.TwoSite {
		fmt.Fprintf(f, "%d %d %d %d %.12g %.12g\n",
			v.Group, v.Source, v.Dx, v.Dy, real(v.Value), imag(v.Value))
	}
	logrus.Infof("saved two-site observables to %s", fpath)
	return errors.Wrap(f.Close(), "")
}

func writeCorrelation(dir string, res *Result) error {
	fpath := filepath.Join(dir, "correlation.dat")
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}

	fmt.Fprintf(f, "# $1: left_op\n")
	fmt.Fprintf(f, "# $2: left_site\n")
	fmt.Fprintf(f, "# $3: right_op\n")
	fmt.Fprintf(f, "# $4: right_site\n")
	fmt.Fprintf(f, "# $5: offset_x\n")
	fmt.Fprintf(f, "# $6: offset_y\n")
	fmt.Fprintf(f, "# $7: real\n")
	fmt.Fprintf(f, "# $8: imag\n")
	fmt.Fprintf(f, "\n")
	for _, c := range res.Correlations {
		fmt.Fprintf(f, "%d %d %d %d %d %d %.12g %.12g\n",
			c.LeftOp, c.LeftSite, c.RightOp, c.RightSite,
			c.OffsetX, c.OffsetY, real(c.Value), imag(c.Value))
	}
	logrus.Infof("saved long-range correlations to %s", fpath)
	return errors.Wrap(f.Close(), "")
}

func writeEnergy(dir string, res *Result) error {
	fpath := filepath.Join(dir, "energy.dat")
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}

	fmt.Fprintf(f, "energy = %.12g\n", res.EnergyDensity)
	for g, v := range res.OneSiteDensity {
		fmt.Fprintf(f, "onesite_obs[%d] = %.12g +i %.12g\n", g, real(v), imag(v))
	}
	logrus.Infof("saved energy density to %s", fpath)
	return errors.Wrap(f.Close(), "")
}

func writeTimes(dir string, times Times) error {
	f, err := os.Create(filepath.Join(dir, "time.dat"))
	if err != nil {
		return errors.Wrap(err, "")
	}

	fmt.Fprintf(f, "time simple update = %g\n", times.SimpleUpdate)
	fmt.Fprintf(f, "time full update   = %g\n", times.FullUpdate)
	fmt.Fprintf(f, "time environment   = %g\n", times.Environment)
	fmt.Fprintf(f, "time observable    = %g\n", times.Observable)
	return errors.Wrap(f.Close(), "")
}
