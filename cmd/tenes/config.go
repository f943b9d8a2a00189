package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/lzhang714/TeNeS"
	"github.com/lzhang714/TeNeS/lattice"
)

// loadInput reads a TOML input file into a run input. Missing keys take the
// defaults set below.
func loadInput(path string) (tenes.Input, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("parameter.chi", 2)
	v.SetDefault("parameter.simple_num_step", 0)
	v.SetDefault("parameter.full_num_step", 0)
	v.SetDefault("parameter.ctm_iteration_max", 100)
	v.SetDefault("parameter.ctm_convergence_epsilon", 1e-8)
	v.SetDefault("parameter.ctm_projector_randomized", false)
	v.SetDefault("parameter.full_iteration_max", 10)
	v.SetDefault("parameter.full_convergence_epsilon", 1e-8)
	v.SetDefault("parameter.full_inverse_precision", 1e-12)
	v.SetDefault("parameter.simple_inverse_lambda_cutoff", 1e-12)
	v.SetDefault("parameter.full_fastupdate", false)
	v.SetDefault("parameter.tau", 0.01)
	v.SetDefault("parameter.seed", 11)
	v.SetDefault("parameter.output", ".")
	v.SetDefault("parameter.save_dir", "")
	v.SetDefault("parameter.load_dir", "")
	v.SetDefault("parameter.results_db", "")
	v.SetDefault("lattice.lx", 2)
	v.SetDefault("lattice.ly", 2)
	v.SetDefault("lattice.virtual_dim", 2)
	v.SetDefault("model.type", "transverse_field_ising")
	v.SetDefault("model.j", 1.0)
	v.SetDefault("model.hx", 0.0)
	v.SetDefault("correlation.r_max", 0)

	if err := v.ReadInConfig(); err != nil {
		return tenes.Input{}, errors.Wrap(err, "")
	}

	cell := lattice.Uniform(
		v.GetInt("lattice.lx"), v.GetInt("lattice.ly"),
		2, v.GetInt("lattice.virtual_dim"),
	)
	if err := cell.Validate(); err != nil {
		return tenes.Input{}, errors.Wrap(err, "")
	}

	var model tenes.Model
	switch typ := v.GetString("model.type"); typ {
	case "transverse_field_ising":
		var err error
		model, err = tenes.TransverseFieldIsing(
			cell, v.GetFloat64("model.j"), v.GetFloat64("model.hx"),
			v.GetFloat64("parameter.tau"),
		)
		if err != nil {
			return tenes.Input{}, errors.Wrap(err, "")
		}
	default:
		return tenes.Input{}, errors.Errorf("unknown model type %q", typ)
	}

	pairs, err := parsePairs(v.Get("correlation.operators"))
	if err != nil {
		return tenes.Input{}, errors.Wrap(err, "")
	}

	in := tenes.Input{
		Cell: cell,
		Parameter: tenes.Parameter{
			Chi:            v.GetInt("parameter.chi"),
			SimpleSteps:    v.GetInt("parameter.simple_num_step"),
			FullSteps:      v.GetInt("parameter.full_num_step"),
			CTMIterations:  v.GetInt("parameter.ctm_iteration_max"),
			CTMTol:         v.GetFloat64("parameter.ctm_convergence_epsilon"),
			UseRSVD:        v.GetBool("parameter.ctm_projector_randomized"),
			ALSIterations:  v.GetInt("parameter.full_iteration_max"),
			ALSTol:         v.GetFloat64("parameter.full_convergence_epsilon"),
			SolveTol:       v.GetFloat64("parameter.full_inverse_precision"),
			LambdaCutoff:   v.GetFloat64("parameter.simple_inverse_lambda_cutoff"),
			FastFullUpdate: v.GetBool("parameter.full_fastupdate"),
			Seed:           v.GetUint64("parameter.seed"),
			OutDir:         v.GetString("parameter.output"),
			LoadDir:        v.GetString("parameter.load_dir"),
			SaveDir:        v.GetString("parameter.save_dir"),
			ResultsDB:      v.GetString("parameter.results_db"),
		},
		Model: model,
		Correlation: tenes.CorrelationParameter{
			RMax:  v.GetInt("correlation.r_max"),
			Pairs: pairs,
		},
	}
	return in, nil
}

// parsePairs decodes the correlation operator pair list, a TOML array of
// two-element integer arrays.
func parsePairs(raw any) ([][2]int, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.Errorf("%#v", raw)
	}
	pairs := make([][2]int, 0, len(list))
	for _, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, errors.Errorf("%#v", item)
		}
		var p [2]int
		for k, e := range pair {
			switch n := e.(type) {
			case int64:
				p[k] = int(n)
			case int:
				p[k] = n
			default:
				return nil, errors.Errorf("%#v", e)
			}
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}
