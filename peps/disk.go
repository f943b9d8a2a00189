package peps

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/fumin/tensor"
	"github.com/pkg/errors"

	"github.com/lzhang714/TeNeS/lattice"
)

// Checkpoint file kinds, one file per site per kind.
var tensorKinds = []string{"T", "Et", "Er", "Eb", "El", "C1", "C2", "C3", "C4"}

func (s *Store) tensorsOf(kind string) []*tensor.Dense {
	switch kind {
	case "T":
		return s.Tn
	case "Et":
		return s.ETt
	case "Er":
		return s.ETr
	case "Eb":
		return s.ETb
	case "El":
		return s.ETl
	case "C1":
		return s.C1
	case "C2":
		return s.C2
	case "C3":
		return s.C3
	default:
		return s.C4
	}
}

// Save writes every tensor and bond spectrum to dir, one file per site per
// tensor kind plus one lambda file per site. The dense dumps round-trip
// exactly.
func (s *Store) Save(dir string) error {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	for i := range s.Cell.N() {
		suffix := fmt.Sprintf("_%d.dat", i)
		for _, kind := range tensorKinds {
			fpath := filepath.Join(dir, kind+suffix)
			if err := writeDense(fpath, s.tensorsOf(kind)[i]); err != nil {
				return errors.Wrap(err, fpath)
			}
		}

		if err := s.writeLambda(filepath.Join(dir, fmt.Sprintf("lambda_%d.dat", i)), i); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// Load restores a previously saved Store. A missing directory is a
// configuration error.
func (s *Store) Load(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return errors.Wrap(err, dir)
	}

	for i := range s.Cell.N() {
		suffix := fmt.Sprintf("_%d.dat", i)
		for _, kind := range tensorKinds {
			fpath := filepath.Join(dir, kind+suffix)
			dst := s.tensorsOf(kind)[i]
			want := dst.Shape()
			if err := readDense(fpath, dst); err != nil {
				return errors.Wrap(err, fpath)
			}
			if !slices.Equal(dst.Shape(), want) {
				return errors.Errorf("%s: %#v %#v", fpath, dst.Shape(), want)
			}
		}

		if err := s.readLambda(filepath.Join(dir, fmt.Sprintf("lambda_%d.dat", i)), i); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

func (s *Store) writeLambda(fpath string, i int) error {
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	w := bufio.NewWriter(f)

	for leg := range lattice.NumLegs {
		for _, v := range s.Lambda[i][leg] {
			if _, err1 := fmt.Fprintf(w, "%s\n", strconv.FormatFloat(v, 'g', -1, 64)); err1 != nil && err == nil {
				err = errors.Wrap(err1, "")
			}
		}
	}

	if err1 := w.Flush(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func (s *Store) readLambda(fpath string, i int) error {
	f, err := os.Open(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer f.Close()
	sc := bufio.NewScanner(f)

	for leg := range lattice.NumLegs {
		for k := range s.Lambda[i][leg] {
			if !sc.Scan() {
				return errors.Errorf("%s: leg %d entry %d", fpath, leg, k)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(sc.Text()), 64)
			if err != nil {
				return errors.Wrap(err, fpath)
			}
			s.Lambda[i][leg][k] = v
		}
	}
	return errors.Wrap(sc.Err(), "")
}

// writeDense dumps t as a shape line followed by one "real imag" line per
// entry, formatted losslessly for float32 payloads.
func writeDense(fpath string, t *tensor.Dense) error {
	f, err := os.Create(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	w := bufio.NewWriter(f)

	dims := make([]string, 0, len(t.Shape()))
	for _, d := range t.Shape() {
		dims = append(dims, strconv.Itoa(d))
	}
	if _, err1 := fmt.Fprintf(w, "%s\n", strings.Join(dims, ",")); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}

	for _, v := range t.All() {
		re := strconv.FormatFloat(float64(real(v)), 'g', -1, 32)
		im := strconv.FormatFloat(float64(imag(v)), 'g', -1, 32)
		if _, err1 := fmt.Fprintf(w, "%s %s\n", re, im); err1 != nil && err == nil {
			err = errors.Wrap(err1, "")
			break
		}
	}

	if err1 := w.Flush(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	if err1 := f.Close(); err1 != nil && err == nil {
		err = errors.Wrap(err1, "")
	}
	return err
}

func readDense(fpath string, t *tensor.Dense) error {
	f, err := os.Open(fpath)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer f.Close()
	sc := bufio.NewScanner(f)

	if !sc.Scan() {
		return errors.Errorf("%s: empty", fpath)
	}
	dimStrs := strings.Split(strings.TrimSpace(sc.Text()), ",")
	dims := make([]int, 0, len(dimStrs))
	for _, ds := range dimStrs {
		d, err := strconv.Atoi(ds)
		if err != nil {
			return errors.Wrap(err, fpath)
		}
		dims = append(dims, d)
	}
	t.Reset(dims...)

	for ijk := range t.All() {
		if !sc.Scan() {
			return errors.Errorf("%s: truncated at %v", fpath, ijk)
		}
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			return errors.Errorf("%s: %q", fpath, sc.Text())
		}
		re, err := strconv.ParseFloat(fields[0], 32)
		if err != nil {
			return errors.Wrap(err, fpath)
		}
		im, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			return errors.Wrap(err, fpath)
		}
		t.SetAt(ijk, complex(float32(re), float32(im)))
	}
	return errors.Wrap(sc.Err(), "")
}
