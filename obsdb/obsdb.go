// Package obsdb keeps measured observables from many runs in one SQLite
// file, so a parameter sweep can be collected incrementally and queried
// afterwards.
package obsdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	tableRun = "run"
	tableObs = "obs"

	// KindOneSite and KindTwoSite tag rows in the observable table.
	KindOneSite = "onesite"
	KindTwoSite = "twosite"
)

// Run is one solver run: the parameters that vary across a sweep and the
// resulting energy density.
type Run struct {
	ID          int64
	Chi         int
	SimpleSteps int
	FullSteps   int
	Seed        uint64
	Energy      float64
}

// Value is one measured observable of a run. Site is the source site, and
// Dx, Dy are zero for one-site values.
type Value struct {
	Kind  string
	Group int
	Site  int
	Dx    int
	Dy    int
	Value complex128
}

type Store struct {
	Path string

	db *sql.DB
}

// Open opens or creates the results database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return &Store{Path: path, db: db}, nil
}

func (s *Store) Close() error {
	return errors.Wrap(s.db.Close(), "")
}

// InsertRun stores a run together with its observables and returns the new
// run ID.
func (s *Store) InsertRun(run Run, values []Value) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return -1, errors.Wrap(err, "")
	}
	defer tx.Rollback()

	sqlStr := fmt.Sprintf(`INSERT INTO %s (chi, simple_steps, full_steps, seed, energy) VALUES (?, ?, ?, ?, ?)`, tableRun)
	res, err := tx.ExecContext(ctx, sqlStr, run.Chi, run.SimpleSteps, run.FullSteps, int64(run.Seed), run.Energy)
	if err != nil {
		return -1, errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, run))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return -1, errors.Wrap(err, "")
	}

	sqlStr = fmt.Sprintf(`INSERT INTO %s (run, kind, grp, site, dx, dy, re, im) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, tableObs)
	for _, v := range values {
		args := []any{id, v.Kind, v.Group, v.Site, v.Dx, v.Dy, real(v.Value), imag(v.Value)}
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return -1, errors.Wrap(err, fmt.Sprintf("%s %#v", sqlStr, args))
		}
	}

	if err := tx.Commit(); err != nil {
		return -1, errors.Wrap(err, "")
	}
	return id, nil
}

// Run looks up one run by ID.
func (s *Store) Run(id int64) (Run, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sqlStr := fmt.Sprintf(`SELECT id, chi, simple_steps, full_steps, seed, energy FROM %s WHERE id=?`, tableRun)
	var r Run
	var seed int64
	err := s.db.QueryRowContext(ctx, sqlStr, id).Scan(&r.ID, &r.Chi, &r.SimpleSteps, &r.FullSteps, &seed, &r.Energy)
	switch {
	case err == sql.ErrNoRows:
		return Run{}, errors.Errorf("no run %d", id)
	case err != nil:
		return Run{}, errors.Wrap(err, "")
	}
	r.Seed = uint64(seed)
	return r, nil
}

// Runs returns every stored run in insertion order.
func (s *Store) Runs() ([]Run, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sqlStr := fmt.Sprintf(`SELECT id, chi, simple_steps, full_steps, seed, energy FROM %s ORDER BY id`, tableRun)
	rows, err := s.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var seed int64
		if err := rows.Scan(&r.ID, &r.Chi, &r.SimpleSteps, &r.FullSteps, &seed, &r.Energy); err != nil {
			return nil, errors.Wrap(err, "")
		}
		r.Seed = uint64(seed)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return runs, nil
}

// Values returns the observables of one run and kind, ordered by group and
// site.
func (s *Store) Values(id int64, kind string) ([]Value, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sqlStr := fmt.Sprintf(`SELECT kind, grp, site, dx, dy, re, im FROM %s WHERE run=? AND kind=? ORDER BY grp, site, dx, dy`, tableObs)
	rows, err := s.db.QueryContext(ctx, sqlStr, id, kind)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	var values []Value
	for rows.Next() {
		var v Value
		var re, im float64
		if err := rows.Scan(&v.Kind, &v.Group, &v.Site, &v.Dx, &v.Dy, &re, &im); err != nil {
			return nil, errors.Wrap(err, "")
		}
		v.Value = complex(re, im)
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return values, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, chi INTEGER, simple_steps INTEGER, full_steps INTEGER, seed INTEGER, energy REAL) STRICT`, tableRun)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (run INTEGER, kind TEXT, grp INTEGER, site INTEGER, dx INTEGER, dy INTEGER, re REAL, im REAL) STRICT`, tableObs)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
