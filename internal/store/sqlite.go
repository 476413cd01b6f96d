package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. Boundaries are
// stored as GeoJSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS hotspot_runs (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	resolution   INTEGER NOT NULL,
	k            INTEGER NOT NULL,
	significance REAL NOT NULL,
	permutations INTEGER NOT NULL DEFAULT 0,
	seed         INTEGER NOT NULL DEFAULT 0,
	families     TEXT NOT NULL,
	counts       TEXT,
	cell_count   INTEGER NOT NULL,
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS hotspot_cells (
	run_id   TEXT NOT NULL REFERENCES hotspot_runs(id),
	cell_id  TEXT NOT NULL,
	label    TEXT,
	vals     TEXT NOT NULL,
	boundary TEXT NOT NULL,
	PRIMARY KEY (run_id, cell_id)
);

CREATE INDEX IF NOT EXISTS idx_hotspot_runs_name ON hotspot_runs(name);
CREATE INDEX IF NOT EXISTS idx_hotspot_runs_created_at ON hotspot_runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run, cells []CellResult) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	families, err := json.Marshal(run.Families)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal families")
	}
	var counts sql.NullString
	if run.Counts != nil {
		b, err := json.Marshal(run.Counts)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal counts")
		}
		counts = sql.NullString{String: string(b), Valid: true}
	}

	seed := int64(run.Seed) //nolint:gosec // stored bit-for-bit

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save run")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO hotspot_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.Resolution, run.K, run.Significance, run.Permutations,
		seed, string(families), counts, run.CellCount, run.DurationMS, run.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO hotspot_cells (run_id, cell_id, label, vals, boundary) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare cell insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, c := range cells {
		vals, err := json.Marshal(c.Values)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal values of %s", c.CellID)
		}
		boundary, err := geojson.NewGeometry(c.Boundary).MarshalJSON()
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal boundary of %s", c.CellID)
		}
		label := sql.NullString{String: c.Label, Valid: c.Label != ""}
		if _, err := stmt.ExecContext(ctx, run.ID, string(c.CellID), label, string(vals), string(boundary)); err != nil {
			return eris.Wrapf(err, "sqlite: insert cell %s", c.CellID)
		}
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit save run")
	}
	zap.L().Debug("sqlite: saved run", zap.String("run_id", run.ID), zap.Int("cells", len(cells)))
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM hotspot_runs WHERE id = ?`, id)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM hotspot_runs WHERE 1=1`
	var args []any
	if filter.Name != "" {
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListCells(ctx context.Context, runID string) ([]CellResult, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT cell_id, label, vals, boundary FROM hotspot_cells WHERE run_id = ? ORDER BY cell_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list cells of run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var cells []CellResult
	for rows.Next() {
		var (
			id, vals, boundary string
			label              sql.NullString
		)
		if err := rows.Scan(&id, &label, &vals, &boundary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cell")
		}
		var lp *string
		if label.Valid {
			lp = &label.String
		}
		c, err := decodeCell(id, lp, []byte(vals), []byte(boundary))
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: decode cell")
		}
		cells = append(cells, c)
	}
	return cells, eris.Wrap(rows.Err(), "sqlite: list cells iterate")
}

// DeleteRun removes the run and its cells in one transaction.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete run")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM hotspot_cells WHERE run_id = ?`, id); err != nil {
		return eris.Wrapf(err, "sqlite: delete cells of run %s", id)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM hotspot_runs WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: run %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete run")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*Run, error) {
	var (
		r        Run
		seed     int64
		families string
		counts   sql.NullString
	)
	err := row.Scan(&r.ID, &r.Name, &r.Resolution, &r.K, &r.Significance, &r.Permutations,
		&seed, &families, &counts, &r.CellCount, &r.DurationMS, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Seed = uint64(seed) //nolint:gosec // stored bit-for-bit
	if err := json.Unmarshal([]byte(families), &r.Families); err != nil {
		return nil, eris.Wrap(err, "unmarshal families")
	}
	if counts.Valid {
		if err := json.Unmarshal([]byte(counts.String), &r.Counts); err != nil {
			return nil, eris.Wrap(err, "unmarshal counts")
		}
	}
	return &r, nil
}
