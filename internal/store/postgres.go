package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hexspot/internal/db"
	"github.com/sells-group/hexspot/internal/hexgrid"
	"github.com/sells-group/hexspot/internal/model"
)

// PostgresStore implements Store on PostGIS. Cell boundaries are stored as
// geometry(Polygon, 4326) so runs can be joined against other spatial data.
type PostgresStore struct {
	pool      db.Pool
	closeFn   func()
	batchSize int
}

// NewPostgres opens a pool and returns a PostgresStore.
func NewPostgres(ctx context.Context, connString string, cfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Open(ctx, connString, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close does not close it.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var cellsTable = pgx.Identifier{"hotspot_cells"}

var cellColumns = []string{"run_id", "cell_id", "label", "vals", "geom"}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS hotspot_runs (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	resolution   INTEGER NOT NULL,
	k            INTEGER NOT NULL,
	significance DOUBLE PRECISION NOT NULL,
	permutations INTEGER NOT NULL DEFAULT 0,
	seed         BIGINT NOT NULL DEFAULT 0,
	families     TEXT[] NOT NULL,
	counts       JSONB,
	cell_count   INTEGER NOT NULL,
	duration_ms  BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS hotspot_cells (
	run_id  TEXT NOT NULL REFERENCES hotspot_runs(id) ON DELETE CASCADE,
	cell_id TEXT NOT NULL,
	label   TEXT,
	vals    JSONB NOT NULL,
	geom    geometry(Polygon, 4326) NOT NULL,
	PRIMARY KEY (run_id, cell_id)
);

CREATE INDEX IF NOT EXISTS idx_hotspot_runs_name ON hotspot_runs(name);
CREATE INDEX IF NOT EXISTS idx_hotspot_runs_created_at ON hotspot_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_hotspot_cells_label ON hotspot_cells(run_id, label);
CREATE INDEX IF NOT EXISTS idx_hotspot_cells_geom ON hotspot_cells USING GIST (geom);
`

const runColumns = `id, name, resolution, k, significance, permutations, seed, families, counts, cell_count, duration_ms, created_at`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, run *Run, cells []CellResult) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	var counts []byte
	if run.Counts != nil {
		var err error
		if counts, err = json.Marshal(run.Counts); err != nil {
			return eris.Wrap(err, "postgres: marshal counts")
		}
	}

	rows := make([][]any, len(cells))
	for i, c := range cells {
		vals, err := json.Marshal(c.Values)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal values of %s", c.CellID)
		}
		geom, err := hexgrid.EncodeEWKB(c.Boundary)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode boundary of %s", c.CellID)
		}
		var label *string
		if c.Label != "" {
			label = &c.Label
		}
		rows[i] = []any{run.ID, string(c.CellID), label, vals, geom}
	}

	seed := int64(run.Seed) //nolint:gosec // stored bit-for-bit

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO hotspot_runs (`+runColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.Name, run.Resolution, run.K, run.Significance, run.Permutations,
		seed, run.Families, counts, run.CellCount, run.DurationMS, run.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", run.ID)
	}
	if _, err := db.CopyFrom(ctx, tx, cellsTable, cellColumns, rows, s.batchSize); err != nil {
		return eris.Wrapf(err, "postgres: copy cells of run %s", run.ID)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit save run")
	}

	zap.L().Info("postgres: saved run",
		zap.String("run_id", run.ID),
		zap.String("name", run.Name),
		zap.Int("cells", len(cells)),
	)
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM hotspot_runs WHERE id = $1`, id)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM hotspot_runs`
	var args []any
	if filter.Name != "" {
		args = append(args, filter.Name)
		query += ` WHERE name = $1`
	}
	args = append(args, listLimit(filter), max(filter.Offset, 0))
	query += ` ORDER BY created_at DESC, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) ListCells(ctx context.Context, runID string) ([]CellResult, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT cell_id, label, vals, ST_AsGeoJSON(geom) FROM hotspot_cells WHERE run_id = $1 ORDER BY cell_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list cells of run %s", runID)
	}
	defer rows.Close()

	var cells []CellResult
	for rows.Next() {
		var (
			id, geom string
			label    *string
			vals     []byte
		)
		if err := rows.Scan(&id, &label, &vals, &geom); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cell")
		}
		c, err := decodeCell(id, label, vals, []byte(geom))
		if err != nil {
			return nil, eris.Wrap(err, "postgres: decode cell")
		}
		cells = append(cells, c)
	}
	return cells, eris.Wrap(rows.Err(), "postgres: list cells iterate")
}

func (s *PostgresStore) DeleteRun(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM hotspot_runs WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", id)
	}
	return nil
}

func scanPostgresRun(row pgx.Row) (*Run, error) {
	var (
		r      Run
		seed   int64
		counts []byte
	)
	err := row.Scan(&r.ID, &r.Name, &r.Resolution, &r.K, &r.Significance, &r.Permutations,
		&seed, &r.Families, &counts, &r.CellCount, &r.DurationMS, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Seed = uint64(seed) //nolint:gosec // stored bit-for-bit
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &r.Counts); err != nil {
			return nil, eris.Wrap(err, "unmarshal counts")
		}
	}
	return &r, nil
}

// decodeCell assembles a cell from its stored columns. geom is a GeoJSON
// polygon.
func decodeCell(id string, label *string, vals, geom []byte) (CellResult, error) {
	c := CellResult{CellID: model.CellID(id)}
	if label != nil {
		c.Label = *label
	}
	if err := json.Unmarshal(vals, &c.Values); err != nil {
		return c, eris.Wrapf(err, "values of %s", id)
	}
	g, err := geojson.UnmarshalGeometry(geom)
	if err != nil {
		return c, eris.Wrapf(err, "boundary of %s", id)
	}
	poly, ok := g.Geometry().(orb.Polygon)
	if !ok {
		return c, eris.Errorf("boundary of %s is %s, not a polygon", id, g.Geometry().GeoJSONType())
	}
	c.Boundary = poly
	return c, nil
}
