package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hexspot/internal/hexgrid"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_SaveAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, cells, err := FromResult(hexgrid.NewH3(), analysis(t))
	require.NoError(t, err)
	run.Seed = 1 << 63
	require.NoError(t, st.SaveRun(ctx, run, cells))
	require.NotEmpty(t, run.ID)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Name, got.Name)
	assert.Equal(t, run.Families, got.Families)
	assert.Equal(t, run.Counts, got.Counts)
	assert.Equal(t, run.CellCount, got.CellCount)
	assert.Equal(t, run.Seed, got.Seed)
	assert.WithinDuration(t, run.CreatedAt, got.CreatedAt, time.Second)

	stored, err := st.ListCells(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stored, len(cells))
	byID := map[string]CellResult{}
	for _, c := range cells {
		byID[string(c.CellID)] = c
	}
	for i, c := range stored {
		if i > 0 {
			assert.Less(t, string(stored[i-1].CellID), string(c.CellID))
		}
		want := byID[string(c.CellID)]
		assert.Equal(t, want.Label, c.Label)
		assert.Equal(t, want.Values, c.Values)
		assert.Equal(t, want.Boundary, c.Boundary)
	}
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = st.ListCells(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, name := range []string{"north", "south", "north"} {
		run := &Run{Name: name, Resolution: 9, K: 3, Significance: 0.05, Families: []string{"capacity"}, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, st.SaveRun(ctx, run, nil))
	}

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt), "newest first")
	assert.Nil(t, all[0].Counts)

	north, err := st.ListRuns(ctx, RunFilter{Name: "north"})
	require.NoError(t, err)
	assert.Len(t, north, 2)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "south", page[0].Name)
}

func TestSQLite_DeleteRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, cells, err := FromResult(hexgrid.NewH3(), analysis(t))
	require.NoError(t, err)
	require.NoError(t, st.SaveRun(ctx, run, cells))

	require.NoError(t, st.DeleteRun(ctx, run.ID))
	_, err = st.GetRun(ctx, run.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	var n int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hotspot_cells`).Scan(&n))
	assert.Zero(t, n)

	err = st.DeleteRun(ctx, run.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_SaveRun_DuplicateID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := &Run{ID: "fixed", Name: "a", Families: []string{"capacity"}}
	require.NoError(t, st.SaveRun(ctx, run, nil))
	err := st.SaveRun(ctx, &Run{ID: "fixed", Name: "b", Families: []string{"capacity"}}, nil)
	require.Error(t, err)

	got, err := st.GetRun(ctx, "fixed")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
}

func TestNew_Drivers(t *testing.T) {
	ctx := context.Background()
	st, err := New(ctx, Config{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "f.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = New(ctx, Config{Driver: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}
