package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openHistory(t *testing.T, path string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{Path: path, Name: "history", Profile: profile})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_CreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	db := openHistory(t, path, "")

	assert.Equal(t, path, db.Path())

	stats, err := db.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SchemaVersion)

	require.NoError(t, db.Migrate())
	// Second run sees the recorded version and does nothing
	require.NoError(t, db.Migrate())

	var name string
	err = db.QueryRowContext(context.Background(),
		"SELECT name FROM sqlite_master WHERE type='table' AND name='daily_prices'").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "daily_prices", name)

	stats, err = db.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, stats.SchemaVersion)
	assert.Positive(t, stats.SizeBytes)
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "x.db"), Name: "scratch"})
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Migrate())
}

func TestReadOnlyProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	rw, err := New(Config{Path: path, Name: "history"})
	require.NoError(t, err)
	require.NoError(t, rw.Migrate())
	require.NoError(t, rw.Close())

	ro := openHistory(t, path, ProfileReadOnly)

	assert.ErrorIs(t, ro.Migrate(), ErrReadOnly)
	err = ro.WithTx(context.Background(), func(tx *sql.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrReadOnly)

	// query_only also blocks writes that bypass WithTx
	_, err = ro.conn.Exec("INSERT INTO daily_prices (symbol, date, close) VALUES ('A', 0, 1)")
	assert.Error(t, err)

	stats, err := ro.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, stats.SchemaVersion)
}

func TestWithTx(t *testing.T) {
	db := openHistory(t, filepath.Join(t.TempDir(), "history.db"), ProfileStandard)
	require.NoError(t, db.Migrate())
	ctx := context.Background()

	insert := func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO daily_prices (symbol, date, close) VALUES ('A', 1, 10)")
		return err
	}
	count := func() int {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_prices").Scan(&n))
		return n
	}

	abort := errors.New("abort")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insert(tx); err != nil {
			return err
		}
		return abort
	})
	assert.ErrorIs(t, err, abort)
	assert.Equal(t, 0, count())

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insert(tx); err != nil {
			return err
		}
		panic("boom")
	})
	assert.ErrorContains(t, err, "panic in transaction")
	assert.Equal(t, 0, count())

	require.NoError(t, db.WithTx(ctx, insert))
	assert.Equal(t, 1, count())
}

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"/tmp/h.db?_pragma=busy_timeout(5000)&_pragma=query_only(1)",
		dsn("/tmp/h.db", ProfileReadOnly))
	assert.Equal(t,
		"file:mem?mode=memory&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)",
		dsn("file:mem?mode=memory", ProfileStandard))
}
