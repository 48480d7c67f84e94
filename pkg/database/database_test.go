package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DeBrosOfficial/rnshub/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *AnnounceStore {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "hub", "rnshub.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAnnounceStore(db)
}

func intp(v int) *int { return &v }

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "postgres", "x", nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rnshub.db")
	db, err := Open(context.Background(), DriverSQLite, path, nil)
	require.NoError(t, err)
	require.NoError(t, ApplyMigrations(context.Background(), db, nil))
	db.Close()

	db, err = Open(context.Background(), DriverSQLite, path, nil)
	require.NoError(t, err)
	defer db.Close()

	var n nullInt
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, int64(1), n.Int64)
}

func TestApplyMigrationsFS_OrderAndDuplicates(t *testing.T) {
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "m.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	fsys := fstest.MapFS{
		"010_second.sql": {Data: []byte("INSERT INTO t(v) VALUES ('b;c');")},
		"002_first.sql":  {Data: []byte("BEGIN;\n-- comment;\nCREATE TABLE t (v TEXT);\nCOMMIT;")},
		"readme.md":      {Data: []byte("ignored")},
	}
	require.NoError(t, ApplyMigrationsFS(context.Background(), db, fsys, nil))

	var v string
	require.NoError(t, db.QueryRow(`SELECT v FROM t`).Scan(&v))
	assert.Equal(t, "b;c", v)

	dup := fstest.MapFS{
		"3_a.sql":   {Data: []byte("SELECT 1;")},
		"003_b.sql": {Data: []byte("SELECT 1;")},
	}
	assert.Error(t, ApplyMigrationsFS(context.Background(), db, dup, nil))
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements("CREATE TABLE a (x TEXT); /* skip; */ INSERT INTO a VALUES ('it''s;'); -- tail;\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x TEXT)", stmts[0])
	assert.Equal(t, "INSERT INTO a VALUES ('it''s;')", stmts[1])
}

func TestAnnounceStore_InsertAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	first, err := store.Insert(ctx, AnnounceRecord{Destination: "aa", Hops: intp(2), StampCost: intp(16), AnnouncedAt: base})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = store.Insert(ctx, AnnounceRecord{Destination: "bb", Name: "relay", AnnouncedAt: base.Add(time.Second)})
	require.NoError(t, err)

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "bb", recent[0].Destination)
	assert.Equal(t, "relay", recent[0].Name)
	assert.Nil(t, recent[0].Hops)
	assert.Equal(t, "aa", recent[1].Destination)
	assert.Equal(t, 2, *recent[1].Hops)
	assert.Equal(t, 16, *recent[1].StampCost)
	assert.True(t, base.Equal(recent[1].AnnouncedAt))

	limited, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAnnounceStore_InsertValidates(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Insert(context.Background(), AnnounceRecord{})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestAnnounceStore_LatestSince(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	insert := func(dest string, offset time.Duration, cost int) {
		_, err := store.Insert(ctx, AnnounceRecord{Destination: dest, StampCost: intp(cost), AnnouncedAt: base.Add(offset)})
		require.NoError(t, err)
	}
	insert("aa", 0, 1)
	insert("aa", 10*time.Minute, 2)
	insert("bb", -2*time.Hour, 3) // outside the window
	insert("cc", 5*time.Minute, 4)
	insert("cc", 5*time.Minute, 5) // same timestamp

	latest, err := store.LatestSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "aa", latest[0].Destination)
	assert.Equal(t, 2, *latest[0].StampCost)
	assert.Equal(t, "cc", latest[1].Destination)
}

func TestAnnounceStore_DeleteBefore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000)

	for i := 0; i < 3; i++ {
		_, err := store.Insert(ctx, AnnounceRecord{Destination: "aa", AnnouncedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}
	n, err := store.DeleteBefore(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestHistoryWriter(t *testing.T) {
	store := openTestStore(t)
	w := NewHistoryWriter(store, 2, nil)

	assert.True(t, w.Enqueue(AnnounceRecord{Destination: "aa"}))
	assert.True(t, w.Enqueue(AnnounceRecord{Destination: "bb"}))
	assert.False(t, w.Enqueue(AnnounceRecord{Destination: "cc"}), "queue full")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.Stats().Written == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.True(t, w.Enqueue(AnnounceRecord{}))
	require.Eventually(t, func() bool { return w.Stats().Failed == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	stats := w.Stats()
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 0, stats.Pending)
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "http://***@db:4001", redactDSN("http://user:pw@db:4001"))
	assert.Equal(t, "http://db:4001", redactDSN("http://db:4001"))
	assert.Equal(t, "/tmp/x.db", redactDSN("/tmp/x.db"))
}
