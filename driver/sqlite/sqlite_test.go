//nolint:gochecknoglobals
package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/root-talis/kiroku/driver"
	"github.com/root-talis/kiroku/driver/sqlite"
	"github.com/root-talis/kiroku/migration"
)

var dsnTests = []struct {
	name        string
	url         string
	expectedDSN string
	expectError bool
}{
	/* s0 */ {
		name:        "test s0: should strip the scheme and add a busy timeout",
		url:         "sqlite:app.db",
		expectedDSN: "app.db?_pragma=busy_timeout(5000)",
	},
	/* s1 */ {
		name:        "test s1: should accept the double slash form",
		url:         "sqlite3:///var/lib/app.db",
		expectedDSN: "/var/lib/app.db?_pragma=busy_timeout(5000)",
	},
	/* s2 */ {
		name:        "test s2: should append to existing parameters",
		url:         "sqlite:app.db?_pragma=foreign_keys(1)",
		expectedDSN: "app.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
	},
	/* s3 */ {
		name:        "test s3: should keep an explicit busy timeout",
		url:         "sqlite:app.db?_pragma=busy_timeout(100)",
		expectedDSN: "app.db?_pragma=busy_timeout(100)",
	},

	/* e0 */ {
		name:        "test e0: should fail without a file name",
		url:         "sqlite:",
		expectError: true,
	},
}

func TestDSN(t *testing.T) {
	t.Parallel()

	for _, test := range dsnTests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			dsn, err := sqlite.Dialect{}.DSN(test.url)

			if test.expectError {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, test.expectedDSN, dsn)
		})
	}
}

func TestOpenAndHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	drv, err := driver.Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "app.db"), driver.Config{InstalledBy: "tester"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer drv.Close()

	assert.Equal(t, "sqlite", drv.Dialect().Name())
	assert.Equal(t, driver.Table{Schema: "main", Name: driver.DefaultTableName}, drv.History().Table())

	detected, err := driver.Detect(ctx, drv.DB().DB)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", detected.Name())

	history := drv.History()

	exists, err := history.Exists(ctx)
	assert.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, history.Create(ctx))
	require.NoError(t, history.Create(ctx))

	installedOn := time.Date(2023, 5, 1, 12, 30, 0, 0, time.UTC)
	for i, row := range []*migration.Applied{
		{Version: migration.MustParseVersion("1"), Description: "<< Baseline >>", Type: migration.TypeBaseline, Script: "<< Baseline >>", Success: true},
		{Version: migration.MustParseVersion("2.1"), Description: "add users", Type: migration.TypeSQL, Script: "V2_1__add_users.sql", Checksum: migration.Checksum(99), Success: true},
		{Description: "views", Type: migration.TypeSQL, Script: "R__views.sql", Checksum: migration.Checksum(-1)},
	} {
		row.InstalledBy = drv.InstalledBy()
		row.InstalledOn = installedOn
		require.NoError(t, history.Add(ctx, drv.DB(), row))
		assert.Equal(t, i+1, row.InstalledRank)
	}

	rows, err := history.All(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, migration.TypeBaseline, rows[0].Type)
	assert.Nil(t, rows[0].Checksum)
	assert.Equal(t, "2.1", rows[1].Version.String())
	assert.True(t, rows[2].Version.IsZero())
	assert.Equal(t, "tester", rows[2].InstalledBy)
	assert.True(t, installedOn.Equal(rows[1].InstalledOn))

	removed, err := history.RemoveFailed(ctx)
	assert.NoError(t, err)
	if assert.Len(t, removed, 1) {
		assert.Equal(t, "R__views.sql", removed[0].Script)
	}

	rows, err = history.All(ctx)
	assert.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestAuxiliaryTablesAreNotUserObjects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := open(t)
	table := driver.Table{Schema: "main", Name: driver.DefaultTableName}
	d := sqlite.Dialect{}

	locker := d.NewLocker(db, table)
	ok, err := locker.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	has, err := d.HasUserObjects(ctx, db, "main", driver.Auxiliary(d, table)...)
	assert.NoError(t, err)
	assert.False(t, has)

	_, err = db.ExecContext(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	has, err = d.HasUserObjects(ctx, db, "main", driver.Auxiliary(d, table)...)
	assert.NoError(t, err)
	assert.True(t, has)

	assert.NoError(t, locker.Unlock(ctx))
}

func TestLockIsExclusive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := open(t)
	table := driver.Table{Schema: "main", Name: driver.DefaultTableName}

	first := sqlite.Dialect{}.NewLocker(db, table)
	second := sqlite.Dialect{}.NewLocker(db, table)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryLock(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, second.Unlock(ctx), "unlocking a lock held by someone else is a no-op")

	ok, err = second.TryLock(ctx)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, first.Unlock(ctx))

	ok, err = second.TryLock(ctx)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestClean(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := open(t)
	d := sqlite.Dialect{}

	for _, stmt := range []string{
		"PRAGMA foreign_keys = ON",
		"CREATE TABLE parent (id INTEGER PRIMARY KEY)",
		"CREATE TABLE child (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parent (id))",
		"CREATE INDEX child_parent ON child (parent_id)",
		"CREATE VIEW orphans AS SELECT id FROM child WHERE parent_id IS NULL",
		"CREATE TABLE keep_me (id INTEGER)",
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	statements, err := d.CleanStatements(ctx, db, "main", "keep_me")
	require.NoError(t, err)

	conn, err := db.Connx(ctx)
	require.NoError(t, err)
	defer conn.Close()

	for _, stmt := range statements {
		_, err := conn.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	var remaining []string
	require.NoError(t, db.SelectContext(ctx, &remaining, "SELECT name FROM sqlite_master WHERE name NOT LIKE 'sqlite%' ORDER BY name"))
	assert.Equal(t, []string{"keep_me"}, remaining)
}

func TestParserMarksVacuum(t *testing.T) {
	t.Parallel()

	statements, err := sqlite.Dialect{}.NewParser().Parse(strings.NewReader("CREATE TABLE a (id INT);\nvacuum;\n"))

	assert.NoError(t, err)
	if assert.Len(t, statements, 2) {
		assert.True(t, statements[0].CanExecuteInTransaction)
		assert.False(t, statements[1].CanExecuteInTransaction)
		assert.Equal(t, 2, statements[1].Line)
	}
}

// ---

func open(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn, err := sqlite.Dialect{}.DSN("sqlite:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	conn, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
	})

	return sqlx.NewDb(conn, "sqlite")
}
