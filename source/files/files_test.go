package files_test

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/root-talis/kiroku/migration"
	"github.com/root-talis/kiroku/source"
	"github.com/root-talis/kiroku/source/files"
	"github.com/root-talis/kiroku/sqlscript"
)

type resolvedSummary struct {
	Version       string
	Description   string
	Script        string
	Transactional bool
}

var script = &fstest.MapFile{Data: []byte("CREATE TABLE t (id INT);\n")} // nolint:gochecknoglobals

var resolveTestTable = []struct { // nolint:gochecknoglobals
	name                    string
	expectErrorWhenCreating bool
	expectErrorWhenCalling  bool
	directory               string
	options                 files.Options
	fs                      fstest.MapFS
	expectedMigrations      []resolvedSummary
}{
	// -- success tests ------
	/* s0 */ {
		name:      "test s0: should list versioned migrations in version order",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                         {Mode: fs.ModeDir},
			"migrations/V10__add_index.sql":      script,
			"migrations/V2__add_users_table.sql": script,
			"migrations/V1_1__initial.sql":       script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "1.1", Description: "initial", Script: "V1_1__initial.sql", Transactional: true},
			{Version: "2", Description: "add users table", Script: "V2__add_users_table.sql", Transactional: true},
			{Version: "10", Description: "add index", Script: "V10__add_index.sql", Transactional: true},
		},
	},
	/* s1 */ {
		name:      "test s1: should list repeatable migrations after versioned ones",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                  {Mode: fs.ModeDir},
			"migrations/R__views.sql":     script,
			"migrations/R__functions.sql": script,
			"migrations/V1__initial.sql":  script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "1", Description: "initial", Script: "V1__initial.sql", Transactional: true},
			{Description: "functions", Script: "R__functions.sql", Transactional: true},
			{Description: "views", Script: "R__views.sql", Transactional: true},
		},
	},
	/* s2 */ {
		name:      "test s2: should correctly list migrations in an non-standard directory",
		directory: "tmp/.Xs223xxSCa",
		fs: fstest.MapFS{
			"tmp/.Xs223xxSCa":                   {Mode: fs.ModeDir},
			"tmp/.Xs223xxSCa/V1__initial.sql":   script,
			"tmp/.Xs223xxSCa/V2__add_users.sql": script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "1", Description: "initial", Script: "V1__initial.sql", Transactional: true},
			{Version: "2", Description: "add users", Script: "V2__add_users.sql", Transactional: true},
		},
	},
	/* s3 */ {
		name:      "test s3: should skip on bad version format",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/V1a__init.sql":     script,
			"migrations/V__init.sql":       script,
			"migrations/V2__add_users.sql": script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "2", Description: "add users", Script: "V2__add_users.sql", Transactional: true},
		},
	},
	/* s4 */ {
		name:      "test s4: should skip on unknown prefix",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/1__init.sql":       script,
			"migrations/U1__init.sql":      script,
			"migrations/Rollback.sql":      script,
			"migrations/V2__add_users.sql": script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "2", Description: "add users", Script: "V2__add_users.sql", Transactional: true},
		},
	},
	/* s5 */ {
		name:      "test s5: should skip on bad migration name (no separator before name)",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/V1init.sql":        script,
			"migrations/V1_init.sql":       script,
			"migrations/V2__add_users.sql": script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "2", Description: "add users", Script: "V2__add_users.sql", Transactional: true},
		},
	},
	/* s6 */ {
		name:      "test s6: should skip on bad migration name (no name)",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/V1.sql":            script,
			"migrations/V1__.sql":          script,
			"migrations/R__.sql":           script,
			"migrations/V2__add_users.sql": script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "2", Description: "add users", Script: "V2__add_users.sql", Transactional: true},
		},
	},
	/* s7 */ {
		name:      "test s7: should skip on bad suffix",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/V1__init.sq":       script,
			"migrations/V1__init":          script,
			"migrations/.sql":              script,
			"migrations/V2__add_users.sql": script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "2", Description: "add users", Script: "V2__add_users.sql", Transactional: true},
		},
	},
	/* s8 */ {
		name:      "test s8: should not care about other directories",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                           {Mode: fs.ModeDir},
			"V1__init.sql":                         script,
			"migrations/subdirectory/V1__init.sql": script,
			"sibling/V1__init.sql":                 script,
			"migrations/V2__add_users.sql":         script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "2", Description: "add users", Script: "V2__add_users.sql", Transactional: true},
		},
	},
	/* s9 */ {
		name:      "test s9: should scan subdirectories when recursive",
		directory: "migrations",
		options:   files.Options{Recursive: true},
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/2023/V1__init.sql": script,
			"migrations/V2__add_users.sql": script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "1", Description: "init", Script: "2023/V1__init.sql", Transactional: true},
			{Version: "2", Description: "add users", Script: "V2__add_users.sql", Transactional: true},
		},
	},
	/* s10 */ {
		name:      "test s10: should mark scripts with non-transactional statements",
		directory: "migrations",
		options: files.Options{Parser: sqlscript.New(sqlscript.Options{
			NonTransactional: []*regexp.Regexp{regexp.MustCompile(`^VACUUM\b`)},
		})},
		fs: fstest.MapFS{
			"migrations":                {Mode: fs.ModeDir},
			"migrations/V1__vacuum.sql": {Data: []byte("DELETE FROM t;\nVACUUM;\n")},
		},
		expectedMigrations: []resolvedSummary{
			{Version: "1", Description: "vacuum", Script: "V1__vacuum.sql", Transactional: false},
		},
	},
	/* s11 */ {
		name:      "test s11: should let a .conf file override transactionality",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/V1__init.sql":      script,
			"migrations/V1__init.sql.conf": {Data: []byte("executeInTransaction=false\n")},
		},
		expectedMigrations: []resolvedSummary{
			{Version: "1", Description: "init", Script: "V1__init.sql", Transactional: false},
		},
	},
	/* s12 */ {
		name:      "test s12: should honour custom naming",
		directory: "db",
		options: files.Options{Naming: files.Naming{
			VersionedPrefix:  "M",
			RepeatablePrefix: "A",
			Separator:        "-",
			Suffixes:         []string{".up.sql"},
		}},
		fs: fstest.MapFS{
			"db":                 {Mode: fs.ModeDir},
			"db/M3-users.up.sql": script,
			"db/A-views.up.sql":  script,
			"db/V1__init.sql":    script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "3", Description: "users", Script: "M3-users.up.sql", Transactional: true},
			{Description: "views", Script: "A-views.up.sql", Transactional: true},
		},
	},
	/* s13 */ {
		name:      "test s13: should skip directories with matching name",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/V1__init.sql":      {Mode: fs.ModeDir},
			"migrations/V2__add_users.sql": script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "2", Description: "add users", Script: "V2__add_users.sql", Transactional: true},
		},
	},
	/* s14 */ {
		name:      "test s14: should still skip unknown prefixes when validating names",
		directory: "migrations",
		options:   files.Options{ValidateNaming: true},
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/README.md":         script,
			"migrations/U1__init.sql":      script,
			"migrations/V2__add_users.sql": script,
		},
		expectedMigrations: []resolvedSummary{
			{Version: "2", Description: "add users", Script: "V2__add_users.sql", Transactional: true},
		},
	},

	// -- error tests --------
	/* e0 */ {
		name:      "test e0: should fail when directory does not exist",
		directory: "kiroku",
		fs: fstest.MapFS{
			"migrations":              {Mode: fs.ModeDir},
			"migrations/V1__init.sql": script,
		},
		expectErrorWhenCreating: true,
	},
	/* e1 */ {
		name:      "test e1: should fail on duplicate migration version",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":                     {Mode: fs.ModeDir},
			"migrations/V1__add_users.sql":   script,
			"migrations/V1_0__add_roles.sql": script,
		},
		expectErrorWhenCalling: true,
	},
	/* e2 */ {
		name:      "test e2: should fail when directory is a file",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations": {},
		},
		expectErrorWhenCreating: true,
	},
	/* e3 */ {
		name:      "test e3: should fail when directory is a device",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations": {Mode: fs.ModeDevice},
		},
		expectErrorWhenCreating: true,
	},
	/* e4 */ {
		name:      "test e4: should fail on an unterminated string",
		directory: "migrations",
		fs: fstest.MapFS{
			"migrations":              {Mode: fs.ModeDir},
			"migrations/V1__init.sql": {Data: []byte("INSERT INTO t VALUES ('oops);")},
		},
		expectErrorWhenCalling: true,
	},
	/* e5 */ {
		name:      "test e5: should fail on an undefined placeholder",
		directory: "migrations",
		options:   files.Options{Placeholders: map[string]string{"schema": "app"}},
		fs: fstest.MapFS{
			"migrations":              {Mode: fs.ModeDir},
			"migrations/V1__init.sql": {Data: []byte("CREATE TABLE ${schema}.${table} (id INT);")},
		},
		expectErrorWhenCalling: true,
	},
	/* e6 */ {
		name:      "test e6: should fail on bad version format when validating names",
		directory: "migrations",
		options:   files.Options{ValidateNaming: true},
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/V1a__init.sql":     script,
			"migrations/V2__add_users.sql": script,
		},
		expectErrorWhenCalling: true,
	},
	/* e7 */ {
		name:      "test e7: should fail on a missing description when validating names",
		directory: "migrations",
		options:   files.Options{ValidateNaming: true},
		fs: fstest.MapFS{
			"migrations":                   {Mode: fs.ModeDir},
			"migrations/R__.sql":           script,
			"migrations/V2__add_users.sql": script,
		},
		expectErrorWhenCalling: true,
	},
}

func TestResolve(t *testing.T) {
	t.Parallel()
	t.Logf("Should correctly resolve migrations from a directory.")

	for _, test := range resolveTestTable {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			opts := test.options
			opts.Logger = zaptest.NewLogger(t)

			src, err := files.New(test.fs, test.directory, opts)

			if test.expectErrorWhenCreating {
				assert.Error(t, err)
				return
			} else if !assert.NoError(t, err) {
				return
			}

			migrations, err := src.Resolve(context.Background())

			if test.expectErrorWhenCalling {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, test.expectedMigrations, summarize(migrations))
		})
	}
}

func TestValidateNamingReportsEveryFile(t *testing.T) {
	t.Parallel()

	src, err := files.New(fstest.MapFS{
		"m":               {Mode: fs.ModeDir},
		"m/V1a__init.sql": script,
		"m/V1.sql":        script,
		"m/V2__users.sql": script,
	}, "m", files.Options{ValidateNaming: true, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	migrations, err := src.Resolve(context.Background())
	assert.Nil(t, migrations)
	assert.ErrorIs(t, err, files.ErrInvalidName)
	assert.ErrorIs(t, err, migration.ErrInvalidVersion)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "V1a__init.sql")
	assert.Contains(t, err.Error(), "V1.sql")
}

func TestDuplicateIsReported(t *testing.T) {
	t.Parallel()

	src, err := files.New(fstest.MapFS{
		"m":                  {Mode: fs.ModeDir},
		"m/V1__a.sql":        script,
		"m/V1.0__b.sql":      script,
		"m/R__views.sql":     script,
		"m/sub/R__views.sql": script,
	}, "m", files.Options{Recursive: true})
	require.NoError(t, err)

	_, err = src.Resolve(context.Background())

	assert.ErrorIs(t, err, source.ErrMigrationDuplicated)
	assert.Contains(t, err.Error(), "version 1")
	assert.Contains(t, err.Error(), `repeatable migration "views"`)
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	checksumOf := func(content string) *int32 {
		src, err := files.New(fstest.MapFS{
			"m":           {Mode: fs.ModeDir},
			"m/V1__a.sql": {Data: []byte(content)},
		}, "m", files.Options{})
		require.NoError(t, err)

		resolved, err := src.Resolve(context.Background())
		require.NoError(t, err)
		require.Len(t, resolved, 1)

		return resolved[0].Checksum
	}

	unix := checksumOf("CREATE TABLE t (id INT);\nINSERT INTO t VALUES (1);\n")

	assert.NotNil(t, unix)
	assert.Equal(t, *unix, *checksumOf("CREATE TABLE t (id INT);\r\nINSERT INTO t VALUES (1);\r\n"), "line endings must not matter")
	assert.Equal(t, *unix, *checksumOf("\xef\xbb\xbfCREATE TABLE t (id INT);\nINSERT INTO t VALUES (1);\n"), "a BOM must not matter")
	assert.NotEqual(t, *unix, *checksumOf("CREATE TABLE t (id BIGINT);\nINSERT INTO t VALUES (1);\n"))
}

func TestPlaceholdersDoNotChangeChecksum(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"m":           {Mode: fs.ModeDir},
		"m/V1__a.sql": {Data: []byte("CREATE TABLE ${table} (id INT);")},
	}

	plain, err := files.New(fsys, "m", files.Options{})
	require.NoError(t, err)
	replaced, err := files.New(fsys, "m", files.Options{Placeholders: map[string]string{"table": "users"}})
	require.NoError(t, err)

	a, err := plain.Resolve(context.Background())
	require.NoError(t, err)
	b, err := replaced.Resolve(context.Background())
	require.NoError(t, err)

	assert.Equal(t, *a[0].Checksum, *b[0].Checksum)

	conn := &recordingConn{}
	require.NoError(t, b[0].Executor.Execute(context.Background(), conn))
	assert.Equal(t, []string{"CREATE TABLE users (id INT)"}, conn.executed)
}

func TestExecutorRunsStatementsInOrder(t *testing.T) {
	t.Parallel()

	src, err := files.New(fstest.MapFS{
		"m":           {Mode: fs.ModeDir},
		"m/V1__a.sql": {Data: []byte("-- users\nCREATE TABLE users (id INT);\n\nINSERT INTO users VALUES (1);\n")},
	}, "m", files.Options{})
	require.NoError(t, err)

	resolved, err := src.Resolve(context.Background())
	require.NoError(t, err)

	conn := &recordingConn{}
	assert.NoError(t, resolved[0].Executor.Execute(context.Background(), conn))
	assert.Len(t, conn.executed, 2)

	failing := &recordingConn{fail: errors.New("syntax error")}
	err = resolved[0].Executor.Execute(context.Background(), failing)
	assert.ErrorContains(t, err, "line 2 of V1__a.sql")
	assert.Len(t, failing.executed, 1)
}

func TestListingIsCachedUntilInvalidated(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"m":           {Mode: fs.ModeDir},
		"m/V1__a.sql": script,
	}

	src, err := files.New(fsys, "m", files.Options{})
	require.NoError(t, err)

	resolved, err := src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Len(t, resolved, 1)

	fsys["m/V2__b.sql"] = script

	resolved, err = src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Len(t, resolved, 1)

	src.Invalidate()

	resolved, err = src.Resolve(context.Background())
	require.NoError(t, err)
	assert.Len(t, resolved, 2)
}

// ---

func summarize(resolved []*migration.Resolved) []resolvedSummary {
	result := make([]resolvedSummary, 0, len(resolved))
	for _, r := range resolved {
		result = append(result, resolvedSummary{
			Version:       r.Version.String(),
			Description:   r.Description,
			Script:        r.Script,
			Transactional: r.CanExecuteInTransaction(),
		})
	}

	return result
}

type recordingConn struct {
	executed []string
	fail     error
}

func (c *recordingConn) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	c.executed = append(c.executed, query)
	if c.fail != nil {
		return nil, c.fail
	}

	return nil, nil
}

func (c *recordingConn) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported")
}

func (c *recordingConn) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func (c *recordingConn) PrepareContext(context.Context, string) (*sql.Stmt, error) {
	return nil, errors.New("not supported")
}
