package sqlite

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/root-talis/kiroku/driver"
	"github.com/root-talis/kiroku/sqlscript"
)

const (
	schemaName  = "main"
	busyTimeout = "_pragma=busy_timeout(5000)"
)

var nonTransactional = []*regexp.Regexp{ // nolint:gochecknoglobals
	regexp.MustCompile(`^VACUUM\b`),
	regexp.MustCompile(`^PRAGMA FOREIGN_KEYS\b`),
}

type Dialect struct{}

func init() { //nolint:gochecknoinits
	driver.Register(Dialect{})
}

func (Dialect) Name() string {
	return "sqlite"
}

func (Dialect) Schemes() []string {
	return []string{"sqlite", "sqlite3"}
}

func (Dialect) DriverName() string {
	return "sqlite"
}

// DSN turns sqlite:path or sqlite://path into a file name and enables a busy
// timeout so that concurrent writers wait instead of failing.
func (Dialect) DSN(url string) (string, error) {
	_, path, _ := strings.Cut(url, ":")
	path = strings.TrimPrefix(path, "//")

	if path == "" {
		return "", fmt.Errorf("sqlite url %q has no file name", url)
	}

	if strings.Contains(path, "busy_timeout") {
		return path, nil
	}

	if strings.Contains(path, "?") {
		return path + "&" + busyTimeout, nil
	}

	return path + "?" + busyTimeout, nil
}

func (Dialect) ProductQuery() string {
	return "SELECT 'SQLite ' || sqlite_version()"
}

func (Dialect) MatchesProduct(product string) bool {
	return strings.HasPrefix(product, "SQLite")
}

func (Dialect) Quote(identifiers ...string) string {
	return driver.QuoteIdentifiers(`"`, identifiers...)
}

func (Dialect) Placeholders() sq.PlaceholderFormat {
	return sq.Question
}

func (Dialect) NewParser() sqlscript.Parser {
	return sqlscript.New(sqlscript.Options{
		IdentifierQuotes: "\"`",
		NonTransactional: nonTransactional,
	})
}

func (Dialect) SupportsDDLTransactions() bool {
	return true
}

func (Dialect) CurrentSchema(context.Context, sqlx.QueryerContext) (string, error) {
	return schemaName, nil
}

// CurrentUser is empty: SQLite has no users.
func (Dialect) CurrentUser(context.Context, sqlx.QueryerContext) (string, error) {
	return "", nil
}

func (d Dialect) TableExists(ctx context.Context, q sqlx.QueryerContext, table driver.Table) (bool, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE type = 'table' AND name = ?", d.master(table.Schema))

	if err := sqlx.GetContext(ctx, q, &count, query, table.Name); err != nil {
		return false, err
	}

	return count > 0, nil
}

func (d Dialect) HasUserObjects(ctx context.Context, q sqlx.QueryerContext, schema string, except ...string) (bool, error) {
	tables, err := d.objects(ctx, q, schema, "table")
	if err != nil {
		return false, err
	}

	return len(driver.Without(tables, except...)) > 0, nil
}

func (d Dialect) CreateHistoryTable(table driver.Table) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    "installed_rank" INT NOT NULL PRIMARY KEY,
    "version" VARCHAR(50),
    "description" VARCHAR(200) NOT NULL,
    "type" VARCHAR(20) NOT NULL,
    "script" VARCHAR(1000) NOT NULL,
    "checksum" INT,
    "installed_by" VARCHAR(100) NOT NULL,
    "installed_on" TIMESTAMP NOT NULL DEFAULT (strftime('%%Y-%%m-%%d %%H:%%M:%%f','now')),
    "execution_time" INT NOT NULL,
    "success" BOOLEAN NOT NULL
)`, d.Quote(table.Schema, table.Name)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("success")`,
			d.Quote(table.Schema, table.Name+"_s_idx"), d.Quote(table.Name)),
	}
}

func (d Dialect) NewLocker(db *sqlx.DB, table driver.Table) driver.Locker {
	return newRowLocker(db, d.Quote(table.Schema, LockTableName(table)))
}

// CleanStatements drops views then tables. Indexes and triggers go with their tables.
func (d Dialect) CleanStatements(ctx context.Context, q sqlx.QueryerContext, schema string, keep ...string) ([]string, error) {
	views, err := d.objects(ctx, q, schema, "view")
	if err != nil {
		return nil, err
	}

	tables, err := d.objects(ctx, q, schema, "table")
	if err != nil {
		return nil, err
	}

	statements := []string{"PRAGMA foreign_keys = OFF"}
	for _, v := range views {
		statements = append(statements, "DROP VIEW IF EXISTS "+d.Quote(schema, v))
	}

	for _, t := range driver.Without(tables, keep...) {
		statements = append(statements, "DROP TABLE IF EXISTS "+d.Quote(schema, t))
	}

	return append(statements, "PRAGMA foreign_keys = ON"), nil
}

func (Dialect) AuxiliaryTables(history driver.Table) []string {
	return []string{LockTableName(history)}
}

// LockTableName is the single-row table the lock lives in.
func LockTableName(table driver.Table) string {
	return table.Name + "_lock"
}

func (d Dialect) master(schema string) string {
	if schema == "" {
		schema = schemaName
	}

	return d.Quote(schema, "sqlite_master")
}

func (d Dialect) objects(ctx context.Context, q sqlx.QueryerContext, schema, kind string) ([]string, error) {
	var names []string
	query := fmt.Sprintf(
		"SELECT name FROM %s WHERE type = ? AND name NOT LIKE 'sqlite\\_%%' ESCAPE '\\' ORDER BY name",
		d.master(schema),
	)

	if err := sqlx.SelectContext(ctx, q, &names, query, kind); err != nil {
		return nil, fmt.Errorf("failed to list %ss of %s: %w", kind, schema, err)
	}

	return names, nil
}
