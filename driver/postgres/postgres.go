package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/cespare/xxhash/v2"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/root-talis/kiroku/driver"
	"github.com/root-talis/kiroku/sqlscript"
)

var nonTransactional = []*regexp.Regexp{ // nolint:gochecknoglobals
	regexp.MustCompile(`^CREATE (UNIQUE )?INDEX CONCURRENTLY\b`),
	regexp.MustCompile(`^(DROP|REINDEX) INDEX CONCURRENTLY\b`),
	regexp.MustCompile(`^REINDEX (TABLE|SCHEMA|DATABASE|SYSTEM)? ?CONCURRENTLY\b`),
	regexp.MustCompile(`^VACUUM\b`),
	regexp.MustCompile(`^(CREATE|DROP) (DATABASE|TABLESPACE)\b`),
	regexp.MustCompile(`^ALTER SYSTEM\b`),
	regexp.MustCompile(`^ALTER TYPE .* ADD VALUE\b`),
}

type Dialect struct{}

func init() { //nolint:gochecknoinits
	driver.Register(Dialect{})
}

func (Dialect) Name() string {
	return "postgres"
}

func (Dialect) Schemes() []string {
	return []string{"postgres", "postgresql"}
}

func (Dialect) DriverName() string {
	return "pgx"
}

// DSN hands the url to pgx unchanged; pgx parses postgres:// urls itself.
func (Dialect) DSN(url string) (string, error) {
	return url, nil
}

func (Dialect) ProductQuery() string {
	return "SELECT version()"
}

func (Dialect) MatchesProduct(product string) bool {
	return strings.HasPrefix(product, "PostgreSQL")
}

func (Dialect) Quote(identifiers ...string) string {
	return driver.QuoteIdentifiers(`"`, identifiers...)
}

func (Dialect) Placeholders() sq.PlaceholderFormat {
	return sq.Dollar
}

func (Dialect) NewParser() sqlscript.Parser {
	return sqlscript.New(sqlscript.Options{
		IdentifierQuotes: `"`,
		DollarQuotes:     true,
		NonTransactional: nonTransactional,
	})
}

func (Dialect) SupportsDDLTransactions() bool {
	return true
}

func (Dialect) CurrentSchema(ctx context.Context, q sqlx.QueryerContext) (string, error) {
	var schema string
	err := sqlx.GetContext(ctx, q, &schema, "SELECT current_schema()")

	return schema, err
}

func (Dialect) CurrentUser(ctx context.Context, q sqlx.QueryerContext) (string, error) {
	var user string
	err := sqlx.GetContext(ctx, q, &user, "SELECT current_user")

	return user, err
}

func (Dialect) TableExists(ctx context.Context, q sqlx.QueryerContext, table driver.Table) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists,
		"SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_tables WHERE schemaname = $1 AND tablename = $2)",
		table.Schema, table.Name)

	return exists, err
}

func (d Dialect) HasUserObjects(ctx context.Context, q sqlx.QueryerContext, schema string, except ...string) (bool, error) {
	tables, err := d.list(ctx, q, "tables", "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = $1 ORDER BY tablename", schema)
	if err != nil {
		return false, err
	}

	return len(driver.Without(tables, except...)) > 0, nil
}

func (d Dialect) CreateHistoryTable(table driver.Table) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    "installed_rank" INT NOT NULL,
    "version" VARCHAR(50),
    "description" VARCHAR(200) NOT NULL,
    "type" VARCHAR(20) NOT NULL,
    "script" VARCHAR(1000) NOT NULL,
    "checksum" INTEGER,
    "installed_by" VARCHAR(100) NOT NULL,
    "installed_on" TIMESTAMPTZ NOT NULL DEFAULT now(),
    "execution_time" INTEGER NOT NULL,
    "success" BOOLEAN NOT NULL,
    CONSTRAINT %s PRIMARY KEY ("installed_rank")
)`, d.Quote(table.Schema, table.Name), d.Quote(table.Name+"_pk")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s ("success")`,
			d.Quote(table.Name+"_s_idx"), d.Quote(table.Schema, table.Name)),
	}
}

func (Dialect) NewLocker(db *sqlx.DB, table driver.Table) driver.Locker {
	return driver.NewSessionLocker(db, "SELECT pg_try_advisory_lock($1)", "SELECT pg_advisory_unlock($1)", LockKey(table))
}

// CleanStatements drops views, tables, sequences, functions and types of
// the schema. Tables are dropped with CASCADE so their order does not matter.
func (d Dialect) CleanStatements(ctx context.Context, q sqlx.QueryerContext, schema string, keep ...string) ([]string, error) {
	var statements []string

	materialized, err := d.list(ctx, q, "materialized views",
		"SELECT matviewname FROM pg_catalog.pg_matviews WHERE schemaname = $1 ORDER BY matviewname", schema)
	if err != nil {
		return nil, err
	}

	for _, v := range materialized {
		statements = append(statements, "DROP MATERIALIZED VIEW IF EXISTS "+d.Quote(schema, v)+" CASCADE")
	}

	views, err := d.list(ctx, q, "views",
		"SELECT viewname FROM pg_catalog.pg_views WHERE schemaname = $1 ORDER BY viewname", schema)
	if err != nil {
		return nil, err
	}

	for _, v := range views {
		statements = append(statements, "DROP VIEW IF EXISTS "+d.Quote(schema, v)+" CASCADE")
	}

	tables, err := d.list(ctx, q, "tables",
		"SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = $1 ORDER BY tablename", schema)
	if err != nil {
		return nil, err
	}

	for _, t := range driver.Without(tables, keep...) {
		statements = append(statements, "DROP TABLE IF EXISTS "+d.Quote(schema, t)+" CASCADE")
	}

	sequences, err := d.list(ctx, q, "sequences",
		"SELECT sequence_name FROM information_schema.sequences WHERE sequence_schema = $1 ORDER BY sequence_name", schema)
	if err != nil {
		return nil, err
	}

	for _, s := range sequences {
		statements = append(statements, "DROP SEQUENCE IF EXISTS "+d.Quote(schema, s)+" CASCADE")
	}

	// regprocedure renders the full signature, qualified unless the schema is on the search path
	functions, err := d.list(ctx, q, "functions",
		`SELECT p.oid::regprocedure::text FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
LEFT JOIN pg_catalog.pg_depend dep ON dep.objid = p.oid AND dep.deptype = 'e'
WHERE n.nspname = $1 AND dep.objid IS NULL ORDER BY 1`, schema)
	if err != nil {
		return nil, err
	}

	for _, f := range functions {
		statements = append(statements, "DROP ROUTINE IF EXISTS "+f+" CASCADE")
	}

	types, err := d.list(ctx, q, "types",
		`SELECT t.typname FROM pg_catalog.pg_type t
JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
WHERE n.nspname = $1 AND t.typtype IN ('e', 'd', 'c')
AND (t.typrelid = 0 OR (SELECT c.relkind = 'c' FROM pg_catalog.pg_class c WHERE c.oid = t.typrelid))
ORDER BY 1`, schema)
	if err != nil {
		return nil, err
	}

	for _, t := range types {
		statements = append(statements, "DROP TYPE IF EXISTS "+d.Quote(schema, t)+" CASCADE")
	}

	return statements, nil
}

// LockKey is the advisory lock key guarding table.
func LockKey(table driver.Table) int64 {
	return int64(xxhash.Sum64String("kiroku:" + table.String())) //nolint:gosec
}

// ---

func (Dialect) list(ctx context.Context, q sqlx.QueryerContext, what, query string, args ...any) ([]string, error) {
	var names []string
	if err := sqlx.SelectContext(ctx, q, &names, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", what, err)
	}

	return names, nil
}
