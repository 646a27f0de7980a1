package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/root-talis/kiroku/sqlscript"
)

var (
	ErrInvalidHistoryTable = errors.New("an error has occurred when reading schema history table")
	ErrUnknownDialect      = errors.New("no dialect registered for this database")
)

// Table names a table, optionally qualified by a schema (a database, in MySQL terms).
type Table struct {
	Schema string
	Name   string
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}

	return t.Schema + "." + t.Name
}

// Dialect captures what differs between database engines.
type Dialect interface {
	Name() string
	// Schemes are the URL schemes this dialect answers to, such as "postgres".
	Schemes() []string
	// DriverName is the database/sql driver to open connections with.
	DriverName() string
	// DSN converts a URL accepted by Schemes into a DSN for DriverName.
	DSN(url string) (string, error)
	// ProductQuery returns a one-row, one-column query naming the server product.
	ProductQuery() string
	MatchesProduct(product string) bool

	Quote(identifiers ...string) string
	Placeholders() sq.PlaceholderFormat
	NewParser() sqlscript.Parser
	SupportsDDLTransactions() bool

	CurrentSchema(ctx context.Context, q sqlx.QueryerContext) (string, error)
	CurrentUser(ctx context.Context, q sqlx.QueryerContext) (string, error)
	TableExists(ctx context.Context, q sqlx.QueryerContext, table Table) (bool, error)
	// HasUserObjects reports tables in the schema other than the listed ones.
	HasUserObjects(ctx context.Context, q sqlx.QueryerContext, schema string, except ...string) (bool, error)
	CreateHistoryTable(table Table) []string

	NewLocker(db *sqlx.DB, table Table) Locker
	// CleanStatements drops every object of the schema except the listed tables.
	CleanStatements(ctx context.Context, q sqlx.QueryerContext, schema string, keep ...string) ([]string, error)
}

// AuxiliaryTables is implemented by dialects that keep bookkeeping tables
// next to the history table, such as a lock table.
type AuxiliaryTables interface {
	AuxiliaryTables(history Table) []string
}

// Auxiliary lists the bookkeeping tables d keeps for history.
func Auxiliary(d Dialect, history Table) []string {
	if a, ok := d.(AuxiliaryTables); ok {
		return a.AuxiliaryTables(history)
	}

	return nil
}

// ---

var ( // nolint:gochecknoglobals
	registryMu sync.RWMutex
	registry   = make(map[string]Dialect)
)

// Register makes a dialect available by name, URL scheme and product sniffing.
// Dialect packages call it from init.
func Register(d Dialect) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[d.Name()]; dup {
		panic("driver: Register called twice for dialect " + d.Name())
	}

	registry[d.Name()] = d
}

func Lookup(name string) (Dialect, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownDialect, name, strings.Join(names(), ", "))
	}

	return d, nil
}

// ForURL picks the dialect by the URL scheme, for example postgres://... or sqlite:file.db.
func ForURL(url string) (Dialect, error) {
	scheme, _, ok := strings.Cut(url, ":")
	if !ok {
		return nil, fmt.Errorf("%w: %q has no scheme", ErrUnknownDialect, url)
	}

	scheme = strings.ToLower(scheme)

	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, d := range sorted() {
		for _, s := range d.Schemes() {
			if s == scheme {
				return d, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: unknown scheme %q", ErrUnknownDialect, scheme)
}

// Detect asks an open connection what it is.
func Detect(ctx context.Context, db *sql.DB) (Dialect, error) {
	registryMu.RLock()
	candidates := sorted()
	registryMu.RUnlock()

	for _, d := range candidates {
		var product string
		if err := db.QueryRowContext(ctx, d.ProductQuery()).Scan(&product); err != nil {
			continue
		}

		if d.MatchesProduct(product) {
			return d, nil
		}
	}

	return nil, fmt.Errorf("%w: product could not be detected", ErrUnknownDialect)
}

// Dialects lists registered dialect names.
func Dialects() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	return names()
}

func names() []string {
	result := make([]string, 0, len(registry))
	for name := range registry {
		result = append(result, name)
	}

	sort.Strings(result)

	return result
}

func sorted() []Dialect {
	result := make([]Dialect, 0, len(registry))
	for _, name := range names() {
		result = append(result, registry[name])
	}

	return result
}

// QuoteIdentifiers quotes each non-empty identifier with quote, doubling any
// embedded quote characters, and joins them with dots.
func QuoteIdentifiers(quote string, identifiers ...string) string {
	parts := make([]string, 0, len(identifiers))

	for _, id := range identifiers {
		if id == "" {
			continue
		}

		parts = append(parts, quote+strings.ReplaceAll(id, quote, quote+quote)+quote)
	}

	return strings.Join(parts, ".")
}

// Without returns names minus the excluded ones.
func Without(names []string, excluded ...string) []string {
	skip := make(map[string]bool, len(excluded))
	for _, e := range excluded {
		skip[e] = true
	}

	result := make([]string, 0, len(names))
	for _, n := range names {
		if !skip[n] {
			result = append(result, n)
		}
	}

	return result
}
