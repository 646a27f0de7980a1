package driver

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/root-talis/kiroku/migration"
)

var historyColumns = []string{ // nolint:gochecknoglobals
	"installed_rank",
	"version",
	"description",
	"type",
	"script",
	"checksum",
	"installed_by",
	"installed_on",
	"execution_time",
	"success",
}

// History reads and writes the schema history table.
type History struct {
	db      *sqlx.DB
	dialect Dialect
	table   Table
	builder sq.StatementBuilderType
	logger  *zap.Logger
}

func NewHistory(db *sqlx.DB, dialect Dialect, table Table, logger *zap.Logger) *History {
	return &History{
		db:      db,
		dialect: dialect,
		table:   table,
		builder: sq.StatementBuilder.PlaceholderFormat(dialect.Placeholders()),
		logger:  logger,
	}
}

func (h *History) Table() Table {
	return h.table
}

func (h *History) Exists(ctx context.Context) (bool, error) {
	exists, err := h.dialect.TableExists(ctx, h.db, h.table)
	if err != nil {
		return false, fmt.Errorf("failed to check whether %s exists: %w", h.table, err)
	}

	return exists, nil
}

// Create makes the table unless it is already there.
func (h *History) Create(ctx context.Context) error {
	exists, err := h.Exists(ctx)
	if err != nil || exists {
		return err
	}

	h.logger.Info("Creating schema history table", zap.Stringer("table", h.table))

	for _, stmt := range h.dialect.CreateHistoryTable(h.table) {
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema history table %s: %w", h.table, err)
		}
	}

	return nil
}

// All returns every row ordered by installed rank. A missing table reads as empty.
func (h *History) All(ctx context.Context) ([]*migration.Applied, error) {
	exists, err := h.Exists(ctx)
	if err != nil {
		return nil, err
	}

	if !exists {
		return []*migration.Applied{}, nil
	}

	return h.query(ctx, h.db, h.selectRows().OrderBy("installed_rank"))
}

// Add appends a row inside q, which is the migration's transaction when it has one.
// The rank is the current maximum plus one and is written back into row.
func (h *History) Add(ctx context.Context, q sqlx.ExtContext, row *migration.Applied) error {
	query, args, err := h.builder.
		Select("COALESCE(MAX(installed_rank), 0) + 1").
		From(h.quotedTable()).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build rank query: %w", err)
	}

	var rank int
	if err := sqlx.GetContext(ctx, q, &rank, query, args...); err != nil {
		return fmt.Errorf("failed to allocate installed rank: %w", err)
	}

	query, args, err = h.builder.
		Insert(h.quotedTable()).
		Columns(historyColumns...).
		Values(
			rank,
			nullableVersion(row.Version),
			row.Description,
			string(row.Type),
			row.Script,
			nullableChecksum(row.Checksum),
			row.InstalledBy,
			row.InstalledOn.UTC(),
			row.ExecutionTime,
			row.Success,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record migration %q in %s: %w", row.Description, h.table, err)
	}

	row.InstalledRank = rank

	return nil
}

// Update rewrites description, type and checksum of the row with the given rank.
func (h *History) Update(ctx context.Context, row *migration.Applied) error {
	query, args, err := h.builder.
		Update(h.quotedTable()).
		Set("description", row.Description).
		Set("type", string(row.Type)).
		Set("checksum", nullableChecksum(row.Checksum)).
		Where(sq.Eq{"installed_rank": row.InstalledRank}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	if _, err := h.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update rank %d in %s: %w", row.InstalledRank, h.table, err)
	}

	return nil
}

// RemoveFailed deletes every unsuccessful row and returns what was deleted.
func (h *History) RemoveFailed(ctx context.Context) ([]*migration.Applied, error) {
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	failed, err := h.query(ctx, tx, h.selectRows().Where(sq.Eq{"success": false}).OrderBy("installed_rank"))
	if err != nil {
		return nil, err
	}

	if len(failed) == 0 {
		return failed, nil
	}

	query, args, err := h.builder.Delete(h.quotedTable()).Where(sq.Eq{"success": false}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build delete: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to remove failed migrations from %s: %w", h.table, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit removal of failed migrations: %w", err)
	}

	return failed, nil
}

// ---

func (h *History) quotedTable() string {
	return h.dialect.Quote(h.table.Schema, h.table.Name)
}

func (h *History) selectRows() sq.SelectBuilder {
	return h.builder.Select(historyColumns...).From(h.quotedTable())
}

type historyRow struct {
	InstalledRank int            `db:"installed_rank"`
	Version       sql.NullString `db:"version"`
	Description   string         `db:"description"`
	Type          string         `db:"type"`
	Script        string         `db:"script"`
	Checksum      sql.NullInt32  `db:"checksum"`
	InstalledBy   string         `db:"installed_by"`
	InstalledOn   timestamp      `db:"installed_on"`
	ExecutionTime int            `db:"execution_time"`
	Success       bool           `db:"success"`
}

func (h *History) query(ctx context.Context, q sqlx.QueryerContext, b sq.SelectBuilder) ([]*migration.Applied, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build history query: %w", err)
	}

	var rows []historyRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w %s: %s", ErrInvalidHistoryTable, h.table, err.Error())
	}

	result := make([]*migration.Applied, 0, len(rows))
	for _, r := range rows {
		applied, err := r.toApplied()
		if err != nil {
			return nil, fmt.Errorf("%w %s: rank %d: %s", ErrInvalidHistoryTable, h.table, r.InstalledRank, err.Error())
		}

		result = append(result, applied)
	}

	return result, nil
}

func (r historyRow) toApplied() (*migration.Applied, error) {
	applied := &migration.Applied{
		InstalledRank: r.InstalledRank,
		Description:   r.Description,
		Script:        r.Script,
		InstalledBy:   r.InstalledBy,
		InstalledOn:   time.Time(r.InstalledOn),
		ExecutionTime: r.ExecutionTime,
		Success:       r.Success,
	}

	var err error
	if applied.Type, err = migration.ParseType(r.Type); err != nil {
		return nil, err
	}

	if r.Version.Valid && r.Version.String != "" {
		if applied.Version, err = migration.ParseVersion(r.Version.String); err != nil {
			return nil, err
		}
	}

	if r.Checksum.Valid {
		applied.Checksum = migration.Checksum(r.Checksum.Int32)
	}

	return applied, nil
}

func nullableVersion(v migration.Version) sql.NullString {
	if v.IsZero() {
		return sql.NullString{}
	}

	return sql.NullString{String: v.String(), Valid: true}
}

func nullableChecksum(c *int32) sql.NullInt32 {
	if c == nil {
		return sql.NullInt32{}
	}

	return sql.NullInt32{Int32: *c, Valid: true}
}
