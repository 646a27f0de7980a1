package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// rowLocker holds the lock as the single row of a lock table. A process
// that dies while holding it leaves the row behind; delete it by hand.
type rowLocker struct {
	db    *sqlx.DB
	table string
	owner string
}

func newRowLocker(db *sqlx.DB, table string) *rowLocker {
	return &rowLocker{
		db:    db,
		table: table,
		owner: uuid.NewString(),
	}
}

func (l *rowLocker) TryLock(ctx context.Context) (bool, error) {
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    "id" INTEGER NOT NULL PRIMARY KEY CHECK ("id" = 1),
    "owner" VARCHAR(36) NOT NULL,
    "acquired_on" TIMESTAMP NOT NULL
)`, l.table)

	if _, err := l.db.ExecContext(ctx, create); err != nil {
		if isBusy(err) {
			return false, nil
		}

		return false, fmt.Errorf("failed to create lock table %s: %w", l.table, err)
	}

	result, err := l.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s ("id", "owner", "acquired_on") VALUES (1, ?, ?)`, l.table),
		l.owner, time.Now().UTC(),
	)
	if err != nil {
		if isBusy(err) {
			return false, nil
		}

		return false, err
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return inserted == 1, nil
}

func (l *rowLocker) Unlock(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "id" = 1 AND "owner" = ?`, l.table), l.owner)

	return err
}

func isBusy(err error) bool {
	msg := err.Error()

	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
