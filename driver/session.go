package driver

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SessionLocker drives a lock that belongs to a database session, such as
// PostgreSQL advisory locks or MySQL named locks. It keeps the connection
// that took the lock until Unlock.
type SessionLocker struct {
	db          *sqlx.DB
	lockQuery   string
	unlockQuery string
	args        []any

	conn *sql.Conn
}

// NewSessionLocker expects lockQuery to return a single boolean-like column
// that is true when the lock was granted.
func NewSessionLocker(db *sqlx.DB, lockQuery, unlockQuery string, args ...any) *SessionLocker {
	return &SessionLocker{
		db:          db,
		lockQuery:   lockQuery,
		unlockQuery: unlockQuery,
		args:        args,
	}
}

func (l *SessionLocker) TryLock(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get a dedicated connection: %w", err)
	}

	var granted sql.NullBool
	if err := conn.QueryRowContext(ctx, l.lockQuery, l.args...).Scan(&granted); err != nil {
		_ = conn.Close()
		return false, err
	}

	if !granted.Valid || !granted.Bool {
		_ = conn.Close()
		return false, nil
	}

	l.conn = conn

	return true, nil
}

func (l *SessionLocker) Unlock(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}

	conn := l.conn
	l.conn = nil

	_, err := conn.ExecContext(ctx, l.unlockQuery, l.args...)
	if closeErr := conn.Close(); err == nil {
		err = closeErr
	}

	return err
}
