package gormsource

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/root-talis/kiroku/migration"
	"github.com/root-talis/kiroku/source/code"
)

// Migration is a migration written against gorm. The *gorm.DB it receives
// is bound to the connection, or transaction, the engine runs it in.
type Migration struct {
	Version       string
	Description   string
	Name          string
	Checksum      *int32
	NoTransaction bool
	Migrate       func(db *gorm.DB) error
}

// New resolves gorm migrations for PostgreSQL as CUSTOM migrations.
func New(migrations ...Migration) *code.Source {
	src := code.New()

	for _, m := range migrations {
		m := m
		src.Add(code.Migration{
			Version:       m.Version,
			Description:   m.Description,
			Name:          m.Name,
			Checksum:      m.Checksum,
			NoTransaction: m.NoTransaction,
			Up:            m.up,
		})
	}

	return src
}

func (m Migration) up(ctx context.Context, conn migration.Conn) error {
	if m.Migrate == nil {
		return fmt.Errorf("gorm migration %q has no Migrate function", m.Description)
	}

	db, err := Open(conn)
	if err != nil {
		return err
	}

	return m.Migrate(db.WithContext(ctx))
}

// Open wraps conn in a gorm session that neither opens its own transactions
// nor logs.
func Open(conn migration.Conn) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm session: %w", err)
	}

	return db, nil
}
