package code

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/root-talis/kiroku/migration"
	"github.com/root-talis/kiroku/source"
)

// Migration is a migration written in Go.
type Migration struct {
	// Version is empty for repeatable migrations.
	Version     string
	Description string
	// Name is recorded as the script; defaults to the description.
	Name string
	// Checksum lets a repeatable migration be re-applied when it changes.
	Checksum *int32
	// NoTransaction runs the migration outside of a transaction.
	NoTransaction bool
	Up            func(ctx context.Context, conn migration.Conn) error
}

type Source struct {
	migrations []Migration
}

func New(migrations ...Migration) *Source {
	return &Source{migrations: migrations}
}

// Add registers more migrations. It is not safe to call while resolving.
func (s *Source) Add(migrations ...Migration) *Source {
	s.migrations = append(s.migrations, migrations...)
	return s
}

func (s *Source) Resolve(context.Context) ([]*migration.Resolved, error) {
	result := make([]*migration.Resolved, 0, len(s.migrations))

	var errs error
	for i, m := range s.migrations {
		resolved, err := m.resolve()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("code migration #%d: %w", i+1, err))
			continue
		}

		result = append(result, resolved)
	}

	if errs != nil {
		return nil, errs
	}

	if err := source.CheckDuplicates(result); err != nil {
		return nil, err
	}

	source.Sort(result)

	return result, nil
}

func (m Migration) resolve() (*migration.Resolved, error) {
	if m.Up == nil {
		return nil, fmt.Errorf("migration %q has no Up function", m.Description)
	}

	if m.Description == "" {
		return nil, fmt.Errorf("migration %q has no description", m.Version)
	}

	var version migration.Version
	if m.Version != "" {
		var err error
		if version, err = migration.ParseVersion(m.Version); err != nil {
			return nil, err
		}
	}

	name := m.Name
	if name == "" {
		name = m.Description
	}

	return &migration.Resolved{
		Version:          version,
		Description:      m.Description,
		Script:           name,
		Type:             migration.TypeCustom,
		Checksum:         m.Checksum,
		PhysicalLocation: "code:" + name,
		Executor:         executor{up: m.Up, transactional: !m.NoTransaction},
	}, nil
}

type executor struct {
	up            func(ctx context.Context, conn migration.Conn) error
	transactional bool
}

func (e executor) Execute(ctx context.Context, conn migration.Conn) error {
	return e.up(ctx, conn)
}

func (e executor) CanExecuteInTransaction() bool {
	return e.transactional
}
