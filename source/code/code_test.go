package code_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root-talis/kiroku/migration"
	"github.com/root-talis/kiroku/source"
	"github.com/root-talis/kiroku/source/code"
)

func noop(context.Context, migration.Conn) error {
	return nil
}

var resolveTests = []struct { // nolint:gochecknoglobals
	name          string
	migrations    []code.Migration
	expectError   error
	expectedOrder []string
}{
	/* s0 */ {
		name: "test s0: should sort versioned before repeatable",
		migrations: []code.Migration{
			{Description: "refresh views", Up: noop},
			{Version: "2", Description: "seed", Up: noop},
			{Version: "1.5", Description: "users", Up: noop},
		},
		expectedOrder: []string{"users", "seed", "refresh views"},
	},
	/* s1 */ {
		name:          "test s1: should accept no migrations",
		expectedOrder: []string{},
	},

	/* e0 */ {
		name: "test e0: should reject an invalid version",
		migrations: []code.Migration{
			{Version: "one", Description: "users", Up: noop},
		},
		expectError: migration.ErrInvalidVersion,
	},
	/* e1 */ {
		name: "test e1: should reject duplicate versions",
		migrations: []code.Migration{
			{Version: "1", Description: "users", Up: noop},
			{Version: "1.0.0", Description: "roles", Up: noop},
		},
		expectError: source.ErrMigrationDuplicated,
	},
}

func TestResolve(t *testing.T) {
	t.Parallel()

	for _, test := range resolveTests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			resolved, err := code.New(test.migrations...).Resolve(context.Background())

			if test.expectError != nil {
				assert.ErrorIs(t, err, test.expectError)
				return
			}

			require.NoError(t, err)

			order := make([]string, 0, len(resolved))
			for _, r := range resolved {
				order = append(order, r.Description)
				assert.Equal(t, migration.TypeCustom, r.Type)
			}

			assert.Equal(t, test.expectedOrder, order)
		})
	}
}

func TestMissingUpIsReported(t *testing.T) {
	t.Parallel()

	_, err := code.New(
		code.Migration{Version: "1", Description: "users"},
		code.Migration{Version: "2"},
	).Resolve(context.Background())

	assert.ErrorContains(t, err, "#1")
	assert.ErrorContains(t, err, "#2")
}

func TestExecutor(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	src := code.New().Add(code.Migration{
		Version:       "1",
		Description:   "backfill",
		Name:          "Backfill",
		NoTransaction: true,
		Up: func(context.Context, migration.Conn) error {
			return boom
		},
	})

	resolved, err := src.Resolve(context.Background())
	require.NoError(t, err)
	require.Len(t, resolved, 1)

	assert.Equal(t, "Backfill", resolved[0].Script)
	assert.False(t, resolved[0].CanExecuteInTransaction())
	assert.ErrorIs(t, resolved[0].Executor.Execute(context.Background(), nil), boom)
}
