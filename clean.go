package kiroku

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/root-talis/kiroku/driver"
)

// Clean drops every object in the configured schema, the schema history
// table included. It refuses to run unless clean is enabled.
func (k *kirokuImpl) Clean(ctx context.Context) (*CleanResult, error) {
	if k.config.CleanDisabled {
		return nil, ErrCleanDisabled
	}

	ctx, release, err := k.driver.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	table := k.driver.History().Table()

	// statements such as PRAGMA apply per connection
	conn, err := k.driver.DB().Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get a connection: %w", err)
	}
	defer conn.Close()

	keep := driver.Auxiliary(k.driver.Dialect(), table)

	statements, err := k.driver.Dialect().CleanStatements(ctx, conn, table.Schema, keep...)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects of schema %s: %w", table.Schema, err)
	}

	result := &CleanResult{Schema: table.Schema}

	for _, stmt := range statements {
		k.logger.Debug("Executing", zap.String("statement", stmt))

		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return result, fmt.Errorf("failed to clean schema %s: %q: %w", table.Schema, stmt, err)
		}

		if isDrop(stmt) {
			result.Dropped++
		}
	}

	k.logger.Info("Successfully cleaned schema",
		zap.String("schema", table.Schema),
		zap.Int("dropped", result.Dropped),
	)

	return result, nil
}

func isDrop(stmt string) bool {
	return strings.HasPrefix(strings.ToUpper(stmt), "DROP ")
}
