package kiroku

import (
	"context"
)

// Info reports every known migration and its state. It neither takes the
// lock nor creates the history table.
func (k *kirokuImpl) Info(ctx context.Context) (*InfoResult, error) {
	set, err := k.load(ctx)
	if err != nil {
		return nil, err
	}

	all := set.All()
	result := &InfoResult{
		SchemaVersion: schemaVersion(set),
		Table:         k.driver.History().Table().String(),
		Migrations:    make([]InfoRow, 0, len(all)),
	}

	for _, i := range all {
		result.Migrations = append(result.Migrations, newInfoRow(i))
	}

	return result, nil
}
