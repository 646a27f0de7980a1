package kiroku

import (
	"time"

	"github.com/root-talis/kiroku/info"
	"github.com/root-talis/kiroku/migration"
	"github.com/root-talis/kiroku/validation"
)

const (
	CategoryVersioned  = "Versioned"
	CategoryRepeatable = "Repeatable"
)

// InfoRow describes one migration as seen by info.
type InfoRow struct {
	Category      string
	Version       string
	Description   string
	Type          migration.Type
	Script        string
	Checksum      *int32
	State         migration.State
	InstalledRank int
	InstalledOn   time.Time
	InstalledBy   string
	ExecutionTime time.Duration
}

type InfoResult struct {
	SchemaVersion string
	Table         string
	Migrations    []InfoRow
}

type ValidateResult struct {
	Valid           bool
	ValidationCount int
	Errors          []*validation.Error
	Warnings        []string
}

// MigrationOutput describes one executed or modified migration.
type MigrationOutput struct {
	Category      string
	Version       string
	Description   string
	Type          migration.Type
	Script        string
	ExecutionTime time.Duration
}

type MigrateResult struct {
	InitialSchemaVersion string
	TargetSchemaVersion  string
	MigrationsExecuted   int
	Migrations           []MigrationOutput
	Warnings             []string
	TotalTime            time.Duration
	Success              bool
}

type BaselineResult struct {
	Version     string
	Description string
	Created     bool
	Warnings    []string
}

type RepairResult struct {
	Removed  []MigrationOutput
	Aligned  []MigrationOutput
	Warnings []string
}

type CleanResult struct {
	Schema   string
	Dropped  int
	Warnings []string
}

// ---

func category(i *info.Info) string {
	switch {
	case i.Type().IsSynthetic():
		return ""
	case i.IsRepeatable():
		return CategoryRepeatable
	}

	return CategoryVersioned
}

func newInfoRow(i *info.Info) InfoRow {
	return InfoRow{
		Category:      category(i),
		Version:       i.Version().String(),
		Description:   i.Description(),
		Type:          i.Type(),
		Script:        i.Script(),
		Checksum:      i.Checksum(),
		State:         i.State(),
		InstalledRank: i.InstalledRank(),
		InstalledOn:   i.InstalledOn(),
		InstalledBy:   i.InstalledBy(),
		ExecutionTime: time.Duration(i.ExecutionTime()) * time.Millisecond,
	}
}

func newOutput(i *info.Info, took time.Duration) MigrationOutput {
	return MigrationOutput{
		Category:      category(i),
		Version:       i.Version().String(),
		Description:   i.Description(),
		Type:          i.Type(),
		Script:        i.Script(),
		ExecutionTime: took,
	}
}

func outputOf(row *migration.Applied) MigrationOutput {
	c := CategoryVersioned
	switch {
	case row.Type.IsSynthetic():
		c = ""
	case row.IsRepeatable():
		c = CategoryRepeatable
	}

	return MigrationOutput{
		Category:      c,
		Version:       row.Version.String(),
		Description:   row.Description,
		Type:          row.Type,
		Script:        row.Script,
		ExecutionTime: time.Duration(row.ExecutionTime) * time.Millisecond,
	}
}
