package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/root-talis/kiroku"
)

func printInfo(out io.Writer, result *kiroku.InfoResult, now time.Time) error {
	fmt.Fprintf(out, "Schema history: %s\nSchema version: %s\n\n", result.Table, display(result.SchemaVersion))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Category\tVersion\tDescription\tType\tInstalled On\tState\tTook")

	for _, row := range result.Migrations {
		installedOn, took := "", ""
		if !row.InstalledOn.IsZero() {
			installedOn = humanize.RelTime(row.InstalledOn, now, "ago", "from now")
			took = row.ExecutionTime.String()
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.Category, row.Version, row.Description, row.Type, installedOn, row.State, took)
	}

	return w.Flush()
}

func printMigrate(out io.Writer, result *kiroku.MigrateResult) {
	printWarnings(out, result.Warnings)

	for _, m := range result.Migrations {
		fmt.Fprintf(out, "Applied %s (%s) in %s\n", name(m), m.Script, m.ExecutionTime)
	}

	switch {
	case !result.Success:
		fmt.Fprintf(out, "Migration stopped after %s applied\n", plural(result.MigrationsExecuted))
	case result.MigrationsExecuted == 0:
		fmt.Fprintf(out, "Schema is up to date at version %s\n", display(result.TargetSchemaVersion))
	default:
		fmt.Fprintf(out, "Applied %s, schema is now at version %s (took %s)\n",
			plural(result.MigrationsExecuted), display(result.TargetSchemaVersion), result.TotalTime)
	}
}

func printValidate(out io.Writer, result *kiroku.ValidateResult) {
	printWarnings(out, result.Warnings)

	for _, e := range result.Errors {
		fmt.Fprintf(out, "%s: %s\n", e.Code, e.Message)
	}

	if result.Valid {
		fmt.Fprintf(out, "Validated %s\n", plural(result.ValidationCount))
	}
}

func printBaseline(out io.Writer, result *kiroku.BaselineResult) {
	printWarnings(out, result.Warnings)

	if result.Created {
		fmt.Fprintf(out, "Baselined schema at version %s (%s)\n", result.Version, result.Description)
	}
}

func printRepair(out io.Writer, result *kiroku.RepairResult) {
	printWarnings(out, result.Warnings)

	for _, m := range result.Removed {
		fmt.Fprintf(out, "Removed failed %s\n", name(m))
	}

	for _, m := range result.Aligned {
		fmt.Fprintf(out, "Realigned %s\n", name(m))
	}

	if len(result.Removed) == 0 && len(result.Aligned) == 0 {
		fmt.Fprintln(out, "Schema history needs no repair")
	}
}

func printClean(out io.Writer, result *kiroku.CleanResult) {
	printWarnings(out, result.Warnings)
	fmt.Fprintf(out, "Cleaned schema %s: dropped %s\n", result.Schema, humanize.Comma(int64(result.Dropped))+" objects")
}

func printWarnings(out io.Writer, warnings []string) {
	for _, w := range warnings {
		fmt.Fprintln(out, "WARNING:", w)
	}
}

func name(m kiroku.MigrationOutput) string {
	if m.Version == "" {
		return fmt.Sprintf("repeatable migration %q", m.Description)
	}

	return fmt.Sprintf("migration %s %q", m.Version, m.Description)
}

func display(version string) string {
	if version == "" {
		return "<< Empty Schema >>"
	}

	return version
}

func plural(n int) string {
	if n == 1 {
		return "1 migration"
	}

	return humanize.Comma(int64(n)) + " migrations"
}
