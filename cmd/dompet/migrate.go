package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/dompet/internal/cli"
	"github.com/Veraticus/dompet/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

This command ensures the ledger and transcript tables and their
indexes exist before the server or the chat uses them.`,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "Show current migration status without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	slog.Info("Starting database migration",
		"driver", cfg.Database.Driver,
		"status_only", status)

	store, err := openStore(ctx, cfg.Database, !status)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()
	if status {
		states, err := store.MigrationStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}

		fmt.Fprintln(out, cli.FormatTitle("Database Migration Status"))
		fmt.Fprintln(out, cli.TableHeaderStyle.Render(fmt.Sprintf("%-8s %-22s %s", "VERSION", "APPLIED", "DESCRIPTION")))
		pending := 0
		for _, s := range states {
			applied := cli.WarningStyle.Render("pending")
			if s.AppliedAt != nil {
				applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			} else {
				pending++
			}
			fmt.Fprintf(out, "%-8d %-22s %s\n", s.Version, applied, s.Description)
		}
		if pending > 0 {
			fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d migration(s) pending, run: dompet migrate", pending)))
		} else {
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Schema is at version %d", storage.ExpectedSchemaVersion)))
		}
		return nil
	}

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Database migrated to version %d", storage.ExpectedSchemaVersion)))
	return nil
}
