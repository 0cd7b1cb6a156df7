package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Veraticus/dompet/internal/cli"
	"github.com/Veraticus/dompet/internal/model"
	"github.com/Veraticus/dompet/internal/storage"
)

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a month of sample transactions for a tenant",
		Long: `Insert demo income and expense rows (salary, rent, groceries, ...)
dated within one calendar month, so the balance, summary and chat have
something to work with.`,
		RunE: runSeed,
	}

	addTenantFlag(cmd)
	cmd.Flags().String("month", "", "any date within the month to fill (YYYY-MM-DD, default: this month)")
	cmd.Flags().Int64("scale", 1000, "multiplier applied to the sample amounts")

	return cmd
}

func runSeed(cmd *cobra.Command, _ []string) error {
	scope, err := tenantFlag(cmd)
	if err != nil {
		return err
	}
	scale, _ := cmd.Flags().GetInt64("scale")
	monthFlag, _ := cmd.Flags().GetString("month")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	month := model.Today(cfg.Agent.UTCOffsetHours)
	if monthFlag != "" {
		if month, err = model.ParseDate(monthFlag); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg.Database, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rows := storage.SampleTransactions(month, scale)
	bar := cli.NewProgressBar(cmd.ErrOrStderr(), len(rows), "Seeding transactions...")
	for _, row := range rows {
		if _, err := store.CreateTransaction(ctx, scope, row); err != nil {
			return fmt.Errorf("failed to seed %q: %w", row.Description, err)
		}
		_ = bar.Add(1)
	}

	balance, err := store.Balance(ctx, scope)
	if err != nil {
		return err
	}

	slog.Info("Seeded sample transactions", "tenant_id", scope.TenantID, "count", len(rows))
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Inserted %d transactions for tenant %d, balance %s",
		len(rows), scope.TenantID, cli.FormatAmount(balance.Balance, cfg.Agent.Currency))))
	return nil
}
