package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/dompet/internal/cli"
	"github.com/Veraticus/dompet/internal/ofx"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import an OFX/QFX bank statement",
		Long: `Import the lines of an OFX or QFX statement into a tenant's ledger.
Debits become expenses and credits become income.

Amounts are stored as integers: --minor-units sets how many decimal
places are kept (0 for rupiah, 2 to store dollars as cents).`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	addTenantFlag(cmd)
	cmd.Flags().Int("minor-units", 0, "decimal places kept when converting amounts")
	cmd.Flags().Int("batch-size", ofx.DefaultBatchSize, "rows written per database transaction")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	scope, err := tenantFlag(cmd)
	if err != nil {
		return err
	}
	minorUnits, _ := cmd.Flags().GetInt("minor-units")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	parser, err := ofx.NewParser(minorUnits, nil)
	if err != nil {
		return err
	}

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open statement: %w", err)
	}
	defer func() { _ = file.Close() }()

	ctx, cancel := cli.NewInterruptHandler(cmd.ErrOrStderr()).HandleInterrupts(cmd.Context(), "")
	defer cancel()

	store, err := openStore(ctx, cfg.Database, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	importer := ofx.NewImporter(store, parser, nil)
	importer.BatchSize = batchSize
	var bar *progressbar.ProgressBar
	importer.Progress = func(done, total int) {
		if bar == nil {
			bar = cli.NewProgressBar(cmd.ErrOrStderr(), total, "Importing statement...")
		}
		_ = bar.Set(done)
	}

	summary, err := importer.Import(ctx, scope, file)
	if err != nil {
		if summary.Imported > 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning(fmt.Sprintf("%d lines were stored before the failure", summary.Imported)))
		}
		return err
	}

	out := cmd.OutOrStdout()
	if summary.Imported == 0 {
		fmt.Fprintln(out, cli.FormatInfo("The statement has no transactions"))
		return nil
	}
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d transactions from %d account(s) for tenant %d",
		summary.Imported, len(summary.Accounts), scope.TenantID)))
	fmt.Fprintf(out, "  income  %s\n  expense %s\n",
		cli.FormatAmount(summary.Income, cfg.Agent.Currency),
		cli.FormatAmount(summary.Expense, cfg.Agent.Currency))
	return nil
}
