package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/dompet/internal/cli"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List a tenant's conversations",
		RunE:  runSessions,
	}

	addTenantFlag(cmd)

	return cmd
}

func runSessions(cmd *cobra.Command, _ []string) error {
	scope, err := tenantFlag(cmd)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := openStore(ctx, cfg.Database, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	sessions, err := store.ListSessions(ctx, scope.TenantID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Tenant %d has no conversations yet", scope.TenantID)))
		return nil
	}

	fmt.Fprintln(out, cli.TableHeaderStyle.Render(fmt.Sprintf("%-38s %-18s %s", "SESSION", "LAST ACTIVE", "EVENTS")))
	for _, s := range sessions {
		fmt.Fprintf(out, "%-38s %-18s %d\n", s.ID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.EventCount)
	}
	return nil
}
