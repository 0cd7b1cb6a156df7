package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Veraticus/dompet/internal/cli"
	"github.com/Veraticus/dompet/internal/common"
	"github.com/Veraticus/dompet/internal/tui"
)

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to your ledger in the terminal",
		Long: `Start a conversation with the assistant for one tenant. Pass --session
to continue an earlier conversation (see "dompet sessions").`,
		RunE: runChat,
	}

	addTenantFlag(cmd)
	cmd.Flags().String("session", "", "session id to continue (default: a new session)")
	cmd.Flags().Bool("plain", false, "line-by-line chat without the full-screen UI")
	cmd.Flags().Bool("show-tools", false, "show tool calls and results")

	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	scope, err := tenantFlag(cmd)
	if err != nil {
		return err
	}
	scope.SessionID, _ = cmd.Flags().GetString("session")
	if scope.SessionID == "" {
		scope.SessionID = uuid.NewString()
	}
	plain, _ := cmd.Flags().GetBool("plain")
	showTools, _ := cmd.Flags().GetBool("show-tools")

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

	mem, closeMem, err := openMemory(ctx, cfg.Memory)
	if err != nil {
		return err
	}
	defer closeMem()

	runner, closeOracle, err := newRunner(ctx, cfg, store, mem)
	if err != nil {
		return err
	}
	defer closeOracle()

	history, err := store.ListEvents(ctx, scope)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("failed to load session history: %w", err)
	}

	resume := fmt.Sprintf("dompet chat --tenant %d --session %s", scope.TenantID, scope.SessionID)

	if plain {
		chatCtx, cancel := cli.NewInterruptHandler(cmd.ErrOrStderr()).HandleInterrupts(ctx, resume)
		defer cancel()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, cli.FormatTitle(cfg.Agent.AppName))
		fmt.Fprintln(out, cli.SubtleStyle.Render("session "+scope.SessionID+" · type exit to quit"))
		for _, ev := range history {
			if s := cli.RenderEvent(ev, showTools); s != "" {
				fmt.Fprintln(out, s)
			}
		}

		chat := cli.NewChat(runner, scope, os.Stdin, out)
		chat.ShowTools = showTools
		return chat.Run(chatCtx)
	}

	err = tui.Run(ctx,
		tui.WithRunner(runner),
		tui.WithScope(scope),
		tui.WithHistory(history),
		tui.WithAppName(cfg.Agent.AppName),
		tui.WithShowTools(showTools),
	)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Resume with: "+resume))
	return nil
}
