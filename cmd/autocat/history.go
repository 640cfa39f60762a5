package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Veraticus/actual-autocat/internal/cli"
	"github.com/Veraticus/actual-autocat/internal/common"
	"github.com/Veraticus/actual-autocat/internal/config"
	"github.com/Veraticus/actual-autocat/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past categorization runs",
		Long: `List recent categorization runs, or every decision made in one run with
--run. Run ids may be abbreviated to any unique prefix.`,
		RunE: runHistory,
	}

	cmd.Flags().Int("limit", 10, "Number of runs to show")
	cmd.Flags().String("run", "", "Show the decisions of a single run")

	_ = viper.BindPFlag("history.limit", cmd.Flags().Lookup("limit"))
	_ = viper.BindPFlag("history.run", cmd.Flags().Lookup("run"))

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())

	if _, err := os.Stat(cfg.History.Path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No runs recorded yet."))
		return nil
	}

	store, err := storage.NewSQLiteStorage(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	slog.Debug("Reading run history", "path", store.Path())

	ctx := cmd.Context()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate run history: %w", err)
	}

	if id := viper.GetString("history.run"); id != "" {
		run, err := store.GetRun(ctx, id)
		switch {
		case errors.Is(err, common.ErrNotFound):
			return common.NewUserError(fmt.Sprintf("no run matches %q", id), err)
		case errors.Is(err, storage.ErrAmbiguousRunID):
			return common.NewUserError(fmt.Sprintf("%q matches more than one run; use a longer prefix", id), err)
		case err != nil:
			return err
		}

		decisions, err := store.ListDecisions(ctx, run.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRun(*run, decisions))
		return nil
	}

	runs, err := store.ListRuns(ctx, viper.GetInt("history.limit"))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRuns(runs))
	return nil
}
