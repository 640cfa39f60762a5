package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/actual-autocat/internal/cli"
	"github.com/Veraticus/actual-autocat/internal/config"
	"github.com/Veraticus/actual-autocat/internal/export"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export categorized transactions as training data",
		Long: `Export categorized history from the budget as JSON for training the local
model. Transfers, split parents and uncategorized transactions are left out.`,
		RunE: runExport,
	}

	cmd.Flags().String("output", "trainer/training_data.json", "Output file")
	cmd.Flags().Int("days", export.DefaultDays, "Number of days of history to export")
	cmd.Flags().Bool("include-off-budget", false, "Include off-budget accounts")

	_ = viper.BindPFlag("export.output", cmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("export.days", cmd.Flags().Lookup("days"))
	_ = viper.BindPFlag("export.include_off_budget", cmd.Flags().Lookup("include-off-budget"))

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	if err := cfg.ValidateConnection(); err != nil {
		return err
	}
	output := config.ExpandPath(viper.GetString("export.output"))

	client, err := newActualClient(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Disconnect()

	data, err := export.NewExporter(client, slog.Default()).Export(ctx, export.Options{
		Days:             viper.GetInt("export.days"),
		IncludeOffBudget: viper.GetBool("export.include_off_budget"),
	})
	if err != nil {
		return err
	}

	if err := export.WriteFile(output, data); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
		"Exported %d transactions across %d categories to %s",
		len(data.Transactions), len(data.Categories), output)))
	return nil
}
