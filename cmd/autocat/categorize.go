package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Veraticus/actual-autocat/internal/actual"
	"github.com/Veraticus/actual-autocat/internal/cli"
	"github.com/Veraticus/actual-autocat/internal/config"
	"github.com/Veraticus/actual-autocat/internal/engine"
	"github.com/Veraticus/actual-autocat/internal/llm"
	"github.com/Veraticus/actual-autocat/internal/localmodel"
	"github.com/Veraticus/actual-autocat/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

func addCategorizeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("dry-run", "d", false, "Show what would change without writing anything")
	cmd.Flags().IntP("limit", "l", 0, "Maximum number of transactions to process (0 = all)")
	cmd.Flags().BoolP("create-rules", "r", false, "Create payee rules for accepted categories")
	cmd.Flags().BoolP("openai", "o", false, "Classify with OpenAI instead of the local model")
	cmd.Flags().Float64("min-confidence", engine.DefaultMinConfidence, "Minimum confidence to apply a category")

	_ = viper.BindPFlag("categorize.dry_run", cmd.Flags().Lookup("dry-run"))
	_ = viper.BindPFlag("categorize.limit", cmd.Flags().Lookup("limit"))
	_ = viper.BindPFlag("categorize.create_rules", cmd.Flags().Lookup("create-rules"))
	_ = viper.BindPFlag("categorize.use_openai", cmd.Flags().Lookup("openai"))
	_ = viper.BindPFlag("categorize.min_confidence", cmd.Flags().Lookup("min-confidence"))
}

func runCategorize(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return err
	}

	interruptHandler := cli.NewInterruptHandler(os.Stderr)
	ctx := interruptHandler.HandleInterrupts(cmd.Context(), cfg.Categorize.DryRun)
	defer interruptHandler.Stop()

	classifier, err := newClassifier(cfg, slog.Default())
	if err != nil {
		return err
	}

	client, err := newActualClient(cfg)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer client.Disconnect()

	opts := []engine.Option{
		engine.WithLogger(slog.Default()),
		engine.WithProgress(cli.NewProgressReporter(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))),
	}
	if cfg.History.Enabled {
		journal, closeJournal := openJournal(ctx, cfg.History.Path)
		if journal != nil {
			defer closeJournal()
			opts = append(opts, engine.WithJournal(journal))
		}
	}

	eng := engine.New(client, classifier, opts...)
	summary, err := eng.Run(ctx, engine.Config{
		MinConfidence: cfg.Categorize.MinConfidence,
		Limit:         cfg.Categorize.Limit,
		DryRun:        cfg.Categorize.DryRun,
		CreateRules:   cfg.Categorize.CreateRules,
	})
	if err != nil {
		if interruptHandler.WasInterrupted() {
			slog.Info("Run stopped", "stage", eng.State(), "categorized", summary.Categorized)
			return nil
		}
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderSummary(summary, classifier.Name(), cfg.Categorize.DryRun))
	return nil
}

// newClassifier picks the backend for the whole run.
func newClassifier(cfg *config.Config, logger *slog.Logger) (engine.Classifier, error) {
	if cfg.Categorize.UseOpenAI {
		classifier, err := llm.NewClassifier(llm.Config{
			APIKey:     cfg.OpenAI.APIKey,
			Model:      cfg.OpenAI.Model,
			BaseURL:    cfg.OpenAI.BaseURL,
			ChunkSize:  cfg.OpenAI.ChunkSize,
			Pacing:     cfg.OpenAI.Pacing,
			Timeout:    cfg.OpenAI.Timeout,
			MaxRetries: cfg.OpenAI.MaxRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
		return classifier, nil
	}

	return localmodel.NewClassifier(localmodel.Config{
		Dir:       cfg.LocalModel.Dir,
		ModelFile: cfg.LocalModel.ModelFile,
		Command:   cfg.LocalModel.Command,
		Args:      cfg.LocalModel.Args,
		Timeout:   cfg.LocalModel.Timeout,
	}, logger), nil
}

func newActualClient(cfg *config.Config) (*actual.Client, error) {
	client, err := actual.NewClient(actual.Config{
		ServerURL:          cfg.Actual.ServerURL,
		Password:           cfg.Actual.Password,
		SyncID:             cfg.Actual.SyncID,
		EncryptionPassword: cfg.Actual.EncryptionPassword,
		LookbackDays:       cfg.Actual.LookbackDays,
		Timeout:            cfg.Actual.Timeout,
	}, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create budget client: %w", err)
	}
	return client, nil
}

// openJournal opens the run journal. A journal that cannot be opened is
// logged and skipped; the run itself does not depend on it.
func openJournal(ctx context.Context, path string) (*storage.SQLiteStorage, func()) {
	store, err := storage.NewSQLiteStorage(path)
	if err != nil {
		slog.Warn("Run history disabled", "path", path, "error", err)
		return nil, nil
	}
	if err := store.Migrate(ctx); err != nil {
		slog.Warn("Run history disabled", "path", path, "error", err)
		_ = store.Close()
		return nil, nil
	}
	slog.Debug("Recording run history", "path", store.Path())
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close run history", "error", err)
		}
	}
}
