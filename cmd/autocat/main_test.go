package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/Veraticus/actual-autocat/internal/common"
	"github.com/Veraticus/actual-autocat/internal/config"
	"github.com/Veraticus/actual-autocat/internal/llm"
	"github.com/Veraticus/actual-autocat/internal/localmodel"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClassifier(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.Config
		wantName string
		wantType any
	}{
		{
			name:     "local model by default",
			cfg:      config.Config{LocalModel: config.LocalModelConfig{Dir: t.TempDir()}},
			wantName: "local",
			wantType: &localmodel.Classifier{},
		},
		{
			name: "openai when selected",
			cfg: config.Config{
				Categorize: config.CategorizeConfig{UseOpenAI: true},
				OpenAI:     config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"},
			},
			wantName: "openai",
			wantType: &llm.Classifier{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier, err := newClassifier(&tt.cfg, nil)
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, classifier)
			assert.Equal(t, tt.wantName, classifier.Name())
		})
	}
}

func TestOpenJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "autocat.db")

	store, closeJournal := openJournal(context.Background(), path)
	require.NotNil(t, store)
	defer closeJournal()

	runs, err := store.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.FileExists(t, path)
}

func TestVersionCmd(t *testing.T) {
	cmd := versionCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "autocat dev\n", out.String())
}

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"dry-run", "limit", "create-rules", "openai", "min-confidence"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "d", cmd.Flags().Lookup("dry-run").Shorthand)
	assert.Equal(t, "0.85", cmd.Flags().Lookup("min-confidence").DefValue)

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Subset(t, names, []string{"export", "history", "version"})
}

func TestCommandsRejectBadConfigBeforeConnecting(t *testing.T) {
	tests := []struct {
		name     string
		run      func(*cobra.Command, []string) error
		settings map[string]any
		wantErr  error
	}{
		{
			name:     "missing password",
			run:      runCategorize,
			settings: map[string]any{"actual.password": ""},
			wantErr:  common.ErrMissingConfig,
		},
		{
			name:     "placeholder sync id",
			run:      runCategorize,
			settings: map[string]any{"actual.sync_id": "<your sync id>"},
			wantErr:  common.ErrMissingConfig,
		},
		{
			name:     "openai without key",
			run:      runCategorize,
			settings: map[string]any{"categorize.use_openai": true, "openai.api_key": ""},
			wantErr:  common.ErrMissingConfig,
		},
		{
			name:     "threshold out of range",
			run:      runCategorize,
			settings: map[string]any{"categorize.min_confidence": 1.5},
			wantErr:  common.ErrInvalidConfig,
		},
		{
			name:     "export without password",
			run:      runExport,
			settings: map[string]any{"actual.password": "changeme"},
			wantErr:  common.ErrMissingConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				requests.Add(1)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			viper.Reset()
			t.Cleanup(viper.Reset)
			config.SetDefaults(viper.GetViper())
			viper.Set("actual.server_url", server.URL)
			viper.Set("actual.password", "secret")
			viper.Set("actual.sync_id", "budget-1")
			viper.Set("history.enabled", false)
			for key, value := range tt.settings {
				viper.Set(key, value)
			}

			cmd := &cobra.Command{}
			cmd.SetContext(context.Background())

			err := tt.run(cmd, nil)
			require.Error(t, err)
			var userErr *common.UserError
			require.ErrorAs(t, err, &userErr)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, requests.Load(), "no request reaches the budget server")
		})
	}
}
