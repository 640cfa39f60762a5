package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/actual-autocat/internal/common"
	"github.com/Veraticus/actual-autocat/internal/model"
	"github.com/Veraticus/actual-autocat/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "autocat.db")

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Migrate(context.Background()), "migrating twice is a no-op")

	var version int
	require.NoError(t, store.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, ExpectedSchemaVersion, version)
	assert.Equal(t, dbPath, store.Path())
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	require.NoError(t, reopened.Migrate(context.Background()))
}

func TestNewSQLiteStorageValidation(t *testing.T) {
	_, err := NewSQLiteStorage("  ")
	require.ErrorIs(t, err, ErrEmptyString)
}

func groceries() *model.Category {
	return &model.Category{ID: "cat-groceries", Name: "Groceries"}
}

func TestRunLifecycle(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	started := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	runID, err := store.StartRun(ctx, service.RunInfo{
		StartedAt:     started,
		Backend:       "openai",
		MinConfidence: 0.85,
		Limit:         50,
		CreateRules:   true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	decisions := []model.Decision{
		{
			Transaction: model.Transaction{ID: "t1", PayeeName: "Whole Foods", Amount: -4523},
			Result:      model.ClassificationResult{TransactionID: "t1", Category: groceries(), Confidence: 0.93},
			Outcome:     model.OutcomeAccepted,
			Reason:      "accepted",
			Applied:     true,
			RuleCreated: true,
		},
		{
			Transaction: model.Transaction{ID: "t2", ImportedPayee: "SQ *COFFEE", Amount: -450},
			Result:      model.NoSuggestion("t2"),
			Outcome:     model.OutcomeSkipped,
			Reason:      "no suggestion",
		},
		{
			Transaction:  model.Transaction{ID: "t3", PayeeName: "Trader Joe's", Amount: -2000},
			Result:       model.ClassificationResult{TransactionID: "t3", Category: groceries(), Confidence: 0.9},
			Outcome:      model.OutcomeAccepted,
			Reason:       "accepted",
			WriteBackErr: errors.New("server unavailable"),
		},
	}
	for _, d := range decisions {
		require.NoError(t, store.RecordDecision(ctx, runID, d))
	}

	summary := model.Summary{
		Duration:      1500 * time.Millisecond,
		Total:         3,
		Categorized:   2,
		Skipped:       1,
		RulesCreated:  1,
		WriteFailures: 1,
	}
	require.NoError(t, store.FinishRun(ctx, runID, summary))

	run, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, "openai", run.Backend)
	assert.True(t, run.StartedAt.Equal(started))
	require.NotNil(t, run.FinishedAt)
	assert.InDelta(t, 0.85, run.MinConfidence, 1e-9)
	assert.Equal(t, 50, run.Limit)
	assert.True(t, run.CreateRules)
	assert.False(t, run.DryRun)
	assert.Equal(t, summary, run.Summary)

	records, err := store.ListDecisions(ctx, runID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "t1", records[0].TransactionID)
	assert.Equal(t, "Whole Foods", records[0].Payee)
	assert.Equal(t, "cat-groceries", records[0].CategoryID)
	assert.Equal(t, "Groceries", records[0].CategoryName)
	assert.Equal(t, model.OutcomeAccepted, records[0].Outcome)
	assert.True(t, records[0].Applied)
	assert.True(t, records[0].RuleCreated)
	assert.Equal(t, int64(-4523), records[0].Amount)

	assert.Equal(t, "SQ *COFFEE", records[1].Payee)
	assert.Empty(t, records[1].CategoryID)
	assert.Equal(t, model.OutcomeSkipped, records[1].Outcome)
	assert.Equal(t, "no suggestion", records[1].Reason)

	assert.Equal(t, "server unavailable", records[2].Error)
	assert.False(t, records[2].Applied)
}

func TestUnfinishedRun(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, service.RunInfo{Backend: "local", MinConfidence: 0.85})
	require.NoError(t, err)

	run, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Nil(t, run.FinishedAt)
	assert.False(t, run.StartedAt.IsZero())
}

func TestListRuns(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 4; i++ {
		id, err := store.StartRun(ctx, service.RunInfo{
			StartedAt:     base.Add(time.Duration(i) * time.Hour),
			Backend:       "local",
			MinConfidence: 0.85,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, ids[3], runs[0].ID, "newest first")
	assert.Equal(t, ids[0], runs[3].ID)

	limited, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[3], limited[0].ID)
	assert.Equal(t, ids[2], limited[1].ID)
}

func TestGetRunByPrefix(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	runID, err := store.StartRun(ctx, service.RunInfo{Backend: "local", MinConfidence: 0.85})
	require.NoError(t, err)

	run, err := store.GetRun(ctx, runID[:8])
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)

	_, err = store.GetRun(ctx, "zzzzzzzz")
	require.ErrorIs(t, err, common.ErrNotFound)

	// Insert two runs with a shared prefix directly.
	for _, id := range []string{"abc-1", "abc-2"} {
		_, err := store.db.Exec(`INSERT INTO runs (id, started_at, backend, min_confidence) VALUES (?, ?, 'local', 0.85)`, id, time.Now().UTC())
		require.NoError(t, err)
	}
	_, err = store.GetRun(ctx, "abc")
	require.ErrorIs(t, err, ErrAmbiguousRunID)

	exact, err := store.GetRun(ctx, "abc-1")
	require.NoError(t, err)
	assert.Equal(t, "abc-1", exact.ID)
}

func TestJournalValidation(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	_, err := store.StartRun(ctx, service.RunInfo{})
	require.ErrorIs(t, err, ErrEmptyString)

	runID, err := store.StartRun(ctx, service.RunInfo{Backend: "local"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		runID    string
		decision model.Decision
		wantErr  error
	}{
		{
			name:     "missing run id",
			decision: model.Decision{Transaction: model.Transaction{ID: "t1"}, Outcome: model.OutcomeSkipped},
			wantErr:  ErrInvalidRun,
		},
		{
			name:     "missing transaction id",
			runID:    runID,
			decision: model.Decision{Outcome: model.OutcomeSkipped},
			wantErr:  ErrInvalidDecision,
		},
		{
			name:     "accepted without category",
			runID:    runID,
			decision: model.Decision{Transaction: model.Transaction{ID: "t1"}, Outcome: model.OutcomeAccepted},
			wantErr:  ErrInvalidDecision,
		},
		{
			name:     "unknown outcome",
			runID:    runID,
			decision: model.Decision{Transaction: model.Transaction{ID: "t1"}, Outcome: "MAYBE"},
			wantErr:  ErrInvalidDecision,
		},
		{
			name:  "confidence out of range",
			runID: runID,
			decision: model.Decision{
				Transaction: model.Transaction{ID: "t1"},
				Result:      model.ClassificationResult{Category: groceries(), Confidence: 1.5},
				Outcome:     model.OutcomeAccepted,
			},
			wantErr: ErrInvalidDecision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.RecordDecision(ctx, tt.runID, tt.decision)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	err = store.FinishRun(ctx, "does-not-exist", model.Summary{})
	require.ErrorIs(t, err, common.ErrNotFound)
}
