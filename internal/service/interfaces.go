// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/actual-autocat/internal/model"
)

// DataSource is the budget server as seen by the categorization run.
type DataSource interface {
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetUncategorizedTransactions(ctx context.Context, limit int) ([]model.Transaction, error)
	UpdateTransactionCategory(ctx context.Context, transactionID, categoryID, existingNotes string, confidence float64) error
	CreateRule(ctx context.Context, payeeName, categoryID string) error
}

// BudgetReader exposes the read side of the budget server used by exports.
type BudgetReader interface {
	GetAccounts(ctx context.Context) ([]model.Account, error)
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetPayees(ctx context.Context) ([]model.Payee, error)
	GetTransactions(ctx context.Context, accountID string, start, end time.Time) ([]model.Transaction, error)
}

// RunInfo describes a categorization run when it starts.
type RunInfo struct {
	StartedAt     time.Time
	Backend       string
	MinConfidence float64
	Limit         int
	DryRun        bool
	CreateRules   bool
}

// RunRecord is a journaled run.
type RunRecord struct {
	RunInfo
	FinishedAt *time.Time
	ID         string
	Summary    model.Summary
}

// DecisionRecord is a journaled per-transaction decision.
type DecisionRecord struct {
	DecidedAt     time.Time
	RunID         string
	TransactionID string
	Payee         string
	CategoryID    string
	CategoryName  string
	Outcome       model.DecisionOutcome
	Reason        string
	Error         string // Write-back failure, if any
	Amount        int64
	Confidence    float64
	Applied       bool
	RuleCreated   bool
}

// Journal records runs and their decisions.
type Journal interface {
	StartRun(ctx context.Context, info RunInfo) (string, error)
	RecordDecision(ctx context.Context, runID string, decision model.Decision) error
	FinishRun(ctx context.Context, runID string, summary model.Summary) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
