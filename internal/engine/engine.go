// Package engine decides, per transaction, whether a backend suggestion is
// applied to the budget and whether a payee rule is created for it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/actual-autocat/internal/catalog"
	"github.com/Veraticus/actual-autocat/internal/model"
	"github.com/Veraticus/actual-autocat/internal/service"
)

// DefaultMinConfidence is the acceptance threshold used when none is configured.
const DefaultMinConfidence = 0.85

// Skip reasons recorded on decisions.
const (
	ReasonNoSuggestion   = "no suggestion"
	ReasonLowConfidence  = "below confidence threshold"
	ReasonAccepted       = "accepted"
	ReasonAcceptedDryRun = "accepted (dry run)"
)

// State is the phase a run is in. It is only used for logging.
type State string

// Run states.
const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateClassifying State = "classifying"
	StateDeciding    State = "deciding"
	StateDone        State = "done"
)

// Config holds per-run options.
type Config struct {
	MinConfidence float64
	Limit         int
	DryRun        bool
	CreateRules   bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MinConfidence: DefaultMinConfidence,
	}
}

// Engine orchestrates a categorization run.
type Engine struct {
	source     service.DataSource
	classifier Classifier
	journal    service.Journal
	progress   Progress
	logger     *slog.Logger
	now        func() time.Time
	state      State
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithJournal records every run and decision in the given journal.
func WithJournal(journal service.Journal) Option {
	return func(e *Engine) {
		e.journal = journal
	}
}

// WithProgress reports decisions as they are made.
func WithProgress(progress Progress) Option {
	return func(e *Engine) {
		e.progress = progress
	}
}

// WithLogger sets the logger used by the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates a new engine with the given dependencies.
func New(source service.DataSource, classifier Classifier, opts ...Option) *Engine {
	e := &Engine{
		source:     source,
		classifier: classifier,
		logger:     slog.Default(),
		now:        time.Now,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the phase of the most recent run. A run that failed stays
// in the phase it failed in.
func (e *Engine) State() State {
	return e.state
}

func (e *Engine) setState(state State) {
	e.state = state
	e.logger.Debug("Engine state changed", "state", string(state))
}

// run carries the mutable state of a single Run call.
type run struct {
	cfg         Config
	cat         *catalog.Catalog
	rulePayees  map[string]bool
	id          string
	summary     model.Summary
	rulesFailed int
}

// rulesCreated returns the number of payees whose rule was created.
func (r *run) rulesCreated() int {
	n := 0
	for _, created := range r.rulePayees {
		if created {
			n++
		}
	}
	return n
}

// Run fetches uncategorized transactions, classifies them once and applies
// every suggestion that meets the confidence threshold.
func (e *Engine) Run(ctx context.Context, cfg Config) (model.Summary, error) {
	start := e.now()
	r := &run{
		cfg:        cfg,
		rulePayees: make(map[string]bool),
	}

	e.logger.Info("Starting categorization",
		"backend", e.classifier.Name(),
		"min_confidence", cfg.MinConfidence,
		"dry_run", cfg.DryRun,
		"create_rules", cfg.CreateRules,
		"limit", cfg.Limit)

	e.startJournal(ctx, r, start)

	e.setState(StateFetching)
	categories, err := e.source.GetCategories(ctx)
	if err != nil {
		return r.summary, fmt.Errorf("failed to load categories: %w", err)
	}
	r.cat = catalog.New(categories)
	e.logger.Info("Loaded categories", "count", r.cat.Len())

	transactions, err := e.source.GetUncategorizedTransactions(ctx, cfg.Limit)
	if err != nil {
		return r.summary, fmt.Errorf("failed to load uncategorized transactions: %w", err)
	}

	if len(transactions) == 0 {
		e.logger.Info("No uncategorized transactions found")
		r.summary.Duration = e.now().Sub(start)
		e.finishJournal(ctx, r)
		e.setState(StateDone)
		return r.summary, nil
	}
	e.logger.Info("Found uncategorized transactions", "count", len(transactions))
	r.summary.Total = len(transactions)

	e.setState(StateClassifying)
	results, err := e.classifier.Classify(ctx, transactions, r.cat)
	if err != nil {
		return r.summary, fmt.Errorf("classification canceled: %w", err)
	}
	results = alignResults(transactions, results, e.logger)

	e.setState(StateDeciding)
	if e.progress != nil {
		e.progress.Start(len(transactions))
	}
	for i, txn := range transactions {
		decision := e.decide(ctx, r, txn, results[i])
		e.recordDecision(ctx, r, decision)
		if e.progress != nil {
			e.progress.Step(decision)
		}
	}
	if e.progress != nil {
		e.progress.Finish()
	}

	r.summary.RulesCreated = r.rulesCreated()
	r.summary.Duration = e.now().Sub(start)
	e.finishJournal(ctx, r)

	e.logger.Info("Categorization complete",
		"total", r.summary.Total,
		"categorized", r.summary.Categorized,
		"skipped", r.summary.Skipped,
		"rules_created", r.summary.RulesCreated,
		"write_failures", r.summary.WriteFailures,
		"rule_failures", r.rulesFailed,
		"duration", r.summary.Duration)

	e.setState(StateDone)
	return r.summary, nil
}

// alignResults guarantees one result per transaction by position. Results
// that are missing or belong to a different transaction degrade to no
// suggestion; extra results are ignored.
func alignResults(transactions []model.Transaction, results []model.ClassificationResult, logger *slog.Logger) []model.ClassificationResult {
	aligned := make([]model.ClassificationResult, len(transactions))
	mismatched := 0
	for i, txn := range transactions {
		if i < len(results) && results[i].TransactionID == txn.ID {
			aligned[i] = results[i]
			continue
		}
		aligned[i] = model.NoSuggestion(txn.ID)
		mismatched++
	}

	if mismatched > 0 || len(results) != len(transactions) {
		logger.Warn("Classifier returned misaligned results",
			"transactions", len(transactions),
			"results", len(results),
			"replaced", mismatched)
	}
	return aligned
}

func (e *Engine) decide(ctx context.Context, r *run, txn model.Transaction, result model.ClassificationResult) model.Decision {
	decision := model.Decision{
		Transaction: txn,
		Result:      result,
	}
	payee := model.PayeeDisplayName(txn)

	if result.Category == nil {
		decision.Outcome = model.OutcomeSkipped
		decision.Reason = ReasonNoSuggestion
		r.summary.Skipped++
		e.logger.Debug("Skipping transaction", "id", txn.ID, "payee", payee, "reason", decision.Reason)
		return decision
	}

	if result.Confidence < r.cfg.MinConfidence {
		decision.Outcome = model.OutcomeSkipped
		decision.Reason = ReasonLowConfidence
		r.summary.Skipped++
		e.logger.Debug("Skipping transaction",
			"id", txn.ID,
			"payee", payee,
			"category", result.Category.Name,
			"confidence", result.Confidence,
			"reason", decision.Reason)
		return decision
	}

	decision.Outcome = model.OutcomeAccepted
	r.summary.Categorized++

	if r.cfg.DryRun {
		decision.Reason = ReasonAcceptedDryRun
		e.logger.Info("Would categorize transaction",
			"id", txn.ID,
			"payee", payee,
			"category", result.Category.Name,
			"confidence", result.Confidence)
		return decision
	}

	decision.Reason = ReasonAccepted
	if err := e.source.UpdateTransactionCategory(ctx, txn.ID, result.Category.ID, txn.Notes, result.Confidence); err != nil {
		decision.WriteBackErr = err
		r.summary.WriteFailures++
		e.logger.Error("Failed to update transaction category",
			"id", txn.ID,
			"payee", payee,
			"category", result.Category.Name,
			"error", err)
		return decision
	}
	decision.Applied = true
	e.logger.Info("Categorized transaction",
		"id", txn.ID,
		"payee", payee,
		"category", result.Category.Name,
		"confidence", result.Confidence)

	if r.cfg.CreateRules {
		decision.RuleCreated = e.createRule(ctx, r, model.RulePayee(txn), result.Category)
	}
	return decision
}

// createRule creates at most one rule per imported payee string per run. A payee whose rule
// creation failed is not retried within the same run.
func (e *Engine) createRule(ctx context.Context, r *run, payee string, category *model.Category) bool {
	if payee == model.UnknownPayee {
		return false
	}
	if _, attempted := r.rulePayees[payee]; attempted {
		return false
	}

	if err := e.source.CreateRule(ctx, payee, category.ID); err != nil {
		r.rulePayees[payee] = false
		r.rulesFailed++
		e.logger.Debug("Rule not created", "payee", payee, "category", category.Name, "error", err)
		return false
	}

	r.rulePayees[payee] = true
	e.logger.Info("Created payee rule", "payee", payee, "category", category.Name)
	return true
}

func (e *Engine) startJournal(ctx context.Context, r *run, start time.Time) {
	if e.journal == nil {
		return
	}
	id, err := e.journal.StartRun(ctx, service.RunInfo{
		StartedAt:     start,
		Backend:       e.classifier.Name(),
		MinConfidence: r.cfg.MinConfidence,
		Limit:         r.cfg.Limit,
		DryRun:        r.cfg.DryRun,
		CreateRules:   r.cfg.CreateRules,
	})
	if err != nil {
		e.logger.Warn("Failed to record run in history", "error", err)
		return
	}
	r.id = id
}

func (e *Engine) recordDecision(ctx context.Context, r *run, decision model.Decision) {
	if e.journal == nil || r.id == "" {
		return
	}
	if err := e.journal.RecordDecision(ctx, r.id, decision); err != nil {
		e.logger.Warn("Failed to record decision in history", "id", decision.Transaction.ID, "error", err)
	}
}

func (e *Engine) finishJournal(ctx context.Context, r *run) {
	if e.journal == nil || r.id == "" {
		return
	}
	if err := e.journal.FinishRun(ctx, r.id, r.summary); err != nil {
		e.logger.Warn("Failed to finish run in history", "error", err)
	}
}
