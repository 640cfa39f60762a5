package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/actual-autocat/internal/common"
	"github.com/Veraticus/actual-autocat/internal/model"
	"github.com/Veraticus/actual-autocat/internal/service"
	"github.com/google/uuid"
)

// ErrAmbiguousRunID is returned when a run id prefix matches several runs.
var ErrAmbiguousRunID = errors.New("ambiguous run id")

// StartRun records a new run and returns its id.
func (s *SQLiteStorage) StartRun(ctx context.Context, info service.RunInfo) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateString(info.Backend, "backend"); err != nil {
		return "", err
	}

	startedAt := info.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now()
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, backend, min_confidence, limit_count, dry_run, create_rules)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, startedAt.UTC(), info.Backend, info.MinConfidence, info.Limit, info.DryRun, info.CreateRules)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	return id, nil
}

// RecordDecision stores one decision of a run.
func (s *SQLiteStorage) RecordDecision(ctx context.Context, runID string, decision model.Decision) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRunID(runID); err != nil {
		return err
	}
	if err := validateDecision(decision); err != nil {
		return err
	}

	var categoryID, categoryName sql.NullString
	if decision.Result.Category != nil {
		categoryID = sql.NullString{String: decision.Result.Category.ID, Valid: true}
		categoryName = sql.NullString{String: decision.Result.Category.Name, Valid: true}
	}
	var writeErr sql.NullString
	if decision.WriteBackErr != nil {
		writeErr = sql.NullString{String: decision.WriteBackErr.Error(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (
			run_id, transaction_id, payee, amount, category_id, category_name,
			confidence, outcome, reason, applied, rule_created, error, decided_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		decision.Transaction.ID,
		model.PayeeDisplayName(decision.Transaction),
		decision.Transaction.Amount,
		categoryID,
		categoryName,
		decision.Result.Confidence,
		string(decision.Outcome),
		decision.Reason,
		decision.Applied,
		decision.RuleCreated,
		writeErr,
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record decision for transaction %s: %w", decision.Transaction.ID, err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (s *SQLiteStorage) FinishRun(ctx context.Context, runID string, summary model.Summary) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRunID(runID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?,
			total = ?,
			categorized = ?,
			skipped = ?,
			rules_created = ?,
			write_failures = ?,
			duration_ms = ?
		WHERE id = ?
	`,
		s.now(),
		summary.Total,
		summary.Categorized,
		summary.Skipped,
		summary.RulesCreated,
		summary.WriteFailures,
		summary.Duration.Milliseconds(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", runID, common.ErrNotFound)
	}
	return nil
}

const runColumns = `id, started_at, finished_at, backend, min_confidence, limit_count, dry_run, create_rules,
	total, categorized, skipped, rules_created, write_failures, duration_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (service.RunRecord, error) {
	var (
		run        service.RunRecord
		finishedAt sql.NullTime
		durationMS int64
	)
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&finishedAt,
		&run.Backend,
		&run.MinConfidence,
		&run.Limit,
		&run.DryRun,
		&run.CreateRules,
		&run.Summary.Total,
		&run.Summary.Categorized,
		&run.Summary.Skipped,
		&run.Summary.RulesCreated,
		&run.Summary.WriteFailures,
		&durationMS,
	)
	if err != nil {
		return service.RunRecord{}, err
	}

	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	run.Summary.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]service.RunRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []service.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns a run by its full id or by a unique id prefix.
func (s *SQLiteStorage) GetRun(ctx context.Context, idOrPrefix string) (*service.RunRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRunID(idOrPrefix); err != nil {
		return nil, err
	}

	pattern := strings.NewReplacer("%", `\%`, "_", `\_`).Replace(idOrPrefix) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id = ? DESC LIMIT 2`,
		idOrPrefix, pattern, idOrPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []service.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		matches = append(matches, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	switch {
	case len(matches) == 0:
		return nil, fmt.Errorf("run %s: %w", idOrPrefix, common.ErrNotFound)
	case matches[0].ID == idOrPrefix || len(matches) == 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousRunID, idOrPrefix)
	}
}

// ListDecisions returns the decisions of a run in the order they were made.
func (s *SQLiteStorage) ListDecisions(ctx context.Context, runID string) ([]service.DecisionRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRunID(runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, transaction_id, payee, amount, category_id, category_name,
			confidence, outcome, reason, applied, rule_created, error, decided_at
		FROM decisions
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var decisions []service.DecisionRecord
	for rows.Next() {
		var (
			d                                     service.DecisionRecord
			categoryID, categoryName, reason, msg sql.NullString
			outcome                               string
		)
		if err := rows.Scan(
			&d.RunID,
			&d.TransactionID,
			&d.Payee,
			&d.Amount,
			&categoryID,
			&categoryName,
			&d.Confidence,
			&outcome,
			&reason,
			&d.Applied,
			&d.RuleCreated,
			&msg,
			&d.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.CategoryID = categoryID.String
		d.CategoryName = categoryName.String
		d.Reason = reason.String
		d.Error = msg.String
		d.Outcome = model.DecisionOutcome(outcome)
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate decisions: %w", err)
	}
	return decisions, nil
}
