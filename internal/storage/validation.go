// Package storage persists the run journal: one row per categorization run
// and one row per decision made in it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/actual-autocat/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrInvalidDecision = errors.New("invalid decision")
	ErrInvalidRun      = errors.New("invalid run")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateDecision validates a decision before it is journaled.
func validateDecision(decision model.Decision) error {
	if decision.Transaction.ID == "" {
		return fmt.Errorf("%w: missing transaction ID", ErrInvalidDecision)
	}

	switch decision.Outcome {
	case model.OutcomeAccepted:
		if decision.Result.Category == nil {
			return fmt.Errorf("%w: accepted without a category", ErrInvalidDecision)
		}
	case model.OutcomeSkipped:
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidDecision, decision.Outcome)
	}

	if decision.Result.Confidence < 0 || decision.Result.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidDecision)
	}
	return nil
}

// validateRunID ensures a run id is present.
func validateRunID(runID string) error {
	if err := validateString(runID, "runID"); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRun, err)
	}
	return nil
}
