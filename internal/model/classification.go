// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// ClassificationResult is a backend's suggestion for a single transaction.
// A nil Category means the backend had no usable suggestion.
type ClassificationResult struct {
	Category      *Category
	TransactionID string
	Confidence    float64
}

// NoSuggestion returns the degraded result for a transaction.
func NoSuggestion(transactionID string) ClassificationResult {
	return ClassificationResult{TransactionID: transactionID}
}

// DecisionOutcome records what the engine did with a suggestion.
type DecisionOutcome string

// Decision outcomes.
const (
	OutcomeAccepted DecisionOutcome = "ACCEPTED"
	OutcomeSkipped  DecisionOutcome = "SKIPPED"
)

// Decision is the engine's verdict for one transaction.
type Decision struct {
	Transaction  Transaction
	Result       ClassificationResult
	Outcome      DecisionOutcome
	Reason       string
	Applied      bool // Category was written back
	RuleCreated  bool
	WriteBackErr error
}

// Rule maps a payee to a category on the budget server.
type Rule struct {
	PayeeName  string
	CategoryID string
}

// Summary contains the counters reported at the end of a run.
type Summary struct {
	Duration      time.Duration
	Total         int
	Categorized   int
	Skipped       int
	RulesCreated  int
	WriteFailures int
}

var annotationPattern = regexp.MustCompile(`\s*(\(Confidence: \d{1,3}%\)|\[AI:[^\]]*\])\s*$`)

// ConfidencePercent converts a [0,1] confidence into a whole percentage.
func ConfidencePercent(confidence float64) int {
	return int(math.Round(confidence * 100))
}

// AnnotateNotes appends a confidence annotation to existing notes. Existing
// notes are never replaced.
func AnnotateNotes(existing string, confidence float64) string {
	annotation := fmt.Sprintf("(Confidence: %d%%)", ConfidencePercent(confidence))
	if strings.TrimSpace(existing) == "" {
		return annotation
	}
	return existing + " " + annotation
}

// StripAnnotation removes confidence annotations left by earlier runs so
// they are not fed back to a classifier.
func StripAnnotation(notes string) string {
	for {
		stripped := annotationPattern.ReplaceAllString(notes, "")
		if stripped == notes {
			return strings.TrimSpace(stripped)
		}
		notes = stripped
	}
}
