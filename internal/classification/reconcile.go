// Package classification reconciles backend predictions with the batch of
// transactions they were produced for.
package classification

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/Veraticus/actual-autocat/internal/model"
)

// Number is a JSON number that also accepts numeric strings, since language
// models are not consistent about quoting. Valid is false for null, missing
// or non-numeric values.
type Number struct {
	Value float64
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	n.Value = v
	n.Valid = true
	return nil
}

// Int returns the value as an integer when it is integral.
func (n Number) Int() (int, bool) {
	if !n.Valid || n.Value != math.Trunc(n.Value) {
		return 0, false
	}
	return int(n.Value), true
}

// Prediction is one backend entry keyed by a 1-based batch position.
// Category holds a category ID or name depending on the backend; empty
// means the backend made no suggestion.
type Prediction struct {
	Category   string
	Index      Number
	Confidence Number
}

// Stats counts how predictions were handled during reconciliation.
type Stats struct {
	Matched    int
	NoCategory int
	Unresolved int
	OutOfRange int
	Duplicate  int
	Invalid    int
	Missing    int
}

// Ignored returns the number of entries that could not be trusted.
func (s Stats) Ignored() int {
	return s.OutOfRange + s.Duplicate + s.Invalid
}

// Resolver maps a backend category reference to a catalog entry.
type Resolver func(ref string) (model.Category, bool)

// Degraded returns a no-suggestion result for every transaction.
func Degraded(transactions []model.Transaction) []model.ClassificationResult {
	results := make([]model.ClassificationResult, len(transactions))
	for i, txn := range transactions {
		results[i] = model.NoSuggestion(txn.ID)
	}
	return results
}

// Reconcile maps predictions back onto transactions strictly by index.
//
// Out-of-range, non-integral and duplicated indices are ignored; every entry
// sharing a duplicated index is dropped. A confidence outside [0,1] drops the
// entry. Transactions left without a usable prediction degrade to a
// no-suggestion result, so the output always has len(transactions) entries
// in input order.
func Reconcile(transactions []model.Transaction, predictions []Prediction, resolve Resolver) ([]model.ClassificationResult, Stats) {
	var stats Stats
	results := Degraded(transactions)
	n := len(transactions)

	seen := make(map[int]int, len(predictions))
	for _, p := range predictions {
		if idx, ok := p.Index.Int(); ok && idx >= 1 && idx <= n {
			seen[idx]++
		}
	}

	covered := make(map[int]bool, len(seen))
	for _, p := range predictions {
		idx, ok := p.Index.Int()
		switch {
		case !ok:
			stats.Invalid++
			continue
		case idx < 1 || idx > n:
			stats.OutOfRange++
			continue
		case seen[idx] > 1:
			stats.Duplicate++
			covered[idx] = true
			continue
		}
		covered[idx] = true

		ref := strings.TrimSpace(p.Category)
		if ref == "" {
			stats.NoCategory++
			continue
		}

		if !p.Confidence.Valid || p.Confidence.Value < 0 || p.Confidence.Value > 1 {
			stats.Invalid++
			continue
		}

		category, found := resolve(ref)
		if !found {
			stats.Unresolved++
			continue
		}

		results[idx-1] = model.ClassificationResult{
			TransactionID: transactions[idx-1].ID,
			Category:      &category,
			Confidence:    p.Confidence.Value,
		}
		stats.Matched++
	}

	stats.Missing = n - len(covered)
	return results, stats
}
