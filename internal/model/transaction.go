package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UnknownPayee is the display name used when a transaction has neither a
// resolved payee nor an imported payee string.
const UnknownPayee = "Unknown"

// Transaction represents a single transaction as stored by the budget server.
type Transaction struct {
	Date          time.Time
	ID            string
	AccountID     string
	PayeeID       string
	PayeeName     string // Resolved payee display name
	ImportedPayee string // Raw payee string from the bank import
	Notes         string
	CategoryID    string // Empty when uncategorized
	TransferID    string // Set for transfers between accounts
	Amount        int64  // Minor currency units, negative for outflows
	IsParent      bool   // Split parent; children carry the categories
}

// IsUncategorized reports whether the transaction is a candidate for
// categorization: no category, not a transfer, not a split parent.
func (t Transaction) IsUncategorized() bool {
	return t.CategoryID == "" && t.TransferID == "" && !t.IsParent
}

// PayeeDisplayName returns the best human-readable payee for a transaction.
func PayeeDisplayName(t Transaction) string {
	if name := strings.TrimSpace(t.PayeeName); name != "" {
		return name
	}
	if name := strings.TrimSpace(t.ImportedPayee); name != "" {
		return name
	}
	return UnknownPayee
}

// RulePayee returns the payee string a rule should match on future imports:
// the raw imported payee when present, otherwise the display name.
func RulePayee(t Transaction) string {
	if name := strings.TrimSpace(t.ImportedPayee); name != "" {
		return name
	}
	return PayeeDisplayName(t)
}

// FormatAmount renders an amount in minor units as a decimal string with two
// places, e.g. -1234 becomes "-12.34".
func FormatAmount(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}
