// Package export writes categorized budget history as training data for the
// local model.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Veraticus/actual-autocat/internal/model"
	"github.com/Veraticus/actual-autocat/internal/service"
)

// DefaultDays is the default export window.
const DefaultDays = 365

// Category is an exported category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Transaction is an exported, categorized transaction.
type Transaction struct {
	ID            string `json:"id"`
	Date          string `json:"date"`
	PayeeName     string `json:"payee_name"`
	ImportedPayee string `json:"imported_payee"`
	Notes         string `json:"notes"`
	Category      string `json:"category"`
	Amount        int64  `json:"amount"`
}

// TrainingData is the document consumed by the trainer.
type TrainingData struct {
	Categories   []Category    `json:"categories"`
	Transactions []Transaction `json:"transactions"`
}

// Options controls which transactions are exported.
type Options struct {
	Days             int
	IncludeOffBudget bool
}

// Exporter collects training data from the budget server.
type Exporter struct {
	reader service.BudgetReader
	logger *slog.Logger
	now    func() time.Time
}

// NewExporter creates an exporter reading from reader.
func NewExporter(reader service.BudgetReader, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		reader: reader,
		logger: logger,
		now:    time.Now,
	}
}

// Export gathers categorized, non-transfer, non-split-parent transactions
// whose category is still known to the budget.
func (e *Exporter) Export(ctx context.Context, opts Options) (*TrainingData, error) {
	days := opts.Days
	if days <= 0 {
		days = DefaultDays
	}

	categories, err := e.reader.GetCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	known := make(map[string]bool, len(categories))
	data := &TrainingData{
		Categories:   make([]Category, 0, len(categories)),
		Transactions: []Transaction{},
	}
	for _, c := range categories {
		known[c.ID] = true
		data.Categories = append(data.Categories, Category{ID: c.ID, Name: c.Name})
	}

	payees, err := e.reader.GetPayees(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load payees: %w", err)
	}
	payeeNames := make(map[string]string, len(payees))
	for _, p := range payees {
		payeeNames[p.ID] = p.Name
	}

	accounts, err := e.reader.GetAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}

	end := e.now()
	start := end.AddDate(0, 0, -days)

	for _, account := range accounts {
		if account.OffBudget && !opts.IncludeOffBudget {
			continue
		}

		transactions, err := e.reader.GetTransactions(ctx, account.ID, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load transactions for %s: %w", account.Name, err)
		}

		exported := 0
		for _, txn := range transactions {
			if txn.CategoryID == "" || txn.TransferID != "" || txn.IsParent || !known[txn.CategoryID] {
				continue
			}
			payee := txn.PayeeName
			if payee == "" {
				payee = payeeNames[txn.PayeeID]
			}
			data.Transactions = append(data.Transactions, Transaction{
				ID:            txn.ID,
				Date:          txn.Date.Format("2006-01-02"),
				Amount:        txn.Amount,
				PayeeName:     payee,
				ImportedPayee: txn.ImportedPayee,
				Notes:         model.StripAnnotation(txn.Notes),
				Category:      txn.CategoryID,
			})
			exported++
		}
		e.logger.Debug("Exported account", "account", account.Name, "transactions", exported)
	}

	sort.SliceStable(data.Transactions, func(i, j int) bool {
		return data.Transactions[i].Date > data.Transactions[j].Date
	})

	e.logger.Info("Collected training data",
		"categories", len(data.Categories),
		"transactions", len(data.Transactions),
		"days", days)
	return data, nil
}

// WriteFile writes data as indented JSON, creating parent directories.
func WriteFile(path string, data *TrainingData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal training data: %w", err)
	}
	payload = append(payload, '\n')

	if err := os.WriteFile(path, payload, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
