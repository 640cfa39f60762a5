package actual

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/actual-autocat/internal/common"
	"github.com/Veraticus/actual-autocat/internal/model"
)

const dateLayout = "2006-01-02"

type wireAccount struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OffBudget bool   `json:"offbudget"`
	Closed    bool   `json:"closed"`
}

type wireCategory struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GroupID  string `json:"group_id"`
	IsIncome bool   `json:"is_income"`
	Hidden   bool   `json:"hidden"`
}

type wireCategoryGroup struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wirePayee struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TransferAcct string `json:"transfer_acct"`
}

type wireTransaction struct {
	ID              string            `json:"id"`
	Account         string            `json:"account"`
	Date            string            `json:"date"`
	Payee           string            `json:"payee"`
	PayeeName       string            `json:"payee_name"`
	ImportedPayee   string            `json:"imported_payee"`
	Notes           string            `json:"notes"`
	Category        string            `json:"category"`
	TransferID      string            `json:"transfer_id"`
	Subtransactions []wireTransaction `json:"subtransactions"`
	Amount          int64             `json:"amount"`
	IsParent        bool              `json:"is_parent"`
}

func (c *Client) ensureConnected() error {
	if !c.connected {
		return common.ErrNotConnected
	}
	return nil
}

// GetAccounts returns every account in the budget.
func (c *Client) GetAccounts(ctx context.Context) ([]model.Account, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	var wire []wireAccount
	if err := c.do(ctx, http.MethodGet, c.budgetPath("accounts"), nil, &wire); err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}

	accounts := make([]model.Account, len(wire))
	for i, a := range wire {
		accounts[i] = model.Account{ID: a.ID, Name: a.Name, OffBudget: a.OffBudget, Closed: a.Closed}
	}
	return accounts, nil
}

// GetCategories returns the expense categories a transaction may be
// assigned to. Income and unnamed categories are excluded.
func (c *Client) GetCategories(ctx context.Context) ([]model.Category, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	var wire []wireCategory
	if err := c.do(ctx, http.MethodGet, c.budgetPath("categories"), nil, &wire); err != nil {
		return nil, fmt.Errorf("failed to get categories: %w", err)
	}

	groups := c.categoryGroupNames(ctx)

	categories := make([]model.Category, 0, len(wire))
	for _, cat := range wire {
		if cat.IsIncome || strings.TrimSpace(cat.Name) == "" {
			continue
		}
		categories = append(categories, model.Category{
			ID:        cat.ID,
			Name:      cat.Name,
			GroupName: groups[cat.GroupID],
			IsIncome:  cat.IsIncome,
			Hidden:    cat.Hidden,
		})
	}
	return categories, nil
}

// categoryGroupNames is best effort; group names only decorate output.
func (c *Client) categoryGroupNames(ctx context.Context) map[string]string {
	var wire []wireCategoryGroup
	if err := c.do(ctx, http.MethodGet, c.budgetPath("categorygroups"), nil, &wire); err != nil {
		c.logger.Debug("Category groups unavailable", "error", err)
		return nil
	}
	names := make(map[string]string, len(wire))
	for _, g := range wire {
		names[g.ID] = g.Name
	}
	return names
}

// GetPayees returns every payee in the budget.
func (c *Client) GetPayees(ctx context.Context) ([]model.Payee, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	var wire []wirePayee
	if err := c.do(ctx, http.MethodGet, c.budgetPath("payees"), nil, &wire); err != nil {
		return nil, fmt.Errorf("failed to get payees: %w", err)
	}

	payees := make([]model.Payee, len(wire))
	for i, p := range wire {
		payees[i] = model.Payee{ID: p.ID, Name: p.Name, TransferAccount: p.TransferAcct}
	}
	return payees, nil
}

// GetTransactions returns the transactions of one account between start and
// end inclusive. Split children are flattened alongside their parent.
func (c *Client) GetTransactions(ctx context.Context, accountID string, start, end time.Time) ([]model.Transaction, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("since_date", start.Format(dateLayout))
	if !end.IsZero() {
		query.Set("until_date", end.Format(dateLayout))
	}

	var wire []wireTransaction
	if err := c.do(ctx, http.MethodGet, c.budgetPath("accounts", accountID, "transactions"), query, &wire); err != nil {
		return nil, fmt.Errorf("failed to get transactions for account %s: %w", accountID, err)
	}

	transactions := make([]model.Transaction, 0, len(wire))
	for _, tx := range wire {
		parent, err := convertTransaction(tx, accountID)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, parent)

		for _, sub := range tx.Subtransactions {
			child, err := convertTransaction(sub, accountID)
			if err != nil {
				return nil, err
			}
			transactions = append(transactions, child)
		}
	}
	return transactions, nil
}

func convertTransaction(tx wireTransaction, accountID string) (model.Transaction, error) {
	date, err := time.Parse(dateLayout, tx.Date)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("invalid date %q on transaction %s: %w", tx.Date, tx.ID, err)
	}

	account := tx.Account
	if account == "" {
		account = accountID
	}

	return model.Transaction{
		ID:            tx.ID,
		Date:          date,
		AccountID:     account,
		PayeeID:       tx.Payee,
		PayeeName:     tx.PayeeName,
		ImportedPayee: tx.ImportedPayee,
		Notes:         tx.Notes,
		CategoryID:    tx.Category,
		TransferID:    tx.TransferID,
		Amount:        tx.Amount,
		IsParent:      tx.IsParent,
	}, nil
}

// GetUncategorizedTransactions returns uncategorized transactions from open
// on-budget accounts within the lookback window, newest first. A positive
// limit caps the result.
func (c *Client) GetUncategorizedTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	accounts, err := c.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	payees, err := c.GetPayees(ctx)
	if err != nil {
		return nil, err
	}
	payeeNames := make(map[string]string, len(payees))
	for _, p := range payees {
		payeeNames[p.ID] = p.Name
	}

	end := c.now()
	start := end.AddDate(0, 0, -c.lookbackDays)

	var uncategorized []model.Transaction
	for _, account := range accounts {
		if account.OffBudget || account.Closed {
			continue
		}

		transactions, err := c.GetTransactions(ctx, account.ID, start, end)
		if err != nil {
			return nil, err
		}

		for _, txn := range transactions {
			if !txn.IsUncategorized() {
				continue
			}
			if txn.PayeeName == "" {
				txn.PayeeName = payeeNames[txn.PayeeID]
			}
			uncategorized = append(uncategorized, txn)
		}
	}

	sort.SliceStable(uncategorized, func(i, j int) bool {
		return uncategorized[i].Date.After(uncategorized[j].Date)
	})

	if limit > 0 && len(uncategorized) > limit {
		uncategorized = uncategorized[:limit]
	}

	c.logger.Debug("Fetched uncategorized transactions",
		"count", len(uncategorized),
		"lookback_days", c.lookbackDays,
		"limit", limit)
	return uncategorized, nil
}

type transactionUpdate struct {
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

// UpdateTransactionCategory assigns a category and appends the confidence
// annotation to the existing notes.
func (c *Client) UpdateTransactionCategory(ctx context.Context, transactionID, categoryID, existingNotes string, confidence float64) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	body := map[string]transactionUpdate{
		"transaction": {
			Category: categoryID,
			Notes:    model.AnnotateNotes(existingNotes, confidence),
		},
	}
	if err := c.send(ctx, http.MethodPatch, c.budgetPath("transactions", transactionID), nil, body, nil); err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", transactionID, err)
	}
	return nil
}

type ruleCondition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

type ruleAction struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

type rulePayload struct {
	Stage        *string         `json:"stage"`
	ConditionsOp string          `json:"conditionsOp"`
	Conditions   []ruleCondition `json:"conditions"`
	Actions      []ruleAction    `json:"actions"`
}

func newRulePayload(rule model.Rule) rulePayload {
	return rulePayload{
		ConditionsOp: "and",
		Conditions: []ruleCondition{
			{Field: "imported_payee", Op: "is", Value: rule.PayeeName},
		},
		Actions: []ruleAction{
			{Field: "category", Op: "set", Value: rule.CategoryID},
		},
	}
}

// CreateRule creates a rule assigning categoryID to transactions whose
// imported payee is payeeName. An existing equivalent rule is reported as
// common.ErrDuplicateEntry.
func (c *Client) CreateRule(ctx context.Context, payeeName, categoryID string) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	body := map[string]rulePayload{
		"rule": newRulePayload(model.Rule{PayeeName: payeeName, CategoryID: categoryID}),
	}
	if err := c.send(ctx, http.MethodPost, c.budgetPath("rules"), nil, body, nil); err != nil {
		return fmt.Errorf("failed to create rule for payee %q: %w", payeeName, err)
	}
	return nil
}
