package export

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Veraticus/actual-autocat/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	err          error
	transactions map[string][]model.Transaction
	windows      map[string][2]time.Time
}

func (f *fakeReader) GetAccounts(context.Context) ([]model.Account, error) {
	return []model.Account{
		{ID: "checking", Name: "Checking"},
		{ID: "mortgage", Name: "Mortgage", OffBudget: true},
		{ID: "old", Name: "Old Card", Closed: true},
	}, nil
}

func (f *fakeReader) GetCategories(context.Context) ([]model.Category, error) {
	return []model.Category{
		{ID: "groceries", Name: "Groceries"},
		{ID: "fuel", Name: "Fuel"},
	}, nil
}

func (f *fakeReader) GetPayees(context.Context) ([]model.Payee, error) {
	return []model.Payee{{ID: "p-shell", Name: "Shell"}}, nil
}

func (f *fakeReader) GetTransactions(_ context.Context, accountID string, start, end time.Time) ([]model.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.windows == nil {
		f.windows = map[string][2]time.Time{}
	}
	f.windows[accountID] = [2]time.Time{start, end}
	return f.transactions[accountID], nil
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func newReader() *fakeReader {
	return &fakeReader{transactions: map[string][]model.Transaction{
		"checking": {
			{ID: "t1", Date: day("2024-02-01"), PayeeName: "Whole Foods", Amount: -4523, Notes: "weekly (Confidence: 92%)", CategoryID: "groceries"},
			{ID: "t2", Date: day("2024-03-01"), PayeeID: "p-shell", ImportedPayee: "SHELL OIL 123", Amount: -3000, CategoryID: "fuel"},
			{ID: "t3", Date: day("2024-03-02"), PayeeName: "Mystery", Amount: -100},
			{ID: "t4", Date: day("2024-03-03"), PayeeName: "Savings", Amount: -50000, CategoryID: "groceries", TransferID: "t9"},
			{ID: "t5", Date: day("2024-03-04"), Amount: -2000, CategoryID: "groceries", IsParent: true},
			{ID: "t6", Date: day("2024-03-05"), PayeeName: "Salary", Amount: 500000, CategoryID: "income"},
		},
		"old": {
			{ID: "t7", Date: day("2023-12-24"), PayeeName: "Costco", Amount: -9999, CategoryID: "groceries"},
		},
		"mortgage": {
			{ID: "t8", Date: day("2024-01-01"), PayeeName: "Bank", Amount: -150000, CategoryID: "fuel"},
		},
	}}
}

func TestExport(t *testing.T) {
	reader := newReader()
	e := NewExporter(reader, nil)
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	data, err := e.Export(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []Category{{ID: "groceries", Name: "Groceries"}, {ID: "fuel", Name: "Fuel"}}, data.Categories)

	require.Len(t, data.Transactions, 3)
	assert.Equal(t, Transaction{
		ID: "t2", Date: "2024-03-01", PayeeName: "Shell", ImportedPayee: "SHELL OIL 123", Amount: -3000, Category: "fuel",
	}, data.Transactions[0])
	assert.Equal(t, "t1", data.Transactions[1].ID)
	assert.Equal(t, "weekly", data.Transactions[1].Notes)
	assert.Equal(t, "t7", data.Transactions[2].ID, "closed on-budget accounts keep their history")

	window := reader.windows["checking"]
	assert.Equal(t, now.AddDate(0, 0, -DefaultDays), window[0])
	assert.Equal(t, now, window[1])
	_, queried := reader.windows["mortgage"]
	assert.False(t, queried)
}

func TestExportIncludeOffBudget(t *testing.T) {
	e := NewExporter(newReader(), nil)
	data, err := e.Export(context.Background(), Options{Days: 30, IncludeOffBudget: true})
	require.NoError(t, err)

	ids := make([]string, 0, len(data.Transactions))
	for _, tx := range data.Transactions {
		ids = append(ids, tx.ID)
	}
	assert.Contains(t, ids, "t8")
}

func TestExportError(t *testing.T) {
	reader := newReader()
	reader.err = errors.New("connection reset")

	_, err := NewExporter(reader, nil).Export(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trainer", "training_data.json")
	data := &TrainingData{
		Categories:   []Category{{ID: "groceries", Name: "Groceries"}},
		Transactions: []Transaction{{ID: "t1", Date: "2024-02-01", PayeeName: "Whole Foods", Amount: -4523, Category: "groceries"}},
	}
	require.NoError(t, WriteFile(path, data))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string][]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc["transactions"], 1)
	tx := doc["transactions"][0]
	assert.Equal(t, "Whole Foods", tx["payee_name"])
	assert.Equal(t, "groceries", tx["category"])
	assert.InDelta(t, -4523, tx["amount"], 0)
	assert.Equal(t, "Groceries", doc["categories"][0]["name"])
}
