package engine

import (
	"context"
	"sync"

	"github.com/Veraticus/actual-autocat/internal/catalog"
	"github.com/Veraticus/actual-autocat/internal/model"
	"github.com/Veraticus/actual-autocat/internal/service"
	"github.com/stretchr/testify/mock"
)

type mockDataSource struct {
	mock.Mock
}

func (m *mockDataSource) GetCategories(ctx context.Context) ([]model.Category, error) {
	args := m.Called(ctx)
	categories, _ := args.Get(0).([]model.Category)
	return categories, args.Error(1)
}

func (m *mockDataSource) GetUncategorizedTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	args := m.Called(ctx, limit)
	transactions, _ := args.Get(0).([]model.Transaction)
	return transactions, args.Error(1)
}

func (m *mockDataSource) UpdateTransactionCategory(ctx context.Context, transactionID, categoryID, existingNotes string, confidence float64) error {
	args := m.Called(ctx, transactionID, categoryID, existingNotes, confidence)
	return args.Error(0)
}

func (m *mockDataSource) CreateRule(ctx context.Context, payeeName, categoryID string) error {
	args := m.Called(ctx, payeeName, categoryID)
	return args.Error(0)
}

// scriptedClassifier returns results built from a per-position script.
type scriptedClassifier struct {
	err     error
	results func(transactions []model.Transaction, cat *catalog.Catalog) []model.ClassificationResult
	calls   int
}

func (s *scriptedClassifier) Name() string { return "scripted" }

func (s *scriptedClassifier) Classify(_ context.Context, transactions []model.Transaction, cat *catalog.Catalog) ([]model.ClassificationResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.results(transactions, cat), nil
}

// suggest builds a classifier that suggests the named category with the given
// confidence at each position. An empty name means no suggestion.
func suggest(suggestions ...suggestion) *scriptedClassifier {
	return &scriptedClassifier{
		results: func(transactions []model.Transaction, cat *catalog.Catalog) []model.ClassificationResult {
			results := make([]model.ClassificationResult, len(transactions))
			for i, txn := range transactions {
				results[i] = model.NoSuggestion(txn.ID)
				if i >= len(suggestions) || suggestions[i].category == "" {
					continue
				}
				category, ok := cat.ByName(suggestions[i].category)
				if !ok {
					continue
				}
				results[i].Category = &category
				results[i].Confidence = suggestions[i].confidence
			}
			return results
		},
	}
}

type suggestion struct {
	category   string
	confidence float64
}

type fakeJournal struct {
	startErr  error
	decisions []model.Decision
	summaries []model.Summary
	runs      []service.RunInfo
	mu        sync.Mutex
}

func (f *fakeJournal) StartRun(_ context.Context, info service.RunInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.runs = append(f.runs, info)
	return "run-1", nil
}

func (f *fakeJournal) RecordDecision(_ context.Context, _ string, decision model.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions = append(f.decisions, decision)
	return nil
}

func (f *fakeJournal) FinishRun(_ context.Context, _ string, summary model.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

type fakeProgress struct {
	steps    []model.Decision
	total    int
	started  bool
	finished bool
}

func (f *fakeProgress) Start(total int) {
	f.started = true
	f.total = total
}

func (f *fakeProgress) Step(decision model.Decision) {
	f.steps = append(f.steps, decision)
}

func (f *fakeProgress) Finish() {
	f.finished = true
}
