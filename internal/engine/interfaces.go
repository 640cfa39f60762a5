package engine

import (
	"context"

	"github.com/Veraticus/actual-autocat/internal/catalog"
	"github.com/Veraticus/actual-autocat/internal/model"
)

// Classifier defines the contract for a classification backend. Classify
// returns one result per transaction, in input order, and only fails when
// the context is canceled.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, transactions []model.Transaction, cat *catalog.Catalog) ([]model.ClassificationResult, error)
}

// Progress receives decision events while a run is in progress.
type Progress interface {
	Start(total int)
	Step(decision model.Decision)
	Finish()
}
