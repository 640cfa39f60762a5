package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/actual-autocat/internal/catalog"
	"github.com/Veraticus/actual-autocat/internal/classification"
	"github.com/Veraticus/actual-autocat/internal/common"
	"github.com/Veraticus/actual-autocat/internal/model"
	"github.com/Veraticus/actual-autocat/internal/service"
)

// Defaults for the remote backend.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultChunkSize   = 20
	DefaultPacing      = 500 * time.Millisecond
	DefaultTemperature = 0.1
)

// Config holds configuration for the remote classifier.
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	ChunkSize   int
	Pacing      time.Duration
	Timeout     time.Duration
	MaxRetries  int // Retries after the first attempt
	RetryDelay  time.Duration
	Temperature float64
}

// Classifier implements the remote classification backend.
type Classifier struct {
	client      Client
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	retryOpts   service.RetryOptions
	chunkSize   int
	pacing      time.Duration
	temperature float64
}

// NewClassifier creates a classifier backed by the OpenAI API.
func NewClassifier(cfg Config, logger *slog.Logger) (*Classifier, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
	}
	return newClassifier(client, cfg, logger), nil
}

func newClassifier(client Client, cfg Config, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	pacing := cfg.Pacing
	if pacing <= 0 {
		pacing = DefaultPacing
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	retryDelay := cfg.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	return &Classifier{
		client:      client,
		logger:      logger,
		sleep:       sleepContext,
		chunkSize:   chunkSize,
		pacing:      pacing,
		temperature: temperature,
		retryOpts: service.RetryOptions{
			MaxAttempts:  retries + 1,
			InitialDelay: retryDelay,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}

// Name identifies the backend in logs and the run journal.
func (c *Classifier) Name() string {
	return "openai"
}

// Classify classifies transactions chunk by chunk, pausing between chunks.
// A failed chunk degrades to no-suggestion results and the remaining chunks
// still run. Only context cancellation is returned as an error.
func (c *Classifier) Classify(ctx context.Context, transactions []model.Transaction, cat *catalog.Catalog) ([]model.ClassificationResult, error) {
	results := make([]model.ClassificationResult, 0, len(transactions))
	chunks := (len(transactions) + c.chunkSize - 1) / c.chunkSize

	for n := 0; n < chunks; n++ {
		if n > 0 {
			if err := c.sleep(ctx, c.pacing); err != nil {
				return nil, err
			}
		}

		start := n * c.chunkSize
		end := min(start+c.chunkSize, len(transactions))

		chunkResults := c.classifyChunk(ctx, transactions[start:end], cat, n+1, chunks)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, chunkResults...)
	}

	return results, nil
}

func (c *Classifier) classifyChunk(ctx context.Context, chunk []model.Transaction, cat *catalog.Catalog, n, total int) []model.ClassificationResult {
	logger := c.logger.With("chunk", n, "chunks", total, "size", len(chunk))

	req := ChatRequest{
		System:      systemPrompt,
		User:        buildPrompt(chunk, cat.Names()),
		Temperature: c.temperature,
		JSONMode:    true,
	}

	var content string
	err := common.WithRetry(ctx, func() error {
		var completeErr error
		content, completeErr = c.client.Complete(ctx, req)
		return completeErr
	}, c.retryOpts)
	if err != nil {
		logger.Warn("Classification request failed, skipping chunk", "error", err)
		return classification.Degraded(chunk)
	}

	predictions, shape := parseResults(content)
	if shape == shapeUnrecognized {
		logger.Warn("Unrecognized classification response, skipping chunk")
		return classification.Degraded(chunk)
	}

	results, stats := classification.Reconcile(chunk, predictions, cat.ByName)
	if stats.Ignored() > 0 || stats.Unresolved > 0 {
		logger.Warn("Some classifications were discarded",
			"out_of_range", stats.OutOfRange,
			"duplicate", stats.Duplicate,
			"invalid", stats.Invalid,
			"unknown_category", stats.Unresolved)
	}
	logger.Debug("Chunk classified",
		"shape", string(shape),
		"matched", stats.Matched,
		"missing", stats.Missing)

	return results
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
