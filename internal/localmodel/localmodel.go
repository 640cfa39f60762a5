// Package localmodel classifies transactions with a locally trained model
// that runs as a subprocess and speaks JSON over stdin and stdout.
package localmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Veraticus/actual-autocat/internal/catalog"
	"github.com/Veraticus/actual-autocat/internal/classification"
	"github.com/Veraticus/actual-autocat/internal/common"
	"github.com/Veraticus/actual-autocat/internal/model"
)

// Defaults for the local model backend.
const (
	DefaultDir       = "./trainer"
	DefaultModelFile = "model.joblib"
	DefaultCommand   = "uv"
	DefaultTimeout   = 2 * time.Minute

	stderrExcerpt = 512
)

// DefaultArgs runs the prediction module inside the trainer project.
var DefaultArgs = []string{"run", "python", "-m", "trainer.predict"}

// Config holds configuration for the local model backend.
type Config struct {
	Dir       string
	ModelFile string
	Command   string
	Args      []string
	Env       []string // Extra environment, appended to the current one
	Timeout   time.Duration
}

// Classifier runs the trained model once per batch.
type Classifier struct {
	logger    *slog.Logger
	dir       string
	modelPath string
	command   string
	args      []string
	env       []string
	timeout   time.Duration
	warnOnce  sync.Once
}

// NewClassifier creates a local model classifier. The model artifact is not
// checked here; a missing model degrades each batch instead of failing.
func NewClassifier(cfg Config, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}

	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir
	}
	modelFile := cfg.ModelFile
	if modelFile == "" {
		modelFile = DefaultModelFile
	}
	command := cfg.Command
	args := cfg.Args
	if command == "" {
		command = DefaultCommand
		if len(args) == 0 {
			args = DefaultArgs
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Classifier{
		logger:    logger,
		dir:       dir,
		modelPath: filepath.Join(dir, modelFile),
		command:   command,
		args:      append([]string(nil), args...),
		env:       append([]string(nil), cfg.Env...),
		timeout:   timeout,
	}
}

// Name identifies the backend in logs and the run journal.
func (c *Classifier) Name() string {
	return "local"
}

// Classify sends the whole batch to the model in a single invocation.
// Any failure degrades the batch to no-suggestion results; only context
// cancellation is returned as an error.
func (c *Classifier) Classify(ctx context.Context, transactions []model.Transaction, cat *catalog.Catalog) ([]model.ClassificationResult, error) {
	if len(transactions) == 0 {
		return []model.ClassificationResult{}, nil
	}

	if !c.modelExists() {
		c.warnOnce.Do(func() {
			c.logger.Warn("Local model not trained, skipping classification",
				"model", c.modelPath,
				"error", common.ErrModelNotTrained)
		})
		return classification.Degraded(transactions), nil
	}

	predictions, err := c.predict(ctx, transactions)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("Local model prediction failed", "error", err)
		return classification.Degraded(transactions), nil
	}

	results, stats := classification.Reconcile(transactions, predictions, cat.ByID)
	if stats.Ignored() > 0 || stats.Unresolved > 0 {
		c.logger.Warn("Some predictions were discarded",
			"out_of_range", stats.OutOfRange,
			"duplicate", stats.Duplicate,
			"invalid", stats.Invalid,
			"unknown_category", stats.Unresolved)
	}
	c.logger.Debug("Local model classified batch",
		"size", len(transactions),
		"matched", stats.Matched,
		"missing", stats.Missing)

	return results, nil
}

func (c *Classifier) modelExists() bool {
	info, err := os.Stat(c.modelPath)
	return err == nil && !info.IsDir()
}

type requestEntry struct {
	PayeeName     string `json:"payee_name"`
	ImportedPayee string `json:"imported_payee"`
	Notes         string `json:"notes"`
	Index         int    `json:"index"`
	Amount        int64  `json:"amount"`
}

type request struct {
	Transactions []requestEntry `json:"transactions"`
}

type responseEntry struct {
	CategoryID json.RawMessage       `json:"category_id"`
	Index      classification.Number `json:"index"`
	Confidence classification.Number `json:"confidence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func buildRequest(transactions []model.Transaction) request {
	req := request{Transactions: make([]requestEntry, len(transactions))}
	for i, txn := range transactions {
		req.Transactions[i] = requestEntry{
			Index:         i + 1,
			PayeeName:     txn.PayeeName,
			ImportedPayee: txn.ImportedPayee,
			Notes:         model.StripAnnotation(txn.Notes),
			Amount:        txn.Amount,
		}
	}
	return req
}

func (c *Classifier) predict(ctx context.Context, transactions []model.Transaction) ([]classification.Prediction, error) {
	input, err := json.Marshal(buildRequest(transactions))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	input = append(input, '\n')

	cmdCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, c.command, c.args...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	line := lastLine(stdout.String())

	if runErr != nil {
		if msg := errorMessage(line); msg != "" {
			return nil, fmt.Errorf("%w: %s", common.ErrBackendFailed, msg)
		}
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", common.ErrBackendFailed, c.timeout)
		}
		return nil, fmt.Errorf("%w: %w: %s", common.ErrBackendFailed, runErr, excerpt(stderr.String()))
	}

	return parseOutput(line)
}

// parseOutput decodes the model's final output line: either an array of
// predictions or an object carrying an error message.
func parseOutput(line string) ([]classification.Prediction, error) {
	if line == "" {
		return nil, fmt.Errorf("%w: empty output", common.ErrBackendFailed)
	}
	if msg := errorMessage(line); msg != "" {
		return nil, fmt.Errorf("%w: %s", common.ErrBackendFailed, msg)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("%w: unparsable output: %w", common.ErrBackendFailed, err)
	}

	predictions := make([]classification.Prediction, 0, len(raw))
	for _, element := range raw {
		var entry responseEntry
		if err := json.Unmarshal(element, &entry); err != nil {
			continue
		}
		predictions = append(predictions, classification.Prediction{
			Index:      entry.Index,
			Category:   categoryID(entry.CategoryID),
			Confidence: entry.Confidence,
		})
	}
	return predictions, nil
}

func categoryID(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return id
}

func errorMessage(line string) string {
	if !strings.HasPrefix(line, "{") {
		return ""
	}
	var resp errorResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return ""
	}
	return resp.Error
}

func lastLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrExcerpt {
		return s[len(s)-stderrExcerpt:]
	}
	return s
}
