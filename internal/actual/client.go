// Package actual talks to an Actual Budget server through its HTTP API
// bridge (actual-http-api).
package actual

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Veraticus/actual-autocat/internal/common"
)

// Defaults for the Actual client.
const (
	DefaultLookbackDays = 90
	DefaultTimeout      = 30 * time.Second
)

// Config holds connection settings for the budget server.
type Config struct {
	ServerURL          string
	Password           string
	SyncID             string
	EncryptionPassword string
	LookbackDays       int
	Timeout            time.Duration
}

// APIError is a non-2xx response from the budget server.
type APIError struct {
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("actual API error (status %d): %s", e.Status, e.Message)
}

// Unwrap maps well-known statuses onto the common sentinels.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return common.ErrUnauthorized
	case e.Status == http.StatusNotFound:
		return common.ErrNotFound
	case e.Status == http.StatusConflict || strings.Contains(strings.ToLower(e.Message), "already exists"):
		return common.ErrDuplicateEntry
	default:
		return nil
	}
}

// Client is a session with one budget file on the server.
type Client struct {
	httpClient         *http.Client
	logger             *slog.Logger
	now                func() time.Time
	baseURL            string
	password           string
	syncID             string
	encryptionPassword string
	lookbackDays       int
	connected          bool
}

// NewClient creates a client. No request is made until Connect.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, fmt.Errorf("%w: actual server URL is required", common.ErrMissingConfig)
	}
	if _, err := url.ParseRequestURI(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("%w: invalid actual server URL %q: %w", common.ErrInvalidConfig, cfg.ServerURL, err)
	}
	if strings.TrimSpace(cfg.SyncID) == "" {
		return nil, fmt.Errorf("%w: actual sync id is required", common.ErrMissingConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	lookback := cfg.LookbackDays
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:            strings.TrimRight(cfg.ServerURL, "/"),
		password:           cfg.Password,
		syncID:             cfg.SyncID,
		encryptionPassword: cfg.EncryptionPassword,
		lookbackDays:       lookback,
		logger:             logger,
		now:                time.Now,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Connect verifies the server is reachable, the password is accepted and
// the budget exists.
func (c *Client) Connect(ctx context.Context) error {
	var accounts []wireAccount
	if err := c.do(ctx, http.MethodGet, c.budgetPath("accounts"), nil, &accounts); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%w: %s: %w", common.ErrBudgetNotFound, c.syncID, err)
		}
		return fmt.Errorf("failed to connect to budget server: %w", err)
	}

	c.connected = true
	c.logger.Info("Connected to budget server", "url", c.baseURL, "accounts", len(accounts))
	return nil
}

// Disconnect ends the session. It is safe to call more than once.
func (c *Client) Disconnect() {
	if !c.connected {
		return
	}
	c.connected = false
	c.httpClient.CloseIdleConnections()
	c.logger.Debug("Disconnected from budget server")
}

func (c *Client) budgetPath(parts ...string) string {
	escaped := make([]string, 0, len(parts)+3)
	escaped = append(escaped, "v1", "budgets", url.PathEscape(c.syncID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return "/" + strings.Join(escaped, "/")
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// do sends a request and decodes the "data" member of the reply into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	return c.send(ctx, method, path, query, nil, out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.password)
	if c.encryptionPassword != "" {
		req.Header.Set("budget-encryption-password", c.encryptionPassword)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("Budget server request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if decodeErr == nil {
			if env.Error != "" {
				msg = env.Error
			} else if env.Message != "" {
				msg = env.Message
			}
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to parse response: %w", decodeErr)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("response has no data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
