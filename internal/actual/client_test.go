package actual

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/actual-autocat/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPassword = "secret"
	testSyncID   = "budget-1"
)

// fakeServer mimics the HTTP API bridge for a single budget.
type fakeServer struct {
	transactions map[string]string
	patches      []map[string]any
	rules        []map[string]any
	ruleStatus   int
	mu           sync.Mutex
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{
		ruleStatus: http.StatusCreated,
		transactions: map[string]string{
			"acc-checking": `[
				{"id":"t1","account":"acc-checking","date":"2024-03-01","amount":-4523,"payee":"p-wf","imported_payee":"WHOLEFDS #123","notes":"weekly","category":null,"is_parent":false},
				{"id":"t2","account":"acc-checking","date":"2024-03-05","amount":-1200,"payee":"p-shell","category":"cat-fuel","is_parent":false},
				{"id":"t3","account":"acc-checking","date":"2024-03-03","amount":-50000,"payee":"p-xfer","transfer_id":"t9","category":null},
				{"id":"t4","account":"acc-checking","date":"2024-03-04","amount":-3000,"category":null,"is_parent":true,"subtransactions":[
					{"id":"t4a","date":"2024-03-04","amount":-2000,"category":null,"notes":"split half"},
					{"id":"t4b","date":"2024-03-04","amount":-1000,"category":"cat-fuel"}
				]},
				{"id":"t5","account":"acc-checking","date":"2024-02-20","amount":-800,"payee":"p-unknown","imported_payee":"SQ *COFFEE","category":null}
			]`,
			"acc-offbudget": `[{"id":"t6","date":"2024-03-06","amount":-1,"category":null}]`,
			"acc-closed":    `[{"id":"t7","date":"2024-03-06","amount":-1,"category":null}]`,
		},
	}

	mux := http.NewServeMux()
	budget := "/v1/budgets/" + testSyncID

	mux.HandleFunc("GET "+budget+"/accounts", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, `[
			{"id":"acc-checking","name":"Checking","offbudget":false,"closed":false},
			{"id":"acc-offbudget","name":"Mortgage","offbudget":true,"closed":false},
			{"id":"acc-closed","name":"Old Card","offbudget":false,"closed":true}
		]`)
	})
	mux.HandleFunc("GET "+budget+"/categories", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, `[
			{"id":"cat-groceries","name":"Groceries","group_id":"g-food","is_income":false,"hidden":false},
			{"id":"cat-fuel","name":"Fuel","group_id":"g-auto","is_income":false,"hidden":true},
			{"id":"cat-salary","name":"Salary","group_id":"g-income","is_income":true},
			{"id":"cat-blank","name":"  ","group_id":"g-food"}
		]`)
	})
	mux.HandleFunc("GET "+budget+"/categorygroups", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, `[{"id":"g-food","name":"Food"},{"id":"g-auto","name":"Auto"}]`)
	})
	mux.HandleFunc("GET "+budget+"/payees", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, `[
			{"id":"p-wf","name":"Whole Foods"},
			{"id":"p-shell","name":"Shell"},
			{"id":"p-xfer","name":"Transfer: Savings","transfer_acct":"acc-savings"}
		]`)
	})
	mux.HandleFunc("GET "+budget+"/accounts/{account}/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("since_date") == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"since_date is required"}`))
			return
		}
		data, ok := fs.transactions[r.PathValue("account")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"account not found"}`))
			return
		}
		writeData(w, data)
	})
	mux.HandleFunc("PATCH "+budget+"/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		body["id"] = r.PathValue("id")
		fs.mu.Lock()
		fs.patches = append(fs.patches, body)
		fs.mu.Unlock()
		_, _ = w.Write([]byte(`{"message":"Transaction updated"}`))
	})
	mux.HandleFunc("POST "+budget+"/rules", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fs.mu.Lock()
		fs.rules = append(fs.rules, body)
		status := fs.ruleStatus
		fs.mu.Unlock()
		w.WriteHeader(status)
		if status == http.StatusCreated {
			_, _ = w.Write([]byte(`{"data":"rule-1"}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":"Rule already exists"}`))
	})

	auth := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"Invalid API key"}`))
			return
		}
		mux.ServeHTTP(w, r)
	})

	server := httptest.NewServer(auth)
	t.Cleanup(server.Close)
	return fs, server
}

func writeData(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"data":` + data + `}`))
}

func newTestClient(t *testing.T, serverURL string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{ServerURL: serverURL, Password: testPassword, SyncID: testSyncID}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	client.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	return client
}

func connectedClient(t *testing.T) (*fakeServer, *Client) {
	t.Helper()
	fs, server := newFakeServer(t)
	client := newTestClient(t, server.URL, nil)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(client.Disconnect)
	return fs, client
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		wantErr error
		name    string
		config  Config
	}{
		{name: "missing url", config: Config{SyncID: "x"}, wantErr: common.ErrMissingConfig},
		{name: "invalid url", config: Config{ServerURL: "not a url", SyncID: "x"}, wantErr: common.ErrInvalidConfig},
		{name: "missing sync id", config: Config{ServerURL: "http://localhost:5007"}, wantErr: common.ErrMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config, nil)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	client, err := NewClient(Config{ServerURL: "http://localhost:5007/", SyncID: "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5007", client.baseURL)
	assert.Equal(t, DefaultLookbackDays, client.lookbackDays)
}

func TestConnect(t *testing.T) {
	t.Run("wrong password", func(t *testing.T) {
		_, server := newFakeServer(t)
		client := newTestClient(t, server.URL, func(c *Config) { c.Password = "wrong" })

		err := client.Connect(context.Background())
		require.ErrorIs(t, err, common.ErrUnauthorized)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
		assert.Equal(t, "Invalid API key", apiErr.Message)
	})

	t.Run("unknown budget", func(t *testing.T) {
		_, server := newFakeServer(t)
		client := newTestClient(t, server.URL, func(c *Config) { c.SyncID = "missing" })

		err := client.Connect(context.Background())
		require.ErrorIs(t, err, common.ErrBudgetNotFound)
	})

	t.Run("unreachable", func(t *testing.T) {
		client := newTestClient(t, "http://127.0.0.1:1", nil)
		require.Error(t, client.Connect(context.Background()))
	})

	t.Run("operations require a connection", func(t *testing.T) {
		_, server := newFakeServer(t)
		client := newTestClient(t, server.URL, nil)

		_, err := client.GetCategories(context.Background())
		require.ErrorIs(t, err, common.ErrNotConnected)

		require.NoError(t, client.Connect(context.Background()))
		client.Disconnect()
		client.Disconnect()

		err = client.CreateRule(context.Background(), "x", "y")
		require.ErrorIs(t, err, common.ErrNotConnected)
	})
}

func TestGetCategories(t *testing.T) {
	_, client := connectedClient(t)

	categories, err := client.GetCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 2)

	assert.Equal(t, "cat-groceries", categories[0].ID)
	assert.Equal(t, "Food", categories[0].GroupName)
	assert.Equal(t, "Fuel", categories[1].Name)
	assert.True(t, categories[1].Hidden)
}

func TestGetTransactions(t *testing.T) {
	_, client := connectedClient(t)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	transactions, err := client.GetTransactions(context.Background(), "acc-checking", start, time.Time{})
	require.NoError(t, err)
	require.Len(t, transactions, 7)

	assert.Equal(t, "t4", transactions[3].ID)
	assert.True(t, transactions[3].IsParent)
	assert.Equal(t, "t4a", transactions[4].ID)
	assert.Equal(t, "acc-checking", transactions[4].AccountID)
	assert.Equal(t, int64(-2000), transactions[4].Amount)

	_, err = client.GetTransactions(context.Background(), "acc-missing", start, time.Time{})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestGetUncategorizedTransactions(t *testing.T) {
	_, client := connectedClient(t)

	transactions, err := client.GetUncategorizedTransactions(context.Background(), 0)
	require.NoError(t, err)

	ids := make([]string, len(transactions))
	for i, txn := range transactions {
		ids[i] = txn.ID
	}
	// Newest first; categorized, transfers, split parents, off-budget and
	// closed accounts are excluded.
	assert.Equal(t, []string{"t4a", "t1", "t5"}, ids)

	assert.Equal(t, "Whole Foods", transactions[1].PayeeName)
	assert.Equal(t, "WHOLEFDS #123", transactions[1].ImportedPayee)
	assert.Empty(t, transactions[2].PayeeName)
	assert.Equal(t, "SQ *COFFEE", transactions[2].ImportedPayee)

	limited, err := client.GetUncategorizedTransactions(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "t4a", limited[0].ID)
}

func TestUpdateTransactionCategory(t *testing.T) {
	fs, client := connectedClient(t)

	require.NoError(t, client.UpdateTransactionCategory(context.Background(), "t1", "cat-groceries", "weekly", 0.9))
	require.NoError(t, client.UpdateTransactionCategory(context.Background(), "t5", "cat-fuel", "", 0.876))

	require.Len(t, fs.patches, 2)

	first := fs.patches[0]
	assert.Equal(t, "t1", first["id"])
	txn, ok := first["transaction"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cat-groceries", txn["category"])
	assert.Equal(t, "weekly (Confidence: 90%)", txn["notes"])

	second, ok := fs.patches[1]["transaction"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "(Confidence: 88%)", second["notes"])
}

func TestCreateRule(t *testing.T) {
	fs, client := connectedClient(t)

	require.NoError(t, client.CreateRule(context.Background(), "Whole Foods", "cat-groceries"))
	require.Len(t, fs.rules, 1)

	rule, ok := fs.rules[0]["rule"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "and", rule["conditionsOp"])
	assert.Nil(t, rule["stage"])

	conditions, ok := rule["conditions"].([]any)
	require.True(t, ok)
	require.Len(t, conditions, 1)
	assert.Equal(t, map[string]any{"field": "imported_payee", "op": "is", "value": "Whole Foods"}, conditions[0])

	actions, ok := rule["actions"].([]any)
	require.True(t, ok)
	require.Len(t, actions, 1)
	assert.Equal(t, map[string]any{"field": "category", "op": "set", "value": "cat-groceries"}, actions[0])

	fs.ruleStatus = http.StatusConflict
	err := client.CreateRule(context.Background(), "Whole Foods", "cat-groceries")
	require.ErrorIs(t, err, common.ErrDuplicateEntry)

	fs.ruleStatus = http.StatusInternalServerError
	err = client.CreateRule(context.Background(), "Whole Foods", "cat-groceries")
	require.ErrorIs(t, err, common.ErrDuplicateEntry, "an 'already exists' message is a duplicate regardless of status")
}

func TestEncryptionPasswordHeader(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("budget-encryption-password")
		writeData(w, `[]`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(c *Config) { c.EncryptionPassword = "e2e" })
	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, "e2e", got)
}

func TestAPIErrorUnwrap(t *testing.T) {
	tests := []struct {
		want error
		err  *APIError
	}{
		{err: &APIError{Status: 401}, want: common.ErrUnauthorized},
		{err: &APIError{Status: 403}, want: common.ErrUnauthorized},
		{err: &APIError{Status: 404}, want: common.ErrNotFound},
		{err: &APIError{Status: 409}, want: common.ErrDuplicateEntry},
		{err: &APIError{Status: 400, Message: "payee rule already exists"}, want: common.ErrDuplicateEntry},
		{err: &APIError{Status: 500, Message: "boom"}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Unwrap())
		})
	}
}
