// Package llm implements the remote classification backend. Transactions are
// sent in fixed-size chunks to an OpenAI-compatible chat completions
// endpoint, and the JSON replies are reconciled with the chunk by index.
package llm
