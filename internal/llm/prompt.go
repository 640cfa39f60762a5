package llm

import (
	"fmt"
	"strings"

	"github.com/Veraticus/actual-autocat/internal/model"
)

const systemPrompt = "You are a financial transaction categorizer. Respond with valid JSON only."

// buildPrompt enumerates a chunk with 1-based indices and lists every
// category the model may choose from.
func buildPrompt(transactions []model.Transaction, categories []string) string {
	var sb strings.Builder

	sb.WriteString("Categorize each of the following financial transactions into exactly one of the available categories.\n\n")

	sb.WriteString("Available categories:\n")
	for _, name := range categories {
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString("\n")
	}

	sb.WriteString("\nTransactions:\n")
	for i, txn := range transactions {
		fmt.Fprintf(&sb, "%d. Payee: %s | Amount: %s", i+1, model.PayeeDisplayName(txn), model.FormatAmount(txn.Amount))
		if notes := model.StripAnnotation(txn.Notes); notes != "" {
			fmt.Fprintf(&sb, " | Notes: %s", notes)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`
Return a JSON array with one object per transaction, in the form:
[{"index": 1, "category": "Exact Category Name", "confidence": 0.95}]

Rules:
- "index" is the transaction number from the list above.
- "category" must be copied exactly from the available categories, or null if none fits.
- "confidence" is a number between 0 and 1.
- If your output must be a JSON object, wrap the array as {"results": [...]}.
`)

	return sb.String()
}
