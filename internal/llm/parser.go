package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Veraticus/actual-autocat/internal/classification"
)

// responseShape names how a reply was interpreted.
type responseShape string

const (
	shapeArray        responseShape = "array"
	shapeResults      responseShape = "results"
	shapeFirstArray   responseShape = "first_array_field"
	shapeUnrecognized responseShape = "unrecognized"
)

type wireResult struct {
	Category   json.RawMessage       `json:"category"`
	Index      classification.Number `json:"index"`
	Confidence classification.Number `json:"confidence"`
}

// parseResults interprets a model reply. Accepted shapes, in order: a bare
// array, an object with a "results" array, an object whose first
// array-valued field holds the entries. Anything else yields no predictions.
func parseResults(content string) ([]classification.Prediction, responseShape) {
	data := []byte(cleanMarkdownWrapper(content))
	if !json.Valid(data) {
		return nil, shapeUnrecognized
	}

	trimmed := bytes.TrimSpace(data)
	switch trimmed[0] {
	case '[':
		return decodeEntries(trimmed), shapeArray
	case '{':
		fields, err := orderedFields(trimmed)
		if err != nil {
			return nil, shapeUnrecognized
		}
		for _, f := range fields {
			if f.key == "results" && isArray(f.value) {
				return decodeEntries(f.value), shapeResults
			}
		}
		for _, f := range fields {
			if isArray(f.value) {
				return decodeEntries(f.value), shapeFirstArray
			}
		}
	}

	return nil, shapeUnrecognized
}

// decodeEntries decodes array elements one by one so a single malformed
// element does not discard its siblings.
func decodeEntries(data []byte) []classification.Prediction {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	predictions := make([]classification.Prediction, 0, len(raw))
	for _, element := range raw {
		var entry wireResult
		if err := json.Unmarshal(element, &entry); err != nil {
			continue
		}
		predictions = append(predictions, classification.Prediction{
			Index:      entry.Index,
			Category:   categoryString(entry.Category),
			Confidence: entry.Confidence,
		})
	}
	return predictions
}

func categoryString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	if strings.EqualFold(strings.TrimSpace(s), "null") {
		return ""
	}
	return s
}

type field struct {
	key   string
	value json.RawMessage
}

// orderedFields returns top-level object members in document order.
func orderedFields(data []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object")
	}

	var fields []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key")
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		fields = append(fields, field{key: key, value: value})
	}

	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return fields, nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// cleanMarkdownWrapper strips a ```json fenced block around a reply.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	} else {
		content = strings.TrimPrefix(content, "json")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
