package parser

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/aluiziolira/go-soda-watch/models"
	"github.com/goccy/go-json"
)

// ErrUnexpectedShape indicates a successful response whose body is not a
// JSON array of records.
type ErrUnexpectedShape struct {
	Shape string
	Err   error
}

func (e ErrUnexpectedShape) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected response shape: %s: %v", e.Shape, e.Err)
	}
	return fmt.Sprintf("unexpected response shape: %s", e.Shape)
}

func (e ErrUnexpectedShape) Unwrap() error {
	return e.Err
}

// DecodePage splits a page body into its rows without interpreting them.
func DecodePage(body []byte) ([]models.Row, error) {
	shape := Shape(body)
	if shape != "array" {
		return nil, ErrUnexpectedShape{Shape: shape}
	}

	var rows []models.Row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, ErrUnexpectedShape{Shape: "invalid", Err: err}
	}
	if rows == nil {
		rows = []models.Row{}
	}
	return rows, nil
}

// Shape names the JSON kind of body from its first significant byte.
func Shape(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "empty"
	}
	switch c := trimmed[0]; {
	case c == '[':
		return "array"
	case c == '{':
		return "object"
	case c == '"':
		return "string"
	case c == 't' || c == 'f':
		return "bool"
	case c == 'n':
		return "null"
	case c == '-' || (c >= '0' && c <= '9'):
		return "number"
	default:
		return "invalid"
	}
}

// SampleKeys returns up to limit sorted key names of row. It is a schema
// sanity check for the run summary, not a contract.
func SampleKeys(row models.Row, limit int) ([]string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(row, &fields); err != nil {
		return nil, fmt.Errorf("row is not an object: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}
