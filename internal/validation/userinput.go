package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Field is one user-entered form value.
type Field struct {
	Name  string
	Value string
}

// ErrInvalidUserInput is returned when user input is not a flat object of scalars.
var ErrInvalidUserInput = errors.New("user input is not a flat object")

const userInputSchema = `{
  "type": "object",
  "additionalProperties": {"type": ["string", "number", "boolean"]}
}`

var userInputValidator = jsonschema.MustCompileString("user_input.json", userInputSchema)

// DecodeUserFields parses a user-input document into fields, in document key order.
// Numbers keep their literal text; booleans render as true/false. A syntax error is
// returned as is; a shape mismatch wraps ErrInvalidUserInput.
func DecodeUserFields(raw []byte) ([]Field, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse user input: %w", err)
	}
	if err := userInputValidator.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUserInput, err)
	}

	dec = json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil { // {
		return nil, fmt.Errorf("parse user input: %w", err)
	}
	var (
		fields []Field
		seen   = map[string]int{}
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse user input: %w", err)
		}
		name, _ := tok.(string)
		val, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse user input: %w", err)
		}
		var text string
		switch v := val.(type) {
		case string:
			text = v
		case json.Number:
			text = v.String()
		case bool:
			if v {
				text = "true"
			} else {
				text = "false"
			}
		default:
			return nil, fmt.Errorf("%w: field %q", ErrInvalidUserInput, name)
		}
		// Duplicate keys: last value wins, first position is kept.
		if i, ok := seen[name]; ok {
			fields[i].Value = text
			continue
		}
		seen[name] = len(fields)
		fields = append(fields, Field{Name: name, Value: text})
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) { // }
		return nil, fmt.Errorf("parse user input: %w", err)
	}
	return fields, nil
}
