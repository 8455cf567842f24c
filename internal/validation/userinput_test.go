package validation

import (
	"errors"
	"testing"
)

func TestDecodeUserFieldsKeepsOrderAndLiterals(t *testing.T) {
	fields, err := DecodeUserFields([]byte(`{"zeta": "z", "amount": 12.50, "count": 3, "paid": false, "alpha": ""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []Field{
		{"zeta", "z"},
		{"amount", "12.50"},
		{"count", "3"},
		{"paid", "false"},
		{"alpha", ""},
	}
	if len(fields) != len(want) {
		t.Fatalf("got %v", fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, fields[i], want[i])
		}
	}
}

func TestDecodeUserFieldsRejectsShape(t *testing.T) {
	for _, in := range []string{
		`[]`,
		`"name"`,
		`{"name": {"first": "John"}}`,
		`{"tags": ["a"]}`,
		`{"name": null}`,
	} {
		if _, err := DecodeUserFields([]byte(in)); !errors.Is(err, ErrInvalidUserInput) {
			t.Errorf("DecodeUserFields(%s): expected ErrInvalidUserInput, got %v", in, err)
		}
	}
}

func TestDecodeUserFieldsSyntaxError(t *testing.T) {
	_, err := DecodeUserFields([]byte(`{"name": `))
	if err == nil || errors.Is(err, ErrInvalidUserInput) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}

func TestDecodeUserFieldsEmptyObject(t *testing.T) {
	fields, err := DecodeUserFields([]byte(`{}`))
	if err != nil || len(fields) != 0 {
		t.Fatalf("expected no fields, got %v %v", fields, err)
	}
}

func TestDecodeUserFieldsValidatesNumberLiterals(t *testing.T) {
	fields, err := DecodeUserFields([]byte(`{"invoice": 12345678901234567890, "rate": 1e3, "discount": -0.25}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []Field{
		{"invoice", "12345678901234567890"},
		{"rate", "1e3"},
		{"discount", "-0.25"},
	}
	if len(fields) != len(want) {
		t.Fatalf("got %v", fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, fields[i], want[i])
		}
	}
}
