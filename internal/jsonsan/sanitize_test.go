package jsonsan

import (
	"encoding/json"
	"testing"
)

type node struct {
	Name string
	Next *node
}

func TestSanitizeCircularPointer(t *testing.T) {
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	out := Sanitize(a)
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal sanitized value: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected non-empty output")
	}
}

func TestSanitizeCircularMap(t *testing.T) {
	m := map[string]any{"name": "root"}
	m["self"] = m

	out := Sanitize(m)
	asMap, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", out)
	}
	if asMap["self"] != Circular {
		t.Fatalf("expected circular sentinel, got %v", asMap["self"])
	}
	if _, err := json.Marshal(out); err != nil {
		t.Fatalf("marshal sanitized value: %v", err)
	}
}

func TestSanitizeByteSlice(t *testing.T) {
	out := Sanitize([]byte("hello"))
	s, ok := out.(string)
	if !ok || s != "hello" {
		t.Fatalf("expected string \"hello\", got %#v", out)
	}
}

func TestSanitizeSlice(t *testing.T) {
	out := Sanitize([]int{1, 2, 3})
	slice, ok := out.([]any)
	if !ok || len(slice) != 3 {
		t.Fatalf("expected []any of length 3, got %#v", out)
	}
}

func TestSanitizeJSONNeverErrors(t *testing.T) {
	cyclic := map[string]any{}
	cyclic["self"] = cyclic

	if _, err := SanitizeJSON(cyclic); err != nil {
		t.Fatalf("SanitizeJSON returned error for cyclic input: %v", err)
	}
}
