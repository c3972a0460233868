package jsonflex

import (
	"errors"
	"testing"
)

type probe struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestUnmarshalPlain(t *testing.T) {
	var p probe
	if err := Unmarshal([]byte(`{"name":"a","count":2}`), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Name != "a" || p.Count != 2 {
		t.Fatalf("got %+v", p)
	}
}

func TestUnmarshalFenced(t *testing.T) {
	raw := "Here is the plan:\n```json\n{\"name\": \"b\", \"count\": 7}\n```\nLet me know."
	var p probe
	if err := Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Name != "b" || p.Count != 7 {
		t.Fatalf("got %+v", p)
	}
}

func TestUnmarshalProseWrapped(t *testing.T) {
	raw := `The result is {"name":"c","count":1} as requested.`
	var p probe
	if err := Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Name != "c" {
		t.Fatalf("got %+v", p)
	}
}

func TestUnmarshalNestedBraces(t *testing.T) {
	raw := "```\n{\"name\": \"d {inner}\", \"count\": 3}\n```"
	var p probe
	if err := Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if p.Name != "d {inner}" || p.Count != 3 {
		t.Fatalf("got %+v", p)
	}
}

func TestUnmarshalArray(t *testing.T) {
	raw := "```json\n[\"x\", \"y\"]\n```"
	var xs []string
	if err := Unmarshal([]byte(raw), &xs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(xs) != 2 || xs[1] != "y" {
		t.Fatalf("got %v", xs)
	}
}

func TestUnmarshalNoJSON(t *testing.T) {
	var p probe
	err := Unmarshal([]byte("no structured content here"), &p)
	if !errors.Is(err, ErrNoJSON) {
		t.Fatalf("err = %v, want ErrNoJSON", err)
	}
}

func TestExtractUnbalanced(t *testing.T) {
	if got := Extract([]byte(`{"name": "truncated`)); got != nil {
		t.Fatalf("Extract = %q, want nil", got)
	}
}
