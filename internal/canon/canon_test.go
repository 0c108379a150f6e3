package canon

import (
	"strings"
	"testing"
)

func TestJSONSortsKeys(t *testing.T) {
	a, err := JSON(map[string]any{"b": 1, "a": 2, "c": 3})
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if a != `{"a":2,"b":1,"c":3}` {
		t.Errorf("unexpected canonical form: %s", a)
	}
}

func TestJSONStructMatchesMap(t *testing.T) {
	type payload struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	fromStruct, err := JSON(payload{B: 1, A: 2})
	if err != nil {
		t.Fatalf("json struct: %v", err)
	}
	fromMap, err := JSON(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatalf("json map: %v", err)
	}
	if fromStruct != fromMap {
		t.Errorf("struct and map diverge: %s vs %s", fromStruct, fromMap)
	}
}

func TestJSONNoHTMLEscaping(t *testing.T) {
	got, err := JSON(map[string]string{"q": "a < b && c > d"})
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if strings.Contains(got, `<`) || strings.Contains(got, `&`) {
		t.Errorf("html escaping leaked into canonical form: %s", got)
	}
	if want := `{"q":"a < b && c > d"}`; got != want {
		t.Errorf("canonical form = %s, want %s", got, want)
	}
}

func TestIDStable(t *testing.T) {
	a := ID("card", "fact", "repo", "acme", "statement")
	b := ID("card", "fact", "repo", "acme", "statement")
	if a != b {
		t.Errorf("same parts produced different ids: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "card_") {
		t.Errorf("expected card_ prefix, got %s", a)
	}
	if len(a) != len("card_")+16 {
		t.Errorf("unexpected id length: %s", a)
	}

	c := ID("card", "fact", "repo", "acme", "other statement")
	if c == a {
		t.Error("different parts produced the same id")
	}
}

func TestSHA256Hex(t *testing.T) {
	got := SHA256Hex("")
	if got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("unexpected empty-string digest: %s", got)
	}
}
