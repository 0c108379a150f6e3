package textutil

import (
	"math"
	"strings"
	"testing"
)

func TestTokenizeDropsStopwords(t *testing.T) {
	got := Tokenize("The billing service is in the repo")
	want := []string{"billing", "service", "repo"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestNormalizeStatement(t *testing.T) {
	got := NormalizeStatement("  hello   world\n\tagain ", 280)
	if got != "hello world again" {
		t.Errorf("expected collapsed whitespace, got %q", got)
	}

	long := strings.Repeat("x", 300)
	got = NormalizeStatement(long, 280)
	if len(got) != 280 {
		t.Errorf("expected length 280, got %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("expected ellipsis suffix on truncation")
	}
}

func TestJaccard(t *testing.T) {
	if got := Jaccard("billing service", "billing service"); got != 1.0 {
		t.Errorf("identical statements: expected 1.0, got %v", got)
	}
	if got := Jaccard("billing service", "grafana dashboards"); got != 0.0 {
		t.Errorf("disjoint statements: expected 0.0, got %v", got)
	}
	got := Jaccard("billing service owns invoices", "billing handles invoices")
	if got <= 0 || got >= 1 {
		t.Errorf("partial overlap: expected value in (0,1), got %v", got)
	}
}

func TestTokenCosine(t *testing.T) {
	if got := TokenCosine("alpha beta", "alpha beta"); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("identical statements: expected 1.0, got %v", got)
	}
	if got := TokenCosine("alpha beta", "gamma delta"); got != 0.0 {
		t.Errorf("disjoint statements: expected 0.0, got %v", got)
	}
}

func TestHasFailureSignal(t *testing.T) {
	if !HasFailureSignal("make: *** [test] Error 2") {
		t.Error("expected failure signal in error output")
	}
	if !HasFailureSignal("request timeout after 30s") {
		t.Error("expected failure signal in timeout output")
	}
	if HasFailureSignal("all checks passed") {
		t.Error("did not expect failure signal in clean output")
	}
}

func TestTopicKey(t *testing.T) {
	if got := TopicKey("please use tabs for indentation"); got != "please" {
		t.Errorf("expected please, got %s", got)
	}
	if got := TopicKey("go is ok"); got != "go" {
		t.Errorf("expected first-token fallback go, got %s", got)
	}
	if got := TopicKey(""); got != "general" {
		t.Errorf("expected general, got %s", got)
	}
}
