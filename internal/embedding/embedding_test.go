package embedding

import (
	"context"
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("Cosine(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder("hash-v1", 64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "run make lint before every push")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := e.Embed(ctx, "run make lint before every push")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 dims, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %f vs %f", i, a[i], b[i])
		}
	}

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 0.001 {
		t.Errorf("expected unit norm, got %f", math.Sqrt(norm))
	}
}

func TestHashEmbedderModelSalt(t *testing.T) {
	ctx := context.Background()
	a, _ := NewHashEmbedder("hash-v1", 64).Embed(ctx, "billing service owns invoices")
	b, _ := NewHashEmbedder("hash-v2", 64).Embed(ctx, "billing service owns invoices")
	if Cosine(a, b) > 0.999 {
		t.Error("expected different model tags to produce different vectors")
	}
}

func TestForModel(t *testing.T) {
	if got := ForModel("hash-v1", 64).Model(); got != "hash-v1" {
		t.Errorf("expected hash-v1, got %s", got)
	}
	if got := ForModel("ollama:all-minilm", 0).Model(); got != "ollama:all-minilm" {
		t.Errorf("expected ollama:all-minilm, got %s", got)
	}
	if dims := ForModel("ollama:all-minilm", 0).Dims(); dims != 384 {
		t.Errorf("expected 384 dims for all-minilm, got %d", dims)
	}
}

func TestCachedMatchesInner(t *testing.T) {
	inner := NewHashEmbedder("hash-v1", 64)
	cached, err := NewCached(inner, 16)
	if err != nil {
		t.Fatalf("new cached: %v", err)
	}
	defer cached.Close()

	ctx := context.Background()
	want, _ := inner.Embed(ctx, "prefer table driven tests")
	got, err := cached.Embed(ctx, "prefer table driven tests")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}
	if cached.Model() != "hash-v1" || cached.Dims() != 64 {
		t.Errorf("cached wrapper changed model/dims: %s/%d", cached.Model(), cached.Dims())
	}
}
