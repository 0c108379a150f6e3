// Package embedding provides the versioned embedding-provider
// interface, the deterministic local default, and vector similarity.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/tkwade/memdeck/internal/textutil"
)

// Vector is a float64 embedding vector.
type Vector = []float64

// Embedder generates embedding vectors from text. The model tag
// versions every stored vector; changing providers means migrating.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
	Model() string
}

// Cosine computes cosine similarity between two vectors.
func Cosine(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// --- Deterministic local provider ---

// HashEmbedder maps each token to a bucket by hashing "model:token" and
// accumulates counts, then normalizes. Deterministic for a given model
// tag, which is what replay verification depends on.
type HashEmbedder struct {
	model string
	dims  int
}

// NewHashEmbedder creates the deterministic local embedder.
func NewHashEmbedder(model string, dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return &HashEmbedder{model: model, dims: dims}
}

func (e *HashEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	vec := make(Vector, e.dims)
	for _, tok := range textutil.Tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(e.model))
		h.Write([]byte{':'})
		h.Write([]byte(tok))
		vec[h.Sum64()%uint64(e.dims)] += 1.0
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func (e *HashEmbedder) Dims() int     { return e.dims }
func (e *HashEmbedder) Model() string { return e.model }

// --- Ollama provider ---

// OllamaEmbedder uses a local Ollama instance for embeddings. It is the
// external black-box provider: vectors it produces are only comparable
// under its own model tag.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
// Default model: nomic-embed-text (768 dims), all-minilm (384 dims).
func NewOllamaEmbedder(model string) *OllamaEmbedder {
	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	dims := 768
	if model == "all-minilm" {
		dims = 384
	}
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Embedding, nil
}

func (e *OllamaEmbedder) Dims() int     { return e.dims }
func (e *OllamaEmbedder) Model() string { return "ollama:" + e.model }

// --- Factory ---

// ForModel returns the embedder for a stored model tag. Unknown tags
// fall back to the deterministic hash embedder salted with the tag, so
// vectors written under any tag stay comparable with query vectors
// computed under the same tag.
func ForModel(model string, dims int) Embedder {
	if len(model) > 7 && model[:7] == "ollama:" {
		return NewOllamaEmbedder(model[7:])
	}
	return NewHashEmbedder(model, dims)
}
