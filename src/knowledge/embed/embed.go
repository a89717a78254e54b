// Package embed provides pluggable text-embedding providers. Retrieval
// degrades gracefully when a provider fails, so every implementation returns
// an explicit error instead of panicking or blocking.
package embed

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrUnavailable is returned when the provider cannot be reached or is not
// configured. Callers treat it as a soft failure: vector scores drop to zero
// and text matching carries the search.
var ErrUnavailable = errors.New("embedding provider unavailable")

// maxEmbedChars bounds the text sent to providers; entity descriptions are
// short but raw turns can be arbitrarily long.
const maxEmbedChars = 8000

// Truncate clips text to the provider input bound on a rune boundary.
func Truncate(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	runes := []rune(text)
	if len(runes) > maxEmbedChars {
		runes = runes[:maxEmbedChars]
	}
	return string(runes)
}

// DummyEmbedder is the deterministic fallback used in tests and when no
// provider is configured.
type DummyEmbedder struct{}

func (DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text), nil
}

// DummyEmbedding hashes bytes into a fixed 768-dim vector. Similar strings
// land near each other, which is enough for deterministic tests.
func DummyEmbedding(text string) []float32 {
	vec := make([]float32, 768)
	for i, ch := range []byte(text) {
		vec[i%768] += float32(ch) / 255.0
	}
	return vec
}

// AutoEmbedder chooses a provider from env:
// NEUROFLOW_EMBED_PROVIDER=openai|google|gemini|ollama|voyage
// NEUROFLOW_EMBED_MODEL=<model string>
// Falls back to DummyEmbedder when nothing is configured.
func AutoEmbedder() Embedder {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("NEUROFLOW_EMBED_PROVIDER")))
	model := strings.TrimSpace(os.Getenv("NEUROFLOW_EMBED_MODEL"))

	switch provider {
	case "openai":
		if e, err := NewOpenAIEmbedder(model); err == nil {
			return e
		}
	case "google", "gemini":
		if e, err := NewGeminiEmbedder(model); err == nil {
			return e
		}
	case "ollama":
		if e, err := NewOllamaEmbedder(model); err == nil {
			return e
		}
	case "voyage":
		if e, err := NewVoyageEmbedder(model); err == nil {
			return e
		}
	}

	log.Printf("embed: no provider configured, falling back to DummyEmbedder")
	return DummyEmbedder{}
}
