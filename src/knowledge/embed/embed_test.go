package embed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDummyEmbeddingDeterministic(t *testing.T) {
	a := DummyEmbedding("hello")
	b := DummyEmbedding("hello")
	if len(a) != 768 {
		t.Fatalf("expected 768 dims, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("expected deterministic embedding")
		}
	}
}

func TestTruncate(t *testing.T) {
	short := "hello"
	if Truncate(short) != short {
		t.Fatal("expected short text untouched")
	}
	long := strings.Repeat("x", 20000)
	if got := Truncate(long); len(got) != 8000 {
		t.Fatalf("expected 8000 chars, got %d", len(got))
	}
}

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text))}, nil
}

func TestCachedEmbedderMemoizes(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachedEmbedder(inner, 10, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := cached.Embed(context.Background(), "python"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single provider call, got %d", inner.calls)
	}
	if _, err := cached.Embed(context.Background(), "golang"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected a second provider call, got %d", inner.calls)
	}
}

func TestCachedEmbedderDoesNotCacheFailures(t *testing.T) {
	inner := &countingEmbedder{err: ErrUnavailable}
	cached := NewCachedEmbedder(inner, 10, time.Hour)

	for i := 0; i < 2; i++ {
		if _, err := cached.Embed(context.Background(), "python"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("expected failures to bypass the cache, got %d calls", inner.calls)
	}
}
