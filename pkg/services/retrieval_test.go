package services

import (
	"context"
	"errors"
	"os"
	"testing"
)

func TestLoadReusesCachedIndex(t *testing.T) {
	f := newFixture(t)
	tb := f.addTextbook(t, "bio", []string{"细胞分裂是生物体生长的基础。"})

	first, err := f.retrieval.Load(context.Background(), tb)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// a second load must not touch the file again
	if err := os.Remove(tb.VectorIndexPath); err != nil {
		t.Fatal(err)
	}
	second, err := f.retrieval.Load(context.Background(), tb)
	if err != nil {
		t.Fatalf("cached load: %v", err)
	}
	if first != second {
		t.Fatal("expected the cached index instance")
	}
}

func TestLoadMissingIndexIsRetrievalUnavailable(t *testing.T) {
	f := newFixture(t)
	tb := f.addTextbook(t, "missing", nil)

	_, err := f.retrieval.Load(context.Background(), tb)
	if !errors.Is(err, ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}
}
