package vector

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"LimedAI/pkg/embedding"
)

func buildIndex(t *testing.T, texts []string) *Index {
	t.Helper()
	emb := embedding.NewMockEmbedder(64)
	vecs, err := emb.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	x, err := NewIndex(emb.Dimensions())
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	frags := make([]Fragment, len(texts))
	var off int64
	for i, txt := range texts {
		frags[i] = Fragment{Text: txt, SourceOffset: off}
		off += int64(len(txt))
	}
	if err := x.Add(frags, vecs); err != nil {
		t.Fatalf("add: %v", err)
	}
	return x
}

func TestSearchRanksExactMatchFirst(t *testing.T) {
	texts := []string{"细胞分裂的过程", "光合作用", "有丝分裂与减数分裂"}
	x := buildIndex(t, texts)

	emb := embedding.NewMockEmbedder(64)
	q, _ := emb.Embed(context.Background(), "光合作用")

	hits, err := x.Search(q, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Text != "光合作用" {
		t.Fatalf("expected exact text first, got %q", hits[0].Text)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Fatalf("hits not sorted by score: %v", hits)
		}
	}
}

func TestSearchKExceedingSize(t *testing.T) {
	x := buildIndex(t, []string{"one", "two"})
	emb := embedding.NewMockEmbedder(64)
	q, _ := emb.Embed(context.Background(), "one")

	hits, err := x.Search(q, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	texts := []string{"纲要一", "纲要二", "plain english fragment"}
	x := buildIndex(t, texts)

	path := filepath.Join(t.TempDir(), "book.index")
	if err := x.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Size() != x.Size() || loaded.Dimensions() != x.Dimensions() {
		t.Fatalf("size/dim mismatch after load")
	}

	emb := embedding.NewMockEmbedder(64)
	q, _ := emb.Embed(context.Background(), "纲要二")
	hits, err := loaded.Search(q, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "纲要二" {
		t.Fatalf("unexpected hit after reload: %#v", hits)
	}
	if hits[0].SourceOffset != int64(len("纲要一")) {
		t.Fatalf("source offset lost: %d", hits[0].SourceOffset)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.index")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.index")
	if err := os.WriteFile(path, []byte("definitely not an index"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestLoadRejectsOversizedCount(t *testing.T) {
	// valid dimensions followed by an absurd fragment count and no records
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], 64)
	binary.LittleEndian.PutUint32(header[4:8], 1<<31)

	path := filepath.Join(t.TempDir(), "huge.index")
	if err := os.WriteFile(path, header, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for oversized fragment count")
	}
}
