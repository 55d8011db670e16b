// Package vector provides the per-textbook similarity index: a flat file of
// embedded text fragments searched by brute-force inner product.
package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Fragment is a retrieved excerpt of source text.
type Fragment struct {
	Text         string `json:"text"`
	SourceOffset int64  `json:"sourceOffset"`
}

// SearchResult is a single similarity hit.
type SearchResult struct {
	Fragment
	Score float64
}

// Index holds embedded fragments for one textbook. It is effectively
// read-only after load and safe to share across concurrent searches.
type Index struct {
	dimensions int
	fragments  []Fragment
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewIndex creates an empty index with the given embedding dimension.
func NewIndex(dimensions int) (*Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &Index{dimensions: dimensions}, nil
}

func (x *Index) Dimensions() int { return x.dimensions }

// Size returns the number of fragments in the index.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.fragments)
}

// Add appends fragments with their embeddings.
func (x *Index) Add(fragments []Fragment, vectors [][]float32) error {
	if len(fragments) != len(vectors) {
		return fmt.Errorf("fragments and vectors length mismatch")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for i, f := range fragments {
		if len(vectors[i]) != x.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), x.dimensions)
		}
		vec := make([]float32, x.dimensions)
		copy(vec, vectors[i])
		x.fragments = append(x.fragments, f)
		x.vectors = append(x.vectors, vec)
	}
	return nil
}

// Search returns the top-k fragments by inner product (cosine similarity for
// normalized vectors), best first.
func (x *Index) Search(query []float32, k int) ([]SearchResult, error) {
	if len(query) != x.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), x.dimensions)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if k <= 0 || len(x.fragments) == 0 {
		return nil, nil
	}
	scores := make([]SearchResult, len(x.fragments))
	for i, vec := range x.vectors {
		var dot float64
		for j := 0; j < x.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		scores[i] = SearchResult{Fragment: x.fragments[i], Score: dot}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// maxFragmentBytes and maxFragments bound decoding; anything larger means a
// corrupt file. The count is checked before any allocation sized by it.
const (
	maxFragmentBytes = 1 << 24
	maxFragments     = 1 << 22
)

// Save persists the index. Format: dimensions (4), count (4), then per
// fragment: sourceOffset (8), textLen (4), text bytes, vector (dimensions*4).
// All integers little-endian.
func (x *Index) Save(path string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	if err := binary.Write(f, binary.LittleEndian, uint32(x.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(x.fragments))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, frag := range x.fragments {
		if err := binary.Write(f, binary.LittleEndian, uint64(frag.SourceOffset)); err != nil {
			return fmt.Errorf("write offset: %w", err)
		}
		textBytes := []byte(frag.Text)
		if err := binary.Write(f, binary.LittleEndian, uint32(len(textBytes))); err != nil {
			return fmt.Errorf("write text len: %w", err)
		}
		if _, err := f.Write(textBytes); err != nil {
			return fmt.Errorf("write text: %w", err)
		}
		if _, err := f.Write(float32SliceToBytes(x.vectors[i])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads an index file. Missing or corrupt files return an error.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if dim == 0 || dim > 1<<16 {
		return nil, fmt.Errorf("invalid dimensions %d", dim)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	if n > maxFragments {
		return nil, fmt.Errorf("invalid fragment count %d", n)
	}

	x := &Index{
		dimensions: int(dim),
		fragments:  make([]Fragment, 0, n),
		vectors:    make([][]float32, 0, n),
	}
	vecBuf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		var offset uint64
		if err := binary.Read(f, binary.LittleEndian, &offset); err != nil {
			return nil, fmt.Errorf("read offset: %w", err)
		}
		var textLen uint32
		if err := binary.Read(f, binary.LittleEndian, &textLen); err != nil {
			return nil, fmt.Errorf("read text len: %w", err)
		}
		if textLen > maxFragmentBytes {
			return nil, fmt.Errorf("invalid text length %d", textLen)
		}
		textBytes := make([]byte, textLen)
		if _, err := io.ReadFull(f, textBytes); err != nil {
			return nil, fmt.Errorf("read text: %w", err)
		}
		if _, err := io.ReadFull(f, vecBuf); err != nil {
			return nil, fmt.Errorf("read vector: %w", err)
		}
		x.fragments = append(x.fragments, Fragment{Text: string(textBytes), SourceOffset: int64(offset)})
		x.vectors = append(x.vectors, bytesToFloat32Slice(vecBuf))
	}
	return x, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
