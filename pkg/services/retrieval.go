package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"LimedAI/models"
	"LimedAI/pkg/cache"
	"LimedAI/pkg/embedding"
	"LimedAI/pkg/vector"

	"go.uber.org/zap"
)

// ErrRetrievalUnavailable marks a missing or corrupt vector index. The turn
// halts before generation; the user message stays persisted.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Retrieval loads per-textbook vector indexes and runs similarity searches.
// Loaded indexes are cached without expiry for the process lifetime.
type Retrieval struct {
	embedder embedding.Embedder
	indexes  *cache.Cache
	log      *zap.SugaredLogger
}

func NewRetrieval(embedder embedding.Embedder, indexes *cache.Cache, log *zap.SugaredLogger) *Retrieval {
	return &Retrieval{embedder: embedder, indexes: indexes, log: log}
}

// Load returns the vector index for the textbook, reusing a previously
// loaded one when possible. Idempotent and safe to call per message.
func (r *Retrieval) Load(ctx context.Context, tb *models.Textbook) (*vector.Index, error) {
	key := cache.KeyFromStrings("index", strconv.FormatUint(uint64(tb.ID), 10))
	if v, ok := r.indexes.Get(key); ok {
		if x, ok := v.(*vector.Index); ok {
			return x, nil
		}
	}

	x, err := vector.Load(tb.VectorIndexPath)
	if err != nil {
		return nil, fmt.Errorf("%w: textbook %d: %v", ErrRetrievalUnavailable, tb.ID, err)
	}
	if x.Dimensions() != r.embedder.Dimensions() {
		return nil, fmt.Errorf("%w: textbook %d: index dimensions %d, embedder %d",
			ErrRetrievalUnavailable, tb.ID, x.Dimensions(), r.embedder.Dimensions())
	}
	r.indexes.Set(key, x, 0)
	r.log.Infow("vector index loaded", "textbook", tb.ID, "fragments", x.Size())
	return x, nil
}

// Search embeds the standalone query and returns the top-k fragments ranked
// by similarity.
func (r *Retrieval) Search(ctx context.Context, x *vector.Index, query string, k int) ([]vector.Fragment, error) {
	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrRetrievalUnavailable, err)
	}
	hits, err := x.Search(qvec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	frags := make([]vector.Fragment, len(hits))
	for i, h := range hits {
		frags[i] = h.Fragment
	}
	return frags, nil
}
