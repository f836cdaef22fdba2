package research

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
)

// CachedSearcher keeps successful provider responses in an in-process
// ristretto cache keyed by the normalised query. Failures are never cached.
type CachedSearcher struct {
	next   Searcher
	c      *ristretto.Cache[string, []byte]
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedSearcher wraps next. maxCostBytes bounds the total size of cached responses.
func NewCachedSearcher(next Searcher, maxCostBytes int64, ttl time.Duration, logger *zap.Logger) (*CachedSearcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	counters := maxCostBytes / 100 * 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedSearcher{next: next, c: c, ttl: ttl, logger: logger}, nil
}

func cacheKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Search serves query from the cache or forwards it to the wrapped searcher.
func (s *CachedSearcher) Search(ctx context.Context, query string) (*SearchResponse, error) {
	key := cacheKey(query)
	if data, ok := s.c.Get(key); ok {
		var resp SearchResponse
		if err := json.Unmarshal(data, &resp); err == nil {
			s.logger.Debug("Research cache hit", zap.String("query", key))
			return &resp, nil
		}
		s.c.Del(key)
	}

	resp, err := s.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(resp); err == nil {
		s.c.SetWithTTL(key, data, int64(len(data)), s.ttl)
	}
	return resp, nil
}

// Configured forwards to the wrapped searcher when it reports configuration.
func (s *CachedSearcher) Configured() bool {
	if c, ok := s.next.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return s.next != nil
}

// Wait blocks until pending cache writes are applied.
func (s *CachedSearcher) Wait() { s.c.Wait() }

// Close releases the cache.
func (s *CachedSearcher) Close() { s.c.Close() }
