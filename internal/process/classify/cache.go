package classify

import (
	"context"
	"crypto/sha1" //nolint:gosec // cache key, not a security boundary
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lueurxax/incident-crawler/internal/platform/observability"
)

const (
	cacheKeyPrefix  = "classify:"
	defaultCacheTTL = 30 * 24 * time.Hour
)

// CachedClassifier memoizes a Scorer in Redis, keyed by the text and label
// set. Cache failures are logged and never fail the call.
type CachedClassifier struct {
	next   Scorer
	redis  redis.Cmdable
	ttl    time.Duration
	logger *zerolog.Logger
}

// NewCachedClassifier wraps next. A non-positive ttl uses the default.
func NewCachedClassifier(next Scorer, rdb redis.Cmdable, ttl time.Duration, logger *zerolog.Logger) *CachedClassifier {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &CachedClassifier{next: next, redis: rdb, ttl: ttl, logger: logger}
}

// Score implements Scorer.
func (c *CachedClassifier) Score(ctx context.Context, text string, labels []string) ([]ModelScores, error) {
	key := cacheKey(text, labels)

	if cached, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var out []ModelScores
		if err := json.Unmarshal(cached, &out); err == nil && len(out) > 0 {
			observability.ClassifierCacheHits.Inc()
			return out, nil
		}

		c.logger.Warn().Str("cache_key", key).Msg("discarding undecodable classification cache entry")
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Msg("classification cache read failed")
	}

	out, err := c.next.Score(ctx, text, labels)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal classification cache entry: %w", err)
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("classification cache write failed")
	}

	return out, nil
}

func cacheKey(text string, labels []string) string {
	sum := sha1.Sum([]byte(text + "|" + strings.Join(labels, "\x1f"))) //nolint:gosec // cache key

	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
