package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/Vivekkumarprince1/vaani-sub000/internal/database"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/cache"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/constants"
	"github.com/Vivekkumarprince1/vaani-sub000/pkg/metrics"
)

// TranslationCache memoizes translation results keyed by normalized text and
// the language pair. Lookups go through the in-process LRU first, then Redis,
// so repeated phrases across speakers and restarts skip the provider round
// trip. Lookups never fail; a Redis outage just means misses.
type TranslationCache struct {
	local *cache.LRU
	redis *database.RedisClient
	ttl   time.Duration
}

// NewTranslationCache creates a two-tier translation cache. The Redis client
// is optional; with nil only the in-process tier is used.
func NewTranslationCache(capacity int, ttl time.Duration, redisClient *database.RedisClient) *TranslationCache {
	if capacity <= 0 {
		capacity = constants.TranslationCacheSize
	}
	if ttl <= 0 {
		ttl = constants.TranslationCacheTTL
	}
	return &TranslationCache{
		local: cache.NewLRU(capacity, ttl),
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get returns the cached translation for the text and language pair
func (c *TranslationCache) Get(ctx context.Context, text, sourceLang, targetLang string) (string, bool) {
	key := translationKey(text, sourceLang, targetLang)

	if v, ok := c.local.Get(key); ok {
		metrics.TranslationCacheTotal.WithLabelValues("memory", "hit").Inc()
		return v.(string), true
	}
	metrics.TranslationCacheTotal.WithLabelValues("memory", "miss").Inc()

	if c.redis == nil {
		return "", false
	}
	translated, err := c.redis.SafeGet(ctx, key).Result()
	if err != nil {
		metrics.TranslationCacheTotal.WithLabelValues("redis", "miss").Inc()
		return "", false
	}
	metrics.TranslationCacheTotal.WithLabelValues("redis", "hit").Inc()

	// Promote to the in-process tier for the next lookup
	c.local.Set(key, translated, 0)
	return translated, true
}

// Put stores a translation in both tiers
func (c *TranslationCache) Put(ctx context.Context, text, sourceLang, targetLang, translated string) {
	key := translationKey(text, sourceLang, targetLang)
	c.local.Set(key, translated, 0)
	if c.redis != nil {
		c.redis.SafeSet(ctx, key, translated, c.ttl)
	}
}

// Len returns the number of entries in the in-process tier
func (c *TranslationCache) Len() int {
	return c.local.Len()
}

// translationKey hashes the normalized text so arbitrarily long phrases map
// to fixed-size keys
func translationKey(text, sourceLang, targetLang string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return "translation:" + strings.ToLower(sourceLang) + ":" + strings.ToLower(targetLang) + ":" + hex.EncodeToString(sum[:16])
}
