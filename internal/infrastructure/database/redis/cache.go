package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/karin-compliance/internal/application/risk"
	"github.com/turtacn/karin-compliance/internal/domain/compliance"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
)

var ErrCacheMiss = errors.New(errors.ErrCodeNotFound, "cache miss")

// Cache stores JSON values under the client prefix.  TTLs get up to 10%
// jitter so that entries written together do not expire together.
type Cache struct {
	client    *Client
	namespace string
	logger    logging.Logger
	group     singleflight.Group
}

// NewCache returns a cache whose keys live under <prefix><namespace>:.
func NewCache(client *Client, namespace string, log logging.Logger) *Cache {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Cache{client: client, namespace: namespace, logger: log}
}

func (c *Cache) fullKey(key string) string {
	return c.client.Key("cache", c.namespace, key)
}

func jitterTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	span := int64(ttl) / 10
	if span <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(span))
}

// Get decodes the value stored under key into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	rdb, err := c.client.Universal()
	if err != nil {
		return err
	}
	data, err := rdb.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache read failed")
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "cache entry is not valid json")
	}
	return nil
}

// Set stores value under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	rdb, err := c.client.Universal()
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "cache value is not serializable")
	}
	if err := rdb.Set(ctx, c.fullKey(key), data, jitterTTL(ttl)).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache write failed")
	}
	return nil
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	rdb, err := c.client.Universal()
	if err != nil {
		return err
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.fullKey(k)
	}
	if err := rdb.Del(ctx, full...).Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "cache delete failed")
	}
	return nil
}

// GetOrLoad returns the cached value for key, or runs load once across
// concurrent callers and caches a non-nil result.  Cache failures fall
// through to load; only load errors are returned.
func (c *Cache) GetOrLoad(ctx context.Context, key string, dest interface{}, ttl time.Duration, load func(ctx context.Context) (interface{}, error)) (bool, error) {
	err := c.Get(ctx, key, dest)
	if err == nil {
		return true, nil
	}
	if err != ErrCacheMiss {
		c.logger.Warn("Cache read failed, loading directly", logging.String("key", key), logging.Err(err))
	}

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		v, loadErr := load(ctx)
		if loadErr != nil || v == nil {
			return v, loadErr
		}
		if setErr := c.Set(ctx, key, v, ttl); setErr != nil {
			c.logger.Warn("Failed to populate cache", logging.String("key", key), logging.Err(setErr))
		}
		return v, nil
	})
	if err != nil {
		return false, err
	}
	if val == nil {
		return false, ErrCacheMiss
	}
	data, err := json.Marshal(val)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeSerialization, "cache value is not serializable")
	}
	return false, json.Unmarshal(data, dest)
}

// CachedSignalSource memoizes an AI signal source by request content, so
// re-analysing an unchanged narrative does not call the scorer again.
type CachedSignalSource struct {
	next  risk.SignalSource
	cache *Cache
	ttl   time.Duration
}

var _ risk.SignalSource = (*CachedSignalSource)(nil)

// NewCachedSignalSource wraps next with a cache of the given ttl.
func NewCachedSignalSource(next risk.SignalSource, cache *Cache, ttl time.Duration) *CachedSignalSource {
	return &CachedSignalSource{next: next, cache: cache, ttl: ttl}
}

// Score returns the cached signal for an identical request or asks the
// wrapped source.  A nil signal is never cached.
func (s *CachedSignalSource) Score(ctx context.Context, req risk.SignalRequest) (*compliance.AISignal, error) {
	key, err := signalKey(req)
	if err != nil {
		return s.next.Score(ctx, req)
	}
	var sig compliance.AISignal
	_, err = s.cache.GetOrLoad(ctx, key, &sig, s.ttl, func(ctx context.Context) (interface{}, error) {
		out, err := s.next.Score(ctx, req)
		if err != nil || out == nil {
			return nil, err
		}
		return out, nil
	})
	if err == ErrCacheMiss {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

// signalKey hashes the narrative and metadata; the case ID is left out so
// that identical text scores once.
func signalKey(req risk.SignalRequest) (string, error) {
	payload, err := json.Marshal(struct {
		Narrative string            `json:"n"`
		Metadata  map[string]string `json:"m,omitempty"`
	}{req.Narrative, req.Metadata})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
