package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"

	"elliott-backtester/config"
	"elliott-backtester/internal/market"
)

// CandleCache stores parsed candle series in Redis. Keys carry a digest of
// the raw CSV bytes, so an edited file can never serve a stale parse and no
// explicit invalidation is needed.
type CandleCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCandleCache connects to Redis. An empty address disables the cache;
// a connection failure degrades to the same disabled state rather than
// failing the run.
func NewCandleCache(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) *CandleCache {
	log := logger.With().Str("component", "candle_cache").Logger()
	cache := &CandleCache{ttl: cfg.TTL, logger: log}
	if cache.ttl <= 0 {
		cache.ttl = 24 * time.Hour
	}
	if cfg.Address == "" {
		log.Debug().Msg("Candle cache disabled")
		return cache
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Address).Msg("Redis unreachable, candle cache disabled")
		client.Close()
		return cache
	}

	cache.client = client
	log.Info().Str("addr", cfg.Address).Dur("ttl", cache.ttl).Msg("Candle cache connected")
	return cache
}

// Enabled reports whether a Redis connection is live.
func (c *CandleCache) Enabled() bool {
	return c != nil && c.client != nil
}

// CandleKey derives the cache key for one candle file from its raw bytes.
func CandleKey(symbol string, tf market.Timeframe, raw []byte) string {
	sum := blake2b.Sum256(raw)
	return fmt.Sprintf("candles:%s:%s:%s", symbol, tf, hex.EncodeToString(sum[:8]))
}

// Get returns the cached series for key. A miss, a connection error and a
// corrupt entry all report false.
func (c *CandleCache) Get(ctx context.Context, key string) (*market.Series, bool) {
	if !c.Enabled() {
		return nil, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return nil, false
	}
	var s market.Series
	if err := json.Unmarshal(data, &s); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache entry corrupt, ignoring")
		return nil, false
	}
	return &s, true
}

// Put stores a parsed series under key. Failures are logged and swallowed;
// the caller already holds the parsed series.
func (c *CandleCache) Put(ctx context.Context, key string, s *market.Series) {
	if !c.Enabled() || s == nil {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// Ping checks the Redis connection. A disabled cache is healthy.
func (c *CandleCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *CandleCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// CachedLoader reads candle files through the cache. The digest key means a
// cache hit is exactly the parse of the bytes currently on disk.
type CachedLoader struct {
	loader *market.Loader
	cache  *CandleCache
	logger zerolog.Logger
}

// NewCachedLoader wraps a file loader with a candle cache.
func NewCachedLoader(loader *market.Loader, cache *CandleCache, logger zerolog.Logger) *CachedLoader {
	return &CachedLoader{
		loader: loader,
		cache:  cache,
		logger: logger.With().Str("component", "cached_loader").Logger(),
	}
}

// Load reads and parses one candle file, consulting the cache first. A
// missing optional file loads as an empty series, mirroring the plain
// loader.
func (cl *CachedLoader) Load(ctx context.Context, symbol string, tf market.Timeframe, optional bool) (*market.Series, error) {
	raw, path, err := cl.loader.ReadFile(symbol, tf, optional)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return &market.Series{Symbol: symbol, Timeframe: tf}, nil
	}

	key := CandleKey(symbol, tf, raw)
	if s, ok := cl.cache.Get(ctx, key); ok {
		cl.logger.Debug().Str("symbol", symbol).Str("timeframe", string(tf)).Msg("Candle cache hit")
		return s, nil
	}

	s, err := market.Parse(symbol, tf, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cl.cache.Put(ctx, key, s)
	cl.logger.Debug().Str("symbol", symbol).Str("timeframe", string(tf)).Int("candles", s.Len()).Msg("Candle cache filled")
	return s, nil
}
