// Package cache holds a Redis read-through cache for token ledger lookups.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultPrefix = "ledger"
	defaultTTL    = 30 * time.Second
)

// LedgerCache serves auth.TokenLookup from Redis and falls back to the
// wrapped lookup on a miss or any Redis error.
//
// Entries are stamped with a global generation counter. Invalidate bumps the
// counter, which orphans every cached entry at once.
type LedgerCache struct {
	rdb    *redis.Client
	next   auth.TokenLookup
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

type entry struct {
	Gen       int64     `json:"gen"`
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    uuid.UUID `json:"user_id"`
	Expired   bool      `json:"expired"`
	Revoked   bool      `json:"revoked"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewLedgerCache(rdb *redis.Client, next auth.TokenLookup, ttl time.Duration, logger zerolog.Logger) *LedgerCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &LedgerCache{
		rdb:    rdb,
		next:   next,
		ttl:    ttl,
		prefix: defaultPrefix,
		logger: logger.With().Str("component", "ledger_cache").Logger(),
	}
}

// Open parses a redis:// URL and verifies the server answers.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *LedgerCache) genKey() string {
	return c.prefix + ":gen"
}

func (c *LedgerCache) tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return c.prefix + ":tok:" + hex.EncodeToString(sum[:])
}

func (c *LedgerCache) FindByToken(ctx context.Context, token string) (auth.TokenRecord, error) {
	key := c.tokenKey(token)

	values, err := c.rdb.MGet(ctx, c.genKey(), key).Result()
	if err != nil {
		metrics.LedgerCacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Msg("ledger cache read failed, using database")
		return c.next.FindByToken(ctx, token)
	}

	gen := parseGen(values[0])
	if raw, ok := values[1].(string); ok {
		var cached entry
		if err := json.Unmarshal([]byte(raw), &cached); err == nil && cached.Gen == gen {
			metrics.LedgerCacheLookups.WithLabelValues("hit").Inc()
			return cached.record(token), nil
		}
	}
	metrics.LedgerCacheLookups.WithLabelValues("miss").Inc()

	rec, err := c.next.FindByToken(ctx, token)
	if err != nil {
		return rec, err
	}
	c.store(ctx, key, gen, rec)
	return rec, nil
}

func (c *LedgerCache) store(ctx context.Context, key string, gen int64, rec auth.TokenRecord) {
	ttl := c.ttl
	if remaining := time.Until(rec.ExpiresAt); remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	data, err := json.Marshal(entry{
		Gen:       gen,
		ID:        rec.ID,
		Type:      string(rec.Type),
		UserID:    rec.UserID,
		Expired:   rec.Expired,
		Revoked:   rec.Revoked,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	})
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("ledger cache write failed")
	}
}

// Invalidate orphans every cached entry.
func (c *LedgerCache) Invalidate(ctx context.Context) error {
	if err := c.rdb.Incr(ctx, c.genKey()).Err(); err != nil {
		return fmt.Errorf("invalidate ledger cache: %w", err)
	}
	return nil
}

// TokensRevoked lets the cache listen for committed revocations.
func (c *LedgerCache) TokensRevoked(ctx context.Context, count int64) {
	if err := c.Invalidate(ctx); err != nil {
		c.logger.Error().Err(err).Int64("revoked", count).Msg("ledger cache invalidation failed")
	}
}

func (e entry) record(token string) auth.TokenRecord {
	return auth.TokenRecord{
		ID:        e.ID,
		Token:     token,
		Type:      auth.TokenType(e.Type),
		UserID:    e.UserID,
		Expired:   e.Expired,
		Revoked:   e.Revoked,
		IssuedAt:  e.IssuedAt,
		ExpiresAt: e.ExpiresAt,
	}
}

func parseGen(value any) int64 {
	s, ok := value.(string)
	if !ok {
		return 0
	}
	gen, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return gen
}
