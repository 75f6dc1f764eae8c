package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bilalbayram/adplan/internal/observability"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheTTL = 15 * time.Minute
	cacheKeyPrefix  = "adplan:catalog:"
)

// CachedProvider keeps snapshots in Redis for TTL. Redis failures degrade to
// the inner provider.
type CachedProvider struct {
	Inner  Provider
	Redis  *redis.Client
	TTL    time.Duration
	Logger *slog.Logger
}

func NewCachedProvider(inner Provider, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{Inner: inner, Redis: client, TTL: ttl, Logger: observability.OrDiscard(logger)}
}

func cacheKey(accountID string) string {
	return cacheKeyPrefix + accountID
}

func (p *CachedProvider) Snapshot(ctx context.Context, accountID string) (*Snapshot, error) {
	logger := observability.OrDiscard(p.Logger)
	key := cacheKey(accountID)

	raw, err := p.Redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var snapshot Snapshot
		decodeErr := json.Unmarshal(raw, &snapshot)
		if decodeErr == nil {
			return &snapshot, nil
		}
		logger.Warn("discarding undecodable cached catalog", slog.String("account_id", accountID), slog.String("error", decodeErr.Error()))
	case errors.Is(err, redis.Nil):
	default:
		logger.Warn("catalog cache read failed", slog.String("account_id", accountID), slog.String("error", err.Error()))
	}

	snapshot, err := p.Inner.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	if err := p.Redis.Set(ctx, key, encoded, p.TTL).Err(); err != nil {
		logger.Warn("catalog cache write failed", slog.String("account_id", accountID), slog.String("error", err.Error()))
	}
	return snapshot, nil
}

// Invalidate drops the cached snapshot for accountID.
func (p *CachedProvider) Invalidate(ctx context.Context, accountID string) error {
	return p.Redis.Del(ctx, cacheKey(accountID)).Err()
}
