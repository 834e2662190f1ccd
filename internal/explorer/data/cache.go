package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/go-redis/redis/v8"
)

const cacheKeyPrefix = "anomaly-explorer:data:"

// cacheKey identifies the data of a configuration across refreshes.
func (l *Loader) cacheKey(cfg LoadConfig) (string, error) {
	cfg.LastRefresh = 0
	key, err := cfg.Key()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(key))
	return cacheKeyPrefix + hex.EncodeToString(sum[:]), nil
}

func (l *Loader) fromCache(ctx context.Context, key string) (*ExplorerData, bool) {
	if l.cache == nil {
		return nil, false
	}

	b, err := l.cache.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.Warn("Could not read explorer data from cache", "err", err)
		return nil, false
	}

	var d ExplorerData
	if err := json.Unmarshal(b, &d); err != nil {
		slog.Warn("Ignoring invalid cached explorer data", "key", key, "err", err)
		return nil, false
	}
	slog.Debug("Explorer data read from cache", "key", key)
	return &d, true
}

func (l *Loader) toCache(ctx context.Context, key string, d *ExplorerData) {
	if l.cache == nil {
		return
	}

	b, err := json.Marshal(d)
	if err != nil {
		slog.Warn("Could not encode explorer data for cache", "err", err)
		return
	}
	if err := l.cache.Set(ctx, key, b, l.ttl).Err(); err != nil {
		slog.Warn("Could not write explorer data to cache", "err", err)
	}
}
