// Package cache mirrors the latest value of every metric into Redis, one hash
// per resource keyed by metric name.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"codeberg.org/mutker/bmctelemetry/internal/errors"
	"codeberg.org/mutker/bmctelemetry/internal/logger"
	"codeberg.org/mutker/bmctelemetry/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "bmctelemetry:"
	DefaultTTL = 5 * time.Minute
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // zero uses DefaultTTL
}

// Entry is the cached state of one metric
type Entry struct {
	Value     telemetry.Value `json:"value"`
	Health    string          `json:"health,omitempty"`
	Path      string          `json:"path,omitempty"`
	Units     string          `json:"units,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// RedisCache is a telemetry.Sink writing to Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewRedisCache connects and pings the server
func NewRedisCache(ctx context.Context, cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     4,
		MinIdleConns: 1,
		MaxRetries:   3,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.New().Wrap(ErrConnect, err).WithMessage("Failed to connect to Redis at " + cfg.Addr)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.New("cache"),
	}, nil
}

// Key returns the hash holding the metrics of resource
func Key(resource telemetry.ResourceInstance) string {
	return keyPrefix + resource.String()
}

// NewEntry builds the cached form of m
func NewEntry(m telemetry.Metric) Entry {
	e := Entry{Path: m.Path, Units: m.Units, Timestamp: m.Timestamp}
	if m.HasValue {
		e.Value = m.Value
	}
	if m.HasHealth {
		e.Health = m.Health.String()
	}
	return e
}

func (r *RedisCache) Publish(ctx context.Context, metrics []telemetry.Metric) error {
	errFactory := errors.New()

	if len(metrics) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	touched := make(map[string]struct{})

	for _, m := range metrics {
		key := Key(m.Resource)
		if m.Removed {
			pipe.HDel(ctx, key, m.Name)
			continue
		}

		data, err := json.Marshal(NewEntry(m))
		if err != nil {
			return errFactory.Wrap(ErrEncode, err)
		}
		pipe.HSet(ctx, key, m.Name, data)
		touched[key] = struct{}{}
	}

	for key := range touched {
		pipe.Expire(ctx, key, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}

	r.logger.Debug().Int("metrics", len(metrics)).Msg("Cached metrics")
	return nil
}

// Snapshot returns the cached metrics of resource keyed by metric name
func (r *RedisCache) Snapshot(ctx context.Context, resource telemetry.ResourceInstance) (map[string]Entry, error) {
	errFactory := errors.New()

	fields, err := r.client.HGetAll(ctx, Key(resource)).Result()
	if err != nil {
		return nil, errFactory.Wrap(ErrRead, err)
	}

	entries := make(map[string]Entry, len(fields))
	for name, raw := range fields {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			r.logger.Warn().Err(err).Str("metric", name).Msg("Skipping undecodable cache entry")
			continue
		}
		entries[name] = e
	}
	return entries, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
