package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	lferrors "github.com/logflow/sessiongen/pkg/errors"
)

// RedisConfig configures the Redis ledger backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all manifest keys
	Prefix string

	// TTL is the time-to-live for manifest keys (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	PoolSize int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	if address == "" {
		address = "localhost:6379"
	}
	return RedisConfig{
		Address:  address,
		Prefix:   "sessiongen:runs:",
		Timeout:  5 * time.Second,
		PoolSize: 4,
	}
}

// RedisBackend stores manifests as JSON values with an index set of ids.
type RedisBackend struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisBackend connects to Redis and pings it.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to connect to Redis").WithContext("addr", cfg.Address)
	}

	return &RedisBackend{cfg: cfg, client: client}, nil
}

func (b *RedisBackend) key(id string) string {
	return b.cfg.Prefix + id
}

func (b *RedisBackend) indexKey() string {
	return b.cfg.Prefix + "index"
}

// Save persists a manifest.
func (b *RedisBackend) Save(ctx context.Context, m *Manifest) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := json.Marshal(m)
	if err != nil {
		return lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to marshal manifest")
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.key(m.ID), data, b.cfg.TTL)
	pipe.ZAdd(ctx, b.indexKey(), redis.Z{Score: float64(m.StartedAt.UnixNano()), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to save manifest to Redis").WithContext("id", m.ID)
	}
	return nil
}

// Load retrieves a manifest by ID.
func (b *RedisBackend) Load(ctx context.Context, id string) (*Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(id)
		}
		return nil, lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to load manifest from Redis").WithContext("id", id)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to unmarshal manifest").WithContext("id", id)
	}
	return &m, nil
}

// List returns all manifests, newest first. Index entries whose value
// expired are pruned.
func (b *RedisBackend) List(ctx context.Context) ([]*Manifest, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	ids, err := b.client.ZRevRange(ctx, b.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to read run index")
	}

	var out []*Manifest
	for _, id := range ids {
		m, err := b.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			b.client.ZRem(ctx, b.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sortNewestFirst(out)
	return out, nil
}

// Delete removes a manifest.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.key(id))
	pipe.ZRem(ctx, b.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return lferrors.Wrap(err, lferrors.CodeLedgerFailed, "failed to delete manifest from Redis").WithContext("id", id)
	}
	return nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string {
	return BackendRedis
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
