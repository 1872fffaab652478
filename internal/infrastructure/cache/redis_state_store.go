package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStateStore implements accounting.StateStore using Redis. Nonces are
// stored under a tenant-scoped key with a TTL; Consume uses GETDEL so a
// nonce redeems at most once even across multiple instances.
type RedisStateStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisStateStore creates a new Redis-based OAuth state store
func NewRedisStateStore(cfg RedisConfig) (*RedisStateStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStateStore{
		client:    client,
		keyPrefix: "accounting:oauth:state:",
	}, nil
}

// NewRedisStateStoreWithClient creates a store with an existing Redis client
func NewRedisStateStoreWithClient(client *redis.Client, keyPrefix string) *RedisStateStore {
	if keyPrefix == "" {
		keyPrefix = "accounting:oauth:state:"
	}
	return &RedisStateStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisStateStore) key(tenantID uuid.UUID, state string) string {
	return s.keyPrefix + tenantID.String() + ":" + state
}

// Put stores a nonce for a tenant with the given TTL
func (s *RedisStateStore) Put(ctx context.Context, tenantID uuid.UUID, state string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(tenantID, state), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}
	return nil
}

// Consume atomically checks and deletes a nonce. Returns true only if the
// nonce existed for this tenant and had not expired.
func (s *RedisStateStore) Consume(ctx context.Context, tenantID uuid.UUID, state string) (bool, error) {
	_, err := s.client.GetDel(ctx, s.key(tenantID, state)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	return true, nil
}

// Close releases the underlying Redis client
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}
