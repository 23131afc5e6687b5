package redis

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-mint-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyDistributionState = "distributor:state"
	keyPrefixSnapshot    = "distributor:snapshot:"
	keySchemaVersion     = "distributor:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Redis has no native prefix iteration, so roots are tracked in a set
	keySetSnapshots = "distributor:snapshots:index"

	operationTimeout = 5 * time.Second
)

// RedisPersistence is a persistence implementation using Redis, for deployments where
// several processes share one distribution.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "drop1:" gives "drop1:distributor:state"
	KeyPrefix string
}

// NewRedisPersistence creates a new Redis-backed persistence layer.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized", "address", cfg.Address, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	return rp, nil
}

// prefixKey adds the custom key prefix (if configured) to a key
func (r *RedisPersistence) prefixKey(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + key
}

func (r *RedisPersistence) snapshotKey(root common.Hash) string {
	return r.prefixKey(keyPrefixSnapshot + root.Hex())
}

// initSchema initializes or validates the schema version
func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, schemaKey, currentSchemaVersion, 0).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// SaveDistributionState persists the distribution state
func (r *RedisPersistence) SaveDistributionState(state *persistence.DistributionState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil DistributionState")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalDistributionState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal DistributionState: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefixKey(keyDistributionState), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save DistributionState: %w", err)
	}
	return nil
}

// LoadDistributionState retrieves the distribution state
func (r *RedisPersistence) LoadDistributionState() (*persistence.DistributionState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.prefixKey(keyDistributionState)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load DistributionState: %w", err)
	}

	state, err := persistence.UnmarshalDistributionState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal DistributionState: %w", err)
	}
	return state, nil
}

// SaveSnapshot stores a snapshot and indexes its root
func (r *RedisPersistence) SaveSnapshot(snapshot *types.DistributionSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("cannot save nil DistributionSnapshot")
	}
	root, err := snapshot.Root()
	if err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalSnapshot(snapshot)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.snapshotKey(root), data, 0)
	pipe.SAdd(ctx, r.prefixKey(keySetSnapshots), root.Hex())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", root.Hex(), err)
	}
	return nil
}

// LoadSnapshot retrieves the snapshot for root
func (r *RedisPersistence) LoadSnapshot(root common.Hash) (*types.DistributionSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.snapshotKey(root)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", root.Hex(), err)
	}

	return persistence.UnmarshalSnapshot(data)
}

// ListSnapshots returns every indexed root, ascending
func (r *RedisPersistence) ListSnapshots() ([]common.Hash, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	members, err := r.client.SMembers(ctx, r.prefixKey(keySetSnapshots)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	roots := make([]common.Hash, 0, len(members))
	for _, m := range members {
		root, err := types.ParseHash(m)
		if err != nil {
			r.logger.Sugar().Warnw("Skipping malformed snapshot index entry", "entry", m, "error", err)
			continue
		}
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool {
		return bytes.Compare(roots[i][:], roots[j][:]) < 0
	})
	return roots, nil
}

// DeleteSnapshot removes the snapshot for root and its index entry
func (r *RedisPersistence) DeleteSnapshot(root common.Hash) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.snapshotKey(root))
	pipe.SRem(ctx, r.prefixKey(keySetSnapshots), root.Hex())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", root.Hex(), err)
	}
	return nil
}

// Close shuts down the Redis client
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck pings Redis and checks the schema version key is present
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	exists, err := r.client.Exists(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("schema version not found - database may be corrupted")
	}
	return nil
}
