// Redis-backed runtime state: capital protection mode, re-entry blocks and
// notification cooldowns. When Redis is unavailable the store falls back to
// an in-memory cache so trading continues without interruption.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"spot-trading-engine/internal/circuit"
	"spot-trading-engine/internal/logging"
)

const (
	// DefaultKeyPrefix namespaces every key this store writes
	DefaultKeyPrefix = "spot"

	// protectionTTLFloor keeps an already expired state readable briefly so
	// the expiry transition is still reported after a restart
	protectionTTLFloor = time.Minute
)

// RedisStateStore persists runtime state that must survive restarts
type RedisStateStore struct {
	client         *redis.Client
	prefix         string
	logger         *logging.Logger
	redisAvailable atomic.Bool

	cacheMu    sync.RWMutex
	protection *circuit.ProtectionState
	blocks     map[string]time.Time
	cooldowns  map[string]time.Time
}

// NewRedisStateStore creates a store. If client is nil, the store operates in
// memory-only mode.
func NewRedisStateStore(ctx context.Context, client *redis.Client, prefix string, logger *logging.Logger) *RedisStateStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &RedisStateStore{
		client:    client,
		prefix:    prefix,
		logger:    logger.WithComponent("RedisState"),
		blocks:    make(map[string]time.Time),
		cooldowns: make(map[string]time.Time),
	}

	if client == nil {
		s.logger.Info("No Redis client provided, using in-memory state only")
		return s
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		s.logger.Warn("Redis unavailable at startup, using in-memory state", "error", err)
	} else {
		s.logger.Info("Redis connected")
		s.redisAvailable.Store(true)
	}
	return s
}

// NewRedisClient builds a client from connection settings
func NewRedisClient(addr, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}

func (s *RedisStateStore) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStateStore) useRedis() bool {
	return s.client != nil && s.redisAvailable.Load()
}

func (s *RedisStateStore) markDown(op string, err error) {
	if s.redisAvailable.Swap(false) {
		s.logger.Warn("Redis error, falling back to in-memory state", "op", op, "error", err)
	}
}

// IsRedisAvailable returns whether Redis is currently available
func (s *RedisStateStore) IsRedisAvailable() bool {
	return s.redisAvailable.Load()
}

// CheckRedisConnection performs a health check and updates availability status
func (s *RedisStateStore) CheckRedisConnection(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("no Redis client configured")
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.redisAvailable.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if !s.redisAvailable.Swap(true) {
		s.logger.Info("Redis connection recovered")
	}
	return nil
}

// ============================================================================
// PROTECTION STATE
// ============================================================================

// SaveProtection stores the protection state until it expires
func (s *RedisStateStore) SaveProtection(ctx context.Context, state circuit.ProtectionState) error {
	s.cacheMu.Lock()
	cp := state
	s.protection = &cp
	s.cacheMu.Unlock()

	if !s.useRedis() {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal protection state: %w", err)
	}
	ttl := time.Until(state.ExpiresAt)
	if !state.Active || ttl < protectionTTLFloor {
		ttl = protectionTTLFloor
	}
	if err := s.client.Set(ctx, s.key("protection"), data, ttl).Err(); err != nil {
		s.markDown("save protection", err)
	}
	return nil
}

// LoadProtection returns the stored protection state, nil when none exists
func (s *RedisStateStore) LoadProtection(ctx context.Context) (*circuit.ProtectionState, error) {
	if s.useRedis() {
		data, err := s.client.Get(ctx, s.key("protection")).Bytes()
		switch {
		case err == redis.Nil:
			return nil, nil
		case err != nil:
			s.markDown("load protection", err)
		default:
			var state circuit.ProtectionState
			if err := json.Unmarshal(data, &state); err != nil {
				return nil, fmt.Errorf("failed to unmarshal protection state: %w", err)
			}
			return &state, nil
		}
	}

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	if s.protection == nil {
		return nil, nil
	}
	cp := *s.protection
	return &cp, nil
}

// ============================================================================
// RE-ENTRY BLOCKS
// ============================================================================

// SaveBlock records that symbol may not be re-entered before until
func (s *RedisStateStore) SaveBlock(ctx context.Context, symbol string, until time.Time) error {
	if !until.After(time.Now()) {
		return s.DeleteBlock(ctx, symbol)
	}
	s.cacheMu.Lock()
	s.blocks[symbol] = until
	s.cacheMu.Unlock()

	if !s.useRedis() {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key("blocked"), symbol, until.UnixMilli())
	pipe.Set(ctx, s.key("blocked", symbol), until.UnixMilli(), time.Until(until))
	if _, err := pipe.Exec(ctx); err != nil {
		s.markDown("save block", err)
	}
	return nil
}

// DeleteBlock removes a re-entry block
func (s *RedisStateStore) DeleteBlock(ctx context.Context, symbol string) error {
	s.cacheMu.Lock()
	delete(s.blocks, symbol)
	s.cacheMu.Unlock()

	if !s.useRedis() {
		return nil
	}
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, s.key("blocked"), symbol)
	pipe.Del(ctx, s.key("blocked", symbol))
	if _, err := pipe.Exec(ctx); err != nil {
		s.markDown("delete block", err)
	}
	return nil
}

// LoadBlocks returns every unexpired re-entry block
func (s *RedisStateStore) LoadBlocks(ctx context.Context) (map[string]time.Time, error) {
	now := time.Now()
	out := make(map[string]time.Time)

	if s.useRedis() {
		raw, err := s.client.HGetAll(ctx, s.key("blocked")).Result()
		if err == nil {
			var expired []string
			for symbol, v := range raw {
				ms, perr := strconv.ParseInt(v, 10, 64)
				if perr != nil {
					expired = append(expired, symbol)
					continue
				}
				until := time.UnixMilli(ms)
				if until.After(now) {
					out[symbol] = until
				} else {
					expired = append(expired, symbol)
				}
			}
			if len(expired) > 0 {
				s.client.HDel(ctx, s.key("blocked"), expired...)
			}
			return out, nil
		}
		s.markDown("load blocks", err)
	}

	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	for symbol, until := range s.blocks {
		if until.After(now) {
			out[symbol] = until
		}
	}
	return out, nil
}

// ============================================================================
// COOLDOWNS
// ============================================================================

// AcquireCooldown reports whether key is outside its cooldown and, if so,
// starts a new one of length ttl.
func (s *RedisStateStore) AcquireCooldown(ctx context.Context, key string, ttl time.Duration) bool {
	if s.useRedis() {
		ok, err := s.client.SetNX(ctx, s.key("cooldown", key), 1, ttl).Result()
		if err == nil {
			return ok
		}
		s.markDown("acquire cooldown", err)
	}

	now := time.Now()
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if until, ok := s.cooldowns[key]; ok && now.Before(until) {
		return false
	}
	s.cooldowns[key] = now.Add(ttl)
	return true
}

// StateStats describes the store for status endpoints
type StateStats struct {
	RedisAvailable bool `json:"redis_available"`
	CachedBlocks   int  `json:"cached_blocks"`
	CachedCooldown int  `json:"cached_cooldowns"`
}

// GetStats returns statistics about the state store
func (s *RedisStateStore) GetStats() StateStats {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return StateStats{
		RedisAvailable: s.redisAvailable.Load(),
		CachedBlocks:   len(s.blocks),
		CachedCooldown: len(s.cooldowns),
	}
}
