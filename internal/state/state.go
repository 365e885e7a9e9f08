package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"climatology/harvester/internal/domain"

	"github.com/redis/go-redis/v9"
)

// StateManager remembers the last result of every unit across runs.
type StateManager interface {
	SaveResult(ctx context.Context, result *domain.UnitResult) error
	// GetResult returns nil without error when the unit has never been recorded.
	GetResult(ctx context.Context, unitKey string) (*domain.UnitResult, error)
	ListResults(ctx context.Context) ([]*domain.UnitResult, error)
}

type redisStateManager struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
}

// NewRedisStateManager stores results as JSON under <prefix>:unit:<key> and indexes the keys in
// the <prefix>:units set. A zero ttl keeps results forever.
func NewRedisStateManager(redisClient *redis.Client, prefix string, ttl time.Duration) StateManager {
	if prefix == "" {
		prefix = "harvester"
	}
	return &redisStateManager{
		redisClient: redisClient,
		keyPrefix:   prefix,
		ttl:         ttl,
	}
}

func (s *redisStateManager) unitKey(key string) string {
	return s.keyPrefix + ":unit:" + key
}

func (s *redisStateManager) indexKey() string {
	return s.keyPrefix + ":units"
}

func (s *redisStateManager) SaveResult(ctx context.Context, result *domain.UnitResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result for unit %s: %w", result.Unit.Key, err)
	}

	pipe := s.redisClient.TxPipeline()
	pipe.Set(ctx, s.unitKey(result.Unit.Key), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), result.Unit.Key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save result for unit %s: %w", result.Unit.Key, err)
	}
	return nil
}

func (s *redisStateManager) GetResult(ctx context.Context, unitKey string) (*domain.UnitResult, error) {
	val, err := s.redisClient.Get(ctx, s.unitKey(unitKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Nothing recorded yet
		}
		return nil, fmt.Errorf("failed to get result for unit %s: %w", unitKey, err)
	}

	var result domain.UnitResult
	if err := json.Unmarshal(val, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result for unit %s: %w", unitKey, err)
	}
	return &result, nil
}

func (s *redisStateManager) ListResults(ctx context.Context) ([]*domain.UnitResult, error) {
	keys, err := s.redisClient.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	sort.Strings(keys)

	results := make([]*domain.UnitResult, 0, len(keys))
	for _, k := range keys {
		r, err := s.GetResult(ctx, k)
		if err != nil {
			return nil, err
		}
		if r == nil {
			// Expired; drop it from the index.
			s.redisClient.SRem(ctx, s.indexKey(), k)
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

type memoryStateManager struct {
	mu      sync.Mutex
	results map[string]domain.UnitResult
}

// NewMemoryStateManager keeps results for the lifetime of the process.
func NewMemoryStateManager() StateManager {
	return &memoryStateManager{results: make(map[string]domain.UnitResult)}
}

func (m *memoryStateManager) SaveResult(ctx context.Context, result *domain.UnitResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.Unit.Key] = *result
	return nil
}

func (m *memoryStateManager) GetResult(ctx context.Context, unitKey string) (*domain.UnitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.results[unitKey]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memoryStateManager) ListResults(ctx context.Context) ([]*domain.UnitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.results))
	for k := range m.results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*domain.UnitResult, 0, len(keys))
	for _, k := range keys {
		r := m.results[k]
		out = append(out, &r)
	}
	return out, nil
}
