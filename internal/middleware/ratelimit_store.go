package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"

	"github.com/charlesng35/trialkit/internal/cache"
)

// RateDecision is the outcome of a single rate-limit check.
type RateDecision struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// memoryRateStore provides process-local fixed-window limiting. It is concurrency-safe.
type memoryRateStore struct {
	mu    sync.Mutex
	data  map[string]*memoryCounter
	clock func() time.Time
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateStore constructs an in-memory rate store suitable for single-instance
// deployments and tests.
func NewMemoryRateStore() RateStore {
	store := &memoryRateStore{
		data:  make(map[string]*memoryCounter),
		clock: time.Now,
	}

	go store.cleanupLoop(time.NewTicker(time.Minute))
	return store
}

func (s *memoryRateStore) cleanupLoop(tick *time.Ticker) {
	for range tick.C {
		now := s.clock()
		s.mu.Lock()
		for key, counter := range s.data {
			if now.After(counter.windowEnd) {
				delete(s.data, key)
			}
		}
		s.mu.Unlock()
	}
}

func (s *memoryRateStore) Allow(_ context.Context, key string, limit int, window time.Duration) (RateDecision, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.data[key]
	if !ok || now.After(counter.windowEnd) {
		counter = &memoryCounter{windowEnd: now.Add(window)}
		s.data[key] = counter
	}
	counter.count++

	return fixedWindowDecision(counter.count, limit, counter.windowEnd.Sub(now)), nil
}

// storeRateStore counts requests in a shared cache.Store so limits hold across instances.
type storeRateStore struct {
	store cache.Store
}

// NewCacheRateStore builds a fixed-window RateStore on any cache.Store, such as the
// SQL cache_entries table or the Redis cache.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &storeRateStore{store: store}
}

func (s *storeRateStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	if err != nil {
		return RateDecision{}, err
	}
	return fixedWindowDecision(int(count), limit, ttl), nil
}

func fixedWindowDecision(count, limit int, resetIn time.Duration) RateDecision {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}

// redisRateStore applies redis_rate's GCRA limiter, which smooths bursts instead of
// resetting at window boundaries.
type redisRateStore struct {
	limiter *redis_rate.Limiter
}

// NewRedisRateStore wraps a redis_rate limiter in a RateStore implementation.
func NewRedisRateStore(limiter *redis_rate.Limiter) RateStore {
	if limiter == nil {
		return nil
	}
	return &redisRateStore{limiter: limiter}
}

func (s *redisRateStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error) {
	if window <= 0 {
		window = time.Minute
	}
	res, err := s.limiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit,
		Burst:  limit,
		Period: window,
	})
	if err != nil {
		return RateDecision{}, err
	}

	resetIn := res.ResetAfter
	if res.Allowed == 0 {
		resetIn = res.RetryAfter
	}
	return RateDecision{
		Allowed:   res.Allowed > 0,
		Remaining: res.Remaining,
		ResetIn:   resetIn,
	}, nil
}
