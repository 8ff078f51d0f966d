package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/drone-dispatch/pkg/logger"
	"github.com/nimasrn/drone-dispatch/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("delivery already processed")
	ErrLockAcquireFailed  = errors.New("failed to acquire delivery lock")
	ErrMaxRetriesExceeded = errors.New("maximum delivery retries exceeded")
)

type IdempotencyConfig struct {
	LockTTL            time.Duration
	ProcessedTTL       time.Duration
	MaxRetries         int
	RetryKeyPrefix     string
	LockKeyPrefix      string
	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         5,
		RetryKeyPrefix:     "notify:retry:",
		LockKeyPrefix:      "notify:lock:",
		ProcessedKeyPrefix: "notify:done:",
	}
}

// IdempotencyService guards a delivery key with a short lock and a long
// processed marker so redelivered stream entries are handled once.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(r redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{redis: r, config: config}
}

// Lease is held while one delivery is in progress.
type Lease struct {
	Key        string
	RetryCount int
	held       bool
}

func (l *Lease) IsRetry() bool { return l.RetryCount > 0 }

func (s *IdempotencyService) Acquire(ctx context.Context, key string) (*Lease, error) {
	exists, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+key)
	if err != nil {
		logger.Warn("processed marker check failed", "key", key, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	retries, err := s.RetryCount(ctx, key)
	if err != nil {
		logger.Warn("retry counter read failed", "key", key, "error", err)
	}
	if retries >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: key=%s retries=%d", ErrMaxRetriesExceeded, key, retries)
	}

	ok, err := s.redis.SetNX(ctx, s.config.LockKeyPrefix+key, []byte(strconv.FormatInt(time.Now().UnixNano(), 10)), s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !ok {
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("delivery lock acquired", "key", key, "retry_count", retries)
	return &Lease{Key: key, RetryCount: retries, held: true}, nil
}

// Succeed sets the processed marker and drops the lock and retry counter.
func (s *IdempotencyService) Succeed(ctx context.Context, l *Lease) error {
	if err := s.redis.Set(ctx, s.config.ProcessedKeyPrefix+l.Key, []byte("1"), s.config.ProcessedTTL); err != nil {
		return fmt.Errorf("set processed marker: %w", err)
	}
	if err := s.redis.Del(ctx, s.config.RetryKeyPrefix+l.Key); err != nil {
		logger.Warn("retry counter cleanup failed", "key", l.Key, "error", err)
	}
	return s.Release(ctx, l)
}

// Fail bumps the retry counter and releases the lock for the next attempt.
func (s *IdempotencyService) Fail(ctx context.Context, l *Lease, reason error) error {
	next := l.RetryCount + 1
	if err := s.redis.Set(ctx, s.config.RetryKeyPrefix+l.Key, []byte(strconv.Itoa(next)), s.config.ProcessedTTL); err != nil {
		logger.Warn("retry counter update failed", "key", l.Key, "error", err)
	}
	logger.Warn("delivery failed, will retry", "key", l.Key, "retry_count", next, "max_retries", s.config.MaxRetries, "reason", reason)
	return s.Release(ctx, l)
}

func (s *IdempotencyService) Release(ctx context.Context, l *Lease) error {
	if l == nil || !l.held {
		return nil
	}
	if err := s.redis.Del(ctx, s.config.LockKeyPrefix+l.Key); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.held = false
	return nil
}

func (s *IdempotencyService) RetryCount(ctx context.Context, key string) (int, error) {
	raw, err := s.redis.Get(ctx, s.config.RetryKeyPrefix+key)
	if err != nil {
		if errors.Is(err, redis.NilError) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("parse retry counter: %w", err)
	}
	return n, nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
