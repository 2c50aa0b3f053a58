package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arklim/session-gate/internal/core/port"
	"github.com/arklim/session-gate/internal/repository"
)

const (
	defaultLockTTL           = 15 * time.Second
	defaultLockWait          = 2 * time.Second
	defaultLockRetryInterval = 25 * time.Millisecond
	lockReleaseTimeout       = 2 * time.Second
)

// releaseLockScript deletes the lock only while it is still held by the caller's token.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AccountLockConfig tunes the distributed admission lock.
type AccountLockConfig struct {
	KeyPrefix     string
	TTL           time.Duration
	MaxWait       time.Duration
	RetryInterval time.Duration
}

// AccountLockRepository serialises admissions for an account across service instances.
type AccountLockRepository struct {
	client *redis.Client
	cfg    AccountLockConfig
}

// NewAccountLockRepository constructs a lock repository, filling unset durations with defaults.
func NewAccountLockRepository(client *redis.Client, cfg AccountLockConfig) *AccountLockRepository {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultLockTTL
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultLockWait
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultLockRetryInterval
	}
	return &AccountLockRepository{client: client, cfg: cfg}
}

// LockAccount acquires the account lock, polling until MaxWait elapses.
// Returns repository.ErrLockUnavailable when another holder keeps the lock for the whole wait.
func (r *AccountLockRepository) LockAccount(ctx context.Context, accountID string) (func() error, error) {
	key := r.key(accountID)
	token := uuid.NewString()
	deadline := time.Now().Add(r.cfg.MaxWait)

	for {
		acquired, err := r.client.SetNX(ctx, key, token, r.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if acquired {
			return r.releaser(key, token), nil
		}
		if !time.Now().Before(deadline) {
			return nil, repository.ErrLockUnavailable
		}

		timer := time.NewTimer(r.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *AccountLockRepository) releaser(key, token string) func() error {
	return func() error {
		// the request context may already be cancelled by the time the lock is released
		ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
		defer cancel()

		if err := releaseLockScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("redis release lock: %w", err)
		}
		return nil
	}
}

func (r *AccountLockRepository) key(accountID string) string {
	if r.cfg.KeyPrefix == "" {
		return accountID
	}
	return fmt.Sprintf("%s:%s", r.cfg.KeyPrefix, accountID)
}

var _ port.AccountLocker = (*AccountLockRepository)(nil)
