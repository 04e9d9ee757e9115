// Package locks serialises processing runs per meeting.
//
// With Redis configured the lock is a SET NX PX key shared by every
// instance. Without it, Local serialises runs inside one process only.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	dgerrors "github.com/yf-hk/ai-meeting-digest/pkg/errors"
)

// DefaultTTL bounds how long a crashed run can block its meeting.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "digest:lock:meeting:"

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// Locker hands out per-meeting locks.
type Locker interface {
	// Acquire returns a held lock, or an error matching
	// ErrProcessingInProgress if another run holds it.
	Acquire(ctx context.Context, meetingID string) (Lock, error)
}

// Lock is a held meeting lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Key returns the Redis key guarding meetingID.
func Key(meetingID string) string {
	return keyPrefix + meetingID
}

// RedisClient is the subset of *redis.Client the lock needs.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a Locker backed by a shared Redis.
type Redis struct {
	client RedisClient
	ttl    time.Duration
}

// NewRedis creates a Redis locker. A non-positive ttl uses DefaultTTL.
func NewRedis(client RedisClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, meetingID string) (Lock, error) {
	key := Key(meetingID)
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", meetingID, dgerrors.ErrProcessingInProgress)
	}
	return &redisLock{client: r.client, key: key, token: token}, nil
}

type redisLock struct {
	client RedisClient
	key    string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire implements Locker.
func (l *Local) Acquire(_ context.Context, meetingID string) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[meetingID]; ok {
		return nil, fmt.Errorf("meeting %s: %w", meetingID, dgerrors.ErrProcessingInProgress)
	}
	l.held[meetingID] = struct{}{}
	return &localLock{owner: l, meetingID: meetingID}, nil
}

type localLock struct {
	owner     *Local
	meetingID string
	once      sync.Once
}

func (l *localLock) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.meetingID)
		l.owner.mu.Unlock()
	})
	return nil
}
