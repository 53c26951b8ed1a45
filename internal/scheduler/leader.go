package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Leader grants the active-dispatcher role. Exactly one instance in a
// deployment should hold the lease at a time; all others idle their
// tick loops.
type Leader interface {
	// Acquire takes or renews the lease. False means another instance
	// holds it.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type redisLeader struct {
	client *redis.Client
	key    string
	id     string
	ttl    time.Duration
}

func (l *redisLeader) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.id, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	holder, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		// lease expired between SetNX and Get; next tick retries
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if holder != l.id {
		return false, nil
	}
	// renew our own lease
	if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (l *redisLeader) Release(ctx context.Context) error {
	holder, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if holder != l.id {
		return nil
	}
	return l.client.Del(ctx, l.key).Err()
}

// memoryLeader is the single-process fallback: always the leader.
type memoryLeader struct {
	mu   sync.Mutex
	held bool
}

func (l *memoryLeader) Acquire(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = true
	return true, nil
}

func (l *memoryLeader) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}

// NewLeader builds a Redis-backed lease and falls back to in-process
// leadership when Redis is unreachable or unconfigured.
func NewLeader(addr, pass string, db int, key, instanceID string, ttl time.Duration) (Leader, error) {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if addr == "" {
		return &memoryLeader{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return &memoryLeader{}, err
	}

	return &redisLeader{
		client: client,
		key:    key,
		id:     instanceID,
		ttl:    ttl,
	}, nil
}
