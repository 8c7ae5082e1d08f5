package compliance

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrConsentMissing is returned when a campaign requires consent the
	// contact has not given.
	ErrConsentMissing = errors.New("compliance: consent missing")
	// ErrDNCExcluded is returned for a number on the do-not-call list.
	ErrDNCExcluded = errors.New("compliance: number is on the do-not-call list")
)

// DNCRegistry answers whether a normalized phone number must not be called.
type DNCRegistry interface {
	IsExcluded(ctx context.Context, phone string) (bool, error)
}

// MemoryRegistry is a process-local DNC list.
type MemoryRegistry struct {
	mu     sync.RWMutex
	phones map[string]struct{}
}

func NewMemoryRegistry(phones ...string) *MemoryRegistry {
	r := &MemoryRegistry{phones: map[string]struct{}{}}
	for _, p := range phones {
		r.phones[p] = struct{}{}
	}
	return r
}

func (r *MemoryRegistry) IsExcluded(ctx context.Context, phone string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.phones[phone]
	return ok, nil
}

func (r *MemoryRegistry) Add(ctx context.Context, phones ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range phones {
		r.phones[p] = struct{}{}
	}
	return nil
}

func (r *MemoryRegistry) Remove(ctx context.Context, phones ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range phones {
		delete(r.phones, p)
	}
	return nil
}

// RedisRegistry keeps the DNC list in a Redis set shared by every dialer
// process.
type RedisRegistry struct {
	rdb *redis.Client
	key string
}

const DefaultDNCKey = "dialer:dnc"

func NewRedisRegistry(rdb *redis.Client, key string) *RedisRegistry {
	if key == "" {
		key = DefaultDNCKey
	}
	return &RedisRegistry{rdb: rdb, key: key}
}

func (r *RedisRegistry) IsExcluded(ctx context.Context, phone string) (bool, error) {
	return r.rdb.SIsMember(ctx, r.key, phone).Result()
}

func (r *RedisRegistry) Add(ctx context.Context, phones ...string) error {
	if len(phones) == 0 {
		return nil
	}
	return r.rdb.SAdd(ctx, r.key, toMembers(phones)...).Err()
}

func (r *RedisRegistry) Remove(ctx context.Context, phones ...string) error {
	if len(phones) == 0 {
		return nil
	}
	return r.rdb.SRem(ctx, r.key, toMembers(phones)...).Err()
}

// ListRegistry is a DNCRegistry that can also be edited through the API.
type ListRegistry interface {
	DNCRegistry
	Add(ctx context.Context, phones ...string) error
	Remove(ctx context.Context, phones ...string) error
}
